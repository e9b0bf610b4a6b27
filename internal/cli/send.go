package cli

import (
	"fmt"
	"time"

	"github.com/alexjbarnes/hrchat/internal/chat"
	"github.com/spf13/cobra"
)

var (
	sendConversation int64
	sendText         string
	sendFile         string
	sendFileName     string
	sendMimeType     string
	sendWait         time.Duration

	dmUser int64
	dmText string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a text message or a file",
	Long: `Send a text message or upload and send a file to a conversation.

The command waits up to --wait for the server to confirm the message.

Examples:
  hrchat send -c 5 --text "on my way"
  hrchat send -c 5 --file ./payslip.pdf`,
	Args: cobra.NoArgs,
	RunE: runSend,
}

var dmCmd = &cobra.Command{
	Use:   "dm",
	Short: "Start a private conversation with a user",
	Long: `Start (or reuse) the private conversation with a user and print its
id. With --text, also send a first message.

Examples:
  hrchat dm --user 42
  hrchat dm --user 42 --text "hi"`,
	Args: cobra.NoArgs,
	RunE: runDM,
}

func init() {
	sendCmd.Flags().Int64VarP(&sendConversation, "conversation", "c", 0, "conversation id")
	sendCmd.Flags().StringVarP(&sendText, "text", "t", "", "message text")
	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "path of a file to send")
	sendCmd.Flags().StringVar(&sendFileName, "name", "", "file name shown to recipients (default: base name of --file)")
	sendCmd.Flags().StringVar(&sendMimeType, "mime", "", "file MIME type (default: detected from extension)")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 10*time.Second, "how long to wait for confirmation")
	_ = sendCmd.MarkFlagRequired("conversation")
	sendCmd.MarkFlagsMutuallyExclusive("text", "file")
	sendCmd.MarkFlagsOneRequired("text", "file")

	dmCmd.Flags().Int64VarP(&dmUser, "user", "u", 0, "user id")
	dmCmd.Flags().StringVarP(&dmText, "text", "t", "", "first message")
	dmCmd.Flags().DurationVar(&sendWait, "wait", 10*time.Second, "how long to wait for confirmation")
	_ = dmCmd.MarkFlagRequired("user")
}

func runSend(cmd *cobra.Command, _ []string) error {
	if err := connect(cmd.Context()); err != nil {
		return err
	}

	return deliver(sendConversation, func() (chat.Message, error) {
		if sendFile != "" {
			return client.SendFile(cmd.Context(), sendConversation, sendFile, sendFileName, sendMimeType)
		}

		return client.SendText(cmd.Context(), sendConversation, sendText)
	})
}

func runDM(cmd *cobra.Command, _ []string) error {
	if err := requireSession(); err != nil {
		return err
	}

	conv, err := client.StartDirect(cmd.Context(), dmUser)
	if err != nil {
		return err
	}

	fmt.Printf("Conversation %d with %s.\n", conv.ID, conv.Name)

	if dmText == "" {
		return nil
	}

	if err := connect(cmd.Context()); err != nil {
		return err
	}

	return deliver(conv.ID, func() (chat.Message, error) {
		return client.SendText(cmd.Context(), conv.ID, dmText)
	})
}

// deliver runs send and waits for its echo.
func deliver(conversationID int64, send func() (chat.Message, error)) error {
	c := newConfirmation()
	client.Engine().OnChange(c.observe)

	msg, err := send()
	if err != nil {
		return err
	}

	c.expect(msg.ClientKey, client.Engine().Snapshot())

	confirmed, ok := c.wait(sendWait)
	if !ok {
		fmt.Printf("Sent to conversation %d, not yet confirmed.\n", conversationID)
		return nil
	}

	fmt.Printf("Sent to conversation %d as message %d.\n", conversationID, confirmed.ServerID)

	return nil
}

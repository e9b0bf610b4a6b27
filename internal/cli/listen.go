package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// connectTimeout bounds how long commands wait for the socket.
const connectTimeout = 15 * time.Second

var listenConversation int64

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Follow a conversation live",
	Long: `Open a conversation, print its recent messages and then every new
message as it arrives until interrupted. The conversation is marked read
as messages come in.

Examples:
  hrchat listen --conversation 5`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().Int64VarP(&listenConversation, "conversation", "c", 0, "conversation id")
	_ = listenCmd.MarkFlagRequired("conversation")
}

func connect(ctx context.Context) error {
	if err := requireSession(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	return client.WaitConnected(ctx)
}

func runListen(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if err := connect(ctx); err != nil {
		return err
	}

	p := newPrinter(os.Stdout)
	client.Engine().OnChange(p.update)

	snap, err := client.Open(ctx, listenConversation)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Listening to %s. Press Ctrl-C to stop.\n", snap.Conversation.Name)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		client.Engine().Leave()

		return nil
	})

	return g.Wait()
}

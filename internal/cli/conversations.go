package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations",
	Long: `List conversations with their unread counts and last message.

When the backend cannot be reached the last successfully fetched list is
shown instead, marked as cached.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireSession(); err != nil {
			return err
		}

		convs, stale, err := client.Conversations(cmd.Context())
		if err != nil {
			return err
		}

		if stale {
			fmt.Println("(backend unreachable, showing cached list)")
		}

		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return nil
		}

		for _, c := range convs {
			fmt.Println(formatConversation(c))
		}

		return nil
	},
}

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the user directory",
	Long: `Search the user directory by name or email.

Examples:
  hrchat search ann
  hrchat search "ann smith"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireSession(); err != nil {
			return err
		}

		users, err := client.SearchUsers(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}

		for _, u := range users {
			fmt.Println(formatUser(u))
		}

		return nil
	},
}

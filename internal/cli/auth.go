package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and save the session token",
	Long: `Sign in with email and password. The access token is saved in the
state file (sealed when HRCHAT_STATE_PASSPHRASE is set) and reused by
later commands until it expires or "hrchat logout" is run.

Email and password default to HRCHAT_EMAIL and HRCHAT_PASSWORD. When no
password is configured it is read from stdin.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the saved token",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := client.Logout(); err != nil {
			return err
		}

		fmt.Println("Signed out.")

		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "account email (default $HRCHAT_EMAIL)")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password (default $HRCHAT_PASSWORD)")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	email := firstNonEmpty(loginEmail, cfg.Email)
	password := firstNonEmpty(loginPassword, cfg.Password)

	if email == "" {
		return fmt.Errorf("email is required: pass --email or set HRCHAT_EMAIL")
	}

	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")

		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return fmt.Errorf("no password given")
		}

		password = strings.TrimSpace(scanner.Text())
	}

	id, err := client.Login(cmd.Context(), email, password)
	if err != nil {
		return err
	}

	fmt.Printf("Signed in as %s (user %d).\n", id.Name, id.UserID)

	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}

	return ""
}

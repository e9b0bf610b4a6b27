// Package cli provides the command-line interface for hrchat.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alexjbarnes/hrchat/internal/app"
	"github.com/alexjbarnes/hrchat/internal/config"
	apperrors "github.com/alexjbarnes/hrchat/internal/errors"
	"github.com/alexjbarnes/hrchat/internal/logging"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	cfg      *config.Config
	logger   *slog.Logger
	client   *app.Client
	closeLog func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "hrchat",
	Short: "Terminal client for the HR chat service",
	Long: `hrchat talks to the HR chat backend: list conversations, follow one
live, send text and files, search the directory, or serve the same
operations to an MCP client over stdio.

Configuration comes from HRCHAT_* environment variables or a .env file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error

		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, closeLog = logging.NewLoggerWithFile(cfg.Environment, cfg.LogFile)

		client, err = app.New(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}

		if cmd.Name() == "login" {
			return nil
		}

		if _, err := client.Restore(); err != nil {
			logger.Warn("restoring session", slog.String("error", err.Error()))
		}

		return nil
	},
}

// Execute runs the command tree with ctx. The client and log file are
// closed on return whether or not the command failed.
func Execute(ctx context.Context) error {
	rootCmd.Version = Version

	defer teardown()

	return rootCmd.ExecuteContext(ctx)
}

func teardown() {
	if client != nil {
		if err := client.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close state: %v\n", err)
		}

		client = nil
	}

	if closeLog != nil {
		_ = closeLog()
		closeLog = nil
	}
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(dmCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(mcpCmd)
}

// requireSession fails unless a session was restored or the token file
// signed one in.
func requireSession() error {
	if !client.Session().Authenticated() {
		return fmt.Errorf("%w: run \"hrchat login\" first", apperrors.ErrNoSession)
	}

	return nil
}

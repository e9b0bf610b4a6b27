package cli

import (
	"context"
	"log/slog"

	"github.com/alexjbarnes/hrchat/internal/mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve chat tools to an MCP client over stdio",
	Long: `Run an MCP server on stdin/stdout exposing the chat tools:
chat_conversations, chat_open, chat_load_older, chat_send,
chat_send_file, chat_dm and chat_search_users.

Logs go to stderr (and LOG_FILE when set).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireSession(); err != nil {
			return err
		}

		server := mcp.NewServer(
			&mcp.Implementation{Name: "hrchat-mcp", Version: Version},
			nil,
		)
		mcpserver.RegisterTools(server, client)

		logger.Info("mcp server starting", slog.String("transport", "stdio"))

		g, gctx := errgroup.WithContext(cmd.Context())

		// stdin closing ends the session, which also stops the watcher.
		runCtx, stop := context.WithCancel(gctx)

		g.Go(func() error {
			defer stop()
			return server.Run(runCtx, &mcp.StdioTransport{})
		})

		g.Go(func() error {
			return client.Run(runCtx)
		})

		return g.Wait()
	},
}

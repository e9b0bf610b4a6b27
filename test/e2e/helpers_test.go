package e2e_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/hrchat/internal/app"
	"github.com/alexjbarnes/hrchat/internal/chattest"
	"github.com/alexjbarnes/hrchat/internal/config"
	"github.com/alexjbarnes/hrchat/internal/mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

// harness holds the full e2e stack: a fake chat backend, a real client
// wired by app.New, and an MCP session driving the client's tools.
type harness struct {
	Backend *chattest.Server
	App     *app.Client
	Config  *config.Config
}

// newHarness starts the backend and a client whose state lives in a
// temp dir. tokenFile may be empty.
func newHarness(t *testing.T, tokenFile string) *harness {
	t.Helper()

	backend := chattest.New(t)

	cfg := &config.Config{
		APIURL:            backend.URL(),
		WSURL:             backend.WSURL(),
		TokenFile:         tokenFile,
		StatePath:         filepath.Join(t.TempDir(), "state.db"),
		HistoryPageSize:   20,
		SearchConcurrency: 1,
		SearchDebounce:    10 * time.Millisecond,
		UploadBackend:     config.UploadREST,
		Environment:       "test",
	}

	client, err := app.New(t.Context(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &harness{Backend: backend, App: client, Config: cfg}
}

// login signs in and waits for the socket.
func (h *harness) login(t *testing.T) {
	t.Helper()

	_, err := h.App.Login(t.Context(), "ann@example.com", chattest.Password)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	require.NoError(t, h.App.WaitConnected(ctx))
	require.Eventually(t, h.Backend.Connected, 5*time.Second, 10*time.Millisecond)
}

// mcpSession serves the client's tools over an in-memory transport and
// returns a connected MCP client session.
func (h *harness) mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()

	server := mcp.NewServer(
		&mcp.Implementation{Name: "hrchat-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(server, h.App)

	t1, t2 := mcp.NewInMemoryTransports()
	_, err := server.Connect(t.Context(), t1, nil)
	require.NoError(t, err)

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// callTool calls a tool and decodes its JSON text content into dest.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any, dest any) *mcp.CallToolResult {
	t.Helper()

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)

	if dest != nil && !result.IsError {
		require.NotEmpty(t, result.Content)
		tc, ok := result.Content[0].(*mcp.TextContent)
		require.True(t, ok, "first content is not TextContent")
		require.NoError(t, json.Unmarshal([]byte(tc.Text), dest))
	}

	return result
}

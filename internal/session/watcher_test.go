package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadToken(t *testing.T) {
	dir := t.TempDir()

	tok, err := readToken(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, tok)

	path := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(path, []byte("  abc\n"), 0o600))

	tok, err = readToken(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}

func TestTokenWatcher_FollowsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")

	first := signToken(t, jwt.MapClaims{"user_id": 5, "name": "Fay"})
	require.NoError(t, os.WriteFile(path, []byte(first), 0o600))

	s := newSession()
	w := NewTokenWatcher(path, s, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- w.Watch(ctx) }()

	require.Eventually(t, s.Authenticated, 2*time.Second, 10*time.Millisecond, "existing file signs in")

	second := signToken(t, jwt.MapClaims{"user_id": 5, "name": "Fay", "v": 2})
	require.NoError(t, os.WriteFile(path, []byte(second+"\n"), 0o600))

	require.Eventually(t, func() bool { return s.Token() == second }, 2*time.Second, 10*time.Millisecond, "rewrite refreshes")

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return !s.Authenticated() }, 2*time.Second, 10*time.Millisecond, "removal signs out")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestTokenWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")

	s := newSession()
	w := NewTokenWatcher(path, s, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Watch(ctx) }()

	other := signToken(t, jwt.MapClaims{"user_id": 5})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), []byte(other), 0o600))

	time.Sleep(200 * time.Millisecond)
	assert.False(t, s.Authenticated())
}

func TestTokenWatcher_MissingDir(t *testing.T) {
	w := NewTokenWatcher(filepath.Join(t.TempDir(), "nope", "token"), newSession(), slog.New(slog.DiscardHandler))

	err := w.Watch(context.Background())
	assert.Error(t, err)
}

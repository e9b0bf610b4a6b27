package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// maxTokenFileBytes bounds how much of the token file is read.
const maxTokenFileBytes = 64 * 1024

// TokenWatcher keeps a session in step with a token file written by an
// external login helper. A non-empty file signs in (or refreshes); an
// empty or removed file signs out.
type TokenWatcher struct {
	path    string
	session *Session
	logger  *slog.Logger
}

// NewTokenWatcher creates a watcher for the token file at path.
func NewTokenWatcher(path string, s *Session, logger *slog.Logger) *TokenWatcher {
	return &TokenWatcher{path: filepath.Clean(path), session: s, logger: logger}
}

// Watch applies the file's current contents, then follows changes until
// ctx is cancelled. The parent directory is watched so that editors that
// replace the file by rename are handled.
func (w *TokenWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	w.logger.Info("token watcher started", slog.String("file", w.path))
	w.apply()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.apply()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// apply reads the token file and updates the session to match.
func (w *TokenWatcher) apply() {
	token, err := readToken(w.path)
	if err != nil {
		w.logger.Warn("reading token file", slog.String("error", err.Error()))
		return
	}

	if token == "" {
		w.session.Logout()
		return
	}

	if token == w.session.Token() {
		return
	}

	if w.session.Authenticated() {
		err = w.session.Refresh(token)
	} else {
		err = w.session.LoginWithToken(token)
	}

	if err != nil {
		w.logger.Warn("applying token file", slog.String("error", err.Error()))
	}
}

// readToken returns the trimmed file contents, or "" if the file does
// not exist.
func readToken(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}

	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxTokenFileBytes))
	if err != nil {
		return "", err
	}

	return string(bytes.TrimSpace(data)), nil
}

// Package directory implements search-as-you-type over the user
// directory.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/hrchat/internal/errors"
	"github.com/alexjbarnes/hrchat/internal/models"
	"github.com/alexjbarnes/hrchat/internal/taskqueue"
	"golang.org/x/text/unicode/norm"
)

// DefaultDebounce is the pause after the last keystroke before a query
// is sent.
const DefaultDebounce = 300 * time.Millisecond

// Backend is the REST call the searcher issues.
type Backend interface {
	SearchUsers(ctx context.Context, query string) models.Result[[]models.User]
}

// Searcher debounces queries and runs them through a task queue. Each
// new Search cancels the one before it, so a stale result never
// overtakes a newer query.
type Searcher struct {
	backend  Backend
	queue    *taskqueue.Queue
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// New creates a searcher. A negative debounce is treated as zero.
func New(backend Backend, queue *taskqueue.Queue, debounce time.Duration, logger *slog.Logger) *Searcher {
	if debounce < 0 {
		debounce = 0
	}

	return &Searcher{backend: backend, queue: queue, debounce: debounce, logger: logger}
}

// Normalize trims the query and converts it to NFC so composed and
// decomposed input match the same users.
func Normalize(query string) string {
	return norm.NFC.String(strings.TrimSpace(query))
}

// Search returns users matching query. A call superseded by a later
// Search returns context.Canceled. Empty queries return no users
// without a request.
func (s *Searcher) Search(ctx context.Context, query string) ([]models.User, error) {
	q := Normalize(query)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	seq := s.replace(cancel)
	defer s.release(seq)

	if q == "" {
		return nil, nil
	}

	if s.debounce > 0 {
		t := time.NewTimer(s.debounce)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}

	users, err := taskqueue.Do(ctx, s.queue, func(ctx context.Context) ([]models.User, error) {
		res := s.backend.SearchUsers(ctx, q)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if res.IsError {
			return nil, fmt.Errorf("searching users: %w: %s", apperrors.ErrAPIRequest, res.Message)
		}

		return res.Data, nil
	})
	if err != nil {
		s.logger.Debug("user search ended", slog.String("query", q), slog.String("error", err.Error()))
		return nil, err
	}

	return users, nil
}

// Cancel aborts the in-flight search, if any.
func (s *Searcher) Cancel() {
	s.replace(nil)
}

// replace cancels the current search and installs cancel as the new one.
func (s *Searcher) replace(cancel context.CancelFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	s.seq++
	s.cancel = cancel

	return s.seq
}

func (s *Searcher) release(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq == seq {
		s.cancel = nil
	}
}

// Package session holds the signed-in user's token and identity and
// notifies listeners when either changes.
package session

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/hrchat/internal/errors"
	"github.com/alexjbarnes/hrchat/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// Snapshot is the session state at one point in time.
type Snapshot struct {
	Token         string
	Identity      models.Identity
	ExpiresAt     time.Time
	Authenticated bool
}

// Session is safe for concurrent use. Listeners registered with
// OnChange run synchronously after each transition, outside the state
// lock, and see transitions in the order they happened. Listeners must
// not sign in or out themselves.
type Session struct {
	logger *slog.Logger
	now    func() time.Time

	// notifyMu is held from a transition until its listeners return, so
	// concurrent transitions are delivered one at a time.
	notifyMu sync.Mutex

	mu        sync.Mutex
	cur       Snapshot
	timer     *time.Timer
	gen       uint64
	listeners []func(prev, next Snapshot)
}

// New creates a signed-out session.
func New(logger *slog.Logger) *Session {
	return &Session{logger: logger, now: time.Now}
}

// OnChange registers fn to run after every transition.
func (s *Session) OnChange(fn func(prev, next Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, fn)
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cur
}

// Token returns the access token, or "" when signed out.
func (s *Session) Token() string {
	return s.Snapshot().Token
}

// Authenticated reports whether a user is signed in.
func (s *Session) Authenticated() bool {
	return s.Snapshot().Authenticated
}

// Identity returns the signed-in user.
func (s *Session) Identity() (models.Identity, bool) {
	snap := s.Snapshot()
	return snap.Identity, snap.Authenticated
}

// claims is what the session reads from a JWT access token. The
// signature is not verified; the backend does that.
type claims struct {
	identity  models.Identity
	expiresAt time.Time
	hasUser   bool
}

func parseClaims(token string) (claims, error) {
	mc := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return claims{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}

	var c claims

	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.expiresAt = exp.Time
	}

	if id, ok := numericClaim(mc["user_id"]); ok {
		c.identity.UserID = id
		c.hasUser = true
	} else if sub, err := mc.GetSubject(); err == nil {
		if id, err := strconv.ParseInt(sub, 10, 64); err == nil {
			c.identity.UserID = id
			c.hasUser = true
		}
	}

	if name, ok := mc["name"].(string); ok {
		c.identity.Name = name
	}

	return c, nil
}

func numericClaim(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), n != 0
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		return id, err == nil && id != 0
	default:
		return 0, false
	}
}

// LoginWithToken signs in with a JWT access token, taking the identity
// from its user_id (or numeric sub) and name claims.
func (s *Session) LoginWithToken(token string) error {
	c, err := parseClaims(token)
	if err != nil {
		return err
	}

	if !c.hasUser {
		return fmt.Errorf("%w: token carries no user id", apperrors.ErrInvalidToken)
	}

	return s.set(token, c.identity, c.expiresAt)
}

// Login signs in with a token and an identity obtained elsewhere, such
// as the login response. Opaque tokens are accepted; a JWT's exp claim
// is still honoured.
func (s *Session) Login(token string, id models.Identity) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", apperrors.ErrInvalidToken)
	}

	var expiresAt time.Time
	if c, err := parseClaims(token); err == nil {
		expiresAt = c.expiresAt
	}

	return s.set(token, id, expiresAt)
}

// Refresh swaps in a new token for the signed-in user. Identity claims
// in the new token, if any, replace the current identity.
func (s *Session) Refresh(token string) error {
	cur := s.Snapshot()
	if !cur.Authenticated {
		return apperrors.ErrNoSession
	}

	if token == "" {
		return fmt.Errorf("%w: empty token", apperrors.ErrInvalidToken)
	}

	id := cur.Identity

	var expiresAt time.Time
	if c, err := parseClaims(token); err == nil {
		expiresAt = c.expiresAt

		if c.hasUser {
			id = c.identity
		}
	}

	return s.set(token, id, expiresAt)
}

// Logout signs out. It is a no-op when already signed out.
func (s *Session) Logout() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if !s.cur.Authenticated {
		s.mu.Unlock()
		return
	}

	prev, next, listeners := s.transitionLocked(Snapshot{})
	s.mu.Unlock()

	s.logger.Info("signed out")
	notify(listeners, prev, next)
}

func (s *Session) set(token string, id models.Identity, expiresAt time.Time) error {
	if !expiresAt.IsZero() && !expiresAt.After(s.now()) {
		return fmt.Errorf("%w: token expired at %s", apperrors.ErrInvalidToken, expiresAt.Format(time.RFC3339))
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev, next, listeners := s.transitionLocked(Snapshot{
		Token:         token,
		Identity:      id,
		ExpiresAt:     expiresAt,
		Authenticated: true,
	})

	if !expiresAt.IsZero() {
		gen := s.gen
		s.timer = time.AfterFunc(expiresAt.Sub(s.now()), func() { s.expire(gen) })
	}
	s.mu.Unlock()

	s.logger.Info("signed in",
		slog.Int64("user_id", id.UserID),
		slog.Bool("refresh", prev.Authenticated),
	)
	notify(listeners, prev, next)

	return nil
}

// transitionLocked replaces the state, cancels any expiry timer and
// returns what the caller must notify once unlocked.
func (s *Session) transitionLocked(next Snapshot) (Snapshot, Snapshot, []func(prev, next Snapshot)) {
	prev := s.cur
	s.cur = next
	s.gen++

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	listeners := make([]func(prev, next Snapshot), len(s.listeners))
	copy(listeners, s.listeners)

	return prev, next, listeners
}

func (s *Session) expire(gen uint64) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if gen != s.gen || !s.cur.Authenticated {
		s.mu.Unlock()
		return
	}

	prev, next, listeners := s.transitionLocked(Snapshot{})
	s.mu.Unlock()

	s.logger.Info("session expired", slog.Int64("user_id", prev.Identity.UserID))
	notify(listeners, prev, next)
}

func notify(listeners []func(prev, next Snapshot), prev, next Snapshot) {
	for _, fn := range listeners {
		fn(prev, next)
	}
}

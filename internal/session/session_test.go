package session

import (
	"log/slog"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	apperrors "github.com/alexjbarnes/hrchat/internal/errors"
	"github.com/alexjbarnes/hrchat/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, c jwt.MapClaims) string {
	t.Helper()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("test-key"))
	require.NoError(t, err)

	return tok
}

func newSession() *Session {
	return New(slog.New(slog.DiscardHandler))
}

func TestLoginWithToken_Claims(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   models.Identity
	}{
		{"numeric user_id", jwt.MapClaims{"user_id": 7, "name": "Ann"}, models.Identity{UserID: 7, Name: "Ann"}},
		{"string user_id", jwt.MapClaims{"user_id": "8"}, models.Identity{UserID: 8}},
		{"numeric sub", jwt.MapClaims{"sub": "9", "name": "Cy"}, models.Identity{UserID: 9, Name: "Cy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession()
			require.NoError(t, s.LoginWithToken(signToken(t, tt.claims)))

			id, ok := s.Identity()
			assert.True(t, ok)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestLoginWithToken_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{"not a jwt", func(*testing.T) string { return "opaque" }},
		{"no user", func(t *testing.T) string { return signToken(t, jwt.MapClaims{"sub": "ann@example.com"}) }},
		{"expired", func(t *testing.T) string {
			return signToken(t, jwt.MapClaims{"user_id": 1, "exp": time.Now().Add(-time.Minute).Unix()})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession()
			err := s.LoginWithToken(tt.token(t))
			assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
			assert.False(t, s.Authenticated())
		})
	}
}

func TestLogin_OpaqueToken(t *testing.T) {
	s := newSession()
	require.NoError(t, s.Login("opaque-token", models.Identity{UserID: 3, Name: "Dee"}))

	snap := s.Snapshot()
	assert.True(t, snap.Authenticated)
	assert.Equal(t, "opaque-token", snap.Token)
	assert.True(t, snap.ExpiresAt.IsZero())

	assert.ErrorIs(t, s.Login("", models.Identity{}), apperrors.ErrInvalidToken)
}

func TestRefresh(t *testing.T) {
	s := newSession()
	assert.ErrorIs(t, s.Refresh("x"), apperrors.ErrNoSession)

	require.NoError(t, s.Login("first", models.Identity{UserID: 3, Name: "Dee"}))
	require.NoError(t, s.Refresh("second"))

	snap := s.Snapshot()
	assert.Equal(t, "second", snap.Token)
	assert.Equal(t, models.Identity{UserID: 3, Name: "Dee"}, snap.Identity)

	require.NoError(t, s.Refresh(signToken(t, jwt.MapClaims{"user_id": 4, "name": "Eve"})))
	id, _ := s.Identity()
	assert.Equal(t, int64(4), id.UserID)
}

func TestLogout(t *testing.T) {
	s := newSession()

	var transitions [][2]bool
	s.OnChange(func(prev, next Snapshot) {
		transitions = append(transitions, [2]bool{prev.Authenticated, next.Authenticated})
	})

	require.NoError(t, s.Login("tok", models.Identity{UserID: 1}))
	s.Logout()
	s.Logout()

	assert.Equal(t, [][2]bool{{false, true}, {true, false}}, transitions)
	assert.Empty(t, s.Token())

	_, ok := s.Identity()
	assert.False(t, ok)
}

func TestSession_ExpiresAtExp(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newSession()

		var expired bool
		s.OnChange(func(prev, next Snapshot) {
			if prev.Authenticated && !next.Authenticated {
				expired = true
			}
		})

		tok := signToken(t, jwt.MapClaims{"user_id": 1, "exp": time.Now().Add(time.Hour).Unix()})
		require.NoError(t, s.LoginWithToken(tok))

		time.Sleep(59 * time.Minute)
		synctest.Wait()
		assert.True(t, s.Authenticated())

		time.Sleep(2 * time.Minute)
		synctest.Wait()
		assert.False(t, s.Authenticated())
		assert.True(t, expired)
	})
}

func TestSession_RefreshReplacesExpiry(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newSession()

		first := signToken(t, jwt.MapClaims{"user_id": 1, "exp": time.Now().Add(time.Minute).Unix()})
		second := signToken(t, jwt.MapClaims{"user_id": 1, "exp": time.Now().Add(time.Hour).Unix()})

		require.NoError(t, s.LoginWithToken(first))
		require.NoError(t, s.Refresh(second))

		time.Sleep(30 * time.Minute)
		synctest.Wait()
		assert.True(t, s.Authenticated())
		assert.Equal(t, second, s.Token())

		s.Logout()
	})
}

type recordingConnector struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingConnector) Connect()    { r.record("connect") }
func (r *recordingConnector) Disconnect() { r.record("disconnect") }

func (r *recordingConnector) record(c string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, c)
}

func (r *recordingConnector) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.calls
	r.calls = nil

	return out
}

func TestBind(t *testing.T) {
	s := newSession()
	c := &recordingConnector{}

	Bind(s, c)
	assert.Empty(t, c.take(), "signed out: nothing to connect")

	require.NoError(t, s.Login("tok-1", models.Identity{UserID: 1}))
	assert.Equal(t, []string{"connect"}, c.take())

	require.NoError(t, s.Refresh("tok-2"))
	assert.Equal(t, []string{"disconnect", "connect"}, c.take())

	require.NoError(t, s.Login("tok-2", models.Identity{UserID: 1, Name: "renamed"}))
	assert.Empty(t, c.take(), "same token: connection kept")

	s.Logout()
	assert.Equal(t, []string{"disconnect"}, c.take())
}

func TestBind_AlreadySignedIn(t *testing.T) {
	s := newSession()
	require.NoError(t, s.Login("tok", models.Identity{UserID: 1}))

	c := &recordingConnector{}
	Bind(s, c)

	assert.Equal(t, []string{"connect"}, c.take())
}

func TestOnChange_TransitionsDeliveredInOrder(t *testing.T) {
	s := newSession()

	var (
		mu    sync.Mutex
		calls []bool
	)

	entered := make(chan struct{})
	gate := make(chan struct{})
	first := true

	s.OnChange(func(_, next Snapshot) {
		if first {
			first = false
			close(entered)
			<-gate
		}

		mu.Lock()
		calls = append(calls, next.Authenticated)
		mu.Unlock()
	})

	loggedIn := make(chan error, 1)
	go func() { loggedIn <- s.Login("tok-1", models.Identity{UserID: 1}) }()
	<-entered

	loggedOut := make(chan struct{})
	go func() {
		s.Logout()
		close(loggedOut)
	}()

	time.Sleep(20 * time.Millisecond)
	close(gate)

	require.NoError(t, <-loggedIn)
	<-loggedOut

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []bool{true, false}, calls)
	assert.False(t, s.Authenticated())
}

// stateConnector tracks whether it is connected.
type stateConnector struct {
	mu        sync.Mutex
	connected bool
}

func (c *stateConnector) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = true
}

func (c *stateConnector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
}

func (c *stateConnector) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

func TestBind_ConcurrentLoginAndLogoutAgree(t *testing.T) {
	for range 200 {
		s := newSession()
		c := &stateConnector{}
		Bind(s, c)

		var wg sync.WaitGroup

		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Login("tok-1", models.Identity{UserID: 1})
		}()
		go func() {
			defer wg.Done()
			s.Logout()
		}()
		wg.Wait()

		require.Equal(t, s.Authenticated(), c.isConnected())
	}
}

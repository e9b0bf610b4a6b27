// Package app assembles the chat client from its parts and exposes the
// operations the CLI and the MCP server drive.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alexjbarnes/hrchat/internal/api"
	"github.com/alexjbarnes/hrchat/internal/chat"
	"github.com/alexjbarnes/hrchat/internal/config"
	"github.com/alexjbarnes/hrchat/internal/directory"
	apperrors "github.com/alexjbarnes/hrchat/internal/errors"
	"github.com/alexjbarnes/hrchat/internal/models"
	"github.com/alexjbarnes/hrchat/internal/session"
	"github.com/alexjbarnes/hrchat/internal/socket"
	"github.com/alexjbarnes/hrchat/internal/state"
	"github.com/alexjbarnes/hrchat/internal/taskqueue"
	"github.com/alexjbarnes/hrchat/internal/upload"
)

// Client is one signed-in (or signing-in) chat user. It owns the
// socket, the open conversation and the local state file.
type Client struct {
	cfg    *config.Config
	logger *slog.Logger

	state    *state.State
	session  *session.Session
	api      *api.Client
	socket   *socket.Manager
	tracker  *chat.ReadTracker
	engine   *chat.Engine
	searcher *directory.Searcher
	watcher  *session.TokenWatcher

	ctx    context.Context
	cancel context.CancelFunc
	sub    socket.SubscriptionID

	// opMu keeps "open conversation X, then act on it" sequences from
	// interleaving with each other.
	opMu sync.Mutex

	connMu sync.Mutex
	opened chan struct{}

	closeOnce sync.Once
}

// New opens the state file and wires the client. Nothing touches the
// network until the session is signed in.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	statePath := cfg.StatePath
	if statePath == "" {
		p, err := state.DefaultPath()
		if err != nil {
			return nil, err
		}

		statePath = p
	}

	st, err := state.LoadAt(statePath, cfg.StatePassphrase)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	c, err := assemble(ctx, cfg, st, nil, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	return c, nil
}

// assemble wires the parts around an opened state. httpClient may be
// nil.
func assemble(ctx context.Context, cfg *config.Config, st *state.State, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	sess := session.New(logger.With(slog.String("component", "session")))
	client := api.NewClient(cfg.APIURL, sess, httpClient)
	mgr := socket.NewManager(cfg.WSURL, sess, logger.With(slog.String("component", "socket")))

	var uploader chat.Uploader = upload.NewREST(client)

	if cfg.UploadBackend == config.UploadS3 {
		s3, err := upload.NewS3(ctx, upload.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PublicBase: cfg.S3PublicBase,
		})
		if err != nil {
			return nil, fmt.Errorf("creating s3 uploader: %w", err)
		}

		uploader = s3
	}

	chatLogger := logger.With(slog.String("component", "chat"))
	tracker := chat.NewReadTracker(mgr, sess, st, chatLogger)
	engine := chat.NewEngine(chat.EngineConfig{
		Backend:  client,
		Sender:   mgr,
		Identity: sess,
		Tracker:  tracker,
		Uploader: uploader,
		PageSize: cfg.HistoryPageSize,
	}, chatLogger)

	searcher := directory.New(client, taskqueue.New(cfg.SearchConcurrency), cfg.SearchDebounce,
		logger.With(slog.String("component", "directory")))

	runCtx, cancel := context.WithCancel(context.Background())

	c := &Client{
		cfg:      cfg,
		logger:   logger,
		state:    st,
		session:  sess,
		api:      client,
		socket:   mgr,
		tracker:  tracker,
		engine:   engine,
		searcher: searcher,
		ctx:      runCtx,
		cancel:   cancel,
		opened:   make(chan struct{}),
	}

	if cfg.TokenFile != "" {
		c.watcher = session.NewTokenWatcher(cfg.TokenFile, sess, logger.With(slog.String("component", "token-watcher")))
	}

	mgr.OnStateChange(c.onSocketState)

	sess.OnChange(func(_, next session.Snapshot) {
		if !next.Authenticated {
			engine.Leave()
			searcher.Cancel()
			tracker.Reset()
		}
	})
	session.Bind(sess, mgr)

	c.sub = mgr.Bus().Subscribe(engine.Handler(runCtx))

	return c, nil
}

// Session returns the client's session.
func (c *Client) Session() *session.Session {
	return c.session
}

// Engine returns the conversation engine.
func (c *Client) Engine() *chat.Engine {
	return c.engine
}

// Socket returns the connection manager.
func (c *Client) Socket() *socket.Manager {
	return c.socket
}

// Restore signs in with the token saved by a previous Login. It reports
// false when there is no usable saved token; an expired one is cleared.
func (c *Client) Restore() (bool, error) {
	token, err := c.state.Token()
	if err != nil {
		return false, fmt.Errorf("reading saved token: %w", err)
	}

	if token == "" {
		return false, nil
	}

	id, ok, err := c.state.Identity()
	if err != nil {
		return false, fmt.Errorf("reading saved identity: %w", err)
	}

	if ok {
		err = c.session.Login(token, id)
	} else {
		err = c.session.LoginWithToken(token)
	}

	if err != nil {
		c.logger.Info("discarding saved token", slog.String("reason", err.Error()))

		if err := c.state.ClearToken(); err != nil {
			c.logger.Warn("failed to clear saved token", slog.String("error", err.Error()))
		}

		return false, nil
	}

	return true, nil
}

// Login signs in with email and password and saves the token.
func (c *Client) Login(ctx context.Context, email, password string) (models.Identity, error) {
	res := c.api.Login(ctx, email, password)
	if res.IsError {
		if res.Status == http.StatusUnauthorized || res.Status == http.StatusForbidden {
			return models.Identity{}, apperrors.ErrInvalidCredentials
		}

		return models.Identity{}, fmt.Errorf("signing in: %w: %s", apperrors.ErrAPIRequest, res.Message)
	}

	token := res.Data.AccessToken
	id := models.Identity{UserID: res.Data.User.ID, Name: res.Data.User.Name}

	if id.UserID == 0 {
		if err := c.session.LoginWithToken(token); err != nil {
			return models.Identity{}, err
		}

		id, _ = c.session.Identity()
	} else if err := c.session.Login(token, id); err != nil {
		return models.Identity{}, err
	}

	if err := c.state.SetToken(token); err != nil {
		c.logger.Warn("failed to save token", slog.String("error", err.Error()))
	}

	if err := c.state.SetIdentity(id); err != nil {
		c.logger.Warn("failed to save identity", slog.String("error", err.Error()))
	}

	return id, nil
}

// Logout signs out and forgets the saved token.
func (c *Client) Logout() error {
	c.session.Logout()

	if err := c.state.ClearToken(); err != nil {
		return fmt.Errorf("clearing saved token: %w", err)
	}

	return nil
}

func (c *Client) onSocketState(s socket.State) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	isOpen := false

	select {
	case <-c.opened:
		isOpen = true
	default:
	}

	switch {
	case s == socket.StateOpen && !isOpen:
		close(c.opened)
	case s != socket.StateOpen && isOpen:
		c.opened = make(chan struct{})
	}
}

// WaitConnected blocks until the socket is open or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	if !c.session.Authenticated() {
		return apperrors.ErrNoSession
	}

	c.socket.Connect()

	c.connMu.Lock()
	opened := c.opened
	c.connMu.Unlock()

	if c.socket.Connected() {
		return nil
	}

	select {
	case <-opened:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for socket: %w", ctx.Err())
	}
}

// Conversations lists conversations and caches the result. When the
// backend fails and a cached list exists, the cached list is returned
// with stale set.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, bool, error) {
	res := c.api.GetConversations(ctx)
	if !res.IsError {
		if err := c.state.SaveConversations(res.Data, time.Now()); err != nil {
			c.logger.Warn("failed to cache conversations", slog.String("error", err.Error()))
		}

		return res.Data, false, nil
	}

	cached, err := c.state.Conversations()
	if err == nil && cached != nil {
		c.logger.Warn("conversation list unavailable, using cache",
			slog.String("error", res.Message),
			slog.Time("saved_at", cached.SavedAt),
		)

		return cached.Conversations, true, nil
	}

	return nil, false, fmt.Errorf("listing conversations: %w: %s", apperrors.ErrAPIRequest, res.Message)
}

// Open makes conversationID the open conversation.
func (c *Client) Open(ctx context.Context, conversationID int64) (chat.Snapshot, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.engine.Open(ctx, conversationID)
}

// ensureOpenLocked opens conversationID unless it already is.
func (c *Client) ensureOpenLocked(ctx context.Context, conversationID int64) error {
	if c.engine.Snapshot().Conversation.ID == conversationID {
		return nil
	}

	_, err := c.engine.Open(ctx, conversationID)

	return err
}

// LoadOlder fetches the next history page of conversationID.
func (c *Client) LoadOlder(ctx context.Context, conversationID int64) (int, chat.Snapshot, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.ensureOpenLocked(ctx, conversationID); err != nil {
		return 0, chat.Snapshot{}, err
	}

	n, err := c.engine.LoadOlder(ctx)

	return n, c.engine.Snapshot(), err
}

// SendText sends text to conversationID.
func (c *Client) SendText(ctx context.Context, conversationID int64, text string) (chat.Message, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.ensureOpenLocked(ctx, conversationID); err != nil {
		return chat.Message{}, err
	}

	return c.engine.SendText(ctx, text)
}

// SendFile uploads the file at path and sends it to conversationID.
func (c *Client) SendFile(ctx context.Context, conversationID int64, path, name, mimeType string) (chat.Message, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.ensureOpenLocked(ctx, conversationID); err != nil {
		return chat.Message{}, err
	}

	return c.engine.SendFile(ctx, path, name, mimeType)
}

// StartDirect returns the private conversation with userID, creating it
// if needed.
func (c *Client) StartDirect(ctx context.Context, userID int64) (models.Conversation, error) {
	res := c.api.CreatePrivateConversation(ctx, userID)
	if res.IsError {
		return models.Conversation{}, fmt.Errorf("starting conversation with user %d: %w: %s", userID, apperrors.ErrAPIRequest, res.Message)
	}

	return res.Data, nil
}

// SearchUsers runs a directory search. A newer search cancels this one.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	return c.searcher.Search(ctx, query)
}

// Run follows the token file, when one is configured, until ctx is
// done.
func (c *Client) Run(ctx context.Context) error {
	if c.watcher == nil {
		<-ctx.Done()
		return nil
	}

	if err := c.watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watching token file: %w", err)
	}

	return nil
}

// Close disconnects and closes the state file. The client cannot be
// used afterwards.
func (c *Client) Close() error {
	var err error

	c.closeOnce.Do(func() {
		c.searcher.Cancel()
		c.socket.Bus().Unsubscribe(c.sub)
		c.socket.Close()
		c.cancel()
		c.engine.Leave()
		err = c.state.Close()
	})

	return err
}

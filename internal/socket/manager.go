package socket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/hrchat/internal/errors"
	"github.com/coder/websocket"
)

const (
	dialTimeout  = 15 * time.Second
	writeTimeout = 10 * time.Second

	// readLimit bounds a single inbound frame. Chat frames are small JSON
	// objects; file content never travels over the socket.
	readLimit = 1 << 20
)

// backoffSchedule is the reconnect delay indexed by the number of
// consecutive attempts. The last entry repeats.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// reconnectDelay returns the delay before reconnect attempt n (0-based).
func reconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	if attempt >= len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}

	return backoffSchedule[attempt]
}

// State is the lifecycle state of the managed connection.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Credentials is the session view the manager needs: a token for the
// connect URL and whether the session may hold a connection at all.
type Credentials interface {
	Token() string
	Authenticated() bool
}

type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func defaultAfter(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Manager owns the single persistent socket for an authenticated
// session. It connects on demand, reconnects with backoff after
// unexpected closures, and is the only place frames are written.
//
// Each dial increments a generation counter. Goroutines belonging to an
// older generation (a reader whose connection was replaced, a reconnect
// timer that fired after Disconnect) see the mismatch and do nothing,
// so at most one transport is live at any time.
type Manager struct {
	baseURL string
	creds   Credentials
	logger  *slog.Logger
	bus     *Bus

	dial  dialFunc
	after afterFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	conn       wsConn
	connCancel context.CancelFunc
	gen        uint64
	attempts   int
	timer      stopper
	lastCode   websocket.StatusCode
	lastReason string
	closed     bool
	listeners  []func(State)

	writeMu sync.Mutex
}

// NewManager creates a manager for the socket at <baseURL>/ws. Nothing
// is dialled until Connect is called.
func NewManager(baseURL string, creds Credentials, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		baseURL:  strings.TrimRight(baseURL, "/"),
		creds:    creds,
		logger:   logger,
		dial:     defaultDial,
		after:    defaultAfter,
		ctx:      ctx,
		cancel:   cancel,
		lastCode: -1,
	}
	m.bus = NewBus(logger, m.ensureConnected)

	return m
}

// Bus returns the dispatch bus fed by this manager.
func (m *Manager) Bus() *Bus {
	return m.bus
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Connected reports whether the socket is open.
func (m *Manager) Connected() bool {
	return m.State() == StateOpen
}

// Attempts returns the number of reconnect attempts since the last
// successful open.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.attempts
}

// LastClose returns the close code and reason of the most recent
// closure. The code is -1 when the closure carried no close frame.
func (m *Manager) LastClose() (websocket.StatusCode, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastCode, m.lastReason
}

// OnStateChange registers fn to run after every state transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, fn)
}

// Connect opens the socket unless it is already connecting or open, the
// session is unauthenticated, or there is no token. The dial happens on a
// background goroutine; Connect never blocks on the network.
func (m *Manager) Connect() {
	m.mu.Lock()

	if m.closed || m.state != StateClosed {
		m.mu.Unlock()
		return
	}

	token := m.creds.Token()
	if token == "" || !m.creds.Authenticated() {
		m.mu.Unlock()
		return
	}

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	m.gen++
	gen := m.gen
	connCtx, connCancel := context.WithCancel(m.ctx)
	m.connCancel = connCancel
	m.wg.Add(1)
	listeners := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	notify(listeners, StateConnecting)

	go m.run(connCtx, gen, m.connectURL(token))
}

// Disconnect cancels any pending reconnect, closes the socket with a
// normal closure and leaves the manager closed. Safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()

	m.gen++

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	conn := m.conn
	m.conn = nil
	m.attempts = 0

	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}

	var listeners []func(State)
	if m.state != StateClosed {
		listeners = m.setStateLocked(StateClosed)
	}
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			m.logger.Debug("closing socket", slog.String("error", err.Error()))
		}

		m.logger.Info("socket disconnected")
	}

	notify(listeners, StateClosed)
}

// Close disconnects and waits for the background goroutines to exit.
// The manager cannot be reconnected afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
	m.cancel()
	m.wg.Wait()
}

// Send is the single choke point for outbound frames.
func (m *Manager) Send(ctx context.Context, f Outbound) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if state != StateOpen || conn == nil {
		return fmt.Errorf("sending %s frame: %w", f.FrameType(), apperrors.ErrNotConnected)
	}

	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing %s frame: %w", f.FrameType(), err)
	}

	return nil
}

func (m *Manager) ensureConnected() {
	if m.creds.Authenticated() {
		m.Connect()
	}
}

func (m *Manager) connectURL(token string) string {
	return m.baseURL + "/ws?token=" + url.QueryEscape(token)
}

// run dials and then reads until the connection ends.
func (m *Manager) run(ctx context.Context, gen uint64, rawURL string) {
	defer m.wg.Done()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := m.dial(dialCtx, rawURL)
	cancel()

	if err != nil {
		m.logger.Warn("socket dial failed", slog.String("error", err.Error()))
		m.handleClosed(gen, err)

		return
	}

	conn.SetReadLimit(readLimit)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "superseded")

		return
	}

	m.conn = conn
	m.attempts = 0
	listeners := m.setStateLocked(StateOpen)
	m.mu.Unlock()

	m.logger.Info("socket open")
	notify(listeners, StateOpen)

	m.readLoop(ctx, gen, conn)
}

// readLoop decodes frames in arrival order and dispatches each one
// synchronously, so handlers observe the server's ordering.
func (m *Manager) readLoop(ctx context.Context, gen uint64, conn wsConn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			m.handleClosed(gen, err)
			return
		}

		if typ != websocket.MessageText {
			m.logger.Debug("ignoring binary frame", slog.Int("bytes", len(data)))
			continue
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			m.logger.Debug("dropping unparseable frame",
				slog.Int("bytes", len(data)),
				slog.String("error", err.Error()),
			)

			continue
		}

		m.bus.Dispatch(frame)
	}
}

// handleClosed records a closure and schedules a reconnect when the
// closure was unexpected and the session is still authenticated.
func (m *Manager) handleClosed(gen uint64, err error) {
	code := websocket.CloseStatus(err)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	m.conn = nil
	m.lastCode = code
	m.lastReason = err.Error()

	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}

	listeners := m.setStateLocked(StateClosed)

	if code == websocket.StatusNormalClosure || m.closed || !m.creds.Authenticated() {
		m.mu.Unlock()
		m.logger.Info("socket closed", slog.Int("code", int(code)))
		notify(listeners, StateClosed)

		return
	}

	delay := reconnectDelay(m.attempts)
	m.attempts++
	attempt := m.attempts
	m.timer = m.after(delay, func() { m.reconnect(gen) })
	m.mu.Unlock()

	m.logger.Warn("socket closed unexpectedly, reconnecting",
		slog.Int("code", int(code)),
		slog.String("reason", err.Error()),
		slog.Int("attempt", attempt),
		slog.Duration("backoff", delay),
	)
	notify(listeners, StateClosed)
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	m.timer = nil
	m.mu.Unlock()

	m.Connect()
}

// setStateLocked updates the state and returns the listeners to notify
// once the lock is released.
func (m *Manager) setStateLocked(s State) []func(State) {
	m.state = s

	listeners := make([]func(State), len(m.listeners))
	copy(listeners, m.listeners)

	return listeners
}

func notify(listeners []func(State), s State) {
	for _, fn := range listeners {
		fn(s)
	}
}

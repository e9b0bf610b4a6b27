package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/hrchat/internal/errors"
	"github.com/alexjbarnes/hrchat/internal/models"
	"github.com/alexjbarnes/hrchat/internal/socket"
	"golang.org/x/sync/singleflight"
)

// Backend is the REST surface the engine reads history from.
type Backend interface {
	GetConversationDetail(ctx context.Context, conversationID int64) models.Result[models.ConversationDetail]
	GetConversationMessages(ctx context.Context, conversationID, beforeID int64) models.Result[[]models.WireMessage]
}

// Uploader stores a local file and returns its remote descriptor. It
// must be safe for concurrent use.
type Uploader interface {
	Upload(ctx context.Context, localPath, fileName, mimeType string) (models.FileDescriptor, error)
}

// Snapshot is a read-only copy of the open conversation. Version
// increases on every change.
type Snapshot struct {
	Conversation models.Conversation
	Messages     []Message
	HasMore      bool
	Version      uint64
}

// Open reports whether the snapshot has a conversation.
func (s Snapshot) Open() bool {
	return s.Conversation.ID != 0
}

// thread is the engine-owned state of the open conversation.
type thread struct {
	conv     models.Conversation
	messages []Message
	hasMore  bool
}

// EngineConfig holds the collaborators an Engine needs.
type EngineConfig struct {
	Backend  Backend
	Sender   Sender
	Identity IdentitySource
	Tracker  *ReadTracker
	Uploader Uploader

	// PageSize is the backend's history page size. A shorter page means
	// there is no older history.
	PageSize int
}

// Engine owns the message list of the open conversation. All mutations
// go through its methods; readers get copies via Snapshot or OnChange.
type Engine struct {
	backend  Backend
	sender   Sender
	identity IdentitySource
	tracker  *ReadTracker
	uploader Uploader
	pageSize int
	logger   *slog.Logger

	now   func() time.Time
	loads singleflight.Group

	mu      sync.Mutex
	current *thread
	// opening collects live frames for a conversation whose detail is
	// still being fetched.
	opening   *thread
	version   uint64
	listeners []func(Snapshot)
}

// NewEngine creates an engine with no conversation open.
func NewEngine(cfg EngineConfig, logger *slog.Logger) *Engine {
	pageSize := cfg.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	return &Engine{
		backend:  cfg.Backend,
		sender:   cfg.Sender,
		identity: cfg.Identity,
		tracker:  cfg.Tracker,
		uploader: cfg.Uploader,
		pageSize: pageSize,
		logger:   logger,
		now:      time.Now,
	}
}

// OnChange registers fn to receive a snapshot after every change.
// Listeners run on the goroutine that made the change, without the
// engine lock held.
func (e *Engine) OnChange(fn func(Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners = append(e.listeners, fn)
}

// Snapshot returns a copy of the open conversation.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{Version: e.version}
	if e.current == nil {
		return s
	}

	s.Conversation = e.current.conv
	s.HasMore = e.current.hasMore
	s.Messages = make([]Message, len(e.current.messages))
	copy(s.Messages, e.current.messages)

	return s
}

// commitLocked bumps the version and returns what the caller must
// publish once the lock is released.
func (e *Engine) commitLocked() (Snapshot, []func(Snapshot)) {
	e.version++

	listeners := make([]func(Snapshot), len(e.listeners))
	copy(listeners, e.listeners)

	return e.snapshotLocked(), listeners
}

// publish notifies listeners and sends a read receipt when the newest
// confirmed message is past the watermark.
func (e *Engine) publish(ctx context.Context, snap Snapshot, listeners []func(Snapshot)) {
	for _, fn := range listeners {
		fn(snap)
	}

	if !snap.Open() {
		return
	}

	if newest := newestServerID(snap.Messages); newest != 0 {
		e.markRead(ctx, snap.Conversation.ID, newest)
	}
}

func (e *Engine) markRead(ctx context.Context, conversationID, messageID int64) {
	if e.tracker == nil {
		return
	}

	if _, err := e.tracker.MarkRead(ctx, conversationID, messageID); err != nil {
		e.logger.Warn("sending read receipt", slog.String("error", err.Error()))
	}
}

// newestServerID returns the server id of the first confirmed message
// in a newest-first list.
func newestServerID(ms []Message) int64 {
	for _, m := range ms {
		if m.ServerID != 0 {
			return m.ServerID
		}
	}

	return 0
}

// oldestServerID returns the server id of the last confirmed message in
// a newest-first list. Pending entries have no cursor and are skipped.
func oldestServerID(ms []Message) int64 {
	for i := len(ms) - 1; i >= 0; i-- {
		if ms[i].ServerID != 0 {
			return ms[i].ServerID
		}
	}

	return 0
}

// Open fetches a conversation and makes it the one live frames are
// applied to. It sends a read receipt for the conversation's last
// message. Live frames that arrive during the fetch are kept, and
// re-opening the open conversation merges into its current list so
// pending messages survive.
func (e *Engine) Open(ctx context.Context, conversationID int64) (Snapshot, error) {
	e.mu.Lock()
	th := e.current
	if th == nil || th.conv.ID != conversationID {
		th = &thread{conv: models.Conversation{ID: conversationID}, hasMore: true}
		e.opening = th
	}
	e.mu.Unlock()

	res := e.backend.GetConversationDetail(ctx, conversationID)
	if res.IsError {
		e.mu.Lock()
		if e.opening == th {
			e.opening = nil
		}
		e.mu.Unlock()

		return Snapshot{}, fmt.Errorf("opening conversation %d: %w: %s", conversationID, apperrors.ErrAPIRequest, res.Message)
	}

	detail := res.Data
	if detail.ID == 0 {
		detail.ID = conversationID
	}

	e.mu.Lock()
	if e.opening == th {
		e.opening = nil
	}

	th.conv = detail.Conversation
	th.messages = MergeAt(th.messages, FromWireList(detail.Messages), e.now())
	e.current = th
	snap, listeners := e.commitLocked()
	e.mu.Unlock()

	e.logger.Info("conversation opened",
		slog.Int64("conversation", conversationID),
		slog.Int("messages", len(snap.Messages)),
	)

	e.markRead(ctx, conversationID, detail.LastMessageID)
	e.publish(ctx, snap, listeners)

	return snap, nil
}

// Leave closes the open conversation. Live frames are ignored until the
// next Open.
func (e *Engine) Leave() {
	e.mu.Lock()
	e.opening = nil

	if e.current == nil {
		e.mu.Unlock()
		return
	}

	e.current = nil
	snap, listeners := e.commitLocked()
	e.mu.Unlock()

	e.publish(context.Background(), snap, listeners)
}

// Handler adapts the engine to the socket bus. ctx bounds the read
// receipts that live frames trigger.
func (e *Engine) Handler(ctx context.Context) socket.Handler {
	return func(f socket.Frame) {
		e.HandleFrame(ctx, f)
	}
}

// HandleFrame applies one live frame to the open conversation. Read
// receipts, unknown frames and frames for other conversations are
// ignored.
func (e *Engine) HandleFrame(ctx context.Context, f socket.Frame) {
	wire, ok := socket.MessageOf(f)
	if !ok {
		return
	}

	msg := normalize(FromWire(wire), e.now())
	msg.Pending = false

	me, signedIn := e.identity.Identity()

	e.mu.Lock()
	th := e.current
	if th == nil || th.conv.ID != msg.ConversationID {
		if op := e.opening; op != nil && op.conv.ID == msg.ConversationID {
			e.applyLiveLocked(op, msg, signedIn && msg.SenderID == me.UserID)
		}

		e.mu.Unlock()

		return
	}

	if !e.applyLiveLocked(th, msg, signedIn && msg.SenderID == me.UserID) {
		e.mu.Unlock()
		return
	}

	snap, listeners := e.commitLocked()
	e.mu.Unlock()

	e.publish(ctx, snap, listeners)
}

// applyLiveLocked merges one live message into th and reports whether
// the list changed.
func (e *Engine) applyLiveLocked(th *thread, msg Message, own bool) bool {
	if own && msg.ClientKey != "" {
		for i := range th.messages {
			if th.messages[i].ClientKey == msg.ClientKey {
				th.messages[i] = overlay(th.messages[i], msg)
				sortNewestFirst(th.messages)

				return true
			}
		}
	}

	if msg.ServerID != 0 {
		for _, m := range th.messages {
			if m.ServerID == msg.ServerID {
				e.logger.Debug("dropping duplicate frame", slog.Int64("id", msg.ServerID))
				return false
			}
		}
	}

	if _, ok := key(msg); !ok {
		e.logger.Warn("dropping frame without id or client key",
			slog.Int64("conversation", msg.ConversationID),
		)

		return false
	}

	th.messages = append(th.messages, msg)
	sortNewestFirst(th.messages)

	return true
}

// LoadOlder fetches the page before the oldest confirmed message and
// merges it. It returns the number of messages the page held. Calls
// made while a load for the same conversation is in flight share its
// result instead of issuing another request.
func (e *Engine) LoadOlder(ctx context.Context) (int, error) {
	e.mu.Lock()
	th := e.current
	if th == nil {
		e.mu.Unlock()
		return 0, apperrors.ErrNoConversation
	}

	conversationID := th.conv.ID
	cursor := oldestServerID(th.messages)
	hasMore := th.hasMore
	e.mu.Unlock()

	if !hasMore || cursor == 0 {
		return 0, nil
	}

	v, err, _ := e.loads.Do(strconv.FormatInt(conversationID, 10), func() (any, error) {
		return e.loadPage(ctx, conversationID, cursor)
	})
	if err != nil {
		return 0, err
	}

	return v.(int), nil
}

func (e *Engine) loadPage(ctx context.Context, conversationID, before int64) (int, error) {
	res := e.backend.GetConversationMessages(ctx, conversationID, before)
	if res.IsError {
		return 0, fmt.Errorf("loading messages before %d: %w: %s", before, apperrors.ErrAPIRequest, res.Message)
	}

	page := res.Data

	e.mu.Lock()
	th := e.current
	if th == nil || th.conv.ID != conversationID {
		e.mu.Unlock()
		return len(page), nil
	}

	th.messages = MergeAt(th.messages, FromWireList(page), e.now())
	if len(page) < e.pageSize {
		th.hasMore = false
	}

	snap, listeners := e.commitLocked()
	e.mu.Unlock()

	e.logger.Debug("loaded older messages",
		slog.Int64("conversation", conversationID),
		slog.Int64("before", before),
		slog.Int("count", len(page)),
	)

	e.publish(ctx, snap, listeners)

	return len(page), nil
}

// sendTarget returns the identity and open conversation a send needs.
func (e *Engine) sendTarget() (models.Identity, int64, error) {
	me, ok := e.identity.Identity()
	if !ok {
		return models.Identity{}, 0, apperrors.ErrNoSession
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return models.Identity{}, 0, apperrors.ErrNoConversation
	}

	return me, e.current.conv.ID, nil
}

// insertPending adds an optimistic message to conversationID if it is
// still open.
func (e *Engine) insertPending(ctx context.Context, m Message) {
	e.mu.Lock()
	th := e.current
	if th == nil || th.conv.ID != m.ConversationID {
		e.mu.Unlock()
		return
	}

	th.messages = append(th.messages, m)
	sortNewestFirst(th.messages)
	snap, listeners := e.commitLocked()
	e.mu.Unlock()

	e.publish(ctx, snap, listeners)
}

// updatePending applies fn to the pending entry with clientKey. If fn
// returns false the entry is removed.
func (e *Engine) updatePending(ctx context.Context, conversationID int64, clientKey string, fn func(*Message) bool) {
	e.mu.Lock()
	th := e.current
	if th == nil || th.conv.ID != conversationID {
		e.mu.Unlock()
		return
	}

	changed := false

	for i := range th.messages {
		if th.messages[i].ClientKey != clientKey || !th.messages[i].Pending {
			continue
		}

		if !fn(&th.messages[i]) {
			th.messages = append(th.messages[:i], th.messages[i+1:]...)
		}

		changed = true

		break
	}

	if !changed {
		e.mu.Unlock()
		return
	}

	snap, listeners := e.commitLocked()
	e.mu.Unlock()

	e.publish(ctx, snap, listeners)
}

// SendText inserts a pending text message and publishes it. If the
// publish fails the message stays pending and the error is returned.
func (e *Engine) SendText(ctx context.Context, content string) (Message, error) {
	me, conversationID, err := e.sendTarget()
	if err != nil {
		return Message{}, err
	}

	now := e.now()
	m := Message{
		ClientKey:      NewClientKey(me.UserID, now),
		ConversationID: conversationID,
		SenderID:       me.UserID,
		SenderName:     me.Name,
		Content:        content,
		Type:           models.MessageTypeText,
		CreatedAt:      now,
		Pending:        true,
	}

	e.insertPending(ctx, m)

	err = e.sender.Send(ctx, socket.TextMessage{
		ClientMsgID:    m.ClientKey,
		ConversationID: conversationID,
		Content:        content,
		SenderID:       me.UserID,
		SenderName:     me.Name,
	})
	if err != nil {
		e.logger.Warn("publishing text message",
			slog.String("client_key", m.ClientKey),
			slog.String("error", err.Error()),
		)

		return m, err
	}

	return m, nil
}

// SendFile inserts a pending file message previewing localPath, uploads
// the file and publishes a file frame for it. A failed upload removes
// the placeholder.
func (e *Engine) SendFile(ctx context.Context, localPath, fileName, mimeType string) (Message, error) {
	me, conversationID, err := e.sendTarget()
	if err != nil {
		return Message{}, err
	}

	if e.uploader == nil {
		return Message{}, fmt.Errorf("%w: no uploader configured", apperrors.ErrUploadFailed)
	}

	now := e.now()
	m := Message{
		ClientKey:      NewClientKey(me.UserID, now),
		ConversationID: conversationID,
		SenderID:       me.UserID,
		SenderName:     me.Name,
		Type:           models.MessageTypeFile,
		CreatedAt:      now,
		FileName:       fileName,
		FileType:       mimeType,
		FilePath:       localPath,
		Pending:        true,
	}

	e.insertPending(ctx, m)

	desc, err := e.uploader.Upload(ctx, localPath, fileName, mimeType)
	if err != nil {
		e.logger.Warn("upload failed, removing placeholder",
			slog.String("client_key", m.ClientKey),
			slog.String("file", fileName),
			slog.String("error", err.Error()),
		)
		e.updatePending(ctx, conversationID, m.ClientKey, func(*Message) bool { return false })

		return Message{}, fmt.Errorf("%w: %w", apperrors.ErrUploadFailed, err)
	}

	m.FileID = desc.ID
	m.FileURL = desc.URL
	m.FileSize = desc.Size

	if desc.Name != "" {
		m.FileName = desc.Name
	}

	if desc.Type != "" {
		m.FileType = desc.Type
	}

	e.updatePending(ctx, conversationID, m.ClientKey, func(p *Message) bool {
		p.FileID = m.FileID
		p.FileURL = m.FileURL
		p.FileSize = m.FileSize
		p.FileName = m.FileName
		p.FileType = m.FileType

		return true
	})

	err = e.sender.Send(ctx, socket.FileMessage{
		ClientMsgID:    m.ClientKey,
		ConversationID: conversationID,
		SenderID:       me.UserID,
		SenderName:     me.Name,
		FileID:         m.FileID,
		FileName:       m.FileName,
		FileType:       m.FileType,
		FileSize:       m.FileSize,
	})
	if err != nil {
		e.logger.Warn("publishing file message",
			slog.String("client_key", m.ClientKey),
			slog.String("error", err.Error()),
		)

		return m, err
	}

	return m, nil
}

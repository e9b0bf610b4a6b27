package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alexjbarnes/hrchat/internal/models"
	"github.com/alexjbarnes/hrchat/internal/socket"
)

// Sender publishes outbound frames. socket.Manager satisfies it.
type Sender interface {
	Send(ctx context.Context, f socket.Outbound) error
	Connected() bool
}

// IdentitySource reports the signed-in user, if any.
type IdentitySource interface {
	Identity() (models.Identity, bool)
}

// WatermarkStore persists read watermarks across restarts, per user.
type WatermarkStore interface {
	Watermark(userID, conversationID int64) (int64, error)
	SetWatermark(userID, conversationID, messageID int64) error
}

type markKey struct {
	user         int64
	conversation int64
}

// ReadTracker sends read receipts and remembers, per user and
// conversation, the highest message id one was sent for. The watermark
// never decreases.
type ReadTracker struct {
	sender   Sender
	identity IdentitySource
	store    WatermarkStore
	logger   *slog.Logger

	// mu is held across the send so receipts for one tracker go out in
	// watermark order.
	mu    sync.Mutex
	marks map[markKey]int64
}

// NewReadTracker creates a tracker. store may be nil, in which case
// watermarks live only in memory.
func NewReadTracker(sender Sender, identity IdentitySource, store WatermarkStore, logger *slog.Logger) *ReadTracker {
	return &ReadTracker{
		sender:   sender,
		identity: identity,
		store:    store,
		logger:   logger,
		marks:    make(map[markKey]int64),
	}
}

// Watermark returns the signed-in user's watermark for a conversation,
// or 0 when nobody is signed in.
func (r *ReadTracker) Watermark(conversationID int64) int64 {
	id, ok := r.identity.Identity()
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.watermarkLocked(markKey{user: id.UserID, conversation: conversationID})
}

// Reset forgets the in-memory watermarks. Stored ones are reloaded on
// demand.
func (r *ReadTracker) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.marks)
}

func (r *ReadTracker) watermarkLocked(k markKey) int64 {
	if w, ok := r.marks[k]; ok {
		return w
	}

	var w int64

	if r.store != nil {
		stored, err := r.store.Watermark(k.user, k.conversation)
		if err != nil {
			r.logger.Warn("loading read watermark",
				slog.Int64("user", k.user),
				slog.Int64("conversation", k.conversation),
				slog.String("error", err.Error()),
			)
		} else {
			w = stored
		}
	}

	r.marks[k] = w

	return w
}

// MarkRead sends a read receipt for messageID if the socket is open, a
// user is signed in and messageID is above the watermark. It reports
// whether a receipt was sent. The watermark only moves after a
// successful send.
func (r *ReadTracker) MarkRead(ctx context.Context, conversationID, messageID int64) (bool, error) {
	if !r.sender.Connected() {
		return false, nil
	}

	id, ok := r.identity.Identity()
	if !ok {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := markKey{user: id.UserID, conversation: conversationID}

	if messageID <= r.watermarkLocked(k) {
		return false, nil
	}

	err := r.sender.Send(ctx, socket.MarkAsRead{
		ConversationID:    conversationID,
		SenderID:          id.UserID,
		LastReadMessageID: messageID,
	})
	if err != nil {
		return false, fmt.Errorf("marking conversation %d read: %w", conversationID, err)
	}

	r.marks[k] = messageID

	if r.store != nil {
		if err := r.store.SetWatermark(id.UserID, conversationID, messageID); err != nil {
			r.logger.Warn("saving read watermark",
				slog.Int64("conversation", conversationID),
				slog.String("error", err.Error()),
			)
		}
	}

	r.logger.Debug("marked read",
		slog.Int64("conversation", conversationID),
		slog.Int64("message", messageID),
	)

	return true, nil
}

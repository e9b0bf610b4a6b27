package chat

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/alexjbarnes/hrchat/internal/models"
	"github.com/alexjbarnes/hrchat/internal/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(sender *fakeSender, store WatermarkStore) *ReadTracker {
	return NewReadTracker(sender, me, store, slog.New(slog.DiscardHandler))
}

func TestMarkRead_Monotonic(t *testing.T) {
	ctx := context.Background()

	t.Run("lower candidate is ignored", func(t *testing.T) {
		sender := &fakeSender{connected: true}
		r := newTracker(sender, nil)

		sent, err := r.MarkRead(ctx, 1, 5)
		require.NoError(t, err)
		assert.True(t, sent)

		sent, err = r.MarkRead(ctx, 1, 3)
		require.NoError(t, err)
		assert.False(t, sent)

		assert.Equal(t, []int64{5}, sender.receipts())
		assert.Equal(t, int64(5), r.Watermark(1))
	})

	t.Run("higher candidate is sent in order", func(t *testing.T) {
		sender := &fakeSender{connected: true}
		r := newTracker(sender, nil)

		_, _ = r.MarkRead(ctx, 1, 5)
		_, _ = r.MarkRead(ctx, 1, 9)

		assert.Equal(t, []int64{5, 9}, sender.receipts())
	})

	t.Run("equal candidate is ignored", func(t *testing.T) {
		sender := &fakeSender{connected: true}
		r := newTracker(sender, nil)

		_, _ = r.MarkRead(ctx, 1, 5)
		_, _ = r.MarkRead(ctx, 1, 5)

		assert.Equal(t, []int64{5}, sender.receipts())
	})
}

func TestMarkRead_PerConversation(t *testing.T) {
	sender := &fakeSender{connected: true}
	r := newTracker(sender, nil)

	_, _ = r.MarkRead(context.Background(), 1, 9)
	_, _ = r.MarkRead(context.Background(), 2, 3)

	assert.Equal(t, []int64{9, 3}, sender.receipts())
}

func TestMarkRead_FrameFields(t *testing.T) {
	sender := &fakeSender{connected: true}
	r := newTracker(sender, nil)

	_, err := r.MarkRead(context.Background(), 4, 12)
	require.NoError(t, err)

	require.Len(t, sender.sent(), 1)
	assert.Equal(t, socket.MarkAsRead{ConversationID: 4, SenderID: 7, LastReadMessageID: 12}, sender.sent()[0])
}

func TestMarkRead_RequiresConnectionAndIdentity(t *testing.T) {
	ctx := context.Background()

	offline := &fakeSender{connected: false}
	sent, err := newTracker(offline, nil).MarkRead(ctx, 1, 5)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, offline.sent())

	online := &fakeSender{connected: true}
	anon := NewReadTracker(online, fakeIdentity{}, nil, slog.New(slog.DiscardHandler))
	sent, err = anon.MarkRead(ctx, 1, 5)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, online.sent())
	assert.Zero(t, anon.Watermark(1))
}

func TestMarkRead_FailedSendKeepsWatermark(t *testing.T) {
	sender := &fakeSender{connected: true, fail: errBoom}
	r := newTracker(sender, nil)

	sent, err := r.MarkRead(context.Background(), 1, 5)
	assert.False(t, sent)
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, r.Watermark(1))

	sender.mu.Lock()
	sender.fail = nil
	sender.mu.Unlock()

	sent, err = r.MarkRead(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestMarkRead_UsesStoredWatermark(t *testing.T) {
	store := &memWatermarks{marks: map[markKey]int64{{user: 7, conversation: 1}: 10}}
	sender := &fakeSender{connected: true}
	r := newTracker(sender, store)

	sent, err := r.MarkRead(context.Background(), 1, 8)
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = r.MarkRead(context.Background(), 1, 11)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, int64(11), store.marks[markKey{user: 7, conversation: 1}])
}

func TestMarkRead_StoreErrorStartsFromZero(t *testing.T) {
	store := &memWatermarks{err: errors.New("db closed")}
	r := newTracker(&fakeSender{connected: true}, store)

	assert.Zero(t, r.Watermark(1))
}

func TestMarkRead_UserSwitch(t *testing.T) {
	ctx := context.Background()
	store := &memWatermarks{}
	sender := &fakeSender{connected: true}
	who := &switchingIdentity{id: models.Identity{UserID: 7, Name: "Ann"}, ok: true}
	r := NewReadTracker(sender, who, store, slog.New(slog.DiscardHandler))

	sent, err := r.MarkRead(ctx, 5, 10)
	require.NoError(t, err)
	assert.True(t, sent)

	who.set(models.Identity{}, false)
	r.Reset()
	assert.Zero(t, r.Watermark(5))

	who.set(models.Identity{UserID: 8, Name: "Bo"}, true)

	sent, err = r.MarkRead(ctx, 5, 10)
	require.NoError(t, err)
	assert.True(t, sent, "a different user starts from their own watermark")
	assert.Equal(t, []int64{10, 10}, sender.receipts())

	restarted := NewReadTracker(sender, who, store, slog.New(slog.DiscardHandler))
	assert.Equal(t, int64(10), restarted.Watermark(5))

	who.set(models.Identity{UserID: 9, Name: "Cy"}, true)

	sent, err = restarted.MarkRead(ctx, 5, 10)
	require.NoError(t, err)
	assert.True(t, sent, "stored watermarks belong to the user that wrote them")
}

func TestReset_ReloadsFromStore(t *testing.T) {
	store := &memWatermarks{}
	r := newTracker(&fakeSender{connected: true}, store)

	_, err := r.MarkRead(context.Background(), 1, 4)
	require.NoError(t, err)

	r.Reset()
	assert.Equal(t, int64(4), r.Watermark(1))
}

package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/alexjbarnes/hrchat/internal/models"
	"github.com/alexjbarnes/hrchat/internal/socket"
)

type fakeSender struct {
	mu        sync.Mutex
	connected bool
	fail      error
	frames    []socket.Outbound
}

func (s *fakeSender) Send(_ context.Context, f socket.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return s.fail
	}

	s.frames = append(s.frames, f)

	return nil
}

func (s *fakeSender) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

func (s *fakeSender) sent() []socket.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]socket.Outbound, len(s.frames))
	copy(out, s.frames)

	return out
}

func (s *fakeSender) receipts() []int64 {
	var ids []int64

	for _, f := range s.sent() {
		if rr, ok := f.(socket.MarkAsRead); ok {
			ids = append(ids, rr.LastReadMessageID)
		}
	}

	return ids
}

type fakeIdentity struct {
	id models.Identity
	ok bool
}

func (f fakeIdentity) Identity() (models.Identity, bool) {
	return f.id, f.ok
}

var me = fakeIdentity{id: models.Identity{UserID: 7, Name: "Ann"}, ok: true}

type fakeBackend struct {
	mu      sync.Mutex
	detail  models.Result[models.ConversationDetail]
	pages   map[int64]models.Result[[]models.WireMessage]
	calls   int
	befores []int64

	// started and release, when set, make GetConversationMessages signal
	// and then block until released.
	started chan struct{}
	release chan struct{}

	// detailStarted and detailRelease do the same for
	// GetConversationDetail.
	detailStarted chan struct{}
	detailRelease chan struct{}
}

func (b *fakeBackend) GetConversationDetail(context.Context, int64) models.Result[models.ConversationDetail] {
	if b.detailStarted != nil {
		b.detailStarted <- struct{}{}
		<-b.detailRelease
	}

	return b.detail
}

func (b *fakeBackend) GetConversationMessages(_ context.Context, _ int64, before int64) models.Result[[]models.WireMessage] {
	b.mu.Lock()
	b.calls++
	b.befores = append(b.befores, before)
	res, ok := b.pages[before]
	b.mu.Unlock()

	if b.started != nil {
		b.started <- struct{}{}
		<-b.release
	}

	if !ok {
		return models.OK(200, []models.WireMessage{})
	}

	return res
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls
}

type memWatermarks struct {
	mu    sync.Mutex
	marks map[markKey]int64
	err   error
}

func (w *memWatermarks) Watermark(user, conv int64) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return 0, w.err
	}

	return w.marks[markKey{user: user, conversation: conv}], nil
}

func (w *memWatermarks) SetWatermark(user, conv, id int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.marks == nil {
		w.marks = make(map[markKey]int64)
	}

	w.marks[markKey{user: user, conversation: conv}] = id

	return nil
}

// switchingIdentity lets a test change the signed-in user.
type switchingIdentity struct {
	mu sync.Mutex
	id models.Identity
	ok bool
}

func (s *switchingIdentity) Identity() (models.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.id, s.ok
}

func (s *switchingIdentity) set(id models.Identity, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.id, s.ok = id, ok
}

type fakeUploader struct {
	desc models.FileDescriptor
	err  error

	// gate, when set, blocks Upload until closed.
	gate chan struct{}
}

func (u *fakeUploader) Upload(context.Context, string, string, string) (models.FileDescriptor, error) {
	if u.gate != nil {
		<-u.gate
	}

	return u.desc, u.err
}

var errBoom = errors.New("boom")

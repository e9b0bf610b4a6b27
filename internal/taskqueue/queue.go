// Package taskqueue runs submitted tasks in FIFO order with at most a
// fixed number running at once.
package taskqueue

import (
	"context"
	"sync"

	apperrors "github.com/alexjbarnes/hrchat/internal/errors"
)

// Task is a unit of queued work. It should return early once ctx is
// done; the queue never interrupts a running task.
type Task func(ctx context.Context) error

type item struct {
	ctx  context.Context
	task Task
	done chan error

	// stop unregisters the cancellation hook that removes the item
	// from the queue.
	stop func() bool
}

// Queue dispatches tasks in submission order. Tasks are never retried.
type Queue struct {
	limit int

	mu      sync.Mutex
	pending []*item
	running int

	// idle is closed while the queue has nothing queued or running and is
	// replaced when work arrives.
	idle chan struct{}
}

// New creates a queue running at most limit tasks at once. A limit
// below one is treated as one.
func New(limit int) *Queue {
	if limit < 1 {
		limit = 1
	}

	idle := make(chan struct{})
	close(idle)

	return &Queue{limit: limit, idle: idle}
}

// Limit returns the concurrency limit.
func (q *Queue) Limit() int {
	return q.limit
}

// Enqueue submits t and returns a channel that receives its outcome
// exactly once. If ctx is done before t starts, t is removed from the
// queue at once and the channel receives ctx.Err().
func (q *Queue) Enqueue(ctx context.Context, t Task) <-chan error {
	it := &item{ctx: ctx, task: t, done: make(chan error, 1)}

	q.mu.Lock()
	it.stop = context.AfterFunc(ctx, func() { q.remove(it) })

	if q.idleLocked() {
		q.idle = make(chan struct{})
	}

	q.pending = append(q.pending, it)
	q.dispatchLocked()
	q.mu.Unlock()

	return it.done
}

// dispatchLocked starts queued tasks while slots are free.
func (q *Queue) dispatchLocked() {
	for q.running < q.limit && len(q.pending) > 0 {
		it := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.running++
		it.stop()

		go q.run(it)
	}
}

// remove drops it if it is still queued and settles it with its
// context's error.
func (q *Queue) remove(it *item) {
	q.mu.Lock()

	found := false

	for i, p := range q.pending {
		if p == it {
			q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
			found = true

			break
		}
	}

	if found {
		q.signalIdleLocked()
	}
	q.mu.Unlock()

	if found {
		it.done <- it.ctx.Err()
	}
}

func (q *Queue) run(it *item) {
	var err error
	if err = it.ctx.Err(); err == nil {
		err = it.task(it.ctx)
	}

	it.done <- err

	q.mu.Lock()
	q.running--
	q.dispatchLocked()
	q.signalIdleLocked()
	q.mu.Unlock()
}

// Clear drops every task that has not started. Each dropped task's
// channel receives ErrQueueCleared. Running tasks are unaffected. It
// returns the number of tasks dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.signalIdleLocked()
	q.mu.Unlock()

	for _, it := range dropped {
		it.stop()
		it.done <- apperrors.ErrQueueCleared
	}

	return len(dropped)
}

// Len returns the number of queued and running tasks.
func (q *Queue) Len() (queued, running int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending), q.running
}

// IsIdle reports whether nothing is queued or running.
func (q *Queue) IsIdle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.idleLocked()
}

// WaitForIdle blocks until the queue is idle or ctx is done.
func (q *Queue) WaitForIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.idleLocked() {
			q.mu.Unlock()
			return nil
		}

		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) idleLocked() bool {
	return q.running == 0 && len(q.pending) == 0
}

func (q *Queue) signalIdleLocked() {
	if !q.idleLocked() {
		return
	}

	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

// Do runs fn through q and returns its result once it settles.
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T

	err := <-q.Enqueue(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v

		return err
	})

	return out, err
}

// Package dispatch provides the serial event loop that owns all media session
// state. Functions posted from any goroutine run one at a time, in order, on
// the goroutine that calls Run.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Do once the queue has stopped running.
var ErrClosed = errors.New("dispatch queue closed")

// Queue is an unbounded FIFO of functions drained by Run.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	closed  bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Post appends fn to the queue. It never blocks; functions posted after Run
// has returned are dropped.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		slog.Debug("Dropping function posted to closed dispatch queue")
		return
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is done. Functions still queued at that
// point are run before Run returns.
func (q *Queue) Run(ctx context.Context) error {
	for {
		for _, fn := range q.take() {
			q.invoke(fn)
		}

		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.closed = true
			rest := q.pending
			q.pending = nil
			q.mu.Unlock()

			for _, fn := range rest {
				q.invoke(fn)
			}
			return ctx.Err()
		case <-q.wake:
		}
	}
}

// Do posts fn and waits for it to run.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	q.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) take() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.pending
	q.pending = nil
	return batch
}

func (q *Queue) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatched function panicked", "panic", r)
		}
	}()
	fn()
}

// Inline runs posted functions immediately on the caller's goroutine.
type Inline struct{}

// Post runs fn.
func (Inline) Post(fn func()) {
	fn()
}

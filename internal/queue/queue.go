// ABOUTME: Per-session FIFO task queue enforcing a cooldown between AI calls
// ABOUTME: One task in flight at a time; failures settle the handle and never stop the queue

package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueClosed is returned on handles of tasks that were pending when the
// queue shut down, and for submissions after close.
var ErrQueueClosed = errors.New("queue closed")

// Task is a unit of work serialized by the queue. The context is cancelled
// when the queue closes, which makes pending bot replies no-ops once their
// session is deleted.
type Task func(ctx context.Context) error

type entry struct {
	task Task
	done chan error
}

// Queue services submitted tasks strictly in submission order, at most one
// at a time, and never starts a task sooner than the cooldown after the
// previous task's completion. The wait is timer-based, not a busy loop.
type Queue struct {
	mu       sync.Mutex
	pending  []*entry
	closed   bool
	lastDone time.Time

	cooldown time.Duration
	wake     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// New creates a queue and starts its worker goroutine.
func New(cooldown time.Duration, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cooldown: cooldown,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With("component", "queue"),
	}
	go q.run()
	return q
}

// Submit enqueues a task and returns a handle that settles exactly once with
// the task's result. Submission order is service order.
func (q *Queue) Submit(task Task) <-chan error {
	done := make(chan error, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		done <- ErrQueueClosed
		return done
	}
	q.pending = append(q.pending, &entry{task: task, done: done})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return done
}

// Len returns the number of tasks waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the worker and settles every pending handle with
// ErrQueueClosed. An in-flight task sees its context cancelled. Safe to call
// more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	for _, e := range pending {
		e.done <- ErrQueueClosed
	}
}

// run is the worker loop: pop, wait out the cooldown, execute, settle.
func (q *Queue) run() {
	for {
		e := q.next()
		if e == nil {
			return
		}

		if !q.waitCooldown() {
			e.done <- ErrQueueClosed
			return
		}

		err := q.execute(e.task)
		q.mu.Lock()
		q.lastDone = time.Now()
		q.mu.Unlock()

		if err != nil {
			q.logger.Debug("task failed", "error", err)
		}
		e.done <- err
	}
}

// next blocks until a task is available or the queue closes.
func (q *Queue) next() *entry {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil
		}
		if len(q.pending) > 0 {
			e := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return e
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return nil
		}
	}
}

// waitCooldown sleeps until the cooldown since the last completion has
// elapsed. Returns false if the queue closed while waiting.
func (q *Queue) waitCooldown() bool {
	q.mu.Lock()
	last := q.lastDone
	q.mu.Unlock()

	if last.IsZero() {
		return true
	}
	remaining := q.cooldown - time.Since(last)
	if remaining <= 0 {
		return true
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-q.ctx.Done():
		return false
	}
}

// execute runs a task, converting a panic into an error so one bad task
// can't take the worker down.
func (q *Queue) execute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("task panicked")
			q.logger.Error("task panic recovered", "panic", r)
		}
	}()
	return task(q.ctx)
}

// ABOUTME: Tests for the per-session FIFO task queue
// ABOUTME: Covers ordering, cooldown pacing, failure isolation and close semantics

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task result")
		return nil
	}
}

func TestQueue_ServicesTasksInSubmissionOrder(t *testing.T) {
	q := New(0, nil)
	defer q.Close()

	var mu sync.Mutex
	var order []int

	handles := make([]<-chan error, 0, 5)
	for i := 0; i < 5; i++ {
		i := i
		handles = append(handles, q.Submit(func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}

	for _, h := range handles {
		require.NoError(t, waitErr(t, h))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueue_EnforcesCooldownBetweenTasks(t *testing.T) {
	cooldown := 50 * time.Millisecond
	q := New(cooldown, nil)
	defer q.Close()

	var mu sync.Mutex
	var starts []time.Time

	var handles []<-chan error
	for i := 0; i < 3; i++ {
		handles = append(handles, q.Submit(func(context.Context) error {
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
			return nil
		}))
	}
	for _, h := range handles {
		require.NoError(t, waitErr(t, h))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.GreaterOrEqual(t, gap, cooldown, "gap between task %d and %d", i-1, i)
	}
}

func TestQueue_FirstTaskRunsWithoutCooldownWait(t *testing.T) {
	q := New(time.Minute, nil)
	defer q.Close()

	start := time.Now()
	require.NoError(t, waitErr(t, q.Submit(func(context.Context) error { return nil })))
	assert.Less(t, time.Since(start), time.Second)
}

func TestQueue_TaskFailureDoesNotStopTheQueue(t *testing.T) {
	q := New(0, nil)
	defer q.Close()

	boom := errors.New("boom")
	h1 := q.Submit(func(context.Context) error { return boom })
	h2 := q.Submit(func(context.Context) error { return nil })

	assert.ErrorIs(t, waitErr(t, h1), boom)
	assert.NoError(t, waitErr(t, h2))
}

func TestQueue_PanicIsContainedAsError(t *testing.T) {
	q := New(0, nil)
	defer q.Close()

	h1 := q.Submit(func(context.Context) error { panic("bad task") })
	h2 := q.Submit(func(context.Context) error { return nil })

	assert.Error(t, waitErr(t, h1))
	assert.NoError(t, waitErr(t, h2))
}

func TestQueue_CloseSettlesPendingTasks(t *testing.T) {
	q := New(0, nil)

	blocker := make(chan struct{})
	running := make(chan struct{})
	h1 := q.Submit(func(ctx context.Context) error {
		close(running)
		select {
		case <-blocker:
		case <-ctx.Done():
		}
		return ctx.Err()
	})
	h2 := q.Submit(func(context.Context) error { return nil })

	<-running
	q.Close()

	// In-flight task sees its context cancelled.
	assert.ErrorIs(t, waitErr(t, h1), context.Canceled)
	// Pending task never runs and settles with the closed sentinel.
	assert.ErrorIs(t, waitErr(t, h2), ErrQueueClosed)
	close(blocker)
}

func TestQueue_SubmitAfterCloseFailsImmediately(t *testing.T) {
	q := New(0, nil)
	q.Close()

	h := q.Submit(func(context.Context) error { return nil })
	assert.ErrorIs(t, waitErr(t, h), ErrQueueClosed)
}

func TestQueue_CloseIsIdempotent(t *testing.T) {
	q := New(0, nil)
	q.Close()
	q.Close()
}

func TestQueue_LenCountsPending(t *testing.T) {
	q := New(0, nil)
	defer q.Close()

	blocker := make(chan struct{})
	running := make(chan struct{})
	q.Submit(func(ctx context.Context) error {
		close(running)
		select {
		case <-blocker:
		case <-ctx.Done():
		}
		return nil
	})
	<-running

	q.Submit(func(context.Context) error { return nil })
	q.Submit(func(context.Context) error { return nil })
	assert.Equal(t, 2, q.Len())
	close(blocker)
}

// ABOUTME: Tests for the gateway event broadcaster fan-out
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, slow subscribers

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitEvent(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBroadcaster_SingleSubscriberReceivesEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background())

	b.Publish(TypeSessionStatus, map[string]string{"id": "work"})

	ev := waitEvent(t, ch)
	assert.Equal(t, TypeSessionStatus, ev.Type)
}

func TestBroadcaster_AllSubscribersReceiveEveryEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(context.Background())
	ch2, _ := b.Subscribe(context.Background())
	ch3, _ := b.Subscribe(context.Background())

	b.Publish(TypeSessionQR, map[string]string{"id": "work", "qr": "code"})

	for i, ch := range []<-chan *Event{ch1, ch2, ch3} {
		ev := waitEvent(t, ch)
		assert.Equal(t, TypeSessionQR, ev.Type, "subscriber %d got wrong event", i)
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background())
	b.Unsubscribe(subID)

	_, open := <-ch
	assert.False(t, open)

	// Unsubscribing twice is a no-op.
	b.Unsubscribe(subID)
}

func TestBroadcaster_ContextCancellationUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	// Never drained; fills up and starts dropping.
	b.Subscribe(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish(TypeConversationUpdate, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBroadcaster_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch, _ := b.Subscribe(context.Background())
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(TypeBotTyping, nil)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	b.Close()
	wg.Wait()
}

func TestBroadcaster_CloseClosesAllChannels(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(context.Background())
	ch2, _ := b.Subscribe(context.Background())

	b.Close()

	_, open1 := <-ch1
	_, open2 := <-ch2
	assert.False(t, open1)
	assert.False(t, open2)
}

// ABOUTME: Tests for the reading event broadcaster
// ABOUTME: Covers fan-out, per-system isolation, slow subscriber drops, unsubscribe and close

package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvent(id, sensorSystemID string) *Event {
	return &Event{
		ID:             id,
		SensorSystemID: sensorSystemID,
		Timestamp:      time.Now().UTC(),
		Temperature:    21.5,
		Humidity:       40,
		Pressure:       1013.2,
	}
}

func receive(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "sys-1")
	ch2, _ := b.Subscribe(t.Context(), "sys-1")

	b.Publish("sys-1", makeEvent("r1", "sys-1"), makeEvent("r2", "sys-1"))

	for _, ch := range []<-chan *Event{ch1, ch2} {
		assert.Equal(t, "r1", receive(t, ch).ID)
		assert.Equal(t, "r2", receive(t, ch).ID)
	}
}

func TestBroadcaster_SystemsIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "sys-1")
	ch2, _ := b.Subscribe(t.Context(), "sys-2")

	b.Publish("sys-2", makeEvent("r1", "sys-2"))

	assert.Equal(t, "r1", receive(t, ch2).ID)
	select {
	case ev := <-ch1:
		t.Fatalf("sys-1 subscriber got %v", ev)
	default:
	}
}

func TestBroadcaster_PublishWithoutSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	assert.NotPanics(t, func() { b.Publish("nobody", makeEvent("r1", "nobody")) })
}

func TestBroadcaster_SlowSubscriberDrops(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "sys-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize+10; i++ {
			b.Publish("sys-1", makeEvent("r", "sys-1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "sys-1")
	assert.Equal(t, 1, b.SubscriberCount("sys-1"))

	b.Unsubscribe("sys-1", subID)
	b.Unsubscribe("sys-1", subID)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, b.SubscriberCount("sys-1"))
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "sys-1")
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Eventually(t, func() bool { return b.SubscriberCount("sys-1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(nil)

	ch, _ := b.Subscribe(t.Context(), "sys-1")
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(t.Context(), "sys-1")
	_, ok = <-late
	assert.False(t, ok)
	assert.NotPanics(t, func() { b.Publish("sys-1", makeEvent("r1", "sys-1")) })
}

func TestBroadcaster_ConcurrentPublishAndCancel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ch, _ := b.Subscribe(ctx, "sys-1")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish("sys-1", makeEvent("r", "sys-1"))
			}
			cancel()
		}()
	}
	wg.Wait()
}

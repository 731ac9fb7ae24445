// ABOUTME: Tests for the conversation Broadcaster fan-out
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, concurrency

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clonepilot/internal/directline"
)

func makeEvent(id, contactID string) *Event {
	return &Event{
		ContactID:      contactID,
		ConversationID: "conv-" + contactID,
		Direction:      DirectionInbound,
		Activity: directline.Activity{
			ID:   id,
			Type: directline.ActivityTypeMessage,
			Text: "hello from " + id,
		},
		At: time.Now(),
	}
}

func TestBroadcaster_SingleSubscriberReceivesEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "c1")
	b.Publish(makeEvent("evt-1", "c1"))

	select {
	case received := <-ch:
		assert.Equal(t, "evt-1", received.Activity.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_MultipleSubscribersReceiveSameEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	chans := []<-chan *Event{}
	for range 3 {
		ch, _ := b.Subscribe(ctx, "c1")
		chans = append(chans, ch)
	}
	assert.Equal(t, 3, b.Subscribers("c1"))

	b.Publish(makeEvent("evt-2", "c1"))

	for i, ch := range chans {
		select {
		case received := <-ch:
			assert.Equal(t, "evt-2", received.Activity.ID)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_DifferentContactsAreIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, "c1")
	ch2, _ := b.Subscribe(ctx, "c2")

	b.Publish(makeEvent("evt-3", "c1"))

	select {
	case received := <-ch1:
		assert.Equal(t, "evt-3", received.Activity.ID)
	case <-time.After(time.Second):
		t.Fatal("c1 subscriber timed out")
	}

	select {
	case <-ch2:
		t.Fatal("c2 subscriber received c1 event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	_, _ = b.Subscribe(ctx, "c1") // never read
	ch2, _ := b.Subscribe(ctx, "c1")

	done := make(chan struct{})
	go func() {
		for range 100 {
			b.Publish(makeEvent("evt-overflow", "c1"))
		}
		close(done)
	}()

	received := 0
	timeout := time.After(2 * time.Second)
	for {
		select {
		case <-ch2:
			received++
		case <-done:
			assert.Greater(t, received+len(ch2), 0, "fast consumer should receive events")
			return
		case <-timeout:
			t.Fatal("publisher blocked on a slow subscriber")
		}
	}
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "c1")
	assert.Equal(t, 1, b.Subscribers("c1"))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
	assert.Equal(t, 0, b.Subscribers("c1"))
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "c1")
	b.Unsubscribe("c1", subID)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing should not panic
	b.Publish(makeEvent("evt-after-unsub", "c1"))
}

func TestBroadcaster_CloseClosesAllSubscriptions(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(t.Context(), "c1")
	ch2, _ := b.Subscribe(t.Context(), "c2")

	b.Close()

	for i, ch := range []<-chan *Event{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	for range 10 {
		wg.Go(func() {
			subCtx, subCancel := context.WithCancel(ctx)
			defer subCancel()
			ch, _ := b.Subscribe(subCtx, "busy")
			for range 5 {
				select {
				case <-ch:
				case <-time.After(200 * time.Millisecond):
					return
				}
			}
		})
	}

	for range 10 {
		wg.Go(func() {
			for range 10 {
				b.Publish(makeEvent("concurrent-evt", "busy"))
			}
		})
	}

	wg.Wait()
	cancel()
}

func TestBroadcaster_SubscribeReturnsUniqueIDs(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	_, id1 := b.Subscribe(ctx, "c1")
	_, id2 := b.Subscribe(ctx, "c1")
	_, id3 := b.Subscribe(ctx, "c2")

	require.NotEqual(t, id1, id2)
	require.NotEqual(t, id1, id3)
	require.NotEqual(t, id2, id3)
}

func TestBroadcaster_PublishWithoutSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	b.Publish(makeEvent("evt-nowhere", "nobody-listening"))
}

// ABOUTME: Tests for the chat event broadcaster fan-out
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, slow subscribers

package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/foyer-chat/foyer/internal/timeline"
)

func makeMessageEvent(eventID string) Event {
	return Event{
		Type: EventMessage,
		Message: &timeline.Message{
			ID:     id.EventID(eventID),
			RoomID: "!room:example.org",
			Sender: timeline.SenderAgent,
			Body:   "hello from " + eventID,
		},
	}
}

func TestBroadcaster_SingleSubscriberReceivesEvent(t *testing.T) {
	b := newBroadcaster()
	defer b.closeAll()

	ch, _ := b.subscribe(t.Context())

	b.publish(makeMessageEvent("$evt-1"))

	select {
	case received := <-ch:
		require.Equal(t, EventMessage, received.Type)
		assert.Equal(t, id.EventID("$evt-1"), received.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_MultipleSubscribersReceiveSameEvent(t *testing.T) {
	b := newBroadcaster()
	defer b.closeAll()

	ch1, _ := b.subscribe(t.Context())
	ch2, _ := b.subscribe(t.Context())
	ch3, _ := b.subscribe(t.Context())

	b.publish(makeMessageEvent("$evt-2"))

	for i, ch := range []<-chan Event{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, id.EventID("$evt-2"), received.Message.ID, "subscriber %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := newBroadcaster()
	defer b.closeAll()

	ch, subID := b.subscribe(t.Context())
	b.unsubscribe(subID)

	select {
	case _, open := <-ch:
		assert.False(t, open, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	// Publishing after unsubscribe must not panic.
	b.publish(makeMessageEvent("$evt-3"))
}

func TestBroadcaster_ContextCancelCleansUp(t *testing.T) {
	b := newBroadcaster()
	defer b.closeAll()

	ctx, cancel := context.WithCancel(t.Context())
	ch, _ := b.subscribe(ctx)
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBroadcaster_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := newBroadcaster()
	defer b.closeAll()

	ch, _ := b.subscribe(t.Context())

	// Fill the buffer past capacity without draining. publish must return.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.publish(makeMessageEvent(fmt.Sprintf("$evt-%d", i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The buffered prefix is intact and in order.
	for i := 0; i < subscriberBufferSize; i++ {
		received := <-ch
		assert.Equal(t, id.EventID(fmt.Sprintf("$evt-%d", i)), received.Message.ID)
	}
	select {
	case evt := <-ch:
		t.Fatalf("expected overflow to be dropped, got %v", evt.Message.ID)
	default:
	}
}

func TestBroadcaster_CloseAllClosesEverySubscriber(t *testing.T) {
	b := newBroadcaster()

	ch1, _ := b.subscribe(t.Context())
	ch2, _ := b.subscribe(t.Context())
	b.closeAll()

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case _, open := <-ch:
			assert.False(t, open, "subscriber %d channel should be closed", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out waiting for close", i)
		}
	}
}

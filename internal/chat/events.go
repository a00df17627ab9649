// ABOUTME: Chat event stream types and in-memory fan-out to subscribers
// ABOUTME: Publishes messages, connection changes, and errors without blocking the sync loop

package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/foyer-chat/foyer/internal/timeline"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// EventType discriminates entries on the chat event stream.
type EventType string

const (
	// EventMessage carries a timeline message for display.
	EventMessage EventType = "message"
	// EventConnection reports the sync stream going live or dropping.
	EventConnection EventType = "connection"
	// EventError reports a failed operation with customer-facing text.
	EventError EventType = "error"
)

// Event is one entry on the chat event stream. The payload field matching
// Type is set; the others are zero.
type Event struct {
	Type EventType

	Message   *timeline.Message
	Connected bool
	Error     *ErrorEvent
}

// ErrorEvent pairs a failed operation with text fit for the customer surface.
type ErrorEvent struct {
	// Department is the display name of the department involved, when known.
	Department string
	// Message is ready to show to the customer.
	Message string
	// Err is the underlying error for logs and tests.
	Err error
}

// broadcaster provides in-memory pub/sub for chat events. Subscribers receive
// every event; slow subscribers drop events rather than block the sync loop.
type broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	logger *slog.Logger
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subs:   make(map[string]chan Event),
		logger: slog.Default().With("component", "chat"),
	}
}

// subscribe registers a subscriber and returns its channel plus a
// subscription ID for later unsubscription. The subscription is
// automatically cleaned up when ctx is cancelled.
func (b *broadcaster) subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	b.subs[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.unsubscribe(subID)
	}()

	return ch, subID
}

// unsubscribe removes a subscription and closes its channel.
func (b *broadcaster) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[subID]
	if !ok {
		return
	}
	delete(b.subs, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// publish sends an event to all subscribers. Non-blocking: events are
// dropped for subscribers whose channels are full.
func (b *broadcaster) publish(evt Event) {
	b.mu.RLock()
	// Copy subscriber channels under read lock to avoid holding it during sends
	targets := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- evt:
			// Sent
		default:
			// Subscriber channel full, drop the event for this subscriber
			b.logger.Debug("dropped event for slow subscriber", "type", evt.Type)
		}
	}
}

// closeAll shuts down the broadcaster and closes all subscriber channels.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subs {
		close(ch)
		delete(b.subs, subID)
	}
}

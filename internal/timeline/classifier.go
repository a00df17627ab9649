// ABOUTME: Classifies raw timeline events into customer/agent messages for delivery
// ABOUTME: Drops foreign-room events, duplicates, notices, and presync noise for new customers

package timeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/foyer-chat/foyer/internal/dedupe"
	"github.com/foyer-chat/foyer/internal/metrics"
)

// Sender attributes a message to one side of the conversation.
type Sender string

const (
	// SenderCustomer marks messages sent by the guest identity.
	SenderCustomer Sender = "customer"
	// SenderAgent marks messages sent by anyone else in the room.
	SenderAgent Sender = "agent"
)

// DeliveryStatus tracks how far a message has travelled.
type DeliveryStatus string

const (
	// DeliverySent marks the sender's own copy: accepted by the server but
	// not yet observed on the room timeline.
	DeliverySent DeliveryStatus = "sent"
	// DeliveryDelivered marks a message observed on the room timeline.
	DeliveryDelivered DeliveryStatus = "delivered"
)

// Message is a classified timeline message ready for the embedding
// application.
type Message struct {
	ID        id.EventID
	RoomID    id.RoomID
	Sender    Sender
	SenderID  id.UserID
	Body      string
	Timestamp time.Time
	Delivery  DeliveryStatus
}

// Classifier filters and attributes timeline events. One instance lives for
// the whole client lifetime, so its dedup memory spans room switches and
// sync restarts.
//
// Rules, in order:
//  1. events outside the active room are dropped silently
//  2. non-message events and m.notice system text never reach the app
//  3. before the first incremental sync, events are held back for new
//     customers (their initial batch only replays what they already saw)
//  4. each event id is delivered at most once per process lifetime
type Classifier struct {
	seen         *dedupe.Set
	activeRoom   func() id.RoomID
	guest        id.UserID
	returning    atomic.Bool
	synchronized atomic.Bool
	emit         func(Message)
	logger       *slog.Logger
}

// NewClassifier wires a classifier to the active-room source and the
// delivery callback. The guest user id decides customer/agent attribution.
func NewClassifier(seen *dedupe.Set, activeRoom func() id.RoomID, guest id.UserID, emit func(Message)) *Classifier {
	return &Classifier{
		seen:       seen,
		activeRoom: activeRoom,
		guest:      guest,
		emit:       emit,
		logger:     slog.Default().With("component", "timeline"),
	}
}

// SetReturning flips the returning-customer flag that controls presync
// holdback.
func (c *Classifier) SetReturning(returning bool) {
	c.returning.Store(returning)
}

// MarkSynchronized records that the initial sync batch is over; live events
// from here on are fresh and always delivered.
func (c *Classifier) MarkSynchronized() {
	c.synchronized.Store(true)
}

// Synchronized reports whether the initial sync batch has completed.
func (c *Classifier) Synchronized() bool {
	return c.synchronized.Load()
}

// HandleEvent processes one live event from sync.
func (c *Classifier) HandleEvent(ctx context.Context, evt *event.Event) {
	room := c.activeRoom()
	if room == "" || evt.RoomID != room {
		metrics.EventDropped("foreign_room")
		c.logger.Debug("dropping event from foreign room",
			"event_id", evt.ID, "room_id", evt.RoomID, "active_room", room)
		return
	}

	msg, ok := c.classify(evt)
	if !ok {
		metrics.EventDropped("non_message")
		return
	}

	if !c.synchronized.Load() && !c.returning.Load() {
		// New customers already saw everything the initial batch replays.
		metrics.EventDropped("presync")
		c.logger.Debug("holding back presync event", "event_id", evt.ID)
		return
	}

	if c.seen.CheckAndMark(evt.ID.String()) {
		metrics.EventDropped("duplicate")
		return
	}

	metrics.MessageDelivered(string(msg.Sender))
	c.emit(msg)
}

// Backfill classifies a backward history page (newest first, as fetched) and
// returns the deliverable messages in chronological order. Delivered ids are
// marked, so the same events cannot arrive again through live sync.
func (c *Classifier) Backfill(roomID id.RoomID, events []*event.Event) []Message {
	out := make([]Message, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		evt := events[i]
		// History responses may omit room_id; an explicit mismatch is foreign.
		if evt.RoomID != "" && evt.RoomID != roomID {
			metrics.EventDropped("foreign_room")
			continue
		}
		msg, ok := c.classify(evt)
		if !ok {
			metrics.EventDropped("non_message")
			continue
		}
		if c.seen.CheckAndMark(evt.ID.String()) {
			metrics.EventDropped("duplicate")
			continue
		}
		msg.RoomID = roomID
		metrics.MessageDelivered(string(msg.Sender))
		out = append(out, msg)
	}
	return out
}

// classify extracts a deliverable message from an event. Notices and
// non-message events yield ok=false.
func (c *Classifier) classify(evt *event.Event) (Message, bool) {
	content := messageContent(evt)
	if content == nil {
		return Message{}, false
	}
	if content.MsgType == event.MsgNotice {
		return Message{}, false
	}

	sender := SenderAgent
	if evt.Sender == c.guest {
		sender = SenderCustomer
	}
	return Message{
		ID:        evt.ID,
		RoomID:    evt.RoomID,
		Sender:    sender,
		SenderID:  evt.Sender,
		Body:      content.Body,
		Timestamp: time.UnixMilli(evt.Timestamp),
		Delivery:  DeliveryDelivered,
	}, true
}

// messageContent returns the parsed message content, parsing the raw
// payload when needed (history events arrive unparsed).
func messageContent(evt *event.Event) *event.MessageEventContent {
	if evt.Content.Parsed == nil {
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			return nil
		}
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return nil
	}
	return content
}

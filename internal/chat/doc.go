// Package chat is the customer-facing facade over sessions, rooms, and the
// message timeline.
//
// # Overview
//
// The chat package is the central coordinator of foyer. It owns all major
// components: the guest identity provisioner, the room lifecycle manager,
// the timeline classifier, the sync loop, and the event stream subscribers
// consume.
//
// # Client Struct
//
// The Client struct is the main entry point:
//
//	type Client struct {
//	    store        session.Store
//	    provisioner  Provisioner
//	    manager      *rooms.Manager
//	    classifier   *timeline.Classifier
//	    events       *broadcaster
//	    // ... and more
//	}
//
// # Conversation Lifecycle
//
// Opening a conversation runs through ResumeOrCreate:
//
//  1. Provision or load the guest identity
//  2. Resume the department's recorded room, repairing as little as possible
//  3. Create a fresh room only when the recorded one is unusable
//  4. Deliver the opening message on newly created rooms
//  5. Start the sync loop
//
// SwitchDepartment and NewConversation follow the same shape after leaving
// the rooms they abandon. StartFreshConversation is lighter: it only drops
// the in-memory room pointer so the next operation re-resolves from the
// persisted record.
//
// # Event Stream
//
// Subscribers receive a single ordered stream of typed events:
//
//	ch, subID := client.Subscribe(ctx)
//	for evt := range ch {
//	    switch evt.Type {
//	    case chat.EventMessage:    // evt.Message
//	    case chat.EventConnection: // evt.Connected
//	    case chat.EventError:      // evt.Error
//	    }
//	}
//
// Slow subscribers drop events rather than block the sync loop.
//
// Messages, ConnectionState, and Errors return single-kind feeds for
// consumers that do not want to switch on the event type. Each delivers the
// same entries the combined stream carries for its kind, in the same order.
//
// # Reconnect
//
// ValidateCurrentRoom checks the recorded room pointer when a customer comes
// back. A stale pointer triggers Recover, which abandons every recorded room
// while keeping the guest identity, so the next ResumeOrCreate starts clean.
package chat

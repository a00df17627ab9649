// ABOUTME: Customer-facing chat client tying sessions, rooms, and the timeline together
// ABOUTME: Owns the guest identity, the sync loop, and the chat event stream

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/foyer-chat/foyer/internal/config"
	"github.com/foyer-chat/foyer/internal/dedupe"
	"github.com/foyer-chat/foyer/internal/guest"
	"github.com/foyer-chat/foyer/internal/matrix"
	"github.com/foyer-chat/foyer/internal/metrics"
	"github.com/foyer-chat/foyer/internal/rooms"
	"github.com/foyer-chat/foyer/internal/session"
	"github.com/foyer-chat/foyer/internal/spaces"
	"github.com/foyer-chat/foyer/internal/timeline"
)

// ErrNoActiveRoom is returned by operations that need an open conversation
// when none is active.
var ErrNoActiveRoom = rooms.ErrNoActiveRoom

// GuestAPI is the guest-account client surface the chat facade drives.
// *matrix.Client satisfies it.
type GuestAPI interface {
	rooms.RoomAPI
	Whoami(ctx context.Context) (id.UserID, error)
	SendMessage(ctx context.Context, roomID id.RoomID, body string) (id.EventID, error)
	History(ctx context.Context, roomID id.RoomID, from string, limit int) (*matrix.HistoryPage, error)
	OnMessage(handler func(ctx context.Context, evt *event.Event)) error
	OnSyncBatch(hook func(since string)) error
	Sync(ctx context.Context) error
	StopSync()
}

// Provisioner yields the guest identity, creating it on first use.
type Provisioner interface {
	EnsureGuestIdentity(ctx context.Context, displayName string) (*session.GuestIdentity, error)
}

// DepartmentInfo describes a department for display on the customer surface.
type DepartmentInfo struct {
	ID          string
	Name        string
	Description string
}

// Client is the high-level chat facade for one customer. It provisions the
// guest identity on first use, drives room lifecycle through the manager,
// runs the sync loop, and fans classified timeline messages out to
// subscribers.
//
// All operations are safe for concurrent use, but the client models a single
// customer: one identity, at most one active conversation.
type Client struct {
	store        session.Store
	provisioner  Provisioner
	manager      *rooms.Manager
	departments  []DepartmentInfo
	historyLimit int
	events       *broadcaster
	logger       *slog.Logger

	// newGuestClient builds the homeserver client for a provisioned
	// identity. Swappable in tests.
	newGuestClient func(identity *session.GuestIdentity) (GuestAPI, error)

	mu         sync.Mutex
	guest      GuestAPI
	classifier *timeline.Classifier
	seen       *dedupe.Set
	syncCancel context.CancelFunc
	syncDone   chan struct{}

	running   atomic.Bool
	connected atomic.Bool
}

// New builds a Client from configuration plus a session store. The store is
// owned by the caller and is not closed by Close.
func New(cfg *config.Config, store session.Store) (*Client, error) {
	departments := make([]*rooms.Department, 0, len(cfg.Departments))
	infos := make([]DepartmentInfo, 0, len(cfg.Departments))
	for _, dc := range cfg.Departments {
		responder, err := matrix.NewClientWithToken(cfg.Homeserver.URL, id.UserID(dc.BotUserID), dc.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("building %s responder client: %w", dc.ID, err)
		}
		invitees := make([]id.UserID, 0, len(dc.Responders))
		for _, responderID := range dc.Responders {
			invitees = append(invitees, id.UserID(responderID))
		}
		departments = append(departments, &rooms.Department{
			ID:          dc.ID,
			Name:        dc.Name,
			Description: dc.Description,
			Responder:   responder,
			Invitees:    invitees,
		})
		infos = append(infos, DepartmentInfo{ID: dc.ID, Name: dc.Name, Description: dc.Description})
	}

	var organizer rooms.Organizer
	if cfg.Spaces.Enabled {
		spaceClient, err := matrix.NewClientWithToken(cfg.Homeserver.URL, id.UserID(cfg.Spaces.BotUserID), cfg.Spaces.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("building space client: %w", err)
		}
		organizer = spaces.New(spaceClient, spaces.Config{
			RootName:  cfg.Spaces.RootName,
			Server:    cfg.Homeserver.ServerName,
			StatePath: cfg.Spaces.StatePath,
		})
	}

	return &Client{
		store:        store,
		provisioner:  guest.NewProvisioner(store, cfg.Homeserver.URL, cfg.Guest.RegistrationSharedSecret),
		manager:      rooms.NewManager(store, departments, organizer),
		departments:  infos,
		historyLimit: cfg.Timeline.HistoryLimit,
		events:       newBroadcaster(),
		logger:       slog.Default().With("component", "chat"),
		newGuestClient: func(identity *session.GuestIdentity) (GuestAPI, error) {
			return matrix.NewClientWithToken(identity.Homeserver, identity.UserID, identity.AccessToken)
		},
	}, nil
}

// Subscribe registers a subscriber on the chat event stream. The returned
// channel receives messages, connection changes, and errors until ctx is
// cancelled or Unsubscribe is called with the returned ID.
func (c *Client) Subscribe(ctx context.Context) (<-chan Event, string) {
	return c.events.subscribe(ctx)
}

// Unsubscribe removes a subscription and closes its channel. It accepts ids
// returned by Subscribe and by the typed feeds.
func (c *Client) Unsubscribe(subID string) {
	c.events.unsubscribe(subID)
}

// Messages returns a feed carrying only timeline messages, at most once per
// event id for the client's lifetime.
func (c *Client) Messages(ctx context.Context) (<-chan timeline.Message, string) {
	events, subID := c.events.subscribe(ctx)
	out := make(chan timeline.Message, subscriberBufferSize)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.Type != EventMessage || ev.Message == nil {
				continue
			}
			select {
			case out <- *ev.Message:
			default:
				c.logger.Debug("dropping message for slow subscriber", "sub_id", subID)
			}
		}
	}()
	return out, subID
}

// ConnectionState returns a feed reporting the sync stream going live (true)
// or dropping (false).
func (c *Client) ConnectionState(ctx context.Context) (<-chan bool, string) {
	events, subID := c.events.subscribe(ctx)
	out := make(chan bool, subscriberBufferSize)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.Type != EventConnection {
				continue
			}
			select {
			case out <- ev.Connected:
			default:
				c.logger.Debug("dropping connection change for slow subscriber", "sub_id", subID)
			}
		}
	}()
	return out, subID
}

// Errors returns a feed of failed operations with customer-facing text.
func (c *Client) Errors(ctx context.Context) (<-chan ErrorEvent, string) {
	events, subID := c.events.subscribe(ctx)
	out := make(chan ErrorEvent, subscriberBufferSize)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.Type != EventError || ev.Error == nil {
				continue
			}
			select {
			case out <- *ev.Error:
			default:
				c.logger.Debug("dropping error event for slow subscriber", "sub_id", subID)
			}
		}
	}()
	return out, subID
}

// Departments lists the configured departments in configuration order.
func (c *Client) Departments() []DepartmentInfo {
	return c.departments
}

// CurrentRoom returns the active room id, empty when no conversation is
// active.
func (c *Client) CurrentRoom() id.RoomID {
	return c.manager.CurrentRoom()
}

// Connected reports whether the sync stream is currently live.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Session returns the current session record.
func (c *Client) Session(ctx context.Context) (*session.Session, error) {
	return c.store.Get(ctx)
}

// ResumeOrCreate opens a conversation with the department, reusing the
// recorded room when it is still usable and creating a fresh one otherwise.
// On newly created rooms the profile's opening message is delivered once.
// The sync loop is started if it is not already running.
func (c *Client) ResumeOrCreate(ctx context.Context, profile session.Profile, departmentID string) (*rooms.Result, error) {
	return c.openConversation(ctx, profile, departmentID, func(ctx context.Context, g GuestAPI) (*rooms.Result, error) {
		return c.manager.ResumeOrCreate(ctx, g, profile, departmentID)
	})
}

// SwitchDepartment leaves the current department's room and opens a
// conversation with another department.
func (c *Client) SwitchDepartment(ctx context.Context, profile session.Profile, departmentID string) (*rooms.Result, error) {
	return c.openConversation(ctx, profile, departmentID, func(ctx context.Context, g GuestAPI) (*rooms.Result, error) {
		return c.manager.SwitchDepartment(ctx, g, profile, departmentID)
	})
}

// NewConversation abandons the department's current room and opens a
// brand-new conversation with it.
func (c *Client) NewConversation(ctx context.Context, profile session.Profile, departmentID string) (*rooms.Result, error) {
	return c.openConversation(ctx, profile, departmentID, func(ctx context.Context, g GuestAPI) (*rooms.Result, error) {
		return c.manager.NewConversation(ctx, g, profile, departmentID)
	})
}

// StartFreshConversation drops the in-memory active-room pointer and nothing
// else. The next operation re-resolves the conversation from the persisted
// record instead of trusting memory.
func (c *Client) StartFreshConversation() {
	c.manager.Forget()
}

func (c *Client) openConversation(ctx context.Context, profile session.Profile, departmentID string,
	op func(ctx context.Context, g GuestAPI) (*rooms.Result, error)) (*rooms.Result, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	// Read the record before any writes touch it: Returning reflects the
	// state at connect, not mid-operation.
	s, err := c.store.Get(ctx)
	if err != nil {
		return nil, err
	}

	g, err := c.ensureGuestLocked(ctx, profile.DisplayName)
	if err != nil {
		c.emitError(departmentID, err)
		return nil, err
	}
	c.classifier.SetReturning(s.Returning)

	res, err := op(ctx, g)
	if err != nil {
		c.emitError(departmentID, err)
		return nil, err
	}

	if res.Created && profile.OpeningMessage != "" {
		if _, err := c.sendLocked(ctx, g, res.RoomID, profile.OpeningMessage); err != nil {
			c.logger.Warn("opening message failed", "room_id", res.RoomID, "error", err)
		}
	}

	c.startSyncLocked(g)
	return res, nil
}

// SendMessage posts text to the active room. The room is re-resolved from the
// session record before every send; a pointer that drifted from the record is
// repaired first. The returned message is the sender's own copy for immediate
// display; its sync echo is suppressed.
func (c *Client) SendMessage(ctx context.Context, body string) (*timeline.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.guest == nil {
		return nil, ErrNoActiveRoom
	}
	roomID, err := c.manager.SendableRoom(ctx, c.guest)
	if err != nil {
		if !errors.Is(err, ErrNoActiveRoom) {
			c.emitError("", err)
		}
		return nil, err
	}

	msg, err := c.sendLocked(ctx, c.guest, roomID, body)
	if err != nil {
		c.emitError("", err)
		return nil, err
	}
	return msg, nil
}

func (c *Client) sendLocked(ctx context.Context, g GuestAPI, roomID id.RoomID, body string) (*timeline.Message, error) {
	eventID, err := g.SendMessage(ctx, roomID, body)
	if err != nil {
		return nil, err
	}
	// The message comes back on sync; mark it seen so it is not replayed.
	c.seen.Mark(eventID.String())
	return &timeline.Message{
		ID:        eventID,
		RoomID:    roomID,
		Sender:    timeline.SenderCustomer,
		SenderID:  g.UserID(),
		Body:      body,
		Timestamp: time.Now(),
		Delivery:  timeline.DeliverySent,
	}, nil
}

// LoadHistory fetches recent messages for the active room, oldest first.
// Fetched events are marked seen so the live stream will not replay them.
func (c *Client) LoadHistory(ctx context.Context) ([]timeline.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	roomID := c.manager.CurrentRoom()
	if roomID == "" || c.guest == nil {
		return nil, ErrNoActiveRoom
	}

	page, err := c.guest.History(ctx, roomID, "", c.historyLimit)
	if err != nil {
		c.emitError("", err)
		return nil, err
	}
	return c.classifier.Backfill(roomID, page.Events), nil
}

// ValidateCurrentRoom checks the recorded room pointer on reconnect. When the
// pointer is stale the session is recovered and false is returned; the next
// ResumeOrCreate starts over. Without a stored identity there is nothing to
// validate. On success the sync loop is started.
func (c *Client) ValidateCurrentRoom(ctx context.Context, departmentHint string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok, err := c.storedGuestLocked(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	valid, err := c.manager.ValidateCurrentRoom(ctx, g, departmentHint)
	if err != nil {
		return false, err
	}
	if valid {
		c.startSyncLocked(g)
	}
	return valid, nil
}

// Recover abandons every recorded room while keeping the guest identity and
// conversation counters.
func (c *Client) Recover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok, err := c.storedGuestLocked(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return c.manager.Recover(ctx, g)
}

// Reset discards the whole session record, guest identity included. The next
// conversation provisions a brand-new guest.
func (c *Client) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopSyncLocked()
	if _, err := c.store.Reset(ctx); err != nil {
		return err
	}
	c.guest = nil
	c.classifier = nil
	c.seen = nil
	c.manager.Forget()
	metrics.SessionReset()
	c.logger.Info("session reset")
	return nil
}

// Close stops the sync loop and closes all subscriber channels. The session
// store stays open for its owner.
func (c *Client) Close() {
	c.mu.Lock()
	c.stopSyncLocked()
	c.mu.Unlock()
	c.events.closeAll()
}

// ensureGuestLocked returns the guest client, provisioning the identity on
// first use.
func (c *Client) ensureGuestLocked(ctx context.Context, displayName string) (GuestAPI, error) {
	if c.guest != nil {
		return c.guest, nil
	}
	identity, err := c.provisioner.EnsureGuestIdentity(ctx, displayName)
	if err != nil {
		return nil, err
	}
	return c.adoptGuestLocked(ctx, identity)
}

// storedGuestLocked returns the guest client for an already-provisioned
// identity. ok is false when the record holds no identity.
func (c *Client) storedGuestLocked(ctx context.Context) (g GuestAPI, ok bool, err error) {
	if c.guest != nil {
		return c.guest, true, nil
	}
	s, err := c.store.Get(ctx)
	if err != nil {
		return nil, false, err
	}
	if s.Guest == nil {
		return nil, false, nil
	}
	g, err = c.adoptGuestLocked(ctx, s.Guest)
	if err != nil {
		return nil, false, err
	}
	c.classifier.SetReturning(s.Returning)
	return g, true, nil
}

// adoptGuestLocked builds the homeserver client for an identity, verifies the
// stored token still authenticates as that user, and wires the timeline
// classifier to its sync stream.
func (c *Client) adoptGuestLocked(ctx context.Context, identity *session.GuestIdentity) (GuestAPI, error) {
	g, err := c.newGuestClient(identity)
	if err != nil {
		return nil, fmt.Errorf("building guest client: %w", err)
	}
	whoami, err := g.Whoami(ctx)
	if err != nil {
		return nil, fmt.Errorf("verifying guest credentials: %w", err)
	}
	if whoami != identity.UserID {
		return nil, fmt.Errorf("guest credentials belong to %s, record names %s", whoami, identity.UserID)
	}

	c.seen = dedupe.NewSet(0)
	c.classifier = timeline.NewClassifier(c.seen, c.manager.CurrentRoom, identity.UserID, func(msg timeline.Message) {
		m := msg
		c.events.publish(Event{Type: EventMessage, Message: &m})
	})
	if err := g.OnMessage(c.classifier.HandleEvent); err != nil {
		return nil, fmt.Errorf("wiring message handler: %w", err)
	}
	err = g.OnSyncBatch(func(since string) {
		if !c.connected.Swap(true) {
			c.events.publish(Event{Type: EventConnection, Connected: true})
		}
		// The initial batch has an empty since token. Events arriving
		// after it are live traffic, not replay.
		if since != "" {
			c.classifier.MarkSynchronized()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("wiring sync hook: %w", err)
	}

	c.guest = g
	return g, nil
}

// startSyncLocked launches the sync loop for the guest if it is not already
// running. The loop runs until Close, Reset, or a fatal sync error.
func (c *Client) startSyncLocked(g GuestAPI) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.syncCancel = cancel
	c.syncDone = done

	go func() {
		defer close(done)
		defer c.running.Store(false)
		err := g.Sync(ctx)
		if c.connected.Swap(false) {
			c.events.publish(Event{Type: EventConnection, Connected: false})
		}
		if err != nil && ctx.Err() == nil {
			c.logger.Error("sync loop ended", "error", err)
			c.emitError("", err)
		}
	}()
}

func (c *Client) stopSyncLocked() {
	if c.syncCancel == nil {
		return
	}
	c.syncCancel()
	if c.guest != nil {
		c.guest.StopSync()
	}
	<-c.syncDone
	c.syncCancel = nil
	c.syncDone = nil
}

// emitError publishes a failed operation with customer-facing text. The
// department id is resolved to its display name when known.
func (c *Client) emitError(departmentID string, err error) {
	name := departmentID
	if dept, ok := c.manager.Department(departmentID); ok {
		name = dept.Name
	}
	c.events.publish(Event{Type: EventError, Error: &ErrorEvent{
		Department: name,
		Message:    matrix.UserMessage(err, name),
		Err:        err,
	}})
}

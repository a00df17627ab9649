// ABOUTME: Room lifecycle manager: resume, silent rejoin, re-invite, or create
// ABOUTME: Owns the active-room pointer and keeps the session store in step with the server

package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/foyer-chat/foyer/internal/matrix"
	"github.com/foyer-chat/foyer/internal/metrics"
	"github.com/foyer-chat/foyer/internal/session"
)

// RoomAPI is the slice of the protocol client the manager drives. Both the
// guest client and the department responder clients satisfy it.
type RoomAPI interface {
	UserID() id.UserID
	CreateRoom(ctx context.Context, req matrix.RoomRequest) (id.RoomID, error)
	Invite(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) error
	Join(ctx context.Context, roomID id.RoomID) error
	Leave(ctx context.Context, roomID id.RoomID) error
	Membership(ctx context.Context, roomID id.RoomID, userID id.UserID) (event.Membership, error)
	SendNotice(ctx context.Context, roomID id.RoomID, markdown string) (id.EventID, error)
}

// Organizer files new rooms into a space hierarchy. Failures are logged and
// never block the conversation.
type Organizer interface {
	PlaceRoom(ctx context.Context, roomID id.RoomID, departmentID, departmentName string) error
}

// Department binds a configured department to its privileged responder
// client. The responder creates rooms and re-invites the guest when needed.
type Department struct {
	ID          string
	Name        string
	Description string
	Responder   RoomAPI
	// Invitees are the human responders invited into each room. The
	// responder's own user is skipped automatically.
	Invitees []id.UserID
}

// Resume modes, from least to most repair needed.
const (
	ModeActive    = "active"
	ModeRejoined  = "rejoined"
	ModeReinvited = "reinvited"
	ModeCreated   = "created"
)

// Result reports how a conversation room was obtained.
type Result struct {
	RoomID  id.RoomID
	Mode    string
	Created bool
}

// Manager owns room lifecycle for one customer across all departments.
type Manager struct {
	store       session.Store
	departments map[string]*Department
	organizer   Organizer
	logger      *slog.Logger

	mu      sync.Mutex
	current id.RoomID
}

// NewManager creates a manager over the given departments. The organizer
// may be nil when space filing is disabled.
func NewManager(store session.Store, departments []*Department, organizer Organizer) *Manager {
	byID := make(map[string]*Department, len(departments))
	for _, d := range departments {
		byID[d.ID] = d
	}
	return &Manager{
		store:       store,
		departments: byID,
		organizer:   organizer,
		logger:      slog.Default().With("component", "rooms"),
	}
}

// Department returns a configured department by id.
func (m *Manager) Department(departmentID string) (*Department, bool) {
	d, ok := m.departments[departmentID]
	return d, ok
}

// CurrentRoom returns the active room pointer, empty when no conversation
// is active.
func (m *Manager) CurrentRoom() id.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) setCurrent(roomID id.RoomID) {
	m.mu.Lock()
	m.current = roomID
	m.mu.Unlock()
}

// Forget drops the in-memory active-room pointer, used after a session
// reset discards the record it mirrored.
func (m *Manager) Forget() {
	m.setCurrent("")
}

// ResumeOrCreate returns a usable room for the department, repairing as
// little as possible: verify the recorded room, silently rejoin it, have the
// responder re-invite the guest, and only then create a new room. Transient
// failures propagate unchanged and never condemn a room.
func (m *Manager) ResumeOrCreate(ctx context.Context, guest RoomAPI, profile session.Profile, departmentID string) (*Result, error) {
	dept, ok := m.departments[departmentID]
	if !ok {
		return nil, fmt.Errorf("unknown department %q", departmentID)
	}

	entry, err := m.store.DepartmentRoom(ctx, departmentID)
	switch {
	case err == nil && entry.Status != session.StatusInvalid:
		result, err := m.resume(ctx, guest, dept, entry.RoomID)
		if err != nil {
			return nil, err
		}
		if result != nil {
			if result.Mode == ModeActive {
				m.sendContinuityNotice(ctx, dept, result.RoomID, profile)
			}
			return result, nil
		}
		// The recorded room is beyond repair; fall through to creation.
	case err != nil && !errors.Is(err, session.ErrNotFound):
		return nil, err
	}

	return m.create(ctx, guest, dept, profile)
}

// resume walks the repair ladder for a recorded room. It returns (nil, nil)
// when the room turned out unusable and was marked invalid.
func (m *Manager) resume(ctx context.Context, guest RoomAPI, dept *Department, roomID id.RoomID) (*Result, error) {
	if !wellFormed(roomID) {
		m.logger.Warn("recorded room id malformed, retiring it",
			"department", dept.ID, "room_id", roomID)
		if err := m.store.SetRoomStatus(ctx, dept.ID, roomID, session.StatusInvalid, "malformed room id"); err != nil {
			return nil, err
		}
		return nil, nil
	}

	// Step 1: the room may simply still be ours.
	membership, err := guest.Membership(ctx, roomID, guest.UserID())
	if err == nil && membership == event.MembershipJoin {
		return m.resumed(ctx, dept, roomID, ModeActive, "verified on resume")
	}
	if err != nil && !matrix.RoomGone(err) {
		return nil, err
	}

	// Step 2: silent rejoin covers "left on switch" and pending invites.
	joinErr := guest.Join(ctx, roomID)
	if joinErr == nil {
		m.reinviteResponders(ctx, dept, roomID)
		return m.resumed(ctx, dept, roomID, ModeRejoined, "silently rejoined")
	}
	if !matrix.RoomGone(joinErr) {
		return nil, joinErr
	}

	// Step 3: the responder still holds power in the room and can let the
	// guest back in.
	inviteErr := dept.Responder.Invite(ctx, roomID, guest.UserID(), "resuming conversation")
	if inviteErr == nil {
		joinErr = guest.Join(ctx, roomID)
		if joinErr == nil {
			return m.resumed(ctx, dept, roomID, ModeReinvited, "re-invited and rejoined")
		}
		if !matrix.RoomGone(joinErr) {
			return nil, joinErr
		}
	} else if !matrix.RoomGone(inviteErr) {
		return nil, inviteErr
	}

	// Step 4: nothing worked, the room is gone for good.
	reason := fmt.Sprintf("unusable on resume (%s)", matrix.Classify(joinErr))
	m.logger.Info("recorded room unusable, retiring it",
		"department", dept.ID, "room_id", roomID, "reason", reason)
	if err := m.store.SetRoomStatus(ctx, dept.ID, roomID, session.StatusInvalid, reason); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *Manager) resumed(ctx context.Context, dept *Department, roomID id.RoomID, mode, reason string) (*Result, error) {
	entry, err := m.store.DepartmentRoom(ctx, dept.ID)
	if err != nil {
		return nil, err
	}
	if entry.Status != session.StatusActive || mode != ModeActive {
		if err := m.store.SetRoomStatus(ctx, dept.ID, roomID, session.StatusActive, reason); err != nil {
			return nil, err
		}
	} else {
		room := roomID
		deptID := dept.ID
		if err := m.store.Set(ctx, session.Patch{CurrentRoomID: &room, SelectedDepartment: &deptID}); err != nil {
			return nil, err
		}
	}

	m.setCurrent(roomID)
	metrics.RoomResumed(mode)
	m.logger.Info("conversation resumed",
		"department", dept.ID, "room_id", roomID, "mode", mode)
	return &Result{RoomID: roomID, Mode: mode}, nil
}

// sendContinuityNotice tells the responders a returning customer is back in
// an existing room. Best-effort; the resume never fails on it.
func (m *Manager) sendContinuityNotice(ctx context.Context, dept *Department, roomID id.RoomID, profile session.Profile) {
	s, err := m.store.Get(ctx)
	if err != nil || !s.Returning {
		return
	}
	display := profile.DisplayName
	if display == "" {
		display = "The customer"
	}
	if _, err := dept.Responder.SendNotice(ctx, roomID, fmt.Sprintf("**%s** returned to this conversation.", display)); err != nil {
		m.logger.Debug("sending continuity notice failed", "room_id", roomID, "error", err)
	}
}

// create makes a new conversation room. The responder creates it so it
// keeps the power to re-invite the guest later, the guest accepts the
// invite, and a context notice introduces the customer.
func (m *Manager) create(ctx context.Context, guest RoomAPI, dept *Department, profile session.Profile) (*Result, error) {
	s, err := m.store.Get(ctx)
	if err != nil {
		return nil, err
	}

	invites := []id.UserID{guest.UserID()}
	for _, invitee := range dept.Invitees {
		if invitee == dept.Responder.UserID() || invitee == guest.UserID() {
			continue
		}
		invites = append(invites, invitee)
	}

	roomID, err := dept.Responder.CreateRoom(ctx, matrix.RoomRequest{
		Name:       roomName(profile, dept, s.ConversationCount+1),
		Topic:      roomTopic(dept),
		Preset:     "private_chat",
		Invite:     invites,
		NoFederate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s room: %w", dept.ID, err)
	}

	if err := guest.Join(ctx, roomID); err != nil {
		return nil, fmt.Errorf("joining new %s room: %w", dept.ID, err)
	}

	if err := m.store.RecordNewRoom(ctx, dept.ID, roomID); err != nil {
		return nil, err
	}
	m.setCurrent(roomID)

	if _, err := dept.Responder.SendNotice(ctx, roomID, contextNotice(profile, s, dept)); err != nil {
		m.logger.Warn("sending context notice failed", "room_id", roomID, "error", err)
	}

	if m.organizer != nil {
		if err := m.organizer.PlaceRoom(ctx, roomID, dept.ID, dept.Name); err != nil {
			m.logger.Warn("filing room into spaces failed", "room_id", roomID, "error", err)
		}
	}

	metrics.RoomCreated(dept.ID)
	m.logger.Info("conversation room created", "department", dept.ID, "room_id", roomID)
	return &Result{RoomID: roomID, Mode: ModeCreated, Created: true}, nil
}

// reinviteResponders best-effort re-invites the configured responders after
// the guest rejoined an older room. Responders who are still members make
// the invite fail, which is fine.
func (m *Manager) reinviteResponders(ctx context.Context, dept *Department, roomID id.RoomID) {
	for _, invitee := range dept.Invitees {
		if invitee == dept.Responder.UserID() {
			continue
		}
		if err := dept.Responder.Invite(ctx, roomID, invitee, "conversation resumed"); err != nil {
			m.logger.Debug("re-inviting responder failed",
				"room_id", roomID, "user_id", invitee, "error", err)
		}
	}
}

func roomName(profile session.Profile, dept *Department, conversation int) string {
	display := profile.DisplayName
	if display == "" {
		display = "Customer"
	}
	return fmt.Sprintf("%s (Web) - %s #%d", display, dept.Name, conversation)
}

func roomTopic(dept *Department) string {
	if dept.Description != "" {
		return dept.Description
	}
	return fmt.Sprintf("%s conversation", dept.Name)
}

// contextNotice builds the markdown notice that introduces the customer to
// the responders.
func contextNotice(profile session.Profile, s *session.Session, dept *Department) string {
	display := profile.DisplayName
	if display == "" {
		display = "A customer"
	}

	var b strings.Builder
	if s.Returning {
		fmt.Fprintf(&b, "**%s** is back, talking to %s (conversation #%d).\n", display, dept.Name, s.ConversationCount+1)
	} else {
		fmt.Fprintf(&b, "**%s** started a conversation with %s.\n", display, dept.Name)
	}
	if profile.Email != "" {
		fmt.Fprintf(&b, "\n- Email: %s", profile.Email)
	}
	if profile.Phone != "" {
		fmt.Fprintf(&b, "\n- Phone: %s", profile.Phone)
	}
	return b.String()
}

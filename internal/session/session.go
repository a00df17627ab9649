// ABOUTME: Session record types and the merge/transition rules applied to them
// ABOUTME: Covers guest identity, department room history, and membership audit events

package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"maunium.net/go/mautrix/id"
)

// InactivityExpiry is how long a session record survives without activity.
// A record older than this is discarded on load and a fresh one is created.
const InactivityExpiry = 30 * 24 * time.Hour

// membershipRingSize caps the per-department membership audit trail.
const membershipRingSize = 10

// RoomStatus describes the customer's relationship to a department room.
type RoomStatus string

const (
	// StatusActive means the customer is joined and the room is current.
	StatusActive RoomStatus = "active"
	// StatusLeft means the customer left the room (e.g. switched departments).
	StatusLeft RoomStatus = "left"
	// StatusInvalid means the room no longer works and must never be resumed.
	// Invalid is terminal for a given room id.
	StatusInvalid RoomStatus = "invalid"
)

// GuestIdentity is the provisioned account the customer chats as. It is
// created once per session record and only replaced on explicit reset.
type GuestIdentity struct {
	UserID      id.UserID   `json:"user_id"`
	AccessToken string      `json:"access_token"`
	DeviceID    id.DeviceID `json:"device_id,omitempty"`
	Homeserver  string      `json:"homeserver"`
}

// MembershipEvent is one entry in a department's membership audit trail.
type MembershipEvent struct {
	ID     string    `json:"id"`
	Change string    `json:"change"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// DepartmentEntry tracks the room a department conversation lives in.
type DepartmentEntry struct {
	DepartmentID      string            `json:"department_id"`
	RoomID            id.RoomID         `json:"room_id,omitempty"`
	Status            RoomStatus        `json:"status"`
	ConversationCount int               `json:"conversation_count"`
	LastActivity      time.Time         `json:"last_activity"`
	Memberships       []MembershipEvent `json:"memberships,omitempty"`
}

// Session is the persisted customer record. Returning is derived at load
// time and never stored: it is true when a non-expired record with at least
// one prior conversation was found.
type Session struct {
	CustomerID         string                      `json:"customer_id"`
	Guest              *GuestIdentity              `json:"guest,omitempty"`
	CurrentRoomID      id.RoomID                   `json:"current_room_id,omitempty"`
	SelectedDepartment string                      `json:"selected_department,omitempty"`
	Departments        map[string]*DepartmentEntry `json:"departments,omitempty"`
	ConversationCount  int                         `json:"conversation_count"`
	CreatedAt          time.Time                   `json:"created_at"`
	LastActivity       time.Time                   `json:"last_activity"`

	Returning bool `json:"-"`
}

// Profile carries the customer-entered contact details used when opening a
// conversation. It is supplied by the embedding application, not persisted.
type Profile struct {
	DisplayName    string
	Email          string
	Phone          string
	OpeningMessage string
}

// Patch is a commutative merge applied to the session record. Nil pointer
// fields leave the existing value untouched; AddConversations increments
// rather than overwrites so racing writers cannot lose counts.
type Patch struct {
	Guest              *GuestIdentity
	CurrentRoomID      *id.RoomID
	SelectedDepartment *string
	AddConversations   int
}

// newSession builds a fresh record with a new customer id and zero history.
func newSession(now time.Time) *Session {
	return &Session{
		CustomerID:   uuid.New().String(),
		Departments:  make(map[string]*DepartmentEntry),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// expired reports whether the record has been idle past InactivityExpiry.
func (s *Session) expired(now time.Time) bool {
	return now.Sub(s.LastActivity) > InactivityExpiry
}

// apply merges a patch into the record.
func (s *Session) apply(p Patch) {
	if p.Guest != nil {
		s.Guest = p.Guest
	}
	if p.CurrentRoomID != nil {
		s.CurrentRoomID = *p.CurrentRoomID
	}
	if p.SelectedDepartment != nil {
		s.SelectedDepartment = *p.SelectedDepartment
	}
	s.ConversationCount += p.AddConversations
}

// department returns the entry for the given department, creating it if
// needed.
func (s *Session) department(departmentID string) *DepartmentEntry {
	if s.Departments == nil {
		s.Departments = make(map[string]*DepartmentEntry)
	}
	entry, ok := s.Departments[departmentID]
	if !ok {
		entry = &DepartmentEntry{DepartmentID: departmentID}
		s.Departments[departmentID] = entry
	}
	return entry
}

// activeDepartment returns the department whose entry is currently active,
// or "" when none is.
func (s *Session) activeDepartment() string {
	for deptID, entry := range s.Departments {
		if entry.Status == StatusActive {
			return deptID
		}
	}
	return ""
}

// setRoomStatus transitions a department's room and keeps the session-level
// mirror fields consistent: CurrentRoomID always equals the room of the
// single active entry, or is empty.
func (s *Session) setRoomStatus(departmentID string, roomID id.RoomID, status RoomStatus, reason string, now time.Time) error {
	entry := s.department(departmentID)

	if roomID == "" {
		roomID = entry.RoomID
	}
	if roomID == "" {
		return fmt.Errorf("department %s has no room to transition", departmentID)
	}

	// Invalid is terminal per room id. A new room id starts a fresh history.
	if entry.RoomID == roomID && entry.Status == StatusInvalid && status != StatusInvalid {
		return fmt.Errorf("department %s: %w", departmentID, ErrRoomRetired)
	}

	if status == StatusActive {
		if active := s.activeDepartment(); active != "" && active != departmentID {
			return fmt.Errorf("department %s already active: %w", active, ErrDepartmentConflict)
		}
	}

	entry.RoomID = roomID
	entry.Status = status
	entry.LastActivity = now
	entry.recordMembership(string(status), reason, now)

	switch status {
	case StatusActive:
		s.CurrentRoomID = roomID
		s.SelectedDepartment = departmentID
	default:
		if s.CurrentRoomID == roomID {
			s.CurrentRoomID = ""
		}
	}
	return nil
}

// recordNewRoom registers a freshly created room as the department's active
// room and bumps both conversation counters.
func (s *Session) recordNewRoom(departmentID string, roomID id.RoomID, now time.Time) error {
	if active := s.activeDepartment(); active != "" && active != departmentID {
		return fmt.Errorf("department %s already active: %w", active, ErrDepartmentConflict)
	}

	entry := s.department(departmentID)
	entry.RoomID = roomID
	entry.Status = StatusActive
	entry.ConversationCount++
	entry.LastActivity = now
	entry.recordMembership("created", "new conversation room", now)

	s.ConversationCount++
	s.CurrentRoomID = roomID
	s.SelectedDepartment = departmentID
	return nil
}

// recordMembership appends to the audit trail, keeping only the newest
// membershipRingSize entries.
func (e *DepartmentEntry) recordMembership(change, reason string, at time.Time) {
	e.Memberships = append(e.Memberships, MembershipEvent{
		ID:     uuid.New().String(),
		Change: change,
		Reason: reason,
		At:     at,
	})
	if len(e.Memberships) > membershipRingSize {
		e.Memberships = e.Memberships[len(e.Memberships)-membershipRingSize:]
	}
}

// ABOUTME: Validation of the stored room pointer before sends and reconnects
// ABOUTME: Purges stale pointers and retires rooms the server no longer grants us

package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/foyer-chat/foyer/internal/matrix"
	"github.com/foyer-chat/foyer/internal/metrics"
	"github.com/foyer-chat/foyer/internal/session"
)

// ErrNoActiveRoom is returned when no conversation is open for the selected
// department.
var ErrNoActiveRoom = errors.New("no active conversation")

// wellFormed reports whether a room id has the shape the protocol promises.
// Anything else in the store is corrupt local state.
func wellFormed(roomID id.RoomID) bool {
	s := roomID.String()
	return len(s) > 1 && s[0] == '!'
}

// ValidateCurrentRoom checks that the stored active-room pointer still
// refers to a room the guest is joined to. With a department hint it also
// checks the pointer against that department's recorded room. Corrupt local
// state triggers a recovery sweep; a room the server has withdrawn is
// retired. A network failure is inconclusive and returns an error without
// changing anything.
func (m *Manager) ValidateCurrentRoom(ctx context.Context, guest RoomAPI, departmentHint string) (bool, error) {
	s, err := m.store.Get(ctx)
	if err != nil {
		return false, err
	}

	roomID := s.CurrentRoomID
	if roomID == "" {
		m.setCurrent("")
		return false, nil
	}

	if !wellFormed(roomID) {
		m.logger.Warn("active room pointer malformed, recovering", "room_id", roomID)
		if err := m.Recover(ctx, guest); err != nil {
			return false, err
		}
		return false, nil
	}

	// The pointer must agree with the department history.
	owner := ""
	for deptID, entry := range s.Departments {
		if entry.RoomID == roomID {
			owner = deptID
			break
		}
	}
	if owner == "" || (departmentHint != "" && owner != departmentHint) {
		m.logger.Warn("active room pointer does not match department history, recovering",
			"room_id", roomID, "hint", departmentHint, "owner", owner)
		if err := m.Recover(ctx, guest); err != nil {
			return false, err
		}
		return false, nil
	}

	membership, err := guest.Membership(ctx, roomID, guest.UserID())
	switch {
	case err == nil && membership == event.MembershipJoin:
		if entry := s.Departments[owner]; entry.Status != session.StatusActive {
			err := m.store.SetRoomStatus(ctx, owner, roomID, session.StatusActive, "validated on connect")
			if errors.Is(err, session.ErrDepartmentConflict) || errors.Is(err, session.ErrRoomRetired) {
				// Two entries claim to be live. Trust neither.
				if rerr := m.Recover(ctx, guest); rerr != nil {
					return false, rerr
				}
				return false, nil
			}
			if err != nil {
				return false, err
			}
		}
		m.setCurrent(roomID)
		return true, nil

	case err == nil:
		// We can see the room but are not joined. Demote, keep it resumable.
		reason := fmt.Sprintf("not joined at connect (%s)", membership)
		if err := m.store.SetRoomStatus(ctx, owner, roomID, session.StatusLeft, reason); err != nil {
			return false, err
		}
		m.setCurrent("")
		return false, nil

	case matrix.RoomGone(err):
		if err := m.store.SetRoomStatus(ctx, owner, roomID, session.StatusInvalid,
			fmt.Sprintf("validation failed (%s)", matrix.Classify(err))); err != nil {
			return false, err
		}
		m.setCurrent("")
		return false, nil

	default:
		// Transient failure, no verdict about the room.
		return false, err
	}
}

// SendableRoom returns the room a message may be posted to right now. The
// in-memory pointer is never trusted on its own: it must agree with the
// selected department's recorded room. A pointer that drifted is repaired
// through the resume ladder; repair never creates a room.
func (m *Manager) SendableRoom(ctx context.Context, guest RoomAPI) (id.RoomID, error) {
	s, err := m.store.Get(ctx)
	if err != nil {
		return "", err
	}
	deptID := s.SelectedDepartment
	if deptID == "" {
		m.setCurrent("")
		return "", ErrNoActiveRoom
	}
	dept, ok := m.departments[deptID]
	if !ok {
		m.setCurrent("")
		return "", fmt.Errorf("selected department %q not configured: %w", deptID, ErrNoActiveRoom)
	}
	entry := s.Departments[deptID]
	if entry == nil || entry.RoomID == "" || entry.Status == session.StatusInvalid || !wellFormed(entry.RoomID) {
		m.setCurrent("")
		return "", ErrNoActiveRoom
	}
	if entry.Status == session.StatusActive && m.CurrentRoom() == entry.RoomID {
		return entry.RoomID, nil
	}

	// Memory and record disagree. The record wins; verify or rejoin its room.
	res, err := m.resume(ctx, guest, dept, entry.RoomID)
	if err != nil {
		return "", err
	}
	if res == nil {
		// The recorded room was retired; the next ResumeOrCreate starts over.
		return "", ErrNoActiveRoom
	}
	return res.RoomID, nil
}

// Recover is the corrupt-state escape hatch: best-effort leave every room
// the history knows about, demote their entries, and clear the active
// pointer. The guest identity and counters survive.
func (m *Manager) Recover(ctx context.Context, guest RoomAPI) error {
	s, err := m.store.Get(ctx)
	if err != nil {
		return err
	}

	outcome := "clean"
	var wg sync.WaitGroup
	results := make(map[string]error, len(s.Departments))
	var resultsMu sync.Mutex

	for deptID, entry := range s.Departments {
		if entry.RoomID == "" || entry.Status == session.StatusInvalid || !wellFormed(entry.RoomID) {
			continue
		}
		wg.Add(1)
		go func(deptID string, roomID id.RoomID) {
			defer wg.Done()
			err := guest.Leave(ctx, roomID)
			resultsMu.Lock()
			results[deptID] = err
			resultsMu.Unlock()
		}(deptID, entry.RoomID)
	}
	wg.Wait()

	for deptID, leaveErr := range results {
		entry := s.Departments[deptID]
		if leaveErr != nil && !matrix.RoomGone(leaveErr) {
			outcome = "partial"
			m.logger.Warn("leaving room during recovery failed",
				"department", deptID, "room_id", entry.RoomID, "error", leaveErr)
		}
		if entry.Status == session.StatusActive {
			if err := m.store.SetRoomStatus(ctx, deptID, entry.RoomID, session.StatusLeft, "session recovery"); err != nil {
				return err
			}
		}
	}

	empty := id.RoomID("")
	if err := m.store.Set(ctx, session.Patch{CurrentRoomID: &empty}); err != nil {
		return err
	}
	m.setCurrent("")

	metrics.RecoveryRun(outcome)
	m.logger.Info("session state recovered", "outcome", outcome, "rooms_swept", len(results))
	return nil
}

// ABOUTME: Department switching with parallel best-effort leaves of other rooms
// ABOUTME: Also covers deliberately starting a fresh conversation in one department

package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"maunium.net/go/mautrix/id"

	"github.com/foyer-chat/foyer/internal/matrix"
	"github.com/foyer-chat/foyer/internal/session"
)

// SwitchDepartment moves the conversation to another department: every other
// active room is left in parallel (best-effort) and demoted, then the target
// department is resumed or created. At most one department is active
// afterwards no matter how the leaves went.
func (m *Manager) SwitchDepartment(ctx context.Context, guest RoomAPI, profile session.Profile, departmentID string) (*Result, error) {
	if _, ok := m.departments[departmentID]; !ok {
		return nil, fmt.Errorf("unknown department %q", departmentID)
	}

	s, err := m.store.Get(ctx)
	if err != nil {
		return nil, err
	}

	type target struct {
		deptID string
		roomID id.RoomID
	}
	var leaves []target
	for deptID, entry := range s.Departments {
		if deptID == departmentID || entry.Status != session.StatusActive {
			continue
		}
		if !wellFormed(entry.RoomID) {
			if err := m.store.SetRoomStatus(ctx, deptID, entry.RoomID, session.StatusInvalid, "malformed room id"); err != nil {
				return nil, err
			}
			continue
		}
		leaves = append(leaves, target{deptID: deptID, roomID: entry.RoomID})
	}

	leaveErrs := make([]error, len(leaves))
	var wg sync.WaitGroup
	for i, t := range leaves {
		wg.Add(1)
		go func(i int, roomID id.RoomID) {
			defer wg.Done()
			leaveErrs[i] = guest.Leave(ctx, roomID)
		}(i, t.roomID)
	}
	wg.Wait()

	// Demote locally even when a leave failed: the pointer must move, and a
	// later resume re-verifies against the server anyway.
	for i, t := range leaves {
		reason := fmt.Sprintf("switched to %s", departmentID)
		if err := leaveErrs[i]; err != nil && !matrix.RoomGone(err) {
			m.logger.Warn("leaving previous room failed",
				"department", t.deptID, "room_id", t.roomID, "error", err)
			reason = fmt.Sprintf("switched to %s (leave failed)", departmentID)
		}
		if err := m.store.SetRoomStatus(ctx, t.deptID, t.roomID, session.StatusLeft, reason); err != nil {
			return nil, err
		}
	}
	m.setCurrent("")

	return m.ResumeOrCreate(ctx, guest, profile, departmentID)
}

// NewConversation abandons the department's current room and opens a
// brand-new conversation in it. The old room is left best-effort and demoted,
// never retired, so its history stays reachable for responders.
func (m *Manager) NewConversation(ctx context.Context, guest RoomAPI, profile session.Profile, departmentID string) (*Result, error) {
	dept, ok := m.departments[departmentID]
	if !ok {
		return nil, fmt.Errorf("unknown department %q", departmentID)
	}

	entry, err := m.store.DepartmentRoom(ctx, departmentID)
	switch {
	case err == nil && entry.Status == session.StatusActive:
		if wellFormed(entry.RoomID) {
			if leaveErr := guest.Leave(ctx, entry.RoomID); leaveErr != nil && !matrix.RoomGone(leaveErr) {
				m.logger.Warn("leaving room for fresh start failed",
					"department", departmentID, "room_id", entry.RoomID, "error", leaveErr)
			}
		}
		if err := m.store.SetRoomStatus(ctx, departmentID, entry.RoomID, session.StatusLeft, "customer started a new conversation"); err != nil {
			return nil, err
		}
		m.setCurrent("")
	case err != nil && !errors.Is(err, session.ErrNotFound):
		return nil, err
	}

	return m.create(ctx, guest, dept, profile)
}

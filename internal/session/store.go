// ABOUTME: Store interface plus the shared load/mutate/persist engine all backends use
// ABOUTME: Handles fresh-record creation, expiry, corrupt-record recovery, and merges

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix/id"
)

var (
	// ErrNotFound is returned when a department has no recorded room.
	ErrNotFound = errors.New("not found")
	// ErrRoomRetired is returned when a room previously marked invalid is
	// being reactivated. Invalid rooms are never resumed.
	ErrRoomRetired = errors.New("room retired")
	// ErrDepartmentConflict is returned when a second department would
	// become active while another still is.
	ErrDepartmentConflict = errors.New("another department is active")
)

// Store persists the customer session record.
type Store interface {
	// Get loads the session, creating a fresh record when none exists, the
	// stored one has expired, or the stored one cannot be decoded.
	Get(ctx context.Context) (*Session, error)

	// Set merges a patch into the record and persists it.
	Set(ctx context.Context, patch Patch) error

	// DepartmentRoom returns the recorded entry for a department, or
	// ErrNotFound when the department has no room yet.
	DepartmentRoom(ctx context.Context, departmentID string) (*DepartmentEntry, error)

	// SetRoomStatus transitions a department's room. An empty roomID means
	// "the room already recorded for this department".
	SetRoomStatus(ctx context.Context, departmentID string, roomID id.RoomID, status RoomStatus, reason string) error

	// RecordNewRoom registers a freshly created room as active and bumps
	// the conversation counters.
	RecordNewRoom(ctx context.Context, departmentID string, roomID id.RoomID) error

	// AllDepartmentRooms returns every recorded room id keyed by department.
	AllDepartmentRooms(ctx context.Context) (map[string]id.RoomID, error)

	// Reset discards the record, including the guest identity, and persists
	// a fresh one.
	Reset(ctx context.Context) (*Session, error)

	// Close releases backend resources.
	Close() error
}

// blob is the storage primitive behind a Store: one serialized record.
// load returns (nil, nil) when no record exists.
type blob interface {
	load(ctx context.Context) ([]byte, error)
	store(ctx context.Context, data []byte) error
	close() error
}

// blobStore implements Store on top of any blob backend. All record rules
// (expiry, merge, status transitions) live here so the backends stay dumb.
type blobStore struct {
	mu     sync.Mutex
	blob   blob
	now    func() time.Time
	logger *slog.Logger
}

func newBlobStore(b blob, component string) *blobStore {
	return &blobStore{
		blob:   b,
		now:    time.Now,
		logger: slog.Default().With("component", component),
	}
}

func (bs *blobStore) Get(ctx context.Context) (*Session, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	s, existed, err := bs.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	s.Returning = existed && s.ConversationCount > 0
	s.LastActivity = bs.now()
	if err := bs.persistLocked(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (bs *blobStore) Set(ctx context.Context, patch Patch) error {
	return bs.mutate(ctx, func(s *Session) error {
		s.apply(patch)
		return nil
	})
}

func (bs *blobStore) DepartmentRoom(ctx context.Context, departmentID string) (*DepartmentEntry, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	s, _, err := bs.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := s.Departments[departmentID]
	if !ok || entry.RoomID == "" {
		return nil, fmt.Errorf("department %s: %w", departmentID, ErrNotFound)
	}
	return entry, nil
}

func (bs *blobStore) SetRoomStatus(ctx context.Context, departmentID string, roomID id.RoomID, status RoomStatus, reason string) error {
	return bs.mutate(ctx, func(s *Session) error {
		return s.setRoomStatus(departmentID, roomID, status, reason, bs.now())
	})
}

func (bs *blobStore) RecordNewRoom(ctx context.Context, departmentID string, roomID id.RoomID) error {
	return bs.mutate(ctx, func(s *Session) error {
		return s.recordNewRoom(departmentID, roomID, bs.now())
	})
}

func (bs *blobStore) AllDepartmentRooms(ctx context.Context) (map[string]id.RoomID, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	s, _, err := bs.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	rooms := make(map[string]id.RoomID, len(s.Departments))
	for deptID, entry := range s.Departments {
		if entry.RoomID != "" {
			rooms[deptID] = entry.RoomID
		}
	}
	return rooms, nil
}

func (bs *blobStore) Reset(ctx context.Context) (*Session, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	s := newSession(bs.now())
	if err := bs.persistLocked(ctx, s); err != nil {
		return nil, err
	}
	bs.logger.Info("session reset", "customer_id", s.CustomerID)
	return s, nil
}

func (bs *blobStore) Close() error {
	return bs.blob.close()
}

// mutate runs a load/modify/persist cycle under the store lock. The record
// is touched (LastActivity) on every successful mutation.
func (bs *blobStore) mutate(ctx context.Context, fn func(*Session) error) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	s, _, err := bs.loadLocked(ctx)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	s.LastActivity = bs.now()
	return bs.persistLocked(ctx, s)
}

// loadLocked reads and decodes the record. The bool result reports whether a
// usable (present, decodable, unexpired) record was found; otherwise a fresh
// record is returned in its place.
func (bs *blobStore) loadLocked(ctx context.Context) (*Session, bool, error) {
	now := bs.now()

	data, err := bs.blob.load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("loading session record: %w", err)
	}
	if data == nil {
		return newSession(now), false, nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		bs.logger.Warn("session record corrupt, starting fresh", "error", err)
		return newSession(now), false, nil
	}
	if s.expired(now) {
		bs.logger.Info("session record expired, starting fresh",
			"customer_id", s.CustomerID, "last_activity", s.LastActivity)
		return newSession(now), false, nil
	}
	if s.Departments == nil {
		s.Departments = make(map[string]*DepartmentEntry)
	}
	return &s, true, nil
}

func (bs *blobStore) persistLocked(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}
	if err := bs.blob.store(ctx, data); err != nil {
		return fmt.Errorf("persisting session record: %w", err)
	}
	return nil
}

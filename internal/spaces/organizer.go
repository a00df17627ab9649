// ABOUTME: Best-effort filing of conversation rooms into a space hierarchy
// ABOUTME: Maintains root space -> department space -> room, remembering space ids across runs

package spaces

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/foyer-chat/foyer/internal/matrix"
)

// SpaceAPI is the slice of the protocol client the organizer needs. The
// client must be authenticated as a user with permission to create spaces.
type SpaceAPI interface {
	CreateRoom(ctx context.Context, req matrix.RoomRequest) (id.RoomID, error)
	SendState(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, content interface{}) error
}

// Config controls the organizer's hierarchy and persistence.
type Config struct {
	// RootName is the display name of the top-level space.
	RootName string
	// RootTopic is the optional topic of the top-level space.
	RootTopic string
	// Server is the homeserver name used in m.space.child via hints.
	Server string
	// StatePath is where known space ids are remembered between runs.
	// Empty keeps the state in memory only.
	StatePath string
}

// spaceState is the persisted record of spaces the organizer created.
type spaceState struct {
	RootSpaceID      id.RoomID            `json:"root_space_id,omitempty"`
	DepartmentSpaces map[string]id.RoomID `json:"department_spaces,omitempty"`
}

// Organizer files conversation rooms into spaces so responders find them
// grouped by department. Every operation is best-effort from the caller's
// point of view: a failure here must never block a conversation.
type Organizer struct {
	mu     sync.Mutex
	api    SpaceAPI
	cfg    Config
	state  spaceState
	logger *slog.Logger
}

// New creates an organizer. Previously created space ids are loaded from
// cfg.StatePath when it exists; a missing or unreadable state file just
// means spaces get created anew.
func New(api SpaceAPI, cfg Config) *Organizer {
	if cfg.RootName == "" {
		cfg.RootName = "Customer Support"
	}
	o := &Organizer{
		api:    api,
		cfg:    cfg,
		state:  spaceState{DepartmentSpaces: make(map[string]id.RoomID)},
		logger: slog.Default().With("component", "spaces"),
	}
	o.loadState()
	return o
}

// PlaceRoom files a conversation room under its department's space, creating
// the root and department spaces on first use.
func (o *Organizer) PlaceRoom(ctx context.Context, roomID id.RoomID, departmentID, departmentName string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	root, err := o.ensureRootLocked(ctx)
	if err != nil {
		return fmt.Errorf("ensuring root space: %w", err)
	}

	deptSpace, err := o.ensureDepartmentLocked(ctx, root, departmentID, departmentName)
	if err != nil {
		return fmt.Errorf("ensuring department space: %w", err)
	}

	if err := o.addChildLocked(ctx, deptSpace, roomID); err != nil {
		return fmt.Errorf("filing room into department space: %w", err)
	}

	o.logger.Debug("room filed into space",
		"room_id", roomID, "department", departmentID, "space_id", deptSpace)
	return nil
}

func (o *Organizer) ensureRootLocked(ctx context.Context) (id.RoomID, error) {
	if o.state.RootSpaceID != "" {
		return o.state.RootSpaceID, nil
	}

	spaceID, err := o.api.CreateRoom(ctx, matrix.RoomRequest{
		Name:       o.cfg.RootName,
		Topic:      o.cfg.RootTopic,
		Preset:     "private_chat",
		IsSpace:    true,
		NoFederate: true,
	})
	if err != nil {
		return "", err
	}

	o.state.RootSpaceID = spaceID
	o.saveState()
	o.logger.Info("created root space", "space_id", spaceID, "name", o.cfg.RootName)
	return spaceID, nil
}

func (o *Organizer) ensureDepartmentLocked(ctx context.Context, root id.RoomID, departmentID, departmentName string) (id.RoomID, error) {
	if spaceID, ok := o.state.DepartmentSpaces[departmentID]; ok {
		return spaceID, nil
	}

	name := departmentName
	if name == "" {
		name = departmentID
	}
	spaceID, err := o.api.CreateRoom(ctx, matrix.RoomRequest{
		Name:       name,
		Topic:      fmt.Sprintf("%s conversations", name),
		Preset:     "private_chat",
		IsSpace:    true,
		NoFederate: true,
	})
	if err != nil {
		return "", err
	}

	if err := o.addChildLocked(ctx, root, spaceID); err != nil {
		return "", err
	}

	o.state.DepartmentSpaces[departmentID] = spaceID
	o.saveState()
	o.logger.Info("created department space",
		"space_id", spaceID, "department", departmentID)
	return spaceID, nil
}

func (o *Organizer) addChildLocked(ctx context.Context, parent, child id.RoomID) error {
	content := &event.SpaceChildEventContent{
		Order: fmt.Sprintf("%013d", time.Now().UnixMilli()),
	}
	if o.cfg.Server != "" {
		content.Via = []string{o.cfg.Server}
	}
	return o.api.SendState(ctx, parent, event.StateSpaceChild, child.String(), content)
}

func (o *Organizer) loadState() {
	if o.cfg.StatePath == "" {
		return
	}
	data, err := os.ReadFile(o.cfg.StatePath)
	if err != nil {
		return
	}
	var st spaceState
	if err := json.Unmarshal(data, &st); err != nil {
		o.logger.Warn("space state unreadable, starting over", "error", err)
		return
	}
	if st.DepartmentSpaces == nil {
		st.DepartmentSpaces = make(map[string]id.RoomID)
	}
	o.state = st
}

func (o *Organizer) saveState() {
	if o.cfg.StatePath == "" {
		return
	}
	data, err := json.MarshalIndent(o.state, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(o.cfg.StatePath), 0o755); err != nil {
		o.logger.Warn("saving space state failed", "error", err)
		return
	}
	tmp := o.cfg.StatePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		o.logger.Warn("saving space state failed", "error", err)
		return
	}
	if err := os.Rename(tmp, o.cfg.StatePath); err != nil {
		os.Remove(tmp)
		o.logger.Warn("saving space state failed", "error", err)
	}
}

// ABOUTME: Tests for room pointer validation and the recovery sweep
// ABOUTME: Covers corrupt pointers, withdrawn rooms, hints, and identity preservation

package rooms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/foyer-chat/foyer/internal/matrix"
	"github.com/foyer-chat/foyer/internal/session"
)

func TestManager_ValidateCurrentRoom_NoPointer(t *testing.T) {
	f := newFixture()

	valid, err := f.manager.ValidateCurrentRoom(context.Background(), f.guest, "")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestManager_ValidateCurrentRoom_StillJoined(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := id.RoomID("!support:example.org")
	f.seedActive(t, "support", room)
	f.guest.memberships[room] = event.MembershipJoin

	valid, err := f.manager.ValidateCurrentRoom(ctx, f.guest, "")
	require.NoError(t, err)

	assert.True(t, valid)
	assert.Equal(t, room, f.manager.CurrentRoom())
}

func TestManager_ValidateCurrentRoom_HintAgrees(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := id.RoomID("!support:example.org")
	f.seedActive(t, "support", room)
	f.guest.memberships[room] = event.MembershipJoin

	valid, err := f.manager.ValidateCurrentRoom(ctx, f.guest, "support")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestManager_ValidateCurrentRoom_HintMismatchRecovers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := id.RoomID("!support:example.org")
	f.seedActive(t, "support", room)
	f.guest.memberships[room] = event.MembershipJoin

	// The pointer belongs to support, the caller expected billing.
	valid, err := f.manager.ValidateCurrentRoom(ctx, f.guest, "billing")
	require.NoError(t, err)

	assert.False(t, valid)
	s, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.CurrentRoomID)
}

func TestManager_ValidateCurrentRoom_NotJoinedDemotes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := id.RoomID("!support:example.org")
	f.seedActive(t, "support", room)
	f.guest.memberships[room] = event.MembershipLeave

	valid, err := f.manager.ValidateCurrentRoom(ctx, f.guest, "")
	require.NoError(t, err)

	assert.False(t, valid)
	entry, err := f.store.DepartmentRoom(ctx, "support")
	require.NoError(t, err)
	// Left, not invalid: the resume ladder may still rejoin it.
	assert.Equal(t, session.StatusLeft, entry.Status)
	assert.Empty(t, f.manager.CurrentRoom())
}

func TestManager_ValidateCurrentRoom_WithdrawnRoomRetired(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := id.RoomID("!support:example.org")
	f.seedActive(t, "support", room)
	f.guest.membershipErrs[room] = mautrix.MForbidden

	valid, err := f.manager.ValidateCurrentRoom(ctx, f.guest, "")
	require.NoError(t, err)

	assert.False(t, valid)
	entry, err := f.store.DepartmentRoom(ctx, "support")
	require.NoError(t, err)
	assert.Equal(t, session.StatusInvalid, entry.Status)
}

func TestManager_ValidateCurrentRoom_NetworkErrorInconclusive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := id.RoomID("!support:example.org")
	f.seedActive(t, "support", room)
	f.guest.membershipErrs[room] = errNetwork

	valid, err := f.manager.ValidateCurrentRoom(ctx, f.guest, "")
	require.Error(t, err)
	assert.False(t, valid)

	// No verdict: the entry keeps its status.
	entry, derr := f.store.DepartmentRoom(ctx, "support")
	require.NoError(t, derr)
	assert.Equal(t, session.StatusActive, entry.Status)
}

func TestManager_ValidateCurrentRoom_MalformedPointerRecovers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	bogus := id.RoomID("not-a-room-id")
	require.NoError(t, f.store.Set(ctx, session.Patch{CurrentRoomID: &bogus}))

	valid, err := f.manager.ValidateCurrentRoom(ctx, f.guest, "")
	require.NoError(t, err)

	assert.False(t, valid)
	s, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.CurrentRoomID)
}

func TestManager_ValidateCurrentRoom_PointerOutsideHistoryRecovers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	stray := id.RoomID("!stray:example.org")
	require.NoError(t, f.store.Set(ctx, session.Patch{CurrentRoomID: &stray}))

	valid, err := f.manager.ValidateCurrentRoom(ctx, f.guest, "")
	require.NoError(t, err)

	assert.False(t, valid)
	s, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.CurrentRoomID)
}

func TestManager_SendableRoom_TrustsVerifiedPointer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := id.RoomID("!support:example.org")
	f.seedActive(t, "support", room)
	f.guest.memberships[room] = event.MembershipJoin

	_, err := f.manager.ResumeOrCreate(ctx, f.guest, f.profile(), "support")
	require.NoError(t, err)
	probes := f.guest.callCount("membership")

	got, err := f.manager.SendableRoom(ctx, f.guest)
	require.NoError(t, err)

	assert.Equal(t, room, got)
	// Pointer and record agree; no extra server round trip.
	assert.Equal(t, probes, f.guest.callCount("membership"))
}

func TestManager_SendableRoom_RepairsDroppedPointer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := id.RoomID("!support:example.org")
	f.seedActive(t, "support", room)
	f.guest.memberships[room] = event.MembershipJoin

	_, err := f.manager.ResumeOrCreate(ctx, f.guest, f.profile(), "support")
	require.NoError(t, err)
	f.manager.Forget()

	got, err := f.manager.SendableRoom(ctx, f.guest)
	require.NoError(t, err)

	assert.Equal(t, room, got)
	assert.Equal(t, room, f.manager.CurrentRoom())
	// The repair does not repeat the continuity notice.
	assert.Len(t, f.supportAPI.notices, 1)
}

func TestManager_SendableRoom_RejoinsLeftRoom(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := id.RoomID("!support:example.org")
	f.seedActive(t, "support", room)
	require.NoError(t, f.store.SetRoomStatus(ctx, "support", room, session.StatusLeft, "tab closed"))
	f.guest.memberships[room] = event.MembershipLeave

	got, err := f.manager.SendableRoom(ctx, f.guest)
	require.NoError(t, err)

	assert.Equal(t, room, got)
	assert.Equal(t, 1, f.guest.callCount("join "+room.String()))
	entry, err := f.store.DepartmentRoom(ctx, "support")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, entry.Status)
}

func TestManager_SendableRoom_NoSelectedDepartment(t *testing.T) {
	f := newFixture()

	_, err := f.manager.SendableRoom(context.Background(), f.guest)
	assert.ErrorIs(t, err, ErrNoActiveRoom)
}

func TestManager_SendableRoom_RetiredRoomWithoutProbing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := id.RoomID("!dead:example.org")
	f.seedActive(t, "support", room)
	require.NoError(t, f.store.SetRoomStatus(ctx, "support", room, session.StatusInvalid, "tombstoned"))

	_, err := f.manager.SendableRoom(ctx, f.guest)

	assert.ErrorIs(t, err, ErrNoActiveRoom)
	assert.Equal(t, 0, f.guest.callCount("membership"))
}

func TestManager_SendableRoom_DeadRoomRetiredNeverCreated(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := id.RoomID("!dead:example.org")
	f.seedActive(t, "support", room)
	f.guest.membershipErrs[room] = mautrix.MNotFound
	f.guest.joinErrs[room] = []error{mautrix.MNotFound}
	f.supportAPI.inviteErrs[room] = mautrix.MNotFound

	_, err := f.manager.SendableRoom(ctx, f.guest)

	assert.ErrorIs(t, err, ErrNoActiveRoom)
	// Repair walks the resume ladder but never creates a room.
	assert.Equal(t, 0, f.supportAPI.callCount("create"))
	entry, derr := f.store.DepartmentRoom(ctx, "support")
	require.NoError(t, derr)
	assert.Equal(t, session.StatusInvalid, entry.Status)
}

func TestManager_SendableRoom_NetworkErrorPropagates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := id.RoomID("!support:example.org")
	f.seedActive(t, "support", room)
	f.guest.membershipErrs[room] = errNetwork

	_, err := f.manager.SendableRoom(ctx, f.guest)
	require.Error(t, err)
	assert.True(t, matrix.IsNetwork(err))

	// No verdict: the entry keeps its status.
	entry, derr := f.store.DepartmentRoom(ctx, "support")
	require.NoError(t, derr)
	assert.Equal(t, session.StatusActive, entry.Status)
}

func TestManager_Recover_SweepsRoomsAndKeepsIdentity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	identity := &session.GuestIdentity{
		UserID:      guestUser,
		AccessToken: "tok",
		Homeserver:  "https://example.org",
	}
	require.NoError(t, f.store.Set(ctx, session.Patch{Guest: identity}))

	supportRoom := id.RoomID("!support:example.org")
	f.seedActive(t, "support", supportRoom)
	require.NoError(t, f.store.SetRoomStatus(ctx, "support", supportRoom, session.StatusLeft, "switched"))
	billingRoom := id.RoomID("!billing:example.org")
	f.seedActive(t, "billing", billingRoom)

	require.NoError(t, f.manager.Recover(ctx, f.guest))

	// Both recorded rooms were left best-effort.
	assert.Equal(t, 1, f.guest.callCount("leave "+supportRoom.String()))
	assert.Equal(t, 1, f.guest.callCount("leave "+billingRoom.String()))

	s, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.CurrentRoomID)
	assert.Empty(t, f.manager.CurrentRoom())
	assert.Equal(t, session.StatusLeft, s.Departments["billing"].Status)

	// Identity and counters survive recovery.
	require.NotNil(t, s.Guest)
	assert.Equal(t, identity.UserID, s.Guest.UserID)
	assert.Equal(t, 2, s.ConversationCount)
}

func TestManager_Recover_SkipsRetiredRooms(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	dead := id.RoomID("!dead:example.org")
	f.seedActive(t, "support", dead)
	require.NoError(t, f.store.SetRoomStatus(ctx, "support", dead, session.StatusInvalid, "tombstoned"))

	require.NoError(t, f.manager.Recover(ctx, f.guest))

	assert.Equal(t, 0, f.guest.callCount("leave"))
}

func TestManager_Recover_LeaveFailureStillClears(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	room := id.RoomID("!support:example.org")
	f.seedActive(t, "support", room)
	f.guest.leaveErrs[room] = errNetwork

	require.NoError(t, f.manager.Recover(ctx, f.guest))

	s, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.CurrentRoomID)
	assert.Equal(t, session.StatusLeft, s.Departments["support"].Status)
}

// ABOUTME: Tests for guest identity provisioning and its idempotence
// ABOUTME: Uses a fake registrar so no homeserver is needed

package guest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/foyer-chat/foyer/internal/matrix"
	"github.com/foyer-chat/foyer/internal/session"
)

type fakeRegistrar struct {
	registerCalls    int
	loginCalls       int
	displayNameCalls int
	lastUsername     string
	lastPassword     string
	lastDisplayName  string

	registerErr    error
	loginErr       error
	displayNameErr error
}

func (f *fakeRegistrar) RegisterShared(ctx context.Context, secret, username, password string) (id.UserID, error) {
	f.registerCalls++
	f.lastUsername = username
	f.lastPassword = password
	if f.registerErr != nil {
		return "", f.registerErr
	}
	return id.UserID("@" + username + ":example.org"), nil
}

func (f *fakeRegistrar) Login(ctx context.Context, username, password string) (*matrix.Credentials, error) {
	f.loginCalls++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &matrix.Credentials{
		UserID:      id.UserID("@" + username + ":example.org"),
		AccessToken: "syt_" + username,
		DeviceID:    "DEVICE1",
	}, nil
}

func (f *fakeRegistrar) SetDisplayName(ctx context.Context, name string) error {
	f.displayNameCalls++
	f.lastDisplayName = name
	return f.displayNameErr
}

func newTestProvisioner(reg *fakeRegistrar) (*Provisioner, session.Store) {
	store := session.NewMemoryStore()
	p := NewProvisioner(store, "https://example.org", "secret")
	p.newRegistrar = func(string) (Registrar, error) { return reg, nil }
	return p, store
}

func TestProvisioner_EnsureGuestIdentity_ProvisionsOnFirstUse(t *testing.T) {
	reg := &fakeRegistrar{}
	p, store := newTestProvisioner(reg)

	identity, err := p.EnsureGuestIdentity(context.Background(), "Alice")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(identity.UserID.String(), "@guest-"))
	assert.NotEmpty(t, identity.AccessToken)
	assert.Equal(t, "https://example.org", identity.Homeserver)
	assert.Equal(t, 1, reg.registerCalls)
	assert.Equal(t, 1, reg.loginCalls)
	assert.Equal(t, "Alice", reg.lastDisplayName)

	s, err := store.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s.Guest)
	assert.Equal(t, identity.UserID, s.Guest.UserID)
}

func TestProvisioner_EnsureGuestIdentity_Idempotent(t *testing.T) {
	reg := &fakeRegistrar{}
	p, _ := newTestProvisioner(reg)
	ctx := context.Background()

	first, err := p.EnsureGuestIdentity(ctx, "Alice")
	require.NoError(t, err)
	second, err := p.EnsureGuestIdentity(ctx, "Alice")
	require.NoError(t, err)

	assert.Equal(t, first.UserID, second.UserID)
	assert.Equal(t, first.AccessToken, second.AccessToken)
	// The second call must not touch the network at all.
	assert.Equal(t, 1, reg.registerCalls)
	assert.Equal(t, 1, reg.loginCalls)
}

func TestProvisioner_EnsureGuestIdentity_RegistrationFailureIsFatal(t *testing.T) {
	reg := &fakeRegistrar{registerErr: errors.New("shared secret rejected")}
	p, store := newTestProvisioner(reg)

	_, err := p.EnsureGuestIdentity(context.Background(), "Alice")
	require.Error(t, err)

	// Nothing half-provisioned may be persisted.
	s, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s.Guest)
	assert.Equal(t, 0, reg.loginCalls)
}

func TestProvisioner_EnsureGuestIdentity_LoginFailureIsFatal(t *testing.T) {
	reg := &fakeRegistrar{loginErr: errors.New("bad password")}
	p, store := newTestProvisioner(reg)

	_, err := p.EnsureGuestIdentity(context.Background(), "Alice")
	require.Error(t, err)

	s, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s.Guest)
}

func TestProvisioner_EnsureGuestIdentity_DisplayNameFailureIgnored(t *testing.T) {
	reg := &fakeRegistrar{displayNameErr: errors.New("profile server down")}
	p, _ := newTestProvisioner(reg)

	identity, err := p.EnsureGuestIdentity(context.Background(), "Alice")
	require.NoError(t, err)
	assert.NotNil(t, identity)
}

func TestProvisioner_EnsureGuestIdentity_HomeserverMismatch(t *testing.T) {
	reg := &fakeRegistrar{}
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), session.Patch{Guest: &session.GuestIdentity{
		UserID:      "@guest-old:other.org",
		AccessToken: "tok",
		Homeserver:  "https://other.org",
	}}))

	p := NewProvisioner(store, "https://example.org", "secret")
	p.newRegistrar = func(string) (Registrar, error) { return reg, nil }

	_, err := p.EnsureGuestIdentity(context.Background(), "Alice")
	assert.ErrorIs(t, err, ErrHomeserverMismatch)
	assert.Equal(t, 0, reg.registerCalls)
}

func TestGuestLocalpart_Shape(t *testing.T) {
	a := guestLocalpart()
	b := guestLocalpart()

	assert.True(t, strings.HasPrefix(a, "guest-"))
	assert.Len(t, a, len("guest-")+16)
	assert.NotEqual(t, a, b)
}

func TestGuestPassword_Shape(t *testing.T) {
	pw, err := guestPassword()
	require.NoError(t, err)
	assert.Len(t, pw, 48)
}

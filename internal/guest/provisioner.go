// ABOUTME: Idempotent provisioning of the customer's guest account
// ABOUTME: Registers via the homeserver's shared-secret endpoint, then logs in for a token

package guest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"maunium.net/go/mautrix/id"

	"github.com/foyer-chat/foyer/internal/matrix"
	"github.com/foyer-chat/foyer/internal/metrics"
	"github.com/foyer-chat/foyer/internal/session"
)

// ErrHomeserverMismatch is returned when the stored identity belongs to a
// different homeserver than the one configured. Identities are never
// silently recreated; an explicit session reset is required.
var ErrHomeserverMismatch = errors.New("stored guest identity belongs to a different homeserver")

// Registrar is the slice of the protocol client the provisioner needs.
type Registrar interface {
	RegisterShared(ctx context.Context, sharedSecret, username, password string) (id.UserID, error)
	Login(ctx context.Context, username, password string) (*matrix.Credentials, error)
	SetDisplayName(ctx context.Context, name string) error
}

// Provisioner creates the guest account a customer chats as, exactly once
// per session record. Provisioning failures are surfaced, never retried
// internally.
type Provisioner struct {
	mu           sync.Mutex
	store        session.Store
	homeserver   string
	sharedSecret string
	newRegistrar func(homeserverURL string) (Registrar, error)
	logger       *slog.Logger
}

// NewProvisioner creates a provisioner against the given homeserver.
func NewProvisioner(store session.Store, homeserverURL, sharedSecret string) *Provisioner {
	return &Provisioner{
		store:        store,
		homeserver:   homeserverURL,
		sharedSecret: sharedSecret,
		newRegistrar: func(homeserverURL string) (Registrar, error) {
			return matrix.NewClient(homeserverURL)
		},
		logger: slog.Default().With("component", "guest"),
	}
}

// EnsureGuestIdentity returns the session's guest identity, provisioning one
// on first use. Repeat calls return the stored identity without touching the
// network. The display name is applied best-effort after login.
func (p *Provisioner) EnsureGuestIdentity(ctx context.Context, displayName string) (*session.GuestIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if s.Guest != nil {
		if s.Guest.Homeserver != p.homeserver {
			return nil, fmt.Errorf("identity %s on %s: %w",
				s.Guest.UserID, s.Guest.Homeserver, ErrHomeserverMismatch)
		}
		return s.Guest, nil
	}

	localpart := guestLocalpart()
	password, err := guestPassword()
	if err != nil {
		return nil, fmt.Errorf("generating guest password: %w", err)
	}

	registrar, err := p.newRegistrar(p.homeserver)
	if err != nil {
		return nil, fmt.Errorf("creating registration client: %w", err)
	}

	if _, err := registrar.RegisterShared(ctx, p.sharedSecret, localpart, password); err != nil {
		return nil, fmt.Errorf("provisioning guest account: %w", err)
	}

	creds, err := registrar.Login(ctx, localpart, password)
	if err != nil {
		return nil, fmt.Errorf("authenticating guest account: %w", err)
	}

	if displayName != "" {
		if err := registrar.SetDisplayName(ctx, displayName); err != nil {
			p.logger.Warn("setting guest display name failed", "error", err)
		}
	}

	identity := &session.GuestIdentity{
		UserID:      creds.UserID,
		AccessToken: creds.AccessToken,
		DeviceID:    creds.DeviceID,
		Homeserver:  p.homeserver,
	}
	if err := p.store.Set(ctx, session.Patch{Guest: identity}); err != nil {
		return nil, fmt.Errorf("persisting guest identity: %w", err)
	}

	metrics.GuestProvisioned()
	p.logger.Info("guest identity provisioned", "user_id", identity.UserID)
	return identity, nil
}

// guestLocalpart derives a fresh unguessable account name.
func guestLocalpart() string {
	return "guest-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

// guestPassword generates a throwaway high-entropy password. It is used once
// to obtain a long-lived token and then only retained server-side.
func guestPassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ABOUTME: Thin wrapper around mautrix exposing the calls the module needs
// ABOUTME: Covers shared-secret registration, login, room lifecycle, sending, history, and sync

package matrix

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Client wraps a mautrix client. Build one per identity: anonymous for
// registration and login, token-authenticated for everything else.
type Client struct {
	api    *mautrix.Client
	logger *slog.Logger
}

// Credentials is what a successful login yields.
type Credentials struct {
	UserID      id.UserID
	AccessToken string
	DeviceID    id.DeviceID
}

// RoomRequest describes a room to create.
type RoomRequest struct {
	Name       string
	Topic      string
	Preset     string
	Invite     []id.UserID
	IsDirect   bool
	IsSpace    bool
	NoFederate bool
}

// HistoryPage is one backward page of room timeline events, newest first.
// Next is the pagination token for the next (older) page, empty when the
// timeline start has been reached.
type HistoryPage struct {
	Events []*event.Event
	Next   string
}

// NewClient returns an unauthenticated client for the given homeserver,
// suitable for registration and login.
func NewClient(homeserverURL string) (*Client, error) {
	return NewClientWithToken(homeserverURL, "", "")
}

// NewClientWithToken returns a client authenticated with an existing access
// token.
func NewClientWithToken(homeserverURL string, userID id.UserID, accessToken string) (*Client, error) {
	api, err := mautrix.NewClient(homeserverURL, userID, accessToken)
	if err != nil {
		return nil, fmt.Errorf("creating protocol client: %w", err)
	}
	return &Client{
		api:    api,
		logger: slog.Default().With("component", "matrix"),
	}, nil
}

// UserID returns the authenticated user id, empty for anonymous clients.
func (c *Client) UserID() id.UserID {
	return c.api.UserID
}

// AccessToken returns the current access token.
func (c *Client) AccessToken() string {
	return c.api.AccessToken
}

// HomeserverURL returns the configured homeserver base URL.
func (c *Client) HomeserverURL() string {
	return c.api.HomeserverURL.String()
}

// registerNonceResp and registerReq follow the Synapse shared-secret
// registration admin API.
type registerNonceResp struct {
	Nonce string `json:"nonce"`
}

type registerReq struct {
	Nonce    string `json:"nonce"`
	Username string `json:"username"`
	Password string `json:"password"`
	Admin    bool   `json:"admin"`
	MAC      string `json:"mac"`
}

type registerResp struct {
	UserID id.UserID `json:"user_id"`
}

// RegisterShared creates a non-admin account through the Synapse
// shared-secret registration endpoint: fetch a nonce, HMAC it together with
// the credentials, then post the registration.
func (c *Client) RegisterShared(ctx context.Context, sharedSecret, username, password string) (id.UserID, error) {
	regURL := c.api.BuildURL(mautrix.SynapseAdminURLPath{"v1", "register"})

	var nonceResp registerNonceResp
	_, err := c.api.MakeFullRequest(ctx, mautrix.FullRequest{
		Method:       http.MethodGet,
		URL:          regURL,
		ResponseJSON: &nonceResp,
	})
	if err != nil {
		return "", fmt.Errorf("fetching registration nonce: %w", err)
	}

	mac := hmac.New(sha1.New, []byte(sharedSecret))
	mac.Write([]byte(nonceResp.Nonce))
	mac.Write([]byte{0})
	mac.Write([]byte(username))
	mac.Write([]byte{0})
	mac.Write([]byte(password))
	mac.Write([]byte{0})
	mac.Write([]byte("notadmin"))

	var resp registerResp
	_, err = c.api.MakeFullRequest(ctx, mautrix.FullRequest{
		Method: http.MethodPost,
		URL:    regURL,
		RequestJSON: registerReq{
			Nonce:    nonceResp.Nonce,
			Username: username,
			Password: password,
			Admin:    false,
			MAC:      hex.EncodeToString(mac.Sum(nil)),
		},
		ResponseJSON: &resp,
	})
	if err != nil {
		return "", fmt.Errorf("registering account %s: %w", username, err)
	}

	c.logger.Info("registered guest account", "user_id", resp.UserID)
	return resp.UserID, nil
}

// Login authenticates with a password and stores the resulting credentials
// on this client.
func (c *Client) Login(ctx context.Context, username, password string) (*Credentials, error) {
	resp, err := c.api.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: username,
		},
		Password:                 password,
		InitialDeviceDisplayName: "foyer chat",
		StoreCredentials:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("logging in as %s: %w", username, err)
	}
	return &Credentials{
		UserID:      resp.UserID,
		AccessToken: resp.AccessToken,
		DeviceID:    resp.DeviceID,
	}, nil
}

// Whoami resolves the identity behind the current access token.
func (c *Client) Whoami(ctx context.Context) (id.UserID, error) {
	resp, err := c.api.Whoami(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving token identity: %w", err)
	}
	return resp.UserID, nil
}

// SetDisplayName sets the authenticated user's display name.
func (c *Client) SetDisplayName(ctx context.Context, name string) error {
	if err := c.api.SetDisplayName(ctx, name); err != nil {
		return fmt.Errorf("setting display name: %w", err)
	}
	return nil
}

// CreateRoom creates a room and returns its id.
func (c *Client) CreateRoom(ctx context.Context, req RoomRequest) (id.RoomID, error) {
	creation := make(map[string]interface{})
	if req.IsSpace {
		creation["type"] = "m.space"
	}
	if req.NoFederate {
		creation["m.federate"] = false
	}
	if len(creation) == 0 {
		creation = nil
	}

	resp, err := c.api.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Visibility:      "private",
		Name:            req.Name,
		Topic:           req.Topic,
		Preset:          req.Preset,
		Invite:          req.Invite,
		IsDirect:        req.IsDirect,
		CreationContent: creation,
	})
	if err != nil {
		return "", fmt.Errorf("creating room: %w", err)
	}
	return resp.RoomID, nil
}

// Invite invites a user to a room.
func (c *Client) Invite(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) error {
	_, err := c.api.InviteUser(ctx, roomID, &mautrix.ReqInviteUser{
		UserID: userID,
		Reason: reason,
	})
	if err != nil {
		return fmt.Errorf("inviting %s to %s: %w", userID, roomID, err)
	}
	return nil
}

// Join joins a room by id.
func (c *Client) Join(ctx context.Context, roomID id.RoomID) error {
	if _, err := c.api.JoinRoomByID(ctx, roomID); err != nil {
		return fmt.Errorf("joining %s: %w", roomID, err)
	}
	return nil
}

// Leave leaves a room by id.
func (c *Client) Leave(ctx context.Context, roomID id.RoomID) error {
	if _, err := c.api.LeaveRoom(ctx, roomID); err != nil {
		return fmt.Errorf("leaving %s: %w", roomID, err)
	}
	return nil
}

// Membership returns the given user's membership state in a room. A
// NotFound error means the user has no membership there.
func (c *Client) Membership(ctx context.Context, roomID id.RoomID, userID id.UserID) (event.Membership, error) {
	var member event.MemberEventContent
	err := c.api.StateEvent(ctx, roomID, event.StateMember, userID.String(), &member)
	if err != nil {
		return "", fmt.Errorf("fetching membership of %s in %s: %w", userID, roomID, err)
	}
	return member.Membership, nil
}

// SendMessage sends a plain text message and returns the event id.
func (c *Client) SendMessage(ctx context.Context, roomID id.RoomID, body string) (id.EventID, error) {
	resp, err := c.api.SendMessageEvent(ctx, roomID, event.EventMessage, &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body,
	})
	if err != nil {
		return "", fmt.Errorf("sending message to %s: %w", roomID, err)
	}
	return resp.EventID, nil
}

// SendNotice sends a notice rendered from markdown. Notices are for
// machine-generated text; clients do not treat them as customer messages.
func (c *Client) SendNotice(ctx context.Context, roomID id.RoomID, markdown string) (id.EventID, error) {
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    markdown,
	}
	if html, err := renderMarkdown(markdown); err == nil {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}

	resp, err := c.api.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("sending notice to %s: %w", roomID, err)
	}
	return resp.EventID, nil
}

// SendState sends a state event.
func (c *Client) SendState(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, content interface{}) error {
	if _, err := c.api.SendStateEvent(ctx, roomID, eventType, stateKey, content); err != nil {
		return fmt.Errorf("sending %s state to %s: %w", eventType.Type, roomID, err)
	}
	return nil
}

// History fetches one backward page of message events. Pass an empty token
// to start from the newest event.
func (c *Client) History(ctx context.Context, roomID id.RoomID, from string, limit int) (*HistoryPage, error) {
	filter := &mautrix.FilterPart{
		Types: []event.Type{event.EventMessage},
	}
	resp, err := c.api.Messages(ctx, roomID, from, "", mautrix.DirectionBackward, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", roomID, err)
	}
	return &HistoryPage{Events: resp.Chunk, Next: resp.End}, nil
}

// OnMessage registers a handler for live message events from sync.
func (c *Client) OnMessage(handler func(ctx context.Context, evt *event.Event)) error {
	syncer, ok := c.api.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", c.api.Syncer)
	}
	syncer.OnEventType(event.EventMessage, handler)
	return nil
}

// OnInvite registers a handler for room invites addressed to this client's
// user.
func (c *Client) OnInvite(handler func(ctx context.Context, roomID id.RoomID, sender id.UserID)) error {
	syncer, ok := c.api.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", c.api.Syncer)
	}
	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		if evt.GetStateKey() != string(c.api.UserID) {
			return
		}
		content, ok := evt.Content.Parsed.(*event.MemberEventContent)
		if !ok || content.Membership != event.MembershipInvite {
			return
		}
		handler(ctx, evt.RoomID, evt.Sender)
	})
	return nil
}

// OnSyncBatch registers a hook invoked once per completed sync response,
// before its events are dispatched. The since token is empty exactly for
// the initial batch.
func (c *Client) OnSyncBatch(hook func(since string)) error {
	syncer, ok := c.api.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", c.api.Syncer)
	}
	syncer.OnSync(func(ctx context.Context, resp *mautrix.RespSync, since string) bool {
		hook(since)
		return true
	})
	return nil
}

// Sync runs the long-poll sync loop until the context is canceled or a
// fatal error occurs. Transient errors are retried internally.
func (c *Client) Sync(ctx context.Context) error {
	return c.api.SyncWithContext(ctx)
}

// StopSync aborts a running sync loop.
func (c *Client) StopSync() {
	c.api.StopSync()
}

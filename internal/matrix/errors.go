// ABOUTME: Protocol error classification and department-aware user-facing messages
// ABOUTME: Maps mautrix/transport errors onto the categories callers branch on

package matrix

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"maunium.net/go/mautrix"
)

// Kind classifies a protocol error by how callers should react to it.
type Kind int

const (
	// KindOther covers everything without dedicated handling.
	KindOther Kind = iota
	// KindForbidden covers permission and credential failures.
	KindForbidden
	// KindNotFound covers missing rooms, events, and state.
	KindNotFound
	// KindRateLimited covers server throttling.
	KindRateLimited
	// KindNetwork covers transport failures where the server state is
	// unknown; these must never be read as a verdict about a room.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindNetwork:
		return "network"
	default:
		return "other"
	}
}

// Classify maps an error onto a Kind. It unwraps freely, so wrapped errors
// from any layer of the module classify the same as the originals.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}

	switch {
	case errors.Is(err, mautrix.MForbidden),
		errors.Is(err, mautrix.MUnknownToken),
		errors.Is(err, mautrix.MMissingToken),
		errors.Is(err, mautrix.MGuestAccessForbidden):
		return KindForbidden
	case errors.Is(err, mautrix.MNotFound):
		return KindNotFound
	case errors.Is(err, mautrix.MLimitExceeded):
		return KindRateLimited
	}

	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) && httpErr.Response != nil {
		switch httpErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return KindForbidden
		case http.StatusNotFound, http.StatusGone:
			return KindNotFound
		case http.StatusTooManyRequests:
			return KindRateLimited
		}
		// A response arrived, so the transport worked.
		return KindOther
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindNetwork
	}

	return KindOther
}

// IsForbidden reports whether err classifies as a permission failure.
func IsForbidden(err error) bool { return Classify(err) == KindForbidden }

// IsNotFound reports whether err classifies as a missing resource.
func IsNotFound(err error) bool { return Classify(err) == KindNotFound }

// IsRateLimited reports whether err classifies as throttling.
func IsRateLimited(err error) bool { return Classify(err) == KindRateLimited }

// IsNetwork reports whether err classifies as a transport failure.
func IsNetwork(err error) bool { return Classify(err) == KindNetwork }

// RoomGone reports whether err is a verdict that a room is unusable for us
// (gone or no longer accessible), as opposed to a transient failure.
func RoomGone(err error) bool {
	k := Classify(err)
	return k == KindForbidden || k == KindNotFound
}

// UserMessage translates an error into text fit to show a customer. The
// department display name personalizes it when known.
func UserMessage(err error, department string) string {
	name := department
	if name == "" {
		name = "support"
	}
	switch Classify(err) {
	case KindForbidden:
		return fmt.Sprintf("You no longer have access to the %s conversation. Please start a new chat.", name)
	case KindNotFound:
		return fmt.Sprintf("The %s conversation is no longer available. A new one will be started for you.", name)
	case KindRateLimited:
		return "The chat service is busy right now. Please wait a moment and try again."
	case KindNetwork:
		return "We're having trouble reaching the chat service. Check your connection and try again."
	default:
		return fmt.Sprintf("Something went wrong contacting %s. Please try again.", name)
	}
}

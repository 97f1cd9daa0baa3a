package feed

import (
	"context"

	"quotegate/internal/quote"
)

// ControlEvent is the supervisor-relevant meaning of a control frame.
type ControlEvent int

const (
	ControlNone ControlEvent = iota
	ControlAuthOK
	ControlAuthFailed
)

// Scheme captures everything provider-specific about a connection's wire
// dialogue: the auth handshake and how subscription messages are built. The
// feed client is otherwise identical across providers.
type Scheme interface {
	// ImmediateAuth reports whether the connection accepts subscriptions as
	// soon as the socket opens (stateless per-message auth) or only after an
	// asynchronous login acknowledgment (stateful auth).
	ImmediateAuth() bool

	// LoginFrame returns the explicit login message to send right after
	// connecting, or nil when the scheme has no login step.
	LoginFrame(ctx context.Context) ([]byte, error)

	// HandleControl classifies an inbound control frame.
	HandleControl(raw string) ControlEvent

	// SubscribeFrame builds the registration (register=true) or
	// deregistration message for key.
	SubscribeFrame(ctx context.Context, key quote.InstrumentKey, register bool) ([]byte, error)
}

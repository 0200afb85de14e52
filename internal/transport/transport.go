// Package transport defines the byte-stream interface the dispatcher
// consumes (spec §6) and a gorilla/websocket-backed default implementation
// of it for a single client connection.
package transport

import "github.com/AlexLonberg/js-api-router/internal/apierrors"

// Event is one of the state-change notifications delivered to a state
// handler: open, close, error, or type (a received-message-type mismatch).
type Event string

const (
	EventOpen  Event = "open"
	EventClose Event = "close"
	EventError Event = "error"
	EventType  Event = "type"
)

// StateHandler is notified of connection lifecycle events; err is non-nil
// for EventError and EventType.
type StateHandler func(event Event, err error)

// ReceiveHandler is invoked for every inbound message, tagged with the
// transport's message type (e.g. binary vs text) and the raw payload.
type ReceiveHandler func(typeTag int, buf []byte)

// Transport is the interface the dispatcher consumes (spec §6); it is
// deliberately minimal — connection setup, reconnection policy, and framing
// above the byte level live outside this package.
type Transport interface {
	// IsEnabled reports whether Enable(true) has been called and not since
	// reverted.
	IsEnabled() bool
	// IsConnected reports whether the underlying connection is currently
	// open and usable for Send.
	IsConnected() bool
	// Enable toggles whether the transport should be connected; disabling
	// an active connection closes it.
	Enable(on bool) error
	// ChangeStateHandler replaces the lifecycle event callback.
	ChangeStateHandler(fn StateHandler)
	// ChangeReceiveHandler replaces the inbound message callback.
	ChangeReceiveHandler(fn ReceiveHandler)
	// Send writes buf to the connection, returning an error rather than
	// panicking when the transport is not connected.
	Send(buf []byte) error
	// SendOrThrow behaves like Send but panics on failure; used by callers
	// that have already verified IsConnected and want a non-error-checked
	// fast path.
	SendOrThrow(buf []byte)
}

// wrapSendErr tags a low-level send failure with the ConnectionError/
// SendError taxonomy (spec §6).
func wrapSendErr(cause error) error {
	return apierrors.Wrap(apierrors.Send, "writing to transport", cause)
}

// wrapReceiveErr tags a low-level receive failure with the ConnectionError/
// ReceiveError taxonomy (spec §6).
func wrapReceiveErr(cause error) error {
	return apierrors.Wrap(apierrors.Receive, "reading from transport", cause)
}

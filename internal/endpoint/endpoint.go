// Package endpoint implements the per-endpoint-name handle from spec §4.I:
// a lightweight delegator over the dispatcher that injects endpoint-local
// defaults and guards every send on enabled/alive.
package endpoint

import (
	"context"
	"sync"
	"time"

	"github.com/AlexLonberg/js-api-router/internal/apierrors"
	"github.com/AlexLonberg/js-api-router/internal/dispatch"
	"github.com/AlexLonberg/js-api-router/internal/interrupt"
	"github.com/AlexLonberg/js-api-router/internal/mdp"
	"github.com/AlexLonberg/js-api-router/internal/mfp"
)

// Dispatcher is the subset of *dispatch.Dispatcher an endpoint handle
// needs, so tests can substitute a fake; production callers pass a real
// *dispatch.Dispatcher.
type Dispatcher interface {
	RegisterEndpoint(r dispatch.EndpointReceiver)
	RegisterReservedBinary(r dispatch.EndpointReceiver)
	UnregisterEndpoint(name string)
	Message(endpoint string, rec mdp.Record, opts dispatch.SendOptions) *dispatch.Context
	Announce(endpoint string, rec mdp.Record, expected []uint32, opts dispatch.SendOptions) *dispatch.Context
	Request(endpoint string, rec mdp.Record, opts dispatch.SendOptions) *dispatch.Context
	Binary(refID, key uint32, bin []byte, final bool, streaming bool) error
	Respond(reqCtx *dispatch.Context, rec mdp.Record) error
}

// MessageHandler receives a message-kind delivery addressed to this endpoint.
type MessageHandler func(rec *mdp.Record)

// RequestHandler receives an incoming request addressed to this endpoint;
// it answers by calling Handle.Respond with reqCtx.
type RequestHandler func(reqCtx *dispatch.Context, rec *mdp.Record)

// BinaryHandler receives a raw binary frame delivered to the reserved
// binary endpoint (spec §4.H "binary: if a reserved-binary endpoint is
// configured").
type BinaryHandler func(frame *mfp.Frame)

// Options configures a Handle's endpoint-local defaults (spec §4.I
// "injects endpoint-local defaults (timeouts, need-ack, checksum)").
type Options struct {
	// DefaultTimeout applies to Message/Announce/Request calls whose SendOptions
	// leave Interrupt.Timeout unset.
	DefaultTimeout time.Duration
	// DefaultNeedAck applies to Message/Announce/Request when the caller
	// doesn't explicitly set SendOptions.NeedAck.
	DefaultNeedAck bool
	OnMessage      MessageHandler
	OnRequest      RequestHandler
	OnBinary       BinaryHandler
	// ReservedBinary, if true, registers this handle as the dispatcher's
	// one reserved-binary receiver instead of a by-name endpoint.
	ReservedBinary bool
}

// Handle is the subscription over a dispatcher scoped to one endpoint name
// (spec §4.I).
type Handle struct {
	name       string
	dispatcher Dispatcher

	mu      sync.RWMutex
	enabled bool
	alive   bool

	defaultTimeout time.Duration
	defaultNeedAck bool
	onMessage      MessageHandler
	onRequest      RequestHandler
	onBinary       BinaryHandler

	pendingMu sync.Mutex
	pending   map[*dispatch.Context]struct{}
}

// New registers and returns a handle bound to name. The handle starts
// enabled and alive; callers close it with Close() when done.
func New(d Dispatcher, name string, opts Options) *Handle {
	h := &Handle{
		name:           name,
		dispatcher:     d,
		enabled:        true,
		alive:          true,
		defaultTimeout: opts.DefaultTimeout,
		defaultNeedAck: opts.DefaultNeedAck,
		onMessage:      opts.OnMessage,
		onRequest:      opts.OnRequest,
		onBinary:       opts.OnBinary,
		pending:        make(map[*dispatch.Context]struct{}),
	}
	if opts.ReservedBinary {
		d.RegisterReservedBinary(h)
	} else {
		d.RegisterEndpoint(h)
	}
	return h
}

// Name implements dispatch.EndpointReceiver.
func (h *Handle) Name() string { return h.name }

// EnabledAndAlive implements dispatch.EndpointReceiver.
func (h *Handle) EnabledAndAlive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.enabled && h.alive
}

// Enable toggles delivery to this handle. Disabling aborts every context
// currently tracked as pending for this endpoint (spec §4.I "enable(false)
// aborts all pending contexts whose endpoint matches this handle").
func (h *Handle) Enable(on bool) {
	h.mu.Lock()
	h.enabled = on
	h.mu.Unlock()
	if !on {
		h.AbortPending(apierrors.Wrap(apierrors.Abort, "endpoint disabled", nil))
	}
}

// Close removes this handle from the dispatcher and aborts its pending
// contexts (spec §4.I "close() removes the handle ... and aborts those
// contexts").
func (h *Handle) Close() {
	h.mu.Lock()
	h.alive = false
	h.mu.Unlock()
	h.dispatcher.UnregisterEndpoint(h.name)
	h.AbortPending(apierrors.Wrap(apierrors.Abort, "endpoint closed", nil))
}

// AbortPending implements dispatch.EndpointReceiver: it aborts every
// outgoing/incoming context this handle is currently tracking.
func (h *Handle) AbortPending(err error) {
	h.pendingMu.Lock()
	ctxs := make([]*dispatch.Context, 0, len(h.pending))
	for c := range h.pending {
		ctxs = append(ctxs, c)
	}
	h.pending = make(map[*dispatch.Context]struct{})
	h.pendingMu.Unlock()
	for _, c := range ctxs {
		c.Abort()
	}
}

func (h *Handle) track(c *dispatch.Context) *dispatch.Context {
	h.pendingMu.Lock()
	h.pending[c] = struct{}{}
	h.pendingMu.Unlock()
	return c
}

func (h *Handle) untrack(c *dispatch.Context) {
	h.pendingMu.Lock()
	delete(h.pending, c)
	h.pendingMu.Unlock()
}

// DeliverMessage implements dispatch.EndpointReceiver.
func (h *Handle) DeliverMessage(rec *mdp.Record) {
	if h.onMessage != nil {
		h.onMessage(rec)
	}
}

// DeliverBinary implements dispatch.EndpointReceiver. Only the handle
// registered via Options.ReservedBinary ever receives this call.
func (h *Handle) DeliverBinary(frame *mfp.Frame) {
	if h.onBinary != nil {
		h.onBinary(frame)
	}
}

// DeliverRequest implements dispatch.EndpointReceiver.
func (h *Handle) DeliverRequest(reqCtx *dispatch.Context) {
	h.track(reqCtx)
	if h.onRequest != nil {
		h.onRequest(reqCtx, reqCtx.Request)
	}
}

func (h *Handle) applyDefaults(opts dispatch.SendOptions) dispatch.SendOptions {
	if !opts.NeedAck && h.defaultNeedAck {
		opts.NeedAck = true
	}
	if opts.Interrupt.Timeout == 0 && h.defaultTimeout > 0 {
		opts.Interrupt.Timeout = h.defaultTimeout
	}
	return opts
}

var errDisabled = apierrors.Wrap(apierrors.Status, "endpoint handle is not enabled", nil)

// Message sends a message-kind record to this endpoint's name.
func (h *Handle) Message(rec mdp.Record, opts dispatch.SendOptions) *dispatch.Context {
	if !h.EnabledAndAlive() {
		return dispatch.NewPreFinishedContext(0, h.name, errDisabled)
	}
	rec.Endpoint = h.name
	return h.track(h.dispatcher.Message(h.name, rec, h.applyDefaults(opts)))
}

// Announce sends a data+expected frame declaring the binary keys that will
// follow.
func (h *Handle) Announce(rec mdp.Record, expected []uint32, opts dispatch.SendOptions) *dispatch.Context {
	if !h.EnabledAndAlive() {
		return dispatch.NewPreFinishedContext(0, h.name, errDisabled)
	}
	rec.Endpoint = h.name
	return h.track(h.dispatcher.Announce(h.name, rec, expected, h.applyDefaults(opts)))
}

// Request sends a request-kind record and returns the context tracking its
// ack/response.
func (h *Handle) Request(rec mdp.Record, opts dispatch.SendOptions) *dispatch.Context {
	if !h.EnabledAndAlive() {
		return dispatch.NewPreFinishedContext(0, h.name, errDisabled)
	}
	rec.Endpoint = h.name
	return h.track(h.dispatcher.Request(h.name, rec, h.applyDefaults(opts)))
}

// RequestContext additionally honors an external context.Context: cancelling
// ctx with interrupt.ErrSoft as its cause soft-aborts the request, any other
// cancellation hard-aborts it.
func (h *Handle) RequestContext(ctx context.Context, rec mdp.Record, opts dispatch.SendOptions) *dispatch.Context {
	if opts.Interrupt.External == nil {
		opts.Interrupt.External = ctx
	}
	return h.Request(rec, opts)
}

// Binary streams one chunk addressed to refID (a prior Announce/Request id).
func (h *Handle) Binary(refID, key uint32, bin []byte, final bool, streaming bool) error {
	if !h.EnabledAndAlive() {
		return errDisabled
	}
	return h.dispatcher.Binary(refID, key, bin, final, streaming)
}

// Respond answers an incoming request context previously delivered through
// OnRequest.
func (h *Handle) Respond(reqCtx *dispatch.Context, rec mdp.Record) error {
	rec.Endpoint = h.name
	defer h.untrack(reqCtx)
	return h.dispatcher.Respond(reqCtx, rec)
}

// SoftAbortCause is re-exported so callers building a
// context.WithCancelCause for RequestContext don't need to import
// internal/interrupt directly.
var SoftAbortCause = interrupt.ErrSoft

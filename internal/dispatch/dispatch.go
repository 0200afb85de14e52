// Package dispatch implements the endpoint dispatcher from spec §4.H: it
// multiplexes outgoing and incoming MDP exchanges over one transport,
// routes inbound frames by endpoint name, and serializes delivery to a
// global fallback handler.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AlexLonberg/js-api-router/internal/apierrors"
	"github.com/AlexLonberg/js-api-router/internal/codec"
	"github.com/AlexLonberg/js-api-router/internal/interrupt"
	"github.com/AlexLonberg/js-api-router/internal/mdp"
	"github.com/AlexLonberg/js-api-router/internal/mfp"
	"github.com/AlexLonberg/js-api-router/internal/queue"
	"github.com/AlexLonberg/js-api-router/internal/telemetry"
	"github.com/AlexLonberg/js-api-router/internal/transport"
)

// EventKind is one of the dispatcher event codes delivered to the global
// handler (spec §6).
type EventKind string

const (
	EventNone    EventKind = "none"
	EventMessage EventKind = "message"
	EventRequest EventKind = "request"
	EventBinary  EventKind = "binary"
	EventUnknown EventKind = "unknown"
	EventUnpack  EventKind = "unpack"
	EventPack    EventKind = "pack"
	EventOpen    EventKind = "open"
	EventClose   EventKind = "close"
	EventError   EventKind = "error"
	EventEnable  EventKind = "enable"
)

// GlobalEvent is the payload handed to the global handler for any frame or
// transport condition not claimed by a registered endpoint.
type GlobalEvent struct {
	Kind    EventKind
	Frame   *mfp.Frame
	Record  *mdp.Record
	Context *Context
	Err     error
}

// GlobalHandler processes events the dispatcher could not route elsewhere.
// Invocations are serialized: the next call starts only after the previous
// one returns (spec §8 property 7).
type GlobalHandler func(ev GlobalEvent)

// EndpointReceiver is implemented by an endpoint handle (package
// internal/endpoint); the dispatcher holds receivers behind this interface
// to avoid importing the endpoint package (spec §9 "cyclic references").
type EndpointReceiver interface {
	Name() string
	EnabledAndAlive() bool
	DeliverMessage(rec *mdp.Record)
	DeliverBinary(frame *mfp.Frame)
	DeliverRequest(reqCtx *Context)
	AbortPending(err error)
}

// Options configures a Dispatcher.
type Options struct {
	Transport          transport.Transport
	Checksum           codec.Checksum
	ChecksumMode       int
	MaxFiles           int
	GlobalHandler      GlobalHandler
	AutoAbortUnclaimed bool
	Logger             *slog.Logger
	Metrics            *telemetry.Metrics
}

// Dispatcher is the multiplexer described in spec §4.H.
type Dispatcher struct {
	transport    transport.Transport
	framer       *mdp.Framer
	checksum     codec.Checksum
	checksumMode int
	maxFiles     int
	autoAbort    bool
	metrics      *telemetry.Metrics

	mu             sync.Mutex
	outgoing       map[uint32]*Context
	incoming       map[uint32]*Context
	endpoints      map[string]EndpointReceiver
	reservedBinary EndpointReceiver

	handlerQueue *queue.AsyncQueue
	globalHandle GlobalHandler
}

// New builds a Dispatcher wired to opts.Transport, installing the receive
// handler that drives all inbound routing.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		transport:    opts.Transport,
		framer:       mdp.New(),
		checksum:     opts.Checksum,
		checksumMode: opts.ChecksumMode,
		maxFiles:     opts.MaxFiles,
		autoAbort:    opts.AutoAbortUnclaimed,
		metrics:      opts.Metrics,
		outgoing:     make(map[uint32]*Context),
		incoming:     make(map[uint32]*Context),
		endpoints:    make(map[string]EndpointReceiver),
		handlerQueue: queue.NewAsyncQueue("dispatch-global", 1, opts.Logger),
		globalHandle: opts.GlobalHandler,
	}
	d.handlerQueue.SetMetrics(opts.Metrics)
	if d.transport != nil {
		d.transport.ChangeReceiveHandler(d.onReceive)
		d.transport.ChangeStateHandler(d.onState)
	}
	return d
}

// RegisterEndpoint attaches a receiver under its own name; a duplicate name
// overwrites any previous registration.
func (d *Dispatcher) RegisterEndpoint(r EndpointReceiver) {
	d.mu.Lock()
	d.endpoints[r.Name()] = r
	d.mu.Unlock()
}

// RegisterReservedBinary attaches the one endpoint handle allowed to
// receive binary frames that arrive outside any message/request envelope.
func (d *Dispatcher) RegisterReservedBinary(r EndpointReceiver) {
	d.mu.Lock()
	d.reservedBinary = r
	d.mu.Unlock()
}

// UnregisterEndpoint removes a receiver by name and aborts any pending
// contexts addressed to it.
func (d *Dispatcher) UnregisterEndpoint(name string) {
	d.mu.Lock()
	r, ok := d.endpoints[name]
	delete(d.endpoints, name)
	d.mu.Unlock()
	if ok {
		r.AbortPending(apierrors.Wrap(apierrors.Abort, "endpoint closed", nil))
	}
}

func (d *Dispatcher) emit(ev GlobalEvent) {
	if d.globalHandle == nil {
		return
	}
	d.handlerQueue.Add(context.Background(), 0, func(context.Context) error {
		d.globalHandle(ev)
		return nil
	})
}

func (d *Dispatcher) onState(event transport.Event, err error) {
	switch event {
	case transport.EventOpen:
		d.emit(GlobalEvent{Kind: EventOpen})
	case transport.EventClose:
		d.emit(GlobalEvent{Kind: EventClose})
	case transport.EventError:
		d.emit(GlobalEvent{Kind: EventError, Err: err})
	}
}

func (d *Dispatcher) removeContext(c *Context) {
	d.mu.Lock()
	if c.isIncoming {
		delete(d.incoming, c.id)
	} else {
		delete(d.outgoing, c.id)
	}
	d.mu.Unlock()
}

// sendLocalInterruptFrame emits the service frame for a locally-initiated
// abort/timeout (spec §5 cancellation semantics).
func (d *Dispatcher) sendLocalInterruptFrame(id uint32, isIncoming bool, kind apierrors.Kind) {
	code := mfp.ServiceAbort
	if kind == apierrors.Timeout {
		code = mfp.ServiceTimeout
	}
	// Aborting our own outgoing context: the id is ours, so ownRefId=true
	// (see DESIGN.md "service frame ownRefId orientation"). Aborting our
	// own incoming context: the id belongs to the peer, so ownRefId=false.
	ownRefID := !isIncoming
	frame := &mfp.Frame{
		Protocol:    mfp.ProtocolService,
		ID:          d.framer.NextID(),
		ServiceCode: code,
		OwnRefID:    ownRefID,
		RefID:       id,
	}
	buf, err := mfp.Encode(frame, mfp.EncodeOptions{Checksum: d.checksum})
	if err != nil || d.transport == nil {
		return
	}
	d.transport.Send(buf)
}

package dispatch

import (
	"github.com/AlexLonberg/js-api-router/internal/apierrors"
	"github.com/AlexLonberg/js-api-router/internal/interrupt"
	"github.com/AlexLonberg/js-api-router/internal/mdp"
	"github.com/AlexLonberg/js-api-router/internal/mfp"
)

// SendOptions configures a single outgoing operation.
type SendOptions struct {
	NeedAck   bool
	Files     map[uint32]File
	Interrupt interrupt.Options
}

// File is re-exported so callers don't need to import internal/mdp just to
// attach binary data to a message or request.
type File = mdp.File

func (d *Dispatcher) registerOutgoing(id uint32, endpoint string, needAck, awaitsResponse bool, opts SendOptions) *Context {
	ctx := newOutgoingContext(d, id, endpoint, needAck, awaitsResponse)
	d.mu.Lock()
	d.outgoing[id] = ctx
	d.mu.Unlock()

	if opts.Interrupt.External != nil || opts.Interrupt.Timeout > 0 {
		// installInterrupt's On() callback fires synchronously if the
		// controller is already tripped, finishing ctx immediately.
		ctx.installInterrupt(interrupt.NewAbortTimeout(opts.Interrupt))
	}
	return ctx
}

func (d *Dispatcher) send(buf []byte) error {
	if d.transport == nil {
		return apierrors.Wrap(apierrors.Send, "no transport configured", nil)
	}
	if err := d.transport.Send(buf); err != nil {
		return err
	}
	return nil
}

// sendFrame wraps send with a per-protocol telemetry observation; callers
// that already have an encoded frame (rather than a raw reply buffer) use
// this instead of the bare send.
func (d *Dispatcher) sendFrame(protocol mfp.ProtocolType, buf []byte) error {
	d.metrics.ObserveFrameSent(protocol.String(), len(buf))
	return d.send(buf)
}

// finishedSynthetic builds a context pre-resolved to a synthetic
// service-ack carrying the sent id, used when the caller did not request
// needAck so no further frame will ever terminate it (spec §4.H outgoing
// step 4).
func finishedSynthetic(id uint32, endpoint string) *Context {
	c := newOutgoingContext(nil, id, endpoint, false, false)
	c.status = StatusComplete
	c.ok = true
	c.value = id
	c.result.resolve(id, nil)
	return c
}

func preFinishedError(id uint32, err error) *Context {
	c := &Context{id: id, ack: newFuture(), result: newFuture()}
	c.status = StatusPackError
	c.err = err
	c.ack.resolve(false, err)
	c.result.resolve(nil, err)
	return c
}

// NewPreFinishedContext builds a context that is already finished, for
// callers outside this package (endpoint.Handle, tests) that need to hand
// back the same Context shape without registering anything or touching a
// transport. A nil err produces a StatusComplete context with ok=true; a
// non-nil err produces a StatusLogicError context with ok=false.
func NewPreFinishedContext(id uint32, endpoint string, err error) *Context {
	if err == nil {
		c := newOutgoingContext(nil, id, endpoint, false, false)
		c.status = StatusComplete
		c.ok = true
		c.result.resolve(nil, nil)
		return c
	}
	c := preFinishedError(id, err)
	c.endpoint = endpoint
	c.status = StatusLogicError
	return c
}

// Message sends a message-kind MDP record to endpoint.
func (d *Dispatcher) Message(endpoint string, rec mdp.Record, opts SendOptions) *Context {
	id := d.framer.NextID()
	eopts := mdp.EncodeOptions{NeedAck: opts.NeedAck}
	if len(opts.Files) > 0 {
		rec.Files = opts.Files
	}
	buf, err := d.framer.EncodeMessageWithID(id, rec, eopts)
	if err != nil {
		return preFinishedError(id, err)
	}
	if err := d.sendFrame(mfp.ProtocolMessage, buf); err != nil {
		ctx := preFinishedError(id, err)
		ctx.status = StatusSendError
		return ctx
	}
	if !opts.NeedAck {
		return finishedSynthetic(id, endpoint)
	}
	return d.registerOutgoing(id, endpoint, true, false, opts)
}

// MessageLite sends a message without tracking a context; it returns the
// allocated id or an error.
func (d *Dispatcher) MessageLite(endpoint string, rec mdp.Record) (uint32, error) {
	id := d.framer.NextID()
	buf, err := d.framer.EncodeMessageWithID(id, rec, mdp.EncodeOptions{})
	if err != nil {
		return 0, err
	}
	if err := d.sendFrame(mfp.ProtocolMessage, buf); err != nil {
		return 0, err
	}
	return id, nil
}

// Announce sends a message declaring the binary keys the caller will
// stream shortly after (disposition data+expected).
func (d *Dispatcher) Announce(endpoint string, rec mdp.Record, expected []uint32, opts SendOptions) *Context {
	id := d.framer.NextID()
	eopts := mdp.EncodeOptions{NeedAck: opts.NeedAck, Disposition: mfp.DispositionDataExpected, Expected: expected}
	buf, err := d.framer.EncodeMessageWithID(id, rec, eopts)
	if err != nil {
		return preFinishedError(id, err)
	}
	if err := d.sendFrame(mfp.ProtocolMessage, buf); err != nil {
		ctx := preFinishedError(id, err)
		ctx.status = StatusSendError
		return ctx
	}
	if !opts.NeedAck {
		return finishedSynthetic(id, endpoint)
	}
	return d.registerOutgoing(id, endpoint, true, false, opts)
}

// Request sends a request-kind MDP record and waits for a response frame.
func (d *Dispatcher) Request(endpoint string, rec mdp.Record, opts SendOptions) *Context {
	id := d.framer.NextID()
	if len(opts.Files) > 0 {
		rec.Files = opts.Files
	}
	buf, err := d.framer.EncodeRequestWithID(id, rec, mdp.EncodeOptions{NeedAck: opts.NeedAck})
	if err != nil {
		return preFinishedError(id, err)
	}
	if err := d.sendFrame(mfp.ProtocolRequest, buf); err != nil {
		ctx := preFinishedError(id, err)
		ctx.status = StatusSendError
		return ctx
	}
	return d.registerOutgoing(id, endpoint, opts.NeedAck, true, opts)
}

// Ping sends a service-ping frame and (if needAck) returns a context that
// completes on the matching service-ack.
func (d *Dispatcher) Ping(opts SendOptions) *Context {
	id := d.framer.NextID()
	frame := &mfp.Frame{
		Protocol:    mfp.ProtocolService,
		ID:          id,
		ServiceCode: mfp.ServicePing,
		OwnRefID:    true,
		RefID:       id,
	}
	buf, err := mfp.Encode(frame, mfp.EncodeOptions{Checksum: d.checksum})
	if err != nil {
		return preFinishedError(id, err)
	}
	if err := d.sendFrame(mfp.ProtocolService, buf); err != nil {
		ctx := preFinishedError(id, err)
		ctx.status = StatusSendError
		return ctx
	}
	if !opts.NeedAck {
		return finishedSynthetic(id, "")
	}
	return d.registerOutgoing(id, "", true, false, opts)
}

// Binary sends one chunk of a multi-part binary stream addressed to refID
// (the id of a prior announce/request that declared this key), or a
// complete single chunk when final is true.
func (d *Dispatcher) Binary(refID, key uint32, bin []byte, final bool, streaming bool) error {
	frame := &mfp.Frame{
		Protocol:     mfp.ProtocolBinary,
		ID:           d.framer.NextID(),
		RefID:        refID,
		HasStreaming: streaming,
		HasData:      !streaming,
		Final:        final,
		Key:          key,
		Bin:          bin,
	}
	buf, err := mfp.Encode(frame, mfp.EncodeOptions{Checksum: d.checksum})
	if err != nil {
		return err
	}
	return d.sendFrame(mfp.ProtocolBinary, buf)
}

// Abort finishes an outgoing context locally and notifies the peer.
func (c *Context) Abort() {
	c.finishLocal(StatusAbort, apierrors.Wrap(apierrors.Abort, "aborted locally", nil), apierrors.Abort)
}

package dispatch

import (
	"github.com/AlexLonberg/js-api-router/internal/apierrors"
	"github.com/AlexLonberg/js-api-router/internal/mdp"
	"github.com/AlexLonberg/js-api-router/internal/mfp"
)

// onReceive is installed as the transport's receive handler; it decodes
// the frame and routes it per spec §4.H "Incoming routing".
func (d *Dispatcher) onReceive(_ int, buf []byte) {
	frame, err := mfp.Decode(buf, mfp.DecodeOptions{
		ChecksumMode: d.checksumMode,
		Checksum:     d.checksum,
		MaxFiles:     d.maxFiles,
	})
	if err != nil {
		d.emit(GlobalEvent{Kind: EventUnpack, Err: err})
		return
	}
	d.metrics.ObserveFrameReceived(frame.Protocol.String())

	d.autoAck(frame)

	switch frame.Protocol {
	case mfp.ProtocolService:
		d.routeService(frame)
	case mfp.ProtocolMessage:
		d.routeMessage(frame)
	case mfp.ProtocolBinary:
		d.routeBinary(frame)
	case mfp.ProtocolRequest:
		d.routeRequest(frame)
	case mfp.ProtocolResponse:
		d.routeResponse(frame)
	}
}

// autoAck emits a service-ack immediately after decode for any frame that
// asked for one, before any handler runs (spec §4.H "Auto-ack").
func (d *Dispatcher) autoAck(frame *mfp.Frame) {
	needAck := false
	switch frame.Protocol {
	case mfp.ProtocolMessage, mfp.ProtocolRequest, mfp.ProtocolResponse:
		needAck = frame.NeedAck
	case mfp.ProtocolBinary:
		needAck = frame.NeedAckBin
	}
	if !needAck {
		return
	}
	ack := &mfp.Frame{
		Protocol:    mfp.ProtocolService,
		ID:          d.framer.NextID(),
		ServiceCode: mfp.ServiceAck,
		OwnRefID:    false,
		RefID:       frame.ID,
	}
	buf, err := mfp.Encode(ack, mfp.EncodeOptions{Checksum: d.checksum})
	if err != nil {
		return
	}
	d.send(buf)
}

func (d *Dispatcher) routeService(frame *mfp.Frame) {
	if frame.ServiceCode == mfp.ServicePing {
		reply := &mfp.Frame{
			Protocol:    mfp.ProtocolService,
			ID:          d.framer.NextID(),
			ServiceCode: mfp.ServiceAck,
			OwnRefID:    false,
			RefID:       frame.ID,
		}
		if buf, err := mfp.Encode(reply, mfp.EncodeOptions{Checksum: d.checksum}); err == nil {
			d.send(buf)
		}
		return
	}

	ctx := d.lookupByRef(frame.RefID, frame.OwnRefID)
	if ctx == nil {
		d.metrics.IncUnknownFrame()
		d.emit(GlobalEvent{Kind: EventUnknown, Frame: frame})
		return
	}
	switch frame.ServiceCode {
	case mfp.ServiceAck:
		ctx.onServiceAck()
	case mfp.ServiceAbort:
		ctx.onServiceAbort()
	case mfp.ServiceTimeout:
		ctx.onServiceTimeout()
	default:
		ctx.onUnexpected()
	}
}

func (d *Dispatcher) lookupByRef(refID uint32, ownRefID bool) *Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ownRefID {
		return d.incoming[refID]
	}
	return d.outgoing[refID]
}

func (d *Dispatcher) lookupEndpoint(name string) EndpointReceiver {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.endpoints[name]
}

func (d *Dispatcher) maybeAutoAbort(frame *mfp.Frame) {
	if !d.autoAbort {
		return
	}
	claims := frame.Disposition == mfp.DispositionDataExpected || frame.Disposition == mfp.DispositionDataStreaming
	if !claims {
		return
	}
	abort := &mfp.Frame{
		Protocol:    mfp.ProtocolService,
		ID:          d.framer.NextID(),
		ServiceCode: mfp.ServiceAbort,
		OwnRefID:    false,
		RefID:       frame.ID,
	}
	if buf, err := mfp.Encode(abort, mfp.EncodeOptions{Checksum: d.checksum}); err == nil {
		d.send(buf)
	}
}

func (d *Dispatcher) routeMessage(frame *mfp.Frame) {
	rec, err := mdp.Decode(frame)
	if err != nil {
		d.emit(GlobalEvent{Kind: EventUnpack, Frame: frame, Err: err})
		return
	}
	if r := d.lookupEndpoint(rec.Endpoint); r != nil && r.EnabledAndAlive() {
		r.DeliverMessage(rec)
		return
	}
	d.maybeAutoAbort(frame)
	d.emit(GlobalEvent{Kind: EventMessage, Frame: frame, Record: rec})
}

func (d *Dispatcher) routeBinary(frame *mfp.Frame) {
	d.mu.Lock()
	r := d.reservedBinary
	d.mu.Unlock()
	if r != nil && r.EnabledAndAlive() {
		r.DeliverBinary(frame)
		return
	}
	d.maybeAutoAbort(frame)
	d.emit(GlobalEvent{Kind: EventBinary, Frame: frame})
}

func (d *Dispatcher) routeRequest(frame *mfp.Frame) {
	rec, err := mdp.Decode(frame)
	if err != nil {
		d.emit(GlobalEvent{Kind: EventUnpack, Frame: frame, Err: err})
		return
	}
	reqCtx := newIncomingContext(d, frame.ID, rec.Endpoint, rec)
	d.mu.Lock()
	d.incoming[frame.ID] = reqCtx
	d.mu.Unlock()

	if r := d.lookupEndpoint(rec.Endpoint); r != nil && r.EnabledAndAlive() {
		r.DeliverRequest(reqCtx)
		return
	}
	d.emit(GlobalEvent{Kind: EventRequest, Frame: frame, Record: rec, Context: reqCtx})
}

func (d *Dispatcher) routeResponse(frame *mfp.Frame) {
	d.mu.Lock()
	ctx, ok := d.outgoing[frame.RefID]
	d.mu.Unlock()
	if !ok {
		d.metrics.IncUnknownFrame()
		d.emit(GlobalEvent{Kind: EventUnknown, Frame: frame})
		return
	}
	rec, err := mdp.Decode(frame)
	if err != nil {
		ctx.finish(StatusLogicError, false, nil, apierrors.Wrap(apierrors.Unpack, "decoding response", err))
		return
	}
	ctx.onResponse(rec)
}

// Respond sends a response frame for an incoming request context.
func (d *Dispatcher) Respond(reqCtx *Context, rec mdp.Record) error {
	buf, err := d.framer.EncodeResponseWithID(d.framer.NextID(), reqCtx.id, rec, mdp.EncodeOptions{Checksum: d.checksum})
	if err != nil {
		return err
	}
	if err := d.sendFrame(mfp.ProtocolResponse, buf); err != nil {
		return err
	}
	reqCtx.finish(StatusComplete, true, rec, nil)
	return nil
}

package dispatch

import (
	"sync"
	"time"

	"github.com/AlexLonberg/js-api-router/internal/apierrors"
	"github.com/AlexLonberg/js-api-router/internal/interrupt"
	"github.com/AlexLonberg/js-api-router/internal/mdp"
)

// Status is a dispatch context's terminal outcome (spec §3 "Outgoing/
// incoming context").
type Status int

const (
	StatusNone Status = iota
	StatusComplete
	StatusAbort
	StatusTimeout
	StatusPackError
	StatusSendError
	StatusLogicError
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusAbort:
		return "abort"
	case StatusTimeout:
		return "timeout"
	case StatusPackError:
		return "pack-error"
	case StatusSendError:
		return "send-error"
	case StatusLogicError:
		return "logic-error"
	default:
		return "none"
	}
}

// Context is one in-flight MDP exchange: either something this side sent
// (outgoing, keyed by the id it generated) or a request this side received
// and is replying to (incoming, keyed by the request's own id).
type Context struct {
	mu       sync.Mutex
	id       uint32
	endpoint string
	status   Status
	ok       bool
	value    interface{}
	err      error

	isIncoming     bool
	awaitsResponse bool // true only for outgoing request contexts

	ack    *future
	result *future

	interruptCtrl interrupt.Controller
	dispatcher    *Dispatcher
	sentAt        time.Time

	// Request is the decoded incoming request this context answers, set
	// only on incoming contexts.
	Request *mdp.Record
}

// ID is the context's table key.
func (c *Context) ID() uint32 { return c.id }

// Endpoint is the addressed endpoint name.
func (c *Context) Endpoint() string { return c.endpoint }

// Status returns the context's current terminal status (StatusNone while
// still in flight).
func (c *Context) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Ack blocks until the ack future settles: true once a service-ack (or,
// for a needAck-less send, immediately) confirms delivery.
func (c *Context) Ack() (bool, error) {
	v, err := c.ack.Wait()
	ok, _ := v.(bool)
	return ok, err
}

// Result blocks until the context finishes and returns its outcome.
func (c *Context) Result() (interface{}, error) {
	return c.result.Wait()
}

func newOutgoingContext(d *Dispatcher, id uint32, endpoint string, needAck, awaitsResponse bool) *Context {
	c := &Context{
		id:             id,
		endpoint:       endpoint,
		awaitsResponse: awaitsResponse,
		ack:            newFuture(),
		result:         newFuture(),
		dispatcher:     d,
		sentAt:         time.Now(),
	}
	if !needAck {
		c.ack.resolve(true, nil)
	}
	return c
}

func newIncomingContext(d *Dispatcher, id uint32, endpoint string, rec *mdp.Record) *Context {
	return &Context{
		id:         id,
		endpoint:   endpoint,
		isIncoming: true,
		ack:        newFuture(),
		result:     newFuture(),
		dispatcher: d,
		Request:    rec,
	}
}

// installInterrupt attaches ctrl and wires its firing into this context's
// local abort/timeout path.
func (c *Context) installInterrupt(ctrl interrupt.Controller) {
	c.mu.Lock()
	c.interruptCtrl = ctrl
	c.mu.Unlock()
	ctrl.On(func(status interrupt.Status, err error) {
		switch status {
		case interrupt.StatusTimeout:
			c.finishLocal(StatusTimeout, err, apierrors.Timeout)
		case interrupt.StatusAbort, interrupt.StatusSoft:
			c.finishLocal(StatusAbort, err, apierrors.Abort)
		}
	})
}

// finishLocal is the path for a local timeout/abort: it emits the matching
// service frame (if this context was registered outgoing/incoming) before
// finishing the context itself.
func (c *Context) finishLocal(status Status, err error, code apierrors.Kind) {
	c.mu.Lock()
	if c.status != StatusNone {
		c.mu.Unlock()
		return
	}
	id, isIncoming := c.id, c.isIncoming
	c.mu.Unlock()

	if c.dispatcher != nil {
		c.dispatcher.sendLocalInterruptFrame(id, isIncoming, code)
	}
	c.finish(status, false, nil, err)
}

// onServiceAck handles an inbound service-ack addressed to this context. A
// non-request send completes on ack alone; a request keeps waiting for the
// response.
func (c *Context) onServiceAck() {
	c.mu.Lock()
	if c.status != StatusNone {
		c.mu.Unlock()
		return
	}
	awaits := c.awaitsResponse
	id := c.id
	c.mu.Unlock()

	c.ack.resolve(true, nil)
	if !awaits {
		c.finish(StatusComplete, true, id, nil)
	}
}

// onResponse handles the response frame's decoded record for a request
// context.
func (c *Context) onResponse(rec *mdp.Record) {
	c.ack.resolve(true, nil)
	c.finish(StatusComplete, true, rec, nil)
}

// onServiceAbort/onServiceTimeout handle a peer-sent service frame naming
// this context, without re-firing this side's own interrupt controller.
func (c *Context) onServiceAbort() {
	c.finish(StatusAbort, false, nil, apierrors.Wrap(apierrors.Abort, "peer aborted", nil))
}

func (c *Context) onServiceTimeout() {
	c.finish(StatusTimeout, false, nil, apierrors.Wrap(apierrors.Timeout, "peer timed out", nil))
}

// onUnexpected handles a protocol-inconsistent frame addressed to this
// context (anything other than the frames its own flavor expects).
func (c *Context) onUnexpected() {
	c.finish(StatusLogicError, false, nil, apierrors.Wrap(apierrors.Logic, "unexpected frame for context", nil))
}

func (c *Context) finish(status Status, ok bool, value interface{}, err error) {
	c.mu.Lock()
	if c.status != StatusNone {
		c.mu.Unlock()
		return
	}
	c.status, c.ok, c.value, c.err = status, ok, value, err
	ctrl := c.interruptCtrl
	isIncoming, sentAt := c.isIncoming, c.sentAt
	c.mu.Unlock()

	if ctrl != nil {
		ctrl.Disable()
	}
	if c.dispatcher != nil {
		c.dispatcher.removeContext(c)
		if !isIncoming && !sentAt.IsZero() {
			c.dispatcher.metrics.ObserveOutgoingLifetime(status.String(), time.Since(sentAt).Seconds())
		}
	}
	c.ack.resolve(ok, err)
	c.result.resolve(value, err)
}

// Package interrupt implements the uniform abort/timeout surface from
// spec §4.C: a timeout-only controller and an abort+timeout controller that
// also recognizes a "soft" abort sentinel.
package interrupt

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status is the controller's exit state.
type Status int

const (
	StatusNone Status = iota
	StatusTimeout
	StatusAbort
	StatusSoft
)

func (s Status) String() string {
	switch s {
	case StatusTimeout:
		return "timeout"
	case StatusAbort:
		return "abort"
	case StatusSoft:
		return "soft"
	default:
		return "none"
	}
}

// ErrSoft is the sentinel abort reason: external contexts cancelled with
// this cause are treated as a soft-abort rather than a hard abort.
var ErrSoft = errors.New("soft-abort")

// Listener is invoked once, synchronously, when the controller fires —
// before the controller's own internal signal is cancelled, so the caller
// can tag the native error that results from that cancellation.
type Listener func(status Status, err error)

// Controller is the uniform surface shared by both flavors.
type Controller interface {
	// Status returns the current exit status (StatusNone while alive).
	Status() Status
	// Alive reports whether the controller has not yet fired.
	Alive() bool
	// Err returns the terminal error once fired, else nil.
	Err() error
	// Context returns the internal signal to hand to the native request;
	// it is cancelled after listeners are notified.
	Context() context.Context
	// On registers a listener; if already fired, it is invoked immediately.
	// The returned token can be passed to Off to unregister it.
	On(Listener) int
	// Off removes a previously registered listener by its On token.
	Off(int)
	// Disable stops the controller from ever firing (e.g. after success).
	Disable()
}

type listenerEntry struct {
	token int
	fn    Listener
}

type base struct {
	mu        sync.Mutex
	status    Status
	err       error
	listeners []listenerEntry
	nextToken int
	ctx       context.Context
	cancel    context.CancelCauseFunc
	disabled  bool
}

func newBase() base {
	ctx, cancel := context.WithCancelCause(context.Background())
	return base{ctx: ctx, cancel: cancel}
}

func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status == StatusNone && !b.disabled
}

func (b *base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *base) Context() context.Context {
	return b.ctx
}

func (b *base) On(l Listener) int {
	b.mu.Lock()
	if b.status != StatusNone {
		status, err := b.status, b.err
		b.mu.Unlock()
		l(status, err)
		return 0
	}
	b.nextToken++
	token := b.nextToken
	b.listeners = append(b.listeners, listenerEntry{token: token, fn: l})
	b.mu.Unlock()
	return token
}

func (b *base) Off(token int) {
	if token == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.listeners {
		if existing.token == token {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *base) Disable() {
	b.mu.Lock()
	if b.status == StatusNone {
		b.disabled = true
	}
	b.mu.Unlock()
}

// fire transitions to a terminal status exactly once, notifies listeners,
// then cancels the internal context.
func (b *base) fire(status Status, err error) {
	b.mu.Lock()
	if b.disabled || b.status != StatusNone {
		b.mu.Unlock()
		return
	}
	b.status = status
	b.err = err
	listeners := b.listeners
	b.listeners = nil
	b.mu.Unlock()

	for _, entry := range listeners {
		entry.fn(status, err)
	}
	b.cancel(err)
}

// TimeoutOnly fires once at a fixed deadline.
type TimeoutOnly struct {
	base
	timer *time.Timer
}

// NewTimeoutOnly starts a controller that fires StatusTimeout after d.
func NewTimeoutOnly(d time.Duration, errFn func() error) *TimeoutOnly {
	c := &TimeoutOnly{base: newBase()}
	c.timer = time.AfterFunc(d, func() {
		var err error
		if errFn != nil {
			err = errFn()
		}
		c.fire(StatusTimeout, err)
	})
	return c
}

// Disable stops the timer in addition to the base behavior.
func (c *TimeoutOnly) Disable() {
	c.timer.Stop()
	c.base.Disable()
}

var _ Controller = (*TimeoutOnly)(nil)

// AbortTimeout wraps an optional external abort context and an optional
// timeout, and recognizes the soft-abort sentinel (§4.C, §5 cancellation
// semantics).
type AbortTimeout struct {
	base
	timer    *time.Timer
	external context.Context
	stopWait func() bool
}

// Options configures an AbortTimeout controller.
type Options struct {
	// External, if non-nil, is watched for cancellation; if its Cause()
	// is interrupt.ErrSoft the controller fires StatusSoft, else StatusAbort.
	External context.Context
	// Timeout, if > 0, fires StatusTimeout after this duration.
	Timeout time.Duration
	// TimeoutErr/AbortErr build the terminal error for each status.
	TimeoutErr func() error
	AbortErr   func(cause error) error
}

// NewAbortTimeout builds a controller per Options. If both External and
// Timeout are unset, the controller never fires on its own (Alive stays
// true until the caller calls Disable).
func NewAbortTimeout(opts Options) *AbortTimeout {
	c := &AbortTimeout{base: newBase(), external: opts.External}

	if opts.Timeout > 0 {
		c.timer = time.AfterFunc(opts.Timeout, func() {
			var err error
			if opts.TimeoutErr != nil {
				err = opts.TimeoutErr()
			}
			c.fire(StatusTimeout, err)
		})
	}

	if opts.External != nil {
		stop := context.AfterFunc(opts.External, func() {
			cause := context.Cause(opts.External)
			status := StatusAbort
			if errors.Is(cause, ErrSoft) {
				status = StatusSoft
			}
			var err error
			if opts.AbortErr != nil {
				err = opts.AbortErr(cause)
			} else {
				err = cause
			}
			c.fire(status, err)
		})
		c.stopWait = stop
		// If external was already done before we attached, AfterFunc runs
		// the callback immediately in its own goroutine; nothing else to do.
	}

	return c
}

// DisableTimeout stops only the timeout timer, leaving any external abort
// watch active. Used once a request has succeeded but the caller's own
// abort signal should still be able to interrupt whatever comes next.
func (c *AbortTimeout) DisableTimeout() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

// Disable stops the timer and external watcher in addition to base behavior.
func (c *AbortTimeout) Disable() {
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.stopWait != nil {
		c.stopWait()
	}
	c.base.Disable()
}

var _ Controller = (*AbortTimeout)(nil)

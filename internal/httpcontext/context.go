// Package httpcontext implements the HTTP request context state machine
// from spec §4.E: a mutable per-request object that runs a resolved
// endpoint config's middleware pipeline through a named queue, with
// retry, abort, and timeout handling.
package httpcontext

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AlexLonberg/js-api-router/internal/apierrors"
	"github.com/AlexLonberg/js-api-router/internal/headers"
	"github.com/AlexLonberg/js-api-router/internal/httpconfig"
	"github.com/AlexLonberg/js-api-router/internal/interrupt"
	"github.com/AlexLonberg/js-api-router/internal/queue"
	"github.com/AlexLonberg/js-api-router/internal/telemetry"
)

// Stage is the context's position in its state machine.
type Stage int

const (
	StageNone Stage = iota
	StageStarted
	StagePreprocessing
	StagePending
	StagePostprocessing
	StageFinished
)

func (s Stage) String() string {
	switch s {
	case StageStarted:
		return "started"
	case StagePreprocessing:
		return "preprocessing"
	case StagePending:
		return "pending"
	case StagePostprocessing:
		return "postprocessing"
	case StageFinished:
		return "finished"
	default:
		return "none"
	}
}

// Status is the context's terminal outcome.
type Status int

const (
	StatusNone Status = iota
	StatusOK
	StatusError
	StatusAborted
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusAborted:
		return "aborted"
	case StatusTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// Result is the terminal outcome of a context's run.
type Result struct {
	OK    bool
	Value interface{}
	Err   error
}

// Options carries the per-call inputs a ContextFactory assembles from
// runtime options: the request's input value, an optional external abort
// signal, and the shared queue/registry the context runs against.
type Options struct {
	Value       interface{}
	AbortSignal context.Context
	Queue       *queue.NamedAsyncQueue
	Middleware  *httpconfig.MiddlewareRegistry
	Metrics     *telemetry.Metrics
}

// Context is the mutable per-request object described by spec §4.E.
type Context struct {
	cfg  *httpconfig.Resolved
	opts Options

	requestID string

	startedOnce sync.Once
	finishOnce  sync.Once
	doneCh      chan struct{}

	mu      sync.Mutex
	stage   Stage
	status  Status
	attempt int
	inQueue bool
	value   interface{}
	result  Result

	mutURL         *headers.URL
	mutHeaders     *headers.Headers
	mutRequestInit httpconfig.RequestInit

	interruptCtrl interrupt.Controller
	startedAt     time.Time
}

// New builds a context for one run of cfg. Run must be called to start it.
func New(cfg *httpconfig.Resolved, opts Options) *Context {
	return &Context{
		cfg:       cfg,
		opts:      opts,
		requestID: uuid.NewString(),
		value:     opts.Value,
		doneCh:    make(chan struct{}),
		startedAt: time.Now(),
	}
}

// Attempt reports the current 1-based attempt count (spec's Ctx interface).
func (c *Context) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// RequestID returns the context's generated request id.
func (c *Context) RequestID() string { return c.requestID }

// Stage reports the context's current state-machine position.
func (c *Context) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Status reports the context's terminal status (StatusNone while running).
func (c *Context) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// URL returns the mutable URL view derived for the current attempt.
func (c *Context) URL() *headers.URL {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mutURL
}

// SetURL replaces the mutable URL view; middleware uses this to redirect
// or rewrite the outgoing request ahead of the executor running.
func (c *Context) SetURL(u *headers.URL) {
	c.mu.Lock()
	c.mutURL = u
	c.mu.Unlock()
}

// Headers returns the mutable headers view derived for the current attempt.
func (c *Context) Headers() *headers.Headers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mutHeaders
}

// SetHeaders replaces the mutable headers view.
func (c *Context) SetHeaders(h *headers.Headers) {
	c.mu.Lock()
	c.mutHeaders = h
	c.mu.Unlock()
}

// RequestInit returns the mutable request-init view derived for the
// current attempt.
func (c *Context) RequestInit() httpconfig.RequestInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mutRequestInit
}

// Done returns a channel closed once the context reaches StageFinished.
func (c *Context) Done() <-chan struct{} { return c.doneCh }

// Wait blocks until the context finishes and returns its result.
func (c *Context) Wait() Result {
	<-c.doneCh
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Run starts the context exactly once; subsequent calls are no-ops
// (spec §4.E "run() contract: idempotent").
func (c *Context) Run() error {
	c.startedOnce.Do(func() {
		go c.start()
	})
	return nil
}

func (c *Context) start() {
	// defers one cooperative tick before doing any work, per the run()
	// contract, so Run() always returns to the caller first.
	runtime.Gosched()

	c.installInterrupt()

	c.mu.Lock()
	ctrl := c.interruptCtrl
	alreadyFired := ctrl != nil && !ctrl.Alive()
	c.mu.Unlock()
	if alreadyFired {
		// onInterrupt already ran synchronously inside ctrl.On(), called
		// from installInterrupt above.
		return
	}

	c.setStage(StageStarted)

	key, hasKey := c.cfg.QueueKey.Value()
	if hasKey && key != "" && c.opts.Queue != nil {
		limit, _ := c.cfg.QueueLimit.Value()
		if limit <= 0 {
			limit = 1
		}
		priority, _ := c.cfg.QueuePriority.Value()
		c.enqueue(key, limit, priority)
		return
	}
	c.execute()
}

func (c *Context) installInterrupt() {
	timeout, hasTimeout := c.cfg.Timeout.Value()
	if !hasTimeout && c.opts.AbortSignal == nil {
		return
	}
	ctrl := interrupt.NewAbortTimeout(interrupt.Options{
		External: c.opts.AbortSignal,
		Timeout:  timeout,
		TimeoutErr: func() error {
			return apierrors.Wrap(apierrors.Timeout, "request timed out", nil)
		},
		AbortErr: func(cause error) error {
			return apierrors.Wrap(apierrors.Abort, "request aborted", cause)
		},
	})
	c.mu.Lock()
	c.interruptCtrl = ctrl
	c.mu.Unlock()
	ctrl.On(func(status interrupt.Status, err error) {
		c.onInterrupt(status, err)
	})
}

// onInterrupt is the interrupt controller's listener: it short-circuits all
// middleware and finishes the context, except for a soft-abort observed
// past the postprocessing stage, which is ignored (spec §5 "Soft-abort").
func (c *Context) onInterrupt(status interrupt.Status, err error) {
	c.mu.Lock()
	if status == interrupt.StatusSoft && c.stage >= StagePostprocessing {
		c.mu.Unlock()
		return
	}
	if c.stage == StageFinished {
		c.mu.Unlock()
		return
	}
	c.stage = StageFinished
	switch status {
	case interrupt.StatusTimeout:
		c.status = StatusTimeout
	default:
		c.status = StatusAborted
	}
	c.mu.Unlock()
	c.deliver(false, nil, err)
}

func (c *Context) enqueue(key string, limit, priority int) {
	c.mu.Lock()
	c.inQueue = true
	c.mu.Unlock()
	c.opts.Queue.Add(context.Background(), key, limit, priority, func(context.Context) error {
		c.execute()
		return nil
	})
}

const maxQueuePriority = math.MaxInt32

// requeueRetry re-submits the context to its named queue at maximum
// priority after delay, used for a retry in queueUnordered mode so the
// slot is released between attempts (spec §4.E middleware contract).
func (c *Context) requeueRetry(delay time.Duration) {
	key, _ := c.cfg.QueueKey.Value()
	limit, _ := c.cfg.QueueLimit.Value()
	if limit <= 0 {
		limit = 1
	}
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		c.opts.Queue.Add(context.Background(), key, limit, maxQueuePriority, func(context.Context) error {
			c.execute()
			return nil
		})
	}()
}

type decisionKind int

const (
	decisionFinished decisionKind = iota
	decisionRetryInline
	decisionRetryRequeue
)

type decision struct {
	kind  decisionKind
	delay time.Duration
}

// execute runs attempts until the context finishes or a queueUnordered
// retry hands control back to the named queue (spec §4.E "_execute()").
func (c *Context) execute() {
	for {
		d := c.attemptOnce()
		switch d.kind {
		case decisionRetryInline:
			if d.delay > 0 {
				time.Sleep(d.delay)
			}
			continue
		case decisionRetryRequeue:
			c.requeueRetry(d.delay)
			return
		default:
			return
		}
	}
}

func (c *Context) attemptOnce() decision {
	c.mu.Lock()
	if c.stage == StageFinished {
		c.mu.Unlock()
		return decision{kind: decisionFinished}
	}
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	// on retry, discard cached mutable views so preprocessors see fresh
	// derivations (spec §4.E "_execute() flow").
	c.deriveMutableViews()

	c.setStage(StagePreprocessing)
	if !c.interruptAlive() {
		return decision{kind: decisionFinished}
	}

	pre, err := c.resolveChain(c.cfg.Preprocessor)
	if err == nil {
		c.mu.Lock()
		value := c.value
		c.mu.Unlock()
		value, err = c.runChain(pre, value)
		c.mu.Lock()
		c.value = value
		c.mu.Unlock()
	}
	if err != nil {
		recovered, rerr := c.handleThrow(c.currentValue(), err)
		if rerr != nil {
			c.finishError(rerr)
			return decision{kind: decisionFinished}
		}
		c.mu.Lock()
		c.value = recovered
		c.mu.Unlock()
	}

	c.setStage(StagePending)
	if !c.interruptAlive() {
		return decision{kind: decisionFinished}
	}

	executor, err := c.cfg.Executor.Resolve(c.opts.Middleware)
	if err != nil {
		c.finishError(err)
		return decision{kind: decisionFinished}
	}
	out, execErr := executor.Process(c, c.currentValue())
	if execErr != nil {
		if isInterruptError(execErr) {
			c.finishError(execErr)
			return decision{kind: decisionFinished}
		}
		recovered, rerr := c.handleThrow(c.currentValue(), execErr)
		if rerr != nil {
			retries, _ := c.cfg.Retries.Value()
			if retries < attempt {
				c.finishError(rerr)
				return decision{kind: decisionFinished}
			}
			delay := c.retryDelay(attempt)
			unordered, _ := c.cfg.QueueUnordered.Value()
			c.mu.Lock()
			inQueue := c.inQueue
			c.mu.Unlock()
			c.opts.Metrics.IncHTTPRetry(c.cfg.Kind)
			if unordered && inQueue {
				return decision{kind: decisionRetryRequeue, delay: delay}
			}
			return decision{kind: decisionRetryInline, delay: delay}
		}
		out = recovered
	}
	if !httpconfig.IsPassthrough(out) {
		c.mu.Lock()
		c.value = out
		c.mu.Unlock()
	}

	if at, ok := c.interruptCtrl.(*interrupt.AbortTimeout); ok {
		at.DisableTimeout()
	}

	c.setStage(StagePostprocessing)
	if !c.interruptAlive() {
		return decision{kind: decisionFinished}
	}

	post, err := c.resolveChain(c.cfg.Postprocessor)
	if err == nil {
		final, perr := c.runChain(post, c.currentValue())
		if perr != nil {
			err = perr
		} else {
			c.mu.Lock()
			c.value = final
			c.mu.Unlock()
		}
	}
	if err != nil {
		recovered, rerr := c.handleThrow(c.currentValue(), err)
		if rerr != nil {
			c.finishError(rerr)
			return decision{kind: decisionFinished}
		}
		c.mu.Lock()
		c.value = recovered
		c.mu.Unlock()
	}

	c.finishOK(c.currentValue())
	return decision{kind: decisionFinished}
}

func (c *Context) currentValue() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *Context) resolveChain(ch httpconfig.Chain) ([]httpconfig.Middleware, error) {
	return ch.Resolve(c.opts.Middleware)
}

func (c *Context) runChain(mws []httpconfig.Middleware, value interface{}) (interface{}, error) {
	cur := value
	for _, mw := range mws {
		v, err := mw.Process(c, cur)
		if err != nil {
			return cur, err
		}
		if !httpconfig.IsPassthrough(v) {
			cur = v
		}
	}
	return cur, nil
}

// handleThrow routes a middleware error through the errorprocessor chain,
// if any. Interrupt-kind errors are propagated untouched: they never
// retry and are not eligible for error-chain recovery.
func (c *Context) handleThrow(value interface{}, cause error) (interface{}, error) {
	if isInterruptError(cause) {
		return value, cause
	}
	mws, err := c.resolveChain(c.cfg.Errorprocessor)
	if err != nil || len(mws) == 0 {
		return value, cause
	}
	cur := value
	lastErr := cause
	for _, mw := range mws {
		ep, ok := mw.(httpconfig.ErrorProcessor)
		if !ok {
			continue
		}
		v, perr := ep.ProcessError(c, cur, lastErr)
		if perr != nil {
			lastErr = perr
			continue
		}
		if !httpconfig.IsPassthrough(v) {
			cur = v
		}
		lastErr = nil
	}
	return cur, lastErr
}

func isInterruptError(err error) bool {
	return errors.Is(err, apierrors.New(apierrors.Interrupt))
}

func (c *Context) retryDelay(attempt int) time.Duration {
	fn, ok := c.cfg.RetryDelay.Value()
	if !ok || fn == nil {
		return 0
	}
	return fn(attempt)
}

func (c *Context) interruptAlive() bool {
	c.mu.Lock()
	ctrl := c.interruptCtrl
	finished := c.stage == StageFinished
	c.mu.Unlock()
	if finished {
		return false
	}
	if ctrl == nil {
		return true
	}
	return ctrl.Alive()
}

func (c *Context) deriveMutableViews() {
	c.mu.Lock()
	c.mutURL = c.cfg.URL
	c.mutHeaders = c.cfg.Headers
	c.mutRequestInit = c.cfg.RequestInit
	c.mu.Unlock()
}

func (c *Context) setStage(s Stage) {
	c.mu.Lock()
	if c.stage != StageFinished {
		c.stage = s
	}
	c.mu.Unlock()
}

func (c *Context) finishOK(value interface{}) {
	c.mu.Lock()
	if c.stage == StageFinished {
		c.mu.Unlock()
		return
	}
	c.stage = StageFinished
	c.status = StatusOK
	c.mu.Unlock()
	c.deliver(true, value, nil)
}

func (c *Context) finishError(err error) {
	c.mu.Lock()
	// a concurrent interrupt may already have finished the context; deliver
	// is idempotent via finishOnce, so it is safe to fall through either way.
	c.stage = StageFinished
	c.status = StatusError
	c.mu.Unlock()
	c.deliver(false, nil, err)
}

// deliver resolves the context exactly once: it disables the interrupt
// controller, publishes the result, and invokes the handler callback if
// one is configured (spec §4.E "Result delivery").
func (c *Context) deliver(ok bool, value interface{}, err error) {
	c.finishOnce.Do(func() {
		if c.interruptCtrl != nil {
			c.interruptCtrl.Disable()
		}
		c.mu.Lock()
		c.result = Result{OK: ok, Value: value, Err: err}
		status := c.status
		c.mu.Unlock()
		c.opts.Metrics.ObserveHTTPDuration(c.cfg.Kind, status.String(), time.Since(c.startedAt).Seconds())
		close(c.doneCh)
		if c.cfg.Handler != nil {
			c.cfg.Handler(ok, value, err, c.requestID)
		}
	})
}

var _ httpconfig.Ctx = (*Context)(nil)
var _ httpconfig.RequestContext = (*Context)(nil)

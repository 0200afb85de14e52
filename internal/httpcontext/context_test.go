package httpcontext

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AlexLonberg/js-api-router/internal/apierrors"
	"github.com/AlexLonberg/js-api-router/internal/httpconfig"
	"github.com/AlexLonberg/js-api-router/internal/queue"
)

type fnMiddleware struct {
	kind string
	fn   func(ctx httpconfig.Ctx, value interface{}) (interface{}, error)
}

func (m fnMiddleware) Kind() string { return m.kind }
func (m fnMiddleware) Process(ctx httpconfig.Ctx, value interface{}) (interface{}, error) {
	return m.fn(ctx, value)
}

func passthroughMiddleware(kind string) fnMiddleware {
	return fnMiddleware{kind: kind, fn: func(httpconfig.Ctx, interface{}) (interface{}, error) {
		return httpconfig.Passthrough, nil
	}}
}

func resolvedFor(executor httpconfig.Middleware) *httpconfig.Resolved {
	return &httpconfig.Resolved{
		Kind:           "fetch",
		ContextFactory: "default",
		Executor:       httpconfig.ByInstance(executor),
		Preprocessor:   httpconfig.NewChain(),
		Postprocessor:  httpconfig.NewChain(),
		Errorprocessor: httpconfig.NewChain(),
	}
}

func TestRunSucceedsWithoutQueue(t *testing.T) {
	exec := fnMiddleware{kind: "exec", fn: func(ctx httpconfig.Ctx, value interface{}) (interface{}, error) {
		return map[string]int{"a": 1}, nil
	}}
	cfg := resolvedFor(exec)
	ctx := New(cfg, Options{Value: nil})
	if err := ctx.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	res := ctx.Wait()
	if !res.OK {
		t.Fatalf("expected ok, got %+v", res)
	}
	if ctx.Attempt() != 1 {
		t.Fatalf("expected single attempt, got %d", ctx.Attempt())
	}
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	var calls int32
	exec := fnMiddleware{kind: "exec", fn: func(ctx httpconfig.Ctx, value interface{}) (interface{}, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return nil, apierrors.Wrap(apierrors.Status, "transient failure", nil)
		}
		return "done", nil
	}}
	cfg := resolvedFor(exec)
	cfg.Retries = httpconfig.Set(3)
	cfg.RetryDelay = httpconfig.Set(httpconfig.RetryDelayFunc(func(attempt int) time.Duration { return time.Millisecond }))

	ctx := New(cfg, Options{})
	if err := ctx.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	res := ctx.Wait()
	if !res.OK || res.Value != "done" {
		t.Fatalf("expected eventual success, got %+v", res)
	}
	if ctx.Attempt() != 3 {
		t.Fatalf("expected 3 attempts, got %d", ctx.Attempt())
	}
}

func TestRunExhaustsRetriesAndFails(t *testing.T) {
	exec := fnMiddleware{kind: "exec", fn: func(ctx httpconfig.Ctx, value interface{}) (interface{}, error) {
		return nil, apierrors.Wrap(apierrors.Status, "always fails", nil)
	}}
	cfg := resolvedFor(exec)
	cfg.Retries = httpconfig.Set(2)

	ctx := New(cfg, Options{})
	ctx.Run()
	res := ctx.Wait()
	if res.OK {
		t.Fatalf("expected failure")
	}
	if ctx.Attempt() != 3 {
		t.Fatalf("expected retries+1 attempts, got %d", ctx.Attempt())
	}
}

func TestRunTimesOutWithoutRetry(t *testing.T) {
	exec := fnMiddleware{kind: "exec", fn: func(ctx httpconfig.Ctx, value interface{}) (interface{}, error) {
		time.Sleep(200 * time.Millisecond)
		return "too late", nil
	}}
	cfg := resolvedFor(exec)
	cfg.Retries = httpconfig.Set(5)
	cfg.Timeout = httpconfig.Set(20 * time.Millisecond)

	ctx := New(cfg, Options{})
	ctx.Run()
	res := ctx.Wait()
	if res.OK {
		t.Fatalf("expected timeout failure")
	}
	if ctx.Status() != StatusTimeout {
		t.Fatalf("expected StatusTimeout, got %v", ctx.Status())
	}
	if !apierrorsIsTimeout(res.Err) {
		t.Fatalf("expected TimeoutError, got %v", res.Err)
	}
}

func apierrorsIsTimeout(err error) bool {
	return err != nil && err.(*apierrors.Error).Kind == apierrors.Timeout
}

func TestRunAbortsOnExternalSignal(t *testing.T) {
	exec := fnMiddleware{kind: "exec", fn: func(ctx httpconfig.Ctx, value interface{}) (interface{}, error) {
		time.Sleep(200 * time.Millisecond)
		return "too late", nil
	}}
	cfg := resolvedFor(exec)
	abortCtx, cancel := context.WithCancel(context.Background())

	ctx := New(cfg, Options{AbortSignal: abortCtx})
	ctx.Run()
	time.Sleep(10 * time.Millisecond)
	cancel()

	res := ctx.Wait()
	if res.OK {
		t.Fatalf("expected abort failure")
	}
	if ctx.Status() != StatusAborted {
		t.Fatalf("expected StatusAborted, got %v", ctx.Status())
	}
}

func TestRunIsIdempotent(t *testing.T) {
	var calls int32
	exec := fnMiddleware{kind: "exec", fn: func(ctx httpconfig.Ctx, value interface{}) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	}}
	cfg := resolvedFor(exec)
	ctx := New(cfg, Options{})
	ctx.Run()
	ctx.Run()
	ctx.Run()
	ctx.Wait()
	if calls != 1 {
		t.Fatalf("expected single execution, got %d calls", calls)
	}
}

func TestRunThroughSharedQueueCompletesAll(t *testing.T) {
	nq := queue.NewNamedAsyncQueue(nil)
	var completed int32

	makeExec := func(id int32) httpconfig.Middleware {
		return fnMiddleware{kind: "exec", fn: func(ctx httpconfig.Ctx, value interface{}) (interface{}, error) {
			atomic.AddInt32(&completed, 1)
			return id, nil
		}}
	}

	run := func(id int32, priority int) *Context {
		cfg := resolvedFor(makeExec(id))
		cfg.QueueKey = httpconfig.Set("shared")
		cfg.QueueLimit = httpconfig.Set(1)
		cfg.QueuePriority = httpconfig.Set(priority)
		ctx := New(cfg, Options{Queue: nq})
		ctx.Run()
		return ctx
	}

	c1 := run(1, 0)
	c2 := run(2, 10)
	c3 := run(3, 5)

	c1.Wait()
	c2.Wait()
	c3.Wait()

	if completed != 3 {
		t.Fatalf("expected 3 executions, got %d", completed)
	}
}

func TestPreprocessorErrorRoutesThroughErrorprocessor(t *testing.T) {
	pre := fnMiddleware{kind: "pre", fn: func(ctx httpconfig.Ctx, value interface{}) (interface{}, error) {
		return nil, apierrors.Wrap(apierrors.DataType, "bad input", nil)
	}}
	errProc := errorRecoveringMiddleware{}
	exec := fnMiddleware{kind: "exec", fn: func(ctx httpconfig.Ctx, value interface{}) (interface{}, error) {
		return value, nil
	}}

	cfg := resolvedFor(exec)
	cfg.Preprocessor = httpconfig.NewChain(httpconfig.ByInstance(pre))
	cfg.Errorprocessor = httpconfig.NewChain(httpconfig.ByInstance(errProc))

	ctx := New(cfg, Options{})
	ctx.Run()
	res := ctx.Wait()
	if !res.OK || res.Value != "recovered" {
		t.Fatalf("expected errorprocessor to recover the chain, got %+v", res)
	}
}

type errorRecoveringMiddleware struct{}

func (errorRecoveringMiddleware) Kind() string { return "recover" }
func (errorRecoveringMiddleware) Process(ctx httpconfig.Ctx, value interface{}) (interface{}, error) {
	return httpconfig.Passthrough, nil
}
func (errorRecoveringMiddleware) ProcessError(ctx httpconfig.Ctx, value interface{}, cause error) (interface{}, error) {
	return "recovered", nil
}

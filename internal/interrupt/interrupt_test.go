package interrupt

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimeoutOnlyFires(t *testing.T) {
	c := NewTimeoutOnly(10*time.Millisecond, func() error { return errors.New("timed out") })
	fired := make(chan Status, 1)
	c.On(func(status Status, err error) { fired <- status })
	select {
	case s := <-fired:
		if s != StatusTimeout {
			t.Fatalf("expected timeout, got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for controller to fire")
	}
	if c.Alive() {
		t.Fatalf("expected controller to no longer be alive")
	}
}

func TestTimeoutOnlyDisable(t *testing.T) {
	c := NewTimeoutOnly(10*time.Millisecond, func() error { return errors.New("x") })
	c.Disable()
	time.Sleep(30 * time.Millisecond)
	if c.Status() != StatusNone {
		t.Fatalf("expected disabled controller to never fire, got %v", c.Status())
	}
}

func TestAbortTimeoutExternalAbort(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	c := NewAbortTimeout(Options{External: ctx})
	fired := make(chan Status, 1)
	c.On(func(status Status, err error) { fired <- status })
	cancel(errors.New("user cancelled"))

	select {
	case s := <-fired:
		if s != StatusAbort {
			t.Fatalf("expected abort, got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestAbortTimeoutSoftSentinel(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	c := NewAbortTimeout(Options{External: ctx})
	fired := make(chan Status, 1)
	c.On(func(status Status, err error) { fired <- status })
	cancel(ErrSoft)

	select {
	case s := <-fired:
		if s != StatusSoft {
			t.Fatalf("expected soft, got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestListenerFiresBeforeContextCancelled(t *testing.T) {
	c := NewTimeoutOnly(5*time.Millisecond, func() error { return errors.New("to") })
	order := make(chan string, 2)
	c.On(func(status Status, err error) { order <- "listener" })
	go func() {
		<-c.Context().Done()
		order <- "context"
	}()
	first := <-order
	second := <-order
	if first != "listener" || second != "context" {
		t.Fatalf("expected listener before context cancellation, got %s then %s", first, second)
	}
}

func TestOffRemovesListener(t *testing.T) {
	c := NewTimeoutOnly(10*time.Millisecond, func() error { return errors.New("to") })
	called := false
	token := c.On(func(status Status, err error) { called = true })
	c.Off(token)
	time.Sleep(30 * time.Millisecond)
	if called {
		t.Fatalf("expected removed listener to not be called")
	}
}

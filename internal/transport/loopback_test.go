package transport

import (
	"sync"
	"testing"
	"time"
)

func TestLoopbackPairDeliversSend(t *testing.T) {
	a, b := NewLoopbackPair()

	var mu sync.Mutex
	var got []byte
	done := make(chan struct{})
	b.ChangeReceiveHandler(func(_ int, buf []byte) {
		mu.Lock()
		got = buf
		mu.Unlock()
		close(done)
	})

	a.Enable(true)
	b.Enable(true)

	if err := a.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(got) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestLoopbackSendFailsWhenDisabled(t *testing.T) {
	a, _ := NewLoopbackPair()
	if err := a.Send([]byte("x")); err == nil {
		t.Fatal("expected error sending on a disabled loopback")
	}
}

func TestLoopbackEmitsStateEvents(t *testing.T) {
	a, _ := NewLoopbackPair()
	var events []Event
	var mu sync.Mutex
	a.ChangeStateHandler(func(ev Event, _ error) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	a.Enable(true)
	a.Enable(false)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != EventOpen || events[1] != EventClose {
		t.Fatalf("unexpected event sequence: %+v", events)
	}
}

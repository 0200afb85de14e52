package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/AlexLonberg/js-api-router/internal/mdp"
	"github.com/AlexLonberg/js-api-router/internal/mfp"
	"github.com/AlexLonberg/js-api-router/internal/transport"
)

// stubReceiver is a minimal dispatch.EndpointReceiver for exercising
// routing without pulling in package endpoint (which itself depends on
// this package).
type stubReceiver struct {
	name string

	mu       sync.Mutex
	messages []*mdp.Record
	requests []*Context
}

func (r *stubReceiver) Name() string         { return r.name }
func (r *stubReceiver) EnabledAndAlive() bool { return true }
func (r *stubReceiver) DeliverMessage(rec *mdp.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, rec)
}
func (r *stubReceiver) DeliverBinary(frame *mfp.Frame) {}
func (r *stubReceiver) DeliverRequest(reqCtx *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, reqCtx)
}
func (r *stubReceiver) AbortPending(err error) {}

func (r *stubReceiver) firstRequest() *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		return nil
	}
	return r.requests[0]
}

func TestDispatcherRoundTripsRequestOverLoopback(t *testing.T) {
	clientT, serverT := transport.NewLoopbackPair()
	clientT.Enable(true)
	serverT.Enable(true)

	client := New(Options{Transport: clientT})
	server := New(Options{Transport: serverT})

	recv := &stubReceiver{name: "calculator"}
	server.RegisterEndpoint(recv)

	ctx := client.Request("calculator", mdp.Record{Endpoint: "calculator", Data: map[string]interface{}{"a": 1}}, SendOptions{NeedAck: true})

	deadline := time.After(time.Second)
	var reqCtx *Context
	for reqCtx == nil {
		reqCtx = recv.firstRequest()
		if reqCtx != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("server never received the request")
		case <-time.After(time.Millisecond):
		}
	}
	if err := server.Respond(reqCtx, mdp.Record{Endpoint: "calculator", Data: map[string]interface{}{"ok": true}}); err != nil {
		t.Fatalf("respond: %v", err)
	}

	value, err := ctx.Result()
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	rec, ok := value.(*mdp.Record)
	if !ok {
		t.Fatalf("expected *mdp.Record result, got %T", value)
	}
	data, _ := rec.Data.(map[string]interface{})
	if data["ok"] != true {
		t.Fatalf("unexpected response data: %+v", data)
	}
}

package endpoint

import (
	"testing"

	"github.com/AlexLonberg/js-api-router/internal/apierrors"
	"github.com/AlexLonberg/js-api-router/internal/dispatch"
	"github.com/AlexLonberg/js-api-router/internal/mdp"
)

type fakeDispatcher struct {
	registered   dispatch.EndpointReceiver
	unregistered string
	nextID       uint32
	messages     []mdp.Record
	requests     []mdp.Record
	respondRec   mdp.Record
}

func (f *fakeDispatcher) RegisterEndpoint(r dispatch.EndpointReceiver)       { f.registered = r }
func (f *fakeDispatcher) RegisterReservedBinary(r dispatch.EndpointReceiver) { f.registered = r }
func (f *fakeDispatcher) UnregisterEndpoint(name string)                    { f.unregistered = name }

func (f *fakeDispatcher) Message(endpoint string, rec mdp.Record, opts dispatch.SendOptions) *dispatch.Context {
	f.messages = append(f.messages, rec)
	f.nextID++
	return dispatch.NewPreFinishedContext(f.nextID, endpoint, nil)
}

func (f *fakeDispatcher) Announce(endpoint string, rec mdp.Record, expected []uint32, opts dispatch.SendOptions) *dispatch.Context {
	f.nextID++
	return dispatch.NewPreFinishedContext(f.nextID, endpoint, nil)
}

func (f *fakeDispatcher) Request(endpoint string, rec mdp.Record, opts dispatch.SendOptions) *dispatch.Context {
	f.requests = append(f.requests, rec)
	f.nextID++
	return dispatch.NewPreFinishedContext(f.nextID, endpoint, nil)
}

func (f *fakeDispatcher) Binary(refID, key uint32, bin []byte, final bool, streaming bool) error {
	return nil
}

func (f *fakeDispatcher) Respond(reqCtx *dispatch.Context, rec mdp.Record) error {
	f.respondRec = rec
	return nil
}

func TestHandleStampsEndpointName(t *testing.T) {
	fd := &fakeDispatcher{}
	h := New(fd, "calculator", Options{})

	h.Message(mdp.Record{Data: map[string]interface{}{"a": 1}}, dispatch.SendOptions{})
	if len(fd.messages) != 1 || fd.messages[0].Endpoint != "calculator" {
		t.Fatalf("message endpoint not stamped: %+v", fd.messages)
	}

	h.Request(mdp.Record{}, dispatch.SendOptions{})
	if len(fd.requests) != 1 || fd.requests[0].Endpoint != "calculator" {
		t.Fatalf("request endpoint not stamped: %+v", fd.requests)
	}
}

func TestDisabledHandleRejectsLocally(t *testing.T) {
	fd := &fakeDispatcher{}
	h := New(fd, "calculator", Options{})
	h.Enable(false)

	ctx := h.Message(mdp.Record{}, dispatch.SendOptions{})
	if ctx.Status() != dispatch.StatusLogicError {
		t.Fatalf("got status %v, want logic-error", ctx.Status())
	}
	_, err := ctx.Result()
	if !apierrors_Is(err, apierrors.Status) {
		t.Fatalf("expected a StatusError, got %v", err)
	}
	if len(fd.messages) != 0 {
		t.Fatalf("disabled handle should never reach the dispatcher")
	}
}

func apierrors_Is(err error, kind apierrors.Kind) bool {
	ae, ok := err.(*apierrors.Error)
	return ok && ae.Kind == kind
}

func TestCloseUnregistersAndAbortsPending(t *testing.T) {
	fd := &fakeDispatcher{}
	h := New(fd, "calculator", Options{})

	ctx := h.Request(mdp.Record{}, dispatch.SendOptions{})
	h.Close()

	if fd.unregistered != "calculator" {
		t.Fatalf("Close did not unregister from the dispatcher")
	}
	if h.EnabledAndAlive() {
		t.Fatalf("handle should no longer be alive after Close")
	}
	_ = ctx // the fake's pre-finished contexts are already terminal; Abort on them is a no-op
}

func TestRequestHandlerReceivesIncoming(t *testing.T) {
	fd := &fakeDispatcher{}
	var gotEndpoint string
	h := New(fd, "calculator", Options{
		OnRequest: func(reqCtx *dispatch.Context, rec *mdp.Record) {
			gotEndpoint = rec.Endpoint
		},
	})

	reqCtx := dispatch.NewPreFinishedContext(7, "calculator", nil)
	reqCtx.Request = &mdp.Record{Endpoint: "calculator"}
	h.DeliverRequest(reqCtx)

	if gotEndpoint != "calculator" {
		t.Fatalf("OnRequest was not invoked with the decoded record")
	}

	h.Respond(reqCtx, mdp.Record{Data: map[string]interface{}{"ok": true}})
	if fd.respondRec.Endpoint != "calculator" {
		t.Fatalf("Respond did not stamp endpoint name")
	}
}

package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var echoUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := echoUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(typ, msg); err != nil {
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestWebSocketEnableConnectsAndEchoes(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr := NewWebSocket(wsURL(srv.URL), nil)

	var mu sync.Mutex
	var gotOpen bool
	received := make(chan []byte, 1)

	tr.ChangeStateHandler(func(event Event, err error) {
		if event == EventOpen {
			mu.Lock()
			gotOpen = true
			mu.Unlock()
		}
	})
	tr.ChangeReceiveHandler(func(typeTag int, buf []byte) {
		received <- buf
	})

	if err := tr.Enable(true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	defer tr.Enable(false)

	if !tr.IsConnected() {
		t.Fatalf("expected connected after Enable(true)")
	}
	mu.Lock()
	if !gotOpen {
		mu.Unlock()
		t.Fatalf("expected open event")
	}
	mu.Unlock()

	if err := tr.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case buf := <-received:
		if string(buf) != "hello" {
			t.Fatalf("expected echo, got %q", buf)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for echo")
	}
}

func TestWebSocketSendFailsWhenNotConnected(t *testing.T) {
	tr := NewWebSocket("ws://unused", nil)
	if err := tr.Send([]byte("x")); err == nil {
		t.Fatalf("expected send error when not connected")
	}
}

func TestWebSocketEnableFalseClosesConnection(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr := NewWebSocket(wsURL(srv.URL), nil)
	closed := make(chan struct{}, 1)
	tr.ChangeStateHandler(func(event Event, err error) {
		if event == EventClose {
			select {
			case closed <- struct{}{}:
			default:
			}
		}
	})

	if err := tr.Enable(true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := tr.Enable(false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if tr.IsConnected() {
		t.Fatalf("expected disconnected after Enable(false)")
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for close event")
	}
}

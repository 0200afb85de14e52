package transport

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocket is the default Transport, a single outbound gorilla/websocket
// connection managed by Enable/disable rather than a server-side
// accept loop (spec explicitly scopes only the Transport interface, not the
// transport class, but the rest of this stack exercises the pack's own
// websocket dependency for the one concrete implementation it ships).
type WebSocket struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	enabled bool

	stateMu sync.RWMutex
	onState StateHandler
	onRecv  ReceiveHandler
}

// NewWebSocket builds a client transport dialing url on Enable(true).
// A nil logger falls back to slog.Default().
func NewWebSocket(url string, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		url:    url,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

func (w *WebSocket) IsEnabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

func (w *WebSocket) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

func (w *WebSocket) ChangeStateHandler(fn StateHandler) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.onState = fn
}

func (w *WebSocket) ChangeReceiveHandler(fn ReceiveHandler) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.onRecv = fn
}

func (w *WebSocket) emitState(event Event, err error) {
	w.stateMu.RLock()
	fn := w.onState
	w.stateMu.RUnlock()
	if fn != nil {
		fn(event, err)
	}
}

func (w *WebSocket) emitReceive(typeTag int, buf []byte) {
	w.stateMu.RLock()
	fn := w.onRecv
	w.stateMu.RUnlock()
	if fn != nil {
		fn(typeTag, buf)
	}
}

// Enable(true) dials the connection and starts the read pump if not already
// connected; Enable(false) closes any active connection.
func (w *WebSocket) Enable(on bool) error {
	w.mu.Lock()
	w.enabled = on
	if !on {
		conn := w.conn
		w.conn = nil
		w.mu.Unlock()
		if conn != nil {
			conn.Close()
			w.emitState(EventClose, nil)
		}
		return nil
	}
	if w.conn != nil {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	conn, _, err := w.dialer.Dial(w.url, nil)
	if err != nil {
		w.emitState(EventError, wrapSendErr(err))
		return wrapSendErr(err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	w.emitState(EventOpen, nil)
	go w.readPump(conn)
	return nil
}

func (w *WebSocket) readPump(conn *websocket.Conn) {
	defer func() {
		w.mu.Lock()
		if w.conn == conn {
			w.conn = nil
		}
		w.mu.Unlock()
		conn.Close()
		w.emitState(EventClose, nil)
	}()

	for {
		typeTag, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("websocket read error", "error", err)
				w.emitState(EventError, wrapReceiveErr(err))
			}
			return
		}
		if typeTag != websocket.BinaryMessage && typeTag != websocket.TextMessage {
			w.emitState(EventType, wrapReceiveErr(nil))
			continue
		}
		w.emitReceive(typeTag, message)
	}
}

func (w *WebSocket) Send(buf []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return wrapSendErr(nil)
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return wrapSendErr(err)
	}
	return nil
}

func (w *WebSocket) SendOrThrow(buf []byte) {
	if err := w.Send(buf); err != nil {
		panic(err)
	}
}

var _ Transport = (*WebSocket)(nil)

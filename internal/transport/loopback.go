package transport

import (
	"sync"
)

// Loopback is an in-process Transport that delivers everything it Sends to
// a paired Loopback's receive handler, with no network or serialization
// involved. It exists for tests and local demos that need two dispatchers
// talking MFP/MDP without a real socket.
type Loopback struct {
	mu      sync.Mutex
	peer    *Loopback
	enabled bool

	stateMu sync.RWMutex
	onState StateHandler
	onRecv  ReceiveHandler
}

// NewLoopbackPair returns two Loopback transports wired to each other:
// Send on one invokes the other's receive handler asynchronously, on a new
// goroutine per Send (so callers never reenter their own handler stack).
func NewLoopbackPair() (*Loopback, *Loopback) {
	a, b := &Loopback{}, &Loopback{}
	a.peer, b.peer = b, a
	return a, b
}

func (l *Loopback) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

func (l *Loopback) IsConnected() bool {
	return l.IsEnabled()
}

func (l *Loopback) Enable(on bool) error {
	l.mu.Lock()
	was := l.enabled
	l.enabled = on
	l.mu.Unlock()
	if on && !was {
		l.emitState(EventOpen, nil)
	} else if !on && was {
		l.emitState(EventClose, nil)
	}
	return nil
}

func (l *Loopback) ChangeStateHandler(fn StateHandler) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.onState = fn
}

func (l *Loopback) ChangeReceiveHandler(fn ReceiveHandler) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.onRecv = fn
}

func (l *Loopback) emitState(event Event, err error) {
	l.stateMu.RLock()
	fn := l.onState
	l.stateMu.RUnlock()
	if fn != nil {
		fn(event, err)
	}
}

func (l *Loopback) emitReceive(typeTag int, buf []byte) {
	l.stateMu.RLock()
	fn := l.onRecv
	l.stateMu.RUnlock()
	if fn != nil {
		fn(typeTag, buf)
	}
}

func (l *Loopback) Send(buf []byte) error {
	l.mu.Lock()
	enabled, peer := l.enabled, l.peer
	l.mu.Unlock()
	if !enabled || peer == nil {
		return wrapSendErr(nil)
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	go peer.emitReceive(0, cp)
	return nil
}

func (l *Loopback) SendOrThrow(buf []byte) {
	if err := l.Send(buf); err != nil {
		panic(err)
	}
}

var _ Transport = (*Loopback)(nil)

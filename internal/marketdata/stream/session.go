package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"cryptopulse/internal/model"
)

// EventKind enumerates the lifecycle signals a subscription reports.
type EventKind int

const (
	EventOpened EventKind = iota
	EventMessage
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one signal from a subscription. Session identifies the sender so
// receivers can discard events from subscriptions they have already closed.
type Event struct {
	Session *Session
	Kind    EventKind
	Bar     model.Bar // EventMessage
	Err     error     // EventError, and EventClosed when abnormal
	Code    int       // EventClosed: websocket close code
}

// NormalClose reports whether the peer closed the stream with code 1000.
func (e Event) NormalClose() bool {
	return e.Kind == EventClosed && e.Code == CloseNormal
}

// CloseNormal is the websocket normal-closure code.
const CloseNormal = 1000

var sessionSeq atomic.Uint64

// Session is the handle of one subscription. Identity is the pointer.
type Session struct {
	id     uint64
	pair   model.Pair
	ctx    context.Context
	cancel context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
}

// NewSession creates a handle bound to a child of parent. Transports call
// Finish when their reader goroutine exits.
func NewSession(parent context.Context, pair model.Pair) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:     sessionSeq.Add(1),
		pair:   pair,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() uint64               { return s.id }
func (s *Session) Pair() model.Pair         { return s.pair }
func (s *Session) Context() context.Context { return s.ctx }

// Deliver stamps ev with this session and sends it on out. It gives up and
// returns false once the session is closed, so a reader never blocks a
// teardown.
func (s *Session) Deliver(out chan<- Event, ev Event) bool {
	ev.Session = s
	select {
	case out <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Finish marks the transport side as exited. Safe to call more than once.
func (s *Session) Finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Close cancels the subscription and waits until the transport has exited.
// After Close returns no further events are delivered.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

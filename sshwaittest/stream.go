package sshwaittest

import (
	"context"
	"net"
	"sync"

	"github.com/ruffel/sshwait"
)

// Stream is a loopback sshwait.Stream with scriptable readiness. A fresh
// Stream is always ready: WaitReady returns immediately. After
// SetReady(false), waiters park until SetReady(true) or their context ends.
type Stream struct {
	net.Conn

	mu      sync.Mutex
	ready   bool
	waiters []chan struct{}
	waits   int
}

var _ sshwait.Stream = (*Stream)(nil)

// NewStreamPair returns the two ends of an in-memory transport.
func NewStreamPair() (*Stream, *Stream) {
	c1, c2 := net.Pipe()

	return &Stream{Conn: c1, ready: true}, &Stream{Conn: c2, ready: true}
}

// WaitReady implements sshwait.Stream.
func (s *Stream) WaitReady(ctx context.Context, _ sshwait.Direction) error {
	s.mu.Lock()
	s.waits++

	if s.ready {
		s.mu.Unlock()

		return nil
	}

	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetReady flips the readiness state. Turning it on releases every parked
// waiter.
func (s *Stream) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready = ready
	if !ready {
		return
	}

	for _, ch := range s.waiters {
		close(ch)
	}

	s.waiters = nil
}

// Waits reports how many times WaitReady has been entered. Zero after a
// successful operation proves the fast path took no suspension.
func (s *Stream) Waits() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.waits
}

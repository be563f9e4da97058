package sshwait

import (
	"context"
	"net"
	"time"
)

// Stream is the readiness source: the transport the engine moves raw bytes
// over, extended with the ability to wait for it to become ready.
//
// A Stream is shared, by holding the same interface value, between a
// Session and every derived resource it spawns; any of them may wait on
// readiness concurrently.
type Stream interface {
	net.Conn

	// WaitReady blocks until the transport is ready in at least one of the
	// requested directions, or until ctx ends. DirNone is treated as
	// DirBoth.
	WaitReady(ctx context.Context, dir Direction) error
}

// aLongTimeAgo is a non-zero deadline in the distant past, used to force
// pending transport waits to return.
var aLongTimeAgo = time.Unix(1, 0)

// TCPStream adapts a *net.TCPConn into a Stream. Readiness waits ride the
// runtime poller via the connection's syscall.RawConn, so no bytes are
// consumed or sent while waiting.
type TCPStream struct {
	*net.TCPConn

	raw interface {
		Read(f func(fd uintptr) (done bool)) error
		Write(f func(fd uintptr) (done bool)) error
	}
}

var _ Stream = (*TCPStream)(nil)

// NewTCPStream wraps an established TCP connection.
func NewTCPStream(conn *net.TCPConn) (*TCPStream, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}

	return &TCPStream{TCPConn: conn, raw: raw}, nil
}

// DialTCP connects to addr and wraps the resulting connection.
func DialTCP(ctx context.Context, addr string) (*TCPStream, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	stream, err := NewTCPStream(conn.(*net.TCPConn))
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	return stream, nil
}

// WaitReady parks on the runtime poller until the socket is readable,
// writable, or both, depending on dir. Cancellation is delivered by
// planting a past deadline on the connection; the deadline is cleared
// before returning, so engines relying on their own deadlines must set
// them per call.
func (s *TCPStream) WaitReady(ctx context.Context, dir Direction) error {
	if dir == DirNone {
		dir = DirBoth
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Deliver cancellation by planting a past deadline. The watcher is
	// joined before the deadline is cleared, so a cancelled wait never
	// leaves a stale deadline behind and the stream stays usable.
	watchStop := make(chan struct{})
	watchDone := make(chan struct{})

	go func() {
		defer close(watchDone)

		select {
		case <-ctx.Done():
			_ = s.SetDeadline(aLongTimeAgo)
		case <-watchStop:
		}
	}()

	defer func() {
		close(watchStop)
		<-watchDone
		_ = s.SetDeadline(time.Time{})
	}()

	errc := make(chan error, 2)
	waits := 0

	if dir&DirInbound != 0 {
		waits++

		go func() { errc <- s.waitReadable() }()
	}

	if dir&DirOutbound != 0 {
		waits++

		go func() { errc <- s.waitWritable() }()
	}

	err := <-errc

	if waits == 2 {
		// One direction won; release the waiter parked on the other.
		_ = s.SetDeadline(aLongTimeAgo)
		<-errc
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	return err
}

func (s *TCPStream) waitReadable() error {
	first := true

	return s.raw.Read(func(uintptr) bool {
		if first {
			first = false

			return false // park until the descriptor is readable
		}

		return true
	})
}

func (s *TCPStream) waitWritable() error {
	first := true

	return s.raw.Write(func(uintptr) bool {
		if first {
			first = false

			return false // park until the descriptor is writable
		}

		return true
	})
}

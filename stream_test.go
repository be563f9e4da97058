package sshwait_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ruffel/sshwait"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair dials a loopback listener and returns the wrapped client side
// together with the accepted server conn.
func tcpPair(t *testing.T) (*sshwait.TCPStream, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)

	go func() {
		conn, aerr := ln.Accept()
		if aerr != nil {
			return
		}

		accepted <- conn
	}()

	stream, err := sshwait.DialTCP(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = stream.Close() })

	server := <-accepted
	t.Cleanup(func() { _ = server.Close() })

	return stream, server
}

func TestTCPStream_WaitWritableImmediate(t *testing.T) {
	t.Parallel()

	stream, _ := tcpPair(t)

	// A fresh socket with an empty send buffer is writable right away.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, stream.WaitReady(ctx, sshwait.DirOutbound))
}

func TestTCPStream_WaitReadableUnblocksOnData(t *testing.T) {
	t.Parallel()

	stream, server := tcpPair(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = server.Write([]byte("ping"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, stream.WaitReady(ctx, sshwait.DirInbound))

	// The wait consumed nothing; the data is still there to read.
	buf := make([]byte, 4)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestTCPStream_WaitBothSettlesOnWritable(t *testing.T) {
	t.Parallel()

	stream, _ := tcpPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, stream.WaitReady(ctx, sshwait.DirBoth))
}

func TestTCPStream_NoneIsTreatedAsBoth(t *testing.T) {
	t.Parallel()

	stream, _ := tcpPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, stream.WaitReady(ctx, sshwait.DirNone))
}

func TestTCPStream_CancelLeavesStreamUsable(t *testing.T) {
	t.Parallel()

	stream, server := tcpPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := stream.WaitReady(ctx, sshwait.DirInbound)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The cancelled wait must not poison the connection.
	go func() {
		_, _ = server.Write([]byte("late"))
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()

	require.NoError(t, stream.WaitReady(waitCtx, sshwait.DirInbound))

	buf := make([]byte, 4)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "late", string(buf[:n]))
}

func TestTCPStream_PreCancelledContext(t *testing.T) {
	t.Parallel()

	stream, _ := tcpPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := stream.WaitReady(ctx, sshwait.DirInbound)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDialTCP_Failure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = sshwait.DialTCP(context.Background(), addr)
	require.Error(t, err)
}

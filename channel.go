package sshwait

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// Channel is one SSH channel, retry-adapted. It shares its parent Session's
// Stream and may outlive the Session that opened it.
type Channel struct {
	engine ChannelEngine
	stream Stream
}

func newChannel(engine ChannelEngine, stream Stream) *Channel {
	return &Channel{engine: engine, stream: stream}
}

// Stream returns the readiness source shared with the parent Session.
func (c *Channel) Stream() Stream {
	return c.stream
}

// Read reads from the channel, waiting for transport readiness as needed.
// It reports io.EOF when the remote side has sent EOF.
func (c *Channel) Read(ctx context.Context, p []byte) (int, error) {
	return Do(ctx, c.stream, c.engine, func() (int, error) {
		return c.engine.Read(p)
	})
}

// Write writes to the channel, waiting for transport readiness as needed.
func (c *Channel) Write(ctx context.Context, p []byte) (int, error) {
	return Do(ctx, c.stream, c.engine, func() (int, error) {
		return c.engine.Write(p)
	})
}

// WriteAll writes the whole of p, looping over short writes.
func (c *Channel) WriteAll(ctx context.Context, p []byte) error {
	for len(p) > 0 {
		n, err := c.Write(ctx, p)
		if err != nil {
			return err
		}

		if n == 0 {
			return io.ErrShortWrite
		}

		p = p[n:]
	}

	return nil
}

// ReadAll reads until EOF and returns everything received.
func (c *Channel) ReadAll(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer

	chunk := make([]byte, 32*1024)

	for {
		n, err := c.Read(ctx, chunk)
		buf.Write(chunk[:n])

		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}

		if err != nil {
			return buf.Bytes(), err
		}
	}
}

// Exec requests execution of command on this channel. Valid once per
// session channel.
func (c *Channel) Exec(ctx context.Context, command string) error {
	return doErr(ctx, c.stream, c.engine, func() error {
		return c.engine.Exec(command)
	})
}

// RequestPty requests a pseudo-terminal of the given size.
func (c *Channel) RequestPty(ctx context.Context, term string, width, height int) error {
	return doErr(ctx, c.stream, c.engine, func() error {
		return c.engine.RequestPty(term, width, height)
	})
}

// SendEOF tells the remote side no more data will be written.
func (c *Channel) SendEOF(ctx context.Context) error {
	return doErr(ctx, c.stream, c.engine, c.engine.SendEOF)
}

// WaitEOF waits for the remote side's EOF.
func (c *Channel) WaitEOF(ctx context.Context) error {
	return doErr(ctx, c.stream, c.engine, c.engine.WaitEOF)
}

// WaitClosed waits for the remote side to close the channel.
func (c *Channel) WaitClosed(ctx context.Context) error {
	return doErr(ctx, c.stream, c.engine, c.engine.WaitClosed)
}

// ExitStatus returns the exit status of the command run on this channel,
// once the channel has closed.
func (c *Channel) ExitStatus() (int, error) {
	return c.engine.ExitStatus()
}

// Close closes the channel. The shared Stream stays open; it belongs to the
// Session and its other resources.
func (c *Channel) Close(ctx context.Context) error {
	return doErr(ctx, c.stream, c.engine, c.engine.Close)
}

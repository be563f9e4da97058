package sshwait

import "context"

// Listener accepts channels forwarded back from a remote port, obtained via
// Session.ChannelForwardListen. It shares the parent Session's Stream.
type Listener struct {
	engine ListenerEngine
	stream Stream
}

func newListener(engine ListenerEngine, stream Stream) *Listener {
	return &Listener{engine: engine, stream: stream}
}

// Stream returns the readiness source shared with the parent Session.
func (l *Listener) Stream() Stream {
	return l.stream
}

// Accept waits for the next forwarded connection. The returned channel
// shares the same Stream.
func (l *Listener) Accept(ctx context.Context) (*Channel, error) {
	engine, err := Do(ctx, l.stream, l.engine, l.engine.Accept)
	if err != nil {
		return nil, err
	}

	return newChannel(engine, l.stream), nil
}

// Close cancels the remote forwarding.
func (l *Listener) Close(ctx context.Context) error {
	return doErr(ctx, l.stream, l.engine, l.engine.Close)
}

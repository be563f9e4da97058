package sshwaittest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/ruffel/sshwait"
)

// channelEngine backs every channel kind the fake engine hands out. For
// scp-send channels, written bytes are committed to the engine's file store
// on Close; for scp-recv and exec channels, out holds the readable data.
type channelEngine struct {
	engine *Engine
	kind   string

	mu     sync.Mutex
	out    []byte
	in     []byte
	eof    bool
	closed bool

	exitStatus int

	scpPath string
	scpMode fs.FileMode
	scpSize int64
}

var _ sshwait.ChannelEngine = (*channelEngine)(nil)

func newChannelEngine(engine *Engine, kind string) *channelEngine {
	return &channelEngine{engine: engine, kind: kind}
}

func (c *channelEngine) BlockDirections() sshwait.Direction {
	return c.engine.BlockDirections()
}

func (c *channelEngine) Read(p []byte) (int, error) {
	if err := c.engine.step("channel-read"); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.out) == 0 {
		return 0, io.EOF
	}

	n := copy(p, c.out)
	c.out = c.out[n:]

	return n, nil
}

func (c *channelEngine) Write(p []byte) (int, error) {
	if err := c.engine.step("channel-write"); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.eof {
		return 0, c.engine.protocolErr(errors.New("write on closed channel"))
	}

	c.in = append(c.in, p...)

	return len(p), nil
}

func (c *channelEngine) Exec(command string) error {
	if err := c.engine.step("channel-exec"); err != nil {
		return err
	}

	if c.kind != "session" {
		return c.engine.protocolErr(fmt.Errorf("exec on %q channel", c.kind))
	}

	c.engine.mu.Lock()
	output := c.engine.execOutput[command]
	c.engine.execed = append(c.engine.execed, command)
	c.engine.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.out = append(c.out, output...)

	return nil
}

func (c *channelEngine) RequestPty(term string, _, _ int) error {
	if err := c.engine.step("channel-request-pty"); err != nil {
		return err
	}

	if c.kind != "session" {
		return c.engine.protocolErr(fmt.Errorf("pty-req on %q channel", c.kind))
	}

	if term == "" {
		return c.engine.protocolErr(errors.New("pty-req: empty term"))
	}

	return nil
}

func (c *channelEngine) SendEOF() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.eof = true

	return nil
}

func (c *channelEngine) WaitEOF() error {
	return nil
}

func (c *channelEngine) WaitClosed() error {
	return nil
}

func (c *channelEngine) ExitStatus() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exitStatus, nil
}

func (c *channelEngine) Close() error {
	if err := c.engine.step("channel-close"); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if c.kind == "scp-send" {
		data := c.in
		if c.scpSize > 0 && int64(len(data)) > c.scpSize {
			data = data[:c.scpSize]
		}

		c.engine.mu.Lock()
		c.engine.files[c.scpPath] = append([]byte(nil), data...)
		c.engine.modes[c.scpPath] = c.scpMode
		c.engine.mu.Unlock()
	}

	return nil
}

// agentEngine serves identities out of the parent engine's scripted list.
type agentEngine struct {
	engine *Engine

	mu        sync.Mutex
	connected bool
	listed    []sshwait.PublicKey
}

var _ sshwait.AgentEngine = (*agentEngine)(nil)

func (a *agentEngine) BlockDirections() sshwait.Direction {
	return a.engine.BlockDirections()
}

func (a *agentEngine) Connect() error {
	if err := a.engine.step("agent-connect"); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.connected = true

	return nil
}

func (a *agentEngine) ListIdentities() error {
	if err := a.engine.step("agent-list"); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return a.engine.protocolErr(errors.New("agent not connected"))
	}

	a.engine.mu.Lock()
	a.listed = append([]sshwait.PublicKey(nil), a.engine.identities...)
	a.engine.mu.Unlock()

	return nil
}

func (a *agentEngine) Identities() ([]sshwait.PublicKey, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil, errors.New("agent not connected")
	}

	return append([]sshwait.PublicKey(nil), a.listed...), nil
}

func (a *agentEngine) Userauth(username string, identity sshwait.PublicKey) error {
	if err := a.engine.step("agent-userauth"); err != nil {
		return err
	}

	if err := a.engine.requireSession(); err != nil {
		return err
	}

	a.engine.mu.Lock()
	defer a.engine.mu.Unlock()

	if username == "" {
		a.engine.lastErr = ErrAuthRejected

		return ErrAuthRejected
	}

	if len(a.engine.authorized) > 0 && !a.engine.authorized[identity.Comment] {
		a.engine.lastErr = ErrAuthRejected

		return ErrAuthRejected
	}

	a.engine.authenticated = true

	return nil
}

func (a *agentEngine) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.connected = false

	return nil
}

// listenerEngine pops connections queued with Engine.PushForward.
type listenerEngine struct {
	engine *Engine

	mu     sync.Mutex
	closed bool
}

var _ sshwait.ListenerEngine = (*listenerEngine)(nil)

func (l *listenerEngine) BlockDirections() sshwait.Direction {
	return l.engine.BlockDirections()
}

func (l *listenerEngine) Accept() (sshwait.ChannelEngine, error) {
	if err := l.engine.step("listener-accept"); err != nil {
		return nil, err
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()

	if closed {
		return nil, l.engine.protocolErr(errors.New("accept on closed listener"))
	}

	l.engine.mu.Lock()
	defer l.engine.mu.Unlock()

	if len(l.engine.forwardq) == 0 {
		l.engine.blockedOn = sshwait.DirInbound

		return nil, fmt.Errorf("listener-accept: %w", sshwait.ErrWouldBlock)
	}

	ch := l.engine.forwardq[0]
	l.engine.forwardq = l.engine.forwardq[1:]

	return ch, nil
}

func (l *listenerEngine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true

	return nil
}

package gossh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/ruffel/sshwait"
	"golang.org/x/crypto/ssh"
)

func (e *Engine) ChannelSession() (sshwait.ChannelEngine, error) {
	client, err := e.requireClient()
	if err != nil {
		return nil, err
	}

	ch, reqs, err := client.OpenChannel("session", nil)
	if err != nil {
		return nil, e.fail(err)
	}

	return newSessionChannel(ch, reqs), nil
}

func (e *Engine) ChannelDirectTCPIP(host string, port int, src *sshwait.OriginAddr) (sshwait.ChannelEngine, error) {
	client, err := e.requireClient()
	if err != nil {
		return nil, err
	}

	var conn net.Conn

	if src != nil {
		laddr := &net.TCPAddr{IP: net.ParseIP(src.Host), Port: src.Port}
		raddr := &net.TCPAddr{IP: net.ParseIP(host), Port: port}

		conn, err = client.DialTCP("tcp", laddr, raddr)
	} else {
		conn, err = client.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	}

	if err != nil {
		return nil, e.fail(err)
	}

	return &connChannel{conn: conn}, nil
}

// ChannelForwardListen asks the server to listen on remotePort. The queue
// size is decided by x/crypto/ssh and the parameter is ignored.
func (e *Engine) ChannelForwardListen(remotePort int, host string, _ int) (sshwait.ListenerEngine, int, error) {
	client, err := e.requireClient()
	if err != nil {
		return nil, 0, err
	}

	if host == "" {
		host = "0.0.0.0"
	}

	ln, err := client.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(remotePort)))
	if err != nil {
		return nil, 0, e.fail(err)
	}

	port := remotePort
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	return &listenerEngine{ln: ln}, port, nil
}

// ChannelOpen opens a channel of an arbitrary type. Window and packet sizes
// are decided by x/crypto/ssh and the parameters are ignored.
func (e *Engine) ChannelOpen(kind string, _, _ uint32, message string) (sshwait.ChannelEngine, error) {
	client, err := e.requireClient()
	if err != nil {
		return nil, err
	}

	var payload []byte
	if message != "" {
		payload = []byte(message)
	}

	ch, reqs, err := client.OpenChannel(kind, payload)
	if err != nil {
		return nil, e.fail(err)
	}

	return newSessionChannel(ch, reqs), nil
}

// sessionChannel adapts an ssh.Channel plus its request stream. A goroutine
// consumes channel requests, capturing exit-status; it ends when the remote
// side closes the channel.
type sessionChannel struct {
	ch ssh.Channel

	mu         sync.Mutex
	pending    []byte
	sawEOF     bool
	exitStatus int
	closed     bool

	done chan struct{}
}

var _ sshwait.ChannelEngine = (*sessionChannel)(nil)

func newSessionChannel(ch ssh.Channel, reqs <-chan *ssh.Request) *sessionChannel {
	c := &sessionChannel{ch: ch, done: make(chan struct{})}

	go func() {
		defer close(c.done)

		for req := range reqs {
			if req.Type == "exit-status" {
				var payload struct{ Status uint32 }
				if err := ssh.Unmarshal(req.Payload, &payload); err == nil {
					c.mu.Lock()
					c.exitStatus = int(payload.Status)
					c.mu.Unlock()
				}
			}

			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}()

	return c
}

func (c *sessionChannel) BlockDirections() sshwait.Direction {
	return sshwait.DirNone
}

func (c *sessionChannel) Read(p []byte) (int, error) {
	c.mu.Lock()

	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		c.mu.Unlock()

		return n, nil
	}

	if c.sawEOF {
		c.mu.Unlock()

		return 0, io.EOF
	}

	c.mu.Unlock()

	n, err := c.ch.Read(p)
	if errors.Is(err, io.EOF) {
		c.mu.Lock()
		c.sawEOF = true
		c.mu.Unlock()
	}

	return n, err
}

func (c *sessionChannel) Write(p []byte) (int, error) {
	return c.ch.Write(p)
}

type execMsg struct {
	Command string
}

func (c *sessionChannel) Exec(command string) error {
	ok, err := c.ch.SendRequest("exec", true, ssh.Marshal(&execMsg{Command: command}))
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("exec request for %q rejected", command)
	}

	return nil
}

type ptyReqMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

func (c *sessionChannel) RequestPty(term string, width, height int) error {
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	var modeList []byte

	for k, v := range modes {
		kv := struct {
			Key byte
			Val uint32
		}{k, v}
		modeList = append(modeList, ssh.Marshal(&kv)...)
	}

	modeList = append(modeList, 0) // tty_OP_END

	req := ptyReqMsg{
		Term:     term,
		Columns:  uint32(width),
		Rows:     uint32(height),
		Width:    uint32(width) * 8,
		Height:   uint32(height) * 8,
		Modelist: string(modeList),
	}

	ok, err := c.ch.SendRequest("pty-req", true, ssh.Marshal(&req))
	if err != nil {
		return err
	}

	if !ok {
		return errors.New("pty-req rejected")
	}

	return nil
}

func (c *sessionChannel) SendEOF() error {
	return c.ch.CloseWrite()
}

// WaitEOF reads ahead until the remote side sends EOF; buffered data is
// served by subsequent Reads.
func (c *sessionChannel) WaitEOF() error {
	chunk := make([]byte, 32*1024)

	for {
		c.mu.Lock()
		sawEOF := c.sawEOF
		c.mu.Unlock()

		if sawEOF {
			return nil
		}

		n, err := c.ch.Read(chunk)

		c.mu.Lock()
		c.pending = append(c.pending, chunk[:n]...)

		if errors.Is(err, io.EOF) {
			c.sawEOF = true
			c.mu.Unlock()

			return nil
		}

		c.mu.Unlock()

		if err != nil {
			return err
		}
	}
}

func (c *sessionChannel) WaitClosed() error {
	<-c.done

	return nil
}

// ExitStatus reports the command's exit status. It is meaningful once the
// channel has closed (WaitClosed); before then it reports zero.
func (c *sessionChannel) ExitStatus() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exitStatus, nil
}

func (c *sessionChannel) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	c.mu.Unlock()

	return c.ch.Close()
}

// connChannel adapts a net.Conn obtained from direct-tcpip dialing or a
// forwarded listener. Session-only operations are not supported on it.
type connChannel struct {
	conn net.Conn

	mu      sync.Mutex
	pending []byte
	sawEOF  bool
}

var _ sshwait.ChannelEngine = (*connChannel)(nil)

func (c *connChannel) BlockDirections() sshwait.Direction {
	return sshwait.DirNone
}

func (c *connChannel) Read(p []byte) (int, error) {
	c.mu.Lock()

	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		c.mu.Unlock()

		return n, nil
	}

	if c.sawEOF {
		c.mu.Unlock()

		return 0, io.EOF
	}

	c.mu.Unlock()

	n, err := c.conn.Read(p)
	if errors.Is(err, io.EOF) {
		c.mu.Lock()
		c.sawEOF = true
		c.mu.Unlock()
	}

	return n, err
}

func (c *connChannel) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

func (c *connChannel) Exec(string) error {
	return fmt.Errorf("exec on tcpip channel: %w", sshwait.ErrNotSupported)
}

func (c *connChannel) RequestPty(string, int, int) error {
	return fmt.Errorf("pty-req on tcpip channel: %w", sshwait.ErrNotSupported)
}

func (c *connChannel) SendEOF() error {
	type closeWriter interface {
		CloseWrite() error
	}

	if cw, ok := c.conn.(closeWriter); ok {
		return cw.CloseWrite()
	}

	return fmt.Errorf("half-close: %w", sshwait.ErrNotSupported)
}

func (c *connChannel) WaitEOF() error {
	chunk := make([]byte, 32*1024)

	for {
		c.mu.Lock()
		sawEOF := c.sawEOF
		c.mu.Unlock()

		if sawEOF {
			return nil
		}

		n, err := c.conn.Read(chunk)

		c.mu.Lock()
		c.pending = append(c.pending, chunk[:n]...)

		if errors.Is(err, io.EOF) {
			c.sawEOF = true
			c.mu.Unlock()

			return nil
		}

		c.mu.Unlock()

		if err != nil {
			return err
		}
	}
}

func (c *connChannel) WaitClosed() error {
	return c.WaitEOF()
}

func (c *connChannel) ExitStatus() (int, error) {
	return 0, fmt.Errorf("exit status on tcpip channel: %w", sshwait.ErrNotSupported)
}

func (c *connChannel) Close() error {
	return c.conn.Close()
}

// listenerEngine adapts the net.Listener returned by ssh.Client.Listen.
type listenerEngine struct {
	ln net.Listener
}

var _ sshwait.ListenerEngine = (*listenerEngine)(nil)

func (l *listenerEngine) BlockDirections() sshwait.Direction {
	return sshwait.DirNone
}

func (l *listenerEngine) Accept() (sshwait.ChannelEngine, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}

	return &connChannel{conn: conn}, nil
}

func (l *listenerEngine) Close() error {
	return l.ln.Close()
}

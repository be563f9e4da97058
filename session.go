package sshwait

import (
	"context"
	"io/fs"
	"time"
)

// Session wraps one Engine and routes every protocol operation through the
// Do combinator. It owns the engine exclusively and shares its Stream with
// every derived resource it spawns, so those resources keep waiting on the
// same transport after the Session itself is gone.
type Session struct {
	engine Engine
	stream Stream
}

// New builds a Session over a connected stream. The engine is switched to
// non-blocking mode, the options are applied in a fixed order (banner,
// sigpipe, compress, timeout, keepalive), and the engine is bound to the
// stream. The stream must stay valid for the Session's entire lifetime.
func New(stream Stream, engine Engine, opts ...Option) (*Session, error) {
	cfg := Config{}
	for _, o := range opts {
		o(&cfg)
	}

	engine.SetBlocking(false)

	if err := cfg.apply(engine); err != nil {
		return nil, err
	}

	if err := engine.Bind(stream); err != nil {
		return nil, err
	}

	return &Session{engine: engine, stream: stream}, nil
}

// Dial connects to addr over TCP and builds a Session on the resulting
// stream.
func Dial(ctx context.Context, addr string, engine Engine, opts ...Option) (*Session, error) {
	stream, err := DialTCP(ctx, addr)
	if err != nil {
		return nil, err
	}

	sess, err := New(stream, engine, opts...)
	if err != nil {
		_ = stream.Close()

		return nil, err
	}

	return sess, nil
}

// Stream returns the readiness source shared with derived resources.
func (s *Session) Stream() Stream {
	return s.stream
}

// Handshake performs the protocol handshake. It must complete before any
// other operation; the engine rejects out-of-order calls.
func (s *Session) Handshake(ctx context.Context) error {
	return doErr(ctx, s.stream, s.engine, s.engine.Handshake)
}

// UserauthPassword attempts password authentication. Check Authenticated
// afterwards; some engines report success without the auth sticking.
func (s *Session) UserauthPassword(ctx context.Context, username, password string) error {
	return doErr(ctx, s.stream, s.engine, func() error {
		return s.engine.UserauthPassword(username, password)
	})
}

// UserauthKeyboardInteractive attempts keyboard-interactive authentication,
// answering server challenges through prompter.
func (s *Session) UserauthKeyboardInteractive(ctx context.Context, username string, prompter KeyboardInteractivePrompter) error {
	return doErr(ctx, s.stream, s.engine, func() error {
		return s.engine.UserauthKeyboardInteractive(username, prompter)
	})
}

// UserauthPubkeyFile attempts public key authentication with keys read from
// disk. pubkeyPath may be empty when the engine can derive it.
func (s *Session) UserauthPubkeyFile(ctx context.Context, username, pubkeyPath, privatekeyPath, passphrase string) error {
	return doErr(ctx, s.stream, s.engine, func() error {
		return s.engine.UserauthPubkeyFile(username, pubkeyPath, privatekeyPath, passphrase)
	})
}

// UserauthPubkeyMemory attempts public key authentication with in-memory
// key material.
func (s *Session) UserauthPubkeyMemory(ctx context.Context, username, pubkeyData, privatekeyData, passphrase string) error {
	return doErr(ctx, s.stream, s.engine, func() error {
		return s.engine.UserauthPubkeyMemory(username, pubkeyData, privatekeyData, passphrase)
	})
}

// UserauthHostbasedFile attempts host-based authentication.
func (s *Session) UserauthHostbasedFile(ctx context.Context, username, publickeyPath, privatekeyPath, passphrase, hostname, localUsername string) error {
	return doErr(ctx, s.stream, s.engine, func() error {
		return s.engine.UserauthHostbasedFile(username, publickeyPath, privatekeyPath, passphrase, hostname, localUsername)
	})
}

// UserauthAgent authenticates with the first identity held by the local ssh
// agent. It fails with ErrNoIdentities, making no authentication attempt,
// when the agent holds none. Only the first identity is tried; use
// UserauthAgentTryAll to walk the full list.
func (s *Session) UserauthAgent(ctx context.Context, username string) error {
	agent, err := s.Agent()
	if err != nil {
		return err
	}
	defer func() { _ = agent.Close(context.WithoutCancel(ctx)) }()

	identities, err := s.agentIdentities(ctx, agent)
	if err != nil {
		return err
	}

	return agent.Userauth(ctx, username, identities[0])
}

// UserauthAgentTryAll authenticates with agent identities in order until
// one of them sticks. It fails with ErrNoIdentities when the agent holds
// none, and with ErrAllIdentitiesFailed when every identity was rejected.
func (s *Session) UserauthAgentTryAll(ctx context.Context, username string) error {
	agent, err := s.Agent()
	if err != nil {
		return err
	}
	defer func() { _ = agent.Close(context.WithoutCancel(ctx)) }()

	identities, err := s.agentIdentities(ctx, agent)
	if err != nil {
		return err
	}

	for _, identity := range identities {
		if err := agent.Userauth(ctx, username, identity); err != nil {
			if ctx.Err() != nil {
				return err
			}

			continue
		}

		if s.Authenticated() {
			return nil
		}
	}

	return ErrAllIdentitiesFailed
}

// agentIdentities connects, refreshes and returns the agent's identity
// list, failing with ErrNoIdentities when it is empty.
func (s *Session) agentIdentities(ctx context.Context, agent *Agent) ([]PublicKey, error) {
	if err := agent.Connect(ctx); err != nil {
		return nil, err
	}

	if err := agent.ListIdentities(ctx); err != nil {
		return nil, err
	}

	identities, err := agent.Identities()
	if err != nil {
		return nil, err
	}

	if len(identities) == 0 {
		return nil, ErrNoIdentities
	}

	return identities, nil
}

// Authenticated reports whether a userauth method has completed.
func (s *Session) Authenticated() bool {
	return s.engine.Authenticated()
}

// AuthMethods returns the comma-separated auth methods the server offers
// for username.
func (s *Session) AuthMethods(ctx context.Context, username string) (string, error) {
	return Do(ctx, s.stream, s.engine, func() (string, error) {
		return s.engine.AuthMethods(username)
	})
}

// MethodPref sets the preference list for one negotiation method category.
func (s *Session) MethodPref(ctx context.Context, kind MethodKind, prefs string) error {
	return doErr(ctx, s.stream, s.engine, func() error {
		return s.engine.MethodPref(kind, prefs)
	})
}

// Methods returns the algorithms negotiated for kind, once the handshake
// has settled them.
func (s *Session) Methods(kind MethodKind) (string, bool) {
	return s.engine.Methods(kind)
}

// SupportedAlgs lists the algorithms the engine could negotiate for kind.
func (s *Session) SupportedAlgs(ctx context.Context, kind MethodKind) ([]string, error) {
	return Do(ctx, s.stream, s.engine, func() ([]string, error) {
		return s.engine.SupportedAlgs(kind)
	})
}

// Agent returns a handle to the local ssh agent, sharing this Session's
// stream.
func (s *Session) Agent() (*Agent, error) {
	engine, err := s.engine.Agent()
	if err != nil {
		return nil, err
	}

	return newAgent(engine, s.stream), nil
}

// ChannelSession opens a session channel.
func (s *Session) ChannelSession(ctx context.Context) (*Channel, error) {
	engine, err := Do(ctx, s.stream, s.engine, s.engine.ChannelSession)
	if err != nil {
		return nil, err
	}

	return newChannel(engine, s.stream), nil
}

// ChannelDirectTCPIP opens a direct-tcpip channel to host:port. src, when
// non-nil, is reported to the server as the connection originator.
func (s *Session) ChannelDirectTCPIP(ctx context.Context, host string, port int, src *OriginAddr) (*Channel, error) {
	engine, err := Do(ctx, s.stream, s.engine, func() (ChannelEngine, error) {
		return s.engine.ChannelDirectTCPIP(host, port, src)
	})
	if err != nil {
		return nil, err
	}

	return newChannel(engine, s.stream), nil
}

// ChannelForwardListen asks the server to listen on remotePort and forward
// connections back. It returns the listener and the port actually bound
// (useful when remotePort is 0).
func (s *Session) ChannelForwardListen(ctx context.Context, remotePort int, host string, queueMaxSize int) (*Listener, int, error) {
	type listenResult struct {
		engine ListenerEngine
		port   int
	}

	res, err := Do(ctx, s.stream, s.engine, func() (listenResult, error) {
		engine, port, err := s.engine.ChannelForwardListen(remotePort, host, queueMaxSize)

		return listenResult{engine: engine, port: port}, err
	})
	if err != nil {
		return nil, 0, err
	}

	return newListener(res.engine, s.stream), res.port, nil
}

// ChannelOpen opens a channel of an arbitrary type with explicit window and
// packet sizes.
func (s *Session) ChannelOpen(ctx context.Context, kind string, windowSize, packetSize uint32, message string) (*Channel, error) {
	engine, err := Do(ctx, s.stream, s.engine, func() (ChannelEngine, error) {
		return s.engine.ChannelOpen(kind, windowSize, packetSize, message)
	})
	if err != nil {
		return nil, err
	}

	return newChannel(engine, s.stream), nil
}

// ScpSend starts an SCP upload of size bytes to remotePath. Write the file
// content to the returned channel, then close it.
func (s *Session) ScpSend(ctx context.Context, remotePath string, mode fs.FileMode, size int64, times *FileTimes) (*Channel, error) {
	engine, err := Do(ctx, s.stream, s.engine, func() (ChannelEngine, error) {
		return s.engine.ScpSend(remotePath, mode, size, times)
	})
	if err != nil {
		return nil, err
	}

	return newChannel(engine, s.stream), nil
}

// ScpRecv starts an SCP download of remotePath, returning the channel the
// content arrives on and the remote file's stat.
func (s *Session) ScpRecv(ctx context.Context, remotePath string) (*Channel, FileStat, error) {
	type recvResult struct {
		engine ChannelEngine
		stat   FileStat
	}

	res, err := Do(ctx, s.stream, s.engine, func() (recvResult, error) {
		engine, stat, err := s.engine.ScpRecv(remotePath)

		return recvResult{engine: engine, stat: stat}, err
	})
	if err != nil {
		return nil, FileStat{}, err
	}

	return newChannel(res.engine, s.stream), res.stat, nil
}

// SFTP opens an SFTP sub-session over this Session's transport.
func (s *Session) SFTP(ctx context.Context) (*SFTP, error) {
	engine, err := Do(ctx, s.stream, s.engine, s.engine.SFTP)
	if err != nil {
		return nil, err
	}

	return newSFTP(engine, s.stream), nil
}

// KeepaliveSend emits a keepalive probe and returns the time until the next
// one is due.
func (s *Session) KeepaliveSend(ctx context.Context) (time.Duration, error) {
	return Do(ctx, s.stream, s.engine, s.engine.KeepaliveSend)
}

// Disconnect sends a disconnect message to the server.
func (s *Session) Disconnect(ctx context.Context, reason DisconnectCode, description, lang string) error {
	return doErr(ctx, s.stream, s.engine, func() error {
		return s.engine.Disconnect(reason, description, lang)
	})
}

// Banner returns the server banner received during the handshake.
func (s *Session) Banner() (string, bool) {
	return s.engine.Banner()
}

// Timeout returns the per-operation timeout configured on the engine.
func (s *Session) Timeout() time.Duration {
	return s.engine.Timeout()
}

// IsBlocking reports the engine's call mode; false for any Session-managed
// engine.
func (s *Session) IsBlocking() bool {
	return s.engine.IsBlocking()
}

// HostKey returns the server's host key, once the handshake has produced
// one.
func (s *Session) HostKey() (HostKey, bool) {
	return s.engine.HostKey()
}

// HostKeyHash returns a digest of the server's host key.
func (s *Session) HostKeyHash(kind HashKind) ([]byte, bool) {
	return s.engine.HostKeyHash(kind)
}

// BlockDirections reports the direction the engine is currently waiting on.
func (s *Session) BlockDirections() Direction {
	return s.engine.BlockDirections()
}

// LastError returns the most recent protocol error recorded on the engine.
// Consult it when an operation reports failure without a specific error,
// e.g. after a userauth call that left Authenticated false.
func (s *Session) LastError() error {
	return s.engine.LastError()
}

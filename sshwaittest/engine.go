package sshwaittest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/ruffel/sshwait"
)

// Protocol errors the fake engine reports. Exposed so tests can assert on
// exact error identity.
var (
	ErrNotBound         = errors.New("engine not bound to a transport")
	ErrNoSession        = errors.New("handshake has not completed")
	ErrNotAuthenticated = errors.New("session is not authenticated")
	ErrAuthRejected     = errors.New("authentication rejected")
	ErrNoSuchFile       = errors.New("no such file")
	ErrDisconnected     = errors.New("session is disconnected")
)

// Engine is a scripted in-memory sshwait.Engine. Operations can be made to
// would-block a configured number of times (Block) or to fail with a fixed
// error (FailWith); otherwise they complete against in-memory state: an
// identity list behind the agent handle and a file store behind the SCP and
// SFTP handles.
//
// Operation names accepted by Block, FailWith and Attempts are the
// kebab-cased engine calls: "handshake", "userauth-password",
// "userauth-pubkey-file", "agent-connect", "agent-list", "agent-userauth",
// "auth-methods", "method-pref", "supported-algs", "channel-session",
// "channel-direct-tcpip", "channel-forward-listen", "channel-open",
// "scp-send", "scp-recv", "sftp", "keepalive", "disconnect",
// "channel-read", "channel-write", "channel-exec", "channel-close",
// "listener-accept", "sftp-open", "sftp-stat", "sftp-read", "sftp-write".
type Engine struct {
	mu sync.Mutex

	bound    net.Conn
	blocking bool

	blocks    map[string]int
	failures  map[string]error
	attempts  map[string]int
	blockDir  sshwait.Direction
	blockedOn sshwait.Direction

	applied       []string
	clientBanner  string
	serverBanner  string
	allowSIGPIPE  bool
	compress      bool
	timeout       time.Duration
	keepaliveIval time.Duration

	handshaken    bool
	authenticated bool
	disconnected  bool
	lastErr       error

	acceptPassword string
	identities     []sshwait.PublicKey
	authorized     map[string]bool

	files  map[string][]byte
	modes  map[string]fs.FileMode
	dirs   map[string]fs.FileMode
	execed []string

	methodPrefs map[sshwait.MethodKind]string
	execOutput  map[string][]byte
	forwardq    []*channelEngine

	hostKey sshwait.HostKey
}

var _ sshwait.Engine = (*Engine)(nil)

// NewEngine returns a fresh scripted engine with an empty file store and no
// identities.
func NewEngine() *Engine {
	return &Engine{
		blocking:     true,
		blocks:       map[string]int{},
		failures:     map[string]error{},
		attempts:     map[string]int{},
		blockDir:     sshwait.DirInbound,
		serverBanner: "SSH-2.0-sshwaittest",
		authorized:   map[string]bool{},
		files:        map[string][]byte{},
		modes:        map[string]fs.FileMode{},
		dirs:         map[string]fs.FileMode{},
		methodPrefs:  map[sshwait.MethodKind]string{},
		execOutput:   map[string][]byte{},
		hostKey: sshwait.HostKey{
			Algorithm: "ssh-ed25519",
			Blob:      []byte("sshwaittest-host-key"),
		},
	}
}

//
// Scripting surface.
//

// Block makes the named operation report would-block n times before it is
// allowed to proceed.
func (e *Engine) Block(op string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.blocks[op] = n
}

// FailWith makes the named operation fail with err on every attempt.
func (e *Engine) FailWith(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.failures[op] = err
}

// BlockOn sets the direction hint reported while an operation is blocked.
func (e *Engine) BlockOn(dir sshwait.Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.blockDir = dir
}

// Attempts reports how many times the named operation has been invoked,
// counting would-blocked attempts.
func (e *Engine) Attempts(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.attempts[op]
}

// AcceptPassword restricts password authentication to the given password.
// The zero value accepts any password.
func (e *Engine) AcceptPassword(password string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.acceptPassword = password
}

// AddIdentity appends an agent identity named by comment.
func (e *Engine) AddIdentity(comment string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.identities = append(e.identities, sshwait.PublicKey{
		Blob:    []byte("sshwaittest-key-" + comment),
		Comment: comment,
	})
}

// AuthorizeIdentity marks one identity as able to authenticate. While no
// identity is authorized, every identity authenticates.
func (e *Engine) AuthorizeIdentity(comment string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.authorized[comment] = true
}

// PutFile seeds the in-memory file store.
func (e *Engine) PutFile(path string, data []byte, mode fs.FileMode) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.files[path] = append([]byte(nil), data...)
	e.modes[path] = mode
}

// FileData returns the stored content of path, if present.
func (e *Engine) FileData(path string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, ok := e.files[path]
	if !ok {
		return nil, false
	}

	return append([]byte(nil), data...), true
}

// SetExecOutput scripts the output a session channel produces for command.
func (e *Engine) SetExecOutput(command string, output []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.execOutput[command] = append([]byte(nil), output...)
}

// PushForward queues one inbound forwarded connection, to be returned by
// the next listener accept, carrying output as its readable data.
func (e *Engine) PushForward(output []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := newChannelEngine(e, "forwarded-tcpip")
	ch.out = append(ch.out, output...)
	e.forwardq = append(e.forwardq, ch)
}

// AppliedConfig reports which configuration setters ran, in order.
func (e *Engine) AppliedConfig() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.applied...)
}

// Handshaken reports whether the handshake has completed.
func (e *Engine) Handshaken() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.handshaken
}

// Disconnected reports whether Disconnect has run.
func (e *Engine) Disconnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.disconnected
}

// step consumes one attempt of the named operation: a would-block if the
// block budget is not exhausted, the scripted failure if one is set, nil
// otherwise.
func (e *Engine) step(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.stepLocked(op)
}

func (e *Engine) stepLocked(op string) error {
	e.attempts[op]++

	if n := e.blocks[op]; n > 0 {
		e.blocks[op] = n - 1
		e.blockedOn = e.blockDir

		return fmt.Errorf("%s: %w", op, sshwait.ErrWouldBlock)
	}

	e.blockedOn = sshwait.DirNone

	if err := e.failures[op]; err != nil {
		e.lastErr = err

		return err
	}

	return nil
}

func (e *Engine) protocolErr(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastErr = err

	return err
}

//
// sshwait.Engine implementation.
//

func (e *Engine) BlockDirections() sshwait.Direction {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.blockedOn
}

func (e *Engine) SetBlocking(blocking bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.blocking = blocking
}

func (e *Engine) IsBlocking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.blocking
}

func (e *Engine) Bind(conn net.Conn) error {
	if conn == nil {
		return ErrNotBound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.bound = conn

	return nil
}

func (e *Engine) SetBanner(banner string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.clientBanner = banner
	e.applied = append(e.applied, "banner")

	return nil
}

func (e *Engine) SetAllowSIGPIPE(allow bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.allowSIGPIPE = allow
	e.applied = append(e.applied, "sigpipe")
}

func (e *Engine) SetCompress(compress bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.compress = compress
	e.applied = append(e.applied, "compress")
}

func (e *Engine) SetTimeout(timeout time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.timeout = timeout
	e.applied = append(e.applied, "timeout")
}

func (e *Engine) SetKeepalive(_ bool, interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.keepaliveIval = interval
	e.applied = append(e.applied, "keepalive")
}

func (e *Engine) Handshake() error {
	if err := e.step("handshake"); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bound == nil {
		e.lastErr = ErrNotBound

		return ErrNotBound
	}

	e.handshaken = true

	return nil
}

func (e *Engine) requireSession() error {
	e.mu.Lock()
	handshaken := e.handshaken
	disconnected := e.disconnected
	e.mu.Unlock()

	if disconnected {
		return e.protocolErr(ErrDisconnected)
	}

	if !handshaken {
		return e.protocolErr(ErrNoSession)
	}

	return nil
}

func (e *Engine) requireAuth() error {
	if err := e.requireSession(); err != nil {
		return err
	}

	e.mu.Lock()
	authenticated := e.authenticated
	e.mu.Unlock()

	if !authenticated {
		return e.protocolErr(ErrNotAuthenticated)
	}

	return nil
}

func (e *Engine) UserauthPassword(username, password string) error {
	if err := e.step("userauth-password"); err != nil {
		return err
	}

	if err := e.requireSession(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if username == "" || (e.acceptPassword != "" && password != e.acceptPassword) {
		e.lastErr = ErrAuthRejected

		return ErrAuthRejected
	}

	e.authenticated = true

	return nil
}

func (e *Engine) UserauthKeyboardInteractive(username string, prompter sshwait.KeyboardInteractivePrompter) error {
	if err := e.step("userauth-keyboard-interactive"); err != nil {
		return err
	}

	if err := e.requireSession(); err != nil {
		return err
	}

	answers, err := prompter.Prompt(username, "sshwaittest login", []sshwait.KeyboardInteractivePrompt{
		{Text: "Password: ", Echo: false},
	})
	if err != nil {
		return e.protocolErr(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(answers) != 1 || (e.acceptPassword != "" && answers[0] != e.acceptPassword) {
		e.lastErr = ErrAuthRejected

		return ErrAuthRejected
	}

	e.authenticated = true

	return nil
}

func (e *Engine) UserauthPubkeyFile(username, _, privatekeyPath, _ string) error {
	if err := e.step("userauth-pubkey-file"); err != nil {
		return err
	}

	if err := e.requireSession(); err != nil {
		return err
	}

	if username == "" || privatekeyPath == "" {
		return e.protocolErr(ErrAuthRejected)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.authenticated = true

	return nil
}

func (e *Engine) UserauthPubkeyMemory(username, _, privatekeyData, _ string) error {
	if err := e.step("userauth-pubkey-memory"); err != nil {
		return err
	}

	if err := e.requireSession(); err != nil {
		return err
	}

	if username == "" || privatekeyData == "" {
		return e.protocolErr(ErrAuthRejected)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.authenticated = true

	return nil
}

func (e *Engine) UserauthHostbasedFile(username, publickeyPath, _, _, hostname, _ string) error {
	if err := e.step("userauth-hostbased-file"); err != nil {
		return err
	}

	if err := e.requireSession(); err != nil {
		return err
	}

	if username == "" || publickeyPath == "" || hostname == "" {
		return e.protocolErr(ErrAuthRejected)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.authenticated = true

	return nil
}

func (e *Engine) Authenticated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.authenticated
}

func (e *Engine) AuthMethods(username string) (string, error) {
	if err := e.step("auth-methods"); err != nil {
		return "", err
	}

	if err := e.requireSession(); err != nil {
		return "", err
	}

	if username == "" {
		return "", e.protocolErr(ErrAuthRejected)
	}

	return "publickey,password,keyboard-interactive", nil
}

func (e *Engine) MethodPref(kind sshwait.MethodKind, prefs string) error {
	if err := e.step("method-pref"); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.methodPrefs[kind] = prefs

	return nil
}

func (e *Engine) Methods(kind sshwait.MethodKind) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.handshaken {
		return "", false
	}

	if prefs, ok := e.methodPrefs[kind]; ok {
		return prefs, true
	}

	switch kind {
	case sshwait.MethodKex:
		return "curve25519-sha256", true
	case sshwait.MethodHostKey:
		return "ssh-ed25519", true
	case sshwait.MethodCryptCS, sshwait.MethodCryptSC:
		return "chacha20-poly1305@openssh.com", true
	case sshwait.MethodMACCS, sshwait.MethodMACSC:
		return "hmac-sha2-256", true
	case sshwait.MethodCompCS, sshwait.MethodCompSC:
		return "none", true
	default:
		return "", false
	}
}

func (e *Engine) SupportedAlgs(kind sshwait.MethodKind) ([]string, error) {
	if err := e.step("supported-algs"); err != nil {
		return nil, err
	}

	switch kind {
	case sshwait.MethodKex:
		return []string{"curve25519-sha256", "diffie-hellman-group14-sha256"}, nil
	case sshwait.MethodHostKey:
		return []string{"ssh-ed25519", "rsa-sha2-512", "rsa-sha2-256"}, nil
	case sshwait.MethodCryptCS, sshwait.MethodCryptSC:
		return []string{"chacha20-poly1305@openssh.com", "aes128-gcm@openssh.com"}, nil
	case sshwait.MethodMACCS, sshwait.MethodMACSC:
		return []string{"hmac-sha2-256", "hmac-sha2-512"}, nil
	case sshwait.MethodCompCS, sshwait.MethodCompSC:
		return []string{"none", "zlib@openssh.com"}, nil
	default:
		return nil, nil
	}
}

func (e *Engine) Agent() (sshwait.AgentEngine, error) {
	return &agentEngine{engine: e}, nil
}

func (e *Engine) ChannelSession() (sshwait.ChannelEngine, error) {
	if err := e.step("channel-session"); err != nil {
		return nil, err
	}

	if err := e.requireAuth(); err != nil {
		return nil, err
	}

	return newChannelEngine(e, "session"), nil
}

func (e *Engine) ChannelDirectTCPIP(host string, port int, _ *sshwait.OriginAddr) (sshwait.ChannelEngine, error) {
	if err := e.step("channel-direct-tcpip"); err != nil {
		return nil, err
	}

	if err := e.requireAuth(); err != nil {
		return nil, err
	}

	if host == "" || port <= 0 {
		return nil, e.protocolErr(fmt.Errorf("direct-tcpip: bad target %s:%d", host, port))
	}

	return newChannelEngine(e, "direct-tcpip"), nil
}

func (e *Engine) ChannelForwardListen(remotePort int, _ string, _ int) (sshwait.ListenerEngine, int, error) {
	if err := e.step("channel-forward-listen"); err != nil {
		return nil, 0, err
	}

	if err := e.requireAuth(); err != nil {
		return nil, 0, err
	}

	port := remotePort
	if port == 0 {
		port = 49152
	}

	return &listenerEngine{engine: e}, port, nil
}

func (e *Engine) ChannelOpen(kind string, _, _ uint32, _ string) (sshwait.ChannelEngine, error) {
	if err := e.step("channel-open"); err != nil {
		return nil, err
	}

	if err := e.requireAuth(); err != nil {
		return nil, err
	}

	if kind == "" {
		return nil, e.protocolErr(errors.New("channel-open: empty channel type"))
	}

	return newChannelEngine(e, kind), nil
}

func (e *Engine) ScpSend(remotePath string, mode fs.FileMode, size int64, _ *sshwait.FileTimes) (sshwait.ChannelEngine, error) {
	if err := e.step("scp-send"); err != nil {
		return nil, err
	}

	if err := e.requireAuth(); err != nil {
		return nil, err
	}

	ch := newChannelEngine(e, "scp-send")
	ch.scpPath = remotePath
	ch.scpMode = mode
	ch.scpSize = size

	return ch, nil
}

func (e *Engine) ScpRecv(remotePath string) (sshwait.ChannelEngine, sshwait.FileStat, error) {
	if err := e.step("scp-recv"); err != nil {
		return nil, sshwait.FileStat{}, err
	}

	if err := e.requireAuth(); err != nil {
		return nil, sshwait.FileStat{}, err
	}

	e.mu.Lock()
	data, ok := e.files[remotePath]
	mode := e.modes[remotePath]
	e.mu.Unlock()

	if !ok {
		return nil, sshwait.FileStat{}, e.protocolErr(fmt.Errorf("scp-recv %s: %w", remotePath, ErrNoSuchFile))
	}

	ch := newChannelEngine(e, "scp-recv")
	ch.out = append(ch.out, data...)

	stat := sshwait.FileStat{
		Size: int64(len(data)),
		Mode: mode,
	}

	return ch, stat, nil
}

func (e *Engine) SFTP() (sshwait.SFTPEngine, error) {
	if err := e.step("sftp"); err != nil {
		return nil, err
	}

	if err := e.requireAuth(); err != nil {
		return nil, err
	}

	return &sftpEngine{engine: e}, nil
}

func (e *Engine) KeepaliveSend() (time.Duration, error) {
	if err := e.step("keepalive"); err != nil {
		return 0, err
	}

	if err := e.requireSession(); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.keepaliveIval, nil
}

func (e *Engine) Disconnect(_ sshwait.DisconnectCode, _, _ string) error {
	if err := e.step("disconnect"); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.disconnected = true

	return nil
}

func (e *Engine) Banner() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.handshaken {
		return "", false
	}

	return e.serverBanner, true
}

func (e *Engine) Timeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.timeout
}

func (e *Engine) HostKey() (sshwait.HostKey, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.handshaken {
		return sshwait.HostKey{}, false
	}

	return e.hostKey, true
}

func (e *Engine) HostKeyHash(kind sshwait.HashKind) ([]byte, bool) {
	key, ok := e.HostKey()
	if !ok {
		return nil, false
	}

	switch kind {
	case sshwait.HashMD5:
		sum := md5.Sum(key.Blob)

		return sum[:], true
	case sshwait.HashSHA1:
		sum := sha1.Sum(key.Blob)

		return sum[:], true
	case sshwait.HashSHA256:
		sum := sha256.Sum256(key.Blob)

		return sum[:], true
	default:
		return nil, false
	}
}

func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastErr
}

// ExecedCommands reports every command executed on a session channel, in
// order.
func (e *Engine) ExecedCommands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.execed...)
}

// Paths lists the stored file paths, sorted; handy for assertions.
func (e *Engine) Paths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	paths := make([]string, 0, len(e.files))
	for path := range e.files {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	return paths
}

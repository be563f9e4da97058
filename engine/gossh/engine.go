package gossh

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ruffel/sshwait"
	"golang.org/x/crypto/ssh"
)

// Protocol-level errors reported by the engine.
var (
	ErrNotBound          = errors.New("engine not bound to a transport")
	ErrNoSession         = errors.New("handshake has not completed")
	ErrNotAuthenticated  = errors.New("session is not authenticated")
	ErrTransportConsumed = errors.New("transport consumed by a failed authentication")
)

// Engine implements sshwait.Engine on golang.org/x/crypto/ssh. The zero
// value is not usable; construct with New.
type Engine struct {
	cfg Config

	mu sync.Mutex

	conn     net.Conn
	client   *ssh.Client
	blocking bool

	clientVersion string
	timeout       time.Duration
	allowSIGPIPE  bool
	compress      bool

	keepaliveWantReply bool
	keepaliveInterval  time.Duration
	keepaliveLast      time.Time

	handshaken    bool
	authenticated bool
	consumed      bool
	lastErr       error

	serverBanner string
	hasBanner    bool
	hostKey      ssh.PublicKey

	methodPrefs map[sshwait.MethodKind]string
	authMethods string
}

var _ sshwait.Engine = (*Engine)(nil)

// New returns an engine using the given configuration.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:         cfg,
		blocking:    true,
		methodPrefs: map[sshwait.MethodKind]string{},
	}
}

//
// Configuration and binding.
//

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

	e.conn = conn

	return nil
}

// SetBanner sets the client version string sent to the server. It must
// start with "SSH-2.0-".
func (e *Engine) SetBanner(banner string) error {
	if !strings.HasPrefix(banner, "SSH-2.0-") {
		return fmt.Errorf("banner %q must start with SSH-2.0-", banner)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.clientVersion = banner

	return nil
}

func (e *Engine) SetAllowSIGPIPE(allow bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Recorded only; Go socket writes never raise SIGPIPE.
	e.allowSIGPIPE = allow
}

func (e *Engine) SetCompress(compress bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Recorded only; x/crypto/ssh negotiates no compression.
	e.compress = compress
}

func (e *Engine) SetTimeout(timeout time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.timeout = timeout
}

func (e *Engine) SetKeepalive(wantReply bool, interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.keepaliveWantReply = wantReply
	e.keepaliveInterval = interval
}

//
// Handshake and authentication.
//

// Handshake validates the bound transport. The wire handshake itself runs
// on the first userauth call; see the package documentation.
func (e *Engine) Handshake() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		e.lastErr = ErrNotBound

		return ErrNotBound
	}

	e.handshaken = true

	return nil
}

// connect performs the combined handshake+auth exchange with the given
// methods. Callers must not hold e.mu.
func (e *Engine) connect(username string, methods ...ssh.AuthMethod) error {
	e.mu.Lock()

	if e.authenticated {
		e.mu.Unlock()

		return nil
	}

	if !e.handshaken {
		e.mu.Unlock()

		return e.fail(ErrNoSession)
	}

	if e.consumed {
		e.mu.Unlock()

		return e.fail(ErrTransportConsumed)
	}

	conn := e.conn
	addr := conn.RemoteAddr().String()
	clientCfg := e.clientConfigLocked(username, methods)
	e.mu.Unlock()

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.consumed = true
		e.lastErr = err
		e.authMethods = attemptableMethods(err)

		return err
	}

	e.client = ssh.NewClient(c, chans, reqs)
	e.authenticated = true
	e.keepaliveLast = time.Now()

	return nil
}

// clientConfigLocked builds the ssh.ClientConfig for one auth exchange.
func (e *Engine) clientConfigLocked(username string, methods []ssh.AuthMethod) *ssh.ClientConfig {
	hostKeyCallback := e.cfg.hostKeyCallback()

	cfg := &ssh.ClientConfig{
		User:          username,
		Auth:          methods,
		Timeout:       e.timeout,
		ClientVersion: e.clientVersion,
		BannerCallback: func(message string) error {
			e.mu.Lock()
			e.serverBanner = message
			e.hasBanner = true
			e.mu.Unlock()

			return nil
		},
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			e.mu.Lock()
			e.hostKey = key
			e.mu.Unlock()

			return hostKeyCallback(hostname, remote, key)
		},
	}

	if prefs, ok := e.methodPrefs[sshwait.MethodKex]; ok {
		cfg.KeyExchanges = strings.Split(prefs, ",")
	}

	if prefs, ok := e.methodPrefs[sshwait.MethodHostKey]; ok {
		cfg.HostKeyAlgorithms = strings.Split(prefs, ",")
	}

	if prefs, ok := e.methodPrefs[sshwait.MethodCryptCS]; ok {
		cfg.Ciphers = strings.Split(prefs, ",")
	}

	if prefs, ok := e.methodPrefs[sshwait.MethodMACCS]; ok {
		cfg.MACs = strings.Split(prefs, ",")
	}

	return cfg
}

// fail records err as the engine's last error and returns it.
func (e *Engine) fail(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastErr = err

	return err
}

func (e *Engine) UserauthPassword(username, password string) error {
	return e.connect(username, ssh.Password(password))
}

func (e *Engine) UserauthKeyboardInteractive(username string, prompter sshwait.KeyboardInteractivePrompter) error {
	challenge := func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		prompts := make([]sshwait.KeyboardInteractivePrompt, len(questions))
		for i, q := range questions {
			prompts[i] = sshwait.KeyboardInteractivePrompt{Text: q, Echo: echos[i]}
		}

		return prompter.Prompt(name, instruction, prompts)
	}

	return e.connect(username, ssh.KeyboardInteractive(challenge))
}

func (e *Engine) UserauthPubkeyFile(username, _, privatekeyPath, passphrase string) error {
	keyBytes, err := os.ReadFile(privatekeyPath)
	if err != nil {
		return e.fail(fmt.Errorf("read private key: %w", err))
	}

	return e.userauthPubkey(username, keyBytes, passphrase)
}

func (e *Engine) UserauthPubkeyMemory(username, _, privatekeyData, passphrase string) error {
	return e.userauthPubkey(username, []byte(privatekeyData), passphrase)
}

func (e *Engine) userauthPubkey(username string, keyBytes []byte, passphrase string) error {
	var (
		signer ssh.Signer
		err    error
	)

	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}

	if err != nil {
		return e.fail(fmt.Errorf("parse private key: %w", err))
	}

	return e.connect(username, ssh.PublicKeys(signer))
}

// UserauthHostbasedFile is not supported: x/crypto/ssh implements no
// hostbased authentication.
func (e *Engine) UserauthHostbasedFile(_, _, _, _, _, _ string) error {
	return e.fail(fmt.Errorf("hostbased authentication: %w", sshwait.ErrNotSupported))
}

func (e *Engine) Authenticated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.authenticated
}

// AuthMethods reports the methods the server offered during the last failed
// authentication exchange. Before any exchange it probes with none-auth,
// which consumes the transport unless the server accepts it.
func (e *Engine) AuthMethods(username string) (string, error) {
	e.mu.Lock()
	cached := e.authMethods
	e.mu.Unlock()

	if cached != "" {
		return cached, nil
	}

	if err := e.connect(username); err != nil {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.authMethods != "" {
			return e.authMethods, nil
		}

		return "", err
	}

	// The server accepted none-auth; nothing further is required.
	return "", nil
}

// attemptableMethods extracts the server's remaining auth methods from an
// x/crypto/ssh authentication error, e.g. `... attempted methods [none],
// no supported methods remain`.
func attemptableMethods(err error) string {
	msg := err.Error()

	const marker = "attempted methods ["

	i := strings.Index(msg, marker)
	if i < 0 {
		return ""
	}

	rest := msg[i+len(marker):]

	j := strings.Index(rest, "]")
	if j < 0 {
		return ""
	}

	return strings.Join(strings.Fields(rest[:j]), ",")
}

//
// Method negotiation.
//

func (e *Engine) MethodPref(kind sshwait.MethodKind, prefs string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.authenticated {
		err := errors.New("method preferences must be set before authentication")
		e.lastErr = err

		return err
	}

	e.methodPrefs[kind] = prefs

	return nil
}

func (e *Engine) Methods(kind sshwait.MethodKind) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prefs, ok := e.methodPrefs[kind]

	return prefs, ok
}

func (e *Engine) SupportedAlgs(kind sshwait.MethodKind) ([]string, error) {
	algs := ssh.SupportedAlgorithms()

	switch kind {
	case sshwait.MethodKex:
		return algs.KeyExchanges, nil
	case sshwait.MethodHostKey:
		return algs.HostKeys, nil
	case sshwait.MethodCryptCS, sshwait.MethodCryptSC:
		return algs.Ciphers, nil
	case sshwait.MethodMACCS, sshwait.MethodMACSC:
		return algs.MACs, nil
	case sshwait.MethodCompCS, sshwait.MethodCompSC:
		return []string{"none"}, nil
	default:
		return nil, fmt.Errorf("method kind %d: %w", kind, sshwait.ErrNotSupported)
	}
}

//
// Administrative operations and introspection.
//

// requireClient returns the established client or the reason there is
// none.
func (e *Engine) requireClient() (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil {
		if !e.handshaken {
			e.lastErr = ErrNoSession

			return nil, ErrNoSession
		}

		e.lastErr = ErrNotAuthenticated

		return nil, ErrNotAuthenticated
	}

	return e.client, nil
}

// KeepaliveSend emits a keepalive probe when one is due and returns the
// time until the next one.
func (e *Engine) KeepaliveSend() (time.Duration, error) {
	client, err := e.requireClient()
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	interval := e.keepaliveInterval
	wantReply := e.keepaliveWantReply
	last := e.keepaliveLast
	e.mu.Unlock()

	if interval == 0 {
		return 0, nil
	}

	if remaining := time.Until(last.Add(interval)); remaining > 0 {
		return remaining, nil
	}

	if _, _, err := client.SendRequest("keepalive@openssh.com", wantReply, nil); err != nil {
		return 0, e.fail(err)
	}

	e.mu.Lock()
	e.keepaliveLast = time.Now()
	e.mu.Unlock()

	return interval, nil
}

func (e *Engine) Disconnect(_ sshwait.DisconnectCode, _, _ string) error {
	client, err := e.requireClient()
	if err != nil {
		return err
	}

	err = client.Close()

	e.mu.Lock()
	e.client = nil
	e.authenticated = false
	e.consumed = true
	e.mu.Unlock()

	return err
}

func (e *Engine) Banner() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.serverBanner, e.hasBanner
}

func (e *Engine) Timeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.timeout
}

func (e *Engine) HostKey() (sshwait.HostKey, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hostKey == nil {
		return sshwait.HostKey{}, false
	}

	return sshwait.HostKey{
		Algorithm: e.hostKey.Type(),
		Blob:      e.hostKey.Marshal(),
	}, true
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

// BlockDirections always reports DirNone: x/crypto/ssh completes every call
// without surfacing would-block.
func (e *Engine) BlockDirections() sshwait.Direction {
	return sshwait.DirNone
}

package sshwait

import (
	"io/fs"
	"net"
	"time"
)

// Blocker reports the transport direction a handle is waiting on after one
// of its operations returned ErrWouldBlock. Engines that complete every
// call synchronously return DirNone.
type Blocker interface {
	BlockDirections() Direction
}

// MethodKind selects an SSH negotiation method category.
type MethodKind int

const (
	MethodKex MethodKind = iota
	MethodHostKey
	MethodCryptCS
	MethodCryptSC
	MethodMACCS
	MethodMACSC
	MethodCompCS
	MethodCompSC
	MethodLangCS
	MethodLangSC
)

// HashKind selects a host key digest algorithm.
type HashKind int

const (
	HashMD5 HashKind = iota
	HashSHA1
	HashSHA256
)

// DisconnectCode is the reason sent with an SSH_MSG_DISCONNECT.
type DisconnectCode int

const (
	DisconnectHostNotAllowedToConnect DisconnectCode = iota + 1
	DisconnectProtocolError
	DisconnectKeyExchangeFailed
	DisconnectReserved
	DisconnectMACError
	DisconnectCompressionError
	DisconnectServiceNotAvailable
	DisconnectProtocolVersionNotSupported
	DisconnectHostKeyNotVerifiable
	DisconnectConnectionLost
	DisconnectByApplication
	DisconnectTooManyConnections
	DisconnectAuthCancelledByUser
	DisconnectNoMoreAuthMethodsAvailable
	DisconnectIllegalUserName
)

// HostKey is the server's host key as presented during the handshake.
type HostKey struct {
	Algorithm string // e.g. "ssh-ed25519"
	Blob      []byte // wire-format key blob
}

// PublicKey is one identity held by an ssh agent.
type PublicKey struct {
	Blob    []byte
	Comment string
}

// FileStat describes a remote file, as reported by SCP or SFTP.
type FileStat struct {
	Size  int64
	Mode  fs.FileMode
	Mtime time.Time
	Atime time.Time
}

// FileTimes carries optional access/modification times for an SCP upload.
type FileTimes struct {
	Mtime time.Time
	Atime time.Time
}

// OriginAddr is the claimed originator address for a direct-tcpip channel.
type OriginAddr struct {
	Host string
	Port int
}

// DirEntry is one entry of a remote directory listing.
type DirEntry struct {
	Name string
	Stat FileStat
}

// KeyboardInteractivePrompt is a single prompt within a keyboard-interactive
// authentication round.
type KeyboardInteractivePrompt struct {
	Text string
	Echo bool
}

// KeyboardInteractivePrompter answers keyboard-interactive challenges.
// Prompt must return one answer per prompt, in order.
type KeyboardInteractivePrompter interface {
	Prompt(name, instruction string, prompts []KeyboardInteractivePrompt) ([]string, error)
}

// Engine is the SSH protocol state machine consumed by Session. It is the
// boundary to the actual wire implementation; sshwait only decides when to
// retry its calls.
//
// Every mutating operation either succeeds, fails with a protocol error
// (surfaced verbatim by Session), or fails with an error matching
// ErrWouldBlock, in which case BlockDirections reports which transport
// direction the engine is waiting on. A would-blocked call must be safely
// re-invocable: the engine carries its own resume state.
//
// Engines are not safe for concurrent calls. Constructors must perform any
// process-wide library setup themselves, idempotently and safely for
// concurrent construction.
type Engine interface {
	Blocker

	// SetBlocking switches the engine between blocking and non-blocking
	// call semantics. Session always runs engines non-blocking.
	SetBlocking(blocking bool)

	// Bind attaches the engine to the transport carrying raw bytes. The
	// connection must stay valid for the engine's entire lifetime.
	Bind(conn net.Conn) error

	// Configuration, applied before the first operation.
	SetBanner(banner string) error
	SetAllowSIGPIPE(allow bool)
	SetCompress(compress bool)
	SetTimeout(timeout time.Duration)
	SetKeepalive(wantReply bool, interval time.Duration)

	// Handshake performs the protocol version exchange and key exchange.
	Handshake() error

	// Authentication.
	UserauthPassword(username, password string) error
	UserauthKeyboardInteractive(username string, prompter KeyboardInteractivePrompter) error
	UserauthPubkeyFile(username, pubkeyPath, privatekeyPath, passphrase string) error
	UserauthPubkeyMemory(username, pubkeyData, privatekeyData, passphrase string) error
	UserauthHostbasedFile(username, publickeyPath, privatekeyPath, passphrase, hostname, localUsername string) error
	Authenticated() bool
	AuthMethods(username string) (string, error)

	// Method negotiation.
	MethodPref(kind MethodKind, prefs string) error
	Methods(kind MethodKind) (string, bool)
	SupportedAlgs(kind MethodKind) ([]string, error)

	// Sub-protocol handles.
	Agent() (AgentEngine, error)
	ChannelSession() (ChannelEngine, error)
	ChannelDirectTCPIP(host string, port int, src *OriginAddr) (ChannelEngine, error)
	ChannelForwardListen(remotePort int, host string, queueMaxSize int) (ListenerEngine, int, error)
	ChannelOpen(kind string, windowSize, packetSize uint32, message string) (ChannelEngine, error)
	ScpSend(remotePath string, mode fs.FileMode, size int64, times *FileTimes) (ChannelEngine, error)
	ScpRecv(remotePath string) (ChannelEngine, FileStat, error)
	SFTP() (SFTPEngine, error)

	// Administrative.
	KeepaliveSend() (time.Duration, error)
	Disconnect(reason DisconnectCode, description, lang string) error

	// Introspection. Synchronous; never would-blocks.
	Banner() (string, bool)
	Timeout() time.Duration
	IsBlocking() bool
	HostKey() (HostKey, bool)
	HostKeyHash(kind HashKind) ([]byte, bool)

	// LastError returns the most recent protocol error recorded on this
	// engine, if any. Used to diagnose operations that report failure
	// without a specific error (e.g. auth that silently did not stick).
	LastError() error
}

// ChannelEngine is one SSH channel as exposed by the engine. Read and Write
// follow io semantics except that they may fail with ErrWouldBlock instead
// of blocking; Read reports io.EOF at end of stream.
type ChannelEngine interface {
	Blocker

	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Exec(command string) error
	RequestPty(term string, width, height int) error
	SendEOF() error
	WaitEOF() error
	WaitClosed() error
	ExitStatus() (int, error)
	Close() error
}

// ListenerEngine accepts channels forwarded from a remote port.
type ListenerEngine interface {
	Blocker

	Accept() (ChannelEngine, error)
	Close() error
}

// AgentEngine talks to the local ssh agent on the engine's behalf.
type AgentEngine interface {
	Blocker

	Connect() error
	ListIdentities() error
	Identities() ([]PublicKey, error)
	Userauth(username string, identity PublicKey) error
	Close() error
}

// SFTPEngine is an SFTP sub-session bound to the same transport.
type SFTPEngine interface {
	Blocker

	OpenFile(path string, flags int, mode fs.FileMode) (SFTPFileEngine, error)
	Stat(path string) (FileStat, error)
	ReadDir(path string) ([]DirEntry, error)
	Mkdir(path string, mode fs.FileMode) error
	Remove(path string) error
	Rename(oldpath, newpath string) error
	Close() error
}

// SFTPFileEngine is one open remote file.
type SFTPFileEngine interface {
	Blocker

	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Fstat() (FileStat, error)
	Close() error
}

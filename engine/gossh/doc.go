// Package gossh provides an sshwait.Engine implementation backed by
// "golang.org/x/crypto/ssh", with agent support via
// "golang.org/x/crypto/ssh/agent" and SFTP via "github.com/pkg/sftp".
//
// x/crypto/ssh drives the socket internally and blocks until each call
// completes, so this engine never reports would-block: every operation
// resolves on the retry adapter's first attempt.
//
// # Adaptation notes
//
// x/crypto/ssh negotiates the transport handshake and authentication in a
// single exchange. Handshake therefore only validates the bound transport;
// the wire handshake runs on the first userauth call, which also captures
// the server banner and host key for introspection.
//
// A failed authentication consumes the transport: x/crypto/ssh offers no
// way to retry on the same connection, so later attempts fail with
// ErrTransportConsumed. Pass every credential you are willing to use to a
// single attempt (the agent path signs with the selected identity only).
//
// Compression and SIGPIPE configuration are accepted and recorded but have
// no effect: x/crypto/ssh negotiates no compression, and Go programs do
// not take SIGPIPE from sockets. Window and packet sizes on ChannelOpen
// are likewise decided by x/crypto/ssh.
//
// Usage:
//
//	engine := gossh.New(gossh.Config{InsecureSkipVerify: true})
//	sess, err := sshwait.Dial(ctx, "example.com:22", engine)
package gossh

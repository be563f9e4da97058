// Package sshwait adapts a blocking-style SSH protocol engine to Go's
// cooperative, context-driven model.
//
// # Core Interfaces
//
// - Engine: The SSH state machine (handshake, auth, channels, SCP, SFTP).
// - Stream: The transport carrying raw bytes, plus readiness waiting.
//
// # How it works
//
// Engines in the libssh2 tradition are driven in non-blocking mode: every
// call either completes, fails with a protocol error, or reports "would
// block" along with the transport direction it is waiting on. The Do
// combinator turns that retry loop into a single context-aware call: invoke
// the operation, and whenever it would block, wait on the Stream for the
// hinted direction before trying again. Would-block is never visible to
// callers; every other error is surfaced verbatim on the first occurrence.
//
// Session wraps one Engine and routes each protocol operation through Do.
// Derived resources (Channel, Listener, SFTP, Agent) share the parent
// Session's Stream so their own retry loops observe the same transport.
//
// # Concurrency
//
// One Session (and each derived resource) must be driven by one logical
// call at a time. The engine state machine is not safe for interleaved
// calls, and sshwait adds no locking of its own: serializing unrelated
// sub-protocols behind one mutex would be worse than requiring disciplined
// callers. Many resources may wait on the shared Stream concurrently; only
// engine calls need external mutual exclusion.
//
// Usage:
//
//	stream, _ := sshwait.NewTCPStream(conn)
//	sess, _ := sshwait.New(stream, gossh.New(gossh.Config{}), sshwait.WithTimeout(10*time.Second))
//	if err := sess.Handshake(ctx); err != nil { ... }
//	if err := sess.UserauthAgent(ctx, "root"); err != nil { ... }
package sshwait

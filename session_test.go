package sshwait_test

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/ruffel/sshwait"
	"github.com/ruffel/sshwait/sshwaittest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, opts ...sshwait.Option) (*sshwait.Session, *sshwaittest.Engine, *sshwaittest.Stream) {
	t.Helper()

	stream, peer := sshwaittest.NewStreamPair()
	t.Cleanup(func() {
		_ = stream.Close()
		_ = peer.Close()
	})

	engine := sshwaittest.NewEngine()

	session, err := sshwait.New(stream, engine, opts...)
	require.NoError(t, err)

	return session, engine, stream
}

func authenticate(t *testing.T, session *sshwait.Session) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, session.Handshake(ctx))
	require.NoError(t, session.UserauthPassword(ctx, "user", "hunter2"))
	require.True(t, session.Authenticated())
}

func TestNew_SwitchesEngineToNonBlocking(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t)

	assert.False(t, session.IsBlocking())
}

func TestNew_AppliesConfigInOrder(t *testing.T) {
	t.Parallel()

	_, engine, _ := newTestSession(t,
		sshwait.WithKeepalive(true, 15*time.Second),
		sshwait.WithTimeout(30*time.Second),
		sshwait.WithCompress(true),
		sshwait.WithAllowSIGPIPE(true),
		sshwait.WithBanner("SSH-2.0-sshwait"),
	)

	// Setter order is fixed regardless of option order.
	assert.Equal(t, []string{"banner", "sigpipe", "compress", "timeout", "keepalive"}, engine.AppliedConfig())
}

func TestNew_AppliesOnlyConfiguredSetters(t *testing.T) {
	t.Parallel()

	_, engine, _ := newTestSession(t, sshwait.WithTimeout(10*time.Second))

	assert.Equal(t, []string{"timeout"}, engine.AppliedConfig())
}

func TestSession_HandshakeFastPath(t *testing.T) {
	t.Parallel()

	session, engine, stream := newTestSession(t)

	require.NoError(t, session.Handshake(context.Background()))
	assert.True(t, engine.Handshaken())
	assert.Equal(t, 1, engine.Attempts("handshake"))
	assert.Zero(t, stream.Waits())
}

func TestSession_HandshakeRetriesAcrossWouldBlock(t *testing.T) {
	t.Parallel()

	session, engine, stream := newTestSession(t)
	engine.Block("handshake", 2)

	require.NoError(t, session.Handshake(context.Background()))
	assert.True(t, engine.Handshaken())
	assert.Equal(t, 3, engine.Attempts("handshake"))
	assert.Equal(t, 2, stream.Waits())
}

func TestSession_ProtocolErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	session, engine, _ := newTestSession(t)
	engine.FailWith("handshake", sshwaittest.ErrNotBound)

	err := session.Handshake(context.Background())
	require.ErrorIs(t, err, sshwaittest.ErrNotBound)
	assert.Equal(t, 1, engine.Attempts("handshake"))
	assert.ErrorIs(t, session.LastError(), sshwaittest.ErrNotBound)
}

func TestSession_CancelledWaitSurfacesContextError(t *testing.T) {
	t.Parallel()

	session, engine, stream := newTestSession(t)
	engine.Block("handshake", 2)
	stream.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := session.Handshake(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, sshwait.ErrWouldBlock)

	// The session survives the cancellation; once the transport is ready
	// again the same operation completes.
	stream.SetReady(true)
	require.NoError(t, session.Handshake(context.Background()))
	assert.True(t, engine.Handshaken())

	require.NoError(t, session.UserauthPassword(context.Background(), "user", "pw"))
	assert.True(t, session.Authenticated())
}

func TestSession_UserauthPassword(t *testing.T) {
	t.Parallel()

	session, engine, _ := newTestSession(t)
	engine.AcceptPassword("hunter2")

	ctx := context.Background()
	require.NoError(t, session.Handshake(ctx))

	err := session.UserauthPassword(ctx, "user", "wrong")
	require.ErrorIs(t, err, sshwaittest.ErrAuthRejected)
	assert.False(t, session.Authenticated())

	require.NoError(t, session.UserauthPassword(ctx, "user", "hunter2"))
	assert.True(t, session.Authenticated())
}

func TestSession_UserauthBeforeHandshakeFails(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t)

	err := session.UserauthPassword(context.Background(), "user", "pw")
	require.ErrorIs(t, err, sshwaittest.ErrNoSession)
}

func TestSession_UserauthAgent_NoIdentities(t *testing.T) {
	t.Parallel()

	session, engine, _ := newTestSession(t)
	require.NoError(t, session.Handshake(context.Background()))

	err := session.UserauthAgent(context.Background(), "user")
	require.ErrorIs(t, err, sshwait.ErrNoIdentities)

	// No authentication attempt may be made on an empty identity list.
	assert.Zero(t, engine.Attempts("agent-userauth"))
	assert.False(t, session.Authenticated())
}

func TestSession_UserauthAgent_FirstIdentityOnly(t *testing.T) {
	t.Parallel()

	session, engine, _ := newTestSession(t)
	engine.AddIdentity("work")
	engine.AddIdentity("home")
	engine.AuthorizeIdentity("home")

	require.NoError(t, session.Handshake(context.Background()))

	// Only the first identity is offered; it is not authorized, so the
	// attempt fails without falling through to the second.
	err := session.UserauthAgent(context.Background(), "user")
	require.ErrorIs(t, err, sshwaittest.ErrAuthRejected)
	assert.Equal(t, 1, engine.Attempts("agent-userauth"))
	assert.False(t, session.Authenticated())
}

func TestSession_UserauthAgent_Success(t *testing.T) {
	t.Parallel()

	session, engine, _ := newTestSession(t)
	engine.AddIdentity("work")

	require.NoError(t, session.Handshake(context.Background()))
	require.NoError(t, session.UserauthAgent(context.Background(), "user"))
	assert.True(t, session.Authenticated())
}

func TestSession_UserauthAgentTryAll_WalksIdentities(t *testing.T) {
	t.Parallel()

	session, engine, _ := newTestSession(t)
	engine.AddIdentity("work")
	engine.AddIdentity("home")
	engine.AddIdentity("backup")
	engine.AuthorizeIdentity("backup")

	require.NoError(t, session.Handshake(context.Background()))
	require.NoError(t, session.UserauthAgentTryAll(context.Background(), "user"))
	assert.True(t, session.Authenticated())
	assert.Equal(t, 3, engine.Attempts("agent-userauth"))
}

func TestSession_UserauthAgentTryAll_AllRejected(t *testing.T) {
	t.Parallel()

	session, engine, _ := newTestSession(t)
	engine.AddIdentity("work")
	engine.AddIdentity("home")
	engine.AuthorizeIdentity("other")

	require.NoError(t, session.Handshake(context.Background()))

	err := session.UserauthAgentTryAll(context.Background(), "user")
	require.ErrorIs(t, err, sshwait.ErrAllIdentitiesFailed)
	assert.False(t, session.Authenticated())
	assert.Equal(t, 2, engine.Attempts("agent-userauth"))
}

func TestSession_AuthMethods(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t)
	require.NoError(t, session.Handshake(context.Background()))

	methods, err := session.AuthMethods(context.Background(), "user")
	require.NoError(t, err)
	assert.Contains(t, methods, "publickey")
	assert.Contains(t, methods, "password")
}

func TestSession_MethodPrefAndMethods(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t)

	require.NoError(t, session.MethodPref(context.Background(), sshwait.MethodKex, "curve25519-sha256"))
	require.NoError(t, session.Handshake(context.Background()))

	negotiated, ok := session.Methods(sshwait.MethodKex)
	require.True(t, ok)
	assert.Equal(t, "curve25519-sha256", negotiated)
}

func TestSession_SupportedAlgs(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t)

	algs, err := session.SupportedAlgs(context.Background(), sshwait.MethodHostKey)
	require.NoError(t, err)
	assert.Contains(t, algs, "ssh-ed25519")
}

func TestSession_BannerAndHostKeyAfterHandshake(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t)

	_, ok := session.Banner()
	assert.False(t, ok)
	_, ok = session.HostKey()
	assert.False(t, ok)

	require.NoError(t, session.Handshake(context.Background()))

	banner, ok := session.Banner()
	require.True(t, ok)
	assert.Equal(t, "SSH-2.0-sshwaittest", banner)

	key, ok := session.HostKey()
	require.True(t, ok)
	assert.Equal(t, "ssh-ed25519", key.Algorithm)

	hash, ok := session.HostKeyHash(sshwait.HashSHA256)
	require.True(t, ok)

	want := sha256.Sum256(key.Blob)
	assert.Equal(t, want[:], hash)
}

func TestSession_KeepaliveSend(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t, sshwait.WithKeepalive(true, 15*time.Second))
	require.NoError(t, session.Handshake(context.Background()))

	next, err := session.KeepaliveSend(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, next)
}

func TestSession_Disconnect(t *testing.T) {
	t.Parallel()

	session, engine, _ := newTestSession(t)
	require.NoError(t, session.Handshake(context.Background()))

	err := session.Disconnect(context.Background(), sshwait.DisconnectByApplication, "bye", "")
	require.NoError(t, err)
	assert.True(t, engine.Disconnected())

	err = session.UserauthPassword(context.Background(), "user", "pw")
	require.ErrorIs(t, err, sshwaittest.ErrDisconnected)
}

func TestSession_DerivedChannelSharesStream(t *testing.T) {
	t.Parallel()

	session, _, stream := newTestSession(t)
	authenticate(t, session)

	channel, err := session.ChannelSession(context.Background())
	require.NoError(t, err)

	// Derived resources wait on the exact stream the session owns, not a
	// copy of it.
	assert.Same(t, stream, channel.Stream())
	assert.Same(t, stream, session.Stream())
}

func TestSession_ChannelRequiresAuth(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t)
	require.NoError(t, session.Handshake(context.Background()))

	_, err := session.ChannelSession(context.Background())
	require.ErrorIs(t, err, sshwaittest.ErrNotAuthenticated)
}

func TestSession_ScpUploadRoundTrip(t *testing.T) {
	t.Parallel()

	session, engine, _ := newTestSession(t)
	engine.AddIdentity("id_ed25519")

	ctx := context.Background()

	require.NoError(t, session.Handshake(ctx))
	require.NoError(t, session.UserauthAgent(ctx, "root"))
	require.True(t, session.Authenticated())

	content := []byte("1234567890")

	channel, err := session.ScpSend(ctx, "/tmp/bar.txt", 0o644, int64(len(content)), nil)
	require.NoError(t, err)

	require.NoError(t, channel.WriteAll(ctx, content))
	require.NoError(t, channel.SendEOF(ctx))
	require.NoError(t, channel.WaitEOF(ctx))
	require.NoError(t, channel.WaitClosed(ctx))
	require.NoError(t, channel.Close(ctx))

	stored, ok := engine.FileData("/tmp/bar.txt")
	require.True(t, ok)
	assert.Equal(t, content, stored)

	download, stat, err := session.ScpRecv(ctx, "/tmp/bar.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(10), stat.Size)

	got, err := download.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	require.NoError(t, download.Close(ctx))
}

func TestSession_ScpRecvMissingFile(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t)
	authenticate(t, session)

	_, _, err := session.ScpRecv(context.Background(), "/tmp/nope")
	require.ErrorIs(t, err, sshwaittest.ErrNoSuchFile)
}

func TestSession_ScpSendRetriesAcrossWouldBlock(t *testing.T) {
	t.Parallel()

	session, engine, stream := newTestSession(t)
	authenticate(t, session)

	engine.Block("scp-send", 1)
	engine.Block("channel-write", 2)

	ctx := context.Background()
	content := []byte("1234567890")

	channel, err := session.ScpSend(ctx, "/tmp/bar.txt", 0o644, int64(len(content)), nil)
	require.NoError(t, err)

	require.NoError(t, channel.WriteAll(ctx, content))
	require.NoError(t, channel.Close(ctx))

	stored, ok := engine.FileData("/tmp/bar.txt")
	require.True(t, ok)
	assert.Equal(t, content, stored)
	assert.Equal(t, 3, stream.Waits())
}

func TestSession_ExecRoundTrip(t *testing.T) {
	t.Parallel()

	session, engine, _ := newTestSession(t)
	authenticate(t, session)

	engine.SetExecOutput("uname -a", []byte("Linux testhost\n"))

	ctx := context.Background()

	channel, err := session.ChannelSession(ctx)
	require.NoError(t, err)

	require.NoError(t, channel.Exec(ctx, "uname -a"))

	output, err := channel.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Linux testhost\n", string(output))

	require.NoError(t, channel.Close(ctx))

	status, err := channel.ExitStatus()
	require.NoError(t, err)
	assert.Zero(t, status)

	assert.Equal(t, []string{"uname -a"}, engine.ExecedCommands())
}

func TestSession_DirectTCPIP(t *testing.T) {
	t.Parallel()

	session, _, stream := newTestSession(t)
	authenticate(t, session)

	channel, err := session.ChannelDirectTCPIP(context.Background(), "10.0.0.7", 8080, &sshwait.OriginAddr{Host: "127.0.0.1", Port: 40000})
	require.NoError(t, err)
	assert.Same(t, stream, channel.Stream())

	require.NoError(t, channel.Close(context.Background()))
}

func TestSession_ForwardListenAndAccept(t *testing.T) {
	t.Parallel()

	session, engine, stream := newTestSession(t)
	authenticate(t, session)

	ctx := context.Background()

	listener, port, err := session.ChannelForwardListen(ctx, 0, "0.0.0.0", 16)
	require.NoError(t, err)
	assert.NotZero(t, port)

	engine.PushForward([]byte("forwarded payload"))

	channel, err := listener.Accept(ctx)
	require.NoError(t, err)
	assert.Same(t, stream, channel.Stream())

	data, err := channel.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "forwarded payload", string(data))

	require.NoError(t, listener.Close(ctx))
}

func TestSession_AcceptOnEmptyQueueWaits(t *testing.T) {
	t.Parallel()

	session, _, stream := newTestSession(t)
	authenticate(t, session)

	listener, _, err := session.ChannelForwardListen(context.Background(), 2222, "0.0.0.0", 16)
	require.NoError(t, err)

	stream.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = listener.Accept(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

package gossh

import (
	"errors"
	"net"
	"testing"

	"github.com/ruffel/sshwait"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_HandshakeRequiresBinding(t *testing.T) {
	t.Parallel()

	engine := New(Config{InsecureSkipVerify: true})

	err := engine.Handshake()
	require.ErrorIs(t, err, ErrNotBound)
	assert.ErrorIs(t, engine.LastError(), ErrNotBound)
}

func TestEngine_HandshakeWithBoundConn(t *testing.T) {
	t.Parallel()

	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		_ = c1.Close()
		_ = c2.Close()
	})

	engine := New(Config{InsecureSkipVerify: true})
	require.NoError(t, engine.Bind(c1))
	require.NoError(t, engine.Handshake())
	assert.False(t, engine.Authenticated())
}

func TestEngine_BindNilConn(t *testing.T) {
	t.Parallel()

	engine := New(Config{})

	err := engine.Bind(nil)
	require.ErrorIs(t, err, ErrNotBound)
}

func TestEngine_SetBannerValidation(t *testing.T) {
	t.Parallel()

	engine := New(Config{})

	require.Error(t, engine.SetBanner("OpenSSH_9.7"))
	require.NoError(t, engine.SetBanner("SSH-2.0-sshwait"))
}

func TestEngine_BlockingMode(t *testing.T) {
	t.Parallel()

	engine := New(Config{})
	assert.True(t, engine.IsBlocking())

	engine.SetBlocking(false)
	assert.False(t, engine.IsBlocking())
	assert.Equal(t, sshwait.DirNone, engine.BlockDirections())
}

func TestEngine_UserauthBeforeHandshake(t *testing.T) {
	t.Parallel()

	engine := New(Config{InsecureSkipVerify: true})

	err := engine.UserauthPassword("user", "pw")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestEngine_HostbasedAuthUnsupported(t *testing.T) {
	t.Parallel()

	engine := New(Config{})

	err := engine.UserauthHostbasedFile("user", "pub", "priv", "", "host", "local")
	require.ErrorIs(t, err, sshwait.ErrNotSupported)
}

func TestEngine_MethodPrefRoundTrip(t *testing.T) {
	t.Parallel()

	engine := New(Config{})

	_, ok := engine.Methods(sshwait.MethodKex)
	assert.False(t, ok)

	require.NoError(t, engine.MethodPref(sshwait.MethodKex, "curve25519-sha256"))

	prefs, ok := engine.Methods(sshwait.MethodKex)
	require.True(t, ok)
	assert.Equal(t, "curve25519-sha256", prefs)
}

func TestEngine_SupportedAlgs(t *testing.T) {
	t.Parallel()

	engine := New(Config{})

	kex, err := engine.SupportedAlgs(sshwait.MethodKex)
	require.NoError(t, err)
	assert.NotEmpty(t, kex)

	comp, err := engine.SupportedAlgs(sshwait.MethodCompCS)
	require.NoError(t, err)
	assert.Equal(t, []string{"none"}, comp)

	_, err = engine.SupportedAlgs(sshwait.MethodKind(99))
	require.ErrorIs(t, err, sshwait.ErrNotSupported)
}

func TestEngine_IntrospectionBeforeExchange(t *testing.T) {
	t.Parallel()

	engine := New(Config{})

	_, ok := engine.Banner()
	assert.False(t, ok)

	_, ok = engine.HostKey()
	assert.False(t, ok)

	_, ok = engine.HostKeyHash(sshwait.HashSHA256)
	assert.False(t, ok)
}

func TestEngine_KeepaliveRequiresClient(t *testing.T) {
	t.Parallel()

	engine := New(Config{})

	_, err := engine.KeepaliveSend()
	require.ErrorIs(t, err, ErrNoSession)
}

func TestAttemptableMethods(t *testing.T) {
	t.Parallel()

	err := errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password], no supported methods remain")
	assert.Equal(t, "none,password", attemptableMethods(err))

	assert.Empty(t, attemptableMethods(errors.New("connection refused")))
	assert.Empty(t, attemptableMethods(errors.New("attempted methods [unterminated")))
}

package gossh

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/testdata"
)

func testHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()

	signer, err := ssh.ParsePrivateKey(testdata.PEMBytes["ed25519"])
	require.NoError(t, err)

	return signer.PublicKey()
}

func TestConfig_HostKeyCallbackDefaultFailsClosed(t *testing.T) {
	t.Parallel()

	callback := Config{}.hostKeyCallback()

	err := callback("example.com:22", nil, testHostKey(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no host key check configured")
}

func TestConfig_HostKeyCallbackInsecure(t *testing.T) {
	t.Parallel()

	callback := Config{InsecureSkipVerify: true}.hostKeyCallback()

	require.NoError(t, callback("example.com:22", nil, testHostKey(t)))
}

func TestConfig_HostKeyCallbackMissingKnownHosts(t *testing.T) {
	t.Parallel()

	callback := Config{KnownHostsPath: "/does/not/exist"}.hostKeyCallback()

	err := callback("example.com:22", nil, testHostKey(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known_hosts unavailable")
}

func TestConfig_ExplicitCallbackWins(t *testing.T) {
	t.Parallel()

	cfg := Config{
		HostKeyCheck:       ssh.InsecureIgnoreHostKey(),
		KnownHostsPath:     "/does/not/exist",
		InsecureSkipVerify: false,
	}

	require.NoError(t, cfg.hostKeyCallback()("example.com:22", nil, testHostKey(t)))
}

func TestHostEntry_Addr(t *testing.T) {
	t.Parallel()

	entry := HostEntry{Host: "bastion.internal", Port: 2222}
	assert.Equal(t, "bastion.internal:2222", entry.Addr())
}

func TestResolveHostReader(t *testing.T) {
	t.Parallel()

	config := strings.NewReader(`
Host bastion
    HostName bastion.internal
    User deploy
    Port 2222
    IdentityFile /home/deploy/.ssh/id_ed25519
`)

	entry, err := resolveHostReader("bastion", config)
	require.NoError(t, err)
	assert.Equal(t, "bastion.internal", entry.Host)
	assert.Equal(t, "deploy", entry.User)
	assert.Equal(t, 2222, entry.Port)
	assert.Equal(t, "/home/deploy/.ssh/id_ed25519", entry.IdentityFile)
	assert.Equal(t, "bastion.internal:2222", entry.Addr())
}

func TestResolveHostReader_UnknownAliasKeepsDefaults(t *testing.T) {
	t.Parallel()

	config := strings.NewReader(`
Host bastion
    HostName bastion.internal
`)

	entry, err := resolveHostReader("other", config)
	require.NoError(t, err)
	assert.Equal(t, "other", entry.Host)
	assert.Equal(t, 22, entry.Port)
}

func TestResolveHostReader_BadPort(t *testing.T) {
	t.Parallel()

	config := strings.NewReader(`
Host bastion
    Port notaport
`)

	_, err := resolveHostReader("bastion", config)
	require.Error(t, err)
}

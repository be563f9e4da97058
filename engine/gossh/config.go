package gossh

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds engine construction parameters that have no counterpart in
// the generic session configuration.
type Config struct {
	// HostKeyCheck verifies the server's host key. When nil, it is built
	// from KnownHostsPath, or host key checking is disabled if
	// InsecureSkipVerify is set.
	HostKeyCheck ssh.HostKeyCallback

	// KnownHostsPath builds a host key check from an OpenSSH known_hosts
	// file (e.g. "~/.ssh/known_hosts", already expanded).
	KnownHostsPath string

	// InsecureSkipVerify disables host key checking. Use ONLY for testing.
	InsecureSkipVerify bool
}

// hostKeyCallback resolves the effective host key verification callback. An
// unverifiable configuration yields a callback that rejects every key, so a
// forgotten setting fails closed.
func (c Config) hostKeyCallback() ssh.HostKeyCallback {
	if c.HostKeyCheck != nil {
		return c.HostKeyCheck
	}

	if c.KnownHostsPath != "" {
		callback, err := knownhosts.New(c.KnownHostsPath)
		if err == nil {
			return callback
		}

		return func(hostname string, _ net.Addr, _ ssh.PublicKey) error {
			return fmt.Errorf("host %s: known_hosts unavailable: %w", hostname, err)
		}
	}

	if c.InsecureSkipVerify {
		return ssh.InsecureIgnoreHostKey()
	}

	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		return fmt.Errorf("host %s presented unverifiable %s key: no host key check configured", hostname, key.Type())
	}
}

// HostEntry is the subset of an OpenSSH client configuration relevant to
// establishing a session.
type HostEntry struct {
	Host         string
	Port         int
	User         string
	IdentityFile string
}

// Addr returns the dialable "host:port" for the entry.
func (h HostEntry) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// ResolveHost looks up alias in an OpenSSH config file (path, or
// ~/.ssh/config when empty), resolving HostName, User, Port and
// IdentityFile the way OpenSSH would.
func ResolveHost(alias, path string) (HostEntry, error) {
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".ssh", "config")
	}

	f, err := os.Open(path)
	if err != nil {
		return HostEntry{}, fmt.Errorf("open ssh config: %w", err)
	}

	defer func() { _ = f.Close() }()

	return resolveHostReader(alias, f)
}

func resolveHostReader(alias string, r io.Reader) (HostEntry, error) {
	cfg, err := ssh_config.Decode(r)
	if err != nil {
		return HostEntry{}, fmt.Errorf("parse ssh config: %w", err)
	}

	entry := HostEntry{Host: alias, Port: 22}

	if hostName, err := cfg.Get(alias, "HostName"); err == nil && hostName != "" {
		entry.Host = hostName
	}

	if username, _ := cfg.Get(alias, "User"); username != "" {
		entry.User = username
	} else if u, err := user.Current(); err == nil {
		entry.User = u.Username
	}

	if portStr, _ := cfg.Get(alias, "Port"); portStr != "" {
		if _, err := fmt.Sscanf(portStr, "%d", &entry.Port); err != nil {
			return HostEntry{}, fmt.Errorf("bad port %q for host %s", portStr, alias)
		}
	}

	if identityFile, _ := cfg.Get(alias, "IdentityFile"); identityFile != "" {
		if strings.HasPrefix(identityFile, "~/") {
			identityFile = filepath.Join(os.Getenv("HOME"), identityFile[2:])
		}

		entry.IdentityFile = identityFile
	}

	return entry, nil
}

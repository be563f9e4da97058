package gossh

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/ruffel/sshwait"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// ErrNoAgent indicates that no ssh agent socket is available in the
// environment.
var ErrNoAgent = errors.New("gossh: SSH_AUTH_SOCK is not set")

func (e *Engine) Agent() (sshwait.AgentEngine, error) {
	return &agentEngine{engine: e}, nil
}

// agentEngine speaks the ssh agent protocol over the socket named by
// SSH_AUTH_SOCK.
type agentEngine struct {
	engine *Engine

	conn   net.Conn
	client agent.ExtendedAgent
	keys   []*agent.Key
	listed bool
}

var _ sshwait.AgentEngine = (*agentEngine)(nil)

func (a *agentEngine) BlockDirections() sshwait.Direction { return sshwait.DirNone }

func (a *agentEngine) Connect() error {
	if a.client != nil {
		return nil
	}

	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return ErrNoAgent
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return fmt.Errorf("gossh: dial agent: %w", err)
	}

	a.conn = conn
	a.client = agent.NewClient(conn)

	return nil
}

func (a *agentEngine) ListIdentities() error {
	if a.client == nil {
		return ErrNoAgent
	}

	keys, err := a.client.List()
	if err != nil {
		return fmt.Errorf("gossh: list agent identities: %w", err)
	}

	a.keys = keys
	a.listed = true

	return nil
}

func (a *agentEngine) Identities() ([]sshwait.PublicKey, error) {
	if !a.listed {
		return nil, errors.New("gossh: identities not listed yet")
	}

	ids := make([]sshwait.PublicKey, 0, len(a.keys))
	for _, k := range a.keys {
		ids = append(ids, sshwait.PublicKey{
			Blob:    k.Marshal(),
			Comment: k.Comment,
		})
	}

	return ids, nil
}

func (a *agentEngine) Userauth(username string, identity sshwait.PublicKey) error {
	if a.client == nil {
		return ErrNoAgent
	}

	var match *agent.Key

	for _, k := range a.keys {
		if bytes.Equal(k.Marshal(), identity.Blob) {
			match = k

			break
		}
	}

	if match == nil {
		return fmt.Errorf("gossh: identity %q not held by the agent", identity.Comment)
	}

	signers, err := a.client.Signers()
	if err != nil {
		return fmt.Errorf("gossh: agent signers: %w", err)
	}

	var signer ssh.Signer

	for _, s := range signers {
		if bytes.Equal(s.PublicKey().Marshal(), identity.Blob) {
			signer = s

			break
		}
	}

	if signer == nil {
		return fmt.Errorf("gossh: no signer for identity %q", identity.Comment)
	}

	return a.engine.connect(username, ssh.PublicKeys(signer))
}

func (a *agentEngine) Close() error {
	if a.conn == nil {
		return nil
	}

	err := a.conn.Close()
	a.conn = nil
	a.client = nil

	return err
}

package sshwait

import "context"

// Agent is a retry-adapted handle to the local ssh agent, obtained via
// Session.Agent. It shares the parent Session's Stream.
type Agent struct {
	engine AgentEngine
	stream Stream
}

func newAgent(engine AgentEngine, stream Stream) *Agent {
	return &Agent{engine: engine, stream: stream}
}

// Stream returns the readiness source shared with the parent Session.
func (a *Agent) Stream() Stream {
	return a.stream
}

// Connect establishes the connection to the agent.
func (a *Agent) Connect(ctx context.Context) error {
	return doErr(ctx, a.stream, a.engine, a.engine.Connect)
}

// ListIdentities refreshes the engine's view of the agent's identities.
func (a *Agent) ListIdentities(ctx context.Context) error {
	return doErr(ctx, a.stream, a.engine, a.engine.ListIdentities)
}

// Identities returns the identities fetched by the last ListIdentities.
func (a *Agent) Identities() ([]PublicKey, error) {
	return a.engine.Identities()
}

// Userauth attempts to authenticate username with one agent identity.
func (a *Agent) Userauth(ctx context.Context, username string, identity PublicKey) error {
	return doErr(ctx, a.stream, a.engine, func() error {
		return a.engine.Userauth(username, identity)
	})
}

// Close disconnects from the agent.
func (a *Agent) Close(ctx context.Context) error {
	return doErr(ctx, a.stream, a.engine, a.engine.Close)
}

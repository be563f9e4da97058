package sshwait

import "time"

// Config holds the optional construction-time engine parameters. Absent
// fields leave the engine's built-in default untouched. A Config is applied
// once, during New, and never re-applied.
type Config struct {
	banner       *string
	allowSIGPIPE *bool
	compress     *bool
	timeout      *time.Duration
	keepalive    *keepaliveConfig
}

type keepaliveConfig struct {
	wantReply bool
	interval  time.Duration
}

// Option defines a functional option for Session construction.
type Option func(*Config)

// WithBanner sets the client banner sent during the protocol exchange.
func WithBanner(banner string) Option {
	return func(c *Config) {
		c.banner = &banner
	}
}

// WithAllowSIGPIPE controls whether the engine may let SIGPIPE reach the
// process on broken-pipe writes.
func WithAllowSIGPIPE(allow bool) Option {
	return func(c *Config) {
		c.allowSIGPIPE = &allow
	}
}

// WithCompress requests negotiation of transport compression.
func WithCompress(compress bool) Option {
	return func(c *Config) {
		c.compress = &compress
	}
}

// WithTimeout bounds each engine operation. Without it, a Session operation
// waits indefinitely unless the caller's context ends first.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.timeout = &timeout
	}
}

// WithKeepalive enables periodic keepalive probes every interval; wantReply
// asks the server to answer them.
func WithKeepalive(wantReply bool, interval time.Duration) Option {
	return func(c *Config) {
		c.keepalive = &keepaliveConfig{wantReply: wantReply, interval: interval}
	}
}

// apply pushes the configured fields onto a fresh engine, in a fixed order:
// banner, sigpipe, compress, timeout, keepalive.
func (c *Config) apply(engine Engine) error {
	if c.banner != nil {
		if err := engine.SetBanner(*c.banner); err != nil {
			return err
		}
	}

	if c.allowSIGPIPE != nil {
		engine.SetAllowSIGPIPE(*c.allowSIGPIPE)
	}

	if c.compress != nil {
		engine.SetCompress(*c.compress)
	}

	if c.timeout != nil {
		engine.SetTimeout(*c.timeout)
	}

	if c.keepalive != nil {
		engine.SetKeepalive(c.keepalive.wantReply, c.keepalive.interval)
	}

	return nil
}

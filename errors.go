package sshwait

import (
	"errors"
	"fmt"
)

// ErrWouldBlock is reported by an Engine when an operation cannot make
// progress until the transport becomes ready. It is consumed entirely by
// the Do combinator and never escapes to callers of Session methods.
var ErrWouldBlock = errors.New("operation would block")

// ErrNoIdentities indicates the ssh agent holds no identities, so no
// authentication attempt was made.
var ErrNoIdentities = errors.New("no identities found in the ssh agent")

// ErrAllIdentitiesFailed indicates every agent identity was tried and none
// authenticated the user.
var ErrAllIdentitiesFailed = errors.New("no agent identity could authenticate")

// ErrNotSupported indicates that the requested operation is not supported
// by the specific engine or resource kind.
var ErrNotSupported = errors.New("operation not supported")

// TransportError represents a failure in the underlying transport layer
// (e.g. readiness wait failed, connection lost, caller context ended).
// It unwraps to the underlying cause, so errors.Is sees through it to
// context.Canceled and friends.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transport error: %v", e.Err)
	}

	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

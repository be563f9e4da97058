package sshwait

import (
	"context"
	"errors"
)

// Do drives one engine operation to completion. It invokes op and, whenever
// op fails with ErrWouldBlock, waits on stream for the direction hinted by
// handle before invoking op again.
//
// An op that succeeds on the first attempt resolves without waiting. A
// non-would-block failure is returned verbatim with no further attempts.
// The readiness wait is the only suspension point; if ctx ends during it,
// Do stops with a TransportError unwrapping to the context error, and the
// engine is left exactly where the last attempt left it — re-issuing an
// equivalent call later resumes protocol progress.
//
// Do assumes a single logical caller per engine handle; see the package
// documentation for the concurrency contract.
func Do[T any](ctx context.Context, stream Stream, handle Blocker, op func() (T, error)) (T, error) {
	var zero T

	for {
		v, err := op()
		if err == nil {
			return v, nil
		}

		if !errors.Is(err, ErrWouldBlock) {
			return zero, err
		}

		dir := handle.BlockDirections()
		if dir == DirNone {
			dir = DirBoth
		}

		if werr := stream.WaitReady(ctx, dir); werr != nil {
			return zero, &TransportError{Op: "readiness wait", Err: werr}
		}
	}
}

// doErr adapts Do for operations producing no value.
func doErr(ctx context.Context, stream Stream, handle Blocker, op func() error) error {
	_, err := Do(ctx, stream, handle, func() (struct{}, error) {
		return struct{}{}, op()
	})

	return err
}

package login

import (
	"context"
	"errors"
	"fmt"
)

// ActionKind classifies the failure of an action run under a session.
type ActionKind int

const (
	// KindOther is any failure the action did not classify.
	KindOther ActionKind = iota
	// KindIO is a local I/O failure.
	KindIO
	// KindTransport is a failure talking to a remote peer.
	KindTransport
)

func (k ActionKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindTransport:
		return "transport"
	default:
		return "other"
	}
}

// ActionError is the error returned by Do.
type ActionError struct {
	Kind ActionKind
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// IOError tags err as an I/O failure. Actions return it from the place the
// failure is known to be local I/O.
func IOError(err error) error {
	if err == nil {
		return nil
	}
	return &ActionError{Kind: KindIO, Err: err}
}

// TransportError tags err as a transport failure.
func TransportError(err error) error {
	if err == nil {
		return nil
	}
	return &ActionError{Kind: KindTransport, Err: err}
}

// Do runs fn as the session identity. Errors fn tagged with IOError or
// TransportError keep their kind; any other error is wrapped as KindOther.
// Login failures are returned as they are.
func Do[T any](ctx context.Context, s *Session, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	snap := s.current(ctx)
	if snap.err != nil {
		return zero, snap.err
	}

	v, err := fn(snap.bind(ctx))
	if err == nil {
		return v, nil
	}

	var ae *ActionError
	if errors.As(err, &ae) {
		return v, err
	}
	return v, &ActionError{Kind: KindOther, Err: err}
}

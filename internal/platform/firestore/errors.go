package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotFound marks lookups and guarded updates that matched no document.
var ErrNotFound = errors.New("firestore: document not found")

// Error implements repositories.RepositoryError for Firestore backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the document was missing.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether a create collided with an existing document or a precondition failed.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports whether Firestore was temporarily unreachable.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// WrapError annotates err with repository semantics derived from its gRPC status code.
// Context cancellation passes through unchanged so callers can tell it apart from store failures.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.op == "" {
			existing.op = op
		}
		return existing
	}

	e := &Error{op: op, err: err}
	if errors.Is(err, ErrNotFound) {
		e.notFound = true
		return e
	}
	// Errors that carry no gRPC status stay uncategorised; status.Code would report them as Unknown.
	st, ok := status.FromError(err)
	if !ok {
		return e
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.NotFound:
		e.notFound = true
	case codes.AlreadyExists, codes.FailedPrecondition:
		e.conflict = true
	case codes.Aborted, codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded, codes.Unknown:
		// Aborted is transaction contention that outlived the client's own retries.
		e.unavailable = true
	}
	return e
}

// NotFound builds a not-found repository error for op.
func NotFound(op, id string) error {
	return &Error{op: op, err: fmt.Errorf("%w: %s", ErrNotFound, id), notFound: true}
}

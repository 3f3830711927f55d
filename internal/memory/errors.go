package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds; match with errors.Is.
var (
	ErrValidation            = errors.New("validation error")
	ErrNotFound              = errors.New("not found")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrLinkConflict          = errors.New("link conflict")
)

// Error carries a kind, a human-readable message and, for not-found errors,
// the ids that could not be resolved.
type Error struct {
	Kind    error
	Message string
	IDs     []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.IDs) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.IDs, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(what string, ids ...string) error {
	return &Error{Kind: ErrNotFound, Message: what, IDs: ids}
}

func linkConflictf(format string, args ...any) error {
	return &Error{Kind: ErrLinkConflict, Message: fmt.Sprintf(format, args...)}
}

// unavailable wraps a failed embed or index call. Deadline expiry is spelled out
// so callers can tell a slow dependency from a broken one.
func unavailable(op string, err error) error {
	msg := op + " failed"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = op + " timed out"
	}
	return &Error{Kind: ErrDependencyUnavailable, Message: msg, Err: err}
}

// Kind names used on every external surface.
const (
	KindValidation  = "validation_error"
	KindNotFound    = "not_found"
	KindUnavailable = "dependency_unavailable"
	KindConflict    = "link_conflict"
	KindInternal    = "internal"
)

// KindOf classifies err for rendering.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDependencyUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrLinkConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// MissingIDs returns the unresolved ids carried by a not-found error.
func MissingIDs(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.IDs
	}
	return nil
}

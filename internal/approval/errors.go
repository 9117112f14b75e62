package approval

import (
	"errors"
	"fmt"

	"github.com/jkaninda/grcpilot/internal/actions"
	"github.com/jkaninda/grcpilot/internal/identity"
	"github.com/jkaninda/grcpilot/internal/metering"
	"github.com/jkaninda/grcpilot/internal/security"
	"github.com/jkaninda/grcpilot/internal/storage"
	"github.com/jkaninda/grcpilot/internal/tools"
)

// Kind classifies an approval failure for callers.
type Kind string

const (
	KindUnauthenticated     Kind = "Unauthenticated"
	KindQuotaExceeded       Kind = "QuotaExceeded"
	KindForbidden           Kind = "Forbidden"
	KindPrerequisiteMissing Kind = "PrerequisiteMissing"
	KindNotFound            Kind = "NotFound"
	KindConflict            Kind = "Conflict"
	KindUnsupportedAction   Kind = "UnsupportedAction"
	KindInvalidInput        Kind = "InvalidInput"
	KindInternal            Kind = "Internal"
)

// Error is a classified approval failure. Count and Limit are set for
// KindQuotaExceeded.
type Error struct {
	Kind    Kind
	Message string
	Count   int
	Limit   int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// classify maps handler, store and policy errors onto a Kind. The message of
// an Internal error is generic; the cause stays in Err for logs.
func classify(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		return newError(KindUnauthenticated, "authentication required", err)
	case errors.Is(err, metering.ErrQuotaExceeded):
		return newError(KindQuotaExceeded, "write quota exceeded", err)
	case errors.Is(err, security.ErrForbidden):
		return newError(KindForbidden, err.Error(), err)
	case errors.Is(err, actions.ErrPrerequisiteMissing):
		return newError(KindPrerequisiteMissing, err.Error(), err)
	case errors.Is(err, actions.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return newError(KindNotFound, err.Error(), err)
	case errors.Is(err, actions.ErrConflict), errors.Is(err, storage.ErrConflict):
		return newError(KindConflict, err.Error(), err)
	case errors.Is(err, actions.ErrUnsupported), errors.Is(err, tools.ErrUnknownTool):
		return newError(KindUnsupportedAction, err.Error(), err)
	case errors.Is(err, actions.ErrInvalidInput), errors.Is(err, tools.ErrInvalidInput):
		return newError(KindInvalidInput, err.Error(), err)
	default:
		return newError(KindInternal, "internal error", err)
	}
}

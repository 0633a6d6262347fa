// Package apperr defines the error taxonomy shared by the billing engine.
//
// Domain packages declare sentinel errors with a stable code. Detailed copies
// produced with WithEntities/WithReason/WithField still match the sentinel
// through errors.Is, so callers can branch on either the kind or the code.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for callers and transport adapters.
type Kind string

const (
	KindNotFound               Kind = "not_found"
	KindValidation             Kind = "validation_failed"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindConflict               Kind = "conflicting_unique_key"
	KindExternal               Kind = "external_service_failure"
	KindUnexpected             Kind = "unexpected"
)

// Error is the concrete error type returned by the engine.
type Error struct {
	Kind      Kind
	Code      string
	Field     string
	EntityIDs []string
	Reason    string
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.EntityIDs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.EntityIDs, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error with the same kind and code. A target without a
// code matches every error of its kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

func (e *Error) clone() *Error {
	cp := *e
	if len(e.EntityIDs) > 0 {
		cp.EntityIDs = append([]string(nil), e.EntityIDs...)
	}
	return &cp
}

// WithEntities returns a copy carrying the offending entity ids.
func (e *Error) WithEntities(ids ...string) *Error {
	cp := e.clone()
	cp.EntityIDs = append(cp.EntityIDs, ids...)
	return cp
}

// WithReason returns a copy with a more specific human-readable reason.
func (e *Error) WithReason(format string, args ...any) *Error {
	cp := e.clone()
	cp.Reason = fmt.Sprintf(format, args...)
	return cp
}

// WithField returns a copy naming the offending field.
func (e *Error) WithField(field string) *Error {
	cp := e.clone()
	cp.Field = field
	return cp
}

// Wrap returns a copy wrapping cause.
func (e *Error) Wrap(cause error) *Error {
	cp := e.clone()
	cp.Err = cause
	return cp
}

func New(kind Kind, code, reason string) *Error {
	return &Error{Kind: kind, Code: code, Reason: reason}
}

func NotFound(code, reason string) *Error {
	return New(KindNotFound, code, reason)
}

func Validation(code, reason string) *Error {
	return New(KindValidation, code, reason)
}

func InvalidState(code, reason string) *Error {
	return New(KindInvalidStateTransition, code, reason)
}

func Conflict(code, reason string) *Error {
	return New(KindConflict, code, reason)
}

func External(code, reason string) *Error {
	return New(KindExternal, code, reason)
}

// Unexpected wraps an infrastructure failure.
func Unexpected(cause error) *Error {
	return &Error{Kind: KindUnexpected, Code: "internal_error", Reason: "internal error", Err: cause}
}

// Kind sentinels usable with errors.Is.
var (
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrValidation             = &Error{Kind: KindValidation}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	ErrConflict               = &Error{Kind: KindConflict}
	ErrExternal               = &Error{Kind: KindExternal}
	ErrUnexpected             = &Error{Kind: KindUnexpected}
)

// As extracts the engine error from err.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return nil, false
}

// KindOf reports the kind of err. Errors outside the taxonomy are unexpected.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindUnexpected
}

// Ensure passes engine errors through and wraps everything else as Unexpected.
func Ensure(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return Unexpected(err)
}

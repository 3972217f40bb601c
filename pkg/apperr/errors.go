// Package apperr defines the error kinds shared by every gatehouse component.
//
// Core operations never panic and never swallow a failure: they return an *Error whose Kind
// tells the boundary layer which response to produce. Use errors.Is with the sentinel values
// (ErrNotAMember, ErrLastOwner, ...) to branch on a kind, or KindOf to read it directly.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for automated handling.
type Kind string

const (
	KindInternal             Kind = "internal"
	KindInvalid              Kind = "invalid"
	KindUnauthenticated      Kind = "unauthenticated"
	KindNotAMember           Kind = "not_a_member"
	KindForbidden            Kind = "forbidden"
	KindLastOwnerViolation   Kind = "last_owner_violation"
	KindDuplicateInvitation  Kind = "duplicate_invitation"
	KindAlreadyMember        Kind = "already_member"
	KindInvalidState         Kind = "invalid_state"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindNoActiveOrganization Kind = "no_active_organization"
)

// Sentinels for errors.Is. Two *Error values match when their kinds match.
var (
	ErrInternal             = &Error{Kind: KindInternal}
	ErrInvalid              = &Error{Kind: KindInvalid}
	ErrUnauthenticated      = &Error{Kind: KindUnauthenticated}
	ErrNotAMember           = &Error{Kind: KindNotAMember}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrLastOwner            = &Error{Kind: KindLastOwnerViolation}
	ErrDuplicateInvitation  = &Error{Kind: KindDuplicateInvitation}
	ErrAlreadyMember        = &Error{Kind: KindAlreadyMember}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrNoActiveOrganization = &Error{Kind: KindNoActiveOrganization}
)

// Error is the error value returned by core operations.
//
// Kind targets automated handlers (HTTP status mapping, branching in callers).
// Msg is safe to show to the end user. Op names the operation that failed and Err
// carries the underlying cause, if any. Redirect is a client route hint, set on
// NoActiveOrganization errors.
type Error struct {
	Kind     Kind
	Msg      string
	Op       string
	Err      error
	Redirect string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		b.WriteString(e.Msg)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind with a user-facing message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind that records op and the underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Internal wraps an unexpected failure (driver errors, I/O).
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Msg: "internal error", Err: err}
}

// NotFound reports a missing record of the named type.
func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Msg: what + " not found"}
}

// KindOf returns the kind of the first *Error in err's chain.
// Errors that are not *Error report KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message of err. Internal failures never leak their cause.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return "An internal error has occurred."
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return Message(e.Err)
	}
	return defaultMessages[e.Kind]
}

var defaultMessages = map[Kind]string{
	KindInvalid:              "invalid request",
	KindUnauthenticated:      "Authentication required",
	KindNotAMember:           "You are not a member of this organization",
	KindForbidden:            "You don't have permission to perform this action",
	KindLastOwnerViolation:   "An organization must keep at least one owner. Transfer ownership first.",
	KindDuplicateInvitation:  "A pending invitation already exists for this email",
	KindAlreadyMember:        "User is already a member of this organization",
	KindInvalidState:         "The invitation is no longer pending",
	KindNotFound:             "not found",
	KindConflict:             "conflict",
	KindNoActiveOrganization: "No active organization. Please join or create an organization.",
}

// RedirectOf returns the redirect hint of the first *Error in err's chain that has one.
func RedirectOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Redirect != "" {
			return e.Redirect
		}
		err = e.Err
	}
	return ""
}

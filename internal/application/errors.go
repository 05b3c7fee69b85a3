package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/shift-compliance/internal/persistence"
)

// Kind is a stable error classification shared by services, logs and the HTTP surface.
type Kind string

const (
	KindBadInterval       Kind = "bad-interval"
	KindTooLong           Kind = "too-long"
	KindPastStart         Kind = "past-start"
	KindMissingField      Kind = "missing-field"
	KindUnverified        Kind = "unverified"
	KindWrongRole         Kind = "wrong-role"
	KindInactiveRoom      Kind = "inactive-room"
	KindNotFound          Kind = "not-found"
	KindUserConflict      Kind = "user-conflict"
	KindRoomConflict      Kind = "room-conflict"
	KindShiftDoesNotCover Kind = "shift-does-not-cover"
	KindRoomMismatch      Kind = "room-mismatch"
	KindShiftInactive     Kind = "shift-inactive"
	KindAlreadyIn         Kind = "already-in"
	KindNoShift           Kind = "no-shift"
	KindAlreadyClosed     Kind = "already-closed"
	KindTimeout           Kind = "timeout"
	KindStoreUnavailable  Kind = "store-unavailable"
	KindDeliveryFailed    Kind = "delivery-failed"
	KindForbidden         Kind = "forbidden"
	KindInternal          Kind = "internal"
)

// Category groups kinds by how callers should react.
type Category string

const (
	CategoryInput         Category = "input"
	CategoryAuthorization Category = "authorization"
	CategoryConflict      Category = "conflict"
	CategoryTransient     Category = "transient"
	CategoryInternal      Category = "internal"
)

// Category returns the group the kind belongs to.
func (k Kind) Category() Category {
	switch k {
	case KindBadInterval, KindTooLong, KindPastStart, KindMissingField:
		return CategoryInput
	case KindUnverified, KindWrongRole, KindInactiveRoom, KindNotFound, KindForbidden:
		return CategoryAuthorization
	case KindUserConflict, KindRoomConflict, KindShiftDoesNotCover, KindRoomMismatch,
		KindShiftInactive, KindAlreadyIn, KindNoShift, KindAlreadyClosed:
		return CategoryConflict
	case KindTimeout, KindStoreUnavailable, KindDeliveryFailed:
		return CategoryTransient
	default:
		return CategoryInternal
	}
}

// Retryable reports whether the caller may retry the same request.
func (k Kind) Retryable() bool {
	return k.Category() == CategoryTransient
}

// Error is the tagged error returned by every service operation.
type Error struct {
	Kind       Kind
	Message    string
	Details    map[string]any
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind so the exported sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil {
		return false
	}
	return other.Kind == e.Kind
}

// WithDetail returns e after recording a diagnostic field.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrBadInterval       = &Error{Kind: KindBadInterval}
	ErrTooLong           = &Error{Kind: KindTooLong}
	ErrPastStart         = &Error{Kind: KindPastStart}
	ErrMissingField      = &Error{Kind: KindMissingField}
	ErrUnverified        = &Error{Kind: KindUnverified}
	ErrWrongRole         = &Error{Kind: KindWrongRole}
	ErrInactiveRoom      = &Error{Kind: KindInactiveRoom}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrUserConflict      = &Error{Kind: KindUserConflict}
	ErrRoomConflict      = &Error{Kind: KindRoomConflict}
	ErrShiftDoesNotCover = &Error{Kind: KindShiftDoesNotCover}
	ErrRoomMismatch      = &Error{Kind: KindRoomMismatch}
	ErrShiftInactive     = &Error{Kind: KindShiftInactive}
	ErrAlreadyIn         = &Error{Kind: KindAlreadyIn}
	ErrNoShift           = &Error{Kind: KindNoShift}
	ErrAlreadyClosed     = &Error{Kind: KindAlreadyClosed}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrStoreUnavailable  = &Error{Kind: KindStoreUnavailable}
	ErrDeliveryFailed    = &Error{Kind: KindDeliveryFailed}
	ErrForbidden         = &Error{Kind: KindForbidden}
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// Is lets errors.Is(err, ErrMissingField) match validation failures.
func (v *ValidationError) Is(target error) bool {
	var other *Error
	return errors.As(target, &other) && other.Kind == KindMissingField
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// KindOf classifies any error returned by the application layer.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return KindMissingField
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return KindNotFound
	case errors.Is(err, persistence.ErrTimeout):
		return KindTimeout
	case errors.Is(err, persistence.ErrUnavailable):
		return KindStoreUnavailable
	}
	return KindInternal
}

// mapStoreError translates persistence sentinels into application errors.
// entity names the row kind for not-found messages.
func mapStoreError(err error, entity string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return err
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: entity + " not found", Err: err}
	case errors.Is(err, persistence.ErrTimeout):
		return &Error{
			Kind:       KindTimeout,
			Message:    "the operation did not finish before its deadline",
			Suggestion: "retry the request",
			Err:        err,
		}
	case errors.Is(err, persistence.ErrUnavailable):
		return &Error{
			Kind:       KindStoreUnavailable,
			Message:    "the store is temporarily unavailable",
			Suggestion: "retry the request",
			Err:        err,
		}
	}
	return err
}

// Package syncerr defines the error taxonomy shared by the autosave and
// sync components.
//
// Store and network failures are caught at the component boundary and turned
// into *Error values carried on SyncStatus or passed to onError callbacks.
// Only the local store's own CRUD calls return them synchronously.
package syncerr

import (
	"errors"
	"fmt"
)

// Code categorizes engine errors.
type Code string

const (
	// CodeStoreUnavailable: the local persistence medium cannot be opened or used.
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"

	// CodeRemoteWriteFailed: any non-conflict failure from the remote API.
	CodeRemoteWriteFailed Code = "REMOTE_WRITE_FAILED"

	// CodeConflict: the remote holds a newer version than the change was based on.
	CodeConflict Code = "CONFLICT"

	// CodeResolveFailed: the caller's conflict resolver returned an error
	// or no resolver was configured.
	CodeResolveFailed Code = "RESOLVE_FAILED"

	// CodeRetryExhausted: a change reached the maximum retry count.
	CodeRetryExhausted Code = "RETRY_EXHAUSTED"
)

// Error is a coded engine error with the entity it concerns.
type Error struct {
	Code       Code
	Message    string
	EntityKind string
	EntityID   string
	ChangeID   string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.EntityKind != "" {
		msg += fmt.Sprintf(" (%s/%s)", e.EntityKind, e.EntityID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsStoreUnavailable reports whether err is a STORE_UNAVAILABLE error.
func IsStoreUnavailable(err error) bool { return CodeOf(err) == CodeStoreUnavailable }

// IsRemoteWriteFailed reports whether err is a REMOTE_WRITE_FAILED error.
func IsRemoteWriteFailed(err error) bool { return CodeOf(err) == CodeRemoteWriteFailed }

// IsConflict reports whether err is a CONFLICT error.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsRetryExhausted reports whether err is a RETRY_EXHAUSTED error.
func IsRetryExhausted(err error) bool { return CodeOf(err) == CodeRetryExhausted }

// StoreUnavailable wraps a failure to open or use the local store.
func StoreUnavailable(err error) *Error {
	return &Error{Code: CodeStoreUnavailable, Message: "local store unavailable", Err: err}
}

// RemoteWriteFailed wraps a non-conflict remote failure for an entity.
func RemoteWriteFailed(kind, id string, err error) *Error {
	return &Error{Code: CodeRemoteWriteFailed, Message: "remote write failed", EntityKind: kind, EntityID: id, Err: err}
}

// Conflict reports that the remote holds a newer version of an entity.
func Conflict(kind, id string) *Error {
	return &Error{Code: CodeConflict, Message: "remote has a newer version", EntityKind: kind, EntityID: id}
}

// ResolveFailed wraps a conflict resolver failure for a change.
func ResolveFailed(changeID, kind, id string, err error) *Error {
	return &Error{Code: CodeResolveFailed, Message: "conflict resolution failed", ChangeID: changeID, EntityKind: kind, EntityID: id, Err: err}
}

// RetryExhausted reports a change that reached maxRetries.
func RetryExhausted(changeID, kind, id string, retries int) *Error {
	return &Error{
		Code:       CodeRetryExhausted,
		Message:    fmt.Sprintf("change gave up after %d attempts", retries),
		ChangeID:   changeID,
		EntityKind: kind,
		EntityID:   id,
	}
}

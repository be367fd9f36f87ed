package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure surfaced by the coordinator.
type ErrorKind string

const (
	KindUninitialized          ErrorKind = "Uninitialized"
	KindAlreadyInitialized     ErrorKind = "AlreadyInitialized"
	KindNotFound               ErrorKind = "NotFound"
	KindDuplicateID            ErrorKind = "DuplicateId"
	KindUnknownDependency      ErrorKind = "UnknownDependency"
	KindCyclicDependency       ErrorKind = "CyclicDependency"
	KindInvalidStateTransition ErrorKind = "InvalidStateTransition"
	KindConflict               ErrorKind = "Conflict"
	KindStorageCorrupt         ErrorKind = "StorageCorrupt"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrUninitialized          = &Error{Kind: KindUninitialized}
	ErrAlreadyInitialized     = &Error{Kind: KindAlreadyInitialized}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrDuplicateID            = &Error{Kind: KindDuplicateID}
	ErrUnknownDependency      = &Error{Kind: KindUnknownDependency}
	ErrCyclicDependency       = &Error{Kind: KindCyclicDependency}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	ErrConflict               = &Error{Kind: KindConflict}
	ErrStorageCorrupt         = &Error{Kind: KindStorageCorrupt}
)

// Error is a typed failure. TaskID is set when the failure concerns a
// specific task.
type Error struct {
	Kind    ErrorKind
	TaskID  string
	Message string
	Err     error
}

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, taskID string, format string, args ...any) *Error {
	return &Error{Kind: kind, TaskID: taskID, Message: fmt.Sprintf(format, args...)}
}

// Corrupt wraps an underlying decode or validation error as StorageCorrupt.
func Corrupt(err error, format string, args ...any) *Error {
	return &Error{Kind: KindStorageCorrupt, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether re-reading state and retrying is likely to
// succeed. Only Conflict qualifies.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConflict
}

// KindInternal labels errors that carry no ErrorKind in ErrorPayload.
const KindInternal ErrorKind = "Internal"

// KindInvalidArgument is reported by the tool server and the HTTP API for
// malformed requests. The coordinator never returns it.
const KindInvalidArgument ErrorKind = "InvalidArgument"

// ErrorPayload is the JSON body reported to remote callers for a failure.
type ErrorPayload struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind      ErrorKind `json:"kind"`
	TaskID    string    `json:"task_id,omitempty"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// NewErrorPayload describes err for a remote caller.
func NewErrorPayload(err error) ErrorPayload {
	d := ErrorDetail{Kind: KindInternal, Message: err.Error(), Retryable: IsRetryable(err)}
	var e *Error
	if errors.As(err, &e) {
		d.Kind = e.Kind
		d.TaskID = e.TaskID
	}
	return ErrorPayload{Error: d}
}

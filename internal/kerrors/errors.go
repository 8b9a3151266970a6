// Package kerrors holds the kernel's structured error type so that both
// the root mkcore package and the internal kthread/ktask/sched/ipc/futex
// packages can return it without a circular import between them, the
// same reason internal/interfaces is kept separate from the root
// package.
package kerrors

import (
	"errors"
	"fmt"
)

// ErrorKind is the kernel's result-tagged error taxonomy.
// Panics are reserved for invariant violations; these codes are for
// ordinary, expected fallible operations.
type ErrorKind string

const (
	ErrCodeNoMemory         ErrorKind = "no memory"
	ErrCodeNoResource       ErrorKind = "no resource"
	ErrCodeWouldBlock       ErrorKind = "would block"
	ErrCodeTimeout          ErrorKind = "timeout"
	ErrCodeInterrupted      ErrorKind = "interrupted"
	ErrCodeHangup           ErrorKind = "hangup"
	ErrCodeForwarded        ErrorKind = "forwarded"
	ErrCodePermissionDenied ErrorKind = "permission denied"
	ErrCodeInvalidArgument  ErrorKind = "invalid argument"
)

// Error is a structured kernel error carrying the operation, the task/
// thread it occurred on, and its taxonomy code.
type Error struct {
	Op       string // operation that failed, e.g. "ipc_call_sync"
	TaskID   uint64 // 0 if not applicable
	ThreadID uint64 // 0 if not applicable
	Code     ErrorKind
	Msg      string
	Inner    error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.TaskID != 0 {
		parts = append(parts, fmt.Sprintf("task=%d", e.TaskID))
	}
	if e.ThreadID != 0 {
		parts = append(parts, fmt.Sprintf("thread=%d", e.ThreadID))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("mkcore: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("mkcore: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches on taxonomy code, so callers can do
// errors.Is(err, kerrors.ErrHangup) without type-asserting.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// Sentinel errors for the taxonomy, matched by Code via Is.
var (
	ErrNoMemory         = &Error{Code: ErrCodeNoMemory}
	ErrNoResource       = &Error{Code: ErrCodeNoResource}
	ErrWouldBlock       = &Error{Code: ErrCodeWouldBlock}
	ErrTimeout          = &Error{Code: ErrCodeTimeout}
	ErrInterrupted      = &Error{Code: ErrCodeInterrupted}
	ErrHangup           = &Error{Code: ErrCodeHangup}
	ErrForwarded        = &Error{Code: ErrCodeForwarded}
	ErrPermissionDenied = &Error{Code: ErrCodePermissionDenied}
	ErrInvalidArgument  = &Error{Code: ErrCodeInvalidArgument}
)

// New creates a structured error for op with no task/thread context.
func New(op string, code ErrorKind, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewThreadError creates a structured error scoped to a thread.
func NewThreadError(op string, threadID uint64, code ErrorKind, msg string) *Error {
	return &Error{Op: op, ThreadID: threadID, Code: code, Msg: msg}
}

// NewTaskError creates a structured error scoped to a task.
func NewTaskError(op string, taskID uint64, code ErrorKind, msg string) *Error {
	return &Error{Op: op, TaskID: taskID, Code: code, Msg: msg}
}

// Wrap wraps an existing error with operation context, preserving the
// taxonomy code of an inner *Error or defaulting to NoResource.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok {
		return &Error{Op: op, TaskID: e.TaskID, ThreadID: e.ThreadID, Code: e.Code, Msg: e.Msg, Inner: e.Inner}
	}
	return &Error{Op: op, Code: ErrCodeNoResource, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is a *Error with the given taxonomy code.
func IsCode(err error, code ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

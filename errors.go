package mkcore

import "github.com/mkcore-project/mkcore/internal/kerrors"

// Error, ErrorKind, and the taxonomy constructors are implemented in
// internal/kerrors so that kthread/ktask/sched/ipc/futex can return them
// without importing the root package; mkcore re-exports the public
// surface here.
type Error = kerrors.Error
type ErrorKind = kerrors.ErrorKind

const (
	ErrCodeNoMemory         = kerrors.ErrCodeNoMemory
	ErrCodeNoResource       = kerrors.ErrCodeNoResource
	ErrCodeWouldBlock       = kerrors.ErrCodeWouldBlock
	ErrCodeTimeout          = kerrors.ErrCodeTimeout
	ErrCodeInterrupted      = kerrors.ErrCodeInterrupted
	ErrCodeHangup           = kerrors.ErrCodeHangup
	ErrCodeForwarded        = kerrors.ErrCodeForwarded
	ErrCodePermissionDenied = kerrors.ErrCodePermissionDenied
	ErrCodeInvalidArgument  = kerrors.ErrCodeInvalidArgument
)

var (
	ErrNoMemory         = kerrors.ErrNoMemory
	ErrNoResource       = kerrors.ErrNoResource
	ErrWouldBlock       = kerrors.ErrWouldBlock
	ErrTimeout          = kerrors.ErrTimeout
	ErrInterrupted      = kerrors.ErrInterrupted
	ErrHangup           = kerrors.ErrHangup
	ErrForwarded        = kerrors.ErrForwarded
	ErrPermissionDenied = kerrors.ErrPermissionDenied
	ErrInvalidArgument  = kerrors.ErrInvalidArgument
)

var (
	NewError       = kerrors.New
	NewThreadError = kerrors.NewThreadError
	NewTaskError   = kerrors.NewTaskError
	WrapError      = kerrors.Wrap
	IsCode         = kerrors.IsCode
)

package errs

import "github.com/fixkme/msgloop/util/errs"

const (
	ErrCode_InvalidArgument = 100
	ErrCode_MessageInUse    = 101
	ErrCode_BarrierNotFound = 102
	ErrCode_QuitNotAllowed  = 103
	ErrCode_LoopRunning     = 104
	ErrCode_DispatchPanic   = 105
	ErrCode_ThreadClosed    = 106
	ErrCode_NotInitialized  = 107
)

var (
	InvalidArgument = errs.CreateCodeError(ErrCode_InvalidArgument, "INVALID_ARGUMENT")
	MessageInUse    = errs.CreateCodeError(ErrCode_MessageInUse, "MESSAGE_IN_USE")
	BarrierNotFound = errs.CreateCodeError(ErrCode_BarrierNotFound, "BARRIER_NOT_FOUND")
	QuitNotAllowed  = errs.CreateCodeError(ErrCode_QuitNotAllowed, "QUIT_NOT_ALLOWED")
	LoopRunning     = errs.CreateCodeError(ErrCode_LoopRunning, "LOOP_RUNNING")
	DispatchPanic   = errs.CreateCodeError(ErrCode_DispatchPanic, "DISPATCH_PANIC")
	ThreadClosed    = errs.CreateCodeError(ErrCode_ThreadClosed, "THREAD_CLOSED")
	NotInitialized  = errs.CreateCodeError(ErrCode_NotInitialized, "NOT_INITIALIZED")
)

package utils

import (
	"errors"
	"fmt"
)

// Operations reported by the monitor loop. They tag AppErrors, log lines and
// the op label of failure logs.
const (
	OpSample  = "monitor.sample"
	OpPersist = "monitor.persist"
	OpResolve = "monitor.resolve"
	OpPrune   = "monitor.prune"
	OpFlush   = "monitor.flush"
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError. A nil err yields nil so call sites can
// wrap results unconditionally.
func NewAppError(op, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Msg: msg, Err: err}
}

// OpOf returns the operation of the outermost AppError in err's chain, or
// "unknown".
func OpOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Op
	}
	return "unknown"
}

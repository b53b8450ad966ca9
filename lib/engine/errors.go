package engine

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("EmberError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// NewErrorf creates a new Error with the given code and a formatted message.
func NewErrorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// IsCode reports whether err is an *Error carrying the given code.
func IsCode(err error, code RetCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess            RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                     // 1: Operation failed due to an internal error.
	RetCIllegalState                      // 2: API misuse: wrong goroutine, invalid transaction nesting, listener off-loop.
	RetCClosedHandle                      // 3: Access to a handle or view after it was closed.
	RetCCapacityExceeded                  // 4: Background work queue is full.
	RetCFileAccess                        // 5: Snapshot file could not be opened or read.
	RetCIncompatibleFormat                // 6: Snapshot file format is not readable by this version.
	RetCQueryFailed                       // 7: A query could not be evaluated (e.g. missing table).
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCIllegalState:
		return "IllegalState"
	case RetCClosedHandle:
		return "ClosedHandle"
	case RetCCapacityExceeded:
		return "CapacityExceeded"
	case RetCFileAccess:
		return "FileAccess"
	case RetCIncompatibleFormat:
		return "IncompatibleFormat"
	case RetCQueryFailed:
		return "QueryFailed"
	default:
		return "Unknown"
	}
}

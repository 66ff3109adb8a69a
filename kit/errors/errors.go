package errors

import (
	"fmt"
	"strings"
)

// Error codes for the kv platform. Callers branch on ErrorCode rather
// than on concrete error values.
const (
	EInternal      = "internal error"
	EInvalid       = "invalid"             // validation failed before any I/O
	EConfiguration = "configuration error" // rejected before any connection attempt
	EKV            = "kv error"            // backing-store failure, decode failure, lifecycle misuse
)

// Error is the error struct of the kv platform.
//
// The Code targets automated handlers so that recovery can occur. Msg
// helps an operator diagnose the problem. Op and Err chain errors
// together in a logical stack trace.
//
// To create a simple error,
//
//	&Error{
//	    Code: EInvalid,
//	}
//
// To show where the error happens, add Op.
//
//	&Error{
//	    Code: EKV,
//	    Op:   "store.Get",
//	}
//
// To show an error wrapped with another error.
//
//	&Error{
//	    Code: EKV,
//	    Err:  err,
//	}
type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error
}

// Error implements the error interface by writing out the recursive
// messages.
func (e *Error) Error() string {
	if e.Msg != "" && e.Err != nil {
		var b strings.Builder
		b.WriteString(e.Msg)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
		return b.String()
	} else if e.Msg != "" {
		return e.Msg
	} else if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("<%s>", e.Code)
}

// Unwrap exposes the cause so errors.Is and errors.As see through the
// platform wrapper.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode returns the code of the root error, if available; otherwise
// returns EInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	e, ok := err.(*Error)
	if !ok {
		return EInternal
	}

	if e == nil {
		return ""
	}

	if e.Code != "" {
		return e.Code
	}

	if e.Err != nil {
		return ErrorCode(e.Err)
	}

	return EInternal
}

// ErrorOp returns the op of the error, if available; otherwise returns
// an empty string.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}

	e, ok := err.(*Error)
	if !ok {
		return ""
	}

	if e == nil {
		return ""
	}

	if e.Op != "" {
		return e.Op
	}

	if e.Err != nil {
		return ErrorOp(e.Err)
	}

	return ""
}

// ErrorMessage returns the human-readable message of the error, if
// available; otherwise returns a generic message.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	e, ok := err.(*Error)
	if !ok {
		return "An internal error has occurred."
	}

	if e == nil {
		return ""
	}

	if e.Msg != "" {
		return e.Msg
	}

	if e.Err != nil {
		return ErrorMessage(e.Err)
	}

	return "An internal error has occurred."
}

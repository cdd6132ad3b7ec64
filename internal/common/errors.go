package common

import (
	"errors"
	"fmt"
)

// Code classifies a directory failure.
type Code int

const (
	CodeUnknown Code = iota
	CodeInvalidParameter
	CodeNotAllowed
	CodeNotFound
	CodeServerError
	CodeIllegalOperation
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotAllowed       = errors.New("not allowed")
	ErrNotFound         = errors.New("not found")
	ErrServerError      = errors.New("server error")
	ErrIllegalOperation = errors.New("illegal operation")
	ErrUnknown          = errors.New("unknown error")
)

func (c Code) sentinel() error {
	switch c {
	case CodeInvalidParameter:
		return ErrInvalidParameter
	case CodeNotAllowed:
		return ErrNotAllowed
	case CodeNotFound:
		return ErrNotFound
	case CodeServerError:
		return ErrServerError
	case CodeIllegalOperation:
		return ErrIllegalOperation
	default:
		return ErrUnknown
	}
}

func (c Code) String() string {
	return c.sentinel().Error()
}

// CodeFromWire maps an application code found in a response payload.
func CodeFromWire(code int) Code {
	switch code {
	case WireInvalidParameter, WireInvalidDomain:
		return CodeInvalidParameter
	case WireFailure:
		return CodeServerError
	case WireNotAllowed:
		return CodeNotAllowed
	case WireNotFound:
		return CodeNotFound
	case WireIllegalOperation:
		return CodeIllegalOperation
	default:
		return CodeUnknown
	}
}

// Error is a directory failure. Module names the originating component,
// Context holds the object or id the request was about.
//
// Match on the category with errors.Is(err, common.ErrNotAllowed).
type Error struct {
	Module  string
	Code    Code
	Context any
	Err     error
}

// NewError builds an Error without an underlying cause.
func NewError(module string, code Code, context any) *Error {
	return &Error{Module: module, Code: code, Context: context}
}

// WrapError builds an Error around cause.
func WrapError(module string, code Code, context any, cause error) *Error {
	return &Error{Module: module, Code: code, Context: context, Err: cause}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Module, e.Code)
	if e.Context != nil {
		msg = fmt.Sprintf("%s (context=%v)", msg, e.Context)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's code.
func (e *Error) Is(target error) bool {
	return target == e.Code.sentinel()
}

// CodeOf extracts the Code of err, CodeUnknown when err is not an *Error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeUnknown
}

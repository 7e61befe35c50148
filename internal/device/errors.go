package device

import (
	"errors"
	"fmt"
)

// ErrInvalidHandle is wrapped by every invalid-handle failure: a nil caller
// buffer or an unbacked memory object reached a marshaling or execution
// entry point.
var ErrInvalidHandle = errors.New("invalid handle")

// ErrorKind classifies engine failures. Construction means the engine
// rejected a descriptor or could not build an object; execution means a
// queued primitive failed. Neither is retried anywhere in this package.
type ErrorKind int

const (
	KindInvalidHandle ErrorKind = iota
	KindConstruction
	KindExecution
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidHandle:
		return "invalid_handle"
	case KindConstruction:
		return "construction"
	case KindExecution:
		return "execution"
	}
	return "unknown"
}

// Error carries the failure kind, the operation that raised it and an
// optional wrapped cause.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device: %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("device: %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error. Invalid-handle errors automatically
// wrap ErrInvalidHandle so errors.Is keeps working for callers.
func NewError(kind ErrorKind, op, message string) *Error {
	e := &Error{Kind: kind, Op: op, Message: message}
	if kind == KindInvalidHandle {
		e.Err = ErrInvalidHandle
	}
	return e
}

func invalidHandleError(op, message string) *Error {
	return NewError(KindInvalidHandle, op, message)
}

func constructionError(op, format string, args ...interface{}) *Error {
	return NewError(KindConstruction, op, fmt.Sprintf(format, args...))
}

func executionError(op, format string, args ...interface{}) *Error {
	return NewError(KindExecution, op, fmt.Sprintf(format, args...))
}

// IsInvalidHandle reports whether err is an invalid-handle failure.
func IsInvalidHandle(err error) bool {
	return errors.Is(err, ErrInvalidHandle)
}

// IsConstruction reports whether err was raised while building an engine object.
func IsConstruction(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == KindConstruction
}

// IsExecution reports whether err was raised by a queued primitive.
func IsExecution(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == KindExecution
}

package registry

import (
	"errors"
	"fmt"
)

var (
	ErrHandlerNotFound   = errors.New("handler not found")
	ErrConnectionInvalid = errors.New("connection invalid")
	ErrHandlerPanicked   = errors.New("handler panicked")
)

const (
	CodeHandlerNotFound   = 1
	CodeConnectionInvalid = 2
	CodeHandlerPanicked   = 3
)

// HandlerNotFoundError is returned to a two-way caller when the peer has no
// handler registered under the message name.
type HandlerNotFoundError struct {
	Name string `xpc:"name"`
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler for message %q", e.Name)
}

func (e *HandlerNotFoundError) Unwrap() error  { return ErrHandlerNotFound }
func (e *HandlerNotFoundError) ErrorCode() int { return CodeHandlerNotFound }

// ConnectionInvalidError resolves every call still waiting for a reply when
// the connection is cancelled, and rejects sends made afterwards.
type ConnectionInvalidError struct {
	Reason string `xpc:"reason"`
}

func (e *ConnectionInvalidError) Error() string {
	if e.Reason == "" {
		return "connection invalid"
	}
	return "connection invalid: " + e.Reason
}

func (e *ConnectionInvalidError) Unwrap() error  { return ErrConnectionInvalid }
func (e *ConnectionInvalidError) ErrorCode() int { return CodeConnectionInvalid }

// HandlerPanicError is returned to a two-way caller whose handler panicked.
// The receiving endpoint survives the panic.
type HandlerPanicError struct {
	Name  string `xpc:"name"`
	Value string `xpc:"value"`
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler %q panicked: %s", e.Name, e.Value)
}

func (e *HandlerPanicError) Unwrap() error  { return ErrHandlerPanicked }
func (e *HandlerPanicError) ErrorCode() int { return CodeHandlerPanicked }

package codec

import (
	"errors"
	"fmt"
	"reflect"

	"mini-xpc/object"
)

var (
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrValueNotFound = errors.New("value not found")
	ErrDataCorrupted = errors.New("data corrupted")
	ErrInvalidValue  = errors.New("invalid value")
)

// Error codes reported through ErrorCode, stable across processes.
const (
	CodeTypeMismatch  = 4864
	CodeValueNotFound = 4865
	CodeDataCorrupted = 4866
	CodeInvalidValue  = 4867
)

// TypeMismatchError reports an object whose tag differs from the one the
// target type needs.
type TypeMismatchError struct {
	Path     Path
	Expected object.Kind
	Actual   object.Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("codec: type mismatch at %v: expected %v, found %v", e.Path, e.Expected, e.Actual)
}

func (e *TypeMismatchError) Unwrap() error  { return ErrTypeMismatch }
func (e *TypeMismatchError) ErrorCode() int { return CodeTypeMismatch }

// ValueNotFoundError reports a required key or element that is absent or null.
type ValueNotFoundError struct {
	Path Path
	Msg  string
}

func (e *ValueNotFoundError) Error() string {
	return fmt.Sprintf("codec: value not found at %v: %s", e.Path, e.Msg)
}

func (e *ValueNotFoundError) Unwrap() error  { return ErrValueNotFound }
func (e *ValueNotFoundError) ErrorCode() int { return CodeValueNotFound }

// DataCorruptedError reports well-tagged data that still cannot be used:
// integer overflow on narrowing, truncated sequences, malformed buffers.
type DataCorruptedError struct {
	Path Path
	Msg  string
}

func (e *DataCorruptedError) Error() string {
	return fmt.Sprintf("codec: data corrupted at %v: %s", e.Path, e.Msg)
}

func (e *DataCorruptedError) Unwrap() error  { return ErrDataCorrupted }
func (e *DataCorruptedError) ErrorCode() int { return CodeDataCorrupted }

// InvalidValueError reports a Go value or type the codec cannot represent.
type InvalidValueError struct {
	Path Path
	Type reflect.Type
	Msg  string
}

func (e *InvalidValueError) Error() string {
	if e.Type == nil {
		return fmt.Sprintf("codec: invalid value at %v: %s", e.Path, e.Msg)
	}
	return fmt.Sprintf("codec: invalid value of type %v at %v: %s", e.Type, e.Path, e.Msg)
}

func (e *InvalidValueError) Unwrap() error  { return ErrInvalidValue }
func (e *InvalidValueError) ErrorCode() int { return CodeInvalidValue }

func mismatch(path Path, expected object.Kind, o object.Object) error {
	if o.IsNull() && expected != object.KindNull {
		return &ValueNotFoundError{Path: path, Msg: fmt.Sprintf("expected %v, found null", expected)}
	}
	return &TypeMismatchError{Path: path, Expected: expected, Actual: o.Kind()}
}

func corrupted(path Path, format string, args ...any) error {
	return &DataCorruptedError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Package codec converts Go values to and from object trees.
//
// Encoding walks a value and writes it through containers:
//
//	struct, map[string]T  → KeyedEncoder   → Dictionary
//	slice, array          → UnkeyedEncoder → Array
//	[]byte, [N]byte       → UnkeyedEncoder → Dictionary{"contents": Bytes}
//	bool/int/uint/float/string → single value → Bool/Int64/UInt64/Double/String
//
// Decoding performs the mirror walk and fails with typed, path-annotated
// errors (TypeMismatchError, ValueNotFoundError, DataCorruptedError).
//
// Types take control of their own shape by implementing Marshaler and
// Unmarshaler; everything else goes through reflection, which uses the same
// containers. Each Encoder/Decoder hands out exactly one top-level container.
// Asking twice is a programming error and panics.
package codec

import (
	"errors"
	"reflect"

	"mini-xpc/object"
)

// Reserved dictionary keys.
const (
	// ContentsKey holds the elements of a sequence wrapped in a Dictionary.
	ContentsKey = "contents"
	// SuperKey holds the base-shape part of a layered value (embedded structs).
	SuperKey = "super"
)

// Marshaler is implemented by types that write their own representation.
type Marshaler interface {
	MarshalObject(enc *Encoder) error
}

// Unmarshaler is implemented by types that read their own representation.
// UnmarshalObject must have a pointer receiver.
type Unmarshaler interface {
	UnmarshalObject(dec *Decoder) error
}

// Null is the null sentinel. Its only encoding is the Null object, and it
// decodes only from Null.
type Null struct{}

var errNilTarget = errors.New("codec: decode target must be a non-nil pointer")

// Encode converts v to an object tree.
func Encode(v any) (object.Object, error) {
	e := newEncoder(nil)
	if err := encodeValue(e, reflect.ValueOf(v)); err != nil {
		return object.Object{}, err
	}
	if !e.used {
		return object.Object{}, &InvalidValueError{Type: reflect.TypeOf(v), Msg: "value did not encode anything"}
	}
	return e.build(), nil
}

// Decode reconstructs the value pointed to by v from o.
func Decode(o object.Object, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errNilTarget
	}
	if decodeBytesFast(o, rv.Elem()) {
		return nil
	}
	return decodeSession(o, rv.Elem())
}

// DecodeAs decodes o into a new T.
func DecodeAs[T any](o object.Object) (T, error) {
	var v T
	err := Decode(o, &v)
	return v, err
}

// decodeSession runs one decode pass and raises any deferred container error
// left behind by a value that otherwise reconstructed itself.
func decodeSession(o object.Object, rv reflect.Value) error {
	s := &session{}
	d := &Decoder{obj: o, s: s}
	if err := decodeValue(d, rv); err != nil {
		return err
	}
	return s.deferred
}

// decodeBytesFast fills a byte slice straight from a packed buffer, skipping
// the container walk. It reports false when the generic path must run.
func decodeBytesFast(o object.Object, rv reflect.Value) bool {
	t := rv.Type()
	if t.Kind() != reflect.Slice || t.Elem() != byteType || !isByteSequence(t) {
		return false
	}
	contents, ok := o.Get(ContentsKey)
	if !ok {
		return false
	}
	buf, ok := contents.AsBytes()
	if !ok {
		return false
	}
	setBytes(rv, buf)
	return true
}

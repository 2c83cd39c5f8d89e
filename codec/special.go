package codec

import (
	"os"
	"reflect"

	"mini-xpc/object"
)

var (
	objectType   = reflect.TypeOf(object.Object{})
	nullType     = reflect.TypeOf(Null{})
	fileType     = reflect.TypeOf((*os.File)(nil))
	endpointType = reflect.TypeOf(object.EndpointRef{})
	byteType     = reflect.TypeOf(byte(0))
)

// specialCase is a type that bypasses generic structured coding. The encoder
// and the decoder consult the same table in the same order, so every special
// encoding has exactly one matching special decoding.
type specialCase struct {
	name   string
	match  func(t reflect.Type) bool
	encode func(e *Encoder, rv reflect.Value) error
	decode func(d *Decoder, rv reflect.Value) error
}

var specialCases = []specialCase{
	{
		name:  "object",
		match: func(t reflect.Type) bool { return t == objectType },
		encode: func(e *Encoder, rv reflect.Value) error {
			e.put(rv.Interface().(object.Object))
			return nil
		},
		decode: func(d *Decoder, rv reflect.Value) error {
			d.claim()
			rv.Set(reflect.ValueOf(d.obj))
			return nil
		},
	},
	{
		name:  "null",
		match: func(t reflect.Type) bool { return t == nullType },
		encode: func(e *Encoder, rv reflect.Value) error {
			e.put(object.Null())
			return nil
		},
		decode: func(d *Decoder, rv reflect.Value) error {
			d.claim()
			if !d.obj.IsNull() {
				return &TypeMismatchError{Path: d.path, Expected: object.KindNull, Actual: d.obj.Kind()}
			}
			return nil
		},
	},
	{
		name:  "fd",
		match: func(t reflect.Type) bool { return t == fileType },
		encode: func(e *Encoder, rv reflect.Value) error {
			if rv.IsNil() {
				e.put(object.Null())
				return nil
			}
			e.put(object.FileHandle(rv.Interface().(*os.File)))
			return nil
		},
		decode: func(d *Decoder, rv reflect.Value) error {
			d.claim()
			if d.obj.IsNull() {
				rv.Set(reflect.Zero(rv.Type()))
				return nil
			}
			f, ok := d.obj.AsFileHandle()
			if !ok {
				return mismatch(d.path, object.KindFileHandle, d.obj)
			}
			rv.Set(reflect.ValueOf(f))
			return nil
		},
	},
	{
		name:  "endpoint",
		match: func(t reflect.Type) bool { return t == endpointType },
		encode: func(e *Encoder, rv reflect.Value) error {
			e.put(object.Endpoint(rv.Interface().(object.EndpointRef)))
			return nil
		},
		decode: func(d *Decoder, rv reflect.Value) error {
			d.claim()
			ref, ok := d.obj.AsEndpoint()
			if !ok {
				return mismatch(d.path, object.KindEndpoint, d.obj)
			}
			rv.Set(reflect.ValueOf(ref))
			return nil
		},
	},
	{
		name:   "bytes",
		match:  isByteSequence,
		encode: encodeByteSequence,
		decode: decodeByteSequence,
	},
}

func lookupSpecial(t reflect.Type) *specialCase {
	for i := range specialCases {
		if specialCases[i].match(t) {
			return &specialCases[i]
		}
	}
	return nil
}

// isByteSequence matches slices and arrays of bytes whose element type does
// not bring its own coding methods.
func isByteSequence(t reflect.Type) bool {
	if t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
		return false
	}
	el := t.Elem()
	if el.Kind() != reflect.Uint8 {
		return false
	}
	return !el.Implements(marshalerType) && !reflect.PointerTo(el).Implements(unmarshalerType)
}

func encodeByteSequence(e *Encoder, rv reflect.Value) error {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		e.put(object.Null())
		return nil
	}
	u := e.UnkeyedBytes()
	if rv.Kind() == reflect.Slice {
		u.appendBytes(rv.Bytes())
		return nil
	}
	for i := 0; i < rv.Len(); i++ {
		u.EncodeByte(byte(rv.Index(i).Uint()))
	}
	return nil
}

func decodeByteSequence(d *Decoder, rv reflect.Value) error {
	t := rv.Type()
	if d.obj.IsNull() && t.Kind() == reflect.Slice {
		d.claim()
		rv.Set(reflect.Zero(t))
		return nil
	}
	u := d.Unkeyed()
	if u.err != nil {
		return u.err
	}
	n := u.Len()
	if t.Kind() == reflect.Array && n != t.Len() {
		return corrupted(d.path, "expected %d bytes, found %d", t.Len(), n)
	}
	if u.packed {
		setBytes(rv, u.remaining())
		return nil
	}
	if t.Kind() == reflect.Slice {
		rv.Set(reflect.MakeSlice(t, n, n))
	}
	for i := 0; i < n; i++ {
		b, err := u.DecodeByte()
		if err != nil {
			return err
		}
		rv.Index(i).SetUint(uint64(b))
	}
	return nil
}

// setBytes stores a copy of b into a byte slice or array.
func setBytes(rv reflect.Value, b []byte) {
	t := rv.Type()
	if t.Kind() == reflect.Slice {
		rv.Set(reflect.MakeSlice(t, len(b), len(b)))
	}
	if t.Elem() == byteType {
		reflect.Copy(rv, reflect.ValueOf(b))
		return
	}
	for i, c := range b {
		rv.Index(i).SetUint(uint64(c))
	}
}

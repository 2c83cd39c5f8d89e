package object

import (
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"

	cbor "github.com/fxamacker/cbor/v2"
)

// Private CBOR tags. UInt64 needs its own tag because CBOR stores every
// non-negative integer the same way and the Int64/UInt64 distinction is part
// of the object model.
const (
	tagUint64     uint64 = 65200
	tagFileHandle uint64 = 65201
	tagEndpoint   uint64 = 65202
)

var (
	// ErrNotTransferable is returned when a tree holding handles is written to
	// a wire that cannot carry them.
	ErrNotTransferable = errors.New("object: handle is not transferable over this wire")
	// ErrMalformedWire is returned for CBOR input that does not describe an object tree.
	ErrMalformedWire = errors.New("object: malformed wire data")
)

var (
	wireEnc cbor.EncMode
	wireDec cbor.DecMode
)

func init() {
	var err error
	wireEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	wireDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Handles collects the OS handles that travel next to an encoded tree.
// A nil *Handles means the wire cannot carry handles at all.
type Handles struct {
	Files []*os.File
}

func (h *Handles) add(f *os.File) (uint64, error) {
	if h == nil || f == nil {
		return 0, ErrNotTransferable
	}
	h.Files = append(h.Files, f)
	return uint64(len(h.Files) - 1), nil
}

func (h *Handles) at(i uint64) (*os.File, error) {
	if h == nil || i >= uint64(len(h.Files)) {
		return nil, fmt.Errorf("%w: handle index %d out of range", ErrMalformedWire, i)
	}
	return h.Files[i], nil
}

// MarshalWire encodes o as deterministic CBOR. Handles found in the tree are
// appended to h and referenced by index.
func MarshalWire(o Object, h *Handles) ([]byte, error) {
	v, err := toWire(o, h)
	if err != nil {
		return nil, err
	}
	return wireEnc.Marshal(v)
}

// UnmarshalWire decodes data produced by MarshalWire. h supplies the handles
// received alongside data.
func UnmarshalWire(data []byte, h *Handles) (Object, error) {
	var v any
	if err := wireDec.Unmarshal(data, &v); err != nil {
		return Object{}, fmt.Errorf("%w: %v", ErrMalformedWire, err)
	}
	return fromWire(v, h)
}

func toWire(o Object, h *Handles) (any, error) {
	switch o.kind {
	case KindNull:
		return nil, nil
	case KindBool, KindInt64, KindDouble, KindString:
		return o.v, nil
	case KindUint64:
		return cbor.Tag{Number: tagUint64, Content: o.v}, nil
	case KindBytes:
		return o.v, nil
	case KindArray:
		elems := o.v.([]Object)
		out := make([]any, len(elems))
		for i, e := range elems {
			w, err := toWire(e, h)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case KindDictionary:
		m := o.v.(map[string]Object)
		out := make(map[string]any, len(m))
		for k, e := range m {
			w, err := toWire(e, h)
			if err != nil {
				return nil, err
			}
			out[k] = w
		}
		return out, nil
	case KindFileHandle:
		idx, err := h.add(o.v.(*os.File))
		if err != nil {
			return nil, err
		}
		return cbor.Tag{Number: tagFileHandle, Content: idx}, nil
	case KindEndpoint:
		ref := o.v.(EndpointRef)
		content := []any{ref.Name}
		if ref.File != nil {
			idx, err := h.add(ref.File)
			if err != nil {
				return nil, err
			}
			content = append(content, idx)
		}
		return cbor.Tag{Number: tagEndpoint, Content: content}, nil
	}
	return nil, fmt.Errorf("object: unknown kind %v", o.kind)
}

func fromWire(v any, h *Handles) (Object, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case uint64:
		// CBOR has no signed/unsigned split for non-negative values; untagged
		// integers are always Int64.
		if x > math.MaxInt64 {
			return Object{}, fmt.Errorf("%w: untagged integer %d overflows int64", ErrMalformedWire, x)
		}
		return Int64(int64(x)), nil
	case int64:
		return Int64(x), nil
	case float64:
		return Double(x), nil
	case float32:
		return Double(float64(x)), nil
	case string:
		return String(x), nil
	case []byte:
		return TakeBytes(x), nil
	case []any:
		elems := make([]Object, len(x))
		for i, e := range x {
			o, err := fromWire(e, h)
			if err != nil {
				return Object{}, err
			}
			elems[i] = o
		}
		return TakeArray(elems), nil
	case map[string]any:
		m := make(map[string]Object, len(x))
		for k, e := range x {
			o, err := fromWire(e, h)
			if err != nil {
				return Object{}, err
			}
			m[k] = o
		}
		return TakeDictionary(m), nil
	case cbor.Tag:
		return fromWireTag(x, h)
	}
	return Object{}, fmt.Errorf("%w: unexpected %T", ErrMalformedWire, v)
}

func fromWireTag(t cbor.Tag, h *Handles) (Object, error) {
	switch t.Number {
	case tagUint64:
		u, ok := t.Content.(uint64)
		if !ok {
			return Object{}, fmt.Errorf("%w: uint64 tag holds %T", ErrMalformedWire, t.Content)
		}
		return Uint64(u), nil
	case tagFileHandle:
		idx, ok := t.Content.(uint64)
		if !ok {
			return Object{}, fmt.Errorf("%w: fd tag holds %T", ErrMalformedWire, t.Content)
		}
		f, err := h.at(idx)
		if err != nil {
			return Object{}, err
		}
		return FileHandle(f), nil
	case tagEndpoint:
		parts, ok := t.Content.([]any)
		if !ok || len(parts) == 0 || len(parts) > 2 {
			return Object{}, fmt.Errorf("%w: endpoint tag holds %T", ErrMalformedWire, t.Content)
		}
		name, ok := parts[0].(string)
		if !ok {
			return Object{}, fmt.Errorf("%w: endpoint name is %T", ErrMalformedWire, parts[0])
		}
		ref := EndpointRef{Name: name}
		if len(parts) == 2 {
			idx, ok := parts[1].(uint64)
			if !ok {
				return Object{}, fmt.Errorf("%w: endpoint handle is %T", ErrMalformedWire, parts[1])
			}
			f, err := h.at(idx)
			if err != nil {
				return Object{}, err
			}
			ref.File = f
		}
		return Endpoint(ref), nil
	}
	return Object{}, fmt.Errorf("%w: unknown tag %d", ErrMalformedWire, t.Number)
}

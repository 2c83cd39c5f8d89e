package codec

import (
	"fmt"
	"math"
	"reflect"

	"mini-xpc/object"
)

// session is shared by every Decoder of one decode pass.
type session struct {
	deferred error
}

func (s *session) record(err error) {
	if s.deferred == nil {
		s.deferred = err
	}
}

// Decoder reads one value at one position of the tree.
type Decoder struct {
	obj  object.Object
	path Path
	s    *session
	used bool
}

func (d *Decoder) child(o object.Object, seg PathSegment) *Decoder {
	return &Decoder{obj: o, path: d.path.with(seg), s: d.s}
}

func (d *Decoder) claim() {
	if d.used {
		panic(fmt.Sprintf("codec: decoder at %v already produced a top-level container", d.path))
	}
	d.used = true
}

// Path returns the coding path of this decoder.
func (d *Decoder) Path() Path { return d.path }

// Object returns the raw object under this decoder.
func (d *Decoder) Object() object.Object { return d.obj }

// Keyed returns the decoder's keyed container. The object must be a Dictionary.
func (d *Decoder) Keyed() (*KeyedDecoder, error) {
	d.claim()
	if d.obj.Kind() != object.KindDictionary {
		return nil, mismatch(d.path, object.KindDictionary, d.obj)
	}
	return &KeyedDecoder{d: d}, nil
}

// Unkeyed returns the decoder's unkeyed container. Construction never fails:
// a wrong shape is recorded in the container, returned by its first read and
// again when the decode session ends.
func (d *Decoder) Unkeyed() *UnkeyedDecoder {
	d.claim()
	u := &UnkeyedDecoder{path: d.path, s: d.s}
	switch d.obj.Kind() {
	case object.KindArray:
		u.elems, _ = d.obj.AsArray()
	case object.KindDictionary:
		contents, ok := d.obj.Get(ContentsKey)
		switch {
		case !ok:
			u.err = &ValueNotFoundError{Path: d.path.with(KeySegment(ContentsKey)), Msg: "sequence dictionary has no contents"}
		case contents.Kind() == object.KindArray:
			u.elems, _ = contents.AsArray()
		case contents.Kind() == object.KindBytes:
			u.buf, _ = contents.AsBytes()
			u.packed = true
		default:
			u.err = &TypeMismatchError{Path: d.path.with(KeySegment(ContentsKey)), Expected: object.KindArray, Actual: contents.Kind()}
		}
	default:
		u.err = mismatch(d.path, object.KindArray, d.obj)
	}
	if u.err != nil {
		d.s.record(u.err)
	}
	return u
}

// SingleValue returns the decoder's single-value container.
func (d *Decoder) SingleValue() *SingleValueDecoder {
	d.claim()
	return &SingleValueDecoder{d: d}
}

// Decode reads the value at this decoder's position into v.
func (d *Decoder) Decode(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errNilTarget
	}
	return decodeValue(d, rv.Elem())
}

func (d *Decoder) readBool() (bool, error) {
	d.claim()
	v, ok := d.obj.AsBool()
	if !ok {
		return false, mismatch(d.path, object.KindBool, d.obj)
	}
	return v, nil
}

func (d *Decoder) readString() (string, error) {
	d.claim()
	v, ok := d.obj.AsString()
	if !ok {
		return "", mismatch(d.path, object.KindString, d.obj)
	}
	return v, nil
}

// readInt is a checked narrowing from either wire integer to a signed
// integer of the given bit size.
func (d *Decoder) readInt(bits int) (int64, error) {
	d.claim()
	var v int64
	switch d.obj.Kind() {
	case object.KindInt64:
		v, _ = d.obj.AsInt64()
	case object.KindUint64:
		u, _ := d.obj.AsUint64()
		if u > math.MaxInt64 {
			return 0, corrupted(d.path, "number %d does not fit in int%d", u, bits)
		}
		v = int64(u)
	default:
		return 0, mismatch(d.path, object.KindInt64, d.obj)
	}
	if bits < 64 {
		lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
		if v < lo || v > hi {
			return 0, corrupted(d.path, "number %d does not fit in int%d", v, bits)
		}
	}
	return v, nil
}

func (d *Decoder) readUint(bits int) (uint64, error) {
	d.claim()
	var v uint64
	switch d.obj.Kind() {
	case object.KindUint64:
		v, _ = d.obj.AsUint64()
	case object.KindInt64:
		i, _ := d.obj.AsInt64()
		if i < 0 {
			return 0, corrupted(d.path, "number %d does not fit in uint%d", i, bits)
		}
		v = uint64(i)
	default:
		return 0, mismatch(d.path, object.KindUint64, d.obj)
	}
	if bits < 64 && v > uint64(1)<<bits-1 {
		return 0, corrupted(d.path, "number %d does not fit in uint%d", v, bits)
	}
	return v, nil
}

func (d *Decoder) readFloat(bits int) (float64, error) {
	d.claim()
	v, ok := d.obj.AsDouble()
	if !ok {
		return 0, mismatch(d.path, object.KindDouble, d.obj)
	}
	if bits == 32 && !math.IsInf(v, 0) && !math.IsNaN(v) && math.Abs(v) > math.MaxFloat32 {
		return 0, corrupted(d.path, "number %g does not fit in float32", v)
	}
	return v, nil
}

// KeyedDecoder reads named fields from a Dictionary.
type KeyedDecoder struct {
	d *Decoder
}

func (k *KeyedDecoder) Path() Path { return k.d.path }

// Keys returns the dictionary's keys in sorted order.
func (k *KeyedDecoder) Keys() []string { return k.d.obj.Keys() }

// Contains reports whether a non-null value is stored under key.
func (k *KeyedDecoder) Contains(key string) bool {
	v, ok := k.d.obj.Get(key)
	return ok && !v.IsNull()
}

// Present reports whether key exists, null or not.
func (k *KeyedDecoder) Present(key string) bool {
	_, ok := k.d.obj.Get(key)
	return ok
}

func (k *KeyedDecoder) require(key string) (*Decoder, error) {
	v, ok := k.d.obj.Get(key)
	if !ok {
		return nil, &ValueNotFoundError{Path: k.d.path.with(KeySegment(key)), Msg: fmt.Sprintf("no value for key %q", key)}
	}
	return k.d.child(v, KeySegment(key)), nil
}

// IsNull reports whether the value under key is null. A missing key fails.
func (k *KeyedDecoder) IsNull(key string) (bool, error) {
	c, err := k.require(key)
	if err != nil {
		return false, err
	}
	return c.obj.IsNull(), nil
}

// Decode reads the value under key into v. The key must be present.
func (k *KeyedDecoder) Decode(key string, v any) error {
	c, err := k.require(key)
	if err != nil {
		return err
	}
	return c.Decode(v)
}

// DecodeIfPresent reads the value under key into v when it is present and
// not null, and reports whether it did.
func (k *KeyedDecoder) DecodeIfPresent(key string, v any) (bool, error) {
	if !k.Contains(key) {
		return false, nil
	}
	return true, k.Decode(key, v)
}

func (k *KeyedDecoder) NestedKeyed(key string) (*KeyedDecoder, error) {
	c, err := k.require(key)
	if err != nil {
		return nil, err
	}
	return c.Keyed()
}

func (k *KeyedDecoder) NestedUnkeyed(key string) (*UnkeyedDecoder, error) {
	c, err := k.require(key)
	if err != nil {
		return nil, err
	}
	return c.Unkeyed(), nil
}

// SuperDecoder returns a decoder for the base-shape part stored under
// SuperKey. A missing entry reads as null.
func (k *KeyedDecoder) SuperDecoder() *Decoder {
	return k.SuperDecoderForKey(SuperKey)
}

func (k *KeyedDecoder) SuperDecoderForKey(key string) *Decoder {
	v, _ := k.d.obj.Get(key)
	return k.d.child(v, KeySegment(key))
}

// UnkeyedDecoder reads a sequence with a cursor. It is backed either by an
// Array (element-wise) or by a packed byte buffer; a packed decoder only
// serves byte-sized reads.
type UnkeyedDecoder struct {
	path   Path
	s      *session
	elems  []object.Object
	buf    []byte
	packed bool
	idx    int
	err    error
}

func (u *UnkeyedDecoder) Path() Path { return u.path }

// Err returns the error recorded when the container was built, if any.
func (u *UnkeyedDecoder) Err() error { return u.err }

// Len returns the number of elements, or -1 when the container is invalid.
func (u *UnkeyedDecoder) Len() int {
	switch {
	case u.err != nil:
		return -1
	case u.packed:
		return len(u.buf)
	}
	return len(u.elems)
}

// Index returns the cursor position.
func (u *UnkeyedDecoder) Index() int { return u.idx }

func (u *UnkeyedDecoder) AtEnd() bool {
	return u.err != nil || u.idx >= u.Len()
}

// IsPacked reports whether the container is backed by a byte buffer.
func (u *UnkeyedDecoder) IsPacked() bool { return u.packed }

func (u *UnkeyedDecoder) next() (*Decoder, error) {
	if u.err != nil {
		return nil, u.err
	}
	if u.packed {
		return nil, corrupted(u.path.with(IndexSegment(u.idx)), "non-byte read from a data buffer")
	}
	if u.idx >= len(u.elems) {
		return nil, corrupted(u.path.with(IndexSegment(u.idx)), "premature end of array")
	}
	d := &Decoder{obj: u.elems[u.idx], path: u.path.with(IndexSegment(u.idx)), s: u.s}
	u.idx++
	return d, nil
}

// Decode reads the next element into v.
func (u *UnkeyedDecoder) Decode(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errNilTarget
	}
	return u.decodeValue(rv.Elem())
}

func (u *UnkeyedDecoder) decodeValue(rv reflect.Value) error {
	if u.packed && u.err == nil && rv.Kind() == reflect.Uint8 {
		b, err := u.DecodeByte()
		if err != nil {
			return err
		}
		rv.SetUint(uint64(b))
		return nil
	}
	d, err := u.next()
	if err != nil {
		return err
	}
	return decodeValue(d, rv)
}

// DecodeByte reads the next element as a byte.
func (u *UnkeyedDecoder) DecodeByte() (byte, error) {
	if u.err != nil {
		return 0, u.err
	}
	if !u.packed {
		d, err := u.next()
		if err != nil {
			return 0, err
		}
		v, err := d.readUint(8)
		return byte(v), err
	}
	if u.idx >= len(u.buf) {
		return 0, corrupted(u.path.with(IndexSegment(u.idx)), "premature end of data buffer")
	}
	b := u.buf[u.idx]
	u.idx++
	return b, nil
}

// remaining hands out the unread tail of a packed buffer and moves the cursor
// to the end.
func (u *UnkeyedDecoder) remaining() []byte {
	b := u.buf[u.idx:]
	u.idx = len(u.buf)
	return b
}

// DecodeNull consumes the next element if it is null and reports whether it was.
func (u *UnkeyedDecoder) DecodeNull() (bool, error) {
	if u.err != nil {
		return false, u.err
	}
	if u.packed {
		return false, nil
	}
	if u.idx >= len(u.elems) {
		return false, corrupted(u.path.with(IndexSegment(u.idx)), "premature end of array")
	}
	if !u.elems[u.idx].IsNull() {
		return false, nil
	}
	u.idx++
	return true, nil
}

func (u *UnkeyedDecoder) NestedKeyed() (*KeyedDecoder, error) {
	d, err := u.next()
	if err != nil {
		return nil, err
	}
	return d.Keyed()
}

func (u *UnkeyedDecoder) NestedUnkeyed() (*UnkeyedDecoder, error) {
	d, err := u.next()
	if err != nil {
		return nil, err
	}
	return d.Unkeyed(), nil
}

// SuperDecoder returns a decoder for the next element.
func (u *UnkeyedDecoder) SuperDecoder() (*Decoder, error) {
	return u.next()
}

// SingleValueDecoder reads the one value under a decoder.
type SingleValueDecoder struct {
	d *Decoder
}

func (s *SingleValueDecoder) Path() Path   { return s.d.path }
func (s *SingleValueDecoder) IsNull() bool { return s.d.obj.IsNull() }

func (s *SingleValueDecoder) fresh() *Decoder {
	return &Decoder{obj: s.d.obj, path: s.d.path, s: s.d.s}
}

// Decode reads the value into v.
func (s *SingleValueDecoder) Decode(v any) error {
	return s.fresh().Decode(v)
}

func (s *SingleValueDecoder) DecodeBool() (bool, error)     { return s.fresh().readBool() }
func (s *SingleValueDecoder) DecodeString() (string, error) { return s.fresh().readString() }

// DecodeInt reads a signed integer that must fit in bits.
func (s *SingleValueDecoder) DecodeInt(bits int) (int64, error) { return s.fresh().readInt(bits) }

// DecodeUint reads an unsigned integer that must fit in bits.
func (s *SingleValueDecoder) DecodeUint(bits int) (uint64, error) { return s.fresh().readUint(bits) }

func (s *SingleValueDecoder) DecodeFloat(bits int) (float64, error) { return s.fresh().readFloat(bits) }

package codec

import (
	"fmt"
	"reflect"

	"mini-xpc/object"
)

// node is a piece of the tree under construction. Containers stay writable
// until the whole session ends, so objects are assembled only at build time.
type node interface {
	build() object.Object
}

type leaf struct{ o object.Object }

func (l leaf) build() object.Object { return l.o }

type keyedNode struct {
	fields map[string]node
}

func (n *keyedNode) build() object.Object {
	m := make(map[string]object.Object, len(n.fields))
	for k, f := range n.fields {
		m[k] = f.build()
	}
	return object.TakeDictionary(m)
}

type unkeyedNode struct {
	packed bool
	buf    []byte
	elems  []node
}

func (n *unkeyedNode) build() object.Object {
	if n.packed {
		return object.TakeDictionary(map[string]object.Object{
			ContentsKey: object.TakeBytes(n.buf),
		})
	}
	elems := make([]object.Object, len(n.elems))
	for i, e := range n.elems {
		elems[i] = e.build()
	}
	return object.TakeArray(elems)
}

// Encoder writes one value at one position of the tree.
type Encoder struct {
	path Path
	root node
	used bool
}

func newEncoder(path Path) *Encoder {
	return &Encoder{path: path}
}

func (e *Encoder) build() object.Object {
	if e.root == nil {
		return object.Null()
	}
	return e.root.build()
}

func (e *Encoder) claim() {
	if e.used {
		panic(fmt.Sprintf("codec: encoder at %v already produced a top-level container", e.path))
	}
	e.used = true
}

func (e *Encoder) put(o object.Object) {
	e.claim()
	e.root = leaf{o}
}

// Path returns the coding path of this encoder.
func (e *Encoder) Path() Path { return e.path }

// Keyed returns the encoder's keyed container.
func (e *Encoder) Keyed() *KeyedEncoder {
	e.claim()
	n := &keyedNode{fields: make(map[string]node)}
	e.root = n
	return &KeyedEncoder{n: n, path: e.path}
}

// Unkeyed returns the encoder's unkeyed container, encoded as an Array.
func (e *Encoder) Unkeyed() *UnkeyedEncoder {
	e.claim()
	n := &unkeyedNode{}
	e.root = n
	return &UnkeyedEncoder{n: n, path: e.path}
}

// UnkeyedBytes returns an unkeyed container whose elements are all bytes.
// It is encoded as a packed buffer under ContentsKey.
func (e *Encoder) UnkeyedBytes() *UnkeyedEncoder {
	e.claim()
	n := &unkeyedNode{packed: true, buf: []byte{}}
	e.root = n
	return &UnkeyedEncoder{n: n, path: e.path}
}

// SingleValue returns the encoder's single-value container.
func (e *Encoder) SingleValue() *SingleValueEncoder {
	e.claim()
	return &SingleValueEncoder{e: e}
}

// Encode writes v at this encoder's position.
func (e *Encoder) Encode(v any) error {
	return encodeValue(e, reflect.ValueOf(v))
}

// KeyedEncoder writes named fields into a Dictionary.
type KeyedEncoder struct {
	n    *keyedNode
	path Path
}

func (k *KeyedEncoder) Path() Path { return k.path }

func (k *KeyedEncoder) child(key string) *Encoder {
	c := newEncoder(k.path.with(KeySegment(key)))
	k.n.fields[key] = c
	return c
}

// Encode writes v under key, replacing any earlier value.
func (k *KeyedEncoder) Encode(key string, v any) error {
	return encodeValue(k.child(key), reflect.ValueOf(v))
}

// EncodeNull writes an explicit Null under key.
func (k *KeyedEncoder) EncodeNull(key string) {
	k.child(key).put(object.Null())
}

func (k *KeyedEncoder) NestedKeyed(key string) *KeyedEncoder {
	return k.child(key).Keyed()
}

func (k *KeyedEncoder) NestedUnkeyed(key string) *UnkeyedEncoder {
	return k.child(key).Unkeyed()
}

// SuperEncoder returns an encoder for the base-shape part of the value,
// stored under SuperKey.
func (k *KeyedEncoder) SuperEncoder() *Encoder {
	return k.child(SuperKey)
}

func (k *KeyedEncoder) SuperEncoderForKey(key string) *Encoder {
	return k.child(key)
}

// UnkeyedEncoder appends elements to a sequence.
type UnkeyedEncoder struct {
	n    *unkeyedNode
	path Path
}

func (u *UnkeyedEncoder) Path() Path { return u.path }

// Count returns the number of elements written so far.
func (u *UnkeyedEncoder) Count() int {
	if u.n.packed {
		return len(u.n.buf)
	}
	return len(u.n.elems)
}

func (u *UnkeyedEncoder) child() *Encoder {
	c := newEncoder(u.path.with(IndexSegment(u.Count())))
	u.n.elems = append(u.n.elems, c)
	return c
}

func (u *UnkeyedEncoder) mustBeArray(op string) {
	if u.n.packed {
		panic(fmt.Sprintf("codec: %s on a byte container at %v", op, u.path))
	}
}

// Encode appends v. A byte container accepts only byte-sized values.
func (u *UnkeyedEncoder) Encode(v any) error {
	rv := reflect.ValueOf(v)
	if u.n.packed {
		if !rv.IsValid() || rv.Kind() != reflect.Uint8 {
			return &InvalidValueError{
				Path: u.path.with(IndexSegment(u.Count())),
				Type: reflect.TypeOf(v),
				Msg:  "byte container accepts only byte elements",
			}
		}
		u.n.buf = append(u.n.buf, byte(rv.Uint()))
		return nil
	}
	return encodeValue(u.child(), rv)
}

// EncodeByte appends b; in an array container it becomes a UInt64 element.
func (u *UnkeyedEncoder) EncodeByte(b byte) {
	if u.n.packed {
		u.n.buf = append(u.n.buf, b)
		return
	}
	u.child().put(object.Uint64(uint64(b)))
}

func (u *UnkeyedEncoder) appendBytes(b []byte) {
	u.n.buf = append(u.n.buf, b...)
}

func (u *UnkeyedEncoder) EncodeNull() {
	u.mustBeArray("EncodeNull")
	u.child().put(object.Null())
}

func (u *UnkeyedEncoder) NestedKeyed() *KeyedEncoder {
	u.mustBeArray("NestedKeyed")
	return u.child().Keyed()
}

func (u *UnkeyedEncoder) NestedUnkeyed() *UnkeyedEncoder {
	u.mustBeArray("NestedUnkeyed")
	return u.child().Unkeyed()
}

// SuperEncoder returns an encoder for the next element.
func (u *UnkeyedEncoder) SuperEncoder() *Encoder {
	u.mustBeArray("SuperEncoder")
	return u.child()
}

// SingleValueEncoder holds exactly one value.
type SingleValueEncoder struct {
	e    *Encoder
	done bool
}

func (s *SingleValueEncoder) Path() Path { return s.e.path }

func (s *SingleValueEncoder) Encode(v any) error {
	if s.done {
		return &InvalidValueError{Path: s.e.path, Type: reflect.TypeOf(v), Msg: "single value container already holds a value"}
	}
	c := newEncoder(s.e.path)
	if err := encodeValue(c, reflect.ValueOf(v)); err != nil {
		return err
	}
	s.e.root = c
	s.done = true
	return nil
}

func (s *SingleValueEncoder) EncodeNull() error {
	return s.Encode(Null{})
}

// Package object defines the transport's native value: an untyped,
// dynamically tagged object tree.
//
// An Object is one of a fixed set of variants:
//
//	Null, Bool, Int64, UInt64, Double, String, Bytes,
//	Array (ordered list of Object), Dictionary (string-keyed map of Object),
//	FileHandle (a transferable OS handle), Endpoint (a transferable listener reference)
//
// Objects are immutable once built. Arrays and dictionaries own their children.
// The variant set is part of the wire contract with the transport and must not grow.
package object

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Kind is the variant tag of an Object.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindUint64
	KindDouble
	KindString
	KindBytes
	KindArray
	KindDictionary
	KindFileHandle
	KindEndpoint
)

var kindNames = [...]string{
	KindNull:       "null",
	KindBool:       "bool",
	KindInt64:      "int64",
	KindUint64:     "uint64",
	KindDouble:     "double",
	KindString:     "string",
	KindBytes:      "data",
	KindArray:      "array",
	KindDictionary: "dictionary",
	KindFileHandle: "fd",
	KindEndpoint:   "endpoint",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// EndpointRef is a transferable reference to a listener. Name identifies the
// listener to the peer; File, when set, is the listening socket itself and is
// moved out of band by transports that can carry handles.
type EndpointRef struct {
	Name string
	File *os.File
}

// Object is a single node of the tree. The zero value is Null.
type Object struct {
	kind Kind
	v    any
}

func Null() Object                    { return Object{} }
func Bool(v bool) Object              { return Object{kind: KindBool, v: v} }
func Int64(v int64) Object            { return Object{kind: KindInt64, v: v} }
func Uint64(v uint64) Object          { return Object{kind: KindUint64, v: v} }
func Double(v float64) Object         { return Object{kind: KindDouble, v: v} }
func String(v string) Object          { return Object{kind: KindString, v: v} }
func FileHandle(f *os.File) Object    { return Object{kind: KindFileHandle, v: f} }
func Endpoint(ref EndpointRef) Object { return Object{kind: KindEndpoint, v: ref} }

// Bytes copies b into a new Bytes object.
func Bytes(b []byte) Object {
	c := make([]byte, len(b))
	copy(c, b)
	return Object{kind: KindBytes, v: c}
}

// Array copies elems into a new Array object.
func Array(elems ...Object) Object {
	c := make([]Object, len(elems))
	copy(c, elems)
	return Object{kind: KindArray, v: c}
}

// Dictionary copies m into a new Dictionary object.
func Dictionary(m map[string]Object) Object {
	c := make(map[string]Object, len(m))
	for k, v := range m {
		c[k] = v
	}
	return Object{kind: KindDictionary, v: c}
}

// TakeBytes, TakeArray and TakeDictionary build objects that take ownership of
// their argument without copying. The caller must not touch it afterwards.
func TakeBytes(b []byte) Object {
	if b == nil {
		b = []byte{}
	}
	return Object{kind: KindBytes, v: b}
}

func TakeArray(elems []Object) Object {
	if elems == nil {
		elems = []Object{}
	}
	return Object{kind: KindArray, v: elems}
}

func TakeDictionary(m map[string]Object) Object {
	if m == nil {
		m = map[string]Object{}
	}
	return Object{kind: KindDictionary, v: m}
}

func (o Object) Kind() Kind   { return o.kind }
func (o Object) IsNull() bool { return o.kind == KindNull }

func (o Object) AsBool() (bool, bool) {
	v, ok := o.v.(bool)
	return v, ok && o.kind == KindBool
}

func (o Object) AsInt64() (int64, bool) {
	v, ok := o.v.(int64)
	return v, ok && o.kind == KindInt64
}

func (o Object) AsUint64() (uint64, bool) {
	v, ok := o.v.(uint64)
	return v, ok && o.kind == KindUint64
}

func (o Object) AsDouble() (float64, bool) {
	v, ok := o.v.(float64)
	return v, ok && o.kind == KindDouble
}

func (o Object) AsString() (string, bool) {
	v, ok := o.v.(string)
	return v, ok && o.kind == KindString
}

// AsBytes returns the buffer of a Bytes object. The slice is shared with the
// object and must not be modified.
func (o Object) AsBytes() ([]byte, bool) {
	if o.kind != KindBytes {
		return nil, false
	}
	return o.v.([]byte), true
}

// AsArray returns the elements of an Array object. The slice is shared with
// the object and must not be modified.
func (o Object) AsArray() ([]Object, bool) {
	if o.kind != KindArray {
		return nil, false
	}
	return o.v.([]Object), true
}

func (o Object) AsFileHandle() (*os.File, bool) {
	if o.kind != KindFileHandle {
		return nil, false
	}
	return o.v.(*os.File), true
}

func (o Object) AsEndpoint() (EndpointRef, bool) {
	if o.kind != KindEndpoint {
		return EndpointRef{}, false
	}
	return o.v.(EndpointRef), true
}

// Len reports the number of children of an Array or Dictionary, the length of
// Bytes or String, and 0 otherwise.
func (o Object) Len() int {
	switch o.kind {
	case KindArray:
		return len(o.v.([]Object))
	case KindDictionary:
		return len(o.v.(map[string]Object))
	case KindBytes:
		return len(o.v.([]byte))
	case KindString:
		return len(o.v.(string))
	}
	return 0
}

// Index returns the i-th element of an Array. It panics if o is not an Array
// or i is out of range.
func (o Object) Index(i int) Object {
	return o.v.([]Object)[i]
}

// Get returns the value stored under key in a Dictionary.
func (o Object) Get(key string) (Object, bool) {
	if o.kind != KindDictionary {
		return Object{}, false
	}
	v, ok := o.v.(map[string]Object)[key]
	return v, ok
}

// Keys returns the keys of a Dictionary in sorted order.
func (o Object) Keys() []string {
	if o.kind != KindDictionary {
		return nil
	}
	m := o.v.(map[string]Object)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether a and b are structurally equal. Handles compare by identity.
func Equal(a, b Object) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBytes:
		x, _ := a.AsBytes()
		y, _ := b.AsBytes()
		return string(x) == string(y)
	case KindArray:
		x, _ := a.AsArray()
		y, _ := b.AsArray()
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case KindDictionary:
		x := a.v.(map[string]Object)
		y := b.v.(map[string]Object)
		if len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	case KindDouble:
		x, _ := a.AsDouble()
		y, _ := b.AsDouble()
		return x == y || (x != x && y != y)
	}
	return a.v == b.v
}

// String renders o for diagnostics.
func (o Object) String() string {
	var sb strings.Builder
	o.format(&sb)
	return sb.String()
}

func (o Object) format(sb *strings.Builder) {
	switch o.kind {
	case KindNull:
		sb.WriteString("null")
	case KindString:
		fmt.Fprintf(sb, "%q", o.v)
	case KindBytes:
		fmt.Fprintf(sb, "<%d bytes>", len(o.v.([]byte)))
	case KindArray:
		sb.WriteByte('[')
		for i, e := range o.v.([]Object) {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.format(sb)
		}
		sb.WriteByte(']')
	case KindDictionary:
		sb.WriteByte('{')
		for i, k := range o.Keys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%q: ", k)
			v, _ := o.Get(k)
			v.format(sb)
		}
		sb.WriteByte('}')
	case KindFileHandle:
		if f := o.v.(*os.File); f != nil {
			fmt.Fprintf(sb, "<fd %s>", f.Name())
		} else {
			sb.WriteString("<fd nil>")
		}
	case KindEndpoint:
		fmt.Fprintf(sb, "<endpoint %q>", o.v.(EndpointRef).Name)
	default:
		fmt.Fprintf(sb, "%v", o.v)
	}
}

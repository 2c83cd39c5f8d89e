package codec

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"mini-xpc/object"
)

var (
	marshalerType   = reflect.TypeOf((*Marshaler)(nil)).Elem()
	unmarshalerType = reflect.TypeOf((*Unmarshaler)(nil)).Elem()
)

// encodeValue writes rv through e. Special cases come first, then pointer
// indirection, then Marshaler, then the kind of the value.
func encodeValue(e *Encoder, rv reflect.Value) error {
	if !rv.IsValid() {
		e.put(object.Null())
		return nil
	}
	t := rv.Type()
	if sc := lookupSpecial(t); sc != nil {
		return sc.encode(e, rv)
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			e.put(object.Null())
			return nil
		}
		if t.Kind() == reflect.Interface && !objectType.Implements(t) {
			return &InvalidValueError{Path: e.path, Type: t, Msg: "interface values decode as object.Object, which does not implement this interface"}
		}
		if t.Kind() == reflect.Pointer && t.Implements(marshalerType) {
			return rv.Interface().(Marshaler).MarshalObject(e)
		}
		return encodeValue(e, rv.Elem())
	}
	if t.Implements(marshalerType) {
		return rv.Interface().(Marshaler).MarshalObject(e)
	}
	if reflect.PointerTo(t).Implements(marshalerType) {
		p := reflect.New(t)
		p.Elem().Set(rv)
		return p.Interface().(Marshaler).MarshalObject(e)
	}

	switch t.Kind() {
	case reflect.Bool:
		e.put(object.Bool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.put(object.Int64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		e.put(object.Uint64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		e.put(object.Double(rv.Float()))
	case reflect.String:
		e.put(object.String(rv.String()))
	case reflect.Struct:
		return encodeStruct(e, rv)
	case reflect.Map:
		return encodeMap(e, rv)
	case reflect.Slice:
		if rv.IsNil() {
			e.put(object.Null())
			return nil
		}
		return encodeSequence(e, rv)
	case reflect.Array:
		return encodeSequence(e, rv)
	default:
		return &InvalidValueError{Path: e.path, Type: t, Msg: "unsupported type"}
	}
	return nil
}

func encodeStruct(e *Encoder, rv reflect.Value) error {
	fields, err := structFields(rv.Type())
	if err != nil {
		return &InvalidValueError{Path: e.path, Type: rv.Type(), Msg: err.Error()}
	}
	k := e.Keyed()
	for _, f := range fields {
		fv := rv.Field(f.index)
		if f.super {
			if err := encodeValue(k.SuperEncoder(), fv); err != nil {
				return err
			}
			continue
		}
		if f.optional && isNil(fv) {
			continue
		}
		if err := encodeValue(k.child(f.name), fv); err != nil {
			return err
		}
	}
	return nil
}

func isNil(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func encodeMap(e *Encoder, rv reflect.Value) error {
	t := rv.Type()
	if t.Key().Kind() != reflect.String {
		return &InvalidValueError{Path: e.path, Type: t, Msg: "map keys must be strings"}
	}
	if rv.IsNil() {
		e.put(object.Null())
		return nil
	}
	k := e.Keyed()
	iter := rv.MapRange()
	for iter.Next() {
		if err := encodeValue(k.child(iter.Key().String()), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func encodeSequence(e *Encoder, rv reflect.Value) error {
	u := e.Unkeyed()
	for i := 0; i < rv.Len(); i++ {
		if err := encodeValue(u.child(), rv.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

// decodeValue fills rv, which must be settable, from d.
func decodeValue(d *Decoder, rv reflect.Value) error {
	t := rv.Type()
	if sc := lookupSpecial(t); sc != nil {
		return sc.decode(d, rv)
	}
	switch t.Kind() {
	case reflect.Pointer:
		if d.obj.IsNull() && !acceptsNull(t.Elem()) {
			d.claim()
			rv.Set(reflect.Zero(t))
			return nil
		}
		p := reflect.New(t.Elem())
		if err := decodeValue(d, p.Elem()); err != nil {
			return err
		}
		rv.Set(p)
		return nil
	case reflect.Interface:
		if d.obj.IsNull() {
			d.claim()
			rv.Set(reflect.Zero(t))
			return nil
		}
		if !objectType.Implements(t) {
			return &InvalidValueError{Path: d.path, Type: t, Msg: "cannot decode into an interface object.Object does not implement"}
		}
		// The dynamic type is gone; the raw tree is the canonical reading.
		d.claim()
		rv.Set(reflect.ValueOf(d.obj))
		return nil
	}
	if reflect.PointerTo(t).Implements(unmarshalerType) {
		return rv.Addr().Interface().(Unmarshaler).UnmarshalObject(d)
	}

	switch t.Kind() {
	case reflect.Bool:
		v, err := d.readBool()
		if err != nil {
			return err
		}
		rv.SetBool(v)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := d.readInt(t.Bits())
		if err != nil {
			return err
		}
		rv.SetInt(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err := d.readUint(t.Bits())
		if err != nil {
			return err
		}
		rv.SetUint(v)
	case reflect.Float32, reflect.Float64:
		v, err := d.readFloat(t.Bits())
		if err != nil {
			return err
		}
		rv.SetFloat(v)
	case reflect.String:
		v, err := d.readString()
		if err != nil {
			return err
		}
		rv.SetString(v)
	case reflect.Struct:
		return decodeStruct(d, rv)
	case reflect.Map:
		return decodeMap(d, rv)
	case reflect.Slice, reflect.Array:
		return decodeSequence(d, rv)
	default:
		return &InvalidValueError{Path: d.path, Type: t, Msg: "unsupported type"}
	}
	return nil
}

func decodeStruct(d *Decoder, rv reflect.Value) error {
	fields, err := structFields(rv.Type())
	if err != nil {
		return &InvalidValueError{Path: d.path, Type: rv.Type(), Msg: err.Error()}
	}
	k, err := d.Keyed()
	if err != nil {
		return err
	}
	for _, f := range fields {
		fv := rv.Field(f.index)
		if f.super {
			if err := decodeValue(k.SuperDecoder(), fv); err != nil {
				return err
			}
			continue
		}
		if f.optional && !k.Present(f.name) {
			fv.Set(reflect.Zero(fv.Type()))
			continue
		}
		c, err := k.require(f.name)
		if err != nil {
			return err
		}
		if err := decodeValue(c, fv); err != nil {
			return err
		}
	}
	return nil
}

func decodeMap(d *Decoder, rv reflect.Value) error {
	t := rv.Type()
	if t.Key().Kind() != reflect.String {
		return &InvalidValueError{Path: d.path, Type: t, Msg: "map keys must be strings"}
	}
	if d.obj.IsNull() {
		d.claim()
		rv.Set(reflect.Zero(t))
		return nil
	}
	k, err := d.Keyed()
	if err != nil {
		return err
	}
	keys := k.Keys()
	m := reflect.MakeMapWithSize(t, len(keys))
	for _, key := range keys {
		c, err := k.require(key)
		if err != nil {
			return err
		}
		ev := reflect.New(t.Elem()).Elem()
		if err := decodeValue(c, ev); err != nil {
			return err
		}
		m.SetMapIndex(reflect.ValueOf(key).Convert(t.Key()), ev)
	}
	rv.Set(m)
	return nil
}

func decodeSequence(d *Decoder, rv reflect.Value) error {
	t := rv.Type()
	if t.Kind() == reflect.Slice && d.obj.IsNull() {
		d.claim()
		rv.Set(reflect.Zero(t))
		return nil
	}
	u := d.Unkeyed()
	if u.err != nil {
		return u.err
	}
	n := u.Len()
	if t.Kind() == reflect.Array {
		if n != t.Len() {
			return corrupted(d.path, "expected %d elements, found %d", t.Len(), n)
		}
	} else {
		rv.Set(reflect.MakeSlice(t, n, n))
	}
	for i := 0; i < n; i++ {
		if err := u.decodeValue(rv.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

type field struct {
	name     string
	index    int
	super    bool
	optional bool
}

var fieldCache sync.Map // reflect.Type → []field or error

type fieldError string

func (e fieldError) Error() string { return string(e) }

// structFields lists the coded fields of a struct type. Fields are named by
// their `xpc` tag or Go name; `xpc:"-"` skips a field. One untagged embedded
// struct becomes the super part of the value.
func structFields(t reflect.Type) ([]field, error) {
	if cached, ok := fieldCache.Load(t); ok {
		if err, isErr := cached.(error); isErr {
			return nil, err
		}
		return cached.([]field), nil
	}
	var (
		fields   []field
		seen     = make(map[string]bool)
		hasSuper bool
		ferr     error
	)
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("xpc")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if sf.Anonymous && name == "" && isStructLike(sf.Type) {
			if !sf.IsExported() {
				continue
			}
			if hasSuper {
				ferr = fieldError("more than one embedded struct")
				break
			}
			hasSuper = true
			fields = append(fields, field{name: SuperKey, index: i, super: true})
			continue
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		if name == SuperKey || seen[name] {
			ferr = fieldError("duplicate or reserved field name " + name)
			break
		}
		seen[name] = true
		fields = append(fields, field{name: name, index: i, optional: nullable(sf.Type)})
	}
	if ferr != nil {
		fieldCache.Store(t, ferr)
		return nil, ferr
	}
	sort.SliceStable(fields, func(a, b int) bool { return fields[a].index < fields[b].index })
	fieldCache.Store(t, fields)
	return fields, nil
}

func isStructLike(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

// acceptsNull reports whether a value of type t can be decoded from Null
// itself, as opposed to Null meaning "no value".
func acceptsNull(t reflect.Type) bool {
	switch {
	case t == nullType, t == objectType:
		return true
	case t.Kind() == reflect.Pointer:
		return acceptsNull(t.Elem())
	}
	return false
}

// nullable reports whether absence or null is a valid reading of t.
func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	}
	return t == objectType
}

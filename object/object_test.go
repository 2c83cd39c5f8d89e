package object

import (
	"errors"
	"math"
	"os"
	"testing"
)

func TestConstructorsCopyInput(t *testing.T) {
	buf := []byte{1, 2, 3}
	o := Bytes(buf)
	buf[0] = 9

	got, ok := o.AsBytes()
	if !ok {
		t.Fatalf("expect bytes, got %v", o.Kind())
	}
	if got[0] != 1 {
		t.Fatalf("Bytes must copy its input, got %v", got)
	}

	m := map[string]Object{"a": Int64(1)}
	d := Dictionary(m)
	m["b"] = Int64(2)
	if d.Len() != 1 {
		t.Fatalf("Dictionary must copy its input, got len %d", d.Len())
	}
}

func TestAccessorsCheckKind(t *testing.T) {
	o := Int64(7)
	if _, ok := o.AsUint64(); ok {
		t.Fatal("AsUint64 must fail on an int64 object")
	}
	if v, ok := o.AsInt64(); !ok || v != 7 {
		t.Fatalf("expect 7, got %v (%v)", v, ok)
	}
	if _, ok := Null().AsBool(); ok {
		t.Fatal("AsBool must fail on null")
	}
	if !(Object{}).IsNull() {
		t.Fatal("zero Object must be null")
	}
}

func TestKeysSorted(t *testing.T) {
	d := Dictionary(map[string]Object{"b": Null(), "a": Null(), "c": Null()})
	keys := d.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("unexpected key order %v", keys)
	}
}

func TestEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b Object
		want bool
	}{
		{"null", Null(), Null(), true},
		{"int vs uint", Int64(1), Uint64(1), false},
		{"nan", Double(math.NaN()), Double(math.NaN()), true},
		{"bytes", Bytes([]byte("x")), Bytes([]byte("x")), true},
		{"array order", Array(Int64(1), Int64(2)), Array(Int64(2), Int64(1)), false},
		{"nested", Dictionary(map[string]Object{"k": Array(String("v"))}), Dictionary(map[string]Object{"k": Array(String("v"))}), true},
		{"missing key", Dictionary(map[string]Object{"k": Null()}), Dictionary(map[string]Object{"j": Null()}), false},
	}
	for _, tc := range cases {
		if got := Equal(tc.a, tc.b); got != tc.want {
			t.Errorf("%s: Equal = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestWireRoundTrip(t *testing.T) {
	tree := Dictionary(map[string]Object{
		"null":   Null(),
		"bool":   Bool(true),
		"int":    Int64(-42),
		"posint": Int64(42),
		"uint":   Uint64(math.MaxUint64),
		"double": Double(1.5),
		"string": String("héllo"),
		"bytes":  Bytes([]byte{0, 1, 2, 255}),
		"empty":  Bytes(nil),
		"array":  Array(Int64(1), String("two"), Array()),
	})

	data, err := MarshalWire(tree, nil)
	if err != nil {
		t.Fatalf("MarshalWire failed: %v", err)
	}
	got, err := UnmarshalWire(data, nil)
	if err != nil {
		t.Fatalf("UnmarshalWire failed: %v", err)
	}
	if !Equal(tree, got) {
		t.Fatalf("round trip mismatch:\n got  %v\n want %v", got, tree)
	}
}

func TestWireKeepsIntegerSignedness(t *testing.T) {
	for _, o := range []Object{Int64(5), Uint64(5)} {
		data, err := MarshalWire(o, nil)
		if err != nil {
			t.Fatal(err)
		}
		got, err := UnmarshalWire(data, nil)
		if err != nil {
			t.Fatal(err)
		}
		if got.Kind() != o.Kind() {
			t.Fatalf("expect %v, got %v", o.Kind(), got.Kind())
		}
	}
}

func TestWireHandles(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "fd")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tree := Array(FileHandle(f), Endpoint(EndpointRef{Name: "svc", File: f}), Endpoint(EndpointRef{Name: "bare"}))

	if _, err := MarshalWire(tree, nil); !errors.Is(err, ErrNotTransferable) {
		t.Fatalf("expect ErrNotTransferable without a handle list, got %v", err)
	}

	var h Handles
	data, err := MarshalWire(tree, &h)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Files) != 2 {
		t.Fatalf("expect 2 out-of-band handles, got %d", len(h.Files))
	}

	got, err := UnmarshalWire(data, &h)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(tree, got) {
		t.Fatalf("round trip mismatch: %v vs %v", got, tree)
	}

	if _, err := UnmarshalWire(data, nil); !errors.Is(err, ErrMalformedWire) {
		t.Fatalf("expect ErrMalformedWire when handles are missing, got %v", err)
	}
}

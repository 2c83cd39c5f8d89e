package codec

import (
	"testing"

	"mini-xpc/object"
)

type benchRecord struct {
	Name    string            `xpc:"name"`
	Size    uint64            `xpc:"size"`
	Mode    int32             `xpc:"mode"`
	Tags    []string          `xpc:"tags"`
	Attrs   map[string]string `xpc:"attrs"`
	Payload []byte            `xpc:"payload"`
}

var benchValue = benchRecord{
	Name:    "report.pdf",
	Size:    1 << 20,
	Mode:    0o644,
	Tags:    []string{"a", "b", "c"},
	Attrs:   map[string]string{"owner": "root", "group": "wheel"},
	Payload: make([]byte, 4096),
}

func BenchmarkEncodeRecord(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := Encode(benchValue); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeRecord(b *testing.B) {
	o, err := Encode(benchValue)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var out benchRecord
		if err := Decode(o, &out); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkWireRoundTrip(b *testing.B) {
	o, err := Encode(benchValue)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := object.MarshalWire(o, nil)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := object.UnmarshalWire(data, nil); err != nil {
			b.Fatal(err)
		}
	}
}

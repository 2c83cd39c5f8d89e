package message

import (
	"testing"

	"mini-xpc/object"
)

func TestRequestReply(t *testing.T) {
	req := NewRequest(7, "arith.add", object.Array(object.Int64(1), object.Int64(2)))
	if !req.ExpectsReply() {
		t.Fatal("request should expect a reply")
	}

	reply := NewReply(req, object.Int64(3))
	if reply.Type != TypeReply || reply.Seq != 7 || reply.Failed {
		t.Fatalf("unexpected reply %v", reply)
	}
	if reply.ExpectsReply() {
		t.Fatal("reply must not expect a reply")
	}

	failure := NewFailure(req, object.Dictionary(nil))
	if !failure.Failed || failure.Seq != req.Seq {
		t.Fatalf("unexpected failure %v", failure)
	}
	if got := failure.String(); got != `reply "arith.add" seq=7 failed` {
		t.Fatalf("String: %s", got)
	}
}

func TestOneWay(t *testing.T) {
	m := NewOneWay("log.line", object.String("hi"))
	if m.ExpectsReply() || m.Seq != 0 {
		t.Fatalf("unexpected one-way %v", m)
	}
}

func TestTypeValid(t *testing.T) {
	for _, typ := range []Type{TypeRequest, TypeOneWay, TypeReply, TypeHeartbeat} {
		if !typ.Valid() {
			t.Errorf("%v should be valid", typ)
		}
	}
	if Type(9).Valid() {
		t.Error("type 9 should be invalid")
	}
	if Type(9).String() != "type(9)" {
		t.Errorf("String: %s", Type(9))
	}
}

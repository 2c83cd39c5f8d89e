package protocol

import (
	"fmt"
	"os"

	"mini-xpc/codec"
	"mini-xpc/message"
	"mini-xpc/object"
)

// envelope is the frame body: the parts of a message the header does not carry.
type envelope struct {
	Name string        `xpc:"name"`
	Body object.Object `xpc:"body"`
}

// Marshal turns m into a header, a CBOR body and the descriptors referenced
// by it. The descriptors must reach the peer together with the frame.
func Marshal(m *message.Message) (*Header, []byte, []*os.File, error) {
	env, err := codec.Encode(envelope{Name: m.Name, Body: m.Body})
	if err != nil {
		return nil, nil, nil, err
	}
	handles := &object.Handles{}
	body, err := object.MarshalWire(env, handles)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(handles.Files) > MaxHandles {
		return nil, nil, nil, fmt.Errorf("protocol: %d descriptors in one message, limit %d", len(handles.Files), MaxHandles)
	}
	h := &Header{
		CodecType: CodecTypeCBOR,
		MsgType:   m.Type,
		Seq:       m.Seq,
		Handles:   uint8(len(handles.Files)),
		BodyLen:   uint32(len(body)),
	}
	if m.Failed {
		h.Flags |= FlagFailed
	}
	return h, body, handles.Files, nil
}

// Unmarshal rebuilds a message from a decoded frame. files are the
// descriptors that arrived with it, in order.
func Unmarshal(h *Header, body []byte, files []*os.File) (*message.Message, error) {
	m := &message.Message{
		Type:   h.MsgType,
		Seq:    h.Seq,
		Failed: h.Flags&FlagFailed != 0,
	}
	if len(body) == 0 {
		return m, nil
	}
	env, err := object.UnmarshalWire(body, &object.Handles{Files: files})
	if err != nil {
		return nil, err
	}
	var e envelope
	if err := codec.Decode(env, &e); err != nil {
		return nil, fmt.Errorf("protocol: bad envelope: %w", err)
	}
	m.Name, m.Body = e.Name, e.Body
	return m, nil
}

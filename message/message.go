// Package message defines the envelope exchanged between two endpoints.
//
// Message is what an endpoint hands to its transport and what the transport
// delivers back. It is framed by the protocol package for byte streams and
// passed as-is by in-memory transports.
package message

import (
	"fmt"

	"mini-xpc/object"
)

// Type tells the receiver what to do with a message.
type Type byte

const (
	TypeRequest   Type = 0 // Two-way: the sender waits for a reply with the same Seq
	TypeOneWay    Type = 1 // Fire-and-forget: no reply, no pending entry
	TypeReply     Type = 2 // Answer to a TypeRequest, matched by Seq
	TypeHeartbeat Type = 3 // Keep-alive probe, never reaches an endpoint
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeOneWay:
		return "one-way"
	case TypeReply:
		return "reply"
	case TypeHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// Valid reports whether t is one of the known message types.
func (t Type) Valid() bool { return t <= TypeHeartbeat }

// Message carries one request, notification or reply.
//
//   - Request: Name and Seq are set, Body is the encoded argument.
//   - OneWay:  Name is set, Seq is zero.
//   - Reply:   Seq echoes the request; Body is the encoded result, or a boxed
//     error when Failed is true.
type Message struct {
	Type   Type
	Seq    uint64        // Correlation token, unique per sender while the request is pending
	Name   string        // Handler name, e.g. "files.open"
	Body   object.Object // Payload as an object tree
	Failed bool          // Body is a BoxedError rather than a result

	// Err is set by a transport that parsed the frame header but could not
	// decode the body. Only Type and Seq are meaningful then.
	Err error
}

// ExpectsReply reports whether the receiver must answer m.
func (m *Message) ExpectsReply() bool { return m.Type == TypeRequest }

func NewRequest(seq uint64, name string, body object.Object) *Message {
	return &Message{Type: TypeRequest, Seq: seq, Name: name, Body: body}
}

func NewOneWay(name string, body object.Object) *Message {
	return &Message{Type: TypeOneWay, Name: name, Body: body}
}

// NewReply answers req with a successful result.
func NewReply(req *Message, body object.Object) *Message {
	return &Message{Type: TypeReply, Seq: req.Seq, Name: req.Name, Body: body}
}

// NewFailure answers req with a boxed error.
func NewFailure(req *Message, boxed object.Object) *Message {
	return &Message{Type: TypeReply, Seq: req.Seq, Name: req.Name, Body: boxed, Failed: true}
}

func (m *Message) String() string {
	if m.Err != nil {
		return fmt.Sprintf("%v seq=%d undecodable: %v", m.Type, m.Seq, m.Err)
	}
	if m.Failed {
		return fmt.Sprintf("%v %q seq=%d failed", m.Type, m.Name, m.Seq)
	}
	return fmt.Sprintf("%v %q seq=%d", m.Type, m.Name, m.Seq)
}

// Package transport moves messages between two endpoints.
//
// An endpoint owns exactly one Transport. Send is a best-effort enqueue: a
// message that was accepted but could not be delivered is reported back
// through Receiver.SendFailed, never to the goroutine that called Send.
// Messages from one sender are delivered in the order they were sent.
//
//	endpoint ──Send──→ outbox ──→ writeLoop ──→ peer
//	endpoint ←─Deliver── readLoop ←── peer
//
// Two implementations are provided: Pipe, an in-process pair, and Stream,
// which frames messages over a net.Conn and passes file descriptors when the
// connection is a unix socket.
package transport

import (
	"errors"

	"mini-xpc/message"
)

// ErrClosed is returned by Send after the transport was closed, and passed to
// Receiver.Disconnected when Close was called locally.
var ErrClosed = errors.New("transport: closed")

// Receiver gets the transport's notifications. Deliver and Disconnected are
// called from a single goroutine, in arrival order. SendFailed may be called
// concurrently with them.
type Receiver interface {
	// Deliver hands over an inbound message (request, one-way or reply).
	Deliver(m *message.Message)
	// SendFailed reports a message accepted by Send that never left.
	SendFailed(m *message.Message, err error)
	// Disconnected is called once, when the transport stops for good.
	Disconnected(err error)
}

// Transport is the endpoint's view of a connection.
type Transport interface {
	// Start begins delivering inbound messages to r. It may be called once.
	Start(r Receiver) error
	// Send enqueues m for transmission.
	Send(m *message.Message) error
	// Close tears the connection down. Pending outbound messages are dropped.
	Close() error
}

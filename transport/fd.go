package transport

import (
	"io"
	"os"
)

// fdConn is a connection that carries file descriptors next to its bytes.
// Descriptors read from the socket queue up in arrival order; a frame takes
// as many as its header announces.
type fdConn interface {
	io.Reader
	writeWithFiles(frame []byte, files []*os.File) error
	takeFiles(n int) ([]*os.File, error)
	// discard closes every queued descriptor nobody claimed.
	discard()
}

//go:build !unix

package transport

import "net"

// Descriptor passing needs SCM_RIGHTS.
func newFDConn(net.Conn) fdConn { return nil }

//go:build unix

package transport

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"mini-xpc/protocol"
)

type unixFDConn struct {
	conn *net.UnixConn
	oob  []byte

	mu    sync.Mutex
	queue []*os.File
}

func newFDConn(conn net.Conn) fdConn {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	return &unixFDConn{
		conn: uc,
		oob:  make([]byte, unix.CmsgSpace(protocol.MaxHandles*4)),
	}
}

// Read reads stream bytes and collects any SCM_RIGHTS descriptors that came
// with them.
func (c *unixFDConn) Read(p []byte) (int, error) {
	n, oobn, flags, _, err := c.conn.ReadMsgUnix(p, c.oob)
	if oobn > 0 {
		if perr := c.collect(c.oob[:oobn]); perr != nil && err == nil {
			err = perr
		}
	}
	if flags&unix.MSG_CTRUNC != 0 && err == nil {
		err = fmt.Errorf("transport: descriptor control message truncated")
	}
	return n, err
}

func (c *unixFDConn) collect(oob []byte) error {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return fmt.Errorf("transport: parsing control message: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		for _, fd := range fds {
			unix.CloseOnExec(fd)
			c.queue = append(c.queue, os.NewFile(uintptr(fd), "xpc-handle"))
		}
	}
	return nil
}

// writeWithFiles sends frame with files attached to its first byte.
func (c *unixFDConn) writeWithFiles(frame []byte, files []*os.File) error {
	fds := make([]int, len(files))
	for i, f := range files {
		fds[i] = int(f.Fd())
	}
	n, _, err := c.conn.WriteMsgUnix(frame, unix.UnixRights(fds...), nil)
	runtime.KeepAlive(files)
	if err != nil {
		return err
	}
	if n < len(frame) {
		_, err = c.conn.Write(frame[n:])
	}
	return err
}

func (c *unixFDConn) takeFiles(n int) ([]*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) < n {
		return nil, fmt.Errorf("transport: frame announced %d descriptors, %d received", n, len(c.queue))
	}
	files := make([]*os.File, n)
	copy(files, c.queue)
	c.queue = c.queue[n:]
	return files, nil
}

func (c *unixFDConn) discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	closeFiles(c.queue)
	c.queue = nil
}

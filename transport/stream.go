package transport

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"mini-xpc/message"
	"mini-xpc/object"
	"mini-xpc/protocol"
)

// Stream frames messages over a single net.Conn.
//
// Send only enqueues; a dedicated writeLoop drains the outbox, so frames never
// interleave and Send never blocks on the network. A single readLoop parses
// frames in order, because a byte stream can only be read sequentially.
type Stream struct {
	conn      net.Conn
	fds       fdConn // Non-nil when descriptors can travel with frames
	reader    io.Reader
	logger    *zap.Logger
	heartbeat time.Duration
	idle      time.Duration

	outbox  chan *message.Message
	sending sync.Mutex // Serializes frame writes from writeLoop and heartbeatLoop

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
	recv      Receiver
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithLogger sets the logger. The default is zap.L().
func WithLogger(l *zap.Logger) StreamOption {
	return func(s *Stream) { s.logger = l }
}

// WithHeartbeat sends a heartbeat frame every d. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) StreamOption {
	return func(s *Stream) { s.heartbeat = d }
}

// WithIdleTimeout drops the connection when nothing, heartbeats included,
// arrives for d. Zero disables the check.
func WithIdleTimeout(d time.Duration) StreamOption {
	return func(s *Stream) { s.idle = d }
}

// WithOutboxSize sets how many messages Send may queue before it blocks.
func WithOutboxSize(n int) StreamOption {
	return func(s *Stream) { s.outbox = make(chan *message.Message, n) }
}

// NewStream wraps conn. Nothing is read or written until Start.
func NewStream(conn net.Conn, opts ...StreamOption) *Stream {
	s := &Stream{
		conn:      conn,
		logger:    zap.L(),
		heartbeat: 30 * time.Second,
		outbox:    make(chan *message.Message, 64),
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fds = newFDConn(conn)
	s.reader = conn
	if s.fds != nil {
		s.reader = s.fds
	}
	s.logger = s.logger.With(zap.String("peer", peerName(conn)))
	return s
}

// CanPassHandles reports whether FileHandle and Endpoint objects can be sent.
func (s *Stream) CanPassHandles() bool { return s.fds != nil }

// Conn returns the underlying connection.
func (s *Stream) Conn() net.Conn { return s.conn }

// Start launches the read, write and heartbeat goroutines.
func (s *Stream) Start(r Receiver) error {
	started := false
	s.startOnce.Do(func() {
		started = true
		s.recv = r
		go s.readLoop()
		go s.writeLoop()
		if s.heartbeat > 0 {
			go s.heartbeatLoop(s.heartbeat)
		}
	})
	if !started {
		return errStarted
	}
	return nil
}

func (s *Stream) Send(m *message.Message) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	select {
	case s.outbox <- m:
		return nil
	case <-s.closed:
		return ErrClosed
	}
}

func (s *Stream) Close() error {
	s.shutdown(ErrClosed)
	return nil
}

// shutdown closes the connection once; the first error wins.
func (s *Stream) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		close(s.closed)
		s.conn.Close()
		if s.fds != nil {
			s.fds.discard()
		}
	})
}

// writeLoop turns queued messages into frames. A message that cannot be
// encoded is reported and skipped; a write error ends the connection.
func (s *Stream) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case m := <-s.outbox:
			frame, files, err := s.encode(m)
			if err != nil {
				s.logger.Debug("dropping unsendable message", zap.Stringer("msg", m), zap.Error(err))
				s.recv.SendFailed(m, err)
				continue
			}
			if err := s.write(frame, files); err != nil {
				s.recv.SendFailed(m, err)
				s.shutdown(err)
				return
			}
		}
	}
}

func (s *Stream) encode(m *message.Message) ([]byte, []*os.File, error) {
	h, body, files, err := protocol.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	if len(files) > 0 && s.fds == nil {
		return nil, nil, object.ErrNotTransferable
	}
	return protocol.AppendFrame(nil, h, body), files, nil
}

func (s *Stream) write(frame []byte, files []*os.File) error {
	s.sending.Lock()
	defer s.sending.Unlock()
	if len(files) > 0 {
		return s.fds.writeWithFiles(frame, files)
	}
	_, err := s.conn.Write(frame)
	return err
}

// readLoop parses frames and hands messages to the receiver in order, then
// reports the disconnect.
func (s *Stream) readLoop() {
	err := s.read()
	s.shutdown(err)
	s.recv.Disconnected(s.closeErr)
}

func (s *Stream) read() error {
	for {
		if s.idle > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.idle))
		}
		h, body, err := protocol.Decode(s.reader)
		if err != nil {
			return err
		}
		if h.MsgType == message.TypeHeartbeat {
			continue
		}

		var files []*os.File
		if h.Handles > 0 {
			if s.fds == nil {
				return fmt.Errorf("transport: peer sent %d descriptors over a connection that cannot carry them", h.Handles)
			}
			if files, err = s.fds.takeFiles(int(h.Handles)); err != nil {
				return err
			}
		}

		m, err := protocol.Unmarshal(h, body, files)
		if err != nil {
			// The frame boundary is intact, so the connection survives. The
			// header still tells the endpoint which call the frame belonged to.
			s.logger.Warn("undecodable frame", zap.Stringer("type", h.MsgType), zap.Uint64("seq", h.Seq), zap.Error(err))
			closeFiles(files)
			m = &message.Message{Type: h.MsgType, Seq: h.Seq, Failed: h.Flags&protocol.FlagFailed != 0, Err: err}
		}
		s.recv.Deliver(m)
	}
}

// heartbeatLoop keeps an otherwise quiet connection alive.
func (s *Stream) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	header := &protocol.Header{MsgType: message.TypeHeartbeat}
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
		}
		s.sending.Lock()
		err := protocol.Encode(s.conn, header, nil)
		s.sending.Unlock()
		if err != nil {
			s.logger.Debug("heartbeat failed", zap.Error(err))
			return
		}
	}
}

func peerName(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

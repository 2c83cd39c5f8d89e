// Package server accepts connections and gives each one its own endpoint.
//
//	Accept conn → transport.Stream → endpoint (handlers + middleware) → Activate
//	  → the endpoint dispatches each inbound message on its own goroutine
//
// Handlers registered on the Server are installed on every endpoint it
// creates, including endpoints of connections accepted earlier. Each
// endpoint can also call back into its peer; OnConnect hands it out.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mini-xpc/codec"
	"mini-xpc/config"
	"mini-xpc/endpoint"
	"mini-xpc/message"
	"mini-xpc/middleware"
	"mini-xpc/object"
	"mini-xpc/observability"
	"mini-xpc/registry"
	"mini-xpc/transport"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server: closed")

var errShutdownTimeout = errors.New("server: timeout waiting for ongoing requests to finish")

// Server is a listener that turns every accepted connection into an endpoint.
type Server struct {
	logger      *zap.Logger
	registry    *registry.Registry
	middlewares []middleware.Middleware
	streamOpts  []transport.StreamOption
	onConnect   func(*endpoint.Endpoint)
	metrics     *observability.Metrics

	mu       sync.Mutex
	handlers map[string]middleware.HandlerFunc
	conns    map[*endpoint.Endpoint]struct{}
	listener net.Listener

	shutdown atomic.Bool
	nextID   atomic.Uint64
	wg       sync.WaitGroup // One per live connection
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRegistry sets the error registry shared by all endpoints.
func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithStreamOptions configures the transport of every connection.
func WithStreamOptions(opts ...transport.StreamOption) Option {
	return func(s *Server) { s.streamOpts = append(s.streamOpts, opts...) }
}

// WithOnConnect is called with each new endpoint before it is activated.
func WithOnConnect(fn func(*endpoint.Endpoint)) Option {
	return func(s *Server) { s.onConnect = fn }
}

// WithMetrics records handler and connection metrics in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server with no handlers.
func NewServer(opts ...Option) *Server {
	s := &Server{
		logger:   zap.L(),
		registry: registry.Default(),
		handlers: make(map[string]middleware.HandlerFunc),
		conns:    make(map[*endpoint.Endpoint]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		s.middlewares = append(s.middlewares, s.metrics.Middleware())
	}
	return s
}

// NewFromConfig creates a server whose transports, middleware and metrics
// follow cfg. Metrics go to prometheus.DefaultRegisterer.
func NewFromConfig(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	ec := cfg.Endpoint
	var base []Option
	if cfg.Metrics.Enable {
		m, err := observability.NewMetrics(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
		if err != nil {
			return nil, err
		}
		base = append(base, WithMetrics(m))
	}
	base = append(base,
		WithLogger(logger),
		WithStreamOptions(
			transport.WithLogger(logger),
			transport.WithHeartbeat(ec.Heartbeat),
			transport.WithIdleTimeout(ec.IdleTimeout),
			transport.WithOutboxSize(ec.OutboxSize),
		),
	)
	s := NewServer(append(base, opts...)...)
	for _, mw := range Middlewares(ec, logger) {
		s.Use(mw)
	}
	middleware.RegisterErrors(s.registry)
	return s, nil
}

// Middlewares builds the handler chain described by ec, outermost first.
func Middlewares(ec config.EndpointConfig, logger *zap.Logger) []middleware.Middleware {
	var mws []middleware.Middleware
	if ec.LogRequests {
		mws = append(mws, middleware.Logging(logger))
	}
	if ec.RateLimit > 0 {
		mws = append(mws, middleware.RateLimit(ec.RateLimit, ec.RateBurst))
	}
	if ec.Retries > 0 {
		mws = append(mws, middleware.Retry(ec.Retries, ec.RetryDelay, logger))
	}
	if ec.HandlerTimeout > 0 {
		mws = append(mws, middleware.Timeout(ec.HandlerTimeout))
	}
	return mws
}

// Use adds a middleware. It applies to connections accepted afterwards.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, mw)
}

// Handle installs h under name on every current and future connection.
func (s *Server) Handle(name string, h middleware.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
	for ep := range s.conns {
		ep.SetHandler(name, h)
	}
}

// HandleFunc is the typed form of Server.Handle.
func HandleFunc[Req, Resp any](s *Server, name string, fn func(ctx context.Context, req Req) (Resp, error)) {
	s.Handle(name, func(ctx context.Context, m *message.Message) (object.Object, error) {
		var req Req
		if err := codec.Decode(m.Body, &req); err != nil {
			return object.Object{}, err
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return object.Object{}, err
		}
		return codec.Encode(resp)
	})
}

// Register exposes the methods of rcvr (e.g. &Arith{}) as "Arith.Method".
func (s *Server) Register(rcvr any) error {
	return s.RegisterName("", rcvr)
}

// RegisterName is Register with an explicit service name.
func (s *Server) RegisterName(name string, rcvr any) error {
	svc, err := newService(rcvr, name)
	if err != nil {
		return err
	}
	for mname, mt := range svc.method {
		s.Handle(svc.name+"."+mname, svc.handler(mt))
	}
	return nil
}

// Serve listens on the given address and accepts connections until Shutdown.
// A stale unix socket file left behind by a previous run is removed first.
func (s *Server) Serve(network, address string) error {
	if network == "unix" {
		removeStaleSocket(address)
	}
	l, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(l)
}

// ServeListener accepts connections from l until Shutdown.
func (s *Server) ServeListener(l net.Listener) error {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()
	s.logger.Info("server listening", zap.Stringer("addr", l.Addr()))

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept failed, retrying", zap.Error(err))
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return err
		}
		s.serveConn(conn)
	}
}

// Addr is the address being listened on, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// serveConn wraps conn in an endpoint with every registered handler.
func (s *Server) serveConn(conn net.Conn) {
	id := s.nextID.Add(1)
	name := fmt.Sprintf("conn-%d", id)
	stream := transport.NewStream(conn, s.streamOpts...)

	s.mu.Lock()
	if s.shutdown.Load() {
		// Accepted before Shutdown closed the listener, but too late for its snapshot.
		s.mu.Unlock()
		conn.Close()
		return
	}
	ep := endpoint.New(stream,
		endpoint.WithName(name),
		endpoint.WithLogger(s.logger),
		endpoint.WithRegistry(s.registry),
		endpoint.WithMiddleware(s.middlewares...),
	)
	for hname, h := range s.handlers {
		ep.SetHandler(hname, h)
	}
	s.conns[ep] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}

	if s.onConnect != nil {
		s.onConnect(ep)
	}
	if err := ep.Activate(); err != nil {
		s.logger.Warn("endpoint activation failed", zap.String("endpoint", name), zap.Error(err))
		ep.Cancel()
	}
	s.logger.Debug("connection accepted", zap.String("endpoint", name), zap.String("remote", remoteName(conn)))

	go func() {
		defer s.wg.Done()
		<-ep.Done()
		ep.Wait()
		s.mu.Lock()
		delete(s.conns, ep)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.ConnectionClosed()
		}
		s.logger.Debug("connection closed", zap.String("endpoint", name))
	}()
}

// Connections returns the number of live connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting, lets running handlers finish for up to timeout,
// then cancels every endpoint. Requests that arrive meanwhile are held and
// their callers see ConnectionInvalidError.
func (s *Server) Shutdown(timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// Set the flag before closing so Serve recognises the Accept error.
	s.mu.Lock()
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	eps := make([]*endpoint.Endpoint, 0, len(s.conns))
	for ep := range s.conns {
		eps = append(eps, ep)
	}
	s.mu.Unlock()

	for _, ep := range eps {
		ep.Suspend()
	}

	drained := make(chan struct{})
	go func() {
		for _, ep := range eps {
			ep.Wait()
		}
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-deadline.C:
		err = errShutdownTimeout
	}
	for _, ep := range eps {
		ep.Cancel()
	}
	if err != nil {
		return err
	}

	closed := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(closed)
	}()
	select {
	case <-closed:
		return nil
	case <-deadline.C:
		return errShutdownTimeout
	}
}

func removeStaleSocket(path string) {
	if fi, err := os.Lstat(path); err == nil && fi.Mode().Type() == fs.ModeSocket {
		os.Remove(path)
	}
}

func remoteName(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}
	return "local"
}

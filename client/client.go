// Package client dials a listener and returns an activated endpoint.
package client

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"mini-xpc/config"
	"mini-xpc/endpoint"
	"mini-xpc/middleware"
	"mini-xpc/registry"
	"mini-xpc/transport"
)

// Client is the dialing side of a connection. It is an Endpoint, so the
// peer can call handlers registered on it as well.
type Client struct {
	*endpoint.Endpoint
	conn net.Conn
}

type options struct {
	logger      *zap.Logger
	registry    *registry.Registry
	middlewares []middleware.Middleware
	streamOpts  []transport.StreamOption
	setup       []func(*endpoint.Endpoint) error
}

// Option configures Dial.
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithRegistry(r *registry.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithMiddleware wraps the handlers the client serves to its peer.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

func WithStreamOptions(opts ...transport.StreamOption) Option {
	return func(o *options) { o.streamOpts = append(o.streamOpts, opts...) }
}

// WithSetup runs fn on the endpoint before it is activated, typically to
// register handlers the peer may call right away.
func WithSetup(fn func(*endpoint.Endpoint) error) Option {
	return func(o *options) { o.setup = append(o.setup, fn) }
}

// Dial connects to address and activates an endpoint over the connection.
func Dial(ctx context.Context, network, address string, opts ...Option) (*Client, error) {
	o := &options{logger: zap.L(), registry: registry.Default()}
	for _, opt := range opts {
		opt(o)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}

	ep := endpoint.New(transport.NewStream(conn, o.streamOpts...),
		endpoint.WithName(address),
		endpoint.WithLogger(o.logger),
		endpoint.WithRegistry(o.registry),
		endpoint.WithMiddleware(o.middlewares...),
	)
	for _, fn := range o.setup {
		if err := fn(ep); err != nil {
			conn.Close()
			return nil, fmt.Errorf("client: setup: %w", err)
		}
	}
	if err := ep.Activate(); err != nil {
		conn.Close()
		return nil, err
	}
	return &Client{Endpoint: ep, conn: conn}, nil
}

// DialConfig dials cfg.Server with the endpoint settings of cfg.
func DialConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	ec := cfg.Endpoint
	base := []Option{
		WithLogger(logger),
		WithStreamOptions(
			transport.WithLogger(logger),
			transport.WithHeartbeat(ec.Heartbeat),
			transport.WithIdleTimeout(ec.IdleTimeout),
			transport.WithOutboxSize(ec.OutboxSize),
		),
	}
	if ec.HandlerTimeout > 0 {
		base = append(base, WithMiddleware(middleware.Timeout(ec.HandlerTimeout)))
	}
	return Dial(ctx, cfg.Server.Network, cfg.Server.Address, append(base, opts...)...)
}

// Call sends args to serviceMethod ("Service.Method") and decodes the reply
// into reply.
func (c *Client) Call(ctx context.Context, serviceMethod string, args, reply any) error {
	return c.SendTwoWay(ctx, serviceMethod, args, reply)
}

// LocalAddr is the local address of the connection.
func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Close cancels the endpoint, which closes the connection.
func (c *Client) Close() error {
	c.Cancel()
	return nil
}

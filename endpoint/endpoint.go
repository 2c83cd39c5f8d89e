// Package endpoint is the message dispatch layer: named handlers, two-way
// calls correlated by sequence number, one-way sends, and cross-process
// errors through a registry.
//
//	caller ──SendTwoWay(seq=1)──┐                         ┌──→ handler "a"
//	caller ──SendTwoWay(seq=2)──┼──→ transport ──→ peer ──┼──→ handler "b"
//	caller ──SendOneWay─────────┘                         └──→ handler "c"
//
//	Deliver(reply seq=2) → pending[2] → second caller wakes up
//
// Lifecycle: Idle → Activated → {Suspended ⇄ Activated} → Cancelled.
// Cancelled is terminal: pending calls fail with ConnectionInvalidError,
// new sends are rejected, and replies of handlers still running are dropped.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"mini-xpc/codec"
	"mini-xpc/message"
	"mini-xpc/middleware"
	"mini-xpc/object"
	"mini-xpc/registry"
	"mini-xpc/transport"
)

// State is the lifecycle position of an endpoint.
type State int32

const (
	Idle State = iota
	Activated
	Suspended
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Activated:
		return "activated"
	case Suspended:
		return "suspended"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	ErrNotActivated = errors.New("endpoint: not activated")
	ErrCancelled    = errors.New("endpoint: cancelled")
	ErrBadState     = errors.New("endpoint: invalid state transition")
)

// Endpoint is one side of a connection.
type Endpoint struct {
	name      string
	transport transport.Transport
	registry  *registry.Registry
	logger    *zap.Logger
	chain     middleware.Middleware
	onError   func(error)

	mu       sync.Mutex
	state    State
	handlers map[string]middleware.HandlerFunc
	queued   []*message.Message // Inbound requests held until active
	starting bool               // Activate is starting the transport
	cause    string             // Why the endpoint was cancelled

	pending pendingTable
	seq     atomic.Uint64

	ctx    context.Context // Parent of every handler context
	cancel context.CancelFunc
	wg     sync.WaitGroup // In-flight handlers
	done   chan struct{}
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithName labels the endpoint in logs.
func WithName(name string) Option {
	return func(e *Endpoint) { e.name = name }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Endpoint) { e.logger = l }
}

// WithRegistry sets the error registry. The default is registry.Default().
func WithRegistry(r *registry.Registry) Option {
	return func(e *Endpoint) { e.registry = r }
}

// WithMiddleware wraps every handler registered afterwards.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Endpoint) { e.chain = middleware.Chain(mws...) }
}

// WithErrorHandler receives errors that have no caller to go to: failed
// one-way sends, failing one-way handlers, undeliverable replies.
func WithErrorHandler(fn func(error)) Option {
	return func(e *Endpoint) { e.onError = fn }
}

// New creates an idle endpoint over t. Nothing is received until Activate.
func New(t transport.Transport, opts ...Option) *Endpoint {
	e := &Endpoint{
		transport: t,
		registry:  registry.Default(),
		logger:    zap.L(),
		chain:     middleware.Chain(),
		handlers:  make(map[string]middleware.HandlerFunc),
		done:      make(chan struct{}),
	}
	e.pending.entries = make(map[uint64]chan result)
	for _, opt := range opts {
		opt(e)
	}
	if e.name != "" {
		e.logger = e.logger.With(zap.String("endpoint", e.name))
	}
	if e.onError == nil {
		e.onError = func(err error) { e.logger.Warn("endpoint error", zap.Error(err)) }
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Registry returns the registry used to box and unbox errors.
func (e *Endpoint) Registry() *registry.Registry { return e.registry }

// Done is closed when the endpoint is cancelled.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

// Activate starts the transport. Only an idle endpoint can be activated.
// Requests delivered while the transport starts are held and dispatched
// once the endpoint is active.
func (e *Endpoint) Activate() error {
	e.mu.Lock()
	if e.state != Idle || e.starting {
		s := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: activate from %v", ErrBadState, s)
	}
	e.starting = true
	e.mu.Unlock()

	err := e.transport.Start(receiver{e})

	e.mu.Lock()
	defer e.mu.Unlock()
	e.starting = false
	if err != nil {
		return err
	}
	if e.state == Cancelled {
		return &registry.ConnectionInvalidError{Reason: e.cause}
	}
	e.state = Activated
	for _, m := range e.queued {
		e.dispatch(m)
	}
	e.queued = nil
	e.logger.Debug("endpoint activated")
	return nil
}

// Suspend stops dispatching inbound requests; they queue until Resume.
// Replies still reach their callers and sends are still allowed.
func (e *Endpoint) Suspend() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Activated {
		return fmt.Errorf("%w: suspend from %v", ErrBadState, e.state)
	}
	e.state = Suspended
	return nil
}

// Resume dispatches the queued requests in arrival order.
func (e *Endpoint) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Suspended {
		return fmt.Errorf("%w: resume from %v", ErrBadState, e.state)
	}
	e.state = Activated
	for _, m := range e.queued {
		e.dispatch(m)
	}
	e.queued = nil
	return nil
}

// Cancel ends the endpoint. Pending calls resolve with ConnectionInvalidError
// and the transport is closed. Cancel is idempotent.
func (e *Endpoint) Cancel() {
	e.cancelWith("cancelled")
}

func (e *Endpoint) cancelWith(cause string) {
	e.mu.Lock()
	if e.state == Cancelled {
		e.mu.Unlock()
		return
	}
	e.state = Cancelled
	e.cause = cause
	e.queued = nil
	e.mu.Unlock()

	n := e.pending.closeAll(&registry.ConnectionInvalidError{Reason: cause})
	e.cancel()
	close(e.done)
	e.transport.Close()
	e.logger.Debug("endpoint cancelled", zap.String("cause", cause), zap.Int("pending", n))
}

// Wait blocks until every running handler has returned.
func (e *Endpoint) Wait() {
	e.wg.Wait()
}

// SetHandler registers h under name, wrapped by the endpoint's middleware.
// A later registration under the same name replaces it.
func (e *Endpoint) SetHandler(name string, h middleware.HandlerFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Cancelled {
		return ErrCancelled
	}
	e.handlers[name] = e.chain(h)
	return nil
}

// RemoveHandler unregisters name. Later messages get HandlerNotFoundError.
func (e *Endpoint) RemoveHandler(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, name)
}

func (e *Endpoint) handler(name string) (middleware.HandlerFunc, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handlers[name]
	return h, ok
}

// Handle registers a typed handler: the request body is decoded into Req,
// fn runs, and its Resp is encoded as the reply. For one-way messages the
// result is discarded.
func Handle[Req, Resp any](e *Endpoint, name string, fn func(ctx context.Context, req Req) (Resp, error)) error {
	return e.SetHandler(name, func(ctx context.Context, m *message.Message) (object.Object, error) {
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

// sendable reports whether new messages may go out.
func (e *Endpoint) sendable() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Idle:
		return ErrNotActivated
	case Cancelled:
		return &registry.ConnectionInvalidError{Reason: e.cause}
	}
	return nil
}

func (e *Endpoint) reportError(err error) {
	e.onError(err)
}

// Package middleware wraps endpoint handlers.
//
// A handler receives the inbound message and returns the encoded result or an
// error; the endpoint boxes the error for the caller. Middleware composes in
// the onion model:
//
//	Chain(A, B, C)(h) == A(B(C(h)))
//	A.before → B.before → C.before → h → C.after → B.after → A.after
package middleware

import (
	"context"

	"mini-xpc/message"
	"mini-xpc/object"
	"mini-xpc/registry"
)

// HandlerFunc processes one inbound message.
type HandlerFunc func(ctx context.Context, req *message.Message) (object.Object, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one. The first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// RegisterErrors adds the errors produced by this package to r, so callers
// get them back as concrete types.
func RegisterErrors(r *registry.Registry) {
	r.Register((*TimeoutError)(nil))
	r.Register((*RateLimitError)(nil))
}

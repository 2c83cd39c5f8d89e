package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"mini-xpc/message"
	"mini-xpc/object"
)

// RateLimitError rejects a message that arrived while the bucket was empty.
type RateLimitError struct {
	Name string `xpc:"name"`
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q", e.Name)
}

// Temporary reports that the same message may succeed later.
func (e *RateLimitError) Temporary() bool { return true }

// RateLimit admits r messages per second with bursts of up to burst, using a
// token bucket shared by every handler it wraps.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (object.Object, error) {
			if !limiter.Allow() {
				return object.Object{}, &RateLimitError{Name: req.Name}
			}
			return next(ctx, req)
		}
	}
}

package middleware

import (
	"context"
	"fmt"
	"time"

	"mini-xpc/message"
	"mini-xpc/object"
)

// TimeoutError is returned to the caller when a handler ran past its limit.
type TimeoutError struct {
	Name  string        `xpc:"name"`
	Limit time.Duration `xpc:"limit"`
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("handler %q timed out after %v", e.Name, e.Limit)
}

func (e *TimeoutError) Timeout() bool { return true }

// Timeout bounds every handler by d. The handler's context is cancelled at
// the deadline; the handler goroutine itself is not preempted.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (object.Object, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			type result struct {
				o   object.Object
				err error
			}
			done := make(chan result, 1)
			go func() {
				o, err := next(ctx, req)
				done <- result{o, err}
			}()

			select {
			case r := <-done:
				return r.o, r.err
			case <-ctx.Done():
				return object.Object{}, &TimeoutError{Name: req.Name, Limit: d}
			}
		}
	}
}

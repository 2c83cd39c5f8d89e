package middleware

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mini-xpc/message"
	"mini-xpc/object"
)

// Retry re-runs a handler whose error reports itself as temporary, up to
// maxRetries times with exponential backoff starting at baseDelay. Any other
// error, codec errors included, is returned at once.
func Retry(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (object.Object, error) {
			result, err := next(ctx, req)
			for i := 0; i < maxRetries && retryable(err); i++ {
				logger.Debug("retrying handler",
					zap.String("name", req.Name), zap.Int("attempt", i+1), zap.Error(err))
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return result, err
				}
				result, err = next(ctx, req)
			}
			return result, err
		}
	}
}

func retryable(err error) bool {
	var t interface{ Temporary() bool }
	return err != nil && errors.As(err, &t) && t.Temporary()
}

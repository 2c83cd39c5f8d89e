package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mini-xpc/message"
	"mini-xpc/object"
)

// Logging logs every handled message with its duration, and the error if
// there is one.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (object.Object, error) {
			start := time.Now()
			result, err := next(ctx, req)
			fields := []zap.Field{
				zap.String("name", req.Name),
				zap.Stringer("type", req.Type),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("handler failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("handled", fields...)
			}
			return result, err
		}
	}
}

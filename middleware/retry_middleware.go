package middleware

import (
	"context"
	"log/slog"
	"time"

	"opaper/message"
)

// RetryMiddleware re-runs a handler that answered 503, waiting baseDelay, 2*baseDelay, 4*baseDelay...
// between attempts. Other replies, success or failure, are returned as is.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			reply := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if reply.Code != message.CodeUnavailable {
					return reply
				}
				slog.DebugContext(ctx, "Retrying request", "attempt", i+1, "method", req.Method, "id", req.ID, "msg", reply.Msg)
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return reply
				}
				reply = next(ctx, req)
			}
			return reply
		}
	}
}

package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"opaper/message"
)

// RecoverMiddleware turns a panicking handler into a 500 reply.
func RecoverMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) (reply *message.Envelope) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "Handler panicked", "method", req.Method, "id", req.ID, "panic", r, "stack", string(debug.Stack()))
					reply = message.Fail(req, message.CodeInternal, fmt.Sprintf("internal error: %v", r))
				}
			}()
			return next(ctx, req)
		}
	}
}

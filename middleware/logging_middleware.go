package middleware

import (
	"context"
	"log/slog"
	"time"

	"opaper/message"
)

// LoggingMiddleware logs one line per inbound request. Failed replies are logged at warn level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			start := time.Now()
			reply := next(ctx, req)
			duration := time.Since(start)
			if !reply.OK() {
				logger.WarnContext(ctx, "Request failed", "method", req.Method, "id", req.ID, "code", reply.Code, "msg", reply.Msg, "duration", duration)
				return reply
			}
			logger.DebugContext(ctx, "Request served", "method", req.Method, "id", req.ID, "code", reply.Code, "duration", duration)
			return reply
		}
	}
}

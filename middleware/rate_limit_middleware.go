package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"opaper/message"
)

// MsgRateLimited is the msg of the reply sent when the token bucket is empty.
const MsgRateLimited = "rate limit exceeded"

// RateLimitMiddleware creates a token bucket limiter shared by every request through it.
// r is the refill rate per second, burst the bucket size.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			if !limiter.Allow() {
				return message.Fail(req, message.CodeTooManyRequests, MsgRateLimited)
			}
			return next(ctx, req)
		}
	}
}

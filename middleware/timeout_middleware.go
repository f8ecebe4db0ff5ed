package middleware

import (
	"context"
	"time"

	"opaper/message"
)

// MsgTimedOut is the msg of the reply sent when a handler outlives its deadline.
const MsgTimedOut = "request timed out"

// TimeOutMiddleware answers 408 when the handler has not replied within timeout. The handler
// keeps running with a cancelled context; its late reply is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Envelope, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				return message.Fail(req, message.CodeTimeout, MsgTimedOut)
			}
		}
	}
}

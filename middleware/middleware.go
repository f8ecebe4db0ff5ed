// Package middleware wraps the inbound request pipeline of a channel.
//
// Every middleware receives a request envelope and returns exactly one reply envelope, so the
// chain as a whole keeps the always-reply guarantee of handler.Registry.Serve:
//
//	Chain(A, B, C)(serve) → A(B(C(serve)))
//	A.before → B.before → C.before → serve → C.after → B.after → A.after
package middleware

import (
	"context"

	"opaper/message"
)

type HandlerFunc func(ctx context.Context, req *message.Envelope) *message.Envelope

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one listed is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

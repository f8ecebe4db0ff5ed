package handler

import (
	"context"
	"encoding/json"

	"opaper/message"
)

// Func adapts a typed function to a HandlerFunc. The payload is decoded into P; a payload
// that does not decode is answered with 400.
func Func[P, R any](fn func(ctx context.Context, params P) (R, error)) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var params P
		if err := message.Bind(payload, &params); err != nil {
			return nil, BadRequest("invalid payload: %v", err)
		}
		return fn(ctx, params)
	}
}

// NoArgs adapts a function of a method that takes no payload. Any payload sent is ignored.
func NoArgs[R any](fn func(ctx context.Context) (R, error)) HandlerFunc {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		return fn(ctx)
	}
}

package middleware

import (
	"context"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"opaper/message"
)

// SchemaSource looks up the payload schema of a method. handler.Registry implements it.
type SchemaSource interface {
	Schema(method string) (*gojsonschema.Schema, bool)
}

// ValidateMiddleware rejects, with 400, a request whose payload does not satisfy the schema of
// its method. Methods without a schema pass through. A missing payload is validated as {}.
func ValidateMiddleware(schemas SchemaSource) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			schema, ok := schemas.Schema(req.Method)
			if !ok {
				return next(ctx, req)
			}
			payload := []byte(req.Payload)
			if len(payload) == 0 || string(payload) == "null" {
				payload = []byte("{}")
			}
			result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
			if err != nil {
				return message.Fail(req, message.CodeBadRequest, "invalid payload: "+err.Error())
			}
			if !result.Valid() {
				msgs := make([]string, 0, len(result.Errors()))
				for _, e := range result.Errors() {
					msgs = append(msgs, e.String())
				}
				return message.Fail(req, message.CodeBadRequest, "invalid payload: "+strings.Join(msgs, "; "))
			}
			return next(ctx, req)
		}
	}
}

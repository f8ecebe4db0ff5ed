package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"opaper/message"
)

const defaultTracerName = "opaper/bridge"

// TracingMiddleware starts a server span per inbound request. A nil tracer resolves to the
// global provider, which is a no-op until the binary installs one.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer(defaultTracerName)
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			ctx, span := tracer.Start(ctx, "bridge.serve "+req.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("bridge.method", req.Method),
					attribute.String("bridge.id", req.ID),
				),
			)
			defer span.End()

			reply := next(ctx, req)
			span.SetAttributes(attribute.Int("bridge.code", reply.Code))
			if !reply.OK() {
				span.SetStatus(codes.Error, reply.Msg)
			}
			return reply
		}
	}
}

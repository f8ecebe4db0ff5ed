package bridge

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"opaper/middleware"
)

// DefaultTimeout bounds every outbound call.
const DefaultTimeout = 10 * time.Second

type Option func(*Channel)

// WithTimeout sets how long a call waits for its response. It applies to every call on the
// channel; non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMiddleware wraps the inbound pipeline. The first middleware is the outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Channel) {
		c.middlewares = append(c.middlewares, mws...)
	}
}

// WithIDGenerator replaces message.NewID. Generated ids must be unique among the calls
// pending on the channel.
func WithIDGenerator(gen func() string) Option {
	return func(c *Channel) {
		if gen != nil {
			c.newID = gen
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Channel) {
		c.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Channel) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

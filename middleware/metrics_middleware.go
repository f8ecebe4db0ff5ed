package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"opaper/message"
)

// MetricsConfig configures the inbound request metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "opaper").
	Namespace string

	// Subsystem is the metrics subsystem (default: "inbound").
	Subsystem string

	// Buckets are the histogram buckets for handler duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type MetricsOption func(*MetricsConfig)

func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "opaper",
		Subsystem: "inbound",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// MetricsMiddleware counts served requests by method and reply code and observes handler
// duration. The collectors are registered once, when the middleware is built; building it twice
// against the same registry panics.
func MetricsMiddleware(opts ...MetricsOption) Middleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	requests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "requests_total",
		Help:      "Inbound requests served, by method and reply code",
	}, []string{"method", "code"})
	duration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "request_duration_seconds",
		Help:      "Time spent servicing an inbound request",
		Buckets:   config.Buckets,
	}, []string{"method"})

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			start := time.Now()
			reply := next(ctx, req)
			duration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
			requests.WithLabelValues(req.Method, strconv.Itoa(reply.Code)).Inc()
			return reply
		}
	}
}

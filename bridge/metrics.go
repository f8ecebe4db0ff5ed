package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call outcomes recorded by Metrics.
const (
	outcomeOK        = "ok"
	outcomeRemote    = "remote_error"
	outcomeTimeout   = "timeout"
	outcomeCanceled  = "canceled"
	outcomeClosed    = "closed"
	outcomeSendError = "send_error"
)

// Reasons an inbound message is dropped without a reply.
const (
	dropNoID        = "no_id"
	dropMalformed   = "malformed"
	dropUnsolicited = "unsolicited"
)

// Metrics are the outbound call collectors. One Metrics value is shared by every channel of a
// process; a nil *Metrics records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pending  prometheus.Gauge
	dropped  *prometheus.CounterVec
}

// NewMetrics registers the bridge collectors with reg (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opaper",
			Subsystem: "bridge",
			Name:      "calls_total",
			Help:      "Outbound calls by method and outcome",
		}, []string{"method", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "opaper",
			Subsystem: "bridge",
			Name:      "call_duration_seconds",
			Help:      "Time from sending a request to its resolution",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "opaper",
			Subsystem: "bridge",
			Name:      "pending_calls",
			Help:      "Calls waiting for a response",
		}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opaper",
			Subsystem: "bridge",
			Name:      "dropped_messages_total",
			Help:      "Inbound messages dropped without a reply",
		}, []string{"reason"}),
	}
}

func (m *Metrics) callStarted() {
	if m == nil {
		return
	}
	m.pending.Inc()
}

func (m *Metrics) callFinished(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pending.Dec()
	m.calls.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) drop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

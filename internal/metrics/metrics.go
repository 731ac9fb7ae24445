// ABOUTME: Prometheus collectors for polling loops, transport requests and sessions
// ABOUTME: Registered on an injected Registerer; every method is nil-safe

package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clonepilot"

// Metrics exposes Prometheus collectors that report relay activity.
type Metrics struct {
	pollLoops        *prometheus.CounterVec
	pollAttempts     prometheus.Histogram
	pollDuration     prometheus.Histogram
	pollsActive      prometheus.Gauge
	transportReqs    *prometheus.CounterVec
	transportLatency *prometheus.HistogramVec
	sessionsCreated  prometheus.Counter
}

// MustNew constructs a Metrics instance using the provided registerer.
// Tests should pass a fresh prometheus.NewRegistry(). When an identical
// collector is already registered it is reused; other errors panic.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		pollLoops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_loops_total",
				Help:      "Polling loops completed, by stop reason.",
			},
			[]string{"reason"},
		),
		pollAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_attempts",
				Help:      "Fetches performed per polling loop.",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 20, 40},
			},
		),
		pollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_duration_seconds",
				Help:      "Wall-clock time spent collecting a reply.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		pollsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "polls_active",
				Help:      "Polling loops currently running.",
			},
		),
		transportReqs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_requests_total",
				Help:      "Direct Line requests, by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		transportLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transport_request_duration_seconds",
				Help:      "Direct Line request latency, by operation.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		sessionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Remote conversations created.",
			},
		),
	}

	m.pollLoops = register(reg, m.pollLoops)
	m.pollAttempts = register(reg, m.pollAttempts)
	m.pollDuration = register(reg, m.pollDuration)
	m.pollsActive = register(reg, m.pollsActive)
	m.transportReqs = register(reg, m.transportReqs)
	m.transportLatency = register(reg, m.transportLatency)
	m.sessionsCreated = register(reg, m.sessionsCreated)

	return m
}

// register adds c to reg, reusing the existing collector when an identical
// one is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// PollStarted marks a polling loop as running.
func (m *Metrics) PollStarted() {
	if m == nil {
		return
	}
	m.pollsActive.Inc()
}

// PollFinished records a completed polling loop.
func (m *Metrics) PollFinished(reason string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pollsActive.Dec()
	m.pollLoops.WithLabelValues(reason).Inc()
	m.pollAttempts.Observe(float64(attempts))
	m.pollDuration.Observe(elapsed.Seconds())
}

// ObserveRequest records one Direct Line HTTP exchange.
func (m *Metrics) ObserveRequest(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transportReqs.WithLabelValues(op, outcome).Inc()
	m.transportLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SessionCreated counts a newly created remote conversation.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

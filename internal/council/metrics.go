package council

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the Prometheus collectors the Orchestrator updates as a
// deliberation moves through its stages.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stageOutcome    *prometheus.CounterVec
	confidence      prometheus.Histogram
	inFlight        prometheus.Gauge
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// MustNewMetrics registers the council collectors against reg and panics
// if registration fails for any reason other than a double-registration
// of the exact same collector (which is treated as idempotent, since
// tests may construct more than one Orchestrator against the default
// registry).
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "council",
			Name:      "requests_total",
			Help:      "Deliberation requests by terminal outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "council",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		stageOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "council",
			Name:      "stage_call_total",
			Help:      "Per-model stage call outcomes.",
		}, []string{"stage", "error_kind"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "council",
			Name:      "confidence_score",
			Help:      "Distribution of computed confidence scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "council",
			Name:      "requests_in_flight",
			Help:      "Number of deliberations currently in progress.",
		}),
	}

	for _, c := range []prometheus.Collector{m.requestsTotal, m.stageDuration, m.stageOutcome, m.confidence, m.inFlight} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			panic(err)
		}
	}
	return m
}

// DefaultMetrics returns a package-level Metrics registered against the
// default Prometheus registry, created on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func (m *Metrics) observeStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) recordCall(stage string, kind ErrorKind) {
	if m == nil {
		return
	}
	label := string(kind)
	if label == "" {
		label = "ok"
	}
	m.stageOutcome.WithLabelValues(stage, label).Inc()
}

func (m *Metrics) recordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordConfidence(v float64) {
	if m == nil {
		return
	}
	m.confidence.Observe(v)
}

func (m *Metrics) incInFlight() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) decInFlight() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

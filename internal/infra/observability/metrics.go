package observability

import (
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the portal.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	stepTransitions *prometheus.CounterVec
	aiCalls         *prometheus.CounterVec
	payments        *prometheus.CounterVec
	declarations    prometheus.Counter
	sessionsStarted prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_request_duration_seconds",
				Help:    "Duration of wizard operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		stepTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_step_transitions_total",
				Help: "Wizard step transitions.",
			},
			[]string{"from", "to"},
		),
		aiCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_ai_calls_total",
				Help: "Assistant calls by operation and outcome (ok, fallback).",
			},
			[]string{"operation", "outcome"},
		),
		payments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_payments_total",
				Help: "Payments by method and status.",
			},
			[]string{"method", "status"},
		),
		declarations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_declarations_total",
				Help: "Declarations submitted.",
			},
		),
		sessionsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_sessions_started_total",
				Help: "Wizard sessions created.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordStep counts a wizard step transition.
func (m *Metrics) RecordStep(from, to domain.Step) {
	m.stepTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordAI counts an assistant call. fallback is true when the local
// implementation answered instead.
func (m *Metrics) RecordAI(operation string, fallback bool) {
	outcome := "ok"
	if fallback {
		outcome = "fallback"
	}
	m.aiCalls.WithLabelValues(operation, outcome).Inc()
}

// RecordPayment counts a payment attempt by method and status (success, failure).
func (m *Metrics) RecordPayment(method domain.PaymentMethod, status string) {
	m.payments.WithLabelValues(string(method), status).Inc()
}

// IncrDeclaration counts a submitted declaration.
func (m *Metrics) IncrDeclaration() {
	m.declarations.Inc()
}

// SessionStarted counts a new session.
func (m *Metrics) SessionStarted() {
	m.sessionsStarted.Inc()
}

// ObserveActiveSessions exports the number of sessions held in memory as
// reported by count. Call it once per Metrics.
func (m *Metrics) ObserveActiveSessions(count func() int) {
	promauto.With(m.Registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "portal_active_sessions",
			Help: "Wizard sessions currently held in memory.",
		},
		func() float64 { return float64(count()) },
	)
}

// GetWizardSnapshot returns a summary of wizard metrics suitable for the
// GET /v1/metrics/wizard endpoint.
func (m *Metrics) GetWizardSnapshot() *domain.WizardMetrics {
	aiOK := sumCounterVec(m.aiCalls, func(labels map[string]string) bool {
		return labels["outcome"] == "ok"
	})
	aiFallback := sumCounterVec(m.aiCalls, func(labels map[string]string) bool {
		return labels["outcome"] == "fallback"
	})
	paymentsOK := sumCounterVec(m.payments, func(labels map[string]string) bool {
		return labels["status"] == "success"
	})
	paymentsFailed := sumCounterVec(m.payments, func(labels map[string]string) bool {
		return labels["status"] == "failure"
	})
	externalErrors := sumCounterVec(m.externalErrors, nil)
	hits := getCounterValue(m.cacheHits, "tax_types")
	misses := getCounterValue(m.cacheMisses, "tax_types")

	fallbackRate := float64(0)
	if aiOK+aiFallback > 0 {
		fallbackRate = aiFallback / (aiOK + aiFallback)
	}
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.WizardMetrics{
		SessionsStarted:   int64(counterValue(m.sessionsStarted)),
		Declarations:      int64(counterValue(m.declarations)),
		Payments:          int64(paymentsOK),
		PaymentFailures:   int64(paymentsFailed),
		AIFallbacks:       int64(aiFallback),
		AIFallbackRate:    fallbackRate,
		ExternalErrors:    int64(externalErrors),
		TaxTypeCacheRatio: hitRate,
		Period:            "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return counterValue(cv.WithLabelValues(label))
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec adds up every series of cv whose labels satisfy match.
// A nil match sums all series.
func sumCounterVec(cv *prometheus.CounterVec, match func(map[string]string) bool) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		pb := &dto.Metric{}
		if err := metric.Write(pb); err != nil || pb.Counter == nil {
			continue
		}
		labels := make(map[string]string, len(pb.Label))
		for _, lp := range pb.Label {
			labels[lp.GetName()] = lp.GetValue()
		}
		if match == nil || match(labels) {
			total += pb.Counter.GetValue()
		}
	}
	return total
}

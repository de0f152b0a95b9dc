package metrics

import "github.com/prometheus/client_golang/prometheus"

// WizardMetrics exposes counters/histograms for wizard lookups and
// submissions. It implements wizard.Metrics.
type WizardMetrics struct {
	lookupsTotal      *prometheus.CounterVec
	lookupLatency     *prometheus.HistogramVec
	dedupTotal        *prometheus.CounterVec
	staleTotal        *prometheus.CounterVec
	submissionsTotal  *prometheus.CounterVec
	submissionLatency prometheus.Histogram
}

func NewWizardMetrics(reg prometheus.Registerer) *WizardMetrics {
	m := &WizardMetrics{
		lookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "wizard",
			Name:      "lookups_total",
			Help:      "Candidate lookups by stage and result",
		}, []string{"stage", "result"}),
		lookupLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "wizard",
			Name:      "lookup_latency_seconds",
			Help:      "Latency of candidate lookups that reached the lookup service",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		dedupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "wizard",
			Name:      "lookup_dedup_total",
			Help:      "Loads that joined an identical in-flight lookup",
		}, []string{"stage"}),
		staleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "wizard",
			Name:      "lookup_stale_total",
			Help:      "Lookup results discarded because upstream selections changed",
		}, []string{"stage"}),
		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "wizard",
			Name:      "submissions_total",
			Help:      "Submissions by result",
		}, []string{"result"}),
		submissionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "wizard",
			Name:      "submission_latency_seconds",
			Help:      "Latency of calls to the submission service",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.lookupsTotal, m.lookupLatency, m.dedupTotal, m.staleTotal, m.submissionsTotal, m.submissionLatency)
	return m
}

func (m *WizardMetrics) ObserveLookup(stage, result string, seconds float64) {
	if m == nil {
		return
	}
	m.lookupsTotal.WithLabelValues(stage, result).Inc()
	if result != "cache_hit" {
		m.lookupLatency.WithLabelValues(stage).Observe(seconds)
	}
}

func (m *WizardMetrics) ObserveDedup(stage string) {
	if m == nil {
		return
	}
	m.dedupTotal.WithLabelValues(stage).Inc()
}

func (m *WizardMetrics) ObserveStale(stage string) {
	if m == nil {
		return
	}
	m.staleTotal.WithLabelValues(stage).Inc()
}

// ObserveSubmission counts a submission. Submissions rejected before the
// service was called carry no latency.
func (m *WizardMetrics) ObserveSubmission(result string, seconds float64) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(result).Inc()
	if result != "incomplete" {
		m.submissionLatency.Observe(seconds)
	}
}

// RegisterSessionGauge exposes the number of live sessions as reported by
// count.
func RegisterSessionGauge(reg prometheus.Registerer, count func() int) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "booking",
		Subsystem: "wizard",
		Name:      "live_sessions",
		Help:      "Wizard sessions held in memory",
	}, func() float64 { return float64(count()) }))
}

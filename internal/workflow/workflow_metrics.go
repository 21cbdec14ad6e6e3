package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/sentinel/internal/action"
	"github.com/linnemanlabs/sentinel/internal/approval"
)

// Metrics holds Prometheus metrics for the case workflow.
type Metrics struct {
	CasesTotal    *prometheus.CounterVec
	CaseDuration  *prometheus.HistogramVec
	PhasesTotal   *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
	SourcesTotal  *prometheus.CounterVec
	SourceLatency *prometheus.HistogramVec

	ApprovalsTotal *prometheus.CounterVec
	ActionsTotal   *prometheus.CounterVec
}

// NewMetrics registers and returns workflow metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_cases_total",
			Help: "Total cases by terminal status.",
		}, []string{"status"}),
		CaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_case_duration_seconds",
			Help:    "Wall time from ingest to terminal state in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~8192s, approvals wait for humans
		}, []string{"status"}),
		PhasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_phases_total",
			Help: "Total phase invocations by phase and outcome.",
		}, []string{"phase", "status"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_phase_duration_seconds",
			Help:    "Duration of individual phase invocations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"phase"}),
		SourcesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_enrichment_sources_total",
			Help: "Total enrichment source lookups by source and outcome.",
		}, []string{"source", "status"}),
		SourceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_enrichment_source_latency_seconds",
			Help:    "Latency of enrichment source lookups in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"source"}),
		ApprovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_approvals_total",
			Help: "Total approval decisions by outcome.",
		}, []string{"decision"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_actions_total",
			Help: "Total executed actions by result status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.CasesTotal,
		m.CaseDuration,
		m.PhasesTotal,
		m.PhaseDuration,
		m.SourcesTotal,
		m.SourceLatency,
		m.ApprovalsTotal,
		m.ActionsTotal,
	)

	return m
}

// Hooks returns engine hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		ObservePhase: func(phase Phase, status AuditStatus, dur time.Duration) {
			m.PhasesTotal.WithLabelValues(string(phase), string(status)).Inc()
			m.PhaseDuration.WithLabelValues(string(phase)).Observe(dur.Seconds())
		},
		ObserveCase: func(status Status, dur time.Duration) {
			m.CasesTotal.WithLabelValues(string(status)).Inc()
			m.CaseDuration.WithLabelValues(string(status)).Observe(dur.Seconds())
		},
		ObserveApproval: func(decision approval.Status) {
			m.ApprovalsTotal.WithLabelValues(string(decision)).Inc()
		},
		ObserveAction: func(status action.ResultStatus) {
			m.ActionsTotal.WithLabelValues(string(status)).Inc()
		},
	}
}

// SourceHooks returns enrichment hooks that increment source metrics.
func (m *Metrics) SourceHooks() func(source string, ok bool, dur time.Duration) {
	return func(source string, ok bool, dur time.Duration) {
		status := "success"
		if !ok {
			status = "error"
		}
		m.SourcesTotal.WithLabelValues(source, status).Inc()
		m.SourceLatency.WithLabelValues(source).Observe(dur.Seconds())
	}
}

package audit

import (
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus view of audit results
type Metrics struct {
	Findings     *prometheus.GaugeVec   // Findings of the last run by severity and category
	Failures     *prometheus.CounterVec // Rules and detectors that failed, by source and name
	RiskScore    *prometheus.GaugeVec   // Risk score of the last run, by scored unit
	WastePercent prometheus.Gauge       // Unrequested allocatable capacity
	MonthlyCost  prometheus.Gauge       // Projected monthly cost in USD
	Signals      prometheus.Gauge       // Deduplicated signals of the last run
	RunDuration  prometheus.Histogram   // Audit run duration
	RunsTotal    prometheus.Counter     // Completed audit runs
	LastRunTime  prometheus.Gauge       // Unix time of the last completed run
}

// NewMetrics creates the audit metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Findings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kubeaudit_findings",
			Help: "Findings of the last audit run by severity and category",
		}, []string{"severity", "category"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubeaudit_check_failures_total",
			Help: "Rules and detectors that failed during an audit run",
		}, []string{"source", "name"}),
		RiskScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kubeaudit_risk_score",
			Help: "Risk score (0-100) of the last audit run",
		}, []string{"unit"}),
		WastePercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubeaudit_waste_percent",
			Help: "Share of allocatable capacity not requested by any deployment",
		}),
		MonthlyCost: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubeaudit_monthly_cost_usd",
			Help: "Projected monthly cost of all deployments in USD",
		}),
		Signals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubeaudit_signals",
			Help: "Deduplicated signals of the last audit run",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kubeaudit_run_duration_seconds",
			Help:    "Duration of audit runs",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kubeaudit_runs_total",
			Help: "Completed audit runs",
		}),
		LastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubeaudit_last_run_timestamp_seconds",
			Help: "Unix time of the last completed audit run",
		}),
	}

	reg.MustRegister(
		m.Findings,
		m.Failures,
		m.RiskScore,
		m.WastePercent,
		m.MonthlyCost,
		m.Signals,
		m.RunDuration,
		m.RunsTotal,
		m.LastRunTime,
	)
	return m
}

// Observe records a completed run. Gauges describe the last run only.
func (m *Metrics) Observe(r *Report) {
	m.Findings.Reset()
	for _, sev := range models.Severities() {
		for _, cat := range models.Categories() {
			m.Findings.WithLabelValues(string(sev), string(cat)).Set(0)
		}
	}
	for _, f := range r.Findings {
		m.Findings.WithLabelValues(string(f.Severity), string(f.Category)).Inc()
	}

	for _, f := range r.Failures {
		m.Failures.WithLabelValues(f.Source, f.Name).Inc()
	}

	m.RiskScore.WithLabelValues("findings").Set(float64(r.Risk.Score))
	m.RiskScore.WithLabelValues("signals").Set(float64(r.SignalRisk.Score))
	m.WastePercent.Set(r.Cost.WastePct)
	m.MonthlyCost.Set(r.Cost.MonthlyTotalUSD)
	m.Signals.Set(float64(len(r.Signals)))
	m.RunDuration.Observe(r.Duration.Seconds())
	m.RunsTotal.Inc()
	m.LastRunTime.Set(float64(r.GeneratedAt.Unix()))
}

package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/moolen/kubeaudit/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	report := &Report{
		GeneratedAt: fixedNow,
		Duration:    250 * time.Millisecond,
		Findings: []models.Finding{
			{ID: "a", Severity: models.SeverityCritical, Category: models.CategorySecurity},
			{ID: "b", Severity: models.SeverityCritical, Category: models.CategorySecurity},
			{ID: "c", Severity: models.SeverityHigh, Category: models.CategoryReliability},
		},
		Failures:   []Failure{{Source: "rule", Name: "broken", Error: "boom"}},
		Signals:    []models.Signal{{}, {}},
		Cost:       models.CostEstimate{MonthlyTotalUSD: 120.5, WastePct: 42.5},
		Risk:       models.RiskScore{Score: 65, Grade: "C"},
		SignalRisk: models.RiskScore{Score: 38, Grade: "B"},
	}
	m.Observe(report)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Findings.WithLabelValues("critical", "security")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Findings.WithLabelValues("high", "reliability")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Findings.WithLabelValues("low", "cost")))
	assert.Equal(t, 16, testutil.CollectAndCount(m.Findings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues("rule", "broken")))
	assert.Equal(t, 65.0, testutil.ToFloat64(m.RiskScore.WithLabelValues("findings")))
	assert.Equal(t, 38.0, testutil.ToFloat64(m.RiskScore.WithLabelValues("signals")))
	assert.Equal(t, 42.5, testutil.ToFloat64(m.WastePercent))
	assert.Equal(t, 120.5, testutil.ToFloat64(m.MonthlyCost))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Signals))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal))
	assert.Equal(t, float64(fixedNow.Unix()), testutil.ToFloat64(m.LastRunTime))

	// gauges describe only the latest run
	m.Observe(&Report{GeneratedAt: fixedNow})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Findings.WithLabelValues("critical", "security")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues("rule", "broken")))

	expected := `
# HELP kubeaudit_runs_total Completed audit runs
# TYPE kubeaudit_runs_total counter
kubeaudit_runs_total 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "kubeaudit_runs_total"))
}

func TestNewMetricsRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

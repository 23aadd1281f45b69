package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/moolen/kubeaudit/internal/audit"
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderReportEmpty(t *testing.T) {
	r := &audit.Report{
		RunID:       "run-1",
		ClusterName: "dev",
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Risk:        models.RiskScore{Score: 0, Grade: "A"},
		Cost:        models.CostEstimate{NamespaceTotals: map[string]float64{}},
	}

	var out bytes.Buffer
	require.NoError(t, renderReport(&out, r))

	text := out.String()
	assert.Contains(t, text, "kubeaudit report: dev")
	assert.Contains(t, text, "0/100")
	assert.Contains(t, text, "No findings.")
	assert.Contains(t, text, "Total: $0.00/month")
	assert.NotContains(t, text, "Failed checks")
}

func TestRenderReportFindings(t *testing.T) {
	f := models.NewFinding("oomkilled:shop/api-1/app", models.CategoryReliability, models.SeverityCritical,
		"Pod shop/api-1 container 'app' was OOMKilled.",
		[]models.Evidence{{Kind: "Pod", Namespace: "shop", Name: "api-1", Pointer: "kubectl describe pod api-1 -n shop"}},
		models.RemediationDetail{
			Description: "Raise the memory limit.",
			Commands:    []string{"kubectl set resources deployment/api -n shop -c app --limits=memory=512Mi"},
		})
	r := &audit.Report{
		ClusterName: "prod",
		Findings:    []models.Finding{f},
		Failures:    []audit.Failure{{Source: "rule", Name: "broken", Error: "boom"}},
		Cost: models.CostEstimate{
			Deployments:     []models.DeploymentCost{{Namespace: "shop", Name: "api", Replicas: 2, MonthlyCostUSD: 12.5}},
			NamespaceTotals: map[string]float64{"shop": 12.5},
			MonthlyTotalUSD: 12.5,
			WastePct:        40,
		},
	}

	var out bytes.Buffer
	require.NoError(t, renderReport(&out, r))

	text := out.String()
	assert.Contains(t, text, "CRITICAL")
	assert.Contains(t, text, "oomkilled:shop/api-1/app")
	assert.Contains(t, text, "evidence: kubectl describe pod api-1 -n shop")
	assert.Contains(t, text, "--limits=memory=512Mi")
	assert.Contains(t, text, "shop/api")
	assert.Contains(t, text, "Waste: 40.0%")
	assert.Contains(t, text, "rule broken: boom")
}

func TestRenderDiff(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, renderDiff(&out, audit.DiffResult{}))
	assert.Contains(t, out.String(), "No changes.")

	out.Reset()
	require.NoError(t, renderDiff(&out, audit.DiffResult{
		New:      []models.Finding{{ID: "image_latest:shop/web/app", Severity: models.SeverityMedium, Summary: "latest tag"}},
		Resolved: []models.Finding{{ID: "single_replica:shop/web", Severity: models.SeverityHigh}},
	}))
	text := out.String()
	assert.Contains(t, text, "New (1)")
	assert.Contains(t, text, "image_latest:shop/web/app")
	assert.Contains(t, text, "Resolved (1)")
	assert.Contains(t, text, "single_replica:shop/web")
}

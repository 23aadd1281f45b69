package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/moolen/kubeaudit/internal/graph"
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/ptr"
)

// stubRule returns canned findings, an error or a panic
type stubRule struct {
	id       string
	findings []models.Finding
	err      error
	panics   bool
}

func (s stubRule) ID() string { return s.id }

func (s stubRule) Evaluate(*snapshot.Snapshot, *graph.Graph) ([]models.Finding, error) {
	if s.panics {
		var m map[string]int
		m["boom"]++
	}
	return s.findings, s.err
}

func finding(id string, sev models.Severity) models.Finding {
	return models.NewFinding(id, models.CategoryReliability, sev, id, nil, models.RemediationDetail{})
}

func TestEngineIsolatesFailingRules(t *testing.T) {
	errBroken := errors.New("broken")
	engine := NewEngine(
		stubRule{id: "first", findings: []models.Finding{finding("first:a/b", models.SeverityLow)}},
		stubRule{id: "panics", panics: true},
		stubRule{id: "errors", err: errBroken, findings: []models.Finding{finding("errors:a/b", models.SeverityCritical)}},
		stubRule{id: "last", findings: []models.Finding{finding("last:a/b", models.SeverityHigh)}},
	)

	res := engine.Run(&snapshot.Snapshot{}, nil)
	assert.Equal(t, []string{"last:a/b", "first:a/b"}, ids(res.Findings))

	require.Len(t, res.Rules, 4)
	failures := res.Failures()
	require.Len(t, failures, 2)

	var ruleErr *RuleError
	require.ErrorAs(t, failures[0].Err, &ruleErr)
	assert.Equal(t, "panics", ruleErr.RuleID)
	assert.True(t, ruleErr.Panic)
	assert.Empty(t, failures[0].Findings)

	require.ErrorAs(t, failures[1].Err, &ruleErr)
	assert.Equal(t, "errors", ruleErr.RuleID)
	assert.False(t, ruleErr.Panic)
	assert.ErrorIs(t, failures[1].Err, errBroken)
	assert.Equal(t, "rule errors failed: broken", failures[1].Err.Error())
}

func TestEngineStableSeverityOrder(t *testing.T) {
	engine := NewEngine(
		stubRule{id: "a", findings: []models.Finding{
			finding("a:1", models.SeverityMedium),
			finding("a:2", models.SeverityHigh),
		}},
		stubRule{id: "b", findings: []models.Finding{
			finding("b:1", models.SeverityHigh),
			finding("b:2", models.SeverityCritical),
			finding("b:3", models.SeverityMedium),
		}},
	)

	res := engine.Run(&snapshot.Snapshot{}, nil)
	assert.Equal(t, []string{"b:2", "a:2", "b:1", "a:1", "b:3"}, ids(res.Findings))
}

func TestEngineDropsDuplicateIDs(t *testing.T) {
	engine := NewEngine(
		stubRule{id: "a", findings: []models.Finding{finding("x:1", models.SeverityLow)}},
		stubRule{id: "b", findings: []models.Finding{finding("x:1", models.SeverityCritical)}},
	)

	res := engine.Run(&snapshot.Snapshot{}, nil)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, models.SeverityLow, res.Findings[0].Severity)
}

func TestEngineEmptySnapshot(t *testing.T) {
	res := NewEngine(DefaultRules(DefaultOptions())...).Run(&snapshot.Snapshot{}, nil)
	assert.NotNil(t, res.Findings)
	assert.Empty(t, res.Findings)
	assert.Empty(t, res.Failures())
}

func TestEngineDeterministic(t *testing.T) {
	bare := corev1.Container{Name: "app", Image: "app"}
	snap := &snapshot.Snapshot{
		Deployments: []appsv1.Deployment{
			deployment("zeta", "one", nil, bare),
			deployment("alpha", "two", ptr.To[int32](3), bare, hardened("sidecar")),
			deployment("mid", "three", ptr.To[int32](1), hardened("app")),
		},
		Nodes: []corev1.Node{node("n1", "4")},
	}
	engine := NewEngine(DefaultRules(DefaultOptions())...)

	first := engine.Run(snap, graph.Build(snap))
	for i := 0; i < 5; i++ {
		again := engine.Run(snap, graph.Build(snap))
		assert.Equal(t, first.Findings, again.Findings)
	}
	assert.Equal(t, "no_network_policy:alpha/alpha", firstWithPrefix(first.Findings, IDNoNetworkPolicy))
}

func firstWithPrefix(findings []models.Finding, rule string) string {
	for _, f := range findings {
		if strings.HasPrefix(f.ID, rule+":") {
			return f.ID
		}
	}
	return ""
}

package aggregate

import (
	"fmt"
	"testing"

	"github.com/moolen/kubeaudit/internal/graph"
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

func finding(id string, sev models.Severity, kind, ns, name string) models.Finding {
	var ev []models.Evidence
	if kind != "" {
		ev = []models.Evidence{{Kind: kind, Namespace: ns, Name: name}}
	}
	return models.NewFinding(id, models.CategoryReliability, sev, "summary of "+id, ev, models.RemediationDetail{})
}

func ids(findings []models.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.ID)
	}
	return out
}

func TestMerge(t *testing.T) {
	rules := []models.Finding{
		finding("single_replica:a/web", models.SeverityHigh, "Deployment", "a", "web"),
		finding("no_network_policy:a/a", models.SeverityMedium, "Namespace", "a", "a"),
	}
	correlated := []models.Finding{
		finding("imagepull:a/web-1/app", models.SeverityHigh, "Pod", "a", "web-1"),
		finding("crashloop:a/web-1/app", models.SeverityCritical, "Pod", "a", "web-1"),
	}

	merged := Merge(rules, correlated)
	assert.Equal(t, []string{
		"crashloop:a/web-1/app",
		"single_replica:a/web",
		"imagepull:a/web-1/app",
		"no_network_policy:a/a",
	}, ids(merged))
	assert.Equal(t, "single_replica:a/web", rules[0].ID, "inputs are not reordered")
}

func TestMergeEmpty(t *testing.T) {
	merged := Merge(nil, nil)
	assert.NotNil(t, merged)
	assert.Empty(t, merged)
}

func TestSignalSetDeduplicates(t *testing.T) {
	s := NewSignalSet(0)
	assert.True(t, s.Add(models.CategorySecurity, models.SeverityHigh, "deployment/a/web", "privileged"))
	assert.False(t, s.Add(models.CategorySecurity, models.SeverityCritical, "deployment/a/web", "privileged"),
		"severity is not part of the key")
	assert.True(t, s.Add(models.CategoryReliability, models.SeverityHigh, "deployment/a/web", "privileged"))
	assert.True(t, s.Add(models.CategorySecurity, models.SeverityHigh, "deployment/a/api", "privileged"))

	require.Equal(t, 3, s.Len())
	assert.Equal(t, models.SeverityHigh, s.Signals()[0].Severity)
}

func TestSignalSetCap(t *testing.T) {
	s := NewSignalSet(0)
	for i := 0; i < DefaultMaxSignals+25; i++ {
		s.Add(models.CategoryCost, models.SeverityLow, fmt.Sprintf("deployment/a/d%d", i), "waste")
	}
	assert.Equal(t, DefaultMaxSignals, s.Len())
	assert.Equal(t, 25, s.Dropped())
	assert.Equal(t, "deployment/a/d0", s.Signals()[0].Resource)
	assert.Equal(t, fmt.Sprintf("deployment/a/d%d", DefaultMaxSignals-1), s.Signals()[DefaultMaxSignals-1].Resource)

	small := NewSignalSet(2)
	small.Add(models.CategoryCost, models.SeverityLow, "r1", "m")
	small.Add(models.CategoryCost, models.SeverityLow, "r2", "m")
	assert.False(t, small.Add(models.CategoryCost, models.SeverityLow, "r3", "m"))
	assert.Equal(t, 2, small.Len())
}

func TestFromFindings(t *testing.T) {
	findings := []models.Finding{
		finding("wildcard_rbac:cluster/admin", models.SeverityCritical, "ClusterRole", "", "admin"),
		finding("single_replica:a/web", models.SeverityHigh, "Deployment", "a", "web"),
		finding("single_replica:a/web", models.SeverityHigh, "Deployment", "a", "web"),
		finding("orphan", models.SeverityLow, "", "", ""),
	}

	s := FromFindings(findings, 10)
	got := s.Signals()
	require.Len(t, got, 3)
	assert.Equal(t, "clusterrole/admin", got[0].Resource)
	assert.Equal(t, "deployment/a/web", got[1].Resource)
	assert.Equal(t, "Deployment has only 1 replica (no redundancy)", got[1].Message)
	assert.Equal(t, "", got[2].Resource)
	assert.Equal(t, "orphan", got[2].Message)
}

func TestFromFindingsCollapsesPerContainerAndPod(t *testing.T) {
	podFinding := func(id, ctr string) models.Finding {
		return models.NewFinding(models.FindingID(id, "a", "web-1", ctr), models.CategoryReliability, models.SeverityCritical,
			fmt.Sprintf("Pod a/web-1 container '%s' is failing", ctr),
			[]models.Evidence{{Kind: "Pod", Namespace: "a", Name: "web-1"}}, models.RemediationDetail{})
	}
	limits := func(ctr, summary string) models.Finding {
		return models.NewFinding(models.FindingID("missing_limits", "a", "web", ctr), models.CategoryReliability, models.SeverityHigh,
			summary, []models.Evidence{{Kind: "Deployment", Namespace: "a", Name: "web"}}, models.RemediationDetail{})
	}

	s := FromFindings([]models.Finding{
		podFinding("crashloop", "app"),
		podFinding("crashloop", "sidecar"),
		limits("app", "Container 'app' in a/web has no limits."),
		limits("app", "Deployment a/web container 'app' sets no resource limits."),
		limits("sidecar", "Container 'sidecar' in a/web has no limits."),
	}, 0)

	assert.Equal(t, []string{
		"Pod in CrashLoopBackOff state",
		"Container app has no resource limits",
		"Container sidecar has no resource limits",
	}, messages(s.Signals()))
	assert.Equal(t, "pod/a/web-1", s.Signals()[0].Resource)
}

func messages(signals []models.Signal) []string {
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		out = append(out, s.Message)
	}
	return out
}

func TestMessage(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"single_replica:shop/web", "Deployment has only 1 replica (no redundancy)"},
		{"missing_limits:shop/web/nginx", "Container nginx has no resource limits"},
		{"privileged_container:shop/web/app", "Container app runs in privileged mode"},
		{"image_latest:shop/web/app", "Container app uses :latest or untagged image"},
		{"wildcard_rbac:cluster/admin-all", "ClusterRole grants wildcard permissions"},
		{"no_network_policy:shop/shop", "Namespace has no network policy"},
		{"crashloop:shop/web-1/app", "Pod in CrashLoopBackOff state"},
		{"oomkilled:shop/web-1/app", "Container app was OOMKilled"},
		{"missing_limits:shop/web", "Container ? has no resource limits"},
		{"custom_check:shop/web/app", "Container app: custom_check"},
		{"custom_check:shop/web", "custom_check"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.id))
		})
	}
}

func TestAddSnapshotSignals(t *testing.T) {
	snap := &snapshot.Snapshot{
		Pods: []corev1.Pod{
			{
				ObjectMeta: metav1.ObjectMeta{Namespace: "a", Name: "web-1"},
				Status: corev1.PodStatus{ContainerStatuses: []corev1.ContainerStatus{
					{Name: "app", State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff"}}},
					{Name: "sidecar", Ready: true, State: corev1.ContainerState{Running: &corev1.ContainerStateRunning{}}},
					{Name: "warming", State: corev1.ContainerState{Running: &corev1.ContainerStateRunning{}}},
					{Name: "done", State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{Reason: "Error"}}},
					{Name: "new"},
				}},
			},
			{
				ObjectMeta: metav1.ObjectMeta{Name: "loose"},
				Status: corev1.PodStatus{ContainerStatuses: []corev1.ContainerStatus{
					{Name: "app", State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{}}},
				}},
			},
		},
		Deployments: []appsv1.Deployment{
			{ObjectMeta: metav1.ObjectMeta{Namespace: "a", Name: "small"}, Spec: appsv1.DeploymentSpec{Replicas: ptr.To(int32(HighReplicaCount))}},
			{ObjectMeta: metav1.ObjectMeta{Namespace: "a", Name: "big"}, Spec: appsv1.DeploymentSpec{Replicas: ptr.To(int32(8))}},
			{ObjectMeta: metav1.ObjectMeta{Namespace: "a", Name: "implicit"}},
		},
	}

	s := NewSignalSet(0)
	s.AddSnapshotSignals(snap)
	s.AddSnapshotSignals(snap)

	assert.Equal(t, []models.Signal{
		{Category: models.CategoryReliability, Severity: models.SeverityHigh, Resource: "pod/a/web-1", Message: "Container app not ready (state: CrashLoopBackOff)"},
		{Category: models.CategoryReliability, Severity: models.SeverityHigh, Resource: "pod/a/web-1", Message: "Container done not ready (state: Error)"},
		{Category: models.CategoryReliability, Severity: models.SeverityHigh, Resource: "pod/a/web-1", Message: "Container new not ready (state: Unknown)"},
		{Category: models.CategoryReliability, Severity: models.SeverityHigh, Resource: "pod/default/loose", Message: "Container app not ready (state: Waiting)"},
		{Category: models.CategoryCost, Severity: models.SeverityLow, Resource: "deployment/a/big", Message: "Deployment has 8 replicas (may be over-provisioned)"},
	}, s.Signals(), "adding the same snapshot twice collapses every signal")
}

func TestAddGraphSignals(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(graph.Node{ID: "deployment:a/web", Kind: graph.KindDeployment, Namespace: "a", Name: "web"}))
	require.NoError(t, g.AddNode(graph.Node{
		ID: "service:a/legacy", Kind: graph.KindService, Namespace: "a", Name: "legacy",
		Selector: map[string]string{"app": "legacy"},
	}))

	s := NewSignalSet(0)
	s.AddGraphSignals(g, graph.Summarize(g))

	assert.Equal(t, []models.Signal{
		{Category: models.CategoryReliability, Severity: models.SeverityMedium, Resource: "service/a/legacy", Message: messageOrphanService},
		{Category: models.CategoryReliability, Severity: models.SeverityMedium, Resource: "deployment/a/web", Message: messageSPOF},
	}, s.Signals())
}

func TestResource(t *testing.T) {
	assert.Equal(t, "pod/shop/web-1", Resource("Pod", "shop", "web-1"))
	assert.Equal(t, "node/worker-1", Resource("Node", "", "worker-1"))
}

package rules

import (
	"strings"
	"testing"

	"github.com/moolen/kubeaudit/internal/graph"
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

func ids(findings []models.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.ID)
	}
	return out
}

func evaluate(t *testing.T, r Rule, snap *snapshot.Snapshot) []models.Finding {
	t.Helper()
	findings, err := r.Evaluate(snap, graph.Build(snap))
	require.NoError(t, err)
	for _, f := range findings {
		assert.Equal(t, r.ID(), strings.SplitN(f.ID, ":", 2)[0])
		require.NotEmpty(t, f.Evidence, f.ID)
		assert.NotEmpty(t, f.Evidence[0].Pointer, f.ID)
		assert.NotEmpty(t, f.Remediation.Commands, f.ID)
	}
	return findings
}

func TestDefaultRulesOrder(t *testing.T) {
	var got []string
	for _, r := range DefaultRules(DefaultOptions()) {
		got = append(got, r.ID())
	}
	assert.Equal(t, []string{
		IDMissingRequests, IDSingleReplica, IDImageLatest, IDWildcardRBAC,
		IDMissingLimits, IDMissingReadinessProbe, IDMissingLivenessProbe,
		IDPrivilegedContainer, IDNoNetworkPolicy, IDOverprovision,
		IDHPAMissingHighCPU, IDPVCNotBound,
	}, got)
}

func TestSingleReplica(t *testing.T) {
	tests := []struct {
		name     string
		replicas *int32
		want     bool
	}{
		{name: "unset defaults to one", replicas: nil, want: true},
		{name: "one", replicas: ptr.To[int32](1), want: true},
		{name: "three", replicas: ptr.To[int32](3), want: false},
		{name: "scaled to zero", replicas: ptr.To[int32](0), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := &snapshot.Snapshot{Deployments: []appsv1.Deployment{deployment("shop", "web", tt.replicas, hardened("app"))}}
			findings := evaluate(t, singleReplica{}, snap)
			if !tt.want {
				assert.Empty(t, findings)
				return
			}
			require.Len(t, findings, 1)
			f := findings[0]
			assert.Equal(t, "single_replica:shop/web", f.ID)
			assert.Equal(t, models.SeverityHigh, f.Severity)
			assert.Equal(t, models.CategoryReliability, f.Category)
			assert.Equal(t, "kubectl scale deployment/web -n shop --replicas=2", f.Remediation.Commands[0])
			assert.Equal(t, "# Patch deployment shop/web\nspec:\n  replicas: 2", f.Remediation.PatchYAML)
		})
	}
}

func TestMissingResources(t *testing.T) {
	bare := hardened("api")
	bare.Resources = corev1.ResourceRequirements{}
	snap := &snapshot.Snapshot{Deployments: []appsv1.Deployment{
		deployment("shop", "web", nil, hardened("ok"), bare),
	}}

	req := evaluate(t, missingRequests{}, snap)
	require.Len(t, req, 1)
	assert.Equal(t, "missing_requests:shop/web/api", req[0].ID)
	assert.Contains(t, req[0].Remediation.Commands[0], "--requests=cpu=100m,memory=128Mi")
	assert.Contains(t, req[0].Remediation.PatchYAML, "requests:\n    cpu: 100m\n    memory: 128Mi")

	lim := evaluate(t, missingLimits{}, snap)
	require.Len(t, lim, 1)
	assert.Equal(t, "missing_limits:shop/web/api", lim[0].ID)
	assert.Contains(t, lim[0].Remediation.Commands[0], "--limits=cpu=500m,memory=512Mi")
}

func TestUnnamedContainersGetDistinctIDs(t *testing.T) {
	a, b := hardened(""), hardened("")
	a.Resources, b.Resources = corev1.ResourceRequirements{}, corev1.ResourceRequirements{}
	snap := &snapshot.Snapshot{Deployments: []appsv1.Deployment{deployment("shop", "web", nil, a, b)}}

	findings := evaluate(t, missingRequests{}, snap)
	assert.Equal(t, []string{"missing_requests:shop/web/container-0", "missing_requests:shop/web/container-1"}, ids(findings))
}

func TestImageTags(t *testing.T) {
	tests := []struct {
		image  string
		latest bool
		repo   string
	}{
		{image: "app:latest", latest: true, repo: "app"},
		{image: "app", latest: true, repo: "app"},
		{image: "nginx:1.25", latest: false, repo: "nginx"},
		{image: "registry:5000/team/app", latest: true, repo: "registry:5000/team/app"},
		{image: "registry:5000/team/app:latest", latest: true, repo: "registry:5000/team/app"},
		{image: "registry:5000/team/app:v2", latest: false, repo: "registry:5000/team/app"},
		{image: "app@sha256:abcdef", latest: false, repo: "app"},
	}
	for _, tt := range tests {
		t.Run(tt.image, func(t *testing.T) {
			assert.Equal(t, tt.latest, isLatestTag(tt.image))
			assert.Equal(t, tt.repo, imageRepository(tt.image))
		})
	}
}

func TestImageLatest(t *testing.T) {
	c := hardened("app")
	c.Image = "ghcr.io/acme/app:latest"
	snap := &snapshot.Snapshot{Deployments: []appsv1.Deployment{deployment("shop", "web", nil, c, hardened("sidecar"))}}

	findings := evaluate(t, imageLatest{}, snap)
	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "image_latest:shop/web/app", f.ID)
	assert.Equal(t, models.CategorySecurity, f.Category)
	assert.Equal(t, models.SeverityMedium, f.Severity)
	assert.Equal(t, "Image: ghcr.io/acme/app:latest", f.Evidence[0].Pointer)
	assert.Equal(t, "kubectl set image deployment/web -n shop app=ghcr.io/acme/app:<specific-tag>", f.Remediation.Commands[0])
}

func TestWildcardRBACOncePerRole(t *testing.T) {
	snap := &snapshot.Snapshot{ClusterRoles: []rbacv1.ClusterRole{
		{
			ObjectMeta: metav1.ObjectMeta{Name: "god-mode"},
			Rules: []rbacv1.PolicyRule{
				{Verbs: []string{"get"}, Resources: []string{"pods"}},
				{Verbs: []string{"*"}, Resources: []string{"*"}},
				{Verbs: []string{"*"}, Resources: []string{"secrets"}},
			},
		},
		{
			ObjectMeta: metav1.ObjectMeta{Name: "reader"},
			Rules:      []rbacv1.PolicyRule{{Verbs: []string{"get", "list"}, Resources: []string{"pods"}}},
		},
		{
			ObjectMeta: metav1.ObjectMeta{Name: "all-resources"},
			Rules:      []rbacv1.PolicyRule{{Verbs: []string{"get"}, Resources: []string{"*"}}},
		},
	}}

	findings := evaluate(t, wildcardRBAC{}, snap)
	assert.Equal(t, []string{"wildcard_rbac:cluster/god-mode", "wildcard_rbac:cluster/all-resources"}, ids(findings))
	assert.Contains(t, findings[0].Summary, "(verbs=[*], resources=[*])")
	assert.Contains(t, findings[1].Summary, "(resources=[*])")
	assert.Equal(t, models.SeverityCritical, findings[0].Severity)
	assert.Equal(t, "ClusterRole", findings[0].Evidence[0].Kind)
	assert.Empty(t, findings[0].Evidence[0].Namespace)
}

func TestMissingProbes(t *testing.T) {
	noReady := hardened("api")
	noReady.ReadinessProbe = nil
	noLive := hardened("worker")
	noLive.LivenessProbe = nil
	snap := &snapshot.Snapshot{Deployments: []appsv1.Deployment{deployment("shop", "web", nil, noReady, noLive)}}

	ready := evaluate(t, missingProbe{readiness: true}, snap)
	require.Len(t, ready, 1)
	assert.Equal(t, "missing_readiness_probe:shop/web/api", ready[0].ID)
	assert.Contains(t, ready[0].Summary, "has no readinessProbe")
	assert.Contains(t, ready[0].Remediation.PatchYAML, "initialDelaySeconds: 5")

	live := evaluate(t, missingProbe{readiness: false}, snap)
	require.Len(t, live, 1)
	assert.Equal(t, "missing_liveness_probe:shop/web/worker", live[0].ID)
	assert.Contains(t, live[0].Summary, "has no livenessProbe")
	assert.Contains(t, live[0].Remediation.PatchYAML, "livenessProbe:\n  httpGet:\n    path: /healthz\n    port: 8080")
}

func TestPrivilegedContainer(t *testing.T) {
	priv := hardened("agent")
	priv.SecurityContext = &corev1.SecurityContext{Privileged: ptr.To(true)}
	unpriv := hardened("app")
	unpriv.SecurityContext = &corev1.SecurityContext{Privileged: ptr.To(false)}
	snap := &snapshot.Snapshot{Deployments: []appsv1.Deployment{deployment("ops", "node-agent", nil, unpriv, priv)}}

	findings := evaluate(t, privilegedContainer{}, snap)
	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "privileged_container:ops/node-agent/agent", f.ID)
	assert.Equal(t, models.SeverityCritical, f.Severity)
	assert.Contains(t, f.Remediation.Commands[0], "/spec/template/spec/containers/1/securityContext/privileged")
	assert.Contains(t, f.Remediation.PatchYAML, "privileged: false")
	assert.Contains(t, f.Remediation.PatchYAML, "runAsNonRoot: true")
}

func TestNoNetworkPolicy(t *testing.T) {
	snap := &snapshot.Snapshot{
		Pods: []corev1.Pod{
			{ObjectMeta: metav1.ObjectMeta{Namespace: "payments", Name: "p1"}},
			{ObjectMeta: metav1.ObjectMeta{Namespace: "kube-system", Name: "coredns"}},
			{ObjectMeta: metav1.ObjectMeta{Namespace: "secured", Name: "p2"}},
		},
		Deployments: []appsv1.Deployment{deployment("billing", "api", nil, hardened("app"))},
		NetworkPolicies: []networkingv1.NetworkPolicy{
			{ObjectMeta: metav1.ObjectMeta{Namespace: "secured", Name: "deny"}},
		},
	}

	findings := evaluate(t, newNoNetworkPolicy(DefaultOptions().SystemNamespaces), snap)
	assert.Equal(t, []string{"no_network_policy:billing/billing", "no_network_policy:payments/payments"}, ids(findings))

	f := findings[0]
	assert.Equal(t, "Namespace", f.Evidence[0].Kind)
	assert.Equal(t, "billing", f.Evidence[0].Namespace)
	assert.True(t, strings.HasPrefix(f.Remediation.Commands[0], "kubectl apply -f - <<EOF\napiVersion: networking.k8s.io/v1\n"))
	assert.True(t, strings.HasSuffix(f.Remediation.Commands[0], "\nEOF"))
	assert.Contains(t, f.Remediation.PatchYAML, "podSelector: {}")
	assert.Contains(t, f.Remediation.PatchYAML, "- Ingress")
	assert.Contains(t, f.Remediation.PatchYAML, "- Egress")
}

func TestOverprovision(t *testing.T) {
	big := hardened("app")
	big.Resources.Requests = resources("3", "1Gi")
	deps := []appsv1.Deployment{
		deployment("shop", "heavy", nil, big),
		deployment("shop", "light", nil, hardened("app")),
	}

	t.Run("without nodes", func(t *testing.T) {
		assert.Empty(t, evaluate(t, overprovision{ratio: 0.5}, &snapshot.Snapshot{Deployments: deps}))
	})

	t.Run("largest node decides", func(t *testing.T) {
		snap := &snapshot.Snapshot{Deployments: deps, Nodes: []corev1.Node{node("small", "2"), node("large", "4")}}
		findings := evaluate(t, overprovision{ratio: 0.5}, snap)
		require.Len(t, findings, 1)
		assert.Equal(t, "overprovision:shop/heavy", findings[0].ID)
		assert.Equal(t, models.CategoryCost, findings[0].Category)
		assert.Equal(t, "kubectl set resources deployment/heavy -n shop --requests=cpu=1000m", findings[0].Remediation.Commands[0])
	})
}

func TestHPAMissingHighCPU(t *testing.T) {
	hungry := hardened("app")
	hungry.Resources.Requests = resources("500m", "256Mi")
	snap := &snapshot.Snapshot{
		Deployments: []appsv1.Deployment{
			deployment("shop", "scaled", nil, hungry),
			deployment("shop", "unscaled", nil, hungry),
			deployment("shop", "small", nil, hardened("app")),
		},
		HPAs: []autoscalingv2.HorizontalPodAutoscaler{{
			ObjectMeta: metav1.ObjectMeta{Namespace: "shop", Name: "scaled"},
			Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
				ScaleTargetRef: autoscalingv2.CrossVersionObjectReference{Kind: "Deployment", Name: "scaled"},
			},
		}},
	}

	findings := evaluate(t, hpaMissingHighCPU{threshold: 0.5}, snap)
	assert.Equal(t, []string{"hpa_missing_high_cpu:shop/unscaled"}, ids(findings))
	assert.Contains(t, findings[0].Remediation.Commands[0], "kubectl autoscale deployment/unscaled -n shop")
}

func TestPVCNotBound(t *testing.T) {
	pvc := func(name string, phase corev1.PersistentVolumeClaimPhase) corev1.PersistentVolumeClaim {
		return corev1.PersistentVolumeClaim{
			ObjectMeta: metav1.ObjectMeta{Namespace: "db", Name: name},
			Status:     corev1.PersistentVolumeClaimStatus{Phase: phase},
		}
	}
	snap := &snapshot.Snapshot{PVCs: []corev1.PersistentVolumeClaim{
		pvc("data-0", corev1.ClaimBound),
		pvc("data-1", corev1.ClaimPending),
		pvc("data-2", corev1.ClaimLost),
	}}

	findings := evaluate(t, pvcNotBound{}, snap)
	assert.Equal(t, []string{"pvc_not_bound:db/data-1", "pvc_not_bound:db/data-2"}, ids(findings))
	assert.Contains(t, findings[0].Summary, "'Pending' phase")
	assert.Equal(t, "PersistentVolumeClaim", findings[0].Evidence[0].Kind)
	assert.Equal(t, []string{"kubectl describe pvc data-1 -n db", "kubectl get sc"}, findings[0].Remediation.Commands)
}

func TestNaiveDeploymentEndToEnd(t *testing.T) {
	snap := &snapshot.Snapshot{Deployments: []appsv1.Deployment{
		deployment("default", "app", ptr.To[int32](1), corev1.Container{Name: "app", Image: "app:latest"}),
	}}

	res := NewEngine(DefaultRules(DefaultOptions())...).Run(snap, graph.Build(snap))
	require.Empty(t, res.Failures())

	byRule := make(map[string]models.Finding)
	for _, f := range res.Findings {
		byRule[strings.SplitN(f.ID, ":", 2)[0]] = f
	}
	for _, id := range []string{IDSingleReplica, IDMissingRequests, IDMissingLimits, IDImageLatest} {
		f, ok := byRule[id]
		require.True(t, ok, "expected a %s finding", id)
		assert.NotEmpty(t, f.Remediation.Commands, id)
	}
}

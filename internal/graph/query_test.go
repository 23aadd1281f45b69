package graph

import (
	"testing"

	"github.com/moolen/kubeaudit/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestFindSPOFs(t *testing.T) {
	g := New()
	for _, id := range []string{"deployment:a/zero", "deployment:a/one", "deployment:a/two", "pod:a/1", "pod:a/2", "pod:a/3", "service:a/s"} {
		kind := KindPod
		switch id[:3] {
		case "dep":
			kind = KindDeployment
		case "ser":
			kind = KindService
		}
		require.NoError(t, g.AddNode(Node{ID: id, Kind: kind}))
	}
	require.NoError(t, g.AddEdge("deployment:a/one", "pod:a/1", RelationOwns))
	require.NoError(t, g.AddEdge("deployment:a/two", "pod:a/2", RelationOwns))
	require.NoError(t, g.AddEdge("deployment:a/two", "pod:a/3", RelationOwns))
	require.NoError(t, g.AddEdge("deployment:a/zero", "service:a/s", RelationRoutesTo))

	assert.Equal(t, []string{"deployment:a/zero", "deployment:a/one"}, FindSPOFs(g))
}

func TestFindSPOFsEmptyGraph(t *testing.T) {
	spofs := FindSPOFs(New())
	assert.NotNil(t, spofs)
	assert.Empty(t, spofs)
}

func TestSummarize(t *testing.T) {
	snap := &snapshot.Snapshot{
		Nodes: []corev1.Node{
			{ObjectMeta: metav1.ObjectMeta{Name: "n1"}},
			{ObjectMeta: metav1.ObjectMeta{Name: "idle"}},
		},
		Deployments: []appsv1.Deployment{
			deployment("ns", "web", map[string]string{"app": "web"}),
		},
		Pods: []corev1.Pod{
			pod("ns", "web-1-a", "n1", "web-1"),
			pod("ns", "web-1-b", "n1", "web-1"),
		},
		Services: []corev1.Service{
			service("ns", "web", map[string]string{"app": "web"}),
			service("ns", "orphan", map[string]string{"app": "gone"}),
			service("ns", "external", nil),
		},
	}

	s := Summarize(Build(snap))

	assert.Equal(t, 8, s.NodeCount)
	assert.Equal(t, 5, s.EdgeCount)
	assert.Equal(t, map[Kind]int{KindNode: 2, KindDeployment: 1, KindPod: 2, KindService: 3}, s.KindCounts)
	assert.Empty(t, s.SPOFs)
	assert.Equal(t, []string{"service:ns/orphan"}, s.OrphanServices)
	assert.Equal(t, map[string]int{"node:n1": 2, "node:idle": 0}, s.NodeFanout)
}

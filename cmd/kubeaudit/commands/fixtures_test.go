package commands

import (
	"path/filepath"
	"testing"

	"github.com/moolen/kubeaudit/internal/snapshot"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

// shopSnapshot is a single-replica web deployment with a crashing pod
func shopSnapshot(replicas int32) *snapshot.Snapshot {
	labels := map[string]string{"app": "web"}
	return &snapshot.Snapshot{
		ClusterName: "staging",
		Nodes: []corev1.Node{{
			ObjectMeta: metav1.ObjectMeta{Name: "worker-1"},
			Status: corev1.NodeStatus{Allocatable: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("4"),
				corev1.ResourceMemory: resource.MustParse("16Gi"),
			}},
		}},
		Deployments: []appsv1.Deployment{{
			ObjectMeta: metav1.ObjectMeta{Namespace: "shop", Name: "web"},
			Spec: appsv1.DeploymentSpec{
				Replicas: ptr.To(replicas),
				Selector: &metav1.LabelSelector{MatchLabels: labels},
				Template: corev1.PodTemplateSpec{Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "app",
						Image: "shop/web:latest",
						Resources: corev1.ResourceRequirements{Requests: corev1.ResourceList{
							corev1.ResourceCPU:    resource.MustParse("500m"),
							corev1.ResourceMemory: resource.MustParse("1Gi"),
						}},
					}},
				}},
			},
		}},
		Pods: []corev1.Pod{{
			ObjectMeta: metav1.ObjectMeta{
				Namespace:       "shop",
				Name:            "web-5f7d8-x2x9k",
				OwnerReferences: []metav1.OwnerReference{{Kind: "ReplicaSet", Name: "web-5f7d8"}},
			},
			Spec: corev1.PodSpec{NodeName: "worker-1", Containers: []corev1.Container{{Name: "app"}}},
			Status: corev1.PodStatus{ContainerStatuses: []corev1.ContainerStatus{{
				Name:  "app",
				State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff"}},
			}}},
		}},
	}
}

func writeSnapshot(t *testing.T, name string, snap *snapshot.Snapshot) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, snapshot.WriteFile(snap, path))
	return path
}

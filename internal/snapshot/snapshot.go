// Package snapshot holds the point-in-time cluster state the audit engine
// consumes, and the two ways of producing it: decoding a snapshot file and
// collecting from a live cluster.
package snapshot

import (
	"time"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// DefaultNamespace is assumed for namespaced objects without one
	DefaultNamespace = "default"
	// UnknownName is assumed for objects without a name
	UnknownName = "unknown"
)

// Snapshot is an immutable collection of cluster objects. Missing keys
// decode to empty lists.
type Snapshot struct {
	ClusterName string `json:"cluster_name,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`

	Nodes           []corev1.Node                           `json:"nodes"`
	Deployments     []appsv1.Deployment                     `json:"deployments"`
	ReplicaSets     []appsv1.ReplicaSet                     `json:"replicasets,omitempty"`
	Pods            []corev1.Pod                            `json:"pods"`
	Services        []corev1.Service                        `json:"services"`
	Events          []corev1.Event                          `json:"events"`
	HPAs            []autoscalingv2.HorizontalPodAutoscaler `json:"hpa"`
	ClusterRoles    []rbacv1.ClusterRole                    `json:"rbac_roles"`
	NetworkPolicies []networkingv1.NetworkPolicy            `json:"networkpolicies"`
	PVCs            []corev1.PersistentVolumeClaim          `json:"pvcs"`
}

// Empty reports whether the snapshot carries no objects at all
func (s *Snapshot) Empty() bool {
	return len(s.Nodes) == 0 && len(s.Deployments) == 0 && len(s.ReplicaSets) == 0 &&
		len(s.Pods) == 0 && len(s.Services) == 0 && len(s.Events) == 0 &&
		len(s.HPAs) == 0 && len(s.ClusterRoles) == 0 && len(s.NetworkPolicies) == 0 &&
		len(s.PVCs) == 0
}

// Namespace returns the object's namespace, or DefaultNamespace
func Namespace(meta metav1.ObjectMeta) string {
	if meta.Namespace == "" {
		return DefaultNamespace
	}
	return meta.Namespace
}

// Name returns the object's name, or UnknownName
func Name(meta metav1.ObjectMeta) string {
	if meta.Name == "" {
		return UnknownName
	}
	return meta.Name
}

// FormatTime renders t as RFC3339, or "" when unset
func FormatTime(t metav1.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// EventTime returns the most specific timestamp an event carries:
// lastTimestamp, then eventTime, then creationTimestamp.
func EventTime(ev corev1.Event) time.Time {
	switch {
	case !ev.LastTimestamp.IsZero():
		return ev.LastTimestamp.Time
	case !ev.EventTime.IsZero():
		return ev.EventTime.Time
	default:
		return ev.CreationTimestamp.Time
	}
}

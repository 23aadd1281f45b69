package graph

import (
	"strings"

	"github.com/moolen/kubeaudit/internal/snapshot"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// OwnerResolver maps a pod's ReplicaSet owner reference to the owning
// Deployment name.
type OwnerResolver struct {
	replicaSets map[string]appsv1.ReplicaSet
}

// NewOwnerResolver indexes the snapshot's ReplicaSets by namespace/name.
// A ReplicaSet without a namespace is indexed under the default namespace,
// the same one its pods are read into.
func NewOwnerResolver(replicaSets []appsv1.ReplicaSet) *OwnerResolver {
	r := &OwnerResolver{replicaSets: make(map[string]appsv1.ReplicaSet, len(replicaSets))}
	for _, rs := range replicaSets {
		r.replicaSets[snapshot.Namespace(rs.ObjectMeta)+"/"+rs.Name] = rs
	}
	return r
}

// Deployment resolves the deployment owning the ReplicaSet ref in
// namespace. A known ReplicaSet is authoritative: its controller owner
// decides, and a ReplicaSet without a Deployment controller resolves to
// nothing. Unknown ReplicaSets fall back to DeploymentNameFromReplicaSet.
func (r *OwnerResolver) Deployment(namespace string, ref metav1.OwnerReference) (string, bool) {
	if ref.Kind != "ReplicaSet" || ref.Name == "" {
		return "", false
	}

	if rs, ok := r.replicaSets[namespace+"/"+ref.Name]; ok {
		owner := metav1.GetControllerOf(&rs)
		if owner == nil || owner.Kind != "Deployment" {
			return "", false
		}
		return owner.Name, true
	}

	return DeploymentNameFromReplicaSet(ref.Name), true
}

// DeploymentNameFromReplicaSet guesses the deployment name by dropping the
// final "-segment" (the pod-template hash) from a ReplicaSet name. Names
// without a hyphen are returned unchanged.
//
// This is a heuristic. A ReplicaSet created directly with a name like
// "api-v2" resolves to "api", and a deployment named "api" would wrongly be
// credited with its pods. Prefer OwnerResolver when ReplicaSets are known.
func DeploymentNameFromReplicaSet(rsName string) string {
	i := strings.LastIndex(rsName, "-")
	if i < 0 {
		return rsName
	}
	return rsName[:i]
}

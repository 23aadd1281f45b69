package rules

import (
	"fmt"

	"github.com/moolen/kubeaudit/internal/graph"
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/snapshot"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/ptr"
)

// singleReplica flags deployments running a single replica. An unset
// replica count defaults to 1, as in the API server.
type singleReplica struct{}

func (singleReplica) ID() string { return IDSingleReplica }

func (r singleReplica) Evaluate(snap *snapshot.Snapshot, _ *graph.Graph) ([]models.Finding, error) {
	var findings []models.Finding
	for i := range snap.Deployments {
		w := newWorkload(&snap.Deployments[i])
		if ptr.Deref(w.dep.Spec.Replicas, 1) != 1 {
			continue
		}
		patch, err := renderPatch(
			fmt.Sprintf("Patch deployment %s/%s", w.Namespace, w.Name),
			obj{"spec": obj{"replicas": 2}},
		)
		if err != nil {
			return nil, err
		}
		findings = append(findings, models.NewFinding(
			models.FindingID(r.ID(), w.Namespace, w.Name),
			models.CategoryReliability,
			models.SeverityHigh,
			fmt.Sprintf("Deployment %s/%s has only 1 replica. A single pod failure causes full downtime.", w.Namespace, w.Name),
			[]models.Evidence{w.evidence("")},
			models.RemediationDetail{
				Description: fmt.Sprintf("Scale %s to at least 2 replicas for basic HA.", w.Name),
				Commands:    []string{fmt.Sprintf("kubectl scale deployment/%s -n %s --replicas=2", w.Name, w.Namespace)},
				PatchYAML:   patch,
			},
		))
	}
	return findings, nil
}

// missingProbe flags containers without a readiness or liveness probe
type missingProbe struct {
	readiness bool
}

func (r missingProbe) ID() string {
	if r.readiness {
		return IDMissingReadinessProbe
	}
	return IDMissingLivenessProbe
}

func (r missingProbe) Evaluate(snap *snapshot.Snapshot, _ *graph.Graph) ([]models.Finding, error) {
	field, consequence := "livenessProbe", "cannot auto-restart the container if it becomes unresponsive"
	initialDelay, period := 15, 20
	if r.readiness {
		field, consequence = "readinessProbe", "cannot know when the pod is ready to serve traffic"
		initialDelay, period = 5, 10
	}

	var findings []models.Finding
	err := forEachContainer(snap, func(w workload, idx int, c corev1.Container) error {
		probe := c.LivenessProbe
		if r.readiness {
			probe = c.ReadinessProbe
		}
		if probe != nil {
			return nil
		}

		ctr := containerName(idx, c)
		patch, err := renderPatch(
			fmt.Sprintf("Add to container %s in %s/%s", ctr, w.Namespace, w.Name),
			obj{field: obj{
				"httpGet":             obj{"path": "/healthz", "port": 8080},
				"initialDelaySeconds": initialDelay,
				"periodSeconds":       period,
			}},
		)
		if err != nil {
			return err
		}
		findings = append(findings, models.NewFinding(
			models.FindingID(r.ID(), w.Namespace, w.Name, ctr),
			models.CategoryReliability,
			models.SeverityMedium,
			fmt.Sprintf("Container '%s' in %s/%s has no %s. Kubernetes %s.", ctr, w.Namespace, w.Name, field, consequence),
			[]models.Evidence{w.evidence("")},
			models.RemediationDetail{
				Description: fmt.Sprintf("Add a %s to container '%s'.", field, ctr),
				Commands:    []string{fmt.Sprintf("kubectl edit deployment/%s -n %s", w.Name, w.Namespace)},
				PatchYAML:   patch,
			},
		))
		return nil
	})
	return findings, err
}

// pvcNotBound flags claims stuck in Pending or Lost
type pvcNotBound struct{}

func (pvcNotBound) ID() string { return IDPVCNotBound }

func (r pvcNotBound) Evaluate(snap *snapshot.Snapshot, _ *graph.Graph) ([]models.Finding, error) {
	var findings []models.Finding
	for _, pvc := range snap.PVCs {
		phase := pvc.Status.Phase
		if phase != corev1.ClaimPending && phase != corev1.ClaimLost {
			continue
		}
		ns, name := snapshot.Namespace(pvc.ObjectMeta), snapshot.Name(pvc.ObjectMeta)
		findings = append(findings, models.NewFinding(
			models.FindingID(r.ID(), ns, name),
			models.CategoryReliability,
			models.SeverityHigh,
			fmt.Sprintf("PVC %s/%s is in '%s' phase. Pods depending on it may be stuck.", ns, name, phase),
			[]models.Evidence{{
				Kind:      "PersistentVolumeClaim",
				Namespace: ns,
				Name:      name,
				Timestamp: snapshot.FormatTime(pvc.CreationTimestamp),
				Pointer:   fmt.Sprintf("kubectl describe pvc %s -n %s", name, ns),
			}},
			models.RemediationDetail{
				Description: fmt.Sprintf("Check StorageClass availability and PV provisioning for PVC '%s'.", name),
				Commands: []string{
					fmt.Sprintf("kubectl describe pvc %s -n %s", name, ns),
					"kubectl get sc",
				},
			},
		))
	}
	return findings, nil
}

package rules

import (
	"fmt"

	"github.com/moolen/kubeaudit/internal/graph"
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/quantity"
	"github.com/moolen/kubeaudit/internal/snapshot"
	corev1 "k8s.io/api/core/v1"
)

// missingRequests flags containers without resources.requests
type missingRequests struct{}

func (missingRequests) ID() string { return IDMissingRequests }

func (r missingRequests) Evaluate(snap *snapshot.Snapshot, _ *graph.Graph) ([]models.Finding, error) {
	var findings []models.Finding
	err := forEachContainer(snap, func(w workload, idx int, c corev1.Container) error {
		if len(c.Resources.Requests) > 0 {
			return nil
		}
		ctr := containerName(idx, c)
		patch, err := renderPatch(
			fmt.Sprintf("Add to deployment %s/%s, container %s", w.Namespace, w.Name, ctr),
			obj{"resources": obj{"requests": obj{"cpu": "100m", "memory": "128Mi"}}},
		)
		if err != nil {
			return err
		}
		findings = append(findings, models.NewFinding(
			models.FindingID(r.ID(), w.Namespace, w.Name, ctr),
			models.CategoryReliability,
			models.SeverityHigh,
			fmt.Sprintf("Container '%s' in Deployment %s/%s has no resource requests. "+
				"The scheduler cannot make informed placement decisions.", ctr, w.Namespace, w.Name),
			[]models.Evidence{w.evidence("")},
			models.RemediationDetail{
				Description: fmt.Sprintf("Add CPU and memory requests to container '%s'.", ctr),
				Commands: []string{
					fmt.Sprintf("kubectl set resources deployment/%s -n %s -c %s --requests=cpu=100m,memory=128Mi", w.Name, w.Namespace, ctr),
				},
				PatchYAML: patch,
			},
		))
		return nil
	})
	return findings, err
}

// missingLimits flags containers without resources.limits
type missingLimits struct{}

func (missingLimits) ID() string { return IDMissingLimits }

func (r missingLimits) Evaluate(snap *snapshot.Snapshot, _ *graph.Graph) ([]models.Finding, error) {
	var findings []models.Finding
	err := forEachContainer(snap, func(w workload, idx int, c corev1.Container) error {
		if len(c.Resources.Limits) > 0 {
			return nil
		}
		ctr := containerName(idx, c)
		patch, err := renderPatch(
			fmt.Sprintf("Add to deployment %s/%s, container %s", w.Namespace, w.Name, ctr),
			obj{"resources": obj{"limits": obj{"cpu": "500m", "memory": "512Mi"}}},
		)
		if err != nil {
			return err
		}
		findings = append(findings, models.NewFinding(
			models.FindingID(r.ID(), w.Namespace, w.Name, ctr),
			models.CategoryReliability,
			models.SeverityHigh,
			fmt.Sprintf("Container '%s' in Deployment %s/%s has no resource limits. "+
				"It can consume unbounded CPU/memory and starve neighbours.", ctr, w.Namespace, w.Name),
			[]models.Evidence{w.evidence("")},
			models.RemediationDetail{
				Description: fmt.Sprintf("Add CPU and memory limits to container '%s'.", ctr),
				Commands: []string{
					fmt.Sprintf("kubectl set resources deployment/%s -n %s -c %s --limits=cpu=500m,memory=512Mi", w.Name, w.Namespace, ctr),
				},
				PatchYAML: patch,
			},
		))
		return nil
	})
	return findings, err
}

// overprovision flags deployments whose per-pod CPU request exceeds a share
// of the largest node's allocatable CPU. Without node data it is a no-op.
type overprovision struct {
	ratio float64
}

func (overprovision) ID() string { return IDOverprovision }

func (r overprovision) Evaluate(snap *snapshot.Snapshot, _ *graph.Graph) ([]models.Finding, error) {
	maxNodeCPU := 0.0
	for _, n := range snap.Nodes {
		if cpu := quantity.CPUOf(n.Status.Allocatable); cpu > maxNodeCPU {
			maxNodeCPU = cpu
		}
	}
	if maxNodeCPU == 0 {
		return nil, nil
	}

	var findings []models.Finding
	for i := range snap.Deployments {
		w := newWorkload(&snap.Deployments[i])
		podCPU := w.podCPU()
		if podCPU <= maxNodeCPU*r.ratio {
			continue
		}
		findings = append(findings, models.NewFinding(
			models.FindingID(r.ID(), w.Namespace, w.Name),
			models.CategoryCost,
			models.SeverityMedium,
			fmt.Sprintf("Deployment %s/%s requests %.2f CPU per pod, over %.0f%% of the largest node "+
				"(%.2f allocatable). This limits scheduling flexibility.",
				w.Namespace, w.Name, podCPU, r.ratio*100, maxNodeCPU),
			[]models.Evidence{w.evidence("")},
			models.RemediationDetail{
				Description: "Reduce CPU requests or consider vertical pod autoscaling.",
				Commands: []string{
					fmt.Sprintf("kubectl set resources deployment/%s -n %s --requests=cpu=%dm",
						w.Name, w.Namespace, int(maxNodeCPU*r.ratio*500)),
				},
			},
		))
	}
	return findings, nil
}

// hpaMissingHighCPU flags CPU-heavy deployments that no HPA targets
type hpaMissingHighCPU struct {
	threshold float64
}

func (hpaMissingHighCPU) ID() string { return IDHPAMissingHighCPU }

func (r hpaMissingHighCPU) Evaluate(snap *snapshot.Snapshot, _ *graph.Graph) ([]models.Finding, error) {
	targets := make(map[string]struct{}, len(snap.HPAs))
	for _, hpa := range snap.HPAs {
		ref := hpa.Spec.ScaleTargetRef
		if ref.Kind == "Deployment" {
			targets[snapshot.Namespace(hpa.ObjectMeta)+"/"+ref.Name] = struct{}{}
		}
	}

	var findings []models.Finding
	for i := range snap.Deployments {
		w := newWorkload(&snap.Deployments[i])
		podCPU := w.podCPU()
		if podCPU < r.threshold {
			continue
		}
		if _, ok := targets[w.Namespace+"/"+w.Name]; ok {
			continue
		}
		findings = append(findings, models.NewFinding(
			models.FindingID(r.ID(), w.Namespace, w.Name),
			models.CategoryCost,
			models.SeverityMedium,
			fmt.Sprintf("Deployment %s/%s requests %.2f CPU but has no HPA. "+
				"It cannot scale with demand, leading to waste or under-capacity.", w.Namespace, w.Name, podCPU),
			[]models.Evidence{w.evidence("")},
			models.RemediationDetail{
				Description: fmt.Sprintf("Create an HPA for %s targeting 70%% CPU utilisation.", w.Name),
				Commands: []string{
					fmt.Sprintf("kubectl autoscale deployment/%s -n %s --min=2 --max=10 --cpu-percent=70", w.Name, w.Namespace),
				},
			},
		))
	}
	return findings, nil
}

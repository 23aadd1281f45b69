package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/moolen/kubeaudit/internal/graph"
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/snapshot"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/ptr"
)

// clusterScope is the namespace segment of ids for cluster-scoped objects
const clusterScope = "cluster"

// imageLatest flags containers using ":latest" or untagged images
type imageLatest struct{}

func (imageLatest) ID() string { return IDImageLatest }

func (r imageLatest) Evaluate(snap *snapshot.Snapshot, _ *graph.Graph) ([]models.Finding, error) {
	var findings []models.Finding
	err := forEachContainer(snap, func(w workload, idx int, c corev1.Container) error {
		if !isLatestTag(c.Image) {
			return nil
		}
		ctr := containerName(idx, c)
		findings = append(findings, models.NewFinding(
			models.FindingID(r.ID(), w.Namespace, w.Name, ctr),
			models.CategorySecurity,
			models.SeverityMedium,
			fmt.Sprintf("Container '%s' in %s/%s uses image '%s' (latest / untagged). "+
				"This is non-reproducible and a security risk.", ctr, w.Namespace, w.Name, c.Image),
			[]models.Evidence{w.evidence("Image: " + c.Image)},
			models.RemediationDetail{
				Description: fmt.Sprintf("Pin '%s' to an immutable digest or semantic version tag.", ctr),
				Commands: []string{
					fmt.Sprintf("kubectl set image deployment/%s -n %s %s=%s:<specific-tag>",
						w.Name, w.Namespace, ctr, imageRepository(c.Image)),
				},
			},
		))
		return nil
	})
	return findings, err
}

// wildcardRBAC flags ClusterRoles granting "*" verbs or resources. Each role
// yields at most one finding, for its first wildcard rule.
type wildcardRBAC struct{}

func (wildcardRBAC) ID() string { return IDWildcardRBAC }

func (r wildcardRBAC) Evaluate(snap *snapshot.Snapshot, _ *graph.Graph) ([]models.Finding, error) {
	var findings []models.Finding
	for _, role := range snap.ClusterRoles {
		name := snapshot.Name(role.ObjectMeta)
		for _, pr := range role.Rules {
			var detail []string
			if contains(pr.Verbs, "*") {
				detail = append(detail, "verbs=[*]")
			}
			if contains(pr.Resources, "*") {
				detail = append(detail, "resources=[*]")
			}
			if len(detail) == 0 {
				continue
			}

			findings = append(findings, models.NewFinding(
				models.FindingID(r.ID(), clusterScope, name),
				models.CategorySecurity,
				models.SeverityCritical,
				fmt.Sprintf("ClusterRole '%s' grants wildcard permissions (%s). "+
					"This violates the principle of least privilege.", name, strings.Join(detail, ", ")),
				[]models.Evidence{{
					Kind:      "ClusterRole",
					Name:      name,
					Timestamp: snapshot.FormatTime(role.CreationTimestamp),
					Pointer:   fmt.Sprintf("kubectl get clusterrole %s -o yaml", name),
				}},
				models.RemediationDetail{
					Description: fmt.Sprintf("Replace wildcard grants in ClusterRole '%s' with specific verbs and resources.", name),
					Commands: []string{
						fmt.Sprintf("kubectl get clusterrole %s -o yaml > clusterrole-%s-backup.yaml", name, name),
					},
				},
			))
			break
		}
	}
	return findings, nil
}

// privilegedContainer flags containers with securityContext.privileged
type privilegedContainer struct{}

func (privilegedContainer) ID() string { return IDPrivilegedContainer }

func (r privilegedContainer) Evaluate(snap *snapshot.Snapshot, _ *graph.Graph) ([]models.Finding, error) {
	var findings []models.Finding
	err := forEachContainer(snap, func(w workload, idx int, c corev1.Container) error {
		if c.SecurityContext == nil || !ptr.Deref(c.SecurityContext.Privileged, false) {
			return nil
		}
		ctr := containerName(idx, c)
		patch, err := renderPatch(
			fmt.Sprintf("Patch container %s in %s/%s", ctr, w.Namespace, w.Name),
			obj{"securityContext": obj{"privileged": false, "runAsNonRoot": true}},
		)
		if err != nil {
			return err
		}
		findings = append(findings, models.NewFinding(
			models.FindingID(r.ID(), w.Namespace, w.Name, ctr),
			models.CategorySecurity,
			models.SeverityCritical,
			fmt.Sprintf("Container '%s' in %s/%s runs in privileged mode. "+
				"This grants full host access and is a severe security risk.", ctr, w.Namespace, w.Name),
			[]models.Evidence{w.evidence("")},
			models.RemediationDetail{
				Description: fmt.Sprintf("Remove privileged mode from container '%s'. Use specific capabilities instead.", ctr),
				Commands: []string{
					fmt.Sprintf(`kubectl patch deployment %s -n %s --type=json -p='[{"op":"replace","path":"/spec/template/spec/containers/%d/securityContext/privileged","value":false}]'`,
						w.Name, w.Namespace, idx),
				},
				PatchYAML: patch,
			},
		))
		return nil
	})
	return findings, err
}

// noNetworkPolicy flags namespaces with workloads but no NetworkPolicy
type noNetworkPolicy struct {
	skip map[string]struct{}
}

func newNoNetworkPolicy(systemNamespaces []string) noNetworkPolicy {
	skip := make(map[string]struct{}, len(systemNamespaces))
	for _, ns := range systemNamespaces {
		skip[ns] = struct{}{}
	}
	return noNetworkPolicy{skip: skip}
}

func (noNetworkPolicy) ID() string { return IDNoNetworkPolicy }

func (r noNetworkPolicy) Evaluate(snap *snapshot.Snapshot, _ *graph.Graph) ([]models.Finding, error) {
	covered := make(map[string]struct{}, len(snap.NetworkPolicies))
	for _, np := range snap.NetworkPolicies {
		covered[snapshot.Namespace(np.ObjectMeta)] = struct{}{}
	}

	workloads := make(map[string]struct{})
	for _, p := range snap.Pods {
		workloads[snapshot.Namespace(p.ObjectMeta)] = struct{}{}
	}
	for _, d := range snap.Deployments {
		workloads[snapshot.Namespace(d.ObjectMeta)] = struct{}{}
	}

	var namespaces []string
	for ns := range workloads {
		if _, ok := covered[ns]; ok {
			continue
		}
		if _, ok := r.skip[ns]; ok {
			continue
		}
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	var findings []models.Finding
	for _, ns := range namespaces {
		policy, err := renderPatch(
			fmt.Sprintf("Default-deny NetworkPolicy for namespace %s", ns),
			obj{
				"apiVersion": "networking.k8s.io/v1",
				"kind":       "NetworkPolicy",
				"metadata":   obj{"name": "default-deny", "namespace": ns},
				"spec": obj{
					"podSelector": obj{},
					"policyTypes": []string{"Ingress", "Egress"},
				},
			},
		)
		if err != nil {
			return nil, err
		}
		manifest := policy[strings.Index(policy, "\n")+1:]

		findings = append(findings, models.NewFinding(
			models.FindingID(r.ID(), ns, ns),
			models.CategorySecurity,
			models.SeverityMedium,
			fmt.Sprintf("Namespace '%s' has workloads but no NetworkPolicy. All pod-to-pod traffic is unrestricted.", ns),
			[]models.Evidence{{
				Kind:      "Namespace",
				Namespace: ns,
				Name:      ns,
				Pointer:   fmt.Sprintf("kubectl get networkpolicy -n %s", ns),
			}},
			models.RemediationDetail{
				Description: fmt.Sprintf("Create a default-deny NetworkPolicy in namespace '%s' "+
					"and then allow required traffic explicitly.", ns),
				Commands:  []string{"kubectl apply -f - <<EOF\n" + manifest + "\nEOF"},
				PatchYAML: policy,
			},
		))
	}
	return findings, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

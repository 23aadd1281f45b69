package aggregate

import (
	"fmt"
	"strings"

	"github.com/moolen/kubeaudit/internal/graph"
	"github.com/moolen/kubeaudit/internal/logging"
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/rules"
	"github.com/moolen/kubeaudit/internal/snapshot"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/ptr"
)

// DefaultMaxSignals caps a SignalSet built without an explicit limit
const DefaultMaxSignals = 200

// HighReplicaCount is the replica count above which a deployment gets a
// cost signal
const HighReplicaCount = 3

const (
	messageOrphanService = "Service has no matching deployments"
	messageSPOF          = "Deployment has at most 1 pod (single point of failure)"
	messageCrashLoop     = "Pod in CrashLoopBackOff state"
)

// Fixed signal text per finding rule. Container-scoped rules take the
// container name as their only argument.
var ruleMessages = map[string]string{
	rules.IDSingleReplica:         "Deployment has only 1 replica (no redundancy)",
	rules.IDHPAMissingHighCPU:     "Deployment requests high CPU but has no HPA",
	rules.IDWildcardRBAC:          "ClusterRole grants wildcard permissions",
	rules.IDNoNetworkPolicy:       "Namespace has no network policy",
	rules.IDPVCNotBound:           "PersistentVolumeClaim is not bound",
	rules.IDOverprovision:         "Deployment pods request a large share of node CPU",
	"crashloop":                   messageCrashLoop,
	rules.IDMissingRequests:       "Container %s has no resource requests",
	rules.IDMissingLimits:         "Container %s has no resource limits",
	rules.IDImageLatest:           "Container %s uses :latest or untagged image",
	rules.IDMissingReadinessProbe: "Container %s has no readiness probe",
	rules.IDMissingLivenessProbe:  "Container %s has no liveness probe",
	rules.IDPrivilegedContainer:   "Container %s runs in privileged mode",
	"oomkilled":                   "Container %s was OOMKilled",
	"imagepull":                   "Container %s cannot pull its image",
}

// SignalSet collects signals in insertion order, dropping any signal whose
// (category, resource, message) was already added and anything past the cap.
type SignalSet struct {
	max     int
	signals []models.Signal
	seen    map[models.SignalKey]struct{}
	dropped int
	logger  *logging.Logger
}

// NewSignalSet creates a set holding at most max signals. A non-positive
// max selects DefaultMaxSignals.
func NewSignalSet(max int) *SignalSet {
	if max <= 0 {
		max = DefaultMaxSignals
	}
	return &SignalSet{
		max:     max,
		signals: []models.Signal{},
		seen:    make(map[models.SignalKey]struct{}),
		logger:  logging.GetLogger("aggregate"),
	}
}

// FromFindings builds a signal set from findings, in finding order
func FromFindings(findings []models.Finding, max int) *SignalSet {
	s := NewSignalSet(max)
	s.AddFindings(findings)
	return s
}

// Add records a signal. It reports false for duplicates and for signals
// past the cap.
func (s *SignalSet) Add(category models.Category, severity models.Severity, resource, message string) bool {
	sig := models.Signal{Category: category, Severity: severity, Resource: resource, Message: message}
	if _, dup := s.seen[sig.Key()]; dup {
		return false
	}
	if len(s.signals) >= s.max {
		if s.dropped == 0 {
			s.logger.Debug("signal cap of %d reached, dropping further signals", s.max)
		}
		s.dropped++
		return false
	}
	s.seen[sig.Key()] = struct{}{}
	s.signals = append(s.signals, sig)
	return true
}

// AddFindings converts findings to signals. The resource is taken from the
// primary evidence and the message is fixed per rule, so findings of the
// same rule on the same object and container collapse into one signal.
func (s *SignalSet) AddFindings(findings []models.Finding) {
	for _, f := range findings {
		resource := ""
		if ev, ok := f.PrimaryEvidence(); ok {
			resource = Resource(ev.Kind, ev.Namespace, ev.Name)
		}
		s.Add(f.Category, f.Severity, resource, Message(f.ID))
	}
}

// Message returns the signal text for a finding id of the form
// rule:namespace/name[/container].
func Message(findingID string) string {
	rule, rest, _ := strings.Cut(findingID, ":")
	container := ""
	if parts := strings.SplitN(rest, "/", 3); len(parts) == 3 {
		container = parts[2]
	}

	format, ok := ruleMessages[rule]
	switch {
	case !ok && container != "":
		return fmt.Sprintf("Container %s: %s", container, rule)
	case !ok:
		return rule
	case !strings.Contains(format, "%s"):
		return format
	}
	if container == "" {
		container = "?"
	}
	return fmt.Sprintf(format, container)
}

// AddSnapshotSignals adds the signals read straight off the snapshot: pods
// with containers that are neither ready nor running, and deployments with
// more than HighReplicaCount replicas.
func (s *SignalSet) AddSnapshotSignals(snap *snapshot.Snapshot) {
	for _, pod := range snap.Pods {
		resource := Resource("Pod", snapshot.Namespace(pod.ObjectMeta), snapshot.Name(pod.ObjectMeta))
		for _, cs := range pod.Status.ContainerStatuses {
			state := containerState(cs)
			if cs.Ready || state == "Running" {
				continue
			}
			s.Add(models.CategoryReliability, models.SeverityHigh, resource,
				fmt.Sprintf("Container %s not ready (state: %s)", cs.Name, state))
		}
	}
	for _, dep := range snap.Deployments {
		replicas := ptr.Deref(dep.Spec.Replicas, 1)
		if replicas <= HighReplicaCount {
			continue
		}
		s.Add(models.CategoryCost, models.SeverityLow,
			Resource("Deployment", snapshot.Namespace(dep.ObjectMeta), snapshot.Name(dep.ObjectMeta)),
			fmt.Sprintf("Deployment has %d replicas (may be over-provisioned)", replicas))
	}
}

func containerState(cs corev1.ContainerStatus) string {
	switch {
	case cs.State.Waiting != nil:
		if cs.State.Waiting.Reason == "" {
			return "Waiting"
		}
		return cs.State.Waiting.Reason
	case cs.State.Running != nil:
		return "Running"
	case cs.State.Terminated != nil:
		if cs.State.Terminated.Reason == "" {
			return "Terminated"
		}
		return cs.State.Terminated.Reason
	}
	return "Unknown"
}

// AddGraphSignals adds a signal for every orphan service and every single
// point of failure in summary. g resolves the node ids.
func (s *SignalSet) AddGraphSignals(g *graph.Graph, summary graph.Summary) {
	for _, id := range summary.OrphanServices {
		if n, ok := g.Node(id); ok {
			s.Add(models.CategoryReliability, models.SeverityMedium, Resource(string(n.Kind), n.Namespace, n.Name), messageOrphanService)
		}
	}
	for _, id := range summary.SPOFs {
		if n, ok := g.Node(id); ok {
			s.Add(models.CategoryReliability, models.SeverityMedium, Resource(string(n.Kind), n.Namespace, n.Name), messageSPOF)
		}
	}
}

// Signals returns a copy of the collected signals
func (s *SignalSet) Signals() []models.Signal {
	out := make([]models.Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

// Len returns the number of collected signals
func (s *SignalSet) Len() int { return len(s.signals) }

// Dropped returns how many Add calls were rejected by the cap
func (s *SignalSet) Dropped() int { return s.dropped }

// Resource formats "kind/namespace/name" with a lowercase kind. Cluster-scoped
// objects omit the namespace segment.
func Resource(kind, namespace, name string) string {
	kind = strings.ToLower(kind)
	if namespace == "" {
		return kind + "/" + name
	}
	return kind + "/" + namespace + "/" + name
}

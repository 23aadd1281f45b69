// Package rules implements the deterministic audit checks.
//
// A Rule inspects the snapshot (and optionally the dependency graph) and
// returns findings. Rules are pure: they never mutate their inputs and the
// same snapshot always yields the same findings in the same order. The
// Engine runs a fixed, ordered list of rules and isolates failures so one
// broken rule never aborts an audit.
package rules

import (
	"github.com/moolen/kubeaudit/internal/graph"
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/snapshot"
)

// Rule is a single audit check
type Rule interface {
	// ID is the stable rule identifier used as the finding id prefix
	ID() string
	// Evaluate returns the findings for snap. g may be nil.
	Evaluate(snap *snapshot.Snapshot, g *graph.Graph) ([]models.Finding, error)
}

// Rule identifiers, in registration order
const (
	IDMissingRequests       = "missing_requests"
	IDSingleReplica         = "single_replica"
	IDImageLatest           = "image_latest"
	IDWildcardRBAC          = "wildcard_rbac"
	IDMissingLimits         = "missing_limits"
	IDMissingReadinessProbe = "missing_readiness_probe"
	IDMissingLivenessProbe  = "missing_liveness_probe"
	IDPrivilegedContainer   = "privileged_container"
	IDNoNetworkPolicy       = "no_network_policy"
	IDOverprovision         = "overprovision"
	IDHPAMissingHighCPU     = "hpa_missing_high_cpu"
	IDPVCNotBound           = "pvc_not_bound"
)

// Options tunes rule thresholds
type Options struct {
	// SystemNamespaces are never flagged by no_network_policy
	SystemNamespaces []string
	// OverprovisionRatio is the share of the largest node's allocatable CPU
	// a single pod may request before overprovision fires
	OverprovisionRatio float64
	// HPACPUThreshold is the per-pod CPU request (cores) from which a
	// deployment is expected to have an HPA
	HPACPUThreshold float64
}

// DefaultOptions returns the built-in thresholds
func DefaultOptions() Options {
	return Options{
		SystemNamespaces:   []string{"kube-system", "kube-public", "kube-node-lease"},
		OverprovisionRatio: 0.5,
		HPACPUThreshold:    0.5,
	}
}

// DefaultRules returns the twelve built-in rules in registration order
func DefaultRules(opts Options) []Rule {
	return []Rule{
		missingRequests{},
		singleReplica{},
		imageLatest{},
		wildcardRBAC{},
		missingLimits{},
		missingProbe{readiness: true},
		missingProbe{readiness: false},
		privilegedContainer{},
		newNoNetworkPolicy(opts.SystemNamespaces),
		overprovision{ratio: opts.OverprovisionRatio},
		hpaMissingHighCPU{threshold: opts.HPACPUThreshold},
		pvcNotBound{},
	}
}

package models

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// MaxSummaryLength caps Finding.Summary, in runes
const MaxSummaryLength = 300

const defaultRemediationText = "No remediation available."

// Evidence points at a concrete Kubernetes object or event backing a finding.
// Namespace is empty for cluster-scoped kinds.
type Evidence struct {
	Kind      string `json:"kind"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"` // RFC3339 or empty
	Pointer   string `json:"pointer"`   // kubectl command or description
}

// RemediationDetail is an actionable fix for a single finding
type RemediationDetail struct {
	Description string   `json:"description"`
	Commands    []string `json:"kubectl"`
	PatchYAML   string   `json:"patch_yaml"`
}

// DefaultRemediation returns the non-actionable placeholder remediation
func DefaultRemediation() RemediationDetail {
	return RemediationDetail{
		Description: defaultRemediationText,
		Commands:    []string{},
	}
}

// Actionable reports whether the remediation carries commands or a patch
func (r RemediationDetail) Actionable() bool {
	return len(r.Commands) > 0 || strings.TrimSpace(r.PatchYAML) != ""
}

// Finding is a single audit result. Findings are value objects: once emitted
// only Remediation may be replaced, and only as a whole.
type Finding struct {
	ID          string            `json:"id"`
	Category    Category          `json:"category"`
	Severity    Severity          `json:"severity"`
	Summary     string            `json:"summary"`
	Evidence    []Evidence        `json:"evidence"`
	Remediation RemediationDetail `json:"remediation"`
}

// NewFinding builds a finding with a capped summary. A nil evidence slice is
// replaced by an empty one so JSON output never carries null.
func NewFinding(id string, category Category, severity Severity, summary string, evidence []Evidence, remediation RemediationDetail) Finding {
	if evidence == nil {
		evidence = []Evidence{}
	}
	if remediation.Commands == nil {
		remediation.Commands = []string{}
	}
	return Finding{
		ID:          id,
		Category:    category,
		Severity:    severity,
		Summary:     CapSummary(summary),
		Evidence:    evidence,
		Remediation: remediation,
	}
}

// PrimaryEvidence returns the first evidence item, the object the finding is about
func (f Finding) PrimaryEvidence() (Evidence, bool) {
	if len(f.Evidence) == 0 {
		return Evidence{}, false
	}
	return f.Evidence[0], true
}

// WithRemediation returns a copy of f with its remediation replaced
func (f Finding) WithRemediation(r RemediationDetail) Finding {
	if r.Commands == nil {
		r.Commands = []string{}
	}
	f.Remediation = r
	return f
}

// FindingID builds "{rule}:{namespace}/{name}[/{container}]"
func FindingID(rule, namespace, name string, container ...string) string {
	var b strings.Builder
	b.WriteString(rule)
	b.WriteByte(':')
	b.WriteString(namespace)
	b.WriteByte('/')
	b.WriteString(name)
	for _, c := range container {
		if c == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(c)
	}
	return b.String()
}

// CapSummary truncates s to MaxSummaryLength runes
func CapSummary(s string) string {
	if utf8.RuneCountInString(s) <= MaxSummaryLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxSummaryLength-3]) + "..."
}

// SortBySeverity orders findings critical first. The sort is stable, so
// findings of equal severity keep their emission order.
func SortBySeverity(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Rank() < findings[j].Severity.Rank()
	})
}

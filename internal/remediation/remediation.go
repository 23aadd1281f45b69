// Package remediation guarantees every finding carries an actionable fix.
package remediation

import (
	"fmt"
	"strings"

	"github.com/moolen/kubeaudit/internal/models"
)

const (
	maxSummaryQuote   = 100
	manualInvestigate = "# No evidence - manual investigation required."
)

// Enrich returns a copy of findings in which every non-actionable
// remediation is replaced by a generic one derived from the primary
// evidence. Actionable remediations are kept as they are.
func Enrich(findings []models.Finding) []models.Finding {
	out := make([]models.Finding, len(findings))
	for i, f := range findings {
		if f.Remediation.Actionable() {
			out[i] = f
			continue
		}
		out[i] = f.WithRemediation(Generic(f))
	}
	return out
}

// Generic builds a best-effort remediation for f
func Generic(f models.Finding) models.RemediationDetail {
	summary := []rune(f.Summary)
	if len(summary) > maxSummaryQuote {
		summary = summary[:maxSummaryQuote]
	}
	return models.RemediationDetail{
		Description: "Review and address finding: " + string(summary),
		Commands:    []string{describeCommand(f)},
	}
}

func describeCommand(f models.Finding) string {
	ev, ok := f.PrimaryEvidence()
	if !ok {
		return manualInvestigate
	}
	cmd := fmt.Sprintf("kubectl describe %s %s", strings.ToLower(ev.Kind), ev.Name)
	if ev.Namespace != "" {
		cmd += " -n " + ev.Namespace
	}
	return cmd
}

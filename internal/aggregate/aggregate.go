// Package aggregate merges findings from the rule engine and the failure
// correlator, and maintains the deduplicated, capped signal view of them.
package aggregate

import (
	"github.com/moolen/kubeaudit/internal/models"
)

// Merge concatenates rule and correlator findings and sorts them by severity.
// Ties keep rule findings first, each in its input order. Nothing is
// deduplicated: one object may carry findings from several sources.
func Merge(ruleFindings, correlatorFindings []models.Finding) []models.Finding {
	merged := make([]models.Finding, 0, len(ruleFindings)+len(correlatorFindings))
	merged = append(merged, ruleFindings...)
	merged = append(merged, correlatorFindings...)
	models.SortBySeverity(merged)
	return merged
}

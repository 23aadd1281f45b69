package audit

import (
	"sort"

	"github.com/moolen/kubeaudit/internal/models"
)

// DiffResult lists the findings that appeared or disappeared between two runs
type DiffResult struct {
	// New holds findings present only after, in their report order
	New []models.Finding `json:"new"`
	// Resolved holds findings present only before, sorted by id
	Resolved []models.Finding `json:"resolved"`
}

// Diff compares two finding lists by id
func Diff(before, after []models.Finding) DiffResult {
	beforeIDs := make(map[string]struct{}, len(before))
	for _, f := range before {
		beforeIDs[f.ID] = struct{}{}
	}
	afterIDs := make(map[string]struct{}, len(after))
	for _, f := range after {
		afterIDs[f.ID] = struct{}{}
	}

	res := DiffResult{New: []models.Finding{}, Resolved: []models.Finding{}}
	for _, f := range after {
		if _, ok := beforeIDs[f.ID]; !ok {
			res.New = append(res.New, f)
		}
	}
	for _, f := range before {
		if _, ok := afterIDs[f.ID]; !ok {
			res.Resolved = append(res.Resolved, f)
		}
	}
	sort.SliceStable(res.Resolved, func(i, j int) bool {
		return res.Resolved[i].ID < res.Resolved[j].ID
	})
	return res
}

// Empty reports whether nothing changed
func (d DiffResult) Empty() bool {
	return len(d.New) == 0 && len(d.Resolved) == 0
}

package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/moolen/kubeaudit/internal/graph"
	"github.com/moolen/kubeaudit/internal/models"
)

// Failure describes a rule or detector whose contribution is missing from
// a report
type Failure struct {
	Source string `json:"source"` // "rule" or "correlator"
	Name   string `json:"name"`
	Error  string `json:"error"`
}

// Report is the complete outcome of one audit run
type Report struct {
	RunID       string        `json:"run_id"`
	ClusterName string        `json:"cluster_name"`
	GeneratedAt time.Time     `json:"generated_at"`
	Duration    time.Duration `json:"duration_ns"`

	Graph    graph.Summary    `json:"graph"`
	Findings []models.Finding `json:"findings"`
	Failures []Failure        `json:"failures"`
	Signals  []models.Signal  `json:"signals"`

	Cost       models.CostEstimate `json:"cost"`
	Risk       models.RiskScore    `json:"risk"`
	SignalRisk models.RiskScore    `json:"signal_risk"`
}

// SeverityCounts counts findings per severity
func (r *Report) SeverityCounts() map[models.Severity]int {
	counts := make(map[models.Severity]int, 4)
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}

// WriteFile writes the report as indented JSON
func (r *Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

// LoadReport reads a report written by WriteFile
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", path, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return &r, nil
}

// Package risk turns findings or signals into a bounded 0-100 risk score and
// an A-F grade.
//
// Findings and signals are weighted with separate tables: a deduplicated
// signal stands for less than a finding, so its weights are lower. Callers
// must pick the table that matches what they score.
package risk

import (
	"github.com/moolen/kubeaudit/internal/models"
)

// MaxScore caps every risk score
const MaxScore = 100

// WeightTable maps a severity to its score contribution. Severities missing
// from the table contribute 0.
type WeightTable map[models.Severity]int

// FindingWeights is the default table for scoring findings
func FindingWeights() WeightTable {
	return WeightTable{
		models.SeverityCritical: 25,
		models.SeverityHigh:     15,
		models.SeverityMedium:   8,
		models.SeverityLow:      3,
	}
}

// SignalWeights is the default table for scoring deduplicated signals
func SignalWeights() WeightTable {
	return WeightTable{
		models.SeverityCritical: 15,
		models.SeverityHigh:     8,
		models.SeverityMedium:   3,
		models.SeverityLow:      1,
	}
}

// WeightTableFromMap converts string-keyed weights, as read from
// configuration, into a table. Unknown severities are rejected.
func WeightTableFromMap(m map[string]int) (WeightTable, error) {
	t := make(WeightTable, len(m))
	for k, v := range m {
		sev, err := models.ParseSeverity(k)
		if err != nil {
			return nil, err
		}
		t[sev] = v
	}
	return t, nil
}

// gradeThresholds are inclusive lower bounds, highest first
var gradeThresholds = []struct {
	min   int
	grade string
}{
	{90, "F"},
	{70, "D"},
	{50, "C"},
	{30, "B"},
}

// Grade maps a score to a letter: >=90 F, >=70 D, >=50 C, >=30 B, else A
func Grade(score int) string {
	for _, t := range gradeThresholds {
		if score >= t.min {
			return t.grade
		}
	}
	return "A"
}

// Scorer computes risk scores from severity weights
type Scorer struct {
	Findings WeightTable
	Signals  WeightTable
}

// NewScorer creates a scorer with the default weight tables
func NewScorer() *Scorer {
	return &Scorer{Findings: FindingWeights(), Signals: SignalWeights()}
}

// ScoreFindings scores findings with the finding weight table
func (s *Scorer) ScoreFindings(findings []models.Finding) models.RiskScore {
	severities := make([]models.Severity, len(findings))
	for i, f := range findings {
		severities[i] = f.Severity
	}
	return Score(severities, s.Findings)
}

// ScoreSignals scores signals with the signal weight table
func (s *Scorer) ScoreSignals(signals []models.Signal) models.RiskScore {
	severities := make([]models.Severity, len(signals))
	for i, sig := range signals {
		severities[i] = sig.Severity
	}
	return Score(severities, s.Signals)
}

// Score sums the weights of severities, capped at MaxScore
func Score(severities []models.Severity, weights WeightTable) models.RiskScore {
	total := 0
	for _, sev := range severities {
		total += weights[sev]
	}
	if total > MaxScore {
		total = MaxScore
	}
	return models.RiskScore{Score: total, Grade: Grade(total), Count: len(severities)}
}

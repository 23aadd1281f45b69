package rules

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/moolen/kubeaudit/internal/graph"
	"github.com/moolen/kubeaudit/internal/logging"
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/snapshot"
)

// RuleError wraps an error returned or panic raised by a rule
type RuleError struct {
	RuleID string
	Err    error
	Panic  bool
}

func (e *RuleError) Error() string {
	if e.Panic {
		return fmt.Sprintf("rule %s panicked: %v", e.RuleID, e.Err)
	}
	return fmt.Sprintf("rule %s failed: %v", e.RuleID, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// RuleResult is the outcome of one rule invocation. A failed rule has a
// non-nil Err and no findings.
type RuleResult struct {
	RuleID   string
	Findings []models.Finding
	Err      error
	Duration time.Duration
}

// Result is the pooled outcome of an engine run
type Result struct {
	// Findings from all rules, sorted by severity, ties in registration order
	Findings []models.Finding
	// Rules holds one entry per rule, in registration order
	Rules []RuleResult
}

// Failures returns the results of rules that failed
func (r Result) Failures() []RuleResult {
	var failed []RuleResult
	for _, rr := range r.Rules {
		if rr.Err != nil {
			failed = append(failed, rr)
		}
	}
	return failed
}

// Engine runs an ordered list of rules
type Engine struct {
	rules  []Rule
	logger *logging.Logger
}

// NewEngine creates an engine over rules, kept in the given order
func NewEngine(rules ...Rule) *Engine {
	return &Engine{
		rules:  rules,
		logger: logging.GetLogger("rules"),
	}
}

// Rules returns the registered rules
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Run evaluates every rule sequentially. A rule that returns an error or
// panics contributes no findings; the run always completes. A finding whose
// id was already emitted earlier in the run is dropped.
func (e *Engine) Run(snap *snapshot.Snapshot, g *graph.Graph) Result {
	res := Result{
		Findings: []models.Finding{},
		Rules:    make([]RuleResult, 0, len(e.rules)),
	}
	seen := make(map[string]struct{})

	for _, rule := range e.rules {
		rr := e.evaluate(rule, snap, g)
		if rr.Err != nil {
			e.logger.WarnWithFields("rule failed, skipping its findings",
				logging.Field("rule", rr.RuleID),
				logging.Field("error", rr.Err),
			)
		}

		for _, f := range rr.Findings {
			if _, dup := seen[f.ID]; dup {
				e.logger.Debug("dropping duplicate finding %s", f.ID)
				continue
			}
			seen[f.ID] = struct{}{}
			res.Findings = append(res.Findings, f)
		}
		res.Rules = append(res.Rules, rr)
	}

	models.SortBySeverity(res.Findings)

	e.logger.DebugWithFields("rules evaluated",
		logging.Field("rules", len(e.rules)),
		logging.Field("findings", len(res.Findings)),
		logging.Field("failed", len(res.Failures())),
	)
	return res
}

// evaluate runs one rule inside a recover boundary
func (e *Engine) evaluate(rule Rule, snap *snapshot.Snapshot, g *graph.Graph) (rr RuleResult) {
	rr.RuleID = rule.ID()
	start := time.Now()

	defer func() {
		rr.Duration = time.Since(start)
		if r := recover(); r != nil {
			e.logger.Debug("rule %s panic stack:\n%s", rr.RuleID, debug.Stack())
			rr.Findings = nil
			rr.Err = &RuleError{RuleID: rr.RuleID, Err: fmt.Errorf("%v", r), Panic: true}
		}
	}()

	findings, err := rule.Evaluate(snap, g)
	if err != nil {
		rr.Err = &RuleError{RuleID: rr.RuleID, Err: err}
		return rr
	}
	rr.Findings = findings
	return rr
}

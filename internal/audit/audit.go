// Package audit runs the full audit pipeline over a snapshot:
// graph, rules, failure correlation, aggregation, remediation enrichment,
// cost and risk. It also owns the Prometheus view of audit results and the
// comparison of two runs.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/moolen/kubeaudit/internal/aggregate"
	"github.com/moolen/kubeaudit/internal/correlator"
	"github.com/moolen/kubeaudit/internal/cost"
	"github.com/moolen/kubeaudit/internal/graph"
	"github.com/moolen/kubeaudit/internal/logging"
	"github.com/moolen/kubeaudit/internal/remediation"
	"github.com/moolen/kubeaudit/internal/risk"
	"github.com/moolen/kubeaudit/internal/rules"
	"github.com/moolen/kubeaudit/internal/snapshot"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	sourceRule       = "rule"
	sourceCorrelator = "correlator"
)

// Auditor runs audits. It holds no per-run state and may be reused.
type Auditor struct {
	engine     *rules.Engine
	correlator *correlator.Correlator
	estimator  *cost.Estimator
	scorer     *risk.Scorer
	maxSignals int

	tracer  trace.Tracer
	metrics *Metrics
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures an Auditor
type Option func(*Auditor)

// WithTracer sets the tracer used for pipeline spans
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Auditor) { a.tracer = tracer }
}

// WithMetrics records every run in m
func WithMetrics(m *Metrics) Option {
	return func(a *Auditor) { a.metrics = m }
}

// WithRules replaces the built-in rule set
func WithRules(r ...rules.Rule) Option {
	return func(a *Auditor) { a.engine = rules.NewEngine(r...) }
}

// WithClock overrides the report timestamp source
func WithClock(now func() time.Time) Option {
	return func(a *Auditor) { a.now = now }
}

// New creates an auditor
func New(opts Options, options ...Option) *Auditor {
	a := &Auditor{
		engine:     rules.NewEngine(rules.DefaultRules(opts.Rules)...),
		correlator: correlator.New(),
		estimator:  cost.NewEstimator(opts.Pricing),
		scorer:     &risk.Scorer{Findings: opts.FindingWeights, Signals: opts.SignalWeights},
		maxSignals: opts.MaxSignals,
		tracer:     noop.NewTracerProvider().Tracer("audit"),
		logger:     logging.GetLogger("audit"),
		now:        time.Now,
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// Run audits snap. The pipeline itself never fails; an error is returned
// only for a nil snapshot or a context cancelled before the run starts.
func (a *Auditor) Run(ctx context.Context, snap *snapshot.Snapshot) (*Report, error) {
	if snap == nil {
		return nil, snapshot.ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	report := &Report{
		RunID:       uuid.NewString(),
		ClusterName: snap.ClusterName,
		GeneratedAt: a.now().UTC(),
		Failures:    []Failure{},
	}
	logger := a.logger.WithContext(ctx).WithField("run_id", report.RunID)

	ctx, span := a.tracer.Start(ctx, "audit.Run",
		trace.WithAttributes(
			attribute.String("audit.run_id", report.RunID),
			attribute.String("audit.cluster", snap.ClusterName),
		),
	)
	defer span.End()

	var g *graph.Graph
	a.stage(ctx, "graph", func(span trace.Span) {
		g = graph.Build(snap)
		report.Graph = graph.Summarize(g)
		span.SetAttributes(
			attribute.Int("graph.nodes", report.Graph.NodeCount),
			attribute.Int("graph.edges", report.Graph.EdgeCount),
		)
	})

	var ruleRes rules.Result
	a.stage(ctx, "rules", func(span trace.Span) {
		ruleRes = a.engine.Run(snap, g)
		for _, rr := range ruleRes.Failures() {
			span.RecordError(rr.Err)
			report.Failures = append(report.Failures, Failure{Source: sourceRule, Name: rr.RuleID, Error: rr.Err.Error()})
		}
		span.SetAttributes(attribute.Int("rules.findings", len(ruleRes.Findings)))
	})

	var corrRes correlator.Result
	a.stage(ctx, "correlate", func(span trace.Span) {
		corrRes = a.correlator.Run(snap)
		for _, f := range corrRes.Failures {
			span.RecordError(f)
			report.Failures = append(report.Failures, Failure{Source: sourceCorrelator, Name: f.Detector, Error: f.Error()})
		}
		span.SetAttributes(attribute.Int("correlator.findings", len(corrRes.Findings)))
	})

	a.stage(ctx, "aggregate", func(span trace.Span) {
		report.Findings = remediation.Enrich(aggregate.Merge(ruleRes.Findings, corrRes.Findings))

		signals := aggregate.FromFindings(report.Findings, a.maxSignals)
		signals.AddGraphSignals(g, report.Graph)
		signals.AddSnapshotSignals(snap)
		report.Signals = signals.Signals()
		span.SetAttributes(
			attribute.Int("aggregate.findings", len(report.Findings)),
			attribute.Int("aggregate.signals", len(report.Signals)),
			attribute.Int("aggregate.signals_dropped", signals.Dropped()),
		)
	})

	a.stage(ctx, "cost", func(span trace.Span) {
		report.Cost = a.estimator.Estimate(snap)
		span.SetAttributes(
			attribute.Float64("cost.monthly_total_usd", report.Cost.MonthlyTotalUSD),
			attribute.Float64("cost.waste_pct", report.Cost.WastePct),
		)
	})

	a.stage(ctx, "risk", func(span trace.Span) {
		report.Risk = a.scorer.ScoreFindings(report.Findings)
		report.SignalRisk = a.scorer.ScoreSignals(report.Signals)
		span.SetAttributes(
			attribute.Int("risk.score", report.Risk.Score),
			attribute.String("risk.grade", report.Risk.Grade),
		)
	})

	report.Duration = time.Since(start)
	if len(report.Failures) > 0 {
		span.SetStatus(codes.Error, "audit completed with failures")
	} else {
		span.SetStatus(codes.Ok, "audit completed")
	}
	if a.metrics != nil {
		a.metrics.Observe(report)
	}

	logger.InfoWithFields("audit completed",
		logging.Field("cluster", report.ClusterName),
		logging.Field("findings", len(report.Findings)),
		logging.Field("failures", len(report.Failures)),
		logging.Field("risk_score", report.Risk.Score),
		logging.Field("grade", report.Risk.Grade),
		logging.Field("duration", report.Duration.String()),
	)
	return report, nil
}

// stage runs fn inside a child span named "audit.<name>"
func (a *Auditor) stage(ctx context.Context, name string, fn func(span trace.Span)) {
	_, span := a.tracer.Start(ctx, "audit."+name)
	defer span.End()
	fn(span)
}

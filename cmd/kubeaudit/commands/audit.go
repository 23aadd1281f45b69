package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/moolen/kubeaudit/internal/audit"
	"github.com/moolen/kubeaudit/internal/config"
	"github.com/moolen/kubeaudit/internal/logging"
	"github.com/moolen/kubeaudit/internal/models"
	"github.com/moolen/kubeaudit/internal/snapshot"
	"github.com/moolen/kubeaudit/internal/tracing"
	"github.com/spf13/cobra"
)

const (
	outputText = "text"
	outputJSON = "json"
)

var (
	snapshotPath string
	kubeconfig   string
	kubeContext  string
	namespaces   []string
	outputFormat string
	outPath      string
	priceCPU     float64
	priceRAM     float64
	failOn       string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit a cluster or a snapshot file",
	Long: `Audit reads a snapshot file (--snapshot) or collects one read-only from
the cluster (--kubeconfig) and prints the ranked findings, cost projection
and risk score.`,
	Example: `  kubeaudit audit --snapshot cluster.json
  kubeaudit audit --kubeconfig ~/.kube/config --namespace shop --output json --out report.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := auditParams{
			source:  sourceFromFlags(),
			output:  outputFormat,
			outPath: outPath,
			failOn:  failOn,
		}
		if cmd.Flags().Changed("price-cpu") {
			params.priceCPU = &priceCPU
		}
		if cmd.Flags().Changed("price-ram") {
			params.priceRAM = &priceRAM
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runAudit(ctx, currentConfig(), params, cmd.OutOrStdout())
	},
}

func init() {
	addSourceFlags(auditCmd)
	auditCmd.Flags().StringVarP(&outputFormat, "output", "o", outputText, "Output format: text or json")
	auditCmd.Flags().StringVar(&outPath, "out", "", "Also write the JSON report to this file")
	auditCmd.Flags().Float64Var(&priceCPU, "price-cpu", 0, "USD per vCPU hour (overrides config)")
	auditCmd.Flags().Float64Var(&priceRAM, "price-ram", 0, "USD per GB RAM hour (overrides config)")
	auditCmd.Flags().StringVar(&failOn, "fail-on", "", "Exit non-zero when a finding of this severity or worse exists")
}

// addSourceFlags registers the flags selecting where a snapshot comes from
func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Path to a JSON or YAML snapshot file")
	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "Path to kubeconfig (default: in-cluster or $KUBECONFIG)")
	cmd.Flags().StringVar(&kubeContext, "context", "", "Kubeconfig context to use")
	cmd.Flags().StringSliceVarP(&namespaces, "namespace", "n", nil, "Namespaces to collect (repeatable, default: all)")
}

// snapshotSource selects a snapshot file or a live cluster
type snapshotSource struct {
	path        string
	kubeconfig  string
	kubeContext string
	namespaces  []string
}

func sourceFromFlags() snapshotSource {
	return snapshotSource{
		path:        snapshotPath,
		kubeconfig:  kubeconfig,
		kubeContext: kubeContext,
		namespaces:  namespaces,
	}
}

// load reads the snapshot file or collects a fresh snapshot
func (s snapshotSource) load(ctx context.Context, cfg *config.Config) (*snapshot.Snapshot, error) {
	logger := logging.GetLogger("commands")
	if s.path != "" {
		snap, report, err := snapshot.LoadFile(s.path)
		if err != nil {
			return nil, err
		}
		if !report.OK() {
			logger.Warn("Snapshot %s: skipped %d undecodable items, read %d unparseable quantities as 0",
				s.path, len(report.Skipped), len(report.Zeroed))
		}
		return snap, nil
	}

	client, clusterName, err := snapshot.NewClientset(s.kubeconfig, s.kubeContext)
	if err != nil {
		return nil, err
	}
	collector := snapshot.NewCollector(client, collectorOptions(cfg, clusterName)...)
	logger.Info("Collecting snapshot from cluster %s", clusterName)
	return collector.Collect(ctx, s.namespaces)
}

// collectorOptions derives collector settings from the configuration
func collectorOptions(cfg *config.Config, clusterName string) []snapshot.CollectorOption {
	return []snapshot.CollectorOption{
		snapshot.WithClusterName(clusterName),
		snapshot.WithEventWindow(cfg.EventWindow),
		snapshot.WithRateLimit(cfg.Collector.QPS, cfg.Collector.Burst),
	}
}

type auditParams struct {
	source   snapshotSource
	output   string
	outPath  string
	failOn   string
	priceCPU *float64
	priceRAM *float64
}

// runAudit loads a snapshot, audits it and renders the report to w
func runAudit(ctx context.Context, cfg *config.Config, params auditParams, w io.Writer) error {
	if params.output != outputText && params.output != outputJSON {
		return fmt.Errorf("invalid output format %q (must be text or json)", params.output)
	}
	var threshold models.Severity
	if params.failOn != "" {
		sev, err := models.ParseSeverity(params.failOn)
		if err != nil {
			return err
		}
		threshold = sev
	}

	opts, err := audit.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	if params.priceCPU != nil {
		opts.Pricing.CPUHour = *params.priceCPU
	}
	if params.priceRAM != nil {
		opts.Pricing.RAMGBHour = *params.priceRAM
	}
	if opts.Pricing.CPUHour < 0 || opts.Pricing.RAMGBHour < 0 {
		return fmt.Errorf("prices must not be negative")
	}

	provider, err := newTracingProvider(cfg)
	if err != nil {
		return err
	}
	defer shutdownTracing(provider)

	snap, err := params.source.load(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	report, err := audit.New(opts, audit.WithTracer(provider.Tracer("audit"))).Run(ctx, snap)
	if err != nil {
		return err
	}

	if params.outPath != "" {
		if err := report.WriteFile(params.outPath); err != nil {
			return err
		}
	}
	if err := writeReport(w, params.output, report); err != nil {
		return err
	}

	if threshold != "" {
		if n := countAtOrAbove(report.Findings, threshold); n > 0 {
			return fmt.Errorf("%d findings at or above severity %s", n, threshold)
		}
	}
	return nil
}

func writeReport(w io.Writer, format string, report *audit.Report) error {
	if format == outputJSON {
		return writeJSON(w, report)
	}
	return renderReport(w, report)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func countAtOrAbove(findings []models.Finding, threshold models.Severity) int {
	n := 0
	for _, f := range findings {
		if f.Severity.Rank() <= threshold.Rank() {
			n++
		}
	}
	return n
}

// currentConfig returns the loaded configuration, or the defaults when the
// root pre-run did not execute
func currentConfig() *config.Config {
	if cfg != nil {
		return cfg
	}
	return config.Default()
}

func newTracingProvider(cfg *config.Config) (*tracing.Provider, error) {
	provider, err := tracing.NewProvider(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		TLSCAPath:   cfg.Tracing.TLSCAPath,
		TLSInsecure: cfg.Tracing.TLSInsecure,
		Version:     Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	return provider, nil
}

func shutdownTracing(provider *tracing.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := provider.Shutdown(ctx); err != nil {
		logging.GetLogger("commands").Warn("Tracing shutdown: %v", err)
	}
}

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/moolen/kubeaudit/internal/audit"
	"github.com/moolen/kubeaudit/internal/config"
	"github.com/spf13/cobra"
)

var (
	diffReports bool
	diffOutput  string
)

var diffCmd = &cobra.Command{
	Use:   "diff BEFORE AFTER",
	Short: "Show findings that appeared or were resolved between two snapshots",
	Long: `Diff audits two snapshot files and lists the findings present only in
AFTER (new) and only in BEFORE (resolved). With --reports both arguments are
JSON reports written by "kubeaudit audit --out" instead.`,
	Example: `  kubeaudit diff monday.json tuesday.json
  kubeaudit diff --reports before-report.json after-report.json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDiff(cmd.Context(), currentConfig(), args[0], args[1], diffReports, diffOutput, cmd.OutOrStdout())
	},
}

func init() {
	diffCmd.Flags().BoolVar(&diffReports, "reports", false, "Arguments are saved reports rather than snapshots")
	diffCmd.Flags().StringVarP(&diffOutput, "output", "o", outputText, "Output format: text or json")
}

func runDiff(ctx context.Context, cfg *config.Config, before, after string, reports bool, output string, w io.Writer) error {
	if output != outputText && output != outputJSON {
		return fmt.Errorf("invalid output format %q (must be text or json)", output)
	}

	load := func(path string) (*audit.Report, error) {
		if reports {
			return audit.LoadReport(path)
		}
		return auditFile(ctx, cfg, path)
	}

	beforeReport, err := load(before)
	if err != nil {
		return err
	}
	afterReport, err := load(after)
	if err != nil {
		return err
	}

	result := audit.Diff(beforeReport.Findings, afterReport.Findings)
	if output == outputJSON {
		return writeJSON(w, result)
	}
	return renderDiff(w, result)
}

// auditFile audits a snapshot file with the configured options
func auditFile(ctx context.Context, cfg *config.Config, path string) (*audit.Report, error) {
	opts, err := audit.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	snap, err := snapshotSource{path: path}.load(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", path, err)
	}
	return audit.New(opts).Run(ctx, snap)
}

package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/moolen/kubeaudit/internal/audit"
	"github.com/moolen/kubeaudit/internal/models"
)

// Color palette
var (
	colorPrimary = lipgloss.Color("#00D4FF") // Cyan
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Yellow/Orange
	colorError   = lipgloss.Color("#EF4444") // Red
	colorMuted   = lipgloss.Color("#6B7280") // Gray
	colorDim     = lipgloss.Color("#4B5563") // Darker gray
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true).
			MarginTop(1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	commandStyle = lipgloss.NewStyle().
			Foreground(colorSuccess)

	separatorStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	severityStyles = map[models.Severity]lipgloss.Style{
		models.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(colorError),
		models.SeverityHigh:     lipgloss.NewStyle().Foreground(colorError),
		models.SeverityMedium:   lipgloss.NewStyle().Foreground(colorWarning),
		models.SeverityLow:      lipgloss.NewStyle().Foreground(colorMuted),
	}
)

func severityLabel(s models.Severity) string {
	label := fmt.Sprintf("%-8s", strings.ToUpper(string(s)))
	style, ok := severityStyles[s]
	if !ok {
		return label
	}
	return style.Render(label)
}

func gradeStyle(grade string) lipgloss.Style {
	switch grade {
	case "A", "B":
		return lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
	case "C":
		return lipgloss.NewStyle().Bold(true).Foreground(colorWarning)
	default:
		return lipgloss.NewStyle().Bold(true).Foreground(colorError)
	}
}

func separator() string {
	return separatorStyle.Render(strings.Repeat("─", 60))
}

// renderReport writes the human readable report
func renderReport(w io.Writer, r *audit.Report) error {
	var b strings.Builder

	b.WriteString(titleStyle.Render("kubeaudit report: "+r.ClusterName) + "\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("run %s at %s (%s)",
		r.RunID, r.GeneratedAt.Format("2006-01-02 15:04:05Z07:00"), r.Duration.Round(time.Millisecond))) + "\n")
	b.WriteString(separator() + "\n")

	b.WriteString(fmt.Sprintf("Risk score: %s  grade %s  (%d findings)\n",
		gradeStyle(r.Risk.Grade).Render(fmt.Sprintf("%d/100", r.Risk.Score)),
		gradeStyle(r.Risk.Grade).Render(r.Risk.Grade),
		r.Risk.Count))
	b.WriteString(fmt.Sprintf("Signal risk: %d/100  grade %s  (%d signals)\n",
		r.SignalRisk.Score, r.SignalRisk.Grade, r.SignalRisk.Count))

	counts := r.SeverityCounts()
	parts := make([]string, 0, len(models.Severities()))
	for _, sev := range models.Severities() {
		parts = append(parts, fmt.Sprintf("%s %d", strings.TrimSpace(severityLabel(sev)), counts[sev]))
	}
	b.WriteString(strings.Join(parts, "  ") + "\n")

	renderFindings(&b, r.Findings)
	renderCost(&b, r.Cost)
	renderGraph(&b, r)

	if len(r.Failures) > 0 {
		b.WriteString(sectionStyle.Render("Failed checks") + "\n")
		for _, f := range r.Failures {
			b.WriteString(fmt.Sprintf("  %s %s: %s\n", f.Source, f.Name, f.Error))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func renderFindings(b *strings.Builder, findings []models.Finding) {
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Findings (%d)", len(findings))) + "\n")
	if len(findings) == 0 {
		b.WriteString(mutedStyle.Render("  No findings.") + "\n")
		return
	}
	for _, f := range findings {
		b.WriteString(fmt.Sprintf("%s %s %s\n", severityLabel(f.Severity), mutedStyle.Render("["+string(f.Category)+"]"), f.ID))
		b.WriteString("  " + f.Summary + "\n")
		if ev, ok := f.PrimaryEvidence(); ok {
			b.WriteString(mutedStyle.Render("  evidence: "+ev.Pointer) + "\n")
		}
		b.WriteString("  fix: " + f.Remediation.Description + "\n")
		for _, c := range f.Remediation.Commands {
			for _, line := range strings.Split(c, "\n") {
				b.WriteString("    " + commandStyle.Render(line) + "\n")
			}
		}
	}
}

func renderCost(b *strings.Builder, c models.CostEstimate) {
	b.WriteString(sectionStyle.Render("Monthly cost") + "\n")
	for _, d := range c.Deployments {
		b.WriteString(fmt.Sprintf("  %-40s %3d x %6.3f cpu %7.3f GB  $%9.2f\n",
			d.Namespace+"/"+d.Name, d.Replicas, d.CPURequests, d.MemRequestsGB, d.MonthlyCostUSD))
	}

	nss := make([]string, 0, len(c.NamespaceTotals))
	for ns := range c.NamespaceTotals {
		nss = append(nss, ns)
	}
	sort.Strings(nss)
	for _, ns := range nss {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  namespace %-30s $%9.2f", ns, c.NamespaceTotals[ns])) + "\n")
	}
	b.WriteString(fmt.Sprintf("  Total: $%.2f/month  Waste: %.1f%%\n", c.MonthlyTotalUSD, c.WastePct))
}

func renderGraph(b *strings.Builder, r *audit.Report) {
	b.WriteString(sectionStyle.Render("Topology") + "\n")
	b.WriteString(fmt.Sprintf("  %d nodes, %d edges, %d signals\n", r.Graph.NodeCount, r.Graph.EdgeCount, len(r.Signals)))
	if len(r.Graph.SPOFs) > 0 {
		b.WriteString("  single points of failure: " + strings.Join(r.Graph.SPOFs, ", ") + "\n")
	}
	if len(r.Graph.OrphanServices) > 0 {
		b.WriteString("  orphan services: " + strings.Join(r.Graph.OrphanServices, ", ") + "\n")
	}
}

// renderDiff writes new and resolved findings
func renderDiff(w io.Writer, d audit.DiffResult) error {
	var b strings.Builder
	b.WriteString(titleStyle.Render("kubeaudit diff") + "\n")
	if d.Empty() {
		b.WriteString(mutedStyle.Render("No changes.") + "\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString(sectionStyle.Render(fmt.Sprintf("New (%d)", len(d.New))) + "\n")
	for _, f := range d.New {
		b.WriteString(fmt.Sprintf("+ %s %s\n  %s\n", severityLabel(f.Severity), f.ID, f.Summary))
	}
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Resolved (%d)", len(d.Resolved))) + "\n")
	for _, f := range d.Resolved {
		b.WriteString(fmt.Sprintf("- %s %s\n", severityLabel(f.Severity), f.ID))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

package accept

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

// writeReportMarkdown renders report/acceptance_report.md.
func writeReportMarkdown(layout plan.Layout, report *models.AcceptanceReport, metrics, baseline map[string]any) error {
	var b strings.Builder
	b.WriteString("# Acceptance Report\n\n")
	fmt.Fprintf(&b, "Plan: `%s`\nRun: `%s`\nEvaluated: %s\n\n", report.PlanID, report.RunID, report.EvaluatedAt)
	fmt.Fprintf(&b, "## Status: %s\n\n", strings.ToUpper(string(report.Status)))

	b.WriteString("| Check | Type | Status | Detail |\n")
	b.WriteString("|-------|------|--------|--------|\n")
	for _, r := range report.Results {
		name := r.Check.ID
		if name == "" {
			name = r.Check.Selector
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", name, r.Check.Type, r.Status, r.Detail)
	}

	if len(metrics) > 0 {
		b.WriteString("\n## Metrics\n\n| Metric | Value | Baseline | Delta |\n|--------|-------|----------|-------|\n")
		names := make([]string, 0, len(metrics))
		for name := range metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			base, delta := "-", "-"
			if bv, ok := baseline[name]; ok {
				base = fmt.Sprintf("%v", bv)
				if cur, cok := toNumber(metrics[name]); cok {
					if b2, bok := toNumber(bv); bok {
						delta = fmt.Sprintf("%+.6g", cur-b2)
					}
				}
			}
			fmt.Fprintf(&b, "| %s | %v | %s | %s |\n", name, metrics[name], base, delta)
		}
	}

	if len(report.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range report.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}

	return plan.WriteText(layout.Path(plan.AcceptReportMD), b.String())
}

package executor

import (
	"fmt"
	"strings"

	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

// writeSummary renders report/execute_summary.md from the execute log.
func writeSummary(layout plan.Layout, log *models.ExecuteLog) error {
	var b strings.Builder
	b.WriteString("# Execute Summary\n\n")
	if log.PlanID != "" {
		fmt.Fprintf(&b, "Plan: `%s`\n\n", log.PlanID)
	}

	counts := map[models.NodeStatus]int{}
	for _, r := range log.Results {
		counts[r.Status]++
	}
	fmt.Fprintf(&b, "%d nodes: %d succeeded, %d failed, %d skipped\n\n",
		len(log.Results),
		counts[models.NodeSucceeded],
		counts[models.NodeFailed],
		counts[models.NodeSkipped])

	b.WriteString("| Node | Type | Status | Executor | Attempts |\n")
	b.WriteString("|------|------|--------|----------|----------|\n")
	for _, r := range log.Results {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d |\n",
			r.NodeID, r.Type, r.Status, r.Executor, len(r.Attempts))
	}

	var failures []models.NodeResult
	for _, r := range log.Results {
		if r.Status == models.NodeFailed {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		b.WriteString("\n## Failures\n")
		for _, r := range failures {
			fmt.Fprintf(&b, "\n### %s\n\n%s\n", r.NodeID, r.Error)
			if n := len(r.Attempts); n > 0 && r.Attempts[n-1].StderrTail != "" {
				fmt.Fprintf(&b, "\n```\n%s\n```\n", r.Attempts[n-1].StderrTail)
			}
		}
	}

	return plan.WriteText(layout.Path(plan.ExecuteSummaryPath), b.String())
}

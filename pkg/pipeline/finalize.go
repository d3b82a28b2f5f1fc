package pipeline

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

// finalMetricsDoc is the report/final_metrics.json shape.
type finalMetricsDoc struct {
	SchemaVersion int            `json:"schemaVersion"`
	PlanID        string         `json:"planId,omitempty"`
	GeneratedAt   string         `json:"generatedAt,omitempty"`
	Metrics       map[string]any `json:"metrics"`
}

// Finalize promotes evaluation output into the final documents: it writes
// report/final_metrics.json from the eval metrics when the report node did
// not, and renders report/final_report.md from the execute log and metrics.
// Already-present final documents are kept.
func (r *Runner) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	if req.PlanDir == "" {
		return nil, fmt.Errorf("%w: planDir is required", ErrInvalidRequest)
	}
	layout := plan.NewLayout(req.PlanDir)
	res := &FinalizeResult{}

	metrics, errs := finalMetrics(layout)
	res.Errors = errs
	res.Metrics = metrics
	if metrics == nil {
		res.Errors = append(res.Errors, "no metrics document produced by eval.run or report.write")
		return res, nil
	}

	if _, err := os.Stat(layout.Path(plan.FinalMetricsPath)); err != nil {
		doc := finalMetricsDoc{
			SchemaVersion: 1,
			GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
			Metrics:       metrics,
		}
		var pctx models.PlanContext
		if err := plan.ReadJSON(layout.Path(plan.ContextPath), &pctx); err == nil {
			doc.PlanID = pctx.PlanID
		}
		if err := plan.WriteJSON(layout.Path(plan.FinalMetricsPath), &doc); err != nil {
			return nil, err
		}
		res.Paths = append(res.Paths, plan.FinalMetricsPath)
	}

	if _, err := os.Stat(layout.Path(plan.FinalReportPath)); err != nil {
		var execLog models.ExecuteLog
		_ = plan.ReadJSON(layout.Path(plan.ExecuteLogPath), &execLog)
		if err := plan.WriteText(layout.Path(plan.FinalReportPath), renderFinalReport(&execLog, metrics)); err != nil {
			return nil, err
		}
		res.Paths = append(res.Paths, plan.FinalReportPath)
	}

	res.OK = true
	r.logger.Info("Plan finalized", "plan_dir", req.PlanDir, "metrics", len(metrics), "written", res.Paths)
	return res, nil
}

// finalMetrics loads the freshest metrics document, tolerating both the flat
// and the {"metrics": {...}} shapes.
func finalMetrics(layout plan.Layout) (map[string]any, []string) {
	var errs []string
	for _, rel := range []string{plan.FinalMetricsPath, plan.EvalMetricsPath} {
		path := layout.Path(rel)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		var raw map[string]any
		if err := plan.ReadJSON(path, &raw); err != nil {
			errs = append(errs, fmt.Sprintf("unreadable %s: %v", rel, err))
			continue
		}
		if inner, ok := raw["metrics"].(map[string]any); ok {
			return inner, errs
		}
		return raw, errs
	}
	return nil, errs
}

func renderFinalReport(execLog *models.ExecuteLog, metrics map[string]any) string {
	var b strings.Builder
	b.WriteString("# Experiment Report\n\n## Metrics\n\n")
	if len(metrics) == 0 {
		b.WriteString("No metrics were recorded.\n")
	} else {
		names := make([]string, 0, len(metrics))
		for name := range metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("| Metric | Value |\n|--------|-------|\n")
		for _, name := range names {
			fmt.Fprintf(&b, "| %s | %v |\n", name, metrics[name])
		}
	}

	if len(execLog.Results) > 0 {
		b.WriteString("\n## Execution\n\n| Node | Status | Attempts |\n|------|--------|----------|\n")
		for _, nr := range execLog.Results {
			fmt.Fprintf(&b, "| %s | %s | %d |\n", nr.NodeID, nr.Status, len(nr.Attempts))
		}
	}
	return b.String()
}

// Package accept evaluates a plan's acceptance criteria against its execution
// results, archives the run with a SHA-256 manifest, and emits the acceptance
// report. The aggregate status maps to process exit codes: pass=0, fail=1,
// needs_confirm=2.
package accept

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

// Request parameterizes one accept run.
type Request struct {
	// PlanDir is the plan package root.
	PlanDir string

	// BaselinePath optionally points at a baseline final_metrics.json. Empty
	// resolves the most recent archived run's metrics.
	BaselinePath string
}

// Engine runs acceptance evaluation.
type Engine struct {
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates an accept engine.
func New() *Engine {
	return &Engine{
		logger: slog.With("component", "accept"),
		now:    time.Now,
	}
}

// Accept validates the plan, evaluates every acceptance check, writes
// report/acceptance_report.{json,md}, and archives the run. The report is
// returned even when the aggregate status is fail; the error return covers
// I/O and validation problems only.
func (e *Engine) Accept(req Request) (*models.AcceptanceReport, error) {
	v := plan.ValidatePlanDir(req.PlanDir, plan.ValidateOptions{})
	if !v.OK {
		return nil, fmt.Errorf("plan %s failed validation: %v", req.PlanDir, v.Errors)
	}
	layout := plan.NewLayout(req.PlanDir)

	now := e.now()
	runID := plan.ComputeRunID(now, v.PlanID)
	report := &models.AcceptanceReport{
		SchemaVersion: 1,
		PlanID:        v.PlanID,
		RunID:         runID,
		EvaluatedAt:   now.UTC().Format(time.RFC3339),
	}

	metrics, warnings := loadScalarMetrics(layout)
	report.Warnings = append(report.Warnings, warnings...)

	baseline, baseWarn := resolveBaseline(layout, req.BaselinePath)
	report.Warnings = append(report.Warnings, baseWarn...)

	var execLog models.ExecuteLog
	if err := plan.ReadJSON(layout.Path(plan.ExecuteLogPath), &execLog); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("no execute log: %v", err))
	}

	approvals := loadApprovals(layout)

	in := checkInput{
		layout:    layout,
		metrics:   metrics,
		execLog:   &execLog,
		approvals: approvals,
	}
	for _, check := range v.Acceptance.Checks {
		report.Results = append(report.Results, evaluateCheck(in, check))
	}
	report.Status = aggregate(report.Results)

	if err := plan.WriteJSON(layout.Path(plan.AcceptReportJSON), report); err != nil {
		return report, fmt.Errorf("write acceptance report: %w", err)
	}
	if err := writeReportMarkdown(layout, report, metrics, baseline); err != nil {
		return report, fmt.Errorf("write acceptance report markdown: %w", err)
	}

	if err := archiveRun(layout, runID, v.PlanID, now); err != nil {
		return report, fmt.Errorf("archive run %s: %w", runID, err)
	}

	e.logger.Info("Acceptance evaluated",
		"plan_id", v.PlanID,
		"run_id", runID,
		"status", report.Status,
		"checks", len(report.Results))
	return report, nil
}

// aggregate folds check results: any fail wins, then any needs_confirm.
func aggregate(results []models.CheckResult) models.CheckStatus {
	status := models.CheckPass
	for _, r := range results {
		switch r.Status {
		case models.CheckFail:
			return models.CheckFail
		case models.CheckNeedsConfirm:
			status = models.CheckNeedsConfirm
		}
	}
	return status
}

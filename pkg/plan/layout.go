// Package plan implements the on-disk plan package model: directory layout,
// plan ids, document I/O, schema validation, and the built-in retry table.
package plan

import (
	"os"
	"path/filepath"
)

// Canonical plan-relative paths. Everything the pipeline reads or writes
// lives under one of these.
const (
	ProposalPath       = "input/proposal.md"
	ContextPath        = "input/context.json"
	EntitiesPath       = "ir/extracted.entities.json"
	DiscoveryPath      = "ir/discovery.json"
	RepoProfilesDir    = "ir/repo_profiles"
	DAGPath            = "plan/plan.dag.json"
	AcceptancePath     = "plan/acceptance.json"
	RetryPath          = "plan/retry.json"
	ScriptsDir         = "plan/scripts"
	CompileReportPath  = "report/compile_report.json"
	NeedsConfirmPath   = "report/needs_confirm.md"
	RunbookPath        = "report/runbook.md"
	SafeRunPath        = "report/safe_run.json"
	ExecuteLogPath     = "report/execute_log.json"
	ExecuteSummaryPath = "report/execute_summary.md"
	EvalMetricsPath    = "report/eval_metrics.json"
	FinalMetricsPath   = "report/final_metrics.json"
	FinalReportPath    = "report/final_report.md"
	AcceptReportJSON   = "report/acceptance_report.json"
	AcceptReportMD     = "report/acceptance_report.md"
	ApprovalsPath      = "report/manual_approvals.json"
	CheckpointManifest = "report/checkpoint_manifest.json"
	StaticChecksPath   = "report/static_checks.json"
	RepairsDir         = "report/repairs"
	RunsDir            = "report/runs"
	GitCacheDir        = "cache/git"
	VenvCacheDir       = "cache/venv"
	PipCacheDir        = "cache/pip"
	HFCacheDir         = "cache/hf"
	ModelArtifactsDir  = "artifacts/model"
)

// Layout resolves plan-relative paths against a plan root directory.
type Layout struct {
	Root string
}

// NewLayout returns a Layout rooted at dir.
func NewLayout(dir string) Layout {
	return Layout{Root: dir}
}

// Path joins a plan-relative path onto the root.
func (l Layout) Path(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

// RepairAttemptDir returns report/repairs/<nodeID>/attempt-<n>.
func (l Layout) RepairAttemptDir(nodeID string, attempt int) string {
	return filepath.Join(l.Path(RepairsDir), nodeID, attemptDirName(attempt))
}

// RunDir returns report/runs/<runID>.
func (l Layout) RunDir(runID string) string {
	return filepath.Join(l.Path(RunsDir), runID)
}

// ScriptPath returns plan/scripts/<nodeID>.sh.
func (l Layout) ScriptPath(nodeID string) string {
	return filepath.Join(l.Path(ScriptsDir), nodeID+".sh")
}

// MkdirAll creates the skeleton directory tree of a fresh plan package.
func (l Layout) MkdirAll() error {
	dirs := []string{
		"input", "ir", RepoProfilesDir, "plan", ScriptsDir,
		"report", RepairsDir, RunsDir,
		GitCacheDir, VenvCacheDir, PipCacheDir, HFCacheDir, ModelArtifactsDir,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(l.Path(d), 0o755); err != nil {
			return err
		}
	}
	return nil
}

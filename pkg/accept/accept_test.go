package accept

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

// acceptFixture lays down a valid plan package with the given checks, a
// metrics document, and an execute log, and returns the plan root.
func acceptFixture(t *testing.T, checks []models.AcceptanceCheck) string {
	t.Helper()
	root := t.TempDir()
	l := plan.NewLayout(root)
	require.NoError(t, l.MkdirAll())

	require.NoError(t, plan.WriteText(l.Path(plan.ProposalPath), "Fine-tune a classifier and report accuracy."))
	require.NoError(t, plan.WriteJSON(l.Path(plan.ContextPath), models.PlanContext{
		PlanID:    "20240102-030405-abcdef123456",
		Discovery: models.DiscoveryPlan,
	}))

	d := &models.PlanDAG{
		SchemaVersion: 1,
		PlanID:        "20240102-030405-abcdef123456",
		Nodes: []models.DAGNode{
			{ID: "setup.venv", Type: models.NodeTypeSetupVenv, Tool: models.ToolShell,
				Outputs:  []string{"cache/venv/default", "cache/hf", "cache/pip"},
				Commands: []string{"sh plan/scripts/setup.venv.sh"}},
			{ID: "install.deps", Type: models.NodeTypeInstallDeps, Tool: models.ToolShell,
				Commands: []string{"sh plan/scripts/install.deps.sh"}},
			{ID: "train.run", Type: models.NodeTypeTrain, Tool: models.ToolShell,
				Outputs:  []string{"artifacts/model/default"},
				Commands: []string{"sh plan/scripts/train.run.sh"}},
			{ID: "eval.run", Type: models.NodeTypeEval, Tool: models.ToolShell,
				Outputs:  []string{"report/eval_metrics.json"},
				Commands: []string{"sh plan/scripts/eval.run.sh"}},
			{ID: "report.write", Type: models.NodeTypeReport, Tool: models.ToolShell,
				Outputs:  []string{"report/final_metrics.json"},
				Commands: []string{"sh plan/scripts/report.write.sh"}},
		},
		Edges: []models.DAGEdge{
			{From: "setup.venv", To: "install.deps"},
			{From: "install.deps", To: "train.run"},
			{From: "train.run", To: "eval.run"},
			{From: "eval.run", To: "report.write"},
		},
	}
	require.NoError(t, plan.WriteJSON(l.Path(plan.DAGPath), d))
	require.NoError(t, plan.WriteJSON(l.Path(plan.AcceptancePath), models.AcceptanceSpec{
		SchemaVersion: 1,
		Checks:        checks,
	}))
	require.NoError(t, plan.WriteJSON(l.Path(plan.RetryPath), plan.BuiltinRetrySpec()))

	// Execution artifacts the checks inspect.
	require.NoError(t, plan.WriteJSON(l.Path(plan.FinalMetricsPath), map[string]any{
		"metrics": map[string]any{"accuracy": 0.82, "dataset": "sst2"},
		"runtime": map[string]any{"seconds": 93},
	}))
	exitZero := 0
	require.NoError(t, plan.WriteJSON(l.Path(plan.ExecuteLogPath), models.ExecuteLog{
		SchemaVersion: 1,
		PlanID:        "20240102-030405-abcdef123456",
		Results: []models.NodeResult{
			{NodeID: "train.run", Type: "train", Status: models.NodeSucceeded, Executor: models.ExecutorSandbox,
				Attempts: []models.NodeAttempt{{Attempt: 1, OK: true, ExitCode: &exitZero}}},
		},
	}))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "artifacts", "model", "default"), 0o755))
	return root
}

func testEngine() *Engine {
	e := New()
	e.now = func() time.Time { return time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC) }
	return e
}

func TestAccept(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		root := acceptFixture(t, []models.AcceptanceCheck{
			{ID: "model", Type: models.CheckArtifactExists, Selector: "artifacts/model/default"},
			{ID: "acc", Type: models.CheckMetricThreshold, Selector: "accuracy", Op: models.OpGE, Value: 0.8},
			{ID: "train-ok", Type: models.CheckCommandExitCode, Selector: "train.run", Value: 0},
		})

		report, err := testEngine().Accept(Request{PlanDir: root})
		require.NoError(t, err)
		assert.Equal(t, models.CheckPass, report.Status)
		assert.Equal(t, 0, report.ExitCode())
		require.Len(t, report.Results, 3)

		// Nested metrics documents are unwrapped before evaluation.
		acc := report.Results[1]
		assert.Equal(t, models.CheckPass, acc.Status)
		assert.Equal(t, 0.82, acc.Observed)

		// Both report renditions land on disk.
		var onDisk models.AcceptanceReport
		require.NoError(t, plan.ReadJSON(filepath.Join(root, filepath.FromSlash(plan.AcceptReportJSON)), &onDisk))
		assert.Equal(t, report.RunID, onDisk.RunID)

		md, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(plan.AcceptReportMD)))
		require.NoError(t, err)
		assert.Contains(t, string(md), "## Status: PASS")
		assert.Contains(t, string(md), "| acc | metric_threshold | pass |")
	})

	t.Run("failed threshold fails the run", func(t *testing.T) {
		root := acceptFixture(t, []models.AcceptanceCheck{
			{ID: "acc", Type: models.CheckMetricThreshold, Selector: "accuracy", Op: models.OpGE, Value: 0.9},
		})

		report, err := testEngine().Accept(Request{PlanDir: root})
		require.NoError(t, err, "a failing check is a report outcome, not an error")
		assert.Equal(t, models.CheckFail, report.Status)
		assert.Equal(t, 1, report.ExitCode())
	})

	t.Run("manual approval gates needs_confirm", func(t *testing.T) {
		checks := []models.AcceptanceCheck{
			{ID: "human-ok", Type: models.CheckManualApproval, Selector: "human-ok"},
		}
		root := acceptFixture(t, checks)

		report, err := testEngine().Accept(Request{PlanDir: root})
		require.NoError(t, err)
		assert.Equal(t, models.CheckNeedsConfirm, report.Status)
		assert.Equal(t, 2, report.ExitCode())

		require.NoError(t, plan.WriteJSON(
			filepath.Join(root, filepath.FromSlash(plan.ApprovalsPath)),
			models.ManualApprovals{Approved: []string{"human-ok"}}))

		report, err = testEngine().Accept(Request{PlanDir: root})
		require.NoError(t, err)
		assert.Equal(t, models.CheckPass, report.Status)
	})

	t.Run("needs_confirm flag holds a passing check", func(t *testing.T) {
		root := acceptFixture(t, []models.AcceptanceCheck{
			{ID: "acc", Type: models.CheckMetricThreshold, Selector: "accuracy",
				Op: models.OpGE, Value: 0.8, NeedsConfirm: true},
		})

		report, err := testEngine().Accept(Request{PlanDir: root})
		require.NoError(t, err)
		assert.Equal(t, models.CheckNeedsConfirm, report.Status)
		assert.Contains(t, report.Results[0].Detail, "awaiting manual confirmation")

		require.NoError(t, plan.WriteJSON(
			filepath.Join(root, filepath.FromSlash(plan.ApprovalsPath)),
			models.ManualApprovals{Approved: []string{"acc"}}))
		report, err = testEngine().Accept(Request{PlanDir: root})
		require.NoError(t, err)
		assert.Equal(t, models.CheckPass, report.Status)
	})

	t.Run("any fail outranks needs_confirm", func(t *testing.T) {
		root := acceptFixture(t, []models.AcceptanceCheck{
			{ID: "human-ok", Type: models.CheckManualApproval, Selector: "human-ok"},
			{ID: "missing", Type: models.CheckArtifactExists, Selector: "artifacts/nonexistent"},
		})

		report, err := testEngine().Accept(Request{PlanDir: root})
		require.NoError(t, err)
		assert.Equal(t, models.CheckFail, report.Status)
	})

	t.Run("invalid plan dir is an error", func(t *testing.T) {
		_, err := testEngine().Accept(Request{PlanDir: filepath.Join(t.TempDir(), "absent")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed validation")
	})

	t.Run("missing metrics document is a warning", func(t *testing.T) {
		root := acceptFixture(t, []models.AcceptanceCheck{
			{ID: "model", Type: models.CheckArtifactExists, Selector: "artifacts/model/default"},
		})
		require.NoError(t, os.Remove(filepath.Join(root, filepath.FromSlash(plan.FinalMetricsPath))))

		report, err := testEngine().Accept(Request{PlanDir: root})
		require.NoError(t, err)
		assert.Equal(t, models.CheckPass, report.Status)
		assert.Contains(t, report.Warnings, "no metrics document found")
	})

	t.Run("run is archived with a digest manifest", func(t *testing.T) {
		root := acceptFixture(t, []models.AcceptanceCheck{
			{ID: "model", Type: models.CheckArtifactExists, Selector: "artifacts/model/default"},
		})

		report, err := testEngine().Accept(Request{PlanDir: root})
		require.NoError(t, err)

		runDir := plan.NewLayout(root).RunDir(report.RunID)
		var manifest models.RunManifest
		require.NoError(t, plan.ReadJSON(filepath.Join(runDir, "manifest.json"), &manifest))
		assert.Equal(t, report.RunID, manifest.RunID)
		assert.Equal(t, report.PlanID, manifest.PlanID)
		require.NotEmpty(t, manifest.Files)

		paths := make(map[string]models.ManifestEntry)
		for _, f := range manifest.Files {
			paths[f.Path] = f
			assert.Len(t, f.SHA256, 64, f.Path)
			assert.FileExists(t, filepath.Join(runDir, filepath.FromSlash(f.Path)))
		}
		assert.Contains(t, paths, plan.ProposalPath)
		assert.Contains(t, paths, plan.DAGPath)
		assert.Contains(t, paths, plan.AcceptReportJSON)
	})
}

func TestAggregate(t *testing.T) {
	res := func(statuses ...models.CheckStatus) []models.CheckResult {
		out := make([]models.CheckResult, len(statuses))
		for i, s := range statuses {
			out[i] = models.CheckResult{Status: s}
		}
		return out
	}

	assert.Equal(t, models.CheckPass, aggregate(nil))
	assert.Equal(t, models.CheckPass, aggregate(res(models.CheckPass, models.CheckPass)))
	assert.Equal(t, models.CheckNeedsConfirm, aggregate(res(models.CheckPass, models.CheckNeedsConfirm)))
	assert.Equal(t, models.CheckFail, aggregate(res(models.CheckNeedsConfirm, models.CheckFail, models.CheckPass)))
}

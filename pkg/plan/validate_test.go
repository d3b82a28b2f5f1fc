package plan

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw/pkg/models"
)

// writePlanFixture lays down a minimal valid plan package and returns its root.
func writePlanFixture(t *testing.T, mutate func(d *models.PlanDAG)) string {
	t.Helper()
	root := t.TempDir()
	l := NewLayout(root)
	require.NoError(t, l.MkdirAll())

	require.NoError(t, WriteText(l.Path(ProposalPath), "Fine-tune a classifier and report accuracy."))
	require.NoError(t, WriteJSON(l.Path(ContextPath), models.PlanContext{
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
				Outputs:   []string{"artifacts/model/default", "report/checkpoint_manifest.json"},
				Commands:  []string{"sh plan/scripts/train.run.sh"},
				Env:       map[string]string{"OPENCLAW_PLAN_DIR": ".", "OPENCLAW_CHECKPOINT_DIR": "artifacts/model/default/checkpoints"},
				Resources: &models.NodeResources{GPUCount: 1}},
			{ID: "eval.run", Type: models.NodeTypeEval, Tool: models.ToolShell,
				Outputs:  []string{"report/eval_metrics.json"},
				Commands: []string{"sh plan/scripts/eval.run.sh"}},
			{ID: "report.write", Type: models.NodeTypeReport, Tool: models.ToolShell,
				Outputs:  []string{"report/final_metrics.json", "report/final_report.md"},
				Commands: []string{"sh plan/scripts/report.write.sh"}},
		},
		Edges: []models.DAGEdge{
			{From: "setup.venv", To: "install.deps"},
			{From: "install.deps", To: "train.run"},
			{From: "train.run", To: "eval.run"},
			{From: "eval.run", To: "report.write"},
		},
	}
	if mutate != nil {
		mutate(d)
	}
	require.NoError(t, WriteJSON(l.Path(DAGPath), d))

	require.NoError(t, WriteJSON(l.Path(AcceptancePath), models.AcceptanceSpec{
		SchemaVersion: 1,
		Checks: []models.AcceptanceCheck{
			{ID: "model-exists", Type: models.CheckArtifactExists, Selector: "artifacts/model/default"},
		},
	}))
	require.NoError(t, WriteJSON(l.Path(RetryPath), BuiltinRetrySpec()))
	return root
}

func TestValidatePlanDir(t *testing.T) {
	t.Run("valid package passes with a deterministic order", func(t *testing.T) {
		root := writePlanFixture(t, nil)
		res := ValidatePlanDir(root, ValidateOptions{})
		require.Empty(t, res.Errors)
		require.True(t, res.OK)
		assert.Equal(t, "20240102-030405-abcdef123456", res.PlanID)
		assert.Equal(t, []string{"setup.venv", "install.deps", "train.run", "eval.run", "report.write"}, res.Order)
		require.NotNil(t, res.DAG)
		require.NotNil(t, res.Acceptance)
		require.NotNil(t, res.Retry)
	})

	t.Run("strict resume passes on the fixture", func(t *testing.T) {
		root := writePlanFixture(t, nil)
		res := ValidatePlanDir(root, ValidateOptions{StrictResume: true})
		assert.True(t, res.OK, "errors: %v", res.Errors)
	})

	t.Run("missing plan dir", func(t *testing.T) {
		res := ValidatePlanDir(filepath.Join(t.TempDir(), "absent"), ValidateOptions{})
		require.False(t, res.OK)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0], "not a directory")
	})

	t.Run("missing required files are all reported", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, NewLayout(root).MkdirAll())
		res := ValidatePlanDir(root, ValidateOptions{})
		require.False(t, res.OK)
		assert.Len(t, res.Errors, 5)
		for _, rel := range []string{ProposalPath, ContextPath, DAGPath, AcceptancePath, RetryPath} {
			assert.Contains(t, res.Errors, "missing required file "+rel)
		}
	})

	t.Run("schema violation is caught before decode", func(t *testing.T) {
		root := writePlanFixture(t, nil)
		// Node id with an uppercase letter violates the id pattern.
		require.NoError(t, WriteText(filepath.Join(root, filepath.FromSlash(DAGPath)),
			`{"schemaVersion": 1, "nodes": [{"id": "Train.Run", "type": "train", "tool": "shell"}], "edges": []}`))
		res := ValidatePlanDir(root, ValidateOptions{})
		require.False(t, res.OK)
		require.NotEmpty(t, res.Errors)
		assert.Contains(t, res.Errors[0], DAGPath)
	})

	t.Run("cycle fails validation", func(t *testing.T) {
		root := writePlanFixture(t, func(d *models.PlanDAG) {
			d.Edges = append(d.Edges, models.DAGEdge{From: "report.write", To: "setup.venv"})
		})
		res := ValidatePlanDir(root, ValidateOptions{})
		require.False(t, res.OK)
		assert.Contains(t, res.Errors[0], "cycle detected")
	})

	t.Run("convention violation fails validation", func(t *testing.T) {
		root := writePlanFixture(t, func(d *models.PlanDAG) {
			d.Node("train.run").Outputs = []string{"report/checkpoint_manifest.json"}
		})
		res := ValidatePlanDir(root, ValidateOptions{})
		require.False(t, res.OK)
		assert.Contains(t, res.Errors[0], "artifacts/model/")
	})

	t.Run("strict resume rejects missing checkpoint contract", func(t *testing.T) {
		root := writePlanFixture(t, func(d *models.PlanDAG) {
			train := d.Node("train.run")
			train.Outputs = []string{"artifacts/model/default"}
			train.Env = nil
		})
		res := ValidatePlanDir(root, ValidateOptions{StrictResume: true})
		require.False(t, res.OK)
		assert.NotEmpty(t, res.Errors)

		nonStrict := ValidatePlanDir(root, ValidateOptions{})
		assert.True(t, nonStrict.OK, "same package must pass without strict resume: %v", nonStrict.Errors)
	})

	t.Run("retry table without default policy fails", func(t *testing.T) {
		root := writePlanFixture(t, nil)
		spec := BuiltinRetrySpec()
		spec.DefaultPolicyID = "retry.nonexistent"
		require.NoError(t, WriteJSON(filepath.Join(root, filepath.FromSlash(RetryPath)), spec))
		res := ValidatePlanDir(root, ValidateOptions{})
		require.False(t, res.OK)
		assert.Contains(t, res.Errors[0], "default policy")
	})
}

func TestValidateSchema(t *testing.T) {
	t.Run("unknown schema name", func(t *testing.T) {
		err := ValidateSchema("bogus.schema.json", []byte("{}"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown schema")
	})

	t.Run("retry schema requires a nonempty policy table", func(t *testing.T) {
		err := ValidateSchema(SchemaRetry, []byte(`{"schemaVersion": 1, "policies": [], "defaultPolicyId": "x"}`))
		assert.Error(t, err)
	})

	t.Run("acceptance schema accepts a minimal check", func(t *testing.T) {
		err := ValidateSchema(SchemaAcceptance, []byte(`{"schemaVersion": 1, "checks": [{"type": "artifact_exists", "selector": "artifacts/model"}]}`))
		assert.NoError(t, err)
	})
}

package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw/pkg/llm"
	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

const testProposal = `Fine-tune the classifier from https://github.com/foo/bar on the
kaggle.com/datasets/owner/ds dump and report accuracy >= 0.9.`

func compileAt(t *testing.T, client llm.Client, now time.Time, req Request) *Result {
	t.Helper()
	c := testCompiler(client)
	c.now = func() time.Time { return now }
	res, err := c.Compile(context.Background(), req)
	require.NoError(t, err)
	return res
}

func TestCompile(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("heuristic compile produces a valid plan package", func(t *testing.T) {
		ws := t.TempDir()
		res := compileAt(t, nil, now, Request{Proposal: testProposal, Workspace: ws})

		assert.True(t, res.OK)
		assert.Equal(t, filepath.Join(ws, res.PlanID), res.RootDir)

		v := plan.ValidatePlanDir(res.RootDir, plan.ValidateOptions{})
		assert.True(t, v.OK, "errors: %v", v.Errors)
		assert.Equal(t, res.PlanID, v.PlanID)

		// The skeleton includes the repo fetch and the gated kaggle fetch.
		require.NotNil(t, v.DAG)
		fetch := v.DAG.Node("repo.fetch.foo-bar")
		require.NotNil(t, fetch)
		assert.Equal(t, "git clone --depth 1 https://github.com/foo/bar.git cache/git/foo-bar", fetch.Commands[0])
		require.NotNil(t, v.DAG.Node("data.fetch.owner-ds"))

		// The proposal metric became a concrete acceptance check.
		var acc *models.AcceptanceCheck
		for i := range v.Acceptance.Checks {
			if v.Acceptance.Checks[i].ID == "accept.metric.accuracy" {
				acc = &v.Acceptance.Checks[i]
			}
		}
		require.NotNil(t, acc)
		assert.Equal(t, models.OpGE, acc.Op)
		assert.Equal(t, 0.9, acc.Value)
		assert.False(t, acc.NeedsConfirm)
	})

	t.Run("plan ids are reproducible", func(t *testing.T) {
		req := Request{Proposal: testProposal, Workspace: t.TempDir()}
		first := compileAt(t, nil, now, req)

		req.Workspace = t.TempDir()
		second := compileAt(t, nil, now, req)
		assert.Equal(t, first.PlanID, second.PlanID)

		// Discovery mode feeds the digest, so the id must move. A proposal
		// without repos or datasets keeps plan-mode discovery offline.
		req.Discovery = models.DiscoveryPlan
		req.Proposal = "Evaluate accuracy >= 0.9 on a local dataset."
		third := compileAt(t, nil, now, req)
		assert.NotEqual(t, first.PlanID, third.PlanID)
	})

	t.Run("report records kaggle and unverified-repo confirmations", func(t *testing.T) {
		res := compileAt(t, nil, now, Request{Proposal: testProposal, Workspace: t.TempDir()})

		kinds := make(map[string]bool)
		for _, item := range res.Report.NeedsConfirm {
			kinds[item.Kind] = true
		}
		assert.True(t, kinds["kaggle_credentials"])
		assert.True(t, kinds["repo_unverified"], "discovery off cannot verify the repo")
		assert.True(t, kinds["missing_gpu_constraints"])

		md, err := os.ReadFile(filepath.Join(res.RootDir, filepath.FromSlash(plan.NeedsConfirmPath)))
		require.NoError(t, err)
		assert.Contains(t, string(md), "kaggle_credentials")

		runbook, err := os.ReadFile(filepath.Join(res.RootDir, filepath.FromSlash(plan.RunbookPath)))
		require.NoError(t, err)
		assert.Contains(t, string(runbook), "| train.run | train | shell |")
	})

	t.Run("compile report and paths land on disk", func(t *testing.T) {
		res := compileAt(t, nil, now, Request{Proposal: testProposal, Workspace: t.TempDir()})

		for _, rel := range []string{
			plan.ProposalPath, plan.ContextPath, plan.EntitiesPath, plan.DiscoveryPath,
			plan.DAGPath, plan.AcceptancePath, plan.RetryPath,
			plan.NeedsConfirmPath, plan.RunbookPath, plan.CompileReportPath,
		} {
			assert.Contains(t, res.Paths, rel)
			assert.FileExists(t, filepath.Join(res.RootDir, filepath.FromSlash(rel)), rel)
		}

		var report models.CompileReport
		require.NoError(t, plan.ReadJSON(filepath.Join(res.RootDir, filepath.FromSlash(plan.CompileReportPath)), &report))
		assert.Equal(t, res.PlanID, report.PlanID)
		assert.Equal(t, models.DiscoveryOff, report.Discovery)
	})

	t.Run("LLM extraction is merged over heuristics", func(t *testing.T) {
		stub := &llm.StubClient{Responses: []string{
			// Entity extraction: one extra repo the regexes cannot see.
			`{"repos": [{"owner": "baz", "name": "qux"}], "datasets": [],
			  "metrics": [], "constraints": {"gpuCount": 2}, "deliverables": []}`,
			// Acceptance suggestions.
			`[]`,
		}}
		res := compileAt(t, stub, now, Request{Proposal: testProposal, Workspace: t.TempDir()})
		require.True(t, res.OK)

		var entities models.ExtractedEntities
		require.NoError(t, plan.ReadJSON(filepath.Join(res.RootDir, filepath.FromSlash(plan.EntitiesPath)), &entities))
		labels := make([]string, 0, len(entities.Repos))
		for _, r := range entities.Repos {
			labels = append(labels, r.Label)
		}
		assert.ElementsMatch(t, []string{"baz-qux", "foo-bar"}, labels)

		var d models.PlanDAG
		require.NoError(t, plan.ReadJSON(filepath.Join(res.RootDir, filepath.FromSlash(plan.DAGPath)), &d))
		train := d.Node("train.run")
		require.NotNil(t, train)
		require.NotNil(t, train.Resources, "constraints flow into the train node")
		assert.Equal(t, 2, train.Resources.GPUCount)
	})

	t.Run("LLM failure degrades to heuristics with warnings", func(t *testing.T) {
		stub := &llm.StubClient{Responses: []string{"not json at all", "also not json"}}
		res := compileAt(t, stub, now, Request{Proposal: testProposal, Workspace: t.TempDir()})

		assert.True(t, res.OK)
		require.NotEmpty(t, res.Report.Warnings)
		assert.Contains(t, res.Report.Warnings[0], "fell back to heuristics")

		v := plan.ValidatePlanDir(res.RootDir, plan.ValidateOptions{})
		assert.True(t, v.OK, "errors: %v", v.Errors)
	})

	t.Run("invalid discovery mode is rejected", func(t *testing.T) {
		c := testCompiler(nil)
		_, err := c.Compile(context.Background(), Request{
			Proposal: "p", Workspace: t.TempDir(), Discovery: "aggressive",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `invalid discovery mode "aggressive"`)
	})
}

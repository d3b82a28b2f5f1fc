package compiler

import (
	"fmt"
	"strings"

	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

// Well-known node ids of the execution chain.
const (
	nodeReview      = "review.needs_confirm"
	nodeSetupVenv   = "setup.venv"
	nodeInstallDeps = "install.deps"
	nodeTrain       = "train.run"
	nodeEval        = "eval.run"
	nodeReport      = "report.write"
)

// buildSkeletonDAG assembles the standard plan shape: a manual review gate,
// repo fetch/check pairs, dataset sample nodes, and the fixed execution
// chain setup.venv → install.deps → train.run → eval.run → report.write.
func buildSkeletonDAG(planID string, entities *models.ExtractedEntities, discovery *models.DiscoveryReport) *models.PlanDAG {
	d := &models.PlanDAG{SchemaVersion: 1, PlanID: planID}

	addNode := func(n models.DAGNode) { d.Nodes = append(d.Nodes, n) }
	addEdge := func(from, to, reason string) {
		d.Edges = append(d.Edges, models.DAGEdge{From: from, To: to, Reason: reason})
	}

	addNode(models.DAGNode{
		ID:   nodeReview,
		Type: models.NodeTypeManualReview,
		Tool: models.ToolManual,
	})

	repoKey := "workspace"
	if len(entities.Repos) > 0 {
		repoKey = plan.RepoKey(entities.Repos[0].Owner, entities.Repos[0].Name)
	}

	for _, repo := range entities.Repos {
		key := plan.RepoKey(repo.Owner, repo.Name)
		fetchID := "repo.fetch." + repo.Label
		checkID := "repo.check." + repo.Label

		addNode(models.DAGNode{
			ID:   fetchID,
			Type: models.NodeTypeFetchRepo,
			Tool: models.ToolShell,
			Commands: []string{
				fmt.Sprintf("git clone --depth 1 %s %s/%s", repo.URL+".git", plan.GitCacheDir, key),
			},
			Outputs: []string{plan.GitCacheDir + "/" + key},
		})
		addNode(models.DAGNode{
			ID:   checkID,
			Type: models.NodeTypeStaticChecks,
			Tool: models.ToolShell,
			Commands: []string{
				fmt.Sprintf("ls %s/%s", plan.GitCacheDir, key),
				fmt.Sprintf("find %s/%s -maxdepth 2 -name 'requirements*.txt' -o -maxdepth 2 -name 'pyproject.toml' | head -20", plan.GitCacheDir, key),
			},
			Inputs:  []string{plan.GitCacheDir + "/" + key},
			Outputs: []string{plan.StaticChecksPath},
		})
		addEdge(fetchID, checkID, "checkout before checks")
		addEdge(checkID, nodeReview, "review repo evidence")
	}

	for _, ds := range entities.Datasets {
		sampleID := "data.sample." + ds.Label
		switch ds.Kind {
		case models.DatasetKaggle:
			fetchID := "data.fetch." + ds.Label
			addNode(models.DAGNode{
				ID:   fetchID,
				Type: models.NodeTypeFetchDatasetKaggle,
				Tool: models.ToolShell,
				Commands: []string{
					fmt.Sprintf("openclaw dataset fetch --kind kaggle %s --out %s/%s", ds.Ref, plan.HFCacheDir, ds.Label),
				},
				Outputs: []string{plan.HFCacheDir + "/" + ds.Label},
			})
			// Kaggle needs confirmed credentials before any fetch runs.
			addEdge(nodeReview, fetchID, "kaggle credentials must be confirmed")

		default:
			addNode(models.DAGNode{
				ID:   sampleID,
				Type: models.NodeTypeFetchDatasetSample,
				Tool: models.ToolShell,
				Commands: []string{
					fmt.Sprintf("openclaw dataset sample %s --out %s/%s", ds.Ref, plan.HFCacheDir, ds.Label),
				},
				Outputs: []string{plan.HFCacheDir + "/" + ds.Label},
			})
			addEdge(sampleID, nodeReview, "review dataset sample")
		}
	}

	venvDir := plan.VenvCacheDir + "/" + repoKey
	modelDir := plan.ModelArtifactsDir + "/" + repoKey

	addNode(models.DAGNode{
		ID:   nodeSetupVenv,
		Type: models.NodeTypeSetupVenv,
		Tool: models.ToolShell,
		Commands: []string{
			"python3 -m venv " + venvDir,
			venvDir + "/bin/pip install --upgrade pip",
		},
		Outputs: []string{venvDir, plan.HFCacheDir, plan.PipCacheDir},
	})
	addNode(models.DAGNode{
		ID:   nodeInstallDeps,
		Type: models.NodeTypeInstallDeps,
		Tool: models.ToolShell,
		Commands: []string{
			fmt.Sprintf("if [ -f %s/%s/requirements.txt ]; then %s/bin/pip install -r %s/%s/requirements.txt; fi",
				plan.GitCacheDir, repoKey, venvDir, plan.GitCacheDir, repoKey),
		},
		Inputs: []string{venvDir},
	})
	addNode(models.DAGNode{
		ID:        nodeTrain,
		Type:      models.NodeTypeTrain,
		Tool:      models.ToolShell,
		Commands:  []string{"sh " + plan.ScriptsDir + "/train.run.sh"},
		Inputs:    []string{plan.GitCacheDir + "/" + repoKey, venvDir},
		Outputs:   []string{modelDir, plan.CheckpointManifest},
		Resources: trainResources(entities),
		Env: map[string]string{
			"OPENCLAW_PLAN_DIR":       ".",
			"OPENCLAW_OUTPUT_DIR":     modelDir,
			"OPENCLAW_CHECKPOINT_DIR": modelDir + "/checkpoints",
		},
	})
	addNode(models.DAGNode{
		ID:       nodeEval,
		Type:     models.NodeTypeEval,
		Tool:     models.ToolShell,
		Commands: []string{"sh " + plan.ScriptsDir + "/eval.run.sh"},
		Inputs:   []string{modelDir},
		Outputs:  []string{plan.EvalMetricsPath},
	})
	addNode(models.DAGNode{
		ID:       nodeReport,
		Type:     models.NodeTypeReport,
		Tool:     models.ToolShell,
		Commands: []string{"sh " + plan.ScriptsDir + "/report.write.sh"},
		Inputs:   []string{plan.EvalMetricsPath},
		Outputs:  []string{plan.FinalMetricsPath, plan.FinalReportPath},
	})

	addEdge(nodeReview, nodeSetupVenv, "human gate before execution")
	addEdge(nodeSetupVenv, nodeInstallDeps, "")
	addEdge(nodeInstallDeps, nodeTrain, "")
	addEdge(nodeTrain, nodeEval, "")
	addEdge(nodeEval, nodeReport, "")

	return d
}

// trainResources infers the GPU request from entity constraints. Without any
// constraint the request stays empty and compile surfaces a needs-confirm
// item instead of guessing hardware.
func trainResources(entities *models.ExtractedEntities) *models.NodeResources {
	if entities.Constraints == nil {
		return nil
	}
	res := *entities.Constraints
	if res.GPUCount < 1 {
		res.GPUCount = 1
	}
	return &res
}

// collectNeedsConfirm aggregates every human-approval item into the report.
func collectNeedsConfirm(entities *models.ExtractedEntities, discovery *models.DiscoveryReport, acceptance *models.AcceptanceSpec, d *models.PlanDAG, report *models.CompileReport) {
	verified := make(map[string]bool)
	for _, rd := range discovery.Repos {
		verified[rd.URL] = rd.Exists
	}
	for _, repo := range entities.Repos {
		if !verified[repo.URL] {
			report.NeedsConfirm = append(report.NeedsConfirm, models.NeedsConfirmItem{
				ID:     "repo." + repo.Label,
				Kind:   "repo_unverified",
				Detail: fmt.Sprintf("repository %s could not be verified", repo.URL),
			})
		}
	}

	for _, ds := range entities.Datasets {
		if ds.Kind == models.DatasetKaggle {
			report.NeedsConfirm = append(report.NeedsConfirm, models.NeedsConfirmItem{
				ID:     "dataset." + ds.Label,
				Kind:   "kaggle_credentials",
				Detail: fmt.Sprintf("kaggle dataset %s requires confirmed credentials", ds.Ref),
			})
		}
	}

	for _, check := range acceptance.Checks {
		if check.Type == models.CheckMetricThreshold && check.NeedsConfirm {
			report.NeedsConfirm = append(report.NeedsConfirm, models.NeedsConfirmItem{
				ID:     check.ID,
				Kind:   "metric_threshold",
				Detail: fmt.Sprintf("metric %q has no confirmed threshold", check.Selector),
			})
		}
	}

	if train := d.Node(nodeTrain); train != nil && train.Resources == nil {
		report.NeedsConfirm = append(report.NeedsConfirm, models.NeedsConfirmItem{
			ID:     "train.resources",
			Kind:   "missing_gpu_constraints",
			Detail: "proposal names no GPU constraints for training",
		})
	}
}

func renderNeedsConfirm(report *models.CompileReport) string {
	var b strings.Builder
	b.WriteString("# Items Needing Confirmation\n\n")
	if len(report.NeedsConfirm) == 0 {
		b.WriteString("Nothing to confirm.\n")
		return b.String()
	}
	for _, item := range report.NeedsConfirm {
		fmt.Fprintf(&b, "- **%s** (`%s`): %s\n", item.ID, item.Kind, item.Detail)
	}
	b.WriteString("\nApprove items by listing their ids in `report/manual_approvals.json`.\n")
	return b.String()
}

func renderRunbook(planID string, d *models.PlanDAG) string {
	var b strings.Builder
	b.WriteString("# Runbook\n\n")
	fmt.Fprintf(&b, "Plan `%s` executes %d nodes.\n\n", planID, len(d.Nodes))
	b.WriteString("| Node | Type | Tool |\n|------|------|------|\n")
	for _, n := range d.Nodes {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", n.ID, n.Type, n.Tool)
	}
	b.WriteString("\nReview `report/needs_confirm.md`, then run validate, refine, and execute.\n")
	return b.String()
}

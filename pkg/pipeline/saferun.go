package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
	"github.com/openclaw/openclaw/pkg/sandbox"
)

// SafeRunResult reports the pre-review subset run.
type SafeRunResult struct {
	OK      bool                `json:"ok"`
	Results []models.NodeResult `json:"results"`
}

// safeNodeTypes are the node types allowed to run before the review gate.
// Everything else waits for execute.
var safeNodeTypes = map[string]bool{
	models.NodeTypeFetchRepo:          true,
	models.NodeTypeFetchDatasetSample: true,
	models.NodeTypeFetchDatasetKaggle: true,
	models.NodeTypeStaticChecks:       true,
}

// SafeRun executes the network-facing subset of a compiled plan: repository
// clones, dataset samples, and static checks. Kaggle fetches are skipped
// unless credentials are configured. Each node runs once, without retries;
// results land in report/safe_run.json.
func (r *Runner) SafeRun(ctx context.Context, planDir string) (*SafeRunResult, error) {
	v := plan.ValidatePlanDir(planDir, plan.ValidateOptions{})
	if !v.OK {
		return nil, fmt.Errorf("plan %s failed validation: %v", planDir, v.Errors)
	}
	layout := plan.NewLayout(planDir)
	sb := r.planSandbox(planDir, v.PlanID)

	res := &SafeRunResult{OK: true}
	for _, nodeID := range v.Order {
		node := v.DAG.Node(nodeID)
		if !safeNodeTypes[node.Type] {
			continue
		}

		nr := models.NodeResult{
			NodeID:   node.ID,
			Type:     node.Type,
			Tool:     node.Tool,
			Executor: models.ExecutorSandbox,
		}

		if node.Type == models.NodeTypeFetchDatasetKaggle && !r.creds.HasKaggle() {
			nr.Status = models.NodeSkipped
			nr.Executor = models.ExecutorManual
			nr.Error = "Kaggle credentials are not configured; set KAGGLE_USERNAME and KAGGLE_KEY and confirm the fetch"
			res.Results = append(res.Results, nr)
			continue
		}
		if len(node.Commands) == 0 {
			nr.Status = models.NodeSkipped
			nr.Executor = models.ExecutorManual
			res.Results = append(res.Results, nr)
			continue
		}

		attempt := models.NodeAttempt{Attempt: 1, StartedAtMs: time.Now().UnixMilli()}
		out, err := sb.Exec(ctx, sandbox.ExecRequest{
			Commands:  node.Commands,
			Workdir:   planDir,
			Env:       node.Env,
			TimeoutMs: r.cfg.Executor.CommandTimeout.Milliseconds(),
		})
		attempt.FinishedAtMs = time.Now().UnixMilli()

		if err != nil {
			attempt.Error = err.Error()
			nr.Status = models.NodeFailed
		} else {
			code := out.ExitCode
			attempt.ExitCode = &code
			attempt.OK = out.ExitCode == 0 && !out.Killed
			attempt.TimedOut = out.Killed
			attempt.StdoutTail = tailOf(out.Stdout)
			attempt.StderrTail = tailOf(out.Stderr)
			if attempt.OK {
				nr.Status = models.NodeSucceeded
			} else {
				nr.Status = models.NodeFailed
			}
		}
		nr.Attempts = []models.NodeAttempt{attempt}
		if nr.Status == models.NodeFailed {
			res.OK = false
		}
		res.Results = append(res.Results, nr)
	}

	if err := plan.WriteJSON(layout.Path(plan.SafeRunPath), res); err != nil {
		return nil, fmt.Errorf("write safe-run report: %w", err)
	}
	r.logger.Info("Safe-run subset finished", "plan_id", v.PlanID, "nodes", len(res.Results), "ok", res.OK)
	return res, nil
}

// tailOf keeps the last 1200 characters of a command stream.
func tailOf(s string) string {
	const n = 1200
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

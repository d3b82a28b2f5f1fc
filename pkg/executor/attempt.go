package executor

import (
	"context"
	"time"

	"github.com/openclaw/openclaw/pkg/dag"
	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
	"github.com/openclaw/openclaw/pkg/sandbox"
)

// logTail caps stdout/stderr tails kept in attempt records.
const logTail = 1200

// runAttempt executes one attempt of a node via the appropriate path. The
// attempt record keeps only output tails; the full stdout/stderr are returned
// alongside so failure classification and repair see untruncated text.
func (e *Engine) runAttempt(ctx context.Context, layout plan.Layout, node *models.DAGNode, opts Options, attemptNo int) (models.NodeAttempt, string, string) {
	if dag.IsGpuNode(node) {
		return e.runGpuAttempt(ctx, layout, node, opts, attemptNo)
	}
	return e.runCpuAttempt(ctx, layout, node, attemptNo)
}

// runCpuAttempt runs the node's commands inside the plan sandbox.
func (e *Engine) runCpuAttempt(ctx context.Context, layout plan.Layout, node *models.DAGNode, attemptNo int) (models.NodeAttempt, string, string) {
	attempt := models.NodeAttempt{
		Attempt:     attemptNo,
		StartedAtMs: time.Now().UnixMilli(),
	}

	res, err := e.sandbox.Exec(ctx, sandbox.ExecRequest{
		Commands:  node.Commands,
		Workdir:   workdirFor(layout, node),
		Env:       e.nodeEnv(node),
		TimeoutMs: e.cfg.CommandTimeout.Milliseconds(),
	})
	attempt.FinishedAtMs = time.Now().UnixMilli()

	if err != nil {
		attempt.Error = err.Error()
		return attempt, "", ""
	}

	attempt.OK = res.ExitCode == 0 && !res.Killed
	code := res.ExitCode
	attempt.ExitCode = &code
	attempt.TimedOut = res.Killed
	attempt.StdoutTail = tailString(res.Stdout, logTail)
	attempt.StderrTail = tailString(res.Stderr, logTail)
	return attempt, res.Stdout, res.Stderr
}

// nodeEnv builds the environment for a node. The workspace convention
// variables are reserved: whatever the plan document says, they are rewritten
// to container-correct paths at execution time.
func (e *Engine) nodeEnv(node *models.DAGNode) map[string]string {
	env := make(map[string]string, len(node.Env)+3)
	for k, v := range node.Env {
		env[k] = v
	}
	root := e.sandbox.MapWorkdir("")
	env[dag.EnvPlanDir] = root
	env[dag.EnvOutputDir] = root + "/" + plan.ModelArtifactsDir
	env[dag.EnvCheckpointDir] = root + "/" + plan.ModelArtifactsDir + "/checkpoints"
	return env
}

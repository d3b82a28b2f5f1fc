package executor

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

// waitSlice is the longest single gpu.job.wait poll.
const waitSlice = 15 * time.Second

// nodePollInterval is the node.list poll cadence on the gateway-direct path.
const nodePollInterval = time.Second

// runGpuAttempt routes one GPU attempt either directly at a named node or
// through the scheduler. The returned strings are the fullest stdout/stderr
// the gateway reported for the attempt.
func (e *Engine) runGpuAttempt(ctx context.Context, layout plan.Layout, node *models.DAGNode, opts Options, attemptNo int) (models.NodeAttempt, string, string) {
	attempt := models.NodeAttempt{
		Attempt:     attemptNo,
		StartedAtMs: time.Now().UnixMilli(),
	}
	if e.gateway == nil {
		attempt.FinishedAtMs = time.Now().UnixMilli()
		attempt.Error = "no gateway configured for GPU node"
		return attempt, "", ""
	}

	exec := e.gpuExecSpec(node)
	var stdout, stderr string
	if opts.GatewayNodeID != "" {
		stdout, stderr = e.runGpuDirect(ctx, opts.GatewayNodeID, node, exec, &attempt)
	} else {
		stdout, stderr = e.runGpuScheduled(ctx, node, exec, &attempt)
	}
	attempt.FinishedAtMs = time.Now().UnixMilli()
	return attempt, stdout, stderr
}

// gpuExecSpec converts a DAG node into the system.run payload. The working
// directory is plan-relative so the worker resolves it against its own copy
// of the plan.
func (e *Engine) gpuExecSpec(node *models.DAGNode) models.GpuExecSpec {
	cwd := ""
	for _, in := range node.Inputs {
		if strings.HasPrefix(in, plan.GitCacheDir+"/") {
			cwd = in
			break
		}
	}
	return models.GpuExecSpec{
		Command:          []string{"sh", "-lc", "set -e\n" + strings.Join(node.Commands, "\n") + "\n"},
		Cwd:              cwd,
		Env:              node.Env,
		CommandTimeoutMs: e.cfg.CommandTimeout.Milliseconds(),
		InvokeTimeoutMs:  e.cfg.InvokeTimeout.Milliseconds(),
	}
}

// runGpuDirect waits for the named node to be connected and eligible, then
// invokes system.run on it.
func (e *Engine) runGpuDirect(ctx context.Context, nodeID string, node *models.DAGNode, exec models.GpuExecSpec, attempt *models.NodeAttempt) (string, string) {
	attempt.NodeID = nodeID

	required := models.NodeResources{GPUCount: 1}
	if node.Resources != nil {
		required = *node.Resources
	}
	if required.GPUCount < 1 {
		required.GPUCount = 1
	}

	if err := e.waitForNode(ctx, nodeID, required); err != nil {
		attempt.Error = err.Error()
		return "", ""
	}

	var res models.InvokeResult
	err := e.gateway.Call(ctx, "node.invoke", models.InvokeParams{
		NodeID:    nodeID,
		Command:   "system.run",
		Params:    exec,
		TimeoutMs: exec.InvokeTimeoutMs + exec.CommandTimeoutMs,
	}, &res)
	if err != nil {
		attempt.Error = err.Error()
		return "", ""
	}
	if !res.OK {
		attempt.Error = res.Error
		return "", ""
	}

	var run models.RunCommandResult
	if !decodeRunPayload(res, &run) {
		attempt.Error = "malformed system.run payload"
		return "", ""
	}
	fillAttemptFromRun(attempt, run)
	return run.Stdout, run.Stderr
}

// waitForNode polls node.list until the target node is connected and
// satisfies the resource request, or the wait budget is spent.
func (e *Engine) waitForNode(ctx context.Context, nodeID string, required models.NodeResources) error {
	deadline := time.Now().Add(e.cfg.GpuWaitTimeout)
	for {
		var list models.NodeListResult
		if err := e.gateway.Call(ctx, "node.list", nil, &list); err == nil {
			for _, n := range list.Nodes {
				if n.NodeID != nodeID || !n.Connected {
					continue
				}
				if nodeEligible(n, required) {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			return &gpuWaitError{nodeID: nodeID}
		}
		if err := e.sleep(ctx, nodePollInterval); err != nil {
			return err
		}
	}
}

type gpuWaitError struct{ nodeID string }

func (e *gpuWaitError) Error() string {
	return "no eligible GPU node " + e.nodeID + " within wait budget"
}

func nodeEligible(n models.NodeInfo, required models.NodeResources) bool {
	hasRun := false
	for _, c := range n.Commands {
		if c == "system.run" {
			hasRun = true
			break
		}
	}
	if !hasRun || n.Resources == nil {
		return false
	}
	res := n.Resources
	if res.GPUCount < required.GPUCount {
		return false
	}
	if required.GPUType != "" && !strings.EqualFold(res.GPUType, required.GPUType) {
		return false
	}
	if required.GPUMemGB > 0 && res.GPUMemGB < required.GPUMemGB {
		return false
	}
	return true
}

// runGpuScheduled submits a single-attempt job and polls gpu.job.wait in
// bounded slices until it is terminal. The engine owns retries, so the job
// itself never retries.
func (e *Engine) runGpuScheduled(ctx context.Context, node *models.DAGNode, exec models.GpuExecSpec, attempt *models.NodeAttempt) (string, string) {
	resources := models.NodeResources{GPUCount: 1}
	if node.Resources != nil {
		resources = *node.Resources
	}
	if resources.GPUCount < 1 {
		resources.GPUCount = 1
	}

	var job models.GpuJob
	err := e.gateway.Call(ctx, "gpu.job.submit", map[string]any{
		"resources":   resources,
		"exec":        exec,
		"maxAttempts": 1,
	}, &job)
	if err != nil {
		attempt.Error = err.Error()
		return "", ""
	}

	overall := time.Duration(exec.InvokeTimeoutMs)*time.Millisecond +
		time.Duration(exec.CommandTimeoutMs)*time.Millisecond +
		60*time.Second
	deadline := time.Now().Add(overall)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			// Out of budget; release the job and report a timeout.
			_ = e.gateway.Call(ctx, "gpu.job.cancel", map[string]string{"jobId": job.JobID}, nil)
			attempt.TimedOut = true
			attempt.Error = "gpu job deadline exceeded"
			return "", ""
		}
		slice := remaining
		if slice > waitSlice {
			slice = waitSlice
		}

		var wait struct {
			Done bool           `json:"done"`
			Job  *models.GpuJob `json:"job"`
		}
		err := e.gateway.Call(ctx, "gpu.job.wait", map[string]any{
			"jobId":     job.JobID,
			"timeoutMs": slice.Milliseconds(),
		}, &wait)
		if err != nil {
			attempt.Error = err.Error()
			return "", ""
		}
		if !wait.Done {
			continue
		}

		j := wait.Job
		attempt.NodeID = lastAttemptNode(j)
		switch j.State {
		case models.JobSucceeded:
			fillAttemptFromRun(attempt, models.RunCommandResult{
				ExitCode: j.Result.ExitCode,
				Stdout:   j.Result.StdoutTail,
				Stderr:   j.Result.StderrTail,
			})
			return j.Result.StdoutTail, j.Result.StderrTail
		case models.JobCanceled:
			attempt.Error = "gpu job canceled"
			return "", ""
		default:
			if j.Result != nil {
				fillAttemptFromRun(attempt, models.RunCommandResult{
					ExitCode: j.Result.ExitCode,
					Stdout:   j.Result.StdoutTail,
					Stderr:   j.Result.StderrTail,
				})
				return j.Result.StdoutTail, j.Result.StderrTail
			}
			if n := len(j.Attempts); n > 0 {
				attempt.Error = j.Attempts[n-1].Error
				attempt.TimedOut = j.Attempts[n-1].TimedOut
			} else {
				attempt.Error = "gpu job failed"
			}
			return "", ""
		}
	}
}

func lastAttemptNode(j *models.GpuJob) string {
	if n := len(j.Attempts); n > 0 {
		return j.Attempts[n-1].NodeID
	}
	return ""
}

// fillAttemptFromRun copies a system.run result into an attempt record.
func fillAttemptFromRun(attempt *models.NodeAttempt, run models.RunCommandResult) {
	attempt.OK = run.ExitCode == 0 && !run.TimedOut
	code := run.ExitCode
	attempt.ExitCode = &code
	attempt.TimedOut = run.TimedOut
	attempt.StdoutTail = tailString(run.Stdout, logTail)
	attempt.StderrTail = tailString(run.Stderr, logTail)
}

// decodeRunPayload accepts the system.run payload either typed or as raw JSON.
func decodeRunPayload(res models.InvokeResult, out *models.RunCommandResult) bool {
	if res.PayloadJSON != "" {
		return json.Unmarshal([]byte(res.PayloadJSON), out) == nil
	}
	if res.Payload == nil {
		return false
	}
	raw, err := json.Marshal(res.Payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

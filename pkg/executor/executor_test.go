package executor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw/pkg/config"
	"github.com/openclaw/openclaw/pkg/gateway/client"
	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
	"github.com/openclaw/openclaw/pkg/sandbox"
)

// fakeSandbox scripts per-exec results keyed by the first command line.
type fakeSandbox struct {
	mu    sync.Mutex
	calls []sandbox.ExecRequest

	// results maps the first command of a batch to its scripted outcomes,
	// consumed in order. A missing entry succeeds with exit 0.
	results map[string][]sandbox.ExecResult
	err     error
}

func (f *fakeSandbox) Exec(_ context.Context, req sandbox.ExecRequest) (sandbox.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return sandbox.ExecResult{}, f.err
	}
	key := ""
	if len(req.Commands) > 0 {
		key = req.Commands[0]
	}
	if queue := f.results[key]; len(queue) > 0 {
		res := queue[0]
		f.results[key] = queue[1:]
		return res, nil
	}
	return sandbox.ExecResult{ExitCode: 0}, nil
}

func (f *fakeSandbox) MapWorkdir(hostPath string) string {
	if hostPath == "" {
		return "/workspace/plan"
	}
	return "/workspace/plan/mapped"
}

func (f *fakeSandbox) execCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeCaller answers gateway RPCs from a script keyed by method name.
type fakeCaller struct {
	mu      sync.Mutex
	methods []string
	handle  func(method string, params any) (any, error)
}

func (f *fakeCaller) Call(_ context.Context, method string, params any, result any) error {
	f.mu.Lock()
	f.methods = append(f.methods, method)
	handle := f.handle
	f.mu.Unlock()

	out, err := handle(method, params)
	if err != nil {
		return err
	}
	if result == nil || out == nil {
		return nil
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (f *fakeCaller) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func testExecConfig() *config.ExecutorConfig {
	return &config.ExecutorConfig{
		CommandTimeout:    time.Minute,
		InvokeTimeout:     10 * time.Second,
		GpuWaitTimeout:    50 * time.Millisecond,
		MaxAttempts:       3,
		MaxRepairAttempts: 1,
	}
}

// newEngine builds an engine with instant backoff sleeps.
func newEngine(sb CommandSandbox, gw *fakeCaller, hook RepairHook) *Engine {
	var caller client.Caller
	if gw != nil {
		caller = gw
	}
	e := New(testExecConfig(), sb, caller, hook)
	e.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return e
}

// validation builds an in-memory validated plan for the given DAG.
func validation(d *models.PlanDAG) *plan.ValidationResult {
	res := &plan.ValidationResult{
		OK:     true,
		PlanID: "p1",
		DAG:    d,
		Retry:  plan.BuiltinRetrySpec(),
	}
	for _, n := range d.Nodes {
		res.Order = append(res.Order, n.ID)
	}
	return res
}

func cpuNode(id, cmd string) models.DAGNode {
	return models.DAGNode{ID: id, Type: models.NodeTypeInstallDeps, Tool: models.ToolShell, Commands: []string{cmd}}
}

func TestExecute(t *testing.T) {
	t.Run("rejects unvalidated plans", func(t *testing.T) {
		e := newEngine(&fakeSandbox{}, nil, nil)
		_, err := e.Execute(context.Background(), t.TempDir(), &plan.ValidationResult{}, Options{})
		assert.Error(t, err)
	})

	t.Run("runs nodes in order and writes the log", func(t *testing.T) {
		dir := t.TempDir()
		sb := &fakeSandbox{}
		e := newEngine(sb, nil, nil)

		d := &models.PlanDAG{
			SchemaVersion: 1,
			Nodes:         []models.DAGNode{cpuNode("a", "echo a"), cpuNode("b", "echo b")},
			Edges:         []models.DAGEdge{{From: "a", To: "b"}},
		}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{})
		require.NoError(t, err)

		require.Len(t, log.Results, 2)
		assert.Equal(t, models.NodeSucceeded, log.Results[0].Status)
		assert.Equal(t, models.NodeSucceeded, log.Results[1].Status)
		assert.Equal(t, models.ExecutorSandbox, log.Results[0].Executor)

		var onDisk models.ExecuteLog
		require.NoError(t, plan.ReadJSON(filepath.Join(dir, "report", "execute_log.json"), &onDisk))
		assert.Equal(t, "p1", onDisk.PlanID)
		require.Len(t, onDisk.Results, 2)

		summary, err := os.ReadFile(filepath.Join(dir, "report", "execute_summary.md"))
		require.NoError(t, err)
		assert.Contains(t, string(summary), "2 nodes: 2 succeeded, 0 failed, 0 skipped")
	})

	t.Run("failed node skips downstream nodes", func(t *testing.T) {
		dir := t.TempDir()
		sb := &fakeSandbox{results: map[string][]sandbox.ExecResult{
			"break": {
				{ExitCode: 1, Stderr: "irrecoverable"},
				{ExitCode: 1, Stderr: "irrecoverable"},
			},
		}}
		e := newEngine(sb, nil, nil)

		d := &models.PlanDAG{
			SchemaVersion: 1,
			Nodes: []models.DAGNode{
				cpuNode("a", "break"),
				cpuNode("b", "echo b"),
				cpuNode("c", "echo c"),
			},
			Edges: []models.DAGEdge{{From: "a", To: "b"}, {From: "b", To: "c"}},
		}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{})
		require.NoError(t, err)

		assert.Equal(t, models.NodeFailed, log.Result("a").Status)
		assert.Equal(t, models.NodeSkipped, log.Result("b").Status)
		assert.Contains(t, log.Result("b").Error, "dependency a failed")
		assert.Equal(t, models.NodeSkipped, log.Result("c").Status)
		assert.Contains(t, log.Result("c").Error, "dependency b failed")
	})

	t.Run("manual and empty nodes are skipped without execution", func(t *testing.T) {
		dir := t.TempDir()
		sb := &fakeSandbox{}
		e := newEngine(sb, nil, nil)

		d := &models.PlanDAG{
			SchemaVersion: 1,
			Nodes: []models.DAGNode{
				{ID: "review", Type: models.NodeTypeManualReview, Tool: models.ToolManual, Commands: []string{"noop"}},
				{ID: "empty", Type: models.NodeTypeNoop, Tool: models.ToolShell},
				cpuNode("after", "echo after"),
			},
			Edges: []models.DAGEdge{{From: "review", To: "after"}},
		}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{})
		require.NoError(t, err)

		assert.Equal(t, models.NodeSkipped, log.Result("review").Status)
		assert.Equal(t, models.ExecutorManual, log.Result("review").Executor)
		assert.Equal(t, models.NodeSkipped, log.Result("empty").Status)
		// A manual skip is not a failure; downstream still runs.
		assert.Equal(t, models.NodeSucceeded, log.Result("after").Status)
		assert.Equal(t, 1, sb.execCount())
	})
}

func TestRetry(t *testing.T) {
	t.Run("network failures retry until success", func(t *testing.T) {
		dir := t.TempDir()
		sb := &fakeSandbox{results: map[string][]sandbox.ExecResult{
			"git clone": {
				{ExitCode: 128, Stderr: "fatal: Connection reset by peer"},
				{ExitCode: 128, Stderr: "fatal: Connection reset by peer"},
				{ExitCode: 0, Stdout: "Cloning into 'repo'..."},
			},
		}}
		e := newEngine(sb, nil, nil)

		d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{cpuNode("fetch", "git clone")}}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{})
		require.NoError(t, err)

		res := log.Result("fetch")
		assert.Equal(t, models.NodeSucceeded, res.Status)
		require.Len(t, res.Attempts, 3)
		assert.Equal(t, models.CategoryNetwork, res.Attempts[0].Category)
		assert.False(t, res.Attempts[0].OK)
		assert.True(t, res.Attempts[2].OK)
	})

	t.Run("patterns beyond the stored tail still classify", func(t *testing.T) {
		dir := t.TempDir()
		// The retryable pattern sits at the front, followed by more stack
		// noise than the attempt record keeps.
		noise := strings.Repeat("  at frame in worker loop\n", 80)
		sb := &fakeSandbox{results: map[string][]sandbox.ExecResult{
			"curl": {
				{ExitCode: 7, Stderr: "connection refused\n" + noise},
				{ExitCode: 0},
			},
		}}
		hook := &recordingHook{outcome: &RepairOutcome{Applied: true}}
		e := newEngine(sb, nil, hook)

		d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{cpuNode("fetch", "curl")}}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{})
		require.NoError(t, err)

		res := log.Result("fetch")
		assert.Equal(t, models.NodeSucceeded, res.Status)
		require.Len(t, res.Attempts, 2)
		assert.Equal(t, models.CategoryNetwork, res.Attempts[0].Category)
		assert.NotContains(t, res.Attempts[0].StderrTail, "connection refused",
			"the pattern really was outside the tail")
		assert.Empty(t, hook.repairs, "network failures skip repair")
	})

	t.Run("caller maxAttempts caps the policy", func(t *testing.T) {
		dir := t.TempDir()
		sb := &fakeSandbox{results: map[string][]sandbox.ExecResult{
			"flaky": {
				{ExitCode: 1, Stderr: "connection refused"},
				{ExitCode: 1, Stderr: "connection refused"},
				{ExitCode: 1, Stderr: "connection refused"},
				{ExitCode: 1, Stderr: "connection refused"},
			},
		}}
		e := newEngine(sb, nil, nil)

		d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{cpuNode("n", "flaky")}}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{MaxAttempts: 2})
		require.NoError(t, err)

		res := log.Result("n")
		assert.Equal(t, models.NodeFailed, res.Status)
		assert.Len(t, res.Attempts, 2, "network policy allows 4 but the caller capped at 2")
		assert.Contains(t, res.Error, "network")
	})

	t.Run("sandbox transport errors are attempt errors", func(t *testing.T) {
		dir := t.TempDir()
		sb := &fakeSandbox{err: errors.New("docker daemon unreachable")}
		e := newEngine(sb, nil, nil)

		d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{cpuNode("n", "echo hi")}}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{})
		require.NoError(t, err)

		res := log.Result("n")
		assert.Equal(t, models.NodeFailed, res.Status)
		assert.Contains(t, res.Attempts[0].Error, "docker daemon unreachable")
	})
}

// recordingHook is a scriptable RepairHook.
type recordingHook struct {
	mu        sync.Mutex
	repairs   []RepairContext
	finalized []bool
	outcome   *RepairOutcome
	err       error
}

func (h *recordingHook) MaybeRepair(_ context.Context, rc RepairContext) (*RepairOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.repairs = append(h.repairs, rc)
	return h.outcome, h.err
}

func (h *recordingHook) Finalize(_ context.Context, _ string, _ int, ok bool, _, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalized = append(h.finalized, ok)
	return nil
}

func TestRepairHook(t *testing.T) {
	t.Run("applied repair is finalized with the next attempt outcome", func(t *testing.T) {
		dir := t.TempDir()
		sb := &fakeSandbox{results: map[string][]sandbox.ExecResult{
			"python train.py": {
				{ExitCode: 1, Stderr: "ImportError: No module named 'torch'"},
				{ExitCode: 0, Stdout: "training done"},
			},
		}}
		hook := &recordingHook{outcome: &RepairOutcome{Applied: true, Summary: "pinned torch==2.1"}}
		e := newEngine(sb, nil, hook)

		d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{cpuNode("train", "python train.py")}}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{})
		require.NoError(t, err)

		res := log.Result("train")
		assert.Equal(t, models.NodeSucceeded, res.Status)
		require.Len(t, hook.repairs, 1)
		assert.Equal(t, "train", hook.repairs[0].NodeID)
		assert.Equal(t, models.CategoryBuildFail, hook.repairs[0].Category)
		assert.Equal(t, dir, hook.repairs[0].PlanDir)
		require.Equal(t, []bool{true}, hook.finalized)
		assert.Equal(t, "pinned torch==2.1", res.Attempts[0].RepairPatch)
	})

	t.Run("network failures never invoke the hook", func(t *testing.T) {
		dir := t.TempDir()
		sb := &fakeSandbox{results: map[string][]sandbox.ExecResult{
			"curl": {
				{ExitCode: 7, Stderr: "connection refused"},
				{ExitCode: 0},
			},
		}}
		hook := &recordingHook{outcome: &RepairOutcome{Applied: true}}
		e := newEngine(sb, nil, hook)

		d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{cpuNode("fetch", "curl")}}
		_, err := e.Execute(context.Background(), dir, validation(d), Options{})
		require.NoError(t, err)
		assert.Empty(t, hook.repairs)
	})

	t.Run("repair budget is bounded", func(t *testing.T) {
		dir := t.TempDir()
		sb := &fakeSandbox{results: map[string][]sandbox.ExecResult{
			"python train.py": {
				{ExitCode: 1, Stderr: "CUDA out of memory"},
				{ExitCode: 1, Stderr: "CUDA out of memory"},
				{ExitCode: 1, Stderr: "CUDA out of memory"},
			},
		}}
		hook := &recordingHook{outcome: &RepairOutcome{Applied: true, Summary: "halved batch size"}}
		e := newEngine(sb, nil, hook)

		// The oom policy allows 3 attempts, so without the budget the hook
		// would be consulted after attempts 1 and 2.
		d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{cpuNode("train", "python train.py")}}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{})
		require.NoError(t, err)

		assert.Equal(t, models.NodeFailed, log.Result("train").Status)
		assert.Len(t, hook.repairs, 1, "MaxRepairAttempts=1")
		require.Equal(t, []bool{false}, hook.finalized)
	})

	t.Run("hook errors do not abort the node", func(t *testing.T) {
		dir := t.TempDir()
		sb := &fakeSandbox{results: map[string][]sandbox.ExecResult{
			"build": {
				{ExitCode: 1, Stderr: "SyntaxError: invalid syntax"},
				{ExitCode: 0},
			},
		}}
		hook := &recordingHook{err: errors.New("llm unavailable")}
		e := newEngine(sb, nil, hook)

		d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{cpuNode("b", "build")}}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{})
		require.NoError(t, err)
		assert.Equal(t, models.NodeSucceeded, log.Result("b").Status)
	})
}

func gpuTrainNode() models.DAGNode {
	return models.DAGNode{
		ID: "train.run", Type: models.NodeTypeTrain, Tool: models.ToolShell,
		Commands:  []string{"sh plan/scripts/train.run.sh"},
		Inputs:    []string{"cache/git/repo"},
		Outputs:   []string{"artifacts/model/repo"},
		Resources: &models.NodeResources{GPUCount: 1},
	}
}

func TestGpuExecution(t *testing.T) {
	t.Run("no gateway fails the node", func(t *testing.T) {
		dir := t.TempDir()
		e := newEngine(&fakeSandbox{}, nil, nil)

		d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{gpuTrainNode()}}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{})
		require.NoError(t, err)

		res := log.Result("train.run")
		assert.Equal(t, models.NodeFailed, res.Status)
		assert.Contains(t, res.Attempts[0].Error, "no gateway configured")
	})

	t.Run("scheduled path submits and waits", func(t *testing.T) {
		dir := t.TempDir()
		gw := &fakeCaller{}
		gw.handle = func(method string, params any) (any, error) {
			switch method {
			case "gpu.job.submit":
				return models.GpuJob{JobID: "job-1", State: models.JobQueued}, nil
			case "gpu.job.wait":
				return map[string]any{"done": true, "job": models.GpuJob{
					JobID: "job-1", State: models.JobSucceeded,
					Attempts: []models.GpuJobAttempt{{Attempt: 1, NodeID: "gpu-9"}},
					Result:   &models.GpuJobResult{ExitCode: 0, StdoutTail: "loss=0.01"},
				}}, nil
			}
			return nil, errors.New("unexpected method " + method)
		}
		e := newEngine(&fakeSandbox{}, gw, nil)

		d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{gpuTrainNode()}}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{})
		require.NoError(t, err)

		res := log.Result("train.run")
		assert.Equal(t, models.NodeSucceeded, res.Status)
		assert.Equal(t, models.ExecutorScheduler, res.Executor)
		require.Len(t, res.Attempts, 1)
		assert.True(t, res.Attempts[0].OK)
		assert.Equal(t, "gpu-9", res.Attempts[0].NodeID)
		assert.Contains(t, res.Attempts[0].StdoutTail, "loss=0.01")
		assert.Equal(t, []string{"gpu.job.submit", "gpu.job.wait"}, gw.called())
	})

	t.Run("scheduled path surfaces job failure", func(t *testing.T) {
		dir := t.TempDir()
		gw := &fakeCaller{}
		gw.handle = func(method string, params any) (any, error) {
			switch method {
			case "gpu.job.submit":
				return models.GpuJob{JobID: "job-1", State: models.JobQueued}, nil
			case "gpu.job.wait":
				return map[string]any{"done": true, "job": models.GpuJob{
					JobID: "job-1", State: models.JobFailed,
					Result: &models.GpuJobResult{ExitCode: 1, StderrTail: "irrecoverable"},
				}}, nil
			}
			return nil, errors.New("unexpected method " + method)
		}
		e := newEngine(&fakeSandbox{}, gw, nil)

		d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{gpuTrainNode()}}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{MaxAttempts: 1})
		require.NoError(t, err)

		res := log.Result("train.run")
		assert.Equal(t, models.NodeFailed, res.Status)
		require.NotNil(t, res.Attempts[0].ExitCode)
		assert.Equal(t, 1, *res.Attempts[0].ExitCode)
	})

	t.Run("direct path waits for the node then invokes", func(t *testing.T) {
		dir := t.TempDir()
		gw := &fakeCaller{}
		gw.handle = func(method string, params any) (any, error) {
			switch method {
			case "node.list":
				return models.NodeListResult{Nodes: []models.NodeInfo{{
					NodeID: "lab-gpu", Connected: true,
					Commands:  []string{"system.run"},
					Resources: &models.NodeResources{GPUCount: 2},
				}}}, nil
			case "node.invoke":
				return models.InvokeResult{OK: true, Payload: models.RunCommandResult{ExitCode: 0}}, nil
			}
			return nil, errors.New("unexpected method " + method)
		}
		e := newEngine(&fakeSandbox{}, gw, nil)

		d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{gpuTrainNode()}}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{GatewayNodeID: "lab-gpu"})
		require.NoError(t, err)

		res := log.Result("train.run")
		assert.Equal(t, models.NodeSucceeded, res.Status)
		assert.Equal(t, models.ExecutorGateway, res.Executor)
		assert.Equal(t, "lab-gpu", res.Attempts[0].NodeID)
		assert.Equal(t, []string{"node.list", "node.invoke"}, gw.called())
	})

	t.Run("direct path times out when the node never qualifies", func(t *testing.T) {
		dir := t.TempDir()
		gw := &fakeCaller{}
		gw.handle = func(method string, params any) (any, error) {
			if method == "node.list" {
				return models.NodeListResult{}, nil
			}
			return nil, errors.New("unexpected method " + method)
		}
		e := newEngine(&fakeSandbox{}, gw, nil)

		d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{gpuTrainNode()}}
		log, err := e.Execute(context.Background(), dir, validation(d), Options{GatewayNodeID: "ghost", MaxAttempts: 1})
		require.NoError(t, err)

		res := log.Result("train.run")
		assert.Equal(t, models.NodeFailed, res.Status)
		assert.Contains(t, res.Attempts[0].Error, "no eligible GPU node")
	})
}

func TestBackoff(t *testing.T) {
	e := newEngine(&fakeSandbox{}, nil, nil)

	t.Run("fixed", func(t *testing.T) {
		b := models.Backoff{Kind: models.BackoffFixed, BaseMs: 500, MaxMs: 500}
		assert.Equal(t, 500*time.Millisecond, e.backoff(b, 1))
		assert.Equal(t, 500*time.Millisecond, e.backoff(b, 5))
	})

	t.Run("exponential doubles and caps", func(t *testing.T) {
		b := models.Backoff{Kind: models.BackoffExponential, BaseMs: 1000, MaxMs: 5000}
		assert.Equal(t, 1*time.Second, e.backoff(b, 1))
		assert.Equal(t, 2*time.Second, e.backoff(b, 2))
		assert.Equal(t, 4*time.Second, e.backoff(b, 3))
		assert.Equal(t, 5*time.Second, e.backoff(b, 4), "capped at maxMs")
	})

	t.Run("jitter stays within bounds", func(t *testing.T) {
		b := models.Backoff{Kind: models.BackoffFixed, BaseMs: 1000, MaxMs: 1000, Jitter: true}
		for i := 0; i < 50; i++ {
			d := e.backoff(b, 1)
			assert.GreaterOrEqual(t, d, 750*time.Millisecond)
			assert.LessOrEqual(t, d, 1250*time.Millisecond)
		}
	})
}

func TestNodeEnv(t *testing.T) {
	e := newEngine(&fakeSandbox{}, nil, nil)
	n := &models.DAGNode{ID: "train.run", Env: map[string]string{
		"CUSTOM":            "kept",
		"OPENCLAW_PLAN_DIR": "/tmp/spoofed",
	}}
	env := e.nodeEnv(n)
	assert.Equal(t, "kept", env["CUSTOM"])
	assert.Equal(t, "/workspace/plan", env["OPENCLAW_PLAN_DIR"], "reserved variables are rewritten")
	assert.Equal(t, "/workspace/plan/artifacts/model", env["OPENCLAW_OUTPUT_DIR"])
	assert.Equal(t, "/workspace/plan/artifacts/model/checkpoints", env["OPENCLAW_CHECKPOINT_DIR"])
}

func TestWorkdirFor(t *testing.T) {
	layout := plan.NewLayout("/plans/p1")

	n := &models.DAGNode{Inputs: []string{"input/proposal.md", "cache/git/repo"}}
	assert.Equal(t, filepath.Join("/plans/p1", "cache", "git", "repo"), workdirFor(layout, n))

	n = &models.DAGNode{Inputs: []string{"input/proposal.md"}}
	assert.Equal(t, "/plans/p1", workdirFor(layout, n))
}

func TestSummaryRendersFailures(t *testing.T) {
	dir := t.TempDir()
	sb := &fakeSandbox{results: map[string][]sandbox.ExecResult{
		"break": {
			{ExitCode: 1, Stderr: "panic: everything is on fire"},
			{ExitCode: 1, Stderr: "panic: everything is on fire"},
		},
	}}
	e := newEngine(sb, nil, nil)

	d := &models.PlanDAG{SchemaVersion: 1, Nodes: []models.DAGNode{cpuNode("boom", "break")}}
	_, err := e.Execute(context.Background(), dir, validation(d), Options{})
	require.NoError(t, err)

	summary, err := os.ReadFile(filepath.Join(dir, "report", "execute_summary.md"))
	require.NoError(t, err)
	text := string(summary)
	assert.Contains(t, text, "## Failures")
	assert.Contains(t, text, "### boom")
	assert.True(t, strings.Contains(text, "everything is on fire"))
}

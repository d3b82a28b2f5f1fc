// Package executor runs a validated plan DAG: CPU nodes inside the plan
// sandbox, GPU nodes through the gateway, with per-node retry, failure
// classification, and an optional repair hook between attempts.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/openclaw/openclaw/pkg/config"
	"github.com/openclaw/openclaw/pkg/dag"
	"github.com/openclaw/openclaw/pkg/gateway/client"
	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
	"github.com/openclaw/openclaw/pkg/sandbox"
)

// CommandSandbox is the sandbox surface the engine needs.
type CommandSandbox interface {
	Exec(ctx context.Context, req sandbox.ExecRequest) (sandbox.ExecResult, error)
	MapWorkdir(hostPath string) string
}

// RepairContext describes a failed attempt offered to the repair hook.
// Stdout and Stderr carry the attempt's full output, not the tails stored on
// the attempt record.
type RepairContext struct {
	PlanDir  string
	NodeID   string
	Attempt  int
	Category models.FailureCategory
	Stdout   string
	Stderr   string
}

// RepairOutcome reports what the hook did.
type RepairOutcome struct {
	Applied bool
	Summary string
}

// RepairHook is invoked between attempts of a failing node. MaybeRepair may
// apply a patch; Finalize is called with the outcome of the attempt that
// followed an applied patch.
type RepairHook interface {
	MaybeRepair(ctx context.Context, rc RepairContext) (*RepairOutcome, error)
	Finalize(ctx context.Context, nodeID string, repairAttempt int, ok bool, stdout, stderr string) error
}

// Options are per-run execution knobs.
type Options struct {
	// GatewayNodeID routes GPU nodes directly to this node via node.invoke.
	// Empty routes them through the GPU scheduler.
	GatewayNodeID string

	// MaxAttempts caps attempts per node on top of the retry policy.
	// 0 uses the configured default.
	MaxAttempts int
}

// Engine executes plan DAGs.
type Engine struct {
	cfg     *config.ExecutorConfig
	sandbox CommandSandbox
	gateway client.Caller // nil when no gateway is configured
	repair  RepairHook    // nil disables repair
	logger  *slog.Logger

	// sleep and rng are swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand
}

// New creates an Engine. sandbox is required; gateway and repair may be nil.
func New(cfg *config.ExecutorConfig, sb CommandSandbox, gw client.Caller, repair RepairHook) *Engine {
	return &Engine{
		cfg:     cfg,
		sandbox: sb,
		gateway: gw,
		repair:  repair,
		logger:  slog.With("component", "executor"),
		sleep:   sleepCtx,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute runs every node of a validated plan in topological order and writes
// report/execute_log.json and report/execute_summary.md. Nodes downstream of
// a failed node are skipped. The returned log mirrors what was written.
func (e *Engine) Execute(ctx context.Context, planDir string, v *plan.ValidationResult, opts Options) (*models.ExecuteLog, error) {
	if !v.OK || v.DAG == nil || v.Retry == nil {
		return nil, fmt.Errorf("plan %s is not validated", planDir)
	}
	layout := plan.NewLayout(planDir)

	log := &models.ExecuteLog{SchemaVersion: 1, PlanID: v.PlanID}
	failed := make(map[string]bool) // nodes failed or skipped due to failure

	deps := dependencyIndex(v.DAG)
	for _, nodeID := range v.Order {
		node := v.DAG.Node(nodeID)

		var blocked string
		for _, dep := range deps[nodeID] {
			if failed[dep] {
				blocked = dep
				break
			}
		}

		var result models.NodeResult
		switch {
		case blocked != "":
			result = models.NodeResult{
				NodeID:   node.ID,
				Type:     node.Type,
				Tool:     node.Tool,
				Status:   models.NodeSkipped,
				Executor: executorFor(node, opts),
				Error:    fmt.Sprintf("dependency %s failed", blocked),
			}
			failed[node.ID] = true

		case node.Tool == models.ToolManual || len(node.Commands) == 0:
			result = models.NodeResult{
				NodeID:   node.ID,
				Type:     node.Type,
				Tool:     node.Tool,
				Status:   models.NodeSkipped,
				Executor: models.ExecutorManual,
			}

		default:
			result = e.runNode(ctx, layout, v, node, opts)
			if result.Status == models.NodeFailed {
				failed[node.ID] = true
			}
		}

		log.Results = append(log.Results, result)
		e.logger.Info("Node finished",
			"plan_id", v.PlanID,
			"node_id", node.ID,
			"status", result.Status,
			"attempts", len(result.Attempts))

		if ctx.Err() != nil {
			return log, ctx.Err()
		}
	}

	if err := plan.WriteJSON(layout.Path(plan.ExecuteLogPath), log); err != nil {
		return log, fmt.Errorf("write execute log: %w", err)
	}
	if err := writeSummary(layout, log); err != nil {
		return log, fmt.Errorf("write execute summary: %w", err)
	}
	return log, nil
}

// runNode drives the attempt loop for one executable node.
func (e *Engine) runNode(ctx context.Context, layout plan.Layout, v *plan.ValidationResult, node *models.DAGNode, opts Options) models.NodeResult {
	result := models.NodeResult{
		NodeID:   node.ID,
		Type:     node.Type,
		Tool:     node.Tool,
		Executor: executorFor(node, opts),
	}

	callerMax := opts.MaxAttempts
	if callerMax <= 0 {
		callerMax = e.cfg.MaxAttempts
	}

	repairsUsed := 0
	pendingRepair := 0 // attempt number whose outcome finalizes the repair

	for attemptNo := 1; ; attemptNo++ {
		attempt, stdout, stderr := e.runAttempt(ctx, layout, node, opts, attemptNo)
		result.Attempts = append(result.Attempts, attempt)

		if pendingRepair > 0 && e.repair != nil {
			if err := e.repair.Finalize(ctx, node.ID, pendingRepair, attempt.OK, stdout, stderr); err != nil {
				e.logger.Warn("Repair finalize failed", "node_id", node.ID, "error", err)
			}
			pendingRepair = 0
		}

		if attempt.OK {
			result.Status = models.NodeSucceeded
			return result
		}

		// Classification must see the whole output; the attempt record only
		// keeps tails, and a retryable pattern can scroll past the tail.
		policy := plan.ClassifyFailure(v.Retry, stdout+"\n"+stderr, node.RetryPolicyID)
		attempt.Category = policy.Category
		result.Attempts[len(result.Attempts)-1] = attempt

		maxAttempts := policy.MaxAttempts
		if callerMax > 0 && callerMax < maxAttempts {
			maxAttempts = callerMax
		}
		if attemptNo >= maxAttempts {
			result.Status = models.NodeFailed
			result.Error = fmt.Sprintf("failed after %d attempts (%s)", attemptNo, policy.Category)
			return result
		}

		if e.repair != nil && repairsUsed < e.cfg.MaxRepairAttempts && repairable(policy.Category) {
			outcome, err := e.repair.MaybeRepair(ctx, RepairContext{
				PlanDir:  layout.Root,
				NodeID:   node.ID,
				Attempt:  attemptNo,
				Category: policy.Category,
				Stdout:   stdout,
				Stderr:   stderr,
			})
			if err != nil {
				e.logger.Warn("Repair hook failed", "node_id", node.ID, "error", err)
			} else if outcome != nil && outcome.Applied {
				repairsUsed++
				pendingRepair = attemptNo
				attempt.RepairPatch = outcome.Summary
				result.Attempts[len(result.Attempts)-1] = attempt
			}
		}

		if err := e.sleep(ctx, e.backoff(policy.Backoff, attemptNo)); err != nil {
			result.Status = models.NodeFailed
			result.Error = "execution canceled"
			return result
		}
	}
}

// backoff computes the delay before the next attempt. attemptNo is the
// attempt that just failed, 1-based.
func (e *Engine) backoff(b models.Backoff, attemptNo int) time.Duration {
	ms := b.BaseMs
	if b.Kind == models.BackoffExponential {
		ms = b.BaseMs << (attemptNo - 1)
	}
	if b.MaxMs > 0 && ms > b.MaxMs {
		ms = b.MaxMs
	}
	if b.Jitter && ms > 0 {
		// Uniform factor in [0.75, 1.25].
		ms = int64(float64(ms) * (0.75 + e.rng.Float64()*0.5))
	}
	return time.Duration(ms) * time.Millisecond
}

// repairable excludes categories where waiting beats patching.
func repairable(c models.FailureCategory) bool {
	return c != models.CategoryNetwork && c != models.CategoryRateLimit
}

func executorFor(node *models.DAGNode, opts Options) models.ExecutorKind {
	if !dag.IsGpuNode(node) {
		return models.ExecutorSandbox
	}
	if opts.GatewayNodeID != "" {
		return models.ExecutorGateway
	}
	return models.ExecutorScheduler
}

// dependencyIndex maps node id to its direct dependencies.
func dependencyIndex(d *models.PlanDAG) map[string][]string {
	deps := make(map[string][]string, len(d.Nodes))
	for _, e := range d.Edges {
		deps[e.To] = append(deps[e.To], e.From)
	}
	return deps
}

// workdirFor returns the host working directory for a node: the first input
// under cache/git/, else the plan root.
func workdirFor(layout plan.Layout, node *models.DAGNode) string {
	for _, in := range node.Inputs {
		if strings.HasPrefix(in, plan.GitCacheDir+"/") || in == plan.GitCacheDir {
			return layout.Path(in)
		}
	}
	return layout.Root
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func tailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Package pipeline sequences the proposal stages: compile, validate, safe
// run, refine, execute, finalize, accept. Each stage is callable on its own;
// Run chains them, stopping at the first stage that reports failure.
package pipeline

import (
	"log/slog"

	"github.com/openclaw/openclaw/pkg/accept"
	"github.com/openclaw/openclaw/pkg/compiler"
	"github.com/openclaw/openclaw/pkg/config"
	"github.com/openclaw/openclaw/pkg/credentials"
	"github.com/openclaw/openclaw/pkg/executor"
	"github.com/openclaw/openclaw/pkg/gateway/client"
	"github.com/openclaw/openclaw/pkg/llm"
	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
	"github.com/openclaw/openclaw/pkg/sandbox"
)

// Run modes.
const (
	ModePlan     = "plan"     // compile → validate → safe run → refine → re-validate
	ModeExecute  = "execute"  // validate(strict) → execute → finalize → accept
	ModePipeline = "pipeline" // both
)

// Stage names, used in aggregate results and logs.
const (
	StageCompile    = "compile"
	StageValidate   = "validate"
	StageSafeRun    = "safe_run"
	StageRefine     = "refine"
	StageRevalidate = "revalidate"
	StageExecute    = "execute"
	StageFinalize   = "finalize"
	StageAccept     = "accept"
)

// CompileRequest carries one compile invocation. Proposal text is inlined;
// the CLI reads the file before calling.
type CompileRequest struct {
	Proposal  string               `json:"proposal"`
	Workspace string               `json:"workspace"`
	Discovery models.DiscoveryMode `json:"discovery,omitempty"`
	ModelKey  string               `json:"modelKey,omitempty"`
	AgentID   string               `json:"agentId,omitempty"`
}

// ValidateRequest validates an existing plan package.
type ValidateRequest struct {
	PlanDir      string `json:"planDir"`
	StrictResume bool   `json:"strictResume,omitempty"`
}

// RefineRequest generates the execution scripts of a plan.
type RefineRequest struct {
	PlanDir  string `json:"planDir"`
	ModelKey string `json:"modelKey,omitempty"`
}

// ExecuteRequest runs a validated plan.
type ExecuteRequest struct {
	PlanDir string `json:"planDir"`

	// GatewayNodeID routes GPU nodes directly to one worker. Empty uses the
	// scheduler.
	GatewayNodeID string `json:"gatewayNodeId,omitempty"`

	// MaxAttempts caps per-node attempts on top of the retry policy.
	MaxAttempts int `json:"maxAttempts,omitempty"`

	// NoRepair disables the LLM repair hook for this run.
	NoRepair bool `json:"noRepair,omitempty"`
}

// FinalizeRequest promotes evaluation results into the final documents.
type FinalizeRequest struct {
	PlanDir string `json:"planDir"`
}

// AcceptRequest evaluates acceptance checks against a finished plan.
type AcceptRequest struct {
	PlanDir  string `json:"planDir"`
	Baseline string `json:"baseline,omitempty"`
}

// RunRequest drives the full orchestrator.
type RunRequest struct {
	Mode string `json:"mode,omitempty"` // defaults to ModePipeline

	Compile CompileRequest `json:"compile"`

	// PlanDir is required for execute mode; plan/pipeline modes fill it from
	// the compile stage.
	PlanDir string `json:"planDir,omitempty"`

	// SkipRefine leaves the compiled scripts untouched in plan mode.
	SkipRefine bool `json:"skipRefine,omitempty"`

	Execute ExecuteRequest `json:"execute"`
}

// StageResult is one stage's outcome inside an aggregate run.
type StageResult struct {
	Stage   string `json:"stage"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// RunResult aggregates the stages of one orchestrator run.
type RunResult struct {
	OK      bool          `json:"ok"`
	Mode    string        `json:"mode"`
	PlanDir string        `json:"planDir,omitempty"`
	Stages  []StageResult `json:"stages"`
}

// ExecuteResult wraps the execute log with an overall verdict.
type ExecuteResult struct {
	OK  bool               `json:"ok"`
	Log *models.ExecuteLog `json:"log"`
}

// FinalizeResult reports what finalize produced.
type FinalizeResult struct {
	OK      bool           `json:"ok"`
	Errors  []string       `json:"errors,omitempty"`
	Metrics map[string]any `json:"metrics,omitempty"`
	Paths   []string       `json:"paths,omitempty"`
}

// Runner owns one plan at a time; the gateway side (registry, scheduler) runs
// concurrently and is reached through the client.Caller.
type Runner struct {
	cfg      *config.Config
	llm      llm.Client    // nil: heuristics only, no repair
	gateway  client.Caller // nil: GPU nodes cannot execute
	creds    credentials.Credentials
	compiler *compiler.Compiler
	acceptor *accept.Engine
	logger   *slog.Logger

	// newSandbox is swappable for tests.
	newSandbox func(planID, hostRoot string) executor.CommandSandbox
}

// New creates a Runner. llmClient and gw may be nil.
func New(cfg *config.Config, llmClient llm.Client, gw client.Caller, creds credentials.Credentials) *Runner {
	return &Runner{
		cfg:      cfg,
		llm:      llmClient,
		gateway:  gw,
		creds:    creds,
		compiler: compiler.New(cfg.Compiler, llmClient, creds.GitHubToken),
		acceptor: accept.New(),
		logger:   slog.With("component", "pipeline"),
		newSandbox: func(planID, hostRoot string) executor.CommandSandbox {
			return sandbox.New(cfg.Sandbox, planID, hostRoot, nil)
		},
	}
}

// planSandbox builds the sandbox for a validated plan.
func (r *Runner) planSandbox(planDir, planID string) executor.CommandSandbox {
	return r.newSandbox(planID, planDir)
}

// validationOK reports whether a validation payload allows the next stage.
func validationOK(v *plan.ValidationResult) bool {
	return v != nil && v.OK
}

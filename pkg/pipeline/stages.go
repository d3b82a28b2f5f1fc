package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/openclaw/openclaw/pkg/accept"
	"github.com/openclaw/openclaw/pkg/compiler"
	"github.com/openclaw/openclaw/pkg/executor"
	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
	"github.com/openclaw/openclaw/pkg/repair"
)

// ErrInvalidRequest marks malformed stage requests.
var ErrInvalidRequest = errors.New("invalid pipeline request")

// Compile builds a fresh plan package from a proposal.
func (r *Runner) Compile(ctx context.Context, req CompileRequest) (*compiler.Result, error) {
	if req.Proposal == "" {
		return nil, fmt.Errorf("%w: proposal text is required", ErrInvalidRequest)
	}
	if req.Workspace == "" {
		return nil, fmt.Errorf("%w: workspace is required", ErrInvalidRequest)
	}
	return r.compiler.Compile(ctx, compiler.Request{
		Proposal:  req.Proposal,
		Workspace: req.Workspace,
		Discovery: req.Discovery,
		ModelKey:  req.ModelKey,
		AgentID:   req.AgentID,
	})
}

// Validate checks a plan package. The result carries errors rather than the
// method returning one; a malformed plan is a normal outcome here.
func (r *Runner) Validate(ctx context.Context, req ValidateRequest) (*plan.ValidationResult, error) {
	if req.PlanDir == "" {
		return nil, fmt.Errorf("%w: planDir is required", ErrInvalidRequest)
	}
	return plan.ValidatePlanDir(req.PlanDir, plan.ValidateOptions{StrictResume: req.StrictResume}), nil
}

// Refine rewrites the plan's generated scripts and re-validates. See
// refine.go for the script generation itself.
func (r *Runner) Refine(ctx context.Context, req RefineRequest) (*RefineResult, error) {
	if req.PlanDir == "" {
		return nil, fmt.Errorf("%w: planDir is required", ErrInvalidRequest)
	}
	v := plan.ValidatePlanDir(req.PlanDir, plan.ValidateOptions{})
	if !v.OK {
		return &RefineResult{Errors: v.Errors}, nil
	}
	return r.refine(ctx, req, v)
}

// Execute validates with the strict-resume conventions and runs the DAG.
func (r *Runner) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	if req.PlanDir == "" {
		return nil, fmt.Errorf("%w: planDir is required", ErrInvalidRequest)
	}
	v := plan.ValidatePlanDir(req.PlanDir, plan.ValidateOptions{StrictResume: true})
	if !v.OK {
		return nil, fmt.Errorf("plan %s failed strict validation: %v", req.PlanDir, v.Errors)
	}

	var hook executor.RepairHook
	if r.llm != nil && !req.NoRepair {
		hook = repair.New(r.llm)
	}
	sb := r.planSandbox(req.PlanDir, v.PlanID)
	engine := executor.New(r.cfg.Executor, sb, r.gateway, hook)

	log, err := engine.Execute(ctx, req.PlanDir, v, executor.Options{
		GatewayNodeID: req.GatewayNodeID,
		MaxAttempts:   req.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	res := &ExecuteResult{OK: true, Log: log}
	for _, nr := range log.Results {
		if nr.Status == models.NodeFailed {
			res.OK = false
			break
		}
	}
	return res, nil
}

// Accept evaluates the plan's acceptance checks and archives the run.
func (r *Runner) Accept(ctx context.Context, req AcceptRequest) (*models.AcceptanceReport, error) {
	if req.PlanDir == "" {
		return nil, fmt.Errorf("%w: planDir is required", ErrInvalidRequest)
	}
	return r.acceptor.Accept(accept.Request{PlanDir: req.PlanDir, BaselinePath: req.Baseline})
}

// Run drives the orchestrator in one of the three modes. The first stage that
// reports failure terminates the sequence; its payload is still returned.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModePipeline
	}
	res := &RunResult{Mode: mode, PlanDir: req.PlanDir}

	record := func(stage string, ok bool, payload any, err error) bool {
		sr := StageResult{Stage: stage, OK: ok, Payload: payload}
		if err != nil {
			sr.OK = false
			sr.Error = err.Error()
		}
		res.Stages = append(res.Stages, sr)
		if !sr.OK {
			r.logger.Warn("Pipeline stage failed", "stage", stage, "plan_dir", res.PlanDir, "error", sr.Error)
		}
		return sr.OK
	}

	switch mode {
	case ModePlan, ModeExecute, ModePipeline:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, mode)
	}

	if mode == ModePlan || mode == ModePipeline {
		cres, err := r.Compile(ctx, req.Compile)
		ok := err == nil && cres != nil && cres.OK
		var payload any
		if cres != nil {
			payload = cres
			res.PlanDir = cres.RootDir
		}
		// Needs-confirm items never fail compile; only hard errors do.
		if !record(StageCompile, ok, payload, err) {
			return res, nil
		}

		v, err := r.Validate(ctx, ValidateRequest{PlanDir: res.PlanDir})
		if !record(StageValidate, err == nil && validationOK(v), v, err) {
			return res, nil
		}

		srun, err := r.SafeRun(ctx, res.PlanDir)
		if !record(StageSafeRun, err == nil && srun != nil && srun.OK, srun, err) {
			return res, nil
		}

		if !req.SkipRefine {
			rres, err := r.Refine(ctx, RefineRequest{PlanDir: res.PlanDir, ModelKey: req.Compile.ModelKey})
			if !record(StageRefine, err == nil && rres != nil && rres.OK, rres, err) {
				return res, nil
			}
		}

		v, err = r.Validate(ctx, ValidateRequest{PlanDir: res.PlanDir})
		if !record(StageRevalidate, err == nil && validationOK(v), v, err) {
			return res, nil
		}
	}

	if mode == ModeExecute || mode == ModePipeline {
		if res.PlanDir == "" {
			return nil, fmt.Errorf("%w: planDir is required for execute mode", ErrInvalidRequest)
		}
		if mode == ModeExecute {
			v, err := r.Validate(ctx, ValidateRequest{PlanDir: res.PlanDir, StrictResume: true})
			if !record(StageValidate, err == nil && validationOK(v), v, err) {
				return res, nil
			}
		}

		exe := req.Execute
		exe.PlanDir = res.PlanDir
		eres, err := r.Execute(ctx, exe)
		if !record(StageExecute, err == nil && eres != nil && eres.OK, eres, err) {
			return res, nil
		}

		fres, err := r.Finalize(ctx, FinalizeRequest{PlanDir: res.PlanDir})
		if !record(StageFinalize, err == nil && fres != nil && fres.OK, fres, err) {
			return res, nil
		}

		areport, err := r.Accept(ctx, AcceptRequest{PlanDir: res.PlanDir})
		ok := err == nil && areport != nil && areport.Status != models.CheckFail
		if !record(StageAccept, ok, areport, err) {
			return res, nil
		}
	}

	res.OK = true
	return res, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openclaw/openclaw/pkg/config"
	"github.com/openclaw/openclaw/pkg/credentials"
	"github.com/openclaw/openclaw/pkg/gateway/client"
	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/pipeline"
	"github.com/openclaw/openclaw/pkg/plan"
)

const proposalUsage = `usage: openclaw proposal <stage> [args]

stages:
  compile  <proposal.md> [--workspace dir] [--discovery off|plan|sample] [--model key] [--no-llm] [--agent id] [--json]
  validate <planDir> [--strict] [--json]
  review   <planDir>
  run      <planDir|proposal.md> [--mode plan|execute|pipeline] [...]
  refine   <planDir> [--model key] [--no-llm] [--json]
  execute  <planDir> [--node id] [--max-attempts n] [--no-repair] [--url gateway] [--json]
  finalize <planDir> [--json]
  accept   <planDir> [--baseline path] [--json]
`

// stageFlags are the options shared by every proposal stage.
type stageFlags struct {
	configDir string
	noLLM     bool
	url       string
	token     string
	jsonOut   bool
}

func (f *stageFlags) register(fs interface {
	StringVar(*string, string, string, string)
	BoolVar(*bool, string, bool, string)
}) {
	fs.StringVar(&f.configDir, "config-dir", getEnv("OPENCLAW_CONFIG_DIR", "./config"), "configuration directory")
	fs.BoolVar(&f.noLLM, "no-llm", false, "disable the LLM (heuristics only, no repair)")
	fs.StringVar(&f.url, "url", os.Getenv("OPENCLAW_GATEWAY_URL"), "gateway base URL for GPU nodes (empty: no gateway)")
	fs.StringVar(&f.token, "token", os.Getenv("OPENCLAW_GATEWAY_TOKEN"), "gateway bearer token")
	fs.BoolVar(&f.jsonOut, "json", false, "machine-readable JSON output")
}

// runner builds a pipeline runner from the stage flags.
func (f *stageFlags) runner(ctx context.Context) (*pipeline.Runner, *config.Config) {
	cfg := loadConfig(ctx, f.configDir)
	creds := credentials.Resolve(os.Environ(), os.Getenv("OPENCLAW_STATE_DIR"))

	var gw client.Caller
	if f.url != "" {
		gw = client.NewHTTP(f.url, f.token)
	}
	return pipeline.New(cfg, newLLMClient(cfg, f.noLLM), gw, creds), cfg
}

func runProposal(args []string) {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, proposalUsage)
		os.Exit(1)
	}
	stage, rest := args[0], args[1:]
	ctx := context.Background()

	switch stage {
	case "compile":
		proposalCompile(ctx, rest)
	case "validate":
		proposalValidate(ctx, rest)
	case "review":
		proposalReview(rest)
	case "run":
		proposalRun(ctx, rest)
	case "refine":
		proposalRefine(ctx, rest)
	case "execute":
		proposalExecute(ctx, rest)
	case "finalize":
		proposalFinalize(ctx, rest)
	case "accept":
		proposalAccept(ctx, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown proposal stage %q\n\n%s", stage, proposalUsage)
		os.Exit(1)
	}
}

// positional pops the required leading positional argument.
func positional(args []string, name string) (string, []string) {
	if len(args) < 1 || len(args[0]) == 0 || args[0][0] == '-' {
		fatal("missing required argument <%s>", name)
	}
	return args[0], args[1:]
}

func proposalCompile(ctx context.Context, args []string) {
	path, rest := positional(args, "proposal.md")
	fs := newFlagSet("proposal compile")
	var flags stageFlags
	flags.register(fs)
	workspace := fs.String("workspace", getEnv("OPENCLAW_WORKSPACE", "./plans"), "plan workspace directory")
	discovery := fs.String("discovery", string(models.DiscoveryOff), "discovery mode: off|plan|sample")
	model := fs.String("model", "", "LLM model key (provider/model)")
	agent := fs.String("agent", getEnv("OPENCLAW_AGENT_ID", "default"), "agent id recorded in the plan")
	parseFlags(fs, rest)

	text, err := os.ReadFile(path)
	if err != nil {
		fatal("read proposal: %v", err)
	}

	runner, _ := flags.runner(ctx)
	res, err := runner.Compile(ctx, pipeline.CompileRequest{
		Proposal:  string(text),
		Workspace: *workspace,
		Discovery: models.DiscoveryMode(*discovery),
		ModelKey:  *model,
		AgentID:   *agent,
	})
	if err != nil {
		fatal("compile: %v", err)
	}
	if flags.jsonOut {
		printJSON(res)
	} else {
		fmt.Printf("plan %s compiled into %s (ok=%v, needs_confirm=%d)\n",
			res.PlanID, res.RootDir, res.OK, len(res.Report.NeedsConfirm))
	}
	if !res.OK {
		os.Exit(1)
	}
}

func proposalValidate(ctx context.Context, args []string) {
	planDir, rest := positional(args, "planDir")
	fs := newFlagSet("proposal validate")
	var flags stageFlags
	flags.register(fs)
	strict := fs.Bool("strict", false, "enforce the strict-resume conventions")
	parseFlags(fs, rest)

	runner, _ := flags.runner(ctx)
	res, err := runner.Validate(ctx, pipeline.ValidateRequest{PlanDir: planDir, StrictResume: *strict})
	if err != nil {
		fatal("validate: %v", err)
	}
	if flags.jsonOut {
		printJSON(res)
	} else if res.OK {
		fmt.Printf("plan %s is valid (%d nodes)\n", res.PlanID, len(res.Order))
	} else {
		for _, e := range res.Errors {
			fmt.Fprintln(os.Stderr, "error:", e)
		}
	}
	if !res.OK {
		os.Exit(1)
	}
}

// proposalReview prints the human review material: the needs-confirm items
// and the current approval state.
func proposalReview(args []string) {
	planDir, _ := positional(args, "planDir")
	layout := plan.NewLayout(planDir)

	text, err := plan.ReadText(layout.Path(plan.NeedsConfirmPath))
	if err != nil {
		fatal("read %s: %v", plan.NeedsConfirmPath, err)
	}
	fmt.Print(text)

	if _, err := os.Stat(layout.Path(plan.ApprovalsPath)); err == nil {
		fmt.Printf("\napprovals recorded in %s\n", plan.ApprovalsPath)
	} else {
		fmt.Printf("\nno approvals recorded yet; write %s to approve items\n", plan.ApprovalsPath)
	}
}

func proposalRun(ctx context.Context, args []string) {
	target, rest := positional(args, "planDir|proposal.md")
	fs := newFlagSet("proposal run")
	var flags stageFlags
	flags.register(fs)
	mode := fs.String("mode", "", "plan|execute|pipeline (default: pipeline for proposals, execute for plan dirs)")
	workspace := fs.String("workspace", getEnv("OPENCLAW_WORKSPACE", "./plans"), "plan workspace directory")
	discovery := fs.String("discovery", string(models.DiscoveryOff), "discovery mode: off|plan|sample")
	model := fs.String("model", "", "LLM model key")
	nodeID := fs.String("node", "", "route GPU nodes directly to this worker")
	skipRefine := fs.Bool("skip-refine", false, "keep compiled scripts untouched")
	parseFlags(fs, rest)

	req := pipeline.RunRequest{
		Mode:       *mode,
		SkipRefine: *skipRefine,
		Execute:    pipeline.ExecuteRequest{GatewayNodeID: *nodeID, NoRepair: flags.noLLM},
	}
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		req.PlanDir = target
		if req.Mode == "" {
			req.Mode = pipeline.ModeExecute
		}
	} else {
		text, err := os.ReadFile(target)
		if err != nil {
			fatal("read %s: %v", target, err)
		}
		req.Compile = pipeline.CompileRequest{
			Proposal:  string(text),
			Workspace: *workspace,
			Discovery: models.DiscoveryMode(*discovery),
			ModelKey:  *model,
			AgentID:   getEnv("OPENCLAW_AGENT_ID", "default"),
		}
	}

	runner, _ := flags.runner(ctx)
	res, err := runner.Run(ctx, req)
	if err != nil {
		fatal("run: %v", err)
	}
	if flags.jsonOut {
		printJSON(res)
	} else {
		for _, st := range res.Stages {
			status := "ok"
			if !st.OK {
				status = "FAILED"
				if st.Error != "" {
					status += ": " + st.Error
				}
			}
			fmt.Printf("%-12s %s\n", st.Stage, status)
		}
		fmt.Printf("plan dir: %s\n", res.PlanDir)
	}
	if !res.OK {
		os.Exit(1)
	}
}

func proposalRefine(ctx context.Context, args []string) {
	planDir, rest := positional(args, "planDir")
	fs := newFlagSet("proposal refine")
	var flags stageFlags
	flags.register(fs)
	model := fs.String("model", "", "LLM model key")
	parseFlags(fs, rest)

	runner, _ := flags.runner(ctx)
	res, err := runner.Refine(ctx, pipeline.RefineRequest{PlanDir: planDir, ModelKey: *model})
	if err != nil {
		fatal("refine: %v", err)
	}
	if flags.jsonOut {
		printJSON(res)
	} else {
		for _, s := range res.Scripts {
			fmt.Println("wrote", filepath.Join(planDir, s))
		}
		for _, e := range res.Errors {
			fmt.Fprintln(os.Stderr, "error:", e)
		}
	}
	if !res.OK {
		os.Exit(1)
	}
}

func proposalExecute(ctx context.Context, args []string) {
	planDir, rest := positional(args, "planDir")
	fs := newFlagSet("proposal execute")
	var flags stageFlags
	flags.register(fs)
	nodeID := fs.String("node", "", "route GPU nodes directly to this worker")
	maxAttempts := fs.Int("max-attempts", 0, "cap per-node attempts (0: policy default)")
	noRepair := fs.Bool("no-repair", false, "disable LLM repair between attempts")
	parseFlags(fs, rest)

	runner, _ := flags.runner(ctx)
	res, err := runner.Execute(ctx, pipeline.ExecuteRequest{
		PlanDir:       planDir,
		GatewayNodeID: *nodeID,
		MaxAttempts:   *maxAttempts,
		NoRepair:      *noRepair,
	})
	if err != nil {
		fatal("execute: %v", err)
	}
	if flags.jsonOut {
		printJSON(res)
	} else {
		for _, nr := range res.Log.Results {
			fmt.Printf("%-24s %-9s attempts=%d\n", nr.NodeID, nr.Status, len(nr.Attempts))
		}
	}
	if !res.OK {
		os.Exit(1)
	}
}

func proposalFinalize(ctx context.Context, args []string) {
	planDir, rest := positional(args, "planDir")
	fs := newFlagSet("proposal finalize")
	var flags stageFlags
	flags.register(fs)
	parseFlags(fs, rest)

	runner, _ := flags.runner(ctx)
	res, err := runner.Finalize(ctx, pipeline.FinalizeRequest{PlanDir: planDir})
	if err != nil {
		fatal("finalize: %v", err)
	}
	if flags.jsonOut {
		printJSON(res)
	} else {
		for _, p := range res.Paths {
			fmt.Println("wrote", filepath.Join(planDir, p))
		}
		for _, e := range res.Errors {
			fmt.Fprintln(os.Stderr, "error:", e)
		}
	}
	if !res.OK {
		os.Exit(1)
	}
}

func proposalAccept(ctx context.Context, args []string) {
	planDir, rest := positional(args, "planDir")
	fs := newFlagSet("proposal accept")
	var flags stageFlags
	flags.register(fs)
	baseline := fs.String("baseline", "", "baseline final_metrics.json path")
	parseFlags(fs, rest)

	runner, _ := flags.runner(ctx)
	report, err := runner.Accept(ctx, pipeline.AcceptRequest{PlanDir: planDir, Baseline: *baseline})
	if err != nil {
		fatal("accept: %v", err)
	}
	if flags.jsonOut {
		printJSON(report)
	} else {
		for _, cr := range report.Results {
			fmt.Printf("%-40s %s\n", cr.Check.ID, cr.Status)
		}
		fmt.Println("status:", report.Status)
	}
	os.Exit(report.ExitCode())
}

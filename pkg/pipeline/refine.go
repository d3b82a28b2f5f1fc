package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openclaw/openclaw/pkg/dag"
	"github.com/openclaw/openclaw/pkg/llm"
	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

// RefineResult reports which scripts refine produced.
type RefineResult struct {
	OK      bool     `json:"ok"`
	Scripts []string `json:"scripts,omitempty"` // plan-relative paths
	Errors  []string `json:"errors,omitempty"`
}

const refineSystemPrompt = `You write POSIX shell scripts that run one step of
a machine learning experiment inside a Linux container. Respond with a single
fenced shell block and nothing else. The script must be restartable: when its
checkpoint directory already has state, resume instead of starting over. Never
use sudo, never touch paths outside the working tree.`

// refine generates plan/scripts/<nodeId>.sh for every node whose commands
// reference one, then re-validates with the strict-resume conventions.
func (r *Runner) refine(ctx context.Context, req RefineRequest, v *plan.ValidationResult) (*RefineResult, error) {
	layout := plan.NewLayout(req.PlanDir)
	res := &RefineResult{}

	proposal, err := plan.ReadText(layout.Path(plan.ProposalPath))
	if err != nil {
		return nil, fmt.Errorf("read proposal: %w", err)
	}

	for _, nodeID := range v.Order {
		node := v.DAG.Node(nodeID)
		rel, wants := wantedScript(node)
		if !wants {
			continue
		}

		script := r.scriptFor(ctx, proposal, v.DAG, node, req.ModelKey)
		if err := plan.WriteText(layout.Path(rel), script); err != nil {
			return nil, fmt.Errorf("write %s: %w", rel, err)
		}
		res.Scripts = append(res.Scripts, rel)
	}

	strict := plan.ValidatePlanDir(req.PlanDir, plan.ValidateOptions{StrictResume: true})
	res.Errors = strict.Errors
	res.OK = strict.OK
	r.logger.Info("Plan refined", "plan_id", v.PlanID, "scripts", len(res.Scripts), "ok", res.OK)
	return res, nil
}

// wantedScript reports whether a node's commands reference its generated
// script, returning the plan-relative script path.
func wantedScript(node *models.DAGNode) (string, bool) {
	rel := plan.ScriptsDir + "/" + node.ID + ".sh"
	for _, cmd := range node.Commands {
		if strings.Contains(cmd, rel) {
			return rel, true
		}
	}
	return "", false
}

// scriptFor produces the script body: LLM-authored when a client is wired,
// with the deterministic template as both the prompt baseline and the
// fallback.
func (r *Runner) scriptFor(ctx context.Context, proposal string, d *models.PlanDAG, node *models.DAGNode, modelKey string) string {
	template := templateScript(d, node)
	if r.llm == nil {
		return template
	}

	prompt := fmt.Sprintf("Proposal:\n%s\n\nNode %s (type %s). Baseline script:\n```sh\n%s```\n\nImprove the baseline for this proposal. Keep the environment variable contract and output paths unchanged.",
		proposal, node.ID, node.Type, template)
	completion, err := r.llm.Complete(ctx, llm.CompletionRequest{
		System:   refineSystemPrompt,
		Prompt:   prompt,
		ModelKey: modelKey,
	})
	if err != nil {
		r.logger.Warn("Script generation fell back to template", "node", node.ID, "error", err)
		return template
	}
	if body, ok := fencedShell(completion); ok {
		return body
	}
	return template
}

// fencedShell extracts the first fenced code block of a completion.
func fencedShell(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the info string (sh, bash, ...).
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	body := strings.TrimSpace(rest[:end])
	if body == "" {
		return "", false
	}
	return body + "\n", true
}

// templateScript renders the deterministic per-type script.
func templateScript(d *models.PlanDAG, node *models.DAGNode) string {
	repoDir := firstWithPrefix(node.Inputs, plan.GitCacheDir+"/")
	venvDir := venvOf(d)

	var b strings.Builder
	b.WriteString("#!/bin/sh\nset -eu\n\n")
	fmt.Fprintf(&b, ": \"${%s:?}\"\n", dag.EnvPlanDir)

	switch node.Type {
	case models.NodeTypeTrain:
		fmt.Fprintf(&b, ": \"${%s:?}\"\n: \"${%s:?}\"\n\n", dag.EnvOutputDir, dag.EnvCheckpointDir)
		fmt.Fprintf(&b, "mkdir -p \"$%s\" \"$%s\"\n", dag.EnvOutputDir, dag.EnvCheckpointDir)
		if venvDir != "" {
			fmt.Fprintf(&b, ". \"$%s\"/%s/bin/activate\n", dag.EnvPlanDir, venvDir)
		}
		if repoDir != "" {
			fmt.Fprintf(&b, "cd \"$%s\"/%s\n", dag.EnvPlanDir, repoDir)
		}
		b.WriteString(`
resume_args=""
if [ -f "$` + dag.EnvCheckpointDir + `/latest" ]; then
  resume_args="--resume $` + dag.EnvCheckpointDir + `/latest"
fi
entry=""
for candidate in train.py src/train.py main.py; do
  if [ -f "$candidate" ]; then entry="$candidate"; break; fi
done
if [ -z "$entry" ]; then
  echo "no training entry point found" >&2
  exit 1
fi
python "$entry" --output-dir "$` + dag.EnvOutputDir + `" --checkpoint-dir "$` + dag.EnvCheckpointDir + `" $resume_args
`)
		fmt.Fprintf(&b, "\nmanifest=\"$%s\"/%s\n", dag.EnvPlanDir, plan.CheckpointManifest)
		b.WriteString(`printf '{"schemaVersion":1,"checkpoints":[' > "$manifest"
sep=""
for ckpt in "$` + dag.EnvCheckpointDir + `"/*; do
  [ -e "$ckpt" ] || continue
  printf '%s"%s"' "$sep" "$(basename "$ckpt")" >> "$manifest"
  sep=","
done
printf ']}\n' >> "$manifest"
`)

	case models.NodeTypeEval:
		if venvDir != "" {
			fmt.Fprintf(&b, ". \"$%s\"/%s/bin/activate\n", dag.EnvPlanDir, venvDir)
		}
		if repoDir != "" {
			fmt.Fprintf(&b, "cd \"$%s\"/%s\n", dag.EnvPlanDir, repoDir)
		} else if md := firstWithPrefix(node.Inputs, plan.ModelArtifactsDir+"/"); md != "" {
			fmt.Fprintf(&b, "model_dir=\"$%s\"/%s\n", dag.EnvPlanDir, md)
		}
		fmt.Fprintf(&b, "\nout=\"$%s\"/%s\n", dag.EnvPlanDir, plan.EvalMetricsPath)
		b.WriteString(`entry=""
for candidate in eval.py evaluate.py src/eval.py; do
  if [ -f "$candidate" ]; then entry="$candidate"; break; fi
done
if [ -n "$entry" ]; then
  python "$entry" --metrics-out "$out"
else
  printf '{"metrics":{}}\n' > "$out"
fi
`)

	case models.NodeTypeReport:
		fmt.Fprintf(&b, "\neval_metrics=\"$%s\"/%s\n", dag.EnvPlanDir, plan.EvalMetricsPath)
		fmt.Fprintf(&b, "final_metrics=\"$%s\"/%s\n", dag.EnvPlanDir, plan.FinalMetricsPath)
		fmt.Fprintf(&b, "final_report=\"$%s\"/%s\n", dag.EnvPlanDir, plan.FinalReportPath)
		b.WriteString(`if [ -f "$eval_metrics" ]; then
  cp "$eval_metrics" "$final_metrics"
else
  printf '{"metrics":{}}\n' > "$final_metrics"
fi
{
  echo "# Experiment Report"
  echo
  echo '## Metrics'
  echo
  cat "$final_metrics"
} > "$final_report"
`)

	default:
		for _, cmd := range node.Commands {
			// A generated script never recurses into itself.
			if strings.Contains(cmd, plan.ScriptsDir+"/"+node.ID+".sh") {
				continue
			}
			b.WriteString(cmd + "\n")
		}
	}
	return b.String()
}

// venvOf finds the virtualenv directory from setup.venv outputs.
func venvOf(d *models.PlanDAG) string {
	node := d.Node("setup.venv")
	if node == nil {
		return ""
	}
	outputs := append([]string(nil), node.Outputs...)
	sort.Strings(outputs)
	return firstWithPrefix(outputs, plan.VenvCacheDir+"/")
}

func firstWithPrefix(paths []string, prefix string) string {
	for _, p := range paths {
		if strings.HasPrefix(p, prefix) {
			return p
		}
	}
	return ""
}

package dag

import (
	"fmt"
	"strings"

	"github.com/openclaw/openclaw/pkg/models"
)

// ConventionOptions control the strictness of ValidateConventions.
type ConventionOptions struct {
	// StrictResume enforces the restart-safe training contract: checkpoint
	// manifest output, script entry point, and checkpoint env variables on
	// train.run. Required before execute.
	StrictResume bool
}

// Env variables the strict-resume contract requires on train.run.
const (
	EnvPlanDir       = "OPENCLAW_PLAN_DIR"
	EnvOutputDir     = "OPENCLAW_OUTPUT_DIR"
	EnvCheckpointDir = "OPENCLAW_CHECKPOINT_DIR"
)

// ValidateConventions enforces output and env conventions on the execution
// chain nodes. The DAG must already have passed Validate.
func ValidateConventions(d *models.PlanDAG, opts ConventionOptions) []string {
	var reasons []string

	if setup := d.Node("setup.venv"); setup != nil {
		for _, want := range []string{"cache/venv/", "cache/hf", "cache/pip"} {
			if !hasOutputPrefix(setup, want) {
				reasons = append(reasons, fmt.Sprintf("setup.venv outputs missing %q", want))
			}
		}
	}

	train := d.Node("train.run")
	if train != nil {
		if !hasOutputPrefix(train, "artifacts/model/") {
			reasons = append(reasons, `train.run outputs missing "artifacts/model/<repoKey>"`)
		}
		if opts.StrictResume {
			if !hasOutput(train, "report/checkpoint_manifest.json") {
				reasons = append(reasons, `strict resume: train.run outputs missing "report/checkpoint_manifest.json"`)
			}
			if !invokesScript(train, "plan/scripts/train.run.sh") {
				reasons = append(reasons, `strict resume: train.run commands must invoke "plan/scripts/train.run.sh"`)
			}
			for _, env := range []string{EnvPlanDir, EnvCheckpointDir} {
				if _, ok := train.Env[env]; !ok {
					reasons = append(reasons, fmt.Sprintf("strict resume: train.run env missing %s", env))
				}
			}
		}
	}

	// All inputs/outputs must be plan-relative.
	for i := range d.Nodes {
		n := &d.Nodes[i]
		for _, p := range append(append([]string{}, n.Inputs...), n.Outputs...) {
			if strings.HasPrefix(p, "/") {
				reasons = append(reasons, fmt.Sprintf("node %s: absolute path %q not allowed", n.ID, p))
			}
			if strings.Contains(p, "..") {
				reasons = append(reasons, fmt.Sprintf("node %s: path %q escapes the plan root", n.ID, p))
			}
		}
	}

	return reasons
}

func hasOutput(n *models.DAGNode, out string) bool {
	for _, o := range n.Outputs {
		if o == out {
			return true
		}
	}
	return false
}

func hasOutputPrefix(n *models.DAGNode, prefix string) bool {
	for _, o := range n.Outputs {
		if strings.HasPrefix(o, prefix) || o == strings.TrimSuffix(prefix, "/") {
			return true
		}
	}
	return false
}

func invokesScript(n *models.DAGNode, script string) bool {
	for _, c := range n.Commands {
		if strings.Contains(c, script) {
			return true
		}
	}
	return false
}

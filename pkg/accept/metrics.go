package accept

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/openclaw/openclaw/pkg/plan"
)

// loadScalarMetrics reads the plan's metrics document, keeping only scalar
// values (numbers and strings). Non-scalars produce a warning, not an error.
func loadScalarMetrics(layout plan.Layout) (map[string]any, []string) {
	var warnings []string
	var raw map[string]any
	var src string
	for _, rel := range []string{plan.FinalMetricsPath, plan.EvalMetricsPath} {
		if err := plan.ReadJSON(layout.Path(rel), &raw); err == nil {
			src = rel
			break
		}
	}
	if raw == nil {
		return map[string]any{}, []string{"no metrics document found"}
	}
	raw = unwrapMetrics(raw)

	metrics := make(map[string]any, len(raw))
	for name, v := range raw {
		switch v.(type) {
		case float64, string, bool:
			metrics[name] = v
		default:
			warnings = append(warnings, fmt.Sprintf("ignoring non-scalar metric %q in %s", name, src))
		}
	}
	return metrics, warnings
}

// resolveBaseline loads baseline metrics from an explicit path, or from the
// most recent archived run when none is given. Missing baselines are normal
// for a first run.
func resolveBaseline(layout plan.Layout, baselinePath string) (map[string]any, []string) {
	if baselinePath != "" {
		var m map[string]any
		if err := plan.ReadJSON(baselinePath, &m); err != nil {
			return nil, []string{fmt.Sprintf("baseline %s unreadable: %v", baselinePath, err)}
		}
		return scalarsOnly(unwrapMetrics(m)), nil
	}

	runsDir := layout.Path(plan.RunsDir)
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return nil, nil
	}
	var runIDs []string
	for _, ent := range entries {
		if ent.IsDir() {
			runIDs = append(runIDs, ent.Name())
		}
	}
	// Run ids sort chronologically by construction.
	sort.Sort(sort.Reverse(sort.StringSlice(runIDs)))

	for _, runID := range runIDs {
		candidate := filepath.Join(runsDir, runID, filepath.FromSlash(plan.FinalMetricsPath))
		var m map[string]any
		if err := plan.ReadJSON(candidate, &m); err == nil {
			return scalarsOnly(unwrapMetrics(m)), nil
		}
	}
	return nil, nil
}

// unwrapMetrics supports both flat documents and the {"metrics": {...}}
// wrapper shape.
func unwrapMetrics(raw map[string]any) map[string]any {
	if inner, ok := raw["metrics"].(map[string]any); ok {
		return inner
	}
	return raw
}

func scalarsOnly(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v.(type) {
		case float64, string, bool:
			out[k] = v
		}
	}
	return out
}

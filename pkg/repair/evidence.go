package repair

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/openclaw/openclaw/pkg/executor"
	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

// evidenceLogCap bounds each captured log file after redaction.
const evidenceLogCap = 1 << 20

const evidenceFile = "repair_evidence.json"

// tokenPatterns match credential-shaped strings that must never land in
// evidence files.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`hf_[A-Za-z0-9]{16,}`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{16,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9\-_]{16,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{16,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)\s*[=:]\s*\S+`),
}

// redact replaces credential-shaped substrings.
func redact(s string) string {
	for _, p := range tokenPatterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func capLog(s string) string {
	s = redact(s)
	if len(s) > evidenceLogCap {
		return s[:evidenceLogCap]
	}
	return s
}

// recordPending writes the before-state of a repair under
// report/repairs/<nodeId>/attempt-<n>/ and returns the evidence dir.
func (e *Engine) recordPending(rc executor.RepairContext, summary string, files []string) (string, error) {
	layout := plan.NewLayout(rc.PlanDir)
	dir := layout.RepairAttemptDir(rc.NodeID, rc.Attempt)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	if err := os.WriteFile(filepath.Join(dir, "before.stdout.txt"), []byte(capLog(rc.Stdout)), 0o644); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "before.stderr.txt"), []byte(capLog(rc.Stderr)), 0o644); err != nil {
		return "", err
	}

	if metrics := loadMetrics(layout); metrics != nil {
		if err := plan.WriteJSON(filepath.Join(dir, "metrics_before.json"), metrics); err != nil {
			return "", err
		}
	}

	evidence := models.RepairEvidence{
		SchemaVersion: 1,
		NodeID:        rc.NodeID,
		Attempt:       rc.Attempt,
		Status:        models.RepairAppliedOnly,
		PatchSummary:  summary,
		PatchedFiles:  files,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	return dir, plan.WriteJSON(filepath.Join(dir, evidenceFile), &evidence)
}

// finalizeEvidence completes a pending evidence record with the rerun
// outcome. A record that is already finalized is left untouched.
func (e *Engine) finalizeEvidence(dir string, ok bool, stdout, stderr string) error {
	var evidence models.RepairEvidence
	if err := plan.ReadJSON(filepath.Join(dir, evidenceFile), &evidence); err != nil {
		return err
	}
	if evidence.FinalizedAt != "" {
		return nil
	}

	if err := os.WriteFile(filepath.Join(dir, "after.stdout.txt"), []byte(capLog(stdout)), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "after.stderr.txt"), []byte(capLog(stderr)), 0o644); err != nil {
		return err
	}

	// planDir = <planDir>/report/repairs/<node>/attempt-<n> → four levels up.
	layout := plan.NewLayout(filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(dir)))))
	var before map[string]any
	_ = plan.ReadJSON(filepath.Join(dir, "metrics_before.json"), &before)
	after := loadMetrics(layout)
	if after != nil {
		if err := plan.WriteJSON(filepath.Join(dir, "metrics_after.json"), after); err != nil {
			return err
		}
	}
	evidence.MetricDeltas = metricDeltas(before, after)

	if ok {
		evidence.Status = models.RepairRerunOK
	} else {
		evidence.Status = models.RepairRerunFailed
	}
	evidence.FinalizedAt = time.Now().UTC().Format(time.RFC3339)
	return plan.WriteJSON(filepath.Join(dir, evidenceFile), &evidence)
}

// loadMetrics reads the freshest metrics document of a plan, preferring
// final_metrics.json over eval_metrics.json.
func loadMetrics(layout plan.Layout) map[string]any {
	for _, rel := range []string{plan.FinalMetricsPath, plan.EvalMetricsPath} {
		var m map[string]any
		if err := plan.ReadJSON(layout.Path(rel), &m); err == nil {
			if inner, ok := m["metrics"].(map[string]any); ok {
				return inner
			}
			return m
		}
	}
	return nil
}

// metricDeltas computes numeric before/after deltas for metrics present in
// both snapshots, sorted by metric name.
func metricDeltas(before, after map[string]any) []models.MetricDelta {
	var deltas []models.MetricDelta
	for name, bv := range before {
		av, ok := after[name]
		if !ok {
			continue
		}
		b, bok := asFloat(bv)
		a, aok := asFloat(av)
		if !bok || !aok {
			continue
		}
		deltas = append(deltas, models.MetricDelta{Metric: name, Before: b, After: a, Delta: a - b})
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Metric < deltas[j].Metric })
	return deltas
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case int:
		return float64(x), true
	}
	return 0, false
}

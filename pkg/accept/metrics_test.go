package accept

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw/pkg/plan"
)

func metricsLayout(t *testing.T) plan.Layout {
	t.Helper()
	l := plan.NewLayout(t.TempDir())
	require.NoError(t, l.MkdirAll())
	return l
}

func TestLoadScalarMetrics(t *testing.T) {
	t.Run("flat document", func(t *testing.T) {
		l := metricsLayout(t)
		require.NoError(t, plan.WriteJSON(l.Path(plan.FinalMetricsPath), map[string]any{
			"accuracy": 0.82, "dataset": "sst2",
		}))

		metrics, warnings := loadScalarMetrics(l)
		assert.Empty(t, warnings)
		assert.Equal(t, 0.82, metrics["accuracy"])
		assert.Equal(t, "sst2", metrics["dataset"])
	})

	t.Run("wrapped metrics key is unwrapped", func(t *testing.T) {
		l := metricsLayout(t)
		require.NoError(t, plan.WriteJSON(l.Path(plan.EvalMetricsPath), map[string]any{
			"metrics": map[string]any{"accuracy": 0.82},
			"runtime": "93s",
		}))

		metrics, _ := loadScalarMetrics(l)
		assert.Equal(t, 0.82, metrics["accuracy"])
		assert.NotContains(t, metrics, "runtime")
	})

	t.Run("final metrics shadow eval metrics", func(t *testing.T) {
		l := metricsLayout(t)
		require.NoError(t, plan.WriteJSON(l.Path(plan.EvalMetricsPath), map[string]any{"accuracy": 0.5}))
		require.NoError(t, plan.WriteJSON(l.Path(plan.FinalMetricsPath), map[string]any{"accuracy": 0.9}))

		metrics, _ := loadScalarMetrics(l)
		assert.Equal(t, 0.9, metrics["accuracy"])
	})

	t.Run("non-scalar values warn and are dropped", func(t *testing.T) {
		l := metricsLayout(t)
		require.NoError(t, plan.WriteJSON(l.Path(plan.FinalMetricsPath), map[string]any{
			"accuracy":  0.82,
			"confusion": [][]int{{4, 1}, {0, 5}},
		}))

		metrics, warnings := loadScalarMetrics(l)
		assert.Equal(t, 0.82, metrics["accuracy"])
		assert.NotContains(t, metrics, "confusion")
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], `"confusion"`)
	})

	t.Run("no document at all", func(t *testing.T) {
		metrics, warnings := loadScalarMetrics(metricsLayout(t))
		assert.Empty(t, metrics)
		assert.Equal(t, []string{"no metrics document found"}, warnings)
	})
}

func TestResolveBaseline(t *testing.T) {
	t.Run("explicit path wins", func(t *testing.T) {
		l := metricsLayout(t)
		base := filepath.Join(t.TempDir(), "baseline.json")
		require.NoError(t, plan.WriteJSON(base, map[string]any{"metrics": map[string]any{"accuracy": 0.7}}))

		got, warnings := resolveBaseline(l, base)
		assert.Empty(t, warnings)
		assert.Equal(t, 0.7, got["accuracy"])
	})

	t.Run("unreadable explicit path warns", func(t *testing.T) {
		got, warnings := resolveBaseline(metricsLayout(t), filepath.Join(t.TempDir(), "absent.json"))
		assert.Nil(t, got)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "unreadable")
	})

	t.Run("latest archived run supplies the default baseline", func(t *testing.T) {
		l := metricsLayout(t)
		for runID, acc := range map[string]float64{
			"20240101-000000-aaaaaa": 0.60,
			"20240301-000000-cccccc": 0.80,
			"20240201-000000-bbbbbb": 0.70,
		} {
			path := filepath.Join(l.RunDir(runID), filepath.FromSlash(plan.FinalMetricsPath))
			require.NoError(t, plan.WriteJSON(path, map[string]any{"accuracy": acc}))
		}

		got, warnings := resolveBaseline(l, "")
		assert.Empty(t, warnings)
		require.NotNil(t, got)
		assert.Equal(t, 0.80, got["accuracy"], "run ids sort chronologically")
	})

	t.Run("no archived runs means no baseline", func(t *testing.T) {
		got, warnings := resolveBaseline(metricsLayout(t), "")
		assert.Nil(t, got)
		assert.Empty(t, warnings)
	})
}

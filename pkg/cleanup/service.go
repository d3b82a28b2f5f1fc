// Package cleanup provides data retention for plan workspaces and the GPU
// scheduler.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/openclaw/openclaw/pkg/config"
	"github.com/openclaw/openclaw/pkg/plan"
)

// JobPruner is the scheduler surface the sweep needs.
type JobPruner interface {
	PruneTerminal(ttl time.Duration) int
}

// Service periodically enforces retention policies:
//   - Removes archived runs beyond MaxRuns / older than MaxRunAge per plan
//   - Drops terminal GPU jobs past their TTL from the scheduler
//
// All operations are idempotent.
type Service struct {
	config    *config.RetentionConfig
	workspace string // directory that holds plan packages
	scheduler JobPruner

	cancel context.CancelFunc
	done   chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

// NewService creates a cleanup service. scheduler may be nil.
func NewService(cfg *config.RetentionConfig, workspace string, scheduler JobPruner) *Service {
	return &Service{
		config:    cfg,
		workspace: workspace,
		scheduler: scheduler,
		now:       time.Now,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if !s.config.Enabled || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"max_runs", s.config.MaxRuns,
		"max_run_age", s.config.MaxRunAge,
		"job_ttl", s.config.JobTTL,
		"interval", s.config.SweepInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one retention pass. Exported so the CLI can trigger it directly.
func (s *Service) Sweep() {
	s.pruneRuns()
	s.pruneJobs()
}

func (s *Service) pruneRuns() {
	if s.config.MaxRuns <= 0 && s.config.MaxRunAge <= 0 {
		return
	}
	plans, err := os.ReadDir(s.workspace)
	if err != nil {
		return
	}

	total := 0
	for _, ent := range plans {
		if !ent.IsDir() {
			continue
		}
		runsDir := plan.NewLayout(filepath.Join(s.workspace, ent.Name())).Path(plan.RunsDir)
		total += s.pruneRunsDir(runsDir)
	}
	if total > 0 {
		slog.Info("Retention: removed archived runs", "count", total)
	}
}

// pruneRunsDir applies MaxRuns and MaxRunAge to one plan's run archive.
// Run ids start with a UTC timestamp, so lexical order is chronological.
func (s *Service) pruneRunsDir(runsDir string) int {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return 0
	}
	var runs []string
	for _, ent := range entries {
		if ent.IsDir() {
			runs = append(runs, ent.Name())
		}
	}
	sort.Strings(runs)

	doomed := make(map[string]bool)
	if s.config.MaxRuns > 0 && len(runs) > s.config.MaxRuns {
		for _, runID := range runs[:len(runs)-s.config.MaxRuns] {
			doomed[runID] = true
		}
	}
	if s.config.MaxRunAge > 0 {
		cutoff := s.now().Add(-s.config.MaxRunAge).UTC().Format("20060102-150405")
		for _, runID := range runs {
			if runID < cutoff {
				doomed[runID] = true
			}
		}
	}

	removed := 0
	for runID := range doomed {
		if err := os.RemoveAll(filepath.Join(runsDir, runID)); err != nil {
			slog.Error("Retention: run removal failed", "run_id", runID, "error", err)
			continue
		}
		removed++
	}
	return removed
}

func (s *Service) pruneJobs() {
	if s.scheduler == nil || s.config.JobTTL <= 0 {
		return
	}
	if count := s.scheduler.PruneTerminal(s.config.JobTTL); count > 0 {
		slog.Info("Retention: pruned terminal GPU jobs", "count", count)
	}
}

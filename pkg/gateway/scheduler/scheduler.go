// Package scheduler multiplexes GPU jobs over dynamically connected worker
// nodes. A single Scheduler instance per gateway is authoritative; all state
// lives in memory, with optional persistence of terminal jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/openclaw/openclaw/pkg/config"
	"github.com/openclaw/openclaw/pkg/models"
)

// Sentinel errors for scheduler operations.
var (
	// ErrUnknownJob indicates the job id does not exist.
	ErrUnknownJob = errors.New("unknown job")

	// ErrInvalidRequest indicates a malformed submit or control request.
	ErrInvalidRequest = errors.New("invalid request")
)

// RunCommand is the RPC worker nodes advertise for job execution.
const RunCommand = "system.run"

// CancelCommand is the best-effort RPC for aborting a running attempt.
const CancelCommand = "system.cancel"

// NodeSource is the subset of the node registry the scheduler consumes.
type NodeSource interface {
	List() models.NodeListResult
	Invoke(ctx context.Context, req models.InvokeParams) (models.InvokeResult, error)
}

// Store persists terminal jobs. Nil disables persistence.
type Store interface {
	SaveTerminal(ctx context.Context, job *models.GpuJob) error
}

// SubmitRequest is the gpu.job.submit payload.
type SubmitRequest struct {
	Resources   models.NodeResources `json:"resources"`
	Exec        models.GpuExecSpec   `json:"exec"`
	MaxAttempts int                  `json:"maxAttempts,omitempty"`
	Policy      *models.GpuJobPolicy `json:"policy,omitempty"`
}

// Scheduler owns the GPU job queue and the dispatch loop.
type Scheduler struct {
	nodes  NodeSource
	store  Store
	cfg    *config.SchedulerConfig
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*models.GpuJob
	order   []string            // queued job ids, dispatch order
	busy    map[string]string   // nodeId → jobId currently running there
	waiters map[string][]chan struct{}

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Scheduler. store may be nil (persistence disabled).
func New(nodes NodeSource, store Store, cfg *config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		nodes:   nodes,
		store:   store,
		cfg:     cfg,
		logger:  slog.With("component", "gpu_scheduler"),
		jobs:    make(map[string]*models.GpuJob),
		busy:    make(map[string]string),
		waiters: make(map[string][]chan struct{}),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Start launches the dispatch loop. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.Warn("Scheduler already started, ignoring duplicate Start call")
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runDispatchLoop(ctx)
	}()
	s.logger.Info("GPU scheduler started", "dispatch_tick", s.cfg.DispatchTick)
}

// Stop signals the dispatch loop to exit and waits for it.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("GPU scheduler stopped")
}

// Submit validates and enqueues a new job.
func (s *Scheduler) Submit(req SubmitRequest) (*models.GpuJob, error) {
	if req.Resources.GPUCount < 1 {
		return nil, fmt.Errorf("%w: resources.gpuCount must be >= 1", ErrInvalidRequest)
	}
	if len(req.Exec.Command) == 0 {
		return nil, fmt.Errorf("%w: exec.command must not be empty", ErrInvalidRequest)
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.DefaultMaxAttempts
	}

	nowMs := s.now().UnixMilli()
	job := &models.GpuJob{
		JobID:       uuid.NewString(),
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
		State:       models.JobQueued,
		Policy:      req.Policy,
		Resources:   req.Resources,
		Exec:        req.Exec,
		MaxAttempts: maxAttempts,
		Attempts:    []models.GpuJobAttempt{},
	}

	s.mu.Lock()
	s.jobs[job.JobID] = job
	s.order = append(s.order, job.JobID)
	snapshot := job.Clone()
	s.mu.Unlock()

	s.logger.Info("Job submitted",
		"job_id", job.JobID,
		"gpu_count", req.Resources.GPUCount,
		"gpu_type", req.Resources.GPUType,
		"max_attempts", maxAttempts)
	s.kick()
	return snapshot, nil
}

// Get returns a snapshot of one job.
func (s *Scheduler) Get(jobID string) (*models.GpuJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return job.Clone(), nil
}

// List returns snapshots of all jobs, optionally filtered by state,
// ordered by creation time then job id.
func (s *Scheduler) List(state models.GpuJobState) []*models.GpuJob {
	s.mu.Lock()
	all := lo.Values(s.jobs)
	out := make([]*models.GpuJob, 0, len(all))
	for _, j := range all {
		if state != "" && j.State != state {
			continue
		}
		out = append(out, j.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtMs != out[j].CreatedAtMs {
			return out[i].CreatedAtMs < out[j].CreatedAtMs
		}
		return out[i].JobID < out[j].JobID
	})
	return out
}

// PruneTerminal drops terminal jobs whose last update is older than ttl.
// Returns the number of jobs removed. Used by the retention sweep; persisted
// history in the store is unaffected.
func (s *Scheduler) PruneTerminal(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl).UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, job := range s.jobs {
		if job.State.Terminal() && job.UpdatedAtMs < cutoff {
			delete(s.jobs, id)
			pruned++
		}
	}
	return pruned
}

// Cancel cancels a queued job immediately, or requests cancellation of a
// running job (best-effort system.cancel to the node; the attempt loop
// observes the flag when the invoke returns).
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	switch job.State {
	case models.JobQueued:
		job.State = models.JobCanceled
		job.Paused = false
		job.PausedReason = ""
		job.UpdatedAtMs = s.now().UnixMilli()
		s.removeFromOrderLocked(jobID)
		s.notifyWaitersLocked(jobID)
		terminal := job.Clone()
		s.mu.Unlock()
		s.persistTerminal(terminal)
		s.logger.Info("Queued job canceled", "job_id", jobID)
		return nil

	case models.JobRunning:
		job.CancelRequested = true
		job.UpdatedAtMs = s.now().UnixMilli()
		nodeID := job.AssignedNodeID
		s.mu.Unlock()
		s.bestEffortCancel(nodeID, jobID)
		s.logger.Info("Cancel requested for running job", "job_id", jobID, "node_id", nodeID)
		return nil

	default:
		s.mu.Unlock()
		// Terminal already; cancel is a no-op.
		return nil
	}
}

// Pause pauses a queued job in place, or requests preemption of a running
// job: the active attempt is canceled and the job returns to the head of the
// queue with paused=true.
func (s *Scheduler) Pause(jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	switch job.State {
	case models.JobQueued:
		job.Paused = true
		job.PausedReason = models.PauseManual
		job.UpdatedAtMs = s.now().UnixMilli()
		s.mu.Unlock()
		s.logger.Info("Queued job paused", "job_id", jobID)
		return nil

	case models.JobRunning:
		job.PauseRequested = true
		job.UpdatedAtMs = s.now().UnixMilli()
		nodeID := job.AssignedNodeID
		s.mu.Unlock()
		s.bestEffortCancel(nodeID, jobID)
		s.logger.Info("Preemption requested for running job", "job_id", jobID, "node_id", nodeID)
		return nil

	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", ErrInvalidRequest, jobID, job.State)
	}
}

// Resume clears pause state; the job becomes dispatch-eligible again and
// retains its queue position.
func (s *Scheduler) Resume(jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	job.Paused = false
	job.PausedReason = ""
	job.PauseRequested = false
	job.NotBeforeMs = 0
	job.UpdatedAtMs = s.now().UnixMilli()
	s.mu.Unlock()

	s.logger.Info("Job resumed", "job_id", jobID)
	s.kick()
	return nil
}

// Wait blocks until the job reaches a terminal state or timeout elapses,
// returning a snapshot either way. done is true iff the state is terminal.
// Level-triggered: an already-terminal job returns immediately, and
// timeout=0 returns the current snapshot.
func (s *Scheduler) Wait(ctx context.Context, jobID string, timeout time.Duration) (job *models.GpuJob, done bool, err error) {
	if timeout < 0 {
		timeout = 0
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		j, ok := s.jobs[jobID]
		if !ok {
			s.mu.Unlock()
			return nil, false, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
		}
		if j.State.Terminal() || timeout == 0 {
			snapshot := j.Clone()
			s.mu.Unlock()
			return snapshot, snapshot.State.Terminal(), nil
		}
		ch := make(chan struct{})
		s.waiters[jobID] = append(s.waiters[jobID], ch)
		s.mu.Unlock()

		select {
		case <-ch:
			// State changed; loop to re-check.
		case <-deadline.C:
			s.mu.Lock()
			s.dropWaiterLocked(jobID, ch)
			j, ok := s.jobs[jobID]
			if !ok {
				s.mu.Unlock()
				return nil, false, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
			}
			snapshot := j.Clone()
			s.mu.Unlock()
			return snapshot, snapshot.State.Terminal(), nil
		case <-ctx.Done():
			s.mu.Lock()
			s.dropWaiterLocked(jobID, ch)
			s.mu.Unlock()
			return nil, false, ctx.Err()
		}
	}
}

// dropWaiterLocked unregisters a Wait channel that gave up before the next
// state change; repeated timed-out polls must not pile up dead entries.
// Caller holds s.mu.
func (s *Scheduler) dropWaiterLocked(jobID string, ch chan struct{}) {
	chans := s.waiters[jobID]
	for i, c := range chans {
		if c == ch {
			s.waiters[jobID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(s.waiters[jobID]) == 0 {
		delete(s.waiters, jobID)
	}
}

// kick nudges the dispatch loop without waiting for the next tick.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// notifyWaitersLocked wakes every Wait call for a job. Caller holds s.mu.
func (s *Scheduler) notifyWaitersLocked(jobID string) {
	for _, ch := range s.waiters[jobID] {
		close(ch)
	}
	delete(s.waiters, jobID)
}

func (s *Scheduler) removeFromOrderLocked(jobID string) {
	for i, id := range s.order {
		if id == jobID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) persistTerminal(job *models.GpuJob) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.SaveTerminal(ctx, job); err != nil {
		s.logger.Error("Failed to persist terminal job", "job_id", job.JobID, "error", err)
	}
}

func (s *Scheduler) bestEffortCancel(nodeID, jobID string) {
	if nodeID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.nodes.Invoke(ctx, models.InvokeParams{
		NodeID:  nodeID,
		Command: CancelCommand,
		Params:  map[string]string{"jobId": jobID},
	})
	if err != nil {
		s.logger.Warn("Best-effort cancel failed", "job_id", jobID, "node_id", nodeID, "error", err)
	}
}

package scheduler

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/openclaw/openclaw/pkg/models"
)

// runDispatchLoop is the scheduler's single dispatch goroutine. Every tick
// (or sooner on a kick) it evaluates policy windows and matches queued jobs
// against free nodes. All queue mutation happens under s.mu; the invoke
// itself runs in a per-attempt goroutine.
func (s *Scheduler) runDispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.DispatchTick)
	defer ticker.Stop()

	for {
		s.dispatchOnce(ctx)

		select {
		case <-ticker.C:
		case <-s.wake:
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) dispatchOnce(ctx context.Context) {
	now := s.now()
	nodes := s.nodes.List().Nodes

	s.mu.Lock()
	s.applyPolicyWindowsLocked(now)

	// Walk queued jobs in FIFO order; each free eligible node takes at most
	// one job per pass.
	taken := make(map[string]bool)
	for _, jobID := range append([]string(nil), s.order...) {
		job, ok := s.jobs[jobID]
		if !ok || job.State != models.JobQueued || job.Paused || job.PauseRequested {
			continue
		}
		if job.NotBeforeMs > 0 && now.UnixMilli() < job.NotBeforeMs {
			continue
		}

		node := s.matchNodeLocked(nodes, taken, job)
		if node == nil {
			continue
		}
		taken[node.NodeID] = true

		job.State = models.JobRunning
		job.AssignedNodeID = node.NodeID
		job.UpdatedAtMs = now.UnixMilli()
		attempt := models.GpuJobAttempt{
			Attempt:     len(job.Attempts) + 1,
			NodeID:      node.NodeID,
			StartedAtMs: now.UnixMilli(),
		}
		job.Attempts = append(job.Attempts, attempt)
		s.busy[node.NodeID] = jobID
		s.removeFromOrderLocked(jobID)

		exec := job.Exec
		s.mu.Unlock()

		s.logger.Info("Dispatching job",
			"job_id", jobID,
			"node_id", node.NodeID,
			"attempt", attempt.Attempt)

		s.wg.Add(1)
		go func(jobID, nodeID string, attemptNo int, exec models.GpuExecSpec) {
			defer s.wg.Done()
			s.runAttempt(ctx, jobID, nodeID, attemptNo, exec)
		}(jobID, node.NodeID, attempt.Attempt, exec)

		s.mu.Lock()
	}
	s.mu.Unlock()
}

// applyPolicyWindowsLocked pauses/resumes queued jobs according to their
// policy windows. Outside an autoPause window the job pauses with
// reason=policy; back inside an autoResume window a policy-paused job is
// released with a notBefore hold to avoid oscillation at window edges.
// A policy with no windows never pauses.
func (s *Scheduler) applyPolicyWindowsLocked(now time.Time) {
	for _, jobID := range s.order {
		job, ok := s.jobs[jobID]
		if !ok || job.State != models.JobQueued || job.Policy == nil || len(job.Policy.Windows) == 0 {
			continue
		}
		inside, err := InAnyWindow(now, job.Policy.Windows)
		if err != nil {
			s.logger.Warn("Policy window evaluation failed", "job_id", jobID, "error", err)
		}

		switch {
		case job.Policy.AutoPause && !inside && !job.Paused:
			job.Paused = true
			job.PausedReason = models.PausePolicy
			// Hold auto-resume briefly so a job near a window edge does not
			// flap between paused and queued every tick.
			job.NotBeforeMs = now.Add(s.cfg.AutoResumeHold).UnixMilli()
			job.UpdatedAtMs = now.UnixMilli()
			s.logger.Info("Job auto-paused by policy window", "job_id", jobID)

		case job.Policy.AutoResume && inside && job.Paused && job.PausedReason == models.PausePolicy &&
			now.UnixMilli() >= job.NotBeforeMs:
			job.Paused = false
			job.PausedReason = ""
			job.NotBeforeMs = 0
			job.UpdatedAtMs = now.UnixMilli()
			s.logger.Info("Job auto-resumed by policy window", "job_id", jobID)
		}
	}
}

// matchNodeLocked finds the first eligible free node for a job: advertises
// system.run, satisfies the resource request, and is not already running a
// job. Caller holds s.mu.
func (s *Scheduler) matchNodeLocked(nodes []models.NodeInfo, taken map[string]bool, job *models.GpuJob) *models.NodeInfo {
	eligible := lo.Filter(nodes, func(n models.NodeInfo, _ int) bool {
		if taken[n.NodeID] {
			return false
		}
		if _, running := s.busy[n.NodeID]; running {
			return false
		}
		return nodeSatisfies(n, job.Resources)
	})
	if len(eligible) == 0 {
		return nil
	}
	return &eligible[0]
}

// nodeSatisfies checks a node's advertised commands and resources against a
// job's request. GPU type comparison is case-insensitive and exact.
func nodeSatisfies(n models.NodeInfo, req models.NodeResources) bool {
	if !lo.Contains(n.Commands, RunCommand) {
		return false
	}
	res := n.Resources
	if res == nil {
		return false
	}
	if res.GPUCount < req.GPUCount {
		return false
	}
	if req.GPUType != "" && !strings.EqualFold(res.GPUType, req.GPUType) {
		return false
	}
	if req.GPUMemGB > 0 && res.GPUMemGB < req.GPUMemGB {
		return false
	}
	return true
}

// runAttempt performs one node.invoke for a dispatched job and folds the
// outcome back into scheduler state.
func (s *Scheduler) runAttempt(ctx context.Context, jobID, nodeID string, attemptNo int, exec models.GpuExecSpec) {
	invokeTimeout := time.Duration(exec.InvokeTimeoutMs) * time.Millisecond
	if invokeTimeout <= 0 {
		invokeTimeout = 30 * time.Second
	}
	commandTimeout := time.Duration(exec.CommandTimeoutMs) * time.Millisecond
	// The RPC round-trip covers command execution on the node, so the
	// overall invoke deadline includes the command budget.
	res, err := s.nodes.Invoke(ctx, models.InvokeParams{
		NodeID:         nodeID,
		Command:        RunCommand,
		Params:         exec,
		TimeoutMs:      (invokeTimeout + commandTimeout).Milliseconds(),
		IdempotencyKey: jobID + "-" + strconv.Itoa(attemptNo),
	})

	var run models.RunCommandResult
	runOK := false
	if err == nil && res.OK {
		runOK = decodeRunPayload(res, &run)
	}

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := s.now().UnixMilli()
	delete(s.busy, nodeID)

	attempt := &job.Attempts[len(job.Attempts)-1]
	attempt.FinishedAtMs = now
	switch {
	case err != nil:
		f := false
		attempt.OK = &f
		attempt.Error = err.Error()
	case !res.OK:
		f := false
		attempt.OK = &f
		attempt.Error = res.Error
	case runOK:
		passed := run.ExitCode == 0 && !run.TimedOut
		attempt.OK = &passed
		attempt.ExitCode = &run.ExitCode
		attempt.TimedOut = run.TimedOut
		attempt.StdoutTail = tailString(run.Stdout, 1200)
		attempt.StderrTail = tailString(run.Stderr, 1200)
	default:
		f := false
		attempt.OK = &f
		attempt.Error = "malformed system.run payload"
	}

	succeeded := attempt.OK != nil && *attempt.OK
	job.AssignedNodeID = ""
	job.UpdatedAtMs = now

	switch {
	case job.PauseRequested:
		// Preempted: back to the head of the queue, paused, position pinned.
		job.State = models.JobQueued
		job.Paused = true
		job.PausedReason = models.PauseManual
		job.PauseRequested = false
		s.order = append([]string{jobID}, s.order...)
		s.notifyWaitersLocked(jobID)
		s.mu.Unlock()
		s.logger.Info("Job preempted and re-queued paused", "job_id", jobID)

	case job.CancelRequested:
		job.State = models.JobCanceled
		s.notifyWaitersLocked(jobID)
		terminal := job.Clone()
		s.mu.Unlock()
		s.persistTerminal(terminal)
		s.logger.Info("Running job canceled", "job_id", jobID)

	case succeeded:
		job.State = models.JobSucceeded
		job.Result = &models.GpuJobResult{
			ExitCode:   run.ExitCode,
			StdoutTail: attempt.StdoutTail,
			StderrTail: attempt.StderrTail,
		}
		s.notifyWaitersLocked(jobID)
		terminal := job.Clone()
		s.mu.Unlock()
		s.persistTerminal(terminal)
		s.logger.Info("Job succeeded", "job_id", jobID, "attempts", attemptNo)

	case len(job.Attempts) >= job.MaxAttempts:
		job.State = models.JobFailed
		if attempt.ExitCode != nil {
			job.Result = &models.GpuJobResult{
				ExitCode:   *attempt.ExitCode,
				StdoutTail: attempt.StdoutTail,
				StderrTail: attempt.StderrTail,
			}
		}
		s.notifyWaitersLocked(jobID)
		terminal := job.Clone()
		s.mu.Unlock()
		s.persistTerminal(terminal)
		s.logger.Info("Job failed", "job_id", jobID, "attempts", attemptNo)

	default:
		// Retry: keep attempt history and re-queue at the back.
		job.State = models.JobQueued
		s.order = append(s.order, jobID)
		s.notifyWaitersLocked(jobID)
		s.mu.Unlock()
		s.logger.Info("Job re-queued for retry", "job_id", jobID, "attempt", attemptNo)
	}

	s.kick()
}

// decodeRunPayload accepts the node's system.run payload either as a typed
// map (payload) or as raw JSON (payloadJSON).
func decodeRunPayload(res models.InvokeResult, out *models.RunCommandResult) bool {
	if res.PayloadJSON != "" {
		return json.Unmarshal([]byte(res.PayloadJSON), out) == nil
	}
	if res.Payload == nil {
		return false
	}
	raw, err := json.Marshal(res.Payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func tailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}


package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw/pkg/config"
	"github.com/openclaw/openclaw/pkg/models"
)

// fakeNodes is a scriptable NodeSource. system.run invokes are answered by
// the run function; system.cancel invokes are recorded and acknowledged.
type fakeNodes struct {
	mu      sync.Mutex
	nodes   []models.NodeInfo
	cancels []string // job ids cancel was requested for
	run     func(req models.InvokeParams) (models.InvokeResult, error)
}

func (f *fakeNodes) List() models.NodeListResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.NodeListResult{Nodes: append([]models.NodeInfo(nil), f.nodes...)}
}

func (f *fakeNodes) Invoke(_ context.Context, req models.InvokeParams) (models.InvokeResult, error) {
	if req.Command == CancelCommand {
		f.mu.Lock()
		if params, ok := req.Params.(map[string]string); ok {
			f.cancels = append(f.cancels, params["jobId"])
		}
		f.mu.Unlock()
		return models.InvokeResult{OK: true}, nil
	}
	return f.run(req)
}

func (f *fakeNodes) setNodes(nodes ...models.NodeInfo) {
	f.mu.Lock()
	f.nodes = nodes
	f.mu.Unlock()
}

func (f *fakeNodes) canceled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancels...)
}

func gpuNode(id string) models.NodeInfo {
	return models.NodeInfo{
		NodeID:    id,
		Commands:  []string{RunCommand},
		Resources: &models.NodeResources{GPUCount: 1, GPUType: "A100", GPUMemGB: 80},
		Connected: true,
	}
}

func testConfig() *config.SchedulerConfig {
	return &config.SchedulerConfig{
		DispatchTick:       time.Hour, // dispatch is driven manually in tests
		DefaultWaitTimeout: time.Second,
		DefaultMaxAttempts: 1,
		AutoResumeHold:     time.Minute,
	}
}

// okRun answers every system.run with a successful exit.
func okRun(req models.InvokeParams) (models.InvokeResult, error) {
	return models.InvokeResult{OK: true, Payload: models.RunCommandResult{ExitCode: 0}}, nil
}

func submitJob(t *testing.T, s *Scheduler, req SubmitRequest) *models.GpuJob {
	t.Helper()
	if req.Resources.GPUCount == 0 {
		req.Resources.GPUCount = 1
	}
	if len(req.Exec.Command) == 0 {
		req.Exec.Command = []string{"sh", "plan/scripts/train.run.sh"}
	}
	job, err := s.Submit(req)
	require.NoError(t, err)
	return job
}

// waitTerminal drives dispatch until the job reaches a terminal state.
func waitTerminal(t *testing.T, s *Scheduler, jobID string) *models.GpuJob {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.dispatchOnce(context.Background())
		job, done, err := s.Wait(context.Background(), jobID, 20*time.Millisecond)
		require.NoError(t, err)
		if done {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("job %s did not reach a terminal state (state=%s)", jobID, job.State)
		default:
		}
	}
}

func TestSubmit(t *testing.T) {
	s := New(&fakeNodes{run: okRun}, nil, testConfig())

	t.Run("validates the request", func(t *testing.T) {
		_, err := s.Submit(SubmitRequest{Exec: models.GpuExecSpec{Command: []string{"true"}}})
		assert.ErrorIs(t, err, ErrInvalidRequest)

		_, err = s.Submit(SubmitRequest{Resources: models.NodeResources{GPUCount: 1}})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("queued with defaulted attempts", func(t *testing.T) {
		job := submitJob(t, s, SubmitRequest{})
		assert.Equal(t, models.JobQueued, job.State)
		assert.Equal(t, 1, job.MaxAttempts)
		assert.NotEmpty(t, job.JobID)
	})

	t.Run("get returns an independent snapshot", func(t *testing.T) {
		job := submitJob(t, s, SubmitRequest{})
		snap, err := s.Get(job.JobID)
		require.NoError(t, err)
		snap.State = models.JobFailed

		again, err := s.Get(job.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobQueued, again.State)
	})

	t.Run("unknown job id", func(t *testing.T) {
		_, err := s.Get("nope")
		assert.ErrorIs(t, err, ErrUnknownJob)
	})
}

func TestDispatch(t *testing.T) {
	t.Run("job runs to success on a matching node", func(t *testing.T) {
		nodes := &fakeNodes{run: func(req models.InvokeParams) (models.InvokeResult, error) {
			return models.InvokeResult{OK: true, Payload: models.RunCommandResult{
				ExitCode: 0, Stdout: "epoch 1 done",
			}}, nil
		}}
		nodes.setNodes(gpuNode("gpu-1"))
		s := New(nodes, nil, testConfig())

		job := submitJob(t, s, SubmitRequest{})
		final := waitTerminal(t, s, job.JobID)

		assert.Equal(t, models.JobSucceeded, final.State)
		require.Len(t, final.Attempts, 1)
		assert.Equal(t, "gpu-1", final.Attempts[0].NodeID)
		require.NotNil(t, final.Result)
		assert.Equal(t, 0, final.Result.ExitCode)
		assert.Equal(t, "epoch 1 done", final.Result.StdoutTail)
	})

	t.Run("queued jobs dispatch FIFO", func(t *testing.T) {
		var order []string
		var mu sync.Mutex
		nodes := &fakeNodes{run: func(req models.InvokeParams) (models.InvokeResult, error) {
			mu.Lock()
			order = append(order, req.IdempotencyKey)
			mu.Unlock()
			return models.InvokeResult{OK: true, Payload: models.RunCommandResult{ExitCode: 0}}, nil
		}}
		nodes.setNodes(gpuNode("gpu-1"))
		s := New(nodes, nil, testConfig())

		first := submitJob(t, s, SubmitRequest{})
		second := submitJob(t, s, SubmitRequest{})

		waitTerminal(t, s, first.JobID)
		waitTerminal(t, s, second.JobID)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, order, 2)
		assert.Equal(t, first.JobID+"-1", order[0])
		assert.Equal(t, second.JobID+"-1", order[1])
	})

	t.Run("no matching node leaves the job queued", func(t *testing.T) {
		nodes := &fakeNodes{run: okRun}
		s := New(nodes, nil, testConfig())

		job := submitJob(t, s, SubmitRequest{})
		s.dispatchOnce(context.Background())

		got, err := s.Get(job.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobQueued, got.State)
		assert.Empty(t, got.Attempts)
	})

	t.Run("failed attempts retry up to maxAttempts", func(t *testing.T) {
		var calls int
		var mu sync.Mutex
		nodes := &fakeNodes{run: func(req models.InvokeParams) (models.InvokeResult, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return models.InvokeResult{OK: true, Payload: models.RunCommandResult{
				ExitCode: 1, Stderr: "CUDA out of memory",
			}}, nil
		}}
		nodes.setNodes(gpuNode("gpu-1"))
		s := New(nodes, nil, testConfig())

		job := submitJob(t, s, SubmitRequest{MaxAttempts: 3})
		final := waitTerminal(t, s, job.JobID)

		assert.Equal(t, models.JobFailed, final.State)
		assert.Len(t, final.Attempts, 3)
		mu.Lock()
		assert.Equal(t, 3, calls)
		mu.Unlock()
		require.NotNil(t, final.Result)
		assert.Equal(t, 1, final.Result.ExitCode)
		assert.Contains(t, final.Result.StderrTail, "out of memory")
	})

	t.Run("invoke error counts as a failed attempt", func(t *testing.T) {
		nodes := &fakeNodes{run: func(req models.InvokeParams) (models.InvokeResult, error) {
			return models.InvokeResult{}, context.DeadlineExceeded
		}}
		nodes.setNodes(gpuNode("gpu-1"))
		s := New(nodes, nil, testConfig())

		job := submitJob(t, s, SubmitRequest{})
		final := waitTerminal(t, s, job.JobID)

		assert.Equal(t, models.JobFailed, final.State)
		require.Len(t, final.Attempts, 1)
		require.NotNil(t, final.Attempts[0].OK)
		assert.False(t, *final.Attempts[0].OK)
		assert.Contains(t, final.Attempts[0].Error, "deadline")
	})

	t.Run("gpu type and memory must satisfy the request", func(t *testing.T) {
		nodes := &fakeNodes{run: okRun}
		nodes.setNodes(models.NodeInfo{
			NodeID:    "small",
			Commands:  []string{RunCommand},
			Resources: &models.NodeResources{GPUCount: 1, GPUType: "T4", GPUMemGB: 16},
		})
		s := New(nodes, nil, testConfig())

		job := submitJob(t, s, SubmitRequest{
			Resources: models.NodeResources{GPUCount: 1, GPUType: "A100", GPUMemGB: 40},
		})
		s.dispatchOnce(context.Background())

		got, err := s.Get(job.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobQueued, got.State)

		// An eligible node picks it up.
		nodes.setNodes(gpuNode("big"))
		final := waitTerminal(t, s, job.JobID)
		assert.Equal(t, models.JobSucceeded, final.State)
	})
}

func TestPauseResume(t *testing.T) {
	t.Run("paused queued job is skipped until resumed", func(t *testing.T) {
		nodes := &fakeNodes{run: okRun}
		s := New(nodes, nil, testConfig())

		job := submitJob(t, s, SubmitRequest{})
		require.NoError(t, s.Pause(job.JobID))

		// A node connecting while the job is paused must not trigger a run.
		nodes.setNodes(gpuNode("gpu-1"))
		s.dispatchOnce(context.Background())

		got, err := s.Get(job.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobQueued, got.State)
		assert.True(t, got.Paused)
		assert.Equal(t, models.PauseManual, got.PausedReason)
		assert.Empty(t, got.Attempts)

		require.NoError(t, s.Resume(job.JobID))
		final := waitTerminal(t, s, job.JobID)
		assert.Equal(t, models.JobSucceeded, final.State)
	})

	t.Run("pausing a running job preempts the attempt", func(t *testing.T) {
		started := make(chan struct{}, 2)
		release := make(chan models.InvokeResult, 1)
		nodes := &fakeNodes{run: func(req models.InvokeParams) (models.InvokeResult, error) {
			started <- struct{}{}
			return <-release, nil
		}}
		nodes.setNodes(gpuNode("gpu-1"))
		s := New(nodes, nil, testConfig())

		job := submitJob(t, s, SubmitRequest{MaxAttempts: 3})
		s.dispatchOnce(context.Background())
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("attempt never started")
		}

		require.NoError(t, s.Pause(job.JobID))
		assert.Equal(t, []string{job.JobID}, nodes.canceled(), "preemption sends system.cancel")

		// The node reports the interrupted command: nonzero exit, not a timeout.
		release <- models.InvokeResult{OK: true, Payload: models.RunCommandResult{ExitCode: 137}}

		var got *models.GpuJob
		require.Eventually(t, func() bool {
			j, err := s.Get(job.JobID)
			require.NoError(t, err)
			got = j
			return j.State == models.JobQueued
		}, time.Second, 5*time.Millisecond)

		assert.True(t, got.Paused)
		assert.Equal(t, models.PauseManual, got.PausedReason)
		require.Len(t, got.Attempts, 1)
		require.NotNil(t, got.Attempts[0].OK)
		assert.False(t, *got.Attempts[0].OK)
		assert.False(t, got.Attempts[0].TimedOut)

		// Resume; the job re-dispatches and completes on attempt 2.
		require.NoError(t, s.Resume(job.JobID))
		release <- models.InvokeResult{OK: true, Payload: models.RunCommandResult{ExitCode: 0}}
		final := waitTerminal(t, s, job.JobID)
		assert.Equal(t, models.JobSucceeded, final.State)
		assert.Len(t, final.Attempts, 2)
	})

	t.Run("pausing a terminal job is rejected", func(t *testing.T) {
		nodes := &fakeNodes{run: okRun}
		nodes.setNodes(gpuNode("gpu-1"))
		s := New(nodes, nil, testConfig())

		job := submitJob(t, s, SubmitRequest{})
		waitTerminal(t, s, job.JobID)
		assert.ErrorIs(t, s.Pause(job.JobID), ErrInvalidRequest)
	})
}

func TestCancel(t *testing.T) {
	t.Run("queued job cancels immediately", func(t *testing.T) {
		s := New(&fakeNodes{run: okRun}, nil, testConfig())
		job := submitJob(t, s, SubmitRequest{})

		require.NoError(t, s.Cancel(job.JobID))
		got, err := s.Get(job.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobCanceled, got.State)

		// Canceling again is a no-op.
		assert.NoError(t, s.Cancel(job.JobID))
	})

	t.Run("running job cancels when the attempt returns", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan models.InvokeResult, 1)
		nodes := &fakeNodes{run: func(req models.InvokeParams) (models.InvokeResult, error) {
			close(started)
			return <-release, nil
		}}
		nodes.setNodes(gpuNode("gpu-1"))
		s := New(nodes, nil, testConfig())

		job := submitJob(t, s, SubmitRequest{})
		s.dispatchOnce(context.Background())
		<-started

		require.NoError(t, s.Cancel(job.JobID))
		assert.Equal(t, []string{job.JobID}, nodes.canceled())

		release <- models.InvokeResult{OK: true, Payload: models.RunCommandResult{ExitCode: 130}}
		final, done, err := s.Wait(context.Background(), job.JobID, time.Second)
		require.NoError(t, err)
		require.True(t, done)
		assert.Equal(t, models.JobCanceled, final.State)
	})

	t.Run("unknown job", func(t *testing.T) {
		s := New(&fakeNodes{run: okRun}, nil, testConfig())
		assert.ErrorIs(t, s.Cancel("nope"), ErrUnknownJob)
	})
}

func TestPolicyWindows(t *testing.T) {
	// Window covers 09:00-17:00 UTC weekdays.
	policy := &models.GpuJobPolicy{
		AutoPause:  true,
		AutoResume: true,
		Windows: []models.PolicyWindow{
			{Days: []string{"mon", "tue", "wed", "thu", "fri"}, Start: "09:00", End: "17:00", TZ: "UTC"},
		},
	}

	newAt := func(at time.Time) (*Scheduler, *fakeNodes) {
		nodes := &fakeNodes{run: okRun}
		nodes.setNodes(gpuNode("gpu-1"))
		s := New(nodes, nil, testConfig())
		s.now = func() time.Time { return at }
		return s, nodes
	}

	t.Run("outside the window the job auto-pauses", func(t *testing.T) {
		// Monday 2024-01-08 20:00 UTC.
		s, _ := newAt(time.Date(2024, 1, 8, 20, 0, 0, 0, time.UTC))
		job := submitJob(t, s, SubmitRequest{Policy: policy})

		s.dispatchOnce(context.Background())
		got, err := s.Get(job.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobQueued, got.State)
		assert.True(t, got.Paused)
		assert.Equal(t, models.PausePolicy, got.PausedReason)
		assert.NotZero(t, got.NotBeforeMs)
		assert.Empty(t, got.Attempts)
	})

	t.Run("inside the window after the hold it auto-resumes", func(t *testing.T) {
		s, _ := newAt(time.Date(2024, 1, 8, 20, 0, 0, 0, time.UTC))
		job := submitJob(t, s, SubmitRequest{Policy: policy})
		s.dispatchOnce(context.Background())

		// Next morning, well past the auto-resume hold.
		s.now = func() time.Time { return time.Date(2024, 1, 9, 9, 30, 0, 0, time.UTC) }
		final := waitTerminal(t, s, job.JobID)
		assert.Equal(t, models.JobSucceeded, final.State)
		assert.False(t, final.Paused)
	})

	t.Run("manual resume overrides a policy pause", func(t *testing.T) {
		s, _ := newAt(time.Date(2024, 1, 8, 20, 0, 0, 0, time.UTC))
		job := submitJob(t, s, SubmitRequest{Policy: policy})
		s.dispatchOnce(context.Background())

		require.NoError(t, s.Resume(job.JobID))
		got, err := s.Get(job.JobID)
		require.NoError(t, err)
		assert.False(t, got.Paused)
		assert.Zero(t, got.NotBeforeMs)
	})

	t.Run("manually paused jobs are not auto-resumed", func(t *testing.T) {
		s, _ := newAt(time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)) // inside window
		job := submitJob(t, s, SubmitRequest{Policy: policy})
		require.NoError(t, s.Pause(job.JobID))

		s.dispatchOnce(context.Background())
		got, err := s.Get(job.JobID)
		require.NoError(t, err)
		assert.True(t, got.Paused)
		assert.Equal(t, models.PauseManual, got.PausedReason)
	})
}

func TestWait(t *testing.T) {
	t.Run("already-terminal job returns immediately", func(t *testing.T) {
		s := New(&fakeNodes{run: okRun}, nil, testConfig())
		job := submitJob(t, s, SubmitRequest{})
		require.NoError(t, s.Cancel(job.JobID))

		start := time.Now()
		got, done, err := s.Wait(context.Background(), job.JobID, 10*time.Second)
		require.NoError(t, err)
		assert.True(t, done)
		assert.Equal(t, models.JobCanceled, got.State)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("zero timeout returns the current snapshot", func(t *testing.T) {
		s := New(&fakeNodes{run: okRun}, nil, testConfig())
		job := submitJob(t, s, SubmitRequest{})

		got, done, err := s.Wait(context.Background(), job.JobID, 0)
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, models.JobQueued, got.State)
	})

	t.Run("timeout returns the non-terminal snapshot", func(t *testing.T) {
		s := New(&fakeNodes{run: okRun}, nil, testConfig())
		job := submitJob(t, s, SubmitRequest{})

		got, done, err := s.Wait(context.Background(), job.JobID, 30*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, models.JobQueued, got.State)
	})

	t.Run("unknown job", func(t *testing.T) {
		s := New(&fakeNodes{run: okRun}, nil, testConfig())
		_, _, err := s.Wait(context.Background(), "nope", 0)
		assert.ErrorIs(t, err, ErrUnknownJob)
	})

	t.Run("timed-out waits do not accumulate dead waiters", func(t *testing.T) {
		s := New(&fakeNodes{run: okRun}, nil, testConfig())
		job := submitJob(t, s, SubmitRequest{})

		for i := 0; i < 5; i++ {
			_, done, err := s.Wait(context.Background(), job.JobID, time.Millisecond)
			require.NoError(t, err)
			assert.False(t, done)
		}

		s.mu.Lock()
		remaining := len(s.waiters[job.JobID])
		s.mu.Unlock()
		assert.Zero(t, remaining, "each poll unregisters its channel")
	})

	t.Run("a canceled context unregisters the waiter", func(t *testing.T) {
		s := New(&fakeNodes{run: okRun}, nil, testConfig())
		job := submitJob(t, s, SubmitRequest{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := s.Wait(ctx, job.JobID, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)

		s.mu.Lock()
		remaining := len(s.waiters[job.JobID])
		s.mu.Unlock()
		assert.Zero(t, remaining)
	})
}

func TestPruneTerminal(t *testing.T) {
	s := New(&fakeNodes{run: okRun}, nil, testConfig())
	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	old := submitJob(t, s, SubmitRequest{})
	require.NoError(t, s.Cancel(old.JobID))

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	fresh := submitJob(t, s, SubmitRequest{})
	require.NoError(t, s.Cancel(fresh.JobID))
	queued := submitJob(t, s, SubmitRequest{})

	assert.Equal(t, 1, s.PruneTerminal(time.Hour))

	_, err := s.Get(old.JobID)
	assert.ErrorIs(t, err, ErrUnknownJob)
	_, err = s.Get(fresh.JobID)
	assert.NoError(t, err)
	_, err = s.Get(queued.JobID)
	assert.NoError(t, err, "non-terminal jobs are never pruned")
}

// terminalStore records persisted terminal jobs.
type terminalStore struct {
	mu   sync.Mutex
	jobs []*models.GpuJob
}

func (ts *terminalStore) SaveTerminal(_ context.Context, job *models.GpuJob) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.jobs = append(ts.jobs, job)
	return nil
}

func TestTerminalPersistence(t *testing.T) {
	nodes := &fakeNodes{run: okRun}
	nodes.setNodes(gpuNode("gpu-1"))
	ts := &terminalStore{}
	s := New(nodes, ts, testConfig())

	job := submitJob(t, s, SubmitRequest{})
	waitTerminal(t, s, job.JobID)

	require.Eventually(t, func() bool {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		return len(ts.jobs) == 1
	}, time.Second, 5*time.Millisecond)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	assert.Equal(t, job.JobID, ts.jobs[0].JobID)
	assert.Equal(t, models.JobSucceeded, ts.jobs[0].State)
}

func TestList(t *testing.T) {
	s := New(&fakeNodes{run: okRun}, nil, testConfig())
	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		tick := base.Add(time.Duration(i) * time.Second)
		s.now = func() time.Time { return tick }
		ids = append(ids, submitJob(t, s, SubmitRequest{}).JobID)
	}
	require.NoError(t, s.Cancel(ids[1]))

	all := s.List("")
	require.Len(t, all, 3)
	assert.Equal(t, ids, []string{all[0].JobID, all[1].JobID, all[2].JobID}, "ordered by creation time")

	queued := s.List(models.JobQueued)
	require.Len(t, queued, 2)
	canceled := s.List(models.JobCanceled)
	require.Len(t, canceled, 1)
	assert.Equal(t, ids[1], canceled[0].JobID)
}

package models

// GpuJobState is the lifecycle state of a scheduler-managed GPU job.
type GpuJobState string

// GPU job states.
const (
	JobQueued    GpuJobState = "queued"
	JobRunning   GpuJobState = "running"
	JobSucceeded GpuJobState = "succeeded"
	JobFailed    GpuJobState = "failed"
	JobCanceled  GpuJobState = "canceled"
)

// Terminal reports whether the state is final.
func (s GpuJobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	}
	return false
}

// PauseReason records why a job is paused.
type PauseReason string

// Pause reasons.
const (
	PauseManual PauseReason = "manual"
	PausePolicy PauseReason = "policy"
)

// PolicyWindow is a recurring time window in a specific timezone.
// Days are lowercase three-letter names (mon..sun); empty means any day.
// Start/End are "HH:MM" 24h; End < Start wraps past midnight.
type PolicyWindow struct {
	Days  []string `json:"days,omitempty"`
	Start string   `json:"start"`
	End   string   `json:"end"`
	TZ    string   `json:"tz,omitempty"`
}

// GpuJobPolicy controls window-based auto-pause and auto-resume.
type GpuJobPolicy struct {
	AutoPause  bool           `json:"autoPause,omitempty"`
	AutoResume bool           `json:"autoResume,omitempty"`
	Windows    []PolicyWindow `json:"windows,omitempty"`
}

// ApprovalDecision records how a job's execution was approved.
type ApprovalDecision string

// Approval decisions.
const (
	ApprovalAllowOnce   ApprovalDecision = "allow-once"
	ApprovalAllowAlways ApprovalDecision = "allow-always"
)

// GpuExecSpec describes the command a worker node runs for a job.
type GpuExecSpec struct {
	Command          []string          `json:"command"`
	Cwd              string            `json:"cwd,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	CommandTimeoutMs int64             `json:"commandTimeoutMs,omitempty"`
	InvokeTimeoutMs  int64             `json:"invokeTimeoutMs,omitempty"`
	Approved         bool              `json:"approved,omitempty"`
	ApprovalDecision ApprovalDecision  `json:"approvalDecision,omitempty"`
}

// GpuJobAttempt is one dispatch of a job to a worker node.
type GpuJobAttempt struct {
	Attempt      int    `json:"attempt"`
	NodeID       string `json:"nodeId"`
	StartedAtMs  int64  `json:"startedAtMs"`
	FinishedAtMs int64  `json:"finishedAtMs,omitempty"`
	OK           *bool  `json:"ok,omitempty"`
	ExitCode     *int   `json:"exitCode,omitempty"`
	TimedOut     bool   `json:"timedOut,omitempty"`
	StdoutTail   string `json:"stdoutTail,omitempty"`
	StderrTail   string `json:"stderrTail,omitempty"`
	Error        string `json:"error,omitempty"`
}

// GpuJobResult is the payload of the final successful attempt.
type GpuJobResult struct {
	ExitCode   int    `json:"exitCode"`
	StdoutTail string `json:"stdoutTail,omitempty"`
	StderrTail string `json:"stderrTail,omitempty"`
}

// GpuJob is the scheduler's view of one unit of GPU work.
// Invariant: at most one attempt is in-flight at any instant, and
// state==running implies AssignedNodeID is set and the last attempt has no
// FinishedAtMs.
type GpuJob struct {
	JobID          string          `json:"jobId"`
	CreatedAtMs    int64           `json:"createdAtMs"`
	UpdatedAtMs    int64           `json:"updatedAtMs"`
	State          GpuJobState     `json:"state"`
	Paused         bool            `json:"paused,omitempty"`
	PausedReason   PauseReason     `json:"pausedReason,omitempty"`
	PauseRequested bool            `json:"pauseRequested,omitempty"`
	NotBeforeMs    int64           `json:"notBeforeMs,omitempty"`
	Policy         *GpuJobPolicy   `json:"policy,omitempty"`
	Resources      NodeResources   `json:"resources"`
	Exec           GpuExecSpec     `json:"exec"`
	MaxAttempts    int             `json:"maxAttempts"`
	AssignedNodeID string          `json:"assignedNodeId,omitempty"`
	Attempts       []GpuJobAttempt `json:"attempts"`
	Result         *GpuJobResult   `json:"result,omitempty"`
	CancelRequested bool           `json:"cancelRequested,omitempty"`
}

// Clone returns a deep copy safe to hand to RPC callers.
func (j *GpuJob) Clone() *GpuJob {
	cp := *j
	cp.Attempts = make([]GpuJobAttempt, len(j.Attempts))
	copy(cp.Attempts, j.Attempts)
	if j.Policy != nil {
		p := *j.Policy
		p.Windows = append([]PolicyWindow(nil), j.Policy.Windows...)
		cp.Policy = &p
	}
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.Exec.Command != nil {
		cp.Exec.Command = append([]string(nil), j.Exec.Command...)
	}
	if j.Exec.Env != nil {
		cp.Exec.Env = make(map[string]string, len(j.Exec.Env))
		for k, v := range j.Exec.Env {
			cp.Exec.Env[k] = v
		}
	}
	return &cp
}

package models

// NodeStatus is the terminal status of one DAG node after execution.
type NodeStatus string

// Node statuses.
const (
	NodeSucceeded NodeStatus = "succeeded"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// ExecutorKind records which path executed a node.
type ExecutorKind string

// Executor kinds.
const (
	ExecutorSandbox   ExecutorKind = "sandbox"
	ExecutorGateway   ExecutorKind = "gateway"
	ExecutorScheduler ExecutorKind = "scheduler"
	ExecutorManual    ExecutorKind = "manual"
)

// NodeAttempt is one execution of a node's commands.
type NodeAttempt struct {
	Attempt      int             `json:"attempt"`
	NodeID       string          `json:"nodeId,omitempty"` // worker node for GPU attempts
	StartedAtMs  int64           `json:"startedAtMs"`
	FinishedAtMs int64           `json:"finishedAtMs,omitempty"`
	OK           bool            `json:"ok"`
	ExitCode     *int            `json:"exitCode,omitempty"`
	TimedOut     bool            `json:"timedOut,omitempty"`
	Category     FailureCategory `json:"category,omitempty"`
	StdoutTail   string          `json:"stdoutTail,omitempty"`
	StderrTail   string          `json:"stderrTail,omitempty"`
	Error        string          `json:"error,omitempty"`
	RepairPatch  string          `json:"repairPatch,omitempty"` // summary of an applied repair patch
}

// NodeResult is the recorded outcome of one DAG node.
type NodeResult struct {
	NodeID   string        `json:"nodeId"`
	Type     string        `json:"type"`
	Tool     NodeTool      `json:"tool"`
	Status   NodeStatus    `json:"status"`
	Executor ExecutorKind  `json:"executor"`
	Attempts []NodeAttempt `json:"attempts,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ExecuteLog is written to report/execute_log.json.
type ExecuteLog struct {
	SchemaVersion int          `json:"schemaVersion"`
	PlanID        string       `json:"planId,omitempty"`
	Results       []NodeResult `json:"results"`
}

// Result returns the result for a node id, or nil.
func (l *ExecuteLog) Result(nodeID string) *NodeResult {
	for i := range l.Results {
		if l.Results[i].NodeID == nodeID {
			return &l.Results[i]
		}
	}
	return nil
}

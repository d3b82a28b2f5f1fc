package models

// CheckType identifies the kind of an acceptance check.
type CheckType string

// Acceptance check types.
const (
	CheckMetricThreshold CheckType = "metric_threshold"
	CheckArtifactExists  CheckType = "artifact_exists"
	CheckCommandExitCode CheckType = "command_exit_code"
	CheckManualApproval  CheckType = "manual_approval"
)

// Valid reports whether the check type is one of the known values.
func (t CheckType) Valid() bool {
	switch t {
	case CheckMetricThreshold, CheckArtifactExists, CheckCommandExitCode, CheckManualApproval:
		return true
	}
	return false
}

// CheckOp is a comparison operator for metric_threshold checks.
type CheckOp string

// Comparison operators.
const (
	OpGE CheckOp = ">="
	OpLE CheckOp = "<="
	OpEQ CheckOp = "=="
	OpGT CheckOp = ">"
	OpLT CheckOp = "<"
	OpNE CheckOp = "!="
)

// Valid reports whether the operator is one of the known values.
func (o CheckOp) Valid() bool {
	switch o {
	case OpGE, OpLE, OpEQ, OpGT, OpLT, OpNE:
		return true
	}
	return false
}

// CheckSource records who suggested an acceptance check.
type CheckSource string

// Check sources.
const (
	SourceProposal        CheckSource = "proposal"
	SourceLLM             CheckSource = "llm"
	SourceNetworkEvidence CheckSource = "network_evidence"
	SourceCompiler        CheckSource = "compiler"
)

// AcceptanceCheck is a single pass/fail criterion evaluated by accept.
// A check with NeedsConfirm=true can only pass once an external approval is
// recorded in report/manual_approvals.json.
type AcceptanceCheck struct {
	ID           string      `json:"id,omitempty"`
	Type         CheckType   `json:"type"`
	Selector     string      `json:"selector"`
	Op           CheckOp     `json:"op,omitempty"`
	Value        any         `json:"value,omitempty"`
	Unit         string      `json:"unit,omitempty"`
	NeedsConfirm bool        `json:"needs_confirm"`
	SuggestedBy  CheckSource `json:"suggested_by,omitempty"`
	Evidence     []string    `json:"evidence,omitempty"`
	Description  string      `json:"description,omitempty"`
}

// AcceptanceSpec is the acceptance criteria of a plan package.
type AcceptanceSpec struct {
	SchemaVersion int               `json:"schemaVersion"`
	Checks        []AcceptanceCheck `json:"checks"`
}

// CheckStatus is the outcome of evaluating one acceptance check.
type CheckStatus string

// Check evaluation outcomes.
const (
	CheckPass         CheckStatus = "pass"
	CheckFail         CheckStatus = "fail"
	CheckNeedsConfirm CheckStatus = "needs_confirm"
)

// CheckResult is the evaluated outcome of a single acceptance check.
type CheckResult struct {
	Check    AcceptanceCheck `json:"check"`
	Status   CheckStatus     `json:"status"`
	Observed any             `json:"observed,omitempty"`
	Detail   string          `json:"detail,omitempty"`
}

// AcceptanceReport aggregates all check results for one accept run.
type AcceptanceReport struct {
	SchemaVersion int           `json:"schemaVersion"`
	PlanID        string        `json:"plan_id"`
	RunID         string        `json:"run_id"`
	EvaluatedAt   string        `json:"evaluated_at"`
	Status        CheckStatus   `json:"status"`
	Results       []CheckResult `json:"results"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// ExitCode maps the aggregate status to the accept command's exit code:
// pass=0, fail=1, needs_confirm=2.
func (r *AcceptanceReport) ExitCode() int {
	switch r.Status {
	case CheckPass:
		return 0
	case CheckNeedsConfirm:
		return 2
	default:
		return 1
	}
}

package models

// DiscoveryMode controls how much network discovery the compiler performs.
type DiscoveryMode string

// Discovery modes.
const (
	DiscoveryOff    DiscoveryMode = "off"
	DiscoveryPlan   DiscoveryMode = "plan"
	DiscoverySample DiscoveryMode = "sample"
)

// Valid reports whether the mode is one of the known values.
func (m DiscoveryMode) Valid() bool {
	switch m {
	case DiscoveryOff, DiscoveryPlan, DiscoverySample:
		return true
	}
	return false
}

// ExtractedRepo is a source repository referenced by the proposal.
type ExtractedRepo struct {
	URL   string `json:"url"`
	Owner string `json:"owner,omitempty"`
	Name  string `json:"name,omitempty"`
	Label string `json:"label"` // sanitized owner-name, used in node ids and cache keys
}

// DatasetKind identifies the hosting service of a dataset reference.
type DatasetKind string

// Dataset kinds.
const (
	DatasetHuggingFace DatasetKind = "huggingface"
	DatasetKaggle      DatasetKind = "kaggle"
	DatasetURL         DatasetKind = "url"
)

// ExtractedDataset is a dataset referenced by the proposal.
type ExtractedDataset struct {
	Kind  DatasetKind `json:"kind"`
	Ref   string      `json:"ref"` // owner/name for HF and Kaggle, raw URL otherwise
	Label string      `json:"label"`
}

// ExtractedMetric is an evaluation metric mentioned by the proposal,
// optionally with a numeric target.
type ExtractedMetric struct {
	Name   string   `json:"name"`
	Op     CheckOp  `json:"op,omitempty"`
	Target *float64 `json:"target,omitempty"`
	Unit   string   `json:"unit,omitempty"`
}

// ExtractedEntities is the structured view of a free-form proposal.
type ExtractedEntities struct {
	Repos        []ExtractedRepo    `json:"repos"`
	Datasets     []ExtractedDataset `json:"datasets"`
	Metrics      []ExtractedMetric  `json:"metrics"`
	Constraints  *NodeResources     `json:"constraints,omitempty"`
	Deliverables []string           `json:"deliverables"`
	Notes        string             `json:"notes,omitempty"`
}

// RepoDiscovery records the result of probing one repository.
type RepoDiscovery struct {
	URL           string `json:"url"`
	Exists        bool   `json:"exists"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
	Error         string `json:"error,omitempty"`
}

// DatasetDiscovery records the result of probing one dataset.
type DatasetDiscovery struct {
	Ref       string      `json:"ref"`
	Kind      DatasetKind `json:"kind"`
	Exists    bool        `json:"exists"`
	Splits    []string    `json:"splits,omitempty"`
	FirstRows string      `json:"firstRows,omitempty"`
	Deferred  bool        `json:"deferred,omitempty"` // true for Kaggle (credentials required)
	Error     string      `json:"error,omitempty"`
}

// DiscoveryReport is written to ir/discovery.json.
type DiscoveryReport struct {
	Mode     DiscoveryMode      `json:"mode"`
	Repos    []RepoDiscovery    `json:"repos"`
	Datasets []DatasetDiscovery `json:"datasets"`
}

// RepoProfile captures framework guesses for one repository, written to
// ir/repo_profiles/<label>.json.
type RepoProfile struct {
	Label           string   `json:"label"`
	Framework       string   `json:"framework,omitempty"`
	EntrypointHints []string `json:"entrypointHints,omitempty"`
	RequirementsTxt bool     `json:"requirementsTxt"`
	PyprojectToml   bool     `json:"pyprojectToml"`
}

// NeedsConfirmItem is one human-approval item surfaced by the compiler.
type NeedsConfirmItem struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"` // repo_unverified, kaggle_credentials, metric_threshold, missing_gpu_constraints
	Detail string `json:"detail"`
}

// CompileReport is written to report/compile_report.json.
type CompileReport struct {
	SchemaVersion int                `json:"schemaVersion"`
	PlanID        string             `json:"planId"`
	CreatedAt     string             `json:"createdAt"`
	Model         string             `json:"model,omitempty"`
	Discovery     DiscoveryMode      `json:"discovery"`
	Warnings      []string           `json:"warnings"`
	Errors        []string           `json:"errors"`
	NeedsConfirm  []NeedsConfirmItem `json:"needsConfirm"`
}

// PlanContext is written to input/context.json alongside the proposal.
type PlanContext struct {
	PlanID    string        `json:"planId"`
	Discovery DiscoveryMode `json:"discovery"`
	ModelKey  string        `json:"modelKey,omitempty"`
	AgentID   string        `json:"agentId,omitempty"`
}

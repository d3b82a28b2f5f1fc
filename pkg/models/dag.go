// Package models defines the shared document and wire types for plan
// packages, the gateway RPC surface, and the GPU scheduler.
package models

// NodeTool identifies how a DAG node's commands are executed.
type NodeTool string

// Node tool constants.
const (
	ToolShell      NodeTool = "shell"
	ToolGatewayRPC NodeTool = "gateway_rpc"
	ToolManual     NodeTool = "manual"
)

// Valid reports whether the tool is one of the known values.
func (t NodeTool) Valid() bool {
	switch t {
	case ToolShell, ToolGatewayRPC, ToolManual:
		return true
	}
	return false
}

// Well-known node types. The type field is free-form; these are the values
// the compiler emits and the executor special-cases.
const (
	NodeTypeFetchRepo          = "fetch_repo"
	NodeTypeFetchDatasetSample = "fetch_dataset_sample"
	NodeTypeFetchDatasetKaggle = "fetch_dataset_kaggle"
	NodeTypeStaticChecks       = "static_checks"
	NodeTypeSetupVenv          = "setup_venv"
	NodeTypeInstallDeps        = "install_deps"
	NodeTypeTrain              = "train"
	NodeTypeEval               = "eval"
	NodeTypeReport             = "report"
	NodeTypeManualReview       = "manual_review"
	NodeTypeNoop               = "noop"
)

// NodeResources describes the resource request of a DAG node or GPU job.
type NodeResources struct {
	GPUCount         int     `json:"gpuCount,omitempty"`
	GPUType          string  `json:"gpuType,omitempty"`
	GPUMemGB         float64 `json:"gpuMemGB,omitempty"`
	CPUCores         int     `json:"cpuCores,omitempty"`
	RAMGB            int     `json:"ramGB,omitempty"`
	DiskGB           int     `json:"diskGB,omitempty"`
	EstimatedMinutes int     `json:"estimatedMinutes,omitempty"`
}

// DAGNode is a single task in a plan DAG. Node ids are unique and
// filesystem-safe; inputs and outputs are plan-relative paths.
type DAGNode struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Tool          NodeTool          `json:"tool"`
	Inputs        []string          `json:"inputs,omitempty"`
	Outputs       []string          `json:"outputs,omitempty"`
	Commands      []string          `json:"commands,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	Resources     *NodeResources    `json:"resources,omitempty"`
	RetryPolicyID string            `json:"retryPolicyId,omitempty"`
}

// DAGEdge is a directed dependency between two nodes.
type DAGEdge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// PlanDAG is the declarative task graph inside a plan package.
// Invariants: acyclic, unique node ids, all edge endpoints exist.
type PlanDAG struct {
	SchemaVersion int       `json:"schemaVersion"`
	PlanID        string    `json:"planId,omitempty"`
	Nodes         []DAGNode `json:"nodes"`
	Edges         []DAGEdge `json:"edges"`
}

// Node returns the node with the given id, or nil.
func (d *PlanDAG) Node(id string) *DAGNode {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

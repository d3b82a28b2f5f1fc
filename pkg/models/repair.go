package models

// RepairStatus is the final status of one repair attempt's evidence.
type RepairStatus string

// Repair evidence statuses. applied_only means the patch was applied but the
// node was never re-run before the execution loop exited.
const (
	RepairAppliedOnly RepairStatus = "applied_only"
	RepairRerunOK     RepairStatus = "rerun_ok"
	RepairRerunFailed RepairStatus = "rerun_failed"
)

// MetricDelta is the numeric before/after change of one metric.
type MetricDelta struct {
	Metric string  `json:"metric"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
	Delta  float64 `json:"delta"`
}

// RepairEvidence is written to
// report/repairs/<nodeId>/attempt-<n>/repair_evidence.json.
type RepairEvidence struct {
	SchemaVersion int           `json:"schemaVersion"`
	NodeID        string        `json:"nodeId"`
	Attempt       int           `json:"attempt"`
	Status        RepairStatus  `json:"status"`
	PatchSummary  string        `json:"patchSummary,omitempty"`
	PatchedFiles  []string      `json:"patchedFiles,omitempty"`
	CreatedAt     string        `json:"createdAt"`
	FinalizedAt   string        `json:"finalizedAt,omitempty"`
	MetricDeltas  []MetricDelta `json:"metricDeltas,omitempty"`
}

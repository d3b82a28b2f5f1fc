package models

// ManifestEntry is one archived file with its SHA-256 digest.
type ManifestEntry struct {
	Path   string `json:"path"` // plan-relative source path
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// RunManifest is written to report/runs/<runId>/manifest.json.
type RunManifest struct {
	SchemaVersion int             `json:"schemaVersion"`
	RunID         string          `json:"run_id"`
	PlanID        string          `json:"plan_id"`
	CreatedAt     string          `json:"created_at"`
	Files         []ManifestEntry `json:"files"`
}

// ManualApprovals is the file of record for human approvals,
// report/manual_approvals.json. Accepted on-disk shapes: this struct, a bare
// array of ids, or a map of id to bool.
type ManualApprovals struct {
	Approved []string `json:"approved"`
	Notes    string   `json:"notes,omitempty"`
}

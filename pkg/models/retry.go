package models

// FailureCategory classifies why a command attempt failed.
type FailureCategory string

// Failure category constants.
const (
	CategoryNetwork     FailureCategory = "network"
	CategoryRateLimit   FailureCategory = "rate_limit"
	CategoryBuildFail   FailureCategory = "build_fail"
	CategoryTestFail    FailureCategory = "test_fail"
	CategoryOOM         FailureCategory = "oom"
	CategoryDivergence  FailureCategory = "divergence"
	CategoryDataMissing FailureCategory = "data_missing"
	CategoryUnknown     FailureCategory = "unknown"
)

// Valid reports whether the category is one of the known values.
func (c FailureCategory) Valid() bool {
	switch c {
	case CategoryNetwork, CategoryRateLimit, CategoryBuildFail, CategoryTestFail,
		CategoryOOM, CategoryDivergence, CategoryDataMissing, CategoryUnknown:
		return true
	}
	return false
}

// BackoffKind selects the delay progression between attempts.
type BackoffKind string

// Backoff kind constants.
const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Backoff describes the delay between retry attempts.
type Backoff struct {
	Kind   BackoffKind `json:"kind"`
	BaseMs int64       `json:"baseMs"`
	MaxMs  int64       `json:"maxMs"`
	Jitter bool        `json:"jitter"`
}

// RetryPolicy describes how failures of one category are retried.
// RetryablePatterns are case-insensitive substrings matched against the
// combined stderr/stdout of a failed attempt. RepairActions are advisory.
type RetryPolicy struct {
	ID                string          `json:"id"`
	Category          FailureCategory `json:"category"`
	MaxAttempts       int             `json:"maxAttempts"`
	Backoff           Backoff         `json:"backoff"`
	RetryablePatterns []string        `json:"retryablePatterns,omitempty"`
	RepairActions     []string        `json:"repairActions,omitempty"`
}

// RetrySpec is the ordered retry policy table of a plan package.
type RetrySpec struct {
	SchemaVersion   int           `json:"schemaVersion"`
	Policies        []RetryPolicy `json:"policies"`
	DefaultPolicyID string        `json:"defaultPolicyId"`
}

// Policy returns the policy with the given id, or nil.
func (s *RetrySpec) Policy(id string) *RetryPolicy {
	for i := range s.Policies {
		if s.Policies[i].ID == id {
			return &s.Policies[i]
		}
	}
	return nil
}

// Default returns the default policy, or nil when the table is malformed.
func (s *RetrySpec) Default() *RetryPolicy {
	return s.Policy(s.DefaultPolicyID)
}

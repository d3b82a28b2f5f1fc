package plan

import (
	"strings"

	"github.com/openclaw/openclaw/pkg/models"
)

// Built-in retry policy ids.
const (
	RetryNetwork     = "retry.network"
	RetryRateLimit   = "retry.rate_limit"
	RetryBuildFail   = "retry.build_fail"
	RetryTestFail    = "retry.test_fail"
	RetryOOM         = "retry.oom"
	RetryDivergence  = "retry.divergence"
	RetryDataMissing = "retry.data_missing"
	RetryUnknown     = "retry.unknown"
)

// BuiltinRetrySpec returns the 8-policy table every compiled plan ships with.
// The compiler always writes this table; refine may tune it later.
func BuiltinRetrySpec() *models.RetrySpec {
	return &models.RetrySpec{
		SchemaVersion:   1,
		DefaultPolicyID: RetryUnknown,
		Policies: []models.RetryPolicy{
			{
				ID:          RetryNetwork,
				Category:    models.CategoryNetwork,
				MaxAttempts: 4,
				Backoff:     models.Backoff{Kind: models.BackoffExponential, BaseMs: 2000, MaxMs: 60000, Jitter: true},
				RetryablePatterns: []string{
					"connection reset", "connection refused", "timed out",
					"temporary failure in name resolution", "tls handshake",
					"could not resolve host", "network is unreachable", "eof",
				},
				RepairActions: []string{"wait_and_retry"},
			},
			{
				ID:          RetryRateLimit,
				Category:    models.CategoryRateLimit,
				MaxAttempts: 5,
				Backoff:     models.Backoff{Kind: models.BackoffExponential, BaseMs: 10000, MaxMs: 300000, Jitter: true},
				RetryablePatterns: []string{
					"rate limit", "429", "too many requests", "quota exceeded",
				},
				RepairActions: []string{"wait_and_retry"},
			},
			{
				ID:          RetryBuildFail,
				Category:    models.CategoryBuildFail,
				MaxAttempts: 2,
				Backoff:     models.Backoff{Kind: models.BackoffFixed, BaseMs: 1000, MaxMs: 1000},
				RetryablePatterns: []string{
					"syntaxerror", "modulenotfounderror", "importerror",
					"no module named", "compilation terminated", "undefined reference",
				},
				RepairActions: []string{"patch_source", "pin_dependency"},
			},
			{
				ID:          RetryTestFail,
				Category:    models.CategoryTestFail,
				MaxAttempts: 2,
				Backoff:     models.Backoff{Kind: models.BackoffFixed, BaseMs: 1000, MaxMs: 1000},
				RetryablePatterns: []string{
					"assertionerror", "test failed", "failures=",
				},
				RepairActions: []string{"patch_source"},
			},
			{
				ID:          RetryOOM,
				Category:    models.CategoryOOM,
				MaxAttempts: 3,
				Backoff:     models.Backoff{Kind: models.BackoffFixed, BaseMs: 5000, MaxMs: 5000},
				RetryablePatterns: []string{
					"cuda out of memory", "out of memory", "oom-kill",
					"killed", "memoryerror",
				},
				RepairActions: []string{"reduce_batch_size", "enable_grad_accum"},
			},
			{
				ID:          RetryDivergence,
				Category:    models.CategoryDivergence,
				MaxAttempts: 2,
				Backoff:     models.Backoff{Kind: models.BackoffFixed, BaseMs: 1000, MaxMs: 1000},
				RetryablePatterns: []string{
					"loss is nan", "nan loss", "inf loss", "diverged", "overflow encountered",
				},
				RepairActions: []string{"reduce_learning_rate"},
			},
			{
				ID:          RetryDataMissing,
				Category:    models.CategoryDataMissing,
				MaxAttempts: 2,
				Backoff:     models.Backoff{Kind: models.BackoffFixed, BaseMs: 2000, MaxMs: 2000},
				RetryablePatterns: []string{
					"no such file or directory", "filenotfounderror",
					"dataset not found", "404 not found",
				},
				RepairActions: []string{"refetch_data"},
			},
			{
				ID:          RetryUnknown,
				Category:    models.CategoryUnknown,
				MaxAttempts: 2,
				Backoff:     models.Backoff{Kind: models.BackoffExponential, BaseMs: 1000, MaxMs: 30000, Jitter: true},
			},
		},
	}
}

// ClassifyFailure searches every policy's retryable patterns in the combined
// output of a failed attempt (case-insensitive substring match, table order)
// and returns the first matching policy. Falls back to the node's own policy
// when set, else the default policy.
func ClassifyFailure(spec *models.RetrySpec, combinedOutput, nodePolicyID string) *models.RetryPolicy {
	lower := strings.ToLower(combinedOutput)
	for i := range spec.Policies {
		p := &spec.Policies[i]
		for _, pat := range p.RetryablePatterns {
			if pat != "" && strings.Contains(lower, strings.ToLower(pat)) {
				return p
			}
		}
	}
	if nodePolicyID != "" {
		if p := spec.Policy(nodePolicyID); p != nil {
			return p
		}
	}
	if p := spec.Default(); p != nil {
		return p
	}
	// Malformed table; synthesize a one-shot unknown policy.
	return &models.RetryPolicy{
		ID:          RetryUnknown,
		Category:    models.CategoryUnknown,
		MaxAttempts: 1,
		Backoff:     models.Backoff{Kind: models.BackoffFixed, BaseMs: 0, MaxMs: 0},
	}
}

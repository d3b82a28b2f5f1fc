package plan

import (
	"fmt"
	"os"

	"github.com/openclaw/openclaw/pkg/dag"
	"github.com/openclaw/openclaw/pkg/models"
)

// ValidateOptions controls ValidatePlanDir.
type ValidateOptions struct {
	// StrictResume additionally enforces the restart-safe training
	// conventions. Required before execute.
	StrictResume bool
}

// ValidationResult is the outcome of validating a plan directory.
type ValidationResult struct {
	OK     bool     `json:"ok"`
	PlanID string   `json:"planId,omitempty"`
	Order  []string `json:"order,omitempty"`
	Errors []string `json:"errors,omitempty"`

	// Loaded documents, populated when parsing succeeded.
	DAG        *models.PlanDAG        `json:"-"`
	Acceptance *models.AcceptanceSpec `json:"-"`
	Retry      *models.RetrySpec      `json:"-"`
	Context    *models.PlanContext    `json:"-"`
}

// ValidatePlanDir validates a plan package: required files present, schema
// conformance, DAG invariants, and conventions.
func ValidatePlanDir(root string, opts ValidateOptions) *ValidationResult {
	res := &ValidationResult{}
	layout := NewLayout(root)

	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		res.Errors = append(res.Errors, fmt.Sprintf("plan dir %q is not a directory", root))
		return res
	}
	for _, rel := range []string{ProposalPath, ContextPath, DAGPath, AcceptancePath, RetryPath} {
		if _, err := os.Stat(layout.Path(rel)); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("missing required file %s", rel))
		}
	}
	if len(res.Errors) > 0 {
		return res
	}

	var pctx models.PlanContext
	if err := ReadJSON(layout.Path(ContextPath), &pctx); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("read %s: %v", ContextPath, err))
		return res
	}
	res.Context = &pctx
	res.PlanID = pctx.PlanID

	// Schema validation on raw bytes, then typed decode.
	for _, doc := range []struct {
		rel    string
		schema string
	}{
		{DAGPath, SchemaDAG},
		{AcceptancePath, SchemaAcceptance},
		{RetryPath, SchemaRetry},
	} {
		raw, err := os.ReadFile(layout.Path(doc.rel))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("read %s: %v", doc.rel, err))
			continue
		}
		if err := ValidateSchema(doc.schema, raw); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", doc.rel, err))
		}
	}
	if len(res.Errors) > 0 {
		return res
	}

	var d models.PlanDAG
	var acc models.AcceptanceSpec
	var retry models.RetrySpec
	for _, doc := range []struct {
		rel string
		dst any
	}{
		{DAGPath, &d},
		{AcceptancePath, &acc},
		{RetryPath, &retry},
	} {
		if err := ReadJSON(layout.Path(doc.rel), doc.dst); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("decode %s: %v", doc.rel, err))
		}
	}
	if len(res.Errors) > 0 {
		return res
	}
	res.DAG = &d
	res.Acceptance = &acc
	res.Retry = &retry

	dagRes := dag.Validate(&d)
	if !dagRes.OK {
		res.Errors = append(res.Errors, dagRes.Reasons...)
		return res
	}
	res.Order = dagRes.Order

	if reasons := dag.ValidateConventions(&d, dag.ConventionOptions{StrictResume: opts.StrictResume}); len(reasons) > 0 {
		res.Errors = append(res.Errors, reasons...)
		return res
	}

	if retry.Default() == nil {
		res.Errors = append(res.Errors, fmt.Sprintf("retry table: default policy %q not found", retry.DefaultPolicyID))
		return res
	}

	res.OK = true
	return res
}

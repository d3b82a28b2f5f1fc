package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openclaw/openclaw/pkg/llm"
	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

const acceptanceSystemPrompt = `You suggest acceptance checks for a machine
learning experiment. Respond with a single JSON array of checks and nothing
else. Each check:

{"type": "metric_threshold|artifact_exists|command_exit_code",
 "selector": "...", "op": ">=|<=|==|>|<|!=", "value": 0.0,
 "needs_confirm": false, "description": "..."}

Any metric check without a concrete numeric threshold from the proposal MUST
have needs_confirm set to true.`

// buildAcceptance assembles the acceptance spec: heuristic defaults, one
// metric_threshold per extracted metric, plus optional LLM suggestions.
func (c *Compiler) buildAcceptance(ctx context.Context, proposal string, entities *models.ExtractedEntities, modelKey string, report *models.CompileReport) *models.AcceptanceSpec {
	spec := &models.AcceptanceSpec{SchemaVersion: 1}

	spec.Checks = append(spec.Checks,
		models.AcceptanceCheck{
			ID:          "accept.artifact.final_metrics",
			Type:        models.CheckArtifactExists,
			Selector:    plan.FinalMetricsPath,
			SuggestedBy: models.SourceCompiler,
			Description: "final metrics document exists",
		},
		models.AcceptanceCheck{
			ID:          "accept.artifact.final_report",
			Type:        models.CheckArtifactExists,
			Selector:    plan.FinalReportPath,
			SuggestedBy: models.SourceCompiler,
			Description: "final report exists",
		},
	)

	for _, m := range entities.Metrics {
		check := models.AcceptanceCheck{
			ID:          "accept.metric." + plan.SanitizeID(m.Name),
			Type:        models.CheckMetricThreshold,
			Selector:    m.Name,
			Unit:        m.Unit,
			SuggestedBy: models.SourceProposal,
		}
		if m.Target != nil && m.Op != "" {
			check.Op = m.Op
			check.Value = *m.Target
		} else {
			// No concrete threshold: a human has to confirm one.
			check.NeedsConfirm = true
		}
		spec.Checks = append(spec.Checks, check)
	}

	if c.llm != nil {
		extra, err := c.suggestChecks(ctx, proposal, modelKey)
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("acceptance suggestions skipped: %v", err))
		} else {
			spec.Checks = append(spec.Checks, dedupeChecks(spec.Checks, extra)...)
		}
	}
	return spec
}

// suggestChecks asks the LLM for supplementary checks and enforces the
// needs-confirm rule on whatever comes back.
func (c *Compiler) suggestChecks(ctx context.Context, proposal, modelKey string) ([]models.AcceptanceCheck, error) {
	completion, err := c.llm.Complete(ctx, llm.CompletionRequest{
		System:   acceptanceSystemPrompt,
		Prompt:   proposal,
		ModelKey: modelKey,
	})
	if err != nil {
		return nil, err
	}

	body := completion
	if i := strings.Index(body, "["); i >= 0 {
		if j := strings.LastIndex(body, "]"); j > i {
			body = body[i : j+1]
		}
	}
	var checks []models.AcceptanceCheck
	if err := json.Unmarshal([]byte(body), &checks); err != nil {
		return nil, fmt.Errorf("malformed checks JSON: %w", err)
	}

	var out []models.AcceptanceCheck
	for i, check := range checks {
		if !check.Type.Valid() || check.Selector == "" {
			continue
		}
		if check.ID == "" {
			check.ID = fmt.Sprintf("accept.llm.%d.%s", i, plan.SanitizeID(check.Selector))
		}
		check.SuggestedBy = models.SourceLLM
		if check.Type == models.CheckMetricThreshold && (check.Value == nil || check.Op == "") {
			check.NeedsConfirm = true
		}
		out = append(out, check)
	}
	return out, nil
}

// dedupeChecks drops suggestions that duplicate an existing selector+type.
func dedupeChecks(existing, candidates []models.AcceptanceCheck) []models.AcceptanceCheck {
	seen := make(map[string]bool, len(existing))
	for _, check := range existing {
		seen[string(check.Type)+"|"+check.Selector] = true
	}
	var out []models.AcceptanceCheck
	for _, check := range candidates {
		key := string(check.Type) + "|" + check.Selector
		if !seen[key] {
			seen[key] = true
			out = append(out, check)
		}
	}
	return out
}

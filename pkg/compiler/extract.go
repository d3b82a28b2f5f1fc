package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/openclaw/openclaw/pkg/llm"
	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

const extractSystemPrompt = `You extract structured entities from a machine
learning experiment proposal. Respond with a single JSON object and nothing
else, matching exactly:

{
  "repos":    [{"url": "...", "owner": "...", "name": "..."}],
  "datasets": [{"kind": "huggingface|kaggle|url", "ref": "..."}],
  "metrics":  [{"name": "...", "op": ">=|<=|==|>|<|!=", "target": 0.0, "unit": "..."}],
  "constraints": {"gpuCount": 0, "gpuType": "", "gpuMemGB": 0},
  "deliverables": ["..."],
  "notes": "..."
}

Omit op/target for metrics without a concrete numeric goal. Use empty arrays,
never null.`

// extractEntities derives structured entities from the proposal. LLM first,
// heuristics as fallback; the two are merged so a weak completion still keeps
// heuristic repos.
func (c *Compiler) extractEntities(ctx context.Context, proposal, modelKey string, report *models.CompileReport) *models.ExtractedEntities {
	heuristic := extractHeuristics(proposal)
	if c.llm == nil {
		return heuristic
	}

	completion, err := c.llm.Complete(ctx, llm.CompletionRequest{
		System:   extractSystemPrompt,
		Prompt:   proposal,
		ModelKey: modelKey,
	})
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("entity extraction fell back to heuristics: %v", err))
		return heuristic
	}

	extracted, err := decodeEntities(completion)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("entity extraction fell back to heuristics: %v", err))
		return heuristic
	}
	return mergeEntities(extracted, heuristic)
}

// decodeEntities parses the LLM's JSON, tolerating a fenced code block.
func decodeEntities(completion string) (*models.ExtractedEntities, error) {
	body := completion
	if i := strings.Index(body, "{"); i >= 0 {
		if j := strings.LastIndex(body, "}"); j > i {
			body = body[i : j+1]
		}
	}
	var e models.ExtractedEntities
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, fmt.Errorf("malformed entity JSON: %w", err)
	}
	normalizeEntities(&e)
	return &e, nil
}

func normalizeEntities(e *models.ExtractedEntities) {
	if e.Repos == nil {
		e.Repos = []models.ExtractedRepo{}
	}
	if e.Datasets == nil {
		e.Datasets = []models.ExtractedDataset{}
	}
	if e.Metrics == nil {
		e.Metrics = []models.ExtractedMetric{}
	}
	if e.Deliverables == nil {
		e.Deliverables = []string{}
	}
	for i := range e.Repos {
		r := &e.Repos[i]
		if r.Owner == "" || r.Name == "" {
			r.Owner, r.Name = splitRepoURL(r.URL)
		}
		if r.URL == "" && r.Owner != "" {
			r.URL = "https://github.com/" + r.Owner + "/" + r.Name
		}
		r.Label = plan.SanitizeID(r.Owner + "-" + r.Name)
	}
	for i := range e.Datasets {
		d := &e.Datasets[i]
		if d.Label == "" {
			d.Label = plan.SanitizeID(strings.ReplaceAll(d.Ref, "/", "-"))
		}
	}
}

// mergeEntities unions the two extractions, preferring LLM entries and
// deduplicating by label/name.
func mergeEntities(primary, fallback *models.ExtractedEntities) *models.ExtractedEntities {
	out := *primary
	out.Repos = lo.UniqBy(append(out.Repos, fallback.Repos...),
		func(r models.ExtractedRepo) string { return r.Label })
	out.Datasets = lo.UniqBy(append(out.Datasets, fallback.Datasets...),
		func(d models.ExtractedDataset) string { return d.Label })
	out.Metrics = lo.UniqBy(append(out.Metrics, fallback.Metrics...),
		func(m models.ExtractedMetric) string { return strings.ToLower(m.Name) })
	if out.Constraints == nil {
		out.Constraints = fallback.Constraints
	}
	return &out
}

var (
	githubPattern = regexp.MustCompile(`github\.com/([A-Za-z0-9_.\-]+)/([A-Za-z0-9_.\-]+)`)
	hfPattern     = regexp.MustCompile(`huggingface\.co/datasets/([A-Za-z0-9_.\-]+(?:/[A-Za-z0-9_.\-]+)?)`)
	kagglePattern = regexp.MustCompile(`kaggle\.com/datasets/([A-Za-z0-9_.\-]+/[A-Za-z0-9_.\-]+)`)
	metricPattern = regexp.MustCompile(`(?i)\b(accuracy|f1|precision|recall|loss|perplexity|bleu|rouge[\-_]?[12lL]?|auc|mse|mae|wer)\b\s*(>=|<=|==|>|<)\s*([0-9]*\.?[0-9]+)`)
)

// extractHeuristics is the regex-only extraction path.
func extractHeuristics(proposal string) *models.ExtractedEntities {
	e := &models.ExtractedEntities{
		Repos:        []models.ExtractedRepo{},
		Datasets:     []models.ExtractedDataset{},
		Metrics:      []models.ExtractedMetric{},
		Deliverables: []string{},
	}

	for _, m := range githubPattern.FindAllStringSubmatch(proposal, -1) {
		owner, name := m[1], strings.TrimSuffix(m[2], ".git")
		e.Repos = append(e.Repos, models.ExtractedRepo{
			URL:   "https://github.com/" + owner + "/" + name,
			Owner: owner,
			Name:  name,
			Label: plan.SanitizeID(owner + "-" + name),
		})
	}
	for _, m := range hfPattern.FindAllStringSubmatch(proposal, -1) {
		e.Datasets = append(e.Datasets, models.ExtractedDataset{
			Kind:  models.DatasetHuggingFace,
			Ref:   m[1],
			Label: plan.SanitizeID(strings.ReplaceAll(m[1], "/", "-")),
		})
	}
	for _, m := range kagglePattern.FindAllStringSubmatch(proposal, -1) {
		e.Datasets = append(e.Datasets, models.ExtractedDataset{
			Kind:  models.DatasetKaggle,
			Ref:   m[1],
			Label: plan.SanitizeID(strings.ReplaceAll(m[1], "/", "-")),
		})
	}
	for _, m := range metricPattern.FindAllStringSubmatch(proposal, -1) {
		target, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		e.Metrics = append(e.Metrics, models.ExtractedMetric{
			Name:   strings.ToLower(m[1]),
			Op:     models.CheckOp(m[2]),
			Target: &target,
		})
	}

	e.Repos = lo.UniqBy(e.Repos, func(r models.ExtractedRepo) string { return r.Label })
	e.Datasets = lo.UniqBy(e.Datasets, func(d models.ExtractedDataset) string { return d.Label })
	e.Metrics = lo.UniqBy(e.Metrics, func(m models.ExtractedMetric) string { return m.Name })
	return e
}

func splitRepoURL(url string) (owner, name string) {
	if m := githubPattern.FindStringSubmatch(url); m != nil {
		return m[1], strings.TrimSuffix(m[2], ".git")
	}
	return "", ""
}

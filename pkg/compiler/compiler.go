// Package compiler turns a free-form experiment proposal into a complete,
// executable plan package: extracted entities, network discovery, a skeleton
// DAG, acceptance criteria, and the retry table.
package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/openclaw/openclaw/pkg/config"
	"github.com/openclaw/openclaw/pkg/llm"
	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

// Request is one compile invocation.
type Request struct {
	// Proposal is the raw proposal markdown.
	Proposal string

	// Workspace is the directory plan packages are created under.
	Workspace string

	// Discovery controls network probing. Defaults to off.
	Discovery models.DiscoveryMode

	// ModelKey selects the LLM model alias; recorded in the plan context.
	ModelKey string

	// AgentID identifies the calling agent; recorded in the plan context.
	AgentID string
}

// Result is the compile outcome.
type Result struct {
	OK      bool                  `json:"ok"`
	PlanID  string                `json:"planId"`
	RootDir string                `json:"rootDir"`
	Report  *models.CompileReport `json:"report"`
	Paths   []string              `json:"paths"` // plan-relative files written
}

// Compiler builds plan packages. The LLM client is optional; without it
// entity extraction and acceptance enrichment fall back to heuristics.
type Compiler struct {
	cfg         *config.CompilerConfig
	llm         llm.Client
	githubToken string
	httpClient  *http.Client
	probeCache  *gocache.Cache
	logger      *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Compiler. client may be nil.
func New(cfg *config.CompilerConfig, client llm.Client, githubToken string) *Compiler {
	return &Compiler{
		cfg:         cfg,
		llm:         client,
		githubToken: githubToken,
		httpClient:  &http.Client{Timeout: cfg.ProbeTimeout},
		probeCache:  gocache.New(cfg.DiscoveryCacheTTL, 2*cfg.DiscoveryCacheTTL),
		logger:      slog.With("component", "compiler"),
		now:         time.Now,
	}
}

// Compile runs the full pipeline: plan id, entity extraction, discovery,
// skeleton DAG, acceptance, retry table, and the compile report. I/O errors
// on required artifacts are fatal; LLM failures degrade to heuristics.
func (c *Compiler) Compile(ctx context.Context, req Request) (*Result, error) {
	if req.Discovery == "" {
		req.Discovery = models.DiscoveryOff
	}
	if !req.Discovery.Valid() {
		return nil, fmt.Errorf("invalid discovery mode %q", req.Discovery)
	}
	modelKey := req.ModelKey
	if modelKey == "" {
		modelKey = c.cfg.DefaultModelKey
	}

	now := c.now()
	planID := plan.ComputePlanID(now, req.Proposal, req.Discovery, modelKey)
	rootDir := filepath.Join(req.Workspace, planID)
	layout := plan.NewLayout(rootDir)
	if err := layout.MkdirAll(); err != nil {
		return nil, fmt.Errorf("create plan layout: %w", err)
	}

	report := &models.CompileReport{
		SchemaVersion: 1,
		PlanID:        planID,
		CreatedAt:     now.UTC().Format(time.RFC3339),
		Model:         modelKey,
		Discovery:     req.Discovery,
		Warnings:      []string{},
		Errors:        []string{},
		NeedsConfirm:  []models.NeedsConfirmItem{},
	}
	result := &Result{PlanID: planID, RootDir: rootDir, Report: report}

	write := func(rel string, doc any) error {
		if err := plan.WriteJSON(layout.Path(rel), doc); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
		result.Paths = append(result.Paths, rel)
		return nil
	}

	if err := plan.WriteText(layout.Path(plan.ProposalPath), req.Proposal); err != nil {
		return nil, fmt.Errorf("write proposal: %w", err)
	}
	result.Paths = append(result.Paths, plan.ProposalPath)

	pctx := models.PlanContext{
		PlanID:    planID,
		Discovery: req.Discovery,
		ModelKey:  modelKey,
		AgentID:   req.AgentID,
	}
	if err := write(plan.ContextPath, &pctx); err != nil {
		return nil, err
	}

	entities := c.extractEntities(ctx, req.Proposal, modelKey, report)
	if err := write(plan.EntitiesPath, entities); err != nil {
		return nil, err
	}

	discovery := c.discover(ctx, entities, req.Discovery, report)
	if err := write(plan.DiscoveryPath, discovery); err != nil {
		return nil, err
	}

	d := buildSkeletonDAG(planID, entities, discovery)
	if err := write(plan.DAGPath, d); err != nil {
		return nil, err
	}

	acceptance := c.buildAcceptance(ctx, req.Proposal, entities, modelKey, report)
	if err := write(plan.AcceptancePath, acceptance); err != nil {
		return nil, err
	}

	if err := write(plan.RetryPath, plan.BuiltinRetrySpec()); err != nil {
		return nil, err
	}

	collectNeedsConfirm(entities, discovery, acceptance, d, report)

	if err := plan.WriteText(layout.Path(plan.NeedsConfirmPath), renderNeedsConfirm(report)); err != nil {
		return nil, fmt.Errorf("write needs-confirm: %w", err)
	}
	result.Paths = append(result.Paths, plan.NeedsConfirmPath)

	if err := plan.WriteText(layout.Path(plan.RunbookPath), renderRunbook(planID, d)); err != nil {
		return nil, fmt.Errorf("write runbook: %w", err)
	}
	result.Paths = append(result.Paths, plan.RunbookPath)

	if err := write(plan.CompileReportPath, report); err != nil {
		return nil, err
	}

	result.OK = len(report.Errors) == 0
	c.logger.Info("Proposal compiled",
		"plan_id", planID,
		"repos", len(entities.Repos),
		"datasets", len(entities.Datasets),
		"needs_confirm", len(report.NeedsConfirm),
		"ok", result.OK)
	return result, nil
}

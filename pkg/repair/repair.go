// Package repair implements LLM-driven patch-and-retry for failing plan
// nodes: locate the failing file from the attempt's output, ask the model for
// a minimal patch, apply it under the repo root, and capture before/after
// evidence including metric deltas.
package repair

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openclaw/openclaw/pkg/executor"
	"github.com/openclaw/openclaw/pkg/llm"
	"github.com/openclaw/openclaw/pkg/plan"
)

// Engine implements executor.RepairHook.
type Engine struct {
	llm    llm.Client
	logger *slog.Logger

	// pending maps nodeId → the evidence dir of the repair awaiting a rerun.
	pending map[string]string
}

// New creates a repair engine backed by the given LLM client.
func New(client llm.Client) *Engine {
	return &Engine{
		llm:     client,
		logger:  slog.With("component", "repair"),
		pending: make(map[string]string),
	}
}

// MaybeRepair inspects a failed attempt and, when it can locate a failing
// source file, asks the LLM for a patch and applies it. A nil outcome or
// Applied=false means nothing was changed.
func (e *Engine) MaybeRepair(ctx context.Context, rc executor.RepairContext) (*executor.RepairOutcome, error) {
	combined := rc.Stdout + "\n" + rc.Stderr

	ref, ok := extractFileRef(combined)
	if !ok {
		e.logger.Info("No file reference in failure output, skipping repair", "node_id", rc.NodeID)
		return &executor.RepairOutcome{}, nil
	}

	repoRoot, absPath, err := resolveInWorkspace(rc.PlanDir, ref.File)
	if err != nil {
		e.logger.Info("Referenced file not in workspace, skipping repair",
			"node_id", rc.NodeID, "file", ref.File)
		return &executor.RepairOutcome{}, nil
	}

	snippet, err := readSnippet(absPath, ref.Line, snippetRadius)
	if err != nil {
		return nil, fmt.Errorf("read snippet %s: %w", absPath, err)
	}

	relFile, _ := filepath.Rel(repoRoot, absPath)
	prompt := buildPrompt(promptInput{
		File:     filepath.ToSlash(relFile),
		Line:     ref.Line,
		Snippet:  snippet,
		Stdout:   rc.Stdout,
		Stderr:   rc.Stderr,
		Category: string(rc.Category),
	})

	completion, err := e.llm.Complete(ctx, llm.CompletionRequest{
		System: repairSystemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("repair completion: %w", err)
	}

	patch, ok := extractPatch(completion)
	if !ok {
		e.logger.Info("LLM produced no patch block, skipping repair", "node_id", rc.NodeID)
		return &executor.RepairOutcome{}, nil
	}

	ops, err := parsePatch(patch)
	if err != nil {
		return nil, fmt.Errorf("parse patch: %w", err)
	}
	files, err := applyPatch(repoRoot, ops)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}

	summary := fmt.Sprintf("patched %d file(s) near %s:%d", len(files), filepath.ToSlash(relFile), ref.Line)
	evidenceDir, err := e.recordPending(rc, summary, files)
	if err != nil {
		return nil, fmt.Errorf("record repair evidence: %w", err)
	}
	e.pending[rc.NodeID] = evidenceDir

	e.logger.Info("Repair patch applied",
		"node_id", rc.NodeID,
		"attempt", rc.Attempt,
		"files", len(files))
	return &executor.RepairOutcome{Applied: true, Summary: summary}, nil
}

// Finalize records the outcome of the rerun that followed an applied patch.
// Idempotent; finalizing an already-finalized or unknown repair is a no-op.
func (e *Engine) Finalize(ctx context.Context, nodeID string, repairAttempt int, ok bool, stdout, stderr string) error {
	dir, pending := e.pending[nodeID]
	if !pending {
		return nil
	}
	delete(e.pending, nodeID)
	return e.finalizeEvidence(dir, ok, stdout, stderr)
}

// resolveInWorkspace locates file inside the plan workspace. Each checkout
// under cache/git is tried first, then the plan root. The returned path is
// guaranteed to be inside the chosen root.
func resolveInWorkspace(planDir, file string) (repoRoot, absPath string, err error) {
	layout := plan.NewLayout(planDir)

	var roots []string
	if entries, err := os.ReadDir(layout.Path(plan.GitCacheDir)); err == nil {
		for _, ent := range entries {
			if ent.IsDir() {
				roots = append(roots, filepath.Join(layout.Path(plan.GitCacheDir), ent.Name()))
			}
		}
	}
	roots = append(roots, planDir)

	for _, root := range roots {
		candidate := filepath.Join(root, filepath.FromSlash(file))
		rel, relErr := filepath.Rel(root, candidate)
		if relErr != nil || rel == ".." || filepath.IsAbs(file) ||
			len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
			continue
		}
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return root, candidate, nil
		}
	}
	return "", "", fmt.Errorf("file %q not found in workspace", file)
}

package accept

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openclaw/openclaw/pkg/models"
	"github.com/openclaw/openclaw/pkg/plan"
)

// canonicalPaths is the fixed archive set. Globs are resolved with
// doublestar against the plan root; absent files are simply skipped.
var canonicalPaths = []string{
	plan.ProposalPath,
	plan.ContextPath,
	"plan/**/*",
	plan.CompileReportPath,
	plan.ExecuteLogPath,
	plan.ExecuteSummaryPath,
	plan.EvalMetricsPath,
	plan.FinalMetricsPath,
	plan.FinalReportPath,
	plan.StaticChecksPath,
	plan.CheckpointManifest,
	plan.AcceptReportJSON,
	plan.AcceptReportMD,
	plan.ApprovalsPath,
	"report/repairs/**/*",
}

// archiveRun copies the canonical file set into report/runs/<runId>/,
// mirroring plan-relative paths, and writes a SHA-256 manifest.
func archiveRun(layout plan.Layout, runID, planID string, now time.Time) error {
	runDir := layout.RunDir(runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}

	files, err := resolveArchiveSet(layout.Root)
	if err != nil {
		return err
	}

	manifest := models.RunManifest{
		SchemaVersion: 1,
		RunID:         runID,
		PlanID:        planID,
		CreatedAt:     now.UTC().Format(time.RFC3339),
	}
	for _, rel := range files {
		src := layout.Path(rel)
		dst := filepath.Join(runDir, filepath.FromSlash(rel))
		sum, size, err := copyWithDigest(src, dst)
		if err != nil {
			return fmt.Errorf("archive %s: %w", rel, err)
		}
		manifest.Files = append(manifest.Files, models.ManifestEntry{
			Path:   rel,
			SHA256: sum,
			Bytes:  size,
		})
	}

	return plan.WriteJSON(filepath.Join(runDir, "manifest.json"), &manifest)
}

// resolveArchiveSet expands the canonical path set into existing regular
// files, deduplicated and sorted.
func resolveArchiveSet(root string) ([]string, error) {
	seen := make(map[string]bool)
	fsys := os.DirFS(root)

	for _, pattern := range canonicalPaths {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(filepath.Join(root, filepath.FromSlash(m)))
			if err == nil && info.Mode().IsRegular() {
				seen[m] = true
			}
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// copyWithDigest streams src to dst, returning the SHA-256 and byte count.
func copyWithDigest(src, dst string) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

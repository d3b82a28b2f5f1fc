package repair

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// patchOpKind is the patch section type.
type patchOpKind string

const (
	patchAdd    patchOpKind = "add"
	patchUpdate patchOpKind = "update"
	patchDelete patchOpKind = "delete"
)

// patchOp is one file-level operation of a parsed patch.
type patchOp struct {
	Kind    patchOpKind
	Path    string
	Content string  // add: full file content
	Hunks   []hunk  // update
}

// hunk is one @@-delimited change block. Match holds the pre-image lines
// (context + removed); Replace holds the post-image (context + added).
type hunk struct {
	Match   []string
	Replace []string
}

// parsePatch parses the body between the Begin/End markers.
func parsePatch(body string) ([]patchOp, error) {
	var ops []patchOp
	var cur *patchOp
	var curHunk *hunk

	flushHunk := func() {
		if cur != nil && curHunk != nil && (len(curHunk.Match) > 0 || len(curHunk.Replace) > 0) {
			cur.Hunks = append(cur.Hunks, *curHunk)
		}
		curHunk = nil
	}
	flushOp := func() {
		flushHunk()
		if cur != nil {
			ops = append(ops, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "*** Update File: "):
			flushOp()
			cur = &patchOp{Kind: patchUpdate, Path: strings.TrimSpace(strings.TrimPrefix(line, "*** Update File: "))}
			curHunk = &hunk{}

		case strings.HasPrefix(line, "*** Add File: "):
			flushOp()
			cur = &patchOp{Kind: patchAdd, Path: strings.TrimSpace(strings.TrimPrefix(line, "*** Add File: "))}

		case strings.HasPrefix(line, "*** Delete File: "):
			flushOp()
			cur = &patchOp{Kind: patchDelete, Path: strings.TrimSpace(strings.TrimPrefix(line, "*** Delete File: "))}

		case cur == nil:
			if strings.TrimSpace(line) != "" {
				return nil, fmt.Errorf("patch content before any file header: %q", line)
			}

		case cur.Kind == patchAdd:
			if content, ok := strings.CutPrefix(line, "+"); ok {
				cur.Content += content + "\n"
			}

		case cur.Kind == patchUpdate:
			switch {
			case strings.HasPrefix(line, "@@"):
				flushHunk()
				curHunk = &hunk{}
			case strings.HasPrefix(line, "-"):
				curHunk.Match = append(curHunk.Match, line[1:])
			case strings.HasPrefix(line, "+"):
				curHunk.Replace = append(curHunk.Replace, line[1:])
			case strings.HasPrefix(line, " "):
				curHunk.Match = append(curHunk.Match, line[1:])
				curHunk.Replace = append(curHunk.Replace, line[1:])
			case line == "":
				curHunk.Match = append(curHunk.Match, "")
				curHunk.Replace = append(curHunk.Replace, "")
			default:
				return nil, fmt.Errorf("unexpected patch line: %q", line)
			}
		}
	}
	flushOp()

	if len(ops) == 0 {
		return nil, fmt.Errorf("patch contains no file sections")
	}
	for _, op := range ops {
		if op.Path == "" {
			return nil, fmt.Errorf("patch section with empty path")
		}
		if op.Kind == patchUpdate && len(op.Hunks) == 0 {
			return nil, fmt.Errorf("update section for %s has no hunks", op.Path)
		}
	}
	return ops, nil
}

// applyPatch applies every op under repoRoot. All paths are confined to the
// root; any escape aborts before anything is written.
func applyPatch(repoRoot string, ops []patchOp) ([]string, error) {
	resolved := make([]string, len(ops))
	for i, op := range ops {
		abs, err := confine(repoRoot, op.Path)
		if err != nil {
			return nil, err
		}
		resolved[i] = abs
	}

	var touched []string
	for i, op := range ops {
		abs := resolved[i]
		switch op.Kind {
		case patchAdd:
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return touched, err
			}
			if err := os.WriteFile(abs, []byte(op.Content), 0o644); err != nil {
				return touched, err
			}

		case patchDelete:
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
				return touched, err
			}

		case patchUpdate:
			if err := applyUpdate(abs, op.Hunks); err != nil {
				return touched, fmt.Errorf("update %s: %w", op.Path, err)
			}
		}
		touched = append(touched, op.Path)
	}
	return touched, nil
}

// applyUpdate rewrites one file hunk by hunk. Each hunk's pre-image must
// appear exactly somewhere in the current content.
func applyUpdate(path string, hunks []hunk) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(raw), "\n")

	for _, h := range hunks {
		idx := findSubsequence(lines, h.Match)
		if idx < 0 {
			return fmt.Errorf("hunk context not found")
		}
		updated := make([]string, 0, len(lines)-len(h.Match)+len(h.Replace))
		updated = append(updated, lines[:idx]...)
		updated = append(updated, h.Replace...)
		updated = append(updated, lines[idx+len(h.Match):]...)
		lines = updated
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

func findSubsequence(lines, match []string) int {
	if len(match) == 0 || len(match) > len(lines) {
		return -1
	}
	for i := 0; i+len(match) <= len(lines); i++ {
		found := true
		for j := range match {
			if lines[i+j] != match[j] {
				found = false
				break
			}
		}
		if found {
			return i
		}
	}
	return -1
}

// confine joins rel under root, rejecting absolute paths and traversal.
func confine(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path %q not allowed in patch", rel)
	}
	abs := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the repository root", rel)
	}
	return abs, nil
}

package plan

import (
	"fmt"
	"path"
	"strings"
)

// SanitizeID lowercases s and maps every byte outside [a-z0-9._-] to '-',
// collapsing runs. The result is safe as a node id, cache key, or path
// segment. Empty input sanitizes to "x".
func SanitizeID(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		ok := r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '.' || r == '_' || r == '-'
		if ok {
			b.WriteRune(r)
			lastDash = r == '-'
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "x"
	}
	return out
}

// SafeRelPath validates a plan-relative path: it must be non-empty, relative,
// slash-separated, and must not escape the plan root via "..".
func SafeRelPath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return fmt.Errorf("path %q must be relative with forward slashes", p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q escapes the plan root", p)
	}
	return nil
}

// RepoKey derives the cache key for a repository label: cache/git/<repoKey>.
func RepoKey(owner, name string) string {
	return SanitizeID(owner + "-" + name)
}

package repair

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// snippetRadius is the number of context lines kept on each side of the
// failing line.
const snippetRadius = 20

// fileRef is a file:line reference extracted from failure output.
type fileRef struct {
	File string
	Line int
}

// codeExtensions limits extraction to files a patch could plausibly fix.
var codeExtensions = map[string]bool{
	".py": true, ".sh": true, ".go": true, ".js": true, ".ts": true,
	".c": true, ".cc": true, ".cpp": true, ".h": true, ".hpp": true,
	".rs": true, ".java": true, ".rb": true, ".yaml": true, ".yml": true,
	".json": true, ".toml": true, ".cfg": true, ".ini": true, ".txt": true,
}

// refPattern matches path.ext:line with an optional :col suffix. Python
// tracebacks ("File \"x.py\", line 12") are handled separately.
var (
	refPattern       = regexp.MustCompile(`([A-Za-z0-9_./\-]+\.[A-Za-z0-9]+):(\d+)(?::\d+)?`)
	tracebackPattern = regexp.MustCompile(`File "([^"]+)", line (\d+)`)
)

// extractFileRef returns the first plausible code-file reference in output.
func extractFileRef(output string) (fileRef, bool) {
	if m := tracebackPattern.FindStringSubmatch(output); m != nil {
		if ref, ok := makeRef(m[1], m[2]); ok {
			return ref, true
		}
	}
	for _, m := range refPattern.FindAllStringSubmatch(output, -1) {
		if ref, ok := makeRef(m[1], m[2]); ok {
			return ref, true
		}
	}
	return fileRef{}, false
}

func makeRef(file, lineStr string) (fileRef, bool) {
	dot := strings.LastIndex(file, ".")
	if dot < 0 || !codeExtensions[strings.ToLower(file[dot:])] {
		return fileRef{}, false
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil || line < 1 {
		return fileRef{}, false
	}
	return fileRef{File: file, Line: line}, true
}

// readSnippet returns the numbered lines around line (1-based), radius lines
// on each side.
func readSnippet(path string, line, radius int) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(raw), "\n")

	start := line - 1 - radius
	if start < 0 {
		start = 0
	}
	end := line + radius
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%5d | %s\n", i+1, lines[i])
	}
	return b.String(), nil
}

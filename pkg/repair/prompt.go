package repair

import (
	"fmt"
	"strings"
)

const repairSystemPrompt = `You are an automated software repair assistant.
You fix a single failing command by producing a minimal patch to files inside
the repository. Respond with exactly one patch bracketed by "*** Begin Patch"
and "*** End Patch". Inside the patch use these section headers:

*** Update File: <repo-relative path>
*** Add File: <repo-relative path>
*** Delete File: <repo-relative path>

Update sections contain one or more hunks. Each hunk starts with "@@" on its
own line, followed by context lines prefixed with a space, removed lines
prefixed with "-", and added lines prefixed with "+". Add sections contain
the full file content, every line prefixed with "+".

Rules:
- Patch only files inside the repository; never use absolute paths or "..".
- Keep the change minimal; do not refactor.
- If you cannot determine a safe fix, respond with the single word SKIP.`

type promptInput struct {
	File     string
	Line     int
	Snippet  string
	Stdout   string
	Stderr   string
	Category string
}

func buildPrompt(in promptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A command failed (failure category: %s).\n\n", in.Category)
	fmt.Fprintf(&b, "The error points at %s:%d. Relevant source:\n\n", in.File, in.Line)
	fmt.Fprintf(&b, "```\n%s```\n\n", in.Snippet)
	if in.Stderr != "" {
		fmt.Fprintf(&b, "stderr (tail):\n```\n%s\n```\n\n", in.Stderr)
	}
	if in.Stdout != "" {
		fmt.Fprintf(&b, "stdout (tail):\n```\n%s\n```\n\n", in.Stdout)
	}
	b.WriteString("Produce the minimal patch that fixes this failure.\n")
	return b.String()
}

// extractPatch pulls the patch body out of a completion. Returns false when
// no complete patch block is present.
func extractPatch(completion string) (string, bool) {
	const begin = "*** Begin Patch"
	const end = "*** End Patch"

	i := strings.Index(completion, begin)
	if i < 0 {
		return "", false
	}
	rest := completion[i+len(begin):]
	j := strings.Index(rest, end)
	if j < 0 {
		return "", false
	}
	return strings.Trim(rest[:j], "\n"), true
}

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// OpencodeClient runs completions through the external opencode binary.
// opencode emits JSONL events on stdout; the final "text" event carries the
// completed response.
type OpencodeClient struct {
	// Binary is the opencode executable. Defaults to "opencode".
	Binary string

	// DefaultModel is used when a request carries no model key.
	DefaultModel string

	// AgentID is passed through to opencode for attribution.
	AgentID string

	// Env overrides applied on top of the inherited environment.
	Env map[string]string

	logger *slog.Logger
}

// NewOpencodeClient creates a client for the opencode subprocess.
func NewOpencodeClient(binary, defaultModel, agentID string) *OpencodeClient {
	if binary == "" {
		binary = "opencode"
	}
	return &OpencodeClient{
		Binary:       binary,
		DefaultModel: defaultModel,
		AgentID:      agentID,
		logger:       slog.With("component", "opencode"),
	}
}

// opencodeEvent is one JSONL line from the opencode child process. Only the
// fields we route on are decoded; everything else passes through.
type opencodeEvent struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Complete spawns opencode, streams its JSONL output, and returns the final
// completed text. The context cancels the child process.
func (c *OpencodeClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.ModelKey
	if model == "" {
		model = c.DefaultModel
	}

	args := []string{"run", "--format", "jsonl"}
	if model != "" {
		args = append(args, "--model", model)
	}
	if c.AgentID != "" {
		args = append(args, "--agent", c.AgentID)
	}

	cmd := exec.CommandContext(ctx, c.Binary, args...)

	// Inherit parent environment + overrides, same as other child processes.
	env := os.Environ()
	for k, v := range c.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	var input strings.Builder
	if req.System != "" {
		input.WriteString(req.System)
		input.WriteString("\n\n")
	}
	input.WriteString(req.Prompt)
	cmd.Stdin = strings.NewReader(input.String())

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("opencode stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start opencode: %w", err)
	}

	var final string
	var eventErr error
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev opencodeEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// Non-JSON chatter on stdout is logged and skipped.
			c.logger.Debug("Skipping non-JSONL output line", "line", string(line))
			continue
		}
		switch ev.Type {
		case "text":
			final = ev.Text
		case "error":
			eventErr = fmt.Errorf("opencode reported error: %s", ev.Error)
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if eventErr != nil {
		return "", eventErr
	}
	if scanErr != nil {
		return "", fmt.Errorf("read opencode output: %w", scanErr)
	}
	if waitErr != nil {
		return "", fmt.Errorf("opencode exited: %w (stderr: %s)", waitErr, tail(stderr.String(), 512))
	}
	if final == "" {
		return "", fmt.Errorf("opencode produced no completed text")
	}
	return final, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

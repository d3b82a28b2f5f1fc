// Package sandbox runs plan commands inside a long-lived container, one per
// plan. The container mounts the plan directory under a fixed root so host
// paths never leak into scripts.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/openclaw/pkg/config"
	"github.com/openclaw/openclaw/pkg/plan"
)

// ExecRequest is one command batch to run in the container.
type ExecRequest struct {
	// Commands are joined and executed under `set -e`.
	Commands []string

	// Workdir is a host path; it is mapped to the container equivalent.
	Workdir string

	// Env is added to the exec environment.
	Env map[string]string

	// TimeoutMs bounds the whole batch. 0 uses the configured default.
	TimeoutMs int64
}

// ExecResult is the outcome of one exec.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Killed   bool
}

// CommandRunner executes one host command. Injected so tests can fake the
// docker CLI.
type CommandRunner func(ctx context.Context, bin string, args []string) (stdout, stderr []byte, exitCode int, err error)

// Sandbox manages the container for one plan.
type Sandbox struct {
	cfg      *config.SandboxConfig
	run      CommandRunner
	logger   *slog.Logger
	planID   string
	hostRoot string

	mu      sync.Mutex
	ensured bool
}

// New creates a sandbox for the plan rooted at hostRoot. runner may be nil to
// use the real docker CLI.
func New(cfg *config.SandboxConfig, planID, hostRoot string, runner CommandRunner) *Sandbox {
	if runner == nil {
		runner = runCommand
	}
	return &Sandbox{
		cfg:      cfg,
		run:      runner,
		logger:   slog.With("component", "sandbox", "plan_id", planID),
		planID:   planID,
		hostRoot: hostRoot,
	}
}

// Key identifies the container, attached as a docker label.
func (s *Sandbox) Key() string {
	return "proposal:" + s.planID
}

// ContainerName is the docker-safe name derived from the plan id.
func (s *Sandbox) ContainerName() string {
	return "openclaw-" + plan.SanitizeID(s.planID)
}

// EnsureContainer makes sure the plan container exists and is running.
// If a Dockerfile.sandbox is present in the plan root the image is built from
// it; otherwise the configured default image is used. Idempotent.
func (s *Sandbox) EnsureContainer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	name := s.ContainerName()
	if out, _, code, err := s.docker(ctx, "inspect", "--format", "{{.State.Running}}", name); err == nil && code == 0 {
		if strings.TrimSpace(string(out)) == "true" {
			s.ensured = true
			return nil
		}
		// Exists but stopped; remove and recreate.
		if _, _, _, err := s.docker(ctx, "rm", "-f", name); err != nil {
			return fmt.Errorf("remove stale container %s: %w", name, err)
		}
	}

	image := s.cfg.DefaultImage
	dockerfile := filepath.Join(s.hostRoot, "Dockerfile.sandbox")
	if _, err := os.Stat(dockerfile); err == nil {
		image = name + "-img"
		s.logger.Info("Building sandbox image", "dockerfile", dockerfile, "image", image)
		if _, stderr, code, err := s.docker(ctx, "build", "-f", dockerfile, "-t", image, s.hostRoot); err != nil || code != 0 {
			return fmt.Errorf("build sandbox image: exit %d: %s (%v)", code, tail(stderr, 1200), err)
		}
	}

	s.logger.Info("Starting sandbox container", "name", name, "image", image)
	_, stderr, code, err := s.docker(ctx, "run", "-d",
		"--name", name,
		"--label", "openclaw.key="+s.Key(),
		"-v", s.hostRoot+":"+s.cfg.ContainerRoot,
		"-w", s.cfg.ContainerRoot,
		image, "sleep", "infinity")
	if err != nil || code != 0 {
		return fmt.Errorf("start sandbox container: exit %d: %s (%v)", code, tail(stderr, 1200), err)
	}
	s.ensured = true
	return nil
}

// Exec runs a command batch inside the container. The host-side context
// enforces the timeout; a batch killed by timeout reports Killed=true.
func (s *Sandbox) Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	if err := s.EnsureContainer(ctx); err != nil {
		return ExecResult{}, err
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = s.cfg.ExecTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	script := "set -e\n" + strings.Join(req.Commands, "\n") + "\n"
	args := []string{"exec", "-i", "-w", s.MapWorkdir(req.Workdir)}
	for _, k := range sortedKeys(req.Env) {
		args = append(args, "-e", k+"="+req.Env[k])
	}
	args = append(args, s.ContainerName(), "sh", "-lc", script)

	stdout, stderr, code, err := s.docker(execCtx, args...)
	killed := execCtx.Err() == context.DeadlineExceeded
	if err != nil && !killed {
		return ExecResult{}, fmt.Errorf("docker exec: %w", err)
	}
	return ExecResult{
		Stdout:   string(stdout),
		Stderr:   string(stderr),
		ExitCode: code,
		Killed:   killed,
	}, nil
}

// Remove tears down the plan container. Best effort.
func (s *Sandbox) Remove(ctx context.Context) {
	s.mu.Lock()
	s.ensured = false
	s.mu.Unlock()
	if _, _, _, err := s.docker(ctx, "rm", "-f", s.ContainerName()); err != nil {
		s.logger.Warn("Failed to remove sandbox container", "error", err)
	}
}

// MapWorkdir maps a host path to its container equivalent. Paths under the
// plan root map to the same relative location under the container root; any
// other path maps to the container root itself.
func (s *Sandbox) MapWorkdir(hostPath string) string {
	if hostPath == "" {
		return s.cfg.ContainerRoot
	}
	rel, err := filepath.Rel(s.hostRoot, hostPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return s.cfg.ContainerRoot
	}
	if rel == "." {
		return s.cfg.ContainerRoot
	}
	// Container paths are always slash-separated.
	return s.cfg.ContainerRoot + "/" + filepath.ToSlash(rel)
}

func (s *Sandbox) docker(ctx context.Context, args ...string) ([]byte, []byte, int, error) {
	bin := s.cfg.DockerBinary
	if bin == "" {
		bin = "docker"
	}
	return s.run(ctx, bin, args)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func tail(b []byte, n int) string {
	s := string(b)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/openclaw/pkg/config"
)

// dockerCall records one invocation of the fake docker CLI.
type dockerCall struct {
	bin  string
	args []string
}

// fakeDocker scripts docker CLI responses by subcommand.
type fakeDocker struct {
	mu    sync.Mutex
	calls []dockerCall

	// respond returns stdout, stderr, exit code for a call. Defaults to
	// success with empty output.
	respond func(args []string) ([]byte, []byte, int, error)
}

func (f *fakeDocker) runner() CommandRunner {
	return func(ctx context.Context, bin string, args []string) ([]byte, []byte, int, error) {
		f.mu.Lock()
		f.calls = append(f.calls, dockerCall{bin: bin, args: append([]string(nil), args...)})
		respond := f.respond
		f.mu.Unlock()
		if respond != nil {
			return respond(args)
		}
		return nil, nil, 0, nil
	}
}

func (f *fakeDocker) callArgs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.args
	}
	return out
}

// notRunning answers inspect with "container missing" so EnsureContainer
// creates a fresh one.
func notRunning(args []string) ([]byte, []byte, int, error) {
	if args[0] == "inspect" {
		return nil, []byte("No such object"), 1, nil
	}
	return nil, nil, 0, nil
}

func testSandboxConfig() *config.SandboxConfig {
	return &config.SandboxConfig{
		DefaultImage:  "python:3.11-slim",
		ContainerRoot: "/workspace/plan",
		DockerBinary:  "docker",
		ExecTimeout:   time.Minute,
	}
}

func TestContainerName(t *testing.T) {
	s := New(testSandboxConfig(), "20240102-030405-abc", t.TempDir(), nil)
	assert.Equal(t, "openclaw-20240102-030405-abc", s.ContainerName())
	assert.Equal(t, "proposal:20240102-030405-abc", s.Key())

	s = New(testSandboxConfig(), "Plan With Spaces!", t.TempDir(), nil)
	assert.Equal(t, "openclaw-plan-with-spaces", s.ContainerName())
}

func TestEnsureContainer(t *testing.T) {
	t.Run("starts a container when none exists", func(t *testing.T) {
		fd := &fakeDocker{respond: notRunning}
		root := t.TempDir()
		s := New(testSandboxConfig(), "p1", root, fd.runner())

		require.NoError(t, s.EnsureContainer(context.Background()))

		calls := fd.callArgs()
		require.Len(t, calls, 2)
		assert.Equal(t, "inspect", calls[0][0])
		run := strings.Join(calls[1], " ")
		assert.Contains(t, run, "run -d")
		assert.Contains(t, run, "--name openclaw-p1")
		assert.Contains(t, run, root+":/workspace/plan")
		assert.Contains(t, run, "python:3.11-slim sleep infinity")
	})

	t.Run("running container is reused", func(t *testing.T) {
		fd := &fakeDocker{respond: func(args []string) ([]byte, []byte, int, error) {
			if args[0] == "inspect" {
				return []byte("true\n"), nil, 0, nil
			}
			return nil, nil, 0, nil
		}}
		s := New(testSandboxConfig(), "p1", t.TempDir(), fd.runner())

		require.NoError(t, s.EnsureContainer(context.Background()))
		require.NoError(t, s.EnsureContainer(context.Background()))
		assert.Len(t, fd.callArgs(), 1, "second call is a no-op once ensured")
	})

	t.Run("stopped container is replaced", func(t *testing.T) {
		fd := &fakeDocker{respond: func(args []string) ([]byte, []byte, int, error) {
			if args[0] == "inspect" {
				return []byte("false\n"), nil, 0, nil
			}
			return nil, nil, 0, nil
		}}
		s := New(testSandboxConfig(), "p1", t.TempDir(), fd.runner())

		require.NoError(t, s.EnsureContainer(context.Background()))
		calls := fd.callArgs()
		require.Len(t, calls, 3)
		assert.Equal(t, "rm", calls[1][0])
		assert.Equal(t, "run", calls[2][0])
	})

	t.Run("Dockerfile.sandbox triggers an image build", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "Dockerfile.sandbox"),
			[]byte("FROM python:3.11-slim\nRUN pip install torch\n"), 0o644))

		fd := &fakeDocker{respond: notRunning}
		s := New(testSandboxConfig(), "p1", root, fd.runner())

		require.NoError(t, s.EnsureContainer(context.Background()))
		calls := fd.callArgs()
		require.Len(t, calls, 3)
		assert.Equal(t, "build", calls[1][0])
		run := strings.Join(calls[2], " ")
		assert.Contains(t, run, "openclaw-p1-img sleep infinity", "built image is used")
	})

	t.Run("run failure surfaces stderr", func(t *testing.T) {
		fd := &fakeDocker{respond: func(args []string) ([]byte, []byte, int, error) {
			if args[0] == "inspect" {
				return nil, nil, 1, nil
			}
			return nil, []byte("no space left on device"), 125, nil
		}}
		s := New(testSandboxConfig(), "p1", t.TempDir(), fd.runner())

		err := s.EnsureContainer(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no space left on device")
	})
}

func TestExec(t *testing.T) {
	t.Run("commands run under set -e with env and workdir", func(t *testing.T) {
		root := t.TempDir()
		fd := &fakeDocker{respond: func(args []string) ([]byte, []byte, int, error) {
			switch args[0] {
			case "inspect":
				return []byte("true\n"), nil, 0, nil
			case "exec":
				return []byte("done\n"), nil, 0, nil
			}
			return nil, nil, 0, nil
		}}
		s := New(testSandboxConfig(), "p1", root, fd.runner())

		res, err := s.Exec(context.Background(), ExecRequest{
			Commands: []string{"cd cache/git/repo", "python train.py"},
			Workdir:  filepath.Join(root, "cache", "git", "repo"),
			Env:      map[string]string{"B_VAR": "2", "A_VAR": "1"},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "done\n", res.Stdout)
		assert.False(t, res.Killed)

		calls := fd.callArgs()
		exec := calls[len(calls)-1]
		joined := strings.Join(exec, " ")
		assert.Contains(t, joined, "-w /workspace/plan/cache/git/repo")
		assert.Contains(t, joined, "-e A_VAR=1 -e B_VAR=2", "env flags are sorted")
		script := exec[len(exec)-1]
		assert.True(t, strings.HasPrefix(script, "set -e\n"), "script: %q", script)
		assert.Contains(t, script, "python train.py\n")
	})

	t.Run("nonzero exit is a result, not an error", func(t *testing.T) {
		fd := &fakeDocker{respond: func(args []string) ([]byte, []byte, int, error) {
			if args[0] == "inspect" {
				return []byte("true\n"), nil, 0, nil
			}
			return nil, []byte("Traceback (most recent call last)"), 1, nil
		}}
		s := New(testSandboxConfig(), "p1", t.TempDir(), fd.runner())

		res, err := s.Exec(context.Background(), ExecRequest{Commands: []string{"python broken.py"}})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Stderr, "Traceback")
	})

	t.Run("timeout reports Killed", func(t *testing.T) {
		fd := &fakeDocker{respond: func(args []string) ([]byte, []byte, int, error) {
			if args[0] == "inspect" {
				return []byte("true\n"), nil, 0, nil
			}
			time.Sleep(50 * time.Millisecond)
			return nil, nil, 137, context.DeadlineExceeded
		}}
		s := New(testSandboxConfig(), "p1", t.TempDir(), fd.runner())

		res, err := s.Exec(context.Background(), ExecRequest{
			Commands:  []string{"sleep 3600"},
			TimeoutMs: 10,
		})
		require.NoError(t, err)
		assert.True(t, res.Killed)
	})
}

func TestMapWorkdir(t *testing.T) {
	root := t.TempDir()
	s := New(testSandboxConfig(), "p1", root, nil)

	tests := []struct {
		name string
		host string
		want string
	}{
		{"empty maps to root", "", "/workspace/plan"},
		{"plan root maps to root", root, "/workspace/plan"},
		{"nested path keeps the relative part", filepath.Join(root, "cache", "git", "repo"), "/workspace/plan/cache/git/repo"},
		{"outside path falls back to root", filepath.Dir(root), "/workspace/plan"},
		{"unrelated path falls back to root", string(filepath.Separator) + "etc", "/workspace/plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.MapWorkdir(tt.host))
		})
	}
}

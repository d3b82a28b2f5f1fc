package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// runCommand is the default CommandRunner backed by the real CLI. A non-zero
// exit is reported through exitCode, not err; err covers spawn failures and
// context cancellation.
func runCommand(ctx context.Context, bin string, args []string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
	}
	return stdout.Bytes(), stderr.Bytes(), -1, err
}

package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultCommandTimeout bounds a task command when no timeout is configured.
const DefaultCommandTimeout = 10 * time.Second

// Runner executes one shell command and returns its output. The sandbox
// package provides a container-backed implementation; HostRunner runs on
// the host.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// HostRunner executes commands on the host through the shell.
type HostRunner struct {
	// Timeout bounds each command; zero means DefaultCommandTimeout.
	Timeout time.Duration
}

var _ Runner = HostRunner{}

// Run executes the command with sh -c. A non-zero exit is not an error;
// whatever the command printed is the result. Stdout wins over stderr when
// both have output.
func (r HostRunner) Run(ctx context.Context, command string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return "", fmt.Errorf("command timed out after %s", timeout)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return "", fmt.Errorf("start command: %w", err)
	}

	if stdout.Len() > 0 {
		return stdout.String(), nil
	}
	return stderr.String(), nil
}

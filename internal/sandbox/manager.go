// Package sandbox provides per-user Docker sandboxes for running task
// commands in isolation from the host.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	containerUser   = "1000"
	workingDir      = "/work"
	stopTimeoutSecs = 10

	// Resource limits.
	memoryLimitBytes = 256 * 1024 * 1024 // 256MB
	cpuQuota         = 50000             // 0.5 CPU
	pidsLimit        = 128

	// Restart grace period for stopped sandboxes.
	restartGracePeriod = 60 * time.Minute

	// Sandbox network configuration.
	sandboxNetwork = "spectral-sandbox"
	sandboxSubnet  = "172.29.0.0/16"

	createRetryAttempts = 20
	createRetryDelay    = 250 * time.Millisecond
)

// Manager defines the interface for managing per-user sandboxes.
type Manager interface {
	// EnsureSandbox ensures a sandbox container exists and is running for
	// a user, returning its ID.
	EnsureSandbox(ctx context.Context, userID string, currentSandboxID string, lastSeenAt time.Time) (string, error)

	// Exec runs one shell command inside a sandbox and returns its output.
	// A non-zero exit code is not an error.
	Exec(ctx context.Context, sandboxID string, command string) (string, error)

	// StopSandbox stops and removes a sandbox container.
	StopSandbox(ctx context.Context, sandboxID string) error

	// IsRunning checks if a sandbox is currently running.
	IsRunning(ctx context.Context, sandboxID string) (bool, error)

	// EnsureNetwork creates the sandbox bridge network if it doesn't exist.
	EnsureNetwork(ctx context.Context) (string, error)
}

// DockerManager implements Manager using the Docker API.
type DockerManager struct {
	cli   *client.Client
	image string
}

// NewDockerManager creates a new Docker-backed sandbox manager using the
// given image for sandbox containers.
func NewDockerManager(image string) (Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker client initialized", "image", image)
	return &DockerManager{cli: cli, image: image}, nil
}

// EnsureSandbox ensures a sandbox container exists and is running for a user.
func (m *DockerManager) EnsureSandbox(ctx context.Context, userID string, currentSandboxID string, lastSeenAt time.Time) (string, error) {
	containerName := fmt.Sprintf("spectral-sandbox-%s", userID)

	// Check if a sandbox already exists under this user's name.
	inspect, err := m.cli.ContainerInspect(ctx, containerName)
	if err == nil {
		// If the DB no longer points to an active sandbox, any lingering
		// named container is stale and must be recycled instead of reused.
		if currentSandboxID == "" {
			slog.Info("Found unbound sandbox, recreating",
				"sandbox_id", inspect.ID,
				"user_id", userID,
			)
			if err := m.StopSandbox(ctx, inspect.ID); err != nil {
				slog.Warn("Failed to stop unbound sandbox before recreation", "error", err, "sandbox_id", inspect.ID)
			}
		} else {
			if inspect.State.Running {
				return inspect.ID, nil
			}

			// Check if within grace period for restart.
			if time.Since(lastSeenAt) < restartGracePeriod {
				slog.Info("Restarting stopped sandbox", "sandbox_id", inspect.ID, "user_id", userID)
				if err := m.cli.ContainerStart(ctx, inspect.ID, container.StartOptions{}); err != nil {
					return "", fmt.Errorf("restart sandbox %s: %w", inspect.ID, err)
				}
				return inspect.ID, nil
			}

			// Outside grace period: recreate.
			slog.Info("Sandbox expired, recreating", "sandbox_id", inspect.ID, "user_id", userID)
			if err := m.StopSandbox(ctx, inspect.ID); err != nil {
				slog.Warn("Failed to stop sandbox before recreation", "error", err, "sandbox_id", inspect.ID)
			}
		}
	}

	slog.Info("Creating new sandbox", "user_id", userID, "image", m.image)

	config := &container.Config{
		Image:      m.image,
		User:       containerUser,
		WorkingDir: workingDir,
		// Keep the container alive so task commands can exec into it.
		Cmd: []string{"sleep", "infinity"},
	}

	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(sandboxNetwork),
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
		ReadonlyRootfs: false,
		DNS:            []string{"8.8.8.8", "8.8.4.4"},
	}

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = m.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
		if createErr == nil {
			break
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return "", fmt.Errorf("create sandbox: %w", createErr)
		}

		// A concurrent/delayed cleanup can leave the old named container
		// briefly. Force-stop/remove by name and retry shortly.
		slog.Warn("Sandbox name conflict during create, retrying",
			"user_id", userID,
			"container_name", containerName,
			"attempt", i+1,
			"error", createErr,
		)

		if inspect, inspectErr := m.cli.ContainerInspect(ctx, containerName); inspectErr == nil {
			if stopErr := m.StopSandbox(ctx, inspect.ID); stopErr != nil {
				slog.Warn("Failed to stop conflicting sandbox before retry", "sandbox_id", inspect.ID, "error", stopErr)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return "", fmt.Errorf("create sandbox after retries: %w", createErr)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errors.Is(removeErr, context.Canceled) {
			slog.Warn("Failed to remove sandbox after start failure", "sandbox_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("start sandbox %s: %w", resp.ID, err)
	}

	slog.Info("Sandbox created and started", "sandbox_id", resp.ID, "user_id", userID)
	return resp.ID, nil
}

// Exec runs a command inside the sandbox without a TTY and demultiplexes the
// captured stdout/stderr streams. Stdout wins when both have output.
func (m *DockerManager) Exec(ctx context.Context, sandboxID string, command string) (string, error) {
	execConfig := container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"sh", "-c", command},
		User:         containerUser,
		WorkingDir:   workingDir,
	}

	resp, err := m.cli.ContainerExecCreate(ctx, sandboxID, execConfig)
	if err != nil {
		return "", fmt.Errorf("create exec in sandbox %s: %w", sandboxID, err)
	}

	attachResp, err := m.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", fmt.Errorf("attach exec %s: %w", resp.ID, err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader); err != nil {
		return "", fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := m.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return "", fmt.Errorf("inspect exec %s: %w", resp.ID, err)
	}
	slog.Debug("Sandbox command finished", "sandbox_id", sandboxID, "exit_code", inspect.ExitCode)

	if stdout.Len() > 0 {
		return stdout.String(), nil
	}
	return stderr.String(), nil
}

// StopSandbox stops and removes a sandbox container.
// It is idempotent and handles concurrent calls gracefully.
func (m *DockerManager) StopSandbox(ctx context.Context, sandboxID string) error {
	slog.Info("Stopping sandbox", "sandbox_id", sandboxID)

	_, err := m.cli.ContainerInspect(ctx, sandboxID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Sandbox already removed", "sandbox_id", sandboxID)
			return nil
		}
		return fmt.Errorf("inspect sandbox %s: %w", sandboxID, err)
	}

	timeout := stopTimeoutSecs
	if err := m.cli.ContainerStop(ctx, sandboxID, container.StopOptions{Timeout: &timeout}); err != nil {
		// The sandbox may already be stopped or being removed by another
		// process.
		if errdefs.IsNotFound(err) {
			slog.Debug("Sandbox already stopped/removed", "sandbox_id", sandboxID)
		} else if ctx.Err() != nil {
			slog.Debug("Context canceled during stop, continuing with force removal", "sandbox_id", sandboxID)
		} else {
			slog.Debug("Sandbox stop returned error, continuing to remove", "sandbox_id", sandboxID, "error", err)
		}
	}

	if err := m.cli.ContainerRemove(ctx, sandboxID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Sandbox already removed", "sandbox_id", sandboxID)
			return nil
		}
		if strings.Contains(err.Error(), "is already in progress") {
			slog.Debug("Sandbox removal already in progress", "sandbox_id", sandboxID)
			return nil
		}
		if ctx.Err() != nil {
			slog.Debug("Context canceled during remove, sandbox may still be removed", "sandbox_id", sandboxID, "error", err)
			return nil
		}
		return fmt.Errorf("remove sandbox %s: %w", sandboxID, err)
	}

	slog.Info("Sandbox stopped and removed", "sandbox_id", sandboxID)
	return nil
}

// IsRunning checks if a sandbox is currently running.
func (m *DockerManager) IsRunning(ctx context.Context, sandboxID string) (bool, error) {
	inspect, err := m.cli.ContainerInspect(ctx, sandboxID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect sandbox %s: %w", sandboxID, err)
	}
	return inspect.State.Running, nil
}

// EnsureNetwork creates the sandbox bridge network if it doesn't exist.
func (m *DockerManager) EnsureNetwork(ctx context.Context) (string, error) {
	networks, err := m.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list networks: %w", err)
	}

	for _, nw := range networks {
		if nw.Name == sandboxNetwork {
			slog.Info("Sandbox network already exists", "network_id", nw.ID)
			return nw.ID, nil
		}
	}

	createResp, err := m.cli.NetworkCreate(ctx, sandboxNetwork, network.CreateOptions{
		Driver: "bridge",
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{
				{
					Subnet: sandboxSubnet,
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create network %s: %w", sandboxNetwork, err)
	}

	slog.Info("Sandbox network created", "network_id", createResp.ID, "subnet", sandboxSubnet)
	return createResp.ID, nil
}

func ptr[T any](v T) *T {
	return &v
}

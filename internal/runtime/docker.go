package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"e2eforge/pkg/logging"
)

const dockerSubsystem = "Runtime"

// DockerRuntime implements Runtime using the Docker CLI.
type DockerRuntime struct{}

// execCommandContext is a variable to allow mocking in tests.
var execCommandContext = exec.CommandContext

// NewDockerRuntime verifies a working docker CLI and daemon and returns a
// runtime that shells out to it.
func NewDockerRuntime() (*DockerRuntime, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker command not found in PATH: %w", err)
	}

	ctx := context.Background()
	cmd := execCommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}

	return &DockerRuntime{}, nil
}

// BuildImage builds an image from a Dockerfile context.
func (d *DockerRuntime) BuildImage(ctx context.Context, config BuildConfig) error {
	args := []string{"build", "-t", config.Tag}

	dockerfile := config.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	args = append(args, "-f", filepath.Join(config.Context, dockerfile))

	for k, v := range config.BuildArgs {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, config.Context)

	logging.Info(dockerSubsystem, "Building image %s from %s", config.Tag, config.Context)

	cmd := execCommandContext(ctx, "docker", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w\nOutput: %s", config.Tag, err, string(output))
	}

	return nil
}

// PullImage pulls a container image if not already present.
func (d *DockerRuntime) PullImage(ctx context.Context, image string) error {
	logging.Info(dockerSubsystem, "Checking if image %s exists locally", image)

	checkCmd := execCommandContext(ctx, "docker", "image", "inspect", image)
	if err := checkCmd.Run(); err == nil {
		logging.Debug(dockerSubsystem, "Image %s already exists", image)
		return nil
	}

	logging.Info(dockerSubsystem, "Pulling image %s", image)
	pullCmd := execCommandContext(ctx, "docker", "pull", image)
	pullCmd.Stdout = os.Stdout
	pullCmd.Stderr = os.Stderr

	if err := pullCmd.Run(); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}

	return nil
}

// StartContainer starts a container with the given configuration.
func (d *DockerRuntime) StartContainer(ctx context.Context, config ContainerConfig) (string, error) {
	args := []string{"run", "-d", "--name", config.Name}

	if config.Network != "" {
		args = append(args, "--network", config.Network)
	}

	for k, v := range config.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	for _, port := range config.Ports {
		args = append(args, "-p", port)
	}

	for _, vol := range config.Volumes {
		args = append(args, "-v", expandPath(vol))
	}

	if config.User != "" {
		args = append(args, "--user", config.User)
	}

	if len(config.Entrypoint) > 0 {
		args = append(args, "--entrypoint", config.Entrypoint[0])
	}

	args = append(args, config.Image)

	if len(config.Entrypoint) > 1 {
		args = append(args, config.Entrypoint[1:]...)
	}

	logging.Debug(dockerSubsystem, "Starting container with command: docker %s", strings.Join(args, " "))

	cmd := execCommandContext(ctx, "docker", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to start container: %w\nOutput: %s", err, string(output))
	}

	containerID := strings.TrimSpace(string(output))
	logging.Info(dockerSubsystem, "Started container %s with ID %s", config.Name, logging.TruncateID(containerID))

	return containerID, nil
}

// StopContainer stops a running container.
func (d *DockerRuntime) StopContainer(ctx context.Context, containerID string) error {
	logging.Info(dockerSubsystem, "Stopping container %s", logging.TruncateID(containerID))

	cmd := execCommandContext(ctx, "docker", "stop", containerID)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", logging.TruncateID(containerID), err)
	}

	return nil
}

// GetContainerLogs returns a reader combining a container's stdout/stderr.
func (d *DockerRuntime) GetContainerLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	cmd := execCommandContext(ctx, "docker", "logs", "-f", containerID)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start logs command: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()
		defer stdout.Close()
		defer stderr.Close()

		go io.Copy(pw, stdout)
		io.Copy(pw, stderr)
		cmd.Wait()
	}()

	return pr, nil
}

// Exec runs a command inside a running container.
func (d *DockerRuntime) Exec(ctx context.Context, containerID string, cmdArgs []string) ([]byte, error) {
	args := append([]string{"exec", containerID}, cmdArgs...)
	cmd := execCommandContext(ctx, "docker", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("exec in container %s failed: %w", logging.TruncateID(containerID), err)
	}
	return output, nil
}

// Status reports a container's current lifecycle state.
func (d *DockerRuntime) Status(ctx context.Context, containerID string) (ContainerStatus, error) {
	cmd := execCommandContext(ctx, "docker", "inspect", "-f", "{{.State.Status}}", containerID)
	output, err := cmd.Output()
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to inspect container %s: %w", logging.TruncateID(containerID), err)
	}

	switch strings.TrimSpace(string(output)) {
	case "created":
		return StatusCreated, nil
	case "running":
		return StatusRunning, nil
	case "restarting":
		return StatusRestarting, nil
	case "exited":
		return StatusExited, nil
	case "dead":
		return StatusDead, nil
	default:
		return StatusUnknown, nil
	}
}

// IsContainerRunning checks if a container is running.
func (d *DockerRuntime) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	cmd := execCommandContext(ctx, "docker", "inspect", "-f", "{{.State.Running}}", containerID)
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("failed to inspect container %s: %w", logging.TruncateID(containerID), err)
	}

	return strings.TrimSpace(string(output)) == "true", nil
}

// GetContainerPort gets the mapped host port for a container port.
func (d *DockerRuntime) GetContainerPort(ctx context.Context, containerID string, containerPort string) (string, error) {
	cmd := execCommandContext(ctx, "docker", "port", containerID, containerPort)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get port mapping for %s:%s: %w", logging.TruncateID(containerID), containerPort, err)
	}

	portOutput := strings.TrimSpace(string(output))
	if portOutput == "" {
		return "", fmt.Errorf("no port mapping found for %s:%s", logging.TruncateID(containerID), containerPort)
	}

	parts := strings.Split(portOutput, ":")
	if len(parts) < 2 {
		return "", fmt.Errorf("unexpected port output format: %s", portOutput)
	}

	return parts[len(parts)-1], nil
}

// WaitHealthy polls a container's health state until healthy or timeout.
func (d *DockerRuntime) WaitHealthy(ctx context.Context, containerID string, timeout string) error {
	deadline := 60 * time.Second
	if timeout != "" {
		if parsed, err := time.ParseDuration(timeout); err == nil {
			deadline = parsed
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := d.healthStatus(waitCtx, containerID)
		if err != nil {
			return err
		}
		switch status {
		case "healthy", "none":
			return nil
		case "unhealthy":
			// keep polling until timeout; transient unhealthy states during
			// startup are common (start_period).
		}

		select {
		case <-waitCtx.Done():
			return fmt.Errorf("container %s did not become healthy within %s", logging.TruncateID(containerID), deadline)
		case <-ticker.C:
		}
	}
}

func (d *DockerRuntime) healthStatus(ctx context.Context, containerID string) (string, error) {
	cmd := execCommandContext(ctx, "docker", "inspect", "-f", "{{if .State.Health}}{{.State.Health.Status}}{{else}}none{{end}}", containerID)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to inspect health of %s: %w", logging.TruncateID(containerID), err)
	}
	return strings.TrimSpace(string(output)), nil
}

// ExitInfo reports a stopped container's exit code and OOM status.
func (d *DockerRuntime) ExitInfo(ctx context.Context, containerID string) (ExitInfo, error) {
	cmd := execCommandContext(ctx, "docker", "inspect", "-f", "{{.State.ExitCode}} {{.State.OOMKilled}}", containerID)
	output, err := cmd.Output()
	if err != nil {
		return ExitInfo{}, fmt.Errorf("failed to inspect exit state of %s: %w", logging.TruncateID(containerID), err)
	}

	fields := strings.Fields(strings.TrimSpace(string(output)))
	if len(fields) != 2 {
		return ExitInfo{}, fmt.Errorf("unexpected exit state output: %q", string(output))
	}

	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return ExitInfo{}, fmt.Errorf("parsing exit code: %w", err)
	}

	return ExitInfo{ExitCode: code, OOMKilled: fields[1] == "true"}, nil
}

// RemoveContainer removes a container, forcing removal if still running.
func (d *DockerRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	logging.Debug(dockerSubsystem, "Removing container %s", logging.TruncateID(containerID))

	cmd := execCommandContext(ctx, "docker", "rm", "-f", containerID)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", logging.TruncateID(containerID), err)
	}

	return nil
}

// EnsureNetwork creates the named bridge network if it does not exist.
func (d *DockerRuntime) EnsureNetwork(ctx context.Context, name string) error {
	checkCmd := execCommandContext(ctx, "docker", "network", "inspect", name)
	if err := checkCmd.Run(); err == nil {
		return nil
	}

	logging.Info(dockerSubsystem, "Creating network %s", name)
	cmd := execCommandContext(ctx, "docker", "network", "create", name)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}
	return nil
}

// RemoveNetwork removes the named network.
func (d *DockerRuntime) RemoveNetwork(ctx context.Context, name string) error {
	cmd := execCommandContext(ctx, "docker", "network", "rm", name)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to remove network %s: %w", name, err)
	}
	return nil
}

// expandPath expands a leading tilde in paths to the home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}

// parsePortFromLogLine extracts a port number from a structured container
// log line, for a service that logs its bound port.
func parsePortFromLogLine(line string) (int, bool) {
	var logEntry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &logEntry); err != nil {
		return 0, false
	}
	if port, ok := logEntry["port"].(float64); ok {
		return int(port), true
	}
	if msg, ok := logEntry["message"].(string); ok {
		if strings.Contains(msg, "listening on port") {
			parts := strings.Fields(msg)
			for i, part := range parts {
				if part == "port" && i+1 < len(parts) {
					if port, err := strconv.Atoi(parts[i+1]); err == nil {
						return port, true
					}
				}
			}
		}
	}
	return 0, false
}

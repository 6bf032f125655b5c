// Package runtime abstracts the container engine used to build, run and
// inspect service containers. It shells out to the engine's CLI rather than
// linking its client SDK, so the only requirement on the host is a working
// `docker` (or compatible) binary on PATH.
package runtime

import (
	"context"
	"io"
)

// Runtime is the container engine surface a Service needs: build its image,
// run/stop/remove its container, read its logs, exec into it, and resolve
// its published ports. Implementations must make every method safe to call
// with a context that can be cancelled mid-operation.
type Runtime interface {
	// BuildImage builds an image from a Dockerfile context.
	BuildImage(ctx context.Context, config BuildConfig) error

	// PullImage pulls a container image if not already present locally.
	PullImage(ctx context.Context, image string) error

	// StartContainer starts a container with the given configuration and
	// returns its engine-assigned container ID.
	StartContainer(ctx context.Context, config ContainerConfig) (string, error)

	// StopContainer stops a running container.
	StopContainer(ctx context.Context, containerID string) error

	// RemoveContainer removes a container, forcing removal if still running.
	RemoveContainer(ctx context.Context, containerID string) error

	// GetContainerLogs returns a stream combining stdout and stderr.
	GetContainerLogs(ctx context.Context, containerID string) (io.ReadCloser, error)

	// Exec runs a command inside a running container and returns its
	// combined output.
	Exec(ctx context.Context, containerID string, cmd []string) ([]byte, error)

	// Status reports a container's current lifecycle state.
	Status(ctx context.Context, containerID string) (ContainerStatus, error)

	// IsContainerRunning checks if a container is currently running.
	IsContainerRunning(ctx context.Context, containerID string) (bool, error)

	// GetContainerPort gets the mapped host port for a container port.
	GetContainerPort(ctx context.Context, containerID string, containerPort string) (string, error)

	// WaitHealthy polls a container's health check until it reports
	// healthy, the context is cancelled, or the configured timeout elapses.
	// Containers without a configured health check are considered healthy
	// as soon as they are running.
	WaitHealthy(ctx context.Context, containerID string, timeout string) error

	// EnsureNetwork creates the named bridge network if it does not exist.
	EnsureNetwork(ctx context.Context, name string) error

	// RemoveNetwork removes the named network.
	RemoveNetwork(ctx context.Context, name string) error

	// ExitInfo reports how a stopped container exited, for the container
	// guardian's restart decisions.
	ExitInfo(ctx context.Context, containerID string) (ExitInfo, error)
}

// ExitInfo describes how a container's last run ended.
type ExitInfo struct {
	ExitCode  int
	OOMKilled bool
}

// ContainerStatus is the lifecycle state the engine reports for a container.
type ContainerStatus string

const (
	StatusUnknown    ContainerStatus = "unknown"
	StatusCreated    ContainerStatus = "created"
	StatusRunning    ContainerStatus = "running"
	StatusRestarting ContainerStatus = "restarting"
	StatusExited     ContainerStatus = "exited"
	StatusDead       ContainerStatus = "dead"
)

// BuildConfig holds configuration for building an image.
type BuildConfig struct {
	Context    string            // build context directory
	Dockerfile string            // path to Dockerfile, relative to Context
	Tag        string            // resulting image tag
	BuildArgs  map[string]string // --build-arg values
}

// ContainerConfig holds configuration for starting a container.
type ContainerConfig struct {
	Name        string            // container name
	Image       string            // container image
	Network     string            // network to attach to
	Env         map[string]string // environment variables
	Ports       []string          // port mappings (host:container)
	Volumes     []string          // volume mounts (host:container)
	Entrypoint  []string          // entrypoint override
	User        string            // user to run as
	HealthCheck *HealthCheckSpec  // health check override
}

// HealthCheckSpec mirrors a service's manifest healthcheck.
type HealthCheckSpec struct {
	Command     []string
	Interval    string
	Timeout     string
	Retries     int
	StartPeriod string
}

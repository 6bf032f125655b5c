package resilience

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"e2eforge/internal/config"
	"e2eforge/internal/eventbus"
	"e2eforge/internal/retry"
	"e2eforge/internal/runtime"
	"e2eforge/pkg/logging"
)

// RestartAttempt records one restart attempt made by a ContainerGuardian.
type RestartAttempt struct {
	AttemptNumber int
	DelayMs       int64
	ExitCode      int
	OOMKilled     bool
	MemoryStats   map[string]interface{}
	Logs          []string // tail of the container's log at the time of exit
}

// RestartHistory is the full record of a guardian's watch over one container.
type RestartHistory struct {
	ContainerName string
	FinalStatus   runtime.ContainerStatus
	Attempts      []RestartAttempt
}

// GuardianConfig tunes a ContainerGuardian's restart policy.
type GuardianConfig struct {
	RestartOnFailure bool
	MaxRestarts      int
	RestartDelay     string // parsed with retry.ParseDelay
	Backoff          config.BackoffKind
	Multiplier       float64
	PollInterval     time.Duration
	TailLines        int
}

// ContainerGuardian watches a started container and, on unexpected exit,
// restarts it according to a backoff policy.
type ContainerGuardian struct {
	Runtime runtime.Runtime
	Bus     *eventbus.Bus
	Config  GuardianConfig
}

// RestartFunc starts a fresh container for the guarded service, returning
// its new container ID. The caller supplies this since only it knows the
// service's full ContainerConfig.
type RestartFunc func(ctx context.Context) (string, error)

// Watch polls containerID until the context is cancelled, the container
// exits cleanly (status no longer running, restarts disabled or exhausted),
// or restart attempts are exhausted. On each unexpected exit it calls
// restart to bring up a replacement container and keeps watching that one.
// It returns the final restart history once watching stops.
func (g *ContainerGuardian) Watch(ctx context.Context, serviceName, containerID string, restart RestartFunc) RestartHistory {
	history := RestartHistory{ContainerName: serviceName}
	pollInterval := g.Config.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	baseDelay, err := retry.ParseDelay(g.Config.RestartDelay)
	if err != nil {
		baseDelay = 1000
	}
	multiplier := g.Config.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	current := containerID
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			history.FinalStatus = runtime.StatusUnknown
			return history
		case <-ticker.C:
		}

		status, err := g.Runtime.Status(ctx, current)
		if err != nil {
			continue
		}
		if status == runtime.StatusRunning || status == runtime.StatusRestarting {
			continue
		}

		history.FinalStatus = status
		if !g.Config.RestartOnFailure || attempt >= g.Config.MaxRestarts {
			logging.Warn(subsystem, "container %s for service %s exited (%v), not restarting", logging.TruncateID(current), serviceName, status)
			return history
		}

		attempt++
		delayMs := retry.ComputeBackoffDelay(baseDelay, attempt, g.Config.Backoff, multiplier)

		exitInfo, _ := g.Runtime.ExitInfo(ctx, current)
		tailLines := g.tailLogs(ctx, current)

		logging.Warn(subsystem, "container %s for service %s exited (code %d), restarting in %dms (attempt %d/%d)",
			logging.TruncateID(current), serviceName, exitInfo.ExitCode, delayMs, attempt, g.Config.MaxRestarts)

		select {
		case <-ctx.Done():
			history.FinalStatus = status
			return history
		case <-time.After(time.Duration(delayMs) * time.Millisecond):
		}

		if err := g.Runtime.RemoveContainer(ctx, current); err != nil {
			logging.Warn(subsystem, "failed to remove exited container %s before restart: %v", logging.TruncateID(current), err)
		}

		newID, startErr := restart(ctx)

		history.Attempts = append(history.Attempts, RestartAttempt{
			AttemptNumber: attempt,
			DelayMs:       delayMs,
			ExitCode:      exitInfo.ExitCode,
			OOMKilled:     exitInfo.OOMKilled,
			Logs:          tailLines,
		})

		if g.Bus != nil {
			g.Bus.Emit(eventbus.ChannelContainer, RestartAttemptEvent{
				Service:  serviceName,
				Attempt:  attempt,
				DelayMs:  delayMs,
				ExitCode: exitInfo.ExitCode,
			})
		}

		if startErr != nil {
			logging.Warn(subsystem, "failed to restart container for service %s: %v", serviceName, startErr)
			history.FinalStatus = runtime.StatusDead
			return history
		}
		current = newID
	}
}

// RestartAttemptEvent is emitted each time a guardian restarts a container.
type RestartAttemptEvent struct {
	Service  string
	Attempt  int
	DelayMs  int64
	ExitCode int
}

func (g *ContainerGuardian) tailLogs(ctx context.Context, containerID string) []string {
	tail := g.Config.TailLines
	if tail <= 0 {
		tail = 50
	}

	logs, err := g.Runtime.GetContainerLogs(ctx, containerID)
	if err != nil || logs == nil {
		return nil
	}
	defer logs.Close()

	return readTailLines(logs, tail)
}

// readTailLines returns the last n non-blank lines read from r.
func readTailLines(r io.Reader, n int) []string {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) > n {
			lines = lines[len(lines)-n:]
		}
	}
	return lines
}

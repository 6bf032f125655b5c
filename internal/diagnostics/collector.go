// Package diagnostics gathers a point-in-time snapshot of a running
// topology's logs, health, mock traffic and network state, bounded by a
// per-collection timeout so one hung source never blocks the others.
package diagnostics

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"e2eforge/internal/runtime"
)

const subsystem = "Diagnostics"

// ContainerLog is one container's recent log tail.
type ContainerLog struct {
	Container string
	Lines     []string
}

// ContainerHealth is one container's current lifecycle/health snapshot.
type ContainerHealth struct {
	Container string
	Status    runtime.ContainerStatus
	Healthy   bool
}

// MockRequestRecord is one recorded interaction against a mock endpoint,
// shaped the way internal/mock's record store represents a call.
type MockRequestRecord struct {
	Endpoint string
	Method   string
	Path     string
	Status   int
}

// NetworkInfo is the topology of containers attached to the project network
// at collection time.
type NetworkInfo struct {
	Network    string
	Containers []string
}

// Report is the result of one Collect call. Any sub-collection that failed
// or timed out is left as its zero value rather than causing the whole
// collection to fail.
type Report struct {
	ContainerLogs   []ContainerLog
	ContainerHealth []ContainerHealth
	MockRequests    []MockRequestRecord
	NetworkInfo     *NetworkInfo
	CollectedAt     time.Time
}

// Options configures one Collect call.
type Options struct {
	ContainerNames []string
	MockEndpoints  []string
	NetworkName    string
	LogLines       int
	Timeout        time.Duration
}

// MockRequestLister returns the recorded requests for one mock endpoint.
type MockRequestLister func(ctx context.Context, endpoint string) ([]MockRequestRecord, error)

// NetworkTopologyLister lists the containers attached to a named network,
// typically backed by resilience.NetworkVerifier.CollectNetworkTopology.
type NetworkTopologyLister func(ctx context.Context, network string) ([]string, error)

// Collector gathers diagnostics from the runtime and optional mock/network
// sources.
type Collector struct {
	Runtime        runtime.Runtime
	MockLister     MockRequestLister
	NetworkTopology NetworkTopologyLister
}

// Collect runs every configured sub-collection in parallel, each bounded by
// Options.Timeout (default 5s), and returns a report combining whatever
// completed in time.
func (c *Collector) Collect(ctx context.Context, opts Options) Report {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logLines := opts.LogLines
	if logLines <= 0 {
		logLines = 50
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report := Report{CollectedAt: time.Now()}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range opts.ContainerNames {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			if log, ok := c.collectLogs(ctx, name, logLines); ok {
				mu.Lock()
				report.ContainerLogs = append(report.ContainerLogs, log)
				mu.Unlock()
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if health, ok := c.collectHealth(ctx, name); ok {
				mu.Lock()
				report.ContainerHealth = append(report.ContainerHealth, health)
				mu.Unlock()
			}
		}()
	}

	for _, endpoint := range opts.MockEndpoints {
		endpoint := endpoint
		wg.Add(1)
		go func() {
			defer wg.Done()
			if records, ok := c.collectMockRequests(ctx, endpoint); ok {
				mu.Lock()
				report.MockRequests = append(report.MockRequests, records...)
				mu.Unlock()
			}
		}()
	}

	if opts.NetworkName != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if info, ok := c.collectNetworkInfo(ctx, opts.NetworkName); ok {
				mu.Lock()
				report.NetworkInfo = &info
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return report
}

func (c *Collector) collectLogs(ctx context.Context, containerName string, n int) (ContainerLog, bool) {
	if c.Runtime == nil {
		return ContainerLog{}, false
	}
	reader, err := c.Runtime.GetContainerLogs(ctx, containerName)
	if err != nil || reader == nil {
		return ContainerLog{}, false
	}
	defer reader.Close()

	lines := tailNonBlank(ctx, reader, n)
	if ctx.Err() != nil {
		return ContainerLog{}, false
	}
	return ContainerLog{Container: containerName, Lines: lines}, true
}

func (c *Collector) collectHealth(ctx context.Context, containerName string) (ContainerHealth, bool) {
	if c.Runtime == nil {
		return ContainerHealth{}, false
	}
	status, err := c.Runtime.Status(ctx, containerName)
	if err != nil {
		return ContainerHealth{}, false
	}
	return ContainerHealth{Container: containerName, Status: status, Healthy: status == runtime.StatusRunning}, true
}

func (c *Collector) collectMockRequests(ctx context.Context, endpoint string) ([]MockRequestRecord, bool) {
	if c.MockLister == nil {
		return nil, false
	}
	records, err := c.MockLister(ctx, endpoint)
	if err != nil {
		return nil, false
	}
	return records, true
}

// tailNonBlank reads r line by line, stopping early if ctx is cancelled,
// and returns the last n non-blank lines.
func tailNonBlank(ctx context.Context, r io.Reader, n int) []string {
	type lineMsg struct {
		line string
		done bool
	}
	lines := make(chan lineMsg)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- lineMsg{line: scanner.Text()}
		}
	}()

	var tail []string
	for {
		select {
		case <-ctx.Done():
			return tail
		case msg, ok := <-lines:
			if !ok {
				return tail
			}
			if strings.TrimSpace(msg.line) == "" {
				continue
			}
			tail = append(tail, msg.line)
			if len(tail) > n {
				tail = tail[len(tail)-n:]
			}
		}
	}
}

func (c *Collector) collectNetworkInfo(ctx context.Context, network string) (NetworkInfo, bool) {
	if c.NetworkTopology == nil {
		return NetworkInfo{}, false
	}
	containers, err := c.NetworkTopology(ctx, network)
	if err != nil {
		return NetworkInfo{}, false
	}
	return NetworkInfo{Network: network, Containers: containers}, true
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"e2eforge/internal/eventbus"
	"e2eforge/pkg/logging"
)

// ErrDNSResolutionFailed is the cause reported when a container cannot
// resolve another service's hostname on the shared network.
var ErrDNSResolutionFailed = errors.New("DNS_RESOLUTION_FAILED")

// ErrNetworkUnreachable is the cause reported when a resolved host cannot
// be reached at all.
var ErrNetworkUnreachable = errors.New("NETWORK_UNREACHABLE")

// DNSResult is the outcome of resolving one hostname from inside a container.
type DNSResult struct {
	Resolved bool
	Address  string
}

// NetworkCheckEvent is emitted once per target during VerifyConnectivity.
type NetworkCheckEvent struct {
	From      string
	Target    string
	Reachable bool
	Cause     error
}

// NetworkVerifiedEvent is the final summary emitted after all targets in one
// VerifyConnectivity call have been checked.
type NetworkVerifiedEvent struct {
	From          string
	AllReachable  bool
	TargetResults map[string]bool
}

// Execer runs a command inside a named container and returns its combined
// output, matching runtime.Runtime.Exec's signature without importing it
// directly so tests can substitute a minimal double.
type Execer func(ctx context.Context, containerID string, cmd []string) ([]byte, error)

// NetworkVerifier inspects and exercises a project's docker network.
type NetworkVerifier struct {
	Exec Execer
	Bus  *eventbus.Bus
}

// CheckDNSResolution resolves host from inside the container named from
// using getent, the standard name resolution tool present in virtually
// every base image.
func (v *NetworkVerifier) CheckDNSResolution(ctx context.Context, from, host string) (DNSResult, error) {
	output, err := v.Exec(ctx, from, []string{"getent", "hosts", host})
	if err != nil {
		return DNSResult{Resolved: false}, nil
	}

	fields := strings.Fields(strings.TrimSpace(string(output)))
	if len(fields) == 0 {
		return DNSResult{Resolved: false}, nil
	}
	return DNSResult{Resolved: true, Address: fields[0]}, nil
}

// CollectNetworkTopology lists the containers attached to the named docker
// network.
func (v *NetworkVerifier) CollectNetworkTopology(ctx context.Context, network string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "docker", "network", "inspect", network, "-f", "{{range $k, $v := .Containers}}{{$v.Name}} {{end}}")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("inspecting network %s: %w", network, err)
	}
	return strings.Fields(string(output)), nil
}

// VerifyConnectivity checks that from can resolve and reach each of
// targets over network, emitting a NetworkCheckEvent per target and a
// final NetworkVerifiedEvent summarizing all of them.
func (v *NetworkVerifier) VerifyConnectivity(ctx context.Context, from string, targets []string, network string) (map[string]bool, error) {
	results := make(map[string]bool, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, target := range targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			reachable, cause := v.checkOne(ctx, from, target)

			mu.Lock()
			results[target] = reachable
			mu.Unlock()

			if !reachable {
				logging.Warn(subsystem, "connectivity check failed from %s to %s: %v", from, target, cause)
			}
			if v.Bus != nil {
				v.Bus.Emit(eventbus.ChannelResilience, NetworkCheckEvent{From: from, Target: target, Reachable: reachable, Cause: cause})
			}
		}(target)
	}
	wg.Wait()

	allReachable := true
	for _, reachable := range results {
		if !reachable {
			allReachable = false
			break
		}
	}

	if v.Bus != nil {
		v.Bus.Emit(eventbus.ChannelResilience, NetworkVerifiedEvent{From: from, AllReachable: allReachable, TargetResults: results})
	}

	if !allReachable {
		return results, fmt.Errorf("not all targets reachable from %s over network %s", from, network)
	}
	return results, nil
}

func (v *NetworkVerifier) checkOne(ctx context.Context, from, target string) (bool, error) {
	dns, err := v.CheckDNSResolution(ctx, from, target)
	if err != nil || !dns.Resolved {
		return false, ErrDNSResolutionFailed
	}

	_, err = v.Exec(ctx, from, []string{"nc", "-z", "-w", "2", target, "80"})
	if err != nil {
		return false, ErrNetworkUnreachable
	}
	return true, nil
}

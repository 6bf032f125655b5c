// Package orchestrator turns a project's service list into a running
// topology: it builds images, starts containers in dependency order gated
// on health, and tears the whole thing down again.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"e2eforge/internal/config"
	"e2eforge/internal/dependency"
	"e2eforge/internal/runtime"
	"e2eforge/pkg/logging"

	"golang.org/x/sync/errgroup"
)

const subsystem = "Orchestrator"

// BuildStatus is the outcome of one service's image build.
type BuildStatus string

const (
	BuildSuccess BuildStatus = "success"
	BuildFailed  BuildStatus = "failed"
)

// BuildResult is one service's build outcome.
type BuildResult struct {
	Name     string
	Image    string
	Status   BuildStatus
	Duration time.Duration
	Error    error
}

// StartStatus is the outcome of one service's container start.
type StartStatus string

const (
	StartRunning   StartStatus = "running"
	StartHealthy   StartStatus = "healthy"
	StartUnhealthy StartStatus = "unhealthy"
	StartFailed    StartStatus = "failed"
)

// StartResult is one service's start outcome.
type StartResult struct {
	Name                string
	ContainerID         string
	Status              StartStatus
	Error               error
	HealthCheckDuration time.Duration
}

// CleanAction records one teardown step taken during CleanAll.
type CleanAction struct {
	Resource string
	Kind     string // "container" or "network"
	Status   string // "stopped", "removed", "failed"
	Error    error
}

// Orchestrator builds, starts and tears down a project's services.
type Orchestrator struct {
	rt      runtime.Runtime
	network string

	mu           sync.RWMutex
	services     map[string]config.Service
	graph        *dependency.Graph
	containerIDs map[string]string
}

// New validates svcs into a dependency graph and returns an Orchestrator
// ready to build/start/clean them. It fails fast on an unknown dependency
// or a cycle.
func New(rt runtime.Runtime, network string, svcs []config.Service) (*Orchestrator, error) {
	graph := dependency.New()
	byName := make(map[string]config.Service, len(svcs))

	for _, svc := range svcs {
		byName[svc.Name] = svc
		deps := make([]dependency.NodeID, len(svc.DependsOn))
		for i, d := range svc.DependsOn {
			deps[i] = dependency.NodeID(d)
		}
		graph.AddNode(dependency.Node{ID: dependency.NodeID(svc.Name), DependsOn: deps, State: dependency.StateStopped})
	}

	if err := graph.Validate(); err != nil {
		return nil, err
	}

	return &Orchestrator{
		rt:           rt,
		network:      network,
		services:     byName,
		graph:        graph,
		containerIDs: make(map[string]string),
	}, nil
}

// BuildAll builds every service's image concurrently (allSettled semantics:
// one failure never cancels the rest).
func (o *Orchestrator) BuildAll(ctx context.Context) []BuildResult {
	o.mu.RLock()
	services := make([]config.Service, 0, len(o.services))
	for _, svc := range o.services {
		services = append(services, svc)
	}
	o.mu.RUnlock()

	results := make([]BuildResult, len(services))
	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc config.Service) {
			defer wg.Done()
			results[i] = o.buildOne(ctx, svc)
		}(i, svc)
	}
	wg.Wait()

	return results
}

func (o *Orchestrator) buildOne(ctx context.Context, svc config.Service) BuildResult {
	if svc.Build == nil {
		image := svc.Container.Name
		if image == "" {
			image = svc.Name
		}
		return BuildResult{Name: svc.Name, Image: image, Status: BuildSuccess}
	}

	image := svc.Build.Image
	if image == "" {
		image = fmt.Sprintf("e2eforge/%s:local", svc.Name)
	}

	start := time.Now()
	err := o.rt.BuildImage(ctx, runtime.BuildConfig{
		Context:    svc.Build.Context,
		Dockerfile: svc.Build.Dockerfile,
		Tag:        image,
		BuildArgs:  svc.Build.BuildArgs,
	})
	duration := time.Since(start)

	if err != nil {
		logging.Error(subsystem, err, "build failed for service %s", svc.Name)
		return BuildResult{Name: svc.Name, Image: image, Status: BuildFailed, Duration: duration, Error: err}
	}

	logging.Info(subsystem, "Built image %s for service %s (%s)", image, svc.Name, duration)
	return BuildResult{Name: svc.Name, Image: image, Status: BuildSuccess, Duration: duration}
}

// StartAll starts every service in topological order, attaching them to the
// project network (created first if absent), waiting for a healthy state
// before starting the next dependent.
func (o *Orchestrator) StartAll(ctx context.Context, healthTimeout time.Duration) ([]StartResult, error) {
	if healthTimeout <= 0 {
		healthTimeout = 120 * time.Second
	}

	order, err := o.graph.TopoSort()
	if err != nil {
		return nil, err
	}

	if err := o.rt.EnsureNetwork(ctx, o.network); err != nil {
		return nil, fmt.Errorf("ensuring network %s: %w", o.network, err)
	}

	results := make([]StartResult, 0, len(order))
	for _, id := range order {
		o.mu.RLock()
		svc, ok := o.services[string(id)]
		o.mu.RUnlock()
		if !ok {
			continue
		}

		result := o.startOne(ctx, svc, healthTimeout)
		results = append(results, result)
		if result.Status == StartFailed || result.Status == StartUnhealthy {
			return results, fmt.Errorf("service %s failed to start: %v", svc.Name, result.Error)
		}
	}

	return results, nil
}

func (o *Orchestrator) startOne(ctx context.Context, svc config.Service, healthTimeout time.Duration) StartResult {
	image := svc.Container.Name
	if svc.Build != nil && svc.Build.Image != "" {
		image = svc.Build.Image
	}
	if image == "" {
		image = svc.Name
	}

	var hc *runtime.HealthCheckSpec
	if svc.Container.Healthcheck != nil {
		h := svc.Container.Healthcheck
		hc = &runtime.HealthCheckSpec{
			Command:     h.Command,
			Interval:    h.Interval,
			Timeout:     h.Timeout,
			Retries:     h.Retries,
			StartPeriod: h.StartPeriod,
		}
	}

	containerID, err := o.rt.StartContainer(ctx, runtime.ContainerConfig{
		Name:        svc.Name,
		Image:       image,
		Network:     o.network,
		Env:         svc.Container.Env,
		Ports:       svc.Container.Ports,
		Volumes:     svc.Container.Volumes,
		HealthCheck: hc,
	})
	if err != nil {
		logging.Error(subsystem, err, "failed to start service %s", svc.Name)
		o.setState(svc.Name, dependency.StateError)
		return StartResult{Name: svc.Name, Status: StartFailed, Error: err}
	}

	o.mu.Lock()
	o.containerIDs[svc.Name] = containerID
	o.mu.Unlock()
	o.setState(svc.Name, dependency.StateStarting)

	if svc.Container.Healthcheck == nil {
		o.setState(svc.Name, dependency.StateRunning)
		return StartResult{Name: svc.Name, ContainerID: containerID, Status: StartRunning}
	}

	waitStart := time.Now()
	timeout := svc.Container.Healthcheck.Timeout
	if timeout == "" {
		timeout = healthTimeout.String()
	}
	err = o.rt.WaitHealthy(ctx, containerID, timeout)
	elapsed := time.Since(waitStart)

	if err != nil {
		logging.Error(subsystem, err, "service %s never became healthy", svc.Name)
		o.setState(svc.Name, dependency.StateError)
		return StartResult{Name: svc.Name, ContainerID: containerID, Status: StartUnhealthy, Error: err, HealthCheckDuration: elapsed}
	}

	logging.Info(subsystem, "Service %s healthy after %s", svc.Name, elapsed)
	o.setState(svc.Name, dependency.StateRunning)
	return StartResult{Name: svc.Name, ContainerID: containerID, Status: StartHealthy, HealthCheckDuration: elapsed}
}

func (o *Orchestrator) setState(name string, state dependency.NodeState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n := o.graph.Get(dependency.NodeID(name)); n != nil {
		n.State = state
	}
}

// CleanAll stops and removes every known container in parallel (best
// effort, never short-circuits on a single failure), then removes the
// project network.
func (o *Orchestrator) CleanAll(ctx context.Context) []CleanAction {
	o.mu.RLock()
	containers := make(map[string]string, len(o.containerIDs))
	for name, id := range o.containerIDs {
		containers[name] = id
	}
	o.mu.RUnlock()

	actions := make([]CleanAction, 0, len(containers)+1)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, id := range containers {
		wg.Add(1)
		go func(name, id string) {
			defer wg.Done()
			action := CleanAction{Resource: name, Kind: "container", Status: "removed"}
			if err := o.rt.StopContainer(ctx, id); err != nil {
				logging.Warn(subsystem, "stop %s failed during cleanup: %v", name, err)
			}
			if err := o.rt.RemoveContainer(ctx, id); err != nil {
				action.Status = "failed"
				action.Error = err
				logging.Error(subsystem, err, "failed to remove container for service %s", name)
			}
			mu.Lock()
			actions = append(actions, action)
			mu.Unlock()
		}(name, id)
	}
	wg.Wait()

	netAction := CleanAction{Resource: o.network, Kind: "network", Status: "removed"}
	if err := o.rt.RemoveNetwork(ctx, o.network); err != nil {
		netAction.Status = "failed"
		netAction.Error = err
		logging.Warn(subsystem, "remove network %s failed: %v", o.network, err)
	}
	actions = append(actions, netAction)

	o.mu.Lock()
	o.containerIDs = make(map[string]string)
	o.mu.Unlock()

	return actions
}

// ContainerID returns the last known container ID for a service, or "" if
// it was never started.
func (o *Orchestrator) ContainerID(name string) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.containerIDs[name]
}

// ParallelBuildWaves returns BuildAll's results grouped into dependency
// waves, used by callers that want to report build progress per wave
// instead of one flat allSettled batch.
func (o *Orchestrator) ParallelBuildWaves(ctx context.Context) ([][]BuildResult, error) {
	waves, err := o.graph.ParallelBuildOrder()
	if err != nil {
		return nil, err
	}

	out := make([][]BuildResult, len(waves))
	for i, wave := range waves {
		group, groupCtx := errgroup.WithContext(ctx)
		results := make([]BuildResult, len(wave))
		for j, id := range wave {
			j, id := j, id
			group.Go(func() error {
				o.mu.RLock()
				svc := o.services[string(id)]
				o.mu.RUnlock()
				results[j] = o.buildOne(groupCtx, svc)
				return nil
			})
		}
		_ = group.Wait()
		out[i] = results
	}
	return out, nil
}

// Package limiter bounds container concurrency globally and per
// project: a counting semaphore caps how many containers run at once
// across the whole process, while each project additionally enforces
// its own maxContainers ceiling before ever touching the global slot
//.
package limiter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ProjectLimits are the per-project container ceilings and the
// resource caps handed to every container the project starts.
type ProjectLimits struct {
	MaxContainers int
	CPU           float64
	Memory        string // e.g. "256m"
}

// ProjectState is a snapshot of one project's tracked containers.
type ProjectState struct {
	Project    string
	Containers []string
	Limits     ProjectLimits
}

// RuntimeResourceArgs are limits translated into the flags a container
// runtime accepts.
type RuntimeResourceArgs struct {
	CPUs   string // docker run --cpus
	Memory string // docker run --memory
}

type projectTracker struct {
	limits     ProjectLimits
	containers map[string]bool
}

// ResourceLimiter wraps a global counting semaphore (FIFO waiter order,
// via golang.org/x/sync/semaphore) and per-project tracking.
type ResourceLimiter struct {
	sem *semaphore.Weighted

	mu       sync.Mutex
	projects map[string]*projectTracker
}

// New returns a limiter whose global capacity is globalCapacity
// concurrently running containers.
func New(globalCapacity int64) *ResourceLimiter {
	return &ResourceLimiter{
		sem:      semaphore.NewWeighted(globalCapacity),
		projects: map[string]*projectTracker{},
	}
}

// RegisterProject sets or replaces project's limits. Existing tracked
// containers are preserved.
func (l *ResourceLimiter) RegisterProject(project string, limits ProjectLimits) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.projects[project]
	if !ok {
		t = &projectTracker{containers: map[string]bool{}}
		l.projects[project] = t
	}
	t.limits = limits
}

// AcquireContainer checks project's maxContainers ceiling, blocks for a
// global slot, tracks the container, and returns the project's
// resource limits for the caller to apply.
func (l *ResourceLimiter) AcquireContainer(ctx context.Context, project, name string) (ProjectLimits, error) {
	l.mu.Lock()
	t, ok := l.projects[project]
	if !ok {
		t = &projectTracker{containers: map[string]bool{}}
		l.projects[project] = t
	}
	if t.limits.MaxContainers > 0 && len(t.containers) >= t.limits.MaxContainers {
		limits := t.limits
		l.mu.Unlock()
		return ProjectLimits{}, fmt.Errorf("project %s: max containers (%d) reached", project, limits.MaxContainers)
	}
	l.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return ProjectLimits{}, err
	}

	l.mu.Lock()
	t.containers[name] = true
	limits := t.limits
	l.mu.Unlock()

	return limits, nil
}

// Release untracks name and releases its global slot. It is a no-op if
// name was never tracked for project.
func (l *ResourceLimiter) Release(project, name string) {
	l.mu.Lock()
	t, ok := l.projects[project]
	if !ok || !t.containers[name] {
		l.mu.Unlock()
		return
	}
	delete(t.containers, name)
	l.mu.Unlock()

	l.sem.Release(1)
}

// GetProjectState returns a snapshot of project's tracked containers.
func (l *ResourceLimiter) GetProjectState(project string) ProjectState {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.projects[project]
	if !ok {
		return ProjectState{Project: project}
	}
	return ProjectState{Project: project, Containers: sortedKeys(t.containers), Limits: t.limits}
}

// GetAllProjectStates returns a snapshot of every registered project,
// sorted by name.
func (l *ResourceLimiter) GetAllProjectStates() []ProjectState {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.projects))
	for name := range l.projects {
		names = append(names, name)
	}
	sort.Strings(names)

	states := make([]ProjectState, 0, len(names))
	for _, name := range names {
		t := l.projects[name]
		states = append(states, ProjectState{Project: name, Containers: sortedKeys(t.containers), Limits: t.limits})
	}
	return states
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TranslateLimits converts a project's {cpu, memory} limits into the
// flags a container runtime accepts.
func TranslateLimits(limits ProjectLimits) RuntimeResourceArgs {
	var args RuntimeResourceArgs
	if limits.CPU > 0 {
		args.CPUs = fmt.Sprintf("%g", limits.CPU)
	}
	if limits.Memory != "" {
		args.Memory = limits.Memory
	}
	return args
}

// Package runner implements the pluggable test runner contract: every
// runner exposes an id, an availability probe, and a Run method that
// streams reporter.Event lifecycle events for one suite.
package runner

import (
	"context"
	"fmt"

	"e2eforge/internal/config"
	"e2eforge/internal/diagnostics"
	"e2eforge/internal/reporter"
)

// Runner executes one suite definition and streams its lifecycle events.
type Runner interface {
	ID() string
	Available(ctx context.Context) bool
	Run(ctx context.Context, suiteName string, config map[string]interface{}) (<-chan reporter.Event, error)
}

// ResolverAware is implemented by runners that expand `{{...}}` template
// expressions against a shared config.Resolver before dispatching a
// suite's requests. A caller wires one in before calling Run so that
// values saved by one suite are visible to the next.
type ResolverAware interface {
	SetResolver(r *config.Resolver)
}

// DiagnosticsAware is implemented by runners that attach a point-in-time
// diagnostics.Report to a failing case. collect is called lazily, once
// per failure, so a successful run never pays for a collection.
type DiagnosticsAware interface {
	SetDiagnosticsCollector(collect func(ctx context.Context) diagnostics.Report)
}

// Registry stores runners by ID, rejecting duplicate registration.
type Registry struct {
	runners map[string]Runner
	order   []string
}

// NewRegistry returns an empty runner registry.
func NewRegistry() *Registry {
	return &Registry{runners: map[string]Runner{}}
}

// Register adds r under its own ID, failing if that ID is already taken.
func (reg *Registry) Register(r Runner) error {
	id := r.ID()
	if _, exists := reg.runners[id]; exists {
		return fmt.Errorf("runner %q already registered", id)
	}
	reg.runners[id] = r
	reg.order = append(reg.order, id)
	return nil
}

// Get returns the runner registered under id, or false if none exists.
func (reg *Registry) Get(id string) (Runner, bool) {
	r, ok := reg.runners[id]
	return r, ok
}

// Availability is one runner's availability probe result.
type Availability struct {
	ID        string
	Available bool
}

// DetectAvailable probes every registered runner concurrently.
func (reg *Registry) DetectAvailable(ctx context.Context) []Availability {
	results := make([]Availability, len(reg.order))
	done := make(chan struct{}, len(reg.order))

	for i, id := range reg.order {
		i, id := i, id
		go func() {
			r := reg.runners[id]
			results[i] = Availability{ID: id, Available: r.Available(ctx)}
			done <- struct{}{}
		}()
	}
	for range reg.order {
		<-done
	}
	return results
}

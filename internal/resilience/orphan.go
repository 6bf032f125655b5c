package resilience

import (
	"context"
	"sync"

	"e2eforge/pkg/logging"
)

// OrphanCleanupReport summarizes one cleanup pass.
type OrphanCleanupReport struct {
	Found   []string
	Removed []string
	Failed  []string
}

// ResourceLister lists container (or network) names carrying the project's
// label but not the given run ID.
type ResourceLister func(ctx context.Context, project, runID string) ([]string, error)

// ResourceRemover removes one named resource, best-effort.
type ResourceRemover func(ctx context.Context, name string) error

// OrphanCleaner removes resources left behind by a previous, differently
// identified run of the same project.
type OrphanCleaner struct {
	List   ResourceLister
	Remove ResourceRemover
}

// Clean lists orphaned resources for project/runID and removes each,
// best-effort: a single removal failure does not stop the rest.
func (c *OrphanCleaner) Clean(ctx context.Context, project, runID string) (OrphanCleanupReport, error) {
	names, err := c.List(ctx, project, runID)
	if err != nil {
		return OrphanCleanupReport{}, err
	}

	report := OrphanCleanupReport{Found: names}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			err := c.Remove(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logging.Warn(subsystem, "failed to remove orphan resource %s: %v", name, err)
				report.Failed = append(report.Failed, name)
			} else {
				report.Removed = append(report.Removed, name)
			}
		}(name)
	}
	wg.Wait()

	return report, nil
}

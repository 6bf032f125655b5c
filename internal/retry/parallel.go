package retry

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// SuiteOptions carries the per-suite variable context passed to a runner.
// Variables is deep-cloned before each suite starts so that no suite can
// observe another's runtime.* writes.
type SuiteOptions struct {
	Variables map[string]interface{}
}

// SuiteConfig pairs an opaque suite definition (interpreted by whatever
// RunFunc the caller supplies) with the options to run it under.
type SuiteConfig struct {
	Suite   interface{}
	Options SuiteOptions
}

// SuiteEvent is one event produced while running a suite, destined for the
// Stream mode's interleaved sink. Kind follows the test runner framework's
// event vocabulary ("log", "case_start", "case_end", ...).
type SuiteEvent struct {
	SuiteIndex int
	Kind       string
	Payload    interface{}
}

// RunFunc executes one suite under the given (already cloned) options,
// calling emit for every event produced along the way, and returns the
// suite's final result.
type RunFunc func(ctx context.Context, suite interface{}, options SuiteOptions, emit func(kind string, payload interface{})) (interface{}, error)

// SuiteResult is one suite's outcome from a parallel run.
type SuiteResult struct {
	Index  int
	Config SuiteConfig
	Result interface{}
	Err    error
}

// ParallelSuiteExecutor runs a set of suites with bounded concurrency and
// per-suite variable isolation.
type ParallelSuiteExecutor struct {
	Concurrency int
}

// Execute runs every config to completion, bounded by Concurrency, and
// returns all results once every suite has finished. A suite whose RunFunc
// panics or returns an error does not stop the others.
func (e *ParallelSuiteExecutor) Execute(ctx context.Context, configs []SuiteConfig, run RunFunc) []SuiteResult {
	return e.Stream(ctx, configs, run, nil)
}

// Stream runs every config to completion, bounded by Concurrency, emitting
// every suite's events onto sink as they occur (interleaved across suites)
// in addition to returning the final per-suite results once all finish.
func (e *ParallelSuiteExecutor) Stream(ctx context.Context, configs []SuiteConfig, run RunFunc, sink chan<- SuiteEvent) []SuiteResult {
	results := make([]SuiteResult, len(configs))
	concurrency := e.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	var wg sync.WaitGroup
	for i, cfg := range configs {
		i, cfg := i, cfg
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = SuiteResult{Index: i, Config: cfg, Err: err}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			emit := func(kind string, payload interface{}) {
				if sink != nil {
					sink <- SuiteEvent{SuiteIndex: i, Kind: kind, Payload: payload}
				}
			}
			results[i] = e.runOne(ctx, i, cfg, run, emit)
		}()
	}
	wg.Wait()
	return results
}

func (e *ParallelSuiteExecutor) runOne(ctx context.Context, idx int, cfg SuiteConfig, run RunFunc, emit func(kind string, payload interface{})) SuiteResult {
	cloned := SuiteOptions{Variables: deepClone(cfg.Options.Variables).(map[string]interface{})}
	if emit == nil {
		emit = func(kind string, payload interface{}) {}
	}

	result, err := func() (res interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				emit("log", map[string]interface{}{"level": "error", "message": "suite runner panicked", "recovered": r})
				err = panicToError(r)
			}
		}()
		return run(ctx, cfg.Suite, cloned, emit)
	}()

	if err != nil {
		emit("log", map[string]interface{}{"level": "error", "message": err.Error()})
	}

	return SuiteResult{Index: idx, Config: cfg, Result: result, Err: err}
}

func panicToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &PanicError{Value: r}
}

// PanicError wraps a recovered panic value from a suite runner.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return "suite runner panic"
}

// deepClone deep-copies maps, slices and primitive values so that a suite's
// options.variables can never leak a write back to the caller or to a
// sibling suite running concurrently.
func deepClone(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[k] = deepClone(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = deepClone(vv)
		}
		return out
	default:
		return v
	}
}

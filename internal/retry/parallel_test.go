package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParallelSuiteExecutorRespectsConcurrency(t *testing.T) {
	e := &ParallelSuiteExecutor{Concurrency: 2}
	configs := make([]SuiteConfig, 6)
	for i := range configs {
		configs[i] = SuiteConfig{Suite: i, Options: SuiteOptions{Variables: map[string]interface{}{"n": i}}}
	}

	var current, max int32
	run := func(ctx context.Context, suite interface{}, opts SuiteOptions, emit func(string, interface{})) (interface{}, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			m := atomic.LoadInt32(&max)
			if n <= m || atomic.CompareAndSwapInt32(&max, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return suite, nil
	}

	results := e.Execute(context.Background(), configs, run)
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	if max > 2 {
		t.Errorf("expected max concurrency 2, observed %d", max)
	}
}

func TestParallelSuiteExecutorIsolatesVariables(t *testing.T) {
	e := &ParallelSuiteExecutor{Concurrency: 4}
	shared := map[string]interface{}{"runtime": map[string]interface{}{"value": 0}}
	configs := []SuiteConfig{
		{Suite: "a", Options: SuiteOptions{Variables: shared}},
		{Suite: "b", Options: SuiteOptions{Variables: shared}},
	}

	run := func(ctx context.Context, suite interface{}, opts SuiteOptions, emit func(string, interface{})) (interface{}, error) {
		rt := opts.Variables["runtime"].(map[string]interface{})
		rt["value"] = suite
		return rt["value"], nil
	}

	e.Execute(context.Background(), configs, run)

	original := shared["runtime"].(map[string]interface{})
	if original["value"] != 0 {
		t.Errorf("expected shared variables untouched, got %v", original["value"])
	}
}

func TestParallelSuiteExecutorContinuesAfterSuiteError(t *testing.T) {
	e := &ParallelSuiteExecutor{Concurrency: 2}
	configs := []SuiteConfig{
		{Suite: "fails", Options: SuiteOptions{}},
		{Suite: "succeeds", Options: SuiteOptions{}},
	}

	run := func(ctx context.Context, suite interface{}, opts SuiteOptions, emit func(string, interface{})) (interface{}, error) {
		if suite == "fails" {
			return nil, errors.New("boom")
		}
		return "ok", nil
	}

	results := e.Execute(context.Background(), configs, run)
	if results[0].Err == nil {
		t.Error("expected first suite to report an error")
	}
	if results[1].Err != nil || results[1].Result != "ok" {
		t.Errorf("expected second suite to succeed, got %+v", results[1])
	}
}

func TestParallelSuiteExecutorRecoversPanic(t *testing.T) {
	e := &ParallelSuiteExecutor{Concurrency: 1}
	configs := []SuiteConfig{{Suite: "panics"}}

	run := func(ctx context.Context, suite interface{}, opts SuiteOptions, emit func(string, interface{})) (interface{}, error) {
		panic("unexpected")
	}

	results := e.Execute(context.Background(), configs, run)
	if results[0].Err == nil {
		t.Error("expected panic to be converted into an error result")
	}
}

func TestParallelSuiteExecutorStreamEmitsEvents(t *testing.T) {
	e := &ParallelSuiteExecutor{Concurrency: 2}
	configs := []SuiteConfig{{Suite: "a"}, {Suite: "b"}}
	sink := make(chan SuiteEvent, 10)

	run := func(ctx context.Context, suite interface{}, opts SuiteOptions, emit func(string, interface{})) (interface{}, error) {
		emit("case_start", suite)
		emit("case_end", suite)
		return suite, nil
	}

	go func() {
		e.Stream(context.Background(), configs, run, sink)
		close(sink)
	}()

	var count int
	for range sink {
		count++
	}
	if count != 4 {
		t.Errorf("expected 4 streamed events, got %d", count)
	}
}

// Package retry computes backoff delays and drives repeated attempts of a
// fallible operation against a resolved retry policy.
package retry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"e2eforge/internal/config"

	"github.com/cenkalti/backoff/v5"
)

// ParseDelay parses a delay expression ("5s", "250ms", "2m", "1h", or a bare
// number of milliseconds) into milliseconds.
func ParseDelay(expr string) (int64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("empty delay expression")
	}

	units := []struct {
		suffix string
		factor int64
	}{
		{"ms", 1},
		{"s", 1000},
		{"m", 60_000},
		{"h", 3_600_000},
	}

	for _, u := range units {
		if strings.HasSuffix(expr, u.suffix) {
			numPart := strings.TrimSuffix(expr, u.suffix)
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid delay %q: %w", expr, err)
			}
			return int64(n * float64(u.factor)), nil
		}
	}

	n, err := strconv.ParseInt(expr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q", expr)
	}
	return n, nil
}

// ComputeBackoffDelay returns the delay in milliseconds before the given
// attempt (1-indexed):
//   - attempt 1, or no backoff kind, returns base unchanged
//   - linear grows by base*multiplier per attempt past the first
//   - exponential grows by multiplier^(attempt-2) past the second
func ComputeBackoffDelay(base int64, attempt int, kind config.BackoffKind, multiplier float64) int64 {
	if multiplier <= 0 {
		multiplier = 2
	}
	if attempt <= 1 || kind == "" {
		return base
	}

	switch kind {
	case config.BackoffLinear:
		return int64(float64(base) * float64(attempt-1) * multiplier)
	case config.BackoffExponential:
		return int64(float64(base) * pow(multiplier, attempt-2))
	default:
		return base
	}
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Attempt is one recorded try of a retried operation.
type Attempt struct {
	Attempt   int
	Passed    bool
	Error     error
	Duration  time.Duration
	Timestamp time.Time
}

// Report is the full attempt history of one Execute call.
type Report struct {
	Attempts []Attempt
}

// ResolvePolicy picks the first defined policy among case, suite and global
// scopes, in that priority order. A nil result means "no retry".
func ResolvePolicy(caseLevel, suiteLevel, global *config.RetryPolicy) *config.RetryPolicy {
	if caseLevel != nil {
		return caseLevel
	}
	if suiteLevel != nil {
		return suiteLevel
	}
	return global
}

// curve adapts ComputeBackoffDelay to cenkalti/backoff/v5's BackOff
// interface, which Executor drives via backoff.Retry.
type curve struct {
	policy  config.RetryPolicy
	attempt int
}

func (c *curve) NextBackOff() time.Duration {
	c.attempt++
	baseMs, err := ParseDelay(c.policy.Delay)
	if err != nil {
		baseMs = 0
	}
	delayMs := ComputeBackoffDelay(baseMs, c.attempt, c.policy.Backoff, c.policy.BackoffMultiplier)
	return time.Duration(delayMs) * time.Millisecond
}

// Executor runs an operation under a resolved retry policy, recording every
// attempt and never sleeping after the final failure.
type Executor struct{}

// NewExecutor returns a ready-to-use Executor.
func NewExecutor() *Executor { return &Executor{} }

// Execute runs fn up to policy.MaxAttempts times, sleeping
// ComputeBackoffDelay between attempts, and returns the full attempt
// report alongside the final error (nil on eventual success).
func (e *Executor) Execute(ctx context.Context, fn func() error, policy config.RetryPolicy) (*Report, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	report := &Report{}
	bo := &curve{policy: policy}

	op := func() (struct{}, error) {
		start := time.Now()
		err := fn()
		report.Attempts = append(report.Attempts, Attempt{
			Attempt:   len(report.Attempts) + 1,
			Passed:    err == nil,
			Error:     err,
			Duration:  time.Since(start),
			Timestamp: start,
		})
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
	return report, err
}

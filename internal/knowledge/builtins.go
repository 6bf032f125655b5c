package knowledge

import (
	"fmt"
	"time"
)

// builtinPatterns are the human-authored starting points
// FindBuiltinByCategory falls back to before a category has accumulated
// any learned occurrences of its own. Confidence starts at 0.5, the
// same uninformative prior the Laplace-smoothed formula converges
// towards for a pattern with no history either way.
var builtinPatterns = []FailurePattern{
	{
		ID:               "builtin-container-oom",
		Category:         CategoryContainerOOM,
		SignaturePattern: "container killed by OOM (exit code 137)",
		Description:      "The container under test was killed by the kernel OOM killer.",
		SuggestedFix:     "Raise the service's memory limit or look for a leak introduced by the change under test.",
		Confidence:       0.5,
	},
	{
		ID:               "builtin-container-crash",
		Category:         CategoryContainerCrash,
		SignaturePattern: "container exited unexpectedly or is restart-looping",
		Description:      "The container exited with a non-zero code, or the runtime reports it restarting.",
		SuggestedFix:     "Check the container's logs for a panic or a failed entrypoint before the first request was made.",
		Confidence:       0.5,
	},
	{
		ID:               "builtin-connection-refused",
		Category:         CategoryConnectionRefused,
		SignaturePattern: "connection refused reaching a dependency",
		Description:      "A request was refused at the TCP layer, usually because the target isn't listening yet.",
		SuggestedFix:     "Add or lengthen a readiness wait for the target service before running this case.",
		Confidence:       0.5,
	},
	{
		ID:               "builtin-timeout",
		Category:         CategoryTimeout,
		SignaturePattern: "request or wait exceeded its deadline",
		Description:      "A request or health wait exceeded its configured timeout.",
		SuggestedFix:     "Check whether the dependency is slow to start under load, or increase the configured timeout.",
		Confidence:       0.5,
	},
	{
		ID:               "builtin-network-error",
		Category:         CategoryNetworkError,
		SignaturePattern: "network unreachable or DNS resolution failed",
		Description:      "The host or container network couldn't route to the target, or DNS resolution failed.",
		SuggestedFix:     "Verify the target is attached to the same network and that its service name resolves.",
		Confidence:       0.5,
	},
	{
		ID:               "builtin-http-error",
		Category:         CategoryHTTPError,
		SignaturePattern: "dependency returned a 4xx/5xx response",
		Description:      "A request completed but the response status indicated a client or server error.",
		SuggestedFix:     "Inspect the response body for the error detail and confirm the request matches the expected contract.",
		Confidence:       0.5,
	},
	{
		ID:               "builtin-mock-mismatch",
		Category:         CategoryMockMismatch,
		SignaturePattern: "request didn't match any declared mock route",
		Description:      "The request reached a mock server but matched none of its declared routes.",
		SuggestedFix:     "Check the mock's route declarations (or OpenAPI spec) against the actual request path and method.",
		Confidence:       0.5,
	},
	{
		ID:               "builtin-config-error",
		Category:         CategoryConfigError,
		SignaturePattern: "manifest failed validation or is missing a required field",
		Description:      "The project manifest failed validation before the run could start.",
		SuggestedFix:     "Re-check the manifest against the error's field path; a missing or misspelled key is the usual cause.",
		Confidence:       0.5,
	},
	{
		ID:               "builtin-assertion-mismatch",
		Category:         CategoryAssertionMismatch,
		SignaturePattern: "an assertion's actual value didn't match what was expected",
		Description:      "A case ran to completion but one of its assertions failed.",
		SuggestedFix:     "Compare the captured request/response against the assertion's expected value; the fix is usually in the case, not the service.",
		Confidence:       0.5,
	},
}

// SeedBuiltins inserts the built-in pattern set into store, skipping any
// category that already has a built-in pattern so repeated calls
// against the same database stay idempotent. Callers wiring up a
// long-lived store (as opposed to a test's throwaway :memory: store)
// should call this once after Open.
func SeedBuiltins(store *Store) error {
	now := time.Now()
	for _, p := range builtinPatterns {
		_, ok, err := store.FindBuiltinByCategory(p.Category)
		if err != nil {
			return fmt.Errorf("checking existing built-in for %s: %w", p.Category, err)
		}
		if ok {
			continue
		}

		seeded := p
		seeded.Signature = string(p.Category) + ":" + p.ID
		seeded.Source = SourceBuiltIn
		seeded.FirstSeenAt = now
		seeded.LastSeenAt = now
		if err := store.CreatePattern(seeded); err != nil {
			return fmt.Errorf("seeding built-in pattern for %s: %w", p.Category, err)
		}
	}
	return nil
}

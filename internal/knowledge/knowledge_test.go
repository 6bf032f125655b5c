package knowledge

import (
	"strings"
	"testing"
)

func TestClassifyOrderedRulesFirstMatchWins(t *testing.T) {
	tests := []struct {
		name string
		err  string
		want Category
	}{
		{"oom", "container killed: OOMKilled, exit code 137", CategoryContainerOOM},
		{"crash", "container exited with code 1", CategoryContainerCrash},
		{"refused", "connect ECONNREFUSED 10.0.0.1:8080", CategoryConnectionRefused},
		{"timeout", "request timed out after 5s", CategoryTimeout},
		{"network", "getaddrinfo ENOTFOUND api.example.com", CategoryNetworkError},
		{"http", "expected 200 but got status 503", CategoryHTTPError},
		{"mock", "no matching route for GET /users/42", CategoryMockMismatch},
		{"config", "invalid configuration: missing required field 'project'", CategoryConfigError},
		{"assertion", "assertion failed: expected 5 got 4", CategoryAssertionMismatch},
		{"unknown", "the sky fell", CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(FailureEvent{CaseName: "case", Error: tt.err})
			if got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyOOMBeatsGenericCrashWording(t *testing.T) {
	got := Classify(FailureEvent{Error: "container exited with code 137 (OOMKilled)"})
	if got != CategoryContainerOOM {
		t.Errorf("expected OOM to win over crash ordering, got %s", got)
	}
}

func TestNormalizeAppliesAllEightSubstitutions(t *testing.T) {
	input := "request a1b2c3d4-e5f6-7890-abcd-ef1234567890 to 10.20.30.40:8080/ at 2024-01-15T10:30:00Z " +
		"failed with status 503, path /orders/98765, hash /a1b2c3d4e5f6a1b2/, count 123456"
	got := Normalize(input)

	for _, want := range []string{"<UUID>", "<IP>", ":<PORT>", "<TIMESTAMP>", "5xx", "/orders/<ID>", "<HASH>", "<NUM>"} {
		if !strings.Contains(got, want) {
			t.Errorf("Normalize() = %q, missing %q", got, want)
		}
	}
}

func TestNormalizeIsIPInvariant(t *testing.T) {
	a := Normalize("connect ECONNREFUSED 10.0.0.1:8080")
	b := Normalize("connect ECONNREFUSED 192.168.1.1:8080")
	if a != b {
		t.Errorf("expected IP-invariant normalization, got %q vs %q", a, b)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	input := "status 503 at 10.0.0.1:9999/"
	once := Normalize(input)
	twice := Normalize(once)
	if once != twice {
		t.Errorf("Normalize() not idempotent: %q vs %q", once, twice)
	}
}

func TestSignatureDeterministicAndIPInvariant(t *testing.T) {
	sig1, _ := Signature(CategoryConnectionRefused, "health-check", "connect ECONNREFUSED 10.0.0.1:8080")
	sig2, _ := Signature(CategoryConnectionRefused, "health-check", "connect ECONNREFUSED 192.168.1.1:8080")
	if sig1 != sig2 {
		t.Errorf("expected same signature across differing IPs, got %s vs %s", sig1, sig2)
	}
	if len(sig1) != 64 {
		t.Errorf("expected 64-char hex sha256, got %d chars", len(sig1))
	}
}

func openTestEngine(t *testing.T) (*DiagnosticsEngine, *Store) {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewEngine(s), s
}

func TestDiagnoseCreatesLearnedPatternOnFirstOccurrence(t *testing.T) {
	engine, _ := openTestEngine(t)
	event := FailureEvent{CaseName: "checkout", Error: "connect ECONNREFUSED 10.0.0.1:8080"}

	diag := engine.Diagnose(event)
	if !diag.IsNewPattern {
		t.Error("expected first occurrence to be a new pattern")
	}
	if diag.Pattern != nil {
		t.Errorf("expected nil pattern for a newly-learned diagnosis, got %+v", diag.Pattern)
	}
	if diag.Confidence != nil {
		t.Errorf("expected nil confidence for a newly-learned diagnosis, got %v", *diag.Confidence)
	}
}

func TestDiagnoseSecondOccurrenceIncrementsAndReturnsExisting(t *testing.T) {
	engine, store := openTestEngine(t)
	event := FailureEvent{CaseName: "checkout", Error: "connect ECONNREFUSED 10.0.0.1:8080"}

	engine.Diagnose(event)

	sig, _ := Signature(CategoryConnectionRefused, "checkout", "connect ECONNREFUSED 10.0.0.1:8080")
	p, ok, err := store.FindBySignature(sig)
	if err != nil || !ok {
		t.Fatalf("expected pattern to exist after first diagnosis, ok=%v err=%v", ok, err)
	}
	if p.Occurrences != 1 {
		t.Fatalf("expected 1 occurrence after first diagnosis, got %d", p.Occurrences)
	}

	sameEvent := FailureEvent{CaseName: "checkout", Error: "connect ECONNREFUSED 192.168.1.1:8080"}
	diag := engine.Diagnose(sameEvent)
	if diag.IsNewPattern {
		t.Error("expected repeated signature to not be new")
	}
	if diag.Pattern == nil || diag.Pattern.Occurrences != 2 {
		t.Errorf("expected occurrences incremented to 2, got %+v", diag.Pattern)
	}
}

func TestDiagnoseFallsBackToBuiltinForCategory(t *testing.T) {
	engine, store := openTestEngine(t)

	builtin := FailurePattern{
		ID:          "builtin-1",
		Category:    CategoryConnectionRefused,
		Signature:   "builtin-sig-unrelated",
		Source:      SourceBuiltIn,
		Confidence:  0.5,
		Occurrences: 10,
		Resolutions: 4,
	}
	if err := store.CreatePattern(builtin); err != nil {
		t.Fatalf("CreatePattern() error = %v", err)
	}

	diag := engine.Diagnose(FailureEvent{CaseName: "new-case-never-seen", Error: "connect ECONNREFUSED 1.2.3.4:80"})
	if diag.IsNewPattern {
		t.Error("expected fallback to built-in pattern, not a new learned pattern")
	}
	if diag.Pattern == nil || diag.Pattern.ID != "builtin-1" {
		t.Errorf("expected fallback to builtin-1, got %+v", diag.Pattern)
	}
}

func TestReportFixUpdatesConfidenceOnSuccess(t *testing.T) {
	engine, store := openTestEngine(t)
	event := FailureEvent{CaseName: "login", Error: "request timed out after 5s"}

	engine.Diagnose(event)
	engine.Diagnose(event)

	report, err := engine.ReportFix(event, "run-1", "increased timeout", true)
	if err != nil {
		t.Fatalf("ReportFix() error = %v", err)
	}
	want := recalcLaplace(2, 1)
	if report.NewConfidence != want {
		t.Errorf("NewConfidence = %v, want %v", report.NewConfidence, want)
	}
	if report.FixRecordID == "" {
		t.Error("expected non-empty fix record id")
	}

	sig, _ := Signature(CategoryTimeout, "login", "request timed out after 5s")
	p, ok, err := store.FindBySignature(sig)
	if err != nil || !ok {
		t.Fatalf("expected pattern to persist, ok=%v err=%v", ok, err)
	}
	if p.Resolutions != 1 {
		t.Errorf("expected resolutions persisted as 1, got %d", p.Resolutions)
	}
}

func TestReportFixDoesNotBumpResolutionsOnFailure(t *testing.T) {
	engine, _ := openTestEngine(t)
	event := FailureEvent{CaseName: "login", Error: "request timed out after 5s"}

	engine.Diagnose(event)
	report, err := engine.ReportFix(event, "run-1", "tried restarting", false)
	if err != nil {
		t.Fatalf("ReportFix() error = %v", err)
	}
	if report.Resolutions != 0 {
		t.Errorf("expected resolutions unchanged on failed fix, got %d", report.Resolutions)
	}
}

func TestFixHistoryReturnsRecentRecords(t *testing.T) {
	engine, store := openTestEngine(t)
	event := FailureEvent{CaseName: "login", Error: "request timed out after 5s"}
	engine.Diagnose(event)

	for i := 0; i < 3; i++ {
		if _, err := engine.ReportFix(event, "run-1", "attempt", i == 2); err != nil {
			t.Fatalf("ReportFix() error = %v", err)
		}
	}

	sig, _ := Signature(CategoryTimeout, "login", "request timed out after 5s")
	p, _, _ := store.FindBySignature(sig)
	history, err := store.FixHistory(p.ID, 10)
	if err != nil {
		t.Fatalf("FixHistory() error = %v", err)
	}
	if len(history) != 3 {
		t.Errorf("expected 3 fix records, got %d", len(history))
	}
}

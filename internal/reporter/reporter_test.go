package reporter

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestAggregatorFoldsBasicSuite(t *testing.T) {
	a := NewAggregator()
	a.Fold(Event{Kind: EventSuiteStart, Suite: "s1", Timestamp: time.Now()})
	a.Fold(Event{Kind: EventCaseStart, Suite: "s1", Case: "c1"})
	a.Fold(Event{Kind: EventCasePass, Suite: "s1", Case: "c1", Duration: 10 * time.Millisecond})
	a.Fold(Event{Kind: EventCaseStart, Suite: "s1", Case: "c2"})
	a.Fold(Event{Kind: EventCaseFail, Suite: "s1", Case: "c2", Message: "boom"})
	a.Fold(Event{Kind: EventSuiteEnd, Suite: "s1", Duration: 20 * time.Millisecond})

	report := a.Report()
	if len(report.Suites) != 1 {
		t.Fatalf("expected 1 suite, got %d", len(report.Suites))
	}
	s := report.Suites[0]
	if !s.Ended {
		t.Error("expected suite to be marked ended")
	}
	if s.Passed != 1 || s.Failed != 1 {
		t.Errorf("expected 1 passed, 1 failed, got passed=%d failed=%d", s.Passed, s.Failed)
	}
	if report.TotalCases != 2 {
		t.Errorf("expected 2 total cases, got %d", report.TotalCases)
	}
}

func TestAggregatorHandlesMissingSuiteEnd(t *testing.T) {
	a := NewAggregator()
	a.Fold(Event{Kind: EventSuiteStart, Suite: "s1"})
	a.Fold(Event{Kind: EventCasePass, Suite: "s1", Case: "c1"})

	report := a.Report()
	if len(report.Suites) != 1 {
		t.Fatalf("expected suite without suite_end to still be included, got %d suites", len(report.Suites))
	}
	if report.Suites[0].Ended {
		t.Error("expected suite.Ended to be false without a terminal event")
	}
	if report.TotalPassed != 1 {
		t.Errorf("expected totals still recomputed, got %d passed", report.TotalPassed)
	}
}

func TestAggregatorPreservesSuiteOrder(t *testing.T) {
	a := NewAggregator()
	a.Fold(Event{Kind: EventSuiteStart, Suite: "b"})
	a.Fold(Event{Kind: EventSuiteStart, Suite: "a"})

	report := a.Report()
	if len(report.Suites) != 2 || report.Suites[0].Name != "b" || report.Suites[1].Name != "a" {
		t.Errorf("expected order [b, a], got %+v", report.Suites)
	}
}

func TestTotalsRecomputedAcrossMultipleSuites(t *testing.T) {
	a := NewAggregator()
	a.Fold(Event{Kind: EventCasePass, Suite: "s1"})
	a.Fold(Event{Kind: EventCaseSkip, Suite: "s2"})
	a.Fold(Event{Kind: EventCaseFail, Suite: "s2"})

	report := a.Report()
	if report.TotalPassed != 1 || report.TotalSkipped != 1 || report.TotalFailed != 1 {
		t.Errorf("unexpected totals: %+v", report)
	}
	if report.TotalCases != 3 {
		t.Errorf("expected 3 total cases, got %d", report.TotalCases)
	}
}

func TestStreamReporterWritesPlainTextWithoutColors(t *testing.T) {
	var buf bytes.Buffer
	r := &StreamReporter{Out: &buf, Colors: false}

	r.Write(Event{Kind: EventCasePass, Case: "c1", Duration: time.Millisecond})
	out := buf.String()
	if !strings.Contains(out, "PASS") || !strings.Contains(out, "c1") {
		t.Errorf("expected plain PASS line, got %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("expected no ANSI escapes without colors, got %q", out)
	}
}

func TestStreamReporterSummaryReflectsFailures(t *testing.T) {
	var buf bytes.Buffer
	r := &StreamReporter{Out: &buf}
	r.Summary(Report{TotalPassed: 2, TotalFailed: 1, TotalCases: 3})

	if !strings.Contains(buf.String(), "2 passed, 1 failed") {
		t.Errorf("expected summary totals in output, got %q", buf.String())
	}
}

func TestRenderHTMLIncludesSuitesAndEscapesContent(t *testing.T) {
	report := Report{
		Suites: []SuiteResult{
			{
				Name:   "<script>",
				Ended:  true,
				Passed: 1,
				Cases: []CaseResult{
					{Name: "c1", Status: EventCasePass, Duration: time.Millisecond},
				},
			},
		},
		TotalPassed: 1,
		TotalCases:  1,
	}

	out := RenderHTML(report)
	if strings.Contains(out, "<script>") {
		t.Error("expected suite name to be HTML-escaped")
	}
	if !strings.Contains(out, "&lt;script&gt;") {
		t.Error("expected escaped suite name present")
	}
	if !strings.Contains(out, "c1") {
		t.Error("expected case name present in output")
	}
}

func TestRenderHTMLMarksIncompleteSuite(t *testing.T) {
	report := Report{Suites: []SuiteResult{{Name: "s1", Ended: false}}}
	out := RenderHTML(report)
	if !strings.Contains(out, "incomplete") {
		t.Error("expected incomplete badge for a suite missing suite_end")
	}
}

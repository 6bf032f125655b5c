package history

import (
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"e2eforge/internal/reporter"
	"e2eforge/pkg/logging"
)

const subsystem = "History"

// RetentionPolicy bounds how much history Recorder keeps per project.
type RetentionPolicy struct {
	MaxAge      time.Duration
	MaxRuns     int
	FlakyWindow int
}

// HistoryRecorder composes and persists run/case records from a
// reporter.Report, runs the flaky detector over failed cases, and
// enforces retention. Every error here is swallowed and logged:
// recording failure must never fail the user-visible run.
type HistoryRecorder struct {
	Store   *Store
	Project string
	SuiteID string
	Policy  RetentionPolicy
	cron    *cron.Cron
}

// NewRecorder returns a recorder for project/suiteID backed by store,
// and starts a background retention sweep that applies policy once a day
// (via robfig/cron).
func NewRecorder(store *Store, project, suiteID string, policy RetentionPolicy) *HistoryRecorder {
	r := &HistoryRecorder{Store: store, Project: project, SuiteID: suiteID, Policy: policy}
	r.cron = cron.New()
	_, err := r.cron.AddFunc("@daily", r.runRetention)
	if err != nil {
		logging.Warn(subsystem, "failed to schedule retention sweep: %v", err)
		return r
	}
	r.cron.Start()
	return r
}

// Stop halts the background retention sweep.
func (r *HistoryRecorder) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// Record composes a TestRunRecord and its TestCaseRunRecords from
// report, saves them, runs the flaky detector for every failed case,
// and runs retention once. It never returns an error: failures are
// logged and otherwise ignored.
func (r *HistoryRecorder) Record(report reporter.Report, startedAt, finishedAt time.Time) {
	run := r.buildRun(report, startedAt, finishedAt)
	cases := r.buildCases(report, run.ID, finishedAt)

	if err := r.Store.SaveRun(run, cases); err != nil {
		logging.Warn(subsystem, "failed to save run %s: %v", run.ID, err)
		return
	}

	for _, c := range cases {
		if c.Status != "failed" {
			continue
		}
		if _, err := r.Store.DetectFlaky(c.CaseName, r.Project, r.Policy.FlakyWindow, r.SuiteID); err != nil {
			logging.Warn(subsystem, "flaky detection failed for %s: %v", c.CaseName, err)
		}
	}

	r.runRetention()
}

func (r *HistoryRecorder) buildRun(report reporter.Report, startedAt, finishedAt time.Time) TestRunRecord {
	status := "passed"
	if report.TotalFailed > 0 {
		status = "failed"
	}
	for _, s := range report.Suites {
		if !s.Ended {
			status = "incomplete"
			break
		}
	}

	return TestRunRecord{
		ID:         uuid.NewString(),
		Project:    r.Project,
		SuiteID:    r.SuiteID,
		Status:     status,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Passed:     report.TotalPassed,
		Failed:     report.TotalFailed,
		Skipped:    report.TotalSkipped,
		DurationMs: finishedAt.Sub(startedAt).Milliseconds(),
	}
}

func (r *HistoryRecorder) buildCases(report reporter.Report, runID string, ranAt time.Time) []TestCaseRunRecord {
	var cases []TestCaseRunRecord
	for _, suite := range report.Suites {
		for _, c := range suite.Cases {
			cases = append(cases, TestCaseRunRecord{
				ID:         uuid.NewString(),
				RunID:      runID,
				Project:    r.Project,
				SuiteID:    r.SuiteID,
				CaseName:   c.Name,
				Status:     caseStatus(c.Status),
				Message:    c.Message,
				DurationMs: c.Duration.Milliseconds(),
				RanAt:      ranAt,
			})
		}
	}
	return cases
}

func caseStatus(kind reporter.EventKind) string {
	switch kind {
	case reporter.EventCasePass:
		return "passed"
	case reporter.EventCaseFail:
		return "failed"
	default:
		return "skipped"
	}
}

func (r *HistoryRecorder) runRetention() {
	if r.Policy.MaxAge == 0 && r.Policy.MaxRuns == 0 {
		return
	}
	if err := r.Store.Cleanup(r.Project, r.Policy.MaxAge, r.Policy.MaxRuns); err != nil {
		logging.Warn(subsystem, "retention sweep failed for %s: %v", r.Project, err)
	}
}

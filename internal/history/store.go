// Package history persists test run and test case outcomes, and
// answers the queries the reporter, dashboard, and flaky detector need
// over that history.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	// registers the "sqlite3" driver
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned (wrapped) when a query names a run that does
// not exist.
var ErrNotFound = errors.New("run not found")

// TestRunRecord is one complete suite-run's outcome.
type TestRunRecord struct {
	ID         string    `db:"id"`
	Project    string    `db:"project"`
	SuiteID    string    `db:"suite_id"`
	Status     string    `db:"status"` // "passed" | "failed" | "incomplete"
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	Passed     int       `db:"passed"`
	Failed     int       `db:"failed"`
	Skipped    int       `db:"skipped"`
	DurationMs int64     `db:"duration_ms"`
}

// TestCaseRunRecord is one test case's outcome within a run.
type TestCaseRunRecord struct {
	ID         string    `db:"id"`
	RunID      string    `db:"run_id"`
	Project    string    `db:"project"`
	SuiteID    string    `db:"suite_id"`
	CaseName   string    `db:"case_name"`
	Status     string    `db:"status"` // "passed" | "failed" | "skipped"
	Message    string    `db:"message"`
	DurationMs int64     `db:"duration_ms"`
	RanAt      time.Time `db:"ran_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS test_runs (
	id TEXT PRIMARY KEY,
	project TEXT NOT NULL,
	suite_id TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	passed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_test_runs_project ON test_runs(project, started_at);

CREATE TABLE IF NOT EXISTS test_case_runs (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	project TEXT NOT NULL,
	suite_id TEXT NOT NULL,
	case_name TEXT NOT NULL,
	status TEXT NOT NULL,
	message TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	ran_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_test_case_runs_case ON test_case_runs(project, case_name, ran_at);
`

// Store is the history persistence layer, backed by sqlite (file or
// in-memory, selected by the DSN passed to Open).
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) a sqlite-backed history store at
// dsn. Pass ":memory:" for an ephemeral, test-only store.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// SaveRun persists a run and its case records in one transaction.
func (s *Store) SaveRun(run TestRunRecord, cases []TestCaseRunRecord) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.NamedExec(`
		INSERT INTO test_runs (id, project, suite_id, status, started_at, finished_at, passed, failed, skipped, duration_ms)
		VALUES (:id, :project, :suite_id, :status, :started_at, :finished_at, :passed, :failed, :skipped, :duration_ms)
	`, run); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, c := range cases {
		if _, err := tx.NamedExec(`
			INSERT INTO test_case_runs (id, run_id, project, suite_id, case_name, status, message, duration_ms, ran_at)
			VALUES (:id, :run_id, :project, :suite_id, :case_name, :status, :message, :duration_ms, :ran_at)
		`, c); err != nil {
			return fmt.Errorf("inserting case %s: %w", c.CaseName, err)
		}
	}

	return tx.Commit()
}

// GetRunByID fetches one run by its ID.
func (s *Store) GetRunByID(id string) (TestRunRecord, error) {
	var run TestRunRecord
	err := s.db.Get(&run, `SELECT * FROM test_runs WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return TestRunRecord{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// GetCasesForRun fetches every case recorded under one run.
func (s *Store) GetCasesForRun(runID string) ([]TestCaseRunRecord, error) {
	var cases []TestCaseRunRecord
	err := s.db.Select(&cases, `SELECT * FROM test_case_runs WHERE run_id = ? ORDER BY case_name`, runID)
	return cases, err
}

// RunQueryOptions filters GetRunsForProject.
type RunQueryOptions struct {
	Limit   int
	Offset  int
	Status  string // "" for any
	Days    int    // 0 for no bound
	SuiteID string // "" for any
}

// GetRunsForProject lists project's runs, most recent first.
func (s *Store) GetRunsForProject(project string, opts RunQueryOptions) ([]TestRunRecord, error) {
	query := `SELECT * FROM test_runs WHERE project = ?`
	args := []interface{}{project}

	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, opts.Status)
	}
	if opts.SuiteID != "" {
		query += ` AND suite_id = ?`
		args = append(args, opts.SuiteID)
	}
	if opts.Days > 0 {
		query += ` AND started_at >= ?`
		args = append(args, time.Now().Add(-time.Duration(opts.Days)*24*time.Hour))
	}
	query += ` ORDER BY started_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}

	var runs []TestRunRecord
	if err := s.db.Select(&runs, query, args...); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRunsInDateRange lists project's runs started within [fromMs, toMs].
func (s *Store) GetRunsInDateRange(project string, fromMs, toMs int64) ([]TestRunRecord, error) {
	var runs []TestRunRecord
	err := s.db.Select(&runs, `
		SELECT * FROM test_runs
		WHERE project = ? AND started_at >= ? AND started_at <= ?
		ORDER BY started_at DESC
	`, project, time.UnixMilli(fromMs), time.UnixMilli(toMs))
	return runs, err
}

// GetCaseHistory fetches caseName's most recent windowN runs for
// project, most-recent-first.
func (s *Store) GetCaseHistory(caseName, project string, windowN int, suiteID string) ([]TestCaseRunRecord, error) {
	query := `SELECT * FROM test_case_runs WHERE project = ? AND case_name = ?`
	args := []interface{}{project, caseName}

	if suiteID != "" {
		query += ` AND suite_id = ?`
		args = append(args, suiteID)
	}
	query += ` ORDER BY ran_at DESC`
	if windowN > 0 {
		query += ` LIMIT ?`
		args = append(args, windowN)
	}

	var cases []TestCaseRunRecord
	if err := s.db.Select(&cases, query, args...); err != nil {
		return nil, err
	}
	return cases, nil
}

// GetDistinctCaseNames lists every distinct case name seen for
// project, optionally scoped to one suite.
func (s *Store) GetDistinctCaseNames(project string, suiteID string) ([]string, error) {
	query := `SELECT DISTINCT case_name FROM test_case_runs WHERE project = ?`
	args := []interface{}{project}
	if suiteID != "" {
		query += ` AND suite_id = ?`
		args = append(args, suiteID)
	}
	query += ` ORDER BY case_name`

	var names []string
	if err := s.db.Select(&names, query, args...); err != nil {
		return nil, err
	}
	return names, nil
}

// Cleanup enforces project's retention policy: runs (and their cases)
// older than maxAge, and runs beyond the most recent maxRuns, are
// deleted. Either bound may be zero to disable it.
func (s *Store) Cleanup(project string, maxAge time.Duration, maxRuns int) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge)
		if err := deleteRunsWhere(tx, `project = ? AND started_at < ?`, project, cutoff); err != nil {
			return err
		}
	}

	if maxRuns > 0 {
		var ids []string
		if err := tx.Select(&ids, `
			SELECT id FROM test_runs WHERE project = ? ORDER BY started_at DESC LIMIT -1 OFFSET ?
		`, project, maxRuns); err != nil {
			return fmt.Errorf("selecting overflow runs: %w", err)
		}
		for _, id := range ids {
			if err := deleteRunsWhere(tx, `id = ?`, id); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func deleteRunsWhere(tx *sqlx.Tx, where string, args ...interface{}) error {
	var ids []string
	if err := tx.Select(&ids, `SELECT id FROM test_runs WHERE `+where, args...); err != nil {
		return fmt.Errorf("selecting runs to delete: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM test_case_runs WHERE run_id = ?`, id); err != nil {
			return fmt.Errorf("deleting cases for run %s: %w", id, err)
		}
		if _, err := tx.Exec(`DELETE FROM test_runs WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting run %s: %w", id, err)
		}
	}
	return nil
}

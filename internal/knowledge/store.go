package knowledge

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	// registers the "sqlite3" driver
	_ "github.com/mattn/go-sqlite3"
)

// PatternSource distinguishes a hand-authored pattern from one the
// engine learned at runtime.
type PatternSource string

const (
	SourceBuiltIn PatternSource = "built-in"
	SourceLearned PatternSource = "learned"
)

// FailurePattern is a stored, fingerprinted failure and its associated
// fix knowledge.
type FailurePattern struct {
	ID              string        `db:"id"`
	Category        Category      `db:"category"`
	Signature       string        `db:"signature"`
	SignaturePattern string       `db:"signature_pattern"`
	Description     string        `db:"description"`
	SuggestedFix    string        `db:"suggested_fix"`
	Confidence      float64       `db:"confidence"`
	Occurrences     int           `db:"occurrences"`
	Resolutions     int           `db:"resolutions"`
	Source          PatternSource `db:"source"`
	FirstSeenAt     time.Time     `db:"first_seen_at"`
	LastSeenAt      time.Time     `db:"last_seen_at"`
}

// FixRecord is one reported attempt (successful or not) to resolve a
// pattern.
type FixRecord struct {
	ID              string    `db:"id"`
	PatternID       string    `db:"pattern_id"`
	RunID           string    `db:"run_id"`
	CaseName        string    `db:"case_name"`
	FixDescription  string    `db:"fix_description"`
	Success         bool      `db:"success"`
	CreatedAt       time.Time `db:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS failure_patterns (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	signature TEXT NOT NULL UNIQUE,
	signature_pattern TEXT NOT NULL,
	description TEXT,
	suggested_fix TEXT,
	confidence REAL NOT NULL DEFAULT 0,
	occurrences INTEGER NOT NULL DEFAULT 0,
	resolutions INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL,
	first_seen_at DATETIME NOT NULL,
	last_seen_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failure_patterns_category ON failure_patterns(category, source);

CREATE TABLE IF NOT EXISTS fix_records (
	id TEXT PRIMARY KEY,
	pattern_id TEXT NOT NULL,
	run_id TEXT,
	case_name TEXT NOT NULL,
	fix_description TEXT,
	success INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fix_records_pattern ON fix_records(pattern_id, created_at);
`

// Store persists failure patterns and fix records. Writes are
// serialized per pattern ID via an in-process lock table, matching the
// per-pattern-id locking the rest of the engine assumes.
type Store struct {
	db *sqlx.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open opens (creating if necessary) a sqlite-backed knowledge store.
// Pass ":memory:" for an ephemeral, test-only store.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating knowledge schema: %w", err)
	}
	return &Store{db: db, locks: map[string]*sync.Mutex{}}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// FindBySignature returns the pattern with this exact signature, or
// (FailurePattern{}, false, nil) if none exists.
func (s *Store) FindBySignature(sig string) (FailurePattern, bool, error) {
	var p FailurePattern
	err := s.db.Get(&p, `SELECT * FROM failure_patterns WHERE signature = ?`, sig)
	if err == sql.ErrNoRows {
		return FailurePattern{}, false, nil
	}
	if err != nil {
		return FailurePattern{}, false, err
	}
	return p, true, nil
}

// FindBuiltinByCategory returns the first source='built-in' pattern for
// category, or (FailurePattern{}, false, nil) if none exists.
func (s *Store) FindBuiltinByCategory(category Category) (FailurePattern, bool, error) {
	var p FailurePattern
	err := s.db.Get(&p, `
		SELECT * FROM failure_patterns WHERE category = ? AND source = ? ORDER BY first_seen_at LIMIT 1
	`, category, SourceBuiltIn)
	if err == sql.ErrNoRows {
		return FailurePattern{}, false, nil
	}
	if err != nil {
		return FailurePattern{}, false, err
	}
	return p, true, nil
}

// IncrementOccurrences bumps a pattern's occurrence counter and refreshes
// lastSeenAt, serialized per pattern ID.
func (s *Store) IncrementOccurrences(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.Exec(`
		UPDATE failure_patterns SET occurrences = occurrences + 1, last_seen_at = ? WHERE id = ?
	`, time.Now(), id)
	return err
}

// CreatePattern inserts a new pattern.
func (s *Store) CreatePattern(p FailurePattern) error {
	_, err := s.db.NamedExec(`
		INSERT INTO failure_patterns
			(id, category, signature, signature_pattern, description, suggested_fix, confidence, occurrences, resolutions, source, first_seen_at, last_seen_at)
		VALUES
			(:id, :category, :signature, :signature_pattern, :description, :suggested_fix, :confidence, :occurrences, :resolutions, :source, :first_seen_at, :last_seen_at)
	`, p)
	return err
}

// UpdateConfidence persists a pattern's resolutions count and recomputed
// confidence, serialized per pattern ID.
func (s *Store) UpdateConfidence(id string, resolutions int, confidence float64) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.Exec(`
		UPDATE failure_patterns SET resolutions = ?, confidence = ?, last_seen_at = ? WHERE id = ?
	`, resolutions, confidence, time.Now(), id)
	return err
}

// RecordFix inserts a fix attempt record.
func (s *Store) RecordFix(f FixRecord) error {
	_, err := s.db.NamedExec(`
		INSERT INTO fix_records (id, pattern_id, run_id, case_name, fix_description, success, created_at)
		VALUES (:id, :pattern_id, :run_id, :case_name, :fix_description, :success, :created_at)
	`, f)
	return err
}

// FixHistory returns a pattern's most recent limit fix records, newest
// first.
func (s *Store) FixHistory(patternID string, limit int) ([]FixRecord, error) {
	var records []FixRecord
	err := s.db.Select(&records, `
		SELECT * FROM fix_records WHERE pattern_id = ? ORDER BY created_at DESC LIMIT ?
	`, patternID, limit)
	return records, err
}

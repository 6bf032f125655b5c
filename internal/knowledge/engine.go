package knowledge

import (
	"time"

	"github.com/google/uuid"

	"e2eforge/pkg/logging"
)

const subsystem = "Knowledge"

const fixHistoryWindow = 10

// Diagnosis is the result of DiagnosticsEngine.Diagnose.
type Diagnosis struct {
	Category     Category
	Signature    string
	Pattern      *FailurePattern
	SuggestedFix string
	Confidence   *float64
	FixHistory   []FixRecord
	IsNewPattern bool
}

// FixReport is the result of DiagnosticsEngine.ReportFix.
type FixReport struct {
	PatternID     string
	FixRecordID   string
	OldConfidence float64
	NewConfidence float64
	Occurrences   int
	Resolutions   int
}

// DiagnosticsEngine classifies failures, fingerprints them, and learns
// fixes over repeated occurrences.
type DiagnosticsEngine struct {
	Store *Store
}

// NewEngine returns an engine backed by store.
func NewEngine(store *Store) *DiagnosticsEngine {
	return &DiagnosticsEngine{Store: store}
}

// recalcLaplace applies the Laplace-smoothed confidence formula:
// (resolutions+1)/(occurrences+2).
func recalcLaplace(occurrences, resolutions int) float64 {
	return float64(resolutions+1) / float64(occurrences+2)
}

// Diagnose classifies event, fingerprints it, and looks up or learns a
// pattern for it. Any store error falls through to a
// classification-only result with no pattern.
func (e *DiagnosticsEngine) Diagnose(event FailureEvent) Diagnosis {
	category := Classify(event)
	sig, _ := Signature(category, event.CaseName, event.Error)

	diag := Diagnosis{Category: category, Signature: sig}

	found, ok, err := e.Store.FindBySignature(sig)
	if err != nil {
		logging.Warn(subsystem, "signature lookup failed, falling back to classification only: %v", err)
		return diag
	}

	if !ok {
		builtin, bok, berr := e.Store.FindBuiltinByCategory(category)
		if berr != nil {
			logging.Warn(subsystem, "built-in fallback lookup failed: %v", berr)
			return diag
		}
		if bok {
			found, ok = builtin, true
		}
	}

	if ok {
		if err := e.Store.IncrementOccurrences(found.ID); err != nil {
			logging.Warn(subsystem, "failed to increment occurrences for pattern %s: %v", found.ID, err)
		}
		found.Occurrences++

		history, herr := e.Store.FixHistory(found.ID, fixHistoryWindow)
		if herr != nil {
			logging.Warn(subsystem, "failed to load fix history for pattern %s: %v", found.ID, herr)
		}

		p := found
		confidence := p.Confidence
		diag.Pattern = &p
		diag.SuggestedFix = p.SuggestedFix
		diag.Confidence = &confidence
		diag.FixHistory = history
		diag.IsNewPattern = false
		return diag
	}

	learned := FailurePattern{
		ID:          uuid.NewString(),
		Category:    category,
		Signature:   sig,
		Source:      SourceLearned,
		Confidence:  recalcLaplace(1, 0),
		Occurrences: 1,
		Resolutions: 0,
		FirstSeenAt: time.Now(),
		LastSeenAt:  time.Now(),
	}
	learned.SignaturePattern = patternTextFor(category, event)

	if err := e.Store.CreatePattern(learned); err != nil {
		logging.Warn(subsystem, "failed to persist learned pattern: %v", err)
	}

	diag.IsNewPattern = true
	return diag
}

func patternTextFor(category Category, event FailureEvent) string {
	_, pattern := Signature(category, event.CaseName, event.Error)
	return pattern
}

// ReportFix finds or creates the pattern for event (same fallback path
// as Diagnose), records the fix attempt, and on success recomputes and
// persists confidence via the Laplace formula.
func (e *DiagnosticsEngine) ReportFix(event FailureEvent, runID, description string, success bool) (FixReport, error) {
	category := Classify(event)
	sig, _ := Signature(category, event.CaseName, event.Error)

	pattern, ok, err := e.Store.FindBySignature(sig)
	if err != nil {
		return FixReport{}, err
	}
	if !ok {
		pattern, ok, err = e.Store.FindBuiltinByCategory(category)
		if err != nil {
			return FixReport{}, err
		}
	}
	if !ok {
		pattern = FailurePattern{
			ID:               uuid.NewString(),
			Category:         category,
			Signature:        sig,
			SignaturePattern: patternTextFor(category, event),
			Source:           SourceLearned,
			Confidence:       recalcLaplace(1, 0),
			Occurrences:      1,
			FirstSeenAt:      time.Now(),
			LastSeenAt:       time.Now(),
		}
		if err := e.Store.CreatePattern(pattern); err != nil {
			return FixReport{}, err
		}
	}

	fixRecord := FixRecord{
		ID:             uuid.NewString(),
		PatternID:      pattern.ID,
		RunID:          runID,
		CaseName:       event.CaseName,
		FixDescription: description,
		Success:        success,
		CreatedAt:      time.Now(),
	}
	if err := e.Store.RecordFix(fixRecord); err != nil {
		return FixReport{}, err
	}

	report := FixReport{
		PatternID:     pattern.ID,
		FixRecordID:   fixRecord.ID,
		OldConfidence: pattern.Confidence,
		NewConfidence: pattern.Confidence,
		Occurrences:   pattern.Occurrences,
		Resolutions:   pattern.Resolutions,
	}

	if success {
		newResolutions := pattern.Resolutions + 1
		newConfidence := recalcLaplace(pattern.Occurrences, newResolutions)
		if err := e.Store.UpdateConfidence(pattern.ID, newResolutions, newConfidence); err != nil {
			return report, err
		}
		report.NewConfidence = newConfidence
		report.Resolutions = newResolutions
	}

	return report, nil
}

package dashboard

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"e2eforge/internal/history"
)

func (s *Server) handleHistoryTests(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		unavailable(w, "history store")
		return
	}
	project := stringParam(r, "project", "")
	limit := intParam(r, "limit", 50)

	runs, err := s.history.GetRunsForProject(project, history.RunQueryOptions{Limit: limit})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleHistoryBuilds(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		unavailable(w, "history store")
		return
	}
	limit := intParam(r, "limit", 50)
	writeJSON(w, http.StatusOK, s.activity.recent(limit))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		unavailable(w, "history store")
		return
	}
	project := stringParam(r, "project", "")

	runs, err := s.history.GetRunsForProject(project, history.RunQueryOptions{})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var passed, failed, skipped int
	for _, run := range runs {
		passed += run.Passed
		failed += run.Failed
		skipped += run.Skipped
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project": project,
		"runs":    len(runs),
		"passed":  passed,
		"failed":  failed,
		"skipped": skipped,
	})
}

func (s *Server) handleRunsList(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		unavailable(w, "history store")
		return
	}
	opts := history.RunQueryOptions{
		Limit:  intParam(r, "limit", 50),
		Offset: intParam(r, "offset", 0),
		Status: stringParam(r, "status", ""),
		Days:   intParam(r, "days", 0),
	}
	runs, err := s.history.GetRunsForProject(stringParam(r, "project", ""), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		unavailable(w, "history store")
		return
	}
	id := chi.URLParam(r, "id")

	run, err := s.history.GetRunByID(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	cases, err := s.history.GetCasesForRun(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var flaky []history.FlakyResult
	for _, c := range cases {
		if c.Status != "failed" {
			continue
		}
		result, err := s.history.DetectFlaky(c.CaseName, run.Project, 0, run.SuiteID)
		if err == nil && result.IsFlaky {
			flaky = append(flaky, result)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"run": run, "cases": cases, "flaky": flaky})
}

func (s *Server) handleRunsCompare(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		unavailable(w, "history store")
		return
	}
	baseID := chi.URLParam(r, "base")
	compareID := chi.URLParam(r, "compare")

	base, err := s.history.GetRunByID(baseID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "base run not found"})
		return
	}
	compare, err := s.history.GetRunByID(compareID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "compare run not found"})
		return
	}
	if base.Project != compare.Project {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "runs belong to different projects"})
		return
	}

	baseCases, err := s.history.GetCasesForRun(baseID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	compareCases, err := s.history.GetCasesForRun(compareID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	baseByName := map[string]history.TestCaseRunRecord{}
	for _, c := range baseCases {
		baseByName[c.CaseName] = c
	}
	compareByName := map[string]history.TestCaseRunRecord{}
	for _, c := range compareCases {
		compareByName[c.CaseName] = c
	}

	var newFailures, fixed, newCases, removedCases []string
	consistent := map[string]int{"passed": 0, "failed": 0, "skipped": 0}

	for name, c := range compareByName {
		b, existed := baseByName[name]
		if !existed {
			newCases = append(newCases, name)
			continue
		}
		switch {
		case b.Status != "failed" && c.Status == "failed":
			newFailures = append(newFailures, name)
		case b.Status == "failed" && c.Status != "failed":
			fixed = append(fixed, name)
		default:
			consistent[c.Status]++
		}
	}
	for name := range baseByName {
		if _, stillPresent := compareByName[name]; !stillPresent {
			removedCases = append(removedCases, name)
		}
	}

	sort.Strings(newFailures)
	sort.Strings(fixed)
	sort.Strings(newCases)
	sort.Strings(removedCases)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"baseRun":      base,
		"compareRun":   compare,
		"newFailures":  newFailures,
		"fixed":        fixed,
		"consistent":   consistent,
		"newCases":     newCases,
		"removedCases": removedCases,
	})
}

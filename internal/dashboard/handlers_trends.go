package dashboard

import (
	"net/http"
	"sort"
	"strconv"

	"e2eforge/internal/history"
)

// boundedDays clamps the days query param to [1,90], defaulting to 14.
func boundedDays(r *http.Request) int {
	days := intParam(r, "days", 14)
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}
	return days
}

func (s *Server) handleTrendPassRate(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		unavailable(w, "history store")
		return
	}
	days := boundedDays(r)
	project := stringParam(r, "project", "")

	runs, err := s.history.GetRunsForProject(project, history.RunQueryOptions{Days: days})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var totalPassed, totalCases int
	for _, run := range runs {
		totalPassed += run.Passed
		totalCases += run.Passed + run.Failed + run.Skipped
	}
	rate := 0.0
	if totalCases > 0 {
		rate = float64(totalPassed) / float64(totalCases)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project":  project,
		"days":     days,
		"runs":     len(runs),
		"passRate": rate,
	})
}

func (s *Server) handleTrendDuration(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		unavailable(w, "history store")
		return
	}
	days := boundedDays(r)
	project := stringParam(r, "project", "")

	runs, err := s.history.GetRunsForProject(project, history.RunQueryOptions{Days: days})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var totalMs int64
	for _, run := range runs {
		totalMs += run.DurationMs
	}
	avgMs := int64(0)
	if len(runs) > 0 {
		avgMs = totalMs / int64(len(runs))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project":       project,
		"days":          days,
		"runs":          len(runs),
		"avgDurationMs": avgMs,
	})
}

type flakyTrendEntry struct {
	CaseName string  `json:"caseName"`
	Score    float64 `json:"score"`
	Level    string  `json:"level"`
}

func (s *Server) handleTrendFlaky(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		unavailable(w, "history store")
		return
	}
	project := stringParam(r, "project", "")
	topN := intParam(r, "topN", 10)
	minScore := parseMinScore(r)

	names, err := s.history.GetDistinctCaseNames(project, "")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var entries []flakyTrendEntry
	for _, name := range names {
		result, err := s.history.DetectFlaky(name, project, 0, "")
		if err != nil || result.Score < minScore {
			continue
		}
		entries = append(entries, flakyTrendEntry{CaseName: name, Score: result.Score, Level: string(result.Level)})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })
	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}

	writeJSON(w, http.StatusOK, entries)
}

func parseMinScore(r *http.Request) float64 {
	v := r.URL.Query().Get("minScore")
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

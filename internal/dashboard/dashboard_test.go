package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"e2eforge/internal/history"
	"e2eforge/internal/limiter"
	"e2eforge/internal/queue"
)

func newTestHistoryStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHandleHealthReportsConfiguredDependencies(t *testing.T) {
	s := New(Options{})
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	json.NewDecoder(w.Body).Decode(&body)
	if body["historyConfigured"] != false {
		t.Errorf("expected historyConfigured false, got %v", body["historyConfigured"])
	}
}

func TestHandleQueueUnavailableWithoutDependency(t *testing.T) {
	s := New(Options{})
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestHandleQueueReturnsStats(t *testing.T) {
	q := queue.New(nil, 2, 10)
	defer q.Drain()
	s := New(Options{Queue: q})
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHandleResourcesReturnsProjectStates(t *testing.T) {
	l := limiter.New(5)
	l.RegisterProject("demo", limiter.ProjectLimits{MaxContainers: 3})
	s := New(Options{Limiter: l})
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/resources", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	json.NewDecoder(w.Body).Decode(&body)
	projects, _ := body["projects"].([]interface{})
	if len(projects) != 1 {
		t.Errorf("expected 1 project state, got %+v", body)
	}
}

func seedRun(t *testing.T, store *history.Store, id, project, status string, started time.Time) {
	t.Helper()
	run := history.TestRunRecord{
		ID: id, Project: project, SuiteID: "smoke", Status: status,
		StartedAt: started, FinishedAt: started.Add(time.Second), Passed: 1, Failed: 1,
	}
	cases := []history.TestCaseRunRecord{
		{ID: id + "-ok", RunID: id, Project: project, SuiteID: "smoke", CaseName: "ok_case", Status: "passed", RanAt: started},
		{ID: id + "-flip", RunID: id, Project: project, SuiteID: "smoke", CaseName: "flip_case", Status: status, RanAt: started},
	}
	if err := store.SaveRun(run, cases); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
}

func TestHandleRunsListAndByID(t *testing.T) {
	store := newTestHistoryStore(t)
	seedRun(t, store, "run-1", "demo", "failed", time.Now())
	s := New(Options{History: store})
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/runs?project=demo", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/runs/run-1", nil)
	w2 := httptest.NewRecorder()
	s.Router.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w2.Code)
	}
	var body map[string]interface{}
	json.NewDecoder(w2.Body).Decode(&body)
	if _, ok := body["cases"]; !ok {
		t.Errorf("expected cases in run detail response, got %+v", body)
	}
}

func TestHandleRunByIDNotFound(t *testing.T) {
	store := newTestHistoryStore(t)
	s := New(Options{History: store})
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleRunsCompareDetectsChanges(t *testing.T) {
	store := newTestHistoryStore(t)
	base := time.Now().Add(-time.Hour)
	seedRun(t, store, "base", "demo", "passed", base)
	seedRun(t, store, "compare", "demo", "failed", base.Add(time.Minute))
	s := New(Options{History: store})
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/runs/base/compare/compare", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]interface{}
	json.NewDecoder(w.Body).Decode(&body)
	newFailures, _ := body["newFailures"].([]interface{})
	if len(newFailures) != 1 || newFailures[0] != "flip_case" {
		t.Errorf("expected flip_case as a new failure, got %+v", body["newFailures"])
	}
}

func TestHandleRunsCompareRejectsDifferentProjects(t *testing.T) {
	store := newTestHistoryStore(t)
	seedRun(t, store, "a", "proj-a", "passed", time.Now())
	seedRun(t, store, "b", "proj-b", "passed", time.Now())
	s := New(Options{History: store})
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/runs/a/compare/b", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for cross-project compare, got %d", w.Code)
	}
}

func TestHandleTrendPassRateBoundsDays(t *testing.T) {
	store := newTestHistoryStore(t)
	seedRun(t, store, "run-1", "demo", "passed", time.Now())
	s := New(Options{History: store})
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/api/trends/pass-rate?project=demo&days=9999", nil)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	json.NewDecoder(w.Body).Decode(&body)
	if body["days"].(float64) != 90 {
		t.Errorf("expected days clamped to 90, got %v", body["days"])
	}
}

func TestActivityLogRecordsAndBounds(t *testing.T) {
	log := newActivityLog(2)
	log.record("build", "first")
	log.record("build", "second")
	log.record("build", "third")

	recent := log.recent(10)
	if len(recent) != 2 {
		t.Fatalf("expected capacity-bounded to 2, got %d", len(recent))
	}
	if recent[0].Message != "third" {
		t.Errorf("expected newest-first ordering, got %+v", recent)
	}
}

func TestSSEHubBroadcastDeliversToSubscribers(t *testing.T) {
	hub := newSSEHub()
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	hub.broadcast(ssePayload{channel: "build", eventName: "progress", data: "hello"})

	select {
	case p := <-ch:
		if p.channel != "build" || p.data != "hello" {
			t.Errorf("unexpected payload: %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("expected broadcast to reach subscriber")
	}
}

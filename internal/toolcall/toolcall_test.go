package toolcall

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"e2eforge/internal/config"
	"e2eforge/internal/eventbus"
	"e2eforge/internal/history"
	"e2eforge/internal/knowledge"
	"e2eforge/internal/mock"
	"e2eforge/internal/session"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCallToolRequest(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Arguments: args,
		},
	}
}

func decodeEnvelope(t *testing.T, result *mcp.CallToolResult) Envelope {
	t.Helper()
	textContent, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(textContent.Text), &env))
	return env
}

func TestClassifyMapsSessionError(t *testing.T) {
	err := &session.Error{Code: session.CodeSessionExists, Message: "a session already exists"}
	code, msg := classify(err)
	assert.Equal(t, CodeSessionExists, code)
	assert.Equal(t, "a session already exists", msg)
}

func TestClassifyMapsConfigurationErrors(t *testing.T) {
	errs := config.NewConfigurationErrorCollection()
	errs.AddError("manifest.yaml", "manifest.yaml", "loader", "schema", "missing-field", "project.name is required")

	code, _ := classify(errs)
	assert.Equal(t, CodeConfigInvalid, code)
}

func TestClassifyMapsLoadSpecError(t *testing.T) {
	err := &mock.LoadSpecError{Kind: "file-missing", Path: "openapi.yaml", Err: history.ErrNotFound}
	code, _ := classify(err)
	assert.Equal(t, CodeConfigNotFound, code)
}

func TestClassifyMapsHistoryNotFound(t *testing.T) {
	err := history.ErrNotFound
	code, _ := classify(err)
	assert.Equal(t, CodeRunNotFound, code)
}

func TestClassifyFallsBackToInternalError(t *testing.T) {
	code, _ := classify(assertError("boom"))
	assert.Equal(t, CodeInternalError, code)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestOkResultEnvelope(t *testing.T) {
	result, err := okResult(map[string]interface{}{"answer": 42.0})
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)

	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 42.0, data["answer"])
}

func TestFailResultEnvelope(t *testing.T) {
	result, err := failResult(CodeMockNotFound, "no such mock")
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeMockNotFound, env.Error.Code)
	assert.Equal(t, "no such mock", env.Error.Message)
}

func TestProjectServicesMergesSingleAndMulti(t *testing.T) {
	primary := config.Service{Name: "api"}
	extra := config.Service{Name: "worker"}
	p := &config.Project{Service: &primary, Services: []config.Service{extra}}

	services := projectServices(p)
	require.Len(t, services, 2)
	assert.Equal(t, "api", services[0].Name)
	assert.Equal(t, "worker", services[1].Name)
}

func TestProjectServicesMultiOnly(t *testing.T) {
	p := &config.Project{Services: []config.Service{{Name: "a"}, {Name: "b"}}}
	services := projectServices(p)
	require.Len(t, services, 2)
}

// --- test server wiring, bypassing handleInit's runtime/orchestrator
// construction, which needs a real docker binary.

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	sessions := session.NewManager(eventbus.New(), time.Hour, time.Hour)
	t.Cleanup(sessions.Stop)
	return New(sessions, opts)
}

func seedSession(t *testing.T, s *Server, project *config.Project) session.Key {
	t.Helper()
	key := session.Key{ClientID: "default", ProjectPath: "/tmp/fake-project"}
	_, err := s.sessions.Create(key, project, "")
	require.NoError(t, err)
	return key
}

func TestHandleMockGenerateMergesManualRoutes(t *testing.T) {
	project := &config.Project{
		Project: config.ProjectMeta{Name: "widgets"},
		Mocks: map[string]config.MockConfig{
			"billing": {
				Port: 9090,
				Routes: []config.MockRoute{
					{Method: "get", Path: "/invoices", Status: 200, Body: map[string]interface{}{"ok": true}},
				},
			},
		},
	}

	s := newTestServer(t, Options{})
	key := seedSession(t, s, project)

	args := map[string]interface{}{
		"projectPath": key.ProjectPath,
		"clientId":    key.ClientID,
		"mock":        "billing",
		"method":      "GET",
		"path":        "/invoices",
	}
	result, err := s.handleMockGenerate(context.Background(), newCallToolRequest(args))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	require.True(t, env.Success)

	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(200), data["status"])
	body, ok := data["body"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, body["ok"])
}

func TestHandleMockGenerateUnknownRoute(t *testing.T) {
	project := &config.Project{
		Project: config.ProjectMeta{Name: "widgets"},
		Mocks: map[string]config.MockConfig{
			"billing": {Port: 9090},
		},
	}

	s := newTestServer(t, Options{})
	key := seedSession(t, s, project)

	args := map[string]interface{}{
		"projectPath": key.ProjectPath,
		"clientId":    key.ClientID,
		"mock":        "billing",
		"method":      "GET",
		"path":        "/nowhere",
	}
	result, err := s.handleMockGenerate(context.Background(), newCallToolRequest(args))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	assert.False(t, env.Success)
	assert.Equal(t, CodeMockNotFound, env.Error.Code)
}

func TestHandleMockValidateReportsManualRoutesCovered(t *testing.T) {
	project := &config.Project{
		Project: config.ProjectMeta{Name: "widgets"},
		Mocks: map[string]config.MockConfig{
			"billing": {
				Port: 9090,
				Routes: []config.MockRoute{
					{Method: "get", Path: "/invoices", Status: 200},
				},
			},
		},
	}

	s := newTestServer(t, Options{})
	key := seedSession(t, s, project)

	args := map[string]interface{}{
		"projectPath": key.ProjectPath,
		"clientId":    key.ClientID,
		"mock":        "billing",
	}
	result, err := s.handleMockValidate(context.Background(), newCallToolRequest(args))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	require.True(t, env.Success)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, true, data["covered"])
}

func TestHandleMockRequestsReportsNotRunning(t *testing.T) {
	project := &config.Project{Project: config.ProjectMeta{Name: "widgets"}}
	s := newTestServer(t, Options{})
	key := seedSession(t, s, project)

	args := map[string]interface{}{
		"projectPath": key.ProjectPath,
		"clientId":    key.ClientID,
		"mock":        "billing",
	}
	result, err := s.handleMockRequests(context.Background(), newCallToolRequest(args))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	assert.False(t, env.Success)
	assert.Equal(t, CodeMockNotFound, env.Error.Code)
}

// --- diagnostics handlers, backed by a real in-memory knowledge store.

func newKnowledgeServer(t *testing.T) (*Server, session.Key) {
	t.Helper()
	store, err := knowledge.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := newTestServer(t, Options{Knowledge: knowledge.NewEngine(store)})
	key := seedSession(t, s, &config.Project{Project: config.ProjectMeta{Name: "widgets"}})
	return s, key
}

func TestHandleDiagnoseLearnsNewPattern(t *testing.T) {
	s, key := newKnowledgeServer(t)

	args := map[string]interface{}{
		"projectPath": key.ProjectPath,
		"clientId":    key.ClientID,
		"caseName":    "checkout flow",
		"error":       "connect ECONNREFUSED 10.0.0.5:8080",
	}
	result, err := s.handleDiagnose(context.Background(), newCallToolRequest(args))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	require.True(t, env.Success)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, string(knowledge.CategoryConnectionRefused), data["Category"])
}

func TestHandleReportFixRaisesConfidence(t *testing.T) {
	s, key := newKnowledgeServer(t)

	diagArgs := map[string]interface{}{
		"projectPath": key.ProjectPath,
		"clientId":    key.ClientID,
		"caseName":    "checkout flow",
		"error":       "connect ECONNREFUSED 10.0.0.5:8080",
	}
	_, err := s.handleDiagnose(context.Background(), newCallToolRequest(diagArgs))
	require.NoError(t, err)

	fixArgs := map[string]interface{}{
		"projectPath": key.ProjectPath,
		"clientId":    key.ClientID,
		"caseName":    "checkout flow",
		"error":       "connect ECONNREFUSED 10.0.0.5:8080",
		"runId":       "run-1",
		"description": "restarted the dependency container",
		"success":     true,
	}
	result, err := s.handleReportFix(context.Background(), newCallToolRequest(fixArgs))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	require.True(t, env.Success)
	data := env.Data.(map[string]interface{})
	assert.Greater(t, data["NewConfidence"], data["OldConfidence"])
}

func TestHandlePatternsDoesNotRecordOccurrence(t *testing.T) {
	s, key := newKnowledgeServer(t)

	args := map[string]interface{}{
		"projectPath": key.ProjectPath,
		"clientId":    key.ClientID,
		"caseName":    "checkout flow",
		"error":       "connect ECONNREFUSED 10.0.0.5:8080",
	}
	result, err := s.handlePatterns(context.Background(), newCallToolRequest(args))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	require.True(t, env.Success)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, false, data["found"])
}

// --- history handlers, backed by a real in-memory history store.

func newHistoryServer(t *testing.T) (*Server, session.Key, *history.Store) {
	t.Helper()
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := newTestServer(t, Options{History: store})
	key := seedSession(t, s, &config.Project{Project: config.ProjectMeta{Name: "widgets"}})
	return s, key, store
}

func seedRun(t *testing.T, store *history.Store, id string, failed int) {
	t.Helper()
	run := history.TestRunRecord{
		ID:         id,
		Project:    "widgets",
		SuiteID:    "smoke",
		Status:     "failed",
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		Passed:     3,
		Failed:     failed,
		DurationMs: 1500,
	}
	if failed == 0 {
		run.Status = "passed"
	}
	cases := []history.TestCaseRunRecord{
		{ID: id + "-1", RunID: id, Project: "widgets", SuiteID: "smoke", CaseName: "login works", Status: "passed", RanAt: time.Now()},
	}
	if failed > 0 {
		cases = append(cases, history.TestCaseRunRecord{
			ID: id + "-2", RunID: id, Project: "widgets", SuiteID: "smoke",
			CaseName: "checkout works", Status: "failed", RanAt: time.Now(),
		})
	} else {
		cases = append(cases, history.TestCaseRunRecord{
			ID: id + "-2", RunID: id, Project: "widgets", SuiteID: "smoke",
			CaseName: "checkout works", Status: "passed", RanAt: time.Now(),
		})
	}
	require.NoError(t, store.SaveRun(run, cases))
}

func TestHandleHistoryListsRuns(t *testing.T) {
	s, key, store := newHistoryServer(t)
	seedRun(t, store, "run-1", 1)

	args := map[string]interface{}{"projectPath": key.ProjectPath, "clientId": key.ClientID}
	result, err := s.handleHistory(context.Background(), newCallToolRequest(args))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	require.True(t, env.Success)
	data := env.Data.(map[string]interface{})
	runs, ok := data["runs"].([]interface{})
	require.True(t, ok)
	assert.Len(t, runs, 1)
}

func TestHandleHistoryDisabledWithoutStore(t *testing.T) {
	s := newTestServer(t, Options{})
	key := seedSession(t, s, &config.Project{Project: config.ProjectMeta{Name: "widgets"}})

	args := map[string]interface{}{"projectPath": key.ProjectPath, "clientId": key.ClientID}
	result, err := s.handleHistory(context.Background(), newCallToolRequest(args))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	assert.False(t, env.Success)
	assert.Equal(t, CodeHistoryDisabled, env.Error.Code)
}

func TestHandleTrendsClampsDaysWindow(t *testing.T) {
	s, key, store := newHistoryServer(t)
	seedRun(t, store, "run-1", 0)

	args := map[string]interface{}{"projectPath": key.ProjectPath, "clientId": key.ClientID, "days": float64(9000)}
	result, err := s.handleTrends(context.Background(), newCallToolRequest(args))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	require.True(t, env.Success)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, float64(90), data["days"])
	assert.Equal(t, float64(1), data["passRate"])
}

func TestHandleCompareDiffsTwoRuns(t *testing.T) {
	s, key, store := newHistoryServer(t)
	seedRun(t, store, "run-1", 0)
	seedRun(t, store, "run-2", 1)

	args := map[string]interface{}{
		"projectPath":  key.ProjectPath,
		"clientId":     key.ClientID,
		"baseRunId":    "run-1",
		"compareRunId": "run-2",
	}
	result, err := s.handleCompare(context.Background(), newCallToolRequest(args))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	require.True(t, env.Success)
	data := env.Data.(map[string]interface{})
	newFailures, ok := data["newFailures"].([]interface{})
	require.True(t, ok)
	require.Len(t, newFailures, 1)
	assert.Equal(t, "checkout works", newFailures[0])
}

func TestHandleCompareRejectsDifferentProjects(t *testing.T) {
	s, key, store := newHistoryServer(t)
	seedRun(t, store, "run-1", 0)

	other := history.TestRunRecord{
		ID: "run-2", Project: "other-project", SuiteID: "smoke",
		Status: "passed", StartedAt: time.Now(), FinishedAt: time.Now(),
	}
	require.NoError(t, store.SaveRun(other, nil))

	args := map[string]interface{}{
		"projectPath":  key.ProjectPath,
		"clientId":     key.ClientID,
		"baseRunId":    "run-1",
		"compareRunId": "run-2",
	}
	result, err := s.handleCompare(context.Background(), newCallToolRequest(args))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	assert.False(t, env.Success)
	assert.Equal(t, CodeDifferentProjects, env.Error.Code)
}

func TestHandleFlakyClassifiesStableCase(t *testing.T) {
	s, key, store := newHistoryServer(t)
	for i := 0; i < 5; i++ {
		seedRun(t, store, "run-"+string(rune('a'+i)), 0)
	}

	args := map[string]interface{}{"projectPath": key.ProjectPath, "clientId": key.ClientID, "caseName": "login works"}
	result, err := s.handleFlaky(context.Background(), newCallToolRequest(args))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	require.True(t, env.Success)
}

// --- resilience handlers

func TestHandleResetCircuitRequiresConfiguredBreaker(t *testing.T) {
	s := newTestServer(t, Options{})
	key := seedSession(t, s, &config.Project{Project: config.ProjectMeta{Name: "widgets"}})

	args := map[string]interface{}{"projectPath": key.ProjectPath, "clientId": key.ClientID}
	result, err := s.handleResetCircuit(context.Background(), newCallToolRequest(args))
	require.NoError(t, err)

	env := decodeEnvelope(t, result)
	assert.False(t, env.Success)
	assert.Equal(t, CodeInternalError, env.Error.Code)
}

func TestKeyFromRequiresProjectPath(t *testing.T) {
	_, err := keyFrom(map[string]interface{}{})
	assert.Error(t, err)
}

func TestKeyFromDefaultsClientID(t *testing.T) {
	key, err := keyFrom(map[string]interface{}{"projectPath": "/tmp/x"})
	require.NoError(t, err)
	assert.Equal(t, "default", key.ClientID)
}

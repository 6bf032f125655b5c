package toolcall

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"e2eforge/internal/diagnostics"
	"e2eforge/internal/eventbus"
	"e2eforge/internal/history"
	"e2eforge/internal/knowledge"
	"e2eforge/internal/mock"
	"e2eforge/internal/orchestrator"
	"e2eforge/internal/queue"
	"e2eforge/internal/reporter"
	"e2eforge/internal/resilience"
	"e2eforge/internal/runner"
	"e2eforge/internal/runtime"
	"e2eforge/internal/session"
	"e2eforge/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// projectState is everything a session needs beyond what
// session.Session itself tracks: the built runtime/orchestrator pair,
// the runner registry, running mock servers, and the most recent
// report. Kept out of session.Session so that package stays ignorant
// of toolcall-specific concerns.
type projectState struct {
	mu           sync.Mutex
	runtime      runtime.Runtime
	orchestrator *orchestrator.Orchestrator
	runners      *runner.Registry
	recorder     *history.HistoryRecorder
	circuit      *resilience.CircuitBreaker
	mockServers  map[string]*http.Server
	mockStores   map[string]*mock.Store
	lastReport   *reporter.Report
}

func newProjectState() *projectState {
	return &projectState{
		mockServers: map[string]*http.Server{},
		mockStores:  map[string]*mock.Store{},
	}
}

// Options configures a Server. Bus, History and Knowledge may be nil:
// without Bus no events are emitted, without History the history tools
// answer HISTORY_DISABLED, and without Knowledge the diagnostics tools
// answer INTERNAL_ERROR.
type Options struct {
	Engine    string
	StatePath string
	Bus       *eventbus.Bus
	History   *history.Store
	Knowledge *knowledge.DiagnosticsEngine
	Preflight *resilience.PreflightChecker
	Verifier  *resilience.NetworkVerifier
	Collector *diagnostics.Collector
	Queue     *queue.TaskQueue
}

// Server is the tool-call protocol surface: one mcp-go server exposing
// the full session lifecycle, mock inspection, diagnostics, history and
// resilience tools over stdio.
type Server struct {
	mcpServer *server.MCPServer
	sessions  *session.Manager

	engine    string
	statePath string
	bus       *eventbus.Bus
	history   *history.Store
	knowledge *knowledge.DiagnosticsEngine
	preflight *resilience.PreflightChecker
	verifier  *resilience.NetworkVerifier
	collector *diagnostics.Collector
	queue     *queue.TaskQueue

	mu     sync.Mutex
	states map[string]*projectState
}

// New builds a tool-call server and registers every tool. Call Start to
// serve it over stdio.
func New(sessions *session.Manager, opts Options) *Server {
	mcpServer := server.NewMCPServer(
		"e2eforge",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
	)

	s := &Server{
		mcpServer: mcpServer,
		sessions:  sessions,
		engine:    opts.Engine,
		statePath: opts.StatePath,
		bus:       opts.Bus,
		history:   opts.History,
		knowledge: opts.Knowledge,
		preflight: opts.Preflight,
		verifier:  opts.Verifier,
		collector: opts.Collector,
		queue:     opts.Queue,
		states:    map[string]*projectState{},
	}

	s.registerTools()
	return s
}

// Start serves the tool-call protocol over stdio until the process's
// stdin is closed.
func (s *Server) Start(ctx context.Context) error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) stateFor(key session.Key) *projectState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key.String()]
	if !ok {
		st = newProjectState()
		s.states[key.String()] = st
	}
	return st
}

func (s *Server) dropState(key session.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key.String()]; ok {
		if st.recorder != nil {
			st.recorder.Stop()
		}
		delete(s.states, key.String())
	}
}

// keyFrom reads the required projectPath and optional clientId
// arguments common to every tool.
func keyFrom(args map[string]interface{}) (session.Key, error) {
	projectPath, _ := args["projectPath"].(string)
	if projectPath == "" {
		return session.Key{}, fmt.Errorf("projectPath is required")
	}
	clientID, _ := args["clientId"].(string)
	if clientID == "" {
		clientID = "default"
	}
	return session.Key{ClientID: clientID, ProjectPath: projectPath}, nil
}

func projectPathArg() mcp.ToolOption {
	return mcp.WithString("projectPath", mcp.Required(), mcp.Description("absolute path to the project directory"))
}

func clientIDArg() mcp.ToolOption {
	return mcp.WithString("clientId", mcp.Description("isolates sessions for the same project across callers; defaults to \"default\""))
}

// registerTools wires every tool named in the protocol surface to its
// handler.
func (s *Server) registerTools() {
	s.addTool("init", "Loads a project manifest and opens a new session for it",
		[]mcp.ToolOption{projectPathArg(), clientIDArg(), mcp.WithString("engine", mcp.Description("container runtime engine override"))},
		s.handleInit)

	s.addTool("build", "Builds every service image in a session's topology",
		[]mcp.ToolOption{projectPathArg(), clientIDArg()}, s.handleBuild)

	s.addTool("setup", "Starts the session's service and mock containers in dependency order",
		[]mcp.ToolOption{projectPathArg(), clientIDArg()}, s.handleSetup)

	s.addTool("run", "Runs every declared test suite",
		[]mcp.ToolOption{projectPathArg(), clientIDArg()}, s.handleRun)

	s.addTool("run_suite", "Runs one named test suite",
		[]mcp.ToolOption{projectPathArg(), clientIDArg(), mcp.WithString("suiteId", mcp.Required(), mcp.Description("id of the suite to run"))},
		s.handleRunSuite)

	s.addTool("status", "Reports session state and per-container status",
		[]mcp.ToolOption{projectPathArg(), clientIDArg()}, s.handleStatus)

	s.addTool("logs", "Fetches a service container's recent logs",
		[]mcp.ToolOption{projectPathArg(), clientIDArg(), mcp.WithString("service", mcp.Required())}, s.handleLogs)

	s.addTool("clean", "Tears down the session's containers, mocks and network",
		[]mcp.ToolOption{projectPathArg(), clientIDArg()}, s.handleClean)

	s.addTool("mock_requests", "Lists recordings captured by a mock server",
		[]mcp.ToolOption{projectPathArg(), clientIDArg(), mcp.WithString("mock", mcp.Required())}, s.handleMockRequests)

	s.addTool("mock_generate", "Generates a sample response body for a mock route from its schema",
		[]mcp.ToolOption{projectPathArg(), clientIDArg(), mcp.WithString("mock", mcp.Required()), mcp.WithString("method", mcp.Required()), mcp.WithString("path", mcp.Required())},
		s.handleMockGenerate)

	s.addTool("mock_validate", "Validates manually declared mock routes against the mock's coverage",
		[]mcp.ToolOption{projectPathArg(), clientIDArg(), mcp.WithString("mock", mcp.Required())}, s.handleMockValidate)

	s.addTool("diagnose", "Classifies and fingerprints a failed case, returning a suggested fix",
		[]mcp.ToolOption{projectPathArg(), clientIDArg(), mcp.WithString("caseName", mcp.Required()), mcp.WithString("error", mcp.Required())},
		s.handleDiagnose)

	s.addTool("report_fix", "Records whether a suggested fix resolved a diagnosed failure",
		[]mcp.ToolOption{
			projectPathArg(), clientIDArg(),
			mcp.WithString("caseName", mcp.Required()), mcp.WithString("error", mcp.Required()),
			mcp.WithString("runId", mcp.Required()), mcp.WithString("description", mcp.Required()),
			mcp.WithBoolean("success", mcp.Required()),
		}, s.handleReportFix)

	s.addTool("patterns", "Looks up the learned failure pattern for a case/error pair without recording a new occurrence",
		[]mcp.ToolOption{projectPathArg(), clientIDArg(), mcp.WithString("caseName", mcp.Required()), mcp.WithString("error", mcp.Required())},
		s.handlePatterns)

	s.addTool("history", "Lists persisted runs for a project",
		[]mcp.ToolOption{projectPathArg(), clientIDArg(), mcp.WithNumber("days", mcp.Description("window size in days"))}, s.handleHistory)

	s.addTool("trends", "Returns pass-rate and duration trends over a bounded window",
		[]mcp.ToolOption{projectPathArg(), clientIDArg(), mcp.WithNumber("days")}, s.handleTrends)

	s.addTool("flaky", "Classifies a case's recent pass/fail pattern",
		[]mcp.ToolOption{projectPathArg(), clientIDArg(), mcp.WithString("caseName", mcp.Required())}, s.handleFlaky)

	s.addTool("compare", "Diffs two persisted runs of the same project",
		[]mcp.ToolOption{projectPathArg(), clientIDArg(), mcp.WithString("baseRunId", mcp.Required()), mcp.WithString("compareRunId", mcp.Required())},
		s.handleCompare)

	s.addTool("preflight_check", "Runs startup sanity checks (docker daemon, disk space, orphan containers)",
		[]mcp.ToolOption{projectPathArg(), clientIDArg()}, s.handlePreflightCheck)

	s.addTool("reset_circuit", "Manually resets a session's circuit breaker to closed",
		[]mcp.ToolOption{projectPathArg(), clientIDArg()}, s.handleResetCircuit)
}

func (s *Server) addTool(name, description string, opts []mcp.ToolOption, handler server.ToolHandlerFunc) {
	all := append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)
	s.mcpServer.AddTool(mcp.NewTool(name, all...), handler)
}

func stringArg(args map[string]interface{}, name string) string {
	v, _ := args[name].(string)
	return v
}

func intArg(args map[string]interface{}, name string, def int) int {
	if v, ok := args[name].(float64); ok {
		return int(v)
	}
	return def
}

func boolArg(args map[string]interface{}, name string) bool {
	v, _ := args[name].(bool)
	return v
}

func warnf(format string, args ...interface{}) {
	logging.Warn(subsystem, format, args...)
}

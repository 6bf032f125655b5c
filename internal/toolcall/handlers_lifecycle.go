package toolcall

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"e2eforge/internal/config"
	"e2eforge/internal/diagnostics"
	"e2eforge/internal/history"
	"e2eforge/internal/mock"
	"e2eforge/internal/orchestrator"
	"e2eforge/internal/reporter"
	"e2eforge/internal/resilience"
	"e2eforge/internal/retry"
	"e2eforge/internal/runner"
	"e2eforge/internal/runtime"
	"e2eforge/internal/session"

	"github.com/mark3labs/mcp-go/mcp"
)

// projectServices normalizes a manifest's single-service/multi-service
// shape into one slice.
func projectServices(p *config.Project) []config.Service {
	if p.Service != nil {
		return append([]config.Service{*p.Service}, p.Services...)
	}
	return p.Services
}

func (s *Server) handleInit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, err := keyFrom(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}

	project, cfgErrs, err := config.LoadProject(key.ProjectPath)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}
	if cfgErrs != nil && cfgErrs.HasErrors() {
		return failResult(CodeConfigInvalid, cfgErrs.Error())
	}

	engine := stringArg(args, "engine")
	if engine == "" {
		engine = s.engine
	}
	rt, err := runtime.New(engine)
	if err != nil {
		return errResult(err)
	}

	orch, err := orchestrator.New(rt, project.Network.Name, projectServices(project))
	if err != nil {
		return errResult(err)
	}

	sess, err := s.sessions.Create(key, project, project.SourcePath())
	if err != nil {
		return errResult(err)
	}

	st := s.stateFor(key)
	st.mu.Lock()
	st.runtime = rt
	st.orchestrator = orch
	st.runners = runner.NewRegistry()
	_ = st.runners.Register(runner.NewHTTPRunner(&http.Client{Timeout: 30 * time.Second}))
	_ = st.runners.Register(runner.NewShellRunner(""))
	_ = st.runners.Register(runner.NewProcessRunner())
	if project.Resilience.CircuitBreaker.Enabled {
		st.circuit = resilience.New(resilience.CircuitBreakerConfig{
			FailureThreshold: project.Resilience.CircuitBreaker.FailureThreshold,
			ResetTimeout:     time.Duration(project.Resilience.CircuitBreaker.ResetTimeoutMs) * time.Millisecond,
			Bus:              s.bus,
		})
	}
	if s.history != nil && project.History.Storage != "" {
		st.recorder = history.NewRecorder(s.history, project.Project.Name, "", history.RetentionPolicy{
			FlakyWindow: project.History.FlakyWindow,
		})
	}
	st.mu.Unlock()

	return okResult(map[string]interface{}{
		"sessionKey": key.String(),
		"state":      sess.State(),
		"runId":      sess.RunID,
		"services":   len(projectServices(project)),
	})
}

func (s *Server) getSession(key session.Key) (*session.Session, *projectState, error) {
	sess, err := s.sessions.GetOrThrow(key)
	if err != nil {
		return nil, nil, err
	}
	sess.Touch()
	return sess, s.stateFor(key), nil
}

func (s *Server) handleBuild(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, err := keyFrom(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}

	sess, st, err := s.getSession(key)
	if err != nil {
		return errResult(err)
	}
	release, err := s.sessions.AcquireLock(key, "build")
	if err != nil {
		return errResult(err)
	}
	defer release()

	if st.orchestrator == nil {
		return failResult(CodeInvalidState, "session has no orchestrator; call init first")
	}

	results := st.orchestrator.BuildAll(ctx)
	anyFailed := false
	for _, r := range results {
		if r.Status != orchestrator.BuildSuccess {
			anyFailed = true
		}
	}
	if !anyFailed {
		if err := s.sessions.Transition(key, session.StateBuilt); err != nil {
			return errResult(err)
		}
	}

	return okResult(map[string]interface{}{"results": results, "anyFailed": anyFailed})
}

func (s *Server) handleSetup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, err := keyFrom(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}

	sess, st, err := s.getSession(key)
	if err != nil {
		return errResult(err)
	}
	release, err := s.sessions.AcquireLock(key, "setup")
	if err != nil {
		return errResult(err)
	}
	defer release()

	if s.preflight != nil {
		report := s.preflight.Run(ctx, key.ProjectPath, sess.RunID)
		if report.Overall == resilience.CheckFail {
			return failResult(CodeInternalError, fmt.Sprintf("preflight failed: %+v", report.Checks))
		}
	}

	results, err := st.orchestrator.StartAll(ctx, 120*time.Second)
	if err != nil {
		return errResult(err)
	}

	for _, r := range results {
		if r.ContainerID != "" {
			sess.SetContainerID(r.Name, r.ContainerID)
		}
	}

	if err := s.startMocks(ctx, sess, st); err != nil {
		warnf("starting mocks for %s failed: %v", key.String(), err)
	}

	if err := s.sessions.Transition(key, session.StateRunning); err != nil {
		return errResult(err)
	}

	return okResult(map[string]interface{}{"results": results})
}

// routesForMock merges a mock's OpenAPI-extracted routes with its
// manually declared ones, so a mock needs neither source exclusively.
func routesForMock(name string, m config.MockConfig) []mock.Route {
	var routes []mock.Route
	if m.OpenAPISpecPath != "" {
		doc, err := mock.LoadSpec(m.OpenAPISpecPath)
		if err != nil {
			warnf("loading mock spec for %s: %v", name, err)
		} else {
			routes = mock.ExtractRoutes(doc)
		}
	}
	for _, r := range m.Routes {
		status := r.Status
		if status == 0 {
			status = http.StatusOK
		}
		routes = append(routes, mock.Route{
			Method:        strings.ToUpper(r.Method),
			Path:          r.Path,
			Responses:     map[int]mock.ResponseSpec{status: {Example: r.Body, ContentType: "application/json"}},
			DefaultStatus: status,
		})
	}
	return routes
}

func (s *Server) startMocks(ctx context.Context, sess *session.Session, st *projectState) error {
	for name, m := range sess.Config.Mocks {
		store := mock.NewStore(name, m.OpenAPISpecPath)
		routes := routesForMock(name, m)

		handler := &mock.Handler{Mode: mock.Mode(m.Mode), Routes: routes, Store: store}
		httpServer := &http.Server{Addr: fmt.Sprintf(":%d", m.Port), Handler: handler}
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				warnf("mock server exited: %v", err)
			}
		}(httpServer)

		st.mu.Lock()
		st.mockServers[name] = httpServer
		st.mockStores[name] = store
		st.mu.Unlock()

		sess.SetMockServer(name, session.MockServerHandle{
			Closer: func() error {
				return httpServer.Close()
			},
			Port: m.Port,
		})
	}
	return nil
}

// suiteRunFunc adapts a registered runner's channel of reporter.Event
// into the shape retry.ParallelSuiteExecutor drives. When the resolved
// runner implements runner.ResolverAware or runner.DiagnosticsAware,
// resolver and diagCollect are wired in before the suite runs.
func suiteRunFunc(registry *runner.Registry, resolver *config.Resolver, diagCollect func(ctx context.Context) diagnostics.Report) retry.RunFunc {
	return func(ctx context.Context, suite interface{}, options retry.SuiteOptions, emit func(kind string, payload interface{})) (interface{}, error) {
		def, ok := suite.(config.TestSuiteDef)
		if !ok {
			return nil, fmt.Errorf("unexpected suite type %T", suite)
		}
		r, ok := registry.Get(def.Runner)
		if !ok {
			return nil, fmt.Errorf("no runner registered for %q", def.Runner)
		}
		if ra, ok := r.(runner.ResolverAware); ok && resolver != nil {
			ra.SetResolver(resolver)
		}
		if da, ok := r.(runner.DiagnosticsAware); ok && diagCollect != nil {
			da.SetDiagnosticsCollector(diagCollect)
		}
		events, err := r.Run(ctx, def.Name, def.Config)
		if err != nil {
			return nil, err
		}
		agg := reporter.NewAggregator()
		for ev := range events {
			agg.Fold(ev)
			emit(string(ev.Kind), ev)
		}
		report := agg.Report()
		return &report, nil
	}
}

// suiteResolver builds a Resolver seeded with every service's declared
// vars, shared across every suite in one run so that `save:` values set
// by one suite's cases are visible to the next.
func suiteResolver(project *config.Project) *config.Resolver {
	vars := map[string]string{}
	for _, svc := range projectServices(project) {
		for k, v := range svc.Vars {
			vars[k] = v
		}
	}
	return config.NewResolver(vars)
}

// suiteDiagnostics returns a collection closure bound to st's live
// runtime and mock stores, or nil if no collector was configured.
func (s *Server) suiteDiagnostics(sess *session.Session, st *projectState) func(ctx context.Context) diagnostics.Report {
	if s.collector == nil {
		return nil
	}
	return func(ctx context.Context) diagnostics.Report {
		st.mu.Lock()
		s.collector.Runtime = st.runtime
		s.collector.MockLister = func(ctx context.Context, endpoint string) ([]diagnostics.MockRequestRecord, error) {
			store, ok := st.mockStores[endpoint]
			if !ok {
				return nil, nil
			}
			recs := store.All()
			out := make([]diagnostics.MockRequestRecord, len(recs))
			for i, rec := range recs {
				out[i] = diagnostics.MockRequestRecord{Endpoint: endpoint, Method: rec.Method, Path: rec.Path, Status: rec.Status}
			}
			return out, nil
		}
		containerIDs := sess.ContainerIDs()
		names := make([]string, 0, len(containerIDs))
		for name := range containerIDs {
			names = append(names, name)
		}
		endpoints := make([]string, 0, len(st.mockStores))
		for name := range st.mockStores {
			endpoints = append(endpoints, name)
		}
		st.mu.Unlock()

		if s.verifier != nil {
			s.collector.NetworkTopology = s.verifier.CollectNetworkTopology
		}

		return s.collector.Collect(ctx, diagnostics.Options{
			ContainerNames: names,
			MockEndpoints:  endpoints,
			NetworkName:    sess.Config.Network.Name,
		})
	}
}

func (s *Server) runSuites(ctx context.Context, key session.Key, sess *session.Session, st *projectState, suites []config.TestSuiteDef) (reporter.Report, error) {
	if len(sess.ContainerIDs()) == 0 && sess.State() != session.StateRunning {
		return reporter.Report{}, fmt.Errorf("session is not running")
	}

	configs := make([]retry.SuiteConfig, len(suites))
	for i, def := range suites {
		configs[i] = retry.SuiteConfig{Suite: def, Options: retry.SuiteOptions{Variables: map[string]interface{}{}}}
	}

	resolver := suiteResolver(sess.Config)
	diagCollect := s.suiteDiagnostics(sess, st)

	concurrency := sess.Config.Parallel.Concurrency
	executor := &retry.ParallelSuiteExecutor{Concurrency: concurrency}
	results := executor.Execute(ctx, configs, suiteRunFunc(st.runners, resolver, diagCollect))

	combined := reporter.Report{GeneratedAt: time.Now()}
	for _, r := range results {
		if r.Err != nil {
			warnf("suite failed: %v", r.Err)
			continue
		}
		sub, ok := r.Result.(*reporter.Report)
		if !ok {
			continue
		}
		combined.Suites = append(combined.Suites, sub.Suites...)
		combined.TotalPassed += sub.TotalPassed
		combined.TotalFailed += sub.TotalFailed
		combined.TotalSkipped += sub.TotalSkipped
		combined.TotalCases += sub.TotalCases
	}

	st.mu.Lock()
	st.lastReport = &combined
	st.mu.Unlock()

	if st.recorder != nil {
		st.recorder.Record(combined, combined.GeneratedAt, time.Now())
	}
	if s.bus != nil {
		s.bus.Emit("test", combined)
	}

	return combined, nil
}

func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, err := keyFrom(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}

	sess, st, err := s.getSession(key)
	if err != nil {
		return errResult(err)
	}
	release, err := s.sessions.AcquireLock(key, "run")
	if err != nil {
		return errResult(err)
	}
	defer release()

	report, err := s.runSuites(ctx, key, sess, st, sess.Config.Tests.Suites)
	if err != nil {
		return errResult(err)
	}
	return okResult(report)
}

func (s *Server) handleRunSuite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, err := keyFrom(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}
	suiteID := stringArg(args, "suiteId")

	sess, st, err := s.getSession(key)
	if err != nil {
		return errResult(err)
	}
	release, err := s.sessions.AcquireLock(key, "run_suite")
	if err != nil {
		return errResult(err)
	}
	defer release()

	var match *config.TestSuiteDef
	for i := range sess.Config.Tests.Suites {
		if sess.Config.Tests.Suites[i].ID == suiteID {
			match = &sess.Config.Tests.Suites[i]
			break
		}
	}
	if match == nil {
		return failResult(CodeCaseNotFound, fmt.Sprintf("no suite with id %q", suiteID))
	}

	report, err := s.runSuites(ctx, key, sess, st, []config.TestSuiteDef{*match})
	if err != nil {
		return errResult(err)
	}
	return okResult(report)
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, err := keyFrom(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}

	sess, st, err := s.getSession(key)
	if err != nil {
		return errResult(err)
	}

	containerStatus := map[string]string{}
	for name, id := range sess.ContainerIDs() {
		if st.runtime == nil {
			continue
		}
		cs, err := st.runtime.Status(ctx, id)
		if err != nil {
			containerStatus[name] = "unknown"
			continue
		}
		containerStatus[name] = string(cs)
	}

	return okResult(map[string]interface{}{
		"state":      sess.State(),
		"runId":      sess.RunID,
		"containers": containerStatus,
		"mocks":      sess.MockServers(),
	})
}

func (s *Server) handleLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, err := keyFrom(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}
	service := stringArg(args, "service")

	sess, st, err := s.getSession(key)
	if err != nil {
		return errResult(err)
	}

	id, ok := sess.ContainerIDs()[service]
	if !ok {
		return failResult(CodeContainerNotFound, fmt.Sprintf("no container for service %q", service))
	}
	if st.runtime == nil {
		return failResult(CodeContainerNotFound, "session has no runtime")
	}

	rc, err := st.runtime.GetContainerLogs(ctx, id)
	if err != nil {
		return errResult(err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return errResult(err)
	}

	return okResult(map[string]interface{}{"service": service, "logs": string(data)})
}

func (s *Server) handleClean(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, err := keyFrom(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}

	sess, st, err := s.getSession(key)
	if err != nil {
		return errResult(err)
	}
	release, err := s.sessions.AcquireLock(key, "clean")
	if err != nil {
		return errResult(err)
	}
	defer release()

	var actions []orchestrator.CleanAction
	if st.orchestrator != nil {
		actions = st.orchestrator.CleanAll(ctx)
	}

	for name, srv := range st.mockServers {
		if err := srv.Close(); err != nil {
			warnf("closing mock server %s: %v", name, err)
		}
	}

	if err := s.sessions.Transition(key, session.StateStopped); err != nil {
		return errResult(err)
	}

	if err := s.sessions.Destroy(key); err != nil {
		warnf("destroying session %s: %v", key.String(), err)
	}
	s.dropState(key)

	return okResult(map[string]interface{}{"actions": actions})
}

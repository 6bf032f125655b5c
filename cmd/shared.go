package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"e2eforge/internal/config"
	"e2eforge/internal/mock"
	"e2eforge/internal/orchestrator"
	"e2eforge/internal/runtime"

	"github.com/jedib0t/go-pretty/v6/text"
)

// loadProjectOrDie loads and validates the project manifest at dir,
// returning a CLI-friendly error on any failure.
func loadProjectOrDie(dir string) (*config.Project, error) {
	project, cfgErrs, err := config.LoadProject(dir)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	if cfgErrs != nil && cfgErrs.HasErrors() {
		return nil, fmt.Errorf("invalid configuration:\n%s", cfgErrs.GetDetailedReport())
	}
	return project, nil
}

func projectServices(p *config.Project) []config.Service {
	if p.Service != nil {
		return append([]config.Service{*p.Service}, p.Services...)
	}
	return p.Services
}

func newOrchestrator(project *config.Project, eng string) (runtime.Runtime, *orchestrator.Orchestrator, error) {
	rt, err := runtime.New(eng)
	if err != nil {
		return nil, nil, fmt.Errorf("selecting runtime: %w", err)
	}
	orch, err := orchestrator.New(rt, project.Network.Name, projectServices(project))
	if err != nil {
		return nil, nil, fmt.Errorf("building topology: %w", err)
	}
	return rt, orch, nil
}

// startMocksForCLI starts every declared mock server and returns the
// http.Server handles keyed by mock name, for the caller to Close later.
func startMocksForCLI(project *config.Project) (map[string]*http.Server, error) {
	servers := make(map[string]*http.Server, len(project.Mocks))
	for name, m := range project.Mocks {
		store := mock.NewStore(name, m.OpenAPISpecPath)
		routes := routesForMock(name, m)
		handler := &mock.Handler{Mode: mock.Mode(m.Mode), Routes: routes, Store: store}
		srv := &http.Server{Addr: fmt.Sprintf(":%d", m.Port), Handler: handler}
		servers[name] = srv
		go func(srv *http.Server, name string) {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "%s mock %q exited: %v\n", text.FgRed.Sprint("error:"), name, err)
			}
		}(srv, name)
	}
	return servers, nil
}

// routesForMock merges a mock's OpenAPI-extracted routes with its manually
// declared ones, mirroring internal/toolcall's handling of the same
// manifest shape.
func routesForMock(name string, m config.MockConfig) []mock.Route {
	var routes []mock.Route
	if m.OpenAPISpecPath != "" {
		if doc, err := mock.LoadSpec(m.OpenAPISpecPath); err == nil {
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

package toolcall

import (
	"context"
	"fmt"
	"strings"

	"e2eforge/internal/mock"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) handleMockRequests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, err := keyFrom(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}
	mockName := stringArg(args, "mock")

	_, st, err := s.getSession(key)
	if err != nil {
		return errResult(err)
	}

	st.mu.Lock()
	store, ok := st.mockStores[mockName]
	st.mu.Unlock()
	if !ok {
		return failResult(CodeMockNotFound, fmt.Sprintf("no mock named %q is running", mockName))
	}

	return okResult(map[string]interface{}{"recordings": store.All()})
}

func (s *Server) handleMockGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, err := keyFrom(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}
	mockName := stringArg(args, "mock")
	method := strings.ToUpper(stringArg(args, "method"))
	path := stringArg(args, "path")

	sess, _, err := s.getSession(key)
	if err != nil {
		return errResult(err)
	}

	m, ok := sess.Config.Mocks[mockName]
	if !ok {
		return failResult(CodeMockNotFound, fmt.Sprintf("no mock named %q declared", mockName))
	}

	routes := routesForMock(mockName, m)

	route, _ := mock.MatchRoute(routes, method, path)
	if route == nil {
		return failResult(CodeMockNotFound, fmt.Sprintf("no route %s %s in mock %q", method, path, mockName))
	}

	spec, ok := route.Responses[route.DefaultStatus]
	if !ok {
		return failResult(CodeMockNotFound, "matched route has no default response")
	}

	body := spec.Example
	if body == nil && spec.Schema != nil {
		body = mock.GenerateResponse(spec.Schema, mock.GenerateOptions{})
	}

	return okResult(map[string]interface{}{"status": route.DefaultStatus, "body": body})
}

func (s *Server) handleMockValidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, err := keyFrom(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}
	mockName := stringArg(args, "mock")

	sess, _, err := s.getSession(key)
	if err != nil {
		return errResult(err)
	}

	m, ok := sess.Config.Mocks[mockName]
	if !ok {
		return failResult(CodeMockNotFound, fmt.Sprintf("no mock named %q declared", mockName))
	}

	routes := routesForMock(mockName, m)
	var manual []string
	for _, r := range m.Routes {
		manual = append(manual, strings.ToUpper(r.Method)+" "+r.Path)
	}

	missing := mock.ValidateCoverage(routes, manual)
	return okResult(map[string]interface{}{"missing": missing, "covered": len(missing) == 0})
}

package toolcall

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) handlePreflightCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.preflight == nil {
		return failResult(CodeInternalError, "preflight checker is not configured")
	}
	args := request.GetArguments()
	key, err := keyFrom(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}

	runID := ""
	if sess, err := s.sessions.GetOrThrow(key); err == nil {
		runID = sess.RunID
	}

	report := s.preflight.Run(ctx, key.ProjectPath, runID)
	return okResult(report)
}

func (s *Server) handleResetCircuit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	key, err := keyFrom(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}

	_, st, err := s.getSession(key)
	if err != nil {
		return errResult(err)
	}
	if st.circuit == nil {
		return failResult(CodeInternalError, "session has no circuit breaker configured")
	}

	st.circuit.Reset()
	return okResult(map[string]interface{}{"state": st.circuit.State().String()})
}

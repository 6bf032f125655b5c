package toolcall

import (
	"context"

	"e2eforge/internal/knowledge"

	"github.com/mark3labs/mcp-go/mcp"
)

func failureEventFrom(args map[string]interface{}) knowledge.FailureEvent {
	return knowledge.FailureEvent{
		CaseName: stringArg(args, "caseName"),
		Error:    stringArg(args, "error"),
	}
}

func (s *Server) handleDiagnose(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.knowledge == nil {
		return failResult(CodeInternalError, "knowledge engine is not configured")
	}
	args := request.GetArguments()
	if _, err := keyFrom(args); err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}

	diag := s.knowledge.Diagnose(failureEventFrom(args))
	return okResult(diag)
}

func (s *Server) handleReportFix(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.knowledge == nil {
		return failResult(CodeInternalError, "knowledge engine is not configured")
	}
	args := request.GetArguments()
	if _, err := keyFrom(args); err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}

	runID := stringArg(args, "runId")
	description := stringArg(args, "description")
	success := boolArg(args, "success")

	report, err := s.knowledge.ReportFix(failureEventFrom(args), runID, description, success)
	if err != nil {
		return errResult(err)
	}
	return okResult(report)
}

func (s *Server) handlePatterns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.knowledge == nil {
		return failResult(CodeInternalError, "knowledge engine is not configured")
	}
	args := request.GetArguments()
	if _, err := keyFrom(args); err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}

	event := failureEventFrom(args)
	category := knowledge.Classify(event)
	sig, _ := knowledge.Signature(category, event.CaseName, event.Error)

	pattern, ok, err := s.knowledge.Store.FindBySignature(sig)
	if err != nil {
		return errResult(err)
	}
	if !ok {
		pattern, ok, err = s.knowledge.Store.FindBuiltinByCategory(category)
		if err != nil {
			return errResult(err)
		}
	}
	if !ok {
		return okResult(map[string]interface{}{"category": category, "signature": sig, "found": false})
	}

	history, err := s.knowledge.Store.FixHistory(pattern.ID, 10)
	if err != nil {
		warnf("fetching fix history for pattern %s: %v", pattern.ID, err)
	}

	return okResult(map[string]interface{}{"found": true, "pattern": pattern, "fixHistory": history})
}

// Package toolcall implements the tool-call protocol surface (via
// mark3labs/mcp-go) that AI agents drive a project through: the same
// init/build/setup/run/clean lifecycle the dashboard and CLI expose,
// plus mock inspection, diagnostics, history and resilience controls.
// Every tool returns a structured envelope rather than a raw error, so
// a caller never has to parse Go error strings to branch on outcome.
package toolcall

import (
	"encoding/json"
	"errors"
	"time"

	"e2eforge/internal/config"
	"e2eforge/internal/history"
	"e2eforge/internal/mock"
	"e2eforge/internal/resilience"
	"e2eforge/internal/session"

	"github.com/mark3labs/mcp-go/mcp"
)

const subsystem = "ToolCall"

// ErrorCode is one of the stable, tool-call-facing error codes every
// handler classifies its failures into.
type ErrorCode string

const (
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionExists       ErrorCode = "SESSION_EXISTS"
	CodeInvalidState        ErrorCode = "INVALID_STATE"
	CodeConfigNotFound      ErrorCode = "CONFIG_NOT_FOUND"
	CodeConfigInvalid       ErrorCode = "CONFIG_INVALID"
	CodeContainerNotFound   ErrorCode = "CONTAINER_NOT_FOUND"
	CodeContainerNotRunning ErrorCode = "CONTAINER_NOT_RUNNING"
	CodeMocksNotRunning     ErrorCode = "MOCKS_NOT_RUNNING"
	CodeMockNotFound        ErrorCode = "MOCK_NOT_FOUND"
	CodeHistoryDisabled     ErrorCode = "HISTORY_DISABLED"
	CodeRunNotFound         ErrorCode = "RUN_NOT_FOUND"
	CodeCaseNotFound        ErrorCode = "CASE_NOT_FOUND"
	CodeCaseNotFailed       ErrorCode = "CASE_NOT_FAILED"
	CodeDifferentProjects   ErrorCode = "DIFFERENT_PROJECTS"
	CodeCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
	CodeDNSResolutionFailed ErrorCode = "DNS_RESOLUTION_FAILED"
	CodeNetworkUnreachable  ErrorCode = "NETWORK_UNREACHABLE"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

// ToolError is the "error" half of an envelope.
type ToolError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Envelope is the structured result every tool call answers with:
// {success, data|error, timestamp}.
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ToolError  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ok builds a successful envelope carrying data.
func ok(data interface{}) Envelope {
	return Envelope{Success: true, Data: data, Timestamp: time.Now()}
}

// fail builds a failed envelope with the given code and message.
func fail(code ErrorCode, message string, details map[string]interface{}) Envelope {
	return Envelope{
		Success:   false,
		Error:     &ToolError{Code: code, Message: message, Details: details},
		Timestamp: time.Now(),
	}
}

// classify maps a sentinel or typed error from the packages a tool
// handler drives into a stable ErrorCode. Anything unrecognized falls
// back to INTERNAL_ERROR.
func classify(err error) (ErrorCode, string) {
	var sessErr *session.Error
	if errors.As(err, &sessErr) {
		return ErrorCode(sessErr.Code), sessErr.Message
	}

	var configErrs *config.ConfigurationErrorCollection
	if errors.As(err, &configErrs) {
		return CodeConfigInvalid, configErrs.Error()
	}

	var loadErr *mock.LoadSpecError
	if errors.As(err, &loadErr) {
		return CodeConfigNotFound, loadErr.Error()
	}

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return CodeCircuitOpen, err.Error()
	case errors.Is(err, resilience.ErrDNSResolutionFailed):
		return CodeDNSResolutionFailed, err.Error()
	case errors.Is(err, resilience.ErrNetworkUnreachable):
		return CodeNetworkUnreachable, err.Error()
	case errors.Is(err, history.ErrNotFound):
		return CodeRunNotFound, err.Error()
	}

	return CodeInternalError, err.Error()
}

// envelopeResult marshals env to JSON and wraps it in an MCP tool
// result. A failed envelope is still a successful MCP call: the
// envelope itself, not the MCP transport, carries the failure.
func envelopeResult(env Envelope) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// failResult is a convenience for handlers that fail before they have
// a meaningful data payload to report.
func failResult(code ErrorCode, message string) (*mcp.CallToolResult, error) {
	return envelopeResult(fail(code, message, nil))
}

// errResult classifies err and wraps it as a failed envelope.
func errResult(err error) (*mcp.CallToolResult, error) {
	code, msg := classify(err)
	return envelopeResult(fail(code, msg, nil))
}

// okResult wraps data as a successful envelope.
func okResult(data interface{}) (*mcp.CallToolResult, error) {
	return envelopeResult(ok(data))
}

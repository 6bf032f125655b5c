package toolcall

import (
	"context"

	"e2eforge/internal/history"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) projectNameFor(args map[string]interface{}) (string, error) {
	key, err := keyFrom(args)
	if err != nil {
		return "", err
	}
	sess, err := s.sessions.GetOrThrow(key)
	if err == nil {
		return sess.Config.Project.Name, nil
	}
	return key.ProjectPath, nil
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return failResult(CodeHistoryDisabled, "no history store configured")
	}
	args := request.GetArguments()
	project, err := s.projectNameFor(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}
	days := intArg(args, "days", 0)

	runs, err := s.history.GetRunsForProject(project, history.RunQueryOptions{Days: days})
	if err != nil {
		return errResult(err)
	}
	return okResult(map[string]interface{}{"runs": runs})
}

func (s *Server) handleTrends(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return failResult(CodeHistoryDisabled, "no history store configured")
	}
	args := request.GetArguments()
	project, err := s.projectNameFor(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}
	days := intArg(args, "days", 14)
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}

	runs, err := s.history.GetRunsForProject(project, history.RunQueryOptions{Days: days})
	if err != nil {
		return errResult(err)
	}

	var totalPassed, totalCases int
	var totalMs int64
	for _, run := range runs {
		totalPassed += run.Passed
		totalCases += run.Passed + run.Failed + run.Skipped
		totalMs += run.DurationMs
	}
	rate := 0.0
	if totalCases > 0 {
		rate = float64(totalPassed) / float64(totalCases)
	}
	avgMs := int64(0)
	if len(runs) > 0 {
		avgMs = totalMs / int64(len(runs))
	}

	return okResult(map[string]interface{}{
		"days":          days,
		"runs":          len(runs),
		"passRate":      rate,
		"avgDurationMs": avgMs,
	})
}

func (s *Server) handleFlaky(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return failResult(CodeHistoryDisabled, "no history store configured")
	}
	args := request.GetArguments()
	project, err := s.projectNameFor(args)
	if err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}
	caseName := stringArg(args, "caseName")

	result, err := s.history.DetectFlaky(caseName, project, 0, "")
	if err != nil {
		return errResult(err)
	}
	return okResult(result)
}

func (s *Server) handleCompare(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return failResult(CodeHistoryDisabled, "no history store configured")
	}
	args := request.GetArguments()
	if _, err := keyFrom(args); err != nil {
		return failResult(CodeConfigNotFound, err.Error())
	}
	baseID := stringArg(args, "baseRunId")
	compareID := stringArg(args, "compareRunId")

	baseRun, err := s.history.GetRunByID(baseID)
	if err != nil {
		return errResult(err)
	}
	compareRun, err := s.history.GetRunByID(compareID)
	if err != nil {
		return errResult(err)
	}
	if baseRun.Project != compareRun.Project {
		return failResult(CodeDifferentProjects, "base and compare runs belong to different projects")
	}

	baseCases, err := s.history.GetCasesForRun(baseID)
	if err != nil {
		return errResult(err)
	}
	compareCases, err := s.history.GetCasesForRun(compareID)
	if err != nil {
		return errResult(err)
	}

	baseByName := make(map[string]history.TestCaseRunRecord, len(baseCases))
	for _, c := range baseCases {
		baseByName[c.CaseName] = c
	}
	compareByName := make(map[string]history.TestCaseRunRecord, len(compareCases))
	for _, c := range compareCases {
		compareByName[c.CaseName] = c
	}

	var newFailures, fixed, newCases, removedCases []string
	consistent := struct{ Passed, Failed, Skipped int }{}

	for name, cc := range compareByName {
		bc, existed := baseByName[name]
		if !existed {
			newCases = append(newCases, name)
			continue
		}
		switch {
		case bc.Status != "failed" && cc.Status == "failed":
			newFailures = append(newFailures, name)
		case bc.Status == "failed" && cc.Status != "failed":
			fixed = append(fixed, name)
		default:
			switch cc.Status {
			case "passed":
				consistent.Passed++
			case "failed":
				consistent.Failed++
			case "skipped":
				consistent.Skipped++
			}
		}
	}
	for name := range baseByName {
		if _, ok := compareByName[name]; !ok {
			removedCases = append(removedCases, name)
		}
	}

	return okResult(map[string]interface{}{
		"baseRun":      baseRun,
		"compareRun":   compareRun,
		"newFailures":  newFailures,
		"fixed":        fixed,
		"consistent":   consistent,
		"newCases":     newCases,
		"removedCases": removedCases,
	})
}

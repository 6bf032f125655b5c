package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"e2eforge/internal/config"
	"e2eforge/internal/history"
	"e2eforge/internal/reporter"
	"e2eforge/internal/retry"
	"e2eforge/internal/runner"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var runSuiteID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run declared test suites against a running setup",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runSuiteID, "suite", "", "run only the suite with this id")
}

// suiteRunFunc adapts a registered runner's event channel into
// retry.ParallelSuiteExecutor's RunFunc contract.
func suiteRunFunc(registry *runner.Registry) retry.RunFunc {
	return func(ctx context.Context, suite interface{}, options retry.SuiteOptions, emit func(kind string, payload interface{})) (interface{}, error) {
		def, ok := suite.(config.TestSuiteDef)
		if !ok {
			return nil, fmt.Errorf("unexpected suite type %T", suite)
		}
		r, ok := registry.Get(def.Runner)
		if !ok {
			return nil, fmt.Errorf("no runner registered for %q", def.Runner)
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

func runRun(cmd *cobra.Command, args []string) error {
	project, err := loadProjectOrDie(projectPath)
	if err != nil {
		return err
	}

	suites := project.Tests.Suites
	if runSuiteID != "" {
		var match *config.TestSuiteDef
		for i := range suites {
			if suites[i].ID == runSuiteID {
				match = &suites[i]
				break
			}
		}
		if match == nil {
			return fmt.Errorf("no suite with id %q", runSuiteID)
		}
		suites = []config.TestSuiteDef{*match}
	}
	if len(suites) == 0 {
		return fmt.Errorf("project declares no test suites")
	}

	mocks, err := startMocksForCLI(project)
	if err != nil {
		return fmt.Errorf("starting mocks: %w", err)
	}
	defer func() {
		for _, srv := range mocks {
			_ = srv.Close()
		}
	}()

	registry := runner.NewRegistry()
	_ = registry.Register(runner.NewHTTPRunner(&http.Client{Timeout: 30 * time.Second}))
	_ = registry.Register(runner.NewShellRunner(""))
	_ = registry.Register(runner.NewProcessRunner())

	configs := make([]retry.SuiteConfig, len(suites))
	for i, def := range suites {
		configs[i] = retry.SuiteConfig{Suite: def, Options: retry.SuiteOptions{Variables: map[string]interface{}{}}}
	}

	concurrency := project.Parallel.Concurrency
	executor := &retry.ParallelSuiteExecutor{Concurrency: concurrency}
	started := time.Now()
	results := executor.Execute(cmd.Context(), configs, suiteRunFunc(registry))

	combined := reporter.Report{GeneratedAt: time.Now()}
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "%s suite failed: %v\n", text.FgRed.Sprint("error:"), r.Err)
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

	if project.History.Enabled && project.History.Storage != "" {
		recordHistory(project, combined, started)
	}

	printReport(combined)

	if combined.TotalFailed > 0 {
		return fmt.Errorf("%d test case(s) failed", combined.TotalFailed)
	}
	return nil
}

func recordHistory(project *config.Project, report reporter.Report, started time.Time) {
	store, err := history.Open(project.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s opening history store: %v\n", text.FgYellow.Sprint("warn:"), err)
		return
	}
	defer store.Close()

	recorder := history.NewRecorder(store, project.Project.Name, "", history.RetentionPolicy{
		FlakyWindow: project.History.FlakyWindow,
	})
	defer recorder.Stop()
	recorder.Record(report, started, time.Now())
}

func printReport(report reporter.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("SUITE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("PASSED"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("FAILED"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("SKIPPED"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("DURATION"),
	})
	for _, s := range report.Suites {
		t.AppendRow(table.Row{
			s.Name, text.FgGreen.Sprint(s.Passed), text.FgRed.Sprint(s.Failed), s.Skipped,
			s.Duration.Round(time.Millisecond),
		})
	}
	t.Render()

	fmt.Printf("\n%s %s passed, %s failed, %d skipped (%d total)\n",
		text.Colors{text.FgHiMagenta, text.Bold}.Sprint("Summary:"),
		text.FgGreen.Sprint(report.TotalPassed),
		text.FgRed.Sprint(report.TotalFailed),
		report.TotalSkipped, report.TotalCases)
}

package cmd

import (
	"fmt"
	"os"
	"time"

	"e2eforge/internal/orchestrator"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var buildEngine string

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build every service's image",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVar(&buildEngine, "engine", "docker", "container runtime engine")
}

func runBuild(cmd *cobra.Command, args []string) error {
	project, err := loadProjectOrDie(projectPath)
	if err != nil {
		return err
	}

	_, orch, err := newOrchestrator(project, buildEngine)
	if err != nil {
		return err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Building images..."
	s.Start()
	results := orch.BuildAll(cmd.Context())
	s.Stop()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("SERVICE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("IMAGE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("STATUS"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("DURATION"),
	})

	anyFailed := false
	for _, r := range results {
		status := text.FgGreen.Sprint(string(r.Status))
		if r.Status != orchestrator.BuildSuccess {
			anyFailed = true
			status = text.FgRed.Sprint(string(r.Status))
		}
		t.AppendRow(table.Row{r.Name, r.Image, status, r.Duration.Round(time.Millisecond)})
	}
	t.Render()

	if anyFailed {
		for _, r := range results {
			if r.Status != orchestrator.BuildSuccess && r.Error != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", text.FgRed.Sprint("error:"), r.Name, r.Error)
			}
		}
		return fmt.Errorf("one or more images failed to build")
	}
	return nil
}

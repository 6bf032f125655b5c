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

var (
	setupEngine  string
	setupTimeout time.Duration
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Start every service and mock container in dependency order",
	Args:  cobra.NoArgs,
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().StringVar(&setupEngine, "engine", "docker", "container runtime engine")
	setupCmd.Flags().DurationVar(&setupTimeout, "health-timeout", 120*time.Second, "per-container health check timeout")
}

func runSetup(cmd *cobra.Command, args []string) error {
	project, err := loadProjectOrDie(projectPath)
	if err != nil {
		return err
	}

	_, orch, err := newOrchestrator(project, setupEngine)
	if err != nil {
		return err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Starting containers..."
	s.Start()
	results, err := orch.StartAll(cmd.Context(), setupTimeout)
	s.Stop()
	if err != nil {
		return fmt.Errorf("starting containers: %w", err)
	}

	st := &projectState{
		RunID:      fmt.Sprintf("run-%d", time.Now().UnixNano()),
		Network:    project.Network.Name,
		Containers: map[string]string{},
		MockPorts:  map[string]int{},
	}
	for _, r := range results {
		if r.ContainerID != "" {
			st.Containers[r.Name] = r.ContainerID
		}
	}
	for name, m := range project.Mocks {
		st.MockPorts[name] = m.Port
	}
	if err := saveState(projectPath, clientID, st); err != nil {
		return fmt.Errorf("saving project state: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("SERVICE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("CONTAINER"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("STATUS"),
	})

	anyFailed := false
	for _, r := range results {
		status := text.FgGreen.Sprint(string(r.Status))
		switch r.Status {
		case orchestrator.StartFailed, orchestrator.StartUnhealthy:
			anyFailed = true
			status = text.FgRed.Sprint(string(r.Status))
		}
		id := r.ContainerID
		if len(id) > 12 {
			id = id[:12]
		}
		t.AppendRow(table.Row{r.Name, id, status})
	}
	t.Render()

	if anyFailed {
		return fmt.Errorf("one or more services failed to start healthy")
	}
	return nil
}

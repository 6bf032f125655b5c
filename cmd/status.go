package cmd

import (
	"fmt"
	"os"

	"e2eforge/internal/runtime"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var statusEngine string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the lifecycle state of containers from the last setup",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusEngine, "engine", "docker", "container runtime engine")
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := loadState(projectPath, clientID)
	if err != nil {
		return fmt.Errorf("loading project state: %w", err)
	}
	if len(st.Containers) == 0 {
		fmt.Println("no containers recorded; run \"e2eforge setup\" first")
		return nil
	}

	rt, err := runtime.New(statusEngine)
	if err != nil {
		return fmt.Errorf("selecting runtime: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("SERVICE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("CONTAINER"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("STATUS"),
	})

	for name, id := range st.Containers {
		status, err := rt.Status(cmd.Context(), id)
		shown := string(status)
		if err != nil {
			shown = text.FgRed.Sprint("unreachable")
		} else if status == runtime.StatusRunning {
			shown = text.FgGreen.Sprint(shown)
		} else {
			shown = text.FgYellow.Sprint(shown)
		}
		displayID := id
		if len(displayID) > 12 {
			displayID = displayID[:12]
		}
		t.AppendRow(table.Row{name, displayID, shown})
	}
	t.Render()
	return nil
}

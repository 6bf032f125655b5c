package cmd

import (
	"fmt"
	"os"
	"sync"

	"e2eforge/internal/runtime"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var cleanEngine string

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Stop and remove every container and network from the last setup",
	Args:  cobra.NoArgs,
	RunE:  runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().StringVar(&cleanEngine, "engine", "docker", "container runtime engine")
}

type cleanAction struct {
	Resource string
	Status   string
	Error    error
}

func runClean(cmd *cobra.Command, args []string) error {
	st, err := loadState(projectPath, clientID)
	if err != nil {
		return fmt.Errorf("loading project state: %w", err)
	}
	if len(st.Containers) == 0 && st.Network == "" {
		fmt.Println("nothing to clean")
		return nil
	}

	rt, err := runtime.New(cleanEngine)
	if err != nil {
		return fmt.Errorf("selecting runtime: %w", err)
	}

	ctx := cmd.Context()
	actions := make([]cleanAction, 0, len(st.Containers)+1)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, id := range st.Containers {
		wg.Add(1)
		go func(name, id string) {
			defer wg.Done()
			status := "removed"
			_ = rt.StopContainer(ctx, id)
			removeErr := rt.RemoveContainer(ctx, id)
			if removeErr != nil {
				status = "failed"
			}
			mu.Lock()
			actions = append(actions, cleanAction{Resource: name, Status: status, Error: removeErr})
			mu.Unlock()
		}(name, id)
	}
	wg.Wait()

	if st.Network != "" {
		status := "removed"
		netErr := rt.RemoveNetwork(ctx, st.Network)
		if netErr != nil {
			status = "failed"
		}
		actions = append(actions, cleanAction{Resource: st.Network, Status: status, Error: netErr})
	}

	printCleanActions(actions)

	if err := clearState(projectPath, clientID); err != nil {
		return fmt.Errorf("clearing project state: %w", err)
	}
	return nil
}

func printCleanActions(actions []cleanAction) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("RESOURCE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("STATUS"),
	})
	for _, a := range actions {
		status := text.FgGreen.Sprint(a.Status)
		if a.Error != nil {
			status = text.FgRed.Sprint(a.Status)
		}
		t.AppendRow(table.Row{a.Resource, status})
	}
	t.Render()

	for _, a := range actions {
		if a.Error != nil {
			fmt.Fprintf(os.Stderr, "%s cleaning %s: %v\n", text.FgRed.Sprint("error:"), a.Resource, a.Error)
		}
	}
}

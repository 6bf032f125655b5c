package cmd

import (
	"fmt"
	"io"
	"os"

	"e2eforge/internal/runtime"

	"github.com/spf13/cobra"
)

var logsEngine string

var logsCmd = &cobra.Command{
	Use:   "logs [service]",
	Short: "Print a service's container logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().StringVar(&logsEngine, "engine", "docker", "container runtime engine")
}

func runLogs(cmd *cobra.Command, args []string) error {
	service := args[0]

	st, err := loadState(projectPath, clientID)
	if err != nil {
		return fmt.Errorf("loading project state: %w", err)
	}
	containerID, ok := st.Containers[service]
	if !ok {
		return fmt.Errorf("no recorded container for service %q; run \"e2eforge setup\" first", service)
	}

	rt, err := runtime.New(logsEngine)
	if err != nil {
		return fmt.Errorf("selecting runtime: %w", err)
	}

	logs, err := rt.GetContainerLogs(cmd.Context(), containerID)
	if err != nil {
		return fmt.Errorf("fetching logs for %q: %w", service, err)
	}
	defer logs.Close()

	_, err = io.Copy(os.Stdout, logs)
	return err
}

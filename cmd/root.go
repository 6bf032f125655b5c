package cmd

import (
	"os"

	"e2eforge/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands, per the tool-call protocol's exit-code
// contract: 0 success, 1 any test failure or fatal operational error.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

var (
	projectPath string
	clientID    string
	debug       bool
)

// rootCmd is the entry point when e2eforge is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "e2eforge",
	Short: "Container-based end-to-end test orchestration",
	Long: `e2eforge builds and starts the containers a test suite needs, runs
the suite against them, and tears everything back down.

A typical session:

  e2eforge build  --project ./examples/checkout
  e2eforge setup  --project ./examples/checkout
  e2eforge run    --project ./examples/checkout
  e2eforge clean  --project ./examples/checkout`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelInfo
		if debug {
			level = logging.LevelDebug
		}
		logging.InitForCLI(level, os.Stderr)
	},
}

// SetVersion injects the build-time version into the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI, exiting the process with a code derived from the
// outcome.
func Execute() {
	rootCmd.SetVersionTemplate("e2eforge version {{.Version}}\n")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectPath, "project", ".", "path to the project directory")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "default", "isolates state across concurrent callers for the same project")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
}

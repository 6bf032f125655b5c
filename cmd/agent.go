package cmd

import (
	"fmt"
	"time"

	"e2eforge/internal/diagnostics"
	"e2eforge/internal/eventbus"
	"e2eforge/internal/history"
	"e2eforge/internal/knowledge"
	"e2eforge/internal/session"
	"e2eforge/internal/toolcall"

	"github.com/spf13/cobra"
)

var (
	agentEngine        string
	agentHistoryPath   string
	agentKnowledgePath string
	agentSessionTTL    time.Duration
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Serve the tool-call protocol over stdio for MCP clients",
	Args:  cobra.NoArgs,
	RunE:  runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().StringVar(&agentEngine, "engine", "docker", "container runtime engine")
	agentCmd.Flags().StringVar(&agentHistoryPath, "history-path", "", "sqlite dsn for run history; disabled when empty")
	agentCmd.Flags().StringVar(&agentKnowledgePath, "knowledge-path", "", "sqlite dsn for the failure-pattern knowledge base; disabled when empty")
	agentCmd.Flags().DurationVar(&agentSessionTTL, "session-ttl", 2*time.Hour, "idle session lifetime before the sweeper reclaims it")
}

func runAgent(cmd *cobra.Command, args []string) error {
	bus := eventbus.New()

	var historyStore *history.Store
	if agentHistoryPath != "" {
		store, err := history.Open(agentHistoryPath)
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer store.Close()
		historyStore = store
	}

	var knowledgeEngine *knowledge.DiagnosticsEngine
	if agentKnowledgePath != "" {
		store, err := knowledge.Open(agentKnowledgePath)
		if err != nil {
			return fmt.Errorf("opening knowledge store: %w", err)
		}
		defer store.Close()
		if err := knowledge.SeedBuiltins(store); err != nil {
			return fmt.Errorf("seeding built-in knowledge patterns: %w", err)
		}
		knowledgeEngine = knowledge.NewEngine(store)
	}

	sessions := session.NewManager(bus, agentSessionTTL, 5*time.Minute)
	defer sessions.Stop()

	srv := toolcall.New(sessions, toolcall.Options{
		Engine:    agentEngine,
		Bus:       bus,
		History:   historyStore,
		Knowledge: knowledgeEngine,
		Collector: &diagnostics.Collector{},
	})

	return srv.Start(cmd.Context())
}

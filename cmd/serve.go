package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"e2eforge/internal/dashboard"
	"e2eforge/internal/eventbus"
	"e2eforge/internal/history"
	"e2eforge/internal/limiter"
	"e2eforge/internal/queue"
	"e2eforge/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	servePort           int
	serveHistoryPath    string
	serveMaxConcurrency int
	serveCapacity       int64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard HTTP/SSE server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "dashboard listen port")
	serveCmd.Flags().StringVar(&serveHistoryPath, "history-path", "", "sqlite dsn for run history; disabled when empty")
	serveCmd.Flags().IntVar(&serveMaxConcurrency, "max-concurrency", 4, "max concurrently running queued tasks")
	serveCmd.Flags().Int64Var(&serveCapacity, "resource-capacity", 100, "global resource capacity units")
}

func runServe(cmd *cobra.Command, args []string) error {
	bus := eventbus.New()

	var historyStore *history.Store
	if serveHistoryPath != "" {
		store, err := history.Open(serveHistoryPath)
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer store.Close()
		historyStore = store
	}

	taskQueue := queue.New(bus, serveMaxConcurrency, 256)
	resourceLimiter := limiter.New(serveCapacity)

	dash := dashboard.New(dashboard.Options{
		Bus:     bus,
		History: historyStore,
		Queue:   taskQueue,
		Limiter: resourceLimiter,
	})
	defer dash.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", servePort),
		Handler: dash.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("serve", "dashboard listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("dashboard server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

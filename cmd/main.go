package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/glucoscore/internal/adapters/http/api"
	"github.com/okian/glucoscore/internal/adapters/http/site"
	"github.com/okian/glucoscore/internal/adapters/http/swagger"
	"github.com/okian/glucoscore/internal/adapters/repository"
	app "github.com/okian/glucoscore/internal/app"
	"github.com/okian/glucoscore/internal/config"
	"github.com/okian/glucoscore/pkg/logger"
	"github.com/okian/glucoscore/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Logs go to stderr so record and predict can print JSON on stdout.
	if err := logger.InitWith(os.Stderr, logger.FormatText); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the CLI. Without a subcommand it serves HTTP.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "glucoscore",
		Short:         "Record exam observations and predict scores from glucose readings",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	root.PersistentFlags().String("config", "", "YAML config file (overrides "+config.EnvConfigFile+")")
	root.PersistentFlags().String("store-driver", "", "observation store: memory, sqlite or bolt")
	root.PersistentFlags().String("store-path", "", "database file for the sqlite and bolt drivers")

	root.AddCommand(
		newServeCmd(),
		newRecordCmd(),
		newPredictCmd(),
		newMigrateCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

// loadConfig applies CLI overrides on top of config.Load and configures logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	ctx := cmd.Context()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv(config.EnvConfigFile, path); err != nil {
			return nil, fmt.Errorf("set config path: %w", err)
		}
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if driver, _ := cmd.Flags().GetString("store-driver"); driver != "" {
		cfg.StoreDriver = driver
	}
	if path, _ := cmd.Flags().GetString("store-path"); path != "" {
		cfg.StorePath = path
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.LogFormat != logger.FormatText {
		if err := logger.InitWith(os.Stderr, cfg.LogFormat); err != nil {
			return nil, fmt.Errorf("failed to initialize logging: %w", err)
		}
	}
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

// openService opens the configured store and starts a service over it.
// The returned cleanup stops the service and closes the store.
func openService(ctx context.Context, cfg *config.Config) (*app.Service, func(), error) {
	log := logger.Get()

	store, err := repository.Open(ctx, cfg.StoreDriver, cfg.StorePath,
		repository.WithLogger(log.Named("store")),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	log.Info(ctx, "observation store opened",
		logger.String("driver", cfg.StoreDriver),
		logger.String("path", cfg.StorePath),
	)

	svc := app.New(
		app.WithLogger(log),
		app.WithStore(store),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithMaxTrainingRows(cfg.MaxTrainingRows),
	)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to start service: %w", err)
	}

	cleanup := func() {
		svc.Stop()
		if err := store.Close(); err != nil {
			log.Warn(context.Background(), "failed to close store", logger.Error(err))
		}
	}
	return svc, cleanup, nil
}

// newHandler registers every route and wraps the mux in the middleware chain.
func newHandler(ctx context.Context, svc *app.Service, gzip bool) http.Handler {
	mux := http.NewServeMux()

	// Register API docs at /api-docs and /openapi.yaml
	swagger.Register(ctx, mux)

	// Register business API routes with the service dependency.
	api.NewServer(svc, svc).Register(ctx, mux)

	// Front end at /
	site.Register(ctx, mux)

	var h http.Handler = mux
	if gzip {
		h = api.Compress(h)
	}
	return api.RequestID(h)
}

func runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	loggerInstance := logger.Get()

	svc, cleanup, err := openService(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if metrics.Enabled() {
		go startSystemMetricsUpdater(ctx)
		go startServiceMetricsUpdater(ctx, svc)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, svc, cfg.Gzip),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or a listener failure
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	loggerInstance.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(ctx, "server stopped")
	return nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)

	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics refreshes gauges derived from service stats.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()

	if n, ok := stats["observations"].(int); ok {
		metrics.UpdateObservationCount(n)
	}
	if keys, ok := stats["idempotencyKeys"].(int64); ok {
		metrics.UpdateDedupeSize(keys)
	}
}

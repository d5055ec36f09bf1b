// Package main provides the long-running backtest service:
// - HTTP API (gin): run backtests, fetch reports and strategy histories
// - WebSocket stream of finished runs
// - Strategy config hot reload
// - Optional scheduled runs of every loaded strategy
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"factor-lab/internal/api"
	"factor-lab/internal/config"
	"factor-lab/internal/observability"
	"factor-lab/internal/orchestrator"
	"factor-lab/internal/storage/backend"
	"factor-lab/internal/stream"
	"factor-lab/internal/verification"
)

// Server holds all components of the service.
type Server struct {
	// Configuration
	addr             string
	reloadInterval   time.Duration
	scheduleInterval time.Duration

	// Components
	loader *config.Loader
	orch   *orchestrator.Orchestrator
	hub    *stream.Hub
	http   *http.Server
	logger *log.Logger

	// State
	mu              sync.Mutex
	scheduleRunning bool
	scheduleRuns    int
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	addr := flag.String("addr", envOr("API_ADDR", ":8080"), "HTTP listen address")
	strategyDir := flag.String("strategy-dir", envOr("STRATEGY_DIR", "strategies"), "Directory of strategy YAML files")
	reloadInterval := flag.Duration("reload-interval", config.DefaultReloadInterval, "Strategy config reload interval")
	scheduleInterval := flag.Duration("schedule-interval", 0, "Run every strategy on this interval (0 disables)")
	parallelism := flag.Int("parallelism", 0, "Max offsets simulated concurrently (0 = GOMAXPROCS)")

	barStore := flag.String("bars", envOr("BAR_STORE", backend.BarsClickHouse), "Bar store: csv, parquet, clickhouse")
	csvPath := flag.String("csv", os.Getenv("BARS_CSV"), "Bar CSV file for --bars=csv")
	parquetDir := flag.String("parquet-dir", os.Getenv("PARQUET_DIR"), "Parquet data directory for --bars=parquet")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	reportStore := flag.String("reports", envOr("REPORT_STORE", backend.ReportsPostgres), "Report store: memory, sqlite, postgres")
	sqlitePath := flag.String("sqlite-path", os.Getenv("SQLITE_PATH"), "SQLite database for --reports=sqlite")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	migrate := flag.Bool("migrate", true, "Apply embedded migrations on startup")
	verbose := flag.Bool("verbose", false, "Log pipeline progress")
	corsOrigins := flag.String("cors-origins", os.Getenv("CORS_ORIGINS"), "Comma-separated origins allowed to call the API")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if os.Getenv("API_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Load strategy configs
	loader := config.NewLoader(*strategyDir, log.New(os.Stdout, "[config] ", log.LstdFlags)).
		WithMetrics(observability.DefaultMetrics)
	if err := loader.Load(); err != nil {
		logger.Fatalf("load strategies: %v", err)
	}
	logger.Printf("Loaded strategies: %v", loader.Names())

	// Create stores
	stores, cleanup, err := backend.Open(ctx, backend.Config{
		Bars:          *barStore,
		Reports:       *reportStore,
		CSVPath:       *csvPath,
		ParquetDir:    *parquetDir,
		ClickhouseDSN: *clickhouseDSN,
		SQLitePath:    *sqlitePath,
		PostgresDSN:   *postgresDSN,
		Migrate:       *migrate,
	}, logger)
	defer cleanup()
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}

	hub := stream.NewHub(nil, observability.DefaultMetrics, log.New(os.Stdout, "[stream] ", log.LstdFlags))
	orch := orchestrator.New(orchestrator.Options{
		Configs:     loader,
		BarStore:    stores.Bars,
		ReportStore: stores.Reports,
		Publisher:   hub,
		Metrics:     observability.DefaultMetrics,
		Logger:      log.New(os.Stdout, "[orchestrator] ", log.LstdFlags),
		Parallelism: *parallelism,
		Verbose:     *verbose,
	})
	router := api.NewRouter(api.Options{
		Runner:         orch,
		Strategies:     loader,
		Reports:        stores.Reports,
		Verifier: verification.NewReplayVerifier(verification.ReplayVerifierOptions{
			ReportStore: stores.Reports,
			BarStore:    stores.Bars,
			Parallelism: *parallelism,
		}),
		CORSOrigins:    splitList(*corsOrigins),
		Stream:         hub,
		Metrics:        observability.DefaultMetrics,
		MetricsHandler: observability.Handler(),
		Logger:         log.New(os.Stdout, "[api] ", log.LstdFlags),
	})

	server := &Server{
		addr:             *addr,
		reloadInterval:   *reloadInterval,
		scheduleInterval: *scheduleInterval,
		loader:           loader,
		orch:             orch,
		hub:              hub,
		http:             &http.Server{Addr: *addr, Handler: router},
		logger:           logger,
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// Run starts all components and blocks until ctx is cancelled or one fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting server...")

	// Create error channel for goroutines
	errCh := make(chan error, 2)

	// Reload strategy configs in background
	go s.loader.Watch(ctx, s.reloadInterval)

	// Start scheduler in background
	if s.scheduleInterval > 0 {
		go func() {
			err := s.runScheduler(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("scheduler: %w", err)
			}
		}()
	}

	// Start HTTP server
	go func() {
		s.logger.Printf("Starting HTTP server on %s", s.addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Wait for context cancellation or error
	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Printf("HTTP shutdown: %v", err)
	}
	return runErr
}

// runScheduler runs every strategy on schedule.
func (s *Server) runScheduler(ctx context.Context) error {
	s.logger.Printf("Starting scheduler (interval: %v)...", s.scheduleInterval)

	// Run immediately on start
	s.runAll(ctx)

	ticker := time.NewTicker(s.scheduleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

// runAll backtests every loaded strategy once.
func (s *Server) runAll(ctx context.Context) {
	s.mu.Lock()
	if s.scheduleRunning {
		s.mu.Unlock()
		s.logger.Println("Scheduled run already in progress, skipping...")
		return
	}
	s.scheduleRunning = true
	s.scheduleRuns++
	round := s.scheduleRuns
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.scheduleRunning = false
		s.mu.Unlock()
	}()

	start := time.Now()
	var failed int
	names := s.loader.Names()
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		report, err := s.orch.Run(ctx, orchestrator.Request{Strategy: name})
		if err != nil {
			failed++
			s.logger.Printf("Scheduled run %s failed: %v", name, err)
			continue
		}
		s.logger.Printf("Scheduled run %s stored as %s", name, report.RunID)
	}
	s.logger.Printf("Scheduled round %d completed in %v: %d strategies, %d failed",
		round, time.Since(start), len(names), failed)
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

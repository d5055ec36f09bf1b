package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"factor-lab/internal/ingestion"
	"factor-lab/internal/observability"
	"factor-lab/internal/storage/backend"
)

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Bar CSV file to import (required)")
	barStore := flag.String("bars", envOr("BAR_STORE", backend.BarsParquet), "Target bar store: parquet, clickhouse")
	parquetDir := flag.String("parquet-dir", os.Getenv("PARQUET_DIR"), "Parquet data directory")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	migrate := flag.Bool("migrate", true, "Apply ClickHouse migrations before import")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	if *csvPath == "" {
		logger.Fatal("--csv is required")
	}
	if *barStore != backend.BarsParquet && *barStore != backend.BarsClickHouse {
		logger.Fatalf("Invalid --bars: %s. Must be parquet or clickhouse", *barStore)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	stores, cleanup, err := backend.Open(ctx, backend.Config{
		Bars:          *barStore,
		ParquetDir:    *parquetDir,
		ClickhouseDSN: *clickhouseDSN,
		Migrate:       *migrate,
	}, logger)
	defer cleanup()
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}

	start := time.Now()
	manager := ingestion.NewManager(ingestion.NewCSVSource(*csvPath), stores.Bars)
	n, err := manager.Ingest(ctx)
	observability.DefaultMetrics.RecordDBQuery(*barStore, "insert_bars", time.Since(start).Seconds(), err)
	if err != nil {
		logger.Fatalf("ingest %s: %v", *csvPath, err)
	}

	symbols, err := stores.Bars.ListSymbols(ctx)
	if err != nil {
		logger.Fatalf("list symbols: %v", err)
	}
	logger.Printf("Imported %d bars from %s in %v (%d symbols in store)", n, *csvPath, time.Since(start), len(symbols))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

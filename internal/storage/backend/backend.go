// Package backend opens the bar and report stores selected by configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"factor-lab/internal/ingestion"
	"factor-lab/internal/storage"
	chstore "factor-lab/internal/storage/clickhouse"
	"factor-lab/internal/storage/memory"
	"factor-lab/internal/storage/migrations"
	pqstore "factor-lab/internal/storage/parquet"
	pgstore "factor-lab/internal/storage/postgres"
	sqlitestore "factor-lab/internal/storage/sqlite"
)

// Bar store kinds.
const (
	BarsMemory     = "memory"
	BarsCSV        = "csv"
	BarsParquet    = "parquet"
	BarsClickHouse = "clickhouse"
)

// Report store kinds.
const (
	ReportsMemory   = "memory"
	ReportsSQLite   = "sqlite"
	ReportsPostgres = "postgres"
)

// ErrUnknownBackend is returned for an unsupported store kind.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Config selects and parameterises the stores.
type Config struct {
	Bars    string // memory, csv, parquet, clickhouse
	Reports string // memory, sqlite, postgres

	CSVPath       string // bars=csv: file loaded into memory
	ParquetDir    string // bars=parquet
	ClickhouseDSN string // bars=clickhouse
	SQLitePath    string // reports=sqlite
	PostgresDSN   string // reports=postgres

	// Migrate applies embedded migrations before use.
	Migrate bool
}

// Stores holds the opened stores.
type Stores struct {
	Bars    storage.BarStore
	Reports storage.ReportStore
}

// Open creates the configured stores. The returned cleanup closes every
// connection and is safe to call when Open fails. A nil logger discards output.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (*Stores, func(), error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	bars, closeBars, err := openBars(ctx, cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, closeBars)

	reports, closeReports, err := openReports(ctx, cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, closeReports)

	return &Stores{Bars: bars, Reports: reports}, cleanup, nil
}

func openBars(ctx context.Context, cfg Config, logger *log.Logger) (storage.BarStore, func(), error) {
	noop := func() {}
	switch strings.ToLower(cfg.Bars) {
	case BarsMemory, "":
		return memory.NewBarStore(), noop, nil

	case BarsCSV:
		if cfg.CSVPath == "" {
			return nil, noop, fmt.Errorf("bars=csv requires a CSV path")
		}
		store := memory.NewBarStore()
		n, err := ingestion.NewManager(ingestion.NewCSVSource(cfg.CSVPath), store).Ingest(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("load %s: %w", cfg.CSVPath, err)
		}
		logger.Printf("Loaded %d bars from %s", n, cfg.CSVPath)
		return store, noop, nil

	case BarsParquet:
		if cfg.ParquetDir == "" {
			return nil, noop, fmt.Errorf("bars=parquet requires a data directory")
		}
		return pqstore.NewBarStore(cfg.ParquetDir), noop, nil

	case BarsClickHouse:
		if cfg.ClickhouseDSN == "" {
			return nil, noop, fmt.Errorf("bars=clickhouse requires a DSN")
		}
		var (
			conn *chstore.Conn
			err  error
		)
		if cfg.Migrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		} else {
			conn, err = chstore.NewConn(ctx, cfg.ClickhouseDSN)
		}
		if err != nil {
			return nil, noop, fmt.Errorf("connect to clickhouse: %w", err)
		}
		return chstore.NewBarStore(conn), func() { conn.Close() }, nil
	}
	return nil, noop, fmt.Errorf("%w: bars=%s", ErrUnknownBackend, cfg.Bars)
}

func openReports(ctx context.Context, cfg Config, logger *log.Logger) (storage.ReportStore, func(), error) {
	noop := func() {}
	switch strings.ToLower(cfg.Reports) {
	case ReportsMemory, "":
		return memory.NewReportStore(), noop, nil

	case ReportsSQLite:
		if cfg.SQLitePath == "" {
			return nil, noop, fmt.Errorf("reports=sqlite requires a database path")
		}
		store, err := sqlitestore.NewReportStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite: %w", err)
		}
		return store, func() { store.Close() }, nil

	case ReportsPostgres:
		if cfg.PostgresDSN == "" {
			return nil, noop, fmt.Errorf("reports=postgres requires a DSN")
		}
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("connect to postgres: %w", err)
		}
		if cfg.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, noop, fmt.Errorf("postgres migrations: %w", err)
			}
			logger.Println("Postgres migrations applied")
		}
		return pgstore.NewReportStore(pool), pool.Close, nil
	}
	return nil, noop, fmt.Errorf("%w: reports=%s", ErrUnknownBackend, cfg.Reports)
}

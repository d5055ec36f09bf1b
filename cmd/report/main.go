package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"factor-lab/internal/reporting"
	"factor-lab/internal/storage/backend"
)

func main() {
	// Parse flags
	strategyName := flag.String("strategy", "", "Strategy name (required)")
	outputDir := flag.String("output-dir", "", "Write one Markdown and one CSV file per run into this directory")
	reportStore := flag.String("reports", envOr("REPORT_STORE", backend.ReportsSQLite), "Report store: sqlite, postgres")
	sqlitePath := flag.String("sqlite-path", os.Getenv("SQLITE_PATH"), "SQLite database path")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	flag.Parse()

	ctx := context.Background()

	if *strategyName == "" {
		fmt.Fprintln(os.Stderr, "Error: --strategy is required")
		os.Exit(1)
	}

	stores, cleanup, err := backend.Open(ctx, backend.Config{
		Reports:     *reportStore,
		SQLitePath:  *sqlitePath,
		PostgresDSN: *postgresDSN,
	}, nil)
	defer cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to report store: %v\n", err)
		os.Exit(1)
	}

	history, err := reporting.NewGenerator(stores.Reports).Generate(ctx, *strategyName)
	if errors.Is(err, reporting.ErrNoRuns) {
		fmt.Fprintf(os.Stderr, "No runs stored for %s\n", *strategyName)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating history: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Strategy: %s (%d runs)\n", history.StrategyName, len(history.Runs))
	fmt.Print(reporting.RenderSummaryTable(history))
	if history.Best != nil {
		fmt.Printf("Best run: %s\n", history.Best.RunID)
	}

	if *outputDir == "" {
		return
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}
	for _, run := range history.Runs {
		report, err := stores.Reports.GetByID(ctx, run.RunID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading run %s: %v\n", run.RunID, err)
			os.Exit(1)
		}
		files := map[string]string{
			run.RunID + ".md":  reporting.RenderMarkdown(report),
			run.RunID + ".csv": reporting.RenderCSV(report),
		}
		for name, content := range files {
			if err := os.WriteFile(filepath.Join(*outputDir, name), []byte(content), 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", name, err)
				os.Exit(1)
			}
		}
	}
	fmt.Printf("Reports written to %s/\n", *outputDir)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"factor-lab/internal/storage/backend"
	"factor-lab/internal/verification"
)

func main() {
	// Parse flags (env vars as defaults)
	runID := flag.String("run-id", "", "Run ID to re-execute")
	strategyName := flag.String("strategy", "", "Verify every stored run of this strategy")
	parallelism := flag.Int("parallelism", 0, "Max offsets simulated concurrently (0 = GOMAXPROCS)")

	barStore := flag.String("bars", envOr("BAR_STORE", backend.BarsCSV), "Bar store: csv, parquet, clickhouse")
	csvPath := flag.String("csv", os.Getenv("BARS_CSV"), "Bar CSV file for --bars=csv")
	parquetDir := flag.String("parquet-dir", os.Getenv("PARQUET_DIR"), "Parquet data directory for --bars=parquet")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	reportStore := flag.String("reports", envOr("REPORT_STORE", backend.ReportsSQLite), "Report store: sqlite, postgres")
	sqlitePath := flag.String("sqlite-path", os.Getenv("SQLITE_PATH"), "SQLite database path")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[verify] ", log.LstdFlags)

	// Exactly one target
	if (*runID == "") == (*strategyName == "") {
		logger.Fatal("exactly one of --run-id or --strategy is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	stores, cleanup, err := backend.Open(ctx, backend.Config{
		Bars:          *barStore,
		Reports:       *reportStore,
		CSVPath:       *csvPath,
		ParquetDir:    *parquetDir,
		ClickhouseDSN: *clickhouseDSN,
		SQLitePath:    *sqlitePath,
		PostgresDSN:   *postgresDSN,
	}, logger)
	defer cleanup()
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}

	verifier := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
		ReportStore: stores.Reports,
		BarStore:    stores.Bars,
		Parallelism: *parallelism,
	})

	var report *verification.VerificationReport
	if *runID != "" {
		result, err := verifier.VerifyRun(ctx, *runID)
		if err != nil {
			logger.Fatalf("verify failed: %v", err)
		}
		report = &verification.VerificationReport{TotalRuns: 1, Results: []verification.VerificationResult{*result}}
		if result.Match {
			report.MatchedRuns = 1
		} else {
			report.DivergentRuns = 1
		}
	} else {
		report, err = verifier.VerifyStrategy(ctx, *strategyName)
		if err != nil {
			logger.Fatalf("verify failed: %v", err)
		}
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(summarize(report), "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("\n=== Verification Summary ===\n")
		fmt.Printf("Total Runs:      %d\n", report.TotalRuns)
		fmt.Printf("Matched Runs:    %d\n", report.MatchedRuns)
		fmt.Printf("Divergent Runs:  %d\n", report.DivergentRuns)
		for _, r := range report.Results {
			if r.Match {
				continue
			}
			fmt.Printf("\nRun %s:\n", r.RunID)
			for _, d := range r.Divergences {
				fmt.Printf("  %s\n", d)
			}
		}
	}

	if report.DivergentRuns > 0 {
		os.Exit(1)
	}
}

// runStatus is the --json output per run. Divergences are pre-formatted
// since stored ratios may be NaN.
type runStatus struct {
	RunID       string   `json:"run_id"`
	Match       bool     `json:"match"`
	Divergences []string `json:"divergences,omitempty"`
}

func summarize(report *verification.VerificationReport) []runStatus {
	out := make([]runStatus, 0, len(report.Results))
	for _, r := range report.Results {
		s := runStatus{RunID: r.RunID, Match: r.Match}
		for _, d := range r.Divergences {
			s.Divergences = append(s.Divergences, d.String())
		}
		out = append(out, s)
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

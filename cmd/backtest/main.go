package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"

	"factor-lab/internal/config"
	"factor-lab/internal/decision"
	"factor-lab/internal/domain"
	"factor-lab/internal/orchestrator"
	"factor-lab/internal/pipeline"
	"factor-lab/internal/reporting"
	"factor-lab/internal/storage/backend"
)

func main() {
	// Parse flags (env vars as defaults)
	strategyName := flag.String("strategy", "", "Strategy config name, the file stem under --strategy-dir (required)")
	strategyDir := flag.String("strategy-dir", envOr("STRATEGY_DIR", "strategies"), "Directory of strategy YAML files")
	factors := flag.String("factors", "", "Override factor blend, e.g. bias_volume:1,momentum_volatility:-0.5")
	fromTime := flag.String("from-time", "", "Start of bar window (RFC3339)")
	toTime := flag.String("to-time", "", "End of bar window (RFC3339)")
	parallelism := flag.Int("parallelism", 0, "Max offsets simulated concurrently (0 = GOMAXPROCS)")

	// Storage
	barStore := flag.String("bars", envOr("BAR_STORE", backend.BarsCSV), "Bar store: csv, parquet, clickhouse")
	csvPath := flag.String("csv", os.Getenv("BARS_CSV"), "Bar CSV file for --bars=csv")
	parquetDir := flag.String("parquet-dir", os.Getenv("PARQUET_DIR"), "Parquet data directory for --bars=parquet")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	reportStore := flag.String("reports", envOr("REPORT_STORE", backend.ReportsMemory), "Report store: memory, sqlite, postgres")
	sqlitePath := flag.String("sqlite-path", os.Getenv("SQLITE_PATH"), "SQLite database for --reports=sqlite")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	migrate := flag.Bool("migrate", false, "Apply embedded migrations before running")

	// Output
	format := flag.String("format", "table", "Output format: table, markdown, csv, json")
	output := flag.String("output", "", "Output file (default stdout)")
	check := flag.Bool("check", false, "Run data sufficiency checks and exit")
	decide := flag.Bool("decide", false, "Append a GO/NO-GO gate checked against a stressed-commission re-run")
	stress := flag.Float64("stress", decision.DefaultStressMultiplier, "Commission multiplier for --decide")
	verbose := flag.Bool("verbose", false, "Log pipeline progress")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[backtest] ", log.LstdFlags)

	// Validate required flags
	if *strategyName == "" {
		logger.Fatal("--strategy is required")
	}

	req := orchestrator.Request{Strategy: *strategyName}
	var err error
	if req.Factors, err = config.ParseFactorList(*factors); err != nil {
		logger.Fatalf("Invalid --factors: %v", err)
	}
	if req.Start, err = parseTime(*fromTime); err != nil {
		logger.Fatalf("Invalid --from-time: %v", err)
	}
	if req.End, err = parseTime(*toTime); err != nil {
		logger.Fatalf("Invalid --to-time: %v", err)
	}

	// Create context with cancellation
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

	// Load strategy configs
	loader := config.NewLoader(*strategyDir, logger)
	if err := loader.Load(); err != nil {
		logger.Fatalf("load strategies: %v", err)
	}

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

	out := io.Writer(os.Stdout)
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			logger.Fatalf("create %s: %v", *output, err)
		}
		defer f.Close()
		out = f
	}

	if *check {
		cfg, err := loader.Get(*strategyName)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		result, err := pipeline.NewSufficiencyChecker(stores.Bars).Check(ctx, cfg)
		if err != nil {
			logger.Fatalf("sufficiency check failed: %v", err)
		}
		printSufficiency(out, result)
		if !result.AllPass {
			os.Exit(1)
		}
		return
	}

	orch := orchestrator.New(orchestrator.Options{
		Configs:     loader,
		BarStore:    stores.Bars,
		ReportStore: stores.Reports,
		Logger:      logger,
		Parallelism: *parallelism,
		Verbose:     *verbose,
	})

	start := time.Now()
	report, err := orch.Run(ctx, req)
	if err != nil {
		logger.Fatalf("backtest failed: %v", err)
	}
	logger.Printf("Run %s completed in %v", report.RunID, time.Since(start))

	if err := render(out, *format, report); err != nil {
		logger.Fatalf("render: %v", err)
	}

	if *decide {
		gate := decision.NewGate(decision.GateOptions{
			BarStore:    stores.Bars,
			Multiplier:  *stress,
			Parallelism: *parallelism,
		})
		result, err := gate.Decide(ctx, report)
		if err != nil {
			logger.Fatalf("decision gate failed: %v", err)
		}
		fmt.Fprint(out, "\n"+decision.RenderMarkdown(result))
		if result.Decision != decision.DecisionGO {
			os.Exit(2)
		}
	}
}

// jsonReport is the --format=json output; cells are display-formatted.
type jsonReport struct {
	RunID     string     `json:"run_id"`
	Strategy  string     `json:"strategy"`
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
	MeanRatio string     `json:"mean_annual_return_drawdown_ratio"`
}

// render writes the report in the requested format.
func render(w io.Writer, format string, r *domain.BacktestReport) error {
	switch strings.ToLower(format) {
	case "table":
		fmt.Fprintf(w, "Strategy: %s  Run: %s\n", r.StrategyName, r.RunID)
		fmt.Fprint(w, reporting.RenderTable(r))
		fmt.Fprintf(w, "Mean annual return / max drawdown: %s\n", reporting.Ratio(r.MeanAnnualReturnDrawdownRatio))
	case "markdown", "md":
		fmt.Fprint(w, reporting.RenderMarkdown(r))
	case "csv":
		fmt.Fprint(w, reporting.RenderCSV(r))
	case "json":
		rows := make([][]string, 0, len(r.Rows))
		for _, row := range r.Rows {
			rows = append(rows, reporting.DisplayCells(row))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonReport{
			RunID:     r.RunID,
			Strategy:  r.StrategyName,
			Columns:   reporting.Columns,
			Rows:      rows,
			MeanRatio: reporting.Ratio(r.MeanAnnualReturnDrawdownRatio),
		})
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return nil
}

// printSufficiency outputs the sufficiency checks as a table.
func printSufficiency(w io.Writer, result *pipeline.SufficiencyResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Check", "Threshold", "Actual", "Pass"})
	for _, c := range result.Checks {
		pass := "PASS"
		if !c.Pass {
			pass = "FAIL"
		}
		table.Append([]string{c.Name, c.Threshold, c.Actual, pass})
	}
	table.Render()
	for _, e := range result.Errors {
		fmt.Fprintln(w, "  -", e)
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

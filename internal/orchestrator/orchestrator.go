// Package orchestrator provides E2E pipeline orchestration.
// It coordinates: config lookup → bars → factors → selection → backtest → persist → publish
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"factor-lab/internal/backtest"
	"factor-lab/internal/config"
	"factor-lab/internal/domain"
	"factor-lab/internal/factor"
	"factor-lab/internal/idhash"
	"factor-lab/internal/observability"
	"factor-lab/internal/selection"
	"factor-lab/internal/storage"
	"factor-lab/internal/stream"
)

// ErrMissingDependency is returned by Run when a required dependency is nil.
var ErrMissingDependency = errors.New("missing orchestrator dependency")

// ConfigSource looks up strategy configs by name.
type ConfigSource interface {
	Get(name string) (domain.StrategyConfig, error)
}

// Publisher receives an event for every stored run.
type Publisher interface {
	Publish(ctx context.Context, ev stream.Event) error
}

// Orchestrator coordinates the E2E pipeline execution.
type Orchestrator struct {
	configs     ConfigSource
	barStore    storage.BarStore
	reportStore storage.ReportStore
	registry    *factor.Registry
	publisher   Publisher
	metrics     *observability.Metrics
	logger      *log.Logger

	parallelism int
	verbose     bool
	now         func() time.Time
}

// Options for creating Orchestrator.
type Options struct {
	// Required
	Configs  ConfigSource
	BarStore storage.BarStore

	// Optional: nil ReportStore skips persistence, nil Registry uses the builtins
	ReportStore storage.ReportStore
	Registry    *factor.Registry
	Publisher   Publisher
	Metrics     *observability.Metrics
	Logger      *log.Logger

	Parallelism int // max concurrent offsets, 0 = GOMAXPROCS
	Verbose     bool
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	registry := opts.Registry
	if registry == nil {
		registry = factor.NewDefaultRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{
		configs:     opts.Configs,
		barStore:    opts.BarStore,
		reportStore: opts.ReportStore,
		registry:    registry,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		logger:      logger,
		parallelism: opts.Parallelism,
		verbose:     opts.Verbose,
		now:         time.Now,
	}
}

// WithClock sets a custom clock for testing.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Request selects the strategy and bar window of one run.
type Request struct {
	Strategy string

	// Factors replaces the configured blend when non-empty.
	Factors domain.FactorWeights

	// Start and End restrict the bars loaded (inclusive). Zero means unbounded.
	Start time.Time
	End   time.Time
}

// Run executes one backtest end to end and returns the stored report.
// Phases:
//  1. Resolve strategy config and factors
//  2. Load bars
//  3. Combine factors and select baskets
//  4. Backtest every offset plus the pooled row
//  5. Persist and publish
func (o *Orchestrator) Run(ctx context.Context, req Request) (report *domain.BacktestReport, err error) {
	if o.configs == nil || o.barStore == nil {
		return nil, ErrMissingDependency
	}
	defer func() {
		if o.metrics == nil {
			return
		}
		if err != nil {
			o.metrics.RecordBacktestRun(req.Strategy, observability.StatusError, 0)
			return
		}
		o.metrics.RecordBacktestRun(req.Strategy, observability.StatusSuccess, report.MeanAnnualReturnDrawdownRatio)
	}()

	// Phase 1: config
	o.log("Phase 1: Resolving strategy %s...", req.Strategy)
	cfg, err := o.configs.Get(req.Strategy)
	if err != nil {
		return nil, fmt.Errorf("phase 1 (config) failed: %w", err)
	}
	if len(req.Factors) > 0 {
		cfg.Factors = req.Factors
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("phase 1 (config) failed: %w", err)
	}
	resolved, err := o.registry.Resolve(cfg.Factors)
	if err != nil {
		return nil, fmt.Errorf("phase 1 (config) failed: %w", err)
	}
	o.log("  coin_num=%d window=%d hold_hour=%s c_rate=%g factors=%v",
		cfg.CoinNum, cfg.Window, cfg.HoldHour, cfg.CRate, cfg.Factors.Names())

	// Phase 2: bars
	o.log("Phase 2: Loading bars...")
	start := time.Now()
	bars, err := o.loadBars(ctx, req)
	o.observe("load", start)
	if err != nil {
		return nil, fmt.Errorf("phase 2 (load bars) failed: %w", err)
	}
	if o.metrics != nil {
		o.metrics.BarsLoaded.Add(float64(len(bars)))
	}
	o.log("  Loaded %d bars", len(bars))

	// Phase 3: factors and selection
	o.log("Phase 3: Combining factors and selecting...")
	start = time.Now()
	score, err := factor.Combine(bars, resolved, cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("phase 3 (combine) failed: %w", err)
	}
	rows, err := selection.Select(bars, score.Values, cfg.CoinNum, cfg.Window, score.Name)
	o.observe("selection", start)
	if err != nil {
		return nil, fmt.Errorf("phase 3 (select) failed: %w", err)
	}
	o.recordSelection(rows)
	o.log("  Selected %d rows over %d timestamps", len(rows), len(selection.Timestamps(rows)))

	// Phase 4: backtest
	o.log("Phase 4: Running backtest...")
	start = time.Now()
	res, err := backtest.Run(ctx, backtest.Params{
		HoldHour:    cfg.HoldHour,
		CRate:       cfg.CRate,
		CoinNum:     cfg.CoinNum,
		Parallelism: o.parallelism,
	}, rows)
	o.observe("backtest", start)
	if err != nil {
		return nil, fmt.Errorf("phase 4 (backtest) failed: %w", err)
	}
	if o.metrics != nil {
		o.metrics.OffsetsSimulated.Add(float64(len(res.Rows) - 1))
	}
	o.log("  %d offsets, mean annual return / drawdown %.2f",
		len(res.Rows)-1, res.MeanAnnualReturnDrawdownRatio)

	// Microseconds survive every report store, so the run ID can be recomputed.
	createdAt := o.now().UTC().Truncate(time.Microsecond)
	report = &domain.BacktestReport{
		RunID:                         idhash.ComputeRunID(cfg, createdAt),
		StrategyName:                  cfg.Name,
		Config:                        cfg,
		CreatedAt:                     createdAt,
		Rows:                          res.Rows,
		MeanAnnualReturnDrawdownRatio: res.MeanAnnualReturnDrawdownRatio,
	}

	// Phase 5: persist and publish
	if o.reportStore != nil {
		o.log("Phase 5: Storing report %s...", report.RunID)
		start = time.Now()
		err := o.reportStore.Insert(ctx, report)
		o.observe("persist", start)
		if err != nil {
			return nil, fmt.Errorf("phase 5 (persist) failed: %w", err)
		}
	}
	if o.publisher != nil {
		// Publishing is best effort; the run is already stored.
		if err := o.publisher.Publish(ctx, stream.NewCompletedEvent(report)); err != nil {
			o.logger.Printf("publish %s: %v", report.RunID, err)
		}
	}

	o.log("Backtest completed: run %s", report.RunID)
	return report, nil
}

// farFuture bounds open-ended ranges and still fits in UnixNano.
var farFuture = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)

func (o *Orchestrator) loadBars(ctx context.Context, req Request) ([]domain.Bar, error) {
	if req.Start.IsZero() && req.End.IsZero() {
		return o.barStore.GetAll(ctx)
	}
	start, end := req.Start, req.End
	if start.IsZero() {
		start = time.Unix(0, 0).UTC()
	}
	if end.IsZero() {
		end = farFuture
	}
	return o.barStore.GetByTimeRange(ctx, start, end)
}

func (o *Orchestrator) recordSelection(rows []domain.SelectionRow) {
	if o.metrics == nil {
		return
	}
	var longs, shorts int
	for _, r := range rows {
		if r.Direction == domain.DirectionLong {
			longs++
		} else {
			shorts++
		}
	}
	o.metrics.RecordSelection(longs, shorts)
}

func (o *Orchestrator) observe(stage string, start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveStage(stage, start)
	}
}

// log prints message if verbose mode is enabled.
func (o *Orchestrator) log(format string, args ...interface{}) {
	if o.verbose {
		o.logger.Printf(format, args...)
	}
}

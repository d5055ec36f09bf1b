package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/factor"
	"factor-lab/internal/orchestrator"
	"factor-lab/internal/storage"
)

// DefaultStressMultiplier scales the commission rate of the stress run.
const DefaultStressMultiplier = 2.0

// ErrNoPooledRow is returned when a report has no pooled row to judge.
var ErrNoPooledRow = errors.New("report has no pooled row")

// ErrStrategyMismatch is returned when baseline and stressed runs differ in strategy.
var ErrStrategyMismatch = errors.New("baseline and stressed reports are for different strategies")

// Build creates DecisionInput from a baseline report and the same strategy
// re-run at a higher commission.
// PositiveOffsetPct counts offsets with a report whose net value ends above 1.
func Build(base, stressed *domain.BacktestReport, multiplier float64) (*DecisionInput, error) {
	if base.StrategyName != stressed.StrategyName {
		return nil, ErrStrategyMismatch
	}
	pooled := pooledReport(base)
	if pooled == nil {
		return nil, fmt.Errorf("baseline %s: %w", base.RunID, ErrNoPooledRow)
	}
	stressedPooled := pooledReport(stressed)
	if stressedPooled == nil {
		return nil, fmt.Errorf("stressed run: %w", ErrNoPooledRow)
	}

	var offsets, positive int
	for _, row := range base.Rows {
		if row.IsPooled() || row.Report == nil {
			continue
		}
		offsets++
		if row.Report.CumulativeNetValue > 1 {
			positive++
		}
	}
	var positivePct float64
	if offsets > 0 {
		positivePct = float64(positive) / float64(offsets) * 100
	}

	input := &DecisionInput{
		NetValue:          pooled.CumulativeNetValue,
		WinRate:           pooled.WinRate,
		MaximumDrawdown:   pooled.MaximumDrawdown,
		PositiveOffsetPct: positivePct,
		MeanRatio:         base.MeanAnnualReturnDrawdownRatio,
		StressedNetValue:  stressedPooled.CumulativeNetValue,
		StressMultiplier:  multiplier,
		StrategyName:      base.StrategyName,
		RunID:             base.RunID,
	}

	// Validate before returning (fail fast)
	if err := input.Validate(); err != nil {
		return nil, err
	}
	return input, nil
}

func pooledReport(r *domain.BacktestReport) *domain.PerformanceReport {
	for _, row := range r.Rows {
		if row.IsPooled() {
			return row.Report
		}
	}
	return nil
}

// Gate re-runs a strategy at stressed commission and evaluates the result.
type Gate struct {
	barStore    storage.BarStore
	registry    *factor.Registry
	multiplier  float64
	parallelism int
	evaluator   *Evaluator
}

// GateOptions configures a Gate.
type GateOptions struct {
	BarStore    storage.BarStore
	Registry    *factor.Registry // nil uses the builtins
	Multiplier  float64          // 0 uses DefaultStressMultiplier
	Parallelism int
}

// NewGate creates a new Gate.
func NewGate(opts GateOptions) *Gate {
	multiplier := opts.Multiplier
	if multiplier <= 0 {
		multiplier = DefaultStressMultiplier
	}
	return &Gate{
		barStore:    opts.BarStore,
		registry:    opts.Registry,
		multiplier:  multiplier,
		parallelism: opts.Parallelism,
		evaluator:   NewEvaluator(),
	}
}

type staticConfig domain.StrategyConfig

func (c staticConfig) Get(string) (domain.StrategyConfig, error) {
	return domain.StrategyConfig(c), nil
}

// Decide runs the stressed backtest for base and returns the checklist.
// The stress run is not persisted.
func (g *Gate) Decide(ctx context.Context, base *domain.BacktestReport) (*DecisionResult, error) {
	cfg := base.Config
	cfg.CRate *= g.multiplier

	stressed, err := orchestrator.New(orchestrator.Options{
		Configs:     staticConfig(cfg),
		BarStore:    g.barStore,
		Registry:    g.registry,
		Parallelism: g.parallelism,
	}).WithClock(func() time.Time { return base.CreatedAt }).Run(ctx, orchestrator.Request{Strategy: cfg.Name})
	if err != nil {
		return nil, fmt.Errorf("stress run: %w", err)
	}

	input, err := Build(base, stressed, g.multiplier)
	if err != nil {
		return nil, err
	}
	return g.evaluator.Evaluate(*input)
}

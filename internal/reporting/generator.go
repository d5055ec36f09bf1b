package reporting

import (
	"context"
	"errors"
	"strconv"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// ErrNoRuns is returned when a strategy has no stored runs.
var ErrNoRuns = errors.New("no backtest runs for strategy")

// History summarises every stored run of one strategy.
type History struct {
	GeneratedAt  time.Time
	StrategyName string

	// Runs ordered by created_at ASC.
	Runs []RunSummary

	// Best is the run with the highest mean ratio; nil if Runs is empty.
	Best *RunSummary
}

// RunSummary is one line of a strategy history.
type RunSummary struct {
	RunID     string
	CreatedAt time.Time
	Offsets   int

	MeanAnnualReturnDrawdownRatio float64

	// From the pooled row; NaN when it has no report.
	PooledCumulativeNetValue float64
	PooledMaximumDrawdown    float64
	PooledAnnualReturn       float64
}

// HistoryColumns is the header of a history table.
var HistoryColumns = []string{
	"run_id", "created_at", "offsets",
	"mean_annual_return_drawdown_ratio",
	"pooled_cumulative_net_value", "pooled_maximum_drawdown", "pooled_annual_return",
}

// Cells formats the summary for display.
func (s RunSummary) Cells() []string {
	return []string{
		s.RunID,
		s.CreatedAt.UTC().Format(TimeLayout),
		strconv.Itoa(s.Offsets),
		Ratio(s.MeanAnnualReturnDrawdownRatio),
		Ratio(s.PooledCumulativeNetValue),
		Percent(s.PooledMaximumDrawdown),
		Times(s.PooledAnnualReturn),
	}
}

// Generator produces strategy histories from stored reports.
type Generator struct {
	reportStore storage.ReportStore
	now         func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new history generator.
func NewGenerator(reportStore storage.ReportStore) *Generator {
	return &Generator{
		reportStore: reportStore,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate summarises all runs of strategyName.
// Returns ErrNoRuns if none are stored.
func (g *Generator) Generate(ctx context.Context, strategyName string) (*History, error) {
	reports, err := g.reportStore.ListByStrategy(ctx, strategyName)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, ErrNoRuns
	}

	h := &History{
		GeneratedAt:  g.now(),
		StrategyName: strategyName,
		Runs:         make([]RunSummary, 0, len(reports)),
	}
	for _, r := range reports {
		h.Runs = append(h.Runs, Summarize(r))
	}

	best := 0
	for i, run := range h.Runs {
		if run.MeanAnnualReturnDrawdownRatio > h.Runs[best].MeanAnnualReturnDrawdownRatio {
			best = i
		}
	}
	h.Best = &h.Runs[best]
	return h, nil
}

// Summarize condenses one report.
func Summarize(r *domain.BacktestReport) RunSummary {
	s := RunSummary{
		RunID:                         r.RunID,
		CreatedAt:                     r.CreatedAt,
		MeanAnnualReturnDrawdownRatio: r.MeanAnnualReturnDrawdownRatio,
		PooledCumulativeNetValue:      nan,
		PooledMaximumDrawdown:         nan,
		PooledAnnualReturn:            nan,
	}
	for _, row := range r.Rows {
		if !row.IsPooled() {
			s.Offsets++
			continue
		}
		if row.Report != nil {
			s.PooledCumulativeNetValue = row.Report.CumulativeNetValue
			s.PooledMaximumDrawdown = row.Report.MaximumDrawdown
			s.PooledAnnualReturn = row.Report.AnnualReturn
		}
	}
	return s
}

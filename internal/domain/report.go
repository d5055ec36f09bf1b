package domain

import (
	"time"
)

// PerformanceReport holds the statistics derived from one capital curve.
// Ratios that cannot be computed are NaN.
type PerformanceReport struct {
	CumulativeNetValue float64 // last capital value, 2 decimals

	MaximumDrawdown          float64 // most negative drawdown (fraction, <= 0)
	MaximumDrawdownStartTime time.Time
	MaximumDrawdownEndTime   time.Time

	ProfitPeriodCount int
	LossPeriodCount   int
	WinRate           float64 // fraction of periods with return > 0

	AveragePeriodReturn float64
	ProfitLossRatio     float64 // 2 decimals, NaN if a bucket is empty
	MaximumPeriodProfit float64
	MaximumPeriodLoss   float64

	MaximumContinuousProfitPeriodCount int
	MaximumContinuousLossPeriodCount   int

	AnnualReturn              float64 // multiple, e.g. 1.5 = +150%/year
	AnnualReturnDrawdownRatio float64 // 2 decimals, NaN if drawdown is 0
}

// ReportRow is one line of a backtest report. Offset is nil for the pooled
// all-offsets row; Report is nil when the curve was empty.
type ReportRow struct {
	Offset *int
	Report *PerformanceReport
}

// IsPooled reports whether the row is the all-offsets row.
func (r ReportRow) IsPooled() bool {
	return r.Offset == nil
}

// BacktestReport is the consolidated output of one backtest run.
// Rows holds the per-offset rows in ascending offset order followed by the
// pooled row.
type BacktestReport struct {
	RunID        string
	StrategyName string
	Config       StrategyConfig
	CreatedAt    time.Time

	Rows []ReportRow

	// MeanAnnualReturnDrawdownRatio averages the per-offset rows only.
	MeanAnnualReturnDrawdownRatio float64
}

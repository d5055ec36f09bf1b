// Package verification re-runs stored backtests and checks that the stored
// report rows match a fresh computation over the current bar history.
package verification

import (
	"fmt"
	"math"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/reporting"
)

// FloatTolerance is the tolerance for float64 comparisons.
const FloatTolerance = 1e-7

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Row      string      // offset label, "" for report-level fields
	Field    string      // field name
	Expected interface{} // stored value
	Actual   interface{} // replayed value
}

// VerificationResult contains the result of verifying a single run.
type VerificationResult struct {
	RunID       string            // verified run ID
	Match       bool              // true if all fields match
	Divergences []FieldDivergence // list of divergent fields
}

// VerificationReport contains results for batch verification.
type VerificationReport struct {
	TotalRuns     int                  // total runs verified
	MatchedRuns   int                  // runs that matched exactly
	DivergentRuns int                  // runs with divergences
	Results       []VerificationResult // individual results
}

// CompareReports compares two backtest reports and returns divergences.
// Uses FloatTolerance for float64 comparisons; NaN equals NaN.
func CompareReports(stored, replayed *domain.BacktestReport) []FieldDivergence {
	var divergences []FieldDivergence
	add := func(row, field string, expected, actual interface{}) {
		divergences = append(divergences, FieldDivergence{Row: row, Field: field, Expected: expected, Actual: actual})
	}

	// RunID must match exactly
	if stored.RunID != replayed.RunID {
		add("", "RunID", stored.RunID, replayed.RunID)
	}

	if !floatEquals(stored.MeanAnnualReturnDrawdownRatio, replayed.MeanAnnualReturnDrawdownRatio) {
		add("", "MeanAnnualReturnDrawdownRatio", stored.MeanAnnualReturnDrawdownRatio, replayed.MeanAnnualReturnDrawdownRatio)
	}

	if len(stored.Rows) != len(replayed.Rows) {
		add("", "Rows", len(stored.Rows), len(replayed.Rows))
		return divergences
	}

	for i := range stored.Rows {
		s, r := stored.Rows[i], replayed.Rows[i]
		label := reporting.OffsetLabel(s)
		if reporting.OffsetLabel(r) != label {
			add(label, "Offset", label, reporting.OffsetLabel(r))
			continue
		}
		if (s.Report == nil) != (r.Report == nil) {
			add(label, "Report", s.Report != nil, r.Report != nil)
			continue
		}
		if s.Report == nil {
			continue
		}
		for _, d := range comparePerformance(s.Report, r.Report) {
			d.Row = label
			divergences = append(divergences, d)
		}
	}

	return divergences
}

// comparePerformance compares every metric of two performance reports.
func comparePerformance(s, r *domain.PerformanceReport) []FieldDivergence {
	var divergences []FieldDivergence

	floats := []struct {
		field string
		a, b  float64
	}{
		{"CumulativeNetValue", s.CumulativeNetValue, r.CumulativeNetValue},
		{"MaximumDrawdown", s.MaximumDrawdown, r.MaximumDrawdown},
		{"WinRate", s.WinRate, r.WinRate},
		{"AveragePeriodReturn", s.AveragePeriodReturn, r.AveragePeriodReturn},
		{"ProfitLossRatio", s.ProfitLossRatio, r.ProfitLossRatio},
		{"MaximumPeriodProfit", s.MaximumPeriodProfit, r.MaximumPeriodProfit},
		{"MaximumPeriodLoss", s.MaximumPeriodLoss, r.MaximumPeriodLoss},
		{"AnnualReturn", s.AnnualReturn, r.AnnualReturn},
		{"AnnualReturnDrawdownRatio", s.AnnualReturnDrawdownRatio, r.AnnualReturnDrawdownRatio},
	}
	for _, f := range floats {
		if !floatEquals(f.a, f.b) {
			divergences = append(divergences, FieldDivergence{Field: f.field, Expected: f.a, Actual: f.b})
		}
	}

	ints := []struct {
		field string
		a, b  int
	}{
		{"ProfitPeriodCount", s.ProfitPeriodCount, r.ProfitPeriodCount},
		{"LossPeriodCount", s.LossPeriodCount, r.LossPeriodCount},
		{"MaximumContinuousProfitPeriodCount", s.MaximumContinuousProfitPeriodCount, r.MaximumContinuousProfitPeriodCount},
		{"MaximumContinuousLossPeriodCount", s.MaximumContinuousLossPeriodCount, r.MaximumContinuousLossPeriodCount},
	}
	for _, f := range ints {
		if f.a != f.b {
			divergences = append(divergences, FieldDivergence{Field: f.field, Expected: f.a, Actual: f.b})
		}
	}

	times := []struct {
		field string
		a, b  time.Time
	}{
		{"MaximumDrawdownStartTime", s.MaximumDrawdownStartTime, r.MaximumDrawdownStartTime},
		{"MaximumDrawdownEndTime", s.MaximumDrawdownEndTime, r.MaximumDrawdownEndTime},
	}
	for _, f := range times {
		if !f.a.Equal(f.b) {
			divergences = append(divergences, FieldDivergence{Field: f.field, Expected: f.a, Actual: f.b})
		}
	}

	return divergences
}

// String formats a divergence for logs.
func (d FieldDivergence) String() string {
	if d.Row == "" {
		return fmt.Sprintf("%s: stored=%v replayed=%v", d.Field, d.Expected, d.Actual)
	}
	return fmt.Sprintf("row %s %s: stored=%v replayed=%v", d.Row, d.Field, d.Expected, d.Actual)
}

// floatEquals compares two float64 values within FloatTolerance.
// Two NaNs are equal.
func floatEquals(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) <= FloatTolerance
}

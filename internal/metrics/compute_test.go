package metrics

import (
	"math"
	"testing"
	"time"

	"factor-lab/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// curve builds hourly points from period returns, compounding from 1.
func curve(returns ...float64) []domain.PeriodPoint {
	points := make([]domain.PeriodPoint, len(returns))
	capital := 1.0
	for i, r := range returns {
		capital *= 1 + r
		points[i] = domain.PeriodPoint{
			Timestamp:    t0.Add(time.Duration(i) * time.Hour),
			ReturnRate:   r,
			CapitalCurve: capital,
		}
	}
	return points
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAnalyze_Empty(t *testing.T) {
	if rep := Analyze(nil); rep != nil {
		t.Errorf("expected nil report, got %+v", rep)
	}
}

func TestAnalyze_Basic(t *testing.T) {
	points := curve(0.10, -0.20, 0.05, 0.05, -0.01)
	rep := Analyze(points)
	if rep == nil {
		t.Fatal("expected report")
	}

	if rep.ProfitPeriodCount != 3 || rep.LossPeriodCount != 2 {
		t.Errorf("expected 3/2 profit/loss periods, got %d/%d", rep.ProfitPeriodCount, rep.LossPeriodCount)
	}
	if !approx(rep.WinRate, 0.6) {
		t.Errorf("expected win rate 0.6, got %v", rep.WinRate)
	}
	if !approx(rep.AveragePeriodReturn, (0.10-0.20+0.05+0.05-0.01)/5) {
		t.Errorf("unexpected average period return %v", rep.AveragePeriodReturn)
	}
	if !approx(rep.MaximumPeriodProfit, 0.10) || !approx(rep.MaximumPeriodLoss, -0.20) {
		t.Errorf("unexpected max profit/loss %v/%v", rep.MaximumPeriodProfit, rep.MaximumPeriodLoss)
	}

	// mean profit 0.2/3, mean loss -0.105
	if want := Round2((0.2 / 3) / 0.105); rep.ProfitLossRatio != want {
		t.Errorf("expected profit/loss ratio %v, got %v", want, rep.ProfitLossRatio)
	}

	// Peak 1.1 at t0, trough 0.88 at t0+1h.
	if !approx(rep.MaximumDrawdown, 0.88/1.1-1) {
		t.Errorf("expected max drawdown %v, got %v", 0.88/1.1-1, rep.MaximumDrawdown)
	}
	if !rep.MaximumDrawdownStartTime.Equal(t0) {
		t.Errorf("expected drawdown start %v, got %v", t0, rep.MaximumDrawdownStartTime)
	}
	if !rep.MaximumDrawdownEndTime.Equal(t0.Add(time.Hour)) {
		t.Errorf("expected drawdown end %v, got %v", t0.Add(time.Hour), rep.MaximumDrawdownEndTime)
	}

	if rep.MaximumContinuousProfitPeriodCount != 2 {
		t.Errorf("expected profit streak 2, got %d", rep.MaximumContinuousProfitPeriodCount)
	}
	if rep.MaximumContinuousLossPeriodCount != 1 {
		t.Errorf("expected loss streak 1, got %d", rep.MaximumContinuousLossPeriodCount)
	}

	final := 1.1 * 0.8 * 1.05 * 1.05 * 0.99
	if rep.CumulativeNetValue != Round2(final) {
		t.Errorf("expected cumulative net value %v, got %v", Round2(final), rep.CumulativeNetValue)
	}
}

func TestAnalyze_DrawdownInvariants(t *testing.T) {
	inputs := [][]float64{
		{0.01, 0.02, 0.03},
		{-0.01, -0.02, -0.03},
		{0.05, -0.05, 0.05, -0.05, 0.1, -0.3, 0.2},
		{0},
	}

	for _, returns := range inputs {
		points := curve(returns...)
		rep := Analyze(points)
		if rep.MaximumDrawdown > 0 {
			t.Errorf("%v: drawdown must be <= 0, got %v", returns, rep.MaximumDrawdown)
		}
		if rep.MaximumDrawdownEndTime.Before(rep.MaximumDrawdownStartTime) {
			t.Errorf("%v: drawdown end %v precedes start %v", returns,
				rep.MaximumDrawdownEndTime, rep.MaximumDrawdownStartTime)
		}
		for i, p := range points {
			if p.DrawdownToHere > 0 {
				t.Errorf("%v: point %d has positive drawdown %v", returns, i, p.DrawdownToHere)
			}
		}
	}
}

func TestAnalyze_NoLosingPeriods(t *testing.T) {
	rep := Analyze(curve(0.01, 0.02, 0.03))

	if rep.MaximumContinuousLossPeriodCount != 0 {
		t.Errorf("expected loss streak 0, got %d", rep.MaximumContinuousLossPeriodCount)
	}
	if rep.MaximumContinuousProfitPeriodCount != 3 {
		t.Errorf("expected profit streak 3, got %d", rep.MaximumContinuousProfitPeriodCount)
	}
	if !math.IsNaN(rep.ProfitLossRatio) {
		t.Errorf("expected NaN profit/loss ratio, got %v", rep.ProfitLossRatio)
	}
	if rep.MaximumDrawdown != 0 {
		t.Errorf("expected zero drawdown, got %v", rep.MaximumDrawdown)
	}
	if !math.IsNaN(rep.AnnualReturnDrawdownRatio) {
		t.Errorf("expected NaN drawdown ratio, got %v", rep.AnnualReturnDrawdownRatio)
	}
}

func TestAnalyze_NoWinningPeriods(t *testing.T) {
	rep := Analyze(curve(-0.01, 0, -0.02))

	if rep.MaximumContinuousProfitPeriodCount != 0 {
		t.Errorf("expected profit streak 0, got %d", rep.MaximumContinuousProfitPeriodCount)
	}
	if rep.MaximumContinuousLossPeriodCount != 3 {
		t.Errorf("expected loss streak 3, got %d", rep.MaximumContinuousLossPeriodCount)
	}
	if rep.LossPeriodCount != 3 {
		t.Errorf("zero return must count as a loss, got %d losses", rep.LossPeriodCount)
	}
}

func TestAnalyze_TiedPeaksPickEarliest(t *testing.T) {
	points := []domain.PeriodPoint{
		{Timestamp: t0, ReturnRate: 0.1, CapitalCurve: 1.1},
		{Timestamp: t0.Add(time.Hour), ReturnRate: -0.1, CapitalCurve: 0.99},
		{Timestamp: t0.Add(2 * time.Hour), ReturnRate: 0.1, CapitalCurve: 1.1},
		{Timestamp: t0.Add(3 * time.Hour), ReturnRate: -0.2, CapitalCurve: 0.88},
	}

	rep := Analyze(points)
	if !rep.MaximumDrawdownEndTime.Equal(t0.Add(3 * time.Hour)) {
		t.Errorf("unexpected drawdown end %v", rep.MaximumDrawdownEndTime)
	}
	if !rep.MaximumDrawdownStartTime.Equal(t0) {
		t.Errorf("expected earliest tied peak %v, got %v", t0, rep.MaximumDrawdownStartTime)
	}
}

func TestAnalyze_SinglePointAnnualReturn(t *testing.T) {
	rep := Analyze(curve(0.5))
	if rep.AnnualReturn != 0 {
		t.Errorf("expected annual return 0 for zero elapsed time, got %v", rep.AnnualReturn)
	}
}

func TestAnnualReturn(t *testing.T) {
	// Doubling over half a year compounds to 4x.
	got := AnnualReturn(2, time.Duration(SecondsPerYear/2)*time.Second)
	if !approx(got, 3) {
		t.Errorf("expected 3, got %v", got)
	}
	if got := AnnualReturn(1.5, 0); got != 0 {
		t.Errorf("expected 0 for zero elapsed, got %v", got)
	}
}

func TestAnalyze_AnnualReturnUsesRoundedCapital(t *testing.T) {
	points := []domain.PeriodPoint{
		{Timestamp: t0, ReturnRate: 0, CapitalCurve: 1},
		{Timestamp: t0.Add(time.Duration(SecondsPerYear) * time.Second), ReturnRate: 0.004, CapitalCurve: 1.004},
	}
	rep := Analyze(points)
	// 1.004 rounds to 1.00, so a one-year span annualizes to 0.
	if !approx(rep.AnnualReturn, 0) {
		t.Errorf("expected annual return 0, got %v", rep.AnnualReturn)
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1.234, 1.23},
		{1.236, 1.24},
		{-0.557, -0.56},
		{2, 2},
	}
	for _, tt := range tests {
		if got := Round2(tt.in); !approx(got, tt.want) {
			t.Errorf("Round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if !math.IsNaN(Round2(math.NaN())) {
		t.Error("expected NaN to pass through")
	}
}

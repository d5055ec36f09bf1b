// Package storagetest holds fixtures and behaviour checks shared by the
// BarStore and ReportStore implementations.
package storagetest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// T0 is the first fixture timestamp.
var T0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Bars returns hourly bars for symbols over hours, offset = hour % 2.
func Bars(hours int, symbols ...string) []domain.Bar {
	var bars []domain.Bar
	for h := 0; h < hours; h++ {
		for i, sym := range symbols {
			px := 100 + float64(h) + float64(i)
			bars = append(bars, domain.Bar{
				Symbol:      sym,
				Timestamp:   T0.Add(time.Duration(h) * time.Hour),
				Open:        px,
				High:        px + 1,
				Low:         px - 1,
				Close:       px + 0.5,
				Volume:      1000 + float64(h),
				QuoteVolume: 100000,
				TradeNum:    42,
				RetNext:     0.01 * float64(i+1),
				Offset:      h % 2,
			})
		}
	}
	return bars
}

// Report returns a two-offset report with a pooled row and NaN ratios.
func Report(runID, strategy string, createdAt time.Time) *domain.BacktestReport {
	zero, one := 0, 1
	return &domain.BacktestReport{
		RunID:        runID,
		StrategyName: strategy,
		CreatedAt:    createdAt,
		Config: domain.StrategyConfig{
			Name:     strategy,
			CoinNum:  2,
			Window:   12,
			HoldHour: "4H",
			CRate:    0.001,
			Factors: domain.FactorWeights{
				{Name: "bias_volume", Weight: 0.5},
				{Name: "typical_price_cci", Weight: 0.5},
			},
		},
		Rows: []domain.ReportRow{
			{Offset: &zero, Report: &domain.PerformanceReport{
				CumulativeNetValue:                 1.25,
				MaximumDrawdown:                    -0.12,
				MaximumDrawdownStartTime:           T0.Add(2 * time.Hour),
				MaximumDrawdownEndTime:             T0.Add(5 * time.Hour),
				ProfitPeriodCount:                  7,
				LossPeriodCount:                    3,
				WinRate:                            0.7,
				AveragePeriodReturn:                0.004,
				ProfitLossRatio:                    1.8,
				MaximumPeriodProfit:                0.03,
				MaximumPeriodLoss:                  -0.02,
				MaximumContinuousProfitPeriodCount: 4,
				MaximumContinuousLossPeriodCount:   2,
				AnnualReturn:                       3.5,
				AnnualReturnDrawdownRatio:          29.17,
			}},
			{Offset: &one},
			{Report: &domain.PerformanceReport{
				CumulativeNetValue:        1.01,
				MaximumDrawdown:           0,
				MaximumDrawdownStartTime:  T0,
				MaximumDrawdownEndTime:    T0,
				ProfitPeriodCount:         10,
				WinRate:                   1,
				ProfitLossRatio:           math.NaN(),
				AnnualReturn:              0.4,
				AnnualReturnDrawdownRatio: math.NaN(),
			}},
		},
		MeanAnnualReturnDrawdownRatio: 29.17,
	}
}

// TestBarStore exercises the BarStore contract against an empty store.
func TestBarStore(t *testing.T, store storage.BarStore) {
	t.Helper()
	ctx := context.Background()

	bars := Bars(4, "BTC-USDT", "ETH-USDT")
	// Insert out of order; reads must come back sorted.
	reversed := make([]domain.Bar, len(bars))
	for i, b := range bars {
		reversed[len(bars)-1-i] = b
	}
	if err := store.InsertBulk(ctx, reversed); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	all, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != len(bars) {
		t.Fatalf("expected %d bars, got %d", len(bars), len(all))
	}
	for i := range bars {
		if all[i].Symbol != bars[i].Symbol || !all[i].Timestamp.Equal(bars[i].Timestamp) {
			t.Errorf("bar %d: expected %s@%v, got %s@%v", i,
				bars[i].Symbol, bars[i].Timestamp, all[i].Symbol, all[i].Timestamp)
		}
		if all[i].Close != bars[i].Close || all[i].RetNext != bars[i].RetNext || all[i].Offset != bars[i].Offset {
			t.Errorf("bar %d: field mismatch: got %+v, want %+v", i, all[i], bars[i])
		}
	}

	ranged, err := store.GetByTimeRange(ctx, T0.Add(time.Hour), T0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(ranged) != 4 {
		t.Errorf("expected 4 bars in range, got %d", len(ranged))
	}

	symbols, err := store.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols failed: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "BTC-USDT" || symbols[1] != "ETH-USDT" {
		t.Errorf("unexpected symbols %v", symbols)
	}

	// Existing key
	err = store.InsertBulk(ctx, bars[:1])
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey for existing bar, got %v", err)
	}

	// Intra-batch duplicate leaves the store unchanged.
	extra := Bars(6, "SOL-USDT")[5]
	err = store.InsertBulk(ctx, []domain.Bar{extra, extra})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}
	after, _ := store.GetAll(ctx)
	if len(after) != len(bars) {
		t.Errorf("failed batch must not insert, got %d bars", len(after))
	}
}

// TestReportStore exercises the ReportStore contract against an empty store.
func TestReportStore(t *testing.T, store storage.ReportStore) {
	t.Helper()
	ctx := context.Background()

	want := Report("run-1", "alpha", T0.Add(time.Hour))
	if err := store.Insert(ctx, want); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	AssertReportEqual(t, want, got)

	if err := store.Insert(ctx, want); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.Insert(ctx, Report("run-0", "alpha", T0)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, Report("run-2", "beta", T0)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	list, err := store.ListByStrategy(ctx, "alpha")
	if err != nil {
		t.Fatalf("ListByStrategy failed: %v", err)
	}
	if len(list) != 2 || list[0].RunID != "run-0" || list[1].RunID != "run-1" {
		t.Errorf("expected [run-0 run-1], got %d reports", len(list))
	}

	if err := store.Insert(ctx, &domain.BacktestReport{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

// AssertReportEqual compares reports field by field, treating NaN as equal
// to NaN and timestamps by instant.
func AssertReportEqual(t *testing.T, want, got *domain.BacktestReport) {
	t.Helper()

	if got.RunID != want.RunID || got.StrategyName != want.StrategyName {
		t.Errorf("identity mismatch: got %s/%s, want %s/%s", got.RunID, got.StrategyName, want.RunID, want.StrategyName)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	if got.Config.CoinNum != want.Config.CoinNum || got.Config.Window != want.Config.Window ||
		got.Config.HoldHour != want.Config.HoldHour || got.Config.CRate != want.Config.CRate {
		t.Errorf("config mismatch: got %+v, want %+v", got.Config, want.Config)
	}
	if len(got.Config.Factors) != len(want.Config.Factors) {
		t.Fatalf("factor count mismatch: got %d, want %d", len(got.Config.Factors), len(want.Config.Factors))
	}
	for i := range want.Config.Factors {
		if got.Config.Factors[i] != want.Config.Factors[i] {
			t.Errorf("factor %d mismatch: got %+v, want %+v", i, got.Config.Factors[i], want.Config.Factors[i])
		}
	}
	if !floatEqual(got.MeanAnnualReturnDrawdownRatio, want.MeanAnnualReturnDrawdownRatio) {
		t.Errorf("mean ratio mismatch: got %v, want %v", got.MeanAnnualReturnDrawdownRatio, want.MeanAnnualReturnDrawdownRatio)
	}

	if len(got.Rows) != len(want.Rows) {
		t.Fatalf("row count mismatch: got %d, want %d", len(got.Rows), len(want.Rows))
	}
	for i := range want.Rows {
		w, g := want.Rows[i], got.Rows[i]
		if (w.Offset == nil) != (g.Offset == nil) || (w.Offset != nil && *w.Offset != *g.Offset) {
			t.Errorf("row %d offset mismatch", i)
		}
		if (w.Report == nil) != (g.Report == nil) {
			t.Errorf("row %d report presence mismatch", i)
			continue
		}
		if w.Report == nil {
			continue
		}
		wr, gr := w.Report, g.Report
		floats := [][2]float64{
			{wr.CumulativeNetValue, gr.CumulativeNetValue},
			{wr.MaximumDrawdown, gr.MaximumDrawdown},
			{wr.WinRate, gr.WinRate},
			{wr.AveragePeriodReturn, gr.AveragePeriodReturn},
			{wr.ProfitLossRatio, gr.ProfitLossRatio},
			{wr.MaximumPeriodProfit, gr.MaximumPeriodProfit},
			{wr.MaximumPeriodLoss, gr.MaximumPeriodLoss},
			{wr.AnnualReturn, gr.AnnualReturn},
			{wr.AnnualReturnDrawdownRatio, gr.AnnualReturnDrawdownRatio},
		}
		for j, f := range floats {
			if !floatEqual(f[0], f[1]) {
				t.Errorf("row %d float field %d mismatch: got %v, want %v", i, j, f[1], f[0])
			}
		}
		if gr.ProfitPeriodCount != wr.ProfitPeriodCount || gr.LossPeriodCount != wr.LossPeriodCount ||
			gr.MaximumContinuousProfitPeriodCount != wr.MaximumContinuousProfitPeriodCount ||
			gr.MaximumContinuousLossPeriodCount != wr.MaximumContinuousLossPeriodCount {
			t.Errorf("row %d count mismatch: got %+v, want %+v", i, gr, wr)
		}
		if !gr.MaximumDrawdownStartTime.Equal(wr.MaximumDrawdownStartTime) ||
			!gr.MaximumDrawdownEndTime.Equal(wr.MaximumDrawdownEndTime) {
			t.Errorf("row %d drawdown time mismatch", i)
		}
	}
}

func floatEqual(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) < 1e-12
}

package backtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/domain"
	"factor-lab/internal/simulation"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func reportWithRatio(r float64) *domain.PerformanceReport {
	return &domain.PerformanceReport{AnnualReturnDrawdownRatio: r}
}

func TestMeanAnnualReturnDrawdownRatio_ExcludesPooledRow(t *testing.T) {
	rows := []domain.ReportRow{
		{Offset: intPtr(0), Report: reportWithRatio(1.0)},
		{Offset: intPtr(1), Report: reportWithRatio(3.0)},
		{Report: reportWithRatio(100.0)},
	}

	assert.InDelta(t, 2.0, MeanAnnualReturnDrawdownRatio(rows), 1e-12)
}

func TestMeanAnnualReturnDrawdownRatio_SkipsUndefined(t *testing.T) {
	rows := []domain.ReportRow{
		{Offset: intPtr(0), Report: reportWithRatio(math.NaN())},
		{Offset: intPtr(1)},
		{Offset: intPtr(2), Report: reportWithRatio(4.0)},
		{Report: reportWithRatio(100.0)},
	}
	assert.InDelta(t, 4.0, MeanAnnualReturnDrawdownRatio(rows), 1e-12)

	assert.Equal(t, 0.0, MeanAnnualReturnDrawdownRatio(nil))
	assert.Equal(t, 0.0, MeanAnnualReturnDrawdownRatio(rows[3:]))
}

// offsetRows builds a long/short pair per hour for one offset.
func offsetRows(offset int, returns ...float64) []domain.SelectionRow {
	var rows []domain.SelectionRow
	for i, r := range returns {
		ts := t0.Add(time.Duration(i*4+offset) * time.Hour)
		rows = append(rows,
			domain.SelectionRow{Symbol: "L", Timestamp: ts, Offset: offset, Direction: domain.DirectionLong, RetNext: r, Weight: 1},
			domain.SelectionRow{Symbol: "S", Timestamp: ts, Offset: offset, Direction: domain.DirectionShort, RetNext: -r, Weight: 1},
		)
	}
	return rows
}

func TestRun_RowsPerOffsetThenPooled(t *testing.T) {
	var rows []domain.SelectionRow
	// Interleave offsets out of order.
	rows = append(rows, offsetRows(2, 0.02, -0.01, 0.03)...)
	rows = append(rows, offsetRows(0, 0.01, 0.02, -0.04)...)
	rows = append(rows, offsetRows(1, -0.02, 0.05, 0.01)...)

	res, err := Run(context.Background(), Params{HoldHour: "4H", CRate: 0, CoinNum: 1, Parallelism: 2}, rows)
	require.NoError(t, err)
	require.Len(t, res.Rows, 4)
	require.Len(t, res.Curves, 4)

	for i := 0; i < 3; i++ {
		require.NotNil(t, res.Rows[i].Offset)
		assert.Equal(t, i, *res.Rows[i].Offset)
		require.NotNil(t, res.Rows[i].Report)
		assert.Len(t, res.Curves[i], 3)
	}
	assert.True(t, res.Rows[3].IsPooled())
	require.NotNil(t, res.Rows[3].Report)
	assert.Len(t, res.Curves[3], 9)

	// Offset 0: returns equal the long leg return (pair / coinNum*2).
	assert.InDelta(t, 1.01*1.02*0.96, res.Curves[0][2].CapitalCurve, 1e-9)

	// Pooled curve is scaled by the 4 hour holding period.
	assert.InDelta(t, 0.01/4, res.Curves[3][0].ReturnRate, 1e-12)

	assert.Equal(t, MeanAnnualReturnDrawdownRatio(res.Rows), res.MeanAnnualReturnDrawdownRatio)
}

func TestRun_MissingForwardReturnKeepsStatisticsFinite(t *testing.T) {
	rows := offsetRows(0, 0.03, 0.02, 0.01)
	// The last period has no forward return for the long leg.
	rows[4].RetNext = math.NaN()

	res, err := Run(context.Background(), Params{HoldHour: "4H", CRate: 0, CoinNum: 1}, rows)
	require.NoError(t, err)

	curve := res.Curves[0]
	require.Len(t, curve, 3)
	assert.InDelta(t, 1.03*1.02*1.005, curve[2].CapitalCurve, 1e-9)

	report := res.Rows[0].Report
	require.NotNil(t, report)
	assert.Equal(t, 1.06, report.CumulativeNetValue)
	assert.False(t, math.IsNaN(report.AnnualReturn))
	assert.False(t, math.IsNaN(res.Rows[1].Report.CumulativeNetValue))
}

func TestRun_Deterministic(t *testing.T) {
	var rows []domain.SelectionRow
	for offset := 0; offset < 8; offset++ {
		rows = append(rows, offsetRows(offset, 0.01*float64(offset), -0.02, 0.03)...)
	}

	first, err := Run(context.Background(), Params{HoldHour: "8H", CoinNum: 1, CRate: 0.001}, rows)
	require.NoError(t, err)
	second, err := Run(context.Background(), Params{HoldHour: "8H", CoinNum: 1, CRate: 0.001, Parallelism: 1}, rows)
	require.NoError(t, err)

	require.Equal(t, len(first.Rows), len(second.Rows))
	for i := range first.Rows {
		assert.Equal(t, first.Curves[i], second.Curves[i])
	}
}

func TestRun_InvalidParams(t *testing.T) {
	_, err := Run(context.Background(), Params{HoldHour: "four", CoinNum: 1}, nil)
	assert.True(t, errors.Is(err, simulation.ErrInvalidHoldHour))

	_, err = Run(context.Background(), Params{HoldHour: "4H", CoinNum: 0}, nil)
	assert.True(t, errors.Is(err, ErrInvalidCoinNum))
}

func TestRun_NoRows(t *testing.T) {
	res, err := Run(context.Background(), Params{HoldHour: "4H", CoinNum: 1}, nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.True(t, res.Rows[0].IsPooled())
	assert.Nil(t, res.Rows[0].Report)
	assert.Equal(t, 0.0, res.MeanAnnualReturnDrawdownRatio)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, Params{HoldHour: "4H", CoinNum: 1}, offsetRows(0, 0.01))
	assert.ErrorIs(t, err, context.Canceled)
}

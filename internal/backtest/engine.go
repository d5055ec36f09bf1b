// Package backtest runs the staggered-entry simulation: one capital curve
// per entry offset plus a pooled curve across all offsets.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"factor-lab/internal/domain"
	"factor-lab/internal/metrics"
	"factor-lab/internal/simulation"
)

// ErrInvalidCoinNum is returned when CoinNum is not positive.
var ErrInvalidCoinNum = errors.New("coin_num must be positive")

// Params configures a backtest run.
type Params struct {
	HoldHour    string  // holding period label, e.g. "4H"
	CRate       float64 // commission rate per side
	CoinNum     int     // positions per side
	Parallelism int     // max concurrent offsets, 0 = GOMAXPROCS
}

// Result holds the report rows of a run. Curves[i] is the capital curve
// behind Rows[i].
type Result struct {
	Rows   []domain.ReportRow
	Curves [][]domain.PeriodPoint

	MeanAnnualReturnDrawdownRatio float64
}

// Run simulates and analyzes every offset group of rows independently, then
// the pooled all-offsets curve. Rows are ordered by ascending offset with the
// pooled row last.
func Run(ctx context.Context, p Params, rows []domain.SelectionRow) (*Result, error) {
	holdHours, err := simulation.ParseHoldHours(p.HoldHour)
	if err != nil {
		return nil, err
	}
	if p.CoinNum <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCoinNum, p.CoinNum)
	}

	groups, offsets := partitionByOffset(rows)
	n := len(offsets)
	res := &Result{
		Rows:   make([]domain.ReportRow, n+1),
		Curves: make([][]domain.PeriodPoint, n+1),
	}

	limit := p.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, offset := range offsets {
		i, offset := i, offset
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			curve := simulation.Simulate(groups[offset], p.CRate, p.CoinNum)
			res.Curves[i] = curve
			res.Rows[i] = domain.ReportRow{Offset: &offset, Report: metrics.Analyze(curve)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pooled := simulation.SimulatePooled(rows, p.CRate, p.CoinNum, holdHours)
	res.Curves[n] = pooled
	res.Rows[n] = domain.ReportRow{Report: metrics.Analyze(pooled)}

	res.MeanAnnualReturnDrawdownRatio = MeanAnnualReturnDrawdownRatio(res.Rows)
	return res, nil
}

// partitionByOffset groups rows by offset, each group stably sorted by
// timestamp, and returns the offsets in ascending order.
func partitionByOffset(rows []domain.SelectionRow) (map[int][]domain.SelectionRow, []int) {
	groups := make(map[int][]domain.SelectionRow)
	for _, r := range rows {
		groups[r.Offset] = append(groups[r.Offset], r)
	}

	offsets := make([]int, 0, len(groups))
	for offset, g := range groups {
		offsets = append(offsets, offset)
		sort.SliceStable(g, func(i, j int) bool {
			return g[i].Timestamp.Before(g[j].Timestamp)
		})
	}
	sort.Ints(offsets)
	return groups, offsets
}

// MeanAnnualReturnDrawdownRatio averages AnnualReturnDrawdownRatio over every
// row except the last one, which is the pooled row. Rows without a report or
// with a NaN ratio are skipped. Returns 0 when nothing contributes.
func MeanAnnualReturnDrawdownRatio(rows []domain.ReportRow) float64 {
	if len(rows) < 2 {
		return 0
	}

	var sum float64
	var count int
	for _, row := range rows[:len(rows)-1] {
		if row.Report == nil || math.IsNaN(row.Report.AnnualReturnDrawdownRatio) {
			continue
		}
		sum += row.Report.AnnualReturnDrawdownRatio
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

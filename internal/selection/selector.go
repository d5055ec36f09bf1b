// Package selection ranks symbols cross-sectionally by score and picks the
// long and short baskets at every timestamp.
package selection

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/factor"
)

// ErrScoreLength is returned when scores are not aligned with bars.
var ErrScoreLength = errors.New("score length does not match bars")

// Select ranks every timestamp's cross-section by scores and keeps the top
// coinNum rows as longs and the bottom coinNum rows as shorts.
//
// Ranks are 1-based and ties keep table order: among equal scores the row
// seen first gets the lower rank in both directions. NaN scores are
// unrankable and never selected. A row in both baskets (cross-section
// smaller than 2*coinNum) is long.
//
// Output is ordered by timestamp ASC, direction DESC, then table order.
func Select(bars []domain.Bar, scores []float64, coinNum, window int, factorName string) ([]domain.SelectionRow, error) {
	if len(scores) != len(bars) {
		return nil, fmt.Errorf("%w: %d scores for %d bars", ErrScoreLength, len(scores), len(bars))
	}

	filled := ForwardFillOHL(bars)
	mtm := factor.Momentum(filled, window)

	top := make([]int, len(bars))
	bottom := make([]int, len(bars))
	for _, idx := range groupByTimestamp(bars) {
		rankable := make([]int, 0, len(idx))
		for _, i := range idx {
			if !math.IsNaN(scores[i]) {
				rankable = append(rankable, i)
			}
		}
		rankFirst(rankable, bottom, func(a, b int) bool { return scores[a] < scores[b] })
		rankFirst(rankable, top, func(a, b int) bool { return scores[a] > scores[b] })
	}

	var rows []domain.SelectionRow
	for i, b := range filled {
		dir := classify(top[i], bottom[i], coinNum)
		if dir == domain.DirectionExcluded {
			continue
		}
		rows = append(rows, domain.SelectionRow{
			Symbol:    b.Symbol,
			Timestamp: b.Timestamp,
			Offset:    b.Offset,
			Top:       top[i],
			Bottom:    bottom[i],
			Direction: dir,
			Weight:    1.0,
			Factor:    factorName,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Mtm:       mtm[i],
			RetNext:   b.RetNext,
		})
	}

	sort.SliceStable(rows, func(a, b int) bool {
		if !rows[a].Timestamp.Equal(rows[b].Timestamp) {
			return rows[a].Timestamp.Before(rows[b].Timestamp)
		}
		return rows[a].Direction > rows[b].Direction
	})

	return rows, nil
}

// classify maps ranks to a direction. Rank 0 means unranked.
func classify(top, bottom, coinNum int) domain.Direction {
	switch {
	case top > 0 && top <= coinNum:
		return domain.DirectionLong
	case bottom > 0 && bottom <= coinNum:
		return domain.DirectionShort
	default:
		return domain.DirectionExcluded
	}
}

// rankFirst writes 1-based ranks of idx under less into ranks. The sort is
// stable, so ties keep their order in idx.
func rankFirst(idx []int, ranks []int, less func(a, b int) bool) {
	order := make([]int, len(idx))
	copy(order, idx)
	sort.SliceStable(order, func(a, b int) bool { return less(order[a], order[b]) })
	for pos, i := range order {
		ranks[i] = pos + 1
	}
}

// groupByTimestamp returns row indices per timestamp in table order.
func groupByTimestamp(bars []domain.Bar) [][]int {
	pos := make(map[int64]int)
	var groups [][]int
	for i, b := range bars {
		key := b.Timestamp.UnixNano()
		g, ok := pos[key]
		if !ok {
			g = len(groups)
			pos[key] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

// ForwardFillOHL returns a copy of bars with NaN open/high/low replaced by the
// symbol's last valid value. Leading NaNs stay NaN.
func ForwardFillOHL(bars []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, len(bars))
	copy(out, bars)

	type last struct{ open, high, low float64 }
	seen := make(map[string]*last)
	for i := range out {
		b := &out[i]
		l, ok := seen[b.Symbol]
		if !ok {
			l = &last{open: math.NaN(), high: math.NaN(), low: math.NaN()}
			seen[b.Symbol] = l
		}
		b.Open = fill(b.Open, &l.open)
		b.High = fill(b.High, &l.high)
		b.Low = fill(b.Low, &l.low)
	}
	return out
}

func fill(v float64, last *float64) float64 {
	if math.IsNaN(v) {
		return *last
	}
	*last = v
	return v
}

// Timestamps returns the distinct timestamps of rows in ascending order.
func Timestamps(rows []domain.SelectionRow) []time.Time {
	seen := make(map[int64]struct{})
	var out []time.Time
	for _, r := range rows {
		key := r.Timestamp.UnixNano()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r.Timestamp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

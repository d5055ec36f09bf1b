// Package simulation turns selected positions into per-period portfolio
// returns and a compounded capital curve.
package simulation

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"factor-lab/internal/domain"
)

// ErrInvalidHoldHour is returned for holding period labels that are not a
// positive hour count followed by "H", e.g. "4H".
var ErrInvalidHoldHour = errors.New("invalid hold hour label")

// ParseHoldHours extracts the hour count from a holding period label.
func ParseHoldHours(label string) (int, error) {
	label = strings.TrimSpace(label)
	if len(label) < 2 || !strings.EqualFold(label[len(label)-1:], "h") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHoldHour, label)
	}
	hours, err := strconv.Atoi(label[:len(label)-1])
	if err != nil || hours <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHoldHour, label)
	}
	return hours, nil
}

// RowReturn is the net return of one position over the holding period,
// paying cRate on entry and on exit.
func RowReturn(row domain.SelectionRow, cRate float64) float64 {
	dir := float64(row.Direction)
	return -cRate + (1+row.RetNext*dir)*(1-cRate) - 1
}

// PeriodReturns aggregates row returns per timestamp. Each period's return is
// the sum of its row returns divided by the full basket size coinNum*2, so a
// period with missing legs is diluted rather than re-weighted. Rows whose
// return is not finite (no forward return yet) are skipped, so a period of
// only such rows returns 0.
// Points are ordered by timestamp ASC; CapitalCurve is left zero.
func PeriodReturns(rows []domain.SelectionRow, cRate float64, coinNum int) []domain.PeriodPoint {
	sums := make(map[int64]*domain.PeriodPoint)
	var points []*domain.PeriodPoint
	for _, r := range rows {
		key := r.Timestamp.UnixNano()
		p, ok := sums[key]
		if !ok {
			p = &domain.PeriodPoint{Timestamp: r.Timestamp}
			sums[key] = p
			points = append(points, p)
		}
		if ret := RowReturn(r, cRate); !math.IsNaN(ret) && !math.IsInf(ret, 0) {
			p.ReturnRate += ret
		}
	}

	basket := float64(coinNum * 2)
	out := make([]domain.PeriodPoint, len(points))
	for i, p := range points {
		out[i] = *p
		out[i].ReturnRate /= basket
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Compound fills CapitalCurve with the running product of (1 + ReturnRate).
// points must be ordered by timestamp.
func Compound(points []domain.PeriodPoint) {
	capital := 1.0
	for i := range points {
		capital *= 1 + points[i].ReturnRate
		points[i].CapitalCurve = capital
	}
}

// Simulate builds the capital curve of a single offset group.
func Simulate(rows []domain.SelectionRow, cRate float64, coinNum int) []domain.PeriodPoint {
	points := PeriodReturns(rows, cRate, coinNum)
	Compound(points)
	return points
}

// SimulatePooled builds the all-offsets curve. Rows from every offset are
// pooled per timestamp and each period return is scaled down by holdHours
// so the curve compounds a per-hour return.
func SimulatePooled(rows []domain.SelectionRow, cRate float64, coinNum, holdHours int) []domain.PeriodPoint {
	points := PeriodReturns(rows, cRate, coinNum)
	for i := range points {
		points[i].ReturnRate /= float64(holdHours)
	}
	Compound(points)
	return points
}

// Package metrics derives performance statistics from a capital curve.
package metrics

import (
	"math"
	"sort"
	"time"

	"factor-lab/internal/domain"
)

// SecondsPerYear is the annualization horizon (365 days).
const SecondsPerYear = 365 * 24 * 3600

// Analyze computes the performance report of a capital curve.
// points must be ordered by timestamp ASC. Returns nil for an empty curve.
// Drawdown fields (MaxToHere, DrawdownToHere) are filled in place.
func Analyze(points []domain.PeriodPoint) *domain.PerformanceReport {
	n := len(points)
	if n == 0 {
		return nil
	}

	rep := &domain.PerformanceReport{
		CumulativeNetValue: Round2(points[n-1].CapitalCurve),
	}

	endIdx := Drawdowns(points)
	rep.MaximumDrawdown = points[endIdx].DrawdownToHere
	rep.MaximumDrawdownEndTime = points[endIdx].Timestamp
	rep.MaximumDrawdownStartTime = points[peakIndex(points[:endIdx+1])].Timestamp

	// Period statistics
	var sum, profitSum, lossSum float64
	maxRet, minRet := math.Inf(-1), math.Inf(1)
	for _, p := range points {
		r := p.ReturnRate
		sum += r
		if r > 0 {
			rep.ProfitPeriodCount++
			profitSum += r
		} else {
			rep.LossPeriodCount++
			lossSum += r
		}
		maxRet = math.Max(maxRet, r)
		minRet = math.Min(minRet, r)
	}
	rep.WinRate = float64(rep.ProfitPeriodCount) / float64(n)
	rep.AveragePeriodReturn = sum / float64(n)
	rep.MaximumPeriodProfit = maxRet
	rep.MaximumPeriodLoss = minRet
	rep.ProfitLossRatio = profitLossRatio(profitSum, rep.ProfitPeriodCount, lossSum, rep.LossPeriodCount)

	rep.MaximumContinuousProfitPeriodCount = longestRun(points, func(r float64) bool { return r > 0 })
	rep.MaximumContinuousLossPeriodCount = longestRun(points, func(r float64) bool { return r <= 0 })

	rep.AnnualReturn = AnnualReturn(rep.CumulativeNetValue, points[n-1].Timestamp.Sub(points[0].Timestamp))
	if rep.MaximumDrawdown == 0 {
		rep.AnnualReturnDrawdownRatio = math.NaN()
	} else {
		rep.AnnualReturnDrawdownRatio = Round2(rep.AnnualReturn / math.Abs(rep.MaximumDrawdown))
	}

	return rep
}

// Drawdowns fills MaxToHere and DrawdownToHere for every point and returns
// the index of the deepest drawdown. Ties resolve to the earliest point.
func Drawdowns(points []domain.PeriodPoint) int {
	peak := math.Inf(-1)
	worst := 0
	for i := range points {
		peak = math.Max(peak, points[i].CapitalCurve)
		points[i].MaxToHere = peak
		points[i].DrawdownToHere = points[i].CapitalCurve/peak - 1
		if points[i].DrawdownToHere < points[worst].DrawdownToHere {
			worst = i
		}
	}
	return worst
}

// peakIndex returns the index of the highest capital value in prefix.
// Ordering by capital DESC is stable, so the earliest of tied peaks wins.
func peakIndex(prefix []domain.PeriodPoint) int {
	idx := make([]int, len(prefix))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return prefix[idx[a]].CapitalCurve > prefix[idx[b]].CapitalCurve
	})
	return idx[0]
}

// profitLossRatio is mean profit over absolute mean loss, NaN when either
// bucket is empty.
func profitLossRatio(profitSum float64, profits int, lossSum float64, losses int) float64 {
	if profits == 0 || losses == 0 {
		return math.NaN()
	}
	meanLoss := lossSum / float64(losses)
	if meanLoss == 0 {
		return math.NaN()
	}
	return Round2((profitSum / float64(profits)) / -meanLoss)
}

// longestRun returns the longest streak of consecutive points whose return
// satisfies match, 0 if none do.
func longestRun(points []domain.PeriodPoint, match func(float64) bool) int {
	best, cur := 0, 0
	for _, p := range points {
		if match(p.ReturnRate) {
			cur++
			if cur > best {
				best = cur
			}
		} else {
			cur = 0
		}
	}
	return best
}

// AnnualReturn extrapolates a final capital multiple observed over elapsed
// to one year: final^(year/elapsed) - 1. Zero elapsed yields 0.
func AnnualReturn(final float64, elapsed time.Duration) float64 {
	seconds := math.Floor(elapsed.Seconds())
	if seconds <= 0 {
		return 0
	}
	return math.Pow(final, SecondsPerYear/seconds) - 1
}

// Round2 rounds to 2 decimals, half to even.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.RoundToEven(v*100) / 100
}

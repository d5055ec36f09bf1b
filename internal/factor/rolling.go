package factor

import (
	"math"

	"factor-lab/internal/domain"
)

// groupBySymbol returns row indices per symbol, symbols in first-seen order
// and rows in table order.
func groupBySymbol(bars []domain.Bar) [][]int {
	pos := make(map[string]int)
	var groups [][]int
	for i, b := range bars {
		g, ok := pos[b.Symbol]
		if !ok {
			g = len(groups)
			pos[b.Symbol] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

// perSymbol runs fn on every symbol's series and scatters the output back
// into table order.
func perSymbol(bars []domain.Bar, fn func(series []domain.Bar) []float64) []float64 {
	out := make([]float64, len(bars))
	for _, idx := range groupBySymbol(bars) {
		series := make([]domain.Bar, len(idx))
		for j, i := range idx {
			series[j] = bars[i]
		}
		values := fn(series)
		for j, i := range idx {
			out[i] = values[j]
		}
	}
	return out
}

func field(series []domain.Bar, get func(domain.Bar) float64) []float64 {
	out := make([]float64, len(series))
	for i, b := range series {
		out[i] = get(b)
	}
	return out
}

// ewm is an exponentially weighted mean with alpha = 2/(span+1), seeded with
// the first non-NaN value. NaN inputs carry the previous average forward but
// still age it, so the next observation gets more weight after a gap.
func ewm(x []float64, span int) []float64 {
	if span < 1 {
		span = 1
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out := make([]float64, len(x))
	prev := math.NaN()
	oldWt := 1.0
	for i, v := range x {
		switch {
		case math.IsNaN(prev):
			prev = v
		case math.IsNaN(v):
			oldWt *= 1 - alpha
		default:
			oldWt *= 1 - alpha
			prev = (oldWt*prev + alpha*v) / (oldWt + alpha)
			oldWt = 1
		}
		out[i] = prev
	}
	return out
}

// rolling applies agg to the trailing window of n values (fewer at the
// start), skipping NaN. Windows with no valid value yield NaN.
func rolling(x []float64, n int, agg func(vals []float64) float64) []float64 {
	if n < 1 {
		n = 1
	}
	out := make([]float64, len(x))
	buf := make([]float64, 0, n)
	for i := range x {
		buf = buf[:0]
		for j := max(0, i-n+1); j <= i; j++ {
			if !math.IsNaN(x[j]) {
				buf = append(buf, x[j])
			}
		}
		if len(buf) == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = agg(buf)
	}
	return out
}

func rollingMean(x []float64, n int) []float64 {
	return rolling(x, n, func(vals []float64) float64 {
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		return sum / float64(len(vals))
	})
}

func rollingMax(x []float64, n int) []float64 {
	return rolling(x, n, func(vals []float64) float64 {
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Max(m, v)
		}
		return m
	})
}

func rollingMin(x []float64, n int) []float64 {
	return rolling(x, n, func(vals []float64) float64 {
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Min(m, v)
		}
		return m
	})
}

// shift lags x by n positions, padding with NaN.
func shift(x []float64, n int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i-n < 0 || i-n >= len(x) {
			out[i] = math.NaN()
			continue
		}
		out[i] = x[i-n]
	}
	return out
}

// Momentum returns close/close.shift(window) - 1 in percent, computed per
// symbol and aligned with bars.
func Momentum(bars []domain.Bar, window int) []float64 {
	return perSymbol(bars, func(series []domain.Bar) []float64 {
		closes := field(series, func(b domain.Bar) float64 { return b.Close })
		lagged := shift(closes, window)
		out := make([]float64, len(closes))
		for i := range closes {
			out[i] = (closes[i]/lagged[i] - 1) * 100
		}
		return out
	})
}

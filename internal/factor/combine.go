package factor

import (
	"fmt"
	"math"

	"factor-lab/internal/domain"
)

// Combine blends the resolved factors into the combined_factor column.
// Factors are applied in the given order; each signal is min-max scaled over
// the whole table, weighted, added to the composite and discarded.
// bars is not modified.
func Combine(bars []domain.Bar, factors []Resolved, window int) (domain.Column, error) {
	composite := make([]float64, len(bars))

	for _, f := range factors {
		col := f.Signal.Compute(bars, window, f.Name)
		if len(col.Values) != len(bars) {
			return domain.Column{}, fmt.Errorf("%w: %s returned %d values for %d bars",
				ErrSignalLength, f.Name, len(col.Values), len(bars))
		}

		scaled := MinMaxScale(col.Values)
		for i, v := range scaled {
			composite[i] += v * f.Weight
		}
	}

	return domain.Column{Name: domain.CombinedFactorColumn, Values: composite}, nil
}

// MinMaxScale maps values onto [0, 1] using the global min and max, ignoring
// NaN when locating them. A constant (or all-NaN) input yields NaN
// everywhere.
func MinMaxScale(values []float64) []float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	out := make([]float64, len(values))
	if !(hi > lo) {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	span := hi - lo
	for i, v := range values {
		out[i] = (v - lo) / span
	}
	return out
}

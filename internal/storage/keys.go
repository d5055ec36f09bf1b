package storage

import (
	"math"
	"sort"

	"factor-lab/internal/domain"
)

// BarKey identifies a bar.
type BarKey struct {
	Symbol      string
	TimestampMs int64
	Offset      int
}

// KeyOf returns the key of b.
func KeyOf(b domain.Bar) BarKey {
	return BarKey{Symbol: b.Symbol, TimestampMs: b.Timestamp.UnixMilli(), Offset: b.Offset}
}

// ValidateBars checks that every bar has a symbol and a timestamp and that
// the batch holds no duplicate keys.
func ValidateBars(bars []domain.Bar) error {
	seen := make(map[BarKey]struct{}, len(bars))
	for _, b := range bars {
		if b.Symbol == "" || b.Timestamp.IsZero() {
			return ErrInvalidInput
		}
		k := KeyOf(b)
		if _, exists := seen[k]; exists {
			return ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}
	return nil
}

// SortBars orders bars by timestamp ASC, symbol ASC, offset ASC.
func SortBars(bars []domain.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		a, b := bars[i], bars[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Offset < b.Offset
	})
}

// ValidateReport checks the fields every report store requires.
func ValidateReport(r *domain.BacktestReport) error {
	if r == nil || r.RunID == "" || r.StrategyName == "" {
		return ErrInvalidInput
	}
	return nil
}

// NullFloat maps NaN to nil so undefined ratios persist as NULL.
func NullFloat(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// FloatOrNaN is the inverse of NullFloat.
func FloatOrNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

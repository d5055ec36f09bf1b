package ingestion

import (
	"errors"
	"strings"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// ErrInvalidOrdering is returned when bars are not properly ordered.
var ErrInvalidOrdering = errors.New("bars are not in deterministic order")

// SortBars orders bars by (timestamp ASC, symbol ASC, offset ASC).
func SortBars(bars []domain.Bar) {
	storage.SortBars(bars)
}

// ValidateBarOrdering checks that bars are strictly ordered.
// Returns ErrInvalidOrdering if not.
func ValidateBarOrdering(bars []domain.Bar) error {
	for i := 1; i < len(bars); i++ {
		if compareBars(bars[i-1], bars[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareBars returns:
//
//	-1 if a < b
//	 0 if a == b
//	+1 if a > b
func compareBars(a, b domain.Bar) int {
	switch {
	case a.Timestamp.Before(b.Timestamp):
		return -1
	case a.Timestamp.After(b.Timestamp):
		return 1
	}
	if c := strings.Compare(a.Symbol, b.Symbol); c != 0 {
		return c
	}
	switch {
	case a.Offset < b.Offset:
		return -1
	case a.Offset > b.Offset:
		return 1
	}
	return 0
}

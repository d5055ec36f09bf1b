package domain

import "time"

// PeriodPoint is one row of a capital curve.
type PeriodPoint struct {
	Timestamp    time.Time
	ReturnRate   float64
	CapitalCurve float64

	// Filled by the analyzer.
	MaxToHere      float64 // running peak of CapitalCurve
	DrawdownToHere float64 // CapitalCurve/MaxToHere - 1, always <= 0
}

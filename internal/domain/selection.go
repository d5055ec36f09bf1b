package domain

import "time"

// Direction is the side a symbol is held on at a timestamp.
type Direction int

// Direction values. Excluded rows never leave the selector.
const (
	DirectionShort    Direction = -1
	DirectionExcluded Direction = 0
	DirectionLong     Direction = 1
)

// SelectionRow is a ranked, selected (symbol, timestamp) position.
type SelectionRow struct {
	Symbol    string
	Timestamp time.Time
	Offset    int

	Top       int // 1-based descending rank within the timestamp
	Bottom    int // 1-based ascending rank within the timestamp
	Direction Direction
	Weight    float64 // always 1.0
	Factor    string  // name of the score column ranked on

	// Diagnostics carried from the bar; open/high/low are forward-filled.
	Open    float64
	High    float64
	Low     float64
	Close   float64
	Mtm     float64 // momentum over the lookback window, percent
	RetNext float64
}

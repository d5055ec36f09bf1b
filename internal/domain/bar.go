package domain

import "time"

// Bar is one OHLCV row for a (symbol, timestamp) pair as handed over by the
// ingestion layer. Missing numeric values are NaN.
type Bar struct {
	Symbol    string    // instrument identifier, e.g. BTCUSDT
	Timestamp time.Time // candle begin time (UTC)

	Open                     float64
	High                     float64
	Low                      float64
	Close                    float64
	Volume                   float64
	QuoteVolume              float64
	TradeNum                 float64
	TakerBuyBaseAssetVolume  float64
	TakerBuyQuoteAssetVolume float64

	// Caller-prepared columns consumed by the backtest.
	RetNext float64 // forward return over the holding horizon
	Offset  int     // staggered entry group
}

// Column is a named real-valued series aligned 1:1 with a []Bar.
type Column struct {
	Name   string
	Values []float64
}

// CombinedFactorColumn is the name of the composite score column.
const CombinedFactorColumn = "combined_factor"

package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"factor-lab/internal/domain"
)

// CSV errors
var (
	ErrMissingColumn = errors.New("missing required column")
	ErrInvalidRow    = errors.New("invalid row")
)

// Column names of the bar table.
const (
	ColSymbol                   = "symbol"
	ColCandleBeginTime          = "candle_begin_time"
	ColOpen                     = "open"
	ColHigh                     = "high"
	ColLow                      = "low"
	ColClose                    = "close"
	ColVolume                   = "volume"
	ColQuoteVolume              = "quote_volume"
	ColTradeNum                 = "trade_num"
	ColTakerBuyBaseAssetVolume  = "taker_buy_base_asset_volume"
	ColTakerBuyQuoteAssetVolume = "taker_buy_quote_asset_volume"
	ColRetNext                  = "ret_next"
	ColOffset                   = "offset"
)

// Columns lists the CSV header in write order.
var Columns = []string{
	ColSymbol, ColCandleBeginTime,
	ColOpen, ColHigh, ColLow, ColClose,
	ColVolume, ColQuoteVolume, ColTradeNum,
	ColTakerBuyBaseAssetVolume, ColTakerBuyQuoteAssetVolume,
	ColRetNext, ColOffset,
}

var requiredColumns = []string{ColSymbol, ColCandleBeginTime, ColOpen, ColHigh, ColLow, ColClose}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// CSVSource reads bars from a CSV file with a header row.
// Empty or "nan" price cells read as NaN; a missing ret_next column reads
// as NaN, other missing optional columns as 0.
type CSVSource struct {
	Path string
}

// NewCSVSource creates a CSVSource for path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path}
}

// Compile-time interface check.
var _ BarSource = (*CSVSource)(nil)

// Fetch reads the whole file.
func (s *CSVSource) Fetch(_ context.Context) ([]domain.Bar, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Path, err)
	}
	defer f.Close()

	bars, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return bars, nil
}

// ReadCSV parses bars from r.
func ReadCSV(r io.Reader) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		b, err := parseRow(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidRow, line, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseRow(rec []string, idx map[string]int) (domain.Bar, error) {
	cell := func(col string) (string, bool) {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return "", false
		}
		return strings.TrimSpace(rec[i]), true
	}

	var b domain.Bar
	var err error

	b.Symbol, _ = cell(ColSymbol)
	if b.Symbol == "" {
		return b, errors.New("empty symbol")
	}
	ts, _ := cell(ColCandleBeginTime)
	if b.Timestamp, err = parseTime(ts); err != nil {
		return b, err
	}

	floats := []struct {
		col string
		dst *float64
		def float64
	}{
		{ColOpen, &b.Open, math.NaN()},
		{ColHigh, &b.High, math.NaN()},
		{ColLow, &b.Low, math.NaN()},
		{ColClose, &b.Close, math.NaN()},
		{ColVolume, &b.Volume, 0},
		{ColQuoteVolume, &b.QuoteVolume, 0},
		{ColTradeNum, &b.TradeNum, 0},
		{ColTakerBuyBaseAssetVolume, &b.TakerBuyBaseAssetVolume, 0},
		{ColTakerBuyQuoteAssetVolume, &b.TakerBuyQuoteAssetVolume, 0},
		{ColRetNext, &b.RetNext, math.NaN()},
	}
	for _, f := range floats {
		raw, ok := cell(f.col)
		if !ok {
			*f.dst = f.def
			continue
		}
		if *f.dst, err = parseFloat(raw); err != nil {
			return b, fmt.Errorf("%s: %v", f.col, err)
		}
	}

	if raw, ok := cell(ColOffset); ok && raw != "" {
		if b.Offset, err = strconv.Atoi(raw); err != nil {
			return b, fmt.Errorf("%s: %v", ColOffset, err)
		}
	}
	return b, nil
}

func parseFloat(raw string) (float64, error) {
	switch strings.ToLower(raw) {
	case "", "nan", "null", "none":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(raw, 64)
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// WriteCSV writes bars with the Columns header. NaN is written as an empty cell.
func WriteCSV(w io.Writer, bars []domain.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{
			b.Symbol, b.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(b.Open), formatFloat(b.High), formatFloat(b.Low), formatFloat(b.Close),
			formatFloat(b.Volume), formatFloat(b.QuoteVolume), formatFloat(b.TradeNum),
			formatFloat(b.TakerBuyBaseAssetVolume), formatFloat(b.TakerBuyQuoteAssetVolume),
			formatFloat(b.RetNext), strconv.Itoa(b.Offset),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

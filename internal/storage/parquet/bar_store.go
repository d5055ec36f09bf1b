// Package parquet stores bar history as one Parquet file per symbol.
package parquet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Symbol                   string  `parquet:"symbol"`
	Timestamp                int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Offset                   int32   `parquet:"offset"`
	Open                     float64 `parquet:"open"`
	High                     float64 `parquet:"high"`
	Low                      float64 `parquet:"low"`
	Close                    float64 `parquet:"close"`
	Volume                   float64 `parquet:"volume"`
	QuoteVolume              float64 `parquet:"quote_volume"`
	TradeNum                 float64 `parquet:"trade_num"`
	TakerBuyBaseAssetVolume  float64 `parquet:"taker_buy_base_asset_volume"`
	TakerBuyQuoteAssetVolume float64 `parquet:"taker_buy_quote_asset_volume"`
	RetNext                  float64 `parquet:"ret_next"`
}

// BarStore implements storage.BarStore on a directory of Parquet files:
//
//	<DataDir>/<SYMBOL>.parquet
type BarStore struct {
	DataDir string

	mu sync.RWMutex
}

// NewBarStore creates a BarStore rooted at dataDir.
func NewBarStore(dataDir string) *BarStore {
	return &BarStore{DataDir: dataDir}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// InsertBulk merges bars into the per-symbol files. Fails entire batch on
// any duplicate key, before any file is written.
func (s *BarStore) InsertBulk(_ context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := storage.ValidateBars(bars); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make(map[string][]BarRecord)
	for _, b := range bars {
		groups[b.Symbol] = append(groups[b.Symbol], toRecord(b))
	}

	merged := make(map[string][]BarRecord, len(groups))
	for symbol, incoming := range groups {
		existing, err := s.readSymbol(symbol)
		if err != nil {
			return err
		}
		keys := make(map[storage.BarKey]struct{}, len(existing))
		for _, r := range existing {
			keys[recordKey(r)] = struct{}{}
		}
		for _, r := range incoming {
			if _, ok := keys[recordKey(r)]; ok {
				return storage.ErrDuplicateKey
			}
		}
		all := append(existing, incoming...)
		sort.SliceStable(all, func(i, j int) bool {
			if all[i].Timestamp != all[j].Timestamp {
				return all[i].Timestamp < all[j].Timestamp
			}
			return all[i].Offset < all[j].Offset
		})
		merged[symbol] = all
	}

	for symbol, records := range merged {
		if err := writeParquetFile(s.path(symbol), records); err != nil {
			return fmt.Errorf("writing bars for %s: %w", symbol, err)
		}
	}
	return nil
}

// GetAll retrieves every bar, ordered by timestamp ASC, symbol ASC, offset ASC.
func (s *BarStore) GetAll(ctx context.Context) ([]domain.Bar, error) {
	return s.read(ctx, func(int64) bool { return true })
}

// GetByTimeRange retrieves bars within [start, end] (inclusive).
func (s *BarStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]domain.Bar, error) {
	lo, hi := start.UnixMilli(), end.UnixMilli()
	return s.read(ctx, func(ts int64) bool { return ts >= lo && ts <= hi })
}

// ListSymbols lists the symbols that have a file, sorted.
func (s *BarStore) ListSymbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listSymbols()
}

func (s *BarStore) read(_ context.Context, keep func(ts int64) bool) ([]domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols, err := s.listSymbols()
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for _, symbol := range symbols {
		records, err := s.readSymbol(symbol)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if keep(r.Timestamp) {
				bars = append(bars, fromRecord(r))
			}
		}
	}
	storage.SortBars(bars)
	return bars, nil
}

func (s *BarStore) listSymbols() ([]string, error) {
	entries, err := os.ReadDir(s.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".parquet") {
			symbols = append(symbols, strings.TrimSuffix(e.Name(), ".parquet"))
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// readSymbol returns the records of one symbol; a missing file is empty.
func (s *BarStore) readSymbol(symbol string) ([]BarRecord, error) {
	path := s.path(symbol)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	records, err := readParquetFile[BarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", symbol, err)
	}
	return records, nil
}

func (s *BarStore) path(symbol string) string {
	return filepath.Join(s.DataDir, symbol+".parquet")
}

func toRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Symbol:                   b.Symbol,
		Timestamp:                b.Timestamp.UnixMilli(),
		Offset:                   int32(b.Offset),
		Open:                     b.Open,
		High:                     b.High,
		Low:                      b.Low,
		Close:                    b.Close,
		Volume:                   b.Volume,
		QuoteVolume:              b.QuoteVolume,
		TradeNum:                 b.TradeNum,
		TakerBuyBaseAssetVolume:  b.TakerBuyBaseAssetVolume,
		TakerBuyQuoteAssetVolume: b.TakerBuyQuoteAssetVolume,
		RetNext:                  b.RetNext,
	}
}

func fromRecord(r BarRecord) domain.Bar {
	return domain.Bar{
		Symbol:                   r.Symbol,
		Timestamp:                time.UnixMilli(r.Timestamp).UTC(),
		Offset:                   int(r.Offset),
		Open:                     r.Open,
		High:                     r.High,
		Low:                      r.Low,
		Close:                    r.Close,
		Volume:                   r.Volume,
		QuoteVolume:              r.QuoteVolume,
		TradeNum:                 r.TradeNum,
		TakerBuyBaseAssetVolume:  r.TakerBuyBaseAssetVolume,
		TakerBuyQuoteAssetVolume: r.TakerBuyQuoteAssetVolume,
		RetNext:                  r.RetNext,
	}
}

func recordKey(r BarRecord) storage.BarKey {
	return storage.BarKey{Symbol: r.Symbol, TimestampMs: r.Timestamp, Offset: int(r.Offset)}
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

package clickhouse

import (
	"context"
	"fmt"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// BarStore implements storage.BarStore using ClickHouse.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a new BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

const barColumns = `
	symbol, timestamp_ms, bar_offset,
	open, high, low, close,
	volume, quote_volume, trade_num,
	taker_buy_base_asset_volume, taker_buy_quote_asset_volume,
	ret_next
`

// InsertBulk adds multiple bars. Fails entire batch on duplicate
// (symbol, timestamp_ms, bar_offset).
func (s *BarStore) InsertBulk(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := storage.ValidateBars(bars); err != nil {
		return err
	}

	// Check for duplicates against existing DB rows
	existing, err := s.existingKeys(ctx, bars)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	for _, b := range bars {
		if _, ok := existing[storage.KeyOf(b)]; ok {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO bars (`+barColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, b := range bars {
		err = batch.Append(
			b.Symbol, uint64(b.Timestamp.UnixMilli()), int32(b.Offset),
			b.Open, b.High, b.Low, b.Close,
			b.Volume, b.QuoteVolume, b.TradeNum,
			b.TakerBuyBaseAssetVolume, b.TakerBuyQuoteAssetVolume,
			b.RetNext,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// existingKeys loads the keys already stored for the batch's symbols within
// the batch's time span.
func (s *BarStore) existingKeys(ctx context.Context, bars []domain.Bar) (map[storage.BarKey]struct{}, error) {
	symbolSet := make(map[string]struct{})
	minTs, maxTs := bars[0].Timestamp.UnixMilli(), bars[0].Timestamp.UnixMilli()
	for _, b := range bars {
		symbolSet[b.Symbol] = struct{}{}
		ts := b.Timestamp.UnixMilli()
		if ts < minTs {
			minTs = ts
		}
		if ts > maxTs {
			maxTs = ts
		}
	}
	symbols := make([]string, 0, len(symbolSet))
	for sym := range symbolSet {
		symbols = append(symbols, sym)
	}

	rows, err := s.conn.Query(ctx, `
		SELECT symbol, timestamp_ms, bar_offset
		FROM bars
		WHERE symbol IN (?) AND timestamp_ms >= ? AND timestamp_ms <= ?
	`, symbols, uint64(minTs), uint64(maxTs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[storage.BarKey]struct{})
	for rows.Next() {
		var (
			sym    string
			ts     uint64
			offset int32
		)
		if err := rows.Scan(&sym, &ts, &offset); err != nil {
			return nil, err
		}
		keys[storage.BarKey{Symbol: sym, TimestampMs: int64(ts), Offset: int(offset)}] = struct{}{}
	}
	return keys, rows.Err()
}

// GetAll retrieves every bar, ordered by timestamp ASC, symbol ASC, offset ASC.
func (s *BarStore) GetAll(ctx context.Context) ([]domain.Bar, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+barColumns+`
		FROM bars
		ORDER BY timestamp_ms ASC, symbol ASC, bar_offset ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetByTimeRange retrieves bars within [start, end] (inclusive).
func (s *BarStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]domain.Bar, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+barColumns+`
		FROM bars
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, symbol ASC, bar_offset ASC
	`, uint64(start.UnixMilli()), uint64(end.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("query bars by time range: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// ListSymbols returns the distinct symbols, sorted.
func (s *BarStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT DISTINCT symbol FROM bars ORDER BY symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate symbols: %w", err)
	}
	return symbols, nil
}

// scanBars scans multiple rows.
func scanBars(rows chRows) ([]domain.Bar, error) {
	var bars []domain.Bar

	for rows.Next() {
		var b domain.Bar
		var timestampMs uint64
		var offset int32

		err := rows.Scan(
			&b.Symbol, &timestampMs, &offset,
			&b.Open, &b.High, &b.Low, &b.Close,
			&b.Volume, &b.QuoteVolume, &b.TradeNum,
			&b.TakerBuyBaseAssetVolume, &b.TakerBuyQuoteAssetVolume,
			&b.RetNext,
		)
		if err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}

		b.Timestamp = time.UnixMilli(int64(timestampMs)).UTC()
		b.Offset = int(offset)
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bar rows: %w", err)
	}

	return bars, nil
}

package storage

import (
	"context"
	"time"

	"factor-lab/internal/domain"
)

// BarStore provides access to the bar history table.
// A bar is keyed by (symbol, timestamp, offset).
type BarStore interface {
	// InsertBulk adds multiple bars atomically. Fails entire batch on any duplicate key.
	InsertBulk(ctx context.Context, bars []domain.Bar) error

	// GetAll retrieves every bar, ordered by timestamp ASC, symbol ASC, offset ASC.
	GetAll(ctx context.Context) ([]domain.Bar, error)

	// GetByTimeRange retrieves bars within [start, end] (inclusive), same order as GetAll.
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns the distinct symbols, sorted.
	ListSymbols(ctx context.Context) ([]string, error)
}

// ReportStore provides access to persisted backtest reports.
type ReportStore interface {
	// Insert adds a report with its rows. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.BacktestReport) error

	// GetByID retrieves a report by run ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.BacktestReport, error)

	// ListByStrategy retrieves all reports of a strategy, ordered by created_at ASC.
	ListByStrategy(ctx context.Context, strategyName string) ([]*domain.BacktestReport, error)
}

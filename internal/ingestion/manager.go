package ingestion

import (
	"context"

	"factor-lab/internal/storage"
)

// Manager moves bars from a source into a store.
// It enforces deterministic ordering and uses storage layer for duplicate rejection.
type Manager struct {
	source BarSource
	store  storage.BarStore
}

// NewManager creates a new ingestion manager.
func NewManager(source BarSource, store storage.BarStore) *Manager {
	return &Manager{
		source: source,
		store:  store,
	}
}

// Ingest fetches bars from the source and stores them.
// Returns count of ingested bars and any error.
// Duplicates are rejected by the storage layer (ErrDuplicateKey).
func (m *Manager) Ingest(ctx context.Context) (int, error) {
	if m.source == nil || m.store == nil {
		return 0, nil
	}

	bars, err := m.source.Fetch(ctx)
	if err != nil {
		return 0, err
	}

	if len(bars) == 0 {
		return 0, nil
	}

	// Enforce deterministic ordering
	SortBars(bars)

	if err := m.store.InsertBulk(ctx, bars); err != nil {
		return 0, err
	}

	return len(bars), nil
}

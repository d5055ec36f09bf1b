package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// BarStore is an in-memory implementation of storage.BarStore.
type BarStore struct {
	mu   sync.RWMutex
	data map[storage.BarKey]domain.Bar
}

// NewBarStore creates a new in-memory bar store.
func NewBarStore() *BarStore {
	return &BarStore{
		data: make(map[storage.BarKey]domain.Bar),
	}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// InsertBulk adds multiple bars atomically. Fails entire batch on any duplicate.
func (s *BarStore) InsertBulk(_ context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := storage.ValidateBars(bars); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range bars {
		if _, exists := s.data[storage.KeyOf(b)]; exists {
			return storage.ErrDuplicateKey
		}
	}
	for _, b := range bars {
		s.data[storage.KeyOf(b)] = b
	}
	return nil
}

// GetAll retrieves every bar, ordered by timestamp ASC, symbol ASC, offset ASC.
func (s *BarStore) GetAll(_ context.Context) ([]domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Bar, 0, len(s.data))
	for _, b := range s.data {
		result = append(result, b)
	}
	storage.SortBars(result)
	return result, nil
}

// GetByTimeRange retrieves bars within [start, end] (inclusive).
func (s *BarStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Bar
	for _, b := range s.data {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			result = append(result, b)
		}
	}
	storage.SortBars(result)
	return result, nil
}

// ListSymbols returns the distinct symbols, sorted.
func (s *BarStore) ListSymbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{})
	for k := range s.data {
		set[k.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(set))
	for sym := range set {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}

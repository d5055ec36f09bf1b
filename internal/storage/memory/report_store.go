package memory

import (
	"context"
	"sort"
	"sync"

	"factor-lab/internal/domain"
	"factor-lab/internal/storage"
)

// ReportStore is an in-memory implementation of storage.ReportStore.
type ReportStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BacktestReport // keyed by run_id
}

// NewReportStore creates a new in-memory report store.
func NewReportStore() *ReportStore {
	return &ReportStore{
		data: make(map[string]*domain.BacktestReport),
	}
}

// Compile-time interface check.
var _ storage.ReportStore = (*ReportStore)(nil)

// Insert adds a report. Returns ErrDuplicateKey if run_id exists.
func (s *ReportStore) Insert(_ context.Context, r *domain.BacktestReport) error {
	if err := storage.ValidateReport(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RunID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[r.RunID] = cloneReport(r)
	return nil
}

// GetByID retrieves a report by run ID. Returns ErrNotFound if not exists.
func (s *ReportStore) GetByID(_ context.Context, runID string) (*domain.BacktestReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneReport(r), nil
}

// ListByStrategy retrieves all reports of a strategy, ordered by created_at ASC.
func (s *ReportStore) ListByStrategy(_ context.Context, strategyName string) ([]*domain.BacktestReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BacktestReport
	for _, r := range s.data {
		if r.StrategyName == strategyName {
			result = append(result, cloneReport(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].RunID < result[j].RunID
	})
	return result, nil
}

// cloneReport deep-copies rows so callers cannot alias stored state.
func cloneReport(r *domain.BacktestReport) *domain.BacktestReport {
	c := *r
	c.Config.Factors = append(domain.FactorWeights(nil), r.Config.Factors...)
	c.Rows = make([]domain.ReportRow, len(r.Rows))
	for i, row := range r.Rows {
		if row.Offset != nil {
			offset := *row.Offset
			c.Rows[i].Offset = &offset
		}
		if row.Report != nil {
			rep := *row.Report
			c.Rows[i].Report = &rep
		}
	}
	return &c
}

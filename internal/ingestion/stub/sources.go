package stub

import (
	"context"

	"factor-lab/internal/domain"
)

// StubBarSource returns fixed in-memory bars for testing.
// Bars can be intentionally unordered to test sorting.
// Implements ingestion.BarSource interface.
type StubBarSource struct {
	bars []domain.Bar
	err  error
}

// NewStubBarSource creates a new stub bar source with the given bars.
func NewStubBarSource(bars []domain.Bar) *StubBarSource {
	return &StubBarSource{bars: bars}
}

// NewFailingBarSource creates a stub source whose Fetch returns err.
func NewFailingBarSource(err error) *StubBarSource {
	return &StubBarSource{err: err}
}

// Fetch returns a copy of the bars.
func (s *StubBarSource) Fetch(_ context.Context) ([]domain.Bar, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.Bar(nil), s.bars...), nil
}

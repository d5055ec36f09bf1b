package ingestion

import (
	"context"

	"factor-lab/internal/domain"
)

// BarSource provides raw bar history from an external source.
type BarSource interface {
	// Fetch returns bars in any order; Manager enforces deterministic ordering.
	Fetch(ctx context.Context) ([]domain.Bar, error)
}

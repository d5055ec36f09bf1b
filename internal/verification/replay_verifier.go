package verification

import (
	"context"
	"fmt"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/factor"
	"factor-lab/internal/orchestrator"
	"factor-lab/internal/storage"
)

// ReplayVerifier re-runs stored reports over the bar store.
type ReplayVerifier struct {
	reportStore storage.ReportStore
	barStore    storage.BarStore
	registry    *factor.Registry
	parallelism int
}

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	ReportStore storage.ReportStore
	BarStore    storage.BarStore
	Registry    *factor.Registry // nil uses the builtins
	Parallelism int
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	return &ReplayVerifier{
		reportStore: opts.ReportStore,
		barStore:    opts.BarStore,
		registry:    opts.Registry,
		parallelism: opts.Parallelism,
	}
}

// storedConfig serves the one config captured in a stored report.
type storedConfig domain.StrategyConfig

func (c storedConfig) Get(string) (domain.StrategyConfig, error) {
	return domain.StrategyConfig(c), nil
}

// VerifyRun re-executes a stored run with its captured config and creation
// time and compares all fields. Nothing is persisted.
func (v *ReplayVerifier) VerifyRun(ctx context.Context, runID string) (*VerificationResult, error) {
	stored, err := v.reportStore.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	orch := orchestrator.New(orchestrator.Options{
		Configs:     storedConfig(stored.Config),
		BarStore:    v.barStore,
		Registry:    v.registry,
		Parallelism: v.parallelism,
	}).WithClock(func() time.Time { return stored.CreatedAt })

	replayed, err := orch.Run(ctx, orchestrator.Request{Strategy: stored.Config.Name})
	if err != nil {
		return nil, fmt.Errorf("replay run %s: %w", runID, err)
	}

	divergences := CompareReports(stored, replayed)
	return &VerificationResult{
		RunID:       runID,
		Match:       len(divergences) == 0,
		Divergences: divergences,
	}, nil
}

// VerifyStrategy verifies every stored run of a strategy.
func (v *ReplayVerifier) VerifyStrategy(ctx context.Context, strategyName string) (*VerificationReport, error) {
	reports, err := v.reportStore.ListByStrategy(ctx, strategyName)
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{}
	for _, r := range reports {
		result, err := v.VerifyRun(ctx, r.RunID)
		if err != nil {
			return nil, err
		}
		report.TotalRuns++
		if result.Match {
			report.MatchedRuns++
		} else {
			report.DivergentRuns++
		}
		report.Results = append(report.Results, *result)
	}
	return report, nil
}

package decision

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/domain"
	"factor-lab/internal/factor"
	"factor-lab/internal/orchestrator"
	"factor-lab/internal/storage/memory"
	"factor-lab/internal/storage/storagetest"
)

func goInput() DecisionInput {
	return DecisionInput{
		NetValue:          1.4,
		WinRate:           0.55,
		MaximumDrawdown:   -0.12,
		PositiveOffsetPct: 75,
		MeanRatio:         2.5,
		StressedNetValue:  1.3, // retention 0.75
		StressMultiplier:  2,
		StrategyName:      "mv_4h",
		RunID:             "run1",
	}
}

func triggered(checks []CriterionResult) []string {
	var names []string
	for _, c := range checks {
		if !c.Pass {
			names = append(names, c.Name)
		}
	}
	return names
}

func TestEvaluate_GO(t *testing.T) {
	result, err := NewEvaluator().Evaluate(goInput())
	require.NoError(t, err)

	assert.Equal(t, DecisionGO, result.Decision)
	assert.Len(t, result.GOCriteria, 5)
	assert.Len(t, result.NOGOChecks, 4)
	assert.Empty(t, triggered(result.GOCriteria))
	assert.Empty(t, triggered(result.NOGOChecks))
	assert.Equal(t, "mv_4h", result.StrategyName)
}

func TestEvaluate_NOGO(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*DecisionInput)
		failedGO  []string
		firedNOGO []string
	}{
		{
			name:      "pooled loss",
			mutate:    func(in *DecisionInput) { in.NetValue = 0.9; in.StressedNetValue = 0.8 },
			failedGO:  []string{"Pooled net value", "Stable at 2x commission"},
			firedNOGO: []string{"Pooled loss"},
		},
		{
			name:      "losing offsets",
			mutate:    func(in *DecisionInput) { in.PositiveOffsetPct = 25 },
			failedGO:  []string{"Profitable offsets"},
			firedNOGO: []string{"Losing offsets dominate"},
		},
		{
			name:      "edge disappears",
			mutate:    func(in *DecisionInput) { in.StressedNetValue = 0.99 },
			failedGO:  []string{"Stable at 2x commission"},
			firedNOGO: []string{"Edge disappears at higher commission"},
		},
		{
			name:     "weak retention",
			mutate:   func(in *DecisionInput) { in.StressedNetValue = 1.1 },
			failedGO: []string{"Stable at 2x commission"},
		},
		{
			name:     "low ratio",
			mutate:   func(in *DecisionInput) { in.MeanRatio = 0.4 },
			failedGO: []string{"Mean return / drawdown"},
		},
		{
			name:      "deep drawdown",
			mutate:    func(in *DecisionInput) { in.MaximumDrawdown = -0.6 },
			failedGO:  []string{"Maximum drawdown"},
			firedNOGO: []string{"Excessive drawdown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := goInput()
			tt.mutate(&in)
			result, err := NewEvaluator().Evaluate(in)
			require.NoError(t, err)
			assert.Equal(t, DecisionNOGO, result.Decision)
			assert.Equal(t, tt.failedGO, triggered(result.GOCriteria))
			assert.Equal(t, tt.firedNOGO, triggered(result.NOGOChecks))
		})
	}
}

func TestEvaluate_NaNRatioPasses(t *testing.T) {
	in := goInput()
	in.MeanRatio = math.NaN()
	result, err := NewEvaluator().Evaluate(in)
	require.NoError(t, err)
	assert.Equal(t, DecisionGO, result.Decision)
}

func TestEvaluate_ValidationError(t *testing.T) {
	in := goInput()
	in.StrategyName = ""
	_, err := NewEvaluator().Evaluate(in)
	assert.True(t, errors.Is(err, ErrEmptyStrategyID))

	in = goInput()
	in.NetValue = math.Inf(1)
	_, err = NewEvaluator().Evaluate(in)
	assert.True(t, errors.Is(err, ErrInvalidMetric))

	var nilInput *DecisionInput
	assert.True(t, errors.Is(nilInput.Validate(), ErrNilInput))
}

func TestEvaluate_Deterministic(t *testing.T) {
	first, err := NewEvaluator().Evaluate(goInput())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := NewEvaluator().Evaluate(goInput())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBuild(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	base := storagetest.Report("run1", "s", at)
	stressed := storagetest.Report("run2", "s", at)
	stressed.Rows[2].Report.CumulativeNetValue = 1.006

	in, err := Build(base, stressed, 2)
	require.NoError(t, err)
	assert.Equal(t, 1.01, in.NetValue)
	assert.Equal(t, 1.006, in.StressedNetValue)
	// Offset 1 has no report and is not counted.
	assert.Equal(t, 100.0, in.PositiveOffsetPct)
	assert.Equal(t, 29.17, in.MeanRatio)
	assert.Equal(t, "run1", in.RunID)

	result, err := NewEvaluator().Evaluate(*in)
	require.NoError(t, err)
	assert.Equal(t, DecisionGO, result.Decision)
}

func TestBuild_Errors(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := Build(storagetest.Report("a", "s", at), storagetest.Report("b", "other", at), 2)
	assert.True(t, errors.Is(err, ErrStrategyMismatch))

	noPooled := storagetest.Report("a", "s", at)
	noPooled.Rows = noPooled.Rows[:2]
	_, err = Build(noPooled, storagetest.Report("b", "s", at), 2)
	assert.True(t, errors.Is(err, ErrNoPooledRow))
}

type staticConfigs domain.StrategyConfig

func (c staticConfigs) Get(string) (domain.StrategyConfig, error) { return domain.StrategyConfig(c), nil }

func TestGate_Decide(t *testing.T) {
	ctx := context.Background()
	bars := memory.NewBarStore()
	require.NoError(t, bars.InsertBulk(ctx, storagetest.Bars(48, "AAA", "BBB", "CCC", "DDD")))

	cfg := domain.StrategyConfig{
		Name:     "mv_2h",
		CoinNum:  1,
		Window:   3,
		HoldHour: "2H",
		CRate:    0.001,
		Factors:  domain.FactorWeights{{Name: factor.MomentumVolatility, Weight: 1}},
	}
	base, err := orchestrator.New(orchestrator.Options{
		Configs:  staticConfigs(cfg),
		BarStore: bars,
	}).Run(ctx, orchestrator.Request{Strategy: cfg.Name})
	require.NoError(t, err)

	result, err := NewGate(GateOptions{BarStore: bars}).Decide(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, base.RunID, result.RunID)
	assert.Len(t, result.GOCriteria, 5)
	assert.Len(t, result.NOGOChecks, 4)
	assert.Contains(t, result.GOCriteria[2].Name, "2x")
}

func TestRenderMarkdown(t *testing.T) {
	result, err := NewEvaluator().Evaluate(goInput())
	require.NoError(t, err)
	md := RenderMarkdown(result)
	assert.Contains(t, md, "## Decision: GO")
	assert.Contains(t, md, "GO Criteria: 5/5 passed")
	assert.Contains(t, md, "NO-GO Triggers: 0/4 triggered")

	in := goInput()
	in.MaximumDrawdown = -0.7
	result, err = NewEvaluator().Evaluate(in)
	require.NoError(t, err)
	md = RenderMarkdown(result)
	assert.Contains(t, md, "## Decision: NO-GO")
	assert.True(t, strings.Contains(md, "- NO-GO trigger fired: Excessive drawdown"))
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factor-lab/internal/config"
	"factor-lab/internal/domain"
	"factor-lab/internal/factor"
	"factor-lab/internal/idhash"
	"factor-lab/internal/observability"
	"factor-lab/internal/storage"
	"factor-lab/internal/storage/memory"
	"factor-lab/internal/storage/storagetest"
	"factor-lab/internal/stream"
)

type mapConfigs map[string]domain.StrategyConfig

func (m mapConfigs) Get(name string) (domain.StrategyConfig, error) {
	cfg, ok := m[name]
	if !ok {
		return domain.StrategyConfig{}, fmt.Errorf("%w: %s", config.ErrStrategyNotFound, name)
	}
	return cfg, nil
}

type countingBarStore struct {
	storage.BarStore
	calls int
}

func (s *countingBarStore) GetAll(ctx context.Context) ([]domain.Bar, error) {
	s.calls++
	return s.BarStore.GetAll(ctx)
}

func (s *countingBarStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]domain.Bar, error) {
	s.calls++
	return s.BarStore.GetByTimeRange(ctx, start, end)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []stream.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev stream.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func closeRegistry(t *testing.T) *factor.Registry {
	t.Helper()
	r := factor.NewRegistry()
	require.NoError(t, r.Register("close", factor.SignalFunc(func(bars []domain.Bar, _ int) []float64 {
		out := make([]float64, len(bars))
		for i, b := range bars {
			out[i] = b.Close
		}
		return out
	})))
	return r
}

func testStrategy() domain.StrategyConfig {
	return domain.StrategyConfig{
		Name:     "close_1h",
		CoinNum:  1,
		Window:   3,
		HoldHour: "2H",
		CRate:    0,
		Factors:  domain.FactorWeights{{Name: "close", Weight: 1}},
	}
}

type fixture struct {
	bars      *countingBarStore
	reports   *memory.ReportStore
	publisher *recordingPublisher
	metrics   *observability.Metrics
	orch      *Orchestrator
}

func newFixture(t *testing.T, configs mapConfigs) *fixture {
	t.Helper()
	barStore := memory.NewBarStore()
	require.NoError(t, barStore.InsertBulk(context.Background(), storagetest.Bars(48, "AAA", "BBB", "CCC", "DDD")))

	f := &fixture{
		bars:      &countingBarStore{BarStore: barStore},
		reports:   memory.NewReportStore(),
		publisher: &recordingPublisher{},
		metrics:   observability.NewMetricsWith(prometheus.NewRegistry(), "test"),
	}
	f.orch = New(Options{
		Configs:     configs,
		BarStore:    f.bars,
		ReportStore: f.reports,
		Registry:    closeRegistry(t),
		Publisher:   f.publisher,
		Metrics:     f.metrics,
	}).WithClock(func() time.Time { return fixedNow })
	return f
}

func TestOrchestrator_Run(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mapConfigs{"close_1h": testStrategy()})

	report, err := f.orch.Run(ctx, Request{Strategy: "close_1h"})
	require.NoError(t, err)

	assert.Equal(t, idhash.ComputeRunID(testStrategy(), fixedNow), report.RunID)
	assert.Equal(t, "close_1h", report.StrategyName)
	assert.Equal(t, fixedNow, report.CreatedAt)

	// Two offsets (hour % 2) then the pooled row.
	require.Len(t, report.Rows, 3)
	require.NotNil(t, report.Rows[0].Offset)
	require.NotNil(t, report.Rows[1].Offset)
	assert.Equal(t, 0, *report.Rows[0].Offset)
	assert.Equal(t, 1, *report.Rows[1].Offset)
	assert.True(t, report.Rows[2].IsPooled())

	// Long DDD (ret 0.04), short AAA (ret 0.01): every period returns 0.015.
	r0 := report.Rows[0].Report
	require.NotNil(t, r0)
	assert.Equal(t, 24, r0.ProfitPeriodCount)
	assert.Equal(t, 0, r0.LossPeriodCount)
	assert.InDelta(t, 0.015, r0.AveragePeriodReturn, 1e-12)

	stored, err := f.reports.GetByID(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, stored.RunID)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, report.RunID, f.publisher.events[0].RunID)
	assert.Equal(t, 2, f.publisher.events[0].Offsets)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BacktestRunsTotal.WithLabelValues("close_1h", observability.StatusSuccess)))
	assert.Equal(t, 192.0, testutil.ToFloat64(f.metrics.BarsLoaded))
	assert.Equal(t, 48.0, testutil.ToFloat64(f.metrics.SelectionRows.WithLabelValues("long")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.OffsetsSimulated))
}

func TestOrchestrator_StrategyNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mapConfigs{})

	report, err := f.orch.Run(ctx, Request{Strategy: "missing"})
	assert.Nil(t, report)
	assert.True(t, errors.Is(err, config.ErrStrategyNotFound), "got %v", err)

	// Nothing computed or stored.
	assert.Equal(t, 0, f.bars.calls)
	runs, err := f.reports.ListByStrategy(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Empty(t, f.publisher.events)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BacktestRunsTotal.WithLabelValues("missing", observability.StatusError)))
}

func TestOrchestrator_UnknownFactor(t *testing.T) {
	cfg := testStrategy()
	cfg.Factors = domain.FactorWeights{{Name: "nope", Weight: 1}}
	f := newFixture(t, mapConfigs{cfg.Name: cfg})

	_, err := f.orch.Run(context.Background(), Request{Strategy: cfg.Name})
	assert.True(t, errors.Is(err, factor.ErrUnknownFactor), "got %v", err)
	assert.Equal(t, 0, f.bars.calls)
}

func TestOrchestrator_FactorOverride(t *testing.T) {
	cfg := testStrategy()
	cfg.Factors = domain.FactorWeights{{Name: "nope", Weight: 1}}
	f := newFixture(t, mapConfigs{cfg.Name: cfg})

	report, err := f.orch.Run(context.Background(), Request{
		Strategy: cfg.Name,
		Factors:  domain.FactorWeights{{Name: "close", Weight: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FactorWeights{{Name: "close", Weight: 1}}, report.Config.Factors)
}

func TestOrchestrator_InvalidConfig(t *testing.T) {
	cfg := testStrategy()
	cfg.HoldHour = "two hours"
	f := newFixture(t, mapConfigs{cfg.Name: cfg})

	_, err := f.orch.Run(context.Background(), Request{Strategy: cfg.Name})
	assert.True(t, errors.Is(err, config.ErrInvalidConfig), "got %v", err)
}

func TestOrchestrator_TimeRange(t *testing.T) {
	f := newFixture(t, mapConfigs{"close_1h": testStrategy()})

	report, err := f.orch.Run(context.Background(), Request{
		Strategy: "close_1h",
		Start:    storagetest.T0,
		End:      storagetest.T0.Add(9 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 40.0, testutil.ToFloat64(f.metrics.BarsLoaded))
	require.NotNil(t, report.Rows[0].Report)
	assert.Equal(t, 5, report.Rows[0].Report.ProfitPeriodCount)
}

func TestOrchestrator_NoBars(t *testing.T) {
	reports := memory.NewReportStore()
	orch := New(Options{
		Configs:     mapConfigs{"close_1h": testStrategy()},
		BarStore:    memory.NewBarStore(),
		ReportStore: reports,
		Registry:    closeRegistry(t),
	})

	report, err := orch.Run(context.Background(), Request{Strategy: "close_1h"})
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	assert.True(t, report.Rows[0].IsPooled())
	assert.Nil(t, report.Rows[0].Report)
	assert.Equal(t, 0.0, report.MeanAnnualReturnDrawdownRatio)
}

func TestOrchestrator_MissingDependency(t *testing.T) {
	_, err := New(Options{}).Run(context.Background(), Request{Strategy: "x"})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

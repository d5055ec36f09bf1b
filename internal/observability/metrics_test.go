package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry(), "test")
}

func TestRecordBacktestRun(t *testing.T) {
	m := newTestMetrics()

	m.RecordBacktestRun("alpha", StatusSuccess, 2.5)
	m.RecordBacktestRun("alpha", StatusError, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BacktestRunsTotal.WithLabelValues("alpha", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BacktestRunsTotal.WithLabelValues("alpha", StatusError)))
	assert.Equal(t, 2.5, testutil.ToFloat64(m.MeanRatio.WithLabelValues("alpha")))
	assert.Greater(t, testutil.ToFloat64(m.LastSuccessfulRun), 0.0)
}

func TestRecordSelection(t *testing.T) {
	m := newTestMetrics()
	m.RecordSelection(4, 3)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.SelectionRows.WithLabelValues("long")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SelectionRows.WithLabelValues("short")))
}

func TestRecordConfigReload(t *testing.T) {
	m := newTestMetrics()

	m.RecordConfigReload(nil, 3)
	m.RecordConfigReload(errors.New("bad dir"), 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.StrategiesLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfigReloads.WithLabelValues(StatusError)))
}

func TestObserveStage(t *testing.T) {
	m := newTestMetrics()
	m.ObserveStage("selection", time.Now().Add(-time.Second))

	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
}

func TestRecordDBQuery(t *testing.T) {
	m := newTestMetrics()
	m.RecordDBQuery("postgres", "insert_report", 0.01, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("postgres", "insert_report")))
}

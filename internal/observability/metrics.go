// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Backtest metrics
	BacktestRunsTotal *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	BarsLoaded        prometheus.Counter
	SelectionRows     *prometheus.CounterVec
	OffsetsSimulated  prometheus.Counter
	MeanRatio         *prometheus.GaugeVec

	// Config metrics
	ConfigReloads    *prometheus.CounterVec
	StrategiesLoaded prometheus.Gauge

	// Stream metrics
	StreamClients         prometheus.Gauge
	StreamMessagesSent    prometheus.Counter
	StreamMessagesDropped prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith creates a new Metrics instance registered on reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "factor_lab"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Backtest metrics
		BacktestRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Total number of backtest runs by strategy and status",
		}, []string{"strategy", "status"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "stage_duration_seconds",
			Help:      "Backtest stage duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"stage"}),
		BarsLoaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "bars_loaded_total",
			Help:      "Total number of bars loaded for backtests",
		}),
		SelectionRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "selection_rows_total",
			Help:      "Total number of selected positions by direction",
		}, []string{"direction"}),
		OffsetsSimulated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "offsets_simulated_total",
			Help:      "Total number of offset curves simulated",
		}),
		MeanRatio: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "mean_annual_return_drawdown_ratio",
			Help:      "Mean annual return / drawdown ratio of the latest run per strategy",
		}, []string{"strategy"}),

		// Config metrics
		ConfigReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "reloads_total",
			Help:      "Total number of strategy config reloads by status",
		}, []string{"status"}),
		StrategiesLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "strategies_loaded",
			Help:      "Number of strategy configs currently loaded",
		}),

		// Stream metrics
		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Number of connected WebSocket clients",
		}),
		StreamMessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_sent_total",
			Help:      "Total number of messages written to WebSocket clients",
		}),
		StreamMessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped for slow clients",
		}),

		// HTTP metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful backtest run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordBacktestRun records a finished backtest run.
func (m *Metrics) RecordBacktestRun(strategy, status string, meanRatio float64) {
	m.BacktestRunsTotal.WithLabelValues(strategy, status).Inc()
	if status == StatusSuccess {
		m.MeanRatio.WithLabelValues(strategy).Set(meanRatio)
		m.LastSuccessfulRun.Set(float64(time.Now().Unix()))
	}
}

// ObserveStage records how long a backtest stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordSelection counts selected positions.
func (m *Metrics) RecordSelection(longs, shorts int) {
	m.SelectionRows.WithLabelValues("long").Add(float64(longs))
	m.SelectionRows.WithLabelValues("short").Add(float64(shorts))
}

// RecordConfigReload records a config reload and the resulting count.
func (m *Metrics) RecordConfigReload(err error, strategies int) {
	if err != nil {
		m.ConfigReloads.WithLabelValues(StatusError).Inc()
		return
	}
	m.ConfigReloads.WithLabelValues(StatusSuccess).Inc()
	m.StrategiesLoaded.Set(float64(strategies))
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route, code string, seconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, code).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// Run status labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Package api exposes the backtest pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"factor-lab/internal/config"
	"factor-lab/internal/domain"
	"factor-lab/internal/factor"
	"factor-lab/internal/idhash"
	"factor-lab/internal/observability"
	"factor-lab/internal/orchestrator"
	"factor-lab/internal/reporting"
	"factor-lab/internal/storage"
	"factor-lab/internal/verification"
)

// Runner executes a backtest and returns the stored report.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*domain.BacktestReport, error)
}

// Strategies lists the loaded strategy configs.
type Strategies interface {
	Names() []string
	Get(name string) (domain.StrategyConfig, error)
}

// Verifier re-runs a stored backtest and reports divergences.
type Verifier interface {
	VerifyRun(ctx context.Context, runID string) (*verification.VerificationResult, error)
}

// Options configures the router. Verifier, Stream and MetricsHandler are optional.
type Options struct {
	Runner     Runner
	Strategies Strategies
	Reports    storage.ReportStore
	Verifier   Verifier

	CORSOrigins    []string // empty disables CORS
	Stream         http.Handler
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	Logger         *log.Logger
}

// Server holds the handler dependencies.
type Server struct {
	runner     Runner
	strategies Strategies
	reports    storage.ReportStore
	verifier   Verifier
	history    *reporting.Generator
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{
		runner:     opts.Runner,
		strategies: opts.Strategies,
		reports:    opts.Reports,
		verifier:   opts.Verifier,
		history:    reporting.NewGenerator(opts.Reports),
	}

	router := gin.New()
	router.Use(ErrorHandler(logger))
	router.Use(RequestLogger(logger))
	if len(opts.CORSOrigins) > 0 {
		router.Use(CORS(opts.CORSOrigins))
	}
	if opts.Metrics != nil {
		router.Use(Metrics(opts.Metrics))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}
	if opts.Stream != nil {
		router.GET("/ws", gin.WrapH(opts.Stream))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/strategies", s.ListStrategies)
		v1.GET("/strategies/:name/history", s.GetHistory)

		v1.POST("/backtests", s.RunBacktest)
		v1.GET("/backtests/:id", s.GetBacktest)
		v1.GET("/backtests/:id/report.csv", s.GetBacktestCSV)
		v1.GET("/backtests/:id/report.md", s.GetBacktestMarkdown)
		if opts.Verifier != nil {
			v1.GET("/backtests/:id/verify", s.VerifyBacktest)
		}
	}

	return router
}

// ListStrategies handles GET /api/v1/strategies
func (s *Server) ListStrategies(c *gin.Context) {
	names := s.strategies.Names()
	out := make([]StrategyResponse, 0, len(names))
	for _, name := range names {
		cfg, err := s.strategies.Get(name)
		if err != nil {
			// Removed by a concurrent reload.
			continue
		}
		out = append(out, newStrategyResponse(cfg))
	}
	c.JSON(http.StatusOK, out)
}

// GetHistory handles GET /api/v1/strategies/:name/history
func (s *Server) GetHistory(c *gin.Context) {
	h, err := s.history.Generate(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newHistoryResponse(h))
}

// RunBacktest handles POST /api/v1/backtests
func (s *Server) RunBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}

	orchReq := orchestrator.Request{
		Strategy: req.Strategy,
		Factors:  domain.FactorWeights(req.Factors),
	}
	if req.Start != nil {
		orchReq.Start = req.Start.UTC()
	}
	if req.End != nil {
		orchReq.End = req.End.UTC()
	}
	if !orchReq.Start.IsZero() && !orchReq.End.IsZero() && orchReq.End.Before(orchReq.Start) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: "end is before start"},
		})
		return
	}

	report, err := s.runner.Run(c.Request.Context(), orchReq)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newReportResponse(report))
}

// GetBacktest handles GET /api/v1/backtests/:id
func (s *Server) GetBacktest(c *gin.Context) {
	report, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newReportResponse(report))
}

// GetBacktestCSV handles GET /api/v1/backtests/:id/report.csv
func (s *Server) GetBacktestCSV(c *gin.Context) {
	report, ok := s.lookup(c)
	if !ok {
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+report.RunID+`.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(reporting.RenderCSV(report)))
}

// GetBacktestMarkdown handles GET /api/v1/backtests/:id/report.md
func (s *Server) GetBacktestMarkdown(c *gin.Context) {
	report, ok := s.lookup(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(reporting.RenderMarkdown(report)))
}

// VerifyBacktest handles GET /api/v1/backtests/:id/verify
func (s *Server) VerifyBacktest(c *gin.Context) {
	id := c.Param("id")
	if err := idhash.ValidateRunID(id); err != nil {
		writeError(c, err)
		return
	}
	result, err := s.verifier.VerifyRun(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newVerificationResponse(result))
}

func (s *Server) lookup(c *gin.Context) (*domain.BacktestReport, bool) {
	id := c.Param("id")
	if err := idhash.ValidateRunID(id); err != nil {
		writeError(c, err)
		return nil, false
	}
	report, err := s.reports.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return report, true
}

// writeError maps pipeline and storage errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, config.ErrStrategyNotFound):
		status, code = http.StatusNotFound, "STRATEGY_NOT_FOUND"
	case errors.Is(err, reporting.ErrNoRuns):
		status, code = http.StatusNotFound, "NO_RUNS"
	case errors.Is(err, storage.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, idhash.ErrInvalidRunID):
		status, code = http.StatusBadRequest, "INVALID_RUN_ID"
	case errors.Is(err, config.ErrInvalidConfig), errors.Is(err, factor.ErrUnknownFactor):
		status, code = http.StatusBadRequest, "INVALID_CONFIG"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "CANCELLED"
	}
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: err.Error()}})
}

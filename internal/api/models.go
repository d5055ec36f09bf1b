package api

import (
	"fmt"
	"math"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/reporting"
	"factor-lab/internal/verification"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BacktestRequest is the body of POST /api/v1/backtests.
type BacktestRequest struct {
	Strategy string                `json:"strategy" binding:"required"`
	Factors  []domain.FactorWeight `json:"factors,omitempty"`
	Start    *time.Time            `json:"start,omitempty"`
	End      *time.Time            `json:"end,omitempty"`
}

// StrategyResponse describes a loaded strategy config.
type StrategyResponse struct {
	Name     string                `json:"name"`
	CoinNum  int                   `json:"coin_num"`
	Window   int                   `json:"window"`
	HoldHour string                `json:"hold_hour"`
	CRate    float64               `json:"c_rate"`
	Factors  []domain.FactorWeight `json:"factors"`
}

// ReportResponse is a stored backtest report. Non-finite numbers are null.
type ReportResponse struct {
	RunID     string           `json:"run_id"`
	Strategy  StrategyResponse `json:"strategy"`
	CreatedAt time.Time        `json:"created_at"`
	Rows      []RowResponse    `json:"rows"`

	MeanAnnualReturnDrawdownRatio *float64 `json:"mean_annual_return_drawdown_ratio"`
}

// RowResponse is one report row. Report is null when the curve was empty.
type RowResponse struct {
	Offset  string               `json:"offset"`
	Report  *PerformanceResponse `json:"report"`
	Display []string             `json:"display"`
}

// PerformanceResponse mirrors domain.PerformanceReport.
type PerformanceResponse struct {
	CumulativeNetValue                 *float64  `json:"cumulative_net_value"`
	MaximumDrawdown                    *float64  `json:"maximum_drawdown"`
	MaximumDrawdownStartTime           time.Time `json:"maximum_drawdown_start_time"`
	MaximumDrawdownEndTime             time.Time `json:"maximum_drawdown_end_time"`
	ProfitPeriodCount                  int       `json:"profit_period_count"`
	LossPeriodCount                    int       `json:"loss_period_count"`
	WinRate                            *float64  `json:"win_rate"`
	AveragePeriodReturn                *float64  `json:"average_period_return"`
	ProfitLossRatio                    *float64  `json:"profit_loss_ratio"`
	MaximumPeriodProfit                *float64  `json:"maximum_period_profit"`
	MaximumPeriodLoss                  *float64  `json:"maximum_period_loss"`
	MaximumContinuousProfitPeriodCount int       `json:"maximum_continuous_profit_period_count"`
	MaximumContinuousLossPeriodCount   int       `json:"maximum_continuous_loss_period_count"`
	AnnualReturn                       *float64  `json:"annual_return"`
	AnnualReturnDrawdownRatio          *float64  `json:"annual_return_drawdown_ratio"`
}

// HistoryResponse lists every stored run of a strategy.
type HistoryResponse struct {
	Strategy    string               `json:"strategy"`
	GeneratedAt time.Time            `json:"generated_at"`
	Runs        []RunSummaryResponse `json:"runs"`
	BestRunID   string               `json:"best_run_id"`
}

// RunSummaryResponse mirrors reporting.RunSummary.
type RunSummaryResponse struct {
	RunID                         string    `json:"run_id"`
	CreatedAt                     time.Time `json:"created_at"`
	Offsets                       int       `json:"offsets"`
	MeanAnnualReturnDrawdownRatio *float64  `json:"mean_annual_return_drawdown_ratio"`
	PooledCumulativeNetValue      *float64  `json:"pooled_cumulative_net_value"`
	PooledMaximumDrawdown         *float64  `json:"pooled_maximum_drawdown"`
	PooledAnnualReturn            *float64  `json:"pooled_annual_return"`
}

// finite returns nil for NaN and infinities, which encoding/json rejects.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func newStrategyResponse(cfg domain.StrategyConfig) StrategyResponse {
	factors := cfg.Factors
	if factors == nil {
		factors = domain.FactorWeights{}
	}
	return StrategyResponse{
		Name:     cfg.Name,
		CoinNum:  cfg.CoinNum,
		Window:   cfg.Window,
		HoldHour: cfg.HoldHour,
		CRate:    cfg.CRate,
		Factors:  factors,
	}
}

func newReportResponse(r *domain.BacktestReport) ReportResponse {
	resp := ReportResponse{
		RunID:                         r.RunID,
		Strategy:                      newStrategyResponse(r.Config),
		CreatedAt:                     r.CreatedAt.UTC(),
		Rows:                          make([]RowResponse, 0, len(r.Rows)),
		MeanAnnualReturnDrawdownRatio: finite(r.MeanAnnualReturnDrawdownRatio),
	}
	for _, row := range r.Rows {
		resp.Rows = append(resp.Rows, RowResponse{
			Offset:  reporting.OffsetLabel(row),
			Report:  newPerformanceResponse(row.Report),
			Display: reporting.DisplayCells(row),
		})
	}
	return resp
}

func newPerformanceResponse(p *domain.PerformanceReport) *PerformanceResponse {
	if p == nil {
		return nil
	}
	return &PerformanceResponse{
		CumulativeNetValue:                 finite(p.CumulativeNetValue),
		MaximumDrawdown:                    finite(p.MaximumDrawdown),
		MaximumDrawdownStartTime:           p.MaximumDrawdownStartTime.UTC(),
		MaximumDrawdownEndTime:             p.MaximumDrawdownEndTime.UTC(),
		ProfitPeriodCount:                  p.ProfitPeriodCount,
		LossPeriodCount:                    p.LossPeriodCount,
		WinRate:                            finite(p.WinRate),
		AveragePeriodReturn:                finite(p.AveragePeriodReturn),
		ProfitLossRatio:                    finite(p.ProfitLossRatio),
		MaximumPeriodProfit:                finite(p.MaximumPeriodProfit),
		MaximumPeriodLoss:                  finite(p.MaximumPeriodLoss),
		MaximumContinuousProfitPeriodCount: p.MaximumContinuousProfitPeriodCount,
		MaximumContinuousLossPeriodCount:   p.MaximumContinuousLossPeriodCount,
		AnnualReturn:                       finite(p.AnnualReturn),
		AnnualReturnDrawdownRatio:          finite(p.AnnualReturnDrawdownRatio),
	}
}

func newHistoryResponse(h *reporting.History) HistoryResponse {
	resp := HistoryResponse{
		Strategy:    h.StrategyName,
		GeneratedAt: h.GeneratedAt,
		Runs:        make([]RunSummaryResponse, 0, len(h.Runs)),
	}
	for _, s := range h.Runs {
		resp.Runs = append(resp.Runs, RunSummaryResponse{
			RunID:                         s.RunID,
			CreatedAt:                     s.CreatedAt.UTC(),
			Offsets:                       s.Offsets,
			MeanAnnualReturnDrawdownRatio: finite(s.MeanAnnualReturnDrawdownRatio),
			PooledCumulativeNetValue:      finite(s.PooledCumulativeNetValue),
			PooledMaximumDrawdown:         finite(s.PooledMaximumDrawdown),
			PooledAnnualReturn:            finite(s.PooledAnnualReturn),
		})
	}
	if h.Best != nil {
		resp.BestRunID = h.Best.RunID
	}
	return resp
}

// VerificationResponse is the body of GET /api/v1/backtests/:id/verify.
type VerificationResponse struct {
	RunID       string               `json:"run_id"`
	Match       bool                 `json:"match"`
	Divergences []DivergenceResponse `json:"divergences"`
}

// DivergenceResponse describes one mismatched field. Values are rendered
// as strings so NaN survives JSON.
type DivergenceResponse struct {
	Row      string `json:"row,omitempty"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func newVerificationResponse(r *verification.VerificationResult) VerificationResponse {
	out := VerificationResponse{
		RunID:       r.RunID,
		Match:       r.Match,
		Divergences: make([]DivergenceResponse, 0, len(r.Divergences)),
	}
	for _, d := range r.Divergences {
		out.Divergences = append(out.Divergences, DivergenceResponse{
			Row:      d.Row,
			Field:    d.Field,
			Expected: fmt.Sprint(d.Expected),
			Actual:   fmt.Sprint(d.Actual),
		})
	}
	return out
}

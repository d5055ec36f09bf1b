// Package reporting renders backtest reports as CSV, Markdown and console
// tables, and summarises a strategy's run history.
package reporting

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"factor-lab/internal/domain"
)

// TimeLayout formats drawdown timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// PooledLabel is the offset cell of the all-offsets row.
const PooledLabel = "all"

// Columns is the report table header.
var Columns = []string{
	"offset",
	"cumulative_net_value",
	"maximum_drawdown",
	"maximum_drawdown_start_time",
	"maximum_drawdown_end_time",
	"profit_period_count",
	"loss_period_count",
	"win_rate",
	"average_period_return",
	"profit_loss_ratio",
	"maximum_period_profit",
	"maximum_period_loss",
	"maximum_continuous_profit_period_count",
	"maximum_continuous_loss_period_count",
	"annual_return",
	"annual_return_drawdown_ratio",
}

// OffsetLabel returns the offset cell of a row.
func OffsetLabel(row domain.ReportRow) string {
	if row.IsPooled() {
		return PooledLabel
	}
	return strconv.Itoa(*row.Offset)
}

// DisplayCells formats a row for humans: fractions as percentages, the
// annual return as a multiple with a "times" suffix. A row without a
// report renders "-" cells.
func DisplayCells(row domain.ReportRow) []string {
	cells := []string{OffsetLabel(row)}
	r := row.Report
	if r == nil {
		for range Columns[1:] {
			cells = append(cells, "-")
		}
		return cells
	}
	return append(cells,
		fmt.Sprintf("%.2f", r.CumulativeNetValue),
		Percent(r.MaximumDrawdown),
		formatTime(r.MaximumDrawdownStartTime),
		formatTime(r.MaximumDrawdownEndTime),
		strconv.Itoa(r.ProfitPeriodCount),
		strconv.Itoa(r.LossPeriodCount),
		Percent(r.WinRate),
		Percent(r.AveragePeriodReturn),
		Ratio(r.ProfitLossRatio),
		Percent(r.MaximumPeriodProfit),
		Percent(r.MaximumPeriodLoss),
		strconv.Itoa(r.MaximumContinuousProfitPeriodCount),
		strconv.Itoa(r.MaximumContinuousLossPeriodCount),
		Times(r.AnnualReturn),
		Ratio(r.AnnualReturnDrawdownRatio),
	)
}

// Percent formats a fraction as a 2-decimal percentage.
func Percent(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

// Ratio formats a 2-decimal ratio; NaN stays "NaN".
func Ratio(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.2f", v)
}

// Times formats a multiple with the "times" suffix.
func Times(v float64) string {
	return Ratio(v) + " times"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

var nan = math.NaN()

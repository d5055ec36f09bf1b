package reporting

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"factor-lab/internal/domain"
)

// RenderCSV renders report rows as CSV string with raw numeric values.
// Fractions stay fractions, NaN is written as "NaN" and a row without a
// report has empty metric cells.
func RenderCSV(r *domain.BacktestReport) string {
	var sb strings.Builder

	// Header
	sb.WriteString(strings.Join(Columns, ","))
	sb.WriteString("\n")

	// Rows
	for _, row := range r.Rows {
		sb.WriteString(OffsetLabel(row))
		rep := row.Report
		if rep == nil {
			sb.WriteString(strings.Repeat(",", len(Columns)-1))
			sb.WriteString("\n")
			continue
		}
		sb.WriteString(fmt.Sprintf(",%s,%s,%s,%s,%d,%d,%s,%s,%s,%s,%s,%d,%d,%s,%s\n",
			raw(rep.CumulativeNetValue),
			raw(rep.MaximumDrawdown),
			rep.MaximumDrawdownStartTime.UTC().Format(time.RFC3339),
			rep.MaximumDrawdownEndTime.UTC().Format(time.RFC3339),
			rep.ProfitPeriodCount,
			rep.LossPeriodCount,
			raw(rep.WinRate),
			raw(rep.AveragePeriodReturn),
			raw(rep.ProfitLossRatio),
			raw(rep.MaximumPeriodProfit),
			raw(rep.MaximumPeriodLoss),
			rep.MaximumContinuousProfitPeriodCount,
			rep.MaximumContinuousLossPeriodCount,
			raw(rep.AnnualReturn),
			raw(rep.AnnualReturnDrawdownRatio),
		))
	}

	return sb.String()
}

func raw(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

package reporting

import (
	"fmt"
	"strings"
	"time"

	"factor-lab/internal/domain"
)

// RenderMarkdown renders a backtest report as Markdown string.
func RenderMarkdown(r *domain.BacktestReport) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Backtest Report: %s\n\n", r.StrategyName))
	sb.WriteString(fmt.Sprintf("Run: %s\n\n", r.RunID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.CreatedAt.UTC().Format(time.RFC3339)))

	// Parameters
	sb.WriteString("## Parameters\n\n")
	sb.WriteString("| Parameter | Value |\n")
	sb.WriteString("|-----------|-------|\n")
	sb.WriteString(fmt.Sprintf("| coin_num | %d |\n", r.Config.CoinNum))
	sb.WriteString(fmt.Sprintf("| window | %d |\n", r.Config.Window))
	sb.WriteString(fmt.Sprintf("| hold_hour | %s |\n", r.Config.HoldHour))
	sb.WriteString(fmt.Sprintf("| c_rate | %g |\n", r.Config.CRate))
	sb.WriteString("\n")

	// Factors
	sb.WriteString("## Factors\n\n")
	if len(r.Config.Factors) > 0 {
		sb.WriteString("| Factor | Weight |\n")
		sb.WriteString("|--------|--------|\n")
		for _, f := range r.Config.Factors {
			sb.WriteString(fmt.Sprintf("| %s | %g |\n", f.Name, f.Weight))
		}
	} else {
		sb.WriteString("No factors configured.\n")
	}
	sb.WriteString("\n")

	// Results
	sb.WriteString("## Results\n\n")
	if len(r.Rows) > 0 {
		sb.WriteString("| " + strings.Join(Columns, " | ") + " |\n")
		sb.WriteString("|" + strings.Repeat("---|", len(Columns)) + "\n")
		for _, row := range r.Rows {
			sb.WriteString("| " + strings.Join(DisplayCells(row), " | ") + " |\n")
		}
	} else {
		sb.WriteString("No results available.\n")
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("Average annual_return_drawdown_ratio across offsets: %s\n",
		Ratio(r.MeanAnnualReturnDrawdownRatio)))

	return sb.String()
}

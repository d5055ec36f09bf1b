package reporting

import (
	"bytes"

	"github.com/olekukonko/tablewriter"

	"factor-lab/internal/domain"
)

// RenderTable renders report rows as a console table, one row per offset
// followed by the pooled row.
func RenderTable(r *domain.BacktestReport) string {
	var b bytes.Buffer
	table := tablewriter.NewWriter(&b)
	table.SetHeader(Columns)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, row := range r.Rows {
		table.Append(DisplayCells(row))
	}
	table.Render()
	return b.String()
}

// RenderSummaryTable renders the per-run summary of a strategy history.
func RenderSummaryTable(h *History) string {
	var b bytes.Buffer
	table := tablewriter.NewWriter(&b)
	table.SetHeader(HistoryColumns)
	table.SetAutoFormatHeaders(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, run := range h.Runs {
		table.Append(run.Cells())
	}
	table.Render()
	return b.String()
}

package services

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"acs-pipeline/models"
	"acs-pipeline/utils"
)

type SummaryService struct {
	logger *utils.Logger
}

func NewSummaryService(logger *utils.Logger) *SummaryService {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &SummaryService{logger: logger}
}

// Generate computes the report for coll. previewCols selects the columns
// shown in the preview and described in ColumnStats; columns the result
// does not have are skipped with a warning.
func (s *SummaryService) Generate(coll *Collection, previewCols []string) *models.SummaryReport {
	report := &models.SummaryReport{FailuresByTable: make(map[string]int)}
	if coll == nil {
		return report
	}

	for _, f := range coll.Failures {
		report.Failures = append(report.Failures, f)
		report.FailuresByTable[f.TableID]++
	}

	result := coll.Result()
	report.Rows = result.Len()
	report.Columns = len(result.Columns)
	report.Years = result.Years()

	byLocation := make(map[string]int)
	for _, r := range result.Rows {
		key := r.Location.Key()
		if label, ok := r.Cells[models.ColumnLocationKey].(string); ok && label != "" {
			key = label
		}
		if _, ok := byLocation[key]; !ok {
			report.RowsByLocation = append(report.RowsByLocation, models.LocationCount{Location: key})
		}
		byLocation[key]++

		for _, c := range result.Columns {
			switch r.Cells[c].(type) {
			case nil:
				report.EmptyCells++
			case int64, float64:
				report.NumericCells++
			}
		}
	}
	for i := range report.RowsByLocation {
		report.RowsByLocation[i].Rows = byLocation[report.RowsByLocation[i].Location]
	}

	var cols []string
	for _, c := range previewCols {
		if !result.HasColumn(c) {
			s.logger.Warn("[summary] no column %q in result", c)
			continue
		}
		cols = append(cols, c)
		report.ColumnStats = append(report.ColumnStats, columnStat(result, c))
	}
	if len(cols) > 0 {
		report.Preview = preview(result, cols)
	}

	return report
}

func columnStat(t *models.ResultTable, col string) models.ColumnStat {
	stat := models.ColumnStat{Column: col}
	var total float64
	for _, r := range t.Rows {
		v, ok := numeric(r.Cells[col])
		if !ok {
			stat.Missing++
			continue
		}
		if stat.Count == 0 || v < stat.Min {
			stat.Min = v
		}
		if stat.Count == 0 || v > stat.Max {
			stat.Max = v
		}
		total += v
		stat.Count++
	}
	if stat.Count > 0 {
		stat.Average = round2(total / float64(stat.Count))
	}
	return stat
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func preview(t *models.ResultTable, cols []string) *models.ResultTable {
	out := models.NewTable(append([]string{models.ColumnLocationKey}, cols...)...)
	for _, r := range t.Rows {
		cells := make(map[string]any, len(out.Columns))
		for _, c := range out.Columns {
			if v, ok := r.Cells[c]; ok {
				cells[c] = v
			}
		}
		if _, ok := cells[models.ColumnLocationKey]; !ok {
			cells[models.ColumnLocationKey] = r.Location.Key()
		}
		out.Rows = append(out.Rows, models.Row{Year: r.Year, Location: r.Location, Cells: cells})
	}
	return out
}

// Print renders r to w.
func (s *SummaryService) Print(w io.Writer, r *models.SummaryReport) {
	sep := strings.Repeat("═", 54)
	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  ACS COLLECTION SUMMARY\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	overview := newTable(w)
	overview.AppendHeader(table.Row{"Overview", ""})
	overview.AppendRows([]table.Row{
		{"Rows", r.Rows},
		{"Columns", r.Columns},
		{"Years", yearSpan(r.Years)},
		{"Numeric cells", r.NumericCells},
		{"Empty cells", r.EmptyCells},
		{"Failed requests", len(r.Failures)},
	})
	overview.Render()
	fmt.Fprintln(w)

	if len(r.RowsByLocation) > 0 {
		locs := newTable(w)
		locs.AppendHeader(table.Row{"Location", "Rows"})
		for _, lc := range r.RowsByLocation {
			locs.AppendRow(table.Row{lc.Location, lc.Rows})
		}
		locs.Render()
		fmt.Fprintln(w)
	}

	if len(r.Failures) > 0 {
		tables := make([]string, 0, len(r.FailuresByTable))
		for id := range r.FailuresByTable {
			tables = append(tables, id)
		}
		sort.Strings(tables)

		fails := newTable(w)
		fails.AppendHeader(table.Row{"Table", "Year", "Location", "Reason"})
		for _, f := range r.Failures {
			fails.AppendRow(table.Row{f.TableID, f.Year, f.Location, failureReason(f.Err)})
		}
		for _, id := range tables {
			fails.AppendFooter(table.Row{id, "", "", fmt.Sprintf("%d failed", r.FailuresByTable[id])})
		}
		fails.Render()
		fmt.Fprintln(w)
	}

	if len(r.ColumnStats) > 0 {
		stats := newTable(w)
		stats.AppendHeader(table.Row{"Column", "Values", "Missing", "Min", "Max", "Average"})
		for _, cs := range r.ColumnStats {
			stats.AppendRow(table.Row{truncate(cs.Column, 60), cs.Count, cs.Missing,
				formatStat(cs.Min, cs.Count), formatStat(cs.Max, cs.Count), formatStat(cs.Average, cs.Count)})
		}
		stats.Render()
		fmt.Fprintln(w)
	}

	if r.Preview != nil {
		p := newTable(w)
		header := table.Row{"year"}
		for _, c := range r.Preview.Columns {
			header = append(header, truncate(c, 40))
		}
		p.AppendHeader(header)
		for _, row := range r.Preview.Rows {
			line := table.Row{row.Year}
			for _, c := range r.Preview.Columns {
				line = append(line, models.FormatValue(row.Cells[c]))
			}
			p.AppendRow(line)
		}
		p.Render()
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func yearSpan(years []int) string {
	switch len(years) {
	case 0:
		return "none"
	case 1:
		return fmt.Sprint(years[0])
	}
	return fmt.Sprintf("%d-%d (%d)", years[0], years[len(years)-1], len(years))
}

func failureReason(err error) string {
	var fe *models.FetchFailedError
	if errors.As(err, &fe) && fe.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d", fe.StatusCode)
	}
	if err == nil {
		return "unknown"
	}
	return truncate(err.Error(), 60)
}

func formatStat(v float64, count int) string {
	if count == 0 {
		return "-"
	}
	return models.FormatValue(v)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// truncate shortens s to at most max runes.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

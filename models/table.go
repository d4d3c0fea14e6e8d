package models

import (
	"sort"
	"strconv"
)

// Location-identifying columns appended after the decoded data columns.
const (
	ColumnName        = "name"
	ColumnLocationKey = "location_key"
)

// Row is one (year, location) observation. Cells holds int64, float64 or
// string values keyed by column name. Rows are never modified after they
// are added to a table; combining tables copies them.
type Row struct {
	Year     int
	Location ResolvedLocation
	Cells    map[string]any
}

// Get returns the cell for col.
func (r Row) Get(col string) (any, bool) {
	v, ok := r.Cells[col]
	return v, ok
}

// ResultTable is a column-ordered table indexed by year (and location when
// several locations are stacked).
type ResultTable struct {
	Columns []string
	Rows    []Row
}

// NewTable returns an empty table with the given column order.
func NewTable(columns ...string) *ResultTable {
	return &ResultTable{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (t *ResultTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether col is part of the table.
func (t *ResultTable) HasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Get returns the cell at row i, column col.
func (t *ResultTable) Get(i int, col string) (any, bool) {
	if i < 0 || i >= len(t.Rows) {
		return nil, false
	}
	return t.Rows[i].Get(col)
}

// Years returns the distinct years present, ascending.
func (t *ResultTable) Years() []int {
	seen := make(map[int]struct{})
	var years []int
	for _, r := range t.Rows {
		if _, ok := seen[r.Year]; ok {
			continue
		}
		seen[r.Year] = struct{}{}
		years = append(years, r.Year)
	}
	sort.Ints(years)
	return years
}

// SortByYear orders rows by ascending year, keeping the existing order
// among rows of the same year.
func (t *ResultTable) SortByYear() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return t.Rows[i].Year < t.Rows[j].Year
	})
}

// Concat stacks tables in the given order. Columns are the union in
// first-seen order. Nil tables are skipped.
func Concat(tables ...*ResultTable) *ResultTable {
	out := &ResultTable{}
	seen := make(map[string]struct{})
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, c := range t.Columns {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out.Columns = append(out.Columns, c)
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out
}

type joinKey struct {
	year  int
	state string
}

// LeftJoin keeps every row of base and adds the columns of other from the
// first other row with the same (year, state). Columns already present in
// base are not overwritten. Rows without a match get no cells for other's
// columns.
func LeftJoin(base, other *ResultTable) *ResultTable {
	if base == nil {
		return &ResultTable{}
	}
	out := NewTable(base.Columns...)
	if other == nil {
		out.Rows = append(out.Rows, base.Rows...)
		return out
	}

	var added []string
	for _, c := range other.Columns {
		if !base.HasColumn(c) {
			added = append(added, c)
		}
	}
	out.Columns = append(out.Columns, added...)

	index := make(map[joinKey]int, len(other.Rows))
	for i, r := range other.Rows {
		k := joinKey{r.Year, r.Location.State}
		if _, ok := index[k]; !ok {
			index[k] = i
		}
	}

	for _, r := range base.Rows {
		cells := make(map[string]any, len(r.Cells)+len(added))
		for k, v := range r.Cells {
			cells[k] = v
		}
		if i, ok := index[joinKey{r.Year, r.Location.State}]; ok {
			for _, c := range added {
				if v, ok := other.Rows[i].Cells[c]; ok {
					cells[c] = v
				}
			}
		}
		out.Rows = append(out.Rows, Row{Year: r.Year, Location: r.Location, Cells: cells})
	}
	return out
}

// FormatValue renders a cell value as text. Missing cells render empty.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case string:
		return val
	}
	return ""
}

// Failure records one (table, year, location) cell that produced no data.
type Failure struct {
	TableID  string
	Year     int
	Location string
	Err      error
}

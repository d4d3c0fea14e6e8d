package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"acs-pipeline/models"
	"acs-pipeline/utils"
)

// nameSentinel is the first metadata field of a response; everything from
// it onward is geography, not data.
const nameSentinel = "NAME"

// Reshaper turns one raw response into a single-row table with one
// column per decoded concept label.
type Reshaper struct {
	logger *utils.Logger
}

// NewReshaper creates a Reshaper with the given logger.
func NewReshaper(logger *utils.Logger) *Reshaper {
	return &Reshaper{logger: logger}
}

// Reshape decodes raw for one year and location.
//
// Only estimate ids (trailing "E") before the NAME field are decoded; ids
// the catalog does not know are skipped. When two ids decode to the same
// column name the first one wins. After the data columns the row carries
// name, one column per set geography level and location_key. Level
// columns hold the readable name from names, or the code when none is
// known; location_key is names.Label(loc).
func (r *Reshaper) Reshape(raw models.RawSeriesResponse, vars models.Variables, year int, loc models.ResolvedLocation, names models.LocationNames) (*models.ResultTable, error) {
	if len(raw.IDs) != len(raw.Values) {
		return nil, fmt.Errorf("reshape: %d ids but %d values", len(raw.IDs), len(raw.Values))
	}

	table := models.NewTable()
	cells := make(map[string]any)
	seen := make(map[string]struct{})
	skipped, dupes := 0, 0

	sentinel := len(raw.IDs)
	for i, id := range raw.IDs {
		if id == nameSentinel {
			sentinel = i
			break
		}
		if !isEstimate(id) {
			continue
		}

		def, ok := vars.Lookup(id)
		if !ok {
			skipped++
			continue
		}

		col := def.ColumnName()
		if _, dup := seen[col]; dup {
			dupes++
			continue
		}
		seen[col] = struct{}{}

		table.Columns = append(table.Columns, col)
		cells[col] = coerce(raw.Values[i])
	}

	if r.logger != nil && (skipped > 0 || dupes > 0) {
		r.logger.Debug("[reshaper] %d: skipped %d ids missing from the catalog, %d duplicate labels", year, skipped, dupes)
	}

	// Metadata columns.
	if sentinel < len(raw.IDs) {
		table.Columns = append(table.Columns, models.ColumnName)
		cells[models.ColumnName] = raw.Values[sentinel]
	}
	for _, lv := range loc.Levels() {
		col := string(lv.Kind)
		table.Columns = append(table.Columns, col)
		cells[col] = names.Display(lv)
	}
	table.Columns = append(table.Columns, models.ColumnLocationKey)
	cells[models.ColumnLocationKey] = names.Label(loc)

	table.Rows = []models.Row{{Year: year, Location: loc, Cells: cells}}
	return table, nil
}

// isEstimate reports whether id is an estimate variable as opposed to a
// margin of error ("M") or an annotation ("EA", "MA").
func isEstimate(id string) bool {
	return strings.HasSuffix(id, "E")
}

// coerce converts s to int64 or float64 when that loses nothing, i.e.
// formatting the number again reproduces s exactly.
func coerce(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) && strconv.FormatFloat(f, 'f', -1, 64) == s {
		return f
	}
	return s
}

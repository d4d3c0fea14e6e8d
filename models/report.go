package models

// SummaryReport holds the figures printed after a collection run.
type SummaryReport struct {
	Rows         int
	Columns      int
	NumericCells int
	EmptyCells   int
	Years        []int

	// RowsByLocation is in the order locations first appear.
	RowsByLocation []LocationCount

	Failures        []Failure
	FailuresByTable map[string]int

	ColumnStats []ColumnStat
	// Preview holds year, location_key and the requested columns.
	Preview *ResultTable
}

// LocationCount is the number of rows collected for one location key.
type LocationCount struct {
	Location string
	Rows     int
}

// ColumnStat summarises the numeric cells of one column. Missing is
// the number of rows with no numeric value.
type ColumnStat struct {
	Column  string
	Count   int
	Missing int
	Min     float64
	Max     float64
	Average float64
}

package models

import (
	"fmt"
	"strconv"
	"strings"
)

// TableFamily is one of the four published ACS table shapes. Each family
// has its own URL path and catalog file.
type TableFamily int

const (
	FamilyUnknown TableFamily = iota
	FamilyDetail
	FamilySubject
	FamilyDataProfile
	FamilyComparisonProfile
)

var familyAliases = map[string]TableFamily{
	"":                   FamilyDetail,
	"detail":             FamilyDetail,
	"subject":            FamilySubject,
	"profile":            FamilyDataProfile,
	"data profile":       FamilyDataProfile,
	"dprofile":           FamilyDataProfile,
	"comparison profile": FamilyComparisonProfile,
	"comp profile":       FamilyComparisonProfile,
	"cprofile":           FamilyComparisonProfile,
}

// ParseTableFamily accepts the family names used by callers ("detail",
// "subject", "profile", "cprofile", ...). The empty string means detail.
func ParseTableFamily(s string) (TableFamily, error) {
	f, ok := familyAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return FamilyUnknown, &InvalidTableFamilyError{Value: s}
	}
	return f, nil
}

// InferTableFamily classifies a table id by its leading characters:
// B detail, S subject, DP data profile, CP comparison profile.
func InferTableFamily(tableID string) (TableFamily, error) {
	id := strings.ToUpper(strings.TrimSpace(tableID))
	switch {
	case strings.HasPrefix(id, "B"):
		return FamilyDetail, nil
	case strings.HasPrefix(id, "S"):
		return FamilySubject, nil
	case strings.HasPrefix(id, "DP"):
		return FamilyDataProfile, nil
	case strings.HasPrefix(id, "CP"):
		return FamilyComparisonProfile, nil
	}
	return FamilyUnknown, &InvalidTableFamilyError{Value: tableID, Inferred: true}
}

// Valid reports whether f is one of the four known families.
func (f TableFamily) Valid() bool {
	return f >= FamilyDetail && f <= FamilyComparisonProfile
}

// PathSegment is the suffix appended to the product endpoint.
func (f TableFamily) PathSegment() string {
	switch f {
	case FamilySubject:
		return "/subject"
	case FamilyDataProfile:
		return "/profile"
	case FamilyComparisonProfile:
		return "/cprofile"
	}
	return ""
}

func (f TableFamily) String() string {
	switch f {
	case FamilyDetail:
		return "detail"
	case FamilySubject:
		return "subject"
	case FamilyDataProfile:
		return "dprofile"
	case FamilyComparisonProfile:
		return "cprofile"
	}
	return "unknown"
}

// Precision selects the 1, 3 or 5 year estimate product.
type Precision int

const (
	OneYear   Precision = 1
	ThreeYear Precision = 3
	FiveYear  Precision = 5
)

// ParsePrecision accepts 1, 3 or 5.
func ParsePrecision(n int) (Precision, error) {
	switch p := Precision(n); p {
	case OneYear, ThreeYear, FiveYear:
		return p, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidPrecision, n)
}

// Product is the API dataset name, e.g. "acs5".
func (p Precision) Product() string {
	return "acs" + strconv.Itoa(int(p))
}

// GeoKind names one level of the location hierarchy.
type GeoKind string

const (
	GeoState  GeoKind = "state"
	GeoMetro  GeoKind = "metro"
	GeoCounty GeoKind = "county"
	GeoPlace  GeoKind = "place"
)

// Location describes a geography as supplied by a caller. Each field is
// either a human-readable name or a numeric code; empty fields are unset.
type Location struct {
	State  string
	Metro  string
	County string
	Place  string
}

// ResolvedLocation holds only numeric codes and is ready to be serialised
// into a request filter.
type ResolvedLocation struct {
	State  string
	Metro  string
	County string
	Place  string
}

// StateOnly reports whether only the state level is set.
func (l ResolvedLocation) StateOnly() bool {
	return l.Metro == "" && l.County == "" && l.Place == ""
}

// Levels returns the set levels in request order: state, metro, county, place.
func (l ResolvedLocation) Levels() []GeoLevel {
	levels := make([]GeoLevel, 0, 4)
	for _, lv := range []GeoLevel{
		{GeoState, l.State},
		{GeoMetro, l.Metro},
		{GeoCounty, l.County},
		{GeoPlace, l.Place},
	} {
		if lv.Code != "" {
			levels = append(levels, lv)
		}
	}
	return levels
}

// Key is a stable identifier such as "state:06 place:55254".
func (l ResolvedLocation) Key() string {
	parts := make([]string, 0, 4)
	for _, lv := range l.Levels() {
		parts = append(parts, string(lv.Kind)+":"+lv.Code)
	}
	return strings.Join(parts, " ")
}

// GeoLevel is one (kind, code) pair of a ResolvedLocation.
type GeoLevel struct {
	Kind GeoKind
	Code string
}

// LocationNames holds the lower-cased readable name of each level of a
// ResolvedLocation. An empty field means no name is known.
type LocationNames struct {
	State  string
	Metro  string
	County string
	Place  string
}

// Get returns the name stored for kind.
func (n LocationNames) Get(kind GeoKind) string {
	switch kind {
	case GeoState:
		return n.State
	case GeoMetro:
		return n.Metro
	case GeoCounty:
		return n.County
	case GeoPlace:
		return n.Place
	}
	return ""
}

// Set stores name for kind.
func (n *LocationNames) Set(kind GeoKind, name string) {
	switch kind {
	case GeoState:
		n.State = name
	case GeoMetro:
		n.Metro = name
	case GeoCounty:
		n.County = name
	case GeoPlace:
		n.Place = name
	}
}

// Display returns the name of lv, or its code when the name is unknown.
func (n LocationNames) Display(lv GeoLevel) string {
	if name := n.Get(lv.Kind); name != "" {
		return name
	}
	return lv.Code
}

// Label joins the level names of loc with spaces, as in
// "california palm springs". A level without a name is written kind:code,
// so a location with no names gets the same label as loc.Key().
func (n LocationNames) Label(loc ResolvedLocation) string {
	parts := make([]string, 0, 4)
	for _, lv := range loc.Levels() {
		if name := n.Get(lv.Kind); name != "" {
			parts = append(parts, name)
			continue
		}
		parts = append(parts, string(lv.Kind)+":"+lv.Code)
	}
	return strings.Join(parts, " ")
}

// YearRange is an inclusive range of survey years.
type YearRange struct {
	Start int
	End   int
}

// Validate checks earliest <= Start <= End <= latest.
func (r YearRange) Validate(earliest, latest int) error {
	if r.Start > r.End {
		return fmt.Errorf("%w: start %d after end %d", ErrInvalidYearRange, r.Start, r.End)
	}
	if r.Start < earliest {
		return fmt.Errorf("%w: start %d before earliest published year %d", ErrInvalidYearRange, r.Start, earliest)
	}
	if r.End > latest {
		return fmt.Errorf("%w: end %d after latest published year %d", ErrInvalidYearRange, r.End, latest)
	}
	return nil
}

// Years lists every year in the range, ascending.
func (r YearRange) Years() []int {
	if r.End < r.Start {
		return nil
	}
	years := make([]int, 0, r.End-r.Start+1)
	for y := r.Start; y <= r.End; y++ {
		years = append(years, y)
	}
	return years
}

// RawSeriesResponse is the decoded two-row array returned for one
// (table, year, location) query: series ids and their values.
// Trailing ids are metadata (NAME and geography codes).
type RawSeriesResponse struct {
	IDs    []string
	Values []string
}

// Variable is one catalog entry.
type Variable struct {
	Concept string
	Label   string
}

// ColumnName joins concept and label and flattens the "!!" hierarchy
// separators into single spaces.
func (v Variable) ColumnName() string {
	return strings.ReplaceAll(v.Concept+" "+v.Label, "!!", " ")
}

// Variables maps series ids to their definitions. It is read-only once
// loaded and may be shared between goroutines.
type Variables map[string]Variable

// Lookup returns the definition for id, if the catalog has one.
func (v Variables) Lookup(id string) (Variable, bool) {
	def, ok := v[id]
	return def, ok
}

// Package locations turns human-readable place names into the numeric
// geography codes the Census API expects.
package locations

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"acs-pipeline/models"
)

// Lookup is the reference data a Resolver matches names against.
type Lookup interface {
	// StateCode returns the code for a state name or abbreviation.
	StateCode(name string) (string, bool)
	// Codes returns every code registered for name at the given level
	// inside the state.
	Codes(kind models.GeoKind, name, stateCode string) []string
	// Name returns the readable name registered for code. stateCode is
	// ignored for states.
	Name(kind models.GeoKind, code, stateCode string) (string, bool)
}

// Entry is one row of the reference table.
type Entry struct {
	Kind  models.GeoKind
	Name  string
	State string
	Code  string
}

type entryKey struct {
	kind  models.GeoKind
	name  string
	state string
}

type codeKey struct {
	kind  models.GeoKind
	code  string
	state string
}

// Table is an in-memory Lookup. It is read-only after construction.
type Table struct {
	states     map[string]string
	codes      map[entryKey][]string
	stateNames map[string]string
	names      map[codeKey]string
}

// NewTable indexes entries. State entries map name to code; other
// entries are keyed by (kind, name, state). The first name listed for a
// code is the one Name returns.
func NewTable(entries []Entry) *Table {
	t := &Table{
		states:     make(map[string]string),
		codes:      make(map[entryKey][]string),
		stateNames: make(map[string]string),
		names:      make(map[codeKey]string),
	}
	for _, e := range entries {
		name := Normalize(e.Name)
		if e.Kind == models.GeoState {
			t.states[name] = e.Code
			if _, ok := t.stateNames[e.Code]; !ok {
				t.stateNames[e.Code] = name
			}
			continue
		}
		k := entryKey{e.Kind, name, e.State}
		if !contains(t.codes[k], e.Code) {
			t.codes[k] = append(t.codes[k], e.Code)
		}
		ck := codeKey{e.Kind, e.Code, e.State}
		if _, ok := t.names[ck]; !ok {
			t.names[ck] = name
		}
	}
	return t
}

// LoadTable reads a CSV file with header kind,name,state,code.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("locations: open %q: %w", path, err)
	}
	defer f.Close()

	return ReadTable(f)
}

// ReadTable parses the CSV layout accepted by LoadTable.
func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("locations: read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"kind", "name", "state", "code"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("locations: missing column %q", col)
		}
	}

	var entries []Entry
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("locations: line %d: %w", line, err)
		}

		kind := models.GeoKind(strings.ToLower(strings.TrimSpace(rec[idx["kind"]])))
		switch kind {
		case models.GeoState, models.GeoMetro, models.GeoCounty, models.GeoPlace:
		default:
			return nil, fmt.Errorf("locations: line %d: unknown kind %q", line, kind)
		}

		entries = append(entries, Entry{
			Kind:  kind,
			Name:  rec[idx["name"]],
			State: strings.TrimSpace(rec[idx["state"]]),
			Code:  strings.TrimSpace(rec[idx["code"]]),
		})
	}

	return NewTable(entries), nil
}

func (t *Table) StateCode(name string) (string, bool) {
	code, ok := t.states[Normalize(name)]
	return code, ok
}

func (t *Table) Codes(kind models.GeoKind, name, stateCode string) []string {
	return t.codes[entryKey{kind, Normalize(name), stateCode}]
}

func (t *Table) Name(kind models.GeoKind, code, stateCode string) (string, bool) {
	if kind == models.GeoState {
		name, ok := t.stateNames[code]
		return name, ok
	}
	name, ok := t.names[codeKey{kind, code, stateCode}]
	return name, ok
}

// Normalize lower-cases a name and collapses its whitespace.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

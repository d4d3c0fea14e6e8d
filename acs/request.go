// Package acs talks to the Census Bureau ACS data API: it builds request
// targets, fetches table responses over a shared session and loads the
// variable catalogs used to label them.
package acs

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"acs-pipeline/models"
)

// DefaultBaseURL is the public Census data API root.
const DefaultBaseURL = "https://api.census.gov/data"

const metroFilterKey = "metropolitan statistical area/micropolitan statistical area"

var filterKeys = map[models.GeoKind]string{
	models.GeoState:  "state",
	models.GeoMetro:  metroFilterKey,
	models.GeoCounty: "county",
	models.GeoPlace:  "place",
}

// Param is one query parameter. Order is preserved when encoding.
type Param struct {
	Key   string
	Value string
}

// RequestSpec is a fully built API request.
type RequestSpec struct {
	Endpoint string
	Params   []Param

	TableID  string
	Year     int
	Family   models.TableFamily
	Location models.ResolvedLocation
}

// Get returns the value of the first parameter named key.
func (s RequestSpec) Get(key string) string {
	for _, p := range s.Params {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// URL returns the request target with every parameter, the key included.
func (s RequestSpec) URL() string {
	return s.encode(false)
}

// Target returns the request target with the API key redacted. It is
// the form used in logs and errors.
func (s RequestSpec) Target() string {
	return s.encode(true)
}

func (s RequestSpec) encode(redact bool) string {
	var b strings.Builder
	b.WriteString(s.Endpoint)
	for i, p := range s.Params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		v := p.Value
		if redact && p.Key == "key" {
			v = "REDACTED"
		}
		b.WriteString(escape(p.Key))
		b.WriteByte('=')
		b.WriteString(escape(v))
	}
	return b.String()
}

// escape percent-encodes a query component, using %20 for spaces as the
// API's hierarchical filters expect.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// RequestBuilder constructs RequestSpecs for one API root and credential.
type RequestBuilder struct {
	baseURL string
	apiKey  string
}

// NewRequestBuilder creates a builder. An empty baseURL uses DefaultBaseURL;
// an empty apiKey omits the key parameter.
func NewRequestBuilder(baseURL, apiKey string) *RequestBuilder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &RequestBuilder{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

// Endpoint returns {base}/{year}/acs/{product}{family path}.
func (b *RequestBuilder) Endpoint(year int, family models.TableFamily, precision models.Precision) (string, error) {
	if !family.Valid() {
		return "", &models.InvalidTableFamilyError{Value: family.String()}
	}
	if _, err := models.ParsePrecision(int(precision)); err != nil {
		return "", err
	}
	return b.baseURL + "/" + strconv.Itoa(year) + "/acs/" + precision.Product() + family.PathSegment(), nil
}

// Build assembles the request for one table, year and location. Detail
// tables request the id directly (followed by NAME); the other families
// request group(id).
func (b *RequestBuilder) Build(
	tableID string,
	year int,
	loc models.ResolvedLocation,
	family models.TableFamily,
	precision models.Precision,
) (RequestSpec, error) {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return RequestSpec{}, errors.New("acs: empty table id")
	}
	if loc.State == "" {
		return RequestSpec{}, &models.UnresolvableLocationError{Field: models.GeoState, Reason: "a state is required"}
	}

	endpoint, err := b.Endpoint(year, family, precision)
	if err != nil {
		return RequestSpec{}, err
	}

	get := "group(" + tableID + ")"
	if family == models.FamilyDetail {
		get = tableID + ",NAME"
	}

	params := []Param{{"get", get}}
	forClause, inClause := LocationFilter(loc)
	params = append(params, Param{"for", forClause})
	if inClause != "" {
		params = append(params, Param{"in", inClause})
	}
	if b.apiKey != "" {
		params = append(params, Param{"key", b.apiKey})
	}

	return RequestSpec{
		Endpoint: endpoint,
		Params:   params,
		TableID:  tableID,
		Year:     year,
		Family:   family,
		Location: loc,
	}, nil
}

// LocationFilter serialises loc into "for" and "in" clauses. A state-only
// location queries the state itself; otherwise metro, county and place
// (in that order) form the "for" clause inside the state.
func LocationFilter(loc models.ResolvedLocation) (forClause, inClause string) {
	stateClause := filterKeys[models.GeoState] + ":" + loc.State
	if loc.StateOnly() {
		return stateClause, ""
	}

	var parts []string
	for _, lv := range loc.Levels() {
		if lv.Kind == models.GeoState {
			continue
		}
		parts = append(parts, filterKeys[lv.Kind]+":"+lv.Code)
	}
	return strings.Join(parts, " "), stateClause
}

// ParseLocationFilter decodes "for" and "in" clauses back into codes.
func ParseLocationFilter(forClause, inClause string) (models.ResolvedLocation, error) {
	var loc models.ResolvedLocation
	for _, clause := range []string{forClause, inClause} {
		pairs, err := splitFilter(clause)
		if err != nil {
			return models.ResolvedLocation{}, err
		}
		for _, p := range pairs {
			switch p.Key {
			case filterKeys[models.GeoState]:
				loc.State = p.Value
			case filterKeys[models.GeoMetro]:
				loc.Metro = p.Value
			case filterKeys[models.GeoCounty]:
				loc.County = p.Value
			case filterKeys[models.GeoPlace]:
				loc.Place = p.Value
			default:
				return models.ResolvedLocation{}, fmt.Errorf("acs: unknown filter key %q", p.Key)
			}
		}
	}
	return loc, nil
}

// splitFilter splits "a b:1 c:2" style clauses. Keys may contain spaces;
// values may not.
func splitFilter(clause string) ([]Param, error) {
	var out []Param
	rest := strings.TrimSpace(clause)
	for rest != "" {
		colon := strings.Index(rest, ":")
		if colon <= 0 {
			return nil, fmt.Errorf("acs: malformed filter %q", clause)
		}
		key := strings.TrimSpace(rest[:colon])
		rest = rest[colon+1:]

		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			end = len(rest)
		}
		value := rest[:end]
		if value == "" {
			return nil, fmt.Errorf("acs: empty value for %q in filter %q", key, clause)
		}
		out = append(out, Param{key, value})
		rest = strings.TrimSpace(rest[end:])
	}
	return out, nil
}

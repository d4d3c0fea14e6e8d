package locations

import (
	"strings"

	"acs-pipeline/models"
)

// Resolver translates Locations into ResolvedLocations. It never touches
// the network.
type Resolver struct {
	lookup Lookup
}

// NewResolver creates a Resolver backed by lookup. A nil lookup accepts
// only locations made of codes.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve returns the code-only form of loc. Codes pass through
// unchanged. A non-state name is disambiguated by loc.State or by a
// ", <state>" suffix, as in "palm springs, ca".
func (r *Resolver) Resolve(loc models.Location) (models.ResolvedLocation, error) {
	var out models.ResolvedLocation

	if s := strings.TrimSpace(loc.State); s != "" {
		code, err := r.stateCode(s)
		if err != nil {
			return out, err
		}
		out.State = code
	}

	fields := []struct {
		kind  models.GeoKind
		value string
		dst   *string
	}{
		{models.GeoMetro, loc.Metro, &out.Metro},
		{models.GeoCounty, loc.County, &out.County},
		{models.GeoPlace, loc.Place, &out.Place},
	}

	// State suffixes are collected before any name lookup so that
	// {county: "riverside", place: "indio, ca"} resolves both.
	names := make([]string, len(fields))
	for i, f := range fields {
		v := strings.TrimSpace(f.value)
		if v == "" || IsCode(v) {
			names[i] = v
			continue
		}
		name, suffix := splitStateSuffix(v)
		names[i] = name
		if suffix == "" {
			continue
		}
		code, err := r.stateCode(suffix)
		if err != nil {
			return models.ResolvedLocation{}, &models.UnresolvableLocationError{
				Field: f.kind, Value: v, Reason: "unknown state " + suffix,
			}
		}
		if out.State != "" && out.State != code {
			return models.ResolvedLocation{}, &models.UnresolvableLocationError{
				Field: f.kind, Value: v, Reason: "state suffix conflicts with state " + out.State,
			}
		}
		out.State = code
	}

	for i, f := range fields {
		v := names[i]
		switch {
		case v == "":
			continue
		case IsCode(v):
			*f.dst = v
			continue
		case out.State == "":
			return models.ResolvedLocation{}, &models.UnresolvableLocationError{
				Field: f.kind, Value: f.value, Reason: "a name needs an accompanying state",
			}
		case r.lookup == nil:
			return models.ResolvedLocation{}, &models.UnresolvableLocationError{
				Field: f.kind, Value: f.value, Reason: "no location lookup table loaded",
			}
		}

		codes := r.lookup.Codes(f.kind, v, out.State)
		switch len(codes) {
		case 0:
			return models.ResolvedLocation{}, &models.UnresolvableLocationError{
				Field: f.kind, Value: f.value, Reason: "no match in state " + out.State,
			}
		case 1:
			*f.dst = codes[0]
		default:
			return models.ResolvedLocation{}, &models.UnresolvableLocationError{
				Field: f.kind, Value: f.value, Reason: "ambiguous: " + strings.Join(codes, ", "),
			}
		}
	}

	if out.State == "" {
		return models.ResolvedLocation{}, &models.UnresolvableLocationError{
			Field: models.GeoState, Reason: "a state is required",
		}
	}
	return out, nil
}

// Names looks up the readable name of every level of loc. Levels the
// lookup has no entry for stay empty.
func (r *Resolver) Names(loc models.ResolvedLocation) models.LocationNames {
	var names models.LocationNames
	if r.lookup == nil {
		return names
	}
	for _, lv := range loc.Levels() {
		if name, ok := r.lookup.Name(lv.Kind, lv.Code, loc.State); ok {
			names.Set(lv.Kind, name)
		}
	}
	return names
}

func (r *Resolver) stateCode(s string) (string, error) {
	if IsCode(s) {
		return s, nil
	}
	if r.lookup != nil {
		if code, ok := r.lookup.StateCode(s); ok {
			return code, nil
		}
	}
	return "", &models.UnresolvableLocationError{Field: models.GeoState, Value: s, Reason: "unknown state"}
}

// IsCode reports whether s is a non-empty string of ASCII digits.
func IsCode(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func splitStateSuffix(v string) (name, state string) {
	i := strings.LastIndex(v, ",")
	if i < 0 {
		return v, ""
	}
	return strings.TrimSpace(v[:i]), strings.TrimSpace(v[i+1:])
}

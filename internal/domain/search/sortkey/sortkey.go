// Package sortkey models ranking sort keys as a tagged variant: a numeric
// field, the `_text_match` pseudo-field, or a geopoint expression with
// optional exclude-radius and precision parameters.
package sortkey

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kailas-cloud/textdex/internal/domain/geo"
)

// MaxKeys is the hard cap on sort keys per query.
const MaxKeys = 3

// TextMatchField is the textual relevance pseudo-field.
const TextMatchField = "_text_match"

// Kind discriminates the sort key variants.
type Kind int

// Sort key kinds.
const (
	Numeric Kind = iota
	TextMatch
	Geo
)

// Key is one parsed sort key.
type Key struct {
	kind  Kind
	field string
	desc  bool

	// geo variant only
	anchor         geo.Point
	excludeRadiusM float64 // 0 = unset
	precisionM     float64 // 0 = unset
}

// Kind returns the variant tag.
func (k Key) Kind() Kind { return k.kind }

// Field returns the field name ("_text_match" for the text variant).
func (k Key) Field() string { return k.field }

// Desc reports whether the key sorts descending.
func (k Key) Desc() bool { return k.desc }

// Anchor returns the geo anchor point.
func (k Key) Anchor() geo.Point { return k.anchor }

// ExcludeRadiusMeters returns the exclude radius in meters, 0 when unset.
func (k Key) ExcludeRadiusMeters() float64 { return k.excludeRadiusM }

// PrecisionMeters returns the bucket width in meters, 0 when unset.
func (k Key) PrecisionMeters() float64 { return k.precisionM }

// NewNumeric creates a numeric field key.
func NewNumeric(field string, desc bool) Key {
	return Key{kind: Numeric, field: field, desc: desc}
}

// NewTextMatch creates a `_text_match` key.
func NewTextMatch(desc bool) Key {
	return Key{kind: TextMatch, field: TextMatchField, desc: desc}
}

// GeoValue maps a raw distance in meters to the comparable value for this
// key, applying exclude-radius collapsing and precision bucketing.
func (k Key) GeoValue(distanceM float64) int64 {
	if k.excludeRadiusM > 0 && distanceM <= k.excludeRadiusM {
		return 0
	}
	if k.precisionM > 0 {
		return int64(math.Floor(distanceM/k.precisionM)) * int64(k.precisionM)
	}
	return int64(distanceM)
}

// ParseList parses a comma-separated sort_by value into keys, enforcing the
// MaxKeys cap. Commas inside geo parentheses do not split.
func ParseList(sortBy string) ([]Key, error) {
	sortBy = strings.TrimSpace(sortBy)
	if sortBy == "" {
		return nil, nil
	}

	parts := splitTopLevel(sortBy)
	if len(parts) > MaxKeys {
		return nil, fmt.Errorf("Only upto %d sort_by fields can be specified.", MaxKeys)
	}

	keys := make([]Key, 0, len(parts))
	for _, p := range parts {
		k, err := Parse(p)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Parse parses a single sort key of the form `field:dir` or
// `field(lat, lng[, exclude_radius: N unit][, precision: N unit]):dir`.
func Parse(spec string) (Key, error) {
	spec = strings.TrimSpace(spec)

	if open := strings.Index(spec, "("); open != -1 {
		return parseGeo(spec, open)
	}

	field, dir, ok := strings.Cut(spec, ":")
	if !ok {
		return Key{}, fmt.Errorf("parameter `sort_by` is malformed: `%s`", spec)
	}
	field = strings.TrimSpace(field)
	desc, err := parseDirection(dir)
	if err != nil {
		return Key{}, err
	}

	if field == TextMatchField {
		return NewTextMatch(desc), nil
	}
	if field == "" {
		return Key{}, fmt.Errorf("parameter `sort_by` is malformed: `%s`", spec)
	}
	return NewNumeric(field, desc), nil
}

func parseGeo(spec string, open int) (Key, error) {
	field := strings.TrimSpace(spec[:open])
	end := strings.LastIndex(spec, ")")
	if field == "" || end < open {
		return Key{}, fmt.Errorf("bad geo sort expression: `%s`", spec)
	}

	desc, err := parseDirection(strings.TrimPrefix(strings.TrimSpace(spec[end+1:]), ":"))
	if err != nil {
		return Key{}, err
	}

	args := strings.Split(spec[open+1:end], ",")
	if len(args) < 2 {
		return Key{}, fmt.Errorf("bad geo sort expression: expected `(lat, lng)` in `%s`", spec)
	}

	lat, latErr := strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
	lng, lngErr := strconv.ParseFloat(strings.TrimSpace(args[1]), 64)
	if latErr != nil || lngErr != nil || math.IsNaN(lat) || math.IsInf(lat, 0) ||
		math.IsNaN(lng) || math.IsInf(lng, 0) {
		return Key{}, fmt.Errorf("bad geo sort expression: lat and lng must be finite numbers in `%s`", spec)
	}
	if !geo.ValidateCoordinates(lat, lng) {
		return Key{}, fmt.Errorf("bad geo sort expression: lat/lng out of range in `%s`", spec)
	}

	k := Key{kind: Geo, field: field, desc: desc, anchor: geo.Point{Lat: lat, Lng: lng}}

	for _, arg := range args[2:] {
		name, value, ok := strings.Cut(arg, ":")
		if !ok {
			return Key{}, fmt.Errorf("bad geo sort expression: malformed parameter `%s`", strings.TrimSpace(arg))
		}
		name = strings.TrimSpace(name)
		meters, err := parseDistance(strings.TrimSpace(value))
		if err != nil {
			return Key{}, fmt.Errorf("bad geo sort expression: %w", err)
		}
		switch name {
		case "exclude_radius":
			k.excludeRadiusM = meters
		case "precision":
			k.precisionM = meters
		default:
			return Key{}, fmt.Errorf("bad geo sort expression: unknown parameter `%s`", name)
		}
	}

	return k, nil
}

// parseDistance parses `N km` or `N mi` into meters. N must be positive.
func parseDistance(s string) (float64, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, fmt.Errorf("distance must be of the form `<number> km|mi`, got `%s`", s)
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("distance value must be a positive number, got `%s`", fields[0])
	}
	meters, ok := geo.UnitMeters(n, fields[1])
	if !ok {
		return 0, fmt.Errorf("distance unit must be `km` or `mi`, got `%s`", fields[1])
	}
	return meters, nil
}

func parseDirection(dir string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "asc":
		return false, nil
	case "desc":
		return true, nil
	default:
		return false, fmt.Errorf("sort direction must be `asc` or `desc`, got `%s`", strings.TrimSpace(dir))
	}
}

// splitTopLevel splits on commas that are not nested inside parentheses.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	parts = append(parts, strings.TrimSpace(s[start:]))
	return parts
}

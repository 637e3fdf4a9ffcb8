package sortkey

import (
	"strings"
	"testing"
)

func TestParseNumericAndTextMatch(t *testing.T) {
	keys, err := ParseList("points:desc, _text_match:desc")
	if err != nil {
		t.Fatalf("ParseList() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("len(keys) = %d, want 2", len(keys))
	}
	if keys[0].Kind() != Numeric || keys[0].Field() != "points" || !keys[0].Desc() {
		t.Errorf("keys[0] = %+v, want numeric points desc", keys[0])
	}
	if keys[1].Kind() != TextMatch || !keys[1].Desc() {
		t.Errorf("keys[1] = %+v, want _text_match desc", keys[1])
	}
}

func TestParseDirectionCaseInsensitive(t *testing.T) {
	for _, dir := range []string{"ASC", "asc", "Asc"} {
		k, err := Parse("points:" + dir)
		if err != nil {
			t.Fatalf("Parse(points:%s) error = %v", dir, err)
		}
		if k.Desc() {
			t.Errorf("Parse(points:%s) should be ascending", dir)
		}
	}
}

func TestParseListCap(t *testing.T) {
	_, err := ParseList("a:desc,b:desc,c:desc,d:desc")
	if err == nil {
		t.Fatal("expected error for four sort keys")
	}
	want := "Only upto 3 sort_by fields can be specified."
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestParseGeo(t *testing.T) {
	k, err := Parse("loc(48.853, 2.344, exclude_radius: 1 km, precision: 2 mi):asc")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if k.Kind() != Geo || k.Field() != "loc" || k.Desc() {
		t.Errorf("key = %+v, want geo loc asc", k)
	}
	if k.Anchor().Lat != 48.853 || k.Anchor().Lng != 2.344 {
		t.Errorf("anchor = %+v", k.Anchor())
	}
	if k.ExcludeRadiusMeters() != 1000 {
		t.Errorf("exclude radius = %v, want 1000", k.ExcludeRadiusMeters())
	}
	if k.PrecisionMeters() < 3218 || k.PrecisionMeters() > 3219 {
		t.Errorf("precision = %v, want ~3218.68", k.PrecisionMeters())
	}
}

func TestParseGeoErrors(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{"missing lng", "loc(48.853):asc"},
		{"non-numeric lat", "loc(abc, 2.3):asc"},
		{"unknown unit", "loc(48.8, 2.3, exclude_radius: 1 m):asc"},
		{"negative radius", "loc(48.8, 2.3, exclude_radius: -1 km):asc"},
		{"zero precision", "loc(48.8, 2.3, precision: 0 km):asc"},
		{"unknown parameter", "loc(48.8, 2.3, fuzz: 1 km):asc"},
		{"bad direction", "loc(48.8, 2.3):sideways"},
		{"lat out of range", "loc(91.0, 2.3):asc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.spec); err == nil {
				t.Errorf("Parse(%q) expected error", tt.spec)
			}
		})
	}
}

func TestParseGeoWhitespaceTolerance(t *testing.T) {
	k, err := Parse("loc( 48.853 ,2.344 , exclude_radius :  1 km ) : desc")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !k.Desc() || k.ExcludeRadiusMeters() != 1000 {
		t.Errorf("key = %+v", k)
	}
}

func TestGeoValueExcludeRadius(t *testing.T) {
	k, err := Parse("loc(0, 0, exclude_radius: 1 km):asc")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// inside the radius everything collapses to the anchor
	if got := k.GeoValue(300); got != 0 {
		t.Errorf("GeoValue(300) = %d, want 0", got)
	}
	if got := k.GeoValue(1000); got != 0 {
		t.Errorf("GeoValue(1000) = %d, want 0", got)
	}
	if got := k.GeoValue(1200); got != 1200 {
		t.Errorf("GeoValue(1200) = %d, want 1200", got)
	}
}

func TestGeoValuePrecisionBuckets(t *testing.T) {
	k, err := Parse("loc(0, 0, precision: 2 km):asc")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// distances in the same 2km-wide bucket compare equal
	if k.GeoValue(100) != k.GeoValue(1900) {
		t.Errorf("distances in the same bucket must compare equal")
	}
	if k.GeoValue(1900) == k.GeoValue(2100) {
		t.Errorf("distances in different buckets must differ")
	}
}

func TestSplitTopLevelKeepsGeoIntact(t *testing.T) {
	parts := splitTopLevel("loc(1.0, 2.0, precision: 1 km):asc,points:desc")
	if len(parts) != 2 {
		t.Fatalf("len(parts) = %d, want 2: %v", len(parts), parts)
	}
	if !strings.HasPrefix(parts[0], "loc(") {
		t.Errorf("parts[0] = %q", parts[0])
	}
}

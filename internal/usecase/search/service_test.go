package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/db/memory"
	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/domain/collection"
	"github.com/kailas-cloud/textdex/internal/domain/collection/field"
	"github.com/kailas-cloud/textdex/internal/domain/override"
	"github.com/kailas-cloud/textdex/internal/domain/search/param"
	"github.com/kailas-cloud/textdex/internal/domain/search/result"
	"github.com/kailas-cloud/textdex/internal/domain/synonym"
	"github.com/kailas-cloud/textdex/internal/index"
	curationuc "github.com/kailas-cloud/textdex/internal/usecase/curation"
	synonymuc "github.com/kailas-cloud/textdex/internal/usecase/synonym"
)

// --- Fixture ---

type fixture struct {
	manager   *index.Manager
	synonyms  *synonymuc.Service
	overrides *curationuc.Service
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	ctx := context.Background()

	synonyms := synonymuc.New(logger)
	if err := synonyms.Init(ctx, store); err != nil {
		t.Fatalf("synonyms.Init() error = %v", err)
	}
	overrides := curationuc.New(logger)
	if err := overrides.Init(ctx, store); err != nil {
		t.Fatalf("overrides.Init() error = %v", err)
	}

	manager := index.NewManager()
	return &fixture{
		manager:   manager,
		synonyms:  synonyms,
		overrides: overrides,
		svc:       New(manager, synonyms, overrides, logger),
	}
}

type fieldSpec struct {
	name     string
	ftype    field.Type
	optional bool
}

func (f *fixture) createCollection(t *testing.T, name string, specs []fieldSpec, defaultSortingField string) *index.Collection {
	t.Helper()
	fields := make([]field.Field, 0, len(specs))
	for _, s := range specs {
		fld, err := field.New(s.name, s.ftype, false, s.optional)
		if err != nil {
			t.Fatalf("field.New(%s) error = %v", s.name, err)
		}
		fields = append(fields, fld)
	}
	schema, err := collection.New(name, fields, defaultSortingField)
	if err != nil {
		t.Fatalf("collection.New() error = %v", err)
	}
	col, err := f.manager.Create(schema)
	if err != nil {
		t.Fatalf("manager.Create() error = %v", err)
	}
	return col
}

func (f *fixture) search(t *testing.T, coll string, params param.Params) result.Result {
	t.Helper()
	res, err := f.svc.Search(context.Background(), coll, params)
	if err != nil {
		t.Fatalf("Search(%v) error = %v", params, err)
	}
	return res
}

func hitIDs(res result.Result) []string {
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func assertIDs(t *testing.T, res result.Result, want ...string) {
	t.Helper()
	got := hitIDs(res)
	if len(got) != len(want) {
		t.Fatalf("hit ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("hit ids = %v, want %v", got, want)
		}
	}
}

// --- Scenario: override with dynamic filter and token removal ---

func TestOverrideContainsWithTokenRemoval(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "products", []fieldSpec{
		{"name", field.String, false},
		{"category", field.String, false},
		{"brand", field.String, false},
	}, "")

	docs := []map[string]any{
		{"id": "0", "name": "Amazing Shoes", "category": "shoes", "brand": "Nike"},
		{"id": "1", "name": "Track Gym", "category": "shoes", "brand": "Adidas"},
		{"id": "2", "name": "Running Shoes", "category": "sports", "brand": "Nike"},
	}
	for _, d := range docs {
		if _, err := col.Add(d); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	err := f.overrides.Upsert(context.Background(), "products", override.Override{
		ID:                  "brand-category",
		Rule:                override.Rule{Query: "{brand} {category}", Match: override.MatchContains},
		FilterBy:            "category:{category} && brand:{brand}",
		RemoveMatchedTokens: true,
	})
	if err != nil {
		t.Fatalf("overrides.Upsert() error = %v", err)
	}

	res := f.search(t, "products", param.Params{
		param.Query:   "adidas shoes",
		param.QueryBy: "name",
	})
	assertIDs(t, res, "1")
	if res.Found != 1 {
		t.Errorf("Found = %d, want 1", res.Found)
	}
}

func TestOverrideDisabledByRequestFlag(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "products", []fieldSpec{
		{"name", field.String, false},
		{"category", field.String, false},
	}, "")
	if _, err := col.Add(map[string]any{"id": "0", "name": "blue shoes", "category": "shoes"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := col.Add(map[string]any{"id": "1", "name": "blue boots", "category": "boots"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	err := f.overrides.Upsert(context.Background(), "products", override.Override{
		ID:                  "boots-rule",
		Rule:                override.Rule{Query: "shoes", Match: override.MatchContains},
		FilterBy:            "category:boots",
		RemoveMatchedTokens: true,
	})
	if err != nil {
		t.Fatalf("overrides.Upsert() error = %v", err)
	}

	// with overrides enabled the filter redirects to boots
	res := f.search(t, "products", param.Params{
		param.Query:   "shoes",
		param.QueryBy: "name",
	})
	assertIDs(t, res, "1")

	// disabled: the raw query matches the shoes document
	res = f.search(t, "products", param.Params{
		param.Query:           "shoes",
		param.QueryBy:         "name",
		param.EnableOverrides: "false",
	})
	assertIDs(t, res, "0")
}

// --- Scenario: pinning across pages ---

func TestPinnedHitsAcrossPages(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "products", []fieldSpec{
		{"title", field.String, false},
		{"points", field.Int32, false},
	}, "points")

	for i := 0; i <= 310; i++ {
		doc := map[string]any{"id": fmt.Sprintf("%d", i), "title": "common token", "points": float64(i)}
		if _, err := col.Add(doc); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	res := f.search(t, "products", param.Params{
		param.Query:      "*",
		param.PinnedHits: "7:1,4:2",
		param.PerPage:    "30",
		param.Page:       "11",
	})

	assertIDs(t, res, "12", "11", "10", "9", "8", "6", "5", "3", "2", "1", "0")
	if res.Found != 311 {
		t.Errorf("Found = %d, want 311", res.Found)
	}

	// the pinned documents appear only on their pinned page
	res = f.search(t, "products", param.Params{
		param.Query:      "*",
		param.PinnedHits: "7:1,4:2",
		param.PerPage:    "30",
		param.Page:       "1",
	})
	ids := hitIDs(res)
	if ids[0] != "7" || ids[1] != "4" {
		t.Errorf("page 1 head = %v, want [7 4 ...]", ids[:2])
	}
}

func TestPinnedPositionBeyondResultsAppends(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "products", []fieldSpec{
		{"title", field.String, false},
		{"points", field.Int32, false},
	}, "points")

	for i := 0; i < 3; i++ {
		doc := map[string]any{"id": fmt.Sprintf("%d", i), "title": "item", "points": float64(i)}
		if _, err := col.Add(doc); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	res := f.search(t, "products", param.Params{
		param.Query:      "*",
		param.PinnedHits: "1:50",
	})
	assertIDs(t, res, "2", "0", "1")
}

func TestPinnedHitNotMatchingQueryIsInjected(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "products", []fieldSpec{
		{"title", field.String, false},
		{"points", field.Int32, false},
	}, "points")

	if _, err := col.Add(map[string]any{"id": "0", "title": "alpha", "points": 1.0}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := col.Add(map[string]any{"id": "1", "title": "beta", "points": 2.0}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	res := f.search(t, "products", param.Params{
		param.Query:      "alpha",
		param.QueryBy:    "title",
		param.PinnedHits: "1:1",
	})
	assertIDs(t, res, "1", "0")
	if res.Found != 2 {
		t.Errorf("Found = %d, want 2", res.Found)
	}
}

// --- Scenario: hiding ---

func TestHiddenHitsDecreaseFound(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "products", []fieldSpec{
		{"title", field.String, false},
		{"points", field.Int32, false},
	}, "points")

	for i := 0; i < 5; i++ {
		doc := map[string]any{"id": fmt.Sprintf("%d", i), "title": "gadget", "points": float64(i)}
		if _, err := col.Add(doc); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	base := f.search(t, "products", param.Params{param.Query: "gadget", param.QueryBy: "title"})
	if base.Found != 5 {
		t.Fatalf("Found = %d, want 5", base.Found)
	}

	res := f.search(t, "products", param.Params{
		param.Query:      "gadget",
		param.QueryBy:    "title",
		param.HiddenHits: "3",
	})
	if res.Found != 4 {
		t.Errorf("Found = %d, want 4", res.Found)
	}
	for _, id := range hitIDs(res) {
		if id == "3" {
			t.Error("hidden id present in hits")
		}
	}
}

// --- Scenario: sort keys ---

func TestFourSortKeysRejected(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "products", []fieldSpec{
		{"title", field.String, false},
		{"points", field.Int32, false},
	}, "points")

	_, err := f.svc.Search(context.Background(), "products", param.Params{
		param.Query:   "*",
		param.SortBy:  "points:desc,points:asc,points:desc,points:asc",
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("error = %v, want invalid argument", err)
	}
	if !strings.Contains(err.Error(), "Only upto 3 sort_by fields can be specified.") {
		t.Errorf("error message = %q", err.Error())
	}
}

func TestSortByUnknownFieldRejected(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "products", []fieldSpec{
		{"title", field.String, false},
		{"points", field.Int32, false},
	}, "points")

	_, err := f.svc.Search(context.Background(), "products", param.Params{
		param.Query:  "*",
		param.SortBy: "ghost:desc",
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("error = %v, want invalid argument", err)
	}
}

func TestDefaultSortingFieldOrdersWildcard(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "products", []fieldSpec{
		{"title", field.String, false},
		{"points", field.Int32, false},
	}, "points")

	for i, pts := range []float64{5, 50, 10} {
		doc := map[string]any{"id": fmt.Sprintf("%d", i), "title": "thing", "points": pts}
		if _, err := col.Add(doc); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	res := f.search(t, "products", param.Params{param.Query: "*"})
	assertIDs(t, res, "1", "2", "0")
}

// --- Scenario: geo sorting ---

// latitude degrees per meter on the reference sphere (~111195 m per degree).
func latForMeters(m float64) float64 { return m / 111194.9266 }

func TestGeoSortExcludeRadius(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "places", []fieldSpec{
		{"title", field.String, false},
		{"loc", field.Geopoint, false},
		{"points", field.Int32, false},
	}, "")

	docs := []struct {
		id     string
		meters float64
		points float64
	}{
		{"near-low", 300, 1},
		{"near-high", 900, 5},
		{"mid", 1200, 9},
		{"far", 3000, 9},
	}
	for _, d := range docs {
		doc := map[string]any{
			"id": d.id, "title": "place",
			"loc":    []any{latForMeters(d.meters), 0.0},
			"points": d.points,
		}
		if _, err := col.Add(doc); err != nil {
			t.Fatalf("Add(%s) error = %v", d.id, err)
		}
	}

	res := f.search(t, "places", param.Params{
		param.Query:  "*",
		param.SortBy: "loc(0, 0, exclude_radius: 1 km):asc,points:desc",
	})

	// docs within 1 km are tied at the anchor and ordered by points desc
	assertIDs(t, res, "near-high", "near-low", "mid", "far")
}

func TestGeoSortPrecisionBuckets(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "places", []fieldSpec{
		{"title", field.String, false},
		{"loc", field.Geopoint, false},
		{"points", field.Int32, false},
	}, "")

	docs := []struct {
		id     string
		meters float64
		points float64
	}{
		{"a", 300, 1},
		{"b", 1900, 7},
		{"c", 2100, 3},
	}
	for _, d := range docs {
		doc := map[string]any{
			"id": d.id, "title": "place",
			"loc":    []any{latForMeters(d.meters), 0.0},
			"points": d.points,
		}
		if _, err := col.Add(doc); err != nil {
			t.Fatalf("Add(%s) error = %v", d.id, err)
		}
	}

	// a and b fall into the same 2km bucket; points desc breaks the tie
	res := f.search(t, "places", param.Params{
		param.Query:  "*",
		param.SortBy: "loc(0, 0, precision: 2 km):asc,points:desc",
	})
	assertIDs(t, res, "b", "a", "c")
}

func TestGeoSortMissingOptionalFieldSortsLast(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "places", []fieldSpec{
		{"title", field.String, false},
		{"loc", field.Geopoint, true},
		{"points", field.Int32, false},
	}, "")

	if _, err := col.Add(map[string]any{
		"id": "located", "title": "place", "loc": []any{latForMeters(500), 0.0}, "points": 1.0,
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := col.Add(map[string]any{"id": "unlocated", "title": "place", "points": 9.0}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	for _, dir := range []string{"asc", "desc"} {
		res := f.search(t, "places", param.Params{
			param.Query:  "*",
			param.SortBy: "loc(0, 0):" + dir,
		})
		if got := hitIDs(res); got[len(got)-1] != "unlocated" {
			t.Errorf("dir %s: ids = %v, want unlocated last", dir, got)
		}
	}
}

// --- Scenario: synonyms in ranking ---

func TestSynonymSingleTokenExactMatch(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "brands", []fieldSpec{
		{"title", field.String, false},
		{"points", field.Int32, false},
	}, "points")

	docs := []map[string]any{
		{"id": "0", "title": "Smashed Lemon", "points": 1.0},
		{"id": "1", "title": "Lulu Guinness", "points": 2.0},
		{"id": "2", "title": "Lululemon", "points": 3.0},
	}
	for _, d := range docs {
		if _, err := col.Add(d); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	err := f.synonyms.Upsert(context.Background(), "brands", synonym.Synonym{
		ID:       "lulu-lemon",
		Root:     []string{"lulu", "lemon"},
		Synonyms: [][]string{{"lululemon"}},
	})
	if err != nil {
		t.Fatalf("synonyms.Upsert() error = %v", err)
	}

	res := f.search(t, "brands", param.Params{
		param.Query:   "lulu lemon",
		param.QueryBy: "title",
		param.Prefix:  "true",
	})
	assertIDs(t, res, "2", "1")
}

// --- Scenario: field priority ---

func TestEarlierQueryFieldRanksHigher(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "products", []fieldSpec{
		{"title", field.String, false},
		{"description", field.String, false},
		{"points", field.Int32, false},
	}, "points")

	// same points so only the field priority separates them
	docs := []map[string]any{
		{"id": "in-desc", "title": "other thing", "description": "quartz movement", "points": 1.0},
		{"id": "in-title", "title": "quartz watch", "description": "other thing", "points": 1.0},
	}
	for _, d := range docs {
		if _, err := col.Add(d); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	res := f.search(t, "products", param.Params{
		param.Query:   "quartz",
		param.QueryBy: "title,description",
	})
	assertIDs(t, res, "in-title", "in-desc")
}

// --- Scenario: grouping ---

func TestGroupingPartitionsAndCountsGroups(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "products", []fieldSpec{
		{"title", field.String, false},
		{"brand", field.String, false},
		{"points", field.Int32, false},
	}, "points")

	docs := []map[string]any{
		{"id": "0", "title": "shoe", "brand": "nike", "points": 10.0},
		{"id": "1", "title": "shoe", "brand": "adidas", "points": 9.0},
		{"id": "2", "title": "shoe", "brand": "nike", "points": 8.0},
		{"id": "3", "title": "shoe", "brand": "adidas", "points": 7.0},
	}
	for _, d := range docs {
		if _, err := col.Add(d); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	res := f.search(t, "products", param.Params{
		param.Query:      "*",
		param.GroupBy:    "brand",
		param.GroupLimit: "1",
	})

	if res.Found != 2 {
		t.Errorf("Found = %d, want 2 groups", res.Found)
	}
	if len(res.GroupedHits) != 2 {
		t.Fatalf("GroupedHits = %d, want 2", len(res.GroupedHits))
	}
	if res.GroupedHits[0].GroupKey[0] != "nike" || res.GroupedHits[0].Hits[0].ID != "0" {
		t.Errorf("first group = %+v", res.GroupedHits[0])
	}
	if res.GroupedHits[1].GroupKey[0] != "adidas" || res.GroupedHits[1].Hits[0].ID != "1" {
		t.Errorf("second group = %+v", res.GroupedHits[1])
	}
	if len(res.GroupedHits[0].Hits) != 1 {
		t.Errorf("group limit not enforced: %d hits", len(res.GroupedHits[0].Hits))
	}
}

// --- Scenario: token dropping ---

func TestDropTokensThresholdZeroDisablesDropping(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "products", []fieldSpec{
		{"title", field.String, false},
		{"points", field.Int32, false},
	}, "points")

	if _, err := col.Add(map[string]any{"id": "0", "title": "red shoes", "points": 1.0}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// with dropping allowed, the unmatched trailing token is shed
	res := f.search(t, "products", param.Params{
		param.Query:   "red unobtainium",
		param.QueryBy: "title",
	})
	if res.Found != 1 {
		t.Errorf("Found = %d, want 1 with token dropping", res.Found)
	}

	res = f.search(t, "products", param.Params{
		param.Query:               "red unobtainium",
		param.QueryBy:             "title",
		param.DropTokensThreshold: "0",
	})
	if res.Found != 0 {
		t.Errorf("Found = %d, want 0 with dropping disabled", res.Found)
	}
}

// --- Scenario: frequency-ordered expansion without a default sorting field ---

func TestFrequencyOrderedExpansionTruncatesRareTerms(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "products", []fieldSpec{
		{"title", field.String, false},
	}, "")

	// term -> number of documents carrying it; only the four most frequent
	// expansions of "appl" may be considered
	terms := []struct {
		term string
		docs int
	}{
		{"applea", 5}, {"appleb", 4}, {"applec", 3}, {"appled", 2}, {"applee", 1},
	}
	n := 0
	for _, tc := range terms {
		for i := 0; i < tc.docs; i++ {
			doc := map[string]any{"id": fmt.Sprintf("%s-%d", tc.term, i), "title": tc.term}
			if _, err := col.Add(doc); err != nil {
				t.Fatalf("Add() error = %v", err)
			}
			n++
		}
	}

	res := f.search(t, "products", param.Params{
		param.Query:   "appl",
		param.QueryBy: "title",
		param.PerPage: "250",
	})

	if res.Found != 14 {
		t.Errorf("Found = %d, want 14 (rare expansion excluded, %d docs total)", res.Found, n)
	}
	for _, id := range hitIDs(res) {
		if strings.HasPrefix(id, "applee") {
			t.Errorf("low-frequency expansion leaked into results: %s", id)
		}
	}
}

// --- Scenario: facets ---

func TestFacetCountsOverMatchedSet(t *testing.T) {
	f := newFixture(t)
	col := f.createCollection(t, "products", []fieldSpec{
		{"title", field.String, false},
		{"brand", field.String, false},
		{"points", field.Int32, false},
	}, "points")

	docs := []map[string]any{
		{"id": "0", "title": "shoe", "brand": "nike", "points": 1.0},
		{"id": "1", "title": "shoe", "brand": "nike", "points": 2.0},
		{"id": "2", "title": "shoe", "brand": "adidas", "points": 3.0},
		{"id": "3", "title": "hat", "brand": "puma", "points": 4.0},
	}
	for _, d := range docs {
		if _, err := col.Add(d); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	res := f.search(t, "products", param.Params{
		param.Query:   "shoe",
		param.QueryBy: "title",
		param.FacetBy: "brand",
	})

	if len(res.FacetCounts) != 1 || res.FacetCounts[0].FieldName != "brand" {
		t.Fatalf("FacetCounts = %+v", res.FacetCounts)
	}
	counts := res.FacetCounts[0].Counts
	if counts[0].Value != "nike" || counts[0].Count != 2 {
		t.Errorf("top facet = %+v, want nike:2", counts[0])
	}
}

// --- Validation ---

func TestSearchValidationErrors(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "products", []fieldSpec{
		{"title", field.String, false},
		{"points", field.Int32, false},
	}, "points")

	tests := []struct {
		name   string
		params param.Params
	}{
		{"missing q", param.Params{param.QueryBy: "title"}},
		{"missing query_by", param.Params{param.Query: "shoes"}},
		{"unknown query field", param.Params{param.Query: "x", param.QueryBy: "ghost"}},
		{"non-text query field", param.Params{param.Query: "x", param.QueryBy: "points"}},
		{"bad page", param.Params{param.Query: "*", param.Page: "0"}},
		{"per_page too large", param.Params{param.Query: "*", param.PerPage: "100000"}},
		{"bad pinned hits", param.Params{param.Query: "*", param.PinnedHits: "oops"}},
		{"unknown group_by", param.Params{param.Query: "*", param.GroupBy: "ghost"}},
		{"unknown facet field", param.Params{param.Query: "*", param.FacetBy: "ghost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Search(context.Background(), "products", tt.params)
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("error = %v, want invalid argument", err)
			}
		})
	}

	if _, err := f.svc.Search(context.Background(), "ghost", param.Params{param.Query: "*"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown collection error = %v, want not found", err)
	}
}

// Package search implements the query evaluator and ranker: token expansion,
// multi-field scoring, sort-key ordering, curation, and grouping.
package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/domain/search/param"
	"github.com/kailas-cloud/textdex/internal/domain/search/result"
	"github.com/kailas-cloud/textdex/internal/domain/search/sortkey"
	"github.com/kailas-cloud/textdex/internal/domain/token"
	"github.com/kailas-cloud/textdex/internal/index"
	"github.com/kailas-cloud/textdex/internal/usecase/curation"
)

// Parameter defaults and caps.
const (
	DefaultPerPage     = 10
	MaxPerPage         = 250
	DefaultNumTypos    = 2
	DefaultDropTokens  = 10
	DefaultGroupLimit  = 3
	MaxGroupLimit      = 99
	prefixExpansionCap = 25

	// freqOrderedExpansionCap bounds token expansion when the collection has
	// no default sorting field: only the most frequent terms survive.
	freqOrderedExpansionCap = 4
)

// Service evaluates search requests over in-process collections.
type Service struct {
	colls     CollectionReader
	synonyms  SynonymReducer
	overrides OverrideApplier
	logger    *zap.Logger
}

// New creates a search service.
func New(colls CollectionReader, synonyms SynonymReducer, overrides OverrideApplier, logger *zap.Logger) *Service {
	return &Service{colls: colls, synonyms: synonyms, overrides: overrides, logger: logger}
}

// Search runs one query described by the effective parameter map and returns
// ranked, curated, possibly grouped hits.
func (s *Service) Search(ctx context.Context, collectionName string, params param.Params) (result.Result, error) {
	col, err := s.colls.Get(collectionName)
	if err != nil {
		return result.Result{}, err
	}
	schema := col.Schema()

	rawQuery, ok := params[param.Query]
	if !ok {
		return result.Result{}, domain.NewInvalidArgument("parameter `q` is required")
	}

	queryFields := params.QueryFields()
	if rawQuery != param.Wildcard && len(queryFields) == 0 {
		return result.Result{}, domain.NewInvalidArgument("parameter `query_by` is required")
	}
	for _, f := range queryFields {
		fld, found := schema.FieldByName(f)
		if !found {
			return result.Result{}, domain.NewInvalidArgument("could not find a field named `%s` in the schema", f)
		}
		if !fld.IsText() {
			return result.Result{}, domain.NewInvalidArgument("field `%s` is not a string field and cannot be queried", f)
		}
	}

	page := params.GetInt(param.Page, 1)
	perPage := params.GetInt(param.PerPage, DefaultPerPage)
	if page < 1 {
		return result.Result{}, domain.NewInvalidArgument("parameter `page` must be a positive integer")
	}
	if perPage < 1 || perPage > MaxPerPage {
		return result.Result{}, domain.NewInvalidArgument("parameter `per_page` must be between 1 and %d", MaxPerPage)
	}

	pins, err := param.ParsePinnedHits(params[param.PinnedHits])
	if err != nil {
		return result.Result{}, err
	}
	hidden := param.ParseHiddenHits(params[param.HiddenHits])

	// Candidate queries: the raw token sequence first, then synonym-reduced
	// forms, so synonym hits score on par with direct hits.
	wildcard := rawQuery == param.Wildcard
	var candidates [][]string
	if !wildcard {
		tokens := token.Tokenize(rawQuery)
		if len(tokens) == 0 {
			wildcard = true
		} else {
			candidates = append([][]string{tokens}, s.synonyms.Reduce(collectionName, tokens)...)
		}
	}

	// Override rules see the raw query and every synonym-reduced form; the
	// first matching pair wins and may rewrite the query.
	filterExpr := params[param.FilterBy]
	if params.GetBool(param.EnableOverrides, true) && !wildcard {
		outcome := s.overrides.Apply(collectionName, schema, candidates)
		if outcome.Matched {
			if outcome.FilterBy != "" {
				filterExpr = conjoin(filterExpr, outcome.FilterBy)
			}
			pins, hidden = mergeCuration(pins, hidden, outcome)
			if len(outcome.Tokens) == 0 {
				wildcard = true
				candidates = nil
			} else {
				candidates = append([][]string{outcome.Tokens},
					s.synonyms.Reduce(collectionName, outcome.Tokens)...)
			}
		}
	}

	var filterSet map[uint32]struct{}
	if filterExpr != "" {
		filterSet, err = col.EvalFilter(filterExpr)
		if err != nil {
			return result.Result{}, err
		}
	}

	keys, err := s.resolveSortKeys(col, params[param.SortBy])
	if err != nil {
		return result.Result{}, err
	}

	scores, err := s.evaluate(ctx, col, candidates, queryFields, evalOptions{
		wildcard:      wildcard,
		prefix:        params.GetBool(param.Prefix, true),
		numTypos:      params.GetInt(param.NumTypos, DefaultNumTypos),
		dropThreshold: params.GetInt(param.DropTokensThreshold, DefaultDropTokens),
		freqOrdered:   schema.DefaultSortingField() == "",
	})
	if err != nil {
		return result.Result{}, err
	}

	// Hidden ids leave the candidate set before anything is counted.
	for _, id := range hidden {
		if seq, ok := col.SeqID(id); ok {
			delete(scores, seq)
		}
	}

	// Filter intersection.
	if filterSet != nil {
		for seq := range scores {
			if _, ok := filterSet[seq]; !ok {
				delete(scores, seq)
			}
		}
	}

	ranked := rankDocs(col, scores, keys)
	ranked = applyPins(col, ranked, pins, scores)

	out := result.Result{
		Found: len(ranked),
		OutOf: col.NumDocuments(),
		Page:  page,
	}

	if facetFields, ferr := s.resolveFacets(col, params[param.FacetBy]); ferr != nil {
		return result.Result{}, ferr
	} else if len(facetFields) > 0 {
		out.FacetCounts = facetCounts(col, facetFields, ranked)
	}

	groupBy := params.Get(param.GroupBy, "")
	if groupBy != "" {
		if !schema.HasField(groupBy) {
			return result.Result{}, domain.NewInvalidArgument("could not find a field named `%s` in the schema", groupBy)
		}
		groupLimit := params.GetInt(param.GroupLimit, DefaultGroupLimit)
		if groupLimit < 1 || groupLimit > MaxGroupLimit {
			return result.Result{}, domain.NewInvalidArgument("parameter `group_limit` must be between 1 and %d", MaxGroupLimit)
		}
		groups := groupHits(col, ranked, groupBy, groupLimit, pins, scores)
		out.Found = len(groups)
		out.GroupedHits = paginateGroups(groups, page, perPage)
		return out, nil
	}

	out.Hits = buildHits(col, paginate(ranked, page, perPage), scores)
	return out, nil
}

// resolveSortKeys parses sort_by and applies the implicit defaults: at most
// three keys; `_text_match DESC` and the default sorting field `DESC` fill
// the remaining slots.
func (s *Service) resolveSortKeys(col *index.Collection, sortBy string) ([]sortkey.Key, error) {
	keys, err := sortkey.ParseList(sortBy)
	if err != nil {
		return nil, domain.NewInvalidArgument("%v", err)
	}

	schema := col.Schema()
	for _, k := range keys {
		switch k.Kind() {
		case sortkey.Numeric:
			f, found := schema.FieldByName(k.Field())
			if !found {
				return nil, domain.NewInvalidArgument("could not find a field named `%s` in the schema for sorting", k.Field())
			}
			if !f.IsNumeric() {
				return nil, domain.NewInvalidArgument("sort field `%s` must be a single valued numeric field", k.Field())
			}
		case sortkey.Geo:
			f, found := schema.FieldByName(k.Field())
			if !found {
				return nil, domain.NewInvalidArgument("could not find a field named `%s` in the schema for sorting", k.Field())
			}
			if !f.IsGeo() {
				return nil, domain.NewInvalidArgument("sort field `%s` must be a geopoint field", k.Field())
			}
		}
	}

	hasTextMatch := false
	for _, k := range keys {
		if k.Kind() == sortkey.TextMatch {
			hasTextMatch = true
		}
	}
	if !hasTextMatch && len(keys) < sortkey.MaxKeys {
		keys = append(keys, sortkey.NewTextMatch(true))
	}

	if dsf := schema.DefaultSortingField(); dsf != "" && len(keys) < sortkey.MaxKeys {
		present := false
		for _, k := range keys {
			if k.Kind() == sortkey.Numeric && k.Field() == dsf {
				present = true
			}
		}
		if !present {
			keys = append(keys, sortkey.NewNumeric(dsf, true))
		}
	}

	return keys, nil
}

func (s *Service) resolveFacets(col *index.Collection, facetBy string) ([]string, error) {
	if facetBy == "" {
		return nil, nil
	}
	fields := param.SplitList(facetBy)
	for _, f := range fields {
		if !col.Schema().HasField(f) {
			return nil, domain.NewInvalidArgument("could not find a facet field named `%s` in the schema", f)
		}
	}
	return fields, nil
}

// mergeCuration folds rule-supplied pins and hides into the caller's lists;
// caller entries win for the same ids.
func mergeCuration(pins []param.Pin, hidden []string, outcome curation.Outcome) ([]param.Pin, []string) {
	pinnedIDs := make(map[string]bool, len(pins))
	for _, p := range pins {
		pinnedIDs[p.ID] = true
	}
	hiddenIDs := make(map[string]bool, len(hidden))
	for _, h := range hidden {
		hiddenIDs[h] = true
	}

	for _, inc := range outcome.Includes {
		if pinnedIDs[inc.ID] || hiddenIDs[inc.ID] {
			continue
		}
		pins = append(pins, param.Pin{ID: inc.ID, Position: inc.Position})
		pinnedIDs[inc.ID] = true
	}
	for _, exc := range outcome.Excludes {
		if pinnedIDs[exc] || hiddenIDs[exc] {
			continue
		}
		hidden = append(hidden, exc)
		hiddenIDs[exc] = true
	}
	return pins, hidden
}

func conjoin(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " && " + b
}

// Package curation implements the override engine: rules that rewrite
// queries, pin or hide hits, and attach dynamic filters whose parameters are
// extracted from the query string via `{field}` placeholders.
package curation

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/domain/collection"
	"github.com/kailas-cloud/textdex/internal/domain/override"
	"github.com/kailas-cloud/textdex/internal/domain/token"
)

const overridesPrefix = "$CO/"

// Outcome is the result of applying the rule set to a query.
type Outcome struct {
	// Tokens is the possibly-rewritten query token sequence. Empty tokens
	// with Matched set mean the query reduced to match-all.
	Tokens   []string
	Matched  bool
	FilterBy string
	Includes []override.Include
	Excludes []string
}

// collectionOverrides holds one collection's rules in ascending id order.
type collectionOverrides struct {
	byID  map[string]override.Override
	order []string
}

// Service manages override rules per collection and applies them at query
// time. Reads take the shared lock; administrative mutations are exclusive.
type Service struct {
	mu     sync.RWMutex
	store  Store
	logger *zap.Logger
	colls  map[string]*collectionOverrides
}

// New creates an uninitialized override engine. Init must be called first.
func New(logger *zap.Logger) *Service {
	return &Service{logger: logger, colls: make(map[string]*collectionOverrides)}
}

// Init loads all persisted overrides from the store. Idempotent.
func (s *Service) Init(ctx context.Context, store Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store = store
	s.colls = make(map[string]*collectionOverrides)

	it, err := store.Scan(ctx, overridesPrefix)
	if err != nil {
		return domain.NewInternal("error while loading overrides from the store: %v", err)
	}
	defer it.Close()

	count := 0
	for it.Next() {
		collectionName, ok := collectionFromKey(it.Key())
		if !ok {
			continue
		}
		o, parseErr := override.FromStored(it.Value())
		if parseErr != nil {
			return domain.NewInternal("error while loading override: %v", parseErr)
		}
		s.collLocked(collectionName).put(o)
		count++
	}
	if err := it.Err(); err != nil {
		return domain.NewInternal("error while scanning overrides: %v", err)
	}

	s.logger.Info("Indexed overrides found on disk", zap.Int("count", count))
	return nil
}

// Upsert stores an override; an existing id is replaced.
func (s *Service) Upsert(ctx context.Context, collectionName string, o override.Override) error {
	if err := o.Validate(); err != nil {
		return domain.NewInvalidArgument("%v", err)
	}
	data, err := o.ToJSON()
	if err != nil {
		return domain.NewInternal("could not serialize override: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Insert(ctx, storeKeyFor(collectionName, o.ID), data); err != nil {
		return domain.NewInternal("could not store override: %v", err)
	}
	s.collLocked(collectionName).put(o)
	return nil
}

// Get returns an override by id.
func (s *Service) Get(collectionName, id string) (override.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	co, ok := s.colls[collectionName]
	if !ok {
		return override.Override{}, domain.NewNotFound("could not find an override with id `%s`", id)
	}
	o, ok := co.byID[id]
	if !ok {
		return override.Override{}, domain.NewNotFound("could not find an override with id `%s`", id)
	}
	return o, nil
}

// List returns all overrides of a collection in ascending id order.
func (s *Service) List(collectionName string) []override.Override {
	s.mu.RLock()
	defer s.mu.RUnlock()

	co, ok := s.colls[collectionName]
	if !ok {
		return nil
	}
	out := make([]override.Override, 0, len(co.order))
	for _, id := range co.order {
		out = append(out, co.byID[id])
	}
	return out
}

// Remove deletes an override.
func (s *Service) Remove(ctx context.Context, collectionName, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	co, ok := s.colls[collectionName]
	if !ok || co.byID[id].ID == "" {
		return domain.NewNotFound("could not find an override with id `%s`", id)
	}
	if err := s.store.Remove(ctx, storeKeyFor(collectionName, id)); err != nil {
		return domain.NewInternal("could not delete override: %v", err)
	}
	co.drop(id)
	return nil
}

// Apply evaluates the collection's rules against the candidate token
// sequences (the raw query first, then synonym-reduced forms). The first
// matching (candidate, rule) pair in (candidate order, rule id order)
// determines the query rewrite. The pinned/hidden lists come from the first
// rule matching that candidate with a non-empty include or exclude list;
// every matching rule contributes its filter, conjoined with `&&`.
func (s *Service) Apply(collectionName string, schema collection.Schema, candidates [][]string) Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	co, ok := s.colls[collectionName]
	if !ok || len(co.order) == 0 {
		return Outcome{}
	}

	for _, tokens := range candidates {
		out, matched := co.applyTo(tokens, schema)
		if matched {
			return out
		}
	}
	return Outcome{}
}

func (co *collectionOverrides) applyTo(tokens []string, schema collection.Schema) (Outcome, bool) {
	var out Outcome
	var filters []string

	for _, id := range co.order {
		o := co.byID[id]
		m, ok := matchRule(o, tokens, schema)
		if !ok {
			continue
		}

		if !out.Matched {
			out.Matched = true
			out.Tokens = tokens
			if o.RemoveMatchedTokens {
				out.Tokens = removeSpan(tokens, m.start, m.length)
			}
			out.Includes = o.Includes
			for _, exc := range o.Excludes {
				out.Excludes = append(out.Excludes, exc.ID)
			}
		} else if len(out.Includes) == 0 && len(out.Excludes) == 0 {
			out.Includes = o.Includes
			for _, exc := range o.Excludes {
				out.Excludes = append(out.Excludes, exc.ID)
			}
		}

		if o.FilterBy != "" {
			filters = append(filters, substitute(o.FilterBy, m.bindings))
		}
	}

	out.FilterBy = strings.Join(filters, " && ")
	return out, out.Matched
}

// rulePart is one element of a parsed rule query: a literal token or a
// `{field}` placeholder.
type rulePart struct {
	literal     string
	placeholder string
}

var placeholderRe = regexp.MustCompile(`^\{\s*([A-Za-z0-9_-]+)\s*\}$`)

// parseRuleQuery splits a rule query into literal tokens and placeholders.
func parseRuleQuery(query string) []rulePart {
	var parts []rulePart
	for _, raw := range strings.Fields(query) {
		if m := placeholderRe.FindStringSubmatch(raw); m != nil {
			parts = append(parts, rulePart{placeholder: m[1]})
			continue
		}
		for _, tok := range token.Tokenize(raw) {
			parts = append(parts, rulePart{literal: tok})
		}
	}
	return parts
}

type ruleMatch struct {
	start    int
	length   int
	bindings map[string]string
}

// matchRule attempts to match a rule against the query tokens, binding
// placeholders by position. A placeholder binds to exactly one token and
// only when the referenced field exists in the schema and the bound value is
// legal for it.
func matchRule(o override.Override, tokens []string, schema collection.Schema) (ruleMatch, bool) {
	parts := parseRuleQuery(o.Rule.Query)
	if len(parts) == 0 || len(parts) > len(tokens) {
		return ruleMatch{}, false
	}

	switch o.Rule.Match {
	case override.MatchExact:
		if len(parts) != len(tokens) {
			return ruleMatch{}, false
		}
		if bindings, ok := bindAt(parts, tokens, 0, schema); ok {
			return ruleMatch{start: 0, length: len(parts), bindings: bindings}, true
		}
	case override.MatchContains:
		for start := 0; start+len(parts) <= len(tokens); start++ {
			if bindings, ok := bindAt(parts, tokens, start, schema); ok {
				return ruleMatch{start: start, length: len(parts), bindings: bindings}, true
			}
		}
	}
	return ruleMatch{}, false
}

func bindAt(parts []rulePart, tokens []string, start int, schema collection.Schema) (map[string]string, bool) {
	bindings := make(map[string]string)
	for i, p := range parts {
		tok := tokens[start+i]
		if p.placeholder == "" {
			if p.literal != tok {
				return nil, false
			}
			continue
		}
		f, ok := schema.FieldByName(p.placeholder)
		if !ok || !f.Accepts(tok) {
			return nil, false
		}
		bindings[p.placeholder] = tok
	}
	return bindings, true
}

var filterPlaceholderRe = regexp.MustCompile(`\{\s*([A-Za-z0-9_-]+)\s*\}`)

// substitute replaces `{name}` placeholders in a filter expression with
// their bound values.
func substitute(filterBy string, bindings map[string]string) string {
	return filterPlaceholderRe.ReplaceAllStringFunc(filterBy, func(m string) string {
		name := filterPlaceholderRe.FindStringSubmatch(m)[1]
		if v, ok := bindings[name]; ok {
			return v
		}
		return m
	})
}

func removeSpan(tokens []string, start, length int) []string {
	out := make([]string, 0, len(tokens)-length)
	out = append(out, tokens[:start]...)
	out = append(out, tokens[start+length:]...)
	return out
}

func (co *collectionOverrides) put(o override.Override) {
	if _, exists := co.byID[o.ID]; !exists {
		co.order = append(co.order, o.ID)
		sort.Strings(co.order)
	}
	co.byID[o.ID] = o
}

func (co *collectionOverrides) drop(id string) {
	delete(co.byID, id)
	for i, existing := range co.order {
		if existing == id {
			co.order = append(co.order[:i], co.order[i+1:]...)
			break
		}
	}
}

func (s *Service) collLocked(collectionName string) *collectionOverrides {
	co, ok := s.colls[collectionName]
	if !ok {
		co = &collectionOverrides{byID: make(map[string]override.Override)}
		s.colls[collectionName] = co
	}
	return co
}

func storeKeyFor(collectionName, id string) string {
	return overridesPrefix + collectionName + "/" + id
}

func collectionFromKey(key string) (string, bool) {
	rest := strings.TrimPrefix(key, overridesPrefix)
	collectionName, _, ok := strings.Cut(rest, "/")
	return collectionName, ok
}

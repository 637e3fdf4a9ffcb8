// Package synonym implements the synonym engine: one-way and multi-way
// expansion plus multi-token reduction over tokenized queries.
package synonym

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/domain/synonym"
)

const synonymsPrefix = "$CS/"

// collectionSynonyms is the per-collection synonym index: groups by id in
// deterministic order plus a reverse lookup from any participating token to
// the groups containing it.
type collectionSynonyms struct {
	byID       map[string]synonym.Synonym
	order      []string
	tokenIndex map[string][]string
}

// Service manages synonym groups per collection and performs query-time
// expansion and reduction. Reads take the shared lock; administrative
// mutations take the exclusive lock.
type Service struct {
	mu     sync.RWMutex
	store  Store
	logger *zap.Logger
	colls  map[string]*collectionSynonyms
}

// New creates an uninitialized synonym engine. Init must be called first.
func New(logger *zap.Logger) *Service {
	return &Service{logger: logger, colls: make(map[string]*collectionSynonyms)}
}

// Init loads all persisted synonym groups from the store. Idempotent.
func (s *Service) Init(ctx context.Context, store Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store = store
	s.colls = make(map[string]*collectionSynonyms)

	it, err := store.Scan(ctx, synonymsPrefix)
	if err != nil {
		return domain.NewInternal("error while loading synonyms from the store: %v", err)
	}
	defer it.Close()

	count := 0
	for it.Next() {
		collectionName, ok := collectionFromKey(it.Key())
		if !ok {
			continue
		}
		syn, parseErr := synonym.FromStored(it.Value())
		if parseErr != nil {
			return domain.NewInternal("error while loading synonym: %v", parseErr)
		}
		s.collLocked(collectionName).put(syn)
		count++
	}
	if err := it.Err(); err != nil {
		return domain.NewInternal("error while scanning synonyms: %v", err)
	}

	s.logger.Info("Indexed synonyms found on disk", zap.Int("count", count))
	return nil
}

// Upsert stores a synonym group; an existing id is replaced.
func (s *Service) Upsert(ctx context.Context, collectionName string, syn synonym.Synonym) error {
	data, err := syn.ToJSON()
	if err != nil {
		return domain.NewInternal("could not serialize synonym: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Insert(ctx, storeKeyFor(collectionName, syn.ID), data); err != nil {
		return domain.NewInternal("could not store synonym: %v", err)
	}
	s.collLocked(collectionName).put(syn)
	return nil
}

// Get returns a synonym group by id.
func (s *Service) Get(collectionName, id string) (synonym.Synonym, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.colls[collectionName]
	if !ok {
		return synonym.Synonym{}, domain.NewNotFound("could not find a synonym with id `%s`", id)
	}
	syn, ok := cs.byID[id]
	if !ok {
		return synonym.Synonym{}, domain.NewNotFound("could not find a synonym with id `%s`", id)
	}
	return syn, nil
}

// List returns all synonym groups of a collection in id order.
func (s *Service) List(collectionName string) []synonym.Synonym {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.colls[collectionName]
	if !ok {
		return nil
	}
	out := make([]synonym.Synonym, 0, len(cs.order))
	for _, id := range cs.order {
		out = append(out, cs.byID[id])
	}
	return out
}

// Remove deletes a synonym group.
func (s *Service) Remove(ctx context.Context, collectionName, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.colls[collectionName]
	if !ok || cs.byID[id].ID == "" {
		return domain.NewNotFound("could not find a synonym with id `%s`", id)
	}
	if err := s.store.Remove(ctx, storeKeyFor(collectionName, id)); err != nil {
		return domain.NewInternal("could not delete synonym: %v", err)
	}
	cs.drop(id)
	return nil
}

// Reduce rewrites occurrences of synonym sequences by their alternatives,
// composing across positions; each group applies at most once and the
// original sequence is not included. Overlapping matches resolve to the
// longest sequence, ties to the group registered first.
func (s *Service) Reduce(collectionName string, tokens []string) [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.colls[collectionName]
	if !ok || len(cs.order) == 0 {
		return nil
	}
	return cs.reduce(tokens, 0, make(map[string]bool))
}

// Expand produces single-step equivalent sequences: every occurrence of a
// group's root (one-way) or member (multi-way) replaced by each alternative.
func (s *Service) Expand(collectionName string, tokens []string) [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.colls[collectionName]
	if !ok {
		return nil
	}

	var out [][]string
	for i := 0; i < len(tokens); i++ {
		for _, id := range cs.groupsForToken(tokens[i]) {
			g := cs.byID[id]
			matched, length := matchAt(g, tokens, i)
			if length == 0 {
				continue
			}
			for _, alt := range alternatives(g, matched) {
				out = append(out, splice(tokens, i, length, alt))
			}
		}
	}
	return out
}

func (cs *collectionSynonyms) reduce(tokens []string, start int, used map[string]bool) [][]string {
	for i := start; i < len(tokens); i++ {
		matches := cs.matchesAt(tokens, i, used)
		if len(matches) == 0 {
			continue
		}

		var results [][]string
		for _, m := range matches {
			used[m.group.ID] = true
			for _, alt := range alternatives(m.group, m.matched) {
				next := splice(tokens, i, m.length, alt)
				sub := cs.reduce(next, i+len(alt), used)
				if len(sub) == 0 {
					results = append(results, next)
				} else {
					results = append(results, sub...)
				}
			}
			delete(used, m.group.ID)
		}
		return results
	}
	return nil
}

type match struct {
	group   synonym.Synonym
	matched []string
	length  int
}

// matchesAt finds the groups whose sequences match at position i with the
// maximum length: the longer replacement wins over shorter overlapping ones,
// and equal-length matches from different groups all contribute, in group
// order.
func (cs *collectionSynonyms) matchesAt(tokens []string, i int, used map[string]bool) []match {
	var matches []match
	bestLen := 0

	for _, id := range cs.groupsForToken(tokens[i]) {
		if used[id] {
			continue
		}
		g := cs.byID[id]
		matched, length := matchAt(g, tokens, i)
		if length == 0 {
			continue
		}
		if length > bestLen {
			matches = matches[:0]
			bestLen = length
		}
		if length == bestLen {
			matches = append(matches, match{group: g, matched: matched, length: length})
		}
	}
	return matches
}

// matchAt reports the replaceable sequence of group g starting at tokens[i]:
// the root for one-way groups, any member for multi-way groups.
func matchAt(g synonym.Synonym, tokens []string, i int) ([]string, int) {
	var candidates [][]string
	if g.IsMultiWay() {
		candidates = g.Synonyms
	} else {
		candidates = [][]string{g.Root}
	}

	var best []string
	for _, seq := range candidates {
		if len(seq) > len(best) && sequenceAt(tokens, i, seq) {
			best = seq
		}
	}
	return best, len(best)
}

func sequenceAt(tokens []string, i int, seq []string) bool {
	if i+len(seq) > len(tokens) {
		return false
	}
	for j, t := range seq {
		if tokens[i+j] != t {
			return false
		}
	}
	return true
}

// alternatives lists the replacement sequences for a matched sequence:
// all synonyms for a one-way root, the other members for a multi-way match.
func alternatives(g synonym.Synonym, matched []string) [][]string {
	if !g.IsMultiWay() {
		return g.Synonyms
	}
	var out [][]string
	for _, seq := range g.Synonyms {
		if sameSequence(seq, matched) {
			continue
		}
		out = append(out, seq)
	}
	return out
}

func sameSequence(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func splice(tokens []string, i, length int, replacement []string) []string {
	out := make([]string, 0, len(tokens)-length+len(replacement))
	out = append(out, tokens[:i]...)
	out = append(out, replacement...)
	out = append(out, tokens[i+length:]...)
	return out
}

func (cs *collectionSynonyms) groupsForToken(tok string) []string {
	return cs.tokenIndex[tok]
}

func (cs *collectionSynonyms) put(syn synonym.Synonym) {
	if _, exists := cs.byID[syn.ID]; exists {
		cs.drop(syn.ID)
	}
	cs.byID[syn.ID] = syn
	cs.order = append(cs.order, syn.ID)
	sort.Strings(cs.order)
	cs.reindex()
}

func (cs *collectionSynonyms) drop(id string) {
	delete(cs.byID, id)
	for i, existing := range cs.order {
		if existing == id {
			cs.order = append(cs.order[:i], cs.order[i+1:]...)
			break
		}
	}
	cs.reindex()
}

// reindex rebuilds the token reverse lookup from scratch; synonym sets are
// small and administrative mutations are rare.
func (cs *collectionSynonyms) reindex() {
	cs.tokenIndex = make(map[string][]string)
	for _, id := range cs.order {
		seen := make(map[string]bool)
		for _, seq := range cs.byID[id].Sequences() {
			for _, tok := range seq {
				if !seen[tok] {
					seen[tok] = true
					cs.tokenIndex[tok] = append(cs.tokenIndex[tok], id)
				}
			}
		}
	}
}

func (s *Service) collLocked(collectionName string) *collectionSynonyms {
	cs, ok := s.colls[collectionName]
	if !ok {
		cs = &collectionSynonyms{byID: make(map[string]synonym.Synonym)}
		s.colls[collectionName] = cs
	}
	return cs
}

func storeKeyFor(collectionName, id string) string {
	return synonymsPrefix + collectionName + "/" + id
}

func collectionFromKey(key string) (string, bool) {
	rest := strings.TrimPrefix(key, synonymsPrefix)
	collectionName, _, ok := strings.Cut(rest, "/")
	return collectionName, ok
}

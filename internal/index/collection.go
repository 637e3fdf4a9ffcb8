// Package index provides the in-process collection runtime: a schema-aware
// inverted index over text fields, a forward document store keyed by internal
// sequence id, filter evaluation, and facet counting.
package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/domain/collection"
	"github.com/kailas-cloud/textdex/internal/domain/collection/field"
	"github.com/kailas-cloud/textdex/internal/domain/geo"
	"github.com/kailas-cloud/textdex/internal/domain/token"
)

// Candidate is one expansion of a query token within a field's dictionary.
type Candidate struct {
	Token    string
	Distance int  // edit distance from the query token
	Prefix   bool // matched by prefix rather than whole-token
	DocFreq  int
}

// posting maps a term to the set of documents containing it in one field.
type posting struct {
	docs map[uint32]struct{}
}

// fieldIndex is the per-field term dictionary with a sorted term list for
// prefix scans. The sorted list is rebuilt lazily under its own mutex so
// that concurrent readers holding the collection's shared lock do not race.
type fieldIndex struct {
	terms    map[string]*posting
	sortedMu sync.Mutex
	sorted   []string
	dirty    bool
}

// Collection combines the schema, forward store, and inverted index. All
// methods are safe for concurrent use; reads take the shared lock.
type Collection struct {
	mu      sync.RWMutex
	schema  collection.Schema
	nextSeq uint32
	docs    map[uint32]map[string]any
	seqByID map[string]uint32
	idBySeq map[uint32]string
	fields  map[string]*fieldIndex
}

// NewCollection creates an empty collection runtime for the given schema.
func NewCollection(schema collection.Schema) *Collection {
	fields := make(map[string]*fieldIndex)
	for _, f := range schema.Fields() {
		if f.IsText() {
			fields[f.Name()] = &fieldIndex{terms: make(map[string]*posting)}
		}
	}
	return &Collection{
		schema:  schema,
		docs:    make(map[uint32]map[string]any),
		seqByID: make(map[string]uint32),
		idBySeq: make(map[uint32]string),
		fields:  fields,
	}
}

// Schema returns the collection schema.
func (c *Collection) Schema() collection.Schema {
	return c.schema
}

// NumDocuments returns the number of indexed documents.
func (c *Collection) NumDocuments() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Add validates a document against the schema and indexes it, assigning the
// next internal sequence id. The document must carry a string `id`.
func (c *Collection) Add(doc map[string]any) (uint32, error) {
	id, ok := doc["id"].(string)
	if !ok || id == "" {
		return 0, domain.NewInvalidArgument("document must contain a string `id` field")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.validate(doc); err != nil {
		return 0, err
	}

	if old, exists := c.seqByID[id]; exists {
		c.unindex(old)
	}

	seq := c.nextSeq
	c.nextSeq++
	c.docs[seq] = doc
	c.seqByID[id] = seq
	c.idBySeq[seq] = id

	for name, fi := range c.fields {
		for _, tok := range textTokens(doc[name]) {
			p, ok := fi.terms[tok]
			if !ok {
				p = &posting{docs: make(map[uint32]struct{})}
				fi.terms[tok] = p
				fi.dirty = true
			}
			p.docs[seq] = struct{}{}
		}
	}

	return seq, nil
}

func (c *Collection) validate(doc map[string]any) error {
	for _, f := range c.schema.Fields() {
		v, present := doc[f.Name()]
		if !present {
			if f.Optional() {
				continue
			}
			return domain.NewInvalidArgument("field `%s` has been declared in the schema, but is not found in the document", f.Name())
		}
		if !typeMatches(f, v) {
			return domain.NewInvalidArgument("field `%s` must be a %s", f.Name(), f.FieldType())
		}
	}
	return nil
}

func (c *Collection) unindex(seq uint32) {
	doc := c.docs[seq]
	for name, fi := range c.fields {
		for _, tok := range textTokens(doc[name]) {
			if p, ok := fi.terms[tok]; ok {
				delete(p.docs, seq)
				if len(p.docs) == 0 {
					delete(fi.terms, tok)
					fi.dirty = true
				}
			}
		}
	}
	id := c.idBySeq[seq]
	delete(c.docs, seq)
	delete(c.idBySeq, seq)
	delete(c.seqByID, id)
}

// Remove deletes a document by external id.
func (c *Collection) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq, ok := c.seqByID[id]
	if !ok {
		return domain.NewNotFound("could not find a document with id: %s", id)
	}
	c.unindex(seq)
	return nil
}

// Document returns the stored document for a sequence id.
func (c *Collection) Document(seq uint32) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[seq]
	return d, ok
}

// ExternalID returns the external id for a sequence id.
func (c *Collection) ExternalID(seq uint32) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idBySeq[seq]
}

// SeqID returns the sequence id for an external id.
func (c *Collection) SeqID(id string) (uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seq, ok := c.seqByID[id]
	return seq, ok
}

// AllSeqIDs returns every sequence id in ascending order.
func (c *Collection) AllSeqIDs() []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]uint32, 0, len(c.docs))
	for seq := range c.docs {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PostingDocs returns the ascending sequence ids of documents containing the
// exact term in the field.
func (c *Collection) PostingDocs(fieldName, term string) []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fi, ok := c.fields[fieldName]
	if !ok {
		return nil
	}
	p, ok := fi.terms[term]
	if !ok {
		return nil
	}
	out := make([]uint32, 0, len(p.docs))
	for seq := range p.docs {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExpandToken expands a query token into candidate terms within one field:
// the exact term when present, prefix completions (capped), and typo
// corrections within maxTypos edits. Results are deduplicated by term.
func (c *Collection) ExpandToken(fieldName, tok string, usePrefix bool, maxTypos, prefixCap int) []Candidate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fi, ok := c.fields[fieldName]
	if !ok {
		return nil
	}

	seen := make(map[string]bool)
	var out []Candidate

	if p, ok := fi.terms[tok]; ok {
		seen[tok] = true
		out = append(out, Candidate{Token: tok, DocFreq: len(p.docs)})
	}

	if usePrefix {
		sorted := fi.rebuildSorted()
		start := sort.SearchStrings(sorted, tok)
		added := 0
		for i := start; i < len(sorted) && added < prefixCap; i++ {
			term := sorted[i]
			if len(term) < len(tok) || term[:len(tok)] != tok {
				break
			}
			if seen[term] {
				continue
			}
			seen[term] = true
			out = append(out, Candidate{Token: term, Prefix: term != tok, DocFreq: len(fi.terms[term].docs)})
			added++
		}
	}

	if maxTypos > 0 {
		budget := typoBudget(tok, maxTypos)
		if budget > 0 {
			for term, p := range fi.terms {
				if seen[term] {
					continue
				}
				if d := boundedLevenshtein(tok, term, budget); d <= budget {
					seen[term] = true
					out = append(out, Candidate{Token: term, Distance: d, DocFreq: len(p.docs)})
				}
			}
		}
	}

	return out
}

// typoBudget bounds the allowed edit distance by token length: short tokens
// get no corrections, medium ones a single edit, long ones up to two.
func typoBudget(tok string, maxTypos int) int {
	budget := 0
	switch {
	case len(tok) >= 7:
		budget = 2
	case len(tok) >= 4:
		budget = 1
	}
	if budget > maxTypos {
		budget = maxTypos
	}
	return budget
}

func (fi *fieldIndex) rebuildSorted() []string {
	fi.sortedMu.Lock()
	defer fi.sortedMu.Unlock()

	if fi.dirty || fi.sorted == nil {
		sorted := make([]string, 0, len(fi.terms))
		for t := range fi.terms {
			sorted = append(sorted, t)
		}
		sort.Strings(sorted)
		fi.sorted = sorted
		fi.dirty = false
	}
	return fi.sorted
}

// NumericValue extracts a single numeric field value from a document.
func (c *Collection) NumericValue(seq uint32, fieldName string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc, ok := c.docs[seq]
	if !ok {
		return 0, false
	}
	return asNumber(doc[fieldName])
}

// GeoPoint extracts a geopoint field value ([lat, lng]) from a document.
func (c *Collection) GeoPoint(seq uint32, fieldName string) (geo.Point, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc, ok := c.docs[seq]
	if !ok {
		return geo.Point{}, false
	}
	arr, ok := doc[fieldName].([]any)
	if !ok || len(arr) != 2 {
		if pair, ok2 := doc[fieldName].([]float64); ok2 && len(pair) == 2 {
			return geo.Point{Lat: pair[0], Lng: pair[1]}, true
		}
		return geo.Point{}, false
	}
	lat, ok1 := asNumber(arr[0])
	lng, ok2 := asNumber(arr[1])
	if !ok1 || !ok2 {
		return geo.Point{}, false
	}
	return geo.Point{Lat: lat, Lng: lng}, true
}

// FieldValues renders a document's values for one field as normalized strings,
// used for grouping keys and facet counts.
func (c *Collection) FieldValues(seq uint32, fieldName string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc, ok := c.docs[seq]
	if !ok {
		return nil
	}
	return stringValues(doc[fieldName])
}

func stringValues(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, stringValues(item)...)
		}
		return out
	case []string:
		return val
	case bool:
		if val {
			return []string{"true"}
		}
		return []string{"false"}
	case float64:
		return []string{trimFloat(val)}
	case int:
		return []string{fmt.Sprintf("%d", val)}
	case int64:
		return []string{fmt.Sprintf("%d", val)}
	default:
		return []string{fmt.Sprintf("%v", val)}
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func typeMatches(f field.Field, v any) bool {
	switch f.FieldType() {
	case field.String:
		_, ok := v.(string)
		return ok
	case field.StringArray:
		switch arr := v.(type) {
		case []string:
			return true
		case []any:
			for _, item := range arr {
				if _, ok := item.(string); !ok {
					return false
				}
			}
			return true
		default:
			return false
		}
	case field.Int32, field.Int64, field.Float:
		_, ok := asNumber(v)
		return ok
	case field.Bool:
		_, ok := v.(bool)
		return ok
	case field.Geopoint:
		switch arr := v.(type) {
		case []float64:
			return len(arr) == 2
		case []any:
			if len(arr) != 2 {
				return false
			}
			_, ok1 := asNumber(arr[0])
			_, ok2 := asNumber(arr[1])
			return ok1 && ok2
		default:
			return false
		}
	default:
		return false
	}
}

// textTokens tokenizes a text field value (string or string array).
func textTokens(v any) []string {
	var out []string
	switch val := v.(type) {
	case string:
		out = token.Tokenize(val)
	case []string:
		for _, s := range val {
			out = append(out, token.Tokenize(s)...)
		}
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, token.Tokenize(s)...)
			}
		}
	}
	return out
}

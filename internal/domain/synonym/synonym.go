// Package synonym defines synonym groups: one-way (root to alternatives) and
// multi-way (mutually interchangeable) token sequences.
package synonym

import (
	"encoding/json"
	"fmt"

	"github.com/kailas-cloud/textdex/internal/domain/token"
)

// Synonym is a synonym group stored per collection, keyed by id. Token
// sequences are held in normalized form. An empty Root makes the group
// multi-way: any element of Synonyms may replace any other.
type Synonym struct {
	ID       string     `json:"id"`
	Root     []string   `json:"root,omitempty"`
	Synonyms [][]string `json:"synonyms"`
}

// wire is the external JSON shape: root and synonyms are plain strings that
// get tokenized on parse.
type wire struct {
	ID       *string         `json:"id"`
	Root     json.RawMessage `json:"root"`
	Synonyms json.RawMessage `json:"synonyms"`
}

// Parse loads a Synonym from its wire JSON, normalizing all token sequences.
func Parse(data []byte) (Synonym, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Synonym{}, fmt.Errorf("parse synonym: %w", err)
	}

	if w.ID == nil {
		return Synonym{}, fmt.Errorf("missing `id` field")
	}
	s := Synonym{ID: *w.ID}

	if w.Root != nil {
		var root string
		if err := json.Unmarshal(w.Root, &root); err != nil {
			return Synonym{}, fmt.Errorf("key `root` should be a string")
		}
		s.Root = token.Tokenize(root)
	}

	if w.Synonyms == nil {
		return Synonym{}, fmt.Errorf("could not find an array of `synonyms`")
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(w.Synonyms, &raw); err != nil || len(raw) == 0 {
		return Synonym{}, fmt.Errorf("could not find an array of `synonyms`")
	}
	for _, item := range raw {
		var phrase string
		if err := json.Unmarshal(item, &phrase); err != nil || phrase == "" {
			return Synonym{}, fmt.Errorf("could not find a valid string array of `synonyms`")
		}
		tokens := token.Tokenize(phrase)
		if len(tokens) == 0 {
			return Synonym{}, fmt.Errorf("could not find a valid string array of `synonyms`")
		}
		s.Synonyms = append(s.Synonyms, tokens)
	}

	return s, nil
}

// IsMultiWay reports whether the group is symmetric (no root).
func (s Synonym) IsMultiWay() bool { return len(s.Root) == 0 }

// Sequences returns every token sequence participating in the group,
// root first when present.
func (s Synonym) Sequences() [][]string {
	var seqs [][]string
	if len(s.Root) > 0 {
		seqs = append(seqs, s.Root)
	}
	seqs = append(seqs, s.Synonyms...)
	return seqs
}

// ToJSON serializes the synonym for storage (normalized token arrays).
func (s Synonym) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromStored loads a synonym previously written by ToJSON.
func FromStored(data []byte) (Synonym, error) {
	var s Synonym
	if err := json.Unmarshal(data, &s); err != nil {
		return Synonym{}, fmt.Errorf("load synonym: %w", err)
	}
	if len(s.Synonyms) == 0 {
		return Synonym{}, fmt.Errorf("load synonym: empty `synonyms`")
	}
	return s, nil
}

// Package override defines curation rules: declarative transformations that
// rewrite queries, pin or hide hits, and attach dynamic filters.
package override

import (
	"encoding/json"
	"fmt"
)

// Match modes for a rule query.
const (
	MatchExact    = "exact"
	MatchContains = "contains"
)

// Rule is the query pattern of an override. The query may contain `{field}`
// placeholders that bind to request query tokens by position.
type Rule struct {
	Query string `json:"query"`
	Match string `json:"match"`
}

// Include pins a document at a 1-based position in the result list.
type Include struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// Exclude hides a document from the result list.
type Exclude struct {
	ID string `json:"id"`
}

// Override is a curation rule stored per collection, keyed by id.
type Override struct {
	ID                  string    `json:"id"`
	Rule                Rule      `json:"rule"`
	Includes            []Include `json:"includes,omitempty"`
	Excludes            []Exclude `json:"excludes,omitempty"`
	FilterBy            string    `json:"filter_by,omitempty"`
	RemoveMatchedTokens bool      `json:"remove_matched_tokens"`
}

// Parse loads an Override from JSON and validates it. `remove_matched_tokens`
// defaults to true when absent.
func Parse(id string, data []byte) (Override, error) {
	var raw struct {
		Rule                Rule            `json:"rule"`
		Includes            json.RawMessage `json:"includes"`
		Excludes            json.RawMessage `json:"excludes"`
		FilterBy            *string         `json:"filter_by"`
		RemoveMatchedTokens *bool           `json:"remove_matched_tokens"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Override{}, fmt.Errorf("parse override: %w", err)
	}

	o := Override{ID: id, Rule: raw.Rule, RemoveMatchedTokens: true}
	if raw.RemoveMatchedTokens != nil {
		o.RemoveMatchedTokens = *raw.RemoveMatchedTokens
	}

	if raw.Includes != nil {
		var includes []struct {
			ID       *string `json:"id"`
			Position *int    `json:"position"`
		}
		if err := json.Unmarshal(raw.Includes, &includes); err != nil {
			return Override{}, fmt.Errorf("included hits must be an array of objects")
		}
		for _, inc := range includes {
			if inc.ID == nil {
				return Override{}, fmt.Errorf("included hit must have an `id`")
			}
			if inc.Position == nil {
				return Override{}, fmt.Errorf("included hit must have a `position`")
			}
			o.Includes = append(o.Includes, Include{ID: *inc.ID, Position: *inc.Position})
		}
	}

	if raw.Excludes != nil {
		var excludes []struct {
			ID *string `json:"id"`
		}
		if err := json.Unmarshal(raw.Excludes, &excludes); err != nil {
			return Override{}, fmt.Errorf("excluded hits must be an array of objects")
		}
		for _, exc := range excludes {
			if exc.ID == nil {
				return Override{}, fmt.Errorf("excluded hit must have an `id`")
			}
			o.Excludes = append(o.Excludes, Exclude{ID: *exc.ID})
		}
	}

	if raw.FilterBy != nil {
		o.FilterBy = *raw.FilterBy
	}

	if err := o.Validate(); err != nil {
		return Override{}, err
	}
	return o, nil
}

// Validate checks the override invariants.
func (o Override) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("override `id` is required")
	}
	switch o.Rule.Match {
	case MatchExact, MatchContains:
	default:
		return fmt.Errorf("rule `match` must be `%s` or `%s`", MatchExact, MatchContains)
	}
	if o.Rule.Query == "" {
		return fmt.Errorf("rule `query` is required")
	}
	if len(o.Includes) == 0 && len(o.Excludes) == 0 && o.FilterBy == "" {
		return fmt.Errorf("the override must contain either `includes`, `excludes` or `filter_by`")
	}
	for _, inc := range o.Includes {
		if inc.ID == "" {
			return fmt.Errorf("included hit must have an `id`")
		}
		if inc.Position < 1 {
			return fmt.Errorf("included hit `position` must be a positive integer")
		}
	}
	for _, exc := range o.Excludes {
		if exc.ID == "" {
			return fmt.Errorf("excluded hit must have an `id`")
		}
	}
	return nil
}

// ToJSON serializes the override for storage.
func (o Override) ToJSON() ([]byte, error) {
	return json.Marshal(o)
}

// FromStored loads an override previously written by ToJSON.
func FromStored(data []byte) (Override, error) {
	var o Override
	if err := json.Unmarshal(data, &o); err != nil {
		return Override{}, fmt.Errorf("load override: %w", err)
	}
	return o, nil
}

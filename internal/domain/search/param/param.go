// Package param models the effective search parameter map: the caller's
// request parameters merged with any embedded scoped-key parameters under a
// defined precedence.
package param

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/kailas-cloud/textdex/internal/domain"
)

// Well-known parameter names.
const (
	Query               = "q"
	QueryBy             = "query_by"
	FilterBy            = "filter_by"
	SortBy              = "sort_by"
	Page                = "page"
	PerPage             = "per_page"
	Prefix              = "prefix"
	NumTypos            = "num_typos"
	DropTokensThreshold = "drop_tokens_threshold"
	GroupBy             = "group_by"
	GroupLimit          = "group_limit"
	FacetBy             = "facet_by"
	PinnedHits          = "pinned_hits"
	HiddenHits          = "hidden_hits"
	EnableOverrides     = "enable_overrides"
	UseCache            = "use_cache"
	CacheTTL            = "cache_ttl"
	ExpiresAt           = "expires_at"
)

// Wildcard is the match-all query string.
const Wildcard = "*"

// Params is the flat string parameter map for one request.
type Params map[string]string

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge folds embedded values into the map following the scoped-key policy:
// `expires_at` is skipped, absent keys are inserted, `filter_by` values are
// conjoined with `&&`, and other present keys are overwritten only when
// overwrite is set. Values must stringify from string, integer, float, or
// boolean; anything else is a bad request.
func (p Params) Merge(embedded map[string]any, overwrite bool) error {
	for k, v := range embedded {
		if k == ExpiresAt {
			continue
		}
		str, err := stringify(v)
		if err != nil {
			return domain.NewInvalidArgument("parameter `%s`: %v", k, err)
		}
		switch {
		case p[k] == "":
			p[k] = str
		case k == FilterBy:
			p[k] = p[k] + "&&" + str
		case overwrite:
			p[k] = str
		}
	}
	return nil
}

func stringify(v any) (string, error) {
	switch v.(type) {
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return cast.ToStringE(v)
	default:
		return "", fmt.Errorf("value must be a string, number or boolean")
	}
}

// Get returns a parameter value or the fallback when absent.
func (p Params) Get(key, fallback string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

// GetInt returns an integer parameter or the fallback when absent or invalid.
func (p Params) GetInt(key string, fallback int) int {
	v, ok := p[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// GetBool returns a boolean parameter or the fallback when absent.
func (p Params) GetBool(key string, fallback bool) bool {
	v, ok := p[key]
	if !ok {
		return fallback
	}
	return v == "true"
}

// QueryFields returns the ordered query_by field list.
func (p Params) QueryFields() []string {
	return SplitList(p[QueryBy])
}

// Pin is a caller-supplied pinned hit.
type Pin struct {
	ID       string
	Position int
}

// ParsePinnedHits parses `id:position` pairs from the pinned_hits parameter.
// The id may itself contain colons; the position is taken after the last one.
func ParsePinnedHits(value string) ([]Pin, error) {
	var pins []Pin
	for _, part := range SplitList(value) {
		idx := strings.LastIndex(part, ":")
		if idx <= 0 || idx == len(part)-1 {
			return nil, domain.NewInvalidArgument(
				"parameter `pinned_hits` is malformed: expected `id:position` but got `%s`", part)
		}
		pos, err := strconv.Atoi(part[idx+1:])
		if err != nil || pos < 1 {
			return nil, domain.NewInvalidArgument(
				"parameter `pinned_hits` is malformed: position must be a positive integer in `%s`", part)
		}
		pins = append(pins, Pin{ID: part[:idx], Position: pos})
	}
	return pins, nil
}

// ParseHiddenHits parses the comma-separated hidden_hits id list.
func ParseHiddenHits(value string) []string {
	return SplitList(value)
}

// SplitList splits a comma-separated parameter value, trimming whitespace
// and dropping empty entries.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

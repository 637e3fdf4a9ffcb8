// Package apikey defines the API key value object, its wire form, and the
// action/collection matching rules used during authentication.
package apikey

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	// PrefixLen is the number of leading bytes of a key value used to locate
	// the parent key during scoped-key verification.
	PrefixLen = 4

	// HMACBase64Len is the base64 length (with padding) of a 32-byte
	// HMAC-SHA256 digest embedded in a scoped key.
	HMACBase64Len = 44

	// FarFuture is the sentinel expiry meaning "never expires".
	FarFuture uint64 = 64723363199

	// ActionDocumentsSearch is the only action scoped keys may perform.
	ActionDocumentsSearch = "documents:search"
)

// Key is an API key with its allowed actions and collections.
type Key struct {
	ID          uint32   `json:"id"`
	Value       string   `json:"value"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
	Collections []string `json:"collections"`
	ExpiresAt   uint64   `json:"expires_at"`
}

// TruncatedKey is the listing form: the full value is replaced by its prefix.
type TruncatedKey struct {
	ID          uint32   `json:"id"`
	ValuePrefix string   `json:"value_prefix"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
	Collections []string `json:"collections"`
	ExpiresAt   uint64   `json:"expires_at"`
}

// Parse loads a Key from its JSON serialization and validates it.
func Parse(data []byte) (Key, error) {
	var k Key
	if err := json.Unmarshal(data, &k); err != nil {
		return Key{}, fmt.Errorf("parse api key: %w", err)
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Validate checks the key invariants.
func (k Key) Validate() error {
	if len(k.Actions) == 0 {
		return fmt.Errorf("wrong format for `actions`: it should be a non-empty array of strings")
	}
	if len(k.Collections) == 0 {
		return fmt.Errorf("wrong format for `collections`: it should be a non-empty array of strings")
	}
	return nil
}

// ToJSON serializes the full key.
func (k Key) ToJSON() ([]byte, error) {
	return json.Marshal(k)
}

// Prefix returns the first PrefixLen bytes of the key value.
func (k Key) Prefix() string {
	if len(k.Value) < PrefixLen {
		return k.Value
	}
	return k.Value[:PrefixLen]
}

// Truncate returns the listing form of the key.
func (k Key) Truncate() TruncatedKey {
	return TruncatedKey{
		ID:          k.ID,
		ValuePrefix: k.Prefix(),
		Description: k.Description,
		Actions:     k.Actions,
		Collections: k.Collections,
		ExpiresAt:   k.ExpiresAt,
	}
}

// IsExpired reports whether the key has expired at the given unix time.
func (k Key) IsExpired(nowUnix uint64) bool {
	return nowUnix > k.ExpiresAt
}

// AllowsAction reports whether the key permits the requested action: exact
// match, `*`, or `resource:*` covering all verbs within a resource.
func (k Key) AllowsAction(action string) bool {
	for _, allowed := range k.Actions {
		if allowed == "*" || (action != "*" && allowed == action) {
			return true
		}
		if strings.HasSuffix(allowed, ":*") {
			resource := strings.TrimSuffix(allowed, ":*")
			actual, _, _ := strings.Cut(action, ":")
			if actual == resource {
				return true
			}
		}
	}
	return false
}

// AllowsCollections reports whether every requested collection is permitted:
// `*`, exact match, an empty request collection, or a full-string regex match.
func (k Key) AllowsCollections(collections []string) bool {
	for _, requested := range collections {
		if !k.allowsCollection(requested) {
			// even one disallowed collection rejects the entire request
			return false
		}
	}
	return true
}

func (k Key) allowsCollection(requested string) bool {
	for _, allowed := range k.Collections {
		if allowed == "*" || allowed == requested || requested == "" {
			return true
		}
		if re, err := regexp.Compile("^(?:" + allowed + ")$"); err == nil && re.MatchString(requested) {
			return true
		}
	}
	return false
}

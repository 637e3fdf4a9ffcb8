// Package auth implements API key management and request authentication,
// including verification of scoped keys that embed signed parameter
// overrides.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/db"
	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/domain/apikey"
	"github.com/kailas-cloud/textdex/internal/domain/search/param"
)

// Keyspace layout in the store.
const (
	nextKeyIDKey = "$API_KEY_NEXT_ID"
	keysPrefix   = "$API_KEYS/"
)

// Service is the key manager and authenticator. The in-memory key map is
// read on every request and mutated only by administrative operations; a
// single reader-writer lock protects it together with the id counter.
type Service struct {
	mu           sync.RWMutex
	store        Store
	keys         map[string]apikey.Key // by full key value
	nextKeyID    uint32
	bootstrapKey string
	logger       *zap.Logger
	now          func() uint64
}

// New creates an uninitialized key manager. Init must be called before use.
func New(logger *zap.Logger) *Service {
	return &Service{
		keys:   make(map[string]apikey.Key),
		logger: logger,
		now:    func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// WithClock overrides the time source (tests).
func (s *Service) WithClock(now func() uint64) *Service {
	s.now = now
	return s
}

// Init loads the id counter and all persisted keys from the store. It is
// idempotent: calling it again rebuilds the same in-memory state without
// touching the counter.
func (s *Service) Init(ctx context.Context, store Store, bootstrapKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store = store
	s.bootstrapKey = bootstrapKey

	raw, err := store.Get(ctx, nextKeyIDKey)
	switch {
	case err == nil:
		id, convErr := strconv.ParseUint(string(raw), 10, 32)
		if convErr != nil {
			return domain.NewInternal("corrupted api key counter: %v", convErr)
		}
		s.nextKeyID = uint32(id)
	case errors.Is(err, db.ErrKeyNotFound):
		s.nextKeyID = 0
	default:
		return domain.NewInternal("error while fetching the next API key id from the store: %v", err)
	}

	values, err := store.ScanFill(ctx, keysPrefix)
	if err != nil {
		return domain.NewInternal("error while loading API keys from the store: %v", err)
	}

	keys := make(map[string]apikey.Key, len(values))
	for _, v := range values {
		k, parseErr := apikey.Parse(v)
		if parseErr != nil {
			return domain.NewInternal("error while loading API key: %v", parseErr)
		}
		keys[k.Value] = k
	}
	s.keys = keys

	s.logger.Info("Indexed API keys found on disk", zap.Int("count", len(keys)))
	return nil
}

// CreateKey assigns the next id to the key, persists it, and indexes it in
// memory. A missing value is generated. Duplicate values are a conflict.
func (s *Service) CreateKey(ctx context.Context, key apikey.Key) (apikey.Key, error) {
	if err := key.Validate(); err != nil {
		return apikey.Key{}, domain.NewInvalidArgument("%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if key.Value == "" {
		key.Value = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if _, exists := s.keys[key.Value]; exists || key.Value == s.bootstrapKey {
		return apikey.Key{}, domain.NewConflict("API key generation conflict.")
	}
	if key.ExpiresAt == 0 {
		key.ExpiresAt = apikey.FarFuture
	}

	// Counter increment and store write happen in one critical section so
	// restart reconstructs the same maximum id.
	if err := s.store.IncrBy(ctx, nextKeyIDKey, 1); err != nil {
		return apikey.Key{}, domain.NewInternal("could not advance API key counter: %v", err)
	}
	key.ID = s.nextKeyID
	s.nextKeyID++

	data, err := key.ToJSON()
	if err != nil {
		return apikey.Key{}, domain.NewInternal("could not serialize API key: %v", err)
	}
	if err := s.store.Insert(ctx, storeKeyFor(key.ID), data); err != nil {
		// the in-memory map stays untouched on store failure
		return apikey.Key{}, domain.NewInternal("could not store generated API key: %v", err)
	}

	s.keys[key.Value] = key
	return key, nil
}

// GetKey returns a key by id, optionally with its value truncated.
func (s *Service) GetKey(ctx context.Context, id uint32, truncate bool) (apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getKeyLocked(ctx, id, truncate)
}

func (s *Service) getKeyLocked(ctx context.Context, id uint32, truncate bool) (apikey.Key, error) {
	raw, err := s.store.Get(ctx, storeKeyFor(id))
	if errors.Is(err, db.ErrKeyNotFound) {
		return apikey.Key{}, domain.NewNotFound("Not found.")
	}
	if err != nil {
		return apikey.Key{}, domain.NewInternal("error while fetching key from store: %v", err)
	}
	k, err := apikey.Parse(raw)
	if err != nil {
		return apikey.Key{}, domain.NewInternal("%v", err)
	}
	if truncate {
		k.Value = k.Prefix()
	}
	return k, nil
}

// ListKeys returns all keys in truncated listing form.
func (s *Service) ListKeys(ctx context.Context) ([]apikey.TruncatedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, err := s.store.ScanFill(ctx, keysPrefix)
	if err != nil {
		return nil, domain.NewInternal("error while listing API keys: %v", err)
	}

	keys := make([]apikey.TruncatedKey, 0, len(values))
	for _, v := range values {
		k, parseErr := apikey.Parse(v)
		if parseErr != nil {
			return nil, domain.NewInternal("%v", parseErr)
		}
		keys = append(keys, k.Truncate())
	}
	return keys, nil
}

// RemoveKey deletes a key by id. The in-memory entry is evicted only after
// the store remove succeeds.
func (s *Service) RemoveKey(ctx context.Context, id uint32) (apikey.TruncatedKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.getKeyLocked(ctx, id, false)
	if err != nil {
		return apikey.TruncatedKey{}, err
	}
	if err := s.store.Remove(ctx, storeKeyFor(id)); err != nil {
		return apikey.TruncatedKey{}, domain.NewInternal("could not delete API key: %v", err)
	}
	delete(s.keys, key.Value)
	return key.Truncate(), nil
}

// Authenticate validates the presented key against the requested action and
// collections. Scoped keys additionally yield embedded parameters, merged
// into params with embedded values taking precedence.
func (s *Service) Authenticate(
	ctx context.Context, presentedKey, action string, collections []string, params param.Params,
) bool {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.bootstrapKey != "" && presentedKey == s.bootstrapKey {
		return true
	}

	if key, ok := s.keys[presentedKey]; ok {
		return s.authAgainstKey(key, action, collections, false)
	}

	// could be a scoped API key
	embedded, err := s.verifyScopedKey(presentedKey, action, collections)
	if err != nil {
		return false
	}
	if err := params.Merge(embedded, true); err != nil {
		s.logger.Error("Scoped API key contains invalid search parameters", zap.Error(err))
		return false
	}
	return true
}

func (s *Service) authAgainstKey(key apikey.Key, action string, collections []string, searchOnly bool) bool {
	if key.IsExpired(s.now()) {
		s.logger.Error("Rejecting expired API key", zap.String("key_prefix", key.Prefix()))
		return false
	}

	if searchOnly {
		// a parent key used for scoping must carry exactly the search action
		if len(key.Actions) != 1 || key.Actions[0] != apikey.ActionDocumentsSearch {
			s.logger.Error("Parent API key must allow only the search action",
				zap.String("key_prefix", key.Prefix()))
			return false
		}
	} else if !key.AllowsAction(action) {
		return false
	}

	return key.AllowsCollections(collections)
}

// verifyScopedKey decodes and verifies a scoped key, returning its embedded
// parameter object. Candidate parents sharing the value prefix are tried in
// ascending key id order; the first HMAC match wins.
func (s *Service) verifyScopedKey(scopedKey, action string, collections []string) (map[string]any, error) {
	if action != apikey.ActionDocumentsSearch {
		s.logger.Error("Scoped API keys can only be used for searches")
		return nil, domain.NewForbidden("Forbidden.")
	}

	payload, err := base64.StdEncoding.DecodeString(scopedKey)
	if err != nil || len(payload) < apikey.HMACBase64Len+apikey.PrefixLen {
		s.logger.Error("Malformed scoped API key")
		return nil, domain.NewForbidden("Forbidden.")
	}

	digest := payload[:apikey.HMACBase64Len]
	keyPrefix := string(payload[apikey.HMACBase64Len : apikey.HMACBase64Len+apikey.PrefixLen])
	customParams := payload[apikey.HMACBase64Len+apikey.PrefixLen:]

	for _, key := range s.candidateParents(keyPrefix) {
		if !s.authAgainstKey(key, action, collections, true) {
			s.logger.Error("Parent key does not allow queries against queried collection",
				zap.String("key_prefix", key.Prefix()))
			return nil, domain.NewForbidden("Forbidden.")
		}

		expected := SignParams(key.Value, customParams)
		if !hmac.Equal(digest, []byte(expected)) {
			continue
		}

		var embedded map[string]any
		if err := json.Unmarshal(customParams, &embedded); err != nil || embedded == nil {
			s.logger.Error("Scoped API key contains invalid search parameters",
				zap.String("key_prefix", key.Prefix()))
			return nil, domain.NewForbidden("Forbidden.")
		}

		if rawExpiry, ok := embedded[param.ExpiresAt]; ok {
			expiry, ok := asUnsignedInteger(rawExpiry)
			if !ok {
				s.logger.Error("Wrong format for `expires_at`: it should be an unsigned integer",
					zap.String("key_prefix", key.Prefix()))
				return nil, domain.NewForbidden("Forbidden.")
			}
			// the smaller of the parent's and the embedded expiry wins
			if expiry > key.ExpiresAt {
				expiry = key.ExpiresAt
			}
			if s.now() > expiry {
				s.logger.Error("Scoped API key has expired", zap.String("key_prefix", key.Prefix()))
				return nil, domain.NewForbidden("Forbidden.")
			}
		}

		return embedded, nil
	}

	return nil, domain.NewForbidden("Forbidden.")
}

// candidateParents returns keys whose value begins with prefix, in ascending
// id order so that prefix collisions resolve deterministically.
func (s *Service) candidateParents(prefix string) []apikey.Key {
	var out []apikey.Key
	for value, key := range s.keys {
		if strings.HasPrefix(value, prefix) {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SignParams computes the base64 HMAC-SHA256 digest binding an embedded
// parameter payload to a parent key value.
func SignParams(parentValue string, customParams []byte) string {
	mac := hmac.New(sha256.New, []byte(parentValue))
	mac.Write(customParams)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// GenerateScopedKey renders the wire form of a scoped key for a parent value:
// base64(digest || parent_prefix || custom_params).
func GenerateScopedKey(parentValue string, customParams []byte) string {
	digest := SignParams(parentValue, customParams)
	payload := digest + parentValue[:apikey.PrefixLen] + string(customParams)
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

func asUnsignedInteger(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	default:
		return 0, false
	}
}

func storeKeyFor(id uint32) string {
	return keysPrefix + strconv.FormatUint(uint64(id), 10)
}

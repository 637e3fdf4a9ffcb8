package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/textdex/internal/db/memory"
	"github.com/kailas-cloud/textdex/internal/domain"
	"github.com/kailas-cloud/textdex/internal/domain/apikey"
	"github.com/kailas-cloud/textdex/internal/domain/search/param"
)

// --- Mocks ---

// flakyStore wraps the in-memory store and fails selected operations.
type flakyStore struct {
	*memory.Store
	failInsert bool
	failRemove bool
}

func (f *flakyStore) Insert(ctx context.Context, key string, value []byte) error {
	if f.failInsert {
		return errors.New("disk full")
	}
	return f.Store.Insert(ctx, key, value)
}

func (f *flakyStore) Remove(ctx context.Context, key string) error {
	if f.failRemove {
		return errors.New("disk full")
	}
	return f.Store.Remove(ctx, key)
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := New(zap.NewNop())
	if err := svc.Init(context.Background(), store, "bootstrap-key"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return svc, store
}

func searchKey(value string) apikey.Key {
	return apikey.Key{
		Value:       value,
		Description: "search only",
		Actions:     []string{apikey.ActionDocumentsSearch},
		Collections: []string{"*"},
	}
}

// --- Tests ---

func TestCreateKeyAssignsIncreasingIDs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	k1, err := svc.CreateKey(ctx, searchKey("key-one-12345"))
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	k2, err := svc.CreateKey(ctx, searchKey("key-two-12345"))
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	if k1.ID != 0 || k2.ID != 1 {
		t.Errorf("ids = %d, %d, want 0, 1", k1.ID, k2.ID)
	}
	if k1.ExpiresAt != apikey.FarFuture {
		t.Errorf("expires_at = %d, want far future default", k1.ExpiresAt)
	}
}

func TestCreateKeyGeneratesValue(t *testing.T) {
	svc, _ := newTestService(t)

	k, err := svc.CreateKey(context.Background(), apikey.Key{
		Actions:     []string{"*"},
		Collections: []string{"*"},
	})
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	if len(k.Value) < apikey.PrefixLen {
		t.Errorf("generated value too short: %q", k.Value)
	}
}

func TestCreateKeyDuplicateValueConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateKey(ctx, searchKey("same-value-123")); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	_, err := svc.CreateKey(ctx, searchKey("same-value-123"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate CreateKey() error = %v, want conflict", err)
	}

	// the second call left the key set unchanged
	keys, err := svc.ListKeys(ctx)
	if err != nil {
		t.Fatalf("ListKeys() error = %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("len(keys) = %d, want 1", len(keys))
	}
}

func TestCreateKeyRejectsBootstrapValue(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateKey(context.Background(), searchKey("bootstrap-key"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("error = %v, want conflict", err)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateKey(ctx, searchKey("key-one-12345")); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	if _, err := svc.CreateKey(ctx, searchKey("key-two-12345")); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	// re-initializing rebuilds the same state without double-incrementing
	if err := svc.Init(ctx, store, "bootstrap-key"); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	keys, err := svc.ListKeys(ctx)
	if err != nil {
		t.Fatalf("ListKeys() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("len(keys) = %d, want 2", len(keys))
	}

	k3, err := svc.CreateKey(ctx, searchKey("key-three-123"))
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	if k3.ID != 2 {
		t.Errorf("id after re-init = %d, want 2", k3.ID)
	}
}

func TestCreateKeyStoreFailureLeavesMapClean(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore()}
	svc := New(zap.NewNop())
	ctx := context.Background()
	if err := svc.Init(ctx, store, ""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	store.failInsert = true
	if _, err := svc.CreateKey(ctx, searchKey("doomed-key-123")); !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("CreateKey() error = %v, want internal", err)
	}

	// the key must not be usable for authentication
	if svc.Authenticate(ctx, "doomed-key-123", apikey.ActionDocumentsSearch, nil, param.Params{}) {
		t.Error("failed create must not leave the key authenticated")
	}
}

func TestRemoveKeyStoreFailureKeepsEntry(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore()}
	svc := New(zap.NewNop())
	ctx := context.Background()
	if err := svc.Init(ctx, store, ""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	k, err := svc.CreateKey(ctx, searchKey("sturdy-key-123"))
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	store.failRemove = true
	if _, err := svc.RemoveKey(ctx, k.ID); !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("RemoveKey() error = %v, want internal", err)
	}

	// the in-memory entry survives the failed remove
	if !svc.Authenticate(ctx, "sturdy-key-123", apikey.ActionDocumentsSearch, nil, param.Params{}) {
		t.Error("key must still authenticate after failed remove")
	}
}

func TestAuthenticateDirectKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateKey(ctx, apikey.Key{
		Value:       "admin-key-1234",
		Actions:     []string{"documents:*"},
		Collections: []string{"products"},
	}); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	tests := []struct {
		name        string
		key         string
		action      string
		collections []string
		want        bool
	}{
		{"allowed action and collection", "admin-key-1234", "documents:create", []string{"products"}, true},
		{"resource wildcard search", "admin-key-1234", "documents:search", []string{"products"}, true},
		{"disallowed collection", "admin-key-1234", "documents:search", []string{"users"}, false},
		{"disallowed action", "admin-key-1234", "keys:list", nil, false},
		{"unknown key", "nope", "documents:search", []string{"products"}, false},
		{"bootstrap key", "bootstrap-key", "keys:create", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.Authenticate(ctx, tt.key, tt.action, tt.collections, param.Params{})
			if got != tt.want {
				t.Errorf("Authenticate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthenticateExpiredKey(t *testing.T) {
	svc, _ := newTestService(t)
	svc.WithClock(func() uint64 { return 2000 })
	ctx := context.Background()

	key := searchKey("expiring-key-1")
	key.ExpiresAt = 1500
	if _, err := svc.CreateKey(ctx, key); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	if svc.Authenticate(ctx, "expiring-key-1", apikey.ActionDocumentsSearch, nil, param.Params{}) {
		t.Error("expired key must not authenticate")
	}
}

func TestScopedKeySuccess(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	parent := searchKey("parent-key-12345")
	if _, err := svc.CreateKey(ctx, parent); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	customJSON := []byte(`{"filter_by":"a:1"}`)
	scoped := GenerateScopedKey("parent-key-12345", customJSON)

	params := param.Params{}
	ok := svc.Authenticate(ctx, scoped, apikey.ActionDocumentsSearch, []string{"coll"}, params)
	if !ok {
		t.Fatal("scoped key should authenticate")
	}
	if params[param.FilterBy] != "a:1" {
		t.Errorf("filter_by = %q, want a:1", params[param.FilterBy])
	}
}

func TestScopedKeyMergesFilterWithExisting(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateKey(ctx, searchKey("parent-key-12345")); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	scoped := GenerateScopedKey("parent-key-12345", []byte(`{"filter_by":"a:1"}`))

	params := param.Params{param.FilterBy: "b:2"}
	if !svc.Authenticate(ctx, scoped, apikey.ActionDocumentsSearch, []string{"coll"}, params) {
		t.Fatal("scoped key should authenticate")
	}
	if params[param.FilterBy] != "b:2&&a:1" {
		t.Errorf("filter_by = %q, want b:2&&a:1", params[param.FilterBy])
	}
}

func TestScopedKeyTamperedPayloadFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateKey(ctx, searchKey("parent-key-12345")); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	customJSON := []byte(`{"filter_by":"a:1"}`)
	digest := SignParams("parent-key-12345", customJSON)
	tampered := []byte(`{"filter_by":"a:2"}`) // one byte changed
	payload := digest + "pare" + string(tampered)
	scoped := base64.StdEncoding.EncodeToString([]byte(payload))

	if svc.Authenticate(ctx, scoped, apikey.ActionDocumentsSearch, []string{"coll"}, param.Params{}) {
		t.Error("tampered scoped key must not authenticate")
	}
}

func TestScopedKeyNonSearchActionForbidden(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateKey(ctx, searchKey("parent-key-12345")); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	scoped := GenerateScopedKey("parent-key-12345", []byte(`{"filter_by":"a:1"}`))

	if svc.Authenticate(ctx, scoped, "documents:create", []string{"coll"}, param.Params{}) {
		t.Error("scoped keys may only search")
	}
}

func TestScopedKeyBroadParentRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	parent := apikey.Key{
		Value:       "broad-key-12345",
		Actions:     []string{"*"},
		Collections: []string{"*"},
	}
	if _, err := svc.CreateKey(ctx, parent); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	scoped := GenerateScopedKey("broad-key-12345", []byte(`{"filter_by":"a:1"}`))

	if svc.Authenticate(ctx, scoped, apikey.ActionDocumentsSearch, []string{"coll"}, param.Params{}) {
		t.Error("a parent key with broad actions must not sign scoped keys")
	}
}

func TestScopedKeyExpiredParentFails(t *testing.T) {
	svc, _ := newTestService(t)
	svc.WithClock(func() uint64 { return 5000 })
	ctx := context.Background()

	parent := searchKey("parent-key-12345")
	parent.ExpiresAt = 4000
	if _, err := svc.CreateKey(ctx, parent); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	// even a far-future embedded expiry cannot outlive the parent
	scoped := GenerateScopedKey("parent-key-12345", []byte(`{"expires_at": 9999999999}`))
	if svc.Authenticate(ctx, scoped, apikey.ActionDocumentsSearch, []string{"coll"}, param.Params{}) {
		t.Error("scoped key with expired parent must not authenticate")
	}
}

func TestScopedKeyEmbeddedExpiry(t *testing.T) {
	svc, _ := newTestService(t)
	svc.WithClock(func() uint64 { return 5000 })
	ctx := context.Background()

	if _, err := svc.CreateKey(ctx, searchKey("parent-key-12345")); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	expired := GenerateScopedKey("parent-key-12345", []byte(`{"expires_at": 4000}`))
	if svc.Authenticate(ctx, expired, apikey.ActionDocumentsSearch, []string{"coll"}, param.Params{}) {
		t.Error("scoped key past its embedded expiry must not authenticate")
	}

	valid := GenerateScopedKey("parent-key-12345", []byte(`{"expires_at": 6000}`))
	if !svc.Authenticate(ctx, valid, apikey.ActionDocumentsSearch, []string{"coll"}, param.Params{}) {
		t.Error("scoped key within its embedded expiry should authenticate")
	}

	negative := GenerateScopedKey("parent-key-12345", []byte(`{"expires_at": -1}`))
	if svc.Authenticate(ctx, negative, apikey.ActionDocumentsSearch, []string{"coll"}, param.Params{}) {
		t.Error("negative embedded expiry must be rejected")
	}
}

func TestScopedKeyEmbeddedParamTypes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateKey(ctx, searchKey("parent-key-12345")); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	scoped := GenerateScopedKey("parent-key-12345",
		[]byte(`{"per_page": 5, "exclude_fields": "secret", "prefix": false}`))

	params := param.Params{}
	if !svc.Authenticate(ctx, scoped, apikey.ActionDocumentsSearch, []string{"coll"}, params) {
		t.Fatal("scoped key should authenticate")
	}
	if params["per_page"] != "5" || params["prefix"] != "false" || params["exclude_fields"] != "secret" {
		t.Errorf("params = %v", params)
	}

	// non-scalar embedded values reject the request
	bad := GenerateScopedKey("parent-key-12345", []byte(`{"weights": [1,2]}`))
	if svc.Authenticate(ctx, bad, apikey.ActionDocumentsSearch, []string{"coll"}, param.Params{}) {
		t.Error("non-scalar embedded params must fail authentication")
	}
}

func TestRemoveKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	k, err := svc.CreateKey(ctx, searchKey("vanishing-key-1"))
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	removed, err := svc.RemoveKey(ctx, k.ID)
	if err != nil {
		t.Fatalf("RemoveKey() error = %v", err)
	}
	if removed.ValuePrefix != "vani" {
		t.Errorf("ValuePrefix = %q", removed.ValuePrefix)
	}

	if _, err := svc.GetKey(ctx, k.ID, true); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetKey after remove error = %v, want not found", err)
	}
	if svc.Authenticate(ctx, "vanishing-key-1", apikey.ActionDocumentsSearch, nil, param.Params{}) {
		t.Error("removed key must not authenticate")
	}
}

package cache

import (
	"net/http"
	"testing"
	"time"

	"github.com/kailas-cloud/textdex/internal/domain/search/param"
)

func newTestCache(t *testing.T, capacity int) (*ResponseCache, *time.Time) {
	t.Helper()
	c, err := New(capacity)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	now := time.Unix(1000, 0)
	c.WithClock(func() time.Time { return now })
	return c, &now
}

func TestFindRespectsTTL(t *testing.T) {
	c, now := newTestCache(t, 10)

	c.Insert(42, Response{
		StatusCode:  http.StatusOK,
		ContentType: "application/json",
		Body:        []byte(`{"found":1}`),
		TTL:         10 * time.Second,
	})

	// before expiry the payload comes back verbatim
	for _, offset := range []time.Duration{0, 5 * time.Second, 9 * time.Second} {
		*now = time.Unix(1000, 0).Add(offset)
		resp, ok := c.Find(42)
		if !ok {
			t.Fatalf("Find at +%v should hit", offset)
		}
		if string(resp.Body) != `{"found":1}` || resp.StatusCode != http.StatusOK {
			t.Errorf("cached response altered: %+v", resp)
		}
	}

	// at exactly the TTL the entry is expired
	*now = time.Unix(1010, 0)
	if _, ok := c.Find(42); ok {
		t.Error("Find at ttl boundary should miss")
	}
}

func TestInsertRejectsNon2xx(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.Insert(1, Response{StatusCode: http.StatusBadRequest, Body: []byte("no")})
	c.Insert(2, Response{StatusCode: http.StatusInternalServerError, Body: []byte("no")})

	if c.Len() != 0 {
		t.Errorf("cache holds %d entries, want 0", c.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	c, _ := newTestCache(t, 2)

	c.Insert(1, Response{StatusCode: 200, Body: []byte("a"), TTL: time.Minute})
	c.Insert(2, Response{StatusCode: 200, Body: []byte("b"), TTL: time.Minute})

	// touch 1 so 2 becomes the least recently used
	if _, ok := c.Find(1); !ok {
		t.Fatal("Find(1) should hit")
	}

	c.Insert(3, Response{StatusCode: 200, Body: []byte("c"), TTL: time.Minute})

	if _, ok := c.Find(2); ok {
		t.Error("entry 2 should have been evicted")
	}
	if _, ok := c.Find(1); !ok {
		t.Error("entry 1 should have survived")
	}
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(t, 10)
	c.Insert(1, Response{StatusCode: 200, Body: []byte("a"), TTL: time.Minute})
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear", c.Len())
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	p1 := param.Params{"q": "shoes", "query_by": "name", "page": "1"}
	p2 := param.Params{"page": "1", "q": "shoes", "query_by": "name"}

	if Fingerprint("search/products", nil, p1) != Fingerprint("search/products", nil, p2) {
		t.Error("fingerprint must not depend on map iteration order")
	}
}

func TestFingerprintExcludesUseCache(t *testing.T) {
	p1 := param.Params{"q": "shoes", param.UseCache: "true"}
	p2 := param.Params{"q": "shoes"}

	if Fingerprint("r", nil, p1) != Fingerprint("r", nil, p2) {
		t.Error("use_cache must not affect the fingerprint")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := param.Params{"q": "shoes"}
	if Fingerprint("r", nil, base) == Fingerprint("r2", nil, base) {
		t.Error("route must affect the fingerprint")
	}
	if Fingerprint("r", nil, base) == Fingerprint("r", []byte("body"), base) {
		t.Error("body must affect the fingerprint")
	}
	if Fingerprint("r", nil, base) == Fingerprint("r", nil, param.Params{"q": "boots"}) {
		t.Error("params must affect the fingerprint")
	}
}

package purge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/52poke/hibana/internal/cache"
	"github.com/52poke/hibana/internal/store"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Options{MaxBytes: 1 << 20, TTL: time.Hour})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func seed(t *testing.T, c *cache.Cache, key string) *atomic.Int32 {
	t.Helper()
	var calls atomic.Int32
	compute := func(context.Context) (*store.Artifact, error) {
		calls.Add(1)
		return &store.Artifact{
			Body:        []byte("blob"),
			ContentType: "image/webp",
			ETag:        `W/"blob"`,
			CreatedAt:   time.Now(),
		}, nil
	}
	if _, _, err := c.GetOrCompute(context.Background(), key, compute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := c.GetOrCompute(context.Background(), key, compute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("seed computed %d times, want 1", calls.Load())
	}
	return &calls
}

func TestPurgeEvictsKey(t *testing.T) {
	c := newTestCache(t)
	calls := seed(t, c, "123456789012345678")
	h := &Handler{Cache: c}

	req := httptest.NewRequest("PURGE", "/e/123456789012345678.webp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	// The next request must re-compute.
	_, _, err := c.GetOrCompute(context.Background(), "123456789012345678", func(context.Context) (*store.Artifact, error) {
		calls.Add(1)
		return &store.Artifact{Body: []byte("fresh"), CreatedAt: time.Now()}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Fatalf("compute calls = %d, want 2 after purge", calls.Load())
	}
}

func TestPurgeMalformedName(t *testing.T) {
	h := &Handler{Cache: newTestCache(t)}
	req := httptest.NewRequest("PURGE", "/e/../secrets.webp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPurgePropagatesToNginx(t *testing.T) {
	var method, path atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		path.Store(r.URL.Path)
	}))
	defer upstream.Close()

	h := &Handler{Cache: newTestCache(t), NginxPurge: upstream.URL}
	req := httptest.NewRequest("PURGE", "/e/123456789012345678.webp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if method.Load() != "PURGE" {
		t.Fatalf("nginx saw method %v", method.Load())
	}
	if path.Load() != "/e/123456789012345678.webp" {
		t.Fatalf("nginx saw path %v", path.Load())
	}
}

func TestPurgeNginxFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	h := &Handler{Cache: newTestCache(t), NginxPurge: upstream.URL}
	req := httptest.NewRequest("PURGE", "/e/123456789012345678.webp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

package resolver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/swcache/internal/assets"
	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/network"
)

type stubFetcher struct {
	calls   atomic.Int32
	respond func(req *http.Request) network.Outcome
}

func (f *stubFetcher) Fetch(_ context.Context, req *http.Request) network.Outcome {
	f.calls.Add(1)
	return f.respond(req)
}

func okFetcher(status int, body string) *stubFetcher {
	return &stubFetcher{respond: func(*http.Request) network.Outcome {
		return network.Succeeded(&cache.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       []byte(body),
		})
	}}
}

func offlineFetcher() *stubFetcher {
	return &stubFetcher{respond: func(req *http.Request) network.Outcome {
		return network.Failed(req.URL.String(), errors.New("dial tcp: connection refused"))
	}}
}

func TestResolveAssetFastPathSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	reg := newTestRegistry(t, "v1")
	putEntry(t, store, reg.CacheName(), "/app.js", "console.log(1)")

	fetcher := okFetcher(http.StatusOK, "from network")
	res := newTestResolver(t, reg, store, fetcher)

	resolution, err := res.Resolve(ctx, get("/app.js"))
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if resolution.Source != SourceAssetCache {
		t.Fatalf("expected asset-cache source, got %s", resolution.Source)
	}
	if string(resolution.Response.Body) != "console.log(1)" {
		t.Fatalf("unexpected body %q", resolution.Response.Body)
	}
	if fetcher.calls.Load() != 0 {
		t.Fatalf("asset fast path must not hit the network, got %d calls", fetcher.calls.Load())
	}
}

func TestResolveAssetMissFallsThroughToNetwork(t *testing.T) {
	store := cache.NewMemoryStore()
	reg := newTestRegistry(t, "v1")
	fetcher := okFetcher(http.StatusOK, "fresh")
	res := newTestResolver(t, reg, store, fetcher)

	resolution, err := res.Resolve(context.Background(), get("/app.css"))
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if resolution.Source != SourceNetwork || fetcher.calls.Load() != 1 {
		t.Fatalf("expected single network fetch, got %s / %d", resolution.Source, fetcher.calls.Load())
	}
}

func TestResolveNetworkFirstStoresOK(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	reg := newTestRegistry(t, "v1")
	res := newTestResolver(t, reg, store, okFetcher(http.StatusOK, `{"x":1}`))

	resolution, err := res.Resolve(ctx, get("/api/data"))
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if resolution.Source != SourceNetwork || string(resolution.Response.Body) != `{"x":1}` {
		t.Fatalf("unexpected resolution %+v", resolution)
	}

	gen, _ := store.Open(ctx, reg.CacheName())
	stored, err := gen.Match(ctx, "/api/data")
	if err != nil {
		t.Fatalf("expected stored copy: %v", err)
	}
	if string(stored.Body) != `{"x":1}` || stored.StatusCode != http.StatusOK {
		t.Fatalf("stored copy differs: %d %q", stored.StatusCode, stored.Body)
	}

	// 返回值与缓存副本互不影响。
	resolution.Response.Body[0] = '!'
	again, _ := gen.Match(ctx, "/api/data")
	if string(again.Body) != `{"x":1}` {
		t.Fatalf("stored copy aliased the returned response")
	}
}

func TestResolveDoesNotStoreNonOK(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusFound, http.StatusInternalServerError, http.StatusNoContent} {
		ctx := context.Background()
		store := cache.NewMemoryStore()
		reg := newTestRegistry(t, "v1")
		res := newTestResolver(t, reg, store, okFetcher(status, "x"))

		resolution, err := res.Resolve(ctx, get("/api/data"))
		if err != nil {
			t.Fatalf("status %d: resolve error: %v", status, err)
		}
		if resolution.Response.StatusCode != status {
			t.Fatalf("status %d: response altered to %d", status, resolution.Response.StatusCode)
		}
		gen, _ := store.Open(ctx, reg.CacheName())
		if _, err := gen.Match(ctx, "/api/data"); !errors.Is(err, cache.ErrNotFound) {
			t.Fatalf("status %d must not be cached, got %v", status, err)
		}
	}
}

func TestResolveFallsBackToCacheWhenOffline(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	reg := newTestRegistry(t, "v1")
	putEntry(t, store, reg.CacheName(), "/api/data", `{"x":1}`)

	res := newTestResolver(t, reg, store, offlineFetcher())
	resolution, err := res.Resolve(ctx, get("/api/data"))
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if resolution.Source != SourceFallbackCache || string(resolution.Response.Body) != `{"x":1}` {
		t.Fatalf("unexpected resolution %+v", resolution)
	}
}

func TestResolveMalformedFetchTriggersFallback(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	reg := newTestRegistry(t, "v1")
	putEntry(t, store, reg.CacheName(), "/api/data", "cached")

	malformed := &stubFetcher{respond: func(*http.Request) network.Outcome {
		return network.Succeeded(nil)
	}}
	resolution, err := newTestResolver(t, reg, store, malformed).Resolve(ctx, get("/api/data"))
	if err != nil {
		t.Fatalf("malformed fetch should fall back, got %v", err)
	}
	if resolution.Source != SourceFallbackCache {
		t.Fatalf("expected fallback, got %s", resolution.Source)
	}
}

func TestResolveUnservableWhenOfflineAndUncached(t *testing.T) {
	store := cache.NewMemoryStore()
	reg := newTestRegistry(t, "v1")
	_, err := newTestResolver(t, reg, store, offlineFetcher()).Resolve(context.Background(), get("/api/other"))

	var unservable *RequestUnservable
	if !errors.As(err, &unservable) {
		t.Fatalf("expected RequestUnservable, got %v", err)
	}
	if unservable.Key != "/api/other" {
		t.Fatalf("unexpected key %s", unservable.Key)
	}
	var netErr *network.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("network cause should stay reachable, got %v", err)
	}
}

func TestResolveFallbackUsesFullRequestKey(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	reg := newTestRegistry(t, "v1")
	putEntry(t, store, reg.CacheName(), "/api/data?page=1", "page one")

	res := newTestResolver(t, reg, store, offlineFetcher())
	if _, err := res.Resolve(ctx, get("/api/data?page=2")); err == nil {
		t.Fatalf("different query must not match")
	}
	resolution, err := res.Resolve(ctx, get("/api/data?page=1"))
	if err != nil || string(resolution.Response.Body) != "page one" {
		t.Fatalf("expected page one, got %v %v", resolution, err)
	}
}

func TestResolveGenerationIsolation(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	v1 := newTestRegistry(t, "v1")
	putEntry(t, store, v1.CacheName(), "/api/data", "old generation")
	putEntry(t, store, v1.CacheName(), "/app.js", "old asset")

	v2 := newTestRegistry(t, "v2")
	res := newTestResolver(t, v2, store, offlineFetcher())
	for _, p := range []string{"/api/data", "/app.js"} {
		var unservable *RequestUnservable
		if _, err := res.Resolve(ctx, get(p)); !errors.As(err, &unservable) {
			t.Fatalf("%s: v1 entry leaked into v2 resolution: %v", p, err)
		}
	}
}

func TestResolveStoreFailureDoesNotFailRequest(t *testing.T) {
	store := &readOnlyStore{Store: cache.NewMemoryStore()}
	reg := newTestRegistry(t, "v1")
	resolution, err := newTestResolver(t, reg, store, okFetcher(http.StatusOK, "ok")).Resolve(context.Background(), get("/api/data"))
	if err != nil {
		t.Fatalf("put failure must not fail the request: %v", err)
	}
	if resolution.Source != SourceNetwork {
		t.Fatalf("unexpected source %s", resolution.Source)
	}
}

func TestResolveRejectsNonGET(t *testing.T) {
	reg := newTestRegistry(t, "v1")
	fetcher := okFetcher(http.StatusOK, "x")
	res := newTestResolver(t, reg, cache.NewMemoryStore(), fetcher)
	req := httptest.NewRequest(http.MethodPost, "/api/data", nil)
	if Eligible(req) {
		t.Fatalf("POST must not be eligible")
	}
	if _, err := res.Resolve(context.Background(), req); err == nil {
		t.Fatalf("expected error for POST")
	}
	if fetcher.calls.Load() != 0 {
		t.Fatalf("ineligible request must not be fetched")
	}
}

type readOnlyStore struct {
	cache.Store
}

func (s *readOnlyStore) Open(ctx context.Context, name string) (cache.Generation, error) {
	gen, err := s.Store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return readOnlyGeneration{gen}, nil
}

type readOnlyGeneration struct {
	cache.Generation
}

func (readOnlyGeneration) Put(context.Context, string, *cache.Response) error {
	return errors.New("disk full")
}

func newTestRegistry(t *testing.T, version string) *assets.Registry {
	t.Helper()
	reg, err := assets.New(version, "", []string{"/app.js"}, []string{"/app.css"})
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	return reg
}

func newTestResolver(t *testing.T, reg *assets.Registry, store cache.Store, fetcher network.Fetcher) *Resolver {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	res, err := New(reg, store, fetcher, logger)
	if err != nil {
		t.Fatalf("resolver error: %v", err)
	}
	return res
}

func putEntry(t *testing.T, store cache.Store, name, key, body string) {
	t.Helper()
	ctx := context.Background()
	gen, err := store.Open(ctx, name)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if err := gen.Put(ctx, key, &cache.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(body)}); err != nil {
		t.Fatalf("put error: %v", err)
	}
}

func get(target string) *http.Request {
	return httptest.NewRequest(http.MethodGet, target, nil)
}

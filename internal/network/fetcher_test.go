package network

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/any-hub/swcache/internal/cache"
)

func TestUpstreamFetcherReturnsCompleteResponse(t *testing.T) {
	var seenPath, seenQuery, seenForwardedHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		seenQuery = r.URL.RawQuery
		seenForwardedHost = r.Header.Get("X-Forwarded-Host")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Connection", "close")
		_, _ = w.Write([]byte(`{"x":1}`))
	}))
	defer srv.Close()

	fetcher := newTestFetcher(t, srv.URL)
	req := httptest.NewRequest(http.MethodGet, "http://app.local/api/data?q=1", nil)

	outcome := fetcher.Fetch(context.Background(), req)
	resp, ok := outcome.Response()
	if !ok {
		t.Fatalf("expected success, got %v", outcome.Err())
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != `{"x":1}` {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, resp.Body)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("content-type not preserved: %v", resp.Header)
	}
	if resp.Header.Get("Connection") != "" {
		t.Fatalf("hop-by-hop header should be stripped")
	}
	if seenPath != "/api/data" || seenQuery != "q=1" {
		t.Fatalf("upstream saw %s?%s", seenPath, seenQuery)
	}
	if seenForwardedHost != "app.local" {
		t.Fatalf("expected X-Forwarded-Host app.local, got %q", seenForwardedHost)
	}
}

func TestUpstreamFetcherJoinsUpstreamBasePath(t *testing.T) {
	var seenPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
	}))
	defer srv.Close()

	fetcher := newTestFetcher(t, srv.URL+"/base")
	req, _ := http.NewRequest(http.MethodGet, "/app.js", nil)
	if err := fetcher.Fetch(context.Background(), req).Err(); err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if seenPath != "/base/app.js" {
		t.Fatalf("expected /base/app.js, got %s", seenPath)
	}
}

func TestUpstreamFetcherNonOKIsStillSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	outcome := newTestFetcher(t, srv.URL).Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	resp, ok := outcome.Response()
	if !ok {
		t.Fatalf("404 is a response, not a network failure: %v", outcome.Err())
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

func TestUpstreamFetcherReportsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	outcome := newTestFetcher(t, url).Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/api/data", nil))
	if _, ok := outcome.Response(); ok {
		t.Fatalf("expected failure from closed upstream")
	}
	var netErr *NetworkError
	if !errors.As(outcome.Err(), &netErr) {
		t.Fatalf("expected *NetworkError, got %T", outcome.Err())
	}
	if !strings.HasSuffix(netErr.URL, "/api/data") {
		t.Fatalf("network error should carry the target url: %s", netErr.URL)
	}
}

func TestUpstreamFetcherForwardsBody(t *testing.T) {
	var seenBody, seenMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seenBody = string(raw)
		seenMethod = r.Method
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader(`{"name":"a"}`))
	outcome := newTestFetcher(t, srv.URL).Fetch(context.Background(), req)
	resp, ok := outcome.Response()
	if !ok || resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected outcome %v %v", resp, outcome.Err())
	}
	if seenMethod != http.MethodPost || seenBody != `{"name":"a"}` {
		t.Fatalf("upstream saw %s %q", seenMethod, seenBody)
	}
}

func TestOutcomeIsTagged(t *testing.T) {
	if err := Succeeded(nil).Err(); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("nil response must be a failure, got %v", err)
	}
	if err := Failed("", nil).Err(); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("failure without reason should be malformed, got %v", err)
	}
	var zero Outcome
	if _, ok := zero.Response(); ok || zero.Err() == nil {
		t.Fatalf("zero outcome must be a failure")
	}
	ok := Succeeded(&cache.Response{StatusCode: http.StatusOK})
	if ok.Err() != nil {
		t.Fatalf("unexpected error %v", ok.Err())
	}
}

func newTestFetcher(t *testing.T, upstream string) *UpstreamFetcher {
	t.Helper()
	fetcher, err := NewUpstreamFetcher(NewUpstreamClient(nil), upstream)
	if err != nil {
		t.Fatalf("fetcher error: %v", err)
	}
	return fetcher
}

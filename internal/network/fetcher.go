package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/any-hub/swcache/internal/cache"
)

// Fetcher 执行一次网络请求。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) Outcome
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) Outcome

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) Outcome {
	return f(ctx, req)
}

// UpstreamFetcher 把入站请求改写到上游 origin 上并读取完整响应。
type UpstreamFetcher struct {
	client   *http.Client
	upstream *url.URL
	now      func() time.Time
}

// NewUpstreamFetcher 以共享 client 与上游地址构建 fetcher。
func NewUpstreamFetcher(client *http.Client, upstream string) (*UpstreamFetcher, error) {
	if client == nil {
		return nil, errors.New("http client required")
	}
	parsed, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid upstream: %s", upstream)
	}
	return &UpstreamFetcher{client: client, upstream: parsed, now: time.Now}, nil
}

// Upstream 返回上游地址。
func (f *UpstreamFetcher) Upstream() *url.URL {
	u := *f.upstream
	return &u
}

// Fetch 实现 Fetcher。超时完全交给 http.Client，这里不额外设置。
func (f *UpstreamFetcher) Fetch(ctx context.Context, req *http.Request) Outcome {
	if req == nil || req.URL == nil {
		return Failed("", errors.New("nil request"))
	}
	target := f.resolve(req.URL)

	out, err := f.buildUpstreamRequest(ctx, req, target)
	if err != nil {
		return Failed(target.String(), err)
	}

	resp, err := f.client.Do(out)
	if err != nil {
		return Failed(target.String(), err)
	}
	if resp == nil {
		return Failed(target.String(), ErrMalformedResponse)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failed(target.String(), fmt.Errorf("read body: %w", err))
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	header.Del("Content-Length")

	return Succeeded(&cache.Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
		StoredAt:   f.now().UTC(),
	})
}

func (f *UpstreamFetcher) resolve(in *url.URL) *url.URL {
	target := *f.upstream
	reqPath := in.Path
	if reqPath == "" {
		reqPath = "/"
	}
	joined := path.Join("/", f.upstream.Path, reqPath)
	if strings.HasSuffix(reqPath, "/") && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	target.Path = joined
	target.RawPath = ""
	target.RawQuery = in.RawQuery
	target.Fragment = ""
	return &target
}

func (f *UpstreamFetcher) buildUpstreamRequest(ctx context.Context, in *http.Request, target *url.URL) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader = http.NoBody
	if in.Body != nil && in.Body != http.NoBody {
		raw, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		if len(raw) > 0 {
			body = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequestWithContext(ctx, in.Method, target.String(), body)
	if err != nil {
		return nil, err
	}

	CopyHeaders(req.Header, in.Header)
	req.Header.Del("Accept-Encoding")
	req.Host = target.Host
	req.Header.Set("Host", target.Host)
	if in.Host != "" {
		req.Header.Set("X-Forwarded-Host", in.Host)
	}
	if ip := clientIP(in.RemoteAddr); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	if fwd := in.Header.Get("X-Forwarded-Proto"); fwd != "" {
		proto = fwd
	}
	req.Header.Set("X-Forwarded-Proto", proto)
	return req, nil
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

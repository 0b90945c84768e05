// Package resolver decides how a single eligible request is answered:
// build assets are served from the current cache generation without touching
// the network, everything else goes network-first and falls back to the cache
// when the network fails. A request that can be served by neither fails with
// *RequestUnservable; failures never leak into other requests.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/swcache/internal/assets"
	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/network"
)

// Source 标记响应来自何处。
type Source string

const (
	SourceAssetCache    Source = "asset-cache"
	SourceNetwork       Source = "network"
	SourceFallbackCache Source = "fallback-cache"
)

// Resolution 是一次解析的结果。
type Resolution struct {
	Response   *cache.Response
	Source     Source
	Generation string
}

// RequestUnservable 表示网络失败且缓存中没有该请求的条目。
type RequestUnservable struct {
	Key   string
	Cause error
}

func (e *RequestUnservable) Error() string {
	return fmt.Sprintf("request unservable: %s: %v", e.Key, e.Cause)
}

func (e *RequestUnservable) Unwrap() error {
	return e.Cause
}

// Resolver 对 GET 请求执行 asset 快速路径 → 网络优先 → 缓存回退。
type Resolver struct {
	registry *assets.Registry
	store    cache.Store
	fetcher  network.Fetcher
	logger   *logrus.Logger
}

// New 构建 Resolver，registry/store/fetcher 均不可为空。
func New(registry *assets.Registry, store cache.Store, fetcher network.Fetcher, logger *logrus.Logger) (*Resolver, error) {
	if registry == nil {
		return nil, errors.New("asset registry required")
	}
	if store == nil {
		return nil, errors.New("cache store required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{registry: registry, store: store, fetcher: fetcher, logger: logger}, nil
}

// Eligible 只有只读、无副作用的 GET 请求由 Resolver 处理。
func Eligible(r *http.Request) bool {
	return r != nil && r.Method == http.MethodGet
}

// Resolve 解析请求。非 GET 请求返回错误，调用方应直接透传。
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (*Resolution, error) {
	if !Eligible(req) {
		return nil, fmt.Errorf("resolver handles GET only, got %s", methodOf(req))
	}
	name := r.registry.CacheName()
	gen, err := r.store.Open(ctx, name)
	if err != nil {
		// 无法打开 generation 时仍可尝试网络，只是没有缓存可用。
		r.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "cache_open",
			"generation": name,
		}).Warn("cache_open_failed")
		gen = nil
	}

	path := req.URL.Path
	if gen != nil && r.registry.Contains(path) {
		resp, err := gen.Match(ctx, cache.KeyForPath(path))
		switch {
		case err == nil:
			return &Resolution{Response: resp, Source: SourceAssetCache, Generation: name}, nil
		case errors.Is(err, cache.ErrNotFound):
			r.logger.WithFields(logrus.Fields{
				"action":     "asset_miss",
				"path":       path,
				"generation": name,
			}).Debug("asset_not_precached")
		default:
			r.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "asset_match",
				"path":       path,
				"generation": name,
			}).Warn("asset_match_failed")
		}
	}

	key := cache.KeyForRequest(req)
	outcome := r.fetcher.Fetch(ctx, req)
	if resp, ok := outcome.Response(); ok {
		if resp.StatusCode == http.StatusOK && gen != nil {
			r.store200(ctx, gen, key, resp)
		}
		return &Resolution{Response: resp, Source: SourceNetwork, Generation: name}, nil
	}

	netErr := outcome.Err()
	if gen == nil {
		return nil, &RequestUnservable{Key: key, Cause: netErr}
	}
	cached, err := gen.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "fallback_match",
				"key":        key,
				"generation": name,
			}).Warn("fallback_match_failed")
		}
		return nil, &RequestUnservable{Key: key, Cause: netErr}
	}
	r.logger.WithFields(logrus.Fields{
		"action":     "fallback",
		"key":        key,
		"generation": name,
		"reason":     netErr.Error(),
	}).Info("served_from_cache_after_network_failure")
	return &Resolution{Response: cached, Source: SourceFallbackCache, Generation: name}, nil
}

// store200 写入副本；写入失败只记录日志，不影响本次响应。
func (r *Resolver) store200(ctx context.Context, gen cache.Generation, key string, resp *cache.Response) {
	stored := resp.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	if err := gen.Put(ctx, key, stored); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "cache_put",
			"key":        key,
			"generation": gen.Name(),
		}).Warn("cache_put_failed")
	}
}

func methodOf(r *http.Request) string {
	if r == nil {
		return "<nil>"
	}
	return r.Method
}

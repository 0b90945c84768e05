package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/swcache/internal/assets"
	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/config"
	"github.com/any-hub/swcache/internal/logging"
	"github.com/any-hub/swcache/internal/network"
	"github.com/any-hub/swcache/internal/worker"
)

// instance 持有一个已完成 install/activate 的实例及其依赖。
type instance struct {
	registry *assets.Registry
	store    cache.Store
	fetcher  *network.UpstreamFetcher
	worker   *worker.Worker
}

// Close 释放缓存存储。
func (r *instance) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}

// bootstrap 构建实例并依次等待 install 与 activate 完成。
// install 失败返回错误；activate 的清理失败只记录日志，实例继续服务。
func bootstrap(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*instance, error) {
	registry, err := assets.FromConfig(cfg.Build)
	if err != nil {
		return nil, fmt.Errorf("构建资源清单失败: %w", err)
	}

	store, err := cache.NewStore(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	fetcher, err := network.NewUpstreamFetcher(network.NewUpstreamClient(cfg), cfg.Global.Upstream)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	// 预缓存跟随重定向，代理路径保持 3xx 原样返回。
	assetFetcher, err := network.NewUpstreamFetcher(network.NewAssetClient(cfg), cfg.Global.Upstream)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	opts := worker.OptionsFromConfig(cfg.Global)
	opts.AssetFetcher = assetFetcher

	w, err := worker.New(registry, store, fetcher, logger, opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if _, err := w.OnInstall(ctx).Wait(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("预缓存 %s 失败: %w", registry.CacheName(), err)
	}

	if _, err := w.OnActivate(ctx).Wait(ctx); err != nil {
		fields := logging.LifecycleFields("activate", registry.CacheName(), registry.Len())
		fields["error"] = err.Error()
		logger.WithFields(fields).Warn("清理旧缓存代失败")
	}

	return &instance{registry: registry, store: store, fetcher: fetcher, worker: w}, nil
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/swcache/internal/assets"
	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/config"
	"github.com/any-hub/swcache/internal/network"
)

// Options 控制预缓存并发与重试策略。
type Options struct {
	Concurrency    int
	MaxRetries     int
	InitialBackoff time.Duration
	// AssetFetcher 仅用于预缓存，通常跟随重定向；为空时复用请求路径的 fetcher。
	AssetFetcher network.Fetcher
}

// OptionsFromConfig 从全局配置提取预缓存参数。
func OptionsFromConfig(cfg config.GlobalConfig) Options {
	return Options{
		Concurrency:    cfg.PrecacheConcurrency,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff.DurationValue(),
	}
}

func (o Options) normalized() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 200 * time.Millisecond
	}
	return o
}

// Lifecycle 负责当前代的预缓存以及旧代清理。fetcher 只服务预缓存。
type Lifecycle struct {
	registry *assets.Registry
	store    cache.Store
	fetcher  network.Fetcher
	logger   *logrus.Logger
	opts     Options
}

// NewLifecycle 构建 Lifecycle，logger 为空时使用 logrus 标准实例。
func NewLifecycle(registry *assets.Registry, store cache.Store, fetcher network.Fetcher, logger *logrus.Logger, opts Options) (*Lifecycle, error) {
	if registry == nil {
		return nil, errors.New("worker: registry is required")
	}
	if store == nil {
		return nil, errors.New("worker: store is required")
	}
	if fetcher == nil {
		return nil, errors.New("worker: fetcher is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.AssetFetcher != nil {
		fetcher = opts.AssetFetcher
	}
	return &Lifecycle{
		registry: registry,
		store:    store,
		fetcher:  fetcher,
		logger:   logger,
		opts:     opts.normalized(),
	}, nil
}

// Precache 先抓取全部必需资源，全部成功后再写入当前代。
// 任一资源失败时不写入任何条目，并返回列出所有失败路径的 *PrecacheFailure。
func (l *Lifecycle) Precache(ctx context.Context) error {
	name := l.registry.CacheName()
	started := time.Now()

	gen, err := l.store.Open(ctx, name)
	if err != nil {
		return &PrecacheFailure{Generation: name, Cause: fmt.Errorf("open generation: %w", err)}
	}

	paths := uniquePaths(l.registry.Assets())
	staged := make([]*cache.Response, len(paths))

	var (
		mu       sync.Mutex
		failures []AssetError
		eg       errgroup.Group
	)
	eg.SetLimit(l.opts.Concurrency)
	for i, p := range paths {
		eg.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					failures = append(failures, AssetError{Path: p, Err: fmt.Errorf("fetch panic: %v", r)})
					mu.Unlock()
				}
			}()
			resp, err := l.fetchAsset(ctx, p)
			if err != nil {
				mu.Lock()
				failures = append(failures, AssetError{Path: p, Err: err})
				mu.Unlock()
				return nil
			}
			staged[i] = resp
			return nil
		})
	}
	_ = eg.Wait()

	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })
		l.logger.WithFields(logrus.Fields{
			"action":     "precache",
			"generation": name,
			"failed":     len(failures),
			"total":      len(paths),
		}).Warn("precache_failed")
		return &PrecacheFailure{Generation: name, Assets: failures}
	}

	for i, p := range paths {
		if err := gen.Put(ctx, cache.KeyForPath(p), staged[i]); err != nil {
			failures = append(failures, AssetError{Path: p, Err: err})
		}
	}
	if len(failures) > 0 {
		l.logger.WithFields(logrus.Fields{
			"action":     "precache",
			"generation": name,
			"failed":     len(failures),
		}).Error("precache_commit_failed")
		return &PrecacheFailure{Generation: name, Assets: failures}
	}

	l.logger.WithFields(logrus.Fields{
		"action":     "precache",
		"generation": name,
		"assets":     len(paths),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("precache_complete")
	return nil
}

// fetchAsset 获取单个资源，网络错误按指数退避重试，非 2xx 立即失败。
func (l *Lifecycle) fetchAsset(ctx context.Context, path string) (*cache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.opts.InitialBackoff
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(l.opts.MaxRetries)), ctx)

	var resp *cache.Response
	attempt := 0
	op := func() error {
		attempt++
		outcome := l.fetcher.Fetch(ctx, req)
		got, ok := outcome.Response()
		if !ok {
			l.logger.WithFields(logrus.Fields{
				"action":  "precache_fetch",
				"path":    path,
				"attempt": attempt,
				"error":   outcome.Err().Error(),
			}).Debug("asset_fetch_retry")
			return outcome.Err()
		}
		if got.StatusCode < 200 || got.StatusCode > 299 {
			return backoff.Permanent(&StatusError{Status: got.StatusCode})
		}
		resp = got
		return nil
	}
	if err := backoff.Retry(op, retry); err != nil {
		return nil, err
	}
	return resp, nil
}

// PruneOtherGenerations 删除除当前代之外的所有缓存代。
// 单个删除失败只记录并汇总返回，不影响后续删除。
func (l *Lifecycle) PruneOtherGenerations(ctx context.Context) error {
	current := l.registry.CacheName()
	names, err := l.store.Names(ctx)
	if err != nil {
		return fmt.Errorf("list generations: %w", err)
	}

	var errs []error
	for _, name := range names {
		if name == current {
			continue
		}
		deleted, err := l.store.Delete(ctx, name)
		fields := logrus.Fields{"action": "prune", "generation": name, "current": current}
		if err != nil {
			fields["error"] = err.Error()
			l.logger.WithFields(fields).Warn("generation_delete_failed")
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		if deleted {
			l.logger.WithFields(fields).Info("generation_deleted")
		}
	}
	return errors.Join(errs...)
}

func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

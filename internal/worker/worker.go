package worker

import (
	"context"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/swcache/internal/assets"
	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/network"
	"github.com/any-hub/swcache/internal/resolver"
)

// State 表示实例所处的生命周期阶段。
type State string

const (
	StateUninstalled State = "uninstalled"
	StatePrecaching  State = "precaching"
	StateReady       State = "ready"
	StateFailed      State = "failed"
	StatePruned      State = "pruned"
)

// Worker 是单个缓存实例：install 预缓存当前代，activate 清理旧代，fetch 解析请求。
type Worker struct {
	registry  *assets.Registry
	store     cache.Store
	lifecycle *Lifecycle
	resolver  *resolver.Resolver
	logger    *logrus.Logger

	mu    sync.Mutex
	state State
}

// New 构建处于 uninstalled 状态的实例。
func New(registry *assets.Registry, store cache.Store, fetcher network.Fetcher, logger *logrus.Logger, opts Options) (*Worker, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	lc, err := NewLifecycle(registry, store, fetcher, logger, opts)
	if err != nil {
		return nil, err
	}
	res, err := resolver.New(registry, store, fetcher, logger)
	if err != nil {
		return nil, err
	}
	return &Worker{
		registry:  registry,
		store:     store,
		lifecycle: lc,
		resolver:  res,
		logger:    logger,
		state:     StateUninstalled,
	}, nil
}

// State 返回当前生命周期阶段。
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Registry 返回实例绑定的资源清单。
func (w *Worker) Registry() *assets.Registry {
	return w.registry
}

// Store 返回实例使用的缓存存储。
func (w *Worker) Store() cache.Store {
	return w.store
}

// OnInstall 触发预缓存，Wait 返回 ready 或 failed。
func (w *Worker) OnInstall(ctx context.Context) *Deferral[State] {
	w.mu.Lock()
	if w.state != StateUninstalled {
		state := w.state
		w.mu.Unlock()
		return settled(state, ErrAlreadyInstalled)
	}
	w.state = StatePrecaching
	w.mu.Unlock()

	w.logger.WithFields(logrus.Fields{
		"action":     "install",
		"generation": w.registry.CacheName(),
		"assets":     w.registry.Len(),
	}).Info("worker_install")

	return spawn(func() (next State, err error) {
		// panic 时 next 保持 failed，实例不会停在 precaching。
		next = StateFailed
		defer func() { w.transition(next) }()
		if err = w.lifecycle.Precache(ctx); err != nil {
			return StateFailed, err
		}
		return StateReady, nil
	})
}

// OnActivate 清理旧代。清理失败时实例保持 ready 且仍可服务，错误由宿主记录。
func (w *Worker) OnActivate(ctx context.Context) *Deferral[State] {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()
	if state != StateReady && state != StatePruned {
		return settled(state, ErrNotInstalled)
	}

	return spawn(func() (State, error) {
		if err := w.lifecycle.PruneOtherGenerations(ctx); err != nil {
			return w.State(), err
		}
		w.transition(StatePruned)
		w.logger.WithFields(logrus.Fields{
			"action":     "activate",
			"generation": w.registry.CacheName(),
		}).Info("worker_activated")
		return StatePruned, nil
	})
}

// OnFetch 为 GET 请求启动解析任务；其他方法返回 nil，由宿主直接转发。
func (w *Worker) OnFetch(ctx context.Context, req *http.Request) *FetchDeferral {
	if !resolver.Eligible(req) {
		return nil
	}
	return spawn(func() (*resolver.Resolution, error) {
		return w.resolver.Resolve(ctx, req)
	})
}

func (w *Worker) transition(next State) {
	w.mu.Lock()
	prev := w.state
	w.state = next
	w.mu.Unlock()
	w.logger.WithFields(logrus.Fields{
		"action": "state",
		"from":   string(prev),
		"to":     string(next),
	}).Debug("worker_state_changed")
}

// FetchDeferral 是 fetch 事件的完成句柄。
type FetchDeferral = Deferral[*resolver.Resolution]

package cache

import (
	"context"
	"errors"

	"github.com/dgraph-io/ristretto"
)

// NewHotStore 在 backing 之前加一层 ristretto 读缓存，maxBytes 为正文总成本上限。
// 写入直写 backing；删除任一 generation 会清空整层缓存。
func NewHotStore(backing Store, maxBytes int64) (Store, error) {
	if backing == nil {
		return nil, errors.New("backing store required")
	}
	if maxBytes <= 0 {
		return nil, errors.New("hot cache size must be positive")
	}
	// NumCounters 取预计条目数的 10 倍，按平均 4KiB 正文估算。
	counters := maxBytes / 4096 * 10
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &hotStore{backing: backing, hot: c}, nil
}

type hotStore struct {
	backing Store
	hot     *ristretto.Cache
}

type hotGeneration struct {
	inner Generation
	hot   *ristretto.Cache
}

func hotKey(name, key string) string {
	return name + "\x00" + key
}

func (s *hotStore) Open(ctx context.Context, name string) (Generation, error) {
	inner, err := s.backing.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &hotGeneration{inner: inner, hot: s.hot}, nil
}

func (s *hotStore) Delete(ctx context.Context, name string) (bool, error) {
	deleted, err := s.backing.Delete(ctx, name)
	s.hot.Clear()
	return deleted, err
}

func (s *hotStore) Names(ctx context.Context) ([]string, error) {
	return s.backing.Names(ctx)
}

func (s *hotStore) Close() error {
	s.hot.Close()
	return s.backing.Close()
}

// Wait 阻塞直到缓冲中的写入全部生效，主要供测试使用。
func (s *hotStore) Wait() {
	s.hot.Wait()
}

func (g *hotGeneration) Name() string {
	return g.inner.Name()
}

func (g *hotGeneration) Match(ctx context.Context, key string) (*Response, error) {
	hk := hotKey(g.inner.Name(), key)
	if v, ok := g.hot.Get(hk); ok {
		if resp, ok := v.(*Response); ok && resp != nil {
			return resp.Clone(), nil
		}
		g.hot.Del(hk)
	}
	resp, err := g.inner.Match(ctx, key)
	if err != nil {
		return nil, err
	}
	g.hot.Set(hk, resp.Clone(), responseCost(resp))
	return resp, nil
}

func (g *hotGeneration) Put(ctx context.Context, key string, resp *Response) error {
	if err := g.inner.Put(ctx, key, resp); err != nil {
		return err
	}
	g.hot.Set(hotKey(g.inner.Name(), key), resp.Clone(), responseCost(resp))
	return nil
}

func (g *hotGeneration) Keys(ctx context.Context) ([]string, error) {
	return g.inner.Keys(ctx)
}

func responseCost(resp *Response) int64 {
	cost := int64(len(resp.Body))
	if cost == 0 {
		cost = 1
	}
	return cost
}

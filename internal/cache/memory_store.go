package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// NewMemoryStore 返回进程内存储，进程退出即丢失，适合测试与临时运行。
func NewMemoryStore() Store {
	return &memoryStore{gens: make(map[string]map[string]*Response)}
}

type memoryStore struct {
	mu   sync.RWMutex
	gens map[string]map[string]*Response
}

type memoryGeneration struct {
	store *memoryStore
	name  string
}

func (s *memoryStore) Open(ctx context.Context, name string) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if _, ok := s.gens[name]; !ok {
		s.gens[name] = make(map[string]*Response)
	}
	s.mu.Unlock()
	return &memoryGeneration{store: s, name: name}, nil
}

func (s *memoryStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.gens[name]; !ok {
		return false, nil
	}
	delete(s.gens, name)
	return true, nil
}

func (s *memoryStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	names := make([]string, 0, len(s.gens))
	for name := range s.gens {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

func (s *memoryStore) Close() error {
	return nil
}

func (g *memoryGeneration) Name() string {
	return g.name
}

func (g *memoryGeneration) Match(ctx context.Context, key string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()
	entries, ok := g.store.gens[g.name]
	if !ok {
		return nil, ErrNotFound
	}
	resp, ok := entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return resp.Clone(), nil
}

func (g *memoryGeneration) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	entries, ok := g.store.gens[g.name]
	if !ok {
		return ErrNotFound
	}
	entries[key] = resp.Clone()
	return nil
}

func (g *memoryGeneration) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.store.mu.RLock()
	entries := g.store.gens[g.name]
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	g.store.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	entrySuffix = ".entry"
	// generationMarker 标记由 store 创建的 generation 目录，Names/Delete 只处理带标记的目录。
	generationMarker = ".generation"
)

// NewFSStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。磁盘布局：
//
//	<basePath>/<generation>/.generation
//	<basePath>/<generation>/<sha1(key)>.entry
//
// store 接管 codec，Close 时一并释放。
func NewFSStore(basePath string, codec *Codec) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if codec == nil {
		return nil, errors.New("codec required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		codec:    codec,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStore struct {
	basePath string
	codec    *Codec

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fileGeneration struct {
	store *fileStore
	name  string
	dir   string
}

func (s *fileStore) Open(ctx context.Context, name string) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create generation %s: %w", name, err)
	}
	if !isGenerationDir(dir) {
		if err := os.WriteFile(filepath.Join(dir, generationMarker), nil, 0o644); err != nil {
			return nil, fmt.Errorf("mark generation %s: %w", name, err)
		}
	}
	return &fileGeneration{store: s, name: name, dir: dir}, nil
}

// isGenerationDir 判断目录是否由 store 创建。
func isGenerationDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, generationMarker))
	return err == nil && info.Mode().IsRegular()
}

func (s *fileStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateName(name); err != nil {
		return false, err
	}
	dir := filepath.Join(s.basePath, name)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() || !isGenerationDir(dir) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("remove generation %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !isGenerationDir(filepath.Join(s.basePath, entry.Name())) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) Close() error {
	s.codec.Close()
	return nil
}

func (g *fileGeneration) Name() string {
	return g.name
}

func (g *fileGeneration) Match(ctx context.Context, key string) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	raw, err := os.ReadFile(g.entryPath(key))
	if err != nil {
		// generation 被并发删除时同样表现为未命中。
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_, resp, err := g.store.codec.Decode(raw)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *fileGeneration) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	unlock := g.store.lockEntry(g.name, key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := g.store.codec.Encode(key, resp)
	if err != nil {
		return err
	}

	// 不 MkdirAll：已被 prune 的 generation 不能因写入而复活。
	tempFile, err := os.CreateTemp(g.dir, ".cache-*")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("generation %s: %w", g.name, ErrNotFound)
		}
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, g.entryPath(key)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (g *fileGeneration) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), entrySuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(g.dir, entry.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		key, _, err := g.store.codec.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (g *fileGeneration) entryPath(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(g.dir, hex.EncodeToString(sum[:])+entrySuffix)
}

func (s *fileStore) lockEntry(name, key string) func() {
	lockKey := name + "::" + key
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

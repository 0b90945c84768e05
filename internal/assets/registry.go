package assets

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultCachePrefix 与 generation id 拼接得到缓存名，例如 cache-v1。
const DefaultCachePrefix = "cache-"

// ErrEmptyVersion 表示构建流程没有提供版本号。
var ErrEmptyVersion = errors.New("generation id required")

// Registry 是一次 worker 实例内恒定不变的资源配置。
type Registry struct {
	version   string
	cacheName string
	assets    []string
	index     map[string]struct{}
}

// New 以 build ++ files 的顺序构建 Registry，重复路径保留（缓存 key 幂等）。
func New(version, prefix string, build, files []string) (*Registry, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, ErrEmptyVersion
	}
	if prefix == "" {
		prefix = DefaultCachePrefix
	}

	list := make([]string, 0, len(build)+len(files))
	list = append(list, build...)
	list = append(list, files...)

	index := make(map[string]struct{}, len(list))
	for _, p := range list {
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("asset path must be origin-relative: %q", p)
		}
		// 资源按 path 匹配，带查询串或片段的条目永远不会命中。
		if strings.ContainsAny(p, "?#") {
			return nil, fmt.Errorf("asset path must not carry query or fragment: %q", p)
		}
		index[p] = struct{}{}
	}

	return &Registry{
		version:   version,
		cacheName: prefix + version,
		assets:    list,
		index:     index,
	}, nil
}

// GenerationID 返回外部提供的版本号。
func (r *Registry) GenerationID() string {
	return r.version
}

// CacheName 返回当前 generation 对应的缓存名。
func (r *Registry) CacheName() string {
	return r.cacheName
}

// Assets 返回必须缓存的路径副本，调用方修改不会影响 Registry。
func (r *Registry) Assets() []string {
	out := make([]string, len(r.assets))
	copy(out, r.assets)
	return out
}

// Len 返回资源条数（含重复项）。
func (r *Registry) Len() int {
	return len(r.assets)
}

// Contains 判断 URL path 是否属于资源集合。
func (r *Registry) Contains(path string) bool {
	_, ok := r.index[path]
	return ok
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Store 负责管理所有 generation，按名称寻址，所有 worker 实例共享一份。
type Store interface {
	// Open 打开指定 generation，不存在时创建。
	Open(ctx context.Context, name string) (Generation, error)

	// Delete 删除整个 generation，返回是否确实删除了已有 generation。
	Delete(ctx context.Context, name string) (bool, error)

	// Names 列出当前存在的全部 generation 名称。
	Names(ctx context.Context) ([]string, error)

	// Close 释放底层资源。
	Close() error
}

// Generation 是一个命名的 key → Response 容器。
type Generation interface {
	Name() string

	// Match 返回 key 对应的响应副本；不存在时返回 ErrNotFound。
	Match(ctx context.Context, key string) (*Response, error)

	// Put 覆盖写入 key，重复写入以最后一次为准。generation 已被删除时返回 ErrNotFound，
	// 实现不得借写入重新创建已删除的 generation。
	Put(ctx context.Context, key string, resp *Response) error

	// Keys 列出 generation 内全部 key，顺序不保证。
	Keys(ctx context.Context) ([]string, error)
}

// Response 是可持久化的响应快照，存入后取出的状态码、头部与正文逐字节一致。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// Clone 深拷贝响应，保证写入缓存的副本与返回给调用方的对象互不影响。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		StoredAt:   r.StoredAt,
	}
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return cloned
}

var (
	// ErrNotFound 表示条目或 generation 不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName 表示 generation 名称不合法。
	ErrInvalidName = errors.New("invalid generation name")
)

// ValidateName 拒绝空名、路径分隔符与隐藏名，防止 fs 驱动逃逸出存储目录。
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// KeyForPath 返回预缓存资源的 key。
func KeyForPath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

// KeyForRequest 以 path + query 作为请求 key；不带查询串的资源请求与 KeyForPath 相同。
func KeyForRequest(r *http.Request) string {
	if r == nil || r.URL == nil {
		return "/"
	}
	return r.URL.RequestURI()
}

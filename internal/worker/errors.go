package worker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInstalled 表示在 install 成功前触发了 activate。
	ErrNotInstalled = errors.New("worker not installed")
	// ErrAlreadyInstalled 表示同一实例重复 install；每个实例只预缓存一次。
	ErrAlreadyInstalled = errors.New("worker install already attempted")
)

// AssetError 记录单个资源预缓存失败的原因。
type AssetError struct {
	Path string
	Err  error
}

func (e AssetError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e AssetError) Unwrap() error {
	return e.Err
}

// StatusError 表示资源请求得到了非 2xx 响应。
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// PrecacheFailure 表示至少一个必需资源无法获取或写入，实例不得完成安装。
type PrecacheFailure struct {
	Generation string
	Cause      error
	Assets     []AssetError
}

func (e *PrecacheFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("precache %s: %v", e.Generation, e.Cause)
	}
	parts := make([]string, 0, len(e.Assets))
	for _, a := range e.Assets {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("precache %s: %d asset(s) failed: %s", e.Generation, len(e.Assets), strings.Join(parts, "; "))
}

func (e *PrecacheFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Assets)+1)
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	for _, a := range e.Assets {
		errs = append(errs, a)
	}
	return errs
}

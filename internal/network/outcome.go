// Package network is the fetch provider: it sends a request to the upstream
// origin and reports the result as an Outcome, which is either a complete
// response or a network failure. Callers switch on the outcome instead of
// inspecting what the transport happened to return.
package network

import (
	"errors"
	"fmt"

	"github.com/any-hub/swcache/internal/cache"
)

// ErrMalformedResponse 表示传输层既没有返回响应也没有返回错误。
var ErrMalformedResponse = errors.New("fetch returned no response")

// NetworkError 描述一次失败的上游请求。
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("network error: %v", e.Err)
	}
	return fmt.Sprintf("network error: %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Outcome 是 fetch 的结果：要么是完整响应，要么是网络失败，二者互斥。
type Outcome struct {
	resp *cache.Response
	err  *NetworkError
}

// Succeeded 包装成功响应；nil 响应按失败处理。
func Succeeded(resp *cache.Response) Outcome {
	if resp == nil {
		return Failed("", ErrMalformedResponse)
	}
	return Outcome{resp: resp}
}

// Failed 包装网络失败；err 为空时记为 ErrMalformedResponse。
func Failed(url string, err error) Outcome {
	if err == nil {
		err = ErrMalformedResponse
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return Outcome{err: netErr}
	}
	return Outcome{err: &NetworkError{URL: url, Err: err}}
}

// Response 在成功时返回响应与 true。
func (o Outcome) Response() (*cache.Response, bool) {
	if o.err != nil || o.resp == nil {
		return nil, false
	}
	return o.resp, true
}

// Err 在失败时返回 *NetworkError，成功时返回 nil。
func (o Outcome) Err() error {
	if o.err != nil {
		return o.err
	}
	if o.resp == nil {
		// 零值 Outcome 视为失败。
		return &NetworkError{Err: ErrMalformedResponse}
	}
	return nil
}

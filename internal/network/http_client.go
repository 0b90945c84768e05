package network

import (
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/any-hub/swcache/internal/config"
)

// RedirectPolicy 决定上游返回 3xx 时 client 的行为。
type RedirectPolicy int

const (
	// RedirectPassThrough 把 3xx 原样交还调用方；代理路径由浏览器自行跳转，3xx 也不会进入缓存。
	RedirectPassThrough RedirectPolicy = iota
	// RedirectFollow 跟随到最终响应，预缓存据此把最终内容写在原始资源路径下。
	RedirectFollow
)

const (
	defaultUpstreamTimeout = 30 * time.Second
	// MaxAssetRedirects 是预缓存单个资源允许的最大跳转次数。
	MaxAssetRedirects = 10
)

// NewUpstreamClient 返回代理路径使用的 client，不跟随重定向。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	return NewClient(cfg, RedirectPassThrough)
}

// NewAssetClient 返回预缓存使用的 client，跟随重定向。
func NewAssetClient(cfg *config.Config) *http.Client {
	return NewClient(cfg, RedirectFollow)
}

// NewClient 按 policy 构建上游 client，超时取 UpstreamTimeout，未配置时为 30s。
func NewClient(cfg *config.Config, policy RedirectPolicy) *http.Client {
	return &http.Client{
		Timeout:       upstreamTimeout(cfg),
		Transport:     newTransport(),
		CheckRedirect: policy.checkRedirect,
	}
}

func (p RedirectPolicy) checkRedirect(req *http.Request, via []*http.Request) error {
	if p != RedirectFollow {
		return http.ErrUseLastResponse
	}
	if len(via) > MaxAssetRedirects {
		return fmt.Errorf("stopped after %d redirects from %s", MaxAssetRedirects, via[0].URL)
	}
	return nil
}

func upstreamTimeout(cfg *config.Config) time.Duration {
	if cfg == nil {
		return defaultUpstreamTimeout
	}
	if d := cfg.Global.UpstreamTimeout.DurationValue(); d > 0 {
		return d
	}
	return defaultUpstreamTimeout
}

// newTransport 每个 client 独占连接池；swcache 只对接单一上游，空闲连接数按单主机收敛。
func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// hopByHop 是只在单跳连接上有效的头部（RFC 7230 §6.1），另加非标准的 Proxy-Connection。
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// IsHopByHopHeader 判断头部是否只属于当前连接，代理与缓存都不应保留。
func IsHopByHopHeader(key string) bool {
	return hopByHop[textproto.CanonicalMIMEHeaderKey(key)]
}

// CopyHeaders 把 src 复制到 dst，跳过 hop-by-hop 头以及 Connection 中点名的头。
func CopyHeaders(dst, src http.Header) {
	named := connectionTokens(src)
	for key, values := range src {
		canonical := textproto.CanonicalMIMEHeaderKey(key)
		if hopByHop[canonical] || named[canonical] {
			continue
		}
		for _, value := range values {
			dst.Add(canonical, value)
		}
	}
}

func connectionTokens(h http.Header) map[string]bool {
	values := h.Values("Connection")
	if len(values) == 0 {
		return nil
	}
	named := make(map[string]bool)
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				named[textproto.CanonicalMIMEHeaderKey(token)] = true
			}
		}
	}
	return named
}

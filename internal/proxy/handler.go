package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/logging"
	"github.com/any-hub/swcache/internal/network"
	"github.com/any-hub/swcache/internal/resolver"
	"github.com/any-hub/swcache/internal/server"
	"github.com/any-hub/swcache/internal/worker"
)

const (
	headerSource     = "X-Swcache-Source"
	headerGeneration = "X-Swcache-Generation"

	sourcePassThrough = "passthrough"
)

// FetchWorker 是 Handler 依赖的实例能力，*worker.Worker 满足该接口。
type FetchWorker interface {
	OnFetch(ctx context.Context, req *http.Request) *worker.FetchDeferral
}

// Handler 把 Fiber 请求交给 worker 解析；worker 不处理的请求（非 GET）直接透传上游且不写缓存。
type Handler struct {
	worker  FetchWorker
	fetcher network.Fetcher
	logger  *logrus.Logger
}

// NewHandler constructs a proxy handler with the worker, pass-through fetcher and logger.
func NewHandler(w FetchWorker, fetcher network.Fetcher, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		worker:  w,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := buildRequest(ctx, c)
	if err != nil {
		h.logResult(requestID, c.Method(), requestPath(c), "", "", fiber.StatusBadRequest, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	if deferral := h.worker.OnFetch(ctx, req); deferral != nil {
		resolution, err := deferral.Wait(ctx)
		if err != nil {
			return h.renderResolveError(c, req, requestID, started, err)
		}
		writeResponse(c, resolution.Response)
		c.Set(headerSource, string(resolution.Source))
		c.Set(headerGeneration, resolution.Generation)
		h.logResult(requestID, req.Method, req.URL.Path, string(resolution.Source), resolution.Generation, resolution.Response.StatusCode, started, nil)
		return nil
	}

	return h.passThrough(c, req, requestID, started)
}

// passThrough 原样转发请求，响应不写入任何缓存代。
func (h *Handler) passThrough(c fiber.Ctx, req *http.Request, requestID string, started time.Time) error {
	outcome := h.fetcher.Fetch(req.Context(), req)
	resp, ok := outcome.Response()
	if !ok {
		h.logResult(requestID, req.Method, req.URL.Path, sourcePassThrough, "", fiber.StatusBadGateway, started, outcome.Err())
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	writeResponse(c, resp)
	c.Set(headerSource, sourcePassThrough)
	h.logResult(requestID, req.Method, req.URL.Path, sourcePassThrough, "", resp.StatusCode, started, nil)
	return nil
}

func (h *Handler) renderResolveError(c fiber.Ctx, req *http.Request, requestID string, started time.Time, err error) error {
	var unservable *resolver.RequestUnservable
	if errors.As(err, &unservable) {
		h.logResult(requestID, req.Method, req.URL.Path, "", "", fiber.StatusGatewayTimeout, started, err)
		return h.writeError(c, fiber.StatusGatewayTimeout, "request_unservable")
	}
	h.logResult(requestID, req.Method, req.URL.Path, "", "", fiber.StatusBadGateway, started, err)
	return h.writeError(c, fiber.StatusBadGateway, "resolve_failed")
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(requestID, method, reqPath, source, generation string, status int, started time.Time, err error) {
	fields := logging.RequestFields(requestID, method, reqPath, source, generation)
	fields["action"] = "proxy"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// buildRequest 把 fasthttp 请求转换为 net/http 请求，body 与 header 均复制一份。
func buildRequest(ctx context.Context, c fiber.Ctx) (*http.Request, error) {
	target := &url.URL{
		Path:     requestPath(c),
		RawQuery: string(c.Request().URI().QueryString()),
	}
	req, err := http.NewRequestWithContext(ctx, c.Method(), target.RequestURI(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}
	req.Header = fiberHeadersAsHTTP(c)
	req.Host = string(c.Request().Host())
	req.RemoteAddr = c.IP()
	if c.Scheme() == "https" {
		req.TLS = &tls.ConnectionState{}
	}
	return req, nil
}

// writeResponse 写回状态码、header 与 body；hop-by-hop 与 Content-Length 由 fasthttp 重新计算。
func writeResponse(c fiber.Ctx, resp *cache.Response) {
	for key, values := range resp.Header {
		if network.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	c.Status(resp.StatusCode)
	c.Response().SetBody(resp.Body)
}

func requestPath(c fiber.Ctx) string {
	if c == nil {
		return "/"
	}
	uri := c.Request().URI()
	if uri == nil {
		return "/"
	}
	return normalizeRequestPath(string(uri.Path()))
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		return "/"
	}
	clean := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

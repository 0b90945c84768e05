package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/config"
	"github.com/any-hub/swcache/internal/worker"
)

func newAssetUpstream(t *testing.T, failing string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == failing {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if r.URL.Path == "/docs" {
			http.Redirect(w, r, "/docs/", http.StatusMovedPermanently)
			return
		}
		_, _ = w.Write([]byte("asset " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBootstrapInstallsAndPrunes(t *testing.T) {
	upstream := newAssetUpstream(t, "")
	storage := t.TempDir()
	seedGeneration(t, storage, "cache-v0")
	if err := os.MkdirAll(filepath.Join(storage, "backups"), 0o755); err != nil {
		t.Fatalf("创建无关目录失败: %v", err)
	}

	cfgPath := writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"
Upstream = "%s"
Version = "v1"
Build = ["/app.js", "/app.css", "/docs"]
InitialBackoff = "1ms"
`, storage, upstream.URL))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	rt, err := bootstrap(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	if rt.worker.State() != worker.StatePruned {
		t.Fatalf("期望 pruned，得到 %s", rt.worker.State())
	}
	if _, err := os.Stat(filepath.Join(storage, "cache-v0")); !os.IsNotExist(err) {
		t.Fatalf("旧缓存代应被删除: %v", err)
	}
	if _, err := os.Stat(filepath.Join(storage, "backups")); err != nil {
		t.Fatalf("无关目录不应被删除: %v", err)
	}

	app, err := newHTTPApp(cfg, rt, logger)
	if err != nil {
		t.Fatalf("构建 app 失败: %v", err)
	}
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var status struct {
		CacheName   string   `json:"cache_name"`
		State       string   `json:"state"`
		AssetCount  int      `json:"asset_count"`
		Generations []string `json:"generations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("解析 status 失败: %v", err)
	}
	if status.CacheName != "cache-v1" || status.State != "pruned" || status.AssetCount != 3 {
		t.Fatalf("status 不符合预期: %+v", status)
	}
	if len(status.Generations) != 1 || status.Generations[0] != "cache-v1" {
		t.Fatalf("只应保留当前代: %v", status.Generations)
	}

	asset, err := app.Test(httptest.NewRequest(http.MethodGet, "/app.css", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if asset.Header.Get("X-Swcache-Source") != "asset-cache" {
		t.Fatalf("资源应来自预缓存，得到 %q", asset.Header.Get("X-Swcache-Source"))
	}
	docs, err := app.Test(httptest.NewRequest(http.MethodGet, "/docs", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(docs.Body)
	if docs.StatusCode != http.StatusOK || string(body) != "asset /docs/" {
		t.Fatalf("/docs 应返回重定向后的最终内容，得到 %d %q", docs.StatusCode, body)
	}
	if docs.Header.Get("X-Swcache-Source") != "asset-cache" {
		t.Fatalf("/docs 应来自预缓存，得到 %q", docs.Header.Get("X-Swcache-Source"))
	}
}

func TestRunExitsWhenPrecacheFails(t *testing.T) {
	upstream := newAssetUpstream(t, "/app.css")
	cfgPath := writeConfigFile(t, fmt.Sprintf(`
StorageDriver = "memory"
Upstream = "%s"
Version = "v1"
Build = ["/app.js", "/app.css"]
MaxRetries = 0
`, upstream.URL))

	useBufferWriters(t)
	code := run(cliOptions{configPath: cfgPath})
	if code != 1 {
		t.Fatalf("预缓存失败应返回 1，得到 %d", code)
	}
	if !strings.Contains(stdErrBuffer().String(), "/app.css") {
		t.Fatalf("stderr 应列出失败的资源，得到 %s", stdErrBuffer().String())
	}
}

// seedGeneration 通过 fs store 预先创建一个缓存代。
func seedGeneration(t *testing.T, storage, name string) {
	t.Helper()
	store, err := cache.NewStore(config.GlobalConfig{StoragePath: storage})
	if err != nil {
		t.Fatalf("创建 store 失败: %v", err)
	}
	defer store.Close()
	if _, err := store.Open(context.Background(), name); err != nil {
		t.Fatalf("创建旧缓存代失败: %v", err)
	}
}

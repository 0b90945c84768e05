package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// minimalConfig 返回可通过校验的最小配置，extra 中的键追加在其后。
func minimalConfig(extra ...string) string {
	lines := []string{
		`Upstream = "http://app.local"`,
		`Version = "v1"`,
		`Build = ["/app.js"]`,
	}
	return strings.Join(append(lines, extra...), "\n")
}

package assets

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/any-hub/swcache/internal/config"
)

// Manifest 是打包工具输出的构建清单。
type Manifest struct {
	Version string   `json:"version"`
	Build   []string `json:"build"`
	Files   []string `json:"files"`
}

// LoadManifest 读取 JSON 构建清单。
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return m, nil
}

// FromConfig 合并构建清单与配置：配置中的 Version 非空时优先，Build/Files 追加在清单之后。
func FromConfig(cfg config.BuildConfig) (*Registry, error) {
	version := cfg.Version
	var build, files []string

	if cfg.HasManifest() {
		m, err := LoadManifest(cfg.ManifestPath)
		if err != nil {
			return nil, err
		}
		if version == "" {
			version = m.Version
		}
		build = append(build, m.Build...)
		files = append(files, m.Files...)
	}
	build = append(build, cfg.Build...)
	files = append(files, cfg.Files...)

	return New(version, cfg.CachePrefix, build, files)
}

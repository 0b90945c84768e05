package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedDrivers = map[string]struct{}{
	DriverFS:     {},
	DriverSQLite: {},
	DriverRedis:  {},
	DriverMemory: {},
}

const supportedDriverList = "fs|sqlite|redis|memory"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedDrivers[g.StorageDriver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 "+supportedDriverList)
	}
	switch g.StorageDriver {
	case DriverFS, DriverSQLite:
		if g.StoragePath == "" {
			return newFieldError("Global.StoragePath", "不能为空")
		}
	case DriverRedis:
		if strings.TrimSpace(g.RedisAddr) == "" {
			return newFieldError("Global.RedisAddr", "redis 驱动必须提供地址")
		}
	}
	if g.HotCacheBytes < 0 {
		return newFieldError("Global.HotCacheBytes", "不能为负数")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.PrecacheConcurrency <= 0 {
		return newFieldError("Global.PrecacheConcurrency", "必须大于 0")
	}
	if err := validateUpstream(g.Upstream); err != nil {
		return fmt.Errorf("Global.Upstream: %w", err)
	}

	b := c.Build
	if b.Version == "" && !b.HasManifest() {
		return newFieldError("Build.Version", "未配置 ManifestPath 时不能为空")
	}
	if strings.ContainsAny(b.CachePrefix, `/\`) {
		return newFieldError("Build.CachePrefix", "不允许包含路径分隔符")
	}
	for i, p := range b.Build {
		if err := validateAssetPath(p); err != nil {
			return fmt.Errorf("%s: %w", buildField("Build", i), err)
		}
	}
	for i, p := range b.Files {
		if err := validateAssetPath(p); err != nil {
			return fmt.Errorf("%s: %w", buildField("Files", i), err)
		}
	}

	return nil
}

func validateAssetPath(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("资源路径必须以 / 开头: %q", p)
	}
	if strings.ContainsAny(p, "?#") {
		return fmt.Errorf("资源路径不应包含查询串或片段: %q", p)
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

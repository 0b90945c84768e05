package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的存储驱动。
const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// GlobalConfig 描述进程级运行参数：监听、日志、存储与上游。
type GlobalConfig struct {
	ListenPort          int      `mapstructure:"ListenPort"`
	LogLevel            string   `mapstructure:"LogLevel"`
	LogFilePath         string   `mapstructure:"LogFilePath"`
	LogMaxSize          int      `mapstructure:"LogMaxSize"`
	LogMaxBackups       int      `mapstructure:"LogMaxBackups"`
	LogCompress         bool     `mapstructure:"LogCompress"`
	StoragePath         string   `mapstructure:"StoragePath"`
	StorageDriver       string   `mapstructure:"StorageDriver"`
	StorageCompress     bool     `mapstructure:"StorageCompress"`
	RedisAddr           string   `mapstructure:"RedisAddr"`
	RedisNamespace      string   `mapstructure:"RedisNamespace"`
	HotCacheBytes       int64    `mapstructure:"HotCacheBytes"`
	Upstream            string   `mapstructure:"Upstream"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`
	MaxRetries          int      `mapstructure:"MaxRetries"`
	InitialBackoff      Duration `mapstructure:"InitialBackoff"`
	PrecacheConcurrency int      `mapstructure:"PrecacheConcurrency"`
}

// BuildConfig 描述外部构建流程提供的版本号与必须缓存的资源清单。
type BuildConfig struct {
	Version      string   `mapstructure:"Version"`
	CachePrefix  string   `mapstructure:"CachePrefix"`
	ManifestPath string   `mapstructure:"ManifestPath"`
	Build        []string `mapstructure:"Build"`
	Files        []string `mapstructure:"Files"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Build  BuildConfig  `mapstructure:",squash"`
}

// HasManifest 表示是否需要从构建清单文件补全版本与资源列表。
func (b BuildConfig) HasManifest() bool {
	return strings.TrimSpace(b.ManifestPath) != ""
}

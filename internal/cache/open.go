package cache

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/any-hub/swcache/internal/config"
)

// NewStore 根据全局配置选择驱动，并在 HotCacheBytes > 0 时叠加内存热层。
// 持久驱动接管 codec；构建失败时 codec 与客户端在此释放。
func NewStore(cfg config.GlobalConfig) (Store, error) {
	store, err := newBackingStore(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.HotCacheBytes > 0 {
		hot, err := NewHotStore(store, cfg.HotCacheBytes)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init hot cache: %w", err)
		}
		return hot, nil
	}
	return store, nil
}

func newBackingStore(cfg config.GlobalConfig) (Store, error) {
	switch cfg.StorageDriver {
	case config.DriverFS, "", config.DriverSQLite, config.DriverRedis:
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}

	codec, err := NewCodec(cfg.StorageCompress)
	if err != nil {
		return nil, err
	}
	var store Store
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		store, err = NewSQLiteStore(cfg.StoragePath, codec)
	case config.DriverRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		store, err = NewRedisStore(RedisConfig{
			Client:      client,
			Namespace:   cfg.RedisNamespace,
			CloseClient: true,
		}, codec)
		if err != nil {
			client.Close()
		}
	default:
		store, err = NewFSStore(cfg.StoragePath, codec)
	}
	if err != nil {
		codec.Close()
		return nil, err
	}
	return store, nil
}

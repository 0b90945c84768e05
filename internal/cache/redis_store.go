package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNilClient 表示未注入 redis 客户端。
var ErrNilClient = errors.New("redis store: nil client")

// putScript 在同一次调用里确认 generation 仍在名称集合中再写入，
// 已被 Delete 的 generation 不会留下孤立 hash。
var putScript = goredis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// RedisConfig 控制 redis 驱动。每个 generation 是一个 hash，名称集合单独保存：
//
//	<ns>:generations        SET  generation 名称
//	<ns>:gen:<generation>   HASH key → record
type RedisConfig struct {
	Client    goredis.UniversalClient
	Namespace string
	// CloseClient 仅在 store 独占客户端时设为 true。
	CloseClient bool
}

type redisStore struct {
	rdb         goredis.UniversalClient
	ns          string
	codec       *Codec
	closeClient bool
}

type redisGeneration struct {
	store *redisStore
	name  string
}

// NewRedisStore 基于已有客户端构建共享存储，可供多个进程共用同一批 generation。
func NewRedisStore(cfg RedisConfig, codec *Codec) (Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if codec == nil {
		return nil, errors.New("codec required")
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "swcache"
	}
	return &redisStore{rdb: cfg.Client, ns: ns, codec: codec, closeClient: cfg.CloseClient}, nil
}

func (s *redisStore) namesKey() string {
	return s.ns + ":generations"
}

func (s *redisStore) genKey(name string) string {
	return s.ns + ":gen:" + name
}

func (s *redisStore) Open(ctx context.Context, name string) (Generation, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.rdb.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("create generation %s: %w", name, err)
	}
	return &redisGeneration{store: s, name: name}, nil
}

func (s *redisStore) Delete(ctx context.Context, name string) (bool, error) {
	var removed *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.genKey(name))
		removed = pipe.SRem(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (s *redisStore) Names(ctx context.Context) ([]string, error) {
	names, err := s.rdb.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *redisStore) Close() error {
	s.codec.Close()
	if s.closeClient {
		return s.rdb.Close()
	}
	return nil
}

func (g *redisGeneration) Name() string {
	return g.name
}

func (g *redisGeneration) Match(ctx context.Context, key string) (*Response, error) {
	raw, err := g.store.rdb.HGet(ctx, g.store.genKey(g.name), key).Bytes()
	if err == goredis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_, resp, err := g.store.codec.Decode(raw)
	return resp, err
}

func (g *redisGeneration) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	payload, err := g.store.codec.Encode(key, resp)
	if err != nil {
		return err
	}
	keys := []string{g.store.namesKey(), g.store.genKey(g.name)}
	written, err := putScript.Run(ctx, g.store.rdb, keys, g.name, key, payload).Int()
	if err != nil {
		return err
	}
	if written == 0 {
		return fmt.Errorf("generation %s: %w", g.name, ErrNotFound)
	}
	return nil
}

func (g *redisGeneration) Keys(ctx context.Context) ([]string, error) {
	keys, err := g.store.rdb.HKeys(ctx, g.store.genKey(g.name)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

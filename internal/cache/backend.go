package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss 缓存未命中错误
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// MemoryInfo 后端内存用量
type MemoryInfo struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// Backend 键值后端需要支持的最小命令集：
// GET / SET EX / DEL / EXISTS / DBSIZE / KEYS pattern / INFO memory
type Backend interface {
	// Get 不存在时返回 ErrCacheMiss
	Get(ctx context.Context, key string) (string, error)
	// Set ttl <= 0 表示不过期
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	DBSize(ctx context.Context) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	InfoMemory(ctx context.Context) (MemoryInfo, error)
	Ping(ctx context.Context) error
	Close() error
}

package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/qaflow/internal/tlsutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 后端
// =============================================================================

// RedisConfig Redis 后端配置
type RedisConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 键前缀，所有键都在该命名空间下
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 单条命令超时
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout"`

	// 启用 TLS
	TLS bool `yaml:"tls" json:"tls"`

	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		KeyPrefix:           "qaflow:cache:",
		MaxRetries:          3,
		PoolSize:            20,
		MinIdleConns:        2,
		CommandTimeout:      2 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// RedisBackend 基于 go-redis 的缓存后端
type RedisBackend struct {
	redis  *redis.Client
	config RedisConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRedisBackend 创建 Redis 后端并验证连接
func NewRedisBackend(config RedisConfig, logger *zap.Logger) (*RedisBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	}
	if config.CommandTimeout > 0 {
		opts.ReadTimeout = config.CommandTimeout
		opts.WriteTimeout = config.CommandTimeout
	}
	if config.TLS {
		host := config.Addr
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		opts.TLSConfig = tlsutil.ServerTLSConfig(host)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	b := &RedisBackend{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache_redis")),
		done:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go b.healthCheckLoop()
	}

	b.logger.Info("redis cache backend initialized",
		zap.String("addr", config.Addr),
		zap.String("key_prefix", config.KeyPrefix),
		zap.Int("pool_size", config.PoolSize),
	)

	return b, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

func (b *RedisBackend) key(k string) string {
	return b.config.KeyPrefix + k
}

func (b *RedisBackend) checkOpen() error {
	if b.closed {
		return errBackendClosed
	}
	return nil
}

// Get 获取缓存值
func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return "", err
	}

	val, err := b.redis.Get(ctx, b.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set 设置缓存值（SET key value EX ttl）
func (b *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}

	if err := b.redis.Set(ctx, b.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Del 删除缓存值
func (b *RedisBackend) Del(ctx context.Context, keys ...string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	if err := b.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Exists 检查键是否存在
func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return false, err
	}

	n, err := b.redis.Exists(ctx, b.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// DBSize 返回当前库的键数量（包含其他前缀的键）
func (b *RedisBackend) DBSize(ctx context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	n, err := b.redis.DBSize(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("redis dbsize: %w", err)
	}
	return n, nil
}

// Keys 列出前缀下匹配 pattern 的键（去掉前缀），使用 SCAN 避免阻塞服务端
func (b *RedisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var keys []string
	iter := b.redis.Scan(ctx, 0, b.key(pattern), 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), b.config.KeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

// InfoMemory 解析 INFO memory 中的 used_memory 与 maxmemory
func (b *RedisBackend) InfoMemory(ctx context.Context) (MemoryInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return MemoryInfo{}, err
	}

	raw, err := b.redis.Info(ctx, "memory").Result()
	if err != nil {
		return MemoryInfo{}, fmt.Errorf("redis info memory: %w", err)
	}
	return parseInfoMemory(raw), nil
}

// Ping 检查 Redis 连接
func (b *RedisBackend) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.redis.Ping(ctx).Err()
}

// Close 关闭后端
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	b.logger.Info("closing redis cache backend")

	return b.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (b *RedisBackend) healthCheckLoop() {
	ticker := time.NewTicker(b.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.Ping(ctx); err != nil {
			if errors.Is(err, errBackendClosed) {
				cancel()
				return
			}
			b.logger.Error("redis health check failed", zap.Error(err))
		} else {
			b.logger.Debug("redis health check passed")
		}
		cancel()
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// parseInfoMemory 从 INFO 输出中提取 used_memory 与 maxmemory
func parseInfoMemory(raw string) MemoryInfo {
	var info MemoryInfo
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		switch name {
		case "used_memory":
			info.UsedBytes = n
		case "maxmemory":
			info.MaxBytes = n
		}
	}
	return info
}

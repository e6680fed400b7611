package cache

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/qaflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🗂️ 有界淘汰缓存
// =============================================================================

// Config 淘汰缓存配置
type Config struct {
	// 淘汰策略 LRU|FIFO|LFU|RANDOM
	Policy Policy `yaml:"policy" json:"policy"`

	// 最大条目数
	Capacity int `yaml:"capacity" json:"capacity"`

	// 默认过期时间，0 表示不过期
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// 索引分片数
	Shards int `yaml:"shards" json:"shards"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Policy:     PolicyLRU,
		Capacity:   100,
		DefaultTTL: time.Hour,
		Shards:     16,
	}
}

// Option 缓存选项
type Option func(*EvictingCache)

// WithClock 注入时钟，用于访问时间与过期判断
func WithClock(now func() time.Time) Option {
	return func(c *EvictingCache) { c.now = now }
}

// WithRand 注入随机源（RANDOM 策略）
func WithRand(rng *rand.Rand) Option {
	return func(c *EvictingCache) { c.rng = rng }
}

// WithEvictionHook 每淘汰一个键回调一次
func WithEvictionHook(fn func(key string)) Option {
	return func(c *EvictingCache) { c.onEvict = fn }
}

type shard struct {
	mu    sync.Mutex
	items map[string]*entry
	index evictionIndex
}

func (s *shard) removeLocked(e *entry) {
	s.index.remove(e)
	delete(s.items, e.key)
}

// EvictingCache 容量受限、按策略淘汰的缓存。
//
// 值保存在 Backend 中，本地只维护策略元数据索引。索引按键哈希分片，
// 每个分片独立加锁；全局容量通过原子预留计数保证，任何 Put 返回后
// 条目数不超过 Capacity。
type EvictingCache struct {
	backend  Backend
	policy   Policy
	capacity int64
	ttl      time.Duration
	shards   []*shard
	less     func(a, b *entry) bool

	// reserved 已占用的槽位（常驻条目 + 进行中的插入）
	reserved  atomic.Int64
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	rngMu   sync.Mutex
	rng     *rand.Rand
	now     func() time.Time
	onEvict func(key string)
	logger  *zap.Logger
}

// New 创建淘汰缓存
func New(backend Backend, cfg Config, logger *zap.Logger, opts ...Option) (*EvictingCache, error) {
	if backend == nil {
		return nil, errors.New("cache backend is nil")
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", cfg.Capacity)
	}
	policy, err := ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultConfig().Shards
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &EvictingCache{
		backend:  backend,
		policy:   policy,
		capacity: int64(cfg.Capacity),
		ttl:      cfg.DefaultTTL,
		shards:   make([]*shard, cfg.Shards),
		less:     victimOrder(policy),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		logger:   logger.With(zap.String("component", "cache")),
	}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]*entry), index: newIndex(policy)}
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger.Info("evicting cache initialized",
		zap.String("policy", string(policy)),
		zap.Int("capacity", cfg.Capacity),
		zap.Int("shards", cfg.Shards),
		zap.Duration("default_ttl", cfg.DefaultTTL),
	)
	return c, nil
}

func (c *EvictingCache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Policy 当前淘汰策略
func (c *EvictingCache) Policy() Policy { return c.policy }

// Capacity 容量
func (c *EvictingCache) Capacity() int { return int(c.capacity) }

// Backend 底层后端
func (c *EvictingCache) Backend() Backend { return c.backend }

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Get 读取缓存值，命中时更新访问时间与访问次数。
// 未命中返回 ErrCacheMiss，后端传输失败返回 types.ErrCacheUnavailable。
func (c *EvictingCache) Get(ctx context.Context, key string) (string, error) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.Lock()
	e, ok := s.items[key]
	expired := ok && e.expired(now)
	if expired {
		s.removeLocked(e)
	}
	s.mu.Unlock()

	if expired {
		c.reserved.Add(-1)
		c.deleteFromBackend(ctx, key, "expired")
	}
	if !ok || expired {
		c.misses.Add(1)
		return "", ErrCacheMiss
	}

	val, err := c.backend.Get(ctx, key)
	if IsCacheMiss(err) {
		// 后端已丢失该键（TTL 或外部删除），同步索引
		if c.forget(key, e) {
			c.reserved.Add(-1)
		}
		c.misses.Add(1)
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", types.CacheUnavailable("get", err)
	}

	s.mu.Lock()
	if cur, ok := s.items[key]; ok && cur == e {
		e.lastAccess = c.now()
		e.accesses++
		s.index.fix(e)
	}
	s.mu.Unlock()

	c.hits.Add(1)
	return val, nil
}

// Put 写入缓存值。ttl 为 0 时使用默认过期时间，小于 0 表示不过期。
// 先写后端：失败返回 types.ErrCacheUnavailable 且索引不变；
// 成功后若为新键，先按策略淘汰直到有空位再插入索引。
func (c *EvictingCache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		return types.CacheUnavailable("put", err)
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	c.admit(ctx, key, expiresAt)
	return nil
}

// admit 将键纳入索引：已存在则刷新，否则预留槽位（必要时淘汰）后插入
func (c *EvictingCache) admit(ctx context.Context, key string, expiresAt time.Time) {
	s := c.shardFor(key)
	if c.refresh(s, key, expiresAt) {
		return
	}

	c.reserve(ctx)

	now := c.now()
	s.mu.Lock()
	if e, ok := s.items[key]; ok {
		// 并发插入了同一个键
		e.lastAccess = now
		e.expiresAt = expiresAt
		s.index.fix(e)
		s.mu.Unlock()
		c.reserved.Add(-1)
		return
	}
	e := &entry{key: key, createdAt: now, lastAccess: now, expiresAt: expiresAt}
	s.items[key] = e
	s.index.add(e)
	s.mu.Unlock()
}

func (c *EvictingCache) refresh(s *shard, key string, expiresAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return false
	}
	e.lastAccess = c.now()
	e.expiresAt = expiresAt
	s.index.fix(e)
	return true
}

// reserve 预留一个槽位，满时循环淘汰直到 reserved < capacity
func (c *EvictingCache) reserve(ctx context.Context) {
	for {
		cur := c.reserved.Load()
		if cur < c.capacity {
			if c.reserved.CompareAndSwap(cur, cur+1) {
				return
			}
			continue
		}
		if !c.evictOne(ctx) {
			// 剩余槽位全部被进行中的插入占用
			runtime.Gosched()
		}
	}
}

// evictOne 在所有分片中选出全局淘汰对象并移除，没有可淘汰条目时返回 false。
// 候选在确认前被并发修改时重新全局选择。
func (c *EvictingCache) evictOne(ctx context.Context) bool {
	for {
		s, victim := c.selectVictim()
		if victim == nil {
			return false
		}

		s.mu.Lock()
		cur, ok := s.items[victim.key]
		// 选择期间候选可能已被访问或删除，重新确认它仍是分片候选
		if !ok || cur != victim || (c.policy != PolicyRandom && s.index.victim(nil) != victim) {
			s.mu.Unlock()
			runtime.Gosched()
			continue
		}
		s.removeLocked(victim)
		s.mu.Unlock()

		c.afterEvict(ctx, victim.key)
		return true
	}
}

func (c *EvictingCache) afterEvict(ctx context.Context, key string) {
	c.reserved.Add(-1)
	c.evictions.Add(1)
	c.deleteFromBackend(ctx, key, "evicted")
	c.logger.Debug("cache entry evicted", zap.String("key", key), zap.String("policy", string(c.policy)))
	if c.onEvict != nil {
		c.onEvict(key)
	}
}

func (c *EvictingCache) shardVictim(s *shard) *entry {
	if c.policy != PolicyRandom {
		return s.index.victim(nil)
	}
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return s.index.victim(c.rng)
}

// selectVictim 有序策略比较各分片堆顶；RANDOM 按分片大小加权后在分片内均匀选择
func (c *EvictingCache) selectVictim() (*shard, *entry) {
	if c.policy == PolicyRandom {
		return c.selectRandomVictim()
	}

	var (
		bestShard *shard
		best      *entry
		snapshot  entry
	)
	for _, s := range c.shards {
		s.mu.Lock()
		v := s.index.victim(nil)
		var cand entry
		if v != nil {
			cand = *v
		}
		s.mu.Unlock()

		if v == nil {
			continue
		}
		if best == nil || c.less(&cand, &snapshot) {
			bestShard, best, snapshot = s, v, cand
		}
	}
	return bestShard, best
}

func (c *EvictingCache) selectRandomVictim() (*shard, *entry) {
	sizes := make([]int, len(c.shards))
	total := 0
	for i, s := range c.shards {
		s.mu.Lock()
		sizes[i] = s.index.len()
		s.mu.Unlock()
		total += sizes[i]
	}
	if total == 0 {
		return nil, nil
	}

	c.rngMu.Lock()
	r := c.rng.Intn(total)
	c.rngMu.Unlock()

	for i, s := range c.shards {
		if r >= sizes[i] {
			r -= sizes[i]
			continue
		}
		s.mu.Lock()
		v := c.shardVictim(s)
		s.mu.Unlock()
		if v != nil {
			return s, v
		}
	}
	return nil, nil
}

// forget 若索引中仍是同一个条目则移除
func (c *EvictingCache) forget(key string, e *entry) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.items[key]; ok && cur == e {
		s.removeLocked(e)
		return true
	}
	return false
}

func (c *EvictingCache) deleteFromBackend(ctx context.Context, key, reason string) {
	if err := c.backend.Del(ctx, key); err != nil {
		c.logger.Warn("cache backend delete failed",
			zap.String("key", key),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

// Delete 删除缓存值
func (c *EvictingCache) Delete(ctx context.Context, key string) error {
	if err := c.backend.Del(ctx, key); err != nil {
		return types.CacheUnavailable("delete", err)
	}

	s := c.shardFor(key)
	s.mu.Lock()
	e, ok := s.items[key]
	if ok {
		s.removeLocked(e)
	}
	s.mu.Unlock()

	if ok {
		c.reserved.Add(-1)
	}
	return nil
}

// Clear 删除索引中的全部键
func (c *EvictingCache) Clear(ctx context.Context) error {
	for _, s := range c.shards {
		s.mu.Lock()
		keys := make([]string, 0, len(s.items))
		for k := range s.items {
			keys = append(keys, k)
		}
		s.mu.Unlock()

		if len(keys) > 0 {
			if err := c.backend.Del(ctx, keys...); err != nil {
				return types.CacheUnavailable("clear", err)
			}
		}

		s.mu.Lock()
		removed := 0
		for _, k := range keys {
			if e, ok := s.items[k]; ok {
				s.removeLocked(e)
				removed++
			}
		}
		s.mu.Unlock()
		c.reserved.Add(-int64(removed))
	}
	return nil
}

// Len 当前常驻条目数
func (c *EvictingCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// Contains 键是否常驻（不更新访问元数据，不访问后端）
func (c *EvictingCache) Contains(key string) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	return ok && !e.expired(c.now())
}

// Keys 常驻键列表，按字典序排序
func (c *EvictingCache) Keys() []string {
	var keys []string
	for _, s := range c.shards {
		s.mu.Lock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.mu.Unlock()
	}
	sort.Strings(keys)
	return keys
}

// Sync 将后端已有的键纳入索引，超出容量的部分按策略淘汰。
// 用于进程重启后接管 Redis 中仍在 TTL 内的条目。
func (c *EvictingCache) Sync(ctx context.Context) (int, error) {
	keys, err := c.backend.Keys(ctx, "*")
	if err != nil {
		return 0, types.CacheUnavailable("sync", err)
	}
	sort.Strings(keys)

	adopted := 0
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return adopted, err
		}
		if c.Contains(k) {
			continue
		}
		c.admit(ctx, k, time.Time{})
		adopted++
	}

	c.logger.Info("cache index synced with backend",
		zap.Int("backend_keys", len(keys)),
		zap.Int("adopted", adopted),
		zap.Int("resident", c.Len()))
	return adopted, nil
}

// Ping 检查后端连接
func (c *EvictingCache) Ping(ctx context.Context) error {
	if err := c.backend.Ping(ctx); err != nil {
		return types.CacheUnavailable("ping", err)
	}
	return nil
}

// Close 关闭后端
func (c *EvictingCache) Close() error {
	return c.backend.Close()
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"path"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// 🧠 进程内后端
// =============================================================================

var errBackendClosed = errors.New("cache backend is closed")

type memoryItem struct {
	value     string
	expiresAt time.Time
}

type memoryShard struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

// MemoryBackend 分片 map 实现的进程内后端，过期键在读取时惰性删除
type MemoryBackend struct {
	shards   []*memoryShard
	used     atomic.Int64
	maxBytes int64
	now      func() time.Time
	closed   atomic.Bool
}

// MemoryOption 进程内后端选项
type MemoryOption func(*MemoryBackend)

// WithMemoryClock 注入时钟
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBackend) { b.now = now }
}

// WithMemoryLimit 设置上报的内存上限（字节），仅用于统计
func WithMemoryLimit(maxBytes int64) MemoryOption {
	return func(b *MemoryBackend) { b.maxBytes = maxBytes }
}

// NewMemoryBackend 创建进程内后端
func NewMemoryBackend(shards int, opts ...MemoryOption) *MemoryBackend {
	if shards <= 0 {
		shards = 16
	}
	b := &MemoryBackend{
		shards: make([]*memoryShard, shards),
		now:    time.Now,
	}
	for i := range b.shards {
		b.shards[i] = &memoryShard{items: make(map[string]memoryItem)}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBackend) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return b.shards[h.Sum32()%uint32(len(b.shards))]
}

func (b *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	if b.closed.Load() {
		return "", errBackendClosed
	}
	s := b.shard(key)
	now := b.now()

	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrCacheMiss
	}
	if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.items[key]; ok && cur.expiresAt.Equal(item.expiresAt) {
			delete(s.items, key)
			b.used.Add(-int64(len(key) + len(cur.value)))
		}
		s.mu.Unlock()
		return "", ErrCacheMiss
	}
	return item.value, nil
}

func (b *MemoryBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if b.closed.Load() {
		return errBackendClosed
	}
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = b.now().Add(ttl)
	}

	s := b.shard(key)
	s.mu.Lock()
	if old, ok := s.items[key]; ok {
		b.used.Add(-int64(len(key) + len(old.value)))
	}
	s.items[key] = item
	b.used.Add(int64(len(key) + len(value)))
	s.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Del(_ context.Context, keys ...string) error {
	if b.closed.Load() {
		return errBackendClosed
	}
	for _, key := range keys {
		s := b.shard(key)
		s.mu.Lock()
		if old, ok := s.items[key]; ok {
			delete(s.items, key)
			b.used.Add(-int64(len(key) + len(old.value)))
		}
		s.mu.Unlock()
	}
	return nil
}

func (b *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.Get(ctx, key)
	if IsCacheMiss(err) {
		return false, nil
	}
	return err == nil, err
}

func (b *MemoryBackend) DBSize(ctx context.Context) (int64, error) {
	keys, err := b.Keys(ctx, "*")
	return int64(len(keys)), err
}

// Keys 使用 path.Match 通配语义（* ? [...]）
func (b *MemoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	if b.closed.Load() {
		return nil, errBackendClosed
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid key pattern %q: %w", pattern, err)
	}
	now := b.now()
	var keys []string
	for _, s := range b.shards {
		s.mu.RLock()
		for k, item := range s.items {
			if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
				continue
			}
			if ok, _ := path.Match(pattern, k); ok {
				keys = append(keys, k)
			}
		}
		s.mu.RUnlock()
	}
	return keys, nil
}

func (b *MemoryBackend) InfoMemory(context.Context) (MemoryInfo, error) {
	if b.closed.Load() {
		return MemoryInfo{}, errBackendClosed
	}
	return MemoryInfo{UsedBytes: b.used.Load(), MaxBytes: b.maxBytes}, nil
}

func (b *MemoryBackend) Ping(context.Context) error {
	if b.closed.Load() {
		return errBackendClosed
	}
	return nil
}

func (b *MemoryBackend) Close() error {
	b.closed.Store(true)
	return nil
}

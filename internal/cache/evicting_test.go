package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/qaflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// =============================================================================
// 🧪 EvictingCache 测试
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyBackend 可注入故障的后端
type flakyBackend struct {
	*MemoryBackend
	mu      sync.Mutex
	failSet bool
	failGet bool
}

func (f *flakyBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	fail := f.failSet
	f.mu.Unlock()
	if fail {
		return errors.New("connection refused")
	}
	return f.MemoryBackend.Set(ctx, key, value, ttl)
}

func (f *flakyBackend) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return "", errors.New("i/o timeout")
	}
	return f.MemoryBackend.Get(ctx, key)
}

func newTestCache(t *testing.T, policy Policy, capacity int, clock *testClock, opts ...Option) (*EvictingCache, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend(4, WithMemoryClock(clock.Now))
	opts = append(opts, WithClock(clock.Now))
	c, err := New(backend, Config{Policy: policy, Capacity: capacity, Shards: 4}, zap.NewNop(), opts...)
	require.NoError(t, err)
	return c, backend
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, DefaultConfig(), nil)
	assert.Error(t, err)

	_, err = New(NewMemoryBackend(1), Config{Capacity: 0}, nil)
	assert.Error(t, err)

	_, err = New(NewMemoryBackend(1), Config{Capacity: 1, Policy: "MRU"}, nil)
	assert.Error(t, err)

	c, err := New(NewMemoryBackend(1), Config{Capacity: 1, Policy: "lfu"}, nil)
	require.NoError(t, err)
	assert.Equal(t, PolicyLFU, c.Policy())
}

func TestEvictingCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, PolicyLRU, 4, newTestClock())

	require.NoError(t, c.Put(ctx, "k", "v", 0))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	st := c.Stats(ctx)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, 1, st.Size)
	assert.Equal(t, PolicyLRU, st.EvictionPolicy)
	assert.InDelta(t, 0.5, st.HitRate, 1e-9)
	assert.Positive(t, st.MemoryUsed)
}

func TestEvictingCache_FIFOScenario(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c, backend := newTestCache(t, PolicyFIFO, 2, clock)

	for _, k := range []string{"A", "B", "C"} {
		require.NoError(t, c.Put(ctx, k, "v"+k, 0))
		clock.Advance(time.Millisecond)
	}

	assert.Equal(t, []string{"B", "C"}, c.Keys())
	_, err := c.Get(ctx, "A")
	assert.ErrorIs(t, err, ErrCacheMiss)
	ok, err := backend.Exists(ctx, "A")
	require.NoError(t, err)
	assert.False(t, ok, "evicted key must be removed from the backend")
	assert.Equal(t, uint64(1), c.Stats(ctx).Evictions)
}

func TestEvictingCache_FIFOIgnoresAccess(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c, _ := newTestCache(t, PolicyFIFO, 2, clock)

	require.NoError(t, c.Put(ctx, "A", "1", 0))
	clock.Advance(time.Second)
	require.NoError(t, c.Put(ctx, "B", "2", 0))
	clock.Advance(time.Second)
	_, err := c.Get(ctx, "A")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "C", "3", 0))

	assert.Equal(t, []string{"B", "C"}, c.Keys())
}

func TestEvictingCache_LRUEvictsOldestAccess(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c, _ := newTestCache(t, PolicyLRU, 3, clock)

	for _, k := range []string{"A", "B", "C"} {
		require.NoError(t, c.Put(ctx, k, k, 0))
		clock.Advance(time.Second)
	}
	// A、C 被访问，B 成为最久未访问
	_, err := c.Get(ctx, "A")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = c.Get(ctx, "C")
	require.NoError(t, err)
	clock.Advance(time.Second)

	require.NoError(t, c.Put(ctx, "D", "D", 0))
	assert.Equal(t, []string{"A", "C", "D"}, c.Keys())
}

func TestEvictingCache_LRUTieBreaksOnKey(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, PolicyLRU, 3, newTestClock())

	for _, k := range []string{"m", "b", "x"} {
		require.NoError(t, c.Put(ctx, k, k, 0))
	}
	require.NoError(t, c.Put(ctx, "z", "z", 0))
	assert.Equal(t, []string{"m", "x", "z"}, c.Keys())
}

func TestEvictingCache_LFUEvictsLeastFrequent(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c, _ := newTestCache(t, PolicyLFU, 3, clock)

	for _, k := range []string{"A", "B", "C"} {
		require.NoError(t, c.Put(ctx, k, k, 0))
		clock.Advance(time.Second)
	}
	for i := 0; i < 3; i++ {
		_, _ = c.Get(ctx, "A")
		clock.Advance(time.Second)
	}
	_, _ = c.Get(ctx, "C")
	clock.Advance(time.Second)
	_, _ = c.Get(ctx, "B")
	clock.Advance(time.Second)

	// B 与 C 都访问一次，C 的最后访问更早
	require.NoError(t, c.Put(ctx, "D", "D", 0))
	assert.Equal(t, []string{"A", "B", "D"}, c.Keys())

	// D 从未访问，下一次淘汰 D
	require.NoError(t, c.Put(ctx, "E", "E", 0))
	assert.Equal(t, []string{"A", "B", "E"}, c.Keys())
}

func TestEvictingCache_RandomEvictsSomeResident(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, PolicyRandom, 5, newTestClock(), WithRand(rand.New(rand.NewSource(42))))

	for i := 0; i < 50; i++ {
		require.NoError(t, c.Put(ctx, fmt.Sprintf("k%02d", i), "v", 0))
		assert.LessOrEqual(t, c.Len(), 5)
	}
	assert.Equal(t, 5, c.Len())
	assert.Equal(t, uint64(45), c.Stats(ctx).Evictions)
}

func TestEvictingCache_UpdateExistingDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	var evicted []string
	c, _ := newTestCache(t, PolicyLRU, 2, newTestClock(), WithEvictionHook(func(k string) {
		evicted = append(evicted, k)
	}))

	require.NoError(t, c.Put(ctx, "A", "1", 0))
	require.NoError(t, c.Put(ctx, "B", "1", 0))
	require.NoError(t, c.Put(ctx, "A", "2", 0))

	assert.Empty(t, evicted)
	v, err := c.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestEvictingCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c, _ := newTestCache(t, PolicyLRU, 4, clock)

	require.NoError(t, c.Put(ctx, "short", "v", time.Minute))
	require.NoError(t, c.Put(ctx, "forever", "v", -1))

	clock.Advance(2 * time.Minute)
	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.False(t, c.Contains("short"))

	v, err := c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, 1, c.Len())
}

func TestEvictingCache_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	backend := NewMemoryBackend(1, WithMemoryClock(clock.Now))
	c, err := New(backend, Config{Policy: PolicyLRU, Capacity: 2, DefaultTTL: time.Hour}, nil, WithClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "k", "v", 0))
	clock.Advance(59 * time.Minute)
	assert.True(t, c.Contains("k"))
	clock.Advance(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestEvictingCache_BackendLossHealsIndex(t *testing.T) {
	ctx := context.Background()
	c, backend := newTestCache(t, PolicyLRU, 4, newTestClock())

	require.NoError(t, c.Put(ctx, "k", "v", 0))
	require.NoError(t, backend.Del(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 0, c.Len())
}

func TestEvictingCache_PutFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend(1)}
	c, err := New(backend, Config{Policy: PolicyFIFO, Capacity: 1}, nil, WithClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "A", "1", 0))
	backend.failSet = true

	err = c.Put(ctx, "B", "2", 0)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCacheUnavailable))
	assert.Equal(t, []string{"A"}, c.Keys())
	assert.Equal(t, uint64(0), c.Stats(ctx).Evictions)
}

func TestEvictingCache_GetTransportFailure(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend(1)}
	c, err := New(backend, Config{Policy: PolicyLRU, Capacity: 2}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "A", "1", 0))
	backend.failGet = true

	_, err = c.Get(ctx, "A")
	assert.True(t, types.IsCode(err, types.ErrCacheUnavailable))
	assert.False(t, IsCacheMiss(err))
	assert.True(t, c.Contains("A"))
}

func TestEvictingCache_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c, backend := newTestCache(t, PolicyLRU, 10, newTestClock())

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Put(ctx, fmt.Sprintf("k%d", i), "v", 0))
	}
	require.NoError(t, c.Delete(ctx, "k0"))
	assert.Equal(t, 4, c.Len())

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
	n, err := backend.DBSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// 清空后容量完整可用
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Put(ctx, fmt.Sprintf("n%d", i), "v", 0))
	}
	assert.Equal(t, uint64(0), c.Stats(ctx).Evictions)
}

func TestEvictingCache_SyncAdoptsBackendKeys(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	backend := NewMemoryBackend(2, WithMemoryClock(clock.Now))
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, backend.Set(ctx, k, "v", 0))
	}

	c, err := New(backend, Config{Policy: PolicyFIFO, Capacity: 3}, nil, WithClock(clock.Now))
	require.NoError(t, err)

	adopted, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, adopted)
	assert.Equal(t, 3, c.Len())

	n, err := backend.DBSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "overflow trimmed from the backend")

	v, err := c.Get(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestEvictingCache_CapacityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		policy := rapid.SampledFrom([]Policy{PolicyLRU, PolicyFIFO, PolicyLFU, PolicyRandom}).Draw(t, "policy")
		capacity := rapid.IntRange(1, 8).Draw(t, "capacity")
		ops := rapid.SliceOfN(rapid.IntRange(0, 20), 1, 80).Draw(t, "ops")

		ctx := context.Background()
		clock := newTestClock()
		backend := NewMemoryBackend(2, WithMemoryClock(clock.Now))
		c, err := New(backend, Config{Policy: policy, Capacity: capacity, Shards: 3}, nil, WithClock(clock.Now))
		if err != nil {
			t.Fatalf("new cache: %v", err)
		}

		for i, k := range ops {
			key := fmt.Sprintf("k%d", k)
			if i%3 == 2 {
				_, _ = c.Get(ctx, key)
			} else if err := c.Put(ctx, key, "v", 0); err != nil {
				t.Fatalf("put: %v", err)
			}
			clock.Advance(time.Millisecond)
			if n := c.Len(); n > capacity {
				t.Fatalf("size %d exceeds capacity %d", n, capacity)
			}
		}
	})
}

func TestEvictingCache_LRUVictimProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(2, 6).Draw(t, "capacity")
		ctx := context.Background()
		clock := newTestClock()
		backend := NewMemoryBackend(2, WithMemoryClock(clock.Now))
		c, err := New(backend, Config{Policy: PolicyLRU, Capacity: capacity, Shards: 4}, nil, WithClock(clock.Now))
		if err != nil {
			t.Fatalf("new cache: %v", err)
		}

		lastAccess := map[string]time.Time{}
		for i := 0; i < capacity; i++ {
			k := fmt.Sprintf("k%d", i)
			_ = c.Put(ctx, k, "v", 0)
			lastAccess[k] = clock.Now()
			clock.Advance(time.Duration(rapid.IntRange(1, 1000).Draw(t, "gap")) * time.Millisecond)
		}
		touches := rapid.SliceOfN(rapid.IntRange(0, capacity-1), 0, 20).Draw(t, "touches")
		for _, i := range touches {
			k := fmt.Sprintf("k%d", i)
			_, _ = c.Get(ctx, k)
			lastAccess[k] = clock.Now()
			clock.Advance(time.Millisecond)
		}

		oldest := ""
		for k, ts := range lastAccess {
			if oldest == "" || ts.Before(lastAccess[oldest]) || (ts.Equal(lastAccess[oldest]) && k < oldest) {
				oldest = k
			}
		}

		_ = c.Put(ctx, "new", "v", 0)
		if c.Contains(oldest) {
			t.Fatalf("expected %s (oldest access) to be evicted, resident: %v", oldest, c.Keys())
		}
		if c.Len() != capacity {
			t.Fatalf("expected %d resident, got %d", capacity, c.Len())
		}
	})
}

func TestEvictingCache_ConcurrentPutsRespectCapacity(t *testing.T) {
	ctx := context.Background()
	for _, policy := range []Policy{PolicyLRU, PolicyFIFO, PolicyLFU, PolicyRandom} {
		t.Run(string(policy), func(t *testing.T) {
			c, err := New(NewMemoryBackend(8), Config{Policy: policy, Capacity: 16, Shards: 8}, nil)
			require.NoError(t, err)

			var wg sync.WaitGroup
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for i := 0; i < 300; i++ {
						key := fmt.Sprintf("g%d-k%d", g, i%40)
						if i%2 == 0 {
							assert.NoError(t, c.Put(ctx, key, "v", 0))
						} else {
							_, _ = c.Get(ctx, key)
						}
						assert.LessOrEqual(t, c.Len(), 16)
					}
				}(g)
			}
			wg.Wait()
			assert.LessOrEqual(t, c.Len(), 16)
		})
	}
}

func TestEvictingCache_VictimUnderConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	for _, policy := range []Policy{PolicyLRU, PolicyLFU} {
		t.Run(string(policy), func(t *testing.T) {
			clock := newTestClock()
			c, _ := newTestCache(t, policy, 5, clock)
			require.NoError(t, c.Put(ctx, "cold", "v", 0))
			clock.Advance(time.Second)

			hot := []string{"h1", "h2", "h3", "h4"}
			for _, k := range hot {
				require.NoError(t, c.Put(ctx, k, "v", 0))
				_, err := c.Get(ctx, k)
				require.NoError(t, err)
			}

			stop := make(chan struct{})
			var wg sync.WaitGroup
			for _, k := range hot {
				wg.Add(1)
				go func(k string) {
					defer wg.Done()
					for {
						select {
						case <-stop:
							return
						default:
							_, _ = c.Get(ctx, k)
						}
					}
				}(k)
			}

			require.NoError(t, c.Put(ctx, "new", "v", 0))
			close(stop)
			wg.Wait()

			assert.False(t, c.Contains("cold"))
			for _, k := range append(hot, "new") {
				assert.True(t, c.Contains(k), k)
			}
		})
	}
}

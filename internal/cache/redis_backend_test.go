package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 RedisBackend 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	config := DefaultRedisConfig()
	config.Addr = mr.Addr()
	config.HealthCheckInterval = 0

	backend, err := NewRedisBackend(config, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = backend.Close()
		mr.Close()
	})
	return mr, backend
}

func TestNewRedisBackend_Unreachable(t *testing.T) {
	config := DefaultRedisConfig()
	config.Addr = "127.0.0.1:1"
	config.MaxRetries = 0

	_, err := NewRedisBackend(config, nil)
	assert.Error(t, err)
}

func TestRedisBackend_SetGet(t *testing.T) {
	mr, backend := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "q1", "answer", time.Minute))

	v, err := backend.Get(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "answer", v)

	// 键写在前缀命名空间下
	raw, err := mr.Get("qaflow:cache:q1")
	require.NoError(t, err)
	assert.Equal(t, "answer", raw)
	assert.Equal(t, time.Minute, mr.TTL("qaflow:cache:q1"))
}

func TestRedisBackend_GetMiss(t *testing.T) {
	_, backend := setupTestRedis(t)

	_, err := backend.Get(context.Background(), "nope")
	assert.True(t, IsCacheMiss(err))
}

func TestRedisBackend_TTLExpiry(t *testing.T) {
	mr, backend := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", "v", time.Second))
	require.NoError(t, backend.Set(ctx, "persistent", "v", -1))
	mr.FastForward(2 * time.Second)

	_, err := backend.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	v, err := backend.Get(ctx, "persistent")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, time.Duration(0), mr.TTL("qaflow:cache:persistent"))
}

func TestRedisBackend_DelExistsDBSize(t *testing.T) {
	_, backend := setupTestRedis(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, backend.Set(ctx, k, "v", 0))
	}
	n, err := backend.DBSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, backend.Del(ctx, "a", "b"))
	require.NoError(t, backend.Del(ctx))

	ok, err := backend.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = backend.Exists(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisBackend_KeysStripsPrefix(t *testing.T) {
	mr, backend := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "q:1", "v", 0))
	require.NoError(t, backend.Set(ctx, "q:2", "v", 0))
	require.NoError(t, mr.Set("other:namespace", "v"))

	keys, err := backend.Keys(ctx, "*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"q:1", "q:2"}, keys)
}

func TestRedisBackend_Closed(t *testing.T) {
	_, backend := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, backend.Close())
	require.NoError(t, backend.Close())

	_, err := backend.Get(ctx, "k")
	assert.ErrorIs(t, err, errBackendClosed)
	assert.ErrorIs(t, backend.Ping(ctx), errBackendClosed)
}

func TestRedisBackend_ServerDown(t *testing.T) {
	mr, backend := setupTestRedis(t)
	mr.Close()

	_, err := backend.Get(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, IsCacheMiss(err))
}

func TestEvictingCache_OverRedis(t *testing.T) {
	mr, backend := setupTestRedis(t)
	ctx := context.Background()

	c, err := New(backend, Config{Policy: PolicyFIFO, Capacity: 2}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "A", "1", 0))
	require.NoError(t, c.Put(ctx, "B", "2", 0))
	require.NoError(t, c.Put(ctx, "C", "3", 0))

	assert.False(t, mr.Exists("qaflow:cache:A"))
	assert.True(t, mr.Exists("qaflow:cache:C"))
	assert.Equal(t, 2, c.Len())
}

func TestParseInfoMemory(t *testing.T) {
	raw := "# Memory\r\nused_memory:1048576\r\nused_memory_human:1.00M\r\nmaxmemory:8388608\r\nmaxmemory_policy:noeviction\r\n"

	info := parseInfoMemory(raw)
	assert.Equal(t, int64(1048576), info.UsedBytes)
	assert.Equal(t, int64(8388608), info.MaxBytes)

	assert.Equal(t, MemoryInfo{}, parseInfoMemory(""))
}

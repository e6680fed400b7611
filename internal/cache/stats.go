package cache

import (
	"context"

	"go.uber.org/zap"
)

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 缓存统计快照，按需计算，不持久化
type Stats struct {
	Size           int     `json:"size"`
	Capacity       int     `json:"capacity"`
	Hits           uint64  `json:"hits"`
	Misses         uint64  `json:"misses"`
	Evictions      uint64  `json:"evictions"`
	HitRate        float64 `json:"hit_rate"`
	MemoryUsed     int64   `json:"memory_used"`
	MemoryLimit    int64   `json:"memory_limit"`
	EvictionPolicy Policy  `json:"eviction_policy"`
}

// Stats 返回统计快照。后端内存信息获取失败时内存字段为 0。
func (c *EvictingCache) Stats(ctx context.Context) Stats {
	st := Stats{
		Size:           c.Len(),
		Capacity:       int(c.capacity),
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Evictions:      c.evictions.Load(),
		EvictionPolicy: c.policy,
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}

	mem, err := c.backend.InfoMemory(ctx)
	if err != nil {
		c.logger.Debug("cache backend memory info unavailable", zap.Error(err))
		return st
	}
	st.MemoryUsed = mem.UsedBytes
	st.MemoryLimit = mem.MaxBytes
	return st
}

package cache

import (
	"fmt"
	"strings"
	"time"
)

// Policy 淘汰策略
type Policy string

const (
	PolicyLRU    Policy = "LRU"
	PolicyFIFO   Policy = "FIFO"
	PolicyLFU    Policy = "LFU"
	PolicyRandom Policy = "RANDOM"
)

// ParsePolicy 解析策略名，大小写不敏感
func ParsePolicy(name string) (Policy, error) {
	switch p := Policy(strings.ToUpper(strings.TrimSpace(name))); p {
	case PolicyLRU, PolicyFIFO, PolicyLFU, PolicyRandom:
		return p, nil
	case "":
		return PolicyLRU, nil
	default:
		return "", fmt.Errorf("unknown eviction policy %q (want LRU|FIFO|LFU|RANDOM)", name)
	}
}

// entry 常驻条目的策略元数据，值本身保存在后端
type entry struct {
	key        string
	createdAt  time.Time
	lastAccess time.Time
	accesses   uint64
	expiresAt  time.Time
	pos        int
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// victimOrder 返回策略的淘汰顺序：less(a, b) 为真表示 a 先于 b 被淘汰
func victimOrder(p Policy) func(a, b *entry) bool {
	switch p {
	case PolicyFIFO:
		return func(a, b *entry) bool {
			if !a.createdAt.Equal(b.createdAt) {
				return a.createdAt.Before(b.createdAt)
			}
			return a.key < b.key
		}
	case PolicyLFU:
		return func(a, b *entry) bool {
			if a.accesses != b.accesses {
				return a.accesses < b.accesses
			}
			if !a.lastAccess.Equal(b.lastAccess) {
				return a.lastAccess.Before(b.lastAccess)
			}
			return a.key < b.key
		}
	default:
		return func(a, b *entry) bool {
			if !a.lastAccess.Equal(b.lastAccess) {
				return a.lastAccess.Before(b.lastAccess)
			}
			return a.key < b.key
		}
	}
}

package cache

import (
	"container/heap"
	"math/rand"
)

// evictionIndex 单个分片内的淘汰索引，调用方持有分片锁
type evictionIndex interface {
	add(e *entry)
	fix(e *entry)
	remove(e *entry)
	// victim 返回分片内的淘汰候选，空分片返回 nil
	victim(rng *rand.Rand) *entry
	len() int
	reset()
}

func newIndex(p Policy) evictionIndex {
	if p == PolicyRandom {
		return &slotIndex{}
	}
	return &heapIndex{less: victimOrder(p)}
}

// heapIndex 按淘汰顺序组织的最小堆，entry.pos 记录堆下标
type heapIndex struct {
	items []*entry
	less  func(a, b *entry) bool
}

func (h *heapIndex) Len() int           { return len(h.items) }
func (h *heapIndex) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }

func (h *heapIndex) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].pos = i
	h.items[j].pos = j
}

func (h *heapIndex) Push(x any) {
	e := x.(*entry)
	e.pos = len(h.items)
	h.items = append(h.items, e)
}

func (h *heapIndex) Pop() any {
	n := len(h.items)
	e := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	e.pos = -1
	return e
}

func (h *heapIndex) add(e *entry)    { heap.Push(h, e) }
func (h *heapIndex) fix(e *entry)    { heap.Fix(h, e.pos) }
func (h *heapIndex) remove(e *entry) { heap.Remove(h, e.pos) }
func (h *heapIndex) len() int        { return len(h.items) }
func (h *heapIndex) reset()          { h.items = nil }

func (h *heapIndex) victim(*rand.Rand) *entry {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// slotIndex 随机淘汰用的紧凑数组，删除时与末尾交换，entry.pos 记录槽位
type slotIndex struct {
	items []*entry
}

func (s *slotIndex) add(e *entry) {
	e.pos = len(s.items)
	s.items = append(s.items, e)
}

func (s *slotIndex) fix(*entry) {}

func (s *slotIndex) remove(e *entry) {
	last := len(s.items) - 1
	moved := s.items[last]
	s.items[e.pos] = moved
	moved.pos = e.pos
	s.items[last] = nil
	s.items = s.items[:last]
	e.pos = -1
}

func (s *slotIndex) victim(rng *rand.Rand) *entry {
	if len(s.items) == 0 {
		return nil
	}
	return s.items[rng.Intn(len(s.items))]
}

func (s *slotIndex) len() int { return len(s.items) }
func (s *slotIndex) reset()   { s.items = nil }

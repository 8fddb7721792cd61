package store

import (
	"container/heap"

	"jbd/internal/clock"
)

// PTEntry maps a cached block to its memory slot and last access time.
type PTEntry struct {
	BlockNum BNum
	MemSlot  int
	AccTime  uint64
}

// ptHeap orders entries so the oldest access time sits at the root,
// which makes Pop yield the LRU victim.
type ptHeap []PTEntry

func (h ptHeap) Len() int           { return len(h) }
func (h ptHeap) Less(i, j int) bool { return h[i].AccTime < h[j].AccTime }
func (h ptHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *ptHeap) Push(x any)        { *h = append(*h, x.(PTEntry)) }
func (h *ptHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]

	return e
}

// PageTable tracks the cached pages for LRU eviction.
type PageTable struct {
	h    ptHeap
	clk  clock.Clock
	full bool
}

// NewPageTable returns an empty table stamping access times from clk.
func NewPageTable(clk clock.Clock) *PageTable {
	return &PageTable{clk: clk}
}

// Len returns the number of cached pages.
func (pt *PageTable) Len() int {
	return len(pt.h)
}

// Push adds an entry, restoring heap order.
func (pt *PageTable) Push(e PTEntry) {
	heap.Push(&pt.h, e)
}

// Pop removes and returns the entry with the oldest access time.
func (pt *PageTable) Pop() PTEntry {
	return heap.Pop(&pt.h).(PTEntry)
}

// Entry returns the entry at heap position pos.
func (pt *PageTable) Entry(pos int) PTEntry {
	return pt.h[pos]
}

// UpdateAccess stamps the entry at pos with the current time and
// restores heap order.
func (pt *PageTable) UpdateAccess(pos int) {
	pt.h[pos].AccTime = pt.clk.NowMicro()
	heap.Fix(&pt.h, pos)
}

// ResetAccess zeroes the access time at pos, moving the entry to the
// root so the next Pop evicts it.
func (pt *PageTable) ResetAccess(pos int) {
	pt.h[pos].AccTime = 0
	heap.Fix(&pt.h, pos)
}

// SlotForMemSlot returns the heap position of the entry occupying
// memSlot, or -1.
func (pt *PageTable) SlotForMemSlot(memSlot int) int {
	for i := range pt.h {
		if pt.h[i].MemSlot == memSlot {
			return i
		}
	}

	return -1
}

// IsLeaf reports whether pos has no children.
func (pt *PageTable) IsLeaf(pos int) bool {
	return pos >= len(pt.h)/2
}

// CheckHeap verifies the ordering invariant: every parent is at most as
// recent as its children.
func (pt *PageTable) CheckHeap() bool {
	for i := 1; i < len(pt.h); i++ {
		if pt.h[(i-1)/2].AccTime > pt.h[i].AccTime {
			return false
		}
	}

	return true
}

// SetFull records that the table reached capacity once.
func (pt *PageTable) SetFull() {
	pt.full = true
}

// Full reports whether the table has ever reached capacity.
func (pt *PageTable) Full() bool {
	return pt.full
}

package store

import (
	"testing"

	"jbd/internal/clock"
)

func TestPopReturnsOldest(t *testing.T) {
	pt := NewPageTable(clock.NewMock())

	pt.Push(PTEntry{BlockNum: 1, MemSlot: 1, AccTime: 200})
	pt.Push(PTEntry{BlockNum: 2, MemSlot: 2, AccTime: 100})
	pt.Push(PTEntry{BlockNum: 3, MemSlot: 3, AccTime: 150})

	if !pt.CheckHeap() {
		t.Fatal("heap invariant broken after pushes")
	}

	if got := pt.Pop(); got.BlockNum != 2 {
		t.Fatalf("Pop = block %d, want 2 (oldest)", got.BlockNum)
	}

	if got := pt.Pop(); got.BlockNum != 3 {
		t.Fatalf("Pop = block %d, want 3", got.BlockNum)
	}

	if got := pt.Pop(); got.BlockNum != 1 {
		t.Fatalf("Pop = block %d, want 1", got.BlockNum)
	}
}

func TestUpdateAccessDemotes(t *testing.T) {
	clk := clock.NewMock()
	pt := NewPageTable(clk)

	for i := 0; i < 8; i++ {
		pt.Push(PTEntry{BlockNum: BNum(i), MemSlot: i, AccTime: clk.NowMicro()})
	}

	// Touch the root: it should no longer be the eviction victim.
	root := pt.Entry(0).BlockNum
	pt.UpdateAccess(0)

	if !pt.CheckHeap() {
		t.Fatal("heap invariant broken after UpdateAccess")
	}

	if got := pt.Pop(); got.BlockNum == root {
		t.Fatalf("freshly touched block %d evicted", root)
	}
}

func TestResetAccessPromotes(t *testing.T) {
	clk := clock.NewMock()
	pt := NewPageTable(clk)

	for i := 0; i < 8; i++ {
		pt.Push(PTEntry{BlockNum: BNum(i), MemSlot: i, AccTime: clk.NowMicro()})
	}

	pos := pt.SlotForMemSlot(6)
	if pos < 0 {
		t.Fatal("mem slot 6 not found")
	}

	victim := pt.Entry(pos).BlockNum
	pt.ResetAccess(pos)

	if !pt.CheckHeap() {
		t.Fatal("heap invariant broken after ResetAccess")
	}

	if got := pt.Pop(); got.BlockNum != victim {
		t.Fatalf("Pop = block %d, want reset block %d", got.BlockNum, victim)
	}
}

func TestSlotForMemSlot(t *testing.T) {
	pt := NewPageTable(clock.NewMock())

	pt.Push(PTEntry{BlockNum: 10, MemSlot: 4, AccTime: 1})
	pt.Push(PTEntry{BlockNum: 11, MemSlot: 9, AccTime: 2})

	pos := pt.SlotForMemSlot(9)
	if pos < 0 || pt.Entry(pos).BlockNum != 11 {
		t.Fatalf("SlotForMemSlot(9) = %d", pos)
	}

	if pt.SlotForMemSlot(7) != -1 {
		t.Fatal("missing mem slot should return -1")
	}
}

func TestIsLeaf(t *testing.T) {
	pt := NewPageTable(clock.NewMock())

	for i := 0; i < 7; i++ {
		pt.Push(PTEntry{BlockNum: BNum(i), MemSlot: i, AccTime: uint64(i)})
	}

	if pt.IsLeaf(0) || pt.IsLeaf(2) {
		t.Fatal("internal nodes misreported as leaves")
	}

	for pos := 3; pos < 7; pos++ {
		if !pt.IsLeaf(pos) {
			t.Fatalf("pos %d should be a leaf", pos)
		}
	}
}

func TestHeapInvariantUnderChurn(t *testing.T) {
	clk := clock.NewMock()
	pt := NewPageTable(clk)

	for i := 0; i < NumMemSlots; i++ {
		pt.Push(PTEntry{BlockNum: BNum(i), MemSlot: i, AccTime: clk.NowMicro()})
	}

	for i := 0; i < 100; i++ {
		pt.UpdateAccess(i % pt.Len())

		if !pt.CheckHeap() {
			t.Fatalf("heap invariant broken at step %d", i)
		}
	}

	prev := uint64(0)
	for pt.Len() > 0 {
		e := pt.Pop()
		if e.AccTime < prev {
			t.Fatal("pops not in age order")
		}

		prev = e.AccTime
	}
}

package store

import (
	"errors"
	"path/filepath"
	"testing"

	"jbd/internal/clock"
	"jbd/internal/fs"
)

func newInodeTable(t *testing.T) *InodeTable {
	t.Helper()

	it, err := NewInodeTable(fs.NewReal(), filepath.Join(t.TempDir(), "node_file.bin"), clock.NewMock(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	return it
}

func TestAssignLowestFirst(t *testing.T) {
	it := newInodeTable(t)

	for want := INum(0); want < 3; want++ {
		got := it.Assign()
		if got != want {
			t.Fatalf("Assign = %d, want %d", got, want)
		}

		if !it.InUse(got) {
			t.Fatalf("inode %d should be in use", got)
		}

		if it.Inode(got).CrTime == 0 {
			t.Fatalf("inode %d missing creation time", got)
		}
	}
}

func TestAssignExhaustsToSentinel(t *testing.T) {
	it := newInodeTable(t)

	for i := 0; i < totalInodes; i++ {
		if got := it.Assign(); got == SentinelINum {
			t.Fatalf("table full after only %d assigns", i)
		}
	}

	if got := it.Assign(); got != SentinelINum {
		t.Fatalf("Assign on full table = %d, want sentinel", got)
	}
}

func TestReleaseMakesAvailable(t *testing.T) {
	it := newInodeTable(t)

	i := it.Assign()
	if err := it.AssignBlock(i, 12); err != nil {
		t.Fatal(err)
	}

	it.Release(i)

	if it.InUse(i) {
		t.Fatal("released inode should be available")
	}

	n := it.Inode(i)
	if n.CrTime != 0 {
		t.Fatal("release must zero the creation time")
	}

	for _, b := range n.BNums {
		if b != SentinelBNum {
			t.Fatal("release must clear block slots")
		}
	}

	// Idempotent on the sentinel.
	it.Release(SentinelINum)
}

func TestAssignBlockFillsSlotsInOrder(t *testing.T) {
	it := newInodeTable(t)
	i := it.Assign()

	for b := BNum(10); b < 10+CtInodeBNums; b++ {
		if err := it.AssignBlock(i, b); err != nil {
			t.Fatal(err)
		}
	}

	if err := it.AssignBlock(i, 99); !errors.Is(err, ErrInodeSlots) {
		t.Fatalf("err = %v, want ErrInodeSlots", err)
	}

	got := it.ListBlocks(i)
	if len(got) != CtInodeBNums || got[0] != 10 || got[CtInodeBNums-1] != 10+CtInodeBNums-1 {
		t.Fatalf("ListBlocks = %v", got)
	}
}

func TestAssignBlockRequiresInUse(t *testing.T) {
	it := newInodeTable(t)

	if err := it.AssignBlock(5, 1); err == nil {
		t.Fatal("AssignBlock on free inode should fail")
	}
}

func TestReleaseBlock(t *testing.T) {
	it := newInodeTable(t)
	i := it.Assign()

	_ = it.AssignBlock(i, 20)
	_ = it.AssignBlock(i, 30)

	if !it.ReleaseBlock(i, 20) {
		t.Fatal("ReleaseBlock should find block 20")
	}

	if it.ReleaseBlock(i, 20) {
		t.Fatal("second release should report not found")
	}

	if got := it.ListBlocks(i); len(got) != 1 || got[0] != 30 {
		t.Fatalf("ListBlocks = %v, want [30]", got)
	}

	if it.ReleaseBlock(SentinelINum, 30) {
		t.Fatal("sentinel inode should report not found")
	}
}

func TestLocking(t *testing.T) {
	it := newInodeTable(t)
	i := it.Assign()

	if it.Locked(i) {
		t.Fatal("fresh inode should be unlocked")
	}
}

func TestStoreRoundTripInodes(t *testing.T) {
	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "node_file.bin")

	it, err := NewInodeTable(fsys, path, clock.NewMock(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	a := it.Assign()
	b := it.Assign()

	_ = it.AssignBlock(a, 42)
	_ = it.AssignBlock(b, 7)
	_ = it.AssignBlock(b, 8)
	it.Release(a)

	if err := it.EnsureStored(); err != nil {
		t.Fatal(err)
	}

	got, err := NewInodeTable(fsys, path, clock.NewMock(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if got.InUse(a) {
		t.Fatal("released inode resurrected by reload")
	}

	if !got.InUse(b) {
		t.Fatal("assigned inode lost by reload")
	}

	if blocks := got.ListBlocks(b); len(blocks) != 2 || blocks[0] != 7 || blocks[1] != 8 {
		t.Fatalf("ListBlocks after reload = %v", blocks)
	}

	if got.Inode(b).CrTime != it.Inode(b).CrTime {
		t.Fatal("creation time lost by reload")
	}
}

func TestEnsureStoredSkipsWhenClean(t *testing.T) {
	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "node_file.bin")

	it, err := NewInodeTable(fsys, path, clock.NewMock(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	// No mutation yet: nothing should be written.
	if err := it.EnsureStored(); err != nil {
		t.Fatal(err)
	}

	if ok, _ := fsys.Exists(path); ok {
		t.Fatal("EnsureStored wrote a clean table")
	}

	it.Assign()

	if err := it.EnsureStored(); err != nil {
		t.Fatal(err)
	}

	if ok, _ := fsys.Exists(path); !ok {
		t.Fatal("EnsureStored skipped a dirty table")
	}

	// Availability and record count round-trip through the fixed layout.
	data, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if len(data) != inodeFileBytes {
		t.Fatalf("file is %d bytes, want %d", len(data), inodeFileBytes)
	}

	// Inode 0 taken: first bitmap byte has bit 0 clear.
	if data[0]&1 != 0 {
		t.Fatalf("bitmap byte 0 = %02X, want bit 0 clear", data[0])
	}
}

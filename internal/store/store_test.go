package store

import (
	"testing"

	"jbd/internal/fs"
)

// End-to-end scenarios across a full engine, including restarts over the
// same backing files.

func TestRestartAfterCleanShutdown(t *testing.T) {
	dir := t.TempDir()
	fsys := fs.NewReal()

	fx := openEngine(t, dir, fsys)

	i := fx.fm.CreateFile()

	b, err := fx.fm.AddBlock(1, i)
	if err != nil {
		t.Fatal(err)
	}

	fx.writeLines(t, i, b, map[LNum]string{7: "persist me"})

	if err := fx.mm.Close(); err != nil {
		t.Fatal(err)
	}

	if err := fx.fm.StoreInodes(); err != nil {
		t.Fatal(err)
	}

	if err := fx.fm.StoreFreeList(); err != nil {
		t.Fatal(err)
	}

	// Reopen over the same directory: a clean restart.
	fx2 := openEngine(t, dir, fsys)

	if fx2.cck.CrashDetected() {
		t.Fatal("clean shutdown misread as crash")
	}

	if !fx2.fm.FileExists(i) {
		t.Fatal("file lost across restart")
	}

	if !fx2.fm.BlockExists(i, b) {
		t.Fatal("block assignment lost across restart")
	}

	got := fx2.diskLine(t, b, 7)
	if string(got[:10]) != "persist me" {
		t.Fatalf("disk line after restart = %q", got[:10])
	}

	// The allocation cursor survived too: the next allocation continues
	// past b.
	b2, err := fx2.fm.AddBlock(1, i)
	if err != nil {
		t.Fatal(err)
	}

	if b2 != b+1 {
		t.Fatalf("next allocation = %d, want %d", b2, b+1)
	}
}

func TestCrashMidRunRecovers(t *testing.T) {
	dir := t.TempDir()
	fsys := fs.NewReal()

	fx := openEngine(t, dir, fsys)

	i := fx.fm.CreateFile()

	b, err := fx.fm.AddBlock(1, i)
	if err != nil {
		t.Fatal(err)
	}

	fx.writeLines(t, i, b, map[LNum]string{0: "journaled"})

	// Append to the journal but never drain, then abandon the engine:
	// the change exists only in the journal file.
	if err := fx.jrnl.WriteChangeLog(fx.cgLog); err != nil {
		t.Fatal(err)
	}

	if got := fx.diskLine(t, b, 0); string(got[:9]) == "journaled" {
		t.Fatal("change reached the disk before any drain")
	}

	if got, _ := fx.stt.Read(); got != "Change log written" {
		t.Fatalf("status = %q", got)
	}

	// Restart: recovery must drain the journal into the data file.
	fx2 := openEngine(t, dir, fsys)

	if got := fx2.diskLine(t, b, 0); string(got[:9]) != "journaled" {
		t.Fatalf("disk line after recovery = %q", got[:9])
	}
}

func TestWorkloadKeepsCacheAccountingTight(t *testing.T) {
	fx := newEngine(t)

	// Mixed traffic over more blocks than slots, with targeted
	// evictions sprinkled in.
	for n := 0; n < 200; n++ {
		b := BNum(n * 7 % NumDiskBlocks)

		if n%3 == 0 {
			cg := NewChange(b)
			if err := cg.AddLine(LNum(n%LinesPerPage), lineOf("churn")); err != nil {
				t.Fatal(err)
			}

			if err := fx.mm.ProcessRequest(cg, fx.fm); err != nil {
				t.Fatal(err)
			}
		} else {
			if err := fx.mm.ProcessRequest(NewReadChange(b), fx.fm); err != nil {
				t.Fatal(err)
			}
		}

		if n%17 == 0 {
			if err := fx.mm.EvictThisPage(b); err != nil {
				t.Fatal(err)
			}
		}

		if !fx.mm.PageTable().CheckHeap() {
			t.Fatalf("heap invariant broken at step %d", n)
		}

		if fx.mm.PageTable().Len() != fx.mem.SlotsInUse() {
			t.Fatalf("accounting drifted at step %d", n)
		}
	}
}

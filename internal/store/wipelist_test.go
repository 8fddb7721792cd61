package store

import "testing"

func TestWipeListMarking(t *testing.T) {
	w := NewWipeList()

	w.SetDirty(5)
	w.SetDirty(10)

	if !w.IsDirty(5) || !w.IsDirty(10) || w.IsDirty(7) {
		t.Fatal("marking wrong")
	}

	w.Clear()

	if w.IsDirty(5) {
		t.Fatal("Clear should unmark")
	}
}

func TestWipeListRipeness(t *testing.T) {
	w := NewWipeList()

	for b := BNum(0); b < DirtyBeforeWipe-1; b++ {
		w.SetDirty(b)
	}

	if w.IsRipe() {
		t.Fatalf("%d marks should not be ripe", DirtyBeforeWipe-1)
	}

	w.SetDirty(DirtyBeforeWipe - 1)

	if !w.IsRipe() {
		t.Fatalf("%d marks should be ripe", DirtyBeforeWipe)
	}
}

package store

import (
	"errors"
	"testing"
)

func lineOf(s string) Line {
	var l Line
	copy(l[:], s)

	return l
}

func TestNewChangeHasEmptySelector(t *testing.T) {
	cg := NewChange(7)

	if len(cg.Selectors) != 1 {
		t.Fatalf("selectors = %d, want 1", len(cg.Selectors))
	}

	if cg.LinesAltered() {
		t.Fatal("fresh change should not report altered lines")
	}

	if NewReadChange(7).Selectors != nil {
		t.Fatal("read change must carry no selectors")
	}
}

func TestAddLineFillsSlots(t *testing.T) {
	cg := NewChange(3)

	for i := 0; i < 3; i++ {
		if err := cg.AddLine(LNum(i*2), lineOf("x")); err != nil {
			t.Fatal(err)
		}
	}

	if len(cg.Selectors) != 1 {
		t.Fatalf("selectors = %d, want 1", len(cg.Selectors))
	}

	sel := cg.Selectors[0]
	if sel[0] != 0 || sel[1] != 2 || sel[2] != 4 || sel[3] != 0xFF || sel[7] != 0xFF {
		t.Fatalf("selector = % X", sel[:])
	}

	if !cg.LinesAltered() {
		t.Fatal("change with edits should report altered lines")
	}
}

func TestAddLineRollsToNewSelector(t *testing.T) {
	cg := NewChange(3)

	for i := 0; i < 7; i++ {
		if err := cg.AddLine(LNum(i), lineOf("x")); err != nil {
			t.Fatal(err)
		}
	}

	// Seven edits fill the first selector; an all-0xFF tail follows.
	if len(cg.Selectors) != 2 {
		t.Fatalf("selectors = %d, want 2", len(cg.Selectors))
	}

	if !cg.Selectors[0].Full() {
		t.Fatal("first selector should be full")
	}

	if cg.Selectors[1] != newSelector() {
		t.Fatal("trailing selector should be all 0xFF")
	}

	if err := cg.AddLine(7, lineOf("y")); err != nil {
		t.Fatal(err)
	}

	if got := cg.Selectors[1][0]; got != 7 {
		t.Fatalf("eighth edit landed at %d", got)
	}
}

func TestAddLineRejectsOutOfRange(t *testing.T) {
	cg := NewChange(0)

	if err := cg.AddLine(LinesPerPage, lineOf("x")); !errors.Is(err, ErrLineRange) {
		t.Fatalf("err = %v, want ErrLineRange", err)
	}

	if err := cg.AddLine(LinesPerPage-1, lineOf("x")); err != nil {
		t.Fatalf("line 62 should be accepted: %v", err)
	}
}

func TestLinesIterationOrder(t *testing.T) {
	cg := NewChange(9)

	want := []struct {
		num LNum
		txt string
	}{
		{5, "five"}, {0, "zero"}, {5, "five again"}, {62, "last"},
	}

	for _, w := range want {
		if err := cg.AddLine(w.num, lineOf(w.txt)); err != nil {
			t.Fatal(err)
		}
	}

	got := cg.Lines()
	if len(got) != len(want) {
		t.Fatalf("edits = %d, want %d", len(got), len(want))
	}

	for i, w := range want {
		if got[i].Num != w.num || got[i].Data != lineOf(w.txt) {
			t.Fatalf("edit %d = {%d %q}", i, got[i].Num, got[i].Data[:10])
		}
	}
}

func TestLinesAcrossSelectorBoundary(t *testing.T) {
	cg := NewChange(1)

	for i := 0; i < 10; i++ {
		if err := cg.AddLine(LNum(i), lineOf(string(rune('a'+i)))); err != nil {
			t.Fatal(err)
		}
	}

	got := cg.Lines()
	if len(got) != 10 {
		t.Fatalf("edits = %d, want 10", len(got))
	}

	for i, e := range got {
		if e.Num != LNum(i) {
			t.Fatalf("edit %d has line %d", i, e.Num)
		}
	}
}

func TestChangeLogAccounting(t *testing.T) {
	cl := NewChangeLog()

	cg1 := NewChange(4)
	_ = cg1.AddLine(0, lineOf("a"))
	_ = cg1.AddLine(1, lineOf("b"))

	cg2 := NewChange(2)
	_ = cg2.AddLine(3, lineOf("c"))

	cl.Add(cg1)
	cl.Add(cg2)

	if cl.LineCount() != 3 || cl.Len() != 2 {
		t.Fatalf("LineCount=%d Len=%d", cl.LineCount(), cl.Len())
	}

	if !cl.IsInLog(4) || cl.IsInLog(9) {
		t.Fatal("IsInLog wrong")
	}

	if got := cl.Blocks(); len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Fatalf("Blocks = %v, want ascending [2 4]", got)
	}

	cl.ResetLineCount()

	if cl.LineCount() != 0 || cl.Len() != 2 {
		t.Fatal("ResetLineCount must keep the block lists")
	}

	cl.Clear()

	if cl.Len() != 0 || cl.IsInLog(4) {
		t.Fatal("Clear must drop everything")
	}
}

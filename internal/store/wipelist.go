package store

import "jbd/internal/bitarr"

// WipeList tracks blocks whose on-disk contents must be zeroed before
// reuse: a released block may still have a change sitting in the log or
// journal, and replaying it after the block moved to another file would
// leak the old contents.
type WipeList struct {
	dirty *bitarr.BitArray
}

// NewWipeList returns an empty list.
func NewWipeList() *WipeList {
	return &WipeList{dirty: bitarr.MustNew(NumWipePages, BitsPerPage)}
}

// SetDirty marks block b for zeroing: a drain writes zeros in place of
// its replayed page, and the wipe routine zeroes every marked block.
func (w *WipeList) SetDirty(b BNum) {
	_ = w.dirty.Set(int(b))
}

// IsDirty reports whether block b is marked.
func (w *WipeList) IsDirty(b BNum) bool {
	return w.dirty.Test(int(b))
}

// Clear unmarks every block.
func (w *WipeList) Clear() {
	w.dirty.ResetAll()
}

// IsRipe reports whether enough blocks are marked to force a drain.
func (w *WipeList) IsRipe() bool {
	return w.dirty.Count() >= DirtyBeforeWipe
}

// DirtyBlocks returns every marked block.
func (w *WipeList) DirtyBlocks() []BNum {
	out := make([]BNum, 0, DirtyBeforeWipe)

	for b := 0; b < NumDiskBlocks; b++ {
		if w.dirty.Test(b) {
			out = append(out, BNum(b))
		}
	}

	return out
}

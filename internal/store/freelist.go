package store

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"jbd/internal/bitarr"
	"jbd/internal/fs"
)

// freeListBytes is the persisted size: two bitmaps plus the cursor.
const freeListBytes = NumFreeListBlocks*BitsPerPage/8*2 + 4

// FreeList hands out disk blocks with two-phase reclamation. Allocations
// come from bitsFrom behind a monotonic cursor; freed blocks collect in
// bitsTo and only rejoin bitsFrom on refresh, once the cursor has
// exhausted the disk. A freed block therefore cannot be re-allocated
// while a journaled change for it may still exist.
type FreeList struct {
	fsys fs.FS
	path string
	log  logrus.FieldLogger

	bitsFrom *bitarr.BitArray
	bitsTo   *bitarr.BitArray
	fromPosn uint32
}

// NewFreeList opens or initializes the free list persisted at path.
func NewFreeList(fsys fs.FS, path string, log logrus.FieldLogger) (*FreeList, error) {
	fl := &FreeList{
		fsys:     fsys,
		path:     path,
		log:      log.WithField("component", "freelist"),
		bitsFrom: bitarr.MustNew(NumFreeListBlocks, BitsPerPage),
		bitsTo:   bitarr.MustNew(NumFreeListBlocks, BitsPerPage),
	}

	ok, err := fsys.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("stat free list: %w", err)
	}

	if ok {
		if err := fl.load(); err != nil {
			return nil, err
		}

		return fl, nil
	}

	fl.log.Info("free list file not found, initializing new file")
	fl.bitsFrom.SetAll()
	fl.bitsTo.ResetAll()
	fl.fromPosn = 0

	if err := fl.Store(); err != nil {
		return nil, err
	}

	return fl, nil
}

func (fl *FreeList) load() error {
	data, err := fl.fsys.ReadFile(fl.path)
	if err != nil {
		return fmt.Errorf("read free list: %w", err)
	}

	if len(data) != freeListBytes {
		return fmt.Errorf("%w: free list is %d bytes, want %d", ErrBadSize, len(data), freeListBytes)
	}

	bmLen := NumFreeListBlocks * BitsPerPage / 8

	fl.bitsFrom, err = bitarr.FromBytes(data[:bmLen], NumFreeListBlocks, BitsPerPage)
	if err != nil {
		return fmt.Errorf("decode bitsFrom: %w", err)
	}

	fl.bitsTo, err = bitarr.FromBytes(data[bmLen:2*bmLen], NumFreeListBlocks, BitsPerPage)
	if err != nil {
		return fmt.Errorf("decode bitsTo: %w", err)
	}

	fl.fromPosn = binary.LittleEndian.Uint32(data[2*bmLen:])

	return nil
}

// Store persists bitsFrom, bitsTo, and the cursor, in that order.
func (fl *FreeList) Store() error {
	buf := make([]byte, 0, freeListBytes)
	buf = append(buf, fl.bitsFrom.Bytes()...)
	buf = append(buf, fl.bitsTo.Bytes()...)
	buf = binary.LittleEndian.AppendUint32(buf, fl.fromPosn)

	err := fl.fsys.WriteFile(fl.path, buf, 0o644)
	if err != nil {
		return fmt.Errorf("store free list: %w", err)
	}

	fl.log.Info("free list stored")

	return nil
}

// Get allocates a block, or returns SentinelBNum when none is free.
func (fl *FreeList) Get() BNum {
	if fl.fromPosn == NumDiskBlocks && fl.bitsTo.Any() {
		fl.refresh()
	}

	if fl.fromPosn >= NumDiskBlocks {
		return SentinelBNum
	}

	_ = fl.bitsFrom.Reset(int(fl.fromPosn))
	fl.fromPosn++

	got := fl.fromPosn - 1
	fl.log.WithField("block", got).Debug("allocated block")

	return got
}

// Put marks block b as freed, pending reclamation.
func (fl *FreeList) Put(b BNum) error {
	if b >= NumDiskBlocks {
		return fmt.Errorf("%w: %d", ErrBlockRange, b)
	}

	return fl.bitsTo.Set(int(b))
}

// refresh folds the freed set back into the allocation set and rewinds
// the cursor to the lowest free block.
func (fl *FreeList) refresh() {
	_ = fl.bitsFrom.Or(fl.bitsTo)
	fl.bitsTo.ResetAll()

	fl.fromPosn = 0
	for i := 0; i < NumDiskBlocks; i++ {
		if fl.bitsFrom.Test(i) {
			break
		}

		fl.fromPosn++
	}
}

// IsFree reports whether block b currently sits in the allocation set.
func (fl *FreeList) IsFree(b BNum) bool {
	return b < NumDiskBlocks && fl.bitsFrom.Test(int(b))
}

// PendingReclaim reports whether block b awaits reclamation in bitsTo.
func (fl *FreeList) PendingReclaim(b BNum) bool {
	return b < NumDiskBlocks && fl.bitsTo.Test(int(b))
}

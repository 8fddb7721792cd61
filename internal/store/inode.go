package store

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"jbd/internal/bitarr"
	"jbd/internal/clock"
	"jbd/internal/fs"
)

const (
	totalInodes = NumInodeTblBlocks * InodesPerBlock

	// inodeRecBytes is the fixed on-disk record:
	// b_nums[9] u32 | lkd u32 | cr_time u64 | indirect[3] u32 | i_num u32,
	// all little-endian.
	inodeRecBytes = CtInodeBNums*4 + 4 + 8 + CtInodeIndirects*4 + 4

	inodeAvailBytes = totalInodes / 8
	inodeFileBytes  = inodeAvailBytes + totalInodes*inodeRecBytes
)

// Inode is one fixed-size record of the table. A block slot holding
// SentinelBNum is empty; Lkd other than SentinelINum means another
// client holds the file.
type Inode struct {
	BNums    [CtInodeBNums]BNum
	Lkd      INum
	CrTime   uint64
	Indirect [CtInodeIndirects]BNum
	INum     INum
}

func newInode(ix INum) Inode {
	n := Inode{Lkd: SentinelINum, INum: ix}

	for i := range n.BNums {
		n.BNums[i] = SentinelBNum
	}

	for i := range n.Indirect {
		n.Indirect[i] = SentinelBNum
	}

	return n
}

// InodeTable is the fixed table of inodes plus its availability bitmap.
// Mutations mark the table modified; EnsureStored persists only when a
// mutation happened since the last store.
type InodeTable struct {
	fsys fs.FS
	path string
	clk  clock.Clock
	log  logrus.FieldLogger

	avail    *bitarr.BitArray
	tbl      []Inode
	modified bool
}

// NewInodeTable opens the table persisted at path, or starts fresh with
// every inode available when the file does not exist.
func NewInodeTable(fsys fs.FS, path string, clk clock.Clock, log logrus.FieldLogger) (*InodeTable, error) {
	it := &InodeTable{
		fsys:  fsys,
		path:  path,
		clk:   clk,
		log:   log.WithField("component", "inodetable"),
		avail: bitarr.MustNew(NumInodeTblBlocks, InodesPerBlock),
		tbl:   make([]Inode, totalInodes),
	}

	it.avail.SetAll()

	for i := range it.tbl {
		it.tbl[i] = newInode(INum(i))
	}

	ok, err := fsys.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("stat inode table: %w", err)
	}

	if !ok {
		it.log.Info("inode table file not found, starting with all inodes available")

		return it, nil
	}

	if err := it.load(); err != nil {
		return nil, err
	}

	return it, nil
}

func (it *InodeTable) load() error {
	data, err := it.fsys.ReadFile(it.path)
	if err != nil {
		return fmt.Errorf("read inode table: %w", err)
	}

	if len(data) != inodeFileBytes {
		return fmt.Errorf("%w: inode table is %d bytes, want %d", ErrBadSize, len(data), inodeFileBytes)
	}

	it.avail, err = bitarr.FromBytes(data[:inodeAvailBytes], NumInodeTblBlocks, InodesPerBlock)
	if err != nil {
		return fmt.Errorf("decode avail bitmap: %w", err)
	}

	off := inodeAvailBytes
	for i := range it.tbl {
		it.tbl[i] = decodeInode(data[off : off+inodeRecBytes])
		off += inodeRecBytes
	}

	return nil
}

func decodeInode(rec []byte) Inode {
	var n Inode

	off := 0
	for i := range n.BNums {
		n.BNums[i] = binary.LittleEndian.Uint32(rec[off:])
		off += 4
	}

	n.Lkd = binary.LittleEndian.Uint32(rec[off:])
	off += 4
	n.CrTime = binary.LittleEndian.Uint64(rec[off:])
	off += 8

	for i := range n.Indirect {
		n.Indirect[i] = binary.LittleEndian.Uint32(rec[off:])
		off += 4
	}

	n.INum = binary.LittleEndian.Uint32(rec[off:])

	return n
}

func encodeInode(buf []byte, n Inode) {
	off := 0
	for i := range n.BNums {
		binary.LittleEndian.PutUint32(buf[off:], n.BNums[i])
		off += 4
	}

	binary.LittleEndian.PutUint32(buf[off:], n.Lkd)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], n.CrTime)
	off += 8

	for i := range n.Indirect {
		binary.LittleEndian.PutUint32(buf[off:], n.Indirect[i])
		off += 4
	}

	binary.LittleEndian.PutUint32(buf[off:], n.INum)
}

// Assign reserves the lowest available inode, stamps its creation time,
// and returns its number, or SentinelINum when the table is full.
func (it *InodeTable) Assign() INum {
	for ix := 0; ix < totalInodes; ix++ {
		if !it.avail.Test(ix) {
			continue
		}

		_ = it.avail.Reset(ix)
		it.tbl[ix].CrTime = it.clk.NowEpochMilli()
		it.modified = true

		return INum(ix)
	}

	it.log.Warn("no available inodes")

	return SentinelINum
}

// Release returns inode i to the available pool and clears its block
// references. Safe to call with the sentinel.
func (it *InodeTable) Release(i INum) {
	if i == SentinelINum {
		return
	}

	n := &it.tbl[i]

	for ix := range n.BNums {
		n.BNums[ix] = SentinelBNum
	}

	for ix := range n.Indirect {
		n.Indirect[ix] = SentinelBNum
	}

	n.CrTime = 0

	_ = it.avail.Set(int(i))
	it.modified = true
}

// InUse reports whether inode i is allocated.
func (it *InodeTable) InUse(i INum) bool {
	if i == SentinelINum || i >= totalInodes {
		return false
	}

	return !it.avail.Test(int(i))
}

// Locked reports whether inode i is held by a client.
func (it *InodeTable) Locked(i INum) bool {
	if i == SentinelINum || i >= totalInodes {
		return false
	}

	return it.tbl[i].Lkd != SentinelINum
}

// AssignBlock writes b into the first empty direct slot of inode i.
func (it *InodeTable) AssignBlock(i INum, b BNum) error {
	if !it.InUse(i) {
		return fmt.Errorf("inode %d not in use", i)
	}

	n := &it.tbl[i]
	for ix := range n.BNums {
		if n.BNums[ix] == SentinelBNum {
			n.BNums[ix] = b
			it.modified = true

			return nil
		}
	}

	return fmt.Errorf("%w: inode %d", ErrInodeSlots, i)
}

// ReleaseBlock clears the direct slot of inode i holding tgt and reports
// whether it was found.
func (it *InodeTable) ReleaseBlock(i INum, tgt BNum) bool {
	if i == SentinelINum {
		return false
	}

	n := &it.tbl[i]
	for ix := range n.BNums {
		if n.BNums[ix] == tgt {
			n.BNums[ix] = SentinelBNum
			it.modified = true
			it.log.WithFields(logrus.Fields{"inode": i, "block": tgt}).Info("released block from inode")

			return true
		}
	}

	return false
}

// ListBlocks returns the non-sentinel direct blocks of inode i.
func (it *InodeTable) ListBlocks(i INum) []BNum {
	if i == SentinelINum {
		it.log.Warn("ListBlocks called with sentinel inode")

		return nil
	}

	out := make([]BNum, 0, CtInodeBNums)
	for _, b := range it.tbl[i].BNums {
		if b != SentinelBNum {
			out = append(out, b)
		}
	}

	return out
}

// Inode returns a copy of record i.
func (it *InodeTable) Inode(i INum) Inode {
	return it.tbl[i]
}

// Store persists the bitmap and table with an atomic replace.
func (it *InodeTable) Store() error {
	buf := make([]byte, inodeFileBytes)
	copy(buf, it.avail.Bytes())

	off := inodeAvailBytes
	for i := range it.tbl {
		encodeInode(buf[off:off+inodeRecBytes], it.tbl[i])
		off += inodeRecBytes
	}

	err := atomic.WriteFile(it.path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("store inode table: %w", err)
	}

	it.log.Info("inode table stored")

	return nil
}

// EnsureStored persists the table only when it changed since the last
// store.
func (it *InodeTable) EnsureStored() error {
	if !it.modified {
		return nil
	}

	if err := it.Store(); err != nil {
		return err
	}

	it.modified = false

	return nil
}

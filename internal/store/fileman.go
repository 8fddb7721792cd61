package store

import (
	"github.com/sirupsen/logrus"

	"jbd/internal/clock"
)

// FileMan is the client-facing surface: it validates requests against
// the inode table, allocates and frees blocks through the free list, and
// hands cache work to MemMan. Recoverable refusals (locked file, no
// capacity) come back as sentinel values or false, never as errors.
type FileMan struct {
	itbl *InodeTable
	fl   *FreeList
	mm   *MemMan
	clk  clock.Clock
	log  logrus.FieldLogger

	anyDirty bool
}

// NewFileMan wires the namespace over its collaborators.
func NewFileMan(itbl *InodeTable, fl *FreeList, mm *MemMan, clk clock.Clock, log logrus.FieldLogger) *FileMan {
	return &FileMan{
		itbl: itbl,
		fl:   fl,
		mm:   mm,
		clk:  clk,
		log:  log.WithField("component", "fileman"),
	}
}

// CreateFile allocates an inode, or returns SentinelINum when the table
// is full.
func (fm *FileMan) CreateFile() INum {
	ret := fm.itbl.Assign()
	if ret == SentinelINum {
		fm.log.Warn("unable to create file: inode limit reached")

		return ret
	}

	fm.log.WithField("inode", ret).Info("file created")

	return ret
}

// DeleteFile frees every block of inode i and releases the inode.
// Returns false without mutating when the file is locked or absent.
func (fm *FileMan) DeleteFile(cliID int, i INum) (bool, error) {
	if fm.itbl.Locked(i) {
		fm.log.WithFields(logrus.Fields{"inode": i, "client": cliID}).Warn("unable to delete file: file locked")

		return false, nil
	}

	if !fm.FileExists(i) {
		fm.log.WithFields(logrus.Fields{"inode": i, "client": cliID}).Warn("unable to delete file: no such file")

		return false, nil
	}

	blocks := fm.itbl.ListBlocks(i)

	for _, b := range blocks {
		if err := fm.remvBlockClean(b); err != nil {
			return false, err
		}
	}

	for _, b := range blocks {
		fm.itbl.ReleaseBlock(i, b)
	}

	fm.itbl.Release(i)

	fm.log.WithFields(logrus.Fields{"inode": i, "client": cliID, "time": fm.clk.NowMicro()}).Info("file deleted")

	return true, nil
}

// CountFiles returns the number of inodes in use.
func (fm *FileMan) CountFiles() int {
	files := 0
	for i := INum(0); i < totalInodes; i++ {
		if fm.itbl.InUse(i) {
			files++
		}
	}

	return files
}

// CountBlocks returns the number of direct blocks held by inode i.
func (fm *FileMan) CountBlocks(i INum) int {
	return len(fm.itbl.ListBlocks(i))
}

// FileExists reports whether inode i is allocated.
func (fm *FileMan) FileExists(i INum) bool {
	if i == SentinelINum {
		return false
	}

	return fm.itbl.InUse(i)
}

// BlockExists reports whether inode i holds block b.
func (fm *FileMan) BlockExists(i INum, b BNum) bool {
	if i == SentinelINum || b == SentinelBNum || !fm.FileExists(i) {
		return false
	}

	for _, held := range fm.itbl.Inode(i).BNums {
		if held == b {
			return true
		}
	}

	return false
}

// AddBlock allocates a block into inode i and runs the wipe routine on
// it. Returns SentinelBNum when the file is locked, the disk is full, or
// the inode has no free slot.
func (fm *FileMan) AddBlock(cliID int, i INum) (BNum, error) {
	if fm.itbl.Locked(i) {
		fm.log.WithFields(logrus.Fields{"inode": i, "client": cliID}).Warn("unable to add block: file locked")

		return SentinelBNum, nil
	}

	b := fm.fl.Get()
	if b == SentinelBNum {
		fm.log.WithFields(logrus.Fields{"inode": i, "client": cliID}).Warn("unable to add block: no free blocks")

		return SentinelBNum, nil
	}

	if err := fm.itbl.AssignBlock(i, b); err != nil {
		fm.log.WithFields(logrus.Fields{"inode": i, "client": cliID}).Warn("unable to add block: no space in inode")

		return SentinelBNum, nil
	}

	if err := fm.mm.jrnl.DoWipeRoutine(b, fm); err != nil {
		return SentinelBNum, err
	}

	fm.log.WithFields(logrus.Fields{"inode": i, "block": b, "client": cliID}).Info("block added")

	return b, nil
}

// RemvBlock removes block tgt from inode i, freeing it and flagging it
// for wiping whether or not a change to it is pending.
func (fm *FileMan) RemvBlock(cliID int, i INum, tgt BNum) (bool, error) {
	if fm.itbl.Locked(i) {
		fm.log.WithFields(logrus.Fields{"inode": i, "block": tgt, "client": cliID}).Warn("unable to remove block: file locked")

		return false, nil
	}

	if !fm.itbl.InUse(i) {
		fm.log.WithFields(logrus.Fields{"inode": i, "block": tgt, "client": cliID}).Warn("unable to remove block: inode not in use")

		return false, nil
	}

	if !fm.itbl.ReleaseBlock(i, tgt) {
		fm.log.WithFields(logrus.Fields{"inode": i, "block": tgt, "client": cliID}).Warn("unable to remove block: block not in inode")

		return false, nil
	}

	if err := fm.remvBlockClean(tgt); err != nil {
		return false, err
	}

	fm.log.WithFields(logrus.Fields{"inode": i, "block": tgt, "client": cliID}).Info("block removed")

	return true, nil
}

// remvBlockClean frees the block, drops its cached page, and marks it
// for wiping: whatever the old file left on disk must be zeroed before
// the block can carry another file's data.
func (fm *FileMan) remvBlockClean(tgt BNum) error {
	if err := fm.fl.Put(tgt); err != nil {
		return err
	}

	if err := fm.mm.EvictThisPage(tgt); err != nil {
		return err
	}

	fm.mm.jrnl.SetWiperDirty(tgt)

	return nil
}

// Inode returns a copy of inode i's record.
func (fm *FileMan) Inode(i INum) Inode {
	return fm.itbl.Inode(i)
}

// SubmitRequest dispatches a read or write to the cache unless the file
// is locked by another client.
func (fm *FileMan) SubmitRequest(cliID int, i INum, cg *Change) error {
	if fm.itbl.Locked(i) {
		fm.log.WithFields(logrus.Fields{"inode": i, "client": cliID}).Warn("request refused: file locked")

		return nil
	}

	if err := fm.mm.ProcessRequest(cg, fm); err != nil {
		return err
	}

	fm.anyDirty = true

	return nil
}

// StoreInodes persists the inode table when it changed.
func (fm *FileMan) StoreInodes() error {
	return fm.itbl.EnsureStored()
}

// StoreFreeList persists the free list.
func (fm *FileMan) StoreFreeList() error {
	return fm.fl.Store()
}

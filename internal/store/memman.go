package store

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"jbd/internal/bitarr"
	"jbd/internal/clock"
	"jbd/internal/status"
)

// MemMan thresholds. A change log holding CHANGE_LOG_FULL journal bytes,
// or a purge older than JRNL_PURGE_DELAY, forces an append-and-drain;
// otherwise a log idle past WRITEALL_DELAY is appended without draining.
const (
	WriteallDelayUsec  = 25000
	JrnlPurgeDelayUsec = 100000
	ChangeLogFull      = BlockBytes * 2
	CgOverhead         = 16
	JrnlEntryOverhead  = 24
)

// MemMan routes block requests through the page cache: it loads and
// evicts pages, records writes in the change log, and fires the timed
// journal append/drain actions.
type MemMan struct {
	pt    *PageTable
	mem   *Memory
	disk  *SimDisk
	jrnl  *Journal
	cgLog *ChangeLog
	stt   *status.Status
	clk   clock.Clock
	log   logrus.FieldLogger

	verbose bool

	blksInMem    *bitarr.BitArray
	blkLocsInMem map[BNum]int
}

// NewMemMan wires the cache over its collaborators and marks the engine
// running.
func NewMemMan(mem *Memory, disk *SimDisk, jrnl *Journal, cgLog *ChangeLog, stt *status.Status, clk clock.Clock, log logrus.FieldLogger, verbose bool) (*MemMan, error) {
	mm := &MemMan{
		pt:           NewPageTable(clk),
		mem:          mem,
		disk:         disk,
		jrnl:         jrnl,
		cgLog:        cgLog,
		stt:          stt,
		clk:          clk,
		log:          log.WithField("component", "memman"),
		verbose:      verbose,
		blksInMem:    bitarr.MustNew(1, NumDiskBlocks),
		blkLocsInMem: make(map[BNum]int),
	}

	// The append timer starts now; this covers a slow startup.
	cgLog.SetLastWriteTime(clk.NowMicro())

	if err := stt.Write("Running"); err != nil {
		return nil, err
	}

	return mm, nil
}

// Close appends any buffered changes and drains the journal, leaving a
// clean shutdown state.
func (mm *MemMan) Close() error {
	mm.log.Info("program exiting")

	if err := mm.jrnl.WriteChangeLog(mm.cgLog); err != nil {
		return err
	}

	return mm.jrnl.Purge(false, false)
}

// ProcessRequest serves one read or write against the cache and then
// runs the timed journal actions.
func (mm *MemMan) ProcessRequest(cg *Change, fm *FileMan) error {
	if mm.pt.Len() != mm.mem.SlotsInUse() {
		return fmt.Errorf("cache accounting broken: %d table entries, %d slots in use", mm.pt.Len(), mm.mem.SlotsInUse())
	}

	b := cg.BlockNum
	if b >= NumDiskBlocks {
		return fmt.Errorf("%w: %d", ErrBlockRange, b)
	}

	inMem := mm.blksInMem.Test(int(b))
	aWrite := len(cg.Selectors) > 0
	cg.TimeStamp = mm.clk.NowMicro()

	mm.log.WithFields(logrus.Fields{
		"block": b,
		"write": aWrite,
		"inMem": inMem,
		"time":  cg.TimeStamp,
	}).Info("request")

	if err := mm.makePageReady(b, inMem); err != nil {
		return err
	}

	if aWrite {
		mm.writeInSlot(cg)
	} else {
		mm.readInSlot(b)
	}

	return mm.timedActs(fm)
}

// makePageReady caches block b if needed and patches the fresh page up
// to the pending change-log state.
func (mm *MemMan) makePageReady(b BNum, inMem bool) error {
	if inMem {
		return nil
	}

	slot, err := mm.setupPage(b)
	if err != nil {
		return err
	}

	// Replay pending changes so the in-memory image reflects the
	// journaled-but-not-drained state.
	for _, cg := range mm.cgLog.ChangesFor(b) {
		cg.ApplyTo(mm.mem.Page(slot))
	}

	return nil
}

func (mm *MemMan) setupPage(b BNum) (int, error) {
	slot := mm.mem.FirstAvailable()

	if slot == NumMemSlots {
		var err error

		slot, err = mm.evictLRUPage()
		if err != nil {
			return 0, err
		}
	}

	if err := mm.readPageFromDisk(b, slot); err != nil {
		return 0, err
	}

	return slot, nil
}

// evictLRUPage pops the least-recently-used page and returns its freed
// slot.
func (mm *MemMan) evictLRUPage() (int, error) {
	if mm.pt.Len() != NumMemSlots {
		return 0, fmt.Errorf("evict with %d cached pages, want %d", mm.pt.Len(), NumMemSlots)
	}

	if !mm.pt.CheckHeap() {
		return 0, fmt.Errorf("page table heap invariant broken before evict")
	}

	victim := mm.pt.Pop()

	slot, ok := mm.blkLocsInMem[victim.BlockNum]
	if !ok {
		return 0, fmt.Errorf("evicted block %d has no slot", victim.BlockNum)
	}

	delete(mm.blkLocsInMem, victim.BlockNum)
	_ = mm.blksInMem.Reset(int(victim.BlockNum))
	mm.mem.MakeAvailable(slot)

	mm.log.WithFields(logrus.Fields{
		"block": victim.BlockNum,
		"slot":  slot,
		"time":  mm.clk.NowMicro(),
	}).Info("evicted page")

	return slot, nil
}

// EvictThisPage drops block b from the cache, if present. Used when a
// block leaves its file.
func (mm *MemMan) EvictThisPage(b BNum) error {
	slot, ok := mm.blkLocsInMem[b]
	if !ok {
		return nil
	}

	if !mm.pt.CheckHeap() {
		return fmt.Errorf("page table heap invariant broken before targeted evict")
	}

	pos := mm.pt.SlotForMemSlot(slot)
	if pos < 0 {
		return fmt.Errorf("block %d in slot %d missing from page table", b, slot)
	}

	// Zeroing the access time forces the entry to the root.
	mm.pt.ResetAccess(pos)

	victim := mm.pt.Pop()
	if victim.BlockNum != b {
		return fmt.Errorf("targeted evict popped block %d, want %d", victim.BlockNum, b)
	}

	delete(mm.blkLocsInMem, b)
	_ = mm.blksInMem.Reset(int(b))
	mm.mem.MakeAvailable(slot)

	mm.log.WithFields(logrus.Fields{"block": b, "slot": slot}).Info("evicted page")

	return nil
}

func (mm *MemMan) readPageFromDisk(b BNum, slot int) error {
	if slot == NumMemSlots-1 {
		mm.pt.SetFull()
	}

	mm.log.WithFields(logrus.Fields{"block": b, "slot": slot}).Info("moving page into memory")

	if err := mm.disk.ReadBlock(b, mm.mem.Page(slot)); err != nil {
		return err
	}

	_ = mm.blksInMem.Set(int(b))
	mm.blkLocsInMem[b] = slot
	mm.mem.TakeSlot(slot)

	mm.pt.Push(PTEntry{BlockNum: b, MemSlot: slot, AccTime: mm.clk.NowMicro()})

	return nil
}

func (mm *MemMan) readInSlot(b BNum) {
	slot := mm.blkLocsInMem[b]
	pos := mm.pt.SlotForMemSlot(slot)

	mm.pt.UpdateAccess(pos)

	mm.log.WithFields(logrus.Fields{"block": b, "slot": slot}).Debug("reading from cached page")
}

func (mm *MemMan) writeInSlot(cg *Change) {
	slot := mm.blkLocsInMem[cg.BlockNum]
	pos := mm.pt.SlotForMemSlot(slot)

	mm.pt.UpdateAccess(pos)
	mm.cgLog.Add(cg)

	mm.log.WithFields(logrus.Fields{"block": cg.BlockNum, "slot": slot}).Debug("writing to cached page")
}

// journalWriteSize estimates the bytes the next append would occupy:
// line payloads, selectors, and the per-change plus per-record overhead.
func (mm *MemMan) journalWriteSize() int {
	numLines := mm.cgLog.LineCount()
	dataBytes := numLines * BytesPerLine
	selectBytes := numLines>>3 + 8

	return dataBytes + selectBytes + CgOverhead + JrnlEntryOverhead
}

func (mm *MemMan) timedActs(fm *FileMan) error {
	bytesToJrnl := mm.journalWriteSize()
	if bytesToJrnl >= ChangeLogFull {
		mm.log.WithField("bytes", bytesToJrnl).Info("change log full")
	}

	now := mm.clk.NowMicro()

	elapsed := now - mm.jrnl.LastPurgeTime()
	if elapsed > JrnlPurgeDelayUsec {
		mm.log.WithField("elapsed", elapsed).Info("journal purge delay exceeded")
	}

	if elapsed > JrnlPurgeDelayUsec || bytesToJrnl >= ChangeLogFull {
		if err := fm.StoreInodes(); err != nil {
			return err
		}

		if err := fm.StoreFreeList(); err != nil {
			return err
		}

		mm.cgLog.SetLastWriteTime(now)

		if err := mm.jrnl.WriteChangeLog(mm.cgLog); err != nil {
			return err
		}

		mm.jrnl.SetLastPurgeTime(now)

		return mm.jrnl.Purge(true, false)
	}

	if delay := now - mm.cgLog.LastWriteTime(); delay > WriteallDelayUsec {
		mm.log.WithField("delay", delay).Info("append delay exceeded")

		mm.cgLog.SetLastWriteTime(now)

		return mm.jrnl.WriteChangeLog(mm.cgLog)
	}

	return nil
}

// BlockInCache reports whether block b currently occupies a memory slot.
func (mm *MemMan) BlockInCache(b BNum) bool {
	_, ok := mm.blkLocsInMem[b]

	return ok
}

// CacheSlot returns the memory slot of block b and whether it is cached.
func (mm *MemMan) CacheSlot(b BNum) (int, bool) {
	slot, ok := mm.blkLocsInMem[b]

	return slot, ok
}

// PageTable exposes the LRU structure for invariant checks.
func (mm *MemMan) PageTable() *PageTable {
	return mm.pt
}

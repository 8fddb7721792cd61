package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"jbd/internal/blockcrc"
	"jbd/internal/clock"
	"jbd/internal/fs"
	"jbd/internal/status"
)

// Journal framing constants. Tags and the record length are big-endian
// on disk; block numbers and the metadata triple are little-endian. The
// mix is deliberate: it is the observable file format.
const (
	startTag uint64 = 0xF185ACEF50F9A00F
	endTag   uint64 = 0x3A5FCA0F0F85432E

	// metaLen is the metadata header: get, put, size as int64 LE.
	metaLen = 24

	// recordOverhead is start tag + length field + end tag.
	recordOverhead = 24

	// pageBufferSize is the drain buffer: pages written back per batch.
	pageBufferSize = 16
)

// Journal persists change logs in a circular byte region and later
// drains them into the data file. The region spans [metaLen, JrnlSize);
// writes that run past the end wrap back to metaLen. The metadata triple
// at offset 0 holds the start of the last record (get), the next write
// position (put), and the live byte count (size); get == -1 marks an
// empty journal.
type Journal struct {
	fsys fs.FS
	path string
	f    fs.File
	log  logrus.FieldLogger

	disk  *SimDisk
	cgLog *ChangeLog
	stt   *status.Status
	clk   clock.Clock

	metaGet int64
	metaPut int64
	metaSz  int64

	blksInJrnl    [NumDiskBlocks]bool
	lastPurgeTime uint64
	wipers        *WipeList

	// pos mirrors the file offset so wrap arithmetic never has to ask
	// the handle where it is.
	pos      int64
	ttlBytes int64
}

// NewJournal opens or creates the journal file, runs crash recovery when
// the previous run's status demands it, and resets the metadata header.
func NewJournal(fsys fs.FS, path string, disk *SimDisk, cgLog *ChangeLog, stt *status.Status, cck *status.CrashChk, clk clock.Clock, log logrus.FieldLogger) (*Journal, error) {
	j := &Journal{
		fsys:   fsys,
		path:   path,
		log:    log.WithField("component", "journal"),
		disk:   disk,
		cgLog:  cgLog,
		stt:    stt,
		clk:    clk,
		wipers: NewWipeList(),
	}

	existed, err := fsys.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("stat journal: %w", err)
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j.f = f

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat journal: %w", err)
	}

	switch {
	case info.Size() < JrnlSize:
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return nil, fmt.Errorf("pad journal: %w", err)
		}

		if _, err := f.Write(make([]byte, JrnlSize-info.Size())); err != nil {
			return nil, fmt.Errorf("pad journal: %w", err)
		}
	case info.Size() > JrnlSize:
		return nil, fmt.Errorf("%w: journal is %d bytes, want %d", ErrBadSize, info.Size(), JrnlSize)
	}

	if existed {
		j.log.Info("journal file opened")
	} else {
		j.log.Info("journal file created")
	}

	if cck.CrashDetected() {
		j.log.WithField("status", cck.LastStatus()).Info("unclean shutdown detected, recovering")

		if err := j.Purge(true, true); err != nil {
			return nil, fmt.Errorf("crash recovery: %w", err)
		}

		if err := stt.Write("Last change log recovered"); err != nil {
			return nil, err
		}
	}

	if err := j.writeMeta(-1, metaLen, 0); err != nil {
		return nil, err
	}

	return j, nil
}

// Close releases the journal file handle.
func (j *Journal) Close() error {
	return j.f.Close()
}

// IsInJrnl reports whether block b has a record in the journal that has
// not been drained yet.
func (j *Journal) IsInJrnl(b BNum) bool {
	return j.blksInJrnl[b]
}

// SetWiperDirty marks block b for zeroing: a drain writes zeros in place
// of its replayed page, and the wipe routine zeroes every marked block.
func (j *Journal) SetWiperDirty(b BNum) {
	j.wipers.SetDirty(b)
}

// LastPurgeTime returns the time of the last drain.
func (j *Journal) LastPurgeTime() uint64 {
	return j.lastPurgeTime
}

// SetLastPurgeTime records the time of a drain.
func (j *Journal) SetLastPurgeTime(t uint64) {
	j.lastPurgeTime = t
}

// seekTo positions both the handle and the mirrored cursor.
func (j *Journal) seekTo(p int64) error {
	if _, err := j.f.Seek(p, io.SeekStart); err != nil {
		return fmt.Errorf("journal seek %d: %w", p, err)
	}

	j.pos = p

	return nil
}

// wrapPos folds a position past the end of the file back into the
// circular region.
func wrapPos(p int64) int64 {
	if p >= JrnlSize {
		return metaLen + (p - JrnlSize)
	}

	return p
}

// writeField writes data at the cursor, wrapping past the end of the
// file into the circular region. countIt adds the bytes to the running
// record total.
func (j *Journal) writeField(data []byte, countIt bool) error {
	endPt := j.pos + int64(len(data))

	switch {
	case endPt > JrnlSize:
		under := JrnlSize - j.pos
		if _, err := j.f.Write(data[:under]); err != nil {
			return fmt.Errorf("journal write: %w", err)
		}

		if err := j.seekTo(metaLen); err != nil {
			return err
		}

		if _, err := j.f.Write(data[under:]); err != nil {
			return fmt.Errorf("journal write: %w", err)
		}

		j.pos = metaLen + int64(len(data)) - under

	case endPt == JrnlSize:
		if _, err := j.f.Write(data); err != nil {
			return fmt.Errorf("journal write: %w", err)
		}

		if err := j.seekTo(metaLen); err != nil {
			return err
		}

	default:
		if _, err := j.f.Write(data); err != nil {
			return fmt.Errorf("journal write: %w", err)
		}

		j.pos = endPt
	}

	if countIt {
		j.ttlBytes += int64(len(data))
	}

	return nil
}

// readField reads n bytes at the cursor with the same wrap rule as
// writeField.
func (j *Journal) readField(n int) ([]byte, error) {
	data := make([]byte, n)
	endPt := j.pos + int64(n)

	switch {
	case endPt > JrnlSize:
		under := JrnlSize - j.pos
		if _, err := io.ReadFull(j.f, data[:under]); err != nil {
			return nil, fmt.Errorf("journal read: %w", err)
		}

		if err := j.seekTo(metaLen); err != nil {
			return nil, err
		}

		if _, err := io.ReadFull(j.f, data[under:]); err != nil {
			return nil, fmt.Errorf("journal read: %w", err)
		}

		j.pos = metaLen + int64(n) - under

	case endPt == JrnlSize:
		if _, err := io.ReadFull(j.f, data); err != nil {
			return nil, fmt.Errorf("journal read: %w", err)
		}

		if err := j.seekTo(metaLen); err != nil {
			return nil, err
		}

	default:
		if _, err := io.ReadFull(j.f, data); err != nil {
			return nil, fmt.Errorf("journal read: %w", err)
		}

		j.pos = endPt
	}

	return data, nil
}

func (j *Journal) readMeta() error {
	if err := j.seekTo(0); err != nil {
		return err
	}

	buf, err := j.readField(metaLen)
	if err != nil {
		return err
	}

	j.metaGet = int64(binary.LittleEndian.Uint64(buf[0:]))
	j.metaPut = int64(binary.LittleEndian.Uint64(buf[8:]))
	j.metaSz = int64(binary.LittleEndian.Uint64(buf[16:]))

	return nil
}

func (j *Journal) writeMeta(get, put, sz int64) error {
	if err := j.seekTo(0); err != nil {
		return err
	}

	var buf [metaLen]byte

	binary.LittleEndian.PutUint64(buf[0:], uint64(get))
	binary.LittleEndian.PutUint64(buf[8:], uint64(put))
	binary.LittleEndian.PutUint64(buf[16:], uint64(sz))

	if _, err := j.f.Write(buf[:]); err != nil {
		return fmt.Errorf("journal write metadata: %w", err)
	}

	j.pos = metaLen
	j.metaGet, j.metaPut, j.metaSz = get, put, sz

	return nil
}

func be64(v uint64) []byte {
	var b [8]byte

	binary.BigEndian.PutUint64(b[:], v)

	return b[:]
}

// WriteChangeLog appends the buffered change log as one framed record.
// The metadata header is only updated after the full record is on disk,
// so an interrupted append leaves the previous valid region intact.
func (j *Journal) WriteChangeLog(cl *ChangeLog) error {
	if cl.LineCount() == 0 {
		return nil
	}

	j.log.WithFields(logrus.Fields{"blocks": cl.Len(), "lines": cl.LineCount()}).Info("saving change log")

	if err := j.readMeta(); err != nil {
		return err
	}

	start := j.metaPut
	if start < metaLen {
		start = metaLen
	}

	if err := j.seekTo(start); err != nil {
		return err
	}

	j.ttlBytes = 0

	if err := j.writeField(be64(startTag), true); err != nil {
		return err
	}

	// Reserve the length field; it is rewritten once the record size is
	// known.
	cgBytesPos := wrapPos(start + 8)
	if err := j.writeField(be64(0), true); err != nil {
		return err
	}

	for _, b := range cl.Blocks() {
		for _, cg := range cl.ChangesFor(b) {
			var bn [4]byte

			binary.LittleEndian.PutUint32(bn[:], cg.BlockNum)

			if err := j.writeField(bn[:], true); err != nil {
				return err
			}

			j.blksInJrnl[cg.BlockNum] = true

			if err := j.writeField(be64(cg.TimeStamp), true); err != nil {
				return err
			}

			for _, sel := range cg.Selectors {
				if err := j.writeField(sel[:], true); err != nil {
					return err
				}
			}

			for i := range cg.NewData {
				if err := j.writeField(cg.NewData[i][:], true); err != nil {
					return err
				}
			}
		}
	}

	if err := j.writeField(be64(endTag), true); err != nil {
		return err
	}

	if j.ttlBytes >= JrnlSize-metaLen {
		return fmt.Errorf("%w: record of %d bytes exceeds journal region", ErrCorruptFrame, j.ttlBytes)
	}

	cgBytes := j.ttlBytes - recordOverhead
	endPos := j.pos

	if err := j.seekTo(cgBytesPos); err != nil {
		return err
	}

	if err := j.writeField(be64(uint64(cgBytes)), false); err != nil {
		return err
	}

	if err := j.seekTo(endPos); err != nil {
		return err
	}

	// The distance from record start to end, modulo the region, must
	// equal the bytes counted.
	dist := endPos - start
	if dist <= 0 {
		dist += JrnlSize - metaLen
	}

	if dist != j.ttlBytes {
		return fmt.Errorf("%w: wrote %d bytes but advanced %d", ErrCorruptFrame, j.ttlBytes, dist)
	}

	if err := j.writeMeta(start, endPos, j.metaSz+j.ttlBytes); err != nil {
		return err
	}

	cl.ResetLineCount()

	j.log.WithField("time", j.clk.NowMicro()).Info("change log written to journal")

	if err := j.stt.Write("Change log written"); err != nil {
		return err
	}

	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}

	return nil
}

// Purge drains the journal into the data file. keepGoing selects the
// status written afterwards ("Purged journal" vs "Finishing"); hadCrash
// forces a replay attempt even though no blocks are tracked in RAM.
func (j *Journal) Purge(keepGoing, hadCrash bool) error {
	if err := j.seekTo(0); err != nil {
		return err
	}

	if hadCrash {
		j.log.Info("purging journal after crash")
	} else {
		j.log.Info("purging journal")
	}

	tracked := false
	for _, in := range j.blksInJrnl {
		if in {
			tracked = true

			break
		}
	}

	if !tracked && !hadCrash {
		j.log.Info("journal is empty: nothing to purge")
	} else {
		jcl := NewChangeLog()

		err := j.readLastRecord(jcl)

		switch {
		case errors.Is(err, ErrCorruptFrame):
			// Isolate the damage: nothing from a bad frame reaches the
			// data file.
			j.log.WithError(err).Error("discarding corrupt journal record")

			jcl = NewChangeLog()
		case err != nil:
			return err
		}

		if jcl.Len() == 0 {
			j.log.Info("no changes found in the journal")
		} else if err := j.applyRecord(jcl); err != nil {
			return err
		}

		j.blksInJrnl = [NumDiskBlocks]bool{}
		j.cgLog.Clear()

		if err := j.writeMeta(-1, metaLen, 0); err != nil {
			return err
		}
	}

	msg := "Purged journal"
	if !keepGoing {
		msg = "Finishing"
	}

	return j.stt.Write(msg)
}

// readLastRecord parses the record at meta_get into jcl.
func (j *Journal) readLastRecord(jcl *ChangeLog) error {
	if err := j.readMeta(); err != nil {
		return err
	}

	if j.metaGet == -1 {
		j.log.Warn("no metadata available, journal might be empty")

		return nil
	}

	if j.metaGet < metaLen || j.metaGet >= JrnlSize {
		return fmt.Errorf("%w: meta_get %d outside journal region", ErrCorruptFrame, j.metaGet)
	}

	if err := j.seekTo(j.metaGet); err != nil {
		return err
	}

	return j.readRecord(jcl)
}

func (j *Journal) readRecord(jcl *ChangeLog) error {
	buf, err := j.readField(8)
	if err != nil {
		return err
	}

	if tag := binary.BigEndian.Uint64(buf); tag != startTag {
		return fmt.Errorf("%w: start tag %016X", ErrCorruptFrame, tag)
	}

	buf, err = j.readField(8)
	if err != nil {
		return err
	}

	cgBytes := int64(binary.BigEndian.Uint64(buf))
	if cgBytes < 0 || cgBytes > JrnlSize-metaLen-recordOverhead {
		return fmt.Errorf("%w: record length %d", ErrCorruptFrame, cgBytes)
	}

	limit := cgBytes + 16
	consumed := int64(16)

	for consumed < limit {
		if consumed+12 > limit {
			return fmt.Errorf("%w: truncated change header", ErrCorruptFrame)
		}

		buf, err = j.readField(4)
		if err != nil {
			return err
		}

		bn := binary.LittleEndian.Uint32(buf)
		consumed += 4

		if bn >= NumDiskBlocks {
			return fmt.Errorf("%w: block %d out of range", ErrCorruptFrame, bn)
		}

		cg := &Change{BlockNum: bn}

		buf, err = j.readField(8)
		if err != nil {
			return err
		}

		cg.TimeStamp = binary.BigEndian.Uint64(buf)
		consumed += 8

		numLines := 0

		for {
			if consumed+SelectorBytes > limit {
				return fmt.Errorf("%w: selector sentinel missing", ErrCorruptFrame)
			}

			buf, err = j.readField(SelectorBytes)
			if err != nil {
				return err
			}

			var sel Selector

			copy(sel[:], buf)
			consumed += SelectorBytes

			cg.Selectors = append(cg.Selectors, sel)
			numLines += len(sel.Indices())

			if !sel.Full() {
				break
			}
		}

		for k := 0; k < numLines; k++ {
			if consumed+BytesPerLine > limit {
				return fmt.Errorf("%w: truncated line data", ErrCorruptFrame)
			}

			buf, err = j.readField(BytesPerLine)
			if err != nil {
				return err
			}

			var ln Line

			copy(ln[:], buf)
			consumed += BytesPerLine

			cg.NewData = append(cg.NewData, ln)
		}

		jcl.Add(cg)
	}

	buf, err = j.readField(8)
	if err != nil {
		return err
	}

	if tag := binary.BigEndian.Uint64(buf); tag != endTag {
		return fmt.Errorf("%w: end tag %016X", ErrCorruptFrame, tag)
	}

	return nil
}

type pagePair struct {
	b  BNum
	pg Page
}

// applyRecord replays a parsed record into the data file, block-major,
// batching page write-backs through the drain buffer.
func (j *Journal) applyRecord(jcl *ChangeLog) error {
	buf := make([]pagePair, 0, pageBufferSize)

	for _, b := range jcl.Blocks() {
		var pg Page

		if err := j.disk.ReadBlock(b, &pg); err != nil {
			return err
		}

		for _, cg := range jcl.ChangesFor(b) {
			cg.ApplyTo(&pg)
		}

		blockcrc.SealPage(pg[:])
		buf = append(buf, pagePair{b: b, pg: pg})

		if len(buf) == pageBufferSize {
			if err := j.flushPageBuffer(buf); err != nil {
				return err
			}

			buf = buf[:0]
		}
	}

	return j.flushPageBuffer(buf)
}

// flushPageBuffer writes buffered pages back to the data file. Wiped
// blocks get a sealed zero page instead of their journaled contents; a
// page failing its CRC check is skipped so corruption stays confined to
// that block.
func (j *Journal) flushPageBuffer(buf []pagePair) error {
	for i := range buf {
		p := &buf[i]

		if !blockcrc.VerifyPage(p.pg[:]) {
			j.log.WithField("block", p.b).Error("page failed CRC check, skipping write-back")

			continue
		}

		if j.wipers.IsDirty(p.b) {
			j.log.WithField("block", p.b).Info("overwriting dirty block with zeros")

			zero := ZeroBlock()
			if err := j.disk.WriteBlock(p.b, &zero); err != nil {
				return err
			}

			continue
		}

		j.log.WithField("block", p.b).Info("writing page to disk")

		if err := j.disk.WriteBlock(p.b, &p.pg); err != nil {
			return err
		}
	}

	return nil
}

// DoWipeRoutine runs before a block joins a file: when the block is
// marked for wiping, or enough marks have piled up, the pending state is
// persisted and the journal drained so the wipe takes effect now.
func (j *Journal) DoWipeRoutine(b BNum, fm *FileMan) error {
	if !j.wipers.IsDirty(b) && !j.wipers.IsRipe() {
		return nil
	}

	if err := fm.StoreInodes(); err != nil {
		return err
	}

	if err := fm.StoreFreeList(); err != nil {
		return err
	}

	j.log.Info("saving change log and purging journal before adding new block")

	if err := j.WriteChangeLog(j.cgLog); err != nil {
		return err
	}

	if err := j.Purge(true, false); err != nil {
		return err
	}

	// A dirty block without a journaled change never passes through the
	// drain buffer, so it is zeroed here before the marks are dropped.
	zero := ZeroBlock()
	for _, d := range j.wipers.DirtyBlocks() {
		if err := j.disk.WriteBlock(d, &zero); err != nil {
			return err
		}
	}

	j.wipers.Clear()

	return nil
}

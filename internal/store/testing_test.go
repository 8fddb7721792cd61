package store

import (
	"path/filepath"
	"testing"

	"jbd/internal/clock"
	"jbd/internal/fs"
	"jbd/internal/status"
)

// engineFixture wires a complete engine over a temp directory, the same
// order the driver uses: crash check, status, disk, journal, cache,
// namespace.
type engineFixture struct {
	dir  string
	fsys fs.FS
	clk  *clock.Mock

	stt   *status.Status
	cck   *status.CrashChk
	disk  *SimDisk
	cgLog *ChangeLog
	jrnl  *Journal
	mem   *Memory
	mm    *MemMan
	fl    *FreeList
	itbl  *InodeTable
	fm    *FileMan
}

func newEngine(t *testing.T) *engineFixture {
	t.Helper()

	return openEngine(t, t.TempDir(), fs.NewReal())
}

// openEngine builds the engine over dir, running crash recovery if the
// status marker demands it. Reusable against an existing directory to
// simulate a restart.
func openEngine(t *testing.T, dir string, fsys fs.FS) *engineFixture {
	t.Helper()

	fx := &engineFixture{dir: dir, fsys: fsys, clk: clock.NewMock()}
	log := testLogger()

	statusPath := filepath.Join(dir, "status.txt")
	fx.cck = status.NewCrashChk(fsys, statusPath)
	fx.stt = status.New(fsys, statusPath)

	var err error

	fx.disk, err = NewSimDisk(fsys, fx.stt,
		filepath.Join(dir, "disk_file.bin"),
		filepath.Join(dir, "jrnl_file.bin"),
		filepath.Join(dir, "free_file.bin"),
		filepath.Join(dir, "node_file.bin"),
		log)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = fx.disk.Close() })

	fx.cgLog = NewChangeLog()

	fx.jrnl, err = NewJournal(fsys, filepath.Join(dir, "jrnl_file.bin"), fx.disk, fx.cgLog, fx.stt, fx.cck, fx.clk, log)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = fx.jrnl.Close() })

	fx.mem = NewMemory()

	fx.mm, err = NewMemMan(fx.mem, fx.disk, fx.jrnl, fx.cgLog, fx.stt, fx.clk, log, false)
	if err != nil {
		t.Fatal(err)
	}

	fx.fl, err = NewFreeList(fsys, filepath.Join(dir, "free_file.bin"), log)
	if err != nil {
		t.Fatal(err)
	}

	fx.itbl, err = NewInodeTable(fsys, filepath.Join(dir, "node_file.bin"), fx.clk, log)
	if err != nil {
		t.Fatal(err)
	}

	fx.fm = NewFileMan(fx.itbl, fx.fl, fx.mm, fx.clk, log)

	return fx
}

// writeLines journals a write request of the given (line, text) pairs
// against block b through the full request path.
func (fx *engineFixture) writeLines(t *testing.T, i INum, b BNum, edits map[LNum]string) {
	t.Helper()

	cg := NewChange(b)
	for num, txt := range edits {
		if err := cg.AddLine(num, lineOf(txt)); err != nil {
			t.Fatal(err)
		}
	}

	if err := fx.fm.SubmitRequest(1, i, cg); err != nil {
		t.Fatal(err)
	}
}

// flush appends the change log and drains the journal.
func (fx *engineFixture) flush(t *testing.T) {
	t.Helper()

	if err := fx.jrnl.WriteChangeLog(fx.cgLog); err != nil {
		t.Fatal(err)
	}

	if err := fx.jrnl.Purge(true, false); err != nil {
		t.Fatal(err)
	}
}

// diskLine reads one 64-byte line straight from the data file.
func (fx *engineFixture) diskLine(t *testing.T, b BNum, num LNum) []byte {
	t.Helper()

	var pg Page
	if err := fx.disk.ReadBlock(b, &pg); err != nil {
		t.Fatal(err)
	}

	off := int(num) * BytesPerLine

	return append([]byte(nil), pg[off:off+BytesPerLine]...)
}

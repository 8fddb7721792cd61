package store

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"jbd/internal/blockcrc"
	"jbd/internal/fs"
	"jbd/internal/status"
)

// SimDisk owns the backing files of the simulated device. On startup it
// creates any that are missing — data file with CRC-sealed zero blocks,
// zeroed journal, fresh free list and inode table — and size-checks plus
// CRC-scans the ones that exist. The open data-file handle is shared
// with MemMan (page reads) and Journal (drain writes).
type SimDisk struct {
	fsys fs.FS
	log  logrus.FieldLogger

	dataName string
	jrnlName string
	freeName string
	nodeName string

	ds        fs.File
	errBlocks []BNum
}

// NewSimDisk prepares the four backing files and opens the data file
// read-write.
func NewSimDisk(fsys fs.FS, stt *status.Status, dataName, jrnlName, freeName, nodeName string, log logrus.FieldLogger) (*SimDisk, error) {
	d := &SimDisk{
		fsys:     fsys,
		log:      log.WithField("component", "simdisk"),
		dataName: dataName,
		jrnlName: jrnlName,
		freeName: freeName,
		nodeName: nodeName,
	}

	if err := stt.Write("Initializing"); err != nil {
		return nil, err
	}

	steps := []struct {
		name   string
		size   int64
		create func(fs.File) error
		scan   bool
	}{
		{dataName, BlockBytes * NumDiskBlocks, d.createDataFile, true},
		{jrnlName, BlockBytes * PagesPerJrnl, d.createJrnlFile, false},
		{freeName, freeListBytes, d.createFreeFile, false},
		{nodeName, inodeFileBytes, d.createNodeFile, false},
	}

	for _, step := range steps {
		err := d.readOrCreate(step.name, step.size, step.create, step.scan)
		if err != nil {
			return nil, err
		}
	}

	ds, err := fsys.OpenFile(dataName, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}

	d.ds = ds

	return d, nil
}

// readOrCreate size-checks an existing backing file or creates a fresh
// one.
func (d *SimDisk) readOrCreate(name string, size int64, create func(fs.File) error, scan bool) error {
	info, err := d.fsys.Stat(name)

	switch {
	case err == nil:
		if info.Size() != size {
			return fmt.Errorf("%w: %s is %d bytes, want %d", ErrBadSize, name, info.Size(), size)
		}

		if scan {
			return d.errScan(name)
		}

		return nil

	case os.IsNotExist(err):
		f, err := d.fsys.Create(name)
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}

		if err := create(f); err != nil {
			_ = f.Close()

			return fmt.Errorf("initialize %s: %w", name, err)
		}

		if err := f.Sync(); err != nil {
			_ = f.Close()

			return fmt.Errorf("sync %s: %w", name, err)
		}

		d.log.WithField("file", name).Info("created backing file")

		return f.Close()

	default:
		return fmt.Errorf("stat %s: %w", name, err)
	}
}

// errScan CRC-checks every block of an existing data file. Bad blocks
// are reported but not repaired.
func (d *SimDisk) errScan(name string) error {
	f, err := d.fsys.Open(name)
	if err != nil {
		return fmt.Errorf("open %s for scan: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, BlockBytes)
	for b := BNum(0); b < NumDiskBlocks; b++ {
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("scan %s block %d: %w", name, b, err)
		}

		// A sealed block checksums to zero over its full length.
		if blockcrc.Sum(buf) != 0 {
			d.errBlocks = append(d.errBlocks, b)
		}
	}

	for _, b := range d.errBlocks {
		d.log.WithField("block", b).Warn("found data error in block on startup")
	}

	return nil
}

func (d *SimDisk) createDataFile(f fs.File) error {
	blk := ZeroBlock()
	for b := 0; b < NumDiskBlocks; b++ {
		if _, err := f.Write(blk[:]); err != nil {
			return err
		}
	}

	return nil
}

func (d *SimDisk) createJrnlFile(f fs.File) error {
	zero := make([]byte, BlockBytes)
	for i := 0; i < PagesPerJrnl; i++ {
		if _, err := f.Write(zero); err != nil {
			return err
		}
	}

	return nil
}

func (d *SimDisk) createFreeFile(f fs.File) error {
	bmLen := NumFreeListBlocks * BitsPerPage / 8

	bitsFrom := make([]byte, bmLen)
	for i := range bitsFrom {
		bitsFrom[i] = 0xFF
	}

	if _, err := f.Write(bitsFrom); err != nil {
		return err
	}

	if _, err := f.Write(make([]byte, bmLen)); err != nil {
		return err
	}

	var posn [4]byte

	_, err := f.Write(posn[:])

	return err
}

func (d *SimDisk) createNodeFile(f fs.File) error {
	avail := make([]byte, inodeAvailBytes)
	for i := range avail {
		avail[i] = 0xFF
	}

	if _, err := f.Write(avail); err != nil {
		return err
	}

	rec := make([]byte, inodeRecBytes)
	for ix := 0; ix < totalInodes; ix++ {
		encodeInode(rec, newInode(INum(ix)))

		if _, err := f.Write(rec); err != nil {
			return err
		}
	}

	return nil
}

// DataFile returns the open read-write handle on the data file.
func (d *SimDisk) DataFile() fs.File {
	return d.ds
}

// DataFileName returns the data file's path.
func (d *SimDisk) DataFileName() string {
	return d.dataName
}

// ErrBlocks returns the blocks that failed the startup CRC scan.
func (d *SimDisk) ErrBlocks() []BNum {
	return d.errBlocks
}

// Close releases the data-file handle.
func (d *SimDisk) Close() error {
	if d.ds == nil {
		return nil
	}

	return d.ds.Close()
}

// ZeroBlock returns an all-zero page with a valid CRC trailer: the
// canonical image of an empty or wiped block.
func ZeroBlock() Page {
	var p Page

	blockcrc.SealPage(p[:])

	return p
}

// ReadBlock reads block b from the data file into pg.
func (d *SimDisk) ReadBlock(b BNum, pg *Page) error {
	if _, err := d.ds.Seek(int64(b)*BlockBytes, io.SeekStart); err != nil {
		return fmt.Errorf("seek block %d: %w", b, err)
	}

	if _, err := io.ReadFull(d.ds, pg[:]); err != nil {
		return fmt.Errorf("read block %d: %w", b, err)
	}

	return nil
}

// WriteBlock writes pg to block b of the data file.
func (d *SimDisk) WriteBlock(b BNum, pg *Page) error {
	if _, err := d.ds.Seek(int64(b)*BlockBytes, io.SeekStart); err != nil {
		return fmt.Errorf("seek block %d: %w", b, err)
	}

	if _, err := d.ds.Write(pg[:]); err != nil {
		return fmt.Errorf("write block %d: %w", b, err)
	}

	return nil
}

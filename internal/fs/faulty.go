package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Op names a filesystem operation for fault injection.
type Op string

// Operations that [Faulty] can be told to fail.
const (
	OpOpen      Op = "open"
	OpCreate    Op = "create"
	OpOpenFile  Op = "openfile"
	OpReadFile  Op = "readfile"
	OpWriteFile Op = "writefile"
	OpRename    Op = "rename"
	OpRead      Op = "read"
	OpWrite     Op = "write"
	OpSync      Op = "sync"
)

// Faulty wraps an [FS] and fails selected operations deterministically.
//
// Faults are keyed by (operation, file base name). Unlike a random
// chaos layer, the caller decides exactly which call fails, which keeps
// recovery tests reproducible.
type Faulty struct {
	inner FS

	mu     sync.Mutex
	faults map[string]error
}

// NewFaulty wraps inner with no faults armed.
func NewFaulty(inner FS) *Faulty {
	return &Faulty{inner: inner, faults: make(map[string]error)}
}

// FailWith arms op on the file with base name base to return err.
// The fault stays armed until [Faulty.Clear].
func (f *Faulty) FailWith(op Op, base string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.faults[string(op)+":"+base] = err
}

// Clear disarms every fault.
func (f *Faulty) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.faults = make(map[string]error)
}

func (f *Faulty) fault(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.faults[string(op)+":"+filepath.Base(path)]; ok {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}

	return nil
}

func (f *Faulty) Open(path string) (File, error) {
	if err := f.fault(OpOpen, path); err != nil {
		return nil, err
	}

	file, err := f.inner.Open(path)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, fs: f}, nil
}

func (f *Faulty) Create(path string) (File, error) {
	if err := f.fault(OpCreate, path); err != nil {
		return nil, err
	}

	file, err := f.inner.Create(path)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, fs: f}, nil
}

func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.fault(OpOpenFile, path); err != nil {
		return nil, err
	}

	file, err := f.inner.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, fs: f}, nil
}

func (f *Faulty) ReadFile(path string) ([]byte, error) {
	if err := f.fault(OpReadFile, path); err != nil {
		return nil, err
	}

	return f.inner.ReadFile(path)
}

func (f *Faulty) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := f.fault(OpWriteFile, path); err != nil {
		return err
	}

	return f.inner.WriteFile(path, data, perm)
}

func (f *Faulty) Stat(path string) (os.FileInfo, error) {
	return f.inner.Stat(path)
}

func (f *Faulty) Exists(path string) (bool, error) {
	return f.inner.Exists(path)
}

func (f *Faulty) Remove(path string) error {
	return f.inner.Remove(path)
}

func (f *Faulty) Rename(oldpath, newpath string) error {
	if err := f.fault(OpRename, newpath); err != nil {
		return err
	}

	return f.inner.Rename(oldpath, newpath)
}

// faultyFile routes per-handle operations back through the armed faults.
type faultyFile struct {
	File
	fs *Faulty
}

func (f *faultyFile) Read(p []byte) (int, error) {
	if err := f.fs.fault(OpRead, f.Name()); err != nil {
		return 0, err
	}

	return f.File.Read(p)
}

func (f *faultyFile) Write(p []byte) (int, error) {
	if err := f.fs.fault(OpWrite, f.Name()); err != nil {
		return 0, err
	}

	return f.File.Write(p)
}

func (f *faultyFile) Sync() error {
	if err := f.fs.fault(OpSync, f.Name()); err != nil {
		return err
	}

	return f.File.Sync()
}

// Compile-time interface checks.
var (
	_ FS   = (*Faulty)(nil)
	_ File = (*faultyFile)(nil)
)

package fs

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by AcquireLock when another process already
// holds the lock. Callers should use errors.Is(err, ErrWouldBlock).
var ErrWouldBlock = errors.New("lock would block")

// Lock is a held flock(2) on a dedicated lock file. The engine takes one
// per working directory so two processes cannot share a backing-file
// set.
type Lock struct {
	f *os.File
}

// AcquireLock takes an exclusive, non-blocking flock on path, creating
// the file if needed.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrWouldBlock, path)
		}

		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	return &Lock{f: f}, nil
}

// Release drops the lock. Idempotent.
func (l *Lock) Release() error {
	if l.f == nil {
		return nil
	}

	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil

	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}

	return closeErr
}

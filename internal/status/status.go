// Package status persists the engine's one-line progress marker and, at
// startup, inspects the previous run's marker to decide whether crash
// recovery must happen.
//
// The marker protocol: any status beginning with 'C' (for example "Change
// log written") means the previous run stopped between journaling a
// change log and draining it, so the journal must be replayed before
// normal operation.
package status

import (
	"bufio"
	"fmt"
	"strings"

	"jbd/internal/fs"
)

// Status writes the marker file with an atomic replace: the new line goes
// to a temporary sibling which is then renamed over the real file. A
// crash between the two steps leaves the temporary behind, which
// [CrashChk] knows to read.
type Status struct {
	fsys fs.FS
	path string
}

// New returns a Status persisting to path.
func New(fsys fs.FS, path string) *Status {
	return &Status{fsys: fsys, path: path}
}

// TmpPath returns the temporary sibling used during replacement: the
// marker path with its extension swapped for ".tmp".
func (s *Status) TmpPath() string {
	return tmpPath(s.path)
}

func tmpPath(path string) string {
	if i := strings.LastIndex(path, "."); i > 0 {
		return path[:i] + ".tmp"
	}

	return path + ".tmp"
}

// Read returns the first line of the marker file.
func (s *Status) Read() (string, error) {
	line, err := readFirstLine(s.fsys, s.path)
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}

	return line, nil
}

// Write replaces the marker with msg. An empty msg leaves the existing
// marker untouched.
func (s *Status) Write(msg string) error {
	if msg == "" {
		return nil
	}

	tmp := s.TmpPath()

	err := s.fsys.WriteFile(tmp, []byte(msg+"\n"), 0o644)
	if err != nil {
		return fmt.Errorf("write status tmp: %w", err)
	}

	err = s.fsys.Rename(tmp, s.path)
	if err != nil {
		return fmt.Errorf("replace status: %w", err)
	}

	return nil
}

func readFirstLine(fsys fs.FS, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text()), nil
	}

	return "", sc.Err()
}

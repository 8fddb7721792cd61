package status

import "jbd/internal/fs"

// CrashChk captures the previous run's final status marker.
//
// It prefers the real marker file; if only the temporary sibling exists
// (the previous run died mid-replace), that is read instead. A missing
// marker on both paths reads as an empty status, which counts as a clean
// start.
type CrashChk struct {
	lastStatus string
}

// NewCrashChk reads the marker left by the previous run that owned path.
func NewCrashChk(fsys fs.FS, path string) *CrashChk {
	c := &CrashChk{}

	line, err := readFirstLine(fsys, path)
	if err == nil {
		c.lastStatus = line

		return c
	}

	line, err = readFirstLine(fsys, tmpPath(path))
	if err == nil {
		c.lastStatus = line
	}

	return c
}

// LastStatus returns the recorded marker line, or "" when none was found.
func (c *CrashChk) LastStatus() string {
	return c.lastStatus
}

// CrashDetected reports whether the marker indicates an unclean shutdown.
func (c *CrashChk) CrashDetected() bool {
	return len(c.lastStatus) > 0 && c.lastStatus[0] == 'C'
}

package store

import (
	"fmt"
	"sort"
)

// SelectorBytes is the wire size of one selector.
const SelectorBytes = 8

// Selector encodes up to seven line indices in bytes 0..6; byte 7 is the
// permanent 0xFF terminator. A selector whose first seven bytes are all
// line indices is "full" and is followed by another selector; a selector
// with 0xFF anywhere in bytes 0..6 ends the record.
type Selector [SelectorBytes]byte

// selectorSlots is the number of usable index slots per selector.
const selectorSlots = SelectorBytes - 1

func newSelector() Selector {
	return Selector{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
}

// Full reports whether all seven index slots hold line numbers.
func (s Selector) Full() bool {
	for i := 0; i < selectorSlots; i++ {
		if s[i] == 0xFF {
			return false
		}
	}

	return true
}

// Indices returns the line numbers held in slots 0..6, in order.
func (s Selector) Indices() []LNum {
	out := make([]LNum, 0, selectorSlots)

	for i := 0; i < selectorSlots; i++ {
		if s[i] == 0xFF {
			break
		}

		out = append(out, s[i])
	}

	return out
}

// Change buffers line-level edits to a single block. A write Change
// starts with one all-0xFF selector; AddLine fills index slots and
// appends a fresh selector whenever the current one fills. A Change with
// no selectors is a read request.
type Change struct {
	BlockNum  BNum
	TimeStamp uint64
	Selectors []Selector
	NewData   []Line

	arrNext int
}

// NewChange returns a write Change for block b, primed with an empty
// selector.
func NewChange(b BNum) *Change {
	return &Change{
		BlockNum:  b,
		Selectors: []Selector{newSelector()},
	}
}

// NewReadChange returns a read request for block b: no selectors, no
// payload.
func NewReadChange(b BNum) *Change {
	return &Change{BlockNum: b}
}

// AddLine records that line lineNum now holds line.
func (c *Change) AddLine(lineNum LNum, line Line) error {
	if lineNum > LinesPerPage-1 {
		return fmt.Errorf("%w: %d", ErrLineRange, lineNum)
	}

	if len(c.Selectors) == 0 {
		c.Selectors = []Selector{newSelector()}
		c.arrNext = 0
	}

	c.Selectors[len(c.Selectors)-1][c.arrNext] = lineNum
	c.arrNext++

	if c.arrNext == selectorSlots {
		c.Selectors = append(c.Selectors, newSelector())
		c.arrNext = 0
	}

	c.NewData = append(c.NewData, line)

	return nil
}

// LinesAltered reports whether any line edit has been recorded.
func (c *Change) LinesAltered() bool {
	return len(c.Selectors) > 0 && c.Selectors[0][0] != 0xFF
}

// LineEdit pairs a line number with its replacement contents.
type LineEdit struct {
	Num  LNum
	Data Line
}

// Lines returns the recorded edits in application order.
func (c *Change) Lines() []LineEdit {
	out := make([]LineEdit, 0, len(c.NewData))

	next := 0
	for _, sel := range c.Selectors {
		for _, ln := range sel.Indices() {
			if next >= len(c.NewData) {
				return out
			}

			out = append(out, LineEdit{Num: ln, Data: c.NewData[next]})
			next++
		}
	}

	return out
}

// ApplyTo copies each recorded line into pg at its line offset. The CRC
// trailer is not touched; callers reseal the page afterwards.
func (c *Change) ApplyTo(pg *Page) {
	for _, e := range c.Lines() {
		copy(pg[int(e.Num)*BytesPerLine:(int(e.Num)+1)*BytesPerLine], e.Data[:])
	}
}

// ChangeLog accumulates Changes per block between journal appends. The
// line count is the append trigger and is reset when a change log is
// written to the journal; the per-block lists survive until the journal
// is purged, so newly cached pages can be patched up to the pending
// journal state.
type ChangeLog struct {
	log           map[BNum][]*Change
	lineCount     int
	lastWriteTime uint64
}

// NewChangeLog returns an empty log.
func NewChangeLog() *ChangeLog {
	return &ChangeLog{log: make(map[BNum][]*Change)}
}

// Add appends cg and grows the cumulative line count.
func (cl *ChangeLog) Add(cg *Change) {
	cl.lineCount += len(cg.NewData)
	cl.log[cg.BlockNum] = append(cl.log[cg.BlockNum], cg)
}

// IsInLog reports whether block b has pending changes.
func (cl *ChangeLog) IsInLog(b BNum) bool {
	_, ok := cl.log[b]

	return ok
}

// Blocks returns the block numbers with pending changes in ascending
// order.
func (cl *ChangeLog) Blocks() []BNum {
	out := make([]BNum, 0, len(cl.log))
	for b := range cl.log {
		out = append(out, b)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// ChangesFor returns the pending changes for block b in arrival order.
func (cl *ChangeLog) ChangesFor(b BNum) []*Change {
	return cl.log[b]
}

// LineCount returns the cumulative number of buffered lines since the
// last journal append.
func (cl *ChangeLog) LineCount() int {
	return cl.lineCount
}

// ResetLineCount zeroes the append trigger after a journal write.
func (cl *ChangeLog) ResetLineCount() {
	cl.lineCount = 0
}

// Len returns the number of blocks with pending changes.
func (cl *ChangeLog) Len() int {
	return len(cl.log)
}

// Clear drops all pending changes. Called when the journal has drained
// to the data file.
func (cl *ChangeLog) Clear() {
	cl.log = make(map[BNum][]*Change)
	cl.lineCount = 0
}

// LastWriteTime returns the time of the last journal append.
func (cl *ChangeLog) LastWriteTime() uint64 {
	return cl.lastWriteTime
}

// SetLastWriteTime records the time of a journal append.
func (cl *ChangeLog) SetLastWriteTime(t uint64) {
	cl.lastWriteTime = t
}

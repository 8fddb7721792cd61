// Package sim drives the storage engine with a randomized but
// reproducible client workload: a mix of file creation and deletion,
// block attach/detach, and line-level reads and writes, paced by random
// delays. In test mode the generator is fully deterministic.
package sim

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"jbd/internal/clock"
	"jbd/internal/store"
)

// Workload sizing. A short run issues ShortRun requests; a long run
// issues enough to wrap the journal file.
const (
	ShortRun  = 256
	RunFactor = 112

	readPct           = 60
	maxDelayUsec      = 850
	maxLinesPerChange = 15

	hiInode = store.NumInodeTblBlocks*store.InodesPerBlock - 1
)

// Client issues requests against a FileMan the way an application
// process would.
type Client struct {
	id  int
	fm  *store.FileMan
	clk clock.Clock
	rng *rand.Rand
	log logrus.FieldLogger

	testMode    bool
	numRequests int
}

// NewClient seeds a workload generator. In test mode the seed is used
// verbatim; otherwise it is ignored and the clock reading plus id seeds it.
func NewClient(id int, fm *store.FileMan, clk clock.Clock, seed int64, testMode, longRun bool, log logrus.FieldLogger) *Client {
	if !testMode {
		seed = int64(clk.NowMicro()) + int64(id)
	}

	n := ShortRun
	if longRun {
		n = RunFactor * store.PagesPerJrnl
	}

	return &Client{
		id:          id,
		fm:          fm,
		clk:         clk,
		rng:         rand.New(rand.NewSource(seed)),
		log:         log.WithField("component", "client"),
		testMode:    testMode,
		numRequests: n,
	}
}

// MakeRequests runs the full workload.
func (c *Client) MakeRequests() error {
	for i := 0; i < c.numRequests; i++ {
		c.rndDelay()

		var err error

		switch act := c.rng.Intn(100); {
		case act < 5:
			err = c.createOrDelete()
		case act < 6:
			err = c.deleteOrCreate()
		case act < 20:
			err = c.addRndBlock()
		case act < 23:
			err = c.remvRndBlock()
		default:
			err = c.makeRWRequest()
		}

		if err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
	}

	return nil
}

// createOrDelete prefers creating until the table is nearly full.
func (c *Client) createOrDelete() error {
	if c.fm.CountFiles() < hiInode {
		c.fm.CreateFile()

		return nil
	}

	_, err := c.fm.DeleteFile(c.id, store.INum(c.rng.Intn(hiInode+1)))

	return err
}

// deleteOrCreate prefers deleting an existing file.
func (c *Client) deleteOrCreate() error {
	tgt := c.rndFileNum()
	if tgt == store.SentinelINum {
		c.fm.CreateFile()

		return nil
	}

	_, err := c.fm.DeleteFile(c.id, tgt)

	return err
}

func (c *Client) addRndBlock() error {
	tgt := c.rndFileNum()
	if tgt == store.SentinelINum {
		tgt = c.fm.CreateFile()
	}

	if tgt == store.SentinelINum {
		return nil
	}

	_, err := c.fm.AddBlock(c.id, tgt)

	return err
}

func (c *Client) remvRndBlock() error {
	tgt := c.rndFileNum()
	if tgt == store.SentinelINum {
		return nil
	}

	b := c.rndBlkNum(tgt)
	if b == store.SentinelBNum {
		return nil
	}

	_, err := c.fm.RemvBlock(c.id, tgt, b)

	return err
}

// makeRWRequest reads or writes a random block of a random file.
func (c *Client) makeRWRequest() error {
	tgt := c.rndFileNum()
	if tgt == store.SentinelINum {
		return nil
	}

	b := c.rndBlkNum(tgt)
	if b == store.SentinelBNum {
		return nil
	}

	if c.rng.Intn(100) < readPct {
		return c.fm.SubmitRequest(c.id, tgt, store.NewReadChange(b))
	}

	cg := store.NewChange(b)
	if err := c.setUpChanges(cg); err != nil {
		return err
	}

	return c.fm.SubmitRequest(c.id, tgt, cg)
}

// setUpChanges fills a write with 1..15 random lines. In test mode the
// first line of every change names its block, which makes drained disk
// images self-describing.
func (c *Client) setUpChanges(cg *store.Change) error {
	numCgs := c.rng.Intn(maxLinesPerChange) + 1

	for i := 0; i < numCgs; i++ {
		var (
			linNum store.LNum
			s      string
		)

		switch {
		case c.testMode && i == 0:
			linNum = 0
			s = fmt.Sprintf("Block %d\n", cg.BlockNum)
		case c.testMode:
			linNum = store.LNum(c.rng.Intn(store.LinesPerPage-1) + 1)
			s = fmt.Sprintf("Line %d\n", linNum)
		default:
			linNum = store.LNum(c.rng.Intn(store.LinesPerPage))
			s = fmt.Sprintf("Line %d\n", linNum)
		}

		if err := cg.AddLine(linNum, lineCpy(s)); err != nil {
			return err
		}
	}

	return nil
}

// lineCpy lays out a text line: content, zero padding, and the text
// length in the final byte.
func lineCpy(s string) store.Line {
	var ln store.Line

	copy(ln[:store.BytesPerLine-1], s)
	ln[store.BytesPerLine-1] = byte(len(s))

	return ln
}

func (c *Client) rndFileNum() store.INum {
	if c.fm.CountFiles() == 0 {
		return store.SentinelINum
	}

	for {
		tgt := store.INum(c.rng.Intn(hiInode + 1))
		if c.fm.FileExists(tgt) {
			return tgt
		}
	}
}

func (c *Client) rndBlkNum(i store.INum) store.BNum {
	if c.fm.CountBlocks(i) == 0 {
		return store.SentinelBNum
	}

	valid := make([]store.BNum, 0, store.CtInodeBNums)
	for _, b := range c.fm.Inode(i).BNums {
		if b != store.SentinelBNum {
			valid = append(valid, b)
		}
	}

	if len(valid) == 0 {
		return store.SentinelBNum
	}

	return valid[c.rng.Intn(len(valid))]
}

// rndDelay paces requests. The deterministic clock advances one tick
// per reading, so test-mode delays burn clock ticks instead of wall
// time.
func (c *Client) rndDelay() {
	delay := uint64(c.rng.Intn(maxDelayUsec + 1))

	if c.testMode {
		end := c.clk.NowMicro() + delay
		for c.clk.NowMicro() < end {
		}

		return
	}

	time.Sleep(time.Duration(delay) * time.Microsecond)
}

// Package cli is the simulator's driver: it parses flags, loads the
// configuration, wires the engine components in dependency order, runs
// the client workload, and shuts the engine down cleanly.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"jbd/internal/clock"
	"jbd/internal/config"
	"jbd/internal/fs"
	"jbd/internal/sim"
	"jbd/internal/status"
	"jbd/internal/store"
)

// options collects the parsed command line.
type options struct {
	verbose bool
	test    bool
	longRun bool
	seed    int64
}

// Run is the main entry point. Returns the process exit code.
// sigCh can be nil if signal handling is not needed (e.g., in tests).
func Run(_ io.Reader, out, errOut io.Writer, args []string, _ map[string]string, sigCh <-chan os.Signal) int {
	flags := flag.NewFlagSet("jbd", flag.ContinueOnError)
	flags.SetOutput(&strings.Builder{}) // discard pflag output
	flags.Usage = func() {}

	flagVerbose := flags.BoolP("verbose", "v", false, "Send extra debugging information to stdout")
	flagTest := flags.BoolP("test", "t", false, "Deterministic run: fixed seed and counter clock")
	flagSeed := flags.Int64P("seed", "s", config.DefaultSeed, "Seed the random number generator with `N` (test mode only)")
	flagLong := flags.BoolP("long", "l", false, "Run long enough to wrap the journal file")
	flagLongAlias := flags.BoolP("Long", "L", false, "Alias for --long")
	flagHelp := flags.BoolP("help", "h", false, "Print this help and exit")

	_ = flags.MarkHidden("Long")

	if err := flags.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printHelp(out, flags)

			return 0
		}

		fprintln(errOut, "ERROR: Bad command line argument:", err)
		printHelp(errOut, flags)

		return 1
	}

	if *flagHelp {
		printHelp(out, flags)

		return 0
	}

	cfg, err := config.Load(config.DefaultFileName)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	if flags.Changed("seed") {
		cfg.Seed = *flagSeed
	}

	opts := options{
		verbose: *flagVerbose,
		test:    *flagTest,
		longRun: *flagLong || *flagLongAlias,
		seed:    cfg.Seed,
	}

	logFile, err := os.Create(cfg.OutputFile)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	defer func() { _ = logFile.Close() }()

	writeHeader(logFile, "OUTPUT", args)
	writeHeader(errOut, "ERROR OUTPUT", args)

	log := newLogger(logFile, out, opts.verbose)

	// Run the engine in a goroutine so a signal can cut it down
	// mid-flight; the next start then exercises crash recovery.
	done := make(chan int, 1)

	go func() {
		if err := runEngine(cfg, opts, log); err != nil {
			log.WithError(err).Error("run failed")
			fprintln(errOut, "error:", err)
			done <- 1

			return
		}

		done <- 0
	}()

	select {
	case code := <-done:
		return code
	case <-sigCh:
		fprintln(errOut, "interrupted")

		return 130
	}
}

func newLogger(logFile io.Writer, out io.Writer, verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})

	if verbose {
		log.SetOutput(io.MultiWriter(logFile, out))
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetOutput(logFile)
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func writeHeader(w io.Writer, tag string, args []string) {
	_, _ = fmt.Fprintf(w, "%s: %s: %s\n", tag, strings.Join(args, " "), time.Now().Format(time.RFC3339))
}

// runEngine wires and drives the whole system: crash check, status,
// backing files, journal (recovering if needed), cache, namespace, and
// finally the client workload.
func runEngine(cfg config.Config, opts options, log *logrus.Logger) error {
	lock, err := fs.AcquireLock("jbd.lock")
	if err != nil {
		return err
	}

	defer func() { _ = lock.Release() }()

	fsys := fs.NewReal()

	var clk clock.Clock
	if opts.test {
		clk = clock.NewMock()
	} else {
		clk = clock.NewWall()
	}

	cck := status.NewCrashChk(fsys, cfg.StatusFile)
	stt := status.New(fsys, cfg.StatusFile)

	disk, err := store.NewSimDisk(fsys, stt, cfg.DiskFile, cfg.JrnlFile, cfg.FreeFile, cfg.NodeFile, log)
	if err != nil {
		return err
	}

	defer func() { _ = disk.Close() }()

	cgLog := store.NewChangeLog()

	jrnl, err := store.NewJournal(fsys, cfg.JrnlFile, disk, cgLog, stt, cck, clk, log)
	if err != nil {
		return err
	}

	defer func() { _ = jrnl.Close() }()

	mm, err := store.NewMemMan(store.NewMemory(), disk, jrnl, cgLog, stt, clk, log, opts.verbose)
	if err != nil {
		return err
	}

	freeList, err := store.NewFreeList(fsys, cfg.FreeFile, log)
	if err != nil {
		return err
	}

	inodes, err := store.NewInodeTable(fsys, cfg.NodeFile, clk, log)
	if err != nil {
		return err
	}

	fm := store.NewFileMan(inodes, freeList, mm, clk, log)

	client := sim.NewClient(1, fm, clk, opts.seed, opts.test, opts.longRun, log)

	if err := client.MakeRequests(); err != nil {
		return err
	}

	if err := mm.Close(); err != nil {
		return err
	}

	if err := fm.StoreInodes(); err != nil {
		return err
	}

	return fm.StoreFreeList()
}

func printHelp(w io.Writer, flags *flag.FlagSet) {
	fprintln(w, "jbd: journaled block-storage simulator")
	fprintln(w)
	fprintln(w, "Usage: jbd [flags]")
	fprintln(w)
	fprintln(w, "Flags:")

	var buf strings.Builder

	flags.SetOutput(&buf)
	flags.PrintDefaults()

	_, _ = fmt.Fprint(w, buf.String())
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

// Command gcstat is a small diagnostic CLI (§6.5) wired against an
// in-process gcheap instance: it initializes one with a demo VM, runs
// the requested operation, and prints the §6.1 query surface's answer.
// Grounded on cmd/cli/commands' urfave/cli command-table style.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"

	"github.com/tracinggc/gcheap"
	"github.com/tracinggc/gcheap/bgc"
	"github.com/tracinggc/gcheap/collector"
	"github.com/tracinggc/gcheap/heap"
)

var (
	genFlag = cli.IntFlag{Name: "gen", Value: 2, Usage: "generation to collect: 0, 1, or 2"}
	modeFlag = cli.StringFlag{Name: "mode", Value: "blocking", Usage: "blocking | concurrent | compacting"}
	lowMemFlag = cli.BoolFlag{Name: "low-mem", Usage: "treat the induced collection as a low-memory trigger"}
	zstdFlag = cli.BoolFlag{Name: "zstd", Usage: "compress the dump with zstd"}
	nFlag = cli.IntFlag{Name: "n", Value: 10, Usage: "number of failure-history records to dump"}
)

func main() {
	app := cli.NewApp()
	app.Name = "gcstat"
	app.Usage = "inspect and drive a gcheap instance"
	app.Commands = []cli.Command{
		{
			Name:   "stats",
			Usage:  "print get_total_bytes_in_use, get_gc_count, and per-generation sizes",
			Action: statsHandler,
		},
		{
			Name:   "collect",
			Usage:  "induce a collection and render its progress",
			Flags:  []cli.Flag{genFlag, modeFlag, lowMemFlag},
			Action: collectHandler,
		},
		{
			Name:   "watch",
			Usage:  "poll bgc.State and print the state sequence of one background collection",
			Action: watchHandler,
		},
		{
			Name:   "dump",
			Usage:  "serialize the failure history via msgp, optionally zstd-compressed",
			Flags:  []cli.Flag{zstdFlag, nFlag},
			Action: dumpHandler,
		},
		{
			Name:   "stress-dumps",
			Usage:  "list per-segment StressHeap dumps written under Config.StressHeapDumpDir",
			Action: stressDumpsHandler,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func statsHandler(c *cli.Context) error {
	g, err := demoInstance()
	if err != nil {
		return err
	}
	snap := g.Snapshot()
	fmt.Fprintf(c.App.Writer, "total_bytes_in_use: %d\n", snap.TotalBytesInUse)
	fmt.Fprintf(c.App.Writer, "gc_count:           %d\n", snap.GCCount)
	for gen, gs := range snap.Gens {
		fmt.Fprintf(c.App.Writer, "gen%d: bytes_in_use=%d last_gc_start=%d last_gc_duration_ns=%d\n",
			gen, gs.BytesInUse, gs.LastGCStart, gs.LastGCDurNano)
	}
	return nil
}

func parseMode(s string) (collector.Mode, error) {
	switch s {
	case "blocking":
		return collector.ModeBlocking, nil
	case "concurrent":
		return collector.ModeOptimized, nil
	case "compacting":
		return collector.ModeCompacting, nil
	case "nonblocking":
		return collector.ModeNonBlocking, nil
	default:
		return 0, fmt.Errorf("unknown --mode %q", s)
	}
}

func collectHandler(c *cli.Context) error {
	g, err := demoInstance()
	if err != nil {
		return err
	}
	gen := heap.GenKind(c.Int(genFlag.Name))
	mode, err := parseMode(c.String(modeFlag.Name))
	if err != nil {
		return err
	}

	if gen == heap.Gen2 && mode != collector.ModeBlocking {
		done := make(chan collector.Stats, 1)
		go func() { done <- g.Collect(gen, c.Bool(lowMemFlag.Name), mode) }()
		renderPhaseBar(c, g, done)
		return nil
	}

	s := g.Collect(gen, c.Bool(lowMemFlag.Name), mode)
	fmt.Fprintf(c.App.Writer, "gen%d collection complete: surveyed=%d reclaimed=%d promoted=%d duration_ns=%d\n",
		s.Gen, s.BytesSurveyed, s.BytesReclaimed, s.Promoted, s.DurationNano)
	return nil
}

func watchHandler(c *cli.Context) error {
	g, err := demoInstance()
	if err != nil {
		return err
	}
	done := make(chan collector.Stats, 1)
	go func() { done <- g.Collect(heap.Gen2, false, collector.ModeOptimized) }()
	renderPhaseBar(c, g, done)
	return nil
}

func dumpHandler(c *cli.Context) error {
	g, err := demoInstance()
	if err != nil {
		return err
	}
	records, err := g.FailureHistory(c.Int(nFlag.Name))
	if err != nil {
		return err
	}
	path := c.Args().First()
	if path == "" {
		path = "gcstat-dump.bin"
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dump := gcheap.DumpFromSnapshot(g.Snapshot(), records)
	if err := gcheap.WriteDump(f, dump, c.Bool(zstdFlag.Name)); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s (zstd=%v, %d failure records)\n", path, c.Bool(zstdFlag.Name), len(records))
	return nil
}

func stressDumpsHandler(c *cli.Context) error {
	g, err := demoInstance()
	if err != nil {
		return err
	}
	names, err := g.ListStressDumps()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(c.App.Writer, "no stress dumps (StressHeap disabled or nothing dumped yet)")
		return nil
	}
	for _, n := range names {
		fmt.Fprintln(c.App.Writer, n)
	}
	return nil
}

// renderPhaseBar polls the background collector's state machine until
// done fires, advancing an mpb bar one tick per phase transition
// observed (§6.5's "renders an mpb progress bar driven by
// phase-transition events").
func renderPhaseBar(c *cli.Context, g *gcheap.GC, done <-chan collector.Stats) {
	progress := mpb.New(mpb.WithOutput(c.App.Writer))
	text := "bgc phase: "
	bar := progress.AddBar(int64(bgc.TotalStates),
		mpb.PrependDecorators(
			decor.Name(text, decor.WC{W: len(text) + 2, C: decor.DSyncWidthR}),
			decor.Any(func(st *decor.Statistics) string { return g.BGCState().String() }, decor.WCSyncWidth),
		),
		mpb.AppendDecorators(decor.Percentage(decor.WCSyncWidth)),
	)

	last := g.BGCState()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case s := <-done:
			bar.SetTotal(int64(bgc.TotalStates), true)
			progress.Wait()
			fmt.Fprintf(c.App.Writer, "done: surveyed=%d reclaimed=%d\n", s.BytesSurveyed, s.BytesReclaimed)
			return
		case <-ticker.C:
			if cur := g.BGCState(); cur != last {
				bar.IncrBy(1)
				last = cur
			}
		}
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/five-vee/simtsync"
	"github.com/five-vee/simtsync/internal/stats"
)

type deviceFlags struct {
	groups    int
	residency int
	lanes     int
	timeout   time.Duration
}

func (f *deviceFlags) register(fs *flag.FlagSet, groups int) {
	fs.IntVar(&f.groups, "groups", groups, "number of groups to launch")
	fs.IntVar(&f.residency, "residency", runtime.GOMAXPROCS(0), "groups resident at once")
	fs.IntVar(&f.lanes, "lanes", 4, "lanes per group")
	fs.DurationVar(&f.timeout, "timeout", 30*time.Second, "dispatch timeout")
}

func (f *deviceFlags) build(logger *log.Logger) (*simtsync.Device, error) {
	return simtsync.NewDeviceBuilder().
		WithResidency(f.residency).
		WithLanes(f.lanes).
		WithTimeout(f.timeout).
		WithLogger(logger).
		Build()
}

func newPrinter() *message.Printer {
	return message.NewPrinter(language.English)
}

// perSecond formats n operations over d, e.g. "1.23 M/s".
func perSecond(n uint64, d time.Duration) string {
	if d <= 0 {
		return "n/a"
	}
	return humanize.SIWithDigits(float64(n)/d.Seconds(), 2, "/s")
}

func lockCommand(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	var df deviceFlags
	df.register(fs, 1024)
	iterations := fs.Int("iterations", 256, "lock acquisitions per group")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := df.build(logger)
	if err != nil {
		return err
	}
	r, err := simtsync.RunLockTest(context.Background(), d, df.groups, *iterations)
	if err != nil {
		return err
	}
	spins := stats.Uint32s(r.Histogram)
	p := newPrinter()
	p.Printf("Groups               : %d\n", r.Groups)
	p.Printf("Iterations           : %d\n", r.Iterations)
	p.Printf("Guarded counter      : %d\n", r.Counter)
	p.Printf("Peak resident        : %d\n", r.Stats.PeakResident)
	p.Printf("Duration (ms)        : %d\n", r.Stats.Elapsed.Milliseconds())
	fmt.Printf("Acquisitions         : %s (%s)\n",
		humanize.Comma(int64(r.Counter)), perSecond(uint64(r.Counter), r.Stats.Elapsed))
	printSpread(p, "Spins per group", spins)
	p.Printf("Spins mean / CV      : %.1f / %.3f\n", stats.Mean(spins), stats.CoefficientOfVariation(spins))
	return verdict(r.Verify())
}

func occupancyCommand(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("occupancy", flag.ContinueOnError)
	var df deviceFlags
	df.register(fs, 1024)
	trials := fs.Int("trials", 256, "number of probes")
	threshold := fs.Float64("threshold", 0.05, "largest acceptable coefficient of variation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := df.build(logger)
	if err != nil {
		return err
	}
	s, err := simtsync.RunOccupancyTrials(context.Background(), d, df.groups, *trials)
	if err != nil {
		return verdict(err)
	}
	p := newPrinter()
	p.Printf("Groups               : %d\n", s.Groups)
	p.Printf("Residency            : %d\n", d.Residency())
	p.Printf("Trials               : %d\n", len(s.Bounds))
	p.Printf("Mean bound           : %.2f\n", s.Mean)
	p.Printf("Bound CV             : %.4f\n", s.CV)
	if !s.Stable(*threshold) {
		return verdict(fmt.Errorf("bound CV %.4f above threshold %.4f", s.CV, *threshold))
	}
	return verdict(nil)
}

func barrierCommand(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("barrier", flag.ContinueOnError)
	var df deviceFlags
	df.register(fs, 64)
	iterations := fs.Int("iterations", 256, "barrier episodes")
	bound := fs.Int("bound", 0, "groups that take part; 0 discovers them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := df.build(logger)
	if err != nil {
		return err
	}
	r, err := simtsync.RunBarrierTest(context.Background(), d, df.groups, *iterations, *bound)
	if err != nil {
		return err
	}
	source := "supplied"
	if r.Discovered {
		source = "discovered"
	}
	p := newPrinter()
	p.Printf("Groups               : %d\n", r.Groups)
	p.Printf("Episodes             : %d\n", r.Iterations)
	p.Printf("Participants (%s): %d\n", source, r.Participants)
	p.Printf("Arrivals             : %d\n", r.Arrivals)
	p.Printf("Duration (ms)        : %d\n", r.Stats.Elapsed.Milliseconds())
	fmt.Printf("Episode rate         : %s\n",
		perSecond(uint64(r.Iterations), r.Stats.Elapsed))
	return verdict(r.Verify())
}

func printSpread(p *message.Printer, label string, xs []float64) {
	if len(xs) == 0 {
		return
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs {
		lo, hi = min(lo, x), max(hi, x)
	}
	p.Printf("%-21s: min %.0f, max %.0f\n", label, lo, hi)
}

func verdict(err error) error {
	if err != nil {
		fmt.Fprintln(os.Stdout, "Result               : FAIL")
		return err
	}
	fmt.Fprintln(os.Stdout, "Result               : PASS")
	return nil
}

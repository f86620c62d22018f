package main

import (
	"errors"
	"flag"
	"io"
	"log"
	"testing"
	"time"
)

func TestPerSecond(t *testing.T) {
	testCases := []struct {
		n    uint64
		d    time.Duration
		want string
	}{
		{n: 1500, d: time.Second, want: "1.5 k/s"},
		{n: 5_000_000, d: 2 * time.Second, want: "2.5 M/s"},
		{n: 10, d: 0, want: "n/a"},
	}
	for _, tc := range testCases {
		if got := perSecond(tc.n, tc.d); got != tc.want {
			t.Errorf("perSecond(%d, %v) = %q, want %q", tc.n, tc.d, got, tc.want)
		}
	}
}

func TestDeviceFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var df deviceFlags
	df.register(fs, 64)
	if err := fs.Parse([]string{"-residency", "3", "-lanes", "2", "-timeout", "1s"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if df.groups != 64 {
		t.Errorf("groups = %d, want default 64", df.groups)
	}
	d, err := df.build(nil)
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	if d.Residency() != 3 || d.Lanes() != 2 {
		t.Errorf("device = (%d, %d), want (3, 2)", d.Residency(), d.Lanes())
	}
	df.lanes = 0
	if _, err := df.build(nil); err == nil {
		t.Errorf("build() with zero lanes error = nil, want non-nil")
	}
}

func TestCommands_FlagErrors(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	commands := map[string]func(*log.Logger, []string) error{
		"lock":      lockCommand,
		"occupancy": occupancyCommand,
		"barrier":   barrierCommand,
	}
	for name, run := range commands {
		t.Run(name, func(t *testing.T) {
			if err := run(logger, []string{"-groups", "many"}); err == nil {
				t.Errorf("%s -groups many: error = nil, want non-nil", name)
			}
			if err := run(logger, []string{"-unknown"}); err == nil {
				t.Errorf("%s -unknown: error = nil, want non-nil", name)
			}
			if err := run(logger, []string{"-h"}); !errors.Is(err, flag.ErrHelp) {
				t.Errorf("%s -h: error = %v, want %v", name, err, flag.ErrHelp)
			}
		})
	}
}

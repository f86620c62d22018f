// Package main implements the simtsync benchmark driver.
//
// Each subcommand dispatches one kernel on a simulated SIMT device, checks
// the read-back buffers against their closed-form expectations and prints
// a short report.
//
// Usage:
//
//	simtsync lock -groups 1024 -iterations 256
//	simtsync occupancy -groups 1024 -trials 256
//	simtsync barrier -groups 64 -iterations 256
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	logger := log.New(os.Stderr, "simtsync: ", 0)

	var err error
	switch command := os.Args[1]; command {
	case "lock":
		err = lockCommand(logger, os.Args[2:])
	case "occupancy":
		err = occupancyCommand(logger, os.Args[2:])
	case "barrier":
		err = barrierCommand(logger, os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("simtsync version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Fatalf("Error: %v", err)
	}
}

func printUsage() {
	fmt.Print(`simtsync - synchronization primitives on a simulated SIMT device

USAGE:
    simtsync <command> [flags]

COMMANDS:
    lock       Ticket lock: every group takes the lock -iterations times
    occupancy  Discover how many groups are co-resident, -trials times
    barrier    Global barrier: -iterations episodes among resident groups
    version    Show version information
    help       Show this help message

COMMON FLAGS:
    -groups     Number of groups to launch
    -residency  Groups resident at once (default GOMAXPROCS)
    -lanes      Lanes per group
    -timeout    Dispatch timeout before a hang is reported

Run 'simtsync <command> -h' for the flags of a command.
`)
}

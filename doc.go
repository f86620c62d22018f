// Package simtsync implements and benchmarks cross-group synchronization
// primitives for SIMT-style devices.
//
// On such devices many groups are launched but only some are resident at a
// time, and a resident group is never preempted in favor of a pending one.
// A group that spins on a write only a pending group can make hangs the
// dispatch. The primitives here avoid that: a FIFO ticket lock, an occupancy
// probe that discovers how many groups are really co-resident, and a global
// barrier that only waits for the groups the probe admitted.
//
// Go has no such device, so Device simulates one: groups are goroutines
// admitted in order through a fixed number of residency slots, and all shared
// state lives in flat arrays of 32-bit atomic words.
package simtsync

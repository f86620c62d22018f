package simtsync

import (
	"fmt"
	"sync/atomic"

	"github.com/five-vee/simtsync/internal/barrier"
)

var (
	// ErrBound is the error corresponding to a barrier bound that is not
	// positive or exceeds the available flags or groups.
	ErrBound = fmt.Errorf("invalid barrier bound")

	// ErrSlotOutOfRange is the error corresponding to a barrier slot
	// outside [0, bound).
	ErrSlotOutOfRange = fmt.Errorf("barrier slot out of range")
)

// GlobalBarrier is a reusable rendezvous for a fixed set of bound groups.
//
// Group s arriving at episode e stores e+1 in flags[s] and spins until every
// one of the first bound flags is at least e+1. The episode number plays the
// role of an alternating sense, so flags are never cleared between episodes.
// Flags must be zero, and episodes numbered from zero, for each dispatch.
//
// bound must not exceed the number of co-resident groups, or the barrier
// hangs waiting on a group that never runs.
type GlobalBarrier struct {
	arrivals *atomic.Uint32
	flags    *Buffer
	all      barrier.MinimumBarrier
}

// NewGlobalBarrier returns a barrier for bound groups.
// arrivals counts every arrival over the life of the dispatch.
func NewGlobalBarrier(arrivals *atomic.Uint32, flags *Buffer, bound int) (GlobalBarrier, error) {
	if bound <= 0 || bound > flags.Len() {
		return GlobalBarrier{}, fmt.Errorf("%w: %d with %d flags", ErrBound, bound, flags.Len())
	}
	all := make(barrier.MinimumBarrier, bound)
	for i := range all {
		all[i] = flags.Word(i)
	}
	return GlobalBarrier{arrivals: arrivals, flags: flags, all: all}, nil
}

// Bound returns the number of groups the barrier waits for.
func (b GlobalBarrier) Bound() int {
	return len(b.all)
}

// Arrival describes one pass of a group through the barrier.
type Arrival struct {
	// Rank is the arrival's position among every arrival of the dispatch.
	Rank uint32
	// Lowest is the lowest bound flag seen on the way out.
	Lowest uint32
	Spins  int
}

// Within reports whether a is consistent with a full rendezvous of bound
// groups at episode: the episode's arrivals take ranks
// [episode*bound, (episode+1)*bound), and nobody is seen behind it on exit.
func (a Arrival) Within(episode uint32, bound int) bool {
	lo := uint64(episode) * uint64(bound)
	return uint64(a.Rank) >= lo && uint64(a.Rank) < lo+uint64(bound) && a.Lowest > episode
}

// Await marks slot as arrived at episode and spins until every bound slot
// has arrived there too.
func (b GlobalBarrier) Await(w Waiter, slot int, episode uint32) (Arrival, error) {
	if slot < 0 || slot >= len(b.all) {
		return Arrival{}, fmt.Errorf("%w: %d not in [0, %d)", ErrSlotOutOfRange, slot, len(b.all))
	}
	target := episode + 1
	a := Arrival{Rank: b.arrivals.Add(1) - 1}
	b.flags.Store(slot, target)
	for !b.all.Reached(target) {
		a.Spins++
		if err := w.Wait(a.Spins); err != nil {
			return a, err
		}
	}
	a.Lowest = b.all.Load()
	return a, nil
}

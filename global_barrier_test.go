package simtsync

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestNewGlobalBarrier(t *testing.T) {
	testCases := []struct {
		name    string
		flags   int
		bound   int
		wantErr error
	}{
		{name: "valid", flags: 4, bound: 4},
		{name: "bound below flags", flags: 4, bound: 2},
		{name: "zero bound", flags: 4, bound: 0, wantErr: ErrBound},
		{name: "negative bound", flags: 4, bound: -1, wantErr: ErrBound},
		{name: "bound above flags", flags: 4, bound: 5, wantErr: ErrBound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var arrivals atomic.Uint32
			gb, err := NewGlobalBarrier(&arrivals, NewBuffer(tc.flags), tc.bound)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("NewGlobalBarrier(%d) error = %v, want %v", tc.bound, err, tc.wantErr)
			}
			if err == nil && gb.Bound() != tc.bound {
				t.Errorf("Bound() = %d, want %d", gb.Bound(), tc.bound)
			}
		})
	}
}

func TestGlobalBarrier_SlotOutOfRange(t *testing.T) {
	var arrivals atomic.Uint32
	gb, err := NewGlobalBarrier(&arrivals, NewBuffer(4), 2)
	if err != nil {
		t.Fatalf("NewGlobalBarrier() error = %v", err)
	}
	for _, slot := range []int{-1, 2, 3} {
		if _, err := gb.Await(gosched, slot, 0); !errors.Is(err, ErrSlotOutOfRange) {
			t.Errorf("Await(slot %d) error = %v, want %v", slot, err, ErrSlotOutOfRange)
		}
	}
	if got := arrivals.Load(); got != 0 {
		t.Errorf("arrivals = %d after rejected Await, want 0", got)
	}
}

func TestGlobalBarrier_WaitsForEveryBoundSlot(t *testing.T) {
	var arrivals atomic.Uint32
	gb, err := NewGlobalBarrier(&arrivals, NewBuffer(2), 2)
	if err != nil {
		t.Fatalf("NewGlobalBarrier() error = %v", err)
	}
	spins := 0
	abortAfter := WaiterFunc(func(n int) error {
		spins = n
		if n == 10 {
			return ErrAborted
		}
		return nil
	})
	if _, err := gb.Await(abortAfter, 0, 0); !errors.Is(err, ErrAborted) {
		t.Fatalf("Await() alone error = %v, want %v", err, ErrAborted)
	}
	if spins != 10 {
		t.Errorf("Await() spun %d times, want 10", spins)
	}
}

// No group leaves an episode before every bound group has entered it.
func TestGlobalBarrier_SmokeTest(t *testing.T) {
	const (
		groups   = 8
		episodes = 200
	)
	var arrivals atomic.Uint32
	flags := NewBuffer(groups)
	gb, err := NewGlobalBarrier(&arrivals, flags, groups)
	if err != nil {
		t.Fatalf("NewGlobalBarrier() error = %v", err)
	}
	var entered [episodes]atomic.Int32
	var wg sync.WaitGroup
	for slot := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range uint32(episodes) {
				entered[e].Add(1)
				a, err := gb.Await(gosched, slot, e)
				if err != nil {
					t.Errorf("Await() error = %v", err)
					return
				}
				if !a.Within(e, groups) {
					t.Errorf("slot %d episode %d arrival %+v outside the episode", slot, e, a)
				}
				if got := entered[e].Load(); got != groups {
					t.Errorf("slot %d left episode %d with %d entered, want %d", slot, e, got, groups)
					return
				}
			}
		}()
	}
	wg.Wait()
	if got := arrivals.Load(); got != groups*episodes {
		t.Errorf("arrivals = %d, want %d", got, groups*episodes)
	}
	for slot, f := range flags.Snapshot() {
		if f != episodes {
			t.Errorf("flags[%d] = %d, want %d", slot, f, episodes)
		}
	}
}

func TestArrival_Within(t *testing.T) {
	testCases := []struct {
		name    string
		arrival Arrival
		episode uint32
		bound   int
		want    bool
	}{
		{name: "first of first episode", arrival: Arrival{Rank: 0, Lowest: 1}, episode: 0, bound: 4, want: true},
		{name: "last of third episode", arrival: Arrival{Rank: 11, Lowest: 3}, episode: 2, bound: 4, want: true},
		{name: "others already ahead", arrival: Arrival{Rank: 9, Lowest: 4}, episode: 2, bound: 4, want: true},
		{name: "ranked in earlier episode", arrival: Arrival{Rank: 7, Lowest: 3}, episode: 2, bound: 4, want: false},
		{name: "ranked in later episode", arrival: Arrival{Rank: 12, Lowest: 3}, episode: 2, bound: 4, want: false},
		{name: "left with a laggard", arrival: Arrival{Rank: 9, Lowest: 2}, episode: 2, bound: 4, want: false},
		{name: "single group", arrival: Arrival{Rank: 5, Lowest: 6}, episode: 5, bound: 1, want: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.arrival.Within(tc.episode, tc.bound); got != tc.want {
				t.Errorf("%+v.Within(%d, %d) = %v, want %v", tc.arrival, tc.episode, tc.bound, got, tc.want)
			}
		})
	}
}

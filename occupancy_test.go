package simtsync

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type probeState struct {
	next, serving, poll, count atomic.Uint32
	log                        *Buffer
}

func newProbe(groups int) (*probeState, OccupancyProbe) {
	s := &probeState{log: NewBuffer(groups)}
	lock := NewTicketLock(&s.next, &s.serving)
	return s, NewOccupancyProbe(lock, &s.poll, &s.count, s.log)
}

func TestOccupancyProbe_SingleGroup(t *testing.T) {
	s, probe := newProbe(2)
	slot, ok, err := probe.Register(gosched, 1)
	if err != nil || !ok || slot != 0 {
		t.Fatalf("Register() = (%d, %v, %v), want (0, true, nil)", slot, ok, err)
	}
	if probe.IsOpen() {
		t.Errorf("IsOpen() after first registrant returned = true, want false")
	}
	if got := s.next.Load(); got != 1+QuietRounds {
		t.Errorf("nextTicket = %d, want %d", got, 1+QuietRounds)
	}
	// A later group finds the poll closed.
	slot, ok, err = probe.Register(gosched, 0)
	if err != nil || ok {
		t.Fatalf("Register() after close = (%d, %v, %v), want (_, false, nil)", slot, ok, err)
	}
	if got := probe.Bound(); got != 1 {
		t.Errorf("Bound() = %d, want 1", got)
	}
}

// Every group queued on the lock while the poll is open is registered.
func TestOccupancyProbe_AdmitsQueuedGroups(t *testing.T) {
	const groups = 12
	s, probe := newProbe(groups)

	// Hold the lock so every group queues behind it.
	hold := NewTicketLock(&s.next, &s.serving)
	if _, _, err := hold.Acquire(gosched); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	var wg sync.WaitGroup
	for id := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := probe.Register(gosched, id); err != nil || !ok {
				t.Errorf("Register(%d) = (_, %v, %v), want (_, true, nil)", id, ok, err)
			}
		}()
	}
	for s.next.Load() != groups+1 {
		gosched(0)
	}
	hold.Release()
	wg.Wait()

	if got := probe.Bound(); got != groups {
		t.Fatalf("Bound() = %d, want %d", got, groups)
	}
	got := s.log.Snapshot()
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	want := make([]uint32, groups)
	for i := range want {
		want[i] = uint32(i)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("slot log is not a permutation of group ids (-want +got):\n%s", diff)
	}
	if next, serving := s.next.Load(), s.serving.Load(); next != serving {
		t.Errorf("nowServing = %d, want every drawn ticket %d served", serving, next)
	}
}

func TestOccupancyKernel_BoundNeverExceedsResidency(t *testing.T) {
	testCases := []struct {
		name      string
		residency int
		groups    int
	}{
		{name: "one resident", residency: 1, groups: 16},
		{name: "two resident", residency: 2, groups: 32},
		{name: "more resident than launched", residency: 64, groups: 8},
		{name: "many groups", residency: 8, groups: 512},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewDeviceBuilder().WithResidency(tc.residency).WithLanes(2).Build()
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			for range 10 {
				r, err := RunOccupancyTest(context.Background(), d, tc.groups)
				if err != nil {
					t.Fatalf("RunOccupancyTest() error = %v", err)
				}
				if err := r.Verify(); err != nil {
					t.Fatalf("Verify() error = %v", err)
				}
				if int(r.Bound) > tc.residency {
					t.Fatalf("Bound = %d, want <= residency %d", r.Bound, tc.residency)
				}
				if tc.residency == 1 && r.Bound != 1 {
					t.Fatalf("Bound = %d with one resident group, want 1", r.Bound)
				}
			}
		})
	}
}

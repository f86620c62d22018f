package simtsync

import "math"

// Binding indices of TicketLockKernel.
const (
	LockCounter = iota
	LockNextTicket
	LockNowServing
	LockIterations
	LockHistogram
)

// Binding indices of OccupancyKernel.
const (
	ProbeSlotCount = iota
	ProbePollOpen
	ProbeSlotLog
	ProbeNextTicket
	ProbeNowServing
)

// Binding indices of BarrierKernel.
const (
	BarrierArrivals = iota
	BarrierPollOpen
	BarrierSlotLog
	BarrierNextTicket
	BarrierNowServing
	BarrierFlags
	BarrierOutput
	BarrierIterations
	BarrierSlotCount
)

// TicketLockKernel has every group's leader take the ticket lock once per
// iteration and increment the guarded counter inside it. Each leader stores
// the total number of spins it spent waiting in histogram[groupID].
type TicketLockKernel struct{}

// Layout implements Kernel.
func (TicketLockKernel) Layout() Layout {
	return Layout{Bindings: []BindingSpec{
		{Name: "counter", Words: scalar},
		{Name: "nextTicket", Words: scalar},
		{Name: "nowServing", Words: scalar},
		{Name: "iterationCount", Words: scalar},
		{Name: "histogram", Words: perGroup},
	}}
}

// Run implements Kernel.
func (TicketLockKernel) Run(l *Lane, b Bindings) error {
	lock := NewTicketLock(b[LockNextTicket].Word(0), b[LockNowServing].Word(0))
	counter := b[LockCounter].Word(0)
	iterations := b[LockIterations].Load(0)
	var spins uint64
	for range iterations {
		if l.Leader() {
			_, n, err := lock.Acquire(l)
			spins += uint64(n)
			if err != nil {
				return err
			}
			counter.Add(1)
			lock.Release()
		}
		if err := l.Sync(); err != nil {
			return err
		}
	}
	if l.Leader() {
		b[LockHistogram].Store(l.GroupID(), saturate(spins))
	}
	return nil
}

// OccupancyKernel runs the occupancy probe once per group.
type OccupancyKernel struct{}

// Layout implements Kernel.
func (OccupancyKernel) Layout() Layout {
	return Layout{Bindings: []BindingSpec{
		{Name: "slotCount", Words: scalar},
		{Name: "pollOpen", Words: scalar},
		{Name: "slotLog", Words: perGroup},
		{Name: "nextTicket", Words: scalar},
		{Name: "nowServing", Words: scalar},
	}}
}

// Run implements Kernel.
func (OccupancyKernel) Run(l *Lane, b Bindings) error {
	if l.Leader() {
		probe := NewOccupancyProbe(
			NewTicketLock(b[ProbeNextTicket].Word(0), b[ProbeNowServing].Word(0)),
			b[ProbePollOpen].Word(0), b[ProbeSlotCount].Word(0), b[ProbeSlotLog])
		if _, _, err := probe.Register(l, l.GroupID()); err != nil {
			return err
		}
	}
	return l.Sync()
}

// BarrierKernel runs iterationCount global barrier episodes.
//
// With Bound zero, groups first run the occupancy probe and the registered
// groups rendezvous, each using its registration slot. Otherwise groups
// with an id below Bound rendezvous using their id as slot. Groups that do
// not take part exit at once. After each episode a participant's leader
// increments output[slot] if its arrival ranked inside that episode and no
// bound flag lagged behind it on exit, so a slot that passed every episode
// cleanly ends at iterationCount.
type BarrierKernel struct {
	Bound int
}

// Layout implements Kernel.
func (BarrierKernel) Layout() Layout {
	return Layout{
		Bindings: []BindingSpec{
			{Name: "arrivals", Words: scalar},
			{Name: "pollOpen", Words: scalar},
			{Name: "slotLog", Words: perGroup},
			{Name: "nextTicket", Words: scalar},
			{Name: "nowServing", Words: scalar},
			{Name: "flags", Words: perGroup},
			{Name: "output", Words: perGroup},
			{Name: "iterationCount", Words: scalar},
			{Name: "slotCount", Words: scalar},
		},
		// slot+1 (0 when not taking part), bound.
		SharedWords: 2,
	}
}

// Run implements Kernel.
func (k BarrierKernel) Run(l *Lane, b Bindings) error {
	shared := l.Shared()
	if l.Leader() {
		slot, bound, ok, err := k.admit(l, b)
		if err != nil {
			return err
		}
		shared[0], shared[1] = 0, uint32(bound)
		if ok {
			shared[0] = uint32(slot) + 1
		}
	}
	if err := l.Sync(); err != nil {
		return err
	}
	if shared[0] == 0 {
		return nil
	}
	slot, bound := int(shared[0]-1), int(shared[1])

	var gb GlobalBarrier
	if l.Leader() {
		var err error
		gb, err = NewGlobalBarrier(b[BarrierArrivals].Word(0), b[BarrierFlags], bound)
		if err != nil {
			return err
		}
	}
	output := b[BarrierOutput]
	for episode := range b[BarrierIterations].Load(0) {
		if l.Leader() {
			a, err := gb.Await(l, slot, episode)
			if err != nil {
				return err
			}
			if a.Within(episode, bound) {
				output.Add(slot, 1)
			}
		}
		if err := l.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func (k BarrierKernel) admit(l *Lane, b Bindings) (slot, bound int, ok bool, err error) {
	if k.Bound > 0 {
		return l.GroupID(), k.Bound, l.GroupID() < k.Bound, nil
	}
	probe := NewOccupancyProbe(
		NewTicketLock(b[BarrierNextTicket].Word(0), b[BarrierNowServing].Word(0)),
		b[BarrierPollOpen].Word(0), b[BarrierSlotCount].Word(0), b[BarrierSlotLog])
	slot, ok, err = probe.Register(l, l.GroupID())
	if err != nil || !ok {
		return 0, 0, false, err
	}
	return slot, int(probe.Bound()), true, nil
}

func saturate(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

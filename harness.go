package simtsync

import (
	"context"
	"fmt"
	"math"

	"github.com/five-vee/simtsync/internal/stats"
)

var (
	// ErrIterations is the error corresponding to a negative iteration count.
	ErrIterations = fmt.Errorf("iteration count must not be negative")

	// ErrCounterWrap is the error corresponding to a test whose counters
	// would wrap around 32 bits.
	ErrCounterWrap = fmt.Errorf("groups x iterations must fit in 32 bits")

	// ErrTrials is the error corresponding to a non-positive trial count.
	ErrTrials = fmt.Errorf("trial count must be positive")
)

// ConsistencyError reports a read-back value that does not match its
// closed-form expectation.
type ConsistencyError struct {
	Test     string // Kernel under test
	Quantity string // What was compared
	Got      uint64
	Want     uint64
}

// Error implements the error interface.
func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: %s = %d, want %d", e.Test, e.Quantity, e.Got, e.Want)
}

func checkCounts(groups, iterations int) error {
	if groups <= 0 || groups > MaxGroups {
		return fmt.Errorf("%w, got %d instead", ErrGroupCount, groups)
	}
	if iterations < 0 {
		return fmt.Errorf("%w, got %d instead", ErrIterations, iterations)
	}
	if uint64(groups)*uint64(iterations) > math.MaxUint32 {
		return fmt.Errorf("%w, got %d x %d", ErrCounterWrap, groups, iterations)
	}
	return nil
}

func scalars(n int) []*Buffer {
	out := make([]*Buffer, n)
	for i := range out {
		out[i] = NewBuffer(1)
	}
	return out
}

// LockResult is the read-back of a ticket lock dispatch.
type LockResult struct {
	Groups     int
	Iterations int
	Counter    uint32
	NextTicket uint32
	NowServing uint32
	// Histogram holds the spins each group's leader spent waiting.
	Histogram []uint32
	Stats     DispatchStats
}

// RunLockTest dispatches TicketLockKernel on groups groups, each taking the
// lock iterations times.
func RunLockTest(ctx context.Context, d *Device, groups, iterations int) (*LockResult, error) {
	if err := checkCounts(groups, iterations); err != nil {
		return nil, err
	}
	b := Bindings(scalars(4))
	b = append(b, NewBuffer(groups))
	b[LockIterations].Store(0, uint32(iterations))
	ds, err := d.Dispatch(ctx, TicketLockKernel{}, groups, b)
	if err != nil {
		return nil, fmt.Errorf("ticket lock dispatch: %w", err)
	}
	return &LockResult{
		Groups:     groups,
		Iterations: iterations,
		Counter:    b[LockCounter].Load(0),
		NextTicket: b[LockNextTicket].Load(0),
		NowServing: b[LockNowServing].Load(0),
		Histogram:  b[LockHistogram].Snapshot(),
		Stats:      ds,
	}, nil
}

// Verify checks the guarded counter and both ticket words against
// groups x iterations.
func (r *LockResult) Verify() error {
	want := uint64(r.Groups) * uint64(r.Iterations)
	for _, c := range []struct {
		quantity string
		got      uint32
	}{
		{"guarded counter", r.Counter},
		{"nextTicket", r.NextTicket},
		{"nowServing", r.NowServing},
	} {
		if uint64(c.got) != want {
			return &ConsistencyError{Test: "ticket lock", Quantity: c.quantity, Got: uint64(c.got), Want: want}
		}
	}
	return nil
}

// OccupancyResult is the read-back of an occupancy probe dispatch.
type OccupancyResult struct {
	Groups int
	Bound  uint32
	// SlotLog holds the registered group ids in admission order.
	SlotLog    []uint32
	PollClosed bool
	NextTicket uint32
	NowServing uint32
	Stats      DispatchStats
}

// RunOccupancyTest dispatches OccupancyKernel on groups groups.
func RunOccupancyTest(ctx context.Context, d *Device, groups int) (*OccupancyResult, error) {
	if err := checkCounts(groups, 0); err != nil {
		return nil, err
	}
	return runOccupancy(ctx, d, groups, occupancyBindings(groups))
}

func occupancyBindings(groups int) Bindings {
	return Bindings{NewBuffer(1), NewBuffer(1), NewBuffer(groups), NewBuffer(1), NewBuffer(1)}
}

// runOccupancy dispatches on zeroed bindings b.
func runOccupancy(ctx context.Context, d *Device, groups int, b Bindings) (*OccupancyResult, error) {
	ds, err := d.Dispatch(ctx, OccupancyKernel{}, groups, b)
	if err != nil {
		return nil, fmt.Errorf("occupancy dispatch: %w", err)
	}
	bound := b[ProbeSlotCount].Load(0)
	log := b[ProbeSlotLog].Snapshot()
	if int(bound) <= len(log) {
		log = log[:bound]
	}
	return &OccupancyResult{
		Groups:     groups,
		Bound:      bound,
		SlotLog:    log,
		PollClosed: b[ProbePollOpen].Load(0) != 0,
		NextTicket: b[ProbeNextTicket].Load(0),
		NowServing: b[ProbeNowServing].Load(0),
		Stats:      ds,
	}, nil
}

// Verify checks that the bound is in [1, min(groups, peak residency)],
// that the slot log is a set of distinct launched group ids, and that
// every ticket drawn was served, with at least one per group, one more per
// registrant and QuietRounds for the registrant that closed the poll.
func (r *OccupancyResult) Verify() error {
	return verifyRegistry("occupancy", r.Groups, r.Bound, r.SlotLog, r.PollClosed,
		r.NextTicket, r.NowServing, r.Stats)
}

func verifyRegistry(test string, groups int, bound uint32, log []uint32, closed bool,
	next, serving uint32, ds DispatchStats,
) error {
	if bound == 0 {
		return &ConsistencyError{Test: test, Quantity: "bound", Got: 0, Want: 1}
	}
	limit := min(groups, ds.PeakResident)
	if int(bound) > limit {
		return &ConsistencyError{Test: test, Quantity: "bound", Got: uint64(bound), Want: uint64(limit)}
	}
	if !closed {
		return &ConsistencyError{Test: test, Quantity: "poll closed", Got: 0, Want: 1}
	}
	seen := make(map[uint32]bool, len(log))
	for _, id := range log {
		if int(id) >= groups || seen[id] {
			return &ConsistencyError{Test: test, Quantity: "distinct slot log entries",
				Got: uint64(len(seen)), Want: uint64(bound)}
		}
		seen[id] = true
	}
	minTickets := uint64(groups) + uint64(bound) - 1 + QuietRounds
	if uint64(next) < minTickets {
		return &ConsistencyError{Test: test, Quantity: "nextTicket", Got: uint64(next), Want: minTickets}
	}
	if serving != next {
		return &ConsistencyError{Test: test, Quantity: "nowServing", Got: uint64(serving), Want: uint64(next)}
	}
	return nil
}

// OccupancySummary aggregates repeated occupancy probes.
type OccupancySummary struct {
	Groups int
	Bounds []uint32
	Mean   float64
	// CV is the coefficient of variation of Bounds.
	CV float64
}

// RunOccupancyTrials runs the occupancy probe trials times with the same
// parameters. Every trial is verified.
func RunOccupancyTrials(ctx context.Context, d *Device, groups, trials int) (*OccupancySummary, error) {
	if trials <= 0 {
		return nil, fmt.Errorf("%w, got %d instead", ErrTrials, trials)
	}
	if err := checkCounts(groups, 0); err != nil {
		return nil, err
	}
	b := occupancyBindings(groups)
	bounds := make([]uint32, 0, trials)
	for i := range trials {
		for _, buf := range b {
			buf.Reset()
		}
		r, err := runOccupancy(ctx, d, groups, b)
		if err != nil {
			return nil, fmt.Errorf("trial %d: %w", i, err)
		}
		if err := r.Verify(); err != nil {
			return nil, fmt.Errorf("trial %d: %w", i, err)
		}
		bounds = append(bounds, r.Bound)
	}
	xs := stats.Uint32s(bounds)
	return &OccupancySummary{
		Groups: groups,
		Bounds: bounds,
		Mean:   stats.Mean(xs),
		CV:     stats.CoefficientOfVariation(xs),
	}, nil
}

// Stable reports whether the bound's coefficient of variation is at most
// threshold.
func (s *OccupancySummary) Stable(threshold float64) bool {
	return s.CV <= threshold
}

// BarrierResult is the read-back of a global barrier dispatch.
type BarrierResult struct {
	Groups     int
	Iterations int
	// Discovered reports whether Participants came from the occupancy probe.
	Discovered   bool
	Participants uint32
	Arrivals     uint32
	// Output holds the number of episodes each slot passed.
	Output     []uint32
	Flags      []uint32
	SlotLog    []uint32
	PollClosed bool
	NextTicket uint32
	NowServing uint32
	Stats      DispatchStats
}

// RunBarrierTest dispatches BarrierKernel on groups groups for iterations
// episodes. bound zero discovers the participants with the occupancy probe;
// otherwise the first bound groups take part.
func RunBarrierTest(ctx context.Context, d *Device, groups, iterations, bound int) (*BarrierResult, error) {
	if err := checkCounts(groups, iterations); err != nil {
		return nil, err
	}
	if bound < 0 || bound > groups {
		return nil, fmt.Errorf("%w: %d for %d groups", ErrBound, bound, groups)
	}
	b := Bindings{
		NewBuffer(1), NewBuffer(1), NewBuffer(groups), NewBuffer(1), NewBuffer(1),
		NewBuffer(groups), NewBuffer(groups), NewBuffer(1), NewBuffer(1),
	}
	b[BarrierIterations].Store(0, uint32(iterations))
	ds, err := d.Dispatch(ctx, BarrierKernel{Bound: bound}, groups, b)
	if err != nil {
		return nil, fmt.Errorf("barrier dispatch: %w", err)
	}
	r := &BarrierResult{
		Groups:       groups,
		Iterations:   iterations,
		Discovered:   bound == 0,
		Participants: uint32(bound),
		Arrivals:     b[BarrierArrivals].Load(0),
		Output:       b[BarrierOutput].Snapshot(),
		Flags:        b[BarrierFlags].Snapshot(),
		PollClosed:   b[BarrierPollOpen].Load(0) != 0,
		NextTicket:   b[BarrierNextTicket].Load(0),
		NowServing:   b[BarrierNowServing].Load(0),
		Stats:        ds,
	}
	if r.Discovered {
		r.Participants = b[BarrierSlotCount].Load(0)
		r.SlotLog = b[BarrierSlotLog].Snapshot()
		if int(r.Participants) <= len(r.SlotLog) {
			r.SlotLog = r.SlotLog[:r.Participants]
		}
	}
	return r, nil
}

// Verify checks that arrivals equal participants x iterations, that every
// participating slot recorded every episode as clean and no other slot any,
// and, for discovered participants, the registry itself.
func (r *BarrierResult) Verify() error {
	const test = "global barrier"
	if r.Discovered {
		if err := verifyRegistry(test, r.Groups, r.Participants, r.SlotLog, r.PollClosed,
			r.NextTicket, r.NowServing, r.Stats); err != nil {
			return err
		}
	}
	want := uint64(r.Participants) * uint64(r.Iterations)
	if uint64(r.Arrivals) != want {
		return &ConsistencyError{Test: test, Quantity: "arrival counter", Got: uint64(r.Arrivals), Want: want}
	}
	for slot, got := range r.Output {
		want := uint64(0)
		if slot < int(r.Participants) {
			want = uint64(r.Iterations)
		}
		if uint64(got) != want {
			return &ConsistencyError{Test: test, Quantity: fmt.Sprintf("output[%d]", slot), Got: uint64(got), Want: want}
		}
		if uint64(r.Flags[slot]) != want {
			return &ConsistencyError{Test: test, Quantity: fmt.Sprintf("flags[%d]", slot), Got: uint64(r.Flags[slot]), Want: want}
		}
	}
	return nil
}

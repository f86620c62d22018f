package simtsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	// MaxGroups is the largest number of groups a single dispatch may launch.
	MaxGroups = 65535

	// MaxLanes is the largest number of lanes per group.
	MaxLanes = 256
)

var (
	// ErrResidency is the error corresponding to a non-positive residency.
	ErrResidency = fmt.Errorf("residency must be positive")

	// ErrLanes is the error corresponding to a lane count out of range.
	ErrLanes = fmt.Errorf("lanes must be in [1, %d]", MaxLanes)

	// ErrTimeout is the error corresponding to a non-positive dispatch timeout.
	ErrTimeout = fmt.Errorf("timeout must be positive")

	// ErrGroupCount is the error corresponding to a group count out of range.
	ErrGroupCount = fmt.Errorf("group count must be in [1, %d]", MaxGroups)

	// ErrDispatchTimeout is returned when a dispatch does not complete
	// within the device timeout, which is how a protocol hang surfaces.
	ErrDispatchTimeout = fmt.Errorf("dispatch timed out")

	// ErrAborted is returned from spin loops and group-local barriers
	// once their dispatch has been abandoned.
	ErrAborted = fmt.Errorf("dispatch aborted")
)

// Waiter is called by spin loops each time their predicate does not hold yet.
// spins is the number of failed checks so far in the current wait.
// A non-nil error ends the wait.
type Waiter interface {
	Wait(spins int) error
}

// WaiterFunc adapts a function to a Waiter.
type WaiterFunc func(spins int) error

// Wait calls f(spins).
func (f WaiterFunc) Wait(spins int) error {
	return f(spins)
}

// Kernel is the program every lane of every group runs during a dispatch.
type Kernel interface {
	// Layout describes the bindings the kernel expects.
	Layout() Layout
	// Run is called once per lane.
	Run(l *Lane, b Bindings) error
}

// DeviceBuilder builds a Device.
type DeviceBuilder struct {
	residency int
	lanes     int
	yield     func(spins int)
	timeout   time.Duration
	logger    *log.Logger
}

// NewDeviceBuilder returns a builder of Device.
func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{
		residency: runtime.GOMAXPROCS(0),
		lanes:     4,
		timeout:   10 * time.Second,
	}
}

// WithResidency sets how many groups may be resident at once.
// The default is runtime.GOMAXPROCS(0).
func (b *DeviceBuilder) WithResidency(n int) *DeviceBuilder {
	b.residency = n
	return b
}

// WithLanes sets the number of lanes per group.
// The default is 4.
func (b *DeviceBuilder) WithLanes(n int) *DeviceBuilder {
	b.lanes = n
	return b
}

// WithYield customizes how spinning lanes yield.
// yield receives the number of failed checks so far in the current wait.
// The default yields to the scheduler on every spin.
func (b *DeviceBuilder) WithYield(yield func(spins int)) *DeviceBuilder {
	b.yield = yield
	return b
}

// WithTimeout sets how long a dispatch may run before it is considered hung.
// The default is 10s.
func (b *DeviceBuilder) WithTimeout(d time.Duration) *DeviceBuilder {
	b.timeout = d
	return b
}

// WithLogger sets the logger for aborted dispatches.
// The default discards.
func (b *DeviceBuilder) WithLogger(l *log.Logger) *DeviceBuilder {
	b.logger = l
	return b
}

// Build builds the Device.
func (b *DeviceBuilder) Build() (*Device, error) {
	if b.residency <= 0 {
		return nil, fmt.Errorf("%w, got %d instead", ErrResidency, b.residency)
	}
	if b.lanes <= 0 || b.lanes > MaxLanes {
		return nil, fmt.Errorf("%w, got %d instead", ErrLanes, b.lanes)
	}
	if b.timeout <= 0 {
		return nil, fmt.Errorf("%w, got %v instead", ErrTimeout, b.timeout)
	}
	yield := b.yield
	if yield == nil {
		yield = func(int) { runtime.Gosched() }
	}
	logger := b.logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Device{
		residency: b.residency,
		lanes:     b.lanes,
		yield:     yield,
		timeout:   b.timeout,
		logger:    logger,
	}, nil
}

// Device is a simulated SIMT device.
//
// A dispatch launches groups in group-id order. The first Residency groups
// start together, the rest as slots free up. At most Residency groups
// are resident at once, and a resident group keeps its slot until all of
// its lanes return. Dispatches on one Device run one at a time.
type Device struct {
	residency int
	lanes     int
	yield     func(spins int)
	timeout   time.Duration
	logger    *log.Logger

	queue sync.Mutex
}

// Residency returns how many groups may be resident at once.
func (d *Device) Residency() int {
	return d.residency
}

// Lanes returns the number of lanes per group.
func (d *Device) Lanes() int {
	return d.lanes
}

// DispatchStats describes a completed or abandoned dispatch.
type DispatchStats struct {
	Groups       int
	PeakResident int
	Elapsed      time.Duration
}

// Dispatch runs k on groupCount groups and returns once every group is done.
//
// If the dispatch outlives the device timeout, every spinning lane is aborted
// and the returned error wraps ErrDispatchTimeout. If any lane returns an
// error, the dispatch is aborted and that error is returned.
func (d *Device) Dispatch(ctx context.Context, k Kernel, groupCount int, b Bindings) (DispatchStats, error) {
	if groupCount <= 0 || groupCount > MaxGroups {
		return DispatchStats{}, fmt.Errorf("%w, got %d instead", ErrGroupCount, groupCount)
	}
	layout := k.Layout()
	if err := layout.validate(b, groupCount); err != nil {
		return DispatchStats{}, err
	}

	d.queue.Lock()
	defer d.queue.Unlock()

	timeoutCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	eg, egCtx := errgroup.WithContext(timeoutCtx)
	s := &dispatchState{yield: d.yield, done: make(chan struct{})}
	stop := context.AfterFunc(egCtx, s.abort)
	defer stop()

	// The first wave of resident groups starts together.
	wave := min(d.residency, groupCount)
	gate := make(chan struct{})
	openGate := sync.OnceFunc(func() { close(gate) })
	defer openGate()

	slots := semaphore.NewWeighted(int64(d.residency))
	start := time.Now()
	launched := 0
	for ; launched < groupCount; launched++ {
		if err := slots.Acquire(egCtx, 1); err != nil {
			break
		}
		var startGate <-chan struct{}
		if launched < wave {
			startGate = gate
		}
		g := s.newGroup(launched, groupCount, d.lanes, layout.SharedWords)
		eg.Go(func() error {
			defer slots.Release(1)
			return g.run(k, b, startGate)
		})
		if launched+1 == wave {
			openGate()
		}
	}
	openGate()
	err := eg.Wait()
	if kerr := s.kernelErr(); kerr != nil {
		err = kerr
	}
	stats := DispatchStats{
		Groups:       groupCount,
		PeakResident: int(s.peak.Load()),
		Elapsed:      time.Since(start),
	}
	if err == nil && launched < groupCount {
		err = ErrAborted
	}
	if err == nil {
		return stats, nil
	}
	if ctx.Err() != nil {
		return stats, ctx.Err()
	}
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		d.logger.Printf("dispatch of %d groups hung after %v (%d launched, peak resident %d)",
			groupCount, d.timeout, launched, stats.PeakResident)
		return stats, fmt.Errorf("%w after %v: %d of %d groups launched",
			ErrDispatchTimeout, d.timeout, launched, groupCount)
	}
	return stats, err
}

package simtsync

import (
	"errors"
	"sync"

	"github.com/five-vee/simtsync/internal/pad"
)

// dispatchState is shared by every group of one dispatch.
type dispatchState struct {
	yield    func(spins int)
	aborted  pad.AtomicUint32
	resident pad.AtomicUint32
	peak     pad.AtomicUint32

	once sync.Once
	done chan struct{}

	mu  sync.Mutex
	err error // first kernel error other than ErrAborted
}

func (s *dispatchState) abort() {
	s.once.Do(func() {
		s.aborted.Store(1)
		close(s.done)
	})
}

func (s *dispatchState) fail(err error) {
	if !errors.Is(err, ErrAborted) {
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
	}
	s.abort()
}

func (s *dispatchState) kernelErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *dispatchState) newGroup(id, count, lanes, sharedWords int) *group {
	return &group{
		id:     id,
		count:  count,
		lanes:  lanes,
		shared: make([]uint32, sharedWords),
		local:  localBarrier{n: lanes, release: make(chan struct{})},
		s:      s,
	}
}

type group struct {
	id     int
	count  int
	lanes  int
	shared []uint32
	local  localBarrier
	s      *dispatchState
}

// run runs every lane of g once start is closed. A nil start runs at once.
// Lane 0 runs on the calling goroutine.
func (g *group) run(k Kernel, b Bindings, start <-chan struct{}) error {
	g.s.peak.Max(g.s.resident.Add(1))
	defer g.s.resident.Add(^uint32(0))
	if start != nil {
		select {
		case <-start:
		case <-g.s.done:
			return ErrAborted
		}
	}

	errs := make([]error, g.lanes)
	var wg sync.WaitGroup
	for i := 1; i < g.lanes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = g.runLane(k, b, i)
		}()
	}
	errs[0] = g.runLane(k, b, 0)
	wg.Wait()
	return errors.Join(errs...)
}

func (g *group) runLane(k Kernel, b Bindings, index int) error {
	err := k.Run(&Lane{g: g, index: index}, b)
	if err != nil {
		// Lanes of this group may be parked in Sync waiting for this one.
		g.s.fail(err)
	}
	return err
}

// Lane is one lane of a resident group.
type Lane struct {
	g     *group
	index int
}

// GroupID returns the id of the lane's group, in [0, GroupCount()).
func (l *Lane) GroupID() int {
	return l.g.id
}

// GroupCount returns the number of groups in the dispatch.
func (l *Lane) GroupCount() int {
	return l.g.count
}

// Index returns the lane's index within its group.
func (l *Lane) Index() int {
	return l.index
}

// Leader reports whether the lane issues cross-group operations for its group.
func (l *Lane) Leader() bool {
	return l.index == 0
}

// Sync waits until every lane of the group has called Sync.
// It only depends on lanes of the same, already resident, group.
func (l *Lane) Sync() error {
	return l.g.local.wait(l.g.s.done)
}

// Shared returns the group-shared words.
// Writes by one lane are visible to the others after the next Sync.
func (l *Lane) Shared() []uint32 {
	return l.g.shared
}

// Wait implements Waiter.
func (l *Lane) Wait(spins int) error {
	if l.g.s.aborted.Load() != 0 {
		return ErrAborted
	}
	l.g.s.yield(spins)
	return nil
}

// localBarrier is a reusable barrier for the lanes of one group.
type localBarrier struct {
	mu      sync.Mutex
	n       int
	arrived int
	release chan struct{}
}

func (b *localBarrier) wait(abort <-chan struct{}) error {
	if b.n == 1 {
		return nil
	}
	b.mu.Lock()
	release := b.release
	b.arrived++
	if b.arrived == b.n {
		b.arrived = 0
		b.release = make(chan struct{})
		b.mu.Unlock()
		close(release)
		return nil
	}
	b.mu.Unlock()
	select {
	case <-release:
		return nil
	case <-abort:
		return ErrAborted
	}
}

package simtsync

import (
	"sync/atomic"

	"github.com/five-vee/simtsync/internal/closer"
)

// QuietRounds is how many consecutive lock rounds a registrant must see
// without a new registration before it closes the poll.
const QuietRounds = 16

// OccupancyProbe discovers a lower bound on how many groups are resident
// at the same time.
//
// Every group takes the lock once. While the poll is open, the holder
// registers: it draws the next slot and logs its group id there. A
// registered group then keeps taking the lock, yielding between rounds,
// and closes the poll once the slot count has not grown for QuietRounds of
// its rounds in a row. Groups that find the poll closed leave.
//
// No group ever waits on a group that has not drawn a ticket, so pending
// groups cannot hang the probe, and the slot count can only grow to the
// number of groups, so some registrant always closes the poll. A registered
// group cannot finish before the poll closes, so all registrants are
// resident together at the moment of closing and the slot count never
// exceeds the real occupancy.
type OccupancyProbe struct {
	lock  TicketLock
	poll  closer.Flag
	count *atomic.Uint32
	log   *Buffer
}

// NewOccupancyProbe returns a probe over the given state.
// pollOpen holds 0 while the poll is open. slotLog must have a word per
// launched group.
func NewOccupancyProbe(lock TicketLock, pollOpen, slotCount *atomic.Uint32, slotLog *Buffer) OccupancyProbe {
	return OccupancyProbe{
		lock:  lock,
		poll:  closer.New(pollOpen),
		count: slotCount,
		log:   slotLog,
	}
}

// Register runs the admission protocol for one group.
// ok reports whether the group was admitted, in which case slot is its
// index in the slot log.
func (p OccupancyProbe) Register(w Waiter, groupID int) (slot int, ok bool, err error) {
	if _, _, err := p.lock.Acquire(w); err != nil {
		return 0, false, err
	}
	var seen uint32
	if p.poll.IsOpen() {
		seen = p.count.Add(1)
		slot = int(seen - 1)
		p.log.Store(slot, uint32(groupID))
		ok = true
	}
	p.lock.Release()
	if !ok {
		return 0, false, nil
	}

	quiet := 0
	for round := 1; ; round++ {
		// Give groups that are resident but have no ticket yet a chance.
		if err := w.Wait(round); err != nil {
			return slot, true, err
		}
		if _, _, err := p.lock.Acquire(w); err != nil {
			return slot, true, err
		}
		open := p.poll.IsOpen()
		if open {
			if n := p.count.Load(); n != seen {
				seen, quiet = n, 0
			} else if quiet++; quiet == QuietRounds {
				p.poll.Close()
				open = false
			}
		}
		p.lock.Release()
		if !open {
			return slot, true, nil
		}
	}
}

// Bound returns the number of registered groups.
// It is final once Register has returned ok to any group.
func (p OccupancyProbe) Bound() uint32 {
	return p.count.Load()
}

// IsOpen reports whether the poll still admits groups.
func (p OccupancyProbe) IsOpen() bool {
	return p.poll.IsOpen()
}

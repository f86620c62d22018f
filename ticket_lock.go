package simtsync

import "sync/atomic"

// TicketLock is a FIFO spin lock over two shared words:
// the next ticket to hand out and the ticket now being served.
//
// Only one lane per group (its leader) should take the lock, and a group
// must not take it twice without releasing. A holder that is never resident
// again hangs every later ticket, so the lock is only safe among groups that
// are known to be co-resident.
type TicketLock struct {
	next    *atomic.Uint32
	serving *atomic.Uint32
}

// NewTicketLock returns a TicketLock over the given words.
// Both words must start equal, typically zero.
func NewTicketLock(next, serving *atomic.Uint32) TicketLock {
	return TicketLock{next: next, serving: serving}
}

// Acquire draws a ticket and spins until it is served.
// spins is the number of failed checks before entry.
func (l TicketLock) Acquire(w Waiter) (ticket uint32, spins int, err error) {
	ticket = l.next.Add(1) - 1
	for l.serving.Load() != ticket {
		spins++
		if err := w.Wait(spins); err != nil {
			return ticket, spins, err
		}
	}
	return ticket, spins, nil
}

// Release admits the next ticket holder.
func (l TicketLock) Release() {
	l.serving.Add(1)
}

// Serving returns the ticket now being served.
func (l TicketLock) Serving() uint32 {
	return l.serving.Load()
}

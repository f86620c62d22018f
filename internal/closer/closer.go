package closer

import "sync/atomic"

const (
	openPoll   = 0
	closedPoll = 1
)

// Flag represents the open/closed state of a poll stored in a shared word.
// A zero word represents the open state.
type Flag struct {
	x *atomic.Uint32
}

// New returns a Flag backed by word.
func New(word *atomic.Uint32) Flag {
	return Flag{x: word}
}

// IsOpen returns true if the poll is still open.
func (f Flag) IsOpen() bool {
	return f.x.Load() == openPoll
}

// Close sets the state to closed.
// It returns true only for the call that performed the transition.
func (f Flag) Close() bool {
	return f.x.CompareAndSwap(openPoll, closedPoll)
}

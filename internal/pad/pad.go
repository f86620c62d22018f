package pad

import "sync/atomic"

// AtomicUint32 is an atomic 32-bit uint that is padded
// to prevent false sharing.
type AtomicUint32 struct {
	atomic.Uint32
	_ [60]byte
}

// Max raises the value to v if v is larger.
func (a *AtomicUint32) Max(v uint32) {
	for {
		cur := a.Load()
		if v <= cur || a.CompareAndSwap(cur, v) {
			return
		}
	}
}

package barrier

// Barrier is a read-only sequence.
type Barrier interface {
	Load() uint32
}

// MinimumBarrier loads the minimum from a set of read-only sequences.
type MinimumBarrier []Barrier

func (m MinimumBarrier) Load() uint32 {
	// INVARIANT: barriers is non-empty.
	minimum := m[0].Load()
	for i := 1; i < len(m); i++ {
		if seq := m[i].Load(); seq < minimum {
			minimum = seq
		}
	}
	return minimum
}

// Reached reports whether every sequence in m is at least target.
// It stops at the first laggard, which keeps spinning readers cheap.
func (m MinimumBarrier) Reached(target uint32) bool {
	for _, b := range m {
		if b.Load() < target {
			return false
		}
	}
	return true
}

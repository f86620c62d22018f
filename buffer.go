package simtsync

import (
	"fmt"
	"sync/atomic"
)

var (
	// ErrBindingCount is the error corresponding to a kernel receiving
	// the wrong number of bindings.
	ErrBindingCount = fmt.Errorf("wrong number of bindings")

	// ErrBindingSize is the error corresponding to a binding too small
	// for its kernel.
	ErrBindingSize = fmt.Errorf("binding too small")
)

// Buffer is a flat array of 32-bit words shared by every group of a dispatch.
// All accesses are atomic.
type Buffer struct {
	words []atomic.Uint32
}

// NewBuffer returns a zeroed buffer of n words.
func NewBuffer(n int) *Buffer {
	return &Buffer{words: make([]atomic.Uint32, n)}
}

// Len returns the number of words.
func (b *Buffer) Len() int {
	return len(b.words)
}

// Word returns the i-th word.
func (b *Buffer) Word(i int) *atomic.Uint32 {
	return &b.words[i]
}

// Load atomically loads the i-th word.
func (b *Buffer) Load(i int) uint32 {
	return b.words[i].Load()
}

// Store atomically stores v into the i-th word.
func (b *Buffer) Store(i int, v uint32) {
	b.words[i].Store(v)
}

// Add atomically adds delta to the i-th word and returns the new value.
func (b *Buffer) Add(i int, delta uint32) uint32 {
	return b.words[i].Add(delta)
}

// Reset zeroes every word.
// Must not be called while a dispatch is using the buffer.
func (b *Buffer) Reset() {
	for i := range b.words {
		b.words[i].Store(0)
	}
}

// Snapshot copies the buffer out, as a host readback would.
func (b *Buffer) Snapshot() []uint32 {
	out := make([]uint32, len(b.words))
	for i := range b.words {
		out[i] = b.words[i].Load()
	}
	return out
}

// Bindings are the buffers bound to a kernel, by index.
type Bindings []*Buffer

// BindingSpec describes one binding of a kernel layout.
type BindingSpec struct {
	Name string
	// Words returns the minimum size of the binding for a dispatch of
	// groupCount groups.
	Words func(groupCount int) int
}

// Layout is the set of bindings a kernel expects, plus the number of
// group-shared words each group gets.
type Layout struct {
	Bindings    []BindingSpec
	SharedWords int
}

func scalar(int) int { return 1 }

func perGroup(groupCount int) int { return groupCount }

func (l Layout) validate(b Bindings, groupCount int) error {
	if len(b) != len(l.Bindings) {
		return fmt.Errorf("%w: got %d, want %d", ErrBindingCount, len(b), len(l.Bindings))
	}
	for i, spec := range l.Bindings {
		want := spec.Words(groupCount)
		if b[i] == nil {
			return fmt.Errorf("%w: binding %d (%s) is nil", ErrBindingSize, i, spec.Name)
		}
		if got := b[i].Len(); got < want {
			return fmt.Errorf("%w: binding %d (%s) has %d words, want at least %d",
				ErrBindingSize, i, spec.Name, got, want)
		}
	}
	return nil
}

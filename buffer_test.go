package simtsync

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuffer(t *testing.T) {
	b := NewBuffer(4)
	if b.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", b.Len())
	}
	b.Store(1, 7)
	if got := b.Add(1, 3); got != 10 {
		t.Errorf("Add() = %d, want 10", got)
	}
	b.Word(3).Store(2)
	if diff := cmp.Diff([]uint32{0, 10, 0, 2}, b.Snapshot()); diff != "" {
		t.Errorf("Snapshot() (-want +got):\n%s", diff)
	}
	b.Reset()
	if diff := cmp.Diff([]uint32{0, 0, 0, 0}, b.Snapshot()); diff != "" {
		t.Errorf("Snapshot() after Reset() (-want +got):\n%s", diff)
	}
}

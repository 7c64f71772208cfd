package framestore

import (
	"testing"

	"github.com/cbx-nz/sanchez/internal/container"
)

func frame(w, h int) container.Frame {
	return container.Frame{Width: w, Height: h, Pix: make([]byte, w*h*3)}
}

func TestPushAndGet(t *testing.T) {
	s := New(2, 2)
	if err := s.Push(frame(2, 2)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	if got := s.Get(0); got.Width != 2 || got.Height != 2 {
		t.Errorf("Get(0) = %+v", got)
	}
}

func TestPushGeometryMismatch(t *testing.T) {
	s := New(2, 2)
	if err := s.Push(frame(3, 2)); err == nil {
		t.Fatalf("expected geometry error pushing 3x2 frame into 2x2 store")
	}
	if s.Len() != 0 {
		t.Errorf("rejected frame should not have been appended")
	}
}

func TestIterVisitsInOrder(t *testing.T) {
	s := New(1, 1)
	for i := 0; i < 3; i++ {
		if err := s.Push(frame(1, 1)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	var indices []int
	for i, f := range s.Iter() {
		_ = f
		indices = append(indices, i)
	}
	if len(indices) != 3 {
		t.Fatalf("expected 3 iterations, got %d", len(indices))
	}
	for i, v := range indices {
		if i != v {
			t.Errorf("iteration order mismatch at %d: got %d", i, v)
		}
	}
}

// Package framestore holds an in-memory, append-only collection of
// frames sharing one geometry. It is the shared abstraction behind both
// the container writer and the stream server — neither owns pixel
// buffers directly; both borrow them from a Store.
package framestore

import (
	"fmt"

	"github.com/cbx-nz/sanchez/internal/container"
	"github.com/cbx-nz/sanchez/internal/sanchezerr"
)

// Store is a fixed-geometry, append-only sequence of frames.
type Store struct {
	width  int
	height int
	frames []container.Frame
}

// New creates an empty Store bound to (width, height). Every frame
// pushed afterward must match this geometry exactly.
func New(width, height int) *Store {
	return &Store{width: width, height: height}
}

// Width and Height report the store's fixed geometry.
func (s *Store) Width() int  { return s.width }
func (s *Store) Height() int { return s.height }

// Push appends f, returning a GeometryError if its shape disagrees with
// the store's fixed geometry.
func (s *Store) Push(f container.Frame) error {
	if f.Width != s.width || f.Height != s.height {
		return sanchezerr.New(sanchezerr.ClassGeometry,
			fmt.Sprintf("frame is %dx%d, store is %dx%d", f.Width, f.Height, s.width, s.height))
	}
	s.frames = append(s.frames, f)
	return nil
}

// Len reports the number of frames currently held.
func (s *Store) Len() int { return len(s.frames) }

// Get returns the i'th frame. It panics on out-of-range i, matching the
// slice-indexing semantics of the underlying storage — callers should
// guard with Len() first, as with any other Go collection.
func (s *Store) Get(i int) container.Frame { return s.frames[i] }

// Iter returns a lazy, restartable (unlike the container's own frame
// iterator) sequence over the store's current frames. Restartability is
// safe here because, unlike a streamed container, the store retains
// every pushed frame in memory for its whole lifetime.
func (s *Store) Iter() func(yield func(int, container.Frame) bool) {
	return func(yield func(int, container.Frame) bool) {
		for i, f := range s.frames {
			if !yield(i, f) {
				return
			}
		}
	}
}

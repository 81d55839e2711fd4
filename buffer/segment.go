package buffer

import (
	"errors"
	"sync/atomic"
)

// ErrReleased is returned when memory is accessed after its final release.
var ErrReleased = errors.New("buffer: memory has already been released")

// Segment is one link of a chain of byte chunks. Every consumer that needs
// the bytes to outlive the producer holds a reference; the backing chunk is
// disposed on the transition from one reference to none.
//
// Only the producer that created a segment may call Free, Commit and Link.
type Segment struct {
	buf          []byte
	filled       int
	chunk        *Chunk
	refs         atomic.Int32
	next         *Segment
	runningIndex int64
}

// NewSegment carves a segment with room for size bytes out of alloc. The
// segment starts with a single reference owned by the caller.
func NewSegment(alloc *Allocator, size int) *Segment {
	chunk, mem := alloc.GetChunk(size)

	s := &Segment{buf: mem, chunk: chunk}
	s.refs.Store(1)

	return s
}

// SegmentOf wraps b in a filled segment that is not backed by any allocator.
func SegmentOf(b []byte) *Segment {
	s := &Segment{buf: b, filled: len(b)}
	s.refs.Store(1)

	return s
}

// AddRef takes another reference. Taking a reference on a segment that has
// already been released is a programming error and panics.
func (s *Segment) AddRef() {
	for {
		refs := s.refs.Load()
		if refs <= 0 {
			panic(ErrReleased)
		}

		if s.refs.CompareAndSwap(refs, refs+1) {
			return
		}
	}
}

// Release drops a reference. The last release disposes the backing chunk.
func (s *Segment) Release() {
	refs := s.refs.Add(-1)

	switch {
	case refs == 0:
		s.chunk.Dispose()
	case refs < 0:
		panic("buffer: segment released more times than it was referenced")
	}
}

// RefCount returns the number of live references.
func (s *Segment) RefCount() int32 {
	return s.refs.Load()
}

// Memory returns the filled part of the segment, or ErrReleased once the
// segment has been released for the last time.
func (s *Segment) Memory() ([]byte, error) {
	if s.refs.Load() <= 0 {
		return nil, ErrReleased
	}

	return s.buf[:s.filled], nil
}

// Len is the number of filled bytes.
func (s *Segment) Len() int {
	return s.filled
}

// RunningIndex is the logical offset of the first byte of this segment
// within the chain it belongs to.
func (s *Segment) RunningIndex() int64 {
	return s.runningIndex
}

// Next returns the following segment in the chain, if any.
func (s *Segment) Next() *Segment {
	return s.next
}

// Free returns the unfilled tail of the segment.
func (s *Segment) Free() []byte {
	return s.buf[s.filled:]
}

// Commit marks n bytes of Free as filled.
func (s *Segment) Commit(n int) {
	if n < 0 || s.filled+n > len(s.buf) {
		panic("buffer: commit beyond segment capacity")
	}

	s.filled += n
}

// Link appends next after s. s must not be written to afterwards.
func (s *Segment) Link(next *Segment) {
	next.runningIndex = s.runningIndex + int64(s.filled)
	s.next = next
}

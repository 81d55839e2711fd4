package buffer

import (
	"bytes"
	"sync/atomic"
)

// Sequence is a read-only view over a run of bytes that may span several
// linked segments. A Sequence does not own its segments; use Retain to keep
// the bytes alive beyond the producer's next Advance.
type Sequence struct {
	head   *Segment
	start  int
	tail   *Segment
	end    int
	length int
}

// NewSequence views the bytes from head[start:] up to tail[:end].
func NewSequence(head *Segment, start int, tail *Segment, end int) Sequence {
	if head == nil {
		return Sequence{}
	}

	length := int((tail.runningIndex + int64(end)) - (head.runningIndex + int64(start)))

	return Sequence{head: head, start: start, tail: tail, end: end, length: length}
}

// SequenceOf views b as a single segment sequence.
func SequenceOf(b []byte) Sequence {
	s := SegmentOf(b)
	return NewSequence(s, 0, s, len(b))
}

// Len returns the number of bytes in the sequence.
func (q Sequence) Len() int {
	return q.length
}

// IsEmpty reports whether the sequence holds no bytes.
func (q Sequence) IsEmpty() bool {
	return q.length == 0
}

// IsSingleSegment reports whether the bytes are contiguous in memory.
func (q Sequence) IsSingleSegment() bool {
	return q.head == q.tail
}

// First returns the first contiguous span of the sequence.
func (q Sequence) First() []byte {
	if q.head == nil {
		return nil
	}

	if q.head == q.tail {
		return q.head.buf[q.start:q.end]
	}

	return q.head.buf[q.start:q.head.filled]
}

// Each calls fn for each contiguous span in order until fn returns false.
func (q Sequence) Each(fn func(span []byte) bool) {
	if q.length == 0 {
		return
	}

	for seg := q.head; ; seg = seg.next {
		from, to := 0, seg.filled
		if seg == q.head {
			from = q.start
		}
		if seg == q.tail {
			to = q.end
		}

		if to > from && !fn(seg.buf[from:to]) {
			return
		}

		// The tail's next link belongs to the producer
		if seg == q.tail {
			return
		}
	}
}

// Slice returns length bytes starting at offset.
func (q Sequence) Slice(offset, length int) Sequence {
	if offset < 0 || length < 0 || offset+length > q.length {
		panic("buffer: sequence slice out of range")
	}

	if length == 0 {
		return Sequence{}
	}

	head, start := q.seek(offset)
	tail, end := q.seek(offset + length)

	// Avoid an empty span at the front of the view
	if start == head.filled && head != tail {
		head, start = head.next, 0
	}

	// Avoid ending on an empty span at the front of the next segment
	if end == 0 && tail != head {
		for seg := head; ; seg = seg.next {
			if seg.next == tail {
				tail, end = seg, seg.filled
				break
			}
		}
	}

	return Sequence{head: head, start: start, tail: tail, end: end, length: length}
}

// seek maps an offset into the segment and position holding it.
func (q Sequence) seek(offset int) (*Segment, int) {
	seg, pos := q.head, q.start

	for {
		limit := seg.filled
		if seg == q.tail {
			limit = q.end
		}

		if offset <= limit-pos || seg == q.tail {
			return seg, pos + offset
		}

		offset -= limit - pos
		seg, pos = seg.next, 0
	}
}

// CopyTo copies the sequence into dst and returns the number of bytes copied.
func (q Sequence) CopyTo(dst []byte) int {
	n := 0
	q.Each(func(span []byte) bool {
		n += copy(dst[n:], span)
		return n < len(dst)
	})

	return n
}

// Bytes returns the sequence as one contiguous slice. Single segment
// sequences are returned without copying, so the result aliases the
// segment's memory.
func (q Sequence) Bytes() []byte {
	if q.IsSingleSegment() {
		return q.First()
	}

	b := make([]byte, q.length)
	q.CopyTo(b)

	return b
}

// String copies the sequence into a string.
func (q Sequence) String() string {
	var sb bytes.Buffer
	sb.Grow(q.length)

	q.Each(func(span []byte) bool {
		sb.Write(span)
		return true
	})

	return sb.String()
}

// Segments calls fn for every segment the sequence touches.
func (q Sequence) Segments(fn func(s *Segment)) {
	if q.length == 0 {
		return
	}

	for seg := q.head; ; seg = seg.next {
		fn(seg)

		if seg == q.tail {
			return
		}
	}
}

// Retain takes a reference on every segment the sequence touches and
// returns the lease holding them.
func (q Sequence) Retain() *Lease {
	q.Segments(func(s *Segment) {
		s.AddRef()
	})

	return &Lease{seq: q}
}

// Lease keeps the segments behind a Sequence alive until it is released.
type Lease struct {
	seq      Sequence
	released atomic.Bool
}

// Sequence returns the leased bytes, or ErrReleased after Release.
func (l *Lease) Sequence() (Sequence, error) {
	if l.released.Load() {
		return Sequence{}, ErrReleased
	}

	return l.seq, nil
}

// Len returns the size of the leased bytes.
func (l *Lease) Len() int {
	return l.seq.length
}

// Retain returns a new, independent lease over the same bytes.
func (l *Lease) Retain() (*Lease, error) {
	if l.released.Load() {
		return nil, ErrReleased
	}

	return l.seq.Retain(), nil
}

// Release drops the lease's references. Further calls are no-ops.
func (l *Lease) Release() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}

	l.seq.Segments(func(s *Segment) {
		s.Release()
	})
}

package buffer

import (
	"errors"
	"io"
)

// ErrShortBuffer is returned by Reader when the sequence ends before the
// requested bytes are available.
var ErrShortBuffer = errors.New("buffer: not enough data")

// Reader is a forward-only cursor over a Sequence.
type Reader struct {
	seq      Sequence
	seg      *Segment
	span     []byte
	consumed int
	scratch  []byte
}

// NewReader positions a reader at the start of seq.
func NewReader(seq Sequence) *Reader {
	r := &Reader{seq: seq}
	if seq.length > 0 {
		r.seg = seq.head
		r.span = seq.First()
	}

	return r
}

// Consumed is the number of bytes read so far.
func (r *Reader) Consumed() int {
	return r.consumed
}

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int {
	return r.seq.length - r.consumed
}

// nextSpan moves to the next non empty span, returning false at the end.
func (r *Reader) nextSpan() bool {
	for len(r.span) == 0 {
		if r.seg == nil || r.seg == r.seq.tail {
			return false
		}

		r.seg = r.seg.next
		to := r.seg.filled
		if r.seg == r.seq.tail {
			to = r.seq.end
		}
		r.span = r.seg.buf[:to]
	}

	return true
}

// PeekByte returns the next byte without consuming it.
func (r *Reader) PeekByte() (byte, error) {
	if !r.nextSpan() {
		return 0, ErrShortBuffer
	}

	return r.span[0], nil
}

// ReadByte consumes one byte.
func (r *Reader) ReadByte() (byte, error) {
	if !r.nextSpan() {
		return 0, ErrShortBuffer
	}

	b := r.span[0]
	r.span = r.span[1:]
	r.consumed++

	return b, nil
}

// Skip consumes n bytes. It reports ErrShortBuffer, without moving, if
// fewer than n bytes remain.
func (r *Reader) Skip(n int) error {
	if n > r.Remaining() {
		return ErrShortBuffer
	}

	for n > 0 {
		r.nextSpan()

		k := len(r.span)
		if k > n {
			k = n
		}

		r.span = r.span[k:]
		r.consumed += k
		n -= k
	}

	return nil
}

// ReadLine consumes bytes up to and including the next '\n' and returns the
// line without its terminator. ok is false, and nothing is consumed, when no
// '\n' has arrived yet. The returned slice is only valid until the next call.
func (r *Reader) ReadLine() (line []byte, ok bool) {
	// Fast path, the whole line sits in the current span
	if r.nextSpan() {
		for i, c := range r.span {
			if c == '\n' {
				line = r.span[:i]
				r.span = r.span[i+1:]
				r.consumed += i + 1
				return line, true
			}
		}
	}

	// Slow path, find the terminator across segments before consuming
	saved := *r
	r.scratch = r.scratch[:0]

	for {
		c, err := r.ReadByte()
		if err != nil {
			scratch := r.scratch
			*r = saved
			r.scratch = scratch
			return nil, false
		}

		if c == '\n' {
			return r.scratch, true
		}

		r.scratch = append(r.scratch, c)
	}
}

// Read copies up to len(p) bytes into p, returning io.EOF at the end.
func (r *Reader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) && r.nextSpan() {
		k := copy(p[n:], r.span)
		r.span = r.span[k:]
		r.consumed += k
		n += k
	}

	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}

	return n, nil
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/resplink/buffer"
)

const (
	// DefaultReadSize is the smallest segment a Stream reads into.
	DefaultReadSize = 4096

	maxEmptyReads = 100
)

var aLongTimeAgo = time.Unix(1, 0)

// ByteTransport is a duplex byte stream with a read buffer the caller
// consumes in place.
type ByteTransport interface {
	// Buffer returns the bytes read but not yet consumed.
	Buffer() buffer.Sequence

	// Advance consumes n bytes from the front of Buffer.
	Advance(n int)

	// TryRead reads at least one more byte into Buffer, trying to make
	// room for hint bytes. It returns false at a clean end of stream.
	TryRead(ctx context.Context, hint int) (bool, error)

	// Write writes p in full.
	Write(ctx context.Context, p []byte) error
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Stream is a ByteTransport over an io.ReadWriter. Reads land in reference
// counted segments, so frames handed out by the transport alias the read
// buffer instead of copying it.
//
// A Stream is not safe for concurrent use; Conn and its decorators make
// sure only one exchange drives it at a time. To interrupt a blocked read
// from another goroutine close the underlying connection, not the Stream.
type Stream struct {
	rw    io.ReadWriter
	alloc *buffer.Allocator

	readSize     int
	maxFrameSize int
	readTimeout  time.Duration
	writeTimeout time.Duration

	head    *buffer.Segment
	headOff int
	tail    *buffer.Segment

	closeOnce sync.Once
	closed    bool

	log *zap.Logger
}

// NewStream wraps rw. Deadlines are applied when rw is a net.Conn or
// anything else with SetReadDeadline/SetWriteDeadline.
func NewStream(rw io.ReadWriter, options StreamOptions) *Stream {
	options.setDefaults()

	return &Stream{
		rw:           rw,
		alloc:        options.Allocator,
		readSize:     options.ReadSize,
		maxFrameSize: options.MaxFrameSize,
		readTimeout:  options.ReadTimeout,
		writeTimeout: options.WriteTimeout,
		log:          options.Log,
	}
}

func (s *Stream) Buffer() buffer.Sequence {
	if s.head == nil {
		return buffer.Sequence{}
	}

	return buffer.NewSequence(s.head, s.headOff, s.tail, s.tail.Len())
}

func (s *Stream) Advance(n int) {
	if n == 0 {
		return
	}

	if n < 0 || n > s.Buffer().Len() {
		panic("transport: advance beyond buffered data")
	}

	s.headOff += n

	// Let go of segments that have been read completely. Frames that
	// retained them keep them alive.
	for s.head != s.tail && s.headOff >= s.head.Len() {
		next := s.head.Next()
		s.headOff -= s.head.Len()
		s.head.Release()
		s.head = next
	}
}

func (s *Stream) TryRead(ctx context.Context, hint int) (bool, error) {
	if s.closed {
		return false, ErrClosed
	}

	if buffered := s.Buffer().Len(); s.maxFrameSize > 0 && buffered+hint > s.maxFrameSize {
		return false, fmt.Errorf("%d bytes buffered, %d more needed: %w", buffered, hint, ErrFrameTooLarge)
	}

	s.makeRoom(hint)

	if d, ok := s.rw.(deadliner); ok {
		if err := d.SetReadDeadline(s.deadline(ctx, s.readTimeout)); err != nil {
			return false, &ConnError{Op: "read", Sent: true, Err: err}
		}

		// A cancellable read is interrupted by moving the deadline into the past
		if ctx.Done() != nil {
			interrupted := make(chan struct{})
			stop := context.AfterFunc(ctx, func() {
				defer close(interrupted)
				d.SetReadDeadline(aLongTimeAgo)
			})
			defer func() {
				if !stop() {
					<-interrupted
				}
			}()
		}
	}

	for i := 0; i < maxEmptyReads; i++ {
		n, err := s.rw.Read(s.tail.Free())
		s.tail.Commit(n)

		if n > 0 {
			// Any error is reported again by the next read
			return true, nil
		}

		if errors.Is(err, io.EOF) {
			return false, nil
		}

		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		if err != nil {
			return false, &ConnError{Op: "read", Sent: true, Err: err}
		}
	}

	return false, &ConnError{Op: "read", Sent: true, Err: io.ErrNoProgress}
}

// makeRoom makes sure the tail segment has room for hint bytes, linking a
// new segment when it does not.
func (s *Stream) makeRoom(hint int) {
	if s.tail != nil && len(s.tail.Free()) >= hint {
		return
	}

	size := s.readSize
	if hint > size {
		size = hint
	}

	seg := buffer.NewSegment(s.alloc, size)

	switch {
	case s.head == nil:
		s.head, s.headOff = seg, 0

	case s.head == s.tail && s.headOff == s.tail.Len():
		// Everything buffered has been consumed, start a fresh chain
		s.head.Release()
		s.head, s.headOff = seg, 0

	default:
		s.tail.Link(seg)
	}

	s.tail = seg
}

func (s *Stream) Write(ctx context.Context, p []byte) error {
	if s.closed {
		return &ConnError{Op: "write", Err: ErrClosed}
	}

	if d, ok := s.rw.(deadliner); ok {
		if err := d.SetWriteDeadline(s.deadline(ctx, s.writeTimeout)); err != nil {
			return &ConnError{Op: "write", Err: err}
		}
	}

	n, err := s.rw.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}

	if err != nil {
		return &ConnError{Op: "write", Sent: n > 0, Err: err}
	}

	return nil
}

// deadline picks the earlier of the context deadline and the timeout.
func (s *Stream) deadline(ctx context.Context, timeout time.Duration) time.Time {
	var t time.Time
	if timeout > 0 {
		t = time.Now().Add(timeout)
	}

	if d, ok := ctx.Deadline(); ok && (t.IsZero() || d.Before(t)) {
		t = d
	}

	return t
}

// Close releases the read buffer and closes the underlying stream if it is
// an io.Closer. It must not race with the other methods.
func (s *Stream) Close() (err error) {
	s.closeOnce.Do(func() {
		s.closed = true

		for seg := s.head; seg != nil; {
			next := seg.Next()
			if seg == s.tail {
				next = nil
			}
			seg.Release()
			seg = next
		}
		s.head, s.tail = nil, nil

		if c, ok := s.rw.(io.Closer); ok {
			err = c.Close()
		}
	})

	return err
}

var _ ByteTransport = (*Stream)(nil)

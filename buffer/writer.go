package buffer

import "io"

// DefaultWriterSize is the initial capacity of a Writer.
const DefaultWriterSize = 256

// Writer is a growable byte buffer leased from an Allocator. It first tries
// to grow in place and only copies when the slab has no room left behind
// the chunk.
type Writer struct {
	alloc *Allocator
	chunk *Chunk
	buf   []byte
	n     int
}

// NewWriter leases a buffer of at least size bytes from alloc.
func NewWriter(alloc *Allocator, size int) *Writer {
	if size <= 0 {
		size = DefaultWriterSize
	}

	chunk, mem := alloc.GetChunk(size)

	return &Writer{alloc: alloc, chunk: chunk, buf: mem}
}

// grow makes room for k more bytes. It fails once the writer has been
// released.
func (w *Writer) grow(k int) error {
	if w.chunk == nil {
		return ErrReleased
	}

	need := w.n + k
	if need <= len(w.buf) {
		return nil
	}

	size := 2 * len(w.buf)
	if size < need {
		size = need
	}

	if w.alloc.TryExpandChunk(w.chunk, &w.buf, size) {
		return nil
	}

	chunk, mem := w.alloc.GetChunk(size)
	copy(mem, w.buf[:w.n])
	w.chunk.Dispose()

	w.chunk, w.buf = chunk, mem
	return nil
}

// Write appends p to the buffer.
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.grow(len(p)); err != nil {
		return 0, err
	}
	w.n += copy(w.buf[w.n:], p)

	return len(p), nil
}

// WriteByte appends c to the buffer.
func (w *Writer) WriteByte(c byte) error {
	if err := w.grow(1); err != nil {
		return err
	}
	w.buf[w.n] = c
	w.n++

	return nil
}

// WriteString appends s to the buffer.
func (w *Writer) WriteString(s string) (int, error) {
	if err := w.grow(len(s)); err != nil {
		return 0, err
	}
	w.n += copy(w.buf[w.n:], s)

	return len(s), nil
}

// Bytes returns the written bytes. They are valid until Release.
func (w *Writer) Bytes() []byte {
	return w.buf[:w.n]
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.n
}

// Reset discards the written bytes but keeps the lease.
func (w *Writer) Reset() {
	w.n = 0
}

// Release gives the memory back to the allocator. Writes after Release
// fail with ErrReleased.
func (w *Writer) Release() {
	w.chunk.Dispose()
	w.chunk, w.buf, w.n = nil, nil, 0
}

var (
	_ io.Writer       = (*Writer)(nil)
	_ io.ByteWriter   = (*Writer)(nil)
	_ io.StringWriter = (*Writer)(nil)
)

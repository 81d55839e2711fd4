// Package buffer manages the memory behind protocol frames.
//
// Memory is carved out of large pooled slabs by a lock free bump pointer
// (Allocator). Reads land in reference counted Segments linked into chains,
// and frames are Sequences over those chains. Retaining a Sequence bumps the
// reference count of every Segment it touches, so a frame can outlive the
// transport's read buffer without being copied. A slab goes back to the pool
// once every chunk carved from it has been disposed.
package buffer

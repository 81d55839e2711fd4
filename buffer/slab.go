package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

const (
	// DefaultSlabSize is the size of the arrays chunks are carved from when
	// no size is given to NewAllocator.
	DefaultSlabSize = 128 * 1024

	maxSlabSize = 1<<32 - 1
)

var (
	slabsAllocated = metrics.NewCounter("resplink_slabs_allocated_total")
	slabsReclaimed = metrics.NewCounter("resplink_slabs_reclaimed_total")
)

// slab is a pooled array plus a packed (offset, live) word. The offset is
// the bump pointer, live counts the chunks that have not been disposed yet.
type slab struct {
	mem       []byte
	state     atomic.Uint64
	alloc     *Allocator
	dedicated bool
}

func pack(offset, live uint32) uint64 {
	return uint64(offset)<<32 | uint64(live)
}

func unpack(state uint64) (offset, live uint32) {
	return uint32(state >> 32), uint32(state)
}

func (s *slab) tryTake(size int) (int, bool) {
	for {
		old := s.state.Load()
		offset, live := unpack(old)

		// A slab with no live users has been handed back to the pool
		if live == 0 {
			return 0, false
		}

		if int(offset)+size > len(s.mem) {
			return 0, false
		}

		if s.state.CompareAndSwap(old, pack(offset+uint32(size), live+1)) {
			return int(offset), true
		}
	}
}

func (s *slab) tryExpand(start, oldSize, newSize int) bool {
	for {
		old := s.state.Load()
		offset, live := unpack(old)

		if live == 0 || int(offset) != start+oldSize || start+newSize > len(s.mem) {
			return false
		}

		if s.state.CompareAndSwap(old, pack(uint32(start+newSize), live)) {
			return true
		}
	}
}

func (s *slab) release() {
	for {
		old := s.state.Load()
		offset, live := unpack(old)

		if live == 0 {
			panic("buffer: slab released more times than it was taken")
		}

		if s.state.CompareAndSwap(old, pack(offset, live-1)) {
			if live == 1 {
				s.alloc.reclaim(s)
			}
			return
		}
	}
}

// Chunk is the owner handle of memory returned by Allocator.GetChunk.
type Chunk struct {
	slab     *slab
	offset   int
	size     int
	disposed atomic.Bool
}

// Len returns the current size of the chunk.
func (c *Chunk) Len() int {
	return c.size
}

// Dispose gives the chunk back to its slab. Only the first call has any
// effect; the slab is reclaimed once every chunk carved from it is disposed.
func (c *Chunk) Dispose() {
	if c == nil || !c.disposed.CompareAndSwap(false, true) {
		return
	}

	c.slab.release()
}

// Stats is a point in time view of an Allocator.
type Stats struct {
	// SlabsAllocated counts slabs that were published for use.
	SlabsAllocated int64

	// SlabsReclaimed counts slabs whose every chunk was released.
	SlabsReclaimed int64
}

// Live is the number of slabs that still have chunks outstanding, including
// the slab currently used for allocation.
func (s Stats) Live() int64 {
	return s.SlabsAllocated - s.SlabsReclaimed
}

// Allocator hands out chunks of slabs with a lock free bump pointer.
//
// The allocator holds its own reference on the slab it is currently carving
// from, so an active slab is never reclaimed just because all of its chunks
// happen to be released at the same moment. The reference is dropped when
// the slab is swapped out, or on Close.
type Allocator struct {
	slabSize int
	pool     sync.Pool
	current  atomic.Pointer[slab]

	allocated atomic.Int64
	reclaimed atomic.Int64
}

// NewAllocator creates an allocator carving chunks out of slabSize arrays.
func NewAllocator(slabSize int) *Allocator {
	if slabSize <= 0 {
		slabSize = DefaultSlabSize
	}

	if slabSize > maxSlabSize {
		slabSize = maxSlabSize
	}

	a := &Allocator{slabSize: slabSize}
	a.pool.New = func() interface{} {
		mem := make([]byte, slabSize)
		return &mem
	}

	return a
}

// SlabSize returns the size of the pooled slabs.
func (a *Allocator) SlabSize() int {
	return a.slabSize
}

// GetChunk returns size bytes of memory and the handle that owns it. The
// memory is capacity limited so appending to it can never spill into a
// neighbouring chunk.
//
// Requests larger than a slab get a dedicated array which is not pooled.
func (a *Allocator) GetChunk(size int) (*Chunk, []byte) {
	if size <= 0 {
		size = 1
	}

	if size > a.slabSize {
		s := &slab{mem: make([]byte, size), alloc: a, dedicated: true}
		s.state.Store(pack(uint32(size), 1))
		a.allocated.Add(1)
		slabsAllocated.Inc()

		return &Chunk{slab: s, size: size}, s.mem[:size:size]
	}

	for {
		cur := a.current.Load()
		if cur != nil {
			if offset, ok := cur.tryTake(size); ok {
				end := offset + size
				return &Chunk{slab: cur, offset: offset, size: size}, cur.mem[offset:end:end]
			}
		}

		fresh := a.newSlab()
		if a.current.CompareAndSwap(cur, fresh) {
			a.allocated.Add(1)
			slabsAllocated.Inc()

			if cur != nil {
				// Drop the allocator's own reference on the retired slab
				cur.release()
			}
			continue
		}

		// Somebody else swapped in a slab first, ours was never published
		a.pool.Put(&fresh.mem)
	}
}

// TryExpandChunk grows chunk in place to size bytes, updating mem to the
// larger view. It only succeeds while the chunk is still the last one carved
// from its slab and the slab has room left.
func (a *Allocator) TryExpandChunk(c *Chunk, mem *[]byte, size int) bool {
	if size <= c.size {
		*mem = (*mem)[:size]
		return true
	}

	if c.slab.dedicated || c.slab.alloc != a {
		return false
	}

	if !c.slab.tryExpand(c.offset, c.size, size) {
		return false
	}

	c.size = size
	end := c.offset + size
	*mem = c.slab.mem[c.offset:end:end]

	return true
}

// Stats returns allocation counters for this allocator.
func (a *Allocator) Stats() Stats {
	return Stats{
		SlabsAllocated: a.allocated.Load(),
		SlabsReclaimed: a.reclaimed.Load(),
	}
}

// Close retires the current slab. Chunks that are still outstanding stay
// valid; the slab is reclaimed when the last of them is disposed.
func (a *Allocator) Close() {
	for {
		cur := a.current.Load()
		if cur == nil {
			return
		}

		if a.current.CompareAndSwap(cur, nil) {
			cur.release()
			return
		}
	}
}

func (a *Allocator) newSlab() *slab {
	mem := a.pool.Get().(*[]byte)

	// The allocator's reference is the initial live count
	s := &slab{mem: *mem, alloc: a}
	s.state.Store(pack(0, 1))

	return s
}

func (a *Allocator) reclaim(s *slab) {
	a.reclaimed.Add(1)
	slabsReclaimed.Inc()

	if s.dedicated {
		return
	}

	mem := s.mem
	a.pool.Put(&mem)
}

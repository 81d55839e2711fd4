package buffer_test

import (
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/resplink/buffer"
)

var _ = Describe("Segment", func() {
	var alloc *buffer.Allocator

	BeforeEach(func() {
		alloc = buffer.NewAllocator(64)
	})

	It("starts with a single reference", func() {
		seg := buffer.NewSegment(alloc, 16)
		Expect(seg.RefCount()).To(Equal(int32(1)))
	})

	It("disposes its chunk exactly once after balanced AddRef/Release", func() {
		seg := buffer.NewSegment(alloc, 64)
		alloc.Close()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			seg.AddRef()
			wg.Add(1)
			go func() {
				defer wg.Done()
				seg.Release()
			}()
		}
		wg.Wait()

		Expect(alloc.Stats().SlabsReclaimed).To(BeZero())

		seg.Release()
		Expect(alloc.Stats().SlabsReclaimed).To(Equal(int64(1)))
	})

	It("fails loudly on access after the final release", func() {
		seg := buffer.NewSegment(alloc, 16)
		copy(seg.Free(), "abc")
		seg.Commit(3)

		mem, err := seg.Memory()
		Expect(err).To(Succeed())
		Expect(string(mem)).To(Equal("abc"))

		seg.Release()

		_, err = seg.Memory()
		Expect(err).To(MatchError(buffer.ErrReleased))
		Expect(func() { seg.AddRef() }).To(Panic())
	})

	It("panics when released more often than referenced", func() {
		seg := buffer.NewSegment(alloc, 16)
		seg.Release()

		Expect(func() { seg.Release() }).To(Panic())
	})

	It("tracks running indexes across links", func() {
		first := buffer.NewSegment(alloc, 8)
		first.Commit(5)

		second := buffer.NewSegment(alloc, 8)
		first.Link(second)

		Expect(first.Next()).To(BeIdenticalTo(second))
		Expect(second.RunningIndex()).To(Equal(int64(5)))
	})
})

package buffer_test

import (
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/resplink/buffer"
)

var _ = Describe("Allocator", func() {
	Describe("GetChunk()", func() {
		It("carves consecutive chunks out of one slab", func() {
			alloc := buffer.NewAllocator(64)

			_, a := alloc.GetChunk(16)
			_, b := alloc.GetChunk(16)

			Expect(a).To(HaveLen(16))
			Expect(b).To(HaveLen(16))
			Expect(cap(a)).To(Equal(16))
			Expect(alloc.Stats().SlabsAllocated).To(Equal(int64(1)))

			a[15] = 'a'
			b[0] = 'b'
			Expect(a[15]).To(Equal(byte('a')))
		})

		It("moves to a new slab when the active one is full", func() {
			alloc := buffer.NewAllocator(64)

			for i := 0; i < 4; i++ {
				alloc.GetChunk(16)
			}
			Expect(alloc.Stats().SlabsAllocated).To(Equal(int64(1)))

			alloc.GetChunk(1)
			Expect(alloc.Stats().SlabsAllocated).To(Equal(int64(2)))
		})

		It("gives oversized requests a dedicated array", func() {
			alloc := buffer.NewAllocator(64)

			chunk, mem := alloc.GetChunk(100)
			Expect(mem).To(HaveLen(100))

			chunk.Dispose()
			Expect(alloc.Stats().SlabsReclaimed).To(Equal(int64(1)))
		})

		It("never hands out overlapping chunks to concurrent callers", func() {
			alloc := buffer.NewAllocator(1024)

			const workers = 8
			const perWorker = 200

			var wg sync.WaitGroup
			chunks := make([][]byte, workers*perWorker)

			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func(w int) {
					defer GinkgoRecover()
					defer wg.Done()

					for i := 0; i < perWorker; i++ {
						_, mem := alloc.GetChunk(8)
						for j := range mem {
							mem[j] = byte(w)
						}
						chunks[w*perWorker+i] = mem
					}
				}(w)
			}
			wg.Wait()

			for i, mem := range chunks {
				for _, c := range mem {
					Expect(c).To(Equal(byte(i / perWorker)))
				}
			}
		})
	})

	Describe("slab reclamation", func() {
		It("does not reclaim a slab while any chunk is outstanding", func() {
			alloc := buffer.NewAllocator(64)

			chunks := make([]*buffer.Chunk, 0, 4)
			for i := 0; i < 4; i++ {
				c, _ := alloc.GetChunk(16)
				chunks = append(chunks, c)
			}

			// Retire the full slab
			alloc.GetChunk(16)

			for _, c := range chunks[:3] {
				c.Dispose()
			}
			Expect(alloc.Stats().SlabsReclaimed).To(BeZero())

			chunks[3].Dispose()
			Expect(alloc.Stats().SlabsReclaimed).To(Equal(int64(1)))
		})

		It("keeps the active slab until the allocator is closed", func() {
			alloc := buffer.NewAllocator(64)

			c, _ := alloc.GetChunk(16)
			c.Dispose()
			Expect(alloc.Stats().SlabsReclaimed).To(BeZero())

			alloc.Close()
			Expect(alloc.Stats().SlabsReclaimed).To(Equal(int64(1)))
			Expect(alloc.Stats().Live()).To(BeZero())
		})

		It("ignores repeated disposal of the same chunk", func() {
			alloc := buffer.NewAllocator(64)

			a, _ := alloc.GetChunk(16)
			b, _ := alloc.GetChunk(16)
			alloc.Close()

			a.Dispose()
			a.Dispose()
			Expect(alloc.Stats().SlabsReclaimed).To(BeZero())

			b.Dispose()
			Expect(alloc.Stats().SlabsReclaimed).To(Equal(int64(1)))
		})
	})

	Describe("TryExpandChunk()", func() {
		It("grows the last chunk of a slab in place", func() {
			alloc := buffer.NewAllocator(64)

			chunk, mem := alloc.GetChunk(8)
			mem[0] = 'x'

			Expect(alloc.TryExpandChunk(chunk, &mem, 32)).To(BeTrue())
			Expect(mem).To(HaveLen(32))
			Expect(mem[0]).To(Equal(byte('x')))
			Expect(chunk.Len()).To(Equal(32))
		})

		It("refuses once another chunk has been carved after it", func() {
			alloc := buffer.NewAllocator(64)

			chunk, mem := alloc.GetChunk(8)
			alloc.GetChunk(8)

			Expect(alloc.TryExpandChunk(chunk, &mem, 16)).To(BeFalse())
			Expect(mem).To(HaveLen(8))
		})

		It("refuses when the slab has no room left", func() {
			alloc := buffer.NewAllocator(64)

			chunk, mem := alloc.GetChunk(60)
			Expect(alloc.TryExpandChunk(chunk, &mem, 65)).To(BeFalse())
		})
	})
})

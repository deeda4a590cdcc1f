package bgc_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tracinggc/gcheap/alloc"
	"github.com/tracinggc/gcheap/bgc"
	"github.com/tracinggc/gcheap/cmn"
	"github.com/tracinggc/gcheap/collector"
	"github.com/tracinggc/gcheap/finalizer"
	"github.com/tracinggc/gcheap/handle"
	"github.com/tracinggc/gcheap/heap"
)

type memRegion struct{ words map[uintptr]uintptr }

func newMemRegion() *memRegion { return &memRegion{words: make(map[uintptr]uintptr)} }
func (m *memRegion) ReadWord(addr uintptr) uintptr     { return m.words[addr] }
func (m *memRegion) WriteWord(addr uintptr, v uintptr) { m.words[addr] = v }

type plainType struct{ size int64 }

func (t *plainType) Name() string       { return "plain" }
func (t *plainType) FixedSize() int64   { return t.size }
func (t *plainType) IsArray() bool      { return false }
func (t *plainType) ContainsRefs() bool { return false }
func (t *plainType) Finalizable() bool  { return false }
func (t *plainType) EnumRefs(*heap.Arena, uintptr, int64, func(uintptr)) {}

var _ = Describe("Background collection cycle", func() {
	It("ends in NotInProcess and advances gc_index by one (S6)", func() {
		cfg := cmn.DefaultConfig()
		h := heap.NewHeap(cfg, 0, 1<<40, newMemRegion(), newMemRegion())
		types := h.Types
		td := types.Register(&plainType{size: 32})
		handles := handle.NewTable()
		fin := finalizer.NewQueue()
		collCycle := collector.NewCycle(h, handles, types, fin)

		ctx := alloc.NewContext(h)
		for i := 0; i < 16; i++ {
			addr, err := ctx.Allocate(32, 0)
			Expect(err).NotTo(HaveOccurred())
			view := heap.ObjectView{Arena: h.Ephemeral.Find(addr).Arena(), Addr: addr}
			view.SetTypeID(td)
		}
		ctx.FixAllocContext()
		collCycle.Run(heap.Gen0, collector.TriggerExplicit, collector.ModeBlocking, 0)
		collCycle.Run(heap.Gen0, collector.TriggerExplicit, collector.ModeBlocking, 0)

		bc := bgc.NewCycle(h, handles, types, collCycle)
		startIndex := bc.Machine().GCIndex()

		bc.Run()

		Expect(bc.Machine().State()).To(Equal(bgc.NotInProcess))
		Expect(bc.Machine().GCIndex()).To(Equal(startIndex + 1))
	})
})

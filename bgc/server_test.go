package bgc_test

import (
	"context"
	"time"

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

func newServerGroupCycle() *bgc.Cycle {
	cfg := cmn.DefaultConfig()
	h := heap.NewHeap(cfg, 0, 1<<40, newMemRegion(), newMemRegion())
	types := h.Types
	td := types.Register(&plainType{size: 32})
	handles := handle.NewTable()
	fin := finalizer.NewQueue()
	collCycle := collector.NewCycle(h, handles, types, fin)

	ctx := alloc.NewContext(h)
	for i := 0; i < 8; i++ {
		addr, err := ctx.Allocate(32, 0)
		Expect(err).NotTo(HaveOccurred())
		view := heap.ObjectView{Arena: h.Ephemeral.Find(addr).Arena(), Addr: addr}
		view.SetTypeID(td)
	}
	ctx.FixAllocContext()

	return bgc.NewCycle(h, handles, types, collCycle)
}

var _ = Describe("ServerGroup join barrier", func() {
	It("joins every per-processor cycle and aggregates their byte totals (§4.6)", func() {
		group := bgc.NewServerGroup(newServerGroupCycle(), newServerGroupCycle())

		reclaimed, surveyed, err := group.Run(context.Background(), time.Second)

		Expect(err).NotTo(HaveOccurred())
		Expect(reclaimed).To(BeNumerically(">=", 0))
		Expect(surveyed).To(BeNumerically(">=", 0))
	})

	It("surfaces a cancelled context instead of hanging past the caller's deadline", func() {
		group := bgc.NewServerGroup(newServerGroupCycle())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, _, err := group.Run(ctx, time.Hour)

		Expect(err).To(HaveOccurred())
	})
})

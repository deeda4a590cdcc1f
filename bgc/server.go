package bgc

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tracinggc/gcheap/cmn"
)

// ServerGroup fans a background collection out across a set of heap
// instances' Cycles. Each Cycle runs its whole sequence independently;
// Run joins once, after every Cycle has finished. There is no per-phase
// barrier, so while Run is in progress the instances' Machines can be in
// different states.
type ServerGroup struct {
	cycles []*Cycle
}

func NewServerGroup(cycles ...*Cycle) *ServerGroup {
	return &ServerGroup{cycles: cycles}
}

// Run drives every instance's Cycle concurrently under an errgroup.Group,
// which fans the work out and turns a recovered per-instance panic into
// an error the other instances' results don't mask, then bounds the join
// itself with a cmn.TimeoutGroup: errgroup.Wait blocks with no timeout of
// its own, and a collector goroutine that never acks must not hang the
// caller forever (§4.6). ctx cancellation is honored the same way.
func (g *ServerGroup) Run(ctx context.Context, timeout time.Duration) (reclaimed, surveyed int64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	eg, _ := errgroup.WithContext(ctx)
	results := make([]struct{ r, s int64 }, len(g.cycles))
	for i, c := range g.cycles {
		i, c := i, c
		eg.Go(func() (goErr error) {
			defer func() {
				if rec := recover(); rec != nil {
					goErr = fmt.Errorf("bgc: instance %d panicked: %v", i, rec)
				}
			}()
			r, s := c.Run()
			results[i].r, results[i].s = r, s
			return nil
		})
	}

	tg := cmn.NewTimeoutGroup()
	tg.Add(1)
	go func() {
		defer tg.Done()
		err = eg.Wait()
	}()

	timedOut, stopped := tg.WaitTimeoutWithStop(timeout, ctx.Done())
	if timedOut {
		return 0, 0, fmt.Errorf("bgc: server group join barrier timed out after %s", timeout)
	}
	if stopped {
		return 0, 0, ctx.Err()
	}
	if err != nil {
		return 0, 0, err
	}
	for _, res := range results {
		reclaimed += res.r
		surveyed += res.s
	}
	return reclaimed, surveyed, nil
}

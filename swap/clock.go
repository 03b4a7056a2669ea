package swap

import (
	"time"

	"pgkernel/config"
	"pgkernel/mem"
	"pgkernel/stats"
	"pgkernel/vm"
)

// Clock implements the accessed-bit sampling / aging policy (spec.md
// §4.5). It is invoked periodically by the cooperative kernel thread and,
// in a single synchronous pass, by direct reclaim (§4.7); both paths share
// the per-page sampling step so the aging formula lives in one place.
type Clock struct {
	tbl   *mem.Table
	queue *JobQueue
	cfg   config.Paging
	st    *stats.Swap
}

// NewClock builds a clock policy over tbl, enqueuing eviction candidates
// onto queue.
func NewClock(tbl *mem.Table, queue *JobQueue, cfg config.Paging, st *stats.Swap) *Clock {
	return &Clock{tbl: tbl, queue: queue, cfg: cfg, st: st}
}

// samplePage folds one page's accessed bit into its frame's aging counter
// and clears A, returning the frame, its post-sample aging value, and the
// VA span the underlying PTE actually covers (vm.HugePageSize for a
// PTE_PS leaf, mem.PGSIZE otherwise) so the caller advances by exactly one
// PTE per present mapping, never resampling a huge leaf's frame once per
// mem.PGSIZE of its span (spec.md §4.5). It skips frames currently claimed
// by the other reclaim path (spec.md §9's in-flight serialization).
func (c *Clock) samplePage(as *vm.AddressSpace, va uintptr) (frame mem.FrameID, aging uint8, step uintptr, ok bool) {
	frame, pte, ok := as.PageLookup(va)
	if !ok || !pte.Present() {
		return mem.NoFrame, 0, uintptr(mem.PGSIZE), false
	}
	step = uintptr(mem.PGSIZE)
	if pte.Flags()&vm.PTE_PS != 0 {
		step = vm.HugePageSize
	}
	if c.tbl.InFlight(frame) {
		return mem.NoFrame, 0, step, false
	}
	accessed := pte.Flags()&vm.PTE_A != 0
	c.tbl.AgeSample(frame, accessed, c.cfg.AgingWidth)
	*pte &^= vm.PTE_A
	return frame, c.tbl.Aging(frame), step, true
}

// Sample walks every non-kernel address space's VMA list, ages each
// present user page, and enqueues a SwapOut job for any frame whose aging
// counter reaches zero, decrementing the owning space's page-fault byte
// counter by one page (spec.md §4.5). It never blocks on I/O and never
// walks a kernel-type space.
func (c *Clock) Sample(spaces []*vm.AddressSpace) {
	start := time.Now()
	for _, as := range spaces {
		if as.Type == vm.KernelEnv {
			continue
		}
		var victims []mem.FrameID
		as.Lock()
		for _, region := range as.VMAs {
			end := region.VA + region.Len
			for va := region.VA; va < end; {
				frame, aging, step, ok := c.samplePage(as, va)
				if !ok {
					va += step
					continue
				}
				if aging == 0 {
					if c.tbl.MarkInFlight(frame) {
						victims = append(victims, frame)
						as.FaultBytes -= mem.PGSIZE
					}
				}
				va += step
			}
		}
		as.Unlock()
		// The FIFO lock (2) is never taken under the address-space
		// lock (4), so jobs are pushed only after the space is unlocked.
		for _, frame := range victims {
			c.queue.Push(Job{Kind: SwapOutJob, Frame: frame})
		}
	}
	if c.st != nil {
		c.st.ClockCycles.Add(time.Since(start).Nanoseconds())
	}
}

// pickVictim performs one synchronous sampling pass over spaces and
// returns the globally lowest-aging eligible frame, for direct reclaim
// (spec.md §4.7); unlike Sample, it does not enqueue to the FIFO.
func (c *Clock) pickVictim(spaces []*vm.AddressSpace) (mem.FrameID, bool) {
	var victim mem.FrameID
	var best uint8
	found := false

	for _, as := range spaces {
		if as.Type == vm.KernelEnv {
			continue
		}
		as.Lock()
		for _, region := range as.VMAs {
			end := region.VA + region.Len
			for va := region.VA; va < end; {
				frame, aging, step, ok := c.samplePage(as, va)
				if !ok {
					va += step
					continue
				}
				if !found || aging < best {
					best = aging
					victim = frame
					found = true
				}
				va += step
			}
		}
		as.Unlock()
	}
	return victim, found
}

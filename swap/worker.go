package swap

import (
	"time"

	"pgkernel/defs"
	"pgkernel/ide"
	"pgkernel/mem"
	"pgkernel/sched"
	"pgkernel/stats"
	"pgkernel/vm"
)

// evictor holds the bookkeeping shared by the cooperative worker's
// SwapOut/SwapIn handling and direct reclaim's inline eviction: both are
// the same operation differing only in whether the disk I/O yields,
// mirroring original_source/kern/pmap.c's ide_write_page vs.
// ide_write_page_blocking split (spec.md §11 supplemented feature).
type evictor struct {
	tbl   *mem.Table
	slots *SlotStore
	runq  sched.RunQueue
	dev   ide.Device
	st    *stats.Swap
	prof  *Profiler
}

func (e *evictor) envByID(id mem.EnvID) *vm.AddressSpace {
	for _, as := range e.runq.Envs() {
		if as.Env == id {
			return as
		}
	}
	return nil
}

// swapOut writes frame to a fresh slot, rewrites every referencing PTE to
// the swapped encoding, and drops the frame's references (spec.md §4.3,
// §4.6). yield is nil for the blocking (direct-reclaim) variant.
func (e *evictor) swapOut(frame mem.FrameID, yield func()) defs.Err_t {
	start := time.Now()
	refs := e.tbl.BackRefs(frame)

	idx, err := e.slots.Alloc()
	if err != defs.OK {
		e.tbl.ClearInFlight(frame)
		e.st.NoSlot.Inc()
		return err
	}
	e.slots.SetBackRefs(idx, refs)

	for _, r := range refs {
		as := e.envByID(r.Env)
		if as == nil {
			continue
		}
		as.Lock()
		_, pte, ok := as.PageLookup(r.VA)
		if ok && pte.Present() {
			vm.EncodeSwapped(pte, uint32(idx))
		}
		as.Unlock()
		e.tbl.RemoveBackRef(frame, r.Env, r.VA)
		e.tbl.Decref(frame)
	}

	buf := e.tbl.Bytes(frame)
	sector := e.slots.Sector(idx, mem.PGSIZE)
	if yield != nil {
		ide.WritePage(e.dev, sector, mem.PGSIZE, buf, yield)
	} else {
		ide.WritePageBlocking(e.dev, sector, mem.PGSIZE, buf)
	}

	e.tbl.ClearInFlight(frame)
	e.st.SwapOuts.Inc()
	if e.prof != nil {
		e.prof.Record("swapout", time.Since(start))
	}
	return defs.OK
}

// swapIn reads the slot encoded in env's non-present PTE at va into a
// fresh premapped frame, reinstalls every captured back-ref mapping, and
// marks env runnable again (spec.md §4.6).
func (e *evictor) swapIn(env mem.EnvID, va uintptr, yield func()) defs.Err_t {
	start := time.Now()
	as := e.envByID(env)
	if as == nil {
		return defs.Fault
	}

	as.Lock()
	_, pte, ok := as.PageLookup(va)
	valid := ok && pte != nil && !pte.Present() && pte.Swapped()
	var idx SlotIndex
	var perm vm.PTE
	if valid {
		idx = SlotIndex(pte.SlotIndex())
		perm = pte.Flags()
	}
	as.Unlock()
	if !valid {
		return defs.Fault
	}

	id, aerr := e.tbl.Alloc(mem.ALLOC_PREMAPPED)
	if aerr != defs.OK {
		return aerr
	}

	buf := e.tbl.Bytes(id)
	sector := e.slots.Sector(idx, mem.PGSIZE)
	if yield != nil {
		ide.ReadPage(e.dev, sector, mem.PGSIZE, buf, yield)
	} else {
		ide.ReadPageBlocking(e.dev, sector, mem.PGSIZE, buf)
	}

	refs := e.slots.BackRefs(idx)
	for _, r := range refs {
		target := e.envByID(r.Env)
		if target == nil {
			continue
		}
		target.Lock()
		target.PageInsert(id, r.VA, perm)
		target.Unlock()
	}
	e.slots.Free(idx)

	as.Lock()
	as.Status = vm.Runnable
	as.Unlock()
	e.runq.Enqueue(as)

	e.st.SwapIns.Inc()
	if e.prof != nil {
		e.prof.Record("swapin", time.Since(start))
	}
	return defs.OK
}

// Worker is the single cooperative kernel thread modeled as one goroutine:
// it drains the job FIFO one job at a time with no intra-job reordering,
// yielding between I/O suspension points (spec.md §4.6).
type Worker struct {
	queue *JobQueue
	ev    *evictor
	y     sched.Yielder
}

// NewWorker builds a swap worker over the given resources.
func NewWorker(tbl *mem.Table, queue *JobQueue, slots *SlotStore, runq sched.RunQueue, dev ide.Device, st *stats.Swap, prof *Profiler, y sched.Yielder) *Worker {
	return &Worker{
		queue: queue,
		ev:    &evictor{tbl: tbl, slots: slots, runq: runq, dev: dev, st: st, prof: prof},
		y:     y,
	}
}

func (w *Worker) yieldFunc() func() {
	if w.y == nil {
		return func() {}
	}
	return w.y.Desched
}

// RunOne dequeues and processes a single job, reporting whether one was
// available.
func (w *Worker) RunOne() bool {
	job, ok := w.queue.Pop()
	if !ok {
		return false
	}
	switch job.Kind {
	case SwapOutJob:
		w.ev.swapOut(job.Frame, w.yieldFunc())
	case SwapInJob:
		w.ev.swapIn(job.Env, job.VA, w.yieldFunc())
	}
	return true
}

// Drain processes jobs until the FIFO is empty. A long-running kernel
// instead calls Run, which deschedules between empty polls; tests and the
// demonstrator use Drain for a deterministic, single-pass run.
func (w *Worker) Drain() {
	for w.RunOne() {
	}
}

// Run loops forever, descheduling when the FIFO is empty, modeling the
// cooperative kernel thread's "if empty, yield" step (spec.md §4.6).
func (w *Worker) Run() {
	for {
		if !w.RunOne() && w.y != nil {
			w.y.Desched()
		}
	}
}

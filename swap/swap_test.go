package swap

import (
	"sync"
	"testing"

	"pgkernel/config"
	"pgkernel/defs"
	"pgkernel/ide"
	"pgkernel/mem"
	"pgkernel/stats"
	"pgkernel/vm"
)

// fakeDisk is a sector-addressable block device backed by a byte slice. It
// is always ready, so ide.ReadPage/WritePage's cooperative poll loop never
// calls yield in these tests.
type fakeDisk struct {
	mu   sync.Mutex
	data []byte
	pos  int
}

func newFakeDisk(nsectors int) *fakeDisk {
	return &fakeDisk{data: make([]byte, nsectors*ide.SectorSize)}
}

func (d *fakeDisk) StartReadWrite(sector int, n int, isWrite bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pos = sector
}

func (d *fakeDisk) IsReady() bool { return true }

func (d *fakeDisk) ReadSector(buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := d.pos * ide.SectorSize
	copy(buf, d.data[off:off+ide.SectorSize])
	d.pos++
}

func (d *fakeDisk) WriteSector(buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := d.pos * ide.SectorSize
	copy(d.data[off:off+ide.SectorSize], buf)
	d.pos++
}

// fakeRunQueue is a minimal sched.RunQueue: an unordered set of spaces,
// keyed by identity, good enough to drive the worker and clock without a
// real scheduler.
type fakeRunQueue struct {
	mu   sync.Mutex
	envs []*vm.AddressSpace
}

func (q *fakeRunQueue) Enqueue(as *vm.AddressSpace) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.envs {
		if e == as {
			return
		}
	}
	q.envs = append(q.envs, as)
}

func (q *fakeRunQueue) Envs() []*vm.AddressSpace {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*vm.AddressSpace, len(q.envs))
	copy(out, q.envs)
	return out
}

// fakeOOM records whether it was invoked and always fails to free anything,
// for the no-eligible-victim branch of direct reclaim.
type fakeOOM struct{ called bool }

func (f *fakeOOM) KillVictim() bool {
	f.called = true
	return false
}

func newTestHarness(t *testing.T, nframes int) (*mem.Table, *fakeRunQueue, *fakeDisk, *SlotStore, *JobQueue, *stats.Swap) {
	t.Helper()
	cfg := config.Default()
	tbl := mem.NewTable(cfg, 0, nframes, nil)
	rq := &fakeRunQueue{}
	disk := newFakeDisk(cfg.NSlots * ide.SectorsPerPage(mem.PGSIZE))
	slots := NewSlotStore(cfg.NSlots)
	queue := NewJobQueue(cfg.NSlots)
	st := stats.NewSwap()
	return tbl, rq, disk, slots, queue, st
}

// Swap round trip: a mapped, dirty page is swapped out and back in with its
// contents intact (spec.md §8 scenario 4).
func TestSwapRoundTrip(t *testing.T) {
	tbl, rq, disk, slots, queue, st := newTestHarness(t, 64)

	as, err := vm.NewAddressSpace(tbl, mem.EnvID(1), vm.UserEnv)
	if err != defs.OK {
		t.Fatalf("new address space: %v", err)
	}
	rq.Enqueue(as)

	prof := NewProfiler()
	worker := NewWorker(tbl, queue, slots, rq, disk, st, prof, nil)

	const va = uintptr(0x400000)
	p, err := tbl.Alloc(0)
	if err != defs.OK {
		t.Fatalf("alloc: %v", err)
	}

	as.Lock()
	if err := as.PageInsert(p, va, vm.PTE_U|vm.PTE_W); err != defs.OK {
		as.Unlock()
		t.Fatalf("page insert: %v", err)
	}
	as.Unlock()

	buf := tbl.Bytes(p)
	for i := range buf {
		buf[i] = 0xAB
	}

	queue.Push(Job{Kind: SwapOutJob, Frame: p})
	worker.Drain()

	as.Lock()
	_, pte, ok := as.PageLookup(va)
	as.Unlock()
	if !ok {
		t.Fatalf("mapping vanished after swap-out")
	}
	if pte.Present() {
		t.Fatalf("pte still present after swap-out")
	}
	if pte.SlotIndex() == uint32(NoSlotIndex) {
		t.Fatalf("pte encodes the reserved sentinel slot")
	}
	if st.SwapOuts.Get() != 1 {
		t.Fatalf("SwapOuts = %d, want 1", st.SwapOuts.Get())
	}

	as.Lock()
	as.Status = vm.NotRunnable
	as.Unlock()

	queue.Push(Job{Kind: SwapInJob, Env: mem.EnvID(1), VA: va})
	worker.Drain()

	if as.Status != vm.Runnable {
		t.Fatalf("status after swap-in = %v, want Runnable", as.Status)
	}

	as.Lock()
	frame2, pte2, ok2 := as.PageLookup(va)
	as.Unlock()
	if !ok2 || !pte2.Present() {
		t.Fatalf("mapping not present after swap-in")
	}

	restored := tbl.Bytes(frame2)
	for i, b := range restored {
		if b != 0xAB {
			t.Fatalf("byte %d = %#x, want 0xab", i, b)
		}
	}
	if st.SwapIns.Get() != 1 {
		t.Fatalf("SwapIns = %d, want 1", st.SwapIns.Get())
	}
}

// Huge VMA sampling: Clock.Sample ages a huge mapping's frame exactly once
// per pass, not once per mem.PGSIZE of its span (spec.md §4.5).
func TestClockSampleHugeOnce(t *testing.T) {
	cfg := config.Default()
	nframes := int(cfg.FramesPerHuge) * 2
	tbl, rq, _, _, queue, st := newTestHarness(t, nframes)

	as, err := vm.NewAddressSpace(tbl, mem.EnvID(1), vm.UserEnv)
	if err != defs.OK {
		t.Fatalf("new address space: %v", err)
	}
	rq.Enqueue(as)

	ph, err := tbl.Alloc(mem.ALLOC_HUGE)
	if err != defs.OK {
		t.Fatalf("huge alloc: %v", err)
	}

	const hugeVA = uintptr(0x40000000)
	as.Lock()
	if err := as.PageInsert(ph, hugeVA, vm.PTE_U|vm.PTE_W|vm.PTE_PS); err != defs.OK {
		as.Unlock()
		t.Fatalf("huge insert: %v", err)
	}
	_, pte, ok := as.PageLookup(hugeVA)
	if !ok {
		as.Unlock()
		t.Fatalf("lookup of freshly inserted huge mapping failed")
	}
	*pte |= vm.PTE_A
	as.AddVMA(hugeVA, vm.HugePageSize, vm.PTE_U|vm.PTE_W|vm.PTE_PS)
	as.Unlock()

	clock := NewClock(tbl, queue, cfg, st)
	clock.Sample(rq.Envs())

	if got := tbl.Aging(ph); got != 1<<(cfg.AgingWidth-1) {
		t.Fatalf("aging after one sample = %#x, want %#x (PTE_A set, aged once)", got, 1<<(cfg.AgingWidth-1))
	}
}

// Direct reclaim: when the free list is exhausted, an allocation wired to
// DirectReclaim succeeds by evicting the lowest-aging mapped page instead
// of returning OOM (spec.md §8 scenario 5).
func TestDirectReclaimSatisfiesAlloc(t *testing.T) {
	const nframes = 4
	tbl, rq, disk, slots, queue, st := newTestHarness(t, nframes)

	as, err := vm.NewAddressSpace(tbl, mem.EnvID(1), vm.UserEnv)
	if err != defs.OK {
		t.Fatalf("new address space: %v", err)
	}
	rq.Enqueue(as)

	clock := NewClock(tbl, queue, config.Default(), st)
	killer := &fakeOOM{}
	reclaim := NewDirectReclaim(tbl, rq, clock, slots, disk, st, NewProfiler(), killer)

	// Drain the free list by mapping pages until every frame is either
	// mapped or holds the space's directory or page table.
	var mapped []uintptr
	for {
		p, err := tbl.Alloc(0)
		if err != defs.OK {
			break
		}
		va := uintptr(0x400000) + uintptr(len(mapped))*uintptr(mem.PGSIZE)
		as.Lock()
		ierr := as.PageInsert(p, va, vm.PTE_U|vm.PTE_W)
		as.Unlock()
		if ierr != defs.OK {
			t.Fatalf("page insert: %v", ierr)
		}
		mapped = append(mapped, va)
	}
	as.AddVMA(mapped[0], uintptr(len(mapped))*uintptr(mem.PGSIZE), vm.PTE_U|vm.PTE_W)
	if len(mapped) == 0 {
		t.Fatalf("no frames to map, adjust nframes")
	}
	tbl.SetReclaimer(reclaim)

	id, aerr := tbl.Alloc(0)
	if aerr != defs.OK {
		t.Fatalf("alloc after reclaim: %v", aerr)
	}
	if id == mem.NoFrame {
		t.Fatalf("reclaim returned NoFrame")
	}
	if killer.called {
		t.Fatalf("OOM killer invoked even though a victim was reclaimed")
	}

	swapped := false
	as.Lock()
	for _, va := range mapped {
		_, pte, ok := as.PageLookup(va)
		if ok && !pte.Present() && pte.Swapped() {
			swapped = true
			break
		}
	}
	as.Unlock()
	if !swapped {
		t.Fatalf("no previously mapped page was swapped out by reclaim")
	}
}

// Command pgkernsim wires the frame table, mapper, and swap engine
// together over an in-memory disk and scheduler stand-in, and drives the
// swap round-trip scenario (spec.md §8 scenario 4) end to end.
//
// It plays the same role biscuit/src/kernel/chentry.go plays for that
// kernel's build: a small, single-purpose package main living alongside
// the library packages, not a test, with plain fmt.Printf progress
// output.
package main

import (
	"fmt"
	"os"
	"sync"

	"pgkernel/config"
	"pgkernel/defs"
	"pgkernel/ide"
	"pgkernel/mem"
	"pgkernel/stats"
	"pgkernel/swap"
	"pgkernel/vm"
)

// memDisk is a sector-addressable block device backed by a byte slice,
// always ready, standing in for a real IDE controller.
type memDisk struct {
	mu   sync.Mutex
	data []byte
	pos  int
}

func newMemDisk(nsectors int) *memDisk {
	return &memDisk{data: make([]byte, nsectors*ide.SectorSize)}
}

func (d *memDisk) StartReadWrite(sector int, n int, isWrite bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pos = sector
}

func (d *memDisk) IsReady() bool { return true }

func (d *memDisk) ReadSector(buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := d.pos * ide.SectorSize
	copy(buf, d.data[off:off+ide.SectorSize])
	d.pos++
}

func (d *memDisk) WriteSector(buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := d.pos * ide.SectorSize
	copy(d.data[off:off+ide.SectorSize], buf)
	d.pos++
}

// runQueue is a minimal sched.RunQueue: an unordered set of address
// spaces, keyed by identity.
type runQueue struct {
	mu   sync.Mutex
	envs []*vm.AddressSpace
}

func (q *runQueue) Enqueue(as *vm.AddressSpace) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.envs {
		if e == as {
			return
		}
	}
	q.envs = append(q.envs, as)
}

func (q *runQueue) Envs() []*vm.AddressSpace {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*vm.AddressSpace, len(q.envs))
	copy(out, q.envs)
	return out
}

func must(err defs.Err_t, what string) {
	if err != defs.OK {
		panic(fmt.Sprintf("%s: %v", what, err))
	}
}

func main() {
	cfg := config.Default()
	tbl := mem.NewTable(cfg, 0, 4096, nil)
	rq := &runQueue{}
	disk := newMemDisk(cfg.NSlots * ide.SectorsPerPage(mem.PGSIZE))
	slots := swap.NewSlotStore(cfg.NSlots)
	queue := swap.NewJobQueue(cfg.NSlots)
	st := stats.NewSwap()
	prof := swap.NewProfiler()
	worker := swap.NewWorker(tbl, queue, slots, rq, disk, st, prof, nil)

	as, err := vm.NewAddressSpace(tbl, mem.EnvID(1), vm.UserEnv)
	must(err, "new address space")
	rq.Enqueue(as)

	const va = uintptr(0x400000)
	p, err := tbl.Alloc(0)
	must(err, "alloc frame")

	as.Lock()
	must(as.PageInsert(p, va, vm.PTE_U|vm.PTE_W), "page insert")
	as.Unlock()

	buf := tbl.Bytes(p)
	for i := range buf {
		buf[i] = 0xAB
	}
	fmt.Printf("mapped frame %d at va=0x%x, filled with 0xAB\n", p, va)

	queue.Push(swap.Job{Kind: swap.SwapOutJob, Frame: p})
	worker.Drain()
	fmt.Println("swap-out drained")

	as.Lock()
	as.Status = vm.NotRunnable
	as.Unlock()

	queue.Push(swap.Job{Kind: swap.SwapInJob, Env: mem.EnvID(1), VA: va})
	worker.Drain()
	fmt.Println("swap-in drained")

	as.Lock()
	fresh, pte, ok := as.PageLookup(va)
	as.Unlock()
	if !ok || !pte.Present() {
		panic("swap round trip: mapping missing after swap-in")
	}
	out := tbl.Bytes(fresh)
	for i, b := range out {
		if b != 0xAB {
			panic(fmt.Sprintf("swap round trip: byte %d corrupted: got %#x", i, b))
		}
	}
	fmt.Printf("round trip verified: frame %d, env status=%v\n", fresh, as.Status)

	fmt.Print(st.String())

	f, ferr := os.CreateTemp("", "pgkernsim-*.pprof")
	if ferr != nil {
		fmt.Println("profile write skipped:", ferr)
		return
	}
	defer f.Close()
	if err := prof.Write(f); err != nil {
		fmt.Println("profile write failed:", err)
		return
	}
	fmt.Println("pprof snapshot:", f.Name())
}

package vm

import (
	"testing"

	"pgkernel/config"
	"pgkernel/defs"
	"pgkernel/mem"
)

func freshSpace(t *testing.T, nframes int) (*mem.Table, *AddressSpace) {
	t.Helper()
	tbl := mem.NewTable(config.Default(), 0, nframes, nil)
	as, err := NewAddressSpace(tbl, mem.EnvID(1), UserEnv)
	if err != defs.OK {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	as.Lock()
	t.Cleanup(as.Unlock)
	return tbl, as
}

// Re-insert: page_insert of the same frame at the same va twice leaves
// ref_count unchanged and the mapping intact (spec.md §8 scenario 2).
func TestReinsertIdempotence(t *testing.T) {
	tbl, as := freshSpace(t, 64)

	p1, err := tbl.Alloc(0)
	if err != defs.OK {
		t.Fatalf("alloc: %v", err)
	}

	if err := as.PageInsert(p1, uintptr(mem.PGSIZE), PTE_W); err != defs.OK {
		t.Fatalf("page insert 1: %v", err)
	}
	if err := as.PageInsert(p1, uintptr(mem.PGSIZE), PTE_W); err != defs.OK {
		t.Fatalf("page insert 2: %v", err)
	}

	if got := tbl.RefCount(p1); got != 1 {
		t.Fatalf("ref_count after second insert = %d, want 1", got)
	}
	frame, _, ok := as.PageLookup(uintptr(mem.PGSIZE))
	if !ok || frame != p1 {
		t.Fatalf("lookup = (%d, %v), want (%d, true)", frame, ok, p1)
	}
}

// Huge mapping: a huge frame is inserted at a huge-aligned va, byte
// patterns written through it round-trip, and page_remove drops its
// ref_count to 0 (spec.md §8 scenario 3).
func TestHugeMapping(t *testing.T) {
	cfg := config.Default()
	nframes := int(cfg.FramesPerHuge) * 2
	tbl, as := freshSpace(t, nframes)

	ph, err := tbl.Alloc(mem.ALLOC_HUGE)
	if err != defs.OK {
		t.Fatalf("huge alloc: %v", err)
	}

	hugeVA := HugePageSize
	if err := as.PageInsert(ph, hugeVA, PTE_W|PTE_PS); err != defs.OK {
		t.Fatalf("huge insert: %v", err)
	}

	offsets := []uintptr{
		0,
		uintptr(mem.PGSIZE),
		1020*uintptr(mem.PGSIZE) + 4000,
		1021 * uintptr(mem.PGSIZE),
		1022 * uintptr(mem.PGSIZE),
	}
	patterns := []byte{0x11, 0x22, 0x33, 0x44, 0x55}

	for i, off := range offsets {
		frameOff := off / uintptr(mem.PGSIZE)
		inPage := off % uintptr(mem.PGSIZE)
		b := tbl.Bytes(ph + mem.FrameID(frameOff))
		b[inPage] = patterns[i]
	}
	for i, off := range offsets {
		frameOff := off / uintptr(mem.PGSIZE)
		inPage := off % uintptr(mem.PGSIZE)
		b := tbl.Bytes(ph + mem.FrameID(frameOff))
		if b[inPage] != patterns[i] {
			t.Fatalf("offset %d = %#x, want %#x", off, b[inPage], patterns[i])
		}
	}

	as.PageRemove(hugeVA)
	if tbl.RefCount(ph) != 0 {
		t.Fatalf("ref_count after remove = %d, want 0", tbl.RefCount(ph))
	}
}

// TLB invalidation: page_remove invalidates only when the target
// directory is the CPU's currently loaded one (spec.md §4.2, §5).
func TestTLBInvalidateOnlyWhenLoaded(t *testing.T) {
	tbl, as := freshSpace(t, 64)
	other := &AddressSpace{}

	p, err := tbl.Alloc(mem.ALLOC_ZERO)
	if err != defs.OK {
		t.Fatalf("alloc: %v", err)
	}
	if err := as.PageInsert(p, uintptr(mem.PGSIZE), PTE_W); err != defs.OK {
		t.Fatalf("page insert: %v", err)
	}

	var cpu CPU
	cpu.Load(other)
	as.Cpu = &cpu
	as.PageRemove(uintptr(mem.PGSIZE))
	if got := cpu.Invalidations(); got != 0 {
		t.Fatalf("invalidations with another space loaded = %d, want 0", got)
	}

	p2, err := tbl.Alloc(mem.ALLOC_ZERO)
	if err != defs.OK {
		t.Fatalf("alloc: %v", err)
	}
	if err := as.PageInsert(p2, uintptr(mem.PGSIZE), PTE_W); err != defs.OK {
		t.Fatalf("page insert: %v", err)
	}
	cpu.Load(as)
	as.PageRemove(uintptr(mem.PGSIZE))
	if got := cpu.Invalidations(); got != 1 {
		t.Fatalf("invalidations with this space loaded = %d, want 1", got)
	}
}

// MMIO mapping: successive MapRegion calls return page-aligned,
// cache-disabled windows inside [MMIOBase, MMIOLim) that never overlap
// (spec.md §8 scenario 6).
func TestMMIOMapping(t *testing.T) {
	tbl, as := freshSpace(t, 64)

	m := NewMMIO()
	a1 := m.MapRegion(tbl, as.dir(), 0, 4097)
	if a1 < MMIOBase || a1 >= MMIOLim {
		t.Fatalf("a1 = %#x, want inside [%#x, %#x)", a1, MMIOBase, MMIOLim)
	}
	if a1%uintptr(mem.PGSIZE) != 0 {
		t.Fatalf("a1 = %#x, not page aligned", a1)
	}

	for i := 0; i < 2; i++ {
		va := a1 + uintptr(i)*uintptr(mem.PGSIZE)
		_, pte, ok := PageLookup(tbl, as.dir(), va)
		if !ok || !pte.Present() {
			t.Fatalf("mmio page %d not mapped", i)
		}
		if pte.Flags()&PTE_PCD == 0 {
			t.Fatalf("mmio page %d not cache-disabled", i)
		}
	}

	a2 := m.MapRegion(tbl, as.dir(), mem.Pa_t(mem.PGSIZE)*16, 4096)
	if a2 < a1+2*uintptr(mem.PGSIZE) {
		t.Fatalf("a2 = %#x, want >= %#x", a2, a1+2*uintptr(mem.PGSIZE))
	}
}

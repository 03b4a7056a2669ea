package vm

import (
	"sync"

	"pgkernel/mem"
	"pgkernel/util"
)

// MMIO is the kernel's MMIO-window bump allocator: a process-wide
// singleton per spec.md §9's design note, instantiated explicitly by
// NewMMIO and passed by reference rather than hidden behind package state.
type MMIO struct {
	mu   sync.Mutex
	next uintptr
}

// NewMMIO returns a bump allocator starting at MMIOBase.
func NewMMIO() *MMIO {
	return &MMIO{next: MMIOBase}
}

// MapRegion reserves and maps size bytes of physical address pa as
// cache-disabled, writable, page-aligned MMIO space in dir, returning the
// virtual address of the mapping (spec.md §8 scenario 6). It panics if the
// reservation would overflow MMIOLim, matching the kernel-bug treatment
// original_source/kern/pmap.c gives the same overflow.
func (m *MMIO) MapRegion(tbl *mem.Table, dir *Dir, pa mem.Pa_t, size uintptr) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()

	aligned := util.RoundUp(size, uintptr(mem.PGSIZE))
	base := m.next
	if base+aligned > MMIOLim {
		panic("vm: MMIO reservation overflows MMIOLim")
	}
	m.next = base + aligned

	BootMapRegion(tbl, dir, base, aligned, pa, PTE_W|PTE_PCD)
	return base
}

// Package vm implements the two-level x86-style mapper, address-space
// bookkeeping, and user-memory validation. Grounded on biscuit/src/vm/as.go's
// Vm_t (lock pattern, refcount-before-removal contract, TLB shootdown hook)
// narrowed from its four-level/COW design to this spec's simpler two-level,
// no-COW contract, and on original_source/kern/pmap.c for exact semantics.
package vm

import (
	"sync"

	"pgkernel/defs"
	"pgkernel/lockorder"
	"pgkernel/mem"
	"pgkernel/util"
)

// Status mirrors the environment registry's status field (spec.md §6).
type Status int

const (
	NotRunnable Status = iota
	Runnable
	Running
	Dying
)

// EnvType distinguishes kernel from user address spaces; the clock policy
// never walks a kernel-type environment (spec.md §4.5).
type EnvType int

const (
	UserEnv EnvType = iota
	KernelEnv
)

// VMA is one entry of an environment's memory map: a virtual address
// range with its intended permissions.
type VMA struct {
	VA   uintptr
	Len  uintptr
	Perm PTE
}

// AddressSpace is the concrete stand-in this module owns for the external
// environment registry's per-env state: a page directory, VMA list,
// page-fault byte counter, and per-space lock (spec.md §3's "Environment
// memory map").
type AddressSpace struct {
	mu    sync.Mutex
	guard *lockorder.Guard
	// locked is a best-effort debug aid mirroring biscuit's
	// Lockassert_pmap; it is not itself safe to read without holding mu.
	locked bool

	Env    mem.EnvID
	Type   EnvType
	Status Status

	// Cpu is the CPU this space is loaded on when it is running, or nil
	// if it is never loaded (e.g. most test fixtures). PageRemove checks
	// it to decide whether a TLB invalidation is observable.
	Cpu *CPU

	tbl *mem.Table
	Dir mem.FrameID // frame holding this space's top-level page directory

	VMAs       []VMA
	FaultBytes int

	// LastFault records the first offending VA from the most recent
	// failed UserMemAssert, per spec.md §4.8's "well-known location".
	LastFault uintptr
}

// NewAddressSpace allocates a fresh, zeroed page directory and returns an
// address space backed by it.
func NewAddressSpace(tbl *mem.Table, env mem.EnvID, typ EnvType) (*AddressSpace, defs.Err_t) {
	id, err := tbl.Alloc(mem.ALLOC_PREMAPPED | mem.ALLOC_ZERO)
	if err != defs.OK {
		return nil, err
	}
	tbl.Incref(id)
	return &AddressSpace{
		Env:    env,
		Type:   typ,
		Status: NotRunnable,
		tbl:    tbl,
		Dir:    id,
		guard:  lockorder.New(),
	}, defs.OK
}

// Lock acquires the per-space memory lock (spec.md §5 level 4).
func (as *AddressSpace) Lock() {
	as.guard.Acquire(lockorder.Env)
	as.mu.Lock()
	as.locked = true
}

// Unlock releases the per-space memory lock.
func (as *AddressSpace) Unlock() {
	as.locked = false
	as.mu.Unlock()
	as.guard.Release(lockorder.Env)
}

// AssertLocked panics if the space's lock is not currently held, mirroring
// biscuit's Lockassert_pmap guard at mapper entry points.
func (as *AddressSpace) AssertLocked() {
	if !as.locked {
		panic("vm: address space lock not held")
	}
}

// dir returns this space's top-level directory.
func (as *AddressSpace) dir() *Dir {
	return dirAt(as.tbl, as.Dir)
}

// PageInsert maps frame at va with perm in this address space.
func (as *AddressSpace) PageInsert(frame mem.FrameID, va uintptr, perm PTE) defs.Err_t {
	return PageInsert(as.tbl, as.dir(), as.Env, as.Type == UserEnv, frame, va, perm)
}

// PageRemove tears down the mapping at va, if any, invalidating the TLB
// entry if this space's directory is the one currently loaded on its CPU
// (spec.md §4.2, §5).
func (as *AddressSpace) PageRemove(va uintptr) {
	PageRemove(as.tbl, as.dir(), as.Env, va)
	if as.Cpu != nil && as.Cpu.Current() == as {
		as.Cpu.invalidate(va)
	}
}

// PageLookup returns the frame mapped at va in this address space.
func (as *AddressSpace) PageLookup(va uintptr) (mem.FrameID, *PTE, bool) {
	return PageLookup(as.tbl, as.dir(), va)
}

// AddVMA records a new mapped region in this space's memory map.
func (as *AddressSpace) AddVMA(va, length uintptr, perm PTE) {
	as.VMAs = append(as.VMAs, VMA{VA: va, Len: length, Perm: perm})
}

// RegionAlloc installs anonymous, zero-filled mappings covering
// [va, va+len), rounded to page boundaries, exposed to the environment
// registry as region_alloc (spec.md §6).
func (as *AddressSpace) RegionAlloc(va, length uintptr, perm PTE) defs.Err_t {
	start := util.RoundDown(va, uintptr(mem.PGSIZE))
	end := util.RoundUp(va+length, uintptr(mem.PGSIZE))

	for a := start; a < end; a += uintptr(mem.PGSIZE) {
		id, err := as.tbl.Alloc(mem.ALLOC_ZERO)
		if err != defs.OK {
			return err
		}
		if err := as.PageInsert(id, a, perm); err != defs.OK {
			// PageInsert's own incref/decref pair already returned id
			// to the free list on failure.
			return err
		}
	}
	as.AddVMA(start, end-start, perm)
	return defs.OK
}

package vm

import (
	"unsafe"

	"pgkernel/defs"
	"pgkernel/mem"
)

// PTE is one page-directory or page-table entry: low 12 bits are
// permission/status flags, high 20 bits are either a frame number (if
// present) or a swap slot index (if not), per spec.md §4.3/GLOSSARY.
type PTE uint32

const (
	PTE_P   PTE = 1 << 0 // present
	PTE_W   PTE = 1 << 1 // writable
	PTE_U   PTE = 1 << 2 // user-accessible
	PTE_PWT PTE = 1 << 3
	PTE_PCD PTE = 1 << 4 // cache-disable, used for MMIO mappings
	PTE_A   PTE = 1 << 5 // accessed, sampled by the clock policy
	PTE_PS  PTE = 1 << 7 // huge (page-size) leaf

	PTE_FLAGMASK = PTE(0xFFF)
	PTE_ADDRMASK = ^PTE_FLAGMASK
)

// Dir is a directory or table of entries; both levels have the same shape
// in this two-level layout (mirrors the 32-bit, non-PAE x86 PD/PT shape
// the original_source's pgdir_walk assumes, one directory entry per
// HugePageSize span).
type Dir [NPDENTRIES]PTE

// Frame extracts the physical frame an entry names. Valid only when the
// entry is present.
func (p PTE) Frame() mem.FrameID { return mem.FrameID(p >> 12) }

// SlotIndex extracts the swap slot a non-present, swapped entry names.
// Zero means "never mapped" rather than "swapped"; spec.md §4.3 reserves
// slot index 0 as the sentinel.
func (p PTE) SlotIndex() uint32 { return uint32(p >> 12) }

// Flags returns the low 12 permission/status bits.
func (p PTE) Flags() PTE { return p & PTE_FLAGMASK }

// Present reports whether P is set.
func (p PTE) Present() bool { return p&PTE_P != 0 }

// Swapped reports whether this is a non-present entry encoding a swap
// slot, as opposed to one that was simply never mapped.
func (p PTE) Swapped() bool { return !p.Present() && p>>12 != 0 }

func mkPTE(frame mem.FrameID, flags PTE) PTE {
	return PTE(frame)<<12 | (flags & PTE_FLAGMASK)
}

// mkSwapPTE encodes a non-present, swapped entry: top bits are the slot
// index, low 12 bits are the original permissions with P cleared.
func mkSwapPTE(slot uint32, flags PTE) PTE {
	return PTE(slot)<<12 | ((flags &^ PTE_P) & PTE_FLAGMASK)
}

// EncodeSwapped rewrites a present PTE in place to a non-present, swapped
// entry: slot in the top bits, the original permission bits (with P
// cleared) in the low 12 (spec.md §4.3). The caller is responsible for the
// matching back-ref/refcount bookkeeping; this only rewrites the entry.
func EncodeSwapped(pte *PTE, slot uint32) {
	*pte = mkSwapPTE(slot, pte.Flags())
}

// dirAt reinterprets a page-table frame's bytes as a Dir, the way
// biscuit's mem.Pg_t/Pmap_t cast a raw frame's bytes via unsafe.Pointer
// rather than copying in and out; a directory or table always occupies
// exactly one frame (sizeof(Dir) == mem.PGSIZE, both 4096 bytes).
func dirAt(tbl *mem.Table, id mem.FrameID) *Dir {
	b := tbl.Bytes(id)
	return (*Dir)(unsafe.Pointer(&b[0]))
}

// Walk returns a pointer to the PTE for va within dir, creating
// intermediate page tables per mode (spec.md §4.2). With NoCreate it
// returns nil if no table is present yet. With Huge it marks the
// directory entry itself as a leaf, never allocating a subtable.
func Walk(tbl *mem.Table, dir *Dir, va uintptr, mode CreateMode) (*PTE, defs.Err_t) {
	pdx := PDX(va)
	pde := &dir[pdx]

	if mode == Huge {
		return pde, defs.OK
	}

	if pde.Present() && pde.Flags()&PTE_PS != 0 {
		// A huge leaf already occupies this directory slot; the
		// caller asked for a normal-level walk into it, which is a
		// page-size mismatch the caller (PageInsert) must resolve
		// before calling Walk again.
		return pde, defs.OK
	}

	if !pde.Present() {
		if mode == NoCreate {
			return nil, defs.OK
		}
		id, err := tbl.Alloc(mem.ALLOC_PREMAPPED | mem.ALLOC_ZERO)
		if err != defs.OK {
			return nil, err
		}
		tbl.Incref(id)
		*pde = mkPTE(id, PTE_P|PTE_W|PTE_U)
	}

	pt := dirAt(tbl, pde.Frame())
	return &pt[PTX(va)], defs.OK
}

// BootMapRegion installs a static, size-aligned run of mappings from va to
// pa without touching ref_count; used for the kernel's own identity-style
// mappings installed once at boot (spec.md §4.2).
func BootMapRegion(tbl *mem.Table, dir *Dir, va uintptr, size uintptr, pa mem.Pa_t, perm PTE) {
	step := uintptr(mem.PGSIZE)
	for off := uintptr(0); off < size; off += step {
		frame := mem.FrameID((pa + mem.Pa_t(off)) / mem.Pa_t(mem.PGSIZE))
		pte, err := Walk(tbl, dir, va+off, Normal)
		if err != defs.OK {
			panic("vm: BootMapRegion out of page-table frames")
		}
		*pte = mkPTE(frame, perm|PTE_P)
	}
}

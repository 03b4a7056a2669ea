package vm

import "pgkernel/mem"

// NPDENTRIES/NPTENTRIES: this is a two-level, 32-bit-style x86 layout (not
// biscuit's own four-level amd64 layout): a directory entry spans
// HugePageSize (1024 * PGSIZE), matching mem.HugePageSize exactly, so a
// single PD entry with PTE_PS is one huge frame.
const (
	NPDENTRIES = 1024
	NPTENTRIES = 1024
)

// HugePageSize is the span of one directory entry.
const HugePageSize = uintptr(NPTENTRIES) * uintptr(mem.PGSIZE)

// Layout constants, bit-exact with the JOS-family layout this module's
// original_source is derived from (kern/pmap.c's KERNBASE/UTOP/UENVS/...).
const (
	KernBase   = uintptr(0xF0000000)
	KStackTop  = KernBase
	KStkSize   = 8 * uintptr(1<<12) // 8 pages
	KStkGap    = 8 * uintptr(1<<12)
	ULim       = uintptr(0xEF800000)
	UVPT       = uintptr(0xEF400000)
	UPages     = UVPT - HugePageSize
	UEnvs      = UPages - HugePageSize
	UTop       = UEnvs
	UxStackTop = UTop
	UStackTop  = UTop - 2*uintptr(mem.PGSIZE)
	UText      = uintptr(0x00800000)

	MMIOBase = ULim
	MMIOLim  = ULim + HugePageSize
)

// PDX extracts the directory index (bits 22..31) of a virtual address.
func PDX(va uintptr) uint32 { return uint32((va >> 22) & (NPDENTRIES - 1)) }

// PTX extracts the table index (bits 12..21) of a virtual address.
func PTX(va uintptr) uint32 { return uint32((va >> 12) & (NPTENTRIES - 1)) }

// PageOffset extracts the in-page offset of a virtual address.
func PageOffset(va uintptr) uintptr { return va & uintptr(mem.PGSIZE-1) }

// CreateMode selects Walk's table-creation behavior.
type CreateMode int

const (
	// NoCreate returns nil if no page table exists yet.
	NoCreate CreateMode = iota
	// Normal allocates a 4 KiB page-table frame if none exists.
	Normal
	// Huge marks the directory entry itself as a huge leaf.
	Huge
)

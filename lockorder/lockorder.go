// Package lockorder implements an optional debug-build checker for the
// lock hierarchy spec.md §5 documents:
//
//  1. Scheduler lock (external).
//  2. Swap-job FIFO lock (swap.JobQueue).
//  3. Swap metadata lock (swap.SlotStore; reverse-map heads live in
//     mem.Table and are covered by its own lock, level 5).
//  4. Per-environment memory lock (vm.AddressSpace).
//  5. Frame-allocator lock (mem.Table).
//  6. Disk lock (external, owned by the ide.Device implementation).
//
// A thread may release lock k to block on I/O and reacquire it after,
// provided it holds no lock of lower number at that point; evictor's
// swapOut/swapIn exploit exactly this by dropping the address-space lock
// (4) before calling into ide.ReadPage/WritePage.
//
// Levels 1 and 6 are owned by external collaborators (the scheduler and
// the block device) and are not tracked by a Guard here; this module's
// own locks occupy 2-5.
package lockorder

// Level names one rung of the spec.md §5 lock hierarchy.
type Level int

const (
	FIFO     Level = 2
	SwapMeta Level = 3
	Env      Level = 4
	Alloc    Level = 5
)

package swap

// Lock order (spec.md §5), never acquired in reverse:
//
//  1. Scheduler lock (external, owned by sched.RunQueue's implementation).
//  2. Swap-job FIFO lock (JobQueue.mu).
//  3. Swap metadata lock (SlotStore.mu; reverse-map heads live in mem.Table
//     and are covered by its own allocator lock, acquired after this one).
//  4. Per-address-space lock (vm.AddressSpace.mu).
//  5. Frame-allocator lock (mem.Table.mu).
//  6. Disk lock (owned by the ide.Device implementation).
//
// A thread may release lock k to block on I/O and reacquire it after,
// provided it holds no lock of lower number at that point. evictor.swapOut
// and evictor.swapIn exploit exactly this: they drop the address-space
// lock (4) before calling into ide.ReadPage/WritePage; the disk lock (6)
// is taken, if at all, inside the ide.Device implementation's own methods.
//
// JobQueue, SlotStore, vm.AddressSpace, and mem.Table each hold a
// pgkernel/lockorder.Guard (levels 2, 3, 4, and 5 respectively) around
// their own mutex's critical section, so a build with the
// pgkernel_lockdebug tag set panics if any of them is acquired out of
// this order; without the tag, lockorder.Guard is a zero-cost no-op (see
// lockorder/debug.go, lockorder/nodebug.go).

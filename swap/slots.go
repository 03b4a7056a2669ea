// Package swap implements the demand-paging engine: the slot store, clock
// policy, cooperative worker, and direct reclaim path. Grounded primarily
// on original_source/kern/pmap.c, with the FIFO idiom borrowed from
// biscuit/src/fs/blk.go's BlkList_t.
package swap

import (
	"sync"

	"pgkernel/caller"
	"pgkernel/defs"
	"pgkernel/ide"
	"pgkernel/limits"
	"pgkernel/lockorder"
	"pgkernel/mem"
)

// SlotIndex names one entry of the swap slot table. 0 is the reserved
// sentinel meaning "no slot" (spec.md §4.3/§4.4).
type SlotIndex uint32

// NoSlotIndex is the reserved sentinel.
const NoSlotIndex SlotIndex = 0

type slotEntry struct {
	inUse    bool
	backRefs []mem.BackRef
}

// SlotStore is the fixed-size, disk-backed swap slot table: N_SLOTS
// entries indexed 1..N-1, a linear lowest-free scan, updated only with the
// store's own lock held (spec.md §4.4). Capacity is tracked with an
// adapted limits.Sysatomic_t so exhaustion surfaces as defs.NoSlot rather
// than a panic.
type SlotStore struct {
	mu    sync.Mutex
	guard *lockorder.Guard
	slots []slotEntry
	quota limits.Sysatomic_t
}

// NewSlotStore returns a store with n slots (including the reserved
// sentinel at index 0).
func NewSlotStore(n int) *SlotStore {
	if n < 2 {
		n = 2
	}
	return &SlotStore{
		slots: make([]slotEntry, n),
		quota: limits.MkSysLimit(int64(n - 1)),
		guard: lockorder.New(),
	}
}

// lock acquires the swap metadata lock (spec.md §5 level 3).
func (s *SlotStore) lock() {
	s.guard.Acquire(lockorder.SwapMeta)
	s.mu.Lock()
}

// unlock releases the swap metadata lock.
func (s *SlotStore) unlock() {
	s.mu.Unlock()
	s.guard.Release(lockorder.SwapMeta)
}

// Alloc returns the lowest free slot index, or defs.NoSlot if the table is
// full.
func (s *SlotStore) Alloc() (SlotIndex, defs.Err_t) {
	s.lock()
	defer s.unlock()
	for i := 1; i < len(s.slots); i++ {
		if !s.slots[i].inUse {
			if !s.quota.Take() {
				return NoSlotIndex, defs.NoSlot
			}
			s.slots[i].inUse = true
			return SlotIndex(i), defs.OK
		}
	}
	return NoSlotIndex, defs.NoSlot
}

// Free releases idx, dropping its captured back-ref snapshot.
func (s *SlotStore) Free(idx SlotIndex) {
	s.lock()
	defer s.unlock()
	if idx == NoSlotIndex || int(idx) >= len(s.slots) {
		panic("swap: free of invalid slot index\n\t<-" + caller.Dump(2))
	}
	if !s.slots[idx].inUse {
		panic("swap: double free of swap slot\n\t<-" + caller.Dump(2))
	}
	s.slots[idx] = slotEntry{}
	s.quota.Give()
}

// SetBackRefs records the back-ref snapshot captured at swap-out time.
func (s *SlotStore) SetBackRefs(idx SlotIndex, refs []mem.BackRef) {
	s.lock()
	defer s.unlock()
	s.slots[idx].backRefs = refs
}

// BackRefs returns the back-ref snapshot recorded for idx.
func (s *SlotStore) BackRefs(idx SlotIndex) []mem.BackRef {
	s.lock()
	defer s.unlock()
	return s.slots[idx].backRefs
}

// Sector returns the device sector at which slot idx's page-sized content
// begins (spec.md §4.4: "slot i occupies disk sectors [i*PGSIZE/SECT,
// (i+1)*PGSIZE/SECT)").
func (s *SlotStore) Sector(idx SlotIndex, pageSize int) int {
	return int(idx) * ide.SectorsPerPage(pageSize)
}

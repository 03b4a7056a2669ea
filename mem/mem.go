// Package mem implements the physical frame table: one descriptor per
// physical frame, free lists for 4 KiB frames, a linear scan for 4 MiB
// ("huge") frame runs, and the reverse map tying frames back to the
// (environment, virtual address) pairs that reference them.
//
// Grounded on biscuit/src/mem/mem.go's Physmem_t (index-linked free list,
// per-frame descriptor array, direct-map-style frame access) and
// original_source/kern/pmap.c's page_info/page_free_list/page_alloc.
package mem

import (
	"fmt"
	"sync"

	"pgkernel/caller"
	"pgkernel/config"
	"pgkernel/defs"
	"pgkernel/lockorder"
)

// Pa_t is a physical address.
type Pa_t uintptr

const (
	// PGSHIFT is the base-2 exponent of the page size.
	PGSHIFT uint = 12
	// PGSIZE is the size of a single frame in bytes.
	PGSIZE int = 1 << PGSHIFT
)

// HugePageSize is the spec's bit-exact HUGE_PGSIZE: 1024 frames, matching
// config.Paging.FramesPerHuge's default exactly (see config.Default).
const HugePageSize = 1024 * PGSIZE

// PGOFFSET masks the in-page offset of an address.
const PGOFFSET Pa_t = Pa_t(PGSIZE - 1)

// PGMASK masks the frame-aligned bits of an address.
const PGMASK = ^PGOFFSET

// FrameID indexes the frame table. It, not a Pa_t, is how the rest of this
// module names a physical frame, per spec.md §9's cyclic-reference note.
type FrameID uint32

// NoFrame is the sentinel "no frame"/"end of list" value.
const NoFrame FrameID = ^FrameID(0)

// AllocFlags modify Table.Alloc.
type AllocFlags uint

const (
	// ALLOC_ZERO zero-fills the returned frame before Alloc returns.
	ALLOC_ZERO AllocFlags = 1 << iota
	// ALLOC_HUGE returns a 4 MiB aligned run of FramesPerHuge frames.
	ALLOC_HUGE
	// ALLOC_PREMAPPED restricts the result to frames below the
	// premapped watermark, i.e. frames the kernel can currently address
	// without a fresh mapping of its own.
	ALLOC_PREMAPPED
)

type frameFlags uint8

const (
	flagHuge frameFlags = 1 << iota
	// flagInFlight marks a frame mid-eviction, serializing direct
	// reclaim against the cooperative swap worker (spec.md §9, open
	// question 1).
	flagInFlight
	flagFree
	flagReserved
)

// frameDesc is one physical-frame descriptor.
type frameDesc struct {
	refCount int32
	// freePrev/freeNext thread this frame through Table's doubly linked
	// free list, so an arbitrary frame (not just the head) can be
	// unlinked in O(1) when a huge-frame run is claimed.
	freePrev, freeNext FrameID
	flags              frameFlags
	// aging is the clock policy's per-frame aging register.
	aging uint8
	// backRefs is the head of this frame's reverse-map list.
	backRefs *BackRef
}

// Reclaimer is the direct-reclaim collaborator the allocator calls into
// when both free lists are empty. It is implemented by swap.DirectReclaim;
// mem cannot import swap (swap imports mem), so the dependency is
// injected via SetReclaimer to avoid a cycle.
type Reclaimer interface {
	// Reclaim attempts to evict one frame synchronously and reports
	// whether it made progress.
	Reclaim() bool
}

// Table is the process-wide physical frame table. It is constructed
// explicitly by NewTable (never hidden package state) and passed by
// reference to the rest of the kernel, per spec.md §9.
type Table struct {
	mu    sync.Mutex
	guard *lockorder.Guard

	cfg config.Paging

	frames []frameDesc
	base   Pa_t // physical address of frames[0]

	freeHead, freeTail FrameID
	freeCount          int

	// premappedBound is the exclusive upper FrameID bound of frames the
	// allocator may zero or otherwise touch directly; it rises
	// monotonically as boot proceeds (spec.md §4.1).
	premappedBound FrameID

	pool *backRefPool

	// arena simulates physical storage so tests can verify byte
	// contents across a swap round trip; it stands in for the direct
	// map biscuit installs once Dmap_init runs.
	arena []byte

	reclaim Reclaimer
}

// Reserved describes a permanently excluded frame range (physical page 0,
// the I/O hole, the kernel image, the AP-entry trampoline, ...). Frames in
// [Start, Start+Len) are never linked onto any free list.
type Reserved struct {
	Start FrameID
	Len   uint32
}

// NewTable builds a frame table covering nframes frames starting at
// physical address base, with the given ranges permanently excluded from
// the free list.
func NewTable(cfg config.Paging, base Pa_t, nframes int, reserved []Reserved) *Table {
	t := &Table{
		guard:          lockorder.New(),
		cfg:            cfg,
		frames:         make([]frameDesc, nframes),
		base:           base,
		freeHead:       NoFrame,
		freeTail:       NoFrame,
		premappedBound: FrameID(nframes), // simulation: all frames start premapped
		pool:           newBackRefPool(nframes * 4),
		arena:          make([]byte, nframes*PGSIZE),
	}
	excluded := make([]bool, nframes)
	for _, r := range reserved {
		for i := uint32(0); i < r.Len; i++ {
			id := r.Start + FrameID(i)
			if int(id) < nframes {
				excluded[id] = true
			}
		}
	}
	for i := range t.frames {
		t.frames[i].freePrev, t.frames[i].freeNext = NoFrame, NoFrame
		if excluded[i] {
			t.frames[i].flags |= flagReserved
			continue
		}
		t.pushFree(FrameID(i))
	}
	return t
}

// lock acquires the frame-allocator lock (spec.md §5 level 5), recording
// the acquisition with this table's lockorder.Guard.
func (t *Table) lock() {
	t.guard.Acquire(lockorder.Alloc)
	t.mu.Lock()
}

// unlock releases the frame-allocator lock.
func (t *Table) unlock() {
	t.mu.Unlock()
	t.guard.Release(lockorder.Alloc)
}

// SetReclaimer wires the direct-reclaim collaborator invoked on OOM.
func (t *Table) SetReclaimer(r Reclaimer) {
	t.lock()
	defer t.unlock()
	t.reclaim = r
}

// SetPremappedBound raises the premapped watermark, e.g. once the kernel's
// own page directory is installed and the whole physical range is
// addressable (spec.md §4.1).
func (t *Table) SetPremappedBound(b FrameID) {
	t.lock()
	defer t.unlock()
	t.premappedBound = b
}

// NFrames returns the number of frames in the table.
func (t *Table) NFrames() int { return len(t.frames) }

// PA returns the physical address of a frame.
func (t *Table) PA(id FrameID) Pa_t {
	return t.base + Pa_t(id)*Pa_t(PGSIZE)
}

func (t *Table) isFree(id FrameID) bool {
	return t.frames[id].flags&flagFree != 0
}

func (t *Table) pushFree(id FrameID) {
	f := &t.frames[id]
	f.freePrev = NoFrame
	f.freeNext = t.freeHead
	if t.freeHead != NoFrame {
		t.frames[t.freeHead].freePrev = id
	}
	t.freeHead = id
	if t.freeTail == NoFrame {
		t.freeTail = id
	}
	f.flags |= flagFree
	t.freeCount++
}

func (t *Table) removeFree(id FrameID) {
	f := &t.frames[id]
	if f.flags&flagFree == 0 {
		panic("mem: removeFree of frame not on free list")
	}
	if f.freePrev != NoFrame {
		t.frames[f.freePrev].freeNext = f.freeNext
	} else {
		t.freeHead = f.freeNext
	}
	if f.freeNext != NoFrame {
		t.frames[f.freeNext].freePrev = f.freePrev
	} else {
		t.freeTail = f.freePrev
	}
	f.freePrev, f.freeNext = NoFrame, NoFrame
	f.flags &^= flagFree
	t.freeCount--
}

func (t *Table) popFree() (FrameID, bool) {
	if t.freeHead == NoFrame {
		return NoFrame, false
	}
	id := t.freeHead
	t.removeFree(id)
	return id, true
}

func (t *Table) popFreePremapped() (FrameID, bool) {
	for id := t.freeHead; id != NoFrame; id = t.frames[id].freeNext {
		if id < t.premappedBound {
			t.removeFree(id)
			return id, true
		}
	}
	return NoFrame, false
}

// allocHugeLocked scans linearly for the first aligned run of
// cfg.FramesPerHuge free frames, per spec.md §4.1 and §9 (an implementation
// may replace the scan with a bitmap; this module keeps the scan, matching
// the teacher's willingness to accept O(n) allocator paths in a teaching
// kernel with no production SLA).
func (t *Table) allocHugeLocked() (FrameID, bool) {
	run := FrameID(t.cfg.FramesPerHuge)
	if run == 0 {
		panic("mem: FramesPerHuge is zero")
	}
	n := FrameID(len(t.frames))
	for start := FrameID(0); start+run <= n; start += run {
		ok := true
		for i := FrameID(0); i < run; i++ {
			f := &t.frames[start+i]
			if f.flags&flagReserved != 0 || f.flags&flagFree == 0 {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		for i := FrameID(0); i < run; i++ {
			t.removeFree(start + i)
		}
		t.frames[start].flags |= flagHuge
		return start, true
	}
	return NoFrame, false
}

func (t *Table) allocLocked(flags AllocFlags) (FrameID, bool) {
	if flags&ALLOC_HUGE != 0 {
		return t.allocHugeLocked()
	}
	if flags&ALLOC_PREMAPPED != 0 {
		return t.popFreePremapped()
	}
	return t.popFree()
}

// Alloc returns a fresh frame or defs.OOM. The returned frame's ref_count
// is 0; callers (typically vm.PageInsert) bump it explicitly, matching
// original_source/kern/pmap.c's page_alloc/page_insert split.
func (t *Table) Alloc(flags AllocFlags) (FrameID, defs.Err_t) {
	t.lock()
	id, ok := t.allocLocked(flags)
	t.unlock()

	if !ok {
		if t.reclaim == nil || !t.reclaim.Reclaim() {
			return NoFrame, defs.OOM
		}
		t.lock()
		id, ok = t.allocLocked(flags)
		t.unlock()
		if !ok {
			return NoFrame, defs.OOM
		}
	}

	if flags&ALLOC_ZERO != 0 && id < t.premappedBound {
		t.zero(id)
	}
	return id, defs.OK
}

func (t *Table) zero(id FrameID) {
	off := int(id) * PGSIZE
	b := t.arena[off : off+PGSIZE]
	for i := range b {
		b[i] = 0
	}
}

// Bytes returns the byte-addressable contents of frame id. It stands in
// for biscuit's Dmap direct map: once a frame is mapped anywhere, every
// address space that maps it sees the same bytes through it.
func (t *Table) Bytes(id FrameID) []byte {
	off := int(id) * PGSIZE
	return t.arena[off : off+PGSIZE]
}

// RefCount returns a frame's current reference count.
func (t *Table) RefCount(id FrameID) int {
	t.lock()
	defer t.unlock()
	return int(t.frames[id].refCount)
}

// Incref bumps a frame's reference count.
func (t *Table) Incref(id FrameID) {
	t.lock()
	defer t.unlock()
	t.frames[id].refCount++
}

// Decref drops a frame's reference count, freeing it (and, for a huge
// head, its 1023 successors) once it reaches zero and no back-ref remains.
func (t *Table) Decref(id FrameID) {
	t.lock()
	defer t.unlock()
	f := &t.frames[id]
	if f.refCount <= 0 {
		panic(fmt.Sprintf("mem: decref of frame %d with ref_count %d\n\t<-%s", id, f.refCount, caller.Dump(2)))
	}
	f.refCount--
	if f.refCount == 0 && f.backRefs == nil {
		t.freeLocked(id)
	}
}

// Free returns an unreferenced frame to the free list. It panics (an
// INVAL-class kernel bug per spec.md §7) if the frame is already free or
// still referenced.
func (t *Table) Free(id FrameID) {
	t.lock()
	defer t.unlock()
	f := &t.frames[id]
	if f.refCount != 0 {
		panic(fmt.Sprintf("mem: free of frame %d with ref_count %d\n\t<-%s", id, f.refCount, caller.Dump(2)))
	}
	if f.flags&flagFree != 0 {
		panic(fmt.Sprintf("mem: double free of frame %d\n\t<-%s", id, caller.Dump(2)))
	}
	t.freeLocked(id)
}

func (t *Table) freeLocked(id FrameID) {
	f := &t.frames[id]
	isHuge := f.flags&flagHuge != 0
	f.flags &^= flagHuge | flagInFlight
	t.pushFree(id)
	if isHuge {
		run := FrameID(t.cfg.FramesPerHuge)
		for i := FrameID(1); i < run; i++ {
			succ := id + i
			t.pushFree(succ)
		}
	}
}

// IsHuge reports whether id is the head of an allocated huge run.
func (t *Table) IsHuge(id FrameID) bool {
	t.lock()
	defer t.unlock()
	return t.frames[id].flags&flagHuge != 0
}

// markInFlight/clearInFlight implement spec.md §9's open-question
// serialization between direct reclaim and the cooperative swap worker:
// a frame picked as a victim is marked in-flight until its eviction
// completes, so the other reclaim path skips it instead of double-evicting.
func (t *Table) markInFlight(id FrameID) bool {
	f := &t.frames[id]
	if f.flags&flagInFlight != 0 {
		return false
	}
	f.flags |= flagInFlight
	return true
}

func (t *Table) clearInFlight(id FrameID) {
	t.frames[id].flags &^= flagInFlight
}

// MarkInFlight attempts to claim id as an eviction victim, returning false
// if another path already claimed it first. It is the exported entry
// point for the serialization spec.md §9's open question requires between
// direct reclaim and the cooperative swap worker.
func (t *Table) MarkInFlight(id FrameID) bool {
	t.lock()
	defer t.unlock()
	return t.markInFlight(id)
}

// ClearInFlight releases an eviction claim on id.
func (t *Table) ClearInFlight(id FrameID) {
	t.lock()
	defer t.unlock()
	t.clearInFlight(id)
}

// InFlight reports whether id is currently being evicted.
func (t *Table) InFlight(id FrameID) bool {
	t.lock()
	defer t.unlock()
	return t.frames[id].flags&flagInFlight != 0
}

// Aging returns a frame's current aging counter.
func (t *Table) Aging(id FrameID) uint8 {
	t.lock()
	defer t.unlock()
	return t.frames[id].aging
}

// AgeSample folds one accessed-bit observation into a frame's aging
// counter: high bit set iff accessed, OR'd (bitwise, per spec.md §9's
// correction of the source's logical-OR bug) with the register shifted
// right by one.
func (t *Table) AgeSample(id FrameID, accessed bool, width uint) {
	t.lock()
	defer t.unlock()
	f := &t.frames[id]
	high := uint8(0)
	if accessed {
		high = 1 << (width - 1)
	}
	f.aging = high | (f.aging >> 1)
}

// FreeCount returns the number of frames currently on the free list.
func (t *Table) FreeCount() int {
	t.lock()
	defer t.unlock()
	return t.freeCount
}

package mem

import "sync"

// EnvID names an address space for reverse-map purposes. mem cannot import
// vm's AddressSpace type (vm imports mem), so back-refs are keyed by this
// plain integer instead; vm.AddressSpace carries the matching EnvID.
type EnvID uint32

// BackRef is one (environment, virtual address) reference to a frame.
// Frames chain these as a singly linked list, grounded on
// original_source/kern/pmap.c's pg_swap_entry/pse_next list.
type BackRef struct {
	Env  EnvID
	VA   uintptr
	next *BackRef
}

// backRefPool is a fixed-size pool of BackRef nodes, grounded on
// original_source/kern/pmap.c's pgswaps_init/pgswap_alloc structure cache:
// the reverse map must never allocate from the general heap on the
// page-fault path, so nodes come from a pre-sized arena instead.
type backRefPool struct {
	mu    sync.Mutex
	nodes []BackRef
	free  *BackRef
}

func newBackRefPool(n int) *backRefPool {
	if n < 1 {
		n = 1
	}
	p := &backRefPool{nodes: make([]BackRef, n)}
	for i := range p.nodes {
		p.nodes[i].next = p.free
		p.free = &p.nodes[i]
	}
	return p
}

func (p *backRefPool) alloc() *BackRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.free
	if n == nil {
		return nil
	}
	p.free = n.next
	*n = BackRef{}
	return n
}

func (p *backRefPool) release(n *BackRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n.next = p.free
	p.free = n
}

// AddBackRef records that (env, va) now maps frame id. It panics if the
// back-ref pool is exhausted: original_source/kern/pmap.c treats that as
// "OUT OF STRUCTURE CACHE", a kernel bug rather than an expected failure,
// since the pool is sized up front at four nodes per frame.
func (t *Table) AddBackRef(id FrameID, env EnvID, va uintptr) {
	n := t.pool.alloc()
	if n == nil {
		panic("mem: back-ref pool exhausted")
	}
	n.Env = env
	n.VA = va

	t.lock()
	defer t.unlock()
	f := &t.frames[id]
	n.next = f.backRefs
	f.backRefs = n
}

// RemoveBackRef drops the (env, va) reference to frame id, releasing the
// node back to the pool. It reports whether a matching entry was found.
func (t *Table) RemoveBackRef(id FrameID, env EnvID, va uintptr) bool {
	t.lock()
	f := &t.frames[id]
	var prev *BackRef
	cur := f.backRefs
	for cur != nil {
		if cur.Env == env && cur.VA == va {
			if prev == nil {
				f.backRefs = cur.next
			} else {
				prev.next = cur.next
			}
			break
		}
		prev = cur
		cur = cur.next
	}
	found := cur != nil
	shouldFree := found && f.backRefs == nil && f.refCount == 0
	t.unlock()

	if !found {
		return false
	}
	t.pool.release(cur)

	if shouldFree {
		t.lock()
		// Re-check under lock: refCount/backRefs may have changed
		// between the unlock above and here.
		if t.frames[id].refCount == 0 && t.frames[id].backRefs == nil && t.frames[id].flags&flagFree == 0 {
			t.freeLocked(id)
		}
		t.unlock()
	}
	return true
}

// BackRefs returns a snapshot of the (env, va) pairs currently referencing
// frame id, e.g. for swap-out to record in a slot's reverse-map list.
func (t *Table) BackRefs(id FrameID) []BackRef {
	t.lock()
	defer t.unlock()
	var out []BackRef
	for cur := t.frames[id].backRefs; cur != nil; cur = cur.next {
		out = append(out, BackRef{Env: cur.Env, VA: cur.VA})
	}
	return out
}

// HasBackRefs reports whether any (env, va) pair currently references id.
func (t *Table) HasBackRefs(id FrameID) bool {
	t.lock()
	defer t.unlock()
	return t.frames[id].backRefs != nil
}

package mem

import (
	"testing"

	"pgkernel/config"
	"pgkernel/defs"
)

func freshTable(t *testing.T, nframes int) *Table {
	t.Helper()
	cfg := config.Default()
	return NewTable(cfg, 0, nframes, nil)
}

// Three-page alloc/free: allocate three frames, free them in a different
// order than allocated, confirm the free count returns to its starting
// value and no frame is double-counted (spec.md §8 scenario 1).
func TestThreePageAllocFree(t *testing.T) {
	tb := freshTable(t, 16)
	start := tb.FreeCount()

	var ids []FrameID
	for i := 0; i < 3; i++ {
		id, err := tb.Alloc(0)
		if err != defs.OK {
			t.Fatalf("alloc %d: %v", i, err)
		}
		tb.Incref(id)
		ids = append(ids, id)
	}
	if tb.FreeCount() != start-3 {
		t.Fatalf("free count after alloc = %d, want %d", tb.FreeCount(), start-3)
	}

	tb.Decref(ids[1])
	tb.Decref(ids[0])
	tb.Decref(ids[2])

	if tb.FreeCount() != start {
		t.Fatalf("free count after free = %d, want %d", tb.FreeCount(), start)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	tb := freshTable(t, 4)
	id, err := tb.Alloc(0)
	if err != defs.OK {
		t.Fatalf("alloc: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on free of ref_count==0, not-yet-referenced frame double free")
		}
	}()
	tb.Free(id)
	tb.Free(id)
}

func TestDecrefUnderflowPanics(t *testing.T) {
	tb := freshTable(t, 4)
	id, err := tb.Alloc(0)
	if err != defs.OK {
		t.Fatalf("alloc: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on decref of zero ref_count")
		}
	}()
	tb.Decref(id)
}

// Huge alignment law: a huge allocation returns a frame ID aligned to
// FramesPerHuge, and all 1023 successors are unavailable to normal alloc
// while the head is allocated (spec.md §8 scenario 3 precursor, §3
// invariant on huge runs).
func TestHugeAllocAlignmentAndReservation(t *testing.T) {
	cfg := config.Default()
	n := int(cfg.FramesPerHuge) * 2
	tb := NewTable(cfg, 0, n, nil)

	id, err := tb.Alloc(ALLOC_HUGE)
	if err != defs.OK {
		t.Fatalf("huge alloc: %v", err)
	}
	if uint32(id)%cfg.FramesPerHuge != 0 {
		t.Fatalf("huge frame %d not aligned to %d", id, cfg.FramesPerHuge)
	}
	if !tb.IsHuge(id) {
		t.Fatal("head frame not marked huge")
	}

	want := tb.FreeCount()
	for i := uint32(1); i < cfg.FramesPerHuge; i++ {
		succ := id + FrameID(i)
		if tb.isFree(succ) {
			t.Fatalf("successor frame %d still free while huge head allocated", succ)
		}
	}

	tb.Incref(id)
	tb.Decref(id)
	if tb.FreeCount() != want+int(cfg.FramesPerHuge) {
		t.Fatalf("free count after huge free = %d, want %d", tb.FreeCount(), want+int(cfg.FramesPerHuge))
	}
}

func TestReservedFramesNeverAllocated(t *testing.T) {
	tb := NewTable(config.Default(), 0, 8, []Reserved{{Start: 0, Len: 2}})
	seen := map[FrameID]bool{}
	for i := 0; i < 6; i++ {
		id, err := tb.Alloc(0)
		if err != defs.OK {
			t.Fatalf("alloc %d: %v", i, err)
		}
		tb.Incref(id)
		seen[id] = true
	}
	if seen[0] || seen[1] {
		t.Fatal("reserved frame was allocated")
	}
	if _, err := tb.Alloc(0); err != defs.OOM {
		t.Fatalf("alloc past capacity = %v, want OOM", err)
	}
}

// Reverse-map invariant: a frame with a live back-ref is never returned to
// the free list purely by Decref reaching zero, and removing the last
// back-ref with ref_count already zero frees it.
func TestBackRefKeepsFrameAllocated(t *testing.T) {
	tb := freshTable(t, 4)
	id, err := tb.Alloc(0)
	if err != defs.OK {
		t.Fatalf("alloc: %v", err)
	}
	tb.Incref(id)
	tb.AddBackRef(id, 1, 0x1000)

	tb.Decref(id)
	if tb.isFree(id) {
		t.Fatal("frame freed while a back-ref remains")
	}

	if !tb.RemoveBackRef(id, 1, 0x1000) {
		t.Fatal("RemoveBackRef did not find the entry")
	}
	if !tb.isFree(id) {
		t.Fatal("frame not freed once ref_count==0 and last back-ref removed")
	}
}

func TestBackRefSnapshotOrderIndependent(t *testing.T) {
	tb := freshTable(t, 4)
	id, err := tb.Alloc(0)
	if err != defs.OK {
		t.Fatalf("alloc: %v", err)
	}
	tb.AddBackRef(id, 1, 0x1000)
	tb.AddBackRef(id, 2, 0x2000)

	refs := tb.BackRefs(id)
	if len(refs) != 2 {
		t.Fatalf("got %d back-refs, want 2", len(refs))
	}
	found1, found2 := false, false
	for _, r := range refs {
		if r.Env == 1 && r.VA == 0x1000 {
			found1 = true
		}
		if r.Env == 2 && r.VA == 0x2000 {
			found2 = true
		}
	}
	if !found1 || !found2 {
		t.Fatalf("back-ref snapshot missing an entry: %+v", refs)
	}
}

func TestOOMInvokesReclaimer(t *testing.T) {
	tb := freshTable(t, 1)
	id, err := tb.Alloc(0)
	if err != defs.OK {
		t.Fatalf("alloc: %v", err)
	}
	tb.Incref(id)

	called := false
	tb.SetReclaimer(reclaimFunc(func() bool {
		called = true
		tb.Decref(id)
		return true
	}))

	got, err := tb.Alloc(0)
	if err != defs.OK {
		t.Fatalf("alloc after reclaim: %v", err)
	}
	if !called {
		t.Fatal("reclaimer was not invoked on OOM")
	}
	if got != id {
		t.Fatalf("alloc after reclaim returned %d, want reclaimed frame %d", got, id)
	}
}

func TestOOMWithoutReclaimerFails(t *testing.T) {
	tb := freshTable(t, 1)
	id, err := tb.Alloc(0)
	if err != defs.OK {
		t.Fatalf("alloc: %v", err)
	}
	tb.Incref(id)

	if _, err := tb.Alloc(0); err != defs.OOM {
		t.Fatalf("alloc with full table, no reclaimer = %v, want OOM", err)
	}
}

type reclaimFunc func() bool

func (f reclaimFunc) Reclaim() bool { return f() }

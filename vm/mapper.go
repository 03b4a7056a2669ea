package vm

import (
	"pgkernel/caller"
	"pgkernel/defs"
	"pgkernel/mem"
	"pgkernel/util"
)

// PageInsert maps frame at va within dir with perm, following spec.md
// §4.2's five-step contract: incref before any removal (so re-inserting
// the same frame at the same va is a refcount no-op), resolve a mismatched
// existing page size, walk (creating tables as needed), write the PTE and
// propagate perm into the parent directory entry, and register a back-ref
// when the mapping belongs to a user environment.
func PageInsert(tbl *mem.Table, dir *Dir, env mem.EnvID, isUser bool, frame mem.FrameID, va uintptr, perm PTE) defs.Err_t {
	wantHuge := perm&PTE_PS != 0
	if tbl.IsHuge(frame) != wantHuge {
		panic("vm: PageInsert huge/normal mismatch between frame and perm\n\t<-" + caller.Dump(2))
	}

	tbl.Incref(frame)

	pdx := PDX(va)
	pde := &dir[pdx]
	if pde.Present() {
		haveHuge := pde.Flags()&PTE_PS != 0
		if haveHuge != wantHuge {
			if haveHuge {
				PageRemove(tbl, dir, env, va)
			} else {
				base := util.RoundDown(va, HugePageSize)
				for i := uintptr(0); i < NPTENTRIES; i++ {
					PageRemove(tbl, dir, env, base+i*uintptr(mem.PGSIZE))
				}
			}
		}
	}

	mode := Normal
	if wantHuge {
		mode = Huge
	}
	pte, err := Walk(tbl, dir, va, mode)
	if err != defs.OK {
		tbl.Decref(frame)
		return err
	}

	if pte.Present() {
		PageRemove(tbl, dir, env, va)
		pte, err = Walk(tbl, dir, va, mode)
		if err != defs.OK {
			tbl.Decref(frame)
			return err
		}
	}

	*pte = mkPTE(frame, perm|PTE_P)
	if !wantHuge {
		dir[pdx] |= perm & (PTE_W | PTE_U)
	}

	if isUser {
		tbl.AddBackRef(frame, env, va)
	}
	return defs.OK
}

// PageRemove tears down the mapping at va, if any: drops the matching
// back-ref, decrements the frame's ref_count, and clears the PTE. A va
// with no present mapping is a silent no-op (spec.md §4.2).
func PageRemove(tbl *mem.Table, dir *Dir, env mem.EnvID, va uintptr) {
	pdx := PDX(va)
	pde := &dir[pdx]
	if !pde.Present() {
		return
	}

	if pde.Flags()&PTE_PS != 0 {
		frame := pde.Frame()
		tbl.RemoveBackRef(frame, env, va)
		*pde = 0
		tbl.Decref(frame)
		return
	}

	pt := dirAt(tbl, pde.Frame())
	pte := &pt[PTX(va)]
	if !pte.Present() {
		return
	}
	frame := pte.Frame()
	tbl.RemoveBackRef(frame, env, va)
	*pte = 0
	tbl.Decref(frame)
}

// PageLookup returns the frame mapped at va and a pointer to its PTE, or
// ok==false if nothing is mapped there. A non-present leaf PTE that
// encodes a swap slot is returned with ok==true and frame NoFrame, so
// callers can read the slot from it; a non-present directory entry is
// always reported as ok==false.
func PageLookup(tbl *mem.Table, dir *Dir, va uintptr) (frame mem.FrameID, pte *PTE, ok bool) {
	pdx := PDX(va)
	pde := &dir[pdx]
	if !pde.Present() {
		return mem.NoFrame, nil, false
	}
	if pde.Flags()&PTE_PS != 0 {
		return pde.Frame(), pde, true
	}
	pt := dirAt(tbl, pde.Frame())
	leaf := &pt[PTX(va)]
	if !leaf.Present() {
		if leaf.Swapped() {
			return mem.NoFrame, leaf, true
		}
		return mem.NoFrame, nil, false
	}
	return leaf.Frame(), leaf, true
}

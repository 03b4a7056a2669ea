package vm

import (
	"pgkernel/defs"
	"pgkernel/mem"
	"pgkernel/util"
)

// EnvKiller is the external collaborator that terminates an environment
// after a fatal user-memory-check failure (spec.md §4.8); injected rather
// than imported, since environment lifecycle is out of this module's scope.
type EnvKiller interface {
	Kill(env uint32, reason string)
}

// UserMemCheck validates that every page in [va, va+length) is mapped in
// this address space with at least perm|PTE_P. It does not alter state
// and does not fault in swapped pages: a non-present PTE, swapped or
// never-mapped, is a failure either way (spec.md §4.8).
func (as *AddressSpace) UserMemCheck(va uintptr, length int, perm PTE) defs.Err_t {
	start := util.RoundDown(va, uintptr(mem.PGSIZE))
	end := va + uintptr(length)
	for a := start; a < end; a += uintptr(mem.PGSIZE) {
		_, pte, ok := as.PageLookup(a)
		if !ok || !pte.Present() || pte.Flags()&(perm|PTE_P) != (perm|PTE_P) {
			as.LastFault = a
			return defs.Fault
		}
	}
	return defs.OK
}

// UserMemAssert behaves like UserMemCheck, but on failure also terminates
// the owning environment via killer.
func (as *AddressSpace) UserMemAssert(va uintptr, length int, perm PTE, killer EnvKiller) defs.Err_t {
	err := as.UserMemCheck(va, length, perm)
	if err != defs.OK && killer != nil {
		killer.Kill(uint32(as.Env), "user memory check failed")
	}
	return err
}

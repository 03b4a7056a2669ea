package swap

import (
	"pgkernel/defs"
	"pgkernel/ide"
	"pgkernel/mem"
	"pgkernel/sched"
	"pgkernel/stats"
)

// OOMKiller is the external collaborator invoked when direct reclaim finds
// no eligible victim (spec.md §4.7).
type OOMKiller interface {
	KillVictim() bool
}

// DirectReclaim implements mem.Reclaimer: invoked synchronously by the
// frame allocator when both free lists are empty. Grounded on
// original_source/kern/pmap.c's direct_page_reclaim (global-minimum-aging
// scan, inline blocking swap-out, oom_kill_default fallback).
type DirectReclaim struct {
	tbl    *mem.Table
	runq   sched.RunQueue
	clock  *Clock
	ev     *evictor
	killer OOMKiller
	st     *stats.Swap
}

// NewDirectReclaim builds a direct-reclaim path. Call tbl.SetReclaimer
// with the result to wire it into the allocator's OOM path.
func NewDirectReclaim(tbl *mem.Table, runq sched.RunQueue, clock *Clock, slots *SlotStore, dev ide.Device, st *stats.Swap, prof *Profiler, killer OOMKiller) *DirectReclaim {
	return &DirectReclaim{
		tbl:    tbl,
		runq:   runq,
		clock:  clock,
		ev:     &evictor{tbl: tbl, slots: slots, runq: runq, dev: dev, st: st, prof: prof},
		killer: killer,
		st:     st,
	}
}

// Reclaim performs one synchronous clock pass, evicts the globally
// lowest-aging frame inline with blocking I/O, and invokes the OOM killer
// if nothing is eligible (spec.md §4.7). It implements mem.Reclaimer.
func (d *DirectReclaim) Reclaim() bool {
	d.st.ReclaimPass.Inc()

	victim, found := d.clock.pickVictim(d.runq.Envs())
	if !found {
		d.st.ReclaimFails.Inc()
		if d.killer != nil {
			return d.killer.KillVictim()
		}
		return false
	}

	if !d.tbl.MarkInFlight(victim) {
		// Lost the race to the cooperative worker; report no progress,
		// so the allocation that called in returns OOM.
		return false
	}

	return d.ev.swapOut(victim, nil) == defs.OK
}

// Package sched declares the scheduler primitives this module consumes
// and produces (spec.md §6). The scheduler itself is out of scope; these
// are injected interfaces a hosting kernel implements. Written directly
// from spec.md and original_source/kern/pmap.c's kernel_thread_sleep/
// kernel_thread_desched/env_run_list calls, since biscuit's own scheduler
// packages (proc, res) were retrieved empty from the pack.
package sched

import "pgkernel/vm"

// Yielder is the cooperative kernel-thread primitive the swap worker and
// clock policy sleep/deschedule through between passes and at suspension
// points (spec.md §4.5, §4.6).
type Yielder interface {
	Sleep(ticks int)
	Desched()
}

// RunQueue is the scheduler's run list: the clock policy walks Envs() to
// sample every non-kernel address space, and the swap worker re-enqueues
// a swapped-in environment once it becomes runnable again.
type RunQueue interface {
	Enqueue(as *vm.AddressSpace)
	Envs() []*vm.AddressSpace
}

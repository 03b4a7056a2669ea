// Package config holds the tunables that the original lab hardcoded as
// file-scope globals or #defines. mem_init callers build one of these and
// pass it explicitly into mem.NewTable/swap.NewClock, per spec.md's design
// note against hiding singleton state behind implicit package globals.
package config

import "time"

// Paging describes the knobs of the physical memory / swap subsystem.
type Paging struct {
	// NSlots is the number of entries in the swap slot table, including
	// the reserved sentinel slot 0.
	NSlots int
	// ClockInterval is how long the clock/aging kernel thread sleeps
	// between sampling passes.
	ClockInterval time.Duration
	// AgingWidth is the number of bits in the per-frame aging register.
	// The spec's "high bit" reference is the top bit of this width.
	AgingWidth uint
	// FramesPerHuge is the number of 4 KiB frames a huge frame spans.
	FramesPerHuge uint32
}

// Default returns the tunables used by the reference lab: 64 swap slots,
// an 8-bit aging register, a one-tick clock interval, and 1024 frames per
// huge page (4 MiB huge frames over 4 KiB frames).
func Default() Paging {
	return Paging{
		NSlots:        64,
		ClockInterval: 10 * time.Millisecond,
		AgingWidth:    8,
		FramesPerHuge: 1024,
	}
}

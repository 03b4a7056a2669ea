// Package defs holds the error kinds shared across the paging subsystem.
package defs

// Err_t is an expected-failure sentinel, not the error interface: the
// allocator's hot path must not allocate, so callers compare against these
// values directly instead of wrapping/unwrapping an error chain.
type Err_t int

const (
	/// OK indicates no error.
	OK Err_t = 0
	/// OOM means no frame was available even after reclaim.
	OOM Err_t = -1
	/// Fault means a user access check failed.
	Fault Err_t = -2
	/// NoSlot means the swap slot table is full.
	NoSlot Err_t = -3
)

func (e Err_t) String() string {
	switch e {
	case OK:
		return "ok"
	case OOM:
		return "out of memory"
	case Fault:
		return "fault"
	case NoSlot:
		return "no swap slot available"
	default:
		return "unknown error"
	}
}

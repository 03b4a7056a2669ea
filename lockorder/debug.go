//go:build pgkernel_lockdebug

package lockorder

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
)

// goroutineID extracts the calling goroutine's numeric ID by parsing the
// "goroutine N [...]" header runtime.Stack prints. Guard tracks one held-
// level stack per goroutine rather than one shared stack, so independent
// goroutines acquiring the same level concurrently (e.g. two calls into
// mem.Table from different kernel threads) are not mistaken for an
// ordering violation.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		if id, err := strconv.ParseUint(string(b[:i]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}

// Guard is a debug-only lock-order checker, compiled in only under the
// pgkernel_lockdebug build tag; production builds pay nothing for it
// (see nodebug.go).
type Guard struct {
	mu    sync.Mutex
	stack map[uint64][]Level
}

// New returns a guard with nothing held.
func New() *Guard {
	return &Guard{stack: make(map[uint64][]Level)}
}

// Acquire records that level is now held by the calling goroutine,
// panicking if it violates the documented ordering against whatever that
// goroutine already holds.
func (g *Guard) Acquire(level Level) {
	id := goroutineID()
	g.mu.Lock()
	defer g.mu.Unlock()
	held := g.stack[id]
	if len(held) > 0 && held[len(held)-1] >= level {
		panic(fmt.Sprintf("lockorder: violation on goroutine %d: held %v, acquiring %d", id, held, level))
	}
	g.stack[id] = append(held, level)
}

// Release records that level is no longer held by the calling goroutine.
func (g *Guard) Release(level Level) {
	id := goroutineID()
	g.mu.Lock()
	defer g.mu.Unlock()
	held := g.stack[id]
	for i := len(held) - 1; i >= 0; i-- {
		if held[i] == level {
			held = append(held[:i], held[i+1:]...)
			if len(held) == 0 {
				delete(g.stack, id)
			} else {
				g.stack[id] = held
			}
			return
		}
	}
	panic(fmt.Sprintf("lockorder: release of level %d not held on goroutine %d", level, id))
}

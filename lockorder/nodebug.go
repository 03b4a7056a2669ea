//go:build !pgkernel_lockdebug

package lockorder

// Guard is a no-op stand-in when pgkernel_lockdebug is not set; see
// debug.go for the real checker.
type Guard struct{}

// New returns a no-op guard.
func New() *Guard { return &Guard{} }

func (g *Guard) Acquire(level Level) {}
func (g *Guard) Release(level Level) {}

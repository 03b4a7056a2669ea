// Package caller formats the goroutine's call chain for panic diagnostics.
package caller

import (
	"fmt"
	"runtime"
)

// Dump renders the call stack starting at the given skip depth as a
// "<-file:line" chain, for inclusion in an INVAL-class panic message.
func Dump(skip int) string {
	i := skip
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d", f, l)
		} else {
			s += fmt.Sprintf("\n\t<-%s:%d", f, l)
		}
	}
	return s
}

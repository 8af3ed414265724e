//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package internal

import (
	"fmt"
	"os"
	"time"
)

// Tracef writes one timestamped diagnostic line to stderr. Callers gate
// this on their own debug flag (set from the IKQ_DEBUG environment
// variable at session creation) rather than checking anything here, so
// that a disabled session never pays even the cost of formatting —
// grounded on debug_kqueue.go's FSNOTIFY_DEBUG line, generalized from
// decoding raw kqueue fflags to arbitrary formatted diagnostics since this
// package now also traces command dispatch and reconciliation, not just
// kevent registration.
func Tracef(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "IKQ_DEBUG: %s %s\n", time.Now().Format("15:04:05.000000000"), fmt.Sprintf(format, args...))
}

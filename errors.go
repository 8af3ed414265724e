//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package ikq

import "errors"

// Sentinel errors, in the style of backend_kqueue.go's ErrClosed /
// ErrNonExistentWatch (the shared fsnotify.go carrying those definitions
// wasn't part of the retrieved pack, but their use sites in backend_kqueue.go
// pin down the exact contract this mirrors).
var (
	// ErrClosed is returned by session methods called after Close.
	ErrClosed = errors.New("ikq: session closed")

	// errBroken marks a session whose worker stopped on a failure: its
	// outbound socket suffered a persistent partial-write failure (spec.md
	// §7), or its kevent wait failed. Every subsequent command fails fast
	// rather than silently dropping events.
	errBroken = errors.New("ikq: session broken by a failed event flush or kevent wait")
)

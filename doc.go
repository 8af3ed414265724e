//go:build freebsd || openbsd || netbsd || dragonfly || darwin

// Package ikq implements the Linux inotify file-change notification API as a
// semantic bridge over the BSD kqueue kernel facility.
//
// A Session watches paths, not file descriptors: AddWatch returns a watch
// descriptor the way inotify_add_watch(2) does, and events describing
// changes under that path arrive as a packed binary stream readable off
// Session.Fd(), in the same wire shape a real inotify instance would
// produce. Internally a Session owns one kqueue, one worker goroutine, and
// (for every watched directory) a set of hidden per-entry watches used to
// detect content changes kqueue itself has no concept of — kqueue reports
// "this vnode changed", not "this filename appeared"; reconciling the two is
// most of what this package does.
//
// # Degraded semantics
//
// kqueue cannot synthesize IN_ACCESS, IN_OPEN, or IN_CLOSE_* — those bits are
// accepted by AddWatch but will never appear on the wire. IN_ATTRIB is
// reported whenever the kernel's NOTE_ATTRIB fires, which is a
// slightly coarser signal than Linux's own attribute-change detection.
package ikq

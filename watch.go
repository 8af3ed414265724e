//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package ikq

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// watchKind distinguishes a consumer-addressable watch from one the worker
// created on its own behalf to track a directory's child (spec.md
// GLOSSARY: "User watch" / "Dependency watch").
type watchKind uint8

const (
	watchUser watchKind = iota
	watchDependency
)

// watch is one kernel registration: an open descriptor, the inode it named
// at open time, and enough bookkeeping to reopen or reconcile it later
// (spec.md §3). Grounded on watch.c's struct watch and watch_init/
// watch_reopen/watch_free.
type watch struct {
	fd          int    // -1 once closed
	inode       uint64 // captured at open time; used for rename detection
	isReallyDir bool   // true iff the descriptor refers to a directory
	isDirectory bool   // true iff this is a *user* watch on a directory
	mask        Mask   // the Linux-style mask the caller requested
	filename    string // full path (user watch) or bare entry name (dependency watch)
	kind        watchKind
	parent      *watch // owning user watch, for dependency watches; never an ownership edge

	deps *dirSnapshot // non-nil iff kind==watchUser && isDirectory
}

// maskForRegistration is the mask actually handed to the kqueue translator:
// for dependency watches it has depsExcludedFlags stripped, matching
// watch_init's `flags &= ~DEPS_EXCLUDED_FLAGS` for WATCH_DEPENDENCY. A
// dependency watch never reports its own rename or deletion directly — the
// parent's reconciliation pass is the only path by which a child's identity
// change becomes visible, including for hardlinked children (spec.md §9,
// first open question; decided: kept as specified).
func (w *watch) maskForRegistration() Mask {
	if w.kind == watchDependency {
		return w.mask &^ depsExcludedFlags
	}
	return w.mask
}

// openWatch opens path and registers a vnode watch for it on kq. For a
// dependency watch, entryName (never path) becomes watch.filename, matching
// watch_init's distinction between a user watch's full path and a
// dependency's bare entry name.
func openWatch(kq int, path, entryName string, mask Mask, kind watchKind, parent *watch) (*watch, error) {
	fd, err := unix.Open(path, openMode, 0)
	if err != nil {
		return nil, fmt.Errorf("ikq: open %q: %w", path, err)
	}

	w := &watch{
		fd:     fd,
		mask:   mask,
		kind:   kind,
		parent: parent,
	}
	if kind == watchUser {
		w.filename = path
	} else {
		w.filename = entryName
	}

	isDir, inode, err := fstatInfo(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ikq: fstat %q: %w", path, err)
	}
	w.isReallyDir = isDir
	w.isDirectory = kind == watchUser && isDir
	w.inode = inode

	if err := w.register(kq); err != nil {
		unix.Close(fd)
		w.fd = -1
		return nil, err
	}
	return w, nil
}

// register (re-)installs the kqueue EVFILT_VNODE registration for w using
// its current mask (watch.c's watch_register_event).
func (w *watch) register(kq int) error {
	fflags := toKqueueFilter(w.maskForRegistration(), w.isReallyDir, w.kind == watchDependency)

	var ev unix.Kevent_t
	unix.SetKevent(&ev, w.fd, unix.EVFILT_VNODE, unix.EV_ADD|unix.EV_ENABLE|unix.EV_CLEAR)
	ev.Fflags = fflags

	if _, err := unix.Kevent(kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return fmt.Errorf("ikq: register kevent on fd %d: %w", w.fd, err)
	}
	return nil
}

// reopen reconstructs a dependency watch's descriptor after its entry was
// renamed in place or its backing file replaced (watch.c's watch_reopen).
// Only valid for dependency watches.
func (w *watch) reopen(kq int) error {
	if w.kind != watchDependency {
		panic("ikq: reopen called on a non-dependency watch")
	}

	if w.fd != -1 {
		unix.Close(w.fd)
		w.fd = -1
	}

	path := joinPath(w.parent.filename, w.filename)
	fd, err := unix.Open(path, openMode, 0)
	if err != nil {
		return fmt.Errorf("ikq: reopen %q: %w", path, err)
	}
	w.fd = fd

	isDir, inode, err := fstatInfo(fd)
	if err != nil {
		unix.Close(fd)
		w.fd = -1
		return fmt.Errorf("ikq: fstat %q: %w", path, err)
	}
	w.isReallyDir = isDir
	w.isDirectory = false // reopen only ever applies to dependencies
	w.inode = inode

	if err := w.register(kq); err != nil {
		unix.Close(fd)
		w.fd = -1
		return err
	}
	return nil
}

// close releases the descriptor and, for a user directory watch, its
// dependency snapshot (watch.c's watch_free).
func (w *watch) close() {
	if w.fd != -1 {
		unix.Close(w.fd)
		w.fd = -1
	}
	if w.kind == watchUser && w.isDirectory {
		w.deps = nil
	}
}

func joinPath(dir, file string) string {
	if dir == "" {
		return file
	}
	if dir[len(dir)-1] == '/' {
		return dir + file
	}
	return dir + "/" + file
}

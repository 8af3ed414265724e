//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package ikq

import "golang.org/x/sys/unix"

// Mask is a Linux inotify-style event mask. The bit values match
// <linux/inotify.h> exactly so that a consumer decoding the wire format
// (see event.go) doesn't need to know this library exists.
type Mask uint32

// Event bits a consumer may request and observe, per spec.md §6.
const (
	Access       Mask = 0x00000001 // IN_ACCESS
	Modify       Mask = 0x00000002 // IN_MODIFY
	Attrib       Mask = 0x00000004 // IN_ATTRIB
	CloseWrite   Mask = 0x00000008 // IN_CLOSE_WRITE
	CloseNoWrite Mask = 0x00000010 // IN_CLOSE_NOWRITE
	Open         Mask = 0x00000020 // IN_OPEN
	MovedFrom    Mask = 0x00000040 // IN_MOVED_FROM
	MovedTo      Mask = 0x00000080 // IN_MOVED_TO
	Create       Mask = 0x00000100 // IN_CREATE
	Delete       Mask = 0x00000200 // IN_DELETE
	DeleteSelf   Mask = 0x00000400 // IN_DELETE_SELF
	MoveSelf     Mask = 0x00000800 // IN_MOVE_SELF

	// Synthetic bits, never requested by the caller but ORed into
	// delivered events.
	Ignored Mask = 0x00008000 // IN_IGNORED
	IsDir   Mask = 0x40000000 // IN_ISDIR

	// Close is the union of the two CLOSE_* bits; Move is the union of
	// the two MOVED_* bits. Convenience combinations only, mirroring
	// IN_CLOSE / IN_MOVE from <linux/inotify.h>.
	Close Mask = CloseWrite | CloseNoWrite
	Move  Mask = MovedFrom | MovedTo

	// allUserBits is every bit a caller is allowed to request; it excludes
	// the synthetic Ignored/IsDir bits.
	allUserBits = Access | Modify | Attrib | CloseWrite | CloseNoWrite |
		Open | MovedFrom | MovedTo | Create | Delete | DeleteSelf | MoveSelf
)

func (m Mask) has(bit Mask) bool { return m&bit == bit }

// depsExcludedFlags are the bits a dependency watch's registration never
// carries: reconciliation on the parent is the sole source of truth for a
// child's identity changes (spec.md §4.1, and §9's first open question,
// decided: kept as specified, including for hardlinked children).
const depsExcludedFlags = MovedFrom | MovedTo | MoveSelf | DeleteSelf

// toKqueueFilter translates a Linux-style mask into kqueue EVFILT_VNODE
// filter flags (spec.md §4.1). isDir is whether the watched descriptor is
// really a directory; isSubwatch is whether this registration belongs to a
// dependency watch (the caller is responsible for having already stripped
// depsExcludedFlags from mask before calling this, mirroring watch_init's
// stripping in watch.c — this function only adds the unconditional
// NOTE_DELETE that dependency watches need regardless of their mask).
func toKqueueFilter(mask Mask, isDir, isSubwatch bool) uint32 {
	var flags uint32

	if mask.has(Attrib) {
		flags |= unix.NOTE_ATTRIB
	}

	if mask&(Create|Delete|MovedFrom|MovedTo|CloseWrite) != 0 ||
		(!isDir && mask.has(Modify)) {
		flags |= unix.NOTE_WRITE
		if isDir {
			flags |= unix.NOTE_EXTEND
		}
	}

	if mask.has(DeleteSelf) || isSubwatch {
		flags |= unix.NOTE_DELETE
	}

	if mask.has(MoveSelf) {
		flags |= unix.NOTE_RENAME
	}

	return flags
}

// fromKqueueFilter is the inverse of toKqueueFilter: given the raw flags a
// kevent delivered and the mask the watch was actually registered with, it
// produces the Linux-style bits to report (spec.md §4.1, testable property
// 5: a watch never emits a bit outside requested ∪ {IGNORED, ISDIR}).
//
// kqueue has no equivalent of IN_ACCESS/IN_OPEN/IN_CLOSE_NOWRITE/
// IN_CLOSE_WRITE — a single NOTE_WRITE is the only signal a write-like
// operation occurred, so those four bits can never be synthesized back and
// are intentionally absent from this mapping regardless of what was
// requested.
func fromKqueueFilter(flags uint32, requested Mask) Mask {
	var mask Mask

	if flags&unix.NOTE_WRITE != 0 && requested.has(Modify) {
		mask |= Modify
	}
	if flags&unix.NOTE_ATTRIB != 0 && requested.has(Attrib) {
		mask |= Attrib
	}
	if flags&unix.NOTE_DELETE != 0 && requested.has(DeleteSelf) {
		mask |= DeleteSelf
	}
	if flags&unix.NOTE_RENAME != 0 && requested.has(MoveSelf) {
		mask |= MoveSelf
	}

	return mask
}

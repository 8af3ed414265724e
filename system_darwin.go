//go:build darwin

package ikq

import "golang.org/x/sys/unix"

// openMode mirrors watch.c's plain open(path, O_RDONLY): O_EVTONLY is
// Darwin's equivalent that doesn't count against the file for mandatory
// locking or "device busy" purposes, which matters since a watch keeps the
// descriptor open for the watch's entire lifetime.
const openMode = unix.O_EVTONLY | unix.O_CLOEXEC

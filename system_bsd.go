//go:build openbsd || netbsd || dragonfly

package ikq

import "golang.org/x/sys/unix"

// openMode is the plain O_RDONLY open watch.c performs, for the BSDs that
// don't need FreeBSD's O_NONBLOCK workaround or Darwin's O_EVTONLY.
const openMode = unix.O_RDONLY | unix.O_CLOEXEC

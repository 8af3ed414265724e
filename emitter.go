//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package ikq

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/slowfranklin/libinotify-kqueue/internal"
)

// emitter buffers packed event records for one wake cycle of the worker and
// flushes them to the consumer in a single scatter-write (spec.md §4.7,
// §6). Grounded on worker.c's safe_writev and struct iovec usage: the
// worker accumulates everything produced while draining the kqueue buffer,
// then writes it all at once instead of one syscall per event.
type emitter struct {
	fd   int
	bufs [][]byte
}

func newEmitter(fd int) *emitter {
	return &emitter{fd: fd}
}

// enqueue packs one event record and appends it to the pending batch. It
// never touches the network; flush is the only syscall boundary.
func (e *emitter) enqueue(wd int32, mask Mask, cookie uint32, name string) {
	ev := event{wd: wd, mask: mask, cookie: cookie, name: name}
	e.bufs = append(e.bufs, ev.encode())
}

// flush writes every pending record in one unix.Writev call, retrying a
// partial write until the whole batch is delivered (spec.md §6: "a short
// write is retried until complete or the session is declared broken").
// EINTR is retried transparently via internal.IgnoringEINTR, matching
// safe_writev's own EINTR loop.
func (e *emitter) flush() error {
	if len(e.bufs) == 0 {
		return nil
	}
	defer func() { e.bufs = e.bufs[:0] }()

	iovs := make([]unix.Iovec, len(e.bufs))
	for i, b := range e.bufs {
		if len(b) == 0 {
			continue
		}
		iovs[i].SetLen(len(b))
		iovs[i].Base = &b[0]
	}

	for len(iovs) > 0 {
		n, err := internal.IgnoringEINTR(func() (int, error) {
			return unix.Writev(e.fd, iovs)
		})
		if err != nil {
			return err
		}
		iovs = dropWritten(iovs, n)
	}
	return nil
}

// dropWritten advances past the first n bytes already written, trimming
// fully-consumed iovecs and shrinking a partially-consumed one in place —
// the Go equivalent of safe_writev's retry-from-offset loop.
func dropWritten(iovs []unix.Iovec, n int) []unix.Iovec {
	for n > 0 && len(iovs) > 0 {
		l := int(iovs[0].Len)
		if n < l {
			iovs[0].Base = (*byte)(addPointer(iovs[0].Base, uintptr(n)))
			iovs[0].SetLen(l - n)
			return iovs
		}
		n -= l
		iovs = iovs[1:]
	}
	return iovs
}

func addPointer(p *byte, n uintptr) *byte {
	return (*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + n))
}

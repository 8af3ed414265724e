//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package ikq

import "encoding/binary"

// byteOrder is native: the wire format is read back on the same host by a
// consumer holding the other end of the session's socket pair, not shipped
// across a network, so there's no reason to pay for a fixed endianness.
var byteOrder = binary.NativeEndian

// event is a single synthesized notification, queued by the worker and
// packed into the wire format by the emitter (spec.md §3 "Event record",
// §6). Name is empty for events that don't carry one (len==0 on the wire).
type event struct {
	wd     int32
	mask   Mask
	cookie uint32
	name   string
}

// eventHeaderSize is the fixed 16-byte record header: wd (int32), mask
// (uint32), cookie (uint32), len (uint32) — the layout spec.md §6 specifies,
// matching Linux's struct inotify_event.
const eventHeaderSize = 16

// encode renders e as the header-plus-name byte layout a consumer reading
// the session's descriptor expects. A non-empty name is null-terminated and
// padded so the record stays 4-byte aligned, with the padded length
// reported in the header (matching create_inotify_event in utils.c, which
// calloc's the whole record so trailing bytes are already zero).
func (e event) encode() []byte {
	var nameLen int
	if e.name != "" {
		nameLen = alignUp(len(e.name)+1, 4)
	}

	buf := make([]byte, eventHeaderSize+nameLen)
	byteOrder.PutUint32(buf[0:4], uint32(e.wd))
	byteOrder.PutUint32(buf[4:8], uint32(e.mask))
	byteOrder.PutUint32(buf[8:12], e.cookie)
	byteOrder.PutUint32(buf[12:16], uint32(nameLen))
	if nameLen > 0 {
		copy(buf[eventHeaderSize:], e.name)
	}
	return buf
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

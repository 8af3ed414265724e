//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package ikq

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// We wait a little bit after most commands; gives the kernel time to
// deliver the vnode event and the worker time to reconcile and flush,
// making things more consistent across the BSDs this package targets.
func eventSeparator() { time.Sleep(50 * time.Millisecond) }
func waitForEvents()  { time.Sleep(500 * time.Millisecond) }

// newSession starts a Session and adds a watch on every path in add.
func newSession(t *testing.T, mask Mask, add ...string) *Session {
	t.Helper()
	s, err := Create()
	if err != nil {
		t.Fatalf("newSession: %s", err)
	}
	for _, a := range add {
		if _, err := s.AddWatch(a, mask); err != nil {
			t.Fatalf("newSession: add %q: %s", a, err)
		}
	}
	return s
}

func mkdir(t *testing.T, path ...string) {
	t.Helper()
	if err := os.Mkdir(filepath.Join(path...), 0o755); err != nil {
		t.Fatalf("mkdir(%q): %s", filepath.Join(path...), err)
	}
	eventSeparator()
}

func touch(t *testing.T, path ...string) {
	t.Helper()
	fp, err := os.Create(filepath.Join(path...))
	if err != nil {
		t.Fatalf("touch(%q): %s", filepath.Join(path...), err)
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("touch(%q): %s", filepath.Join(path...), err)
	}
	eventSeparator()
}

func write(t *testing.T, data string, path ...string) {
	t.Helper()
	fp, err := os.OpenFile(filepath.Join(path...), os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("write(%q): %s", filepath.Join(path...), err)
	}
	if _, err := fp.WriteString(data); err != nil {
		t.Fatalf("write(%q): %s", filepath.Join(path...), err)
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("write(%q): %s", filepath.Join(path...), err)
	}
	eventSeparator()
}

func mv(t *testing.T, src string, dst ...string) {
	t.Helper()
	if err := exec.Command("mv", src, filepath.Join(dst...)).Run(); err != nil {
		t.Fatalf("mv(%q, %q): %s", src, filepath.Join(dst...), err)
	}
	eventSeparator()
}

func rm(t *testing.T, path ...string) {
	t.Helper()
	if err := os.Remove(filepath.Join(path...)); err != nil {
		t.Fatalf("rm(%q): %s", filepath.Join(path...), err)
	}
	eventSeparator()
}

// eventCollector reads packed records off a Session's Fd and decodes them
// into recordedEvents, mirroring the teacher's eventCollector but reading a
// byte stream (spec.md §6) instead of receiving typed values on a channel.
type eventCollector struct {
	s    *Session
	mu   sync.Mutex
	recs []recordedEvent
	done chan struct{}
}

type recordedEvent struct {
	wd     int32
	mask   Mask
	cookie uint32
	name   string
}

func newCollector(t *testing.T, s *Session) *eventCollector {
	t.Helper()
	return &eventCollector{s: s, done: make(chan struct{})}
}

// collect reads directly off the session's raw descriptor via unix.Read
// rather than wrapping it in an *os.File: the descriptor's lifetime is
// owned by the Session (worker.teardown closes it), and an *os.File
// finalizer or explicit Close here would race with that.
func (c *eventCollector) collect(t *testing.T) {
	go func() {
		defer close(c.done)
		fd := c.s.Fd()

		header := make([]byte, eventHeaderSize)
		for {
			if _, err := readFull(fd, header); err != nil {
				return
			}
			wd := int32(byteOrder.Uint32(header[0:4]))
			mask := Mask(byteOrder.Uint32(header[4:8]))
			cookie := byteOrder.Uint32(header[8:12])
			nameLen := byteOrder.Uint32(header[12:16])

			var name string
			if nameLen > 0 {
				nb := make([]byte, nameLen)
				if _, err := readFull(fd, nb); err != nil {
					return
				}
				for i, b := range nb {
					if b == 0 {
						name = string(nb[:i])
						break
					}
				}
			}

			c.mu.Lock()
			c.recs = append(c.recs, recordedEvent{wd: wd, mask: mask, cookie: cookie, name: name})
			c.mu.Unlock()
		}
	}()
}

func readFull(fd int, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Read(fd, buf[total:])
		if err == unix.EINTR {
			continue
		}
		if n <= 0 {
			if err == nil {
				err = os.ErrClosed
			}
			return total, err
		}
		total += n
	}
	return total, nil
}

func (c *eventCollector) stop(t *testing.T) []recordedEvent {
	t.Helper()
	waitForEvents()

	if err := c.s.Close(); err != nil {
		t.Errorf("close: %s", err)
	}

	select {
	case <-time.After(2 * time.Second):
		t.Fatal("event stream was not closed after 2 seconds")
	case <-c.done:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recs
}

func byName(recs []recordedEvent, name string) []recordedEvent {
	var out []recordedEvent
	for _, r := range recs {
		if r.name == name {
			out = append(out, r)
		}
	}
	return out
}

func hasMask(recs []recordedEvent, name string, mask Mask) bool {
	for _, r := range recs {
		if r.name == name && r.mask&mask == mask {
			return true
		}
	}
	return false
}

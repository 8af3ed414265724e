//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package ikq

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/slowfranklin/libinotify-kqueue/internal"
)

// worker owns the kernel-event queue, the watch set, and the outbound event
// vector for one session (spec.md §2, §4.4). It is the only mutator of its
// own watch set (spec.md §5) — every field below except the atomic pending
// and broken is mutated exclusively from the goroutine running (*worker).run.
//
// Grounded on worker.c's struct worker and worker_create/worker_free, and
// on backend_kqueue.go's NewBufferedWatcher/readEvents for the kqueue +
// self-pipe idiom in Go.
type worker struct {
	kq int

	// workerFD/serverFD are a connected unix.Socketpair. The worker writes
	// packed event records to workerFD (see emitter.go); they arrive for
	// the consumer to read on serverFD. Command submission (session.go)
	// writes a single wakeup byte to serverFD, which arrives readable on
	// workerFD — the same descriptor the worker already has registered in
	// kq, so one blocking wait serves both vnode events and command
	// wakeups (spec.md §9 design note: preserve this coupling).
	workerFD, serverFD int

	// closeR/closeW are a dedicated shutdown pipe, registered in kq the
	// same way backend_kqueue.go's closepipe is: closing closeW wakes the
	// blocked kevent() wait so the loop can return, without relying on
	// undefined behavior from closing the kqueue fd out from under it.
	closeR, closeW int

	set    *watchSet
	emit   *emitter
	cookie uint32

	// pending is the single in-flight command slot (see command.go). It's
	// an atomic pointer rather than a bare field so that Session.submit's
	// store (on the calling goroutine) is guaranteed visible to
	// drainCommand's load (on the worker goroutine) without adding a
	// second lock the worker would have to block on — the wakeup byte
	// orders *when* the worker looks, the atomic guarantees *what* it
	// sees once it does.
	pending atomic.Pointer[command]

	// broken latches once run() exits on a kevent-wait or flush failure
	// (spec.md §7: "persistent failure marks the session as broken").
	// submit checks it so a caller gets errBroken back instead of hanging
	// on a reply that will never arrive once the worker goroutine is gone.
	broken atomic.Bool

	debug bool
}

func newWorker(debug bool) (*worker, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("ikq: kqueue: %w", err)
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("ikq: socketpair: %w", err)
	}
	workerFD, serverFD := fds[0], fds[1]
	unix.CloseOnExec(workerFD)
	unix.CloseOnExec(serverFD)

	var closepipe [2]int
	if err := unix.Pipe(closepipe[:]); err != nil {
		unix.Close(kq)
		unix.Close(workerFD)
		unix.Close(serverFD)
		return nil, fmt.Errorf("ikq: close pipe: %w", err)
	}
	unix.CloseOnExec(closepipe[0])
	unix.CloseOnExec(closepipe[1])

	wk := &worker{
		kq:       kq,
		workerFD: workerFD,
		serverFD: serverFD,
		closeR:   closepipe[0],
		closeW:   closepipe[1],
		set:      newWatchSet(),
		emit:     newEmitter(workerFD),
		debug:    debug,
	}

	changes := make([]unix.Kevent_t, 2)
	unix.SetKevent(&changes[0], workerFD, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE|unix.EV_CLEAR)
	changes[0].Fflags = unix.NOTE_LOWAT
	changes[0].Data = 1
	unix.SetKevent(&changes[1], closepipe[0], unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT)

	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		unix.Close(closepipe[1]) // closeW: Session.Close normally owns this, but construction failed before a Session existed
		wk.teardown()
		return nil, fmt.Errorf("ikq: register control events: %w", err)
	}

	return wk, nil
}

// teardown releases everything the worker itself owns. closeW is
// deliberately not closed here: Session.Close closes it to signal
// shutdown, and when teardown runs from run() returning on the close pipe,
// or from the newWorker error path above, it is already closed. When run()
// returns on a kevent-wait or flush failure instead, closeW is still open
// until Session.Close closes it.
func (wk *worker) teardown() {
	for _, w := range wk.set.watches {
		w.close()
	}
	unix.Close(wk.kq)
	unix.Close(wk.workerFD)
	unix.Close(wk.serverFD)
	unix.Close(wk.closeR)
}

func (wk *worker) nextCookie() uint32 {
	// Zero is reserved to mean "no pairing" (spec.md §4.6: "zero is
	// skipped"), so the counter wraps past it rather than landing on it.
	wk.cookie++
	if wk.cookie == 0 {
		wk.cookie = 1
	}
	return wk.cookie
}

func (wk *worker) trace(format string, args ...any) {
	if wk.debug {
		internal.Tracef(format, args...)
	}
}

// run is the worker's main loop (spec.md §4.4-§4.5). It owns the only
// blocking wait in the whole session (spec.md §5: "The worker blocks in
// exactly one place").
func (wk *worker) run() {
	defer wk.teardown()

	buf := make([]unix.Kevent_t, 16)
	for {
		n, err := unix.Kevent(wk.kq, nil, buf, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			wk.trace("kevent wait failed: %v", err)
			wk.broken.Store(true)
			return
		}

		dirty := false
		for _, kev := range buf[:n] {
			fd := int(kev.Ident)
			switch fd {
			case wk.closeR:
				return
			case wk.workerFD:
				wk.drainCommand()
			default:
				if wk.handleVnodeEvent(fd, uint32(kev.Fflags)) {
					dirty = true
				}
			}
		}
		if dirty {
			if err := wk.emit.flush(); err != nil {
				wk.trace("flush failed, session broken: %v", err)
				wk.broken.Store(true)
				return
			}
		}
	}
}

// drainCommand consumes the single wakeup byte written by Session.submit and
// dispatches the pending command (spec.md §4.4 "Command dispatch").
func (wk *worker) drainCommand() {
	var buf [64]byte
	for {
		n, err := unix.Read(wk.workerFD, buf[:])
		if n > 0 && n < len(buf) {
			break
		}
		if err != nil || n <= 0 {
			break
		}
	}

	cmd := wk.pending.Swap(nil)
	if cmd == nil {
		return
	}

	var res commandResult
	switch cmd.kind {
	case cmdAdd:
		res.id = wk.dispatchAdd(cmd.path, cmd.mask)
		if res.id == -1 {
			res.err = fmt.Errorf("ikq: add watch %q failed", cmd.path)
		}
	case cmdRemove:
		wk.dispatchRemove(cmd.watchID)
		res.id = 0
	}
	cmd.reply <- res
}

// dispatchAdd implements worker_add_or_modify (spec.md §4.4).
func (wk *worker) dispatchAdd(path string, mask Mask) int {
	if existing, ok := wk.set.byFilename(path); ok {
		wk.updateMask(existing, mask)
		return existing.fd
	}

	w, err := wk.startWatching(path, "", mask, watchUser, nil)
	if err != nil {
		wk.trace("add %q failed: %v", path, err)
		return -1
	}
	return w.fd
}

// startWatching opens and registers a new watch, and — for a user directory
// watch — immediately creates dependency watches for its current entries
// (spec.md §4.2 worker_start_watching / worker_add_dependencies).
func (wk *worker) startWatching(path, entryName string, mask Mask, kind watchKind, parent *watch) (*watch, error) {
	effMask := mask
	if kind == watchDependency {
		effMask = mask &^ depsExcludedFlags
	}

	w, err := openWatch(wk.kq, path, entryName, effMask, kind, parent)
	if err != nil {
		return nil, err
	}
	wk.set.insert(w)

	if kind == watchUser && w.isDirectory {
		snap, err := listDirectory(w.filename)
		if err != nil {
			wk.trace("failed to list %q for dependencies: %v", w.filename, err)
			snap = &dirSnapshot{}
		}
		w.deps = snap
		for _, e := range snap.entries {
			childPath := joinPath(w.filename, e.name)
			cw, err := wk.startWatching(childPath, e.name, w.mask, watchDependency, w)
			if err != nil {
				wk.trace("failed to watch dependency %q of %q: %v", e.name, path, err)
				continue
			}
			_ = cw
		}
	}
	return w, nil
}

// updateMask implements the re-add branch of worker_add_or_modify: update
// the watch's mask and re-register it, and propagate the new mask to every
// dependency watch whose parent is w.
func (wk *worker) updateMask(w *watch, mask Mask) {
	w.mask = mask
	if err := w.register(wk.kq); err != nil {
		wk.trace("failed to re-register %q: %v", w.filename, err)
	}

	if w.deps == nil {
		return
	}
	for _, dw := range wk.set.children(w) {
		dw.mask = mask &^ depsExcludedFlags
		if err := dw.register(wk.kq); err != nil {
			wk.trace("failed to re-register dependency %q: %v", dw.filename, err)
		}
	}
}

// dispatchRemove implements worker_remove (spec.md §4.4). Removing an
// unknown id is a no-op (spec.md §7: "matches the Linux semantics that
// removal is tolerant of races").
func (wk *worker) dispatchRemove(id int) {
	w, ok := wk.set.byFd(id)
	if !ok {
		return
	}

	wk.removeWatchAndChildren(w)

	wk.emit.enqueue(int32(id), Ignored, 0, "")
	if err := wk.emit.flush(); err != nil {
		wk.trace("flush after remove failed: %v", err)
	}
}

// removeWatchAndChildren tears down a user watch and every dependency watch
// hanging off it (spec.md §4.3: removing a user watch removes its deps).
func (wk *worker) removeWatchAndChildren(w *watch) {
	for _, dw := range wk.set.children(w) {
		if i := wk.set.indexOf(dw); i != -1 {
			wk.set.delete(i)
		}
	}
	if i := wk.set.indexOf(w); i != -1 {
		wk.set.delete(i)
	}
}

// handleVnodeEvent translates one kqueue vnode event into zero or more
// packed events on the emitter (spec.md §4.5). It returns whether anything
// was enqueued, so run() knows whether a flush is due. A fd not present in
// the set is a stale, already-processed registration and is silently
// dropped (spec.md §7).
func (wk *worker) handleVnodeEvent(fd int, fflags uint32) bool {
	w, ok := wk.set.byFd(fd)
	if !ok {
		return false
	}
	if w.kind == watchDependency {
		return wk.handleDependencyEvent(w, fflags)
	}
	return wk.handleUserEvent(w, fflags)
}

// handleUserEvent handles a vnode event on a watch the consumer asked for
// directly — spec.md §4.5's "user-directory" and "user-non-directory"
// cases. A directory's own content change (NOTE_WRITE/NOTE_EXTEND) drives
// reconciliation instead of a direct emission; everything else (self
// delete/rename, plain file content change) is a direct translation.
//
// Removal and IGNORED are driven off the raw NOTE_DELETE/NOTE_RENAME filter
// flags, not off whether the caller requested DeleteSelf/MoveSelf (spec.md
// §4.5.3/§4.5.4: the watch is gone either way once the kernel reports it —
// matching backend_kqueue.go's unconditional removal on Remove/Rename). The
// DeleteSelf/MoveSelf *event* itself stays mask-gated through
// fromKqueueFilter, so a watch that never asked for it is removed silently,
// but it is still removed and still gets IGNORED (testable property 2).
func (wk *worker) handleUserEvent(w *watch, fflags uint32) bool {
	emitted := false

	full := fromKqueueFilter(fflags, w.mask)
	selfBits := full & (DeleteSelf | MoveSelf)
	contentBits := full &^ selfBits
	selfGone := fflags&(unix.NOTE_DELETE|unix.NOTE_RENAME) != 0

	if w.isDirectory {
		if fflags&(unix.NOTE_WRITE|unix.NOTE_EXTEND) != 0 {
			evs, err := wk.reconcileDirectory(w)
			if err != nil {
				wk.trace("reconcile %q failed: %v", w.filename, err)
			}
			for _, e := range evs {
				wk.emit.enqueue(e.wd, e.mask, e.cookie, e.name)
				emitted = true
			}
		}
		if fflags&unix.NOTE_ATTRIB != 0 && w.mask.has(Attrib) {
			wk.emit.enqueue(int32(w.fd), Attrib|IsDir, 0, "")
			emitted = true
		}
	} else if contentBits != 0 {
		wk.emit.enqueue(int32(w.fd), contentBits, 0, "")
		emitted = true
	}

	if selfGone || fflags&unix.NOTE_REVOKE != 0 {
		if selfBits != 0 {
			mask := selfBits
			if w.isDirectory {
				mask |= IsDir
			}
			wk.emit.enqueue(int32(w.fd), mask, 0, "")
		}
		wk.emit.enqueue(int32(w.fd), Ignored, 0, "")
		emitted = true
		wk.removeWatchAndChildren(w)
	}

	return emitted
}

// handleDependencyEvent handles a vnode event on a watch the worker created
// on the consumer's behalf to track one directory entry (spec.md §4.5
// "dependency-watch" case). kqueue has no notion of reporting a child's
// content change against its parent directory's descriptor, so the worker
// watches the child itself and re-addresses the event to the parent's wd,
// using the child's bare name (spec.md §4.2, GLOSSARY "Dependency watch").
//
// NOTE_DELETE drives reconciliation on the parent (spec.md §4.5.5: "the real
// cause — delete vs. move-out — is disambiguated there") rather than being
// reported directly here, since a dependency watch on its own can't tell a
// same-directory rename from an actual unlink; the parent's directory-level
// NOTE_WRITE ordinarily fires first and already covers this, but driving it
// explicitly here too keeps the dependency watch correct even if delivery
// order ever puts the child's event first.
func (wk *worker) handleDependencyEvent(w *watch, fflags uint32) bool {
	emitted := false

	if fflags&unix.NOTE_DELETE != 0 {
		evs, err := wk.reconcileDirectory(w.parent)
		if err != nil {
			wk.trace("reconcile %q failed: %v", w.parent.filename, err)
		}
		for _, e := range evs {
			wk.emit.enqueue(e.wd, e.mask, e.cookie, e.name)
			emitted = true
		}
	}

	if fflags&(unix.NOTE_WRITE|unix.NOTE_ATTRIB) == 0 {
		return emitted
	}
	m := fromKqueueFilter(fflags, w.mask)
	if m == 0 {
		return emitted
	}
	if w.isReallyDir {
		m |= IsDir
	}
	wk.emit.enqueue(int32(w.parent.fd), m, 0, w.filename)
	return true
}

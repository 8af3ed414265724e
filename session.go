//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package ikq

import (
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/slowfranklin/libinotify-kqueue/internal"
)

// Session is the consumer-facing handle for one notification worker
// (spec.md §6 "Control API"). AddWatch and RemoveWatch submit a command to
// the worker goroutine and block for its result; Fd only returns the
// consumer's descriptor, and Close signals the worker through its close
// pipe without submitting a command. A Session never touches
// the watch set, the kernel-event queue, or the outbound vector directly
// (spec.md §5 "Scheduling") — that discipline is the reason AddWatch and
// RemoveWatch are safe to call from any goroutine.
//
// Grounded on backend_kqueue.go's Watcher, reshaped around an explicit
// command object instead of the teacher's direct field mutation, since here
// the mutation happens on a separate goroutine rather than under a mutex
// shared with the caller.
type Session struct {
	wk *worker

	cmdMu  sync.Mutex // serializes command submission: one in flight at a time (spec.md §4.4, §9)
	closed atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// CreateOption configures a Session at construction time (SPEC_FULL.md
// ambient configuration section), following the functional-options
// convention backend_kqueue.go's AddOption/WithBufsz use for its Add.
type CreateOption func(*createConfig)

type createConfig struct {
	debug bool
}

// WithDebug enables the IKQ_DEBUG-style trace output described in
// SPEC_FULL.md's logging section, independent of whether the environment
// variable is also set.
func WithDebug() CreateOption {
	return func(c *createConfig) { c.debug = true }
}

func getCreateConfig(opts ...CreateOption) createConfig {
	var c createConfig
	for _, opt := range opts {
		opt(&c)
	}
	if os.Getenv("IKQ_DEBUG") != "" {
		c.debug = true
	}
	return c
}

// Create starts a new session: a worker goroutine owning its own
// kernel-event queue and a connected socket pair, and returns once the
// worker's control registrations (spec.md §4.4) are installed.
func Create(opts ...CreateOption) (*Session, error) {
	cfg := getCreateConfig(opts...)

	wk, err := newWorker(cfg.debug)
	if err != nil {
		return nil, err
	}

	s := &Session{wk: wk}
	go wk.run()
	return s, nil
}

// Fd returns the descriptor the consumer reads packed event records from
// (spec.md §6 "Consumer-facing I/O", SERVER_FD). The returned descriptor
// remains valid until Close.
func (s *Session) Fd() int {
	return s.wk.serverFD
}

// AddWatch creates a new watch on path with mask, or updates the mask of an
// existing watch on the same path (spec.md §4.4's ADD command; Testable
// property 1, "Watch-id stability"). The returned id is stable across
// re-adds of the same path and is the value that appears as wd in every
// subsequent event for that watch.
func (s *Session) AddWatch(path string, mask Mask) (int, error) {
	res, err := s.submit(&command{kind: cmdAdd, path: path, mask: mask})
	if err != nil {
		return 0, err
	}
	return res.id, res.err
}

// RemoveWatch removes the watch identified by id (spec.md §4.4's REMOVE
// command). Removing an id that no longer exists is a no-op, matching
// Linux's tolerance of races between removal and the kernel already having
// torn the watch down (spec.md §7).
func (s *Session) RemoveWatch(id int) error {
	_, err := s.submit(&command{kind: cmdRemove, watchID: id})
	return err
}

// submit is the controlling-side half of the command-channel rendezvous
// (spec.md §4.4 "Command submission"): populate the shared slot, wake the
// worker, and wait for its one-shot reply. cmdMu plays the role of the
// barrier's first rendezvous point — it guarantees at most one command is
// ever sitting in wk.pending, so the worker never has to arbitrate between
// two outstanding requests.
func (s *Session) submit(cmd *command) (commandResult, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.closed.Load() {
		return commandResult{}, ErrClosed
	}
	if s.wk.broken.Load() {
		return commandResult{}, errBroken
	}

	cmd.reply = make(chan commandResult, 1)
	s.wk.pending.Store(cmd)

	wakeup := [1]byte{}
	if _, err := internal.IgnoringEINTR(func() (int, error) {
		return unix.Write(s.wk.serverFD, wakeup[:])
	}); err != nil {
		s.wk.pending.Store(nil)
		return commandResult{}, err
	}

	return <-cmd.reply, nil
}

// Close shuts the session down: it wakes the worker's blocking wait via the
// dedicated close pipe and lets the goroutine tear everything else down on
// its own. Close may only be called once no further commands will be
// submitted and the consumer has drained pending events (spec.md §5
// "Cancellation") — it does not wait for in-flight commands, because per
// spec there can be none by the time a caller is entitled to call Close.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = unix.Close(s.wk.closeW)
	})
	return s.closeErr
}

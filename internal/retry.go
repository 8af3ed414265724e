//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package internal

import "golang.org/x/sys/unix"

// IgnoringEINTR makes a function call and repeats it if it returns an EINTR
// error. This appears to be required even though we install all signal
// handlers with SA_RESTART: see Go issues #22838, #38033, #38836, #40846.
// None of these are the common case, but there are enough of them that it
// seems that we can't avoid an EINTR loop — grounded on the upstream
// encoding used throughout the standard library's own syscall wrappers.
func IgnoringEINTR[T any](fn func() (T, error)) (T, error) {
	for {
		v, err := fn()
		if err != unix.EINTR {
			return v, err
		}
	}
}

//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package ikq

import "golang.org/x/sys/unix"

// fstatInfo captures the pieces of a descriptor's metadata the worker cares
// about: whether it names a directory, and its inode number (used to
// detect renames across reconciliation passes). Mirrors watch.c's
// _file_information.
func fstatInfo(fd int) (isDir bool, inode uint64, err error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return false, 0, err
	}
	return st.Mode&unix.S_IFMT == unix.S_IFDIR, uint64(st.Ino), nil
}

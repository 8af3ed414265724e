//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package ikq

import (
	"os"
	"syscall"
)

// dirEntry is a single (name, inode) pair captured by listDirectory,
// spec.md §3's "Dep-list entry" reshaped as a value the snapshot owns
// outright rather than a node in a shared linked list (spec.md §9 design
// note: "split this into (i) an owning snapshot collection rebuilt from
// scratch on each reconciliation and (ii) a lookup index").
type dirEntry struct {
	name  string
	inode uint64
	isDir bool
}

// dirSnapshot is an ordered listing of one directory's contents at a point
// in time (spec.md §4.6 step 1). It owns its own string storage; watches
// that need a name copy it out rather than sharing the snapshot's backing.
type dirSnapshot struct {
	entries []dirEntry
}

// listDirectory lists path in directory-iteration order, mirroring watch.c's
// use of dl_listing via readdir(3). (*os.File).ReadDir does not sort, and
// never returns "." or ".." entries, matching spec.md §4.6 step 1's
// "skipping . and ..".
func listDirectory(path string) (*dirSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	des, err := f.ReadDir(-1)
	f.Close()
	if err != nil {
		return nil, err
	}

	snap := &dirSnapshot{entries: make([]dirEntry, 0, len(des))}
	for _, de := range des {
		info, err := de.Info()
		if err != nil {
			// The entry vanished between readdir and stat; treat it as
			// already gone rather than failing the whole listing.
			continue
		}
		st, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			continue
		}
		snap.entries = append(snap.entries, dirEntry{
			name:  de.Name(),
			inode: uint64(st.Ino),
			isDir: de.IsDir(),
		})
	}
	return snap, nil
}

func (s *dirSnapshot) byName(name string) (dirEntry, bool) {
	if s == nil {
		return dirEntry{}, false
	}
	for _, e := range s.entries {
		if e.name == name {
			return e, true
		}
	}
	return dirEntry{}, false
}

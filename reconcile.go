//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package ikq

// reconcileDirectory is the heart of the translation from "a directory
// changed" to a create/delete/rename event stream (spec.md §4.6). It diffs
// the watch's previous listing against a fresh one, synthesizes events, and
// updates dependency watches to track the new listing.
//
// Tie-break (spec.md §4.6 "Tie-break", §9 second open question; decided: a
// surviving name match always wins): names are matched first, and only
// entries that survive unmatched are considered for an inode-based rename
// match. When several hardlinked siblings are candidates for the same old
// inode, whichever is visited first claims the rename and the rest fall
// through to plain create/delete — this is the one residual ambiguity the
// spec leaves unresolved, and resolving it requires information (e.g. which
// directory entry the kernel actually renamed) that a listing diff alone
// can't recover.
func (wk *worker) reconcileDirectory(w *watch) ([]event, error) {
	newSnap, err := listDirectory(w.filename)
	if err != nil {
		return nil, err
	}
	oldEntries := w.deps.entries

	matchedOld := make(map[string]bool, len(oldEntries))
	matchedNew := make(map[string]bool, len(newSnap.entries))

	// Pass 1: survivors by name.
	for _, oe := range oldEntries {
		if _, ok := newSnap.byName(oe.name); ok {
			matchedOld[oe.name] = true
			matchedNew[oe.name] = true
		}
	}

	// Candidate pool for pass 2: new entries not already claimed by name,
	// indexed by inode.
	byInode := make(map[uint64][]dirEntry)
	for _, ne := range newSnap.entries {
		if matchedNew[ne.name] {
			continue
		}
		byInode[ne.inode] = append(byInode[ne.inode], ne)
	}

	var events []event
	wd := int32(w.fd)

	// Pass 2: renames, by inode, among the unmatched.
	for _, oe := range oldEntries {
		if matchedOld[oe.name] {
			continue
		}
		cands := byInode[oe.inode]
		if len(cands) == 0 {
			continue
		}
		ne := cands[0]
		byInode[oe.inode] = cands[1:]
		matchedOld[oe.name] = true
		matchedNew[ne.name] = true

		// Mask filtering (spec.md §8 Testable property 5): only emit the
		// bits the watch actually asked for. The cookie is shared whether
		// or not both halves end up reported, so a consumer that only
		// asked for one side still sees a consistent, if unpaired, cookie.
		if w.mask.has(MovedFrom) || w.mask.has(MovedTo) {
			cookie := wk.nextCookie()
			if w.mask.has(MovedFrom) {
				fromMask := MovedFrom
				if oe.isDir {
					fromMask |= IsDir
				}
				events = append(events, event{wd: wd, mask: fromMask, cookie: cookie, name: oe.name})
			}
			if w.mask.has(MovedTo) {
				toMask := MovedTo
				if ne.isDir {
					toMask |= IsDir
				}
				events = append(events, event{wd: wd, mask: toMask, cookie: cookie, name: ne.name})
			}
		}

		if dw := wk.childByInode(w, oe.inode); dw != nil {
			dw.filename = ne.name
			if dw.fd == -1 {
				if err := dw.reopen(wk.kq); err != nil {
					wk.trace("reopen failed for renamed dependency %q: %v", ne.name, err)
				}
			}
		}
	}

	// Remaining unmatched old entries were deleted or moved elsewhere.
	for _, oe := range oldEntries {
		if matchedOld[oe.name] {
			continue
		}
		if w.mask.has(Delete) {
			mask := Delete
			if oe.isDir {
				mask |= IsDir
			}
			events = append(events, event{wd: wd, mask: mask, name: oe.name})
		}

		if dw := wk.childByName(w, oe.name); dw != nil {
			if i := wk.set.indexOf(dw); i != -1 {
				wk.set.delete(i)
			}
		}
	}

	// Remaining unmatched new entries are newly created.
	for _, ne := range newSnap.entries {
		if matchedNew[ne.name] {
			continue
		}
		if w.mask.has(Create) {
			mask := Create
			if ne.isDir {
				mask |= IsDir
			}
			events = append(events, event{wd: wd, mask: mask, name: ne.name})
		}

		childMask := w.mask &^ depsExcludedFlags
		nw, err := openWatch(wk.kq, joinPath(w.filename, ne.name), ne.name, childMask, watchDependency, w)
		if err != nil {
			// Degrade gracefully (spec.md §7): the CREATE event still
			// fires, but modifications to this child won't be observed
			// until the next add-or-modify of the parent.
			wk.trace("failed to start watching new child %q: %v", ne.name, err)
			continue
		}
		wk.set.insert(nw)
	}

	w.deps = newSnap
	wk.refreshChildPaths(w)
	return events, nil
}

// refreshChildPaths walks the dependency watches of parent and re-syncs
// their filename from parent's current deps snapshot by inode, mirroring
// worker.c's worker_update_paths. reconcileDirectory calls it at the end of
// every pass; its rename pass already updates each renamed dependency's
// filename in place (before any reopen is attempted), so this is a second,
// inode-keyed sweep over all of parent's dependency watches.
func (wk *worker) refreshChildPaths(parent *watch) {
	if parent.deps == nil {
		return
	}
	byInode := make(map[uint64]string, len(parent.deps.entries))
	for _, e := range parent.deps.entries {
		byInode[e.inode] = e.name
	}
	for _, w := range wk.set.children(parent) {
		if name, ok := byInode[w.inode]; ok && name != w.filename {
			w.filename = name
		}
	}
}

func (wk *worker) childByInode(parent *watch, inode uint64) *watch {
	for _, w := range wk.set.children(parent) {
		if w.inode == inode {
			return w
		}
	}
	return nil
}

func (wk *worker) childByName(parent *watch, name string) *watch {
	for _, w := range wk.set.children(parent) {
		if w.filename == name {
			return w
		}
	}
	return nil
}

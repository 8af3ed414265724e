//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package ikq

import (
	"path/filepath"
	"testing"
)

// (a) Start-stop (spec.md §8 scenario a).
func TestStartStop(t *testing.T) {
	tmp := t.TempDir()
	s := newSession(t, 0)

	id, err := s.AddWatch(tmp, Create|Delete)
	if err != nil {
		t.Fatalf("add: %s", err)
	}

	c := newCollector(t, s)
	c.collect(t)
	if err := s.RemoveWatch(id); err != nil {
		t.Fatalf("remove: %s", err)
	}
	recs := c.stop(t)

	if len(recs) != 1 {
		t.Fatalf("expected exactly one record, got %d: %+v", len(recs), recs)
	}
	if recs[0].mask&Ignored == 0 {
		t.Errorf("expected an IGNORED record, got mask %#x", recs[0].mask)
	}
	if recs[0].wd != int32(id) {
		t.Errorf("IGNORED wd = %d, want %d", recs[0].wd, id)
	}
}

// (b) Touch a file inside a watched directory (spec.md §8 scenario b).
func TestCreateThenModifyChild(t *testing.T) {
	tmp := t.TempDir()
	s := newSession(t, Create|Modify)
	id, err := s.AddWatch(tmp, Create|Modify)
	if err != nil {
		t.Fatalf("add: %s", err)
	}

	c := newCollector(t, s)
	c.collect(t)

	touch(t, tmp, "a")
	write(t, "hello", filepath.Join(tmp, "a"))

	recs := c.stop(t)

	if !hasMask(recs, "a", Create) {
		t.Errorf("expected a CREATE record for \"a\", got %+v", recs)
	}
	if !hasMask(recs, "a", Modify) {
		t.Errorf("expected a MODIFY record for \"a\", got %+v", recs)
	}
	for _, r := range byName(recs, "a") {
		if r.wd != int32(id) {
			t.Errorf("record for \"a\" has wd %d, want the directory watch's id %d", r.wd, id)
		}
	}
}

// (c) Rename within a directory (spec.md §8 scenario c).
func TestRenameWithinDirectory(t *testing.T) {
	tmp := t.TempDir()
	touch(t, tmp, "a")

	s := newSession(t, Move, tmp)
	c := newCollector(t, s)
	c.collect(t)

	mv(t, filepath.Join(tmp, "a"), tmp, "b")

	recs := c.stop(t)

	from := byName(recs, "a")
	to := byName(recs, "b")
	if len(from) != 1 || from[0].mask&MovedFrom == 0 {
		t.Fatalf("expected exactly one MOVED_FROM record for \"a\", got %+v", from)
	}
	if len(to) != 1 || to[0].mask&MovedTo == 0 {
		t.Fatalf("expected exactly one MOVED_TO record for \"b\", got %+v", to)
	}
	if from[0].cookie == 0 || from[0].cookie != to[0].cookie {
		t.Errorf("MOVED_FROM/MOVED_TO cookies should match and be non-zero: %d vs %d", from[0].cookie, to[0].cookie)
	}
}

// (d) Delete a file inside a watched directory (spec.md §8 scenario d).
func TestDeleteChild(t *testing.T) {
	tmp := t.TempDir()
	touch(t, tmp, "a")

	s := newSession(t, Delete, tmp)
	c := newCollector(t, s)
	c.collect(t)

	rm(t, tmp, "a")

	recs := c.stop(t)

	if !hasMask(recs, "a", Delete) {
		t.Errorf("expected a DELETE record for \"a\", got %+v", recs)
	}
}

// (e) Delete the watched directory itself (spec.md §8 scenario e).
func TestDeleteSelf(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "victim")
	mkdir(t, dir)

	s := newSession(t, DeleteSelf, dir)
	c := newCollector(t, s)
	c.collect(t)

	rm(t, dir)

	recs := c.stop(t)

	if len(recs) != 2 {
		t.Fatalf("expected DELETE_SELF then IGNORED, got %d records: %+v", len(recs), recs)
	}
	if recs[0].mask&DeleteSelf == 0 {
		t.Errorf("first record should be DELETE_SELF, got mask %#x", recs[0].mask)
	}
	if recs[1].mask&Ignored == 0 {
		t.Errorf("second record should be IGNORED, got mask %#x", recs[1].mask)
	}
}

// (f) Mask narrowing by re-add (spec.md §8 scenario f / Testable property 5).
func TestMaskNarrowingByReAdd(t *testing.T) {
	tmp := t.TempDir()

	s := newSession(t, 0)
	if _, err := s.AddWatch(tmp, Modify|Create); err != nil {
		t.Fatalf("add: %s", err)
	}

	c := newCollector(t, s)
	c.collect(t)

	touch(t, tmp, "a")

	if _, err := s.AddWatch(tmp, Modify); err != nil {
		t.Fatalf("re-add: %s", err)
	}

	rm(t, tmp, "a")

	recs := c.stop(t)

	if !hasMask(recs, "a", Create) {
		t.Errorf("expected the CREATE before narrowing to still be reported, got %+v", recs)
	}
	if hasMask(recs, "a", Delete) {
		t.Errorf("DELETE should be suppressed after narrowing to Modify-only, got %+v", recs)
	}
}

// Testable property 1: watch-id stability across a re-add.
func TestWatchIDStableAcrossReAdd(t *testing.T) {
	tmp := t.TempDir()
	s := newSession(t, 0)

	id1, err := s.AddWatch(tmp, Create)
	if err != nil {
		t.Fatalf("add: %s", err)
	}
	id2, err := s.AddWatch(tmp, Create|Modify)
	if err != nil {
		t.Fatalf("re-add: %s", err)
	}
	if id1 != id2 {
		t.Errorf("re-adding the same path changed the watch id: %d != %d", id1, id2)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}
}

// Testable property 2: removal is final.
func TestRemovalIsFinal(t *testing.T) {
	tmp := t.TempDir()
	s := newSession(t, 0)
	id, err := s.AddWatch(tmp, Create)
	if err != nil {
		t.Fatalf("add: %s", err)
	}

	c := newCollector(t, s)
	c.collect(t)

	if err := s.RemoveWatch(id); err != nil {
		t.Fatalf("remove: %s", err)
	}
	touch(t, tmp, "after-removal")

	recs := c.stop(t)

	for _, r := range recs {
		if r.mask&Ignored == 0 {
			t.Errorf("expected no event after removal other than IGNORED, got %+v", r)
		}
	}
}

func TestRemoveUnknownIDIsNoOp(t *testing.T) {
	s := newSession(t, 0)
	defer s.Close()

	if err := s.RemoveWatch(999999); err != nil {
		t.Errorf("removing an unknown id should be a no-op, got %s", err)
	}
}

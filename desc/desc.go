// Package desc implements spec.md §4.6: the fixed-capacity table of
// open file and directory descriptors every mount keeps, and the
// fix-up the allocator's consolidating Remove triggers in it.
//
// original_source/src/desc.c tracks open descriptors by the address of
// the caller's own file_desc_t/dir_desc_t structure, and on removal
// walks every tracked struct rewriting its embedded filp pointer. That
// requires every collaborator holding a descriptor to expose a pointer
// xipfs can reach into. Design note 9 inverts this: a Handle is an
// opaque {slot, generation} pair, the table is the only thing that
// holds a record address, and compaction fix-up rewrites this one
// table instead of chasing external structs. A stale Handle (from a
// descriptor closed, or invalidated by a compaction) is detected by
// generation mismatch instead of by a freed/reused pointer comparing
// equal by accident.
package desc

import (
	"errs"
	"sync"
)

// Kind distinguishes a file descriptor slot from a directory one; a
// handle is only valid against the kind it was tracked with.
type Kind int

const (
	KindFree Kind = iota
	KindFile
	KindDir
)

// Handle addresses one tracked descriptor. The zero value is not a
// valid handle; use the value returned by Track.
type Handle struct {
	Slot       int
	Generation uint32
}

type slot struct {
	used bool
	kind Kind
	addr uintptr
	gen  uint32
}

// Table is a mount's fixed-capacity descriptor table.
type Table struct {
	mu    sync.Mutex
	slots []slot
}

// New allocates a table with the given capacity (spec.md's
// MAX_OPEN_DESC).
func New(capacity int) *Table {
	return &Table{slots: make([]slot, capacity)}
}

// Track reserves a slot for a newly opened file or directory at addr,
// returning a handle to it. It reports EQuota if the table is already
// at capacity, the Go-idiomatic stand-in for the C original's -ENFILE.
func (t *Table) Track(kind Kind, addr uintptr) (Handle, errs.Errno) {
	if kind == KindFree {
		return Handle{}, errs.EInvalid
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].used {
			continue
		}
		t.slots[i].used = true
		t.slots[i].kind = kind
		t.slots[i].addr = addr
		t.slots[i].gen++
		return Handle{Slot: i, Generation: t.slots[i].gen}, errs.EOK
	}
	return Handle{}, errs.EQuota
}

// valid reports whether h still addresses the slot it was issued for.
// Caller must hold t.mu.
func (t *Table) valid(h Handle, kind Kind) bool {
	if h.Slot < 0 || h.Slot >= len(t.slots) {
		return false
	}
	s := &t.slots[h.Slot]
	return s.used && s.gen == h.Generation && s.kind == kind
}

// Untrack releases h's slot. It reports EBadDesc if h is stale.
func (t *Table) Untrack(h Handle, kind Kind) errs.Errno {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(h, kind) {
		return errs.EBadDesc
	}
	t.slots[h.Slot] = slot{gen: t.slots[h.Slot].gen}
	return errs.EOK
}

// Tracked reports whether h is currently a live descriptor of the
// given kind.
func (t *Table) Tracked(h Handle, kind Kind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.valid(h, kind)
}

// Resolve returns the record address currently associated with h. It
// reports EBadDesc if h is stale.
func (t *Table) Resolve(h Handle, kind Kind) (uintptr, errs.Errno) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(h, kind) {
		return 0, errs.EBadDesc
	}
	return t.slots[h.Slot].addr, errs.EOK
}

// Set updates the address a tracked descriptor resolves to, without
// changing its kind or generation. vfs uses this to advance a
// directory descriptor's enumeration cursor between Readdir calls; a
// later compaction still fixes the cursor up like any other tracked
// address via Update.
func (t *Table) Set(h Handle, kind Kind, addr uintptr) errs.Errno {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(h, kind) {
		return errs.EBadDesc
	}
	t.slots[h.Slot].addr = addr
	return errs.EOK
}

// UntrackAll releases every tracked descriptor for which keep returns
// false. vfs calls this on format and unmount, passing a predicate that keeps
// every address outside the mount's NVM window, so each descriptor whose
// record lies inside the window is released.
func (t *Table) UntrackAll(keep func(addr uintptr) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if !t.slots[i].used {
			continue
		}
		if !keep(t.slots[i].addr) {
			t.slots[i] = slot{gen: t.slots[i].gen}
		}
	}
}

// Update fixes up every tracked descriptor after alloc.FS.Remove has
// erased the record at removed and slid every record above it down by
// reserved bytes: a descriptor pointing exactly at removed is
// invalidated, one pointing above it is shifted down by reserved, and
// one pointing below it (or outside the mount's window, per inRange)
// is left untouched.
func (t *Table) Update(inRange func(addr uintptr) bool, removed uintptr, reserved uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		s := &t.slots[i]
		if !s.used || !inRange(s.addr) {
			continue
		}
		switch {
		case s.addr == removed:
			*s = slot{gen: s.gen}
		case s.addr > removed:
			s.addr -= uintptr(reserved)
		}
	}
}

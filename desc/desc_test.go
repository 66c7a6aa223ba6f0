package desc

import (
	"testing"

	"errs"
)

func TestTrackAndResolve(t *testing.T) {
	tbl := New(2)
	h, errno := tbl.Track(KindFile, 0x100)
	if errno != errs.EOK {
		t.Fatalf("Track() = %v", errno)
	}
	addr, errno := tbl.Resolve(h, KindFile)
	if errno != errs.EOK || addr != 0x100 {
		t.Fatalf("Resolve() = %#x, %v want 0x100, EOK", addr, errno)
	}
	if !tbl.Tracked(h, KindFile) {
		t.Error("Tracked() = false for a live handle")
	}
}

func TestTrackRejectsKindFree(t *testing.T) {
	tbl := New(2)
	if _, errno := tbl.Track(KindFree, 0x100); errno != errs.EInvalid {
		t.Errorf("Track(KindFree) = %v, want EInvalid", errno)
	}
}

func TestTrackCapacity(t *testing.T) {
	tbl := New(1)
	if _, errno := tbl.Track(KindFile, 0x100); errno != errs.EOK {
		t.Fatalf("first Track() = %v", errno)
	}
	if _, errno := tbl.Track(KindFile, 0x200); errno != errs.EQuota {
		t.Errorf("Track() past capacity = %v, want EQuota", errno)
	}
}

func TestResolveWrongKind(t *testing.T) {
	tbl := New(2)
	h, _ := tbl.Track(KindFile, 0x100)
	if _, errno := tbl.Resolve(h, KindDir); errno != errs.EBadDesc {
		t.Errorf("Resolve() with wrong kind = %v, want EBadDesc", errno)
	}
}

func TestUntrackInvalidatesHandle(t *testing.T) {
	tbl := New(2)
	h, _ := tbl.Track(KindFile, 0x100)
	if errno := tbl.Untrack(h, KindFile); errno != errs.EOK {
		t.Fatalf("Untrack() = %v", errno)
	}
	if tbl.Tracked(h, KindFile) {
		t.Error("Tracked() = true after Untrack()")
	}
	if errno := tbl.Untrack(h, KindFile); errno != errs.EBadDesc {
		t.Errorf("second Untrack() = %v, want EBadDesc", errno)
	}
}

func TestGenerationDistinguishesReusedSlot(t *testing.T) {
	tbl := New(1)
	h1, _ := tbl.Track(KindFile, 0x100)
	if errno := tbl.Untrack(h1, KindFile); errno != errs.EOK {
		t.Fatalf("Untrack() = %v", errno)
	}
	h2, errno := tbl.Track(KindFile, 0x200)
	if errno != errs.EOK {
		t.Fatalf("Track() = %v", errno)
	}
	if h2.Slot != h1.Slot {
		t.Fatalf("expected slot reuse: h1.Slot=%d h2.Slot=%d", h1.Slot, h2.Slot)
	}
	if h1.Generation == h2.Generation {
		t.Fatal("reused slot did not bump generation")
	}
	if tbl.Tracked(h1, KindFile) {
		t.Error("stale handle from before reuse reports Tracked() = true")
	}
	if !tbl.Tracked(h2, KindFile) {
		t.Error("fresh handle after reuse reports Tracked() = false")
	}
}

func TestSet(t *testing.T) {
	tbl := New(2)
	h, _ := tbl.Track(KindDir, 0x100)
	if errno := tbl.Set(h, KindDir, 0x200); errno != errs.EOK {
		t.Fatalf("Set() = %v", errno)
	}
	addr, errno := tbl.Resolve(h, KindDir)
	if errno != errs.EOK || addr != 0x200 {
		t.Errorf("Resolve() after Set() = %#x, %v want 0x200, EOK", addr, errno)
	}
}

func TestSetStaleHandle(t *testing.T) {
	tbl := New(2)
	h, _ := tbl.Track(KindDir, 0x100)
	if errno := tbl.Untrack(h, KindDir); errno != errs.EOK {
		t.Fatalf("Untrack() = %v", errno)
	}
	if errno := tbl.Set(h, KindDir, 0x300); errno != errs.EBadDesc {
		t.Errorf("Set() on stale handle = %v, want EBadDesc", errno)
	}
}

func TestUntrackAll(t *testing.T) {
	tbl := New(3)
	hKeep, _ := tbl.Track(KindFile, 0x100)
	hDrop, _ := tbl.Track(KindFile, 0x200)
	tbl.UntrackAll(func(addr uintptr) bool { return addr == 0x100 })
	if !tbl.Tracked(hKeep, KindFile) {
		t.Error("UntrackAll() dropped a descriptor its predicate said to keep")
	}
	if tbl.Tracked(hDrop, KindFile) {
		t.Error("UntrackAll() kept a descriptor its predicate said to drop")
	}
}

func TestUpdateInvalidatesRemovedAndShiftsAbove(t *testing.T) {
	tbl := New(3)
	hRemoved, _ := tbl.Track(KindFile, 0x100)
	hAbove, _ := tbl.Track(KindFile, 0x140)
	hBelow, _ := tbl.Track(KindFile, 0x80)

	inRange := func(addr uintptr) bool { return addr >= 0x80 && addr < 0x200 }
	tbl.Update(inRange, 0x100, 0x40)

	if tbl.Tracked(hRemoved, KindFile) {
		t.Error("Update() left the removed descriptor tracked")
	}
	addr, errno := tbl.Resolve(hAbove, KindFile)
	if errno != errs.EOK || addr != 0x100 {
		t.Errorf("Resolve(hAbove) = %#x, %v want 0x100 (shifted down), EOK", addr, errno)
	}
	addr, errno = tbl.Resolve(hBelow, KindFile)
	if errno != errs.EOK || addr != 0x80 {
		t.Errorf("Resolve(hBelow) = %#x, %v want 0x80 (untouched), EOK", addr, errno)
	}
}

func TestUpdateIgnoresOutOfRange(t *testing.T) {
	tbl := New(2)
	h, _ := tbl.Track(KindFile, 0x500)
	inRange := func(addr uintptr) bool { return addr < 0x200 }
	tbl.Update(inRange, 0x100, 0x40)
	addr, errno := tbl.Resolve(h, KindFile)
	if errno != errs.EOK || addr != 0x500 {
		t.Errorf("Resolve() for out-of-range descriptor = %#x, %v want 0x500, EOK", addr, errno)
	}
}

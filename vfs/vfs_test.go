package vfs

import (
	"testing"

	"alloc"
	"boardcfg"
	"desc"
	"errs"
	"flash"
	"limits"
	"pagebuf"
	"simflash"
)

func newMount(t *testing.T) *Mount {
	t.Helper()
	lim := limits.Limits{PathMax: 32, Slots: 4, MaxOpenDesc: 8, ArgcMax: 4, StackSize: 64}
	host := simflash.New(0, 128, 16, 0xFF)
	dev := flash.New(host, flash.Geometry{
		Base: 0, PageSize: 128, PageCount: 16, EraseByte: 0xFF,
		WriteBlockAlign: 4, WriteBlockSize: 4,
	})
	buf := pagebuf.New(dev)
	fs := alloc.New(dev, buf, lim, 0, 16)
	return New(dev, buf, fs, lim, boardcfg.DefaultMagic, "/test")
}

func TestOpenCreateWriteReadClose(t *testing.T) {
	m := newMount(t)
	h, errno := m.Open("/a", OCreat|OWronly)
	if errno != errs.EOK {
		t.Fatalf("Open(OCreat|OWronly) = %v", errno)
	}
	n, errno := m.Write(h, []byte("hello"))
	if errno != errs.EOK || n != 5 {
		t.Fatalf("Write() = %d, %v want 5, EOK", n, errno)
	}
	if errno := m.Close(h); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}

	h2, errno := m.Open("/a", ORdonly)
	if errno != errs.EOK {
		t.Fatalf("Open(ORdonly) = %v", errno)
	}
	got := make([]byte, 5)
	n, errno = m.Read(h2, got)
	if errno != errs.EOK || n != 5 || string(got) != "hello" {
		t.Fatalf("Read() = %q, %d, %v want hello, 5, EOK", got, n, errno)
	}
	if errno := m.Close(h2); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}
}

func TestOpenWithoutCreateMissingFile(t *testing.T) {
	m := newMount(t)
	if _, errno := m.Open("/missing", ORdonly); errno != errs.ENotFound {
		t.Errorf("Open() on missing file = %v, want ENotFound", errno)
	}
}

func TestOpenExclRejectsExisting(t *testing.T) {
	m := newMount(t)
	h, errno := m.Open("/a", OCreat|OWronly)
	if errno != errs.EOK {
		t.Fatalf("Open() = %v", errno)
	}
	if errno := m.Close(h); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}
	if _, errno := m.Open("/a", OCreat|OExcl|OWronly); errno != errs.EExists {
		t.Errorf("Open(OCreat|OExcl) on existing file = %v, want EExists", errno)
	}
}

func TestWriteRequiresWriteAccess(t *testing.T) {
	m := newMount(t)
	h, errno := m.Open("/a", OCreat|OWronly)
	if errno != errs.EOK {
		t.Fatalf("Open() = %v", errno)
	}
	if errno := m.Close(h); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}
	ro, errno := m.Open("/a", ORdonly)
	if errno != errs.EOK {
		t.Fatalf("Open(ORdonly) = %v", errno)
	}
	if _, errno := m.Write(ro, []byte("x")); errno != errs.EAccess {
		t.Errorf("Write() on read-only descriptor = %v, want EAccess", errno)
	}
}

func TestWriteFillsFileToFullCapacity(t *testing.T) {
	// Regression test: a file newly created via OCreat reserves exactly
	// one page, so its full writable capacity is reserved-header bytes.
	// Write must accept every one of those bytes, including the last
	// legal offset (MaxPos), not stop one byte short.
	m := newMount(t)
	h, errno := m.Open("/full", OCreat|OWronly)
	if errno != errs.EOK {
		t.Fatalf("Open() = %v", errno)
	}
	addr, errno := m.Descs.Resolve(h, desc.KindFile)
	if errno != errs.EOK {
		t.Fatalf("Resolve() = %v", errno)
	}
	filp := m.rec(addr)
	maxPos, lerr := filp.MaxPos()
	if lerr != errs.LowOK {
		t.Fatalf("MaxPos() = %v", lerr)
	}
	capacity := int(maxPos) + 1

	payload := make([]byte, capacity)
	for i := range payload {
		payload[i] = byte(i%200 + 1)
	}
	n, errno := m.Write(h, payload)
	if errno != errs.EOK {
		t.Fatalf("Write() = %v", errno)
	}
	if n != capacity {
		t.Fatalf("Write() wrote %d bytes, want %d (full reserved capacity)", n, capacity)
	}
	if errno := m.Close(h); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}

	h2, errno := m.Open("/full", ORdonly)
	if errno != errs.EOK {
		t.Fatalf("Open(ORdonly) = %v", errno)
	}
	got := make([]byte, capacity)
	n, errno = m.Read(h2, got)
	if errno != errs.EOK || n != capacity {
		t.Fatalf("Read() = %d, %v want %d, EOK", n, errno, capacity)
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], payload[i])
		}
	}
	if errno := m.Close(h2); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}
}

func TestUnlink(t *testing.T) {
	m := newMount(t)
	h, errno := m.Open("/a", OCreat|OWronly)
	if errno != errs.EOK {
		t.Fatalf("Open() = %v", errno)
	}
	if errno := m.Close(h); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}
	if errno := m.Unlink("/a"); errno != errs.EOK {
		t.Fatalf("Unlink() = %v", errno)
	}
	if _, errno := m.Open("/a", ORdonly); errno != errs.ENotFound {
		t.Errorf("Open() after Unlink() = %v, want ENotFound", errno)
	}
}

func TestUnlinkDirectoryFails(t *testing.T) {
	m := newMount(t)
	if errno := m.Mkdir("/d"); errno != errs.EOK {
		t.Fatalf("Mkdir() = %v", errno)
	}
	if errno := m.Unlink("/d"); errno != errs.EIsDir {
		t.Errorf("Unlink() on directory = %v, want EIsDir", errno)
	}
}

func TestMkdirRmdir(t *testing.T) {
	m := newMount(t)
	if errno := m.Mkdir("/d"); errno != errs.EOK {
		t.Fatalf("Mkdir() = %v", errno)
	}
	if errno := m.Mkdir("/d"); errno != errs.EExists {
		t.Errorf("Mkdir() of existing directory = %v, want EExists", errno)
	}
	if errno := m.Rmdir("/d"); errno != errs.EOK {
		t.Fatalf("Rmdir() = %v", errno)
	}
	if errno := m.Rmdir("/d"); errno != errs.ENotFound {
		t.Errorf("Rmdir() of removed directory = %v, want ENotFound", errno)
	}
}

func TestRmdirNonemptyFails(t *testing.T) {
	m := newMount(t)
	if errno := m.Mkdir("/d"); errno != errs.EOK {
		t.Fatalf("Mkdir() = %v", errno)
	}
	h, errno := m.Open("/d/f", OCreat|OWronly)
	if errno != errs.EOK {
		t.Fatalf("Open() = %v", errno)
	}
	if errno := m.Close(h); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}
	if errno := m.Rmdir("/d"); errno != errs.ENotEmpty {
		t.Errorf("Rmdir() on non-empty directory = %v, want ENotEmpty", errno)
	}
}

func TestOpendirReaddirClosedir(t *testing.T) {
	m := newMount(t)
	for _, name := range []string{"/a", "/b", "/c"} {
		h, errno := m.Open(name, OCreat|OWronly)
		if errno != errs.EOK {
			t.Fatalf("Open(%s) = %v", name, errno)
		}
		if errno := m.Close(h); errno != errs.EOK {
			t.Fatalf("Close(%s) = %v", name, errno)
		}
	}
	dh, errno := m.Opendir("/")
	if errno != errs.EOK {
		t.Fatalf("Opendir() = %v", errno)
	}
	seen := map[string]bool{}
	for {
		name, n, errno := m.Readdir(dh)
		if errno != errs.EOK {
			t.Fatalf("Readdir() = %v", errno)
		}
		if n == 0 {
			break
		}
		seen[name] = true
	}
	for _, name := range []string{"a", "b", "c"} {
		if !seen[name] {
			t.Errorf("Readdir() did not report %q, saw %v", name, seen)
		}
	}
	if errno := m.Closedir(dh); errno != errs.EOK {
		t.Fatalf("Closedir() = %v", errno)
	}
}

func TestRenameFileToCreatable(t *testing.T) {
	m := newMount(t)
	h, errno := m.Open("/a", OCreat|OWronly)
	if errno != errs.EOK {
		t.Fatalf("Open() = %v", errno)
	}
	if errno := m.Close(h); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}
	if errno := m.Rename("/a", "/b"); errno != errs.EOK {
		t.Fatalf("Rename() = %v", errno)
	}
	if _, errno := m.Open("/a", ORdonly); errno != errs.ENotFound {
		t.Errorf("Open(/a) after Rename() = %v, want ENotFound", errno)
	}
	if _, errno := m.Open("/b", ORdonly); errno != errs.EOK {
		t.Errorf("Open(/b) after Rename() = %v, want EOK", errno)
	}
}

func TestRenameSelfIsNoop(t *testing.T) {
	m := newMount(t)
	h, errno := m.Open("/a", OCreat|OWronly)
	if errno != errs.EOK {
		t.Fatalf("Open() = %v", errno)
	}
	if errno := m.Close(h); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}
	if errno := m.Rename("/a", "/a"); errno != errs.EOK {
		t.Errorf("Rename(/a, /a) = %v, want EOK", errno)
	}
}

func TestStatAndStatvfs(t *testing.T) {
	m := newMount(t)
	h, errno := m.Open("/a", OCreat|OWronly)
	if errno != errs.EOK {
		t.Fatalf("Open() = %v", errno)
	}
	if _, errno := m.Write(h, []byte("hi")); errno != errs.EOK {
		t.Fatalf("Write() = %v", errno)
	}
	if errno := m.Close(h); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}
	st, errno := m.Stat("/a")
	if errno != errs.EOK {
		t.Fatalf("Stat() = %v", errno)
	}
	if st.Size != 2 {
		t.Errorf("Stat().Size = %d, want 2", st.Size)
	}
	if st.IsDir() {
		t.Error("Stat() on a file reports IsDir() = true")
	}

	vfs, errno := m.Statvfs()
	if errno != errs.EOK {
		t.Fatalf("Statvfs() = %v", errno)
	}
	if vfs.Blocks != 16 {
		t.Errorf("Statvfs().Blocks = %d, want 16", vfs.Blocks)
	}
}

func TestFormat(t *testing.T) {
	m := newMount(t)
	h, errno := m.Open("/a", OCreat|OWronly)
	if errno != errs.EOK {
		t.Fatalf("Open() = %v", errno)
	}
	if errno := m.Close(h); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}
	if errno := m.Format(); errno != errs.EOK {
		t.Fatalf("Format() = %v", errno)
	}
	if _, errno := m.Open("/a", ORdonly); errno != errs.ENotFound {
		t.Errorf("Open() after Format() = %v, want ENotFound", errno)
	}
}

func TestMountIntegrityCheck(t *testing.T) {
	m := newMount(t)
	if errno := m.Mount(); errno != errs.EOK {
		t.Fatalf("Mount() on a freshly erased volume = %v, want EOK", errno)
	}
	h, errno := m.Open("/a", OCreat|OWronly)
	if errno != errs.EOK {
		t.Fatalf("Open() = %v", errno)
	}
	if errno := m.Close(h); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}
	if errno := m.Mount(); errno != errs.EOK {
		t.Fatalf("Mount() after writing one file = %v, want EOK", errno)
	}
}

func TestUmountUntracksDescriptors(t *testing.T) {
	m := newMount(t)
	h, errno := m.Open("/a", OCreat|OWronly)
	if errno != errs.EOK {
		t.Fatalf("Open() = %v", errno)
	}
	if errno := m.Umount(); errno != errs.EOK {
		t.Fatalf("Umount() = %v", errno)
	}
	if m.Descs.Tracked(h, desc.KindFile) {
		t.Error("descriptor still tracked after Umount()")
	}
}

func TestInfosFileReadOnly(t *testing.T) {
	m := newMount(t)
	h, errno := m.Open(InfosName, ORdonly)
	if errno != errs.EOK {
		t.Fatalf("Open(%s) = %v", InfosName, errno)
	}
	buf := make([]byte, 8)
	if _, errno := m.Read(h, buf); errno != errs.EOK {
		t.Fatalf("Read(%s) = %v", InfosName, errno)
	}
	if errno := m.Close(h); errno != errs.EOK {
		t.Fatalf("Close() = %v", errno)
	}
	if _, errno := m.Open(InfosName, OWronly); errno != errs.EAccess {
		t.Errorf("Open(%s, OWronly) = %v, want EAccess", InfosName, errno)
	}
}

func TestNewFileAndStatsCounters(t *testing.T) {
	m := newMount(t)
	if errno := m.NewFile("/a", 4, true); errno != errs.EOK {
		t.Fatalf("NewFile() = %v", errno)
	}
	if got := m.Stats.NewFiles.Load(); got != 1 {
		t.Errorf("Stats.NewFiles.Load() = %d, want 1", got)
	}
	st, errno := m.Stat("/a")
	if errno != errs.EOK {
		t.Fatalf("Stat() = %v", errno)
	}
	if st.IsDir() {
		t.Error("NewFile() created a directory, not a file")
	}
}

// Package vfs implements spec.md §4.7: the driver surface a host OS
// binds its open/read/write/... syscalls to. It plays the role the
// teacher's ufs package's top-level Fs_t operations play for a
// block-device volume, except every "inode" here already carries its
// own path, so there is no separate directory-entry layer to walk.
//
// Every exported method here acquires the mount's operations lock for
// its whole duration (spec.md §5): path resolution, buffer flush,
// allocator mutation, and descriptor fix-up all happen while one
// caller holds it. execcore acquires the separate ExecMu instead,
// held across an entire binary invocation, so a running XIP binary's
// pages can never move or be erased underneath it.
package vfs

import (
	"alloc"
	"boardcfg"
	"desc"
	"errs"
	"flash"
	"limits"
	"pagebuf"
	"record"
	"stat"
	"stats"
	"strings"
	"sync"
	"util"
	"xpath"
)

// Open flags, the subset of POSIX open(2) flags spec.md's driver
// surface interprets. Open and Mkdir take no mode bits.
const (
	ORdonly = 0
	OWronly = 1
	ORdwr   = 2
	OAccmode = 0x3

	OCreat  = 0x40
	OExcl   = 0x80
	OAppend = 0x400
)

// Seek whence values.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// InfosName is the virtual sentinel file's basename: a read-only copy
// of the mount structure, for debugging a running mount without a
// dedicated introspection API (spec.md §4.6/§9).
const InfosName = ".xipfs_infos"

// sentinelAddr marks a descriptor that does not resolve to any real
// record: the virtual info file, or a directory descriptor whose
// enumeration has run off the end of the chain. It is never a valid
// record address because it lies far outside any flash device this
// core will ever be configured against.
const sentinelAddr = ^uintptr(0)

type fileMeta struct {
	pos   int64
	flags int
}

type dirMeta struct {
	dirname string
}

// Mount addresses one mounted xipfs volume and the RAM-side state
// (page buffer, descriptor table, per-descriptor metadata, locks)
// original_source keeps as file-scope statics. Design note 9: owning
// all of this inside the Mount instance, rather than as package
// globals, is what lets more than one mount (or test) exist at once.
type Mount struct {
	Magic uint32
	Path  string

	FS    *alloc.FS
	Descs *desc.Table
	Buf   *pagebuf.Buffer
	Dev   *flash.Device
	Lim   limits.Limits

	Latch errs.Latch

	// Stats counts operations this mount has served; see stats.Mount.
	Stats stats.Mount

	// mu is the "operations" mutex spec.md §5 requires every mutating
	// driver call to hold for its duration.
	mu sync.Mutex
	// ExecMu is the separate "execution" mutex, held by execcore across
	// an entire invoke, serializing it against every method here.
	ExecMu sync.Mutex

	fileMeta []fileMeta
	dirMeta  []dirMeta
}

// New addresses a volume for driver-level operations. fs, buf and dev
// must already agree on the same underlying device and geometry.
func New(dev *flash.Device, buf *pagebuf.Buffer, fs *alloc.FS, lim limits.Limits, magic uint32, path string) *Mount {
	return &Mount{
		Magic:    magic,
		Path:     path,
		FS:       fs,
		Descs:    desc.New(lim.MaxOpenDesc),
		Buf:      buf,
		Dev:      dev,
		Lim:      lim,
		fileMeta: make([]fileMeta, lim.MaxOpenDesc),
		dirMeta:  make([]dirMeta, lim.MaxOpenDesc),
	}
}

func (m *Mount) rec(addr uintptr) *record.Record {
	return record.New(addr, m.Dev, m.Buf, m.Lim)
}

func (m *Mount) inRange(addr uintptr) bool {
	return addr >= m.FS.Base && addr < m.FS.Base+uintptr(m.FS.PageCount*m.Dev.Geom.PageSize)
}

// Check validates the mount structure itself: a well-formed magic and
// an NVM window that actually lies inside the backing device, mirroring
// xipfs_mp_check. Open, Mount and Umount call this first; the other
// entry points do not call it.
func (m *Mount) Check() errs.Errno {
	if m.Magic != boardcfg.DefaultMagic {
		return errs.EInvalid
	}
	if !m.Dev.In(m.FS.Base) {
		return errs.EInvalid
	}
	if m.FS.PageCount <= 0 {
		return errs.EInvalid
	}
	if m.FS.Base+uintptr(m.FS.PageCount*m.Dev.Geom.PageSize) > m.Dev.End() {
		return errs.EInvalid
	}
	return errs.EOK
}

func basename(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func byteAt(s string, i int) byte {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

// isEmptyDirMarker reports whether w is exactly the empty-directory
// marker record for dirname: a one-page record whose path is the
// directory's own name. Both Creatable's witness (an ancestor) and a
// true marker can reach here; only an exact path match is a marker.
func isEmptyDirMarker(w *record.Record, dirname string) (bool, errs.Low) {
	if w == nil {
		return false, errs.LowOK
	}
	p, err := w.Path()
	if err != errs.LowOK {
		return false, err
	}
	return string(p) == dirname, errs.LowOK
}

// removeRecord flushes the buffer, removes r via the consolidating
// allocator, and fixes up every descriptor the compaction shifted.
// Every caller below that removes a record goes through this, never
// alloc.FS.Remove directly, per spec.md §4.7's closing paragraph.
func (m *Mount) removeRecord(r *record.Record) errs.Low {
	if err := m.Buf.Flush(); err != errs.LowOK {
		return err
	}
	reserved, err := r.Reserved()
	if err != errs.LowOK {
		return err
	}
	addr := r.Addr
	if err := m.FS.Remove(r); err != errs.LowOK {
		return err
	}
	m.Descs.Update(m.inRange, addr, reserved)
	m.Stats.Compactions.Inc()
	return errs.LowOK
}

// InfosSnapshot renders the mount structure the virtual info file
// exposes: magic, page count, base address, mount path (padded to
// PathMax), and two placeholder fields where original_source embeds
// live mutex pointers. Go offers no safe equivalent of exposing a
// sync.Mutex's address to a reader, so those eight-byte fields are
// always zero; this is a deliberate, narrower debug surface than the
// C original's raw struct copy, not a functional gap (spec.md §9: the
// virtual file is a debug surface, not a generic file).
func (m *Mount) InfosSnapshot() []byte {
	buf := make([]byte, 4+4+8+m.Lim.PathMax+8+8)
	util.Writeu32(buf, 0, m.Magic)
	util.Writeu32(buf, 4, uint32(m.FS.PageCount))
	util.Writeu64(buf, 8, uint64(m.FS.Base))
	off := 16
	copy(buf[off:off+m.Lim.PathMax], []byte(m.Path))
	return append(buf, []byte(m.Stats.String())...)
}

// Open resolves name and tracks a new file descriptor for it,
// creating the file first when O_CREAT applies. See spec.md §4.7.
func (m *Mount) Open(name string, flags int) (desc.Handle, errs.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stats.Opens.Inc()

	if errno := m.Check(); errno != errs.EOK {
		return desc.Handle{}, errno
	}
	if len(name) == 0 {
		return desc.Handle{}, errs.ENotFound
	}
	if len(name) >= m.Lim.PathMax {
		return desc.Handle{}, errs.ENameTooLong
	}

	if basename(name) == InfosName {
		if flags&OCreat != 0 && flags&OExcl != 0 {
			return desc.Handle{}, errs.EExists
		}
		if flags&OWronly != 0 || flags&OAppend != 0 || flags&ORdwr != 0 {
			return desc.Handle{}, errs.EAccess
		}
		h, errno := m.Descs.Track(desc.KindFile, sentinelAddr)
		if errno != errs.EOK {
			return desc.Handle{}, errno
		}
		m.fileMeta[h.Slot] = fileMeta{pos: 0, flags: flags}
		return h, errs.EOK
	}

	res, low := xpath.Classify(m.FS, m.Lim.PathMax, name)
	if low != errs.LowOK {
		return desc.Handle{}, low.Errno()
	}

	var filp *record.Record
	switch res.Kind {
	case xpath.ExistsAsFile:
		if flags&OCreat != 0 && flags&OExcl != 0 {
			return desc.Handle{}, errs.EExists
		}
		filp = res.Witness
	case xpath.ExistsAsEmptyDir, xpath.ExistsAsNonemptyDir:
		return desc.Handle{}, errs.EIsDir
	case xpath.BlockedByNonDir:
		return desc.Handle{}, errs.ENotDir
	case xpath.ParentMissing:
		return desc.Handle{}, errs.ENotFound
	case xpath.Creatable:
		if flags&OCreat == 0 {
			return desc.Handle{}, errs.ENotFound
		}
		if strings.HasSuffix(res.Path, "/") {
			return desc.Handle{}, errs.EIsDir
		}
		if res.Dirname != "/" {
			marker, err := isEmptyDirMarker(res.Witness, res.Dirname)
			if err != errs.LowOK {
				return desc.Handle{}, err.Errno()
			}
			if marker {
				if err := m.removeRecord(res.Witness); err != errs.LowOK {
					return desc.Handle{}, errs.EIO
				}
			}
		}
		nf, err := m.FS.NewFile(name, 0, false)
		if err != errs.LowOK {
			return desc.Handle{}, err.Errno()
		}
		filp = nf
		m.Stats.NewFiles.Inc()
	default:
		return desc.Handle{}, errs.EIO
	}

	var pos int64
	if flags&OAppend != 0 {
		size, err := filp.GetSize()
		if err != errs.LowOK {
			return desc.Handle{}, errs.EIO
		}
		pos = int64(size)
	}

	h, errno := m.Descs.Track(desc.KindFile, filp.Addr)
	if errno != errs.EOK {
		return desc.Handle{}, errno
	}
	m.fileMeta[h.Slot] = fileMeta{pos: pos, flags: flags}
	return h, errs.EOK
}

// Close rotates a new size slot if the descriptor's position ran past
// the recorded size, then untracks it.
func (m *Mount) Close(h desc.Handle) errs.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stats.Closes.Inc()

	addr, errno := m.Descs.Resolve(h, desc.KindFile)
	if errno != errs.EOK {
		return errno
	}
	if addr == sentinelAddr {
		return m.Descs.Untrack(h, desc.KindFile)
	}
	filp := m.rec(addr)
	fm := m.fileMeta[h.Slot]
	size, err := filp.GetSize()
	if err != errs.LowOK {
		return errs.EIO
	}
	if int64(size) < fm.pos {
		if err := filp.SetSize(uint32(fm.pos)); err != errs.LowOK {
			return errs.EIO
		}
	}
	return m.Descs.Untrack(h, desc.KindFile)
}

// Read copies up to len(dest) bytes starting at the descriptor's
// position, advancing it, and returns the count actually read. The
// virtual info file bypasses the position entirely and always returns
// a fresh snapshot from its start.
func (m *Mount) Read(h desc.Handle, dest []byte) (int, errs.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stats.Reads.Inc()

	addr, errno := m.Descs.Resolve(h, desc.KindFile)
	if errno != errs.EOK {
		return 0, errno
	}
	if addr == sentinelAddr {
		snap := m.InfosSnapshot()
		return copy(dest, snap), errs.EOK
	}
	fm := m.fileMeta[h.Slot]
	if fm.flags&OAccmode != ORdonly && fm.flags&OAccmode != ORdwr {
		return 0, errs.EAccess
	}
	filp := m.rec(addr)
	size, err := filp.GetSize()
	if err != errs.LowOK {
		return 0, errs.EIO
	}
	n := 0
	for n < len(dest) && fm.pos < int64(size) {
		b, err := filp.ReadByte(fm.pos)
		if err != errs.LowOK {
			return n, err.Errno()
		}
		dest[n] = b
		fm.pos++
		n++
	}
	m.fileMeta[h.Slot] = fm
	return n, errs.EOK
}

// Write copies up to len(src) bytes into the descriptor's file
// starting at its position, bounded by the record's max payload
// offset, advancing the position.
func (m *Mount) Write(h desc.Handle, src []byte) (int, errs.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stats.Writes.Inc()

	addr, errno := m.Descs.Resolve(h, desc.KindFile)
	if errno != errs.EOK {
		return 0, errno
	}
	if addr == sentinelAddr {
		return 0, errs.EBadDesc
	}
	fm := m.fileMeta[h.Slot]
	if fm.flags&OAccmode != OWronly && fm.flags&OAccmode != ORdwr {
		return 0, errs.EAccess
	}
	filp := m.rec(addr)
	maxPos, err := filp.MaxPos()
	if err != errs.LowOK {
		return 0, errs.EIO
	}
	n := 0
	for n < len(src) && fm.pos <= maxPos {
		if err := filp.WriteByte(fm.pos, src[n]); err != errs.LowOK {
			return n, err.Errno()
		}
		fm.pos++
		n++
	}
	m.fileMeta[h.Slot] = fm
	return n, errs.EOK
}

// Lseek repositions a file descriptor, rotating a new size slot first
// if the seek moves backward across a never-committed write extension.
func (m *Mount) Lseek(h desc.Handle, off int64, whence int) (int64, errs.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stats.Seeks.Inc()

	addr, errno := m.Descs.Resolve(h, desc.KindFile)
	if errno != errs.EOK {
		return 0, errno
	}
	fm := m.fileMeta[h.Slot]

	var maxPos, size int64
	var filp *record.Record
	if addr == sentinelAddr {
		snapLen := int64(len(m.InfosSnapshot()))
		maxPos, size = snapLen, snapLen
	} else {
		filp = m.rec(addr)
		mp, err := filp.MaxPos()
		if err != errs.LowOK {
			return 0, errs.EIO
		}
		sz, err := filp.GetSize()
		if err != errs.LowOK {
			return 0, errs.EIO
		}
		maxPos, size = mp, int64(sz)
	}

	var newPos int64
	switch whence {
	case SeekSet:
		newPos = off
	case SeekCur:
		newPos = fm.pos + off
	case SeekEnd:
		newPos = util.Max(fm.pos, size) + off
	default:
		return 0, errs.EInvalid
	}
	if newPos < 0 || newPos > maxPos {
		return 0, errs.EInvalid
	}
	if fm.pos > size && newPos < fm.pos {
		if filp != nil {
			if err := filp.SetSize(uint32(fm.pos)); err != errs.LowOK {
				return 0, errs.EIO
			}
		}
	}
	fm.pos = newPos
	m.fileMeta[h.Slot] = fm
	return newPos, errs.EOK
}

// Fsync rotates a new size slot recording pos as the file's current
// size.
func (m *Mount) Fsync(h desc.Handle, pos int64) errs.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr, errno := m.Descs.Resolve(h, desc.KindFile)
	if errno != errs.EOK {
		return errno
	}
	if addr == sentinelAddr {
		return errs.EBadDesc
	}
	filp := m.rec(addr)
	if err := filp.SetSize(uint32(pos)); err != errs.LowOK {
		return errs.EIO
	}
	return errs.EOK
}

// Fstat fabricates a Stat_t for an already-open file descriptor.
func (m *Mount) Fstat(h desc.Handle) (stat.Stat_t, errs.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr, errno := m.Descs.Resolve(h, desc.KindFile)
	if errno != errs.EOK {
		return stat.Stat_t{}, errno
	}
	if addr == sentinelAddr {
		return stat.Stat_t{}, errs.EBadDesc
	}
	filp := m.rec(addr)
	fm := m.fileMeta[h.Slot]
	size, err := filp.GetSize()
	if err != errs.LowOK {
		return stat.Stat_t{}, errs.EIO
	}
	reserved, err := filp.Reserved()
	if err != errs.LowOK {
		return stat.Stat_t{}, errs.EIO
	}
	var st stat.Stat_t
	st.Wdev(uint(m.FS.Base))
	st.Wino(uint(filp.Addr))
	st.Wmode(stat.ModeReg)
	st.Wsize(uint(util.Max(int64(size), fm.pos)))
	st.Wblksize(uint(m.Dev.Geom.PageSize))
	st.Wblocks(uint(reserved) / uint(m.Dev.Geom.PageSize))
	return st, errs.EOK
}

// Stat fabricates a Stat_t for a path without opening it.
func (m *Mount) Stat(path string) (stat.Stat_t, errs.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(path) == 0 {
		return stat.Stat_t{}, errs.ENotFound
	}
	if len(path) >= m.Lim.PathMax {
		return stat.Stat_t{}, errs.ENameTooLong
	}
	res, low := xpath.Classify(m.FS, m.Lim.PathMax, path)
	if low != errs.LowOK {
		return stat.Stat_t{}, low.Errno()
	}
	switch res.Kind {
	case xpath.ExistsAsFile, xpath.ExistsAsEmptyDir, xpath.ExistsAsNonemptyDir:
	case xpath.BlockedByNonDir:
		return stat.Stat_t{}, errs.ENotDir
	default:
		return stat.Stat_t{}, errs.ENotFound
	}
	witnessPath, err := res.Witness.Path()
	if err != errs.LowOK {
		return stat.Stat_t{}, err.Errno()
	}
	if len(witnessPath) < len(path) || string(witnessPath[:len(path)]) != path {
		return stat.Stat_t{}, errs.ENotFound
	}
	size, err := res.Witness.GetSize()
	if err != errs.LowOK {
		return stat.Stat_t{}, errs.EIO
	}
	reserved, err := res.Witness.Reserved()
	if err != errs.LowOK {
		return stat.Stat_t{}, errs.EIO
	}
	var st stat.Stat_t
	st.Wdev(uint(m.FS.Base))
	st.Wino(uint(res.Witness.Addr))
	if strings.HasSuffix(path, "/") {
		st.Wmode(stat.ModeDir)
	} else {
		st.Wmode(stat.ModeReg)
	}
	st.Wsize(uint(size))
	st.Wblksize(uint(m.Dev.Geom.PageSize))
	st.Wblocks(uint(reserved) / uint(m.Dev.Geom.PageSize))
	return st, errs.EOK
}

// Statvfs reports volume-wide space usage.
func (m *Mount) Statvfs() (stat.Statvfs_t, errs.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()

	free, err := m.FS.FreePages()
	if err != errs.LowOK {
		return stat.Statvfs_t{}, errs.EIO
	}
	return stat.Statvfs_t{
		Bsize:   uint64(m.Dev.Geom.PageSize),
		Frsize:  uint64(m.Dev.Geom.PageSize),
		Blocks:  uint64(m.FS.PageCount),
		Bfree:   uint64(free),
		Bavail:  uint64(free),
		Namemax: uint64(m.Lim.PathMax),
	}, errs.EOK
}

// childName reports the single path component of path immediately
// under dirname, including a trailing slash when that component is
// itself a directory prefix, or ok=false when path is not a
// descendant of dirname at all. It is a direct transliteration of
// xipfs_readdir's character walk.
func childName(dirname, path string, pathMax int) (string, bool, errs.Low) {
	i := 0
	for i < pathMax {
		if byteAt(path, i) != byteAt(dirname, i) {
			break
		}
		if byteAt(dirname, i) == 0 {
			break
		}
		if byteAt(path, i) == 0 {
			break
		}
		i++
	}
	if i == pathMax {
		return "", false, errs.LowNotNulTerminated
	}
	if byteAt(dirname, i) != 0 {
		return "", false, errs.LowOK
	}
	j := i
	if byteAt(path, j) == '/' {
		j++
	}
	start := j
	for j < pathMax {
		c := byteAt(path, j)
		if c == 0 {
			return path[start:j], true, errs.LowOK
		}
		if c == '/' {
			return path[start : j+1], true, errs.LowOK
		}
		j++
	}
	return "", false, errs.LowNotNulTerminated
}

// Opendir classifies name as a directory and tracks a descriptor
// positioned at the head of the record chain; Readdir filters as it
// walks.
func (m *Mount) Opendir(name string) (desc.Handle, errs.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(name) == 0 {
		return desc.Handle{}, errs.ENotFound
	}
	if len(name) >= m.Lim.PathMax {
		return desc.Handle{}, errs.ENameTooLong
	}
	res, low := xpath.Classify(m.FS, m.Lim.PathMax, name)
	if low != errs.LowOK {
		return desc.Handle{}, low.Errno()
	}
	switch res.Kind {
	case xpath.ExistsAsFile, xpath.BlockedByNonDir:
		return desc.Handle{}, errs.ENotDir
	case xpath.ExistsAsEmptyDir, xpath.ExistsAsNonemptyDir:
	case xpath.Creatable:
		if res.Path != "/" {
			return desc.Handle{}, errs.ENotFound
		}
	default:
		return desc.Handle{}, errs.ENotFound
	}

	head, low := m.FS.Head()
	if low != errs.LowOK {
		return desc.Handle{}, low.Errno()
	}
	cursor := uintptr(sentinelAddr)
	if head != nil {
		cursor = head.Addr
	}
	h, errno := m.Descs.Track(desc.KindDir, cursor)
	if errno != errs.EOK {
		return desc.Handle{}, errno
	}
	m.dirMeta[h.Slot] = dirMeta{dirname: res.Path}
	return h, errs.EOK
}

// Readdir returns the next immediate child of the directory h
// addresses. It returns ("", 0, EOK) at the end of the directory, or
// (name, 1, EOK) for each entry in between.
func (m *Mount) Readdir(h desc.Handle) (string, int, errs.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr, errno := m.Descs.Resolve(h, desc.KindDir)
	if errno != errs.EOK {
		return "", 0, errno
	}
	if addr == sentinelAddr {
		return "", 0, errs.EOK
	}
	dirname := m.dirMeta[h.Slot].dirname
	cur := m.rec(addr)
	for cur != nil {
		path, err := cur.Path()
		if err != errs.LowOK {
			return "", 0, err.Errno()
		}
		next, err := m.FS.Next(cur)
		if err != errs.LowOK {
			return "", 0, err.Errno()
		}
		name, matched, err := childName(dirname, string(path), m.Lim.PathMax)
		if err != errs.LowOK {
			return "", 0, err.Errno()
		}
		if matched {
			newAddr := uintptr(sentinelAddr)
			if next != nil {
				newAddr = next.Addr
			}
			m.Descs.Set(h, desc.KindDir, newAddr)
			return name, 1, errs.EOK
		}
		cur = next
	}
	m.Descs.Set(h, desc.KindDir, sentinelAddr)
	return "", 0, errs.EOK
}

// Closedir untracks a directory descriptor.
func (m *Mount) Closedir(h desc.Handle) errs.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Descs.Untrack(h, desc.KindDir)
}

// Mkdir creates an empty-directory marker record at name, consuming
// the parent's marker first if name's creation would otherwise leave
// two adjacent markers.
func (m *Mount) Mkdir(name string) errs.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stats.Mkdirs.Inc()

	if len(name) == 0 {
		return errs.ENotFound
	}
	if name == "/" {
		return errs.EExists
	}
	if len(name) >= m.Lim.PathMax {
		return errs.ENameTooLong
	}
	res, low := xpath.Classify(m.FS, m.Lim.PathMax, name)
	if low != errs.LowOK {
		return low.Errno()
	}
	switch res.Kind {
	case xpath.ExistsAsFile, xpath.ExistsAsEmptyDir, xpath.ExistsAsNonemptyDir:
		return errs.EExists
	case xpath.BlockedByNonDir:
		return errs.ENotDir
	case xpath.ParentMissing:
		return errs.ENotFound
	case xpath.Creatable:
	default:
		return errs.EIO
	}

	dirPath := res.Path
	if !strings.HasSuffix(dirPath, "/") {
		if len(dirPath)+1 >= m.Lim.PathMax {
			return errs.ENameTooLong
		}
		dirPath += "/"
	}

	if marker, err := isEmptyDirMarker(res.Witness, res.Dirname); err != errs.LowOK {
		return err.Errno()
	} else if marker {
		if err := m.removeRecord(res.Witness); err != errs.LowOK {
			return errs.EIO
		}
	}

	if _, err := m.FS.NewFile(dirPath, 0, false); err != errs.LowOK {
		return err.Errno()
	}
	return errs.EOK
}

// Rmdir removes an empty directory's marker record, recreating the
// parent's own marker if that leaves the parent empty.
func (m *Mount) Rmdir(name string) errs.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stats.Rmdirs.Inc()

	if len(name) == 0 {
		return errs.ENotFound
	}
	if name == "/" {
		return errs.EBusy
	}
	if len(name) >= m.Lim.PathMax {
		return errs.ENameTooLong
	}
	res, low := xpath.Classify(m.FS, m.Lim.PathMax, name)
	if low != errs.LowOK {
		return low.Errno()
	}
	switch res.Kind {
	case xpath.ExistsAsFile, xpath.BlockedByNonDir:
		return errs.ENotDir
	case xpath.ExistsAsNonemptyDir:
		return errs.ENotEmpty
	case xpath.ExistsAsEmptyDir:
	default:
		return errs.ENotFound
	}

	if err := m.removeRecord(res.Witness); err != errs.LowOK {
		return errs.EIO
	}
	if res.ParentCount == 1 && res.Dirname != "/" {
		if _, err := m.FS.NewFile(res.Dirname, 0, false); err != errs.LowOK {
			return err.Errno()
		}
	}
	return errs.EOK
}

// Unlink removes a file's record, recreating the parent's empty-dir
// marker if that leaves the parent with no other contents.
func (m *Mount) Unlink(name string) errs.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stats.Unlinks.Inc()

	if len(name) == 0 {
		return errs.ENotFound
	}
	if name == "/" {
		return errs.EIsDir
	}
	if len(name) >= m.Lim.PathMax {
		return errs.ENameTooLong
	}
	res, low := xpath.Classify(m.FS, m.Lim.PathMax, name)
	if low != errs.LowOK {
		return low.Errno()
	}
	switch res.Kind {
	case xpath.ExistsAsFile:
	case xpath.ExistsAsEmptyDir, xpath.ExistsAsNonemptyDir:
		return errs.EIsDir
	case xpath.BlockedByNonDir:
		return errs.ENotDir
	default:
		return errs.ENotFound
	}

	if err := m.removeRecord(res.Witness); err != errs.LowOK {
		return errs.EIO
	}
	if res.ParentCount == 1 && res.Dirname != "/" {
		if _, err := m.FS.NewFile(res.Dirname, 0, false); err != errs.LowOK {
			return err.Errno()
		}
	}
	return errs.EOK
}

// Rename resolves both paths in a single pass and applies the full
// (from, to) classification matrix spec.md §4.7 describes: a file
// renames onto a file or a creatable name; an empty directory renames
// onto an empty directory or a creatable name; a non-empty directory
// renames via RenameAll onto an empty directory or a creatable name.
// Self-rename is a no-op; renaming a directory into its own subtree
// fails with EInvalid.
func (m *Mount) Rename(from, to string) errs.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stats.Renames.Inc()

	if len(from) == 0 || len(to) == 0 {
		return errs.ENotFound
	}
	if len(from) >= m.Lim.PathMax || len(to) >= m.Lim.PathMax {
		return errs.ENameTooLong
	}

	results, low := xpath.ClassifyMany(m.FS, m.Lim.PathMax, []string{from, to})
	if low != errs.LowOK {
		return low.Errno()
	}
	fromRes, toRes := results[0], results[1]
	var renamed int

	switch fromRes.Kind {
	case xpath.ExistsAsFile:
		switch toRes.Kind {
		case xpath.ExistsAsFile:
			if fromRes.Witness == toRes.Witness {
				return errs.EOK
			}
			if err := fromRes.Witness.Rename(toRes.Path); err != errs.LowOK {
				return err.Errno()
			}
			renamed = 1
		case xpath.ExistsAsEmptyDir, xpath.ExistsAsNonemptyDir:
			return errs.EIsDir
		case xpath.BlockedByNonDir:
			return errs.ENotDir
		case xpath.Creatable:
			if strings.HasSuffix(toRes.Path, "/") {
				return errs.ENotDir
			}
			if err := fromRes.Witness.Rename(toRes.Path); err != errs.LowOK {
				return err.Errno()
			}
			renamed = 1
		default:
			return errs.ENotFound
		}
	case xpath.ExistsAsEmptyDir:
		switch toRes.Kind {
		case xpath.ExistsAsFile:
			return errs.ENotDir
		case xpath.ExistsAsEmptyDir:
			if fromRes.Witness == toRes.Witness {
				return errs.EOK
			}
			if err := fromRes.Witness.Rename(toRes.Path); err != errs.LowOK {
				return err.Errno()
			}
			renamed = 1
		case xpath.ExistsAsNonemptyDir:
			return errs.ENotEmpty
		case xpath.BlockedByNonDir:
			return errs.ENotDir
		case xpath.Creatable:
			toPath := toRes.Path
			if !strings.HasSuffix(toPath, "/") {
				if len(toPath)+1 >= m.Lim.PathMax {
					return errs.ENameTooLong
				}
				toPath += "/"
			}
			if strings.HasPrefix(toPath, fromRes.Path) {
				return errs.EInvalid
			}
			if err := fromRes.Witness.Rename(toPath); err != errs.LowOK {
				return err.Errno()
			}
			renamed = 1
		default:
			return errs.ENotFound
		}
	case xpath.ExistsAsNonemptyDir:
		switch toRes.Kind {
		case xpath.ExistsAsFile:
			return errs.ENotDir
		case xpath.ExistsAsEmptyDir:
			if strings.HasPrefix(toRes.Path, fromRes.Path) {
				return errs.EInvalid
			}
			n, err := m.FS.RenameAll(fromRes.Path, toRes.Path)
			if err != errs.LowOK {
				return err.Errno()
			}
			renamed = n
		case xpath.ExistsAsNonemptyDir:
			return errs.ENotEmpty
		case xpath.BlockedByNonDir:
			return errs.ENotDir
		case xpath.Creatable:
			toPath := toRes.Path
			if !strings.HasSuffix(toPath, "/") {
				if len(toPath)+1 >= m.Lim.PathMax {
					return errs.ENameTooLong
				}
				toPath += "/"
			}
			if strings.HasPrefix(toPath, fromRes.Path) {
				return errs.EInvalid
			}
			n, err := m.FS.RenameAll(fromRes.Path, toPath)
			if err != errs.LowOK {
				return err.Errno()
			}
			renamed = n
		default:
			return errs.ENotFound
		}
	case xpath.BlockedByNonDir:
		return errs.ENotDir
	default:
		return errs.ENotFound
	}

	if fromRes.ParentCount == renamed && fromRes.Dirname != "/" && fromRes.Dirname != toRes.Dirname {
		if _, err := m.FS.NewFile(fromRes.Dirname, 0, false); err != errs.LowOK {
			return err.Errno()
		}
	}
	if marker, err := isEmptyDirMarker(toRes.Witness, toRes.Dirname); err != errs.LowOK {
		return err.Errno()
	} else if marker {
		if err := m.removeRecord(toRes.Witness); err != errs.LowOK {
			return errs.EIO
		}
	}

	return errs.EOK
}

// NewFile creates a file record directly (the xipfs_new_file entry
// point), independent of Open's O_CREAT path.
func (m *Mount) NewFile(path string, size int, exec bool) errs.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stats.NewFiles.Inc()

	if len(path) == 0 {
		return errs.ENotFound
	}
	if path == "/" {
		return errs.EIsDir
	}
	if len(path) >= m.Lim.PathMax {
		return errs.ENameTooLong
	}
	res, low := xpath.Classify(m.FS, m.Lim.PathMax, path)
	if low != errs.LowOK {
		return low.Errno()
	}
	switch res.Kind {
	case xpath.ExistsAsFile:
		return errs.EExists
	case xpath.ExistsAsEmptyDir, xpath.ExistsAsNonemptyDir:
		return errs.EIsDir
	case xpath.BlockedByNonDir:
		return errs.ENotDir
	case xpath.ParentMissing:
		return errs.ENotFound
	case xpath.Creatable:
	default:
		return errs.EIO
	}
	if strings.HasSuffix(res.Path, "/") {
		return errs.EIsDir
	}
	if res.Dirname != "/" {
		if marker, err := isEmptyDirMarker(res.Witness, res.Dirname); err != errs.LowOK {
			return err.Errno()
		} else if marker {
			if err := m.removeRecord(res.Witness); err != errs.LowOK {
				return errs.EIO
			}
		}
	}
	if _, err := m.FS.NewFile(path, size, exec); err != errs.LowOK {
		return err.Errno()
	}
	return errs.EOK
}

// Format erases the whole volume and untracks every descriptor it
// held.
func (m *Mount) Format() errs.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FS.Format(); err != errs.LowOK {
		return errs.EIO
	}
	m.Descs.UntrackAll(func(addr uintptr) bool { return !m.inRange(addr) })
	return errs.EOK
}

// Mount validates the mount structure and walks to the tail record,
// then requires every page past it to read back fully erased
// (spec.md §9 open question 3). A crash mid-compaction can leave a
// half-copied page; this is a deliberate non-recovery policy — Mount
// fails with EIO and the caller is expected to reformat.
func (m *Mount) Mount() errs.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()

	if errno := m.Check(); errno != errs.EOK {
		return errno
	}
	tail, low := m.FS.Tail()
	if low != errs.LowOK {
		return errs.EIO
	}
	start := m.FS.Base
	if tail != nil {
		reserved, low := tail.Reserved()
		if low != errs.LowOK {
			return errs.EIO
		}
		start = tail.Addr + uintptr(reserved)
	}
	end := m.FS.Base + uintptr(m.FS.PageCount*m.Dev.Geom.PageSize)
	if start > end {
		return errs.EIO
	}
	data := m.Dev.Host.Read(start, int(end-start))
	for _, b := range data {
		if b != m.Dev.Geom.EraseByte {
			return errs.EIO
		}
	}
	return errs.EOK
}

// Umount untracks every descriptor this mount held.
func (m *Mount) Umount() errs.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()

	if errno := m.Check(); errno != errs.EOK {
		return errno
	}
	m.Descs.UntrackAll(func(addr uintptr) bool { return !m.inRange(addr) })
	return errs.EOK
}

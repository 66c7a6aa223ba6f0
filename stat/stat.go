// Package stat mirrors a file's fabricated stat/statvfs information, the
// way the teacher's stat package mirrors a host struct stat.
package stat

// Mode bits, matching the spec.md §4.7 REG/DIR distinction. xipfs never
// has symlinks, hard links, or permission bits beyond an executable flag,
// so the mode space is deliberately tiny next to a POSIX host's.
const (
	ModeReg = 1 << iota
	ModeDir
	ModeExec
)

// Stat_t mirrors the fields spec.md §4.7's stat() fabricates: inode =
// record address, dev = mount address, mode, size, block size, blocks.
type Stat_t struct {
	Dev     uint
	Ino     uint
	Mode    uint
	Size    uint
	BlkSize uint
	Blocks  uint
}

// Wdev stores the device ID.
func (st *Stat_t) Wdev(v uint) { st.Dev = v }

// Wino stores the inode number (the record's flash address).
func (st *Stat_t) Wino(v uint) { st.Ino = v }

// Wmode records the file mode.
func (st *Stat_t) Wmode(v uint) { st.Mode = v }

// Wsize records the logical file size.
func (st *Stat_t) Wsize(v uint) { st.Size = v }

// Wblksize records the flash page size.
func (st *Stat_t) Wblksize(v uint) { st.BlkSize = v }

// Wblocks records reserved/page_size.
func (st *Stat_t) Wblocks(v uint) { st.Blocks = v }

// IsDir reports whether the mode bits mark a directory.
func (st *Stat_t) IsDir() bool { return st.Mode&ModeDir != 0 }

// Statvfs_t mirrors the spec.md §4.7 statvfs() result.
type Statvfs_t struct {
	Bsize   uint64
	Frsize  uint64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Namemax uint64
}

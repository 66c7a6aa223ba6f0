// Package alloc implements spec.md §4.4: the consolidating allocator
// that walks the mount's linked list of file records, carves new
// records out of the free space past the tail, and slides every
// surviving record down on removal. It plays the role the teacher's
// fs/super.go superblock plays for a block-based volume, except the
// "free list" here is simply "the space after the tail record".
package alloc

import (
	"errs"
	"flash"
	"limits"
	"pagebuf"
	"record"
	"strings"
	"util"
)

// FS addresses one mounted xipfs volume: the contiguous NVM window
// starting at Base spanning PageCount pages, plus the device and page
// buffer collaborators every record operation needs.
type FS struct {
	Dev       *flash.Device
	Buf       *pagebuf.Buffer
	Lim       limits.Limits
	Base      uintptr
	PageCount int
}

// New addresses a volume.
func New(dev *flash.Device, buf *pagebuf.Buffer, lim limits.Limits, base uintptr, pageCount int) *FS {
	return &FS{Dev: dev, Buf: buf, Lim: lim, Base: base, PageCount: pageCount}
}

func (fs *FS) rec(addr uintptr) *record.Record {
	return record.New(addr, fs.Dev, fs.Buf, fs.Lim)
}

// Head returns the first record in the volume, or (nil, LowOK) if the
// volume holds no file at all (the first record slot has never been
// written).
func (fs *FS) Head() (*record.Record, errs.Low) {
	r := fs.rec(fs.Base)
	next, err := r.Next()
	if err != errs.LowOK {
		return nil, err
	}
	if next == record.NextErased {
		return nil, errs.LowOK
	}
	if err := r.Validate(); err != errs.LowOK {
		return nil, err
	}
	return r, errs.LowOK
}

// Next returns the record following r, or (nil, LowOK) if r is the last
// record: either because r is a full tail (self-referential next) or
// because the slot following r has never been written (free space, not
// a file).
func (fs *FS) Next(r *record.Record) (*record.Record, errs.Low) {
	if err := r.Validate(); err != errs.LowOK {
		return nil, err
	}
	next, err := r.Next()
	if err != errs.LowOK {
		return nil, err
	}
	if uintptr(next) == r.Addr {
		return nil, errs.LowOK
	}
	nextp := fs.rec(uintptr(next))
	nn, err := nextp.Next()
	if err != errs.LowOK {
		return nil, err
	}
	if nn == record.NextErased {
		return nil, errs.LowOK
	}
	if err := nextp.Validate(); err != errs.LowOK {
		return nil, err
	}
	return nextp, errs.LowOK
}

// Tail returns the last record in the volume, or (nil, LowOK) if empty.
func (fs *FS) Tail() (*record.Record, errs.Low) {
	cur, err := fs.Head()
	if err != errs.LowOK || cur == nil {
		return cur, err
	}
	for {
		next, err := fs.Next(cur)
		if err != errs.LowOK {
			return nil, err
		}
		if next == nil {
			return cur, errs.LowOK
		}
		cur = next
	}
}

// TailNext returns the address where the next new record would start:
// Base if the volume is empty, or the byte just past the tail's
// reserved span. It reports LowFull if the tail is already full.
func (fs *FS) TailNext() (uintptr, errs.Low) {
	tail, err := fs.Tail()
	if err != errs.LowOK {
		return 0, err
	}
	if tail == nil {
		return fs.Base, errs.LowOK
	}
	full, err := tail.Full()
	if err != errs.LowOK {
		return 0, err
	}
	if full {
		return 0, errs.LowFull
	}
	next, err := tail.Next()
	if err != errs.LowOK {
		return 0, err
	}
	return uintptr(next), errs.LowOK
}

// FreePages returns the number of whole pages not yet claimed by any
// record.
func (fs *FS) FreePages() (int, errs.Low) {
	head, err := fs.Head()
	if err != errs.LowOK {
		return -1, err
	}
	if head == nil {
		return fs.PageCount, errs.LowOK
	}
	tail, err := fs.Tail()
	if err != errs.LowOK {
		return -1, err
	}
	reserved, err := tail.Reserved()
	if err != errs.LowOK {
		return -1, err
	}
	used := (uint64(tail.Addr) + uint64(reserved) - uint64(head.Addr)) / uint64(fs.Dev.Geom.PageSize)
	return fs.PageCount - int(used), errs.LowOK
}

// NewFile carves out a record for path, reserving size bytes of payload
// (rounded up to a whole number of pages, with a minimum of one page),
// and writes its header in a single buffered pass. size of 0 still
// reserves one page, mirroring original_source's minimum-allocation
// rule for empty files and directories.
func (fs *FS) NewFile(path string, size int, exec bool) (*record.Record, errs.Low) {
	if err := record.CheckPath(path, fs.Lim); err != errs.LowOK {
		return nil, err
	}
	addr, err := fs.TailNext()
	if err != errs.LowOK {
		return nil, err
	}
	freePages, err := fs.FreePages()
	if err != errs.LowOK {
		return nil, err
	}

	headerSize := record.HeaderSize(fs.Lim)
	var reserved int
	if size > 0 {
		reserved = util.Roundup(size+headerSize, fs.Dev.Geom.PageSize)
	} else {
		reserved = fs.Dev.Geom.PageSize
	}
	reservedPages := reserved / fs.Dev.Geom.PageSize

	var nextVal uint32
	switch {
	case reservedPages < freePages:
		nextVal = uint32(addr) + uint32(reserved)
	case reservedPages == freePages:
		nextVal = uint32(addr)
	default:
		return nil, errs.LowOutOfSpace
	}

	offNext, offPath, offReserved, offSize, offExec := record.Offsets(fs.Lim)
	_ = offSize
	header := make([]byte, headerSize)
	for i := range header {
		header[i] = limits.EraseByte
	}
	util.Writeu32(header, offNext, nextVal)
	pathField := header[offPath : offPath+fs.Lim.PathMax]
	for i := range pathField {
		pathField[i] = 0
	}
	copy(pathField, []byte(path))
	util.Writeu32(header, offReserved, uint32(reserved))
	execVal := uint32(0)
	if exec {
		execVal = 1
	}
	util.Writeu32(header, offExec, execVal)

	if err := fs.Buf.Write(addr, header); err != errs.LowOK {
		return nil, err
	}
	if err := fs.Buf.Flush(); err != errs.LowOK {
		return nil, err
	}
	return fs.rec(addr), errs.LowOK
}

// Remove erases target's pages and slides every following record down
// to close the gap, fixing up each moved record's next field and
// leaving the vacated tail pages erased. Callers (vfs) are responsible
// for invalidating any open descriptor that pointed into the shifted
// range; see desc.Table.
func (fs *FS) Remove(target *record.Record) errs.Low {
	if err := target.Validate(); err != errs.LowOK {
		return err
	}
	next, err := fs.Next(target)
	if err != errs.LowOK {
		return err
	}
	if err := target.Erase(); err != errs.LowOK {
		return err
	}

	dst := target.Addr
	src := next
	for src != nil {
		reserved, err := src.Reserved()
		if err != errs.LowOK {
			return err
		}
		nextSrc, err := fs.Next(src)
		if err != errs.LowOK {
			return err
		}

		data := append([]byte(nil), fs.Dev.Host.Read(src.Addr, int(reserved))...)
		// The removal freed at least one page, so a moved tail is never
		// full: its next always points just past its new span.
		newNext := uint32(dst) + reserved
		util.Writeu32(data, 0, newNext)

		pageCount := uint(reserved) / uint(fs.Dev.Geom.PageSize)
		dstPage := fs.Dev.Host.Page(dst)
		for i := uint(0); i < pageCount; i++ {
			if err := fs.Dev.ErasePage(dstPage + i); err != errs.LowOK {
				return err
			}
		}
		if err := fs.Dev.BulkWrite(dst, data); err != errs.LowOK {
			return err
		}

		// Only the pages past where the write above just landed are
		// genuinely vacated by this move: src's span and dst's span
		// overlap whenever reserved exceeds the shift distance (e.g.
		// removing a one-page marker ahead of a multi-page file), and
		// erasing the full original span would wipe the tail of the
		// data BulkWrite just placed there.
		srcPage := fs.Dev.Host.Page(src.Addr)
		eraseFrom := dstPage + pageCount
		if eraseFrom < srcPage {
			eraseFrom = srcPage
		}
		for page := eraseFrom; page < srcPage+pageCount; page++ {
			if err := fs.Dev.ErasePage(page); err != errs.LowOK {
				return err
			}
		}

		dst += uintptr(reserved)
		src = nextSrc
	}

	fs.Buf.Invalidate()
	return errs.LowOK
}

// Format erases every page of the volume.
func (fs *FS) Format() errs.Low {
	startPage := fs.Dev.Host.Page(fs.Base)
	for i := 0; i < fs.PageCount; i++ {
		if err := fs.Dev.ErasePage(startPage + uint(i)); err != errs.LowOK {
			return err
		}
	}
	fs.Buf.Invalidate()
	return errs.LowOK
}

// RenameAll renames every file whose path has the from prefix by
// replacing that prefix with to, returning the number of files
// renamed. Unlike original_source's xipfs_fs_rename_all, which copies
// each renamed path into a PathMax buffer with strncpy and silently
// truncates whatever doesn't fit, RenameAll first computes every
// renamed path and rejects the whole batch with NameTooLong if any one
// of them would overflow, before touching any record (spec.md §9 open
// question 2).
func (fs *FS) RenameAll(from, to string) (int, errs.Low) {
	if len(from) >= fs.Lim.PathMax || len(to) >= fs.Lim.PathMax {
		return 0, errs.LowNotNulTerminated
	}

	type rename struct {
		r       *record.Record
		newPath string
	}
	var batch []rename

	r, err := fs.Head()
	if err != errs.LowOK {
		return 0, err
	}
	for r != nil {
		path, err := r.Path()
		if err != errs.LowOK {
			return 0, err
		}
		if strings.HasPrefix(string(path), from) {
			newPath := to + string(path)[len(from):]
			if len(newPath) >= fs.Lim.PathMax {
				return 0, errs.LowNotNulTerminated
			}
			batch = append(batch, rename{r: r, newPath: newPath})
		}
		r, err = fs.Next(r)
		if err != errs.LowOK {
			return 0, err
		}
	}

	for _, rn := range batch {
		if err := rn.r.Rename(rn.newPath); err != errs.LowOK {
			return 0, err
		}
	}
	return len(batch), errs.LowOK
}

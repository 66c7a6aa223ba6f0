// Package record implements spec.md §4.3: the on-flash file record
// format and the byte/size/path operations defined directly over it. It
// plays the role the teacher's fs package plays for an inode, except the
// "inode" here is a self-describing header living in the same flash
// page as its own payload.
//
// Every record is laid out, little-endian, as:
//
//	next     uint32   // successor record address, or a sentinel (see Next*)
//	path     [PathMax]byte
//	reserved uint32   // total bytes (header+payload) carved out for this record, page-aligned
//	size     [Slots]uint32
//	exec     uint32   // 0 or 1
//	payload  [...]byte
//
// size[] is a history of this file's length: GetSize reports the value
// in the last slot written before the first still-erased slot, and
// SetSize writes each new size into the first still-erased slot instead
// of rewriting an earlier one. Each slot is written at most once; when
// every slot holds a value, SetSize reports LowFull.
package record

import (
	"errs"
	"flash"
	"limits"
	"pagebuf"
	"util"
)

// NextErased is the sentinel next value meaning "this is the tail
// record, and free NVM space follows it" (the field reads back as the
// erase pattern because nothing has allocated a successor yet).
const NextErased uint32 = 0xFFFFFFFF

// Record addresses one file's on-flash header, identified solely by its
// starting address. The header layout depends only on lim, so Record
// carries no other state; every accessor re-reads through buf.
type Record struct {
	Addr uintptr
	Dev  *flash.Device
	Buf  *pagebuf.Buffer
	Lim  limits.Limits
}

// New addresses the record starting at addr.
func New(addr uintptr, dev *flash.Device, buf *pagebuf.Buffer, lim limits.Limits) *Record {
	return &Record{Addr: addr, Dev: dev, Buf: buf, Lim: lim}
}

// offNext, offPath, offReserved, offSize, offExec are the byte offsets
// of each header field relative to Addr.
func (r *Record) offNext() int     { return 0 }
func (r *Record) offPath() int     { return 4 }
func (r *Record) offReserved() int { return r.offPath() + r.Lim.PathMax }
func (r *Record) offSize() int     { return r.offReserved() + 4 }
func (r *Record) offExec() int     { return r.offSize() + 4*r.Lim.Slots }

// HeaderSize returns the number of bytes occupied by the fixed-layout
// header before a record's payload begins.
func (r *Record) HeaderSize() int { return r.offExec() + 4 }

// HeaderSize computes the header size for a bare set of limits, without
// an existing record, for callers sizing a new allocation (alloc).
func HeaderSize(lim limits.Limits) int {
	return 4 + lim.PathMax + 4 + 4*lim.Slots + 4
}

// Offsets exposes the header field layout for a bare set of limits, for
// callers (alloc) that must assemble a brand new header before any
// Record exists to address it.
func Offsets(lim limits.Limits) (next, path, reserved, size, exec int) {
	next = 0
	path = 4
	reserved = path + lim.PathMax
	size = reserved + 4
	exec = size + 4*lim.Slots
	return
}

func (r *Record) readu32(off int) (uint32, errs.Low) {
	var b [4]byte
	if err := r.Buf.Read(r.Addr+uintptr(off), b[:]); err != errs.LowOK {
		return 0, err
	}
	return util.Readu32(b[:], 0), errs.LowOK
}

func (r *Record) writeu32(off int, v uint32) errs.Low {
	var b [4]byte
	util.Writeu32(b[:], 0, v)
	return r.Buf.Write(r.Addr+uintptr(off), b[:])
}

// Next returns the record's successor field, raw (no sentinel decoding).
func (r *Record) Next() (uint32, errs.Low) { return r.readu32(r.offNext()) }

// SetNext overwrites the successor field.
func (r *Record) SetNext(v uint32) errs.Low { return r.writeu32(r.offNext(), v) }

// Path returns the record's path, trimmed at the first null byte.
func (r *Record) Path() ([]byte, errs.Low) {
	buf := make([]byte, r.Lim.PathMax)
	if err := r.Buf.Read(r.Addr+uintptr(r.offPath()), buf); err != errs.LowOK {
		return nil, err
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return buf[:n], errs.LowOK
}

// Reserved returns the total header+payload span carved out for this
// record.
func (r *Record) Reserved() (uint32, errs.Low) { return r.readu32(r.offReserved()) }

// SetReserved overwrites the reserved field. Callers (alloc) only do
// this once, at record creation time.
func (r *Record) SetReserved(v uint32) errs.Low { return r.writeu32(r.offReserved(), v) }

// Exec reports whether this record's payload is marked executable.
func (r *Record) Exec() (bool, errs.Low) {
	v, err := r.readu32(r.offExec())
	if err != errs.LowOK {
		return false, err
	}
	return v == 1, errs.LowOK
}

// SetExec overwrites the exec flag.
func (r *Record) SetExec(exec bool) errs.Low {
	v := uint32(0)
	if exec {
		v = 1
	}
	return r.writeu32(r.offExec(), v)
}

// pathCharset reports whether c may appear in an xipfs path.
func pathCharset(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') || c == '/' || c == '.' || c == '-' || c == '_'
}

// CheckPath validates a candidate path against the xipfs charset and
// length limit, independent of any record.
func CheckPath(path string, lim limits.Limits) errs.Low {
	if len(path) == 0 {
		return errs.LowEmptyPath
	}
	if len(path) >= lim.PathMax {
		return errs.LowNotNulTerminated
	}
	for i := 0; i < len(path); i++ {
		if !pathCharset(path[i]) {
			return errs.LowBadChar
		}
	}
	return errs.LowOK
}

// Validate checks the record's header for internal consistency: address
// alignment and bounds, a well-formed next link, a legal path, and an
// exec flag of 0 or 1. It is the Go counterpart of
// xipfs_file_filp_check. GetSize, SetSize, Rename, Erase and MaxPos (and
// through MaxPos, ReadByte and WriteByte) call it first; the raw field
// accessors (Next, Path, Reserved, Exec, their setters, IsTail and Full)
// do not.
func (r *Record) Validate() errs.Low {
	if !r.Dev.PageAligned(r.Addr) {
		return errs.LowMisaligned
	}
	if !r.Dev.In(r.Addr) {
		return errs.LowOutsideNVM
	}
	next, err := r.Next()
	if err != errs.LowOK {
		return err
	}
	if next == 0 {
		return errs.LowNullRecord
	}
	nextAddr := uintptr(next)
	if next != NextErased && nextAddr != r.Addr {
		if !r.Dev.PageAligned(nextAddr) {
			return errs.LowMisaligned
		}
		if !r.Dev.In(nextAddr) {
			return errs.LowOutsideNVM
		}
		if nextAddr <= r.Addr {
			return errs.LowBrokenLink
		}
		reserved, err := r.Reserved()
		if err != errs.LowOK {
			return err
		}
		if r.Addr+uintptr(reserved) != nextAddr {
			return errs.LowBrokenLink
		}
	}
	path, err := r.Path()
	if err != errs.LowOK {
		return err
	}
	if len(path) == 0 {
		return errs.LowEmptyPath
	}
	for _, c := range path {
		if !pathCharset(c) {
			return errs.LowBadChar
		}
	}
	exec, err := r.readu32(r.offExec())
	if err != errs.LowOK {
		return err
	}
	if exec > 1 {
		return errs.LowWrongPermission
	}
	return errs.LowOK
}

// IsTail reports whether this record has no successor, i.e. next equals
// either the erased pattern (free space follows) or the record's own
// address (the volume is full).
func (r *Record) IsTail() (bool, errs.Low) {
	next, err := r.Next()
	if err != errs.LowOK {
		return false, err
	}
	return next == NextErased || uintptr(next) == r.Addr, errs.LowOK
}

// Full reports whether this tail record's self-referential next means
// no free NVM space remains beyond it.
func (r *Record) Full() (bool, errs.Low) {
	next, err := r.Next()
	if err != errs.LowOK {
		return false, err
	}
	return uintptr(next) == r.Addr, errs.LowOK
}

// MaxPos returns the highest valid payload offset: reserved span minus
// header size, minus one.
func (r *Record) MaxPos() (int64, errs.Low) {
	if err := r.Validate(); err != errs.LowOK {
		return -1, err
	}
	reserved, err := r.Reserved()
	if err != errs.LowOK {
		return -1, err
	}
	return int64(reserved) - int64(r.HeaderSize()) - 1, errs.LowOK
}

// Erase wipes every flash page this record (header + payload) occupies.
func (r *Record) Erase() errs.Low {
	if err := r.Validate(); err != errs.LowOK {
		return err
	}
	reserved, err := r.Reserved()
	if err != errs.LowOK {
		return err
	}
	start := r.Dev.Host.Page(r.Addr)
	n := uint(reserved) / uint(r.Dev.Geom.PageSize)
	for i := uint(0); i < n; i++ {
		if err := r.Dev.ErasePage(start + i); err != errs.LowOK {
			return err
		}
	}
	return errs.LowOK
}

// sizeSlot reads size[i].
func (r *Record) sizeSlot(i int) (uint32, errs.Low) {
	return r.readu32(r.offSize() + 4*i)
}

// GetSize reports the current file size: the value held in the slot
// immediately before the first still-erased slot, 0 if slot 0 is
// itself erased (no size ever recorded), or the last slot's value if
// every slot has been written.
func (r *Record) GetSize() (uint32, errs.Low) {
	if err := r.Validate(); err != errs.LowOK {
		return 0, err
	}
	first, err := r.sizeSlot(0)
	if err != errs.LowOK {
		return 0, err
	}
	if first == limits.EraseByte*0x01010101 {
		return 0, errs.LowOK
	}
	prev := first
	for i := 1; i < r.Lim.Slots; i++ {
		v, err := r.sizeSlot(i)
		if err != errs.LowOK {
			return 0, err
		}
		if v == limits.EraseByte*0x01010101 {
			return prev, errs.LowOK
		}
		prev = v
	}
	return prev, errs.LowOK
}

// SetSize advances to the first still-erased size slot and writes the
// new size there, then flushes. When every slot already holds a value,
// SetSize reports LowFull instead of silently reusing slot 0: doing so
// would make the just-written size invisible to GetSize's forward scan,
// since no slot would read back as erased anymore. LowFull maps to
// ENoSpace through Low.Errno; vfs's Close, Lseek and Fsync report any
// SetSize failure as EIO.
func (r *Record) SetSize(size uint32) errs.Low {
	if err := r.Validate(); err != errs.LowOK {
		return err
	}
	erased := uint32(limits.EraseByte) * 0x01010101
	for i := 0; i < r.Lim.Slots; i++ {
		v, err := r.sizeSlot(i)
		if err != errs.LowOK {
			return err
		}
		if v == erased {
			if err := r.writeu32(r.offSize()+4*i, size); err != errs.LowOK {
				return err
			}
			return r.Buf.Flush()
		}
	}
	return errs.LowFull
}

// Rename overwrites the record's path field in place.
func (r *Record) Rename(to string) errs.Low {
	if err := r.Validate(); err != errs.LowOK {
		return err
	}
	if err := CheckPath(to, r.Lim); err != errs.LowOK {
		return err
	}
	buf := make([]byte, r.Lim.PathMax)
	copy(buf, to)
	if err := r.Buf.Write(r.Addr+uintptr(r.offPath()), buf); err != errs.LowOK {
		return err
	}
	return r.Buf.Flush()
}

// payloadAddr returns the flash address of payload byte pos.
func (r *Record) payloadAddr(pos int64) uintptr {
	return r.Addr + uintptr(r.HeaderSize()) + uintptr(pos)
}

// ReadByte reads the payload byte at pos, which must be within [0,
// MaxPos()].
func (r *Record) ReadByte(pos int64) (byte, errs.Low) {
	maxPos, err := r.MaxPos()
	if err != errs.LowOK {
		return 0, err
	}
	if pos < 0 || pos > maxPos {
		return 0, errs.LowOffsetPastReserved
	}
	var b [1]byte
	if err := r.Buf.Read(r.payloadAddr(pos), b[:]); err != errs.LowOK {
		return 0, err
	}
	return b[0], errs.LowOK
}

// WriteByte writes the payload byte at pos, which must be within [0,
// MaxPos()].
func (r *Record) WriteByte(pos int64, b byte) errs.Low {
	maxPos, err := r.MaxPos()
	if err != errs.LowOK {
		return err
	}
	if pos < 0 || pos > maxPos {
		return errs.LowOffsetPastReserved
	}
	return r.Buf.Write(r.payloadAddr(pos), []byte{b})
}

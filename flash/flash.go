// Package flash implements spec.md §4.1: address/page bounds checks,
// idempotent page erase, and the unaligned byte-program algorithm over a
// host-provided NVM collaborator. It plays the role the teacher's mem
// package plays for physical RAM pages, but for raw flash.
package flash

import (
	"errs"
	"limits"
)

// Host is the external collaborator (spec.md §6): the board-specific
// primitives the core never implements itself. The VFS shim wires a real
// NVM driver here; tests and cmd/* wire simflash.
type Host interface {
	// Addr returns the starting address of the given page. page MUST be
	// valid.
	Addr(page uint) uintptr
	// Page returns the page number containing addr. addr MUST be a
	// valid flash address.
	Page(addr uintptr) uint
	// Erase erases the given page unconditionally.
	Erase(page uint) error
	// Write programs len(data) bytes at dst. dst and len(data) MUST
	// both be aligned to the write-block size; the destination MUST
	// already be erased.
	Write(dst uintptr, data []byte) error
	// Read returns a view (or copy) of n bytes starting at addr.
	Read(addr uintptr, n int) []byte
}

// Geometry describes the flash addressable by a Device: base address,
// page size, page count, erase-state byte, and write-block constraints.
type Geometry struct {
	Base            uintptr
	PageSize        int
	PageCount       int
	EraseByte       byte
	WriteBlockAlign int
	WriteBlockSize  int
}

// Device wraps a Host with the bounds-checked operations every higher
// layer is built on.
type Device struct {
	Host Host
	Geom Geometry
}

// New constructs a Device over host with the given geometry.
func New(host Host, geom Geometry) *Device {
	return &Device{Host: host, Geom: geom}
}

// End returns the address one past the end of the flash region.
func (d *Device) End() uintptr {
	return d.Geom.Base + uintptr(d.Geom.PageCount*d.Geom.PageSize)
}

// In reports whether addr lies inside the device's flash window.
func (d *Device) In(addr uintptr) bool {
	return addr >= d.Geom.Base && addr < d.End()
}

// PageAligned reports whether addr is aligned to a page boundary.
func (d *Device) PageAligned(addr uintptr) bool {
	return uintptr(d.Geom.PageSize) == 0 || addr%uintptr(d.Geom.PageSize) == 0
}

// Overflow reports whether copying n bytes starting at addr would run
// past the end of the flash window.
func (d *Device) Overflow(addr uintptr, n int) bool {
	return !d.In(addr + uintptr(n) - 1)
}

// PageOverflow reports whether copying n bytes starting at addr would
// run past the end of the flash page addr lives in.
func (d *Device) PageOverflow(addr uintptr, n int) bool {
	off := int(addr % uintptr(d.Geom.PageSize))
	return off+n > d.Geom.PageSize
}

// IsErasedPage reports whether every byte of the given page already
// reads as the erase-state byte.
func (d *Device) IsErasedPage(page uint) bool {
	addr := d.Host.Addr(page)
	data := d.Host.Read(addr, d.Geom.PageSize)
	for _, b := range data {
		if b != d.Geom.EraseByte {
			return false
		}
	}
	return true
}

// ErasePage erases page unless it already reads as fully erased.
func (d *Device) ErasePage(page uint) errs.Low {
	if d.IsErasedPage(page) {
		return errs.LowOK
	}
	if err := d.Host.Erase(page); err != nil {
		return errs.LowMediumFault
	}
	return errs.LowOK
}

// WriteUnaligned programs len(data) bytes at dst one byte at a time: for
// each target byte it reads the enclosing aligned word, clears the
// target byte by ANDing it with the inverted erase byte, ORs in the
// byte from data, programs the word, and reads back to verify. dst need not be block-aligned and len
// need not be a multiple of the write-block size.
func (d *Device) WriteUnaligned(dst uintptr, data []byte) errs.Low {
	align := uintptr(d.Geom.WriteBlockAlign)
	size := d.Geom.WriteBlockSize
	for i, b := range data {
		addr := dst + uintptr(i)
		mod := addr % align
		base := addr - mod
		word := append([]byte(nil), d.Host.Read(base, size)...)
		shift := int(mod)
		if shift >= len(word) {
			return errs.LowOutsideNVM
		}
		word[shift] &= ^d.Geom.EraseByte
		word[shift] |= b
		if err := d.Host.Write(base, word); err != nil {
			return errs.LowMediumFault
		}
		got := d.Host.Read(addr, 1)
		if len(got) != 1 || got[0] != b {
			return errs.LowMediumFault
		}
	}
	return errs.LowOK
}

// BulkWrite programs data at dst through WriteUnaligned, byte by byte.
// It exists as a named entry point mirroring spec.md §4.1's "bulk
// program" operation; callers with block-aligned, block-sized payloads
// may still prefer it for clarity over a raw loop.
func (d *Device) BulkWrite(dst uintptr, data []byte) errs.Low {
	return d.WriteUnaligned(dst, data)
}

// DefaultGeometry builds a Geometry from a board limits default, used by
// callers that only have the legacy constant set and no boardcfg.Profile
// handy (e.g. quick tests).
func DefaultGeometry(base uintptr, pageSize, pageCount int) Geometry {
	return Geometry{
		Base:            base,
		PageSize:        pageSize,
		PageCount:       pageCount,
		EraseByte:       limits.EraseByte,
		WriteBlockAlign: 4,
		WriteBlockSize:  4,
	}
}

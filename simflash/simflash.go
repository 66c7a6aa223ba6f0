// Package simflash implements a RAM-backed flash.Host for tests and
// the cmd/* tools: a byte slice standing in for NVM, enforcing the
// same program-only-over-erased discipline real flash imposes, so a
// bug that tries to flip a 0 bit back to 1 without an erase is caught
// in a test run instead of only on real hardware.
//
// Grounded on the teacher's biscuit/src/ufs package: ahci_disk_t
// wraps a host resource (there, a file) behind a sync.Mutex-guarded
// struct exposing the handful of operations the layer above needs,
// with an optional trace hook recording writes for test assertions.
// This package follows the same shape for a byte slice instead of a
// file, since xipfs has no block-request queue to service — flash.Host
// is a direct addr/page read/write/erase surface, not a request
// queue.
package simflash

import (
	"fmt"
	"sync"
)

// Write records one program operation, for tests that assert on the
// exact sequence of writes a compaction or append performed — the Go
// counterpart of the teacher's tracef_t.
type Write struct {
	Addr uintptr
	Data []byte
}

// Host is an in-memory flash.Host. The zero value is not usable; build
// one with New.
type Host struct {
	mu sync.Mutex

	base     uintptr
	pageSize int
	erased   byte

	mem    []byte
	erases []uint

	trace  bool
	writes []Write
}

// New allocates a simulated flash region of pageCount pages of
// pageSize bytes starting at base, pre-erased to eraseByte.
func New(base uintptr, pageSize, pageCount int, eraseByte byte) *Host {
	mem := make([]byte, pageSize*pageCount)
	for i := range mem {
		mem[i] = eraseByte
	}
	return &Host{base: base, pageSize: pageSize, erased: eraseByte, mem: mem}
}

// StartTrace enables write recording; Writes returns what was
// recorded so far.
func (h *Host) StartTrace() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trace = true
}

// Writes returns every program operation recorded since StartTrace
// was called.
func (h *Host) Writes() []Write {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Write(nil), h.writes...)
}

func (h *Host) off(addr uintptr) int { return int(addr - h.base) }

// Addr returns the starting address of page.
func (h *Host) Addr(page uint) uintptr {
	return h.base + uintptr(int(page)*h.pageSize)
}

// Page returns the page number containing addr.
func (h *Host) Page(addr uintptr) uint {
	return uint(h.off(addr) / h.pageSize)
}

// Erase resets page to the erase byte unconditionally.
func (h *Host) Erase(page uint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := int(page) * h.pageSize
	if start < 0 || start+h.pageSize > len(h.mem) {
		return fmt.Errorf("simflash: erase page %d out of range", page)
	}
	for i := start; i < start+h.pageSize; i++ {
		h.mem[i] = h.erased
	}
	h.erases = append(h.erases, page)
	return nil
}

// Write programs data at dst, rejecting an attempt to set any bit that
// isn't already clear to the erase pattern — the same constraint real
// NOR flash enforces and flash.WriteUnaligned's read-modify-write loop
// depends on never being violated silently.
func (h *Host) Write(dst uintptr, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	o := h.off(dst)
	if o < 0 || o+len(data) > len(h.mem) {
		return fmt.Errorf("simflash: write at %#x out of range", dst)
	}
	for i, b := range data {
		cur := h.mem[o+i]
		if cur&b != b {
			return fmt.Errorf("simflash: write at %#x would set a bit not already erased", dst+uintptr(i))
		}
		h.mem[o+i] = b
	}
	if h.trace {
		cp := append([]byte(nil), data...)
		h.writes = append(h.writes, Write{Addr: dst, Data: cp})
	}
	return nil
}

// Read returns a copy of n bytes starting at addr.
func (h *Host) Read(addr uintptr, n int) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	o := h.off(addr)
	out := make([]byte, n)
	if o < 0 || o+n > len(h.mem) {
		return out
	}
	copy(out, h.mem[o:o+n])
	return out
}

// Erases returns the page numbers erased so far, in order, including
// repeats.
func (h *Host) Erases() []uint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint(nil), h.erases...)
}

// Package util collects small helpers shared across xipfs, the way the
// teacher's util package backs fs/vm arithmetic with a handful of generic
// functions instead of repeating them per package.
package util

import "encoding/binary"

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// Readu32 reads a little-endian uint32 at off. The on-flash format is
// fixed little-endian regardless of host byte order (spec.md §6), so
// unlike the teacher's Readn this never reinterprets host memory layout.
func Readu32(a []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(a[off : off+4])
}

// Writeu32 writes val as a little-endian uint32 at off.
func Writeu32(a []byte, off int, val uint32) {
	binary.LittleEndian.PutUint32(a[off:off+4], val)
}

// Readu64 reads a little-endian uint64 at off.
func Readu64(a []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(a[off : off+8])
}

// Writeu64 writes val as a little-endian uint64 at off.
func Writeu64(a []byte, off int, val uint64) {
	binary.LittleEndian.PutUint64(a[off:off+8], val)
}

// Package mpu implements spec.md §4.9: packing an ARMv7-M MPU_RASR
// attribute word for one memory region and handing it to a
// host-supplied low-level configurator. It plays the same role as the
// teacher's vm package's page-table-entry packing, except the unit
// being packed is a single region register instead of a page table,
// and the consumer is a separate safe-exec shim rather than the MMU.
//
// Grounded directly on original_source/src/mpu_driver.c's
// xipfs_mpu_configure_region: the bit layout, the power-of-two and
// alignment checks, and the region id range are ported one for one.
// Whether an MPU is present at all, and how region N is actually
// written to hardware, is left to a Configurer the host process
// supplies — exactly the role original_source's own mpu_configure
// extern plays for the RIOT board support package.
package mpu

import "errs"

// Region identifies one of the five regions xipfs configures,
// matching original_source's ids chosen to sit above RIOT's own
// stack-guard (1) and no-exec-RAM (0) regions.
type Region uint32

const (
	RegionText      Region = 2
	RegionExtraText Region = 3
	RegionData      Region = 4
	RegionExtraData Region = 5
	RegionStack     Region = 6

	regionFirst = RegionText
	regionLast  = RegionStack
)

// XN is the MPU's eXecute-Never bit.
type XN uint32

const (
	ExecOK XN = 0
	ExecNo XN = 1
)

// AP is the MPU's access-permission encoding (ARMv7-M MPU_RASR AP
// field), privileged/user pairs.
type AP uint32

const (
	APNoNo   AP = 0 // no access at any level
	APRwNo   AP = 1 // privileged read/write, user no access
	APRwRo   AP = 2 // privileged read/write, user read-only
	APRwRw   AP = 3 // read/write at any level
	apReserved AP = 4
	APRoNo   AP = 5 // privileged read-only, user no access
	APRoRo   AP = 6 // read-only at any level

	apFirst = APNoNo
	apLast  = APRoRo
)

// Configurer is the host primitive that actually programs one MPU
// region register, the Go counterpart of original_source's
// mpu_configure extern. base must already satisfy the same alignment
// Configure validates, attr is the packed MPU_RASR word Configure
// produces.
type Configurer interface {
	Configure(region Region, base uintptr, attr uint32) error
}

func isPowerOfTwo(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}

// log2 returns the exponent of v when v is a power of two, via the same
// bit-hack original_source uses instead of a loop. For any other v the
// result is not floor(log2(v)).
func log2(v uint32) uint32 {
	var result uint32
	if v&0xAAAAAAAA != 0 {
		result |= 1
	}
	if v&0xFFFF0000 != 0 {
		result |= 1 << 4
	}
	if v&0xFF00FF00 != 0 {
		result |= 1 << 3
	}
	if v&0xF0F0F0F0 != 0 {
		result |= 1 << 2
	}
	if v&0xCCCCCCCC != 0 {
		result |= 1 << 1
	}
	return result
}

// Configure validates region, address, size, xn and ap against the
// same constraints xipfs_mpu_configure_region enforces, packs the
// MPU_RASR attribute word (ARMv7-M Architecture Reference Manual
// B3.5.9), and hands it to c.
func Configure(c Configurer, region Region, address uintptr, size uint32, xn XN, ap AP) errs.Errno {
	if region < regionFirst || region > regionLast {
		return errs.EInvalid
	}
	if xn != ExecOK && xn != ExecNo {
		return errs.EInvalid
	}
	if ap > apLast || ap == apReserved {
		return errs.EInvalid
	}
	if size < 32 || !isPowerOfTwo(size) {
		return errs.EInvalid
	}
	if uint32(address)%size != 0 {
		return errs.EInvalid
	}

	log2Size := log2(size) - 1
	attr := uint32(xn)<<28 |
		uint32(ap)<<24 |
		0<<19 |
		1<<18 |
		0<<17 |
		1<<16 |
		log2Size<<1

	if err := c.Configure(region, address, attr); err != nil {
		return errs.EIO
	}
	return errs.EOK
}

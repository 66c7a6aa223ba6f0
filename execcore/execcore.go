// Package execcore implements spec.md §4.8: running a binary stored
// in an xipfs file in place, without copying it off flash first. It
// plays the role a teacher's process-launch path plays for a regular
// executable, except the "binary" here is raw machine code addressed
// directly inside the mounted NVM region, so there is no loader step
// beyond building the argv/stack preamble and handing control to it.
//
// Grounded on original_source/src/driver.c's xipfs_execv: resolving
// the path to a record, refusing to run a non-executable or missing
// file, building the argc/argv/stack frame, and invoking through a
// fixed-size table of host-provided syscalls in the exact order
// original_source/include/xipfs.h's xipfs_user_syscall_e enumerates
// them (the ABI both sides must stay synchronized on, per that
// header's own warning comment).
package execcore

import (
	"errs"
	"limits"
	"record"
	"strings"
	"sync"
)

// SyscallID indexes the fixed syscall table an invoked binary may
// call into, in the exact order xipfs_user_syscall_e declares them.
type SyscallID int

const (
	// SyscallExit has no Syscalls field: an Invoker handles it by
	// returning the binary's exit status from Invoke, and IsImplemented
	// reports false for it.
	SyscallExit SyscallID = iota
	SyscallPrintf
	SyscallGetTemp
	SyscallIsPrint
	SyscallStrtol
	SyscallGetLED
	SyscallSetLED
	SyscallCopyFile
	SyscallGetFileSize
	SyscallMemset
	syscallMax
)

// Syscalls is the set of host services a running binary may invoke,
// one field per SyscallID after SyscallExit, in the same order. A nil
// field is unimplemented: IsImplemented reports false for it.
type Syscalls struct {
	Printf      func(format string) int
	GetTemp     func() int
	IsPrint     func(c byte) bool
	Strtol      func(s string, base int) (int64, int)
	GetLED      func(pos int) int
	SetLED      func(pos, val int) int
	CopyFile    func(name string, buf []byte) (int, error)
	GetFileSize func(name string) (int, error)
	Memset      func(buf []byte, c byte)
}

// IsImplemented reports whether the host registered an implementation
// for id. An Invoker calls this when servicing a trapped syscall
// number before dispatching to it, rejecting anything the host left
// nil rather than panicking on a nil function value.
func (s *Syscalls) IsImplemented(id SyscallID) bool {
	switch id {
	case SyscallPrintf:
		return s.Printf != nil
	case SyscallGetTemp:
		return s.GetTemp != nil
	case SyscallIsPrint:
		return s.IsPrint != nil
	case SyscallStrtol:
		return s.Strtol != nil
	case SyscallGetLED:
		return s.GetLED != nil
	case SyscallSetLED:
		return s.SetLED != nil
	case SyscallCopyFile:
		return s.CopyFile != nil
	case SyscallGetFileSize:
		return s.GetFileSize != nil
	case SyscallMemset:
		return s.Memset != nil
	default:
		return false
	}
}

// Context is the preamble built for one invocation: the resolved
// binary's argv, a scratch stack region sized from limits.StackSize,
// and the syscall table it may call through. It is the Go analogue of
// the argc/argv/stack/syscalls frame xipfs_execv assembles on the C
// call stack before transferring control.
type Context struct {
	Entry    uintptr
	Argv     []string
	Stack    []byte
	Syscalls *Syscalls
}

// NewContext builds the invocation preamble for a binary whose code
// begins at entry, with the given argv and the stack size dictated by
// lim.
func NewContext(entry uintptr, argv []string, lim limits.Limits, sc *Syscalls) (*Context, errs.Errno) {
	if sc == nil {
		return nil, errs.EInvalid
	}
	if len(argv) == 0 || len(argv) > lim.ArgcMax {
		return nil, errs.EInvalid
	}
	for _, a := range argv {
		if strings.IndexByte(a, 0) >= 0 {
			return nil, errs.EInvalid
		}
	}
	return &Context{
		Entry:    entry,
		Argv:     argv,
		Stack:    make([]byte, lim.StackSize),
		Syscalls: sc,
	}, errs.EOK
}

// Invoker is the unsafe platform primitive that actually transfers
// control to Context.Entry with the given stack and returns the
// binary's exit status once it returns (or traps). Building and
// executing the raw machine-code trampoline original_source's
// xipfs_execv performs in C is inherently architecture-specific and
// outside what portable Go can express; a host supplies it the same
// way mpu.Configurer supplies the one platform primitive that package
// cannot express portably either.
type Invoker interface {
	Invoke(ctx *Context) (exitCode int, err error)
}

// EntryChecker validates that the bytes at a binary's entry point
// look like a plausible instruction before Invoke ever runs them,
// catching a record whose exec flag was set over non-code payload.
// golang.org/x/arch/arm/armasm satisfies this by decoding the first
// instruction and reporting an error for anything that doesn't parse.
type EntryChecker interface {
	CheckEntry(code []byte) error
}

// Core runs binaries stored in one mount's records. ExecMu is the
// execution mutex spec.md §5 requires held for an invocation's entire
// duration, serializing it against every vfs operation that could
// move or erase the pages backing a running binary.
type Core struct {
	ExecMu  *sync.Mutex
	Invoker Invoker
	Checker EntryChecker
}

// NewCore addresses a binary execution surface sharing the given
// mutex with the owning mount.
func NewCore(execMu *sync.Mutex, invoker Invoker, checker EntryChecker) *Core {
	return &Core{ExecMu: execMu, Invoker: invoker, Checker: checker}
}

// Exec runs the binary stored in filp. filp must be marked executable
// and its payload must begin at a valid entry point; on return the
// binary's exit status is reported via exitCode.
func (c *Core) Exec(filp *record.Record, argv []string, lim limits.Limits, sc *Syscalls) (exitCode int, errno errs.Errno) {
	exec, err := filp.Exec()
	if err != errs.LowOK {
		return -1, err.Errno()
	}
	if !exec {
		return -1, errs.EAccess
	}
	size, err := filp.GetSize()
	if err != errs.LowOK {
		return -1, err.Errno()
	}
	if size == 0 {
		return -1, errs.EInvalid
	}

	entry := filp.Addr + uintptr(filp.HeaderSize())
	if c.Checker != nil {
		n := int(size)
		if n > 64 {
			n = 64
		}
		code := make([]byte, n)
		for i := 0; i < n; i++ {
			b, err := filp.ReadByte(int64(i))
			if err != errs.LowOK {
				return -1, err.Errno()
			}
			code[i] = b
		}
		if cerr := c.Checker.CheckEntry(code); cerr != nil {
			return -1, errs.EFault
		}
	}

	ctx, errno := NewContext(entry, argv, lim, sc)
	if errno != errs.EOK {
		return -1, errno
	}

	c.ExecMu.Lock()
	defer c.ExecMu.Unlock()

	code, ierr := c.Invoker.Invoke(ctx)
	if ierr != nil {
		return -1, errs.EIO
	}
	return code, errs.EOK
}

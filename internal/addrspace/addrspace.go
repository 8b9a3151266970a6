// Package addrspace is the external-collaborator stand-in for the
// memory manager, deliberately kept out of the kernel core itself: a
// real HelenOS-shaped kernel would back this with hardware page
// tables, but the core only ever needs a narrow handle on it, so that
// handle is an interface the core packages consume rather than a
// concrete memory manager.
package addrspace

import "errors"

// Stack is a non-overlapping region handed out by AllocStack, sized to
// back one kthread.Thread's backing goroutine's saved-context cushion.
// Base/Size are offsets into whichever arena the AddressSpace wraps,
// not raw process memory addresses.
type Stack struct {
	Base uintptr
	Size int
}

// AddressSpace is the allocator-and-translator handle the core merely
// consumes: translate a task-relative "virtual"
// address to the physical address two tasks sharing a mapping would
// see in common, allocate/free stack regions for new threads, and
// read/write the word at a virtual address — the narrow memory-access
// primitive internal/futex's own AddressSpace interface also declares,
// satisfied here by the same concrete Flat value so Dispatch can hand
// one address space to both futex.Wait/Wake and whatever else needs it.
type AddressSpace interface {
	Translate(virt uintptr) (phys uintptr, err error)
	AllocStack(size int) (Stack, error)
	Free(s Stack) error
	ReadWord(virt uintptr) (uint32, error)
	WriteWord(virt uintptr, v uint32) error
}

// ErrOutOfRange is returned by Translate for an address outside the
// arena and by AllocStack when the arena has no room left.
var ErrOutOfRange = errors.New("addrspace: address out of range")

package addrspace

import (
	"encoding/binary"
	"sync"

	"github.com/mkcore-project/mkcore/internal/kerrors"
)

// shardSize is the per-lock granularity of the backing arena: big
// enough that a 4K access almost never straddles two locks, small
// enough that concurrent stacks/shared-memory regions rarely contend.
const shardSize = 64 * 1024

// Flat is the one in-memory AddressSpace implementation: a flat byte
// arena identity-mapping "virtual" and "physical" addresses (there is
// only one task's worth of memory to simulate here, so there is nothing
// to translate) using the same sharded-RWMutex-per-64KB-region shape a
// RAM-backed block device uses for its own byte arena, repurposed from
// block I/O offsets to stack/shared-memory offsets.
//
// A second, independent byte arena backs simulated I/O ports and
// memory-mapped device registers for ipc's IRQ code programs: real
// HelenOS IRQ handlers read actual hardware, which has no Go library
// equivalent to ground on, so this half is deliberately a bare register
// file rather than reaching for a fabricated dependency.
type Flat struct {
	data   []byte
	shards []sync.RWMutex

	allocMu  sync.Mutex
	allocTop uintptr

	ioMu sync.Mutex
	ports map[uint64]uint64
	mmio  map[uint64]uint64
}

// NewFlat allocates a Flat arena of the given size in bytes.
func NewFlat(size int) *Flat {
	numShards := (size + shardSize - 1) / shardSize
	if numShards == 0 {
		numShards = 1
	}
	return &Flat{
		data:   make([]byte, size),
		shards: make([]sync.RWMutex, numShards),
		ports:  make(map[uint64]uint64),
		mmio:   make(map[uint64]uint64),
	}
}

func (f *Flat) shardRange(off, length int) (start, end int) {
	start = off / shardSize
	end = (off + length - 1) / shardSize
	if end >= len(f.shards) {
		end = len(f.shards) - 1
	}
	return start, end
}

// Translate implements addrspace.AddressSpace: identity mapping,
// bounds-checked against the arena.
func (f *Flat) Translate(virt uintptr) (uintptr, error) {
	if int(virt) >= len(f.data) {
		return 0, kerrors.Wrap("addrspace_translate", ErrOutOfRange)
	}
	return virt, nil
}

// ReadWord implements futex.AddressSpace: a little-endian 32-bit read
// from the arena, used by futex_wait to re-check the watched value.
func (f *Flat) ReadWord(virt uintptr) (uint32, error) {
	off := int(virt)
	if off < 0 || off+4 > len(f.data) {
		return 0, kerrors.Wrap("addrspace_read_word", ErrOutOfRange)
	}
	start, end := f.shardRange(off, 4)
	for i := start; i <= end; i++ {
		f.shards[i].RLock()
	}
	v := binary.LittleEndian.Uint32(f.data[off : off+4])
	for i := start; i <= end; i++ {
		f.shards[i].RUnlock()
	}
	return v, nil
}

// WriteWord is the write-side counterpart userspace/futex_wake callers
// use to flip the watched value before waking.
func (f *Flat) WriteWord(virt uintptr, v uint32) error {
	off := int(virt)
	if off < 0 || off+4 > len(f.data) {
		return kerrors.Wrap("addrspace_write_word", ErrOutOfRange)
	}
	start, end := f.shardRange(off, 4)
	for i := start; i <= end; i++ {
		f.shards[i].Lock()
	}
	binary.LittleEndian.PutUint32(f.data[off:off+4], v)
	for i := start; i <= end; i++ {
		f.shards[i].Unlock()
	}
	return nil
}

// AllocStack implements addrspace.AddressSpace with a simple bump
// allocator: stacks are never individually reused mid-run in the
// simulated kernel (a real allocator would recycle freed regions, but
// nothing in this codebase allocates stacks at a rate that needs it).
func (f *Flat) AllocStack(size int) (Stack, error) {
	if size <= 0 {
		return Stack{}, kerrors.New("addrspace_alloc_stack", kerrors.ErrCodeInvalidArgument, "zero-size stack requested")
	}
	f.allocMu.Lock()
	defer f.allocMu.Unlock()

	base := f.allocTop
	if int(base)+size > len(f.data) {
		return Stack{}, kerrors.Wrap("addrspace_alloc_stack", ErrOutOfRange)
	}
	f.allocTop += uintptr(size)
	return Stack{Base: base, Size: size}, nil
}

// Free releases a stack region. The bump allocator never reclaims
// space mid-run; Free is a no-op validated against double-free-shaped
// misuse (a zero-size Stack indicates the caller never actually got one).
func (f *Flat) Free(s Stack) error {
	if s.Size <= 0 {
		return kerrors.New("addrspace_free", kerrors.ErrCodeInvalidArgument, "freeing an empty stack")
	}
	return nil
}

func portWidthMask(width int) uint64 {
	switch width {
	case 1:
		return 0xff
	case 2:
		return 0xffff
	case 4:
		return 0xffffffff
	default:
		return ^uint64(0)
	}
}

// ReadPort implements ipc.PortIO over the simulated port register file.
func (f *Flat) ReadPort(addr uint64, width int) (uint64, error) {
	f.ioMu.Lock()
	defer f.ioMu.Unlock()
	return f.ports[addr] & portWidthMask(width), nil
}

// WritePort implements ipc.PortIO over the simulated port register file.
func (f *Flat) WritePort(addr uint64, width int, val uint64) error {
	f.ioMu.Lock()
	defer f.ioMu.Unlock()
	f.ports[addr] = val & portWidthMask(width)
	return nil
}

// ReadMem implements ipc.MemIO over the simulated MMIO register file.
func (f *Flat) ReadMem(addr uint64, width int) (uint64, error) {
	f.ioMu.Lock()
	defer f.ioMu.Unlock()
	return f.mmio[addr] & portWidthMask(width), nil
}

// WriteMem implements ipc.MemIO over the simulated MMIO register file.
func (f *Flat) WriteMem(addr uint64, width int, val uint64) error {
	f.ioMu.Lock()
	defer f.ioMu.Unlock()
	f.mmio[addr] = val & portWidthMask(width)
	return nil
}

// Package futex implements the userspace-address-to-wait-queue bridge:
// a per-task sharded hash table of refcounted Futex objects, each
// keyed by the physical address two threads mapping the same page
// share.
package futex

import (
	"sync"
	"sync/atomic"

	"github.com/mkcore-project/mkcore/internal/constants"
	"github.com/mkcore-project/mkcore/internal/kernsync/ilist"
	"github.com/mkcore-project/mkcore/internal/waitqueue"
)

// AddressSpace is the narrow view of a task's address space futex
// needs: resolve a virtual address to the physical address two
// threads' mappings of the same page share, and read the current word
// there to re-check the expected value. Defined here (rather than
// imported from internal/addrspace) so futex does not need to depend
// on the concrete address-space implementation, the same
// narrow-consumer-interface pattern as kthread.TaskRef and
// waitqueue.Scheduler.
type AddressSpace interface {
	Translate(virt uintptr) (phys uintptr, err error)
	ReadWord(virt uintptr) (uint32, error)
}

// Futex is one kernel-side wait queue bridging a physical address: the
// key is the physical address so that two threads mapping the same
// page at different virtual addresses share the same futex.
// Reference counted: it lives as long as any sleeper is registered or
// any task caches it.
type Futex struct {
	link ilist.Link[Futex]

	addr uintptr
	refs atomic.Int64
	wq   waitqueue.WaitQueue
}

// Addr returns the physical address this futex is keyed by.
func (f *Futex) Addr() uintptr { return f.addr }

// Link implements ilist.Elem[Futex].
func (f *Futex) Link() *ilist.Link[Futex] { return &f.link }

// FutexList is the intrusive chain each bucket holds.
type FutexList = ilist.List[Futex, *Futex]

func futexNext(f *Futex) *Futex { return ilist.Next[Futex, *Futex](f) }

var _ ilist.Elem[Futex] = (*Futex)(nil)

type bucket struct {
	mu    sync.Mutex
	chain FutexList
}

// Table is a task's futex hash table, sharded across
// constants.FutexTableShards fixed buckets with an intrusive
// per-bucket chain under a per-bucket mutex — many small locked
// buckets rather than sync.Map, chained on collision (true hash
// buckets) rather than a small fixed set of size classes, since futex
// keys are arbitrary addresses rather than a handful of known buffer
// sizes, and because futexes need precise
// refcounting on removal that sync.Map does not expose atomically.
type Table struct {
	shards [constants.FutexTableShards]bucket
}

// NewTable allocates an empty futex table.
func NewTable() *Table {
	return &Table{}
}

func (t *Table) shardFor(addr uintptr) *bucket {
	return &t.shards[uint64(addr)%constants.FutexTableShards]
}

// lookup finds or creates the Futex for addr, incrementing its
// refcount. Callers must pair every lookup with a release.
func (t *Table) lookup(addr uintptr) *Futex {
	b := t.shardFor(addr)
	b.mu.Lock()
	defer b.mu.Unlock()

	for e := b.chain.Front(); e != nil; e = futexNext(e) {
		if e.addr == addr {
			e.refs.Add(1)
			return e
		}
	}

	f := &Futex{addr: addr}
	f.refs.Store(1)
	b.chain.PushBack(f)
	return f
}

// findOnly returns the Futex for addr without creating one, or nil,
// incrementing its refcount if found. Used by Wake: a wake on an
// address nobody has ever waited on has nothing to do.
func (t *Table) findOnly(addr uintptr) *Futex {
	b := t.shardFor(addr)
	b.mu.Lock()
	defer b.mu.Unlock()

	for e := b.chain.Front(); e != nil; e = futexNext(e) {
		if e.addr == addr {
			e.refs.Add(1)
			return e
		}
	}
	return nil
}

// release drops a reference acquired by lookup/findOnly, removing the
// Futex from its bucket once the last reference is gone.
func (t *Table) release(f *Futex) {
	if f.refs.Add(-1) > 0 {
		return
	}
	b := t.shardFor(f.addr)
	b.mu.Lock()
	defer b.mu.Unlock()
	if f.refs.Load() > 0 {
		return // a concurrent lookup re-acquired it after our decrement
	}
	for e := b.chain.Front(); e != nil; e = futexNext(e) {
		if e == f {
			b.chain.Remove(e)
			return
		}
	}
}

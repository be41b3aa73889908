// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq

import (
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// pendingTransferThreshold is how many released nodes may accumulate
// before a releaser attempts to recycle them onto the free list.
const pendingTransferThreshold = 10

// Allocator supplies uniformly-sized buffer nodes from a free list and is
// the sole authority that may return a node to reuse.
//
// The free list is a Treiber stack whose head is a single 128-bit atomic
// packing (version, pointer). The version increments on every successful
// push and pop, so a stale head observed by a racing thread can never CAS
// successfully (ABA safety without deferred reclamation on this stack).
//
// Released nodes do not go straight onto the free list: a node that was
// popped from the completed queue may still be referenced by a consumer
// holding a stale head pointer. Releases therefore land on a pending
// list, and migrate to the free list only after a GlobalCounter
// WriteSynchronize, once enough have accumulated.
//
// An append-only registry keeps every node reachable by the garbage
// collector for the life of the allocator, which is what makes the packed
// pointer representation sound.
type Allocator struct {
	_            pad
	free         atomix.Uint128 // lo=version, hi=top-of-stack pointer
	_            pad
	pending      atomic.Pointer[BufferNode] // top of pending stack
	pendingCount atomix.Int64
	_            pad
	transferring atomix.Uint64
	_            pad
	freeCount    atomix.Int64
	newCount     atomix.Int64
	reuses       atomix.Int64
	transfers    atomix.Int64

	capacity int
	gc       *GlobalCounter

	registryLock atomix.Uint64
	registry     []*BufferNode
}

// NewAllocator creates an allocator of nodes with the given entry
// capacity, using gc as the reclamation barrier for recycled nodes.
func NewAllocator(capacity int, gc *GlobalCounter) *Allocator {
	if capacity < 2 {
		panic("dcq: buffer capacity must be >= 2")
	}
	return &Allocator{capacity: capacity, gc: gc}
}

// BufferCapacity returns the entry capacity of nodes from this allocator.
func (a *Allocator) BufferCapacity() int {
	return a.capacity
}

func nodeAt(p uint64) *BufferNode {
	if p == 0 {
		return nil
	}
	return (*BufferNode)(unsafe.Pointer(uintptr(p)))
}

func nodeVal(n *BufferNode) uint64 {
	return uint64(uintptr(unsafe.Pointer(n)))
}

// Allocate returns an empty node (index == capacity). It pops the free
// list if possible, recycles pending releases if the free list is dry,
// and otherwise allocates a fresh node.
func (a *Allocator) Allocate() *BufferNode {
	sw := spin.Wait{}
	for {
		ver, p := a.free.LoadAcquire()
		if p == 0 {
			if a.tryTransferPending() {
				continue
			}
			return a.allocateNew()
		}
		node := nodeAt(p)
		next := node.next.Load()
		if a.free.CompareAndSwapAcqRel(ver, p, ver+1, nodeVal(next)) {
			a.freeCount.Add(-1)
			a.reuses.Add(1)
			node.next.Store(nil)
			node.index = a.capacity
			node.gen++
			return node
		}
		sw.Once()
	}
}

func (a *Allocator) allocateNew() *BufferNode {
	node := newBufferNode(a.capacity)
	node.gen = 1
	sw := spin.Wait{}
	for !a.registryLock.CompareAndSwapAcqRel(0, 1) {
		sw.Once()
	}
	a.registry = append(a.registry, node)
	a.registryLock.StoreRelease(0)
	a.newCount.Add(1)
	return node
}

// Release returns a node to the allocator. The node must be unreachable
// from every queue, paused list and thread; the allocator defers reuse
// until in-flight consumers have quiesced.
func (a *Allocator) Release(node *BufferNode) {
	sw := spin.Wait{}
	for {
		h := a.pending.Load()
		node.next.Store(h)
		if a.pending.CompareAndSwap(h, node) {
			break
		}
		sw.Once()
	}
	if a.pendingCount.Add(1) >= pendingTransferThreshold {
		a.tryTransferPending()
	}
}

// tryTransferPending moves the pending list to the free list after an
// epoch synchronization. One transfer runs at a time; contenders return
// immediately. Reports whether any nodes were transferred.
//
// Must not be called from inside a GlobalCounter critical section.
func (a *Allocator) tryTransferPending() bool {
	if !a.transferring.CompareAndSwapAcqRel(0, 1) {
		return false
	}
	head := a.pending.Swap(nil)
	if head == nil {
		a.transferring.StoreRelease(0)
		return false
	}
	count := int64(1)
	tail := head
	for next := tail.next.Load(); next != nil; next = tail.next.Load() {
		tail = next
		count++
	}
	a.pendingCount.Add(-count)

	// No consumer that might still dereference these nodes survives this.
	a.gc.WriteSynchronize()

	sw := spin.Wait{}
	for {
		ver, p := a.free.LoadAcquire()
		tail.next.Store(nodeAt(p))
		if a.free.CompareAndSwapAcqRel(ver, p, ver+1, nodeVal(head)) {
			break
		}
		sw.Once()
	}
	a.freeCount.Add(count)
	a.transfers.Add(1)
	a.transferring.StoreRelease(0)
	return true
}

// FreeCount returns the number of nodes on the free list.
func (a *Allocator) FreeCount() int64 {
	return a.freeCount.LoadRelaxed()
}

// PendingCount returns the number of released nodes awaiting quiescence.
func (a *Allocator) PendingCount() int64 {
	return a.pendingCount.LoadRelaxed()
}

// Allocated returns the total number of nodes ever created.
func (a *Allocator) Allocated() int64 {
	return a.newCount.LoadRelaxed()
}

// Reuses returns how many allocations were served from the free list.
func (a *Allocator) Reuses() int64 {
	return a.reuses.LoadRelaxed()
}

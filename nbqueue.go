// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq

import "sync/atomic"

// NonblockingQueue is the multi-producer multi-consumer list of completed
// buffers awaiting refinement. It is an intrusive singly-linked FIFO with
// lock-free push, append and pop.
//
// The tail node's next link holds the queue's end marker (a sentinel node
// unique to the queue) rather than nil, so consumers can tell "last node"
// from "node already removed". A racing push can leave a pop momentarily
// unable to decide; TryPop then reports ErrWouldBlock ("spurious empty"),
// which callers tolerate by retrying a bounded number of times.
//
// TryPop must run inside a GlobalCounter critical section. The epoch is
// what prevents ABA on the head: a node removed here is not handed out
// for reuse until every section active during the removal has exited, so
// a consumer's stale head pointer can never match a recycled node.
//
// Within one producer, entries keep their order; across producers no
// global order is guaranteed.
type NonblockingQueue struct {
	_    pad
	head atomic.Pointer[BufferNode]
	_    pad
	tail atomic.Pointer[BufferNode]
	_    pad
	end  BufferNode // end marker, address only
}

// endMarker returns the sentinel stored in the tail node's next link.
func (q *NonblockingQueue) endMarker() *BufferNode {
	return &q.end
}

// Push appends one node. Multi-producer safe; never fails.
func (q *NonblockingQueue) Push(node *BufferNode) {
	q.Append(node, node)
}

// Append splices a pre-linked chain first..last onto the tail.
// Multi-producer safe. The chain's interior links must already be set;
// last's link is overwritten.
//
// A pop racing with the tail hand-off below observes the old tail with an
// end-marker link and tail already swung away; it reports spurious empty
// until the link store lands.
func (q *NonblockingQueue) Append(first, last *BufferNode) {
	last.next.Store(q.endMarker())
	oldTail := q.tail.Swap(last)
	if oldTail == nil {
		q.head.Store(first)
	} else {
		oldTail.next.Store(first)
	}
}

// TryPop removes and returns the head node. Multi-consumer safe.
// Returns ErrWouldBlock if the queue is empty or if concurrent
// modification would otherwise require an unbounded retry.
//
// Caller must be inside a GlobalCounter critical section.
func (q *NonblockingQueue) TryPop() (*BufferNode, error) {
	result := q.head.Load()
	if result == nil {
		return nil, ErrWouldBlock // empty
	}
	next := result.next.Load()
	if next == nil {
		// result was concurrently removed and unlinked.
		return nil, ErrWouldBlock
	}
	if next == q.endMarker() {
		// result is the last node; claim it by emptying the tail first,
		// so no push can be appending behind our back.
		if !q.tail.CompareAndSwap(result, nil) {
			return nil, ErrWouldBlock // push or pop in progress
		}
		// The head CAS may fail if a racing push already installed a new
		// first node; either way result is ours.
		q.head.CompareAndSwap(result, nil)
		result.next.Store(nil)
		return result, nil
	}
	if !q.head.CompareAndSwap(result, next) {
		return nil, ErrWouldBlock // lost the race to another consumer
	}
	result.next.Store(nil)
	return result, nil
}

// Empty reports whether the queue appears empty. Advisory under
// concurrent modification.
func (q *NonblockingQueue) Empty() bool {
	return q.head.Load() == nil
}

// TakeAll detaches and returns the entire chain. Not thread-safe; callers
// run it at a safepoint when no push or pop is in flight.
func (q *NonblockingQueue) TakeAll() HeadTail {
	h := q.head.Load()
	t := q.tail.Load()
	q.head.Store(nil)
	q.tail.Store(nil)
	if t != nil {
		t.next.Store(nil)
	}
	return HeadTail{Head: h, Tail: t}
}

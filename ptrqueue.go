// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq

// DirtyCardQueue is the write-barrier front end: the per-thread buffer of
// cards being filled by reference stores. It owns at most one buffer node
// at a time and is not safe for concurrent use; each mutator thread keeps
// its own.
//
// The index and buffer fields sit first in the struct at stable offsets,
// so an emitted store barrier can decrement the index and write the card
// slot directly, calling into the subsystem only on underflow.
type DirtyCardQueue struct {
	index int
	buf   *BufferNode
	qset  *DirtyCardQueueSet
	stats RefineStats
}

// NewDirtyCardQueue creates a queue attached to qset. The queue holds a
// non-owning handle; its lifetime must not exceed the queue set's.
func NewDirtyCardQueue(qset *DirtyCardQueueSet) *DirtyCardQueue {
	return &DirtyCardQueue{qset: qset}
}

// Enqueue records one card. The fast path is a decrement and a store; no
// allocation happens unless the buffer is full or absent.
func (q *DirtyCardQueue) Enqueue(card Card) {
	if q.buf == nil || q.index == 0 {
		q.handleZeroIndex(card)
		return
	}
	q.index--
	q.buf.entries[q.index] = card
}

// handleZeroIndex is the slow path: hand off a full buffer (which may
// make this thread perform a unit of refinement), attach a fresh one, and
// retry the store.
func (q *DirtyCardQueue) handleZeroIndex(card Card) {
	if q.buf != nil {
		q.buf.SetIndex(0)
		q.qset.handleCompletedBuffer(q.buf, &q.stats)
		q.buf = nil
	}
	q.buf = q.qset.alloc.Allocate()
	q.index = q.buf.Capacity()
	q.index--
	q.buf.entries[q.index] = card
}

// Flush hands a non-empty buffer to the queue set as completed, or
// returns an empty one to the allocator. Called at thread detach and at
// safepoints; after Flush the queue holds no buffer.
func (q *DirtyCardQueue) Flush() {
	if q.buf == nil {
		return
	}
	if q.index == q.buf.Capacity() {
		q.qset.alloc.Release(q.buf)
	} else {
		q.buf.SetIndex(q.index)
		q.qset.EnqueueCompletedBuffer(q.buf)
	}
	q.buf = nil
	q.index = 0
}

// Detach flushes the queue and folds its refinement stats into the queue
// set's detached accumulator. Call when the owning thread exits outside a
// safepoint.
func (q *DirtyCardQueue) Detach() {
	q.Flush()
	q.qset.RecordDetachedRefinementStats(&q.stats)
}

// RefinementStats returns the thread's accumulator. Owned by the thread;
// other threads read it only during safepoint concatenation.
func (q *DirtyCardQueue) RefinementStats() *RefineStats {
	return &q.stats
}

// abandon drops the partial buffer and stats during a full collection.
func (q *DirtyCardQueue) abandon() {
	if q.buf != nil {
		q.qset.alloc.Release(q.buf)
		q.buf = nil
		q.index = 0
	}
	q.stats.Reset()
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"go.uber.org/zap"
)

// popRetries bounds how often a pop is retried after interference before
// the caller treats the queue as empty for this tick.
const popRetries = 4

// DirtyCardQueueSet glues the subsystem together: the completed-buffer
// queue, the paused-buffer area, the allocator, the worker id set and the
// global statistics, plus the enqueue/refine/safepoint operations over
// them.
//
// Construct one per collector via [New]; per-thread queues hold non-owning
// handles to it.
type DirtyCardQueueSet struct {
	_ pad
	// Upper bound on the cards in the completed and paused buffers.
	// Maintained with relaxed increments and decrements from many
	// threads; may transiently look low or negative. Exact only at a
	// safepoint.
	numCards atomix.Int64
	_        pad
	// Mutators start doing refinement work when the queue set holds more
	// cards than this.
	mutatorRefinementThreshold atomix.Int64
	_                          pad
	completed                  NonblockingQueue
	paused                     *PausedBuffers

	freeIDs *FreeIdSet
	gcount  *GlobalCounter
	alloc   *Allocator
	sp      *SafepointCounter

	refineCard  RefineCardFunc
	shouldYield YieldFunc
	log         *zap.Logger

	// Mutated only under the safepoint invariant.
	concatenated RefineStats
	// Folded into from exiting threads at any time.
	detached sharedStats
	// Per-worker counters, materialized only when configured. Each slot
	// is spinlocked so metrics readers never observe torn state while
	// the owning worker is refining.
	workers []sharedStats
}

func newQueueSet(o *Options) *DirtyCardQueueSet {
	gcount := NewGlobalCounter(o.numParIDs)
	s := &DirtyCardQueueSet{
		freeIDs:     NewFreeIdSet(o.numParIDs),
		gcount:      gcount,
		alloc:       NewAllocator(o.bufferCapacity, gcount),
		sp:          o.sp,
		refineCard:  o.refine,
		shouldYield: o.yield,
		log:         o.logger,
	}
	s.paused = NewPausedBuffers(o.sp)
	s.mutatorRefinementThreshold.StoreRelaxed(o.mutatorThreshold)
	if o.counters {
		s.workers = make([]sharedStats, o.numParIDs)
	}
	return s
}

// Allocator returns the node allocator. The full-GC driver uses it to
// release nodes taken via TakeAllCompletedBuffers once their cards have
// been processed.
func (s *DirtyCardQueueSet) Allocator() *Allocator {
	return s.alloc
}

// Safepoint returns the safepoint counter the queue set observes.
func (s *DirtyCardQueueSet) Safepoint() *SafepointCounter {
	return s.sp
}

// NumParIDs returns the bound on concurrent refiners.
func (s *DirtyCardQueueSet) NumParIDs() int {
	return s.freeIDs.NumParIDs()
}

// ClaimParID claims a worker id, waiting until one is free.
func (s *DirtyCardQueueSet) ClaimParID() int {
	return s.freeIDs.ClaimParID()
}

// TryClaimParID claims a worker id without waiting.
func (s *DirtyCardQueueSet) TryClaimParID() (int, error) {
	return s.freeIDs.TryClaimParID()
}

// ReleaseParID returns a claimed worker id.
func (s *DirtyCardQueueSet) ReleaseParID(id int) {
	s.freeIDs.ReleaseParID(id)
}

// NumCards returns the upper bound on cards currently queued. Read
// without synchronization; the value may be off while buffers move.
func (s *DirtyCardQueueSet) NumCards() int64 {
	return s.numCards.LoadRelaxed()
}

// MutatorRefinementThreshold returns the card count above which mutator
// threads help refine.
func (s *DirtyCardQueueSet) MutatorRefinementThreshold() int64 {
	return s.mutatorRefinementThreshold.LoadRelaxed()
}

// SetMutatorRefinementThreshold updates the mutator assist threshold.
func (s *DirtyCardQueueSet) SetMutatorRefinementThreshold(v int64) {
	s.mutatorRefinementThreshold.Store(v)
}

// Enqueue records a card through q. A convenience wrapper so emitted
// barriers call a single symbol.
func (s *DirtyCardQueueSet) Enqueue(q *DirtyCardQueue, card Card) {
	q.Enqueue(card)
}

// NewQueue creates a per-thread dirty card queue attached to this set.
func (s *DirtyCardQueueSet) NewQueue() *DirtyCardQueue {
	return NewDirtyCardQueue(s)
}

// EnqueueCompletedBuffer adds node's cards to the pending count and
// pushes it onto the completed queue.
func (s *DirtyCardQueueSet) EnqueueCompletedBuffer(node *BufferNode) {
	s.numCards.Add(int64(node.Cards()))
	s.completed.Push(node)
}

// handleCompletedBuffer is the mutator hand-off path. The full buffer is
// enqueued; if the pending card count is over the mutator threshold, the
// mutator performs exactly one unit of refinement in line, so the more
// dirty cards outstanding, the more mutator cycles drain them.
func (s *DirtyCardQueueSet) handleCompletedBuffer(node *BufferNode, stats *RefineStats) {
	s.EnqueueCompletedBuffer(node)
	if s.NumCards() <= s.MutatorRefinementThreshold() {
		return
	}
	// The refinement step is mandatory once over the threshold, so the
	// claim waits out id contention; num_par_ids is sized for refinement
	// threads plus mutator helpers, and refiners release their id between
	// units of work.
	id := s.freeIDs.ClaimParID()
	defer s.freeIDs.ReleaseParID(id)
	s.enqueuePreviousPausedBuffers()
	popped := s.getCompletedBuffer(id)
	if popped == nil {
		return
	}
	fully := s.refineBuffer(popped, stats)
	s.handleRefinedBuffer(popped, fully)
}

// getCompletedBuffer removes and returns the first completed buffer, or
// nil if none is available within the retry budget. The pop runs inside
// the worker's epoch critical section; the pending card count is
// decremented by the node's cards.
func (s *DirtyCardQueueSet) getCompletedBuffer(workerID int) *BufferNode {
	s.gcount.Enter(workerID)
	defer s.gcount.Exit(workerID)
	sw := spin.Wait{}
	for i := 0; ; i++ {
		node, err := s.completed.TryPop()
		if err == nil {
			s.numCards.Add(-int64(node.Cards()))
			return node
		}
		if i >= popRetries {
			return nil
		}
		sw.Once()
	}
}

// recordPausedBuffer parks a partially refined buffer for the next
// safepoint, adding its remaining cards back to the pending count.
func (s *DirtyCardQueueSet) recordPausedBuffer(node *BufferNode) {
	s.numCards.Add(int64(node.Cards()))
	s.paused.Add(node)
}

// handleRefinedBuffer routes a buffer after refinement: fully processed
// buffers go back to the allocator, yielded ones to the paused area.
func (s *DirtyCardQueueSet) handleRefinedBuffer(node *BufferNode, fullyProcessed bool) {
	if fullyProcessed {
		s.alloc.Release(node)
	} else {
		s.recordPausedBuffer(node)
	}
}

// enqueuePausedBuffersAux splices a detached paused chain back onto the
// completed queue. Cards from paused buffers are already in the pending
// count.
func (s *DirtyCardQueueSet) enqueuePausedBuffersAux(ht HeadTail) {
	if ht.Head != nil {
		s.completed.Append(ht.Head, ht.Tail)
	}
}

// enqueuePreviousPausedBuffers transfers buffers paused for previous
// safepoints back to the completed queue. Each refiner does this before
// popping, so a paused list never outlives two safepoint boundaries.
//
// Precondition: not at a safepoint.
func (s *DirtyCardQueueSet) enqueuePreviousPausedBuffers() {
	s.enqueuePausedBuffersAux(s.paused.TakePrevious())
}

// enqueueAllPausedBuffers transfers every paused buffer back to the
// completed queue.
//
// Precondition: at a safepoint.
func (s *DirtyCardQueueSet) enqueueAllPausedBuffers() {
	s.enqueuePausedBuffersAux(s.paused.TakeAll())
}

// RefineCompletedBufferConcurrently pops one buffer and refines it if
// more than stopAt cards are pending. Returns true if a buffer was
// processed; a yielded buffer counts as processed and is parked for the
// next safepoint.
func (s *DirtyCardQueueSet) RefineCompletedBufferConcurrently(workerID int, stopAt int64, stats *RefineStats) bool {
	if s.NumCards() <= stopAt {
		return false
	}
	s.enqueuePreviousPausedBuffers()
	node := s.getCompletedBuffer(workerID)
	if node == nil {
		return false
	}
	fully := s.refineBuffer(node, stats)
	s.handleRefinedBuffer(node, fully)
	return true
}

// MergeBufferLists splices a foreign buffer list (the redirtied cards
// from an evacuation) onto the completed queue.
func (s *DirtyCardQueueSet) MergeBufferLists(list BufferNodeList) {
	if list.Head == nil {
		return
	}
	s.completed.Append(list.Head, list.Tail)
	s.numCards.Add(list.CardCount)
}

// TakeAllCompletedBuffers drains the completed queue and the paused area
// into a single list with the exact card count, leaving both empty.
//
// Precondition: at a safepoint.
func (s *DirtyCardQueueSet) TakeAllCompletedBuffers() BufferNodeList {
	if !s.sp.Active() {
		panic("dcq: take all completed buffers outside safepoint")
	}
	s.enqueueAllPausedBuffers()
	s.verifyNumCards()
	count := s.numCards.Load()
	s.numCards.Store(0)
	ht := s.completed.TakeAll()
	s.log.Debug("took all completed buffers", zap.Int64("cards", count))
	return BufferNodeList{Head: ht.Head, Tail: ht.Tail, CardCount: count}
}

// verifyNumCards checks the counter against the queue contents. Only
// meaningful at a safepoint, where the count is exact.
func (s *DirtyCardQueueSet) verifyNumCards() {
	var actual int64
	end := s.completed.endMarker()
	for n := s.completed.head.Load(); n != nil && n != end; n = n.next.Load() {
		actual += int64(n.Cards())
	}
	if actual != s.numCards.Load() {
		panic("dcq: num_cards does not match completed queue contents")
	}
}

// abandonCompletedBuffers returns every queued and paused buffer to the
// allocator and zeroes the card count.
func (s *DirtyCardQueueSet) abandonCompletedBuffers() {
	s.enqueueAllPausedBuffers()
	ht := s.completed.TakeAll()
	s.numCards.Store(0)
	for n := ht.Head; n != nil; {
		next := n.next.Load()
		n.next.Store(nil)
		s.alloc.Release(n)
		n = next
	}
}

// AbandonLogsAndStats drops all refinement work and statistics during a
// full collection: every buffer in the completed queue, the paused area
// and the given threads' partial buffers goes back to the allocator, which
// then recycles its pending releases onto the free list, and all stats
// reset. Afterward NumCards is zero.
//
// Precondition: at a safepoint.
func (s *DirtyCardQueueSet) AbandonLogsAndStats(queues ...*DirtyCardQueue) {
	if !s.sp.Active() {
		panic("dcq: abandon logs outside safepoint")
	}
	for _, q := range queues {
		q.abandon()
	}
	s.abandonCompletedBuffers()
	s.alloc.tryTransferPending()
	s.concatenated.Reset()
	s.detached.reset()
	for i := range s.workers {
		s.workers[i].reset()
	}
	s.log.Info("abandoned refinement logs and stats",
		zap.Int("threads", len(queues)))
}

// ConcatenateLogAndStats flushes q's partial buffer to the completed
// queue, folds its refinement stats into the global accumulator, resets
// them, and returns the folded delta.
//
// Precondition: at a safepoint.
func (s *DirtyCardQueueSet) ConcatenateLogAndStats(q *DirtyCardQueue) RefineStats {
	if !s.sp.Active() {
		panic("dcq: concatenate logs outside safepoint")
	}
	q.Flush()
	delta := q.stats
	s.concatenated.Add(&delta)
	q.stats.Reset()
	s.log.Debug("concatenated thread log and stats",
		zap.Int64("refined_cards", delta.RefinedCards))
	return delta
}

// ConcatenatedRefinementStats returns the total refinement stats across
// all concatenated threads plus threads that detached mid-lifetime.
//
// Precondition: at a safepoint, after concatenation.
func (s *DirtyCardQueueSet) ConcatenatedRefinementStats() RefineStats {
	if !s.sp.Active() {
		panic("dcq: read concatenated stats outside safepoint")
	}
	out := s.concatenated
	d := s.detached.snapshot()
	out.Add(&d)
	return out
}

// RecordDetachedRefinementStats folds stats from a thread exiting outside
// a safepoint into the detached accumulator and resets the input.
// Thread-safe.
func (s *DirtyCardQueueSet) RecordDetachedRefinementStats(stats *RefineStats) {
	s.detached.add(stats)
	stats.Reset()
}

// WorkerStats returns a snapshot of the per-worker counters for id, or
// a zero value when counters are not materialized. Safe to call from any
// goroutine while the worker is refining.
func (s *DirtyCardQueueSet) WorkerStats(id int) RefineStats {
	if s.workers == nil {
		return RefineStats{}
	}
	return s.workers[id].snapshot()
}

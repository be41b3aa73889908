// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dcq implements the dirty card queue subsystem of a
// generational, region-based tracing collector: write-barrier buffering
// and remembered-set refinement.
//
// Mutator threads record inter-region pointer stores into per-thread
// buffers; full buffers aggregate into a global completed queue; and
// concurrent refinement workers (and, under backpressure, mutators
// themselves) drain that queue, interpreting each card to update the
// collector's remembered sets.
//
// # Quick Start
//
//	qset := dcq.New(1024).
//	    MutatorRefinementThreshold(4096).
//	    NumParIDs(6).
//	    RefineCard(func(c dcq.Card) { rset.Refine(c) }).
//	    Yield(sts.ShouldYield).
//	    Build()
//
//	// Per mutator thread
//	q := qset.NewQueue()
//	q.Enqueue(card) // write barrier slow path target
//
//	// Refinement worker
//	id := qset.ClaimParID()
//	var stats dcq.RefineStats
//	for qset.RefineOne(id, 0, &stats) {
//	}
//	qset.ReleaseParID(id)
//
// # Structure
//
// A card flows through a fixed set of owners: the producing thread's
// [DirtyCardQueue], the lock-free [NonblockingQueue] of completed
// buffers, a refining worker, possibly the [PausedBuffers] holding area,
// and finally the [Allocator] free list. Each [BufferNode] has exactly
// one owner at any moment; transitions are serialized either by producer
// thread identity or by the queue's lock-free protocol.
//
// The entry fast path is wait-free aside from the rare allocation path:
// a decrement and a store into the thread's buffer. Pops from the
// completed queue are lock-free and may spuriously report emptiness
// under contention; callers retry a bounded number of times and move on.
//
// # Backpressure
//
// When the pending card count exceeds the mutator refinement threshold,
// a mutator handing off a full buffer performs exactly one unit of
// refinement in line. The more dirty cards outstanding, the more mutator
// cycles are spent draining them.
//
// # Safepoints and yielding
//
// The refinement loop polls the yield predicate between entries. A
// yielded buffer cannot go back onto the completed queue (a stalled
// consumer could still hold its pointer, recreating ABA); it is parked in
// the paused area and reintroduced only across a safepoint boundary,
// outside every consumer's critical section. At a safepoint the driver
// concatenates per-thread logs and stats, drains everything with
// TakeAllCompletedBuffers, or abandons the lot during a full collection
// with AbandonLogsAndStats.
//
// # Memory reclamation
//
// Nodes popped from the completed queue are recycled only after a
// [GlobalCounter] epoch quiescence: every pop runs in a critical section
// keyed by the worker's claimed id, and the allocator synchronizes the
// epoch before moving released nodes back to its free list. This is the
// subsystem's single deferred-reclamation mechanism, and the sole ABA
// defense the head pointer needs.
//
// # Counting
//
// NumCards is an upper bound maintained with relaxed increments and
// decrements from many threads. It may transiently read low, high, or
// negative; it gates thresholds and is never used for correctness. Its
// value is exact only at a safepoint.
//
// # Error Handling
//
// The subsystem has no recoverable errors of its own. The one semantic
// signal, [ErrWouldBlock], is sourced from [code.hybscloud.com/iox] for
// ecosystem consistency and means "nothing to do right now": an empty or
// contended pop, or a saturated worker id set. Precondition violations
// (paused-buffer generation misuse, safepoint mismatches, index bounds)
// panic: they are programmer errors in the embedding collector.
//
// # Race Detection
//
// Go's race detector cannot observe happens-before established through
// atomix operations on separate variables and reports false positives on
// the queue's acquire/release protocols. Tests incompatible with race
// detection are skipped via [RaceEnabled].
//
// # Dependencies
//
// This package uses [code.hybscloud.com/atomix] for atomic primitives
// with explicit memory ordering, [code.hybscloud.com/spin] for CPU pause
// instructions in retry loops, [code.hybscloud.com/iox] for semantic
// errors and backoff, go.uber.org/zap for cold-path logging, and
// github.com/pelletier/go-toml/v2 for the tuning file.
package dcq

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq

// Card identifies one byte in the card table. The queue subsystem never
// interprets the value; it is produced by the write barrier and consumed
// by the card refinement hook.
type Card uintptr

// RefineCardFunc is the card refinement hook. It receives one card at a
// time and updates the remembered-set side of the collector. Its semantics
// belong to the remembered-set layer; this subsystem treats it as
// infallible.
type RefineCardFunc func(card Card)

// YieldFunc reports whether a cooperative worker should yield, typically
// because a safepoint is pending. It is polled between entries by the
// refinement loop and must be cheap.
type YieldFunc func() bool

// BufferNodeList is a linked chain of buffer nodes with its total card
// count. Head and Tail are both nil for an empty list. It is the unit of
// bulk transfer: safepoint drains return one, and redirtied buffers from
// evacuation are merged back in as one.
type BufferNodeList struct {
	Head      *BufferNode
	Tail      *BufferNode
	CardCount int64
}

// HeadTail is a chain of buffer nodes without a card count, the unit of
// hand-off between the paused area and the completed queue. Head and
// Tail are both nil for an empty chain.
type HeadTail struct {
	Head *BufferNode
	Tail *BufferNode
}

// CardProducer is the write-barrier facing interface: record one card.
//
// The concrete producer is [DirtyCardQueue]; the interface exists so
// barrier shims and tests can be written against the narrow surface.
type CardProducer interface {
	// Enqueue records a card. Must not allocate on the fast path.
	Enqueue(card Card)
}

// Refiner is the worker facing interface: perform one unit of refinement.
//
// The concrete refiner is [DirtyCardQueueSet].
type Refiner interface {
	// RefineOne pops one completed buffer and refines it, if more than
	// stopAt cards are pending. Returns true if a buffer was processed
	// (fully or up to a yield), false if there was nothing to do.
	RefineOne(workerID int, stopAt int64, stats *RefineStats) bool
}

// pad is cache line padding to prevent false sharing.
type pad [64]byte

// padShort is padding to fill cache line after 8-byte field.
type padShort [64 - 8]byte

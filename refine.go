// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq

import "time"

// refineBuffer refines the cards in node from its index to capacity,
// invoking the card hook on each. The yield signal is polled between
// entries; on yield the node's index is updated to the first unprocessed
// entry and the result is false. On completion the index is capacity and
// the result is true. A later resumption therefore refines exactly the
// untouched tail, never an entry twice.
func (s *DirtyCardQueueSet) refineBuffer(node *BufferNode, stats *RefineStats) bool {
	start := time.Now()
	capacity := node.Capacity()
	i := node.Index()
	cards := int64(0)
	fully := true
	for i < capacity {
		s.refineCard(node.Entry(i))
		cards++
		i++
		if i < capacity && s.shouldYield() {
			fully = false
			break
		}
	}
	node.SetIndex(i)
	stats.RefinedCards += cards
	stats.RefineTime += time.Since(start)
	if fully {
		stats.RefinedBuffers++
	} else {
		stats.Yields++
	}
	return fully
}

// RefineOne pops one completed buffer and refines it if more than stopAt
// cards are pending; the worker-facing wrapper around
// RefineCompletedBufferConcurrently. When per-worker counters are
// materialized, the work is also folded into the worker's slot.
func (s *DirtyCardQueueSet) RefineOne(workerID int, stopAt int64, stats *RefineStats) bool {
	if s.workers == nil {
		return s.RefineCompletedBufferConcurrently(workerID, stopAt, stats)
	}
	before := *stats
	res := s.RefineCompletedBufferConcurrently(workerID, stopAt, stats)
	delta := *stats
	delta.Sub(&before)
	s.workers[workerID].add(&delta)
	return res
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq

import (
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// RefineStats accumulates refinement work done by one thread: cards and
// buffers refined, yields observed, and time spent in the refinement
// loop.
//
// Instances are owned by their thread and are never read by other threads
// except during a safepoint concatenation, so the fields are plain.
type RefineStats struct {
	RefinedCards   int64
	RefinedBuffers int64
	Yields         int64
	RefineTime     time.Duration
}

// Add folds o into s.
func (s *RefineStats) Add(o *RefineStats) {
	s.RefinedCards += o.RefinedCards
	s.RefinedBuffers += o.RefinedBuffers
	s.Yields += o.Yields
	s.RefineTime += o.RefineTime
}

// Sub removes o from s.
func (s *RefineStats) Sub(o *RefineStats) {
	s.RefinedCards -= o.RefinedCards
	s.RefinedBuffers -= o.RefinedBuffers
	s.Yields -= o.Yields
	s.RefineTime -= o.RefineTime
}

// Reset zeroes s.
func (s *RefineStats) Reset() {
	*s = RefineStats{}
}

// sharedStats is a RefineStats accumulator that may be folded into from
// any thread, e.g. by threads detaching outside a safepoint. A one-word
// spinlock serializes the folds; contention is rare and short.
type sharedStats struct {
	lock atomix.Uint64
	_    padShort
	s    RefineStats
}

func (a *sharedStats) add(o *RefineStats) {
	sw := spin.Wait{}
	for !a.lock.CompareAndSwapAcqRel(0, 1) {
		sw.Once()
	}
	a.s.Add(o)
	a.lock.StoreRelease(0)
}

func (a *sharedStats) snapshot() RefineStats {
	sw := spin.Wait{}
	for !a.lock.CompareAndSwapAcqRel(0, 1) {
		sw.Once()
	}
	out := a.s
	a.lock.StoreRelease(0)
	return out
}

func (a *sharedStats) reset() {
	sw := spin.Wait{}
	for !a.lock.CompareAndSwapAcqRel(0, 1) {
		sw.Once()
	}
	a.s.Reset()
	a.lock.StoreRelease(0)
}

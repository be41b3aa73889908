// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq

import "code.hybscloud.com/atomix"

// SafepointCounter is the queue set's view of the collector's safepoint
// machinery. The real driver brings mutators to a halt before Begin and
// resumes them after End; this type only tracks the generation arithmetic
// that paused buffer lists are tagged with.
//
// The counter is odd while a safepoint is in progress: Begin and End each
// advance it by one. A paused list created at counter value v is for the
// "next" safepoint exactly while the counter still reads v.
type SafepointCounter struct {
	_       pad
	counter atomix.Uint64
	_       pad
}

// Begin marks the start of a safepoint. All mutator threads must already
// be stopped. Panics if a safepoint is in progress.
func (sp *SafepointCounter) Begin() {
	if sp.counter.Add(1)%2 == 0 {
		panic("dcq: safepoint begin while at safepoint")
	}
}

// End marks the end of a safepoint. Panics if none is in progress.
func (sp *SafepointCounter) End() {
	if sp.counter.Add(1)%2 != 0 {
		panic("dcq: safepoint end while not at safepoint")
	}
}

// Active reports whether a safepoint is in progress.
func (sp *SafepointCounter) Active() bool {
	return sp.counter.Load()%2 == 1
}

// ID returns the current safepoint generation value.
func (sp *SafepointCounter) ID() uint64 {
	return sp.counter.Load()
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// GlobalCounter is the epoch mechanism behind deferred reclamation of
// buffer nodes. Consumers wrap each queue pop in a critical section; a
// node removed from the completed queue may be reused only after one
// WriteSynchronize has completed since the removal, which guarantees no
// consumer still dereferences the stale head pointer (the sole ABA hazard
// in this subsystem).
//
// The quiescence model is per-reader checkpoint, not a full fence: each
// reader slot publishes the epoch it entered at, and a synchronizer waits
// for every slot to be idle or to have entered at the new epoch. Reader
// slots are keyed by claimed parallel worker id, so the number of slots
// equals the bound on concurrent refiners.
type GlobalCounter struct {
	_       pad
	epoch   atomix.Uint64
	_       pad
	readers []readerSlot
}

// readerSlot holds 0 when idle, otherwise the owner's entry epoch + 1.
type readerSlot struct {
	v atomix.Uint64
	_ padShort
}

// NewGlobalCounter creates a counter with the given number of reader
// slots, one per parallel worker id.
func NewGlobalCounter(readers int) *GlobalCounter {
	if readers < 1 {
		panic("dcq: global counter needs at least one reader slot")
	}
	return &GlobalCounter{readers: make([]readerSlot, readers)}
}

// Enter begins a critical section for reader id. Must be paired with Exit
// on the same id, and sections must not nest.
func (gc *GlobalCounter) Enter(id int) {
	slot := &gc.readers[id]
	if slot.v.Load() != 0 {
		panic("dcq: nested global counter critical section")
	}
	slot.v.Store(gc.epoch.Load() + 1)
}

// Exit ends the critical section for reader id.
func (gc *GlobalCounter) Exit(id int) {
	gc.readers[id].v.StoreRelease(0)
}

// WriteSynchronize advances the epoch and waits until every reader slot
// is idle or has entered at the new epoch. On return, no critical section
// that was active before the call is still running.
//
// Must not be called from inside a critical section.
func (gc *GlobalCounter) WriteSynchronize() {
	next := gc.epoch.Add(1)
	for i := range gc.readers {
		sw := spin.Wait{}
		for {
			v := gc.readers[i].v.LoadAcquire()
			if v == 0 || v > next {
				break
			}
			sw.Once()
		}
	}
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq

import (
	"sync/atomic"

	"code.hybscloud.com/spin"
)

// Concurrent refinement may stop in the middle of a buffer when a
// safepoint is pending. The partially processed buffer cannot simply be
// pushed back onto the completed queue: a consumer between its head read
// and its head CAS could observe the same node pointer again and succeed
// erroneously, reintroducing ABA outside the epoch window. Such buffers
// are parked here instead, and reintroduced only across a safepoint
// boundary, when no consumer is inside a queue pop.
//
// pausedList is the per-generation holding list: atomic prepend, bulk
// take by a single taker. The first adder sets the tail; it is read only
// after the list has been detached.
type pausedList struct {
	head atomic.Pointer[BufferNode]
	tail *BufferNode
	id   uint64 // safepoint counter value at creation
}

// isNext reports whether this list holds buffers for the next upcoming
// safepoint. Valid only while not at a safepoint.
func (l *pausedList) isNext(sp *SafepointCounter) bool {
	return l.id == sp.ID()
}

// add prepends node. Thread-safe.
func (l *pausedList) add(node *BufferNode) {
	sw := spin.Wait{}
	for {
		h := l.head.Load()
		node.next.Store(h)
		if l.head.CompareAndSwap(h, node) {
			if h == nil {
				l.tail = node
			}
			return
		}
		sw.Once()
	}
}

// take returns the whole list. Not thread-safe; callers detach the list
// first.
func (l *pausedList) take() HeadTail {
	h := l.head.Load()
	if h == nil {
		return HeadTail{}
	}
	return HeadTail{Head: h, Tail: l.tail}
}

// PausedBuffers owns at most one live paused list at a time. The list is
// either for the next upcoming safepoint (additions permitted) or left
// over from a safepoint that has already passed (must be drained before
// new additions).
//
// Many threads may race to install the next list while another thread
// detaches the previous one; only the install pointer is shared state.
type PausedBuffers struct {
	_     pad
	plist atomic.Pointer[pausedList]
	_     pad
	sp    *SafepointCounter
}

// NewPausedBuffers creates a paused-buffer area tied to sp's safepoint
// generations.
func NewPausedBuffers(sp *SafepointCounter) *PausedBuffers {
	return &PausedBuffers{sp: sp}
}

// Add parks node for the next safepoint. Thread-safe.
//
// Preconditions: not at a safepoint, and no paused buffers from a
// previous safepoint remain (callers drain via TakePrevious first).
func (p *PausedBuffers) Add(node *BufferNode) {
	if p.sp.Active() {
		panic("dcq: paused buffer add at safepoint")
	}
	sw := spin.Wait{}
	for {
		pl := p.plist.Load()
		if pl != nil {
			if !pl.isNext(p.sp) {
				panic("dcq: paused buffers from previous safepoint not drained")
			}
			pl.add(node)
			return
		}
		npl := &pausedList{id: p.sp.ID()}
		npl.add(node)
		if p.plist.CompareAndSwap(nil, npl) {
			return
		}
		// Lost the install race; fall through to the winner's list.
		node.next.Store(nil)
		sw.Once()
	}
}

// TakePrevious detaches and returns the buffers paused for previous
// safepoints, or an empty chain if the current list is for the next
// safepoint (or absent).
//
// Precondition: not at a safepoint.
func (p *PausedBuffers) TakePrevious() HeadTail {
	if p.sp.Active() {
		panic("dcq: take previous paused buffers at safepoint")
	}
	pl := p.plist.Load()
	if pl == nil || pl.isNext(p.sp) {
		return HeadTail{}
	}
	if !p.plist.CompareAndSwap(pl, nil) {
		// Another thread took it.
		return HeadTail{}
	}
	return pl.take()
}

// TakeAll detaches and returns whatever list exists, regardless of
// generation.
//
// Precondition: at a safepoint.
func (p *PausedBuffers) TakeAll() HeadTail {
	if !p.sp.Active() {
		panic("dcq: take all paused buffers outside safepoint")
	}
	pl := p.plist.Swap(nil)
	if pl == nil {
		return HeadTail{}
	}
	return pl.take()
}

// Empty reports whether no paused buffers exist. Advisory outside a
// safepoint.
func (p *PausedBuffers) Empty() bool {
	pl := p.plist.Load()
	return pl == nil || pl.head.Load() == nil
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq

import (
	"math/bits"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// maxParIDs bounds the worker id set to one CAS word.
const maxParIDs = 64

// FreeIdSet hands out parallel worker ids in [0, n). Claimed ids key the
// per-worker scratch structures (global counter reader slots, per-worker
// stats), which is what keeps those statically sized: at most n threads
// refine concurrently.
//
// Ids live in a single bitmask word; set bits are free. Claim and release
// are CAS loops in the usual retry shape.
type FreeIdSet struct {
	_    pad
	mask atomix.Uint64
	_    pad
	n    int
}

// NewFreeIdSet creates a set of n ids, 1 <= n <= 64.
func NewFreeIdSet(n int) *FreeIdSet {
	if n < 1 || n > maxParIDs {
		panic("dcq: par id count must be in [1, 64]")
	}
	s := &FreeIdSet{n: n}
	if n == maxParIDs {
		s.mask.StoreRelaxed(^uint64(0))
	} else {
		s.mask.StoreRelaxed((uint64(1) << n) - 1)
	}
	return s
}

// NumParIDs returns the bound on concurrently claimed ids.
func (s *FreeIdSet) NumParIDs() int {
	return s.n
}

// TryClaimParID claims a free id, or returns -1 and ErrWouldBlock when
// all ids are taken.
func (s *FreeIdSet) TryClaimParID() (int, error) {
	sw := spin.Wait{}
	for {
		m := s.mask.LoadAcquire()
		if m == 0 {
			return -1, ErrWouldBlock
		}
		id := bits.TrailingZeros64(m)
		if s.mask.CompareAndSwapAcqRel(m, m&^(uint64(1)<<id)) {
			return id, nil
		}
		sw.Once()
	}
}

// ClaimParID claims a free id, waiting with backoff until one is
// released.
func (s *FreeIdSet) ClaimParID() int {
	backoff := iox.Backoff{}
	for {
		id, err := s.TryClaimParID()
		if err == nil {
			backoff.Reset()
			return id
		}
		backoff.Wait()
	}
}

// ReleaseParID returns a claimed id. Releasing an id that is not claimed
// is a programmer error.
func (s *FreeIdSet) ReleaseParID(id int) {
	if id < 0 || id >= s.n {
		panic("dcq: par id out of range")
	}
	bit := uint64(1) << id
	sw := spin.Wait{}
	for {
		m := s.mask.LoadAcquire()
		if m&bit != 0 {
			panic("dcq: double release of par id")
		}
		if s.mask.CompareAndSwapAcqRel(m, m|bit) {
			return
		}
		sw.Once()
	}
}

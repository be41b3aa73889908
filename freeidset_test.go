// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq_test

import (
	"errors"
	"sync"
	"testing"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/dcq"
)

// =============================================================================
// FreeIdSet
// =============================================================================

// TestFreeIdSetClaimAll verifies all ids can be claimed, that an empty
// set reports ErrWouldBlock, and that release makes ids claimable again.
func TestFreeIdSetClaimAll(t *testing.T) {
	s := dcq.NewFreeIdSet(4)
	if s.NumParIDs() != 4 {
		t.Fatalf("NumParIDs: got %d, want 4", s.NumParIDs())
	}

	held := make(map[int]bool, 4)
	for range 4 {
		id, err := s.TryClaimParID()
		if err != nil {
			t.Fatalf("TryClaimParID: %v", err)
		}
		if id < 0 || id >= 4 {
			t.Fatalf("TryClaimParID: id %d out of range", id)
		}
		if held[id] {
			t.Fatalf("TryClaimParID: id %d claimed twice", id)
		}
		held[id] = true
	}

	if _, err := s.TryClaimParID(); !errors.Is(err, dcq.ErrWouldBlock) {
		t.Fatalf("TryClaimParID on empty: got %v, want ErrWouldBlock", err)
	}

	s.ReleaseParID(2)
	id, err := s.TryClaimParID()
	if err != nil {
		t.Fatalf("TryClaimParID after release: %v", err)
	}
	if id != 2 {
		t.Fatalf("TryClaimParID after release: got %d, want 2", id)
	}
}

// TestFreeIdSetDoubleRelease verifies releasing a free id panics.
func TestFreeIdSetDoubleRelease(t *testing.T) {
	s := dcq.NewFreeIdSet(2)
	defer func() {
		if recover() == nil {
			t.Fatalf("ReleaseParID of free id: expected panic")
		}
	}()
	s.ReleaseParID(0)
}

// TestFreeIdSetConcurrent runs many goroutines through claim/release
// cycles and verifies no id is ever held by two claimants.
func TestFreeIdSetConcurrent(t *testing.T) {
	const (
		ids    = 8
		rounds = 2000
	)
	s := dcq.NewFreeIdSet(ids)
	holders := make([]atomix.Int32, ids)

	var wg sync.WaitGroup
	for range ids * 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				id := s.ClaimParID()
				if holders[id].Add(1) != 1 {
					panic("id held twice")
				}
				holders[id].Add(-1)
				s.ReleaseParID(id)
			}
		}()
	}
	wg.Wait()

	for i := range ids {
		if _, err := s.TryClaimParID(); err != nil {
			t.Fatalf("TryClaimParID(%d) after storm: %v", i, err)
		}
	}
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq_test

import (
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/dcq"
	"code.hybscloud.com/iox"
)

// =============================================================================
// Queue Set Stress
//
// Producers and refiners share one allocator, so buffer nodes recycle
// continuously while consumers race on the completed queue's head. Head
// ABA would surface as a card delivered twice or never; the per-card
// delivery counts catch both.
// =============================================================================

// TestQueueSetStressConcurrent runs two producers against two refiners
// over a shared allocator for a million cards.
func TestQueueSetStressConcurrent(t *testing.T) {
	if dcq.RaceEnabled {
		t.Skip("skip: atomix cross-variable memory ordering")
	}
	if testing.Short() {
		t.Skip("skip: long stress run")
	}

	const (
		producers   = 2
		refiners    = 2
		perProducer = 500000
		timeout     = 60 * time.Second
	)

	total := producers * perProducer
	seen := make([]atomix.Int32, total)
	qset := dcq.New(64).
		NumParIDs(refiners).
		RefineCard(func(c dcq.Card) { seen[c].Add(1) }).
		Build()

	deadline := time.Now().Add(timeout)
	var timedOut, prodDone atomix.Bool
	var flushed atomix.Int32

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			q := qset.NewQueue()
			base := p * perProducer
			for i := range perProducer {
				if i%4096 == 0 && time.Now().After(deadline) {
					timedOut.Store(true)
					return
				}
				q.Enqueue(dcq.Card(base + i))
			}
			q.Flush()
			if flushed.Add(1) == producers {
				prodDone.Store(true)
			}
		}(p)
	}

	for range refiners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := qset.ClaimParID()
			defer qset.ReleaseParID(id)
			var stats dcq.RefineStats
			backoff := iox.Backoff{}
			for {
				if qset.RefineOne(id, 0, &stats) {
					backoff.Reset()
					continue
				}
				if time.Now().After(deadline) {
					timedOut.Store(true)
					return
				}
				if prodDone.Load() && qset.NumCards() == 0 {
					return
				}
				backoff.Wait()
			}
		}()
	}

	wg.Wait()
	if timedOut.Load() {
		t.Fatalf("stress: timed out with %d cards pending", qset.NumCards())
	}

	for i := range seen {
		if n := seen[i].Load(); n != 1 {
			t.Fatalf("card %d delivered %d times, want 1", i, n)
		}
	}
	alloc := qset.Allocator()
	if alloc.Reuses() == 0 {
		t.Fatalf("stress: allocator never recycled a node")
	}
	if back := alloc.FreeCount() + alloc.PendingCount(); back != alloc.Allocated() {
		t.Fatalf("stress: %d of %d nodes back with allocator",
			back, alloc.Allocated())
	}
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq_test

import (
	"os"
	"path/filepath"
	"testing"

	"code.hybscloud.com/dcq"
)

// =============================================================================
// Builder and Tuning
// =============================================================================

func TestBuilderDefaults(t *testing.T) {
	_, hook := collectHook()
	qset := dcq.New(1000).RefineCard(hook).Build()

	if got := qset.Allocator().BufferCapacity(); got != 1024 {
		t.Fatalf("BufferCapacity: got %d, want 1024 (rounded)", got)
	}
	if got := qset.NumParIDs(); got != 2 {
		t.Fatalf("NumParIDs: got %d, want 2", got)
	}

	// Default threshold disables mutator refinement entirely.
	q := qset.NewQueue()
	for i := range 100000 {
		q.Enqueue(dcq.Card(i))
	}
	if got := q.RefinementStats().RefinedBuffers; got != 0 {
		t.Fatalf("RefinedBuffers: got %d, want 0 with default threshold", got)
	}
}

func TestBuilderPanics(t *testing.T) {
	cases := []struct {
		name string
		fn   func()
	}{
		{"capacity", func() { dcq.New(1) }},
		{"par ids", func() { dcq.New(4).NumParIDs(0) }},
		{"par ids high", func() { dcq.New(4).NumParIDs(65) }},
		{"no hook", func() { dcq.New(4).Build() }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("%s: expected panic", tc.name)
				}
			}()
			tc.fn()
		})
	}
}

func TestLoadTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refine.toml")
	data := []byte(`buffer_capacity = 500
mutator_refinement_threshold = 2048
num_par_ids = 6
counters = true
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tuning, err := dcq.LoadTuning(path)
	if err != nil {
		t.Fatalf("LoadTuning: %v", err)
	}
	if tuning.BufferCapacity != 500 || tuning.MutatorRefinementThreshold != 2048 ||
		tuning.NumParIDs != 6 || !tuning.Counters {
		t.Fatalf("LoadTuning: got %+v", tuning)
	}

	_, hook := collectHook()
	qset := dcq.New(64).Tuning(tuning).RefineCard(hook).Build()
	if got := qset.Allocator().BufferCapacity(); got != 512 {
		t.Fatalf("BufferCapacity: got %d, want 512 (rounded)", got)
	}
	if got := qset.MutatorRefinementThreshold(); got != 2048 {
		t.Fatalf("MutatorRefinementThreshold: got %d, want 2048", got)
	}
	if got := qset.NumParIDs(); got != 6 {
		t.Fatalf("NumParIDs: got %d, want 6", got)
	}
}

func TestLoadTuningMissingFile(t *testing.T) {
	if _, err := dcq.LoadTuning(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("LoadTuning: expected error for missing file")
	}
}

// TestWorkerCounters verifies per-worker counters are materialized only
// when configured.
func TestWorkerCounters(t *testing.T) {
	seen, hook := collectHook()
	qset := dcq.New(4).Counters().RefineCard(hook).Build()

	q := qset.NewQueue()
	for i := range 9 {
		q.Enqueue(dcq.Card(i))
	}
	q.Flush()

	id := qset.ClaimParID()
	var stats dcq.RefineStats
	for qset.RefineOne(id, 0, &stats) {
	}
	qset.ReleaseParID(id)

	ws := qset.WorkerStats(id)
	if ws.RefinedCards != stats.RefinedCards || ws.RefinedCards != 9 {
		t.Fatalf("WorkerStats: got %d refined cards, want 9", ws.RefinedCards)
	}
	if len(seen) != 9 {
		t.Fatalf("delivered: got %d, want 9", len(seen))
	}

	off := dcq.New(4).RefineCard(hook).Build()
	if got := off.WorkerStats(0); got != (dcq.RefineStats{}) {
		t.Fatalf("WorkerStats without counters: got %+v, want zero", got)
	}
}

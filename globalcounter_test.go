// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq_test

import (
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/dcq"
)

// =============================================================================
// GlobalCounter
// =============================================================================

// TestWriteSynchronizeIdle verifies synchronization returns immediately
// when no reader is in a critical section.
func TestWriteSynchronizeIdle(t *testing.T) {
	gc := dcq.NewGlobalCounter(4)
	done := make(chan struct{})
	go func() {
		gc.WriteSynchronize()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("WriteSynchronize: blocked with all readers idle")
	}
}

// TestWriteSynchronizeWaitsForReader verifies a synchronizer waits for a
// critical section that was active when it started, and proceeds once
// the reader exits.
func TestWriteSynchronizeWaitsForReader(t *testing.T) {
	gc := dcq.NewGlobalCounter(2)
	gc.Enter(0)

	var passed atomix.Int32
	done := make(chan struct{})
	go func() {
		gc.WriteSynchronize()
		passed.Store(1)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if passed.Load() != 0 {
		t.Fatalf("WriteSynchronize: completed while reader active")
	}

	gc.Exit(0)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("WriteSynchronize: still blocked after reader exit")
	}
}

// TestNestedCriticalSectionPanics verifies sections on one id must not
// nest.
func TestNestedCriticalSectionPanics(t *testing.T) {
	gc := dcq.NewGlobalCounter(1)
	gc.Enter(0)
	defer func() {
		if recover() == nil {
			t.Fatalf("nested Enter: expected panic")
		}
	}()
	gc.Enter(0)
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq_test

import (
	"fmt"

	"code.hybscloud.com/dcq"
)

// ExampleNew wires a queue set to a refinement hook, records cards
// through a per-thread queue, and drains them with one worker.
func ExampleNew() {
	refined := 0
	qset := dcq.New(8).
		RefineCard(func(c dcq.Card) { refined++ }).
		Build()

	// Per mutator thread: the write barrier's slow path target.
	q := qset.NewQueue()
	for i := range 20 {
		q.Enqueue(dcq.Card(0x1000 + i))
	}
	q.Flush()

	fmt.Println("pending:", qset.NumCards())

	// Refinement worker.
	id := qset.ClaimParID()
	var stats dcq.RefineStats
	for qset.RefineOne(id, 0, &stats) {
	}
	qset.ReleaseParID(id)

	fmt.Println("refined:", refined)
	fmt.Println("buffers:", stats.RefinedBuffers)
	fmt.Println("pending:", qset.NumCards())

	// Output:
	// pending: 20
	// refined: 20
	// buffers: 3
	// pending: 0
}

// ExampleDirtyCardQueueSet_TakeAllCompletedBuffers drains the queue set
// at a safepoint, as the collection pause does.
func ExampleDirtyCardQueueSet_TakeAllCompletedBuffers() {
	qset := dcq.New(4).
		RefineCard(func(dcq.Card) {}).
		Build()

	q := qset.NewQueue()
	for i := range 10 {
		q.Enqueue(dcq.Card(i))
	}
	q.Flush()

	sp := qset.Safepoint()
	sp.Begin()
	list := qset.TakeAllCompletedBuffers()
	sp.End()

	nodes := 0
	for n := list.Head; n != nil; n = n.Next() {
		nodes++
	}
	fmt.Println("cards:", list.CardCount)
	fmt.Println("nodes:", nodes)

	// Output:
	// cards: 10
	// nodes: 3
}

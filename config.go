// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dcq

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

// defaultNumParIDs bounds concurrent refiners when not configured:
// room for a refinement thread and a mutator helper.
const defaultNumParIDs = 2

// Options configures queue set construction.
type Options struct {
	// Entries per buffer node (rounds up to next power of 2).
	bufferCapacity int

	// Cards above which mutators refine in line. Defaults to no mutator
	// refinement.
	mutatorThreshold int64

	// Bound on concurrent refiners (worker ids).
	numParIDs int

	// Materialize per-worker counters.
	counters bool

	logger *zap.Logger
	yield  YieldFunc
	refine RefineCardFunc
	sp     *SafepointCounter
}

// Builder creates a dirty card queue set with fluent configuration.
//
// Example:
//
//	qset := dcq.New(1024).
//	    MutatorRefinementThreshold(4096).
//	    NumParIDs(6).
//	    RefineCard(func(c dcq.Card) { rset.Refine(c) }).
//	    Yield(sts.ShouldYield).
//	    Build()
type Builder struct {
	opts Options
}

// New creates a builder for a queue set whose buffer nodes hold
// bufferCapacity cards each. Capacity rounds up to the next power of 2.
//
// Panics if bufferCapacity < 2.
func New(bufferCapacity int) *Builder {
	if bufferCapacity < 2 {
		panic("dcq: buffer capacity must be >= 2")
	}
	return &Builder{opts: Options{
		bufferCapacity:   roundToPow2(bufferCapacity),
		mutatorThreshold: int64(^uint64(0) >> 1),
		numParIDs:        defaultNumParIDs,
	}}
}

// MutatorRefinementThreshold sets the card count above which mutator
// threads perform a unit of refinement when handing off a full buffer.
// Without it mutators never refine.
func (b *Builder) MutatorRefinementThreshold(cards int64) *Builder {
	b.opts.mutatorThreshold = cards
	return b
}

// NumParIDs bounds the number of concurrently refining workers,
// typically refinement threads plus mutator helpers. 1 <= n <= 64.
func (b *Builder) NumParIDs(n int) *Builder {
	if n < 1 || n > maxParIDs {
		panic("dcq: par id count must be in [1, 64]")
	}
	b.opts.numParIDs = n
	return b
}

// Counters materializes per-worker refinement counters, readable via
// WorkerStats.
func (b *Builder) Counters() *Builder {
	b.opts.counters = true
	return b
}

// Logger sets the logger for cold-path events (safepoint concatenation,
// abandon). The card fast path never logs. Default is a no-op logger.
func (b *Builder) Logger(l *zap.Logger) *Builder {
	b.opts.logger = l
	return b
}

// Yield sets the suspendible-thread-set predicate polled by the
// refinement loop. Without it refinement never yields.
func (b *Builder) Yield(f YieldFunc) *Builder {
	b.opts.yield = f
	return b
}

// RefineCard sets the card refinement hook. Required.
func (b *Builder) RefineCard(f RefineCardFunc) *Builder {
	b.opts.refine = f
	return b
}

// Safepoint ties the queue set to an existing safepoint counter, usually
// the collector driver's. Without it the queue set owns a private one.
func (b *Builder) Safepoint(sp *SafepointCounter) *Builder {
	b.opts.sp = sp
	return b
}

// Tuning applies values loaded from a tuning file.
func (b *Builder) Tuning(t *Tuning) *Builder {
	if t.BufferCapacity != 0 {
		if t.BufferCapacity < 2 {
			panic("dcq: buffer capacity must be >= 2")
		}
		b.opts.bufferCapacity = roundToPow2(t.BufferCapacity)
	}
	if t.MutatorRefinementThreshold != 0 {
		b.opts.mutatorThreshold = t.MutatorRefinementThreshold
	}
	if t.NumParIDs != 0 {
		b.NumParIDs(t.NumParIDs)
	}
	if t.Counters {
		b.opts.counters = true
	}
	return b
}

// Build creates the queue set. Panics if no card refinement hook was
// configured.
func (b *Builder) Build() *DirtyCardQueueSet {
	if b.opts.refine == nil {
		panic("dcq: card refinement hook is required")
	}
	o := b.opts
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.yield == nil {
		o.yield = func() bool { return false }
	}
	if o.sp == nil {
		o.sp = new(SafepointCounter)
	}
	return newQueueSet(&o)
}

// Tuning is the subset of configuration that operators adjust, loadable
// from a TOML file. Zero values leave the builder's setting untouched.
type Tuning struct {
	BufferCapacity             int   `toml:"buffer_capacity"`
	MutatorRefinementThreshold int64 `toml:"mutator_refinement_threshold"`
	NumParIDs                  int   `toml:"num_par_ids"`
	Counters                   bool  `toml:"counters"`
}

// LoadTuning reads a TOML tuning file.
func LoadTuning(path string) (*Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}
	var t Tuning
	if err := toml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse tuning file: %w", err)
	}
	return &t, nil
}

// roundToPow2 rounds n up to the next power of 2.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// Package engine implements the six interchangeable pipeline engine
// topologies. Every engine shares one contract: given a frame ring, a
// stage dispatcher and a frame budget, run frames through NumStages stages
// until the budget is exhausted, respecting the invariant that every
// admitted stage gets exactly one release, enforced upstream by the
// dispatcher, never re-implemented here.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cricamfe/vivid/internal/admission"
	"github.com/cricamfe/vivid/internal/dispatch"
	"github.com/cricamfe/vivid/internal/frame"
	"github.com/juju/clock"
)

// RunArgs bundles everything an engine needs to process frames. It is
// deliberately free of any dependency on package config, so engine stays
// reusable from tests without pulling in CLI parsing.
type RunArgs struct {
	NumStages  int
	Tokens     int // --iff: bounds in-flight frames / worker pool size
	Ring       *frame.Ring
	Dispatcher *dispatch.Dispatcher
	AppData    interface{}
	Budget     *Budget
}

// Engine is the shared contract every pipeline topology implements.
type Engine interface {
	Run(ctx context.Context, args RunArgs) error
}

// Budget tracks when a run should stop: either a fixed frame count, or a
// wall-clock duration after which the first still-running engine to
// notice freezes the target at however many frames have completed so far.
type Budget struct {
	target    int64 // 0 means "not yet fixed"
	processed int64
	fixed     int32 // atomic bool: target has been frozen
}

// NewFrameBudget returns a budget that stops after exactly n frames.
func NewFrameBudget(n int) *Budget {
	b := &Budget{target: int64(n)}
	atomic.StoreInt32(&b.fixed, 1)
	return b
}

// NewDurationBudget returns a budget that keeps accepting frames until d
// has elapsed on clk, at which point it freezes the target at whatever
// Processed() reports at that moment.
func NewDurationBudget(clk clock.Clock, d time.Duration) *Budget {
	b := &Budget{}
	go func() {
		<-clk.After(d)
		atomic.StoreInt64(&b.target, atomic.LoadInt64(&b.processed))
		atomic.StoreInt32(&b.fixed, 1)
	}()
	return b
}

// Reached reports whether the budget has been exhausted.
func (b *Budget) Reached() bool {
	if atomic.LoadInt32(&b.fixed) == 0 {
		return false
	}
	return atomic.LoadInt64(&b.processed) >= atomic.LoadInt64(&b.target)
}

// MarkDone records one more completed frame. Callers check Reached to
// decide whether to keep submitting new ones.
func (b *Budget) MarkDone() {
	atomic.AddInt64(&b.processed, 1)
}

// Processed returns the number of frames completed so far.
func (b *Budget) Processed() int64 {
	return atomic.LoadInt64(&b.processed)
}

// callerFor derives a last-used-device bias key from the frame itself, so
// the resources manager's rebalance tracks per-frame history rather than
// per-worker-goroutine history, stable regardless of which engine
// topology (and therefore which goroutine) happens to process a frame.
func callerFor(fr *frame.Frame) admission.CallerID {
	return admission.CallerID(fr.ID)
}

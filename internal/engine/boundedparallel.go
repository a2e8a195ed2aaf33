package engine

import (
	"context"
	"sync/atomic"

	"github.com/cricamfe/vivid/internal/engine/pipechan"
	"github.com/cricamfe/vivid/internal/frame"
)

// ringSource pulls frames from the ring until the budget is reached or ctx
// expires; it is shared by bounded-parallel and scalable since both are
// plain channel pipelines differing only in per-stage worker pool shape.
type ringSource struct {
	ring    *frame.Ring
	budget  *Budget
	cur     *frame.Frame
	started int64
}

func (s *ringSource) Next(ctx context.Context) bool {
	if s.budget.Reached() || ctx.Err() != nil {
		return false
	}
	// Frames already pulled but not yet recycled count against a fixed
	// target too, so the source never pulls more frames than the budget.
	if atomic.LoadInt32(&s.budget.fixed) == 1 && s.started >= atomic.LoadInt64(&s.budget.target) {
		return false
	}
	s.started++
	s.cur = s.ring.Get()
	return true
}

func (s *ringSource) Frame() *frame.Frame { return s.cur }
func (s *ringSource) Error() error        { return nil }

// ringSink recycles a completed frame and marks the budget done.
type ringSink struct {
	ring   *frame.Ring
	budget *Budget
}

func (s *ringSink) Consume(ctx context.Context, fr *frame.Frame) error {
	s.ring.Recycle(fr)
	s.budget.MarkDone()
	return nil
}

func stageProcessor(args RunArgs, stageIndex int) pipechan.Processor {
	return pipechan.ProcessorFunc(func(ctx context.Context, fr *frame.Frame) (*frame.Frame, error) {
		if _, err := args.Dispatcher.Run(ctx, stageIndex, fr, args.AppData, callerFor(fr)); err != nil {
			return nil, err
		}
		return fr, nil
	})
}

// BoundedParallel is a classic in-order source filter + N parallel stage
// filters + an out-of-order sink filter, built on FixedWorkerPool: each
// stage gets its own fixed-size worker pool sized to Tokens. Tokens does
// not cap the frames in flight; the ring's capacity does, so the cap
// equals Tokens only when the ring holds exactly Tokens frames.
type BoundedParallel struct{}

// Run implements Engine.
func (BoundedParallel) Run(ctx context.Context, args RunArgs) error {
	stages := make([]pipechan.StageRunner, args.NumStages)
	for i := 0; i < args.NumStages; i++ {
		stages[i] = pipechan.FixedWorkerPool(stageProcessor(args, i), args.Tokens)
	}
	p := pipechan.New(stages...)
	return p.Process(ctx, &ringSource{ring: args.Ring, budget: args.Budget}, &ringSink{ring: args.Ring, budget: args.Budget})
}

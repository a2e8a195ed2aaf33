// Package graph implements a bulk-synchronous superstep executor: a
// pre/post-step callback loop driving repeated "supersteps" over a wave of
// work, here a wave of frames moving through a split/join stage list. Each
// superstep processes one wave of up to Tokens frames through every stage,
// joining CPU and GPU paths back together at the end of the wave.
package graph

import "context"

// Callbacks is the superstep executor's callback set: PreStep prepares a
// wave, Step runs it and reports how many frames were active, PostStep
// observes the result, and KeepRunning decides whether to loop again.
type Callbacks struct {
	PreStep     func(ctx context.Context) error
	Step        func(ctx context.Context) (activeInStep int, err error)
	PostStep    func(ctx context.Context, activeInStep int) error
	KeepRunning func(ctx context.Context, activeInStep int) (bool, error)
}

func patchEmptyCallbacks(cb *Callbacks) {
	if cb.PreStep == nil {
		cb.PreStep = func(context.Context) error { return nil }
	}
	if cb.PostStep == nil {
		cb.PostStep = func(context.Context, int) error { return nil }
	}
	if cb.KeepRunning == nil {
		cb.KeepRunning = func(context.Context, int) (bool, error) { return true, nil }
	}
}

// Executor runs supersteps until an error occurs, the context expires, or
// KeepRunning says to stop.
type Executor struct {
	cb       Callbacks
	superstep int
}

// NewExecutor returns an executor driven by cb.
func NewExecutor(cb Callbacks) *Executor {
	patchEmptyCallbacks(&cb)
	return &Executor{cb: cb}
}

// Superstep returns the number of the superstep about to run (or just
// completed, once RunToCompletion has returned).
func (ex *Executor) Superstep() int { return ex.superstep }

// RunToCompletion drives supersteps until the run is done.
func (ex *Executor) RunToCompletion(ctx context.Context) error {
	cb := ex.cb
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cb.PreStep(ctx); err != nil {
			return err
		}
		active, err := cb.Step(ctx)
		if err != nil {
			return err
		}
		if err := cb.PostStep(ctx, active); err != nil {
			return err
		}
		keepRunning, err := cb.KeepRunning(ctx, active)
		if err != nil {
			return err
		}
		ex.superstep++
		if !keepRunning {
			return nil
		}
	}
}

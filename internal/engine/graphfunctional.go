package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cricamfe/vivid/internal/engine/graph"
	"github.com/cricamfe/vivid/internal/frame"
)

// GraphFunctional is the split/join graph engine's functional-GPU variant:
// each superstep pulls a wave of up to Tokens frames, drives every frame's
// full stage list (each stage splitting CPU/GPU via the dispatcher's path
// selection), and waits on any GPU completion handle synchronously before
// advancing to the next stage: stages execute in the calling goroutine.
type GraphFunctional struct{}

// Run implements Engine.
func (GraphFunctional) Run(ctx context.Context, args RunArgs) error {
	ex := graph.NewExecutor(graph.Callbacks{
		Step: func(ctx context.Context) (int, error) {
			return runWave(ctx, args)
		},
		KeepRunning: func(ctx context.Context, active int) (bool, error) {
			return !args.Budget.Reached() && ctx.Err() == nil, nil
		},
	})
	return ex.RunToCompletion(ctx)
}

// runWave drives one superstep's worth of frames through every stage,
// waiting on each stage's completion handle (if any) before the next
// stage starts, and recycles every frame once its stage list is done.
func runWave(ctx context.Context, args RunArgs) (int, error) {
	wave := make([]*frame.Frame, 0, args.Tokens)
	for i := 0; i < args.Tokens; i++ {
		// Earlier waves are fully retired, so processed frames plus this
		// wave are every frame started; stop before passing a fixed target.
		if args.Budget.Reached() || (atomic.LoadInt32(&args.Budget.fixed) == 1 &&
			args.Budget.Processed()+int64(len(wave)) >= atomic.LoadInt64(&args.Budget.target)) {
			break
		}
		wave = append(wave, args.Ring.Get())
	}
	if len(wave) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(wave))
	for _, fr := range wave {
		wg.Add(1)
		go func(fr *frame.Frame) {
			defer wg.Done()
			for stage := 0; stage < args.NumStages; stage++ {
				handle, err := args.Dispatcher.Run(ctx, stage, fr, args.AppData, callerFor(fr))
				if err != nil {
					errCh <- err
					return
				}
				if handle != nil {
					if err := handle.Wait(ctx); err != nil {
						errCh <- err
						return
					}
				}
			}
			args.Ring.Recycle(fr)
			args.Budget.MarkDone()
		}(fr)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return len(wave), err
		}
	}
	return len(wave), nil
}

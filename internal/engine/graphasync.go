package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cricamfe/vivid/internal/engine/graph"
	"github.com/cricamfe/vivid/internal/frame"
)

// GraphAsync is the split/join graph engine's async-GPU variant: identical
// topology to GraphFunctional, except a GPU stage's
// completion handle is never waited on by the frame's own goroutine.
// Instead every stage dispatch declares its dependency on the frame's
// prior handles (via device.Context.Deps, populated from fr.Handles) and
// the frame's goroutine moves straight on to the next stage; only the
// final handle, if any, is handed to a dedicated gpuArena, which
// recycles the frame and marks the budget done once the device-side work
// actually completes. This is what keeps a GPU kernel's runtime off a
// worker goroutine.
type GraphAsync struct {
	Arena *gpuArena
}

// NewGraphAsync returns a GraphAsync engine with its own completion arena
// sized to workers goroutines.
func NewGraphAsync(workers int) *GraphAsync {
	return &GraphAsync{Arena: newGPUArena(workers)}
}

// Run implements Engine.
func (g *GraphAsync) Run(ctx context.Context, args RunArgs) error {
	ex := graph.NewExecutor(graph.Callbacks{
		Step: func(ctx context.Context) (int, error) {
			return g.runWave(ctx, args)
		},
		KeepRunning: func(ctx context.Context, active int) (bool, error) {
			return !args.Budget.Reached() && ctx.Err() == nil, nil
		},
	})
	return ex.RunToCompletion(ctx)
}

// runWave dispatches one superstep's worth of frames. wg is only marked
// done once a frame is fully retired, either inline (no GPU handle
// pending) or from inside the arena's completion callback, so
// RunToCompletion's caller genuinely waits for device-side work to finish
// before starting the next superstep.
func (g *GraphAsync) runWave(ctx context.Context, args RunArgs) (int, error) {
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
	wg.Add(len(wave))

	for _, fr := range wave {
		go func(fr *frame.Frame) {
			for stage := 0; stage < args.NumStages; stage++ {
				// Dependency on a prior handle is carried forward via
				// fr.Handles into the next stage's devCtx.Deps; this
				// goroutine never blocks on a handle itself.
				if _, err := args.Dispatcher.Run(ctx, stage, fr, args.AppData, callerFor(fr)); err != nil {
					errCh <- err
					wg.Done()
					return
				}
			}

			if n := len(fr.Handles); n > 0 {
				last := fr.Handles[n-1]
				g.Arena.submit(ctx, last, func(err error) {
					defer wg.Done()
					if err != nil {
						errCh <- err
						return
					}
					args.Ring.Recycle(fr)
					args.Budget.MarkDone()
				})
				return
			}

			args.Ring.Recycle(fr)
			args.Budget.MarkDone()
			wg.Done()
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

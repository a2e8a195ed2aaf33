package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cricamfe/vivid/internal/frame"
)

// EventChain is the event-chained engine: no worker graph at all, just up
// to Tokens concurrent pipelines, one per frame, run
// cooperatively under a global in-flight semaphore. Every stage dispatch
// returns a completion handle that the next stage's dispatch depends on
// (via fr.Handles / device.Context.Deps), so a frame's goroutine submits
// every stage's GPU work without ever blocking on a device wait itself;
// only the very last stage's handle (if any) is waited on, right before
// the frame is recycled.
type EventChain struct{}

// Run implements Engine.
func (EventChain) Run(ctx context.Context, args RunArgs) error {
	sem := make(chan struct{}, args.Tokens)
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error
	var started int64

loop:
	for !args.Budget.Reached() {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break loop
		}
		// Frames still in flight count against a fixed target too.
		if args.Budget.Reached() || (atomic.LoadInt32(&args.Budget.fixed) == 1 &&
			started >= atomic.LoadInt64(&args.Budget.target)) {
			<-sem
			break
		}
		started++

		fr := args.Ring.Get()
		wg.Add(1)
		go func(fr *frame.Frame) {
			defer wg.Done()
			defer func() { <-sem }()

			for stage := 0; stage < args.NumStages; stage++ {
				// Dependency on the prior stage's handle (if any) flows
				// through fr.Handles into this stage's devCtx.Deps; the
				// goroutine never blocks between stages.
				if _, err := args.Dispatcher.Run(ctx, stage, fr, args.AppData, callerFor(fr)); err != nil {
					once.Do(func() { firstErr = err })
					return
				}
			}

			if n := len(fr.Handles); n > 0 {
				if err := fr.Handles[n-1].Wait(ctx); err != nil {
					once.Do(func() { firstErr = err })
					return
				}
			}

			args.Ring.Recycle(fr)
			args.Budget.MarkDone()
		}(fr)
	}

	wg.Wait()
	return firstErr
}

package engine

import (
	"context"

	"github.com/cricamfe/vivid/internal/device"
)

// gpuArena is a small dedicated pool of goroutines backing the async-GPU
// split/join engine: it waits on completion handles so the goroutine that
// submitted the GPU work never has to block on it itself.
type gpuArena struct {
	jobs chan gpuJob
}

type gpuJob struct {
	ctx    context.Context
	handle device.CompletionHandle
	done   func(error)
}

// newGPUArena starts workers goroutines draining the arena's job queue.
func newGPUArena(workers int) *gpuArena {
	if workers <= 0 {
		workers = 1
	}
	a := &gpuArena{jobs: make(chan gpuJob, workers*4)}
	for i := 0; i < workers; i++ {
		go a.loop()
	}
	return a
}

func (a *gpuArena) loop() {
	for job := range a.jobs {
		job.done(job.handle.Wait(job.ctx))
	}
}

// submit enqueues handle for the arena to wait on; done is invoked from an
// arena goroutine once the wait completes (or ctx expires first).
func (a *gpuArena) submit(ctx context.Context, handle device.CompletionHandle, done func(error)) {
	select {
	case a.jobs <- gpuJob{ctx: ctx, handle: handle, done: done}:
	case <-ctx.Done():
		done(ctx.Err())
	}
}

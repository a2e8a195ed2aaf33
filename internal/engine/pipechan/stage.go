package pipechan

import (
	"context"
	"sync"

	"github.com/cricamfe/vivid/internal/frame"
	"golang.org/x/xerrors"
)

type fifo struct {
	proc Processor
}

// FIFO returns a StageRunner that processes incoming frames one at a time,
// in arrival order.
func FIFO(proc Processor) StageRunner {
	return fifo{proc: proc}
}

// Run implements StageRunner.
func (r fifo) Run(ctx context.Context, params StageParams) {
	for {
		select {
		case <-ctx.Done():
			return
		case fr, ok := <-params.Input():
			if !ok {
				return
			}
			out, err := r.proc.Process(ctx, fr)
			if err != nil {
				maybeEmitError(xerrors.Errorf("pipeline stage %d: %w", params.StageIndex(), err), params.Error())
				return
			}
			if out == nil {
				continue
			}
			select {
			case params.Output() <- out:
			case <-ctx.Done():
				return
			}
		}
	}
}

type fixedWorkerPool struct {
	fifos []StageRunner
}

// FixedWorkerPool returns a StageRunner backed by numWorkers FIFO workers
// running concurrently against the same input/output channels. This is
// the bounded-parallel engine's per-stage worker count.
func FixedWorkerPool(proc Processor, numWorkers int) StageRunner {
	if numWorkers <= 0 {
		panic("FixedWorkerPool: numWorkers must be > 0")
	}
	fifos := make([]StageRunner, numWorkers)
	for i := range fifos {
		fifos[i] = FIFO(proc)
	}
	return &fixedWorkerPool{fifos: fifos}
}

// Run implements StageRunner.
func (p *fixedWorkerPool) Run(ctx context.Context, params StageParams) {
	var wg sync.WaitGroup
	for i := range p.fifos {
		wg.Add(1)
		go func(idx int) {
			p.fifos[idx].Run(ctx, params)
			wg.Done()
		}(i)
	}
	wg.Wait()
}

type dynamicWorkerPool struct {
	proc      Processor
	tokenPool chan struct{}
}

// DynamicWorkerPool returns a StageRunner that spins up to maxWorkers
// goroutines on demand. This is the scalable engine's per-stage scheduler,
// which lets the auto-tuner's reconfiguration change effective parallelism
// without restarting the engine (the pool itself stays at maxWorkers
// capacity; concurrency tracks arrival rate, not a fixed worker count).
func DynamicWorkerPool(proc Processor, maxWorkers int) StageRunner {
	if maxWorkers <= 0 {
		panic("DynamicWorkerPool: maxWorkers must be > 0")
	}
	tokenPool := make(chan struct{}, maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		tokenPool <- struct{}{}
	}
	return &dynamicWorkerPool{proc: proc, tokenPool: tokenPool}
}

// Run implements StageRunner.
func (p *dynamicWorkerPool) Run(ctx context.Context, params StageParams) {
stop:
	for {
		select {
		case <-ctx.Done():
			break stop
		case fr, ok := <-params.Input():
			if !ok {
				break stop
			}
			var token struct{}
			select {
			case token = <-p.tokenPool:
			case <-ctx.Done():
				break stop
			}
			go func(fr *frame.Frame, token struct{}) {
				defer func() { p.tokenPool <- token }()
				out, err := p.proc.Process(ctx, fr)
				if err != nil {
					maybeEmitError(xerrors.Errorf("pipeline stage %d: %w", params.StageIndex(), err), params.Error())
					return
				}
				if out == nil {
					return
				}
				select {
				case params.Output() <- out:
				case <-ctx.Done():
				}
			}(fr, token)
		}
	}
	for i := 0; i < cap(p.tokenPool); i++ {
		<-p.tokenPool
	}
}

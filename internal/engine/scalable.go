package engine

import (
	"context"

	"github.com/cricamfe/vivid/internal/engine/pipechan"
)

// Scalable is analogous to BoundedParallel but backed by a different
// per-stage scheduler: DynamicWorkerPool instead of FixedWorkerPool, so a
// stage's effective concurrency can track the
// auto-tuner's reconfiguration of CoresCPU/CoresGPU without restarting the
// engine. The worker pool's capacity is the ceiling, not the steady
// concurrency.
type Scalable struct{}

// Run implements Engine.
func (Scalable) Run(ctx context.Context, args RunArgs) error {
	stages := make([]pipechan.StageRunner, args.NumStages)
	for i := 0; i < args.NumStages; i++ {
		stages[i] = pipechan.DynamicWorkerPool(stageProcessor(args, i), args.Tokens)
	}
	p := pipechan.New(stages...)
	return p.Process(ctx, &ringSource{ring: args.Ring, budget: args.Budget}, &ringSink{ring: args.Ring, budget: args.Budget})
}

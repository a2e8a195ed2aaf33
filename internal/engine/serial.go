package engine

import (
	"context"
	"time"

	"github.com/cricamfe/vivid/internal/device"
	"github.com/cricamfe/vivid/internal/metrics"
)

// Serial is the baseline engine: a single goroutine runs every stage of
// every frame in order, on a fixed device, with no admission calls at all,
// since there is only ever one frame in flight. Metrics is still recorded,
// since the timing aggregator is an ambient concern, not a feature
// tied to admission.
type Serial struct {
	Registry *device.Registry
	Device   device.Kind
	Metrics  *metrics.Aggregator
}

// Run implements Engine.
func (s Serial) Run(ctx context.Context, args RunArgs) error {
	for !args.Budget.Reached() {
		if err := ctx.Err(); err != nil {
			return err
		}

		fr := args.Ring.Get()
		for stage := 0; stage < args.NumStages; stage++ {
			fn, ok := s.Registry.Lookup(stage, s.Device)
			if !ok {
				args.Ring.Recycle(fr)
				return unregisteredStageError{stage: stage, kind: s.Device}
			}

			start := time.Now()
			handle, err := fn(ctx, device.Context{Device: s.Device}, fr, args.AppData)
			if err != nil {
				args.Ring.Recycle(fr)
				return err
			}
			if handle != nil {
				if werr := handle.Wait(ctx); werr != nil {
					args.Ring.Recycle(fr)
					return werr
				}
			}
			elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)
			if s.Device == device.GPU {
				fr.GPUms[stage] += elapsedMs
			} else {
				fr.CPUms[stage] += elapsedMs
			}
			fr.Acc[stage] = s.Device
			if s.Metrics != nil {
				s.Metrics.Record(stage, s.Device, elapsedMs)
			}
		}

		args.Ring.Recycle(fr)
		args.Budget.MarkDone()
	}
	return nil
}

type unregisteredStageError struct {
	stage int
	kind  device.Kind
}

func (e unregisteredStageError) Error() string {
	return "serial engine: no stage function registered for stage/device combination"
}

package engine_test

import (
	"context"

	"github.com/cricamfe/vivid/internal/admission"
	"github.com/cricamfe/vivid/internal/device"
	"github.com/cricamfe/vivid/internal/dispatch"
	"github.com/cricamfe/vivid/internal/engine"
	"github.com/cricamfe/vivid/internal/frame"
	"github.com/cricamfe/vivid/internal/metrics"
	"github.com/cricamfe/vivid/internal/selector"
	"github.com/opentracing/opentracing-go"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(GraphFunctionalTestSuite))

type GraphFunctionalTestSuite struct{}

func (s *GraphFunctionalTestSuite) TestRunProcessesExactlyBudgetedFramesInWaves(c *gc.C) {
	mgr := admission.NewManager()
	cpu := admission.NewDevice(device.CPU, 4)
	cpu.AddStage(0, 4, 8)
	mgr.AddDevice(cpu)
	gpu := admission.NewDevice(device.GPU, 4)
	gpu.AddStage(0, 4, 8)
	mgr.AddDevice(gpu)

	reg := device.NewRegistry()
	reg.Register(0, device.CPU, func(ctx context.Context, devCtx device.Context, fr, appData interface{}) (device.CompletionHandle, error) {
		return nil, nil
	})

	agg := metrics.NewAggregator(1)
	policy := []admission.StagePolicy{admission.CPUOnly}
	pref := []device.Kind{device.CPU}
	sel := selector.New(mgr, selector.Coupled, admission.Default, policy, pref)
	dp := dispatch.New(reg, sel, agg, opentracing.NoopTracer{})

	ring := frame.New(3, frame.Shape{Width: 1, Height: 1, Channels: 1, HistogramBins: 1, ClassifierRows: 1, NumStages: 1})
	budget := engine.NewFrameBudget(7)
	args := engine.RunArgs{NumStages: 1, Tokens: 3, Ring: ring, Dispatcher: dp, Budget: budget}

	err := engine.GraphFunctional{}.Run(context.Background(), args)
	c.Assert(err, gc.IsNil)
	c.Assert(budget.Processed(), gc.Equals, int64(7))
	c.Assert(agg.FramesProcessed(0, device.CPU), gc.Equals, int64(7))
}

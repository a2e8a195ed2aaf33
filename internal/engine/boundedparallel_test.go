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

var _ = gc.Suite(new(ChannelEngineTestSuite))

// ChannelEngineTestSuite exercises both BoundedParallel and Scalable, since
// they differ only in per-stage worker-pool shape and share every other
// collaborator.
type ChannelEngineTestSuite struct {
	mgr *admission.Manager
	reg *device.Registry
	agg *metrics.Aggregator
}

func (s *ChannelEngineTestSuite) SetUpTest(c *gc.C) {
	s.mgr = admission.NewManager()
	cpu := admission.NewDevice(device.CPU, 4)
	for i := 0; i < 2; i++ {
		cpu.AddStage(i, 4, 8)
	}
	s.mgr.AddDevice(cpu)
	gpu := admission.NewDevice(device.GPU, 4)
	for i := 0; i < 2; i++ {
		gpu.AddStage(i, 4, 8)
	}
	s.mgr.AddDevice(gpu)

	s.reg = device.NewRegistry()
	s.reg.Register(0, device.CPU, func(ctx context.Context, devCtx device.Context, fr, appData interface{}) (device.CompletionHandle, error) {
		return nil, nil
	})
	s.reg.Register(1, device.CPU, func(ctx context.Context, devCtx device.Context, fr, appData interface{}) (device.CompletionHandle, error) {
		return nil, nil
	})
	s.agg = metrics.NewAggregator(2)
}

func (s *ChannelEngineTestSuite) newDispatcher() *dispatch.Dispatcher {
	policy := []admission.StagePolicy{admission.CPUOnly, admission.CPUOnly}
	pref := []device.Kind{device.CPU, device.CPU}
	sel := selector.New(s.mgr, selector.Coupled, admission.Default, policy, pref)
	return dispatch.New(s.reg, sel, s.agg, opentracing.NoopTracer{})
}

func (s *ChannelEngineTestSuite) TestBoundedParallelProcessesExactlyBudgetedFrames(c *gc.C) {
	ring := frame.New(4, testShape())
	args := engine.RunArgs{
		NumStages:  2,
		Tokens:     2,
		Ring:       ring,
		Dispatcher: s.newDispatcher(),
		Budget:     engine.NewFrameBudget(6),
	}
	err := engine.BoundedParallel{}.Run(context.Background(), args)
	c.Assert(err, gc.IsNil)
	c.Assert(args.Budget.Processed(), gc.Equals, int64(6))
	c.Assert(s.agg.FramesProcessed(0, device.CPU), gc.Equals, int64(6))
	c.Assert(s.agg.FramesProcessed(1, device.CPU), gc.Equals, int64(6))
}

func (s *ChannelEngineTestSuite) TestScalableProcessesExactlyBudgetedFrames(c *gc.C) {
	ring := frame.New(4, testShape())
	args := engine.RunArgs{
		NumStages:  2,
		Tokens:     3,
		Ring:       ring,
		Dispatcher: s.newDispatcher(),
		Budget:     engine.NewFrameBudget(9),
	}
	err := engine.Scalable{}.Run(context.Background(), args)
	c.Assert(err, gc.IsNil)
	c.Assert(args.Budget.Processed(), gc.Equals, int64(9))
}

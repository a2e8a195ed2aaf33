package engine_test

import (
	"context"
	"time"

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

var _ = gc.Suite(new(EventChainTestSuite))

type EventChainTestSuite struct{}

func (s *EventChainTestSuite) newDispatcher(agg *metrics.Aggregator, reg *device.Registry) (*admission.Manager, *dispatch.Dispatcher) {
	mgr := admission.NewManager()
	cpu := admission.NewDevice(device.CPU, 4)
	cpu.AddStage(0, 4, 8)
	mgr.AddDevice(cpu)
	gpu := admission.NewDevice(device.GPU, 4)
	gpu.AddStage(0, 4, 8)
	mgr.AddDevice(gpu)

	policy := []admission.StagePolicy{admission.CPUOnly}
	pref := []device.Kind{device.CPU}
	sel := selector.New(mgr, selector.Coupled, admission.Default, policy, pref)
	return mgr, dispatch.New(reg, sel, agg, opentracing.NoopTracer{})
}

func (s *EventChainTestSuite) TestRunProcessesExactlyBudgetedFrames(c *gc.C) {
	reg := device.NewRegistry()
	reg.Register(0, device.CPU, func(ctx context.Context, devCtx device.Context, fr, appData interface{}) (device.CompletionHandle, error) {
		return nil, nil
	})
	agg := metrics.NewAggregator(1)
	_, dp := s.newDispatcher(agg, reg)

	ring := frame.New(3, frame.Shape{Width: 1, Height: 1, Channels: 1, HistogramBins: 1, ClassifierRows: 1, NumStages: 1})
	budget := engine.NewFrameBudget(5)
	args := engine.RunArgs{NumStages: 1, Tokens: 2, Ring: ring, Dispatcher: dp, Budget: budget}

	err := engine.EventChain{}.Run(context.Background(), args)
	c.Assert(err, gc.IsNil)
	c.Assert(budget.Processed(), gc.Equals, int64(5))
}

func (s *EventChainTestSuite) TestRunWaitsOnFinalGPUHandleBeforeRecycle(c *gc.C) {
	reg := device.NewRegistry()
	completed := make(chan struct{})
	reg.Register(0, device.CPU, func(ctx context.Context, devCtx device.Context, fr, appData interface{}) (device.CompletionHandle, error) {
		h := &delayedHandle{done: completed}
		go func() { time.Sleep(10 * time.Millisecond); close(completed) }()
		return h, nil
	})
	agg := metrics.NewAggregator(1)
	_, dp := s.newDispatcher(agg, reg)

	ring := frame.New(1, frame.Shape{Width: 1, Height: 1, Channels: 1, HistogramBins: 1, ClassifierRows: 1, NumStages: 1})
	budget := engine.NewFrameBudget(1)
	args := engine.RunArgs{NumStages: 1, Tokens: 1, Ring: ring, Dispatcher: dp, Budget: budget}

	err := engine.EventChain{}.Run(context.Background(), args)
	c.Assert(err, gc.IsNil)
	c.Assert(budget.Processed(), gc.Equals, int64(1))
}

type delayedHandle struct{ done chan struct{} }

func (h *delayedHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
func (h *delayedHandle) DependsOn(deps ...device.CompletionHandle) {}
func (h *delayedHandle) Profiling() (time.Time, time.Time, bool)   { return time.Time{}, time.Time{}, false }

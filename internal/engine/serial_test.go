package engine_test

import (
	"context"
	"errors"

	"github.com/cricamfe/vivid/internal/device"
	"github.com/cricamfe/vivid/internal/engine"
	"github.com/cricamfe/vivid/internal/frame"
	"github.com/cricamfe/vivid/internal/metrics"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(SerialTestSuite))

type SerialTestSuite struct{}

func testShape() frame.Shape {
	return frame.Shape{Width: 2, Height: 2, Channels: 1, HistogramBins: 2, ClassifierRows: 2, NumStages: 2}
}

func (s *SerialTestSuite) TestRunProcessesExactlyBudgetedFrames(c *gc.C) {
	reg := device.NewRegistry()
	calls := 0
	reg.Register(0, device.CPU, func(ctx context.Context, devCtx device.Context, fr, appData interface{}) (device.CompletionHandle, error) {
		calls++
		return nil, nil
	})
	reg.Register(1, device.CPU, func(ctx context.Context, devCtx device.Context, fr, appData interface{}) (device.CompletionHandle, error) {
		calls++
		return nil, nil
	})

	agg := metrics.NewAggregator(2)
	eng := engine.Serial{Registry: reg, Device: device.CPU, Metrics: agg}
	ring := frame.New(1, testShape())

	err := eng.Run(context.Background(), engine.RunArgs{
		NumStages: 2,
		Ring:      ring,
		Budget:    engine.NewFrameBudget(3),
	})
	c.Assert(err, gc.IsNil)
	c.Assert(calls, gc.Equals, 6) // 3 frames * 2 stages
	c.Assert(agg.FramesProcessed(0, device.CPU), gc.Equals, int64(3))
}

func (s *SerialTestSuite) TestRunPropagatesKernelError(c *gc.C) {
	reg := device.NewRegistry()
	wantErr := errors.New("kernel exploded")
	reg.Register(0, device.CPU, func(ctx context.Context, devCtx device.Context, fr, appData interface{}) (device.CompletionHandle, error) {
		return nil, wantErr
	})

	eng := engine.Serial{Registry: reg, Device: device.CPU}
	ring := frame.New(1, testShape())

	err := eng.Run(context.Background(), engine.RunArgs{
		NumStages: 1,
		Ring:      ring,
		Budget:    engine.NewFrameBudget(1),
	})
	c.Assert(err, gc.Equals, wantErr)
}

func (s *SerialTestSuite) TestRunStopsOnUnregisteredStage(c *gc.C) {
	reg := device.NewRegistry()
	eng := engine.Serial{Registry: reg, Device: device.CPU}
	ring := frame.New(1, testShape())

	err := eng.Run(context.Background(), engine.RunArgs{
		NumStages: 1,
		Ring:      ring,
		Budget:    engine.NewFrameBudget(1),
	})
	c.Assert(err, gc.NotNil)
}

func (s *SerialTestSuite) TestRunRespectsContextCancellation(c *gc.C) {
	reg := device.NewRegistry()
	reg.Register(0, device.CPU, func(ctx context.Context, devCtx device.Context, fr, appData interface{}) (device.CompletionHandle, error) {
		return nil, nil
	})
	eng := engine.Serial{Registry: reg, Device: device.CPU}
	ring := frame.New(1, testShape())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := eng.Run(ctx, engine.RunArgs{
		NumStages: 1,
		Ring:      ring,
		Budget:    engine.NewFrameBudget(100),
	})
	c.Assert(err, gc.Equals, context.Canceled)
}

package tuner_test

import (
	"context"
	"time"

	"github.com/cricamfe/vivid/internal/admission"
	"github.com/cricamfe/vivid/internal/device"
	"github.com/cricamfe/vivid/internal/metrics"
	"github.com/cricamfe/vivid/internal/selector"
	"github.com/cricamfe/vivid/internal/tuner"
	"github.com/juju/clock/testclock"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(TunerTestSuite))

type TunerTestSuite struct {
	agg *metrics.Aggregator
	mgr *admission.Manager
	sel *selector.Selector
	clk *testclock.Clock
	t   *tuner.Tuner
}

func (s *TunerTestSuite) SetUpTest(c *gc.C) {
	s.agg = metrics.NewAggregator(2)

	s.mgr = admission.NewManager()
	cpu := admission.NewDevice(device.CPU, 2)
	cpu.AddStage(0, 2, 4)
	cpu.AddStage(1, 2, 4)
	s.mgr.AddDevice(cpu)
	gpu := admission.NewDevice(device.GPU, 2)
	gpu.AddStage(0, 2, 4)
	gpu.AddStage(1, 2, 4)
	s.mgr.AddDevice(gpu)

	policy := []admission.StagePolicy{admission.CPUOrGPU, admission.CPUOrGPU}
	pref := []device.Kind{device.CPU, device.CPU}
	s.sel = selector.New(s.mgr, selector.Coupled, admission.Default, policy, pref)

	s.clk = testclock.NewClock(time.Now())
	cfg := tuner.Config{NumStages: 2, CoresCPU: []int{2, 2}, CoresGPU: []int{2, 2}}
	s.t = tuner.New(s.agg, s.mgr, s.sel, s.clk, cfg)
}

func (s *TunerTestSuite) recordLopsidedStages(c *gc.C) {
	// Stage 0 is fast on both devices; stage 1 is much slower, with GPU the
	// weaker of the two there, so it becomes the bottleneck.
	s.agg.Record(0, device.CPU, 10)
	s.agg.Record(0, device.GPU, 10)
	s.agg.Record(1, device.CPU, 1000)
	s.agg.Record(1, device.GPU, 2000)
}

func (s *TunerTestSuite) TestReadyToSampleRequiresBothDevicesPerStage(c *gc.C) {
	c.Assert(s.t.ReadyToSample(false), gc.Equals, false)
	s.agg.Record(0, device.CPU, 5)
	c.Assert(s.t.ReadyToSample(false), gc.Equals, false)
	s.recordLopsidedStages(c)
	c.Assert(s.t.ReadyToSample(false), gc.Equals, true)
}

func (s *TunerTestSuite) TestReadyToSampleHonoursDeadlineOverride(c *gc.C) {
	c.Assert(s.t.ReadyToSample(true), gc.Equals, true)
}

func (s *TunerTestSuite) TestEvaluateReturnsAtMostFiveRankedCandidates(c *gc.C) {
	s.recordLopsidedStages(c)
	candidates := s.t.Evaluate()
	c.Assert(len(candidates) > 0, gc.Equals, true)
	c.Assert(len(candidates) <= 5, gc.Equals, true)
}

func (s *TunerTestSuite) TestDimensionTargetsTheBottleneckStage(c *gc.C) {
	s.recordLopsidedStages(c)
	candidates := s.t.Evaluate()
	plan := s.t.Dimension(candidates[0], 10, 50, 10, 25, 0.9)
	c.Assert(plan.Stage, gc.Equals, 1)
	c.Assert(plan.TokensTotal >= plan.NCP+plan.NGP, gc.Equals, true)
}

func (s *TunerTestSuite) TestReconfigureResizesBottleneckStageQueues(c *gc.C) {
	s.recordLopsidedStages(c)
	candidates := s.t.Evaluate()
	plan := s.t.Dimension(candidates[0], 10, 50, 10, 25, 0.9)

	err := s.t.Reconfigure(context.Background(), plan, time.Millisecond)
	c.Assert(err, gc.IsNil)
	c.Assert(s.t.Fired(), gc.Equals, true)

	cpu := s.mgr.Device(device.CPU)
	stage, ok := cpu.Stage(1)
	c.Assert(ok, gc.Equals, true)
	c.Assert(stage.MaxQueue(), gc.Equals, plan.NCP)
}

func (s *TunerTestSuite) TestReconfigureWaitsForDevicesToGoIdle(c *gc.C) {
	cpu := s.mgr.Device(device.CPU)
	c.Assert(cpu.AcquireCore(0), gc.Equals, admission.AcquiredCore)

	s.recordLopsidedStages(c)
	candidates := s.t.Evaluate()
	plan := s.t.Dimension(candidates[0], 10, 50, 10, 25, 0.9)

	done := make(chan error, 1)
	go func() { done <- s.t.Reconfigure(context.Background(), plan, 5*time.Millisecond) }()

	select {
	case <-done:
		c.Fatal("Reconfigure returned before the busy device went idle")
	case <-time.After(20 * time.Millisecond):
	}

	cpu.Release(0)
	for i := 0; i < 5; i++ {
		s.clk.Advance(5 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}

	select {
	case err := <-done:
		c.Assert(err, gc.IsNil)
	case <-time.After(2 * time.Second):
		c.Fatal("Reconfigure never observed the device going idle")
	}
}

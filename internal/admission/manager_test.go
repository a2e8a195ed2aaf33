package admission_test

import (
	"context"

	"github.com/cricamfe/vivid/internal/admission"
	"github.com/cricamfe/vivid/internal/device"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(ManagerTestSuite))

type ManagerTestSuite struct {
	mgr *admission.Manager
}

func (s *ManagerTestSuite) SetUpTest(c *gc.C) {
	s.mgr = admission.NewManager()
	cpu := admission.NewDevice(device.CPU, 1)
	cpu.AddStage(0, 1, 0)
	gpu := admission.NewDevice(device.GPU, 1)
	gpu.AddStage(0, 1, 0)
	s.mgr.AddDevice(cpu)
	s.mgr.AddDevice(gpu)
}

func (s *ManagerTestSuite) TestCPUOnlyNeverTouchesGPU(c *gc.C) {
	status, kind := s.mgr.AcquireForStage(context.Background(), 0, 1, admission.CPUOnly, admission.Default, device.CPU)
	c.Assert(status, gc.Equals, admission.AcquiredCore)
	c.Assert(kind, gc.Equals, device.CPU)
	c.Assert(s.mgr.Device(device.GPU).UsedCores(), gc.Equals, 0)
}

func (s *ManagerTestSuite) TestDefaultFallsOverToSecondaryWhenPrimaryFull(c *gc.C) {
	// Exhaust the CPU device directly.
	cpu := s.mgr.Device(device.CPU)
	c.Assert(cpu.AcquireCore(0), gc.Equals, admission.AcquiredCore)

	status, kind := s.mgr.AcquireForStage(context.Background(), 0, 1, admission.CPUOrGPU, admission.Default, device.CPU)
	c.Assert(status, gc.Equals, admission.AcquiredCore)
	c.Assert(kind, gc.Equals, device.GPU)
}

func (s *ManagerTestSuite) TestLastUsedDeviceRebalance(c *gc.C) {
	caller := admission.CallerID(7)

	status, kind := s.mgr.AcquireForStage(context.Background(), 0, caller, admission.CPUOrGPU, admission.Default, device.CPU)
	c.Assert(status.Succeeded(), gc.Equals, true)
	c.Assert(kind, gc.Equals, device.CPU)
	s.mgr.ReleaseForStage(0, kind)

	// Next acquisition from the same caller should be steered to GPU first.
	status, kind = s.mgr.AcquireForStage(context.Background(), 0, caller, admission.CPUOrGPU, admission.Default, device.CPU)
	c.Assert(status.Succeeded(), gc.Equals, true)
	c.Assert(kind, gc.Equals, device.GPU)
}

func (s *ManagerTestSuite) TestNoQueueFailsFastWithoutBlocking(c *gc.C) {
	cpu := s.mgr.Device(device.CPU)
	gpu := s.mgr.Device(device.GPU)
	c.Assert(cpu.AcquireCore(0), gc.Equals, admission.AcquiredCore)
	c.Assert(gpu.AcquireCore(0), gc.Equals, admission.AcquiredCore)

	status, _ := s.mgr.AcquireForStage(context.Background(), 0, 1, admission.CPUOrGPU, admission.NoQueue, device.CPU)
	c.Assert(status, gc.Equals, admission.Failed)
}

func (s *ManagerTestSuite) TestReleaseForStageUnknownDeviceIsNoop(c *gc.C) {
	s.mgr.ReleaseForStage(0, device.Kind(99))
}

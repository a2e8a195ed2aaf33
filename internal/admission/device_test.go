package admission_test

import (
	"context"
	"time"

	"github.com/cricamfe/vivid/internal/admission"
	"github.com/cricamfe/vivid/internal/device"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(DeviceTestSuite))

type DeviceTestSuite struct{}

func (s *DeviceTestSuite) TestAcquireCoreRespectsDeviceCap(c *gc.C) {
	d := admission.NewDevice(device.CPU, 1)
	d.AddStage(0, 4, 4)
	d.AddStage(1, 4, 4)

	c.Assert(d.AcquireCore(0), gc.Equals, admission.AcquiredCore)
	// Stage 1 has headroom of its own, but the device-wide cap is 1.
	c.Assert(d.AcquireCore(1), gc.Equals, admission.Failed)

	d.Release(0)
	c.Assert(d.AcquireCore(1), gc.Equals, admission.AcquiredCore)
}

func (s *DeviceTestSuite) TestAcquireCoreUnknownStage(c *gc.C) {
	d := admission.NewDevice(device.CPU, 1)
	c.Assert(d.AcquireCore(99), gc.Equals, admission.Failed)
}

func (s *DeviceTestSuite) TestIdleReflectsUsedCores(c *gc.C) {
	d := admission.NewDevice(device.GPU, 2)
	d.AddStage(0, 2, 0)
	c.Assert(d.Idle(), gc.Equals, true)
	d.AcquireCore(0)
	c.Assert(d.Idle(), gc.Equals, false)
	d.Release(0)
	c.Assert(d.Idle(), gc.Equals, true)
}

func (s *DeviceTestSuite) TestAcquireQueueTwoPhase(c *gc.C) {
	d := admission.NewDevice(device.CPU, 1)
	d.AddStage(0, 1, 4)

	c.Assert(d.AcquireCore(0), gc.Equals, admission.AcquiredCore)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	status := d.AcquireQueue(ctx, 0)
	c.Assert(status, gc.Equals, admission.Failed)
	c.Assert(d.TotalQueued(), gc.Equals, 0)
}

func (s *DeviceTestSuite) TestAcquireQueueSucceedsOnceFreed(c *gc.C) {
	d := admission.NewDevice(device.CPU, 1)
	d.AddStage(0, 1, 4)
	c.Assert(d.AcquireCore(0), gc.Equals, admission.AcquiredCore)

	done := make(chan admission.Status, 1)
	go func() { done <- d.AcquireQueue(context.Background(), 0) }()
	time.Sleep(10 * time.Millisecond)
	d.Release(0)

	select {
	case status := <-done:
		c.Assert(status, gc.Equals, admission.Enqueued)
	case <-time.After(2 * time.Second):
		c.Fatal("timed out waiting for queued acquisition")
	}
}

func (s *DeviceTestSuite) TestSetTotalCoresAndMaxQueued(c *gc.C) {
	d := admission.NewDevice(device.CPU, 1)
	d.AddStage(0, 4, 4)
	d.SetTotalCores(2)
	c.Assert(d.AcquireCore(0), gc.Equals, admission.AcquiredCore)
	c.Assert(d.AcquireCore(0), gc.Equals, admission.AcquiredCore)
	c.Assert(d.AcquireCore(0), gc.Equals, admission.Failed)

	d.SetMaxTotalQueued(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	c.Assert(d.AcquireQueue(ctx, 0), gc.Equals, admission.Failed)
}

func (s *DeviceTestSuite) TestRemoveAndRemapStage(c *gc.C) {
	d := admission.NewDevice(device.CPU, 4)
	actual := d.AddStage(0, 4, 4)
	d.RemoveStage(actual)
	c.Assert(d.AcquireCore(0), gc.Equals, admission.Failed)

	newActual := d.AddStage(1, 4, 4)
	d.MapStage(0, newActual)
	c.Assert(d.AcquireCore(0), gc.Equals, admission.AcquiredCore)

	_, ok := d.ActualStage(0)
	c.Assert(ok, gc.Equals, true)
}

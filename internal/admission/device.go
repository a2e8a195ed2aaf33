package admission

import (
	"context"
	"sync"

	"github.com/cricamfe/vivid/internal/device"
	"github.com/cricamfe/vivid/internal/verrors"
)

// DefaultMaxTotalQueued is the device-wide admission-control backpressure
// knob: at most this many tasks may be queued across all of a device's
// stages at once. It's exposed as an overridable field on Device so tests
// (and, if ever warranted, the auto-tuner) can adjust it.
const DefaultMaxTotalQueued = 16

type deviceWaiter struct {
	virtual int
	ticket  uint64
}

// Device is the per-device admission unit: it aggregates the stage
// admission units belonging to one physical device, enforces a
// device-wide core cap and queued-task cap, and maintains the
// virtual-stage-id -> actual-stage-id remap the auto-tuner rewrites during
// hot reconfiguration. Stage instances are owned exclusively by their
// parent Device (an arena indexed by actual stage id); outside callers
// reach one only through Device.Stage, which the auto-tuner uses to
// resize it.
type Device struct {
	Kind device.Kind

	mu             sync.Mutex
	cond           *sync.Cond
	stages         map[int]*Stage
	virtualToActual map[int]int
	nextActualID   int

	totalCores     int
	usedCores      int
	totalQueued    int
	maxTotalQueued int

	fifo       []deviceWaiter
	nextTicket uint64
}

// NewDevice returns a device admission unit with no stages configured yet;
// callers add stages with AddStage before routing any acquisitions to it.
func NewDevice(kind device.Kind, totalCores int) *Device {
	d := &Device{
		Kind:            kind,
		stages:          make(map[int]*Stage),
		virtualToActual: make(map[int]int),
		totalCores:      totalCores,
		maxTotalQueued:  DefaultMaxTotalQueued,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// AddStage creates a new Stage unit in the arena under a fresh actual id,
// identity-maps the given virtual id to it, and returns the actual id.
func (d *Device) AddStage(virtualID, cores, queueSize int) int {
	d.mu.Lock()
	actual := d.nextActualID
	d.nextActualID++
	d.stages[actual] = NewStage(cores, queueSize)
	d.virtualToActual[virtualID] = actual
	d.mu.Unlock()
	return actual
}

// RemoveStage deletes the actual stage from the arena. Callers must ensure
// no acquisitions are in flight against it (the auto-tuner's
// zero-in-flight barrier guarantees this during reconfiguration).
func (d *Device) RemoveStage(actualID int) {
	d.mu.Lock()
	delete(d.stages, actualID)
	for v, a := range d.virtualToActual {
		if a == actualID {
			delete(d.virtualToActual, v)
		}
	}
	d.mu.Unlock()
}

// MapStage points virtualID at actualID.
func (d *Device) MapStage(virtualID, actualID int) {
	d.mu.Lock()
	d.virtualToActual[virtualID] = actualID
	d.mu.Unlock()
}

// UpdateMapping replaces the full virtual->actual remap in one shot.
func (d *Device) UpdateMapping(mapping map[int]int) {
	cp := make(map[int]int, len(mapping))
	for k, v := range mapping {
		cp[k] = v
	}
	d.mu.Lock()
	d.virtualToActual = cp
	d.mu.Unlock()
}

func (d *Device) resolve(virtualID int) (*Stage, bool) {
	d.mu.Lock()
	actual, ok := d.virtualToActual[virtualID]
	if !ok {
		d.mu.Unlock()
		return nil, false
	}
	s := d.stages[actual]
	d.mu.Unlock()
	return s, s != nil
}

// AcquireCore attempts a non-blocking acquisition for virtualStage. It only
// succeeds when both the device-wide cap and the stage's own cap have
// headroom; if the stage grants a core but the device is saturated, the
// stage core is handed back so the two counters never drift apart.
func (d *Device) AcquireCore(virtualStage int) Status {
	stage, ok := d.resolve(virtualStage)
	if !ok {
		return Failed
	}

	d.mu.Lock()
	if d.totalCores == 0 || d.usedCores >= d.totalCores {
		d.mu.Unlock()
		return Failed
	}
	d.mu.Unlock()

	if stage.TryAcquireCore() != AcquiredCore {
		return Failed
	}

	d.mu.Lock()
	if d.usedCores >= d.totalCores {
		d.mu.Unlock()
		stage.Release()
		return Failed
	}
	d.usedCores++
	d.mu.Unlock()
	return AcquiredCore
}

// AcquireQueue performs two-phase blocking admission: the caller first
// queues (and blocks) at the stage level, then, still holding the
// stage-level core, queues and blocks at the device level. Both phases
// must succeed for the call to return Enqueued; failure or context
// cancellation at either phase unwinds any partial admission before
// returning Failed.
func (d *Device) AcquireQueue(ctx context.Context, virtualStage int) Status {
	stage, ok := d.resolve(virtualStage)
	if !ok {
		return Failed
	}

	d.mu.Lock()
	full := d.totalCores == 0 || stage.MaxQueue() == 0 || d.totalQueued >= d.maxTotalQueued
	d.mu.Unlock()
	if full {
		return Failed
	}

	if stage.AcquireViaQueue(ctx) != Enqueued {
		return Failed
	}

	d.mu.Lock()
	ticket := d.nextTicket
	d.nextTicket++
	d.fifo = append(d.fifo, deviceWaiter{virtual: virtualStage, ticket: ticket})
	d.totalQueued++

	stop := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			d.cond.Broadcast()
		case <-stop:
		}
		close(watcherDone)
	}()

	for !(len(d.fifo) > 0 && d.fifo[0].ticket == ticket && d.usedCores < d.totalCores) {
		if ctx.Err() != nil {
			d.removeWaiterLocked(ticket)
			d.totalQueued--
			d.mu.Unlock()
			close(stop)
			<-watcherDone
			d.cond.Broadcast()
			stage.Release()
			return Failed
		}
		d.cond.Wait()
	}

	d.usedCores++
	d.totalQueued--
	d.fifo = d.fifo[1:]
	d.mu.Unlock()
	close(stop)
	<-watcherDone
	return Enqueued
}

func (d *Device) removeWaiterLocked(ticket uint64) {
	for i, w := range d.fifo {
		if w.ticket == ticket {
			d.fifo = append(d.fifo[:i], d.fifo[i+1:]...)
			return
		}
	}
}

// Release returns a core to both the device-wide pool and the stage's own
// pool, in that order, and wakes both FIFOs.
func (d *Device) Release(virtualStage int) {
	stage, ok := d.resolve(virtualStage)
	if !ok {
		verrors.Panic("release for unknown virtual stage %d", virtualStage)
	}

	d.mu.Lock()
	if d.usedCores <= 0 {
		d.mu.Unlock()
		verrors.Panic("device release: used_cores would go negative")
	}
	d.usedCores--
	d.mu.Unlock()
	d.cond.Broadcast()

	stage.Release()
}

// SetTotalCores reconfigures the device-wide core cap.
func (d *Device) SetTotalCores(cores int) {
	d.mu.Lock()
	d.totalCores = cores
	d.mu.Unlock()
	d.cond.Broadcast()
}

// SetMaxTotalQueued overrides the device-wide queued-task cap (default
// DefaultMaxTotalQueued).
func (d *Device) SetMaxTotalQueued(n int) {
	d.mu.Lock()
	d.maxTotalQueued = n
	d.mu.Unlock()
	d.cond.Broadcast()
}

// Stage returns the Stage unit backing actualID, for callers (the resources
// manager, the auto-tuner) that need to resize it directly.
func (d *Device) Stage(actualID int) (*Stage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stages[actualID]
	return s, ok
}

// ActualStage resolves a virtual stage id to its backing actual id.
func (d *Device) ActualStage(virtualID int) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.virtualToActual[virtualID]
	return a, ok
}

// UsedCores returns the device-wide in-use core count.
func (d *Device) UsedCores() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.usedCores
}

// TotalCores returns the device-wide core cap.
func (d *Device) TotalCores() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalCores
}

// TotalQueued returns the current device-wide queued-task count.
func (d *Device) TotalQueued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalQueued
}

// Idle reports whether the device currently has zero cores in use. This is
// the condition the auto-tuner's reconfiguration barrier waits for.
func (d *Device) Idle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.usedCores == 0
}

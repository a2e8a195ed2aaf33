// Package admission implements the two-level resource manager: a
// bounded-core, bounded-wait-FIFO admission unit per stage (Stage),
// aggregated per device (Device), routed by a resources manager
// (Manager) that knows the three acquisition modes and the CPU/GPU
// last-used-device rebalance rule.
package admission

import (
	"context"
	"sync"

	"github.com/cricamfe/vivid/internal/device"
)

// CallerID identifies whoever is requesting an acquisition, for the
// purposes of the last-used-device rebalance. Whether "last used device"
// should be keyed by OS thread or by logical pipeline is left to the
// caller: this implementation takes the caller's own identifier at face
// value (see DESIGN.md) so either semantics is obtainable: an engine that
// hands out one fixed CallerID per worker
// goroutine gets per-thread bias, one that hands out the frame's id gets
// per-frame bias.
type CallerID int64

// Manager is the resources manager: an unordered collection of
// devices (at most one per kind) plus a per-caller "last used device" map
// used only to bias the CPU_OR_GPU primary/secondary choice.
type Manager struct {
	mu      sync.Mutex
	devices map[device.Kind]*Device
	lastUsed map[CallerID]device.Kind
}

// NewManager returns an empty resources manager.
func NewManager() *Manager {
	return &Manager{
		devices:  make(map[device.Kind]*Device),
		lastUsed: make(map[CallerID]device.Kind),
	}
}

// AddDevice registers d under its own Kind. At most one device per kind may
// be registered.
func (m *Manager) AddDevice(d *Device) {
	m.mu.Lock()
	m.devices[d.Kind] = d
	m.mu.Unlock()
}

// Device returns the registered device of the given kind, or nil.
func (m *Manager) Device(kind device.Kind) *Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[kind]
}

func (m *Manager) other(kind device.Kind) device.Kind {
	if kind == device.CPU {
		return device.GPU
	}
	return device.CPU
}

// AcquireForStage implements the acquisition-mode table: Default,
// PrimarySecondary and NoQueue each try a different sequence of devices
// and queueing behaviour. It returns the status of the winning attempt (or
// Failed if every attempt in the mode's sequence failed) and, on success,
// which device granted it.
func (m *Manager) AcquireForStage(ctx context.Context, virtualStage int, caller CallerID, policy StagePolicy, mode AcquisitionMode, preferred device.Kind) (Status, device.Kind) {
	primaryKind := preferred
	secondaryKind := m.other(preferred)

	m.mu.Lock()
	if last, seen := m.lastUsed[caller]; policy == CPUOrGPU && seen && last == primaryKind {
		primaryKind, secondaryKind = secondaryKind, primaryKind
	}
	primary := m.devices[primaryKind]
	secondary := m.devices[secondaryKind]
	m.mu.Unlock()

	type try struct {
		kind device.Kind
		dev  *Device
		fn   func(*Device) Status
	}

	coreFn := func(d *Device) Status {
		if d == nil {
			return Failed
		}
		return d.AcquireCore(virtualStage)
	}
	queueFn := func(d *Device) Status {
		if d == nil {
			return Failed
		}
		return d.AcquireQueue(ctx, virtualStage)
	}

	var sequence []try
	switch {
	case mode == NoQueue:
		sequence = []try{{primaryKind, primary, coreFn}}
		if policy == CPUOrGPU {
			sequence = append(sequence, try{secondaryKind, secondary, coreFn})
		}
	case mode == PrimarySecondary && policy == CPUOrGPU:
		sequence = []try{
			{primaryKind, primary, coreFn},
			{primaryKind, primary, queueFn},
			{secondaryKind, secondary, coreFn},
			{secondaryKind, secondary, queueFn},
		}
	case policy == CPUOrGPU: // Default
		sequence = []try{
			{primaryKind, primary, coreFn},
			{secondaryKind, secondary, coreFn},
			{primaryKind, primary, queueFn},
			{secondaryKind, secondary, queueFn},
		}
	default: // Default, CPU_ONLY or GPU_ONLY
		sequence = []try{
			{primaryKind, primary, coreFn},
			{primaryKind, primary, queueFn},
		}
	}

	for _, t := range sequence {
		if st := t.fn(t.dev); st.Succeeded() {
			m.mu.Lock()
			m.lastUsed[caller] = t.kind
			m.mu.Unlock()
			return st, t.kind
		}
	}
	return Failed, 0
}

// ReleaseForStage forwards to the device admission unit that granted the
// acquisition.
func (m *Manager) ReleaseForStage(virtualStage int, which device.Kind) {
	m.mu.Lock()
	d := m.devices[which]
	m.mu.Unlock()
	if d == nil {
		return
	}
	d.Release(virtualStage)
}

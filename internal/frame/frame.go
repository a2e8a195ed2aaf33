// Package frame implements the frame pool: a fixed-capacity ring of
// reusable frame descriptors, each carrying its own per-stage scratch
// buffers so stages never share mutable state for a given frame.
package frame

import "github.com/cricamfe/vivid/internal/device"

// Shape describes the scratch-buffer sizes derived from the
// --resolution preset and the number of pipeline stages. The core treats
// these as opaque byte-capacity hints; actual pixel/feature semantics
// belong to the stage functions.
type Shape struct {
	Width, Height, Channels int
	HistogramBins           int
	ClassifierRows          int
	NumStages               int
}

// Frame is one reusable item in the ring: a monotonic identity, mutable
// per-frame scratch buffers (frame/ind/val/his/cla/out), per-stage timings
// on each device, a per-stage device-choice history and
// an ordered list of completion handles produced by prior stages (used for
// event chaining). Frames are created once when the ring is constructed
// and recycled, never destroyed, until the ring itself is torn down.
type Frame struct {
	ID uint64

	// Scratch buffers, shapes fixed at ring-construction time.
	FrameBuf []float32
	Ind      []int32
	Val      []float32
	His      []float32
	Cla      []float32
	Out      []float32

	// CPUms/GPUms[i] accumulate wall-clock (or device-profiled) time spent
	// executing stage i on that device for this frame.
	CPUms []float64
	GPUms []float64

	// Acc[i] records which device executed stage i for this frame.
	Acc []device.Kind

	// Handles accumulates the completion handles returned by prior stages,
	// in stage order, so the event-chained engine can declare dependencies.
	Handles []device.CompletionHandle

	// Decoupled coupling mode picks the device once, at stage index -1,
	// and every later stage must honour the recorded choice instead of
	// consulting the resources manager again.
	DecoupledDevice    device.Kind
	DecoupledDeviceSet bool
}

func newFrame(id uint64, shape Shape) *Frame {
	return &Frame{
		ID:       id,
		FrameBuf: make([]float32, shape.Width*shape.Height*shape.Channels),
		Ind:      make([]int32, shape.HistogramBins),
		Val:      make([]float32, shape.HistogramBins),
		His:      make([]float32, shape.HistogramBins),
		Cla:      make([]float32, shape.ClassifierRows),
		Out:      make([]float32, shape.ClassifierRows),
		CPUms:    make([]float64, shape.NumStages),
		GPUms:    make([]float64, shape.NumStages),
		Acc:      make([]device.Kind, shape.NumStages),
		Handles:  make([]device.CompletionHandle, 0, shape.NumStages),
	}
}

// reset clears per-frame scratch state ahead of the frame's return to the
// ring: scratch buffers are zeroed, vectors are cleared and the decoupled
// device choice is forgotten so the next claim starts fresh. The
// underlying buffer backing arrays are reused, not reallocated.
func (f *Frame) reset() {
	for i := range f.FrameBuf {
		f.FrameBuf[i] = 0
	}
	for i := range f.Ind {
		f.Ind[i] = 0
	}
	for i := range f.Val {
		f.Val[i] = 0
	}
	for i := range f.His {
		f.His[i] = 0
	}
	for i := range f.Cla {
		f.Cla[i] = 0
	}
	for i := range f.Out {
		f.Out[i] = 0
	}
	for i := range f.CPUms {
		f.CPUms[i] = 0
		f.GPUms[i] = 0
		f.Acc[i] = device.CPU
	}
	f.Handles = f.Handles[:0]
	f.DecoupledDevice = device.CPU
	f.DecoupledDeviceSet = false
}

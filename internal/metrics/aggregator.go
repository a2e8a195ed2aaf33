// Package metrics implements the timing/metric aggregator: per-stage,
// per-device accumulators for frames processed and total time, updated
// from every pipeline engine's dispatch completion path, plus a
// Prometheus exporter that republishes the same numbers.
package metrics

import (
	"sync"

	"github.com/cricamfe/vivid/internal/device"
)

type cell struct {
	frames int64
	totalMs float64
}

// Aggregator holds the per-stage, per-device accumulators. All methods are
// safe for concurrent use; engines call Record from every dispatch
// completion, the auto-tuner reads per-cell TotalMs/MeanMs, and the final
// summary and the Prometheus exporter read consistent snapshots via Snapshot.
type Aggregator struct {
	mu    sync.Mutex
	cells map[int][2]cell // keyed by stage index; [0]=CPU, [1]=GPU
	n     int
}

// NewAggregator returns an aggregator pre-sized for numStages stages.
func NewAggregator(numStages int) *Aggregator {
	return &Aggregator{cells: make(map[int][2]cell, numStages), n: numStages}
}

func idx(k device.Kind) int {
	if k == device.GPU {
		return 1
	}
	return 0
}

// Record folds one dispatch completion into the accumulators for
// (stage, kind).
func (a *Aggregator) Record(stage int, kind device.Kind, elapsedMs float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.cells[stage]
	i := idx(kind)
	c[i].frames++
	c[i].totalMs += elapsedMs
	a.cells[stage] = c
}

// FramesProcessed returns the running count of completed dispatches for
// (stage, kind).
func (a *Aggregator) FramesProcessed(stage int, kind device.Kind) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cells[stage][idx(kind)].frames
}

// TotalMs returns the running sum of dispatch durations for (stage, kind).
func (a *Aggregator) TotalMs(stage int, kind device.Kind) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cells[stage][idx(kind)].totalMs
}

// MeanMs returns TotalMs/FramesProcessed for (stage, kind), or 0 when no
// frames have completed yet.
func (a *Aggregator) MeanMs(stage int, kind device.Kind) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.cells[stage][idx(kind)]
	if c.frames == 0 {
		return 0
	}
	return c.totalMs / float64(c.frames)
}

// Total returns the total number of dispatches completed across every
// stage and device.
func (a *Aggregator) Total() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total int64
	for _, c := range a.cells {
		total += c[0].frames + c[1].frames
	}
	return total
}

// StageSnapshot is a point-in-time copy of one stage's accumulators.
type StageSnapshot struct {
	Stage         int
	FramesCPU     int64
	FramesGPU     int64
	TotalMsCPU    float64
	TotalMsGPU    float64
}

// Snapshot returns a consistent copy of every stage's accumulators, used by
// the Prometheus exporter and by the end-of-run summary.
func (a *Aggregator) Snapshot() []StageSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]StageSnapshot, a.n)
	for i := 0; i < a.n; i++ {
		c := a.cells[i]
		out[i] = StageSnapshot{
			Stage:      i,
			FramesCPU:  c[0].frames,
			FramesGPU:  c[1].frames,
			TotalMsCPU: c[0].totalMs,
			TotalMsGPU: c[1].totalMs,
		}
	}
	return out
}

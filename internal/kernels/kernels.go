// Package kernels provides placeholder CPU/GPU implementations of the
// three opaque stage functions this system dispatches (cosine filter,
// block histogram, pairwise distance) so the binary has something real to
// register against device.Registry. Their numerics are intentionally
// trivial, since the actual kernels are an external collaborator, but
// their shape (signature, CompletionHandle behaviour) is exactly what a real
// implementation would plug into.
package kernels

import (
	"context"
	"time"

	"github.com/cricamfe/vivid/internal/device"
	"github.com/cricamfe/vivid/internal/frame"
)

// Register binds placeholder CPU and GPU implementations for every stage
// into reg.
func Register(reg *device.Registry) {
	reg.Register(0, device.CPU, cosineFilterCPU)
	reg.Register(0, device.GPU, gpuWrap(cosineFilterCPU))
	reg.Register(1, device.CPU, histogramCPU)
	reg.Register(1, device.GPU, gpuWrap(histogramCPU))
	reg.Register(2, device.CPU, pairwiseDistanceCPU)
	reg.Register(2, device.GPU, gpuWrap(pairwiseDistanceCPU))
}

func cosineFilterCPU(_ context.Context, _ device.Context, frameArg, _ interface{}) (device.CompletionHandle, error) {
	fr := frameArg.(*frame.Frame)
	for i := range fr.FrameBuf {
		fr.Out[i%len(fr.Out)] += fr.FrameBuf[i]
	}
	return nil, nil
}

func histogramCPU(_ context.Context, _ device.Context, frameArg, _ interface{}) (device.CompletionHandle, error) {
	fr := frameArg.(*frame.Frame)
	for _, v := range fr.Out {
		bin := int(v) % len(fr.His)
		if bin < 0 {
			bin += len(fr.His)
		}
		fr.His[bin]++
	}
	return nil, nil
}

func pairwiseDistanceCPU(_ context.Context, _ device.Context, frameArg, _ interface{}) (device.CompletionHandle, error) {
	fr := frameArg.(*frame.Frame)
	for i := range fr.Cla {
		if i < len(fr.His) {
			fr.Cla[i] = fr.His[i] * fr.His[i]
		}
	}
	return nil, nil
}

// cpuStage is the shape shared by the three placeholder implementations
// above, used by gpuWrap to simulate an asynchronous submission around a
// synchronous computation.
type cpuStage func(context.Context, device.Context, interface{}, interface{}) (device.CompletionHandle, error)

// gpuWrap adapts a synchronous stage function into one that returns a
// CompletionHandle immediately and finishes the work on a background
// goroutine, standing in for a real asynchronous device submission. The
// prior stage's handles are recorded via DependsOn rather than read
// straight off devCtx, so the handle's own dependency chain (what a real
// driver's cgh.depends_on(event) would track) is what the background
// goroutine waits on.
func gpuWrap(fn cpuStage) device.StageFunc {
	return func(ctx context.Context, devCtx device.Context, frameArg, appData interface{}) (device.CompletionHandle, error) {
		h := &fakeHandle{done: make(chan struct{})}
		h.DependsOn(devCtx.Deps...)
		h.start = time.Now()
		go func() {
			for _, dep := range h.deps {
				_ = dep.Wait(ctx)
			}
			_, _ = fn(ctx, devCtx, frameArg, appData)
			h.end = time.Now()
			close(h.done)
		}()
		return h, nil
	}
}

// fakeHandle is a minimal device.CompletionHandle backed by a channel,
// standing in for a real device driver's event/fence object.
type fakeHandle struct {
	done       chan struct{}
	start, end time.Time
	deps       []device.CompletionHandle
}

func (h *fakeHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *fakeHandle) DependsOn(deps ...device.CompletionHandle) {
	h.deps = append(h.deps, deps...)
}

func (h *fakeHandle) Profiling() (start, end time.Time, ok bool) {
	select {
	case <-h.done:
		return h.start, h.end, true
	default:
		return time.Time{}, time.Time{}, false
	}
}

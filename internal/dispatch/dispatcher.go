// Package dispatch implements the stage dispatcher: the single choke
// point every pipeline engine calls through to run one stage of one frame,
// regardless of topology. It ties together path selection, the
// registered stage function (the kernel, opaque to this package), tracing
// and the metric aggregator, and guarantees admission is always
// released, success or failure.
package dispatch

import (
	"context"
	"strconv"
	"time"

	"github.com/cricamfe/vivid/internal/admission"
	"github.com/cricamfe/vivid/internal/device"
	"github.com/cricamfe/vivid/internal/frame"
	"github.com/cricamfe/vivid/internal/metrics"
	"github.com/cricamfe/vivid/internal/selector"
	"github.com/cricamfe/vivid/internal/verrors"
	"github.com/opentracing/opentracing-go"
)

// Dispatcher is shared by every worker
// goroutine in a run; all of its collaborators are themselves safe for
// concurrent use.
type Dispatcher struct {
	Registry *device.Registry
	Selector *selector.Selector
	Metrics  *metrics.Aggregator
	Tracer   opentracing.Tracer
}

// New returns a dispatcher wired to its collaborators.
func New(registry *device.Registry, sel *selector.Selector, agg *metrics.Aggregator, tracer opentracing.Tracer) *Dispatcher {
	return &Dispatcher{Registry: registry, Selector: sel, Metrics: agg, Tracer: tracer}
}

// Run executes stageIndex for fr: it selects and acquires a device via the
// path selector, starts a trace span, invokes the registered stage
// function, records the elapsed time into the aggregator and the frame's
// own per-stage history, and arranges for admission to be released. caller
// identifies the admission requester for the resources manager's
// last-used-device bias (see admission.CallerID).
//
// Admission is released once the device work is actually finished, not
// once the stage function returns: a GPU stage function typically submits
// work asynchronously and comes back immediately with a handle, so
// releasing on return would let the next frame acquire a core the device
// is still busy running. When the stage function hands back a non-nil
// handle, release is deferred to a goroutine that waits on it; a nil
// handle means the work already finished synchronously, so release
// happens inline.
//
// A CompletionHandle returned by the stage function is appended to fr's
// handle history (for the event-chained engine to depend on) and also
// returned to the caller so bounded-parallel/graph engines can wait on it
// directly.
func (d *Dispatcher) Run(ctx context.Context, stageIndex int, fr *frame.Frame, appData interface{}, caller admission.CallerID) (device.CompletionHandle, error) {
	kind := d.Selector.Acquire(ctx, stageIndex, fr, caller)

	span := d.Tracer.StartSpan(stageSpanName(stageIndex))
	span.SetTag("stage_index", stageIndex)
	span.SetTag("device_kind", kind.String())
	defer span.Finish()

	fn, ok := d.Registry.Lookup(stageIndex, kind)
	if !ok {
		d.Selector.Manager.ReleaseForStage(stageIndex, kind)
		err := verrors.NewKernelError(stageIndex, notRegisteredError{stage: stageIndex, kind: kind})
		span.SetTag("error", true)
		return nil, err
	}

	devCtx := device.Context{Device: kind, Deps: fr.Handles}
	start := time.Now()
	handle, err := fn(ctx, devCtx, fr, appData)
	elapsed := time.Since(start)

	if err != nil {
		d.Selector.Manager.ReleaseForStage(stageIndex, kind)
		span.SetTag("error", true)
		return nil, verrors.NewKernelError(stageIndex, err)
	}

	if handle != nil {
		fr.Handles = append(fr.Handles, handle)
		go func() {
			_ = handle.Wait(context.Background())
			d.Selector.Manager.ReleaseForStage(stageIndex, kind)
		}()
	} else {
		d.Selector.Manager.ReleaseForStage(stageIndex, kind)
	}

	elapsedMs := float64(elapsed) / float64(time.Millisecond)
	d.Metrics.Record(stageIndex, kind, elapsedMs)
	if stageIndex >= 0 && stageIndex < len(fr.Acc) {
		fr.Acc[stageIndex] = kind
		if kind == device.GPU {
			fr.GPUms[stageIndex] += elapsedMs
		} else {
			fr.CPUms[stageIndex] += elapsedMs
		}
	}

	return handle, nil
}

func stageSpanName(stageIndex int) string {
	switch stageIndex {
	case 0:
		return "stage.cosine_filter"
	case 1:
		return "stage.histogram"
	case 2:
		return "stage.pairwise_distance"
	default:
		return "stage.unknown"
	}
}

type notRegisteredError struct {
	stage int
	kind  device.Kind
}

func (e notRegisteredError) Error() string {
	return "no stage function registered for stage " + strconv.Itoa(e.stage) + " on " + e.kind.String()
}
